package adjustments

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/platform/httpx"
	"github.com/odyssey-erp/backoffice/internal/rbac"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Handler wires HTTP endpoints for the adjustment workflow.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	rbac      rbac.Middleware
	validator *validator.Validate
}

// NewHandler constructs adjustment handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{logger: logger, service: service, rbac: rbac, validator: v}
}

// MountRoutes registers adjustment routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermAdjustmentsView, shared.PermAdjustmentsApprove))
		r.Get("/", h.handleList)
		r.Get("/summary", h.handleSummary)
		r.Get("/{id}", h.handleGet)
		r.Get("/{id}/history", h.handleHistory)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermAdjustmentsCreate))
		r.Post("/", h.handleCreate)
		r.Post("/{id}/reverse", h.handleReverse)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermAdjustmentsApprove))
		r.Post("/{id}/approve", h.handleApprove)
		r.Post("/{id}/reject", h.handleReject)
	})
}

type createRequest struct {
	InventoryItemID string           `json:"inventory_item_id" validate:"required,uuid"`
	AdjustmentType  string           `json:"adjustment_type" validate:"required,oneof=return damage loss expired correction"`
	Quantity        int64            `json:"quantity" validate:"gte=1"`
	Reason          string           `json:"reason" validate:"required,max=500"`
	CustomerName    string           `json:"customer_name" validate:"max=200"`
	Notes           string           `json:"notes" validate:"max=2000"`
	ReturnToStock   *bool            `json:"return_to_stock"`
	CostImpact      *decimal.Decimal `json:"cost_impact"`
}

type decisionRequest struct {
	Note string `json:"note" validate:"max=500"`
}

type reverseRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
	Notes  string `json:"notes" validate:"max=2000"`
}

type listResponse struct {
	Data       []Adjustment      `json:"data"`
	Pagination shared.Pagination `json:"pagination"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	actorID, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrActorMissing)
		return
	}
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if fields := h.validate(req); len(fields) > 0 {
		httpx.ValidationProblem(w, "adjustment request is invalid", fields)
		return
	}
	input := CreateInput{
		InventoryItemID: uuid.MustParse(req.InventoryItemID),
		Type:            Type(req.AdjustmentType),
		Quantity:        req.Quantity,
		Reason:          req.Reason,
		CustomerName:    req.CustomerName,
		Notes:           req.Notes,
		ReturnToStock:   req.ReturnToStock,
		CostImpact:      req.CostImpact,
		IdempotencyKey:  strings.TrimSpace(r.Header.Get("Idempotency-Key")),
		ActorID:         actorID,
	}
	adj, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.respondError(w, "create adjustment", err)
		return
	}
	h.logger.Info("adjustment created",
		slog.String("id", adj.ID.String()),
		slog.String("type", string(adj.Type)),
		slog.Int64("actor_id", actorID))
	httpx.JSON(w, http.StatusCreated, adj)
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	input, ok := h.decisionInput(w, r)
	if !ok {
		return
	}
	outcome, err := h.service.Approve(r.Context(), input)
	if err != nil {
		h.respondError(w, "approve adjustment", err)
		return
	}
	h.logger.Info("adjustment approved",
		slog.String("id", input.ID.String()),
		slog.String("effect", string(outcome.Effect)),
		slog.Int64("actor_id", input.ActorID))
	httpx.JSON(w, http.StatusOK, outcome)
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	input, ok := h.decisionInput(w, r)
	if !ok {
		return
	}
	adj, err := h.service.Reject(r.Context(), input)
	if err != nil {
		h.respondError(w, "reject adjustment", err)
		return
	}
	h.logger.Info("adjustment rejected", slog.String("id", input.ID.String()), slog.Int64("actor_id", input.ActorID))
	httpx.JSON(w, http.StatusOK, Outcome{Adjustment: adj, Effect: EffectNone, Message: "Rejected, no stock change"})
}

func (h *Handler) handleReverse(w http.ResponseWriter, r *http.Request) {
	actorID, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrActorMissing)
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req reverseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if fields := h.validate(req); len(fields) > 0 {
		httpx.ValidationProblem(w, "reversal request is invalid", fields)
		return
	}
	adj, err := h.service.Reverse(r.Context(), ReverseInput{OriginalID: id, Reason: req.Reason, Notes: req.Notes, ActorID: actorID})
	if err != nil {
		h.respondError(w, "reverse adjustment", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, adj)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	adj, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, "get adjustment", err)
		return
	}
	httpx.JSON(w, http.StatusOK, adj)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	logs, err := h.service.History(r.Context(), id)
	if err != nil {
		h.respondError(w, "adjustment history", err)
		return
	}
	if logs == nil {
		logs = []shared.ApprovalLog{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": logs})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filter, page, perPage, ok := parseFilter(w, r)
	if !ok {
		return
	}
	filter.Limit, filter.Offset = shared.LimitOffset(page, perPage)
	items, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.respondError(w, "list adjustments", err)
		return
	}
	if items == nil {
		items = []Adjustment{}
	}
	httpx.JSON(w, http.StatusOK, listResponse{Data: items, Pagination: shared.NewPagination(page, perPage, total)})
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	filter, _, _, ok := parseFilter(w, r)
	if !ok {
		return
	}
	sum, err := h.service.Summary(r.Context(), filter)
	if err != nil {
		h.respondError(w, "adjustment summary", err)
		return
	}
	httpx.JSON(w, http.StatusOK, sum)
}

func (h *Handler) decisionInput(w http.ResponseWriter, r *http.Request) (DecisionInput, bool) {
	actorID, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrActorMissing)
		return DecisionInput{}, false
	}
	id, ok := pathID(w, r)
	if !ok {
		return DecisionInput{}, false
	}
	var req decisionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return DecisionInput{}, false
	}
	if fields := h.validate(req); len(fields) > 0 {
		httpx.ValidationProblem(w, "decision request is invalid", fields)
		return DecisionInput{}, false
	}
	return DecisionInput{ID: id, ActorID: actorID, Note: req.Note}, true
}

func (h *Handler) validate(v any) map[string]string {
	err := h.validator.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]string{"general": err.Error()}
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = validationMessage(fe)
	}
	return fields
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "uuid":
		return "must be a UUID"
	case "gte":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "oneof":
		return "must be one of " + strings.ReplaceAll(fe.Param(), " ", ", ")
	default:
		return "is invalid"
	}
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		httpx.ValidationProblem(w, "adjustment request is invalid", verr.Fields)
		return
	}
	if httpx.StatusFor(err) == http.StatusInternalServerError {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.ValidationProblem(w, "invalid adjustment id", map[string]string{"id": "must be a UUID"})
		return uuid.Nil, false
	}
	return id, true
}

func parseFilter(w http.ResponseWriter, r *http.Request) (ListFilter, int, int, bool) {
	q := r.URL.Query()
	filter := ListFilter{Status: Status(q.Get("status")), Type: Type(q.Get("type"))}
	fields := map[string]string{}
	if raw := q.Get("item_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			fields["item_id"] = "must be a UUID"
		} else {
			filter.ItemID = &id
		}
	}
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	if len(fields) > 0 {
		httpx.ValidationProblem(w, "invalid filter", fields)
		return ListFilter{}, 0, 0, false
	}
	return filter, page, perPage, true
}
