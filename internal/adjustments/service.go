package adjustments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/backoffice/internal/catalog"
	"github.com/odyssey-erp/backoffice/internal/notify"
	"github.com/odyssey-erp/backoffice/internal/platform/db"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id uuid.UUID) (Adjustment, error)
	List(ctx context.Context, filter ListFilter) ([]Adjustment, int, error)
	Summary(ctx context.Context, filter ListFilter) (Summary, error)
}

// CatalogPort resolves inventory items.
type CatalogPort interface {
	Get(ctx context.Context, id uuid.UUID) (catalog.Item, error)
}

// ApproverResolver answers whether an actor may approve or reject.
type ApproverResolver interface {
	IsApprover(ctx context.Context, actorID int64) (bool, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// LockPort serialises critical sections by key.
type LockPort interface {
	WithLock(ctx context.Context, key string, fn func(context.Context) error) error
}

// PublisherPort broadcasts change notifications.
type PublisherPort interface {
	Publish(ctx context.Context, change notify.Change) error
}

// IdempotencyPort guards against replayed create requests.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// HistoryPort lists approval log entries.
type HistoryPort interface {
	List(ctx context.Context, module string, ref uuid.UUID) ([]shared.ApprovalLog, error)
}

// Observer receives workflow transitions for metrics.
type Observer interface {
	ObserveAdjustment(adjType, status string)
}

// ServiceDeps groups collaborators. Repo, Catalog and Approvers are required.
type ServiceDeps struct {
	Repo        RepositoryPort
	Catalog     CatalogPort
	Approvers   ApproverResolver
	Audit       AuditPort
	Locker      LockPort
	Publisher   PublisherPort
	Idempotency IdempotencyPort
	History     HistoryPort
	Observer    Observer
	Logger      *slog.Logger
	Now         func() time.Time
}

// Service coordinates the adjustment workflow.
type Service struct {
	repo        RepositoryPort
	catalog     CatalogPort
	approvers   ApproverResolver
	audit       AuditPort
	locker      LockPort
	publisher   PublisherPort
	idempotency IdempotencyPort
	history     HistoryPort
	observer    Observer
	logger      *slog.Logger
	now         func() time.Time
}

// NewService builds Service.
func NewService(deps ServiceDeps) *Service {
	s := &Service{
		repo:        deps.Repo,
		catalog:     deps.Catalog,
		approvers:   deps.Approvers,
		audit:       deps.Audit,
		locker:      deps.Locker,
		publisher:   deps.Publisher,
		idempotency: deps.Idempotency,
		history:     deps.History,
		observer:    deps.Observer,
		logger:      deps.Logger,
		now:         deps.Now,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

// Create validates and stores a pending adjustment. Stock is untouched.
func (s *Service) Create(ctx context.Context, input CreateInput) (Adjustment, error) {
	if input.ActorID <= 0 {
		return Adjustment{}, shared.ErrActorMissing
	}
	input.Reason = strings.TrimSpace(input.Reason)
	input.CustomerName = strings.TrimSpace(input.CustomerName)

	fields := fieldErrors{}
	switch {
	case input.Type == "":
		fields.add("adjustment_type", "is required")
	case input.Type == TypeReversal:
		fields.add("adjustment_type", "reversals are created from the original adjustment")
	case !input.Type.Valid():
		fields.add("adjustment_type", "must be one of return, damage, loss, expired, correction")
	}
	if input.Quantity < 1 {
		fields.add("quantity", "must be at least 1")
	}
	if input.Reason == "" {
		fields.add("reason", "is required")
	}
	if input.CostImpact != nil {
		if input.Type != TypeCorrection {
			fields.add("cost_impact", "can only be supplied for corrections")
		} else if input.CostImpact.IsNegative() {
			fields.add("cost_impact", "must not be negative")
		}
	}

	var item catalog.Item
	if input.InventoryItemID == uuid.Nil {
		fields.add("inventory_item_id", "is required")
	} else {
		var err error
		item, err = s.catalog.Get(ctx, input.InventoryItemID)
		switch {
		case errors.Is(err, catalog.ErrItemNotFound):
			fields.add("inventory_item_id", "does not match an inventory item")
		case err != nil:
			return Adjustment{}, fmt.Errorf("adjustment: resolve item: %w", err)
		}
	}
	if err := fields.err(); err != nil {
		return Adjustment{}, err
	}

	// The flag is only meaningful for returns and is ignored otherwise.
	returnToStock := input.Type == TypeReturn
	if input.Type == TypeReturn && input.ReturnToStock != nil {
		returnToStock = *input.ReturnToStock
	}
	now := s.now()
	adj := Adjustment{
		ID:              uuid.New(),
		InventoryItemID: input.InventoryItemID,
		Type:            input.Type,
		Quantity:        input.Quantity,
		Reason:          input.Reason,
		Notes:           strings.TrimSpace(input.Notes),
		ReturnToStock:   returnToStock,
		CostImpact:      costImpact(input.Type, returnToStock, input.Quantity, item.CostPrice, input.CostImpact),
		Status:          StatusPending,
		ProcessedBy:     input.ActorID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if input.Type == TypeReturn {
		adj.CustomerName = input.CustomerName
	}

	insertedKey := false
	if s.idempotency != nil && input.IdempotencyKey != "" {
		if err := s.idempotency.CheckAndInsert(ctx, input.IdempotencyKey, Module); err != nil {
			return Adjustment{}, err
		}
		insertedKey = true
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.Insert(ctx, adj); err != nil {
			return err
		}
		return tx.RecordApproval(ctx, shared.ApprovalLog{
			Module:  Module,
			RefID:   adj.ID,
			ActorID: input.ActorID,
			Action:  shared.ApprovalSubmit,
			Note:    adj.Reason,
			At:      now,
		})
	})
	if err != nil {
		if insertedKey {
			if delErr := s.idempotency.Delete(ctx, input.IdempotencyKey, Module); delErr != nil {
				s.logger.Warn("adjustment: release idempotency key", slog.Any("error", delErr))
			}
		}
		return Adjustment{}, fmt.Errorf("adjustment: create: %w", err)
	}

	s.afterChange(ctx, adj, "adjustment:create", nil)
	return adj, nil
}

// Approve resolves a pending adjustment and applies its stock effect once.
func (s *Service) Approve(ctx context.Context, input DecisionInput) (Outcome, error) {
	if err := s.authorize(ctx, input.ActorID); err != nil {
		return Outcome{}, err
	}
	current, err := s.repo.Get(ctx, input.ID)
	if err != nil {
		return Outcome{}, err
	}
	if current.Status != StatusPending {
		return Outcome{}, ErrInvalidStatus
	}

	var outcome Outcome
	err = s.withItemLock(ctx, current.InventoryItemID, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			adj, err := tx.GetForUpdate(ctx, input.ID)
			if err != nil {
				return err
			}
			if adj.Status != StatusPending {
				return ErrInvalidStatus
			}
			var original *Adjustment
			if adj.Type == TypeReversal && adj.ReversesID != nil {
				orig, err := tx.GetForUpdate(ctx, *adj.ReversesID)
				if err != nil {
					return fmt.Errorf("load reversed adjustment: %w", err)
				}
				original = &orig
			}
			plan := planStock(adj, original)
			var change *catalog.StockChange
			var applied int64
			if plan.delta != 0 {
				c, err := tx.AdjustStock(ctx, adj.InventoryItemID, plan.delta)
				if err != nil {
					return err
				}
				change = &c
				applied = c.Delta()
			}
			now := s.now()
			updated, err := tx.Transition(ctx, Transition{
				ID:           adj.ID,
				To:           StatusApproved,
				ActorID:      input.ActorID,
				AppliedDelta: applied,
				At:           now,
			})
			if err != nil {
				return err
			}
			if err := tx.RecordApproval(ctx, shared.ApprovalLog{
				Module:  Module,
				RefID:   adj.ID,
				ActorID: input.ActorID,
				Action:  shared.ApprovalApprove,
				Note:    input.Note,
				At:      now,
			}); err != nil {
				return err
			}
			outcome = Outcome{
				Adjustment: updated,
				Effect:     plan.effect,
				Stock:      change,
				Message:    approvalMessage(updated, plan.effect, change),
			}
			return nil
		})
	})
	if err != nil {
		return Outcome{}, s.transitionError("approve", err)
	}

	s.afterChange(ctx, outcome.Adjustment, "adjustment:approve", map[string]any{
		"effect":        string(outcome.Effect),
		"applied_delta": outcome.Adjustment.AppliedDelta,
	})
	if outcome.Stock != nil {
		s.publish(ctx, notify.Change{Table: notify.TableItems, Op: "UPDATE", ID: outcome.Stock.ItemID.String()})
	}
	return outcome, nil
}

// Reject resolves a pending adjustment without touching stock.
func (s *Service) Reject(ctx context.Context, input DecisionInput) (Adjustment, error) {
	if err := s.authorize(ctx, input.ActorID); err != nil {
		return Adjustment{}, err
	}
	var rejected Adjustment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		adj, err := tx.GetForUpdate(ctx, input.ID)
		if err != nil {
			return err
		}
		if adj.Status != StatusPending {
			return ErrInvalidStatus
		}
		now := s.now()
		rejected, err = tx.Transition(ctx, Transition{ID: adj.ID, To: StatusRejected, ActorID: input.ActorID, At: now})
		if err != nil {
			return err
		}
		return tx.RecordApproval(ctx, shared.ApprovalLog{
			Module:  Module,
			RefID:   adj.ID,
			ActorID: input.ActorID,
			Action:  shared.ApprovalReject,
			Note:    input.Note,
			At:      now,
		})
	})
	if err != nil {
		return Adjustment{}, s.transitionError("reject", err)
	}
	s.afterChange(ctx, rejected, "adjustment:reject", nil)
	return rejected, nil
}

// Reverse creates a pending reversal of an approved adjustment. The original
// record is never modified.
func (s *Service) Reverse(ctx context.Context, input ReverseInput) (Adjustment, error) {
	if input.ActorID <= 0 {
		return Adjustment{}, shared.ErrActorMissing
	}
	fields := fieldErrors{}
	input.Reason = strings.TrimSpace(input.Reason)
	if input.Reason == "" {
		fields.add("reason", "is required")
	}
	if input.OriginalID == uuid.Nil {
		fields.add("id", "is required")
	}
	if err := fields.err(); err != nil {
		return Adjustment{}, err
	}

	var reversal Adjustment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		original, err := tx.GetForUpdate(ctx, input.OriginalID)
		if err != nil {
			return err
		}
		if original.Status != StatusApproved || original.Type == TypeReversal {
			return ErrNotReversible
		}
		if _, found, err := tx.FindActiveReversal(ctx, original.ID); err != nil {
			return err
		} else if found {
			return ErrAlreadyReversed
		}
		now := s.now()
		originalID := original.ID
		reversal = Adjustment{
			ID:              uuid.New(),
			InventoryItemID: original.InventoryItemID,
			Type:            TypeReversal,
			Quantity:        original.Quantity,
			Reason:          input.Reason,
			Notes:           strings.TrimSpace(input.Notes),
			ReturnToStock:   original.ReturnToStock,
			CostImpact:      original.CostImpact.Neg(),
			Status:          StatusPending,
			ProcessedBy:     input.ActorID,
			ReversesID:      &originalID,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := tx.Insert(ctx, reversal); err != nil {
			return err
		}
		return tx.RecordApproval(ctx, shared.ApprovalLog{
			Module:  Module,
			RefID:   reversal.ID,
			ActorID: input.ActorID,
			Action:  shared.ApprovalSubmit,
			Note:    "reversal of " + originalID.String() + ": " + input.Reason,
			At:      now,
		})
	})
	if err != nil {
		return Adjustment{}, s.transitionError("reverse", err)
	}
	s.afterChange(ctx, reversal, "adjustment:reverse", map[string]any{"reverses_id": input.OriginalID.String()})
	return reversal, nil
}

// Get returns a single adjustment.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Adjustment, error) {
	return s.repo.Get(ctx, id)
}

// List returns a page of adjustments, newest first, and the total count.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Adjustment, int, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, &ValidationError{Fields: map[string]string{"status": "unknown status"}}
	}
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, 0, &ValidationError{Fields: map[string]string{"type": "unknown adjustment type"}}
	}
	return s.repo.List(ctx, filter)
}

// Summary aggregates counts per status and the approved cost impact.
func (s *Service) Summary(ctx context.Context, filter ListFilter) (Summary, error) {
	return s.repo.Summary(ctx, filter)
}

// History lists the approval log of an adjustment.
func (s *Service) History(ctx context.Context, id uuid.UUID) ([]shared.ApprovalLog, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	if s.history == nil {
		return nil, nil
	}
	return s.history.List(ctx, Module, id)
}

func (s *Service) authorize(ctx context.Context, actorID int64) error {
	if actorID <= 0 {
		return shared.ErrActorMissing
	}
	ok, err := s.approvers.IsApprover(ctx, actorID)
	if err != nil {
		return fmt.Errorf("adjustment: resolve approver: %w", err)
	}
	if !ok {
		return ErrNotApprover
	}
	return nil
}

func (s *Service) withItemLock(ctx context.Context, itemID uuid.UUID, fn func(context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}
	return s.locker.WithLock(ctx, shared.StockLockKey(itemID), fn)
}

func (s *Service) transitionError(op string, err error) error {
	switch {
	case errors.Is(err, ErrInvalidStatus), errors.Is(err, ErrNotFound),
		errors.Is(err, ErrNotReversible), errors.Is(err, ErrAlreadyReversed),
		errors.Is(err, shared.ErrLockNotObtained):
		return err
	case db.IsSerializationFailure(err):
		return ErrConcurrentUpdate
	}
	s.logger.Error("adjustment transition failed", slog.String("op", op), slog.Any("error", err))
	return fmt.Errorf("adjustment: %s: %w", op, err)
}

func (s *Service) afterChange(ctx context.Context, adj Adjustment, action string, meta map[string]any) {
	if s.observer != nil {
		s.observer.ObserveAdjustment(string(adj.Type), string(adj.Status))
	}
	if s.audit != nil {
		if meta == nil {
			meta = map[string]any{}
		}
		meta["type"] = string(adj.Type)
		meta["quantity"] = adj.Quantity
		meta["cost_impact"] = adj.CostImpact.String()
		meta["item_id"] = adj.InventoryItemID.String()
		actor := adj.ProcessedBy
		if adj.ApprovedBy != nil {
			actor = *adj.ApprovedBy
		}
		if err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actor,
			Action:   action,
			Entity:   "inventory_adjustment",
			EntityID: adj.ID.String(),
			Meta:     meta,
		}); err != nil {
			s.logger.Warn("adjustment audit", slog.String("action", action), slog.Any("error", err))
		}
	}
	op := "UPDATE"
	if adj.Status == StatusPending {
		op = "INSERT"
	}
	s.publish(ctx, notify.Change{Table: notify.TableAdjustments, Op: op, ID: adj.ID.String()})
}

func (s *Service) publish(ctx context.Context, change notify.Change) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, change); err != nil {
		s.logger.Warn("adjustment publish change", slog.String("table", change.Table), slog.Any("error", err))
	}
}
