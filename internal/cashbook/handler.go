package cashbook

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/backoffice/internal/platform/httpx"
	"github.com/odyssey-erp/backoffice/internal/rbac"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// LedgerBuilder builds a ledger for a window.
type LedgerBuilder interface {
	Ledger(ctx context.Context, w Window) (Ledger, error)
}

// Handler exposes the cash book over HTTP.
type Handler struct {
	logger  *slog.Logger
	service LedgerBuilder
	watcher *Watcher
	rbac    rbac.Middleware
	now     func() time.Time
}

// NewHandler constructs the cash book handler. watcher may be nil.
func NewHandler(logger *slog.Logger, service LedgerBuilder, watcher *Watcher, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, watcher: watcher, rbac: rbac, now: time.Now}
}

// MountRoutes registers cash book routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermCashbookView))
		r.Get("/", h.handleLedger)
		r.Get("/export.csv", h.handleExport)
		r.Get("/current", h.handleCurrent)
	})
}

func (h *Handler) window(w http.ResponseWriter, r *http.Request) (Window, bool) {
	q := r.URL.Query()
	win, err := ParseWindow(q.Get("from"), q.Get("to"), h.now())
	if err != nil {
		httpx.ValidationProblem(w, err.Error(), map[string]string{"from": "use YYYY-MM-DD, not after to", "to": "use YYYY-MM-DD"})
		return Window{}, false
	}
	return win, true
}

func (h *Handler) handleLedger(w http.ResponseWriter, r *http.Request) {
	win, ok := h.window(w, r)
	if !ok {
		return
	}
	ledger, err := h.service.Ledger(r.Context(), win)
	if err != nil {
		h.logger.Error("build cash ledger", slog.String("window", win.Key()), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ledger)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	win, ok := h.window(w, r)
	if !ok {
		return
	}
	ledger, err := h.service.Ledger(r.Context(), win)
	if err != nil {
		h.logger.Error("export cash ledger", slog.String("window", win.Key()), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	var buf bytes.Buffer
	if err := WriteCSV(&buf, ledger); err != nil {
		h.logger.Error("write cash ledger csv", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=cashbook_%s_%s.csv", ledger.From, ledger.To))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (h *Handler) handleCurrent(w http.ResponseWriter, r *http.Request) {
	if h.watcher == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Unavailable", "ledger watcher not running")
		return
	}
	ledger, ok := h.watcher.Latest()
	if !ok {
		var err error
		ledger, err = h.watcher.Refresh(r.Context())
		if err != nil {
			h.logger.Error("refresh current ledger", slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
	}
	httpx.JSON(w, http.StatusOK, ledger)
}
