package cashbook

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/odyssey-erp/backoffice/internal/notify"
)

// ErrSuperseded is returned by a refresh that a newer refresh overtook.
var ErrSuperseded = errors.New("cashbook: refresh superseded")

// LedgerSource builds ledgers and drops cached sources.
type LedgerSource interface {
	Ledger(ctx context.Context, w Window) (Ledger, error)
	Invalidate(ctx context.Context) error
}

// Watcher keeps the ledger of an active window fresh. Each refresh takes a
// sequence number; starting one cancels the previous and only the latest
// sequence may publish its result, whatever order they complete in.
type Watcher struct {
	src      LedgerSource
	onUpdate func(Ledger)
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	seq      uint64
	cancel   context.CancelFunc
	window   *Window
	latest   Ledger
	hasValue bool
}

// NewWatcher builds a Watcher. onUpdate runs for every accepted result.
func NewWatcher(src LedgerSource, onUpdate func(Ledger), logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{src: src, onUpdate: onUpdate, logger: logger, now: time.Now}
}

// SetWindow pins the active window and refreshes it.
func (w *Watcher) SetWindow(ctx context.Context, win Window) (Ledger, error) {
	w.mu.Lock()
	w.window = &win
	w.mu.Unlock()
	return w.Refresh(ctx)
}

// Window returns the active window; without a pinned one it follows the
// current month.
func (w *Watcher) Window() Window {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.activeWindow()
}

func (w *Watcher) activeWindow() Window {
	if w.window != nil {
		return *w.window
	}
	return CurrentMonth(w.now())
}

// Refresh rebuilds the active window's ledger.
func (w *Watcher) Refresh(ctx context.Context) (Ledger, error) {
	w.mu.Lock()
	w.seq++
	seq := w.seq
	win := w.activeWindow()
	if w.cancel != nil {
		w.cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.mu.Unlock()
	defer cancel()

	ledger, err := w.src.Ledger(ctx, win)

	w.mu.Lock()
	defer w.mu.Unlock()
	if seq != w.seq {
		return Ledger{}, ErrSuperseded
	}
	if err != nil {
		return Ledger{}, err
	}
	w.latest = ledger
	w.hasValue = true
	if w.onUpdate != nil {
		w.onUpdate(ledger)
	}
	return ledger, nil
}

// Latest returns the most recent accepted ledger.
func (w *Watcher) Latest() (Ledger, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.latest, w.hasValue
}

// Run refreshes after every change until ctx ends or changes closes. Cached
// sources are invalidated before each refresh.
func (w *Watcher) Run(ctx context.Context, changes <-chan notify.Change) {
	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			if err := w.src.Invalidate(ctx); err != nil {
				w.logger.Warn("cashbook invalidate", slog.Any("error", err))
			}
			wg.Add(1)
			go func(table string) {
				defer wg.Done()
				if _, err := w.Refresh(ctx); err != nil && !errors.Is(err, ErrSuperseded) && !errors.Is(err, context.Canceled) {
					w.logger.Error("cashbook refresh", slog.String("table", table), slog.Any("error", err))
				}
			}(change.Table)
		}
	}
}
