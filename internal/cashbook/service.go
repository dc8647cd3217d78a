package cashbook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Repository reads the raw cash sources for a window.
type Repository interface {
	CashSales(ctx context.Context, w Window) ([]CashSale, error)
	Expenses(ctx context.Context, w Window) ([]Expense, error)
	CashReceipts(ctx context.Context, w Window) ([]CashReceipt, error)
}

// Observer receives ledger build measurements.
type Observer interface {
	ObserveLedgerBuild(elapsed time.Duration, entries int)
}

// Service builds ledgers on demand.
type Service struct {
	repo     Repository
	cache    *Cache
	observer Observer
	logger   *slog.Logger
	group    singleflight.Group
}

// NewService wires a Repository with an optional Cache and Observer.
func NewService(repo Repository, cache *Cache, observer Observer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, observer: observer, logger: logger}
}

// Ledger rebuilds the ledger for w from its sources.
func (s *Service) Ledger(ctx context.Context, w Window) (Ledger, error) {
	src, err := s.sources(ctx, w)
	if err != nil {
		return Ledger{}, err
	}
	started := time.Now()
	ledger := Build(w, src)
	if s.observer != nil {
		s.observer.ObserveLedgerBuild(time.Since(started), len(ledger.Entries))
	}
	return ledger, nil
}

// Invalidate drops every cached window.
func (s *Service) Invalidate(ctx context.Context) error {
	return s.cache.Bump(ctx)
}

// Warm loads w's sources into the cache.
func (s *Service) Warm(ctx context.Context, w Window) error {
	_, err := s.sources(ctx, w)
	return err
}

// sources collapses concurrent identical requests into one cache lookup. The
// shared load is detached from any single caller's cancellation.
func (s *Service) sources(ctx context.Context, w Window) (Sources, error) {
	key, err := s.cache.BuildKey(ctx, "cashbook", "sources", w.Key())
	if err != nil {
		return Sources{}, fmt.Errorf("cashbook: cache key: %w", err)
	}
	shared := context.WithoutCancel(ctx)
	resultChan := s.group.DoChan(key, func() (any, error) {
		var src Sources
		err := s.cache.FetchJSON(shared, key, &src, func(ctx context.Context) (any, error) {
			return s.load(ctx, w)
		})
		return src, err
	})
	select {
	case <-ctx.Done():
		return Sources{}, ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return Sources{}, res.Err
		}
		return res.Val.(Sources), nil
	}
}

func (s *Service) load(ctx context.Context, w Window) (Sources, error) {
	var src Sources
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sales, err := s.repo.CashSales(ctx, w)
		if err != nil {
			return fmt.Errorf("cashbook: load cash sales: %w", err)
		}
		src.Sales = sales
		return nil
	})
	g.Go(func() error {
		expenses, err := s.repo.Expenses(ctx, w)
		if err != nil {
			return fmt.Errorf("cashbook: load expenses: %w", err)
		}
		src.Expenses = expenses
		return nil
	})
	g.Go(func() error {
		receipts, err := s.repo.CashReceipts(ctx, w)
		if err != nil {
			return fmt.Errorf("cashbook: load cash receipts: %w", err)
		}
		src.Receipts = receipts
		return nil
	})
	if err := g.Wait(); err != nil {
		s.logger.Error("cashbook load sources", slog.String("window", w.Key()), slog.Any("error", err))
		return Sources{}, err
	}
	return src, nil
}
