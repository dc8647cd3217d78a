package adjustments

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/backoffice/internal/catalog"
	"github.com/odyssey-erp/backoffice/internal/notify"
	"github.com/odyssey-erp/backoffice/internal/platform/httpx"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

type memoryRepo struct {
	mu        sync.Mutex
	items     map[uuid.UUID]catalog.Item
	adjs      map[uuid.UUID]Adjustment
	approvals []shared.ApprovalLog
	failStock error
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{items: map[uuid.UUID]catalog.Item{}, adjs: map[uuid.UUID]Adjustment{}}
}

func (r *memoryRepo) addItem(stock int64, cost string) uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := uuid.New()
	r.items[id] = catalog.Item{ID: id, SKU: "SKU-" + id.String()[:4], Name: "Widget", CostPrice: decimal.RequireFromString(cost), CurrentStock: stock}
	return id
}

func (r *memoryRepo) stock(id uuid.UUID) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.items[id].CurrentStock
}

func (r *memoryRepo) setCost(id uuid.UUID, cost string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item := r.items[id]
	item.CostPrice = decimal.RequireFromString(cost)
	r.items[id] = item
}

func (r *memoryRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.adjs)
}

// WithTx serialises callbacks and rolls the maps back on error.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := make(map[uuid.UUID]catalog.Item, len(r.items))
	for k, v := range r.items {
		items[k] = v
	}
	adjs := make(map[uuid.UUID]Adjustment, len(r.adjs))
	for k, v := range r.adjs {
		adjs[k] = v
	}
	approvals := append([]shared.ApprovalLog(nil), r.approvals...)
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.items, r.adjs, r.approvals = items, adjs, approvals
		return err
	}
	return nil
}

func (r *memoryRepo) Get(_ context.Context, id uuid.UUID) (Adjustment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	adj, ok := r.adjs[id]
	if !ok {
		return Adjustment{}, ErrNotFound
	}
	return adj, nil
}

func (r *memoryRepo) List(_ context.Context, filter ListFilter) ([]Adjustment, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Adjustment
	for _, adj := range r.adjs {
		if filter.Status != "" && adj.Status != filter.Status {
			continue
		}
		out = append(out, adj)
	}
	return out, len(out), nil
}

func (r *memoryRepo) Summary(_ context.Context, _ ListFilter) (Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sum := Summary{ApprovedCostImpact: decimal.Zero}
	for _, adj := range r.adjs {
		switch adj.Status {
		case StatusPending:
			sum.Pending++
		case StatusApproved:
			sum.Approved++
			sum.ApprovedCostImpact = sum.ApprovedCostImpact.Add(adj.CostImpact)
		case StatusRejected:
			sum.Rejected++
		}
	}
	return sum, nil
}

func (tx *memoryTx) Insert(_ context.Context, adj Adjustment) error {
	tx.repo.adjs[adj.ID] = adj
	return nil
}

func (tx *memoryTx) GetForUpdate(_ context.Context, id uuid.UUID) (Adjustment, error) {
	adj, ok := tx.repo.adjs[id]
	if !ok {
		return Adjustment{}, ErrNotFound
	}
	return adj, nil
}

func (tx *memoryTx) FindActiveReversal(_ context.Context, originalID uuid.UUID) (Adjustment, bool, error) {
	for _, adj := range tx.repo.adjs {
		if adj.ReversesID != nil && *adj.ReversesID == originalID && adj.Status != StatusRejected {
			return adj, true, nil
		}
	}
	return Adjustment{}, false, nil
}

func (tx *memoryTx) Transition(_ context.Context, t Transition) (Adjustment, error) {
	adj, ok := tx.repo.adjs[t.ID]
	if !ok || adj.Status != StatusPending {
		return Adjustment{}, ErrInvalidStatus
	}
	actor := t.ActorID
	at := t.At
	adj.Status = t.To
	adj.ApprovedBy = &actor
	adj.ApprovedAt = &at
	adj.AppliedDelta = t.AppliedDelta
	adj.UpdatedAt = t.At
	tx.repo.adjs[t.ID] = adj
	return adj, nil
}

func (tx *memoryTx) AdjustStock(_ context.Context, itemID uuid.UUID, delta int64) (catalog.StockChange, error) {
	if tx.repo.failStock != nil {
		return catalog.StockChange{}, tx.repo.failStock
	}
	item, ok := tx.repo.items[itemID]
	if !ok {
		return catalog.StockChange{}, catalog.ErrItemNotFound
	}
	change := catalog.StockChange{ItemID: itemID, Before: item.CurrentStock}
	item.CurrentStock = max(item.CurrentStock+delta, 0)
	change.After = item.CurrentStock
	tx.repo.items[itemID] = item
	return change, nil
}

func (tx *memoryTx) RecordApproval(_ context.Context, log shared.ApprovalLog) error {
	if err := log.Validate(); err != nil {
		return err
	}
	tx.repo.approvals = append(tx.repo.approvals, log)
	return nil
}

type memoryCatalog struct {
	repo *memoryRepo
}

func (c memoryCatalog) Get(_ context.Context, id uuid.UUID) (catalog.Item, error) {
	c.repo.mu.Lock()
	defer c.repo.mu.Unlock()
	item, ok := c.repo.items[id]
	if !ok {
		return catalog.Item{}, catalog.ErrItemNotFound
	}
	return item, nil
}

func (r *memoryRepo) History(_ context.Context, module string, ref uuid.UUID) ([]shared.ApprovalLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []shared.ApprovalLog
	for _, l := range r.approvals {
		if l.Module == module && l.RefID == ref {
			out = append(out, l)
		}
	}
	return out, nil
}

type historyAdapter struct{ repo *memoryRepo }

func (h historyAdapter) List(ctx context.Context, module string, ref uuid.UUID) ([]shared.ApprovalLog, error) {
	return h.repo.History(ctx, module, ref)
}

type approverSet map[int64]bool

func (a approverSet) IsApprover(_ context.Context, actorID int64) (bool, error) {
	return a[actorID], nil
}

type recordingLocker struct {
	mu   sync.Mutex
	keys []string
}

func (l *recordingLocker) WithLock(ctx context.Context, key string, fn func(context.Context) error) error {
	l.mu.Lock()
	l.keys = append(l.keys, key)
	l.mu.Unlock()
	return fn(ctx)
}

type recordingPublisher struct {
	mu      sync.Mutex
	changes []notify.Change
}

func (p *recordingPublisher) Publish(_ context.Context, c notify.Change) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes = append(p.changes, c)
	return nil
}

type memoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func (m *memoryIdempotency) CheckAndInsert(_ context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys == nil {
		m.keys = map[string]struct{}{}
	}
	if _, ok := m.keys[module+":"+key]; ok {
		return shared.ErrIdempotencyConflict
	}
	m.keys[module+":"+key] = struct{}{}
	return nil
}

func (m *memoryIdempotency) Delete(_ context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, module+":"+key)
	return nil
}

const (
	clerk    int64 = 10
	approver int64 = 20
)

type fixture struct {
	repo      *memoryRepo
	svc       *Service
	locker    *recordingLocker
	publisher *recordingPublisher
	idem      *memoryIdempotency
}

func newFixture() fixture {
	repo := newMemoryRepo()
	f := fixture{repo: repo, locker: &recordingLocker{}, publisher: &recordingPublisher{}, idem: &memoryIdempotency{}}
	f.svc = NewService(ServiceDeps{
		Repo:        repo,
		Catalog:     memoryCatalog{repo: repo},
		Approvers:   approverSet{approver: true},
		Locker:      f.locker,
		Publisher:   f.publisher,
		Idempotency: f.idem,
		History:     historyAdapter{repo: repo},
		Now:         func() time.Time { return time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC) },
	})
	return f
}

func boolPtr(b bool) *bool { return &b }

func TestReturnToStockRestocksOnApproval(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	item := f.repo.addItem(10, "5")

	adj, err := f.svc.Create(ctx, CreateInput{InventoryItemID: item, Type: TypeReturn, Quantity: 3, Reason: "customer return", CustomerName: "Ana", ActorID: clerk})
	require.NoError(t, err)
	require.True(t, adj.ReturnToStock)
	require.True(t, adj.CostImpact.IsZero())
	require.Equal(t, StatusPending, adj.Status)
	require.Equal(t, clerk, adj.ProcessedBy)
	require.Nil(t, adj.ApprovedBy)
	require.Equal(t, int64(10), f.repo.stock(item))

	out, err := f.svc.Approve(ctx, DecisionInput{ID: adj.ID, ActorID: approver})
	require.NoError(t, err)
	require.Equal(t, EffectRestock, out.Effect)
	require.Equal(t, int64(13), f.repo.stock(item))
	require.Equal(t, StatusApproved, out.Adjustment.Status)
	require.Equal(t, approver, *out.Adjustment.ApprovedBy)
	require.Equal(t, int64(3), out.Adjustment.AppliedDelta)
	require.Equal(t, &catalog.StockChange{ItemID: item, Before: 10, After: 13}, out.Stock)
	require.Contains(t, out.Message, "restocked")
	require.Equal(t, []string{shared.StockLockKey(item)}, f.locker.keys)
}

func TestDamageFloorsStockAtZero(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	item := f.repo.addItem(2, "20")

	adj, err := f.svc.Create(ctx, CreateInput{InventoryItemID: item, Type: TypeDamage, Quantity: 4, Reason: "dropped", ActorID: clerk})
	require.NoError(t, err)
	require.True(t, decimal.NewFromInt(80).Equal(adj.CostImpact))

	out, err := f.svc.Approve(ctx, DecisionInput{ID: adj.ID, ActorID: approver})
	require.NoError(t, err)
	require.Equal(t, EffectWriteOff, out.Effect)
	require.Equal(t, int64(0), f.repo.stock(item))
	require.Equal(t, int64(-2), out.Adjustment.AppliedDelta)
	require.Contains(t, out.Message, "80.00")
}

func TestRejectLeavesStockAndBlocksApproval(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	item := f.repo.addItem(7, "3")

	adj, err := f.svc.Create(ctx, CreateInput{InventoryItemID: item, Type: TypeLoss, Quantity: 2, Reason: "missing", ActorID: clerk})
	require.NoError(t, err)

	rejected, err := f.svc.Reject(ctx, DecisionInput{ID: adj.ID, ActorID: approver, Note: "found it"})
	require.NoError(t, err)
	require.Equal(t, StatusRejected, rejected.Status)
	require.Equal(t, approver, *rejected.ApprovedBy)
	require.Equal(t, int64(7), f.repo.stock(item))

	_, err = f.svc.Approve(ctx, DecisionInput{ID: adj.ID, ActorID: approver})
	require.ErrorIs(t, err, ErrInvalidStatus)
	require.ErrorIs(t, err, httpx.ErrConflict)
	require.Equal(t, int64(7), f.repo.stock(item))

	_, err = f.svc.Reject(ctx, DecisionInput{ID: adj.ID, ActorID: approver})
	require.ErrorIs(t, err, ErrInvalidStatus)
}

func TestCostImpactTable(t *testing.T) {
	cases := []struct {
		name          string
		typ           Type
		returnToStock *bool
		supplied      *decimal.Decimal
		qty           int64
		want          string
		wantEffect    StockEffect
		wantStock     int64
	}{
		{name: "return default restocks", typ: TypeReturn, qty: 2, want: "0", wantEffect: EffectRestock, wantStock: 12},
		{name: "return discarded", typ: TypeReturn, returnToStock: boolPtr(false), qty: 2, want: "25", wantEffect: EffectNone, wantStock: 10},
		{name: "damage", typ: TypeDamage, qty: 2, want: "25", wantEffect: EffectWriteOff, wantStock: 8},
		{name: "loss", typ: TypeLoss, qty: 3, want: "37.5", wantEffect: EffectWriteOff, wantStock: 7},
		{name: "expired", typ: TypeExpired, qty: 1, want: "12.5", wantEffect: EffectWriteOff, wantStock: 9},
		{name: "correction default", typ: TypeCorrection, qty: 5, want: "0", wantEffect: EffectNone, wantStock: 10},
		{name: "correction supplied", typ: TypeCorrection, supplied: func() *decimal.Decimal { d := decimal.RequireFromString("4.20"); return &d }(), qty: 5, want: "4.2", wantEffect: EffectNone, wantStock: 10},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			ctx := context.Background()
			item := f.repo.addItem(10, "12.50")

			adj, err := f.svc.Create(ctx, CreateInput{InventoryItemID: item, Type: tc.typ, Quantity: tc.qty, Reason: "check", ReturnToStock: tc.returnToStock, CostImpact: tc.supplied, ActorID: clerk})
			require.NoError(t, err)
			require.True(t, decimal.RequireFromString(tc.want).Equal(adj.CostImpact), "cost impact %s", adj.CostImpact)

			// A later price change must not touch the stored impact.
			f.repo.setCost(item, "999")
			out, err := f.svc.Approve(ctx, DecisionInput{ID: adj.ID, ActorID: approver})
			require.NoError(t, err)
			require.True(t, decimal.RequireFromString(tc.want).Equal(out.Adjustment.CostImpact))
			require.Equal(t, tc.wantEffect, out.Effect)
			require.Equal(t, tc.wantStock, f.repo.stock(item))
		})
	}
}

func TestDoubleApprovalAppliesOnce(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	item := f.repo.addItem(5, "1")
	adj, err := f.svc.Create(ctx, CreateInput{InventoryItemID: item, Type: TypeReturn, Quantity: 4, Reason: "r", ActorID: clerk})
	require.NoError(t, err)

	_, err = f.svc.Approve(ctx, DecisionInput{ID: adj.ID, ActorID: approver})
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, DecisionInput{ID: adj.ID, ActorID: approver})
	require.ErrorIs(t, err, ErrInvalidStatus)
	require.Equal(t, int64(9), f.repo.stock(item))
}

func TestConcurrentApprovalsApplyOnce(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	item := f.repo.addItem(100, "1")
	adj, err := f.svc.Create(ctx, CreateInput{InventoryItemID: item, Type: TypeLoss, Quantity: 10, Reason: "r", ActorID: clerk})
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Approve(ctx, DecisionInput{ID: adj.ID, ActorID: approver})
			results <- err
		}()
	}
	wg.Wait()
	close(results)
	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, ErrInvalidStatus)
	}
	require.Equal(t, 1, succeeded)
	require.Equal(t, int64(90), f.repo.stock(item))
}

func TestConcurrentApprovalsOnSameItemKeepEveryDelta(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	item := f.repo.addItem(0, "1")
	var ids []uuid.UUID
	for i := 0; i < 6; i++ {
		adj, err := f.svc.Create(ctx, CreateInput{InventoryItemID: item, Type: TypeReturn, Quantity: 2, Reason: "r", ActorID: clerk})
		require.NoError(t, err)
		ids = append(ids, adj.ID)
	}
	var wg sync.WaitGroup
	errs := make(chan error, len(ids))
	for _, id := range ids {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			_, err := f.svc.Approve(ctx, DecisionInput{ID: id, ActorID: approver})
			errs <- err
		}(id)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, int64(12), f.repo.stock(item))
}

func TestCreateValidation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.Create(ctx, CreateInput{Type: TypeDamage, Quantity: 0, Reason: "  ", ActorID: clerk})
	require.ErrorIs(t, err, httpx.ErrValidation)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	require.Contains(t, verr.Fields, "inventory_item_id")
	require.Contains(t, verr.Fields, "quantity")
	require.Contains(t, verr.Fields, "reason")
	require.Equal(t, 0, f.repo.count())

	_, err = f.svc.Create(ctx, CreateInput{InventoryItemID: uuid.New(), Type: TypeDamage, Quantity: 1, Reason: "x", ActorID: clerk})
	require.True(t, errors.As(err, &verr))
	require.Equal(t, "does not match an inventory item", verr.Fields["inventory_item_id"])

	item := f.repo.addItem(1, "1")
	_, err = f.svc.Create(ctx, CreateInput{InventoryItemID: item, Type: TypeReversal, Quantity: 1, Reason: "x", ActorID: clerk})
	require.True(t, errors.As(err, &verr))
	require.Contains(t, verr.Fields, "adjustment_type")

	supplied := decimal.NewFromInt(3)
	_, err = f.svc.Create(ctx, CreateInput{InventoryItemID: item, Type: TypeDamage, Quantity: 1, Reason: "x", CostImpact: &supplied, ActorID: clerk})
	require.True(t, errors.As(err, &verr))
	require.Contains(t, verr.Fields, "cost_impact")

	_, err = f.svc.Create(ctx, CreateInput{InventoryItemID: item, Type: TypeDamage, Quantity: 1, Reason: "x"})
	require.ErrorIs(t, err, shared.ErrActorMissing)
	require.Equal(t, 0, f.repo.count())
}

func TestReturnToStockIgnoredForWriteOffs(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	item := f.repo.addItem(5, "4")

	adj, err := f.svc.Create(ctx, CreateInput{InventoryItemID: item, Type: TypeDamage, Quantity: 2, Reason: "dropped", ReturnToStock: boolPtr(true), ActorID: clerk})
	require.NoError(t, err)
	require.False(t, adj.ReturnToStock)
	require.True(t, decimal.NewFromInt(8).Equal(adj.CostImpact))

	out, err := f.svc.Approve(ctx, DecisionInput{ID: adj.ID, ActorID: approver})
	require.NoError(t, err)
	require.Equal(t, EffectWriteOff, out.Effect)
	require.Equal(t, int64(3), f.repo.stock(item))
}

func TestApproveRequiresApprover(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	item := f.repo.addItem(4, "2")
	adj, err := f.svc.Create(ctx, CreateInput{InventoryItemID: item, Type: TypeExpired, Quantity: 1, Reason: "date", ActorID: clerk})
	require.NoError(t, err)

	_, err = f.svc.Approve(ctx, DecisionInput{ID: adj.ID, ActorID: clerk})
	require.ErrorIs(t, err, ErrNotApprover)
	require.ErrorIs(t, err, httpx.ErrForbidden)
	_, err = f.svc.Reject(ctx, DecisionInput{ID: adj.ID, ActorID: clerk})
	require.ErrorIs(t, err, ErrNotApprover)

	got, err := f.svc.Get(ctx, adj.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, got.Status)
	require.Equal(t, int64(4), f.repo.stock(item))
}

func TestApproveUnknownAdjustment(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Approve(context.Background(), DecisionInput{ID: uuid.New(), ActorID: approver})
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, err, httpx.ErrNotFound)
}

func TestFailedStockWriteRollsBackStatus(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	item := f.repo.addItem(4, "2")
	adj, err := f.svc.Create(ctx, CreateInput{InventoryItemID: item, Type: TypeDamage, Quantity: 1, Reason: "x", ActorID: clerk})
	require.NoError(t, err)

	f.repo.failStock = errors.New("catalog offline")
	_, err = f.svc.Approve(ctx, DecisionInput{ID: adj.ID, ActorID: approver})
	require.Error(t, err)
	require.Equal(t, 500, httpx.StatusFor(err))

	got, err := f.svc.Get(ctx, adj.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, got.Status)
	require.Equal(t, int64(4), f.repo.stock(item))
}

func TestReverseWriteOffRestoresAppliedDelta(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	item := f.repo.addItem(2, "20")
	adj, err := f.svc.Create(ctx, CreateInput{InventoryItemID: item, Type: TypeDamage, Quantity: 4, Reason: "dropped", ActorID: clerk})
	require.NoError(t, err)

	_, err = f.svc.Reverse(ctx, ReverseInput{OriginalID: adj.ID, Reason: "too early", ActorID: clerk})
	require.ErrorIs(t, err, ErrNotReversible)

	_, err = f.svc.Approve(ctx, DecisionInput{ID: adj.ID, ActorID: approver})
	require.NoError(t, err)
	require.Equal(t, int64(0), f.repo.stock(item))

	rev, err := f.svc.Reverse(ctx, ReverseInput{OriginalID: adj.ID, Reason: "not actually damaged", ActorID: clerk})
	require.NoError(t, err)
	require.Equal(t, TypeReversal, rev.Type)
	require.Equal(t, StatusPending, rev.Status)
	require.Equal(t, adj.ID, *rev.ReversesID)
	require.True(t, decimal.NewFromInt(-80).Equal(rev.CostImpact))
	require.Equal(t, int64(0), f.repo.stock(item))

	_, err = f.svc.Reverse(ctx, ReverseInput{OriginalID: adj.ID, Reason: "again", ActorID: clerk})
	require.ErrorIs(t, err, ErrAlreadyReversed)

	out, err := f.svc.Approve(ctx, DecisionInput{ID: rev.ID, ActorID: approver})
	require.NoError(t, err)
	require.Equal(t, EffectReverseWriteOff, out.Effect)
	require.Equal(t, int64(2), f.repo.stock(item))

	_, err = f.svc.Reverse(ctx, ReverseInput{OriginalID: rev.ID, Reason: "undo undo", ActorID: clerk})
	require.ErrorIs(t, err, ErrNotReversible)

	original, err := f.svc.Get(ctx, adj.ID)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, original.Status)
	require.Equal(t, int64(-2), original.AppliedDelta)
}

func TestReverseRestockAndRejectedReversal(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	item := f.repo.addItem(1, "5")
	adj, err := f.svc.Create(ctx, CreateInput{InventoryItemID: item, Type: TypeReturn, Quantity: 3, Reason: "back", ActorID: clerk})
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, DecisionInput{ID: adj.ID, ActorID: approver})
	require.NoError(t, err)
	require.Equal(t, int64(4), f.repo.stock(item))

	rev, err := f.svc.Reverse(ctx, ReverseInput{OriginalID: adj.ID, Reason: "wrong sku", ActorID: clerk})
	require.NoError(t, err)
	_, err = f.svc.Reject(ctx, DecisionInput{ID: rev.ID, ActorID: approver})
	require.NoError(t, err)
	require.Equal(t, int64(4), f.repo.stock(item))

	// A rejected reversal does not block a new one.
	rev, err = f.svc.Reverse(ctx, ReverseInput{OriginalID: adj.ID, Reason: "wrong sku, confirmed", ActorID: clerk})
	require.NoError(t, err)
	out, err := f.svc.Approve(ctx, DecisionInput{ID: rev.ID, ActorID: approver})
	require.NoError(t, err)
	require.Equal(t, EffectReverseRestock, out.Effect)
	require.Equal(t, int64(1), f.repo.stock(item))
}

func TestReverseRequiresReason(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Reverse(context.Background(), ReverseInput{OriginalID: uuid.New(), ActorID: clerk})
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	require.Contains(t, verr.Fields, "reason")
}

func TestIdempotencyKeyRejectsReplay(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	item := f.repo.addItem(1, "1")
	in := CreateInput{InventoryItemID: item, Type: TypeLoss, Quantity: 1, Reason: "r", IdempotencyKey: "abc", ActorID: clerk}

	_, err := f.svc.Create(ctx, in)
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, in)
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
	require.Equal(t, 1, f.repo.count())
}

func TestHistoryAndNotifications(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	item := f.repo.addItem(3, "1")
	adj, err := f.svc.Create(ctx, CreateInput{InventoryItemID: item, Type: TypeReturn, Quantity: 1, Reason: "r", ActorID: clerk})
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, DecisionInput{ID: adj.ID, ActorID: approver, Note: "ok"})
	require.NoError(t, err)

	logs, err := f.svc.History(ctx, adj.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	require.Equal(t, shared.ApprovalSubmit, logs[0].Action)
	require.Equal(t, shared.ApprovalApprove, logs[1].Action)
	require.Equal(t, approver, logs[1].ActorID)

	tables := map[string]int{}
	for _, c := range f.publisher.changes {
		tables[c.Table]++
	}
	require.Equal(t, 2, tables[notify.TableAdjustments])
	require.Equal(t, 1, tables[notify.TableItems])

	_, err = f.svc.History(ctx, uuid.New())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSummaryCountsStatuses(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	item := f.repo.addItem(50, "2")
	a, _ := f.svc.Create(ctx, CreateInput{InventoryItemID: item, Type: TypeDamage, Quantity: 5, Reason: "r", ActorID: clerk})
	b, _ := f.svc.Create(ctx, CreateInput{InventoryItemID: item, Type: TypeLoss, Quantity: 1, Reason: "r", ActorID: clerk})
	_, _ = f.svc.Create(ctx, CreateInput{InventoryItemID: item, Type: TypeExpired, Quantity: 1, Reason: "r", ActorID: clerk})
	_, err := f.svc.Approve(ctx, DecisionInput{ID: a.ID, ActorID: approver})
	require.NoError(t, err)
	_, err = f.svc.Reject(ctx, DecisionInput{ID: b.ID, ActorID: approver})
	require.NoError(t, err)

	sum, err := f.svc.Summary(ctx, ListFilter{})
	require.NoError(t, err)
	require.Equal(t, Summary{Pending: 1, Approved: 1, Rejected: 1, ApprovedCostImpact: sum.ApprovedCostImpact}, sum)
	require.True(t, decimal.NewFromInt(10).Equal(sum.ApprovedCostImpact))

	_, _, err = f.svc.List(ctx, ListFilter{Status: "bogus"})
	require.ErrorIs(t, err, httpx.ErrValidation)
}
