package adjustments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/catalog"
	"github.com/odyssey-erp/backoffice/internal/platform/db"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	Insert(ctx context.Context, adj Adjustment) error
	GetForUpdate(ctx context.Context, id uuid.UUID) (Adjustment, error)
	// FindActiveReversal returns a pending or approved reversal of originalID.
	FindActiveReversal(ctx context.Context, originalID uuid.UUID) (Adjustment, bool, error)
	// Transition moves a pending record to t.To and fails with
	// ErrInvalidStatus when the record is no longer pending.
	Transition(ctx context.Context, t Transition) (Adjustment, error)
	AdjustStock(ctx context.Context, itemID uuid.UUID, delta int64) (catalog.StockChange, error)
	RecordApproval(ctx context.Context, log shared.ApprovalLog) error
}

// Repository persists adjustments in PostgreSQL.
type Repository struct {
	pool      *pgxpool.Pool
	approvals *shared.ApprovalRecorder
}

// NewRepository constructs Repository. Approval history is written through
// the recorder inside the same transaction as the state change.
func NewRepository(pool *pgxpool.Pool, approvals *shared.ApprovalRecorder) *Repository {
	return &Repository{pool: pool, approvals: approvals}
}

type txRepo struct {
	tx        pgx.Tx
	approvals *shared.ApprovalRecorder
}

// WithTx executes the callback inside repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx, approvals: r.approvals})
	})
}

const adjustmentColumns = `id, inventory_item_id, adjustment_type, quantity, reason, customer_name,
cost_impact, notes, return_to_stock, status, processed_by, approved_by, approved_at,
reverses_id, applied_delta, created_at, updated_at`

func scanAdjustment(row pgx.Row) (Adjustment, error) {
	var (
		adj        Adjustment
		adjType    string
		status     string
		approvedBy pgtype.Int8
		approvedAt pgtype.Timestamptz
		reversesID pgtype.UUID
	)
	err := row.Scan(
		&adj.ID, &adj.InventoryItemID, &adjType, &adj.Quantity, &adj.Reason, &adj.CustomerName,
		&adj.CostImpact, &adj.Notes, &adj.ReturnToStock, &status, &adj.ProcessedBy, &approvedBy, &approvedAt,
		&reversesID, &adj.AppliedDelta, &adj.CreatedAt, &adj.UpdatedAt,
	)
	if err != nil {
		return Adjustment{}, err
	}
	adj.Type = Type(adjType)
	adj.Status = Status(status)
	if approvedBy.Valid {
		v := approvedBy.Int64
		adj.ApprovedBy = &v
	}
	if approvedAt.Valid {
		v := approvedAt.Time
		adj.ApprovedAt = &v
	}
	if reversesID.Valid {
		v := uuid.UUID(reversesID.Bytes)
		adj.ReversesID = &v
	}
	return adj, nil
}

func getAdjustment(ctx context.Context, q db.DBTX, query string, id uuid.UUID) (Adjustment, error) {
	adj, err := scanAdjustment(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Adjustment{}, ErrNotFound
		}
		return Adjustment{}, fmt.Errorf("adjustment: load: %w", err)
	}
	return adj, nil
}

// Get loads an adjustment by id.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Adjustment, error) {
	return getAdjustment(ctx, r.pool, `SELECT `+adjustmentColumns+` FROM inventory_adjustments WHERE id = $1`, id)
}

func whereClause(filter ListFilter) (string, []any) {
	var conds []string
	var args []any
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		conds = append(conds, fmt.Sprintf("adjustment_type = $%d", len(args)))
	}
	if filter.ItemID != nil {
		args = append(args, *filter.ItemID)
		conds = append(conds, fmt.Sprintf("inventory_item_id = $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// List returns matching adjustments newest first plus the unpaged total.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Adjustment, int, error) {
	where, args := whereClause(filter)
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM inventory_adjustments`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("adjustment: count: %w", err)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit, filter.Offset)
	query := `SELECT ` + adjustmentColumns + ` FROM inventory_adjustments` + where +
		fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("adjustment: list: %w", err)
	}
	defer rows.Close()
	var out []Adjustment
	for rows.Next() {
		adj, err := scanAdjustment(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, adj)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// Summary counts adjustments per status and totals approved cost impact.
func (r *Repository) Summary(ctx context.Context, filter ListFilter) (Summary, error) {
	filter.Status = ""
	where, args := whereClause(filter)
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*), COALESCE(SUM(cost_impact), 0)
FROM inventory_adjustments`+where+` GROUP BY status`, args...)
	if err != nil {
		return Summary{}, fmt.Errorf("adjustment: summary: %w", err)
	}
	defer rows.Close()
	sum := Summary{ApprovedCostImpact: decimal.Zero}
	for rows.Next() {
		var (
			status string
			count  int64
			cost   decimal.Decimal
		)
		if err := rows.Scan(&status, &count, &cost); err != nil {
			return Summary{}, err
		}
		switch Status(status) {
		case StatusPending:
			sum.Pending = count
		case StatusApproved:
			sum.Approved = count
			sum.ApprovedCostImpact = cost
		case StatusRejected:
			sum.Rejected = count
		}
	}
	return sum, rows.Err()
}

func (r *txRepo) Insert(ctx context.Context, adj Adjustment) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO inventory_adjustments (`+adjustmentColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		adj.ID, adj.InventoryItemID, string(adj.Type), adj.Quantity, adj.Reason, adj.CustomerName,
		adj.CostImpact, adj.Notes, adj.ReturnToStock, string(adj.Status), adj.ProcessedBy, adj.ApprovedBy, adj.ApprovedAt,
		adj.ReversesID, adj.AppliedDelta, adj.CreatedAt, adj.UpdatedAt,
	)
	if err != nil {
		if db.IsUniqueViolation(err) && adj.ReversesID != nil {
			return ErrAlreadyReversed
		}
		return fmt.Errorf("adjustment: insert: %w", err)
	}
	return nil
}

func (r *txRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (Adjustment, error) {
	return getAdjustment(ctx, r.tx, `SELECT `+adjustmentColumns+` FROM inventory_adjustments WHERE id = $1 FOR UPDATE`, id)
}

func (r *txRepo) FindActiveReversal(ctx context.Context, originalID uuid.UUID) (Adjustment, bool, error) {
	adj, err := getAdjustment(ctx, r.tx, `SELECT `+adjustmentColumns+` FROM inventory_adjustments
WHERE reverses_id = $1 AND status IN ('pending', 'approved') LIMIT 1`, originalID)
	if errors.Is(err, ErrNotFound) {
		return Adjustment{}, false, nil
	}
	if err != nil {
		return Adjustment{}, false, err
	}
	return adj, true, nil
}

func (r *txRepo) Transition(ctx context.Context, t Transition) (Adjustment, error) {
	adj, err := scanAdjustment(r.tx.QueryRow(ctx, `UPDATE inventory_adjustments
SET status = $2, approved_by = $3, approved_at = $4, applied_delta = $5, updated_at = $4
WHERE id = $1 AND status = 'pending'
RETURNING `+adjustmentColumns, t.ID, string(t.To), t.ActorID, t.At, t.AppliedDelta))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Adjustment{}, ErrInvalidStatus
		}
		return Adjustment{}, fmt.Errorf("adjustment: transition: %w", err)
	}
	return adj, nil
}

func (r *txRepo) AdjustStock(ctx context.Context, itemID uuid.UUID, delta int64) (catalog.StockChange, error) {
	return catalog.AdjustStock(ctx, r.tx, itemID, delta)
}

func (r *txRepo) RecordApproval(ctx context.Context, log shared.ApprovalLog) error {
	if r.approvals == nil {
		return nil
	}
	return r.approvals.RecordTx(ctx, r.tx, log)
}
