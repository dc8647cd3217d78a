package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/backoffice/internal/platform/db"
)

// Repository reads inventory items.
type Repository struct {
	db db.DBTX
}

// NewRepository constructs Repository.
func NewRepository(conn db.DBTX) *Repository {
	return &Repository{db: conn}
}

const getItemSQL = `SELECT id, sku, name, cost_price, current_stock, updated_at
FROM inventory_items WHERE id = $1`

// Get loads an item by id.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Item, error) {
	var item Item
	err := r.db.QueryRow(ctx, getItemSQL, id).Scan(
		&item.ID, &item.SKU, &item.Name, &item.CostPrice, &item.CurrentStock, &item.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrItemNotFound
		}
		return Item{}, fmt.Errorf("catalog: get item: %w", err)
	}
	return item, nil
}

// adjustStockSQL locks the row, applies the delta server side and floors the
// result at zero in one statement so concurrent writers cannot lose updates.
const adjustStockSQL = `WITH prev AS (
    SELECT id, current_stock FROM inventory_items WHERE id = $1 FOR UPDATE
)
UPDATE inventory_items i
SET current_stock = GREATEST(prev.current_stock + $2, 0), updated_at = NOW()
FROM prev
WHERE i.id = prev.id
RETURNING prev.current_stock, i.current_stock`

// AdjustStock atomically adds delta to the item's stock through q, which is
// normally the caller's transaction. The stored value never drops below zero.
func AdjustStock(ctx context.Context, q db.DBTX, id uuid.UUID, delta int64) (StockChange, error) {
	change := StockChange{ItemID: id}
	err := q.QueryRow(ctx, adjustStockSQL, id, delta).Scan(&change.Before, &change.After)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockChange{}, ErrItemNotFound
		}
		return StockChange{}, fmt.Errorf("catalog: adjust stock: %w", err)
	}
	return change, nil
}
