// Package catalog exposes the narrow inventory item contract used by stock
// adjustments: cost price lookup and atomic stock mutation.
package catalog

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/platform/httpx"
)

// ErrItemNotFound indicates the referenced inventory item does not exist.
var ErrItemNotFound = fmt.Errorf("inventory item: %w", httpx.ErrNotFound)

// Item is a stocked product.
type Item struct {
	ID           uuid.UUID       `json:"id"`
	SKU          string          `json:"sku"`
	Name         string          `json:"name"`
	CostPrice    decimal.Decimal `json:"cost_price"`
	CurrentStock int64           `json:"current_stock"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// StockChange reports the stock level around a single mutation.
type StockChange struct {
	ItemID uuid.UUID `json:"item_id"`
	Before int64     `json:"before"`
	After  int64     `json:"after"`
}

// Delta is the effective change, which can be smaller than requested when
// the floor at zero kicks in.
func (c StockChange) Delta() int64 {
	return c.After - c.Before
}
