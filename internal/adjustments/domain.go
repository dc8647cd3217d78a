// Package adjustments implements the approval-gated workflow for stock
// corrections: returns, damage, loss, expiry, manual corrections and
// reversals of previously approved records.
package adjustments

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/catalog"
)

// Module is the approval/idempotency module name for adjustments.
const Module = "inventory_adjustments"

// Type enumerates adjustment kinds.
type Type string

const (
	TypeReturn     Type = "return"
	TypeDamage     Type = "damage"
	TypeLoss       Type = "loss"
	TypeExpired    Type = "expired"
	TypeCorrection Type = "correction"
	// TypeReversal undoes an approved adjustment. Only Reverse creates it.
	TypeReversal Type = "reversal"
)

// Valid reports whether t is a known type.
func (t Type) Valid() bool {
	switch t {
	case TypeReturn, TypeDamage, TypeLoss, TypeExpired, TypeCorrection, TypeReversal:
		return true
	}
	return false
}

// writesOff reports types that always remove stock and book their full cost.
func (t Type) writesOff() bool {
	return t == TypeDamage || t == TypeLoss || t == TypeExpired
}

// Status enumerates workflow states.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusPending || s == StatusApproved || s == StatusRejected
}

// StockEffect names what an approval did to the catalog.
type StockEffect string

const (
	EffectRestock         StockEffect = "restock"
	EffectWriteOff        StockEffect = "write_off"
	EffectNone            StockEffect = "none"
	EffectReverseRestock  StockEffect = "reverse_restock"
	EffectReverseWriteOff StockEffect = "reverse_write_off"
)

// Adjustment is a persisted stock correction.
type Adjustment struct {
	ID              uuid.UUID       `json:"id"`
	InventoryItemID uuid.UUID       `json:"inventory_item_id"`
	Type            Type            `json:"adjustment_type"`
	Quantity        int64           `json:"quantity"`
	Reason          string          `json:"reason"`
	CustomerName    string          `json:"customer_name,omitempty"`
	CostImpact      decimal.Decimal `json:"cost_impact"`
	Notes           string          `json:"notes,omitempty"`
	ReturnToStock   bool            `json:"return_to_stock"`
	Status          Status          `json:"status"`
	ProcessedBy     int64           `json:"processed_by"`
	ApprovedBy      *int64          `json:"approved_by"`
	ApprovedAt      *time.Time      `json:"approved_at,omitempty"`
	ReversesID      *uuid.UUID      `json:"reverses_id,omitempty"`
	AppliedDelta    int64           `json:"applied_delta"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// CreateInput carries a new adjustment request.
type CreateInput struct {
	InventoryItemID uuid.UUID
	Type            Type
	Quantity        int64
	Reason          string
	CustomerName    string
	Notes           string
	// ReturnToStock applies to returns only; nil means true.
	ReturnToStock *bool
	// CostImpact is accepted for corrections only; nil means zero.
	CostImpact     *decimal.Decimal
	IdempotencyKey string
	ActorID        int64
}

// DecisionInput carries an approve or reject request.
type DecisionInput struct {
	ID      uuid.UUID
	ActorID int64
	Note    string
}

// ReverseInput requests a reversal of an approved adjustment.
type ReverseInput struct {
	OriginalID uuid.UUID
	Reason     string
	Notes      string
	ActorID    int64
}

// Transition is a pending to terminal state change.
type Transition struct {
	ID           uuid.UUID
	To           Status
	ActorID      int64
	AppliedDelta int64
	At           time.Time
}

// ListFilter narrows listings and summaries.
type ListFilter struct {
	Status Status
	Type   Type
	ItemID *uuid.UUID
	Limit  int
	Offset int
}

// Summary aggregates adjustments per status.
type Summary struct {
	Pending            int64           `json:"pending"`
	Approved           int64           `json:"approved"`
	Rejected           int64           `json:"rejected"`
	ApprovedCostImpact decimal.Decimal `json:"approved_cost_impact"`
}

// Outcome reports a resolved adjustment and the stock effect applied.
type Outcome struct {
	Adjustment Adjustment           `json:"adjustment"`
	Effect     StockEffect          `json:"effect"`
	Stock      *catalog.StockChange `json:"stock,omitempty"`
	Message    string               `json:"message"`
}
