// Package stock holds on-hand quantity and weighted-average cost per item.
package stock

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/costing"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

var (
	// ErrNotFound indicates the item does not exist in the tenant.
	ErrNotFound = shared.ErrNotFound
	// ErrConcurrencyConflict indicates the item changed since it was read.
	ErrConcurrencyConflict = shared.ErrConcurrencyConflict
)

// Item is a stock keeping unit with its running position.
type Item struct {
	ID               uuid.UUID       `json:"id"`
	TenantID         uuid.UUID       `json:"tenant_id"`
	SKU              string          `json:"sku"`
	Name             string          `json:"name"`
	OnHand           decimal.Decimal `json:"on_hand"`
	AverageCostCents int64           `json:"average_cost_cents"`
	Active           bool            `json:"active"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Position returns the costing view of the item.
func (i Item) Position() costing.Position {
	return costing.Position{OnHand: i.OnHand, AverageCostCents: i.AverageCostCents}
}

// Delta is an atomic change to one item: on hand moves by QtyDelta and the
// average cost is replaced, provided the item still matches Expected.
type Delta struct {
	TenantID            uuid.UUID
	ItemID              uuid.UUID
	QtyDelta            decimal.Decimal
	NewAverageCostCents int64
	Expected            costing.Position
}

// DeltaTo builds the delta moving item from its current position to next.
func DeltaTo(item Item, next costing.Position) Delta {
	return Delta{
		TenantID:            item.TenantID,
		ItemID:              item.ID,
		QtyDelta:            next.OnHand.Sub(item.OnHand),
		NewAverageCostCents: next.AverageCostCents,
		Expected:            item.Position(),
	}
}

// Validate rejects deltas that would leave the item negative.
func (d Delta) Validate() error {
	if d.TenantID == uuid.Nil || d.ItemID == uuid.Nil {
		return fmt.Errorf("stock: tenant and item required: %w", shared.ErrValidation)
	}
	if d.NewAverageCostCents < 0 {
		return fmt.Errorf("stock: negative average cost: %w", shared.ErrValidation)
	}
	if d.Expected.OnHand.Add(d.QtyDelta).IsNegative() {
		return fmt.Errorf("stock: on hand would go negative: %w", shared.ErrValidation)
	}
	return nil
}
