// Package ledger records immutable inventory movements.
package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// SourceType identifies the kind of document that caused a movement.
type SourceType string

const (
	SourceReceipt       SourceType = "RECEIPT"
	SourceReceiptCancel SourceType = "RECEIPT_CANCEL"
	SourceSale          SourceType = "SALE"
	SourceSaleCancel    SourceType = "SALE_CANCEL"
	SourceAdjustment    SourceType = "ADJUSTMENT"
	SourceTransfer      SourceType = "TRANSFER"
	SourceReturn        SourceType = "RETURN"
)

// Valid reports whether s is a known source type.
func (s SourceType) Valid() bool {
	switch s {
	case SourceReceipt, SourceReceiptCancel, SourceSale, SourceSaleCancel, SourceAdjustment, SourceTransfer, SourceReturn:
		return true
	}
	return false
}

// MovementType carries the direction of a movement.
type MovementType string

const (
	MovementIn  MovementType = "IN"
	MovementOut MovementType = "OUT"
)

// Movement is one quantity change to one stock item. It is never updated or
// deleted once appended; corrections are new reversal movements.
type Movement struct {
	ID                 uuid.UUID       `json:"id"`
	TenantID           uuid.UUID       `json:"tenant_id"`
	StockItemID        uuid.UUID       `json:"stock_item_id"`
	LocationID         string          `json:"location_id,omitempty"`
	LocationName       string          `json:"location_name,omitempty"`
	SourceType         SourceType      `json:"source_type"`
	SourceID           uuid.UUID       `json:"source_id"`
	SourceLineID       uuid.UUID       `json:"source_line_id"`
	MovementType       MovementType    `json:"movement_type"`
	Quantity           decimal.Decimal `json:"quantity"`
	UnitCostCents      int64           `json:"unit_cost_cents"`
	QuantityBefore     decimal.Decimal `json:"quantity_before"`
	QuantityAfter      decimal.Decimal `json:"quantity_after"`
	CostBeforeCents    int64           `json:"cost_before_cents"`
	CostAfterCents     int64           `json:"cost_after_cents"`
	BatchNumber        string          `json:"batch_number,omitempty"`
	SerialNumber       string          `json:"serial_number,omitempty"`
	ExpiryDate         *time.Time      `json:"expiry_date,omitempty"`
	ReversesMovementID *uuid.UUID      `json:"reverses_movement_id,omitempty"`
	CreatedBy          uuid.UUID       `json:"created_by"`
	CreatedAt          time.Time       `json:"created_at"`
}

// SignedQuantity returns the quantity with the direction applied.
func (m Movement) SignedQuantity() decimal.Decimal {
	if m.MovementType == MovementOut {
		return m.Quantity.Neg()
	}
	return m.Quantity
}

// Validate checks required fields and the before/after snapshot invariant.
func (m Movement) Validate() error {
	if m.TenantID == uuid.Nil || m.StockItemID == uuid.Nil {
		return fmt.Errorf("ledger: tenant and stock item required: %w", shared.ErrValidation)
	}
	if m.SourceID == uuid.Nil || m.SourceLineID == uuid.Nil {
		return fmt.Errorf("ledger: source reference required: %w", shared.ErrValidation)
	}
	if !m.SourceType.Valid() {
		return fmt.Errorf("ledger: unknown source type %q: %w", m.SourceType, shared.ErrValidation)
	}
	if m.MovementType != MovementIn && m.MovementType != MovementOut {
		return fmt.Errorf("ledger: unknown movement type %q: %w", m.MovementType, shared.ErrValidation)
	}
	if !m.Quantity.IsPositive() {
		return fmt.Errorf("ledger: quantity must be positive: %w", shared.ErrValidation)
	}
	if m.UnitCostCents < 0 || m.CostBeforeCents < 0 || m.CostAfterCents < 0 {
		return fmt.Errorf("ledger: negative cost: %w", shared.ErrValidation)
	}
	if !m.QuantityBefore.Add(m.SignedQuantity()).Equal(m.QuantityAfter) {
		return fmt.Errorf("ledger: quantity after %s does not follow %s %s %s: %w",
			m.QuantityAfter, m.QuantityBefore, m.MovementType, m.Quantity, shared.ErrValidation)
	}
	return nil
}

// ItemGroup holds the movements of one stock item.
type ItemGroup struct {
	StockItemID uuid.UUID
	Movements   []Movement
}

// GroupByItem groups movements of the given direction by stock item, keeping
// the order in which items first appear.
func GroupByItem(movements []Movement, direction MovementType) []ItemGroup {
	index := make(map[uuid.UUID]int)
	var groups []ItemGroup
	for _, m := range movements {
		if m.MovementType != direction {
			continue
		}
		i, ok := index[m.StockItemID]
		if !ok {
			i = len(groups)
			index[m.StockItemID] = i
			groups = append(groups, ItemGroup{StockItemID: m.StockItemID})
		}
		groups[i].Movements = append(groups[i].Movements, m)
	}
	return groups
}
