// Package costing computes weighted-average cost for receipts and their reversals.
//
// Quantities are decimals held at QuantityScale places and money is integer
// cents. Every division rounds half-up to whole cents, on both the receive and
// the reverse path, so a receipt followed by its reversal drifts by at most one
// cent.
package costing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// QuantityScale is the number of decimal places kept for quantities.
const QuantityScale = 4

// ErrValidation is returned for negative inputs.
var ErrValidation = shared.ErrValidation

// Position is the stock state of one item.
type Position struct {
	OnHand           decimal.Decimal
	AverageCostCents int64
}

// Receive returns the position after receiving qty units at unitCostCents.
func Receive(cur Position, qty decimal.Decimal, unitCostCents int64) (Position, error) {
	if err := validatePosition(cur); err != nil {
		return Position{}, err
	}
	if qty.IsNegative() {
		return Position{}, fmt.Errorf("costing: received quantity %s: %w", qty, ErrValidation)
	}
	if unitCostCents < 0 {
		return Position{}, fmt.Errorf("costing: unit cost %d: %w", unitCostCents, ErrValidation)
	}
	next := Position{OnHand: cur.OnHand.Add(qty), AverageCostCents: cur.AverageCostCents}
	if !next.OnHand.IsPositive() {
		return next, nil
	}
	value := cur.OnHand.Mul(cents(cur.AverageCostCents)).Add(qty.Mul(cents(unitCostCents)))
	next.AverageCostCents = roundCents(value.DivRound(next.OnHand, 0))
	return next, nil
}

// Original is one IN movement being reversed.
type Original struct {
	Quantity      decimal.Decimal
	UnitCostCents int64
}

// Part is the reversal share of one original movement, with the running
// snapshots for its OUT ledger entry.
type Part struct {
	Quantity        decimal.Decimal
	QuantityBefore  decimal.Decimal
	QuantityAfter   decimal.Decimal
	CostBeforeCents int64
	CostAfterCents  int64
}

// IsZero reports whether the part moves nothing and needs no ledger entry.
func (p Part) IsZero() bool {
	return p.Quantity.IsZero()
}

// Reversal is the outcome of reversing one document's movements for one item.
type Reversal struct {
	Quantity decimal.Decimal
	Position Position
	// Parts is index-aligned with the originals passed to Reverse.
	Parts []Part
}

// Reverse undoes originals against the current position. The reversed
// quantity is capped at what is still on hand, so the result never goes
// negative. An empty shelf keeps its last known cost.
func Reverse(cur Position, originals []Original) (Reversal, error) {
	if err := validatePosition(cur); err != nil {
		return Reversal{}, err
	}
	total := decimal.Zero
	totalCost := decimal.Zero
	for i, o := range originals {
		if o.Quantity.IsNegative() || o.UnitCostCents < 0 {
			return Reversal{}, fmt.Errorf("costing: original %d: %w", i, ErrValidation)
		}
		total = total.Add(o.Quantity)
		totalCost = totalCost.Add(o.Quantity.Mul(cents(o.UnitCostCents)))
	}

	qty := decimal.Min(cur.OnHand, total)
	if qty.IsNegative() {
		qty = decimal.Zero
	}
	next := Position{OnHand: cur.OnHand.Sub(qty), AverageCostCents: cur.AverageCostCents}

	if qty.IsPositive() && next.OnHand.IsPositive() && total.IsPositive() {
		reversalValue := qty.Mul(totalCost).DivRound(total, 0)
		stockValue := cur.OnHand.Mul(cents(cur.AverageCostCents)).Sub(reversalValue)
		if stockValue.IsNegative() {
			stockValue = decimal.Zero
		}
		next.AverageCostCents = max(0, roundCents(stockValue.DivRound(next.OnHand, 0)))
	}

	shares := Apportion(originals, qty, total)
	parts := make([]Part, len(originals))
	running := cur.OnHand
	costBefore := cur.AverageCostCents
	for i, share := range shares {
		if share.IsZero() {
			parts[i] = Part{Quantity: share, QuantityBefore: running, QuantityAfter: running, CostBeforeCents: costBefore, CostAfterCents: costBefore}
			continue
		}
		after := running.Sub(share)
		parts[i] = Part{
			Quantity:        share,
			QuantityBefore:  running,
			QuantityAfter:   after,
			CostBeforeCents: costBefore,
			CostAfterCents:  next.AverageCostCents,
		}
		running = after
		costBefore = next.AverageCostCents
	}
	return Reversal{Quantity: qty, Position: next, Parts: parts}, nil
}

// Apportion splits qty across originals in proportion to their quantities,
// rounding each share half-up to QuantityScale. The last original absorbs the
// rounding remainder so the shares sum to qty exactly.
func Apportion(originals []Original, qty, total decimal.Decimal) []decimal.Decimal {
	shares := make([]decimal.Decimal, len(originals))
	if len(originals) == 0 {
		return shares
	}
	if !qty.IsPositive() || !total.IsPositive() {
		for i := range shares {
			shares[i] = decimal.Zero
		}
		return shares
	}
	allocated := decimal.Zero
	last := len(originals) - 1
	for i := 0; i < last; i++ {
		share := originals[i].Quantity.Mul(qty).DivRound(total, QuantityScale)
		if remaining := qty.Sub(allocated); share.GreaterThan(remaining) {
			share = remaining
		}
		shares[i] = share
		allocated = allocated.Add(share)
	}
	shares[last] = qty.Sub(allocated)
	return shares
}

func validatePosition(p Position) error {
	if p.OnHand.IsNegative() {
		return fmt.Errorf("costing: on hand %s: %w", p.OnHand, ErrValidation)
	}
	if p.AverageCostCents < 0 {
		return fmt.Errorf("costing: average cost %d: %w", p.AverageCostCents, ErrValidation)
	}
	return nil
}

func cents(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func roundCents(d decimal.Decimal) int64 {
	return d.Round(0).IntPart()
}
