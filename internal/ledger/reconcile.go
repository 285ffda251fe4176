package ledger

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Discrepancy kinds reported by Reconcile.
const (
	DiscrepancySnapshot = "snapshot"
	DiscrepancyChain    = "chain"
	DiscrepancyBalance  = "balance"
)

// Discrepancy describes one inconsistency between movements and stock.
type Discrepancy struct {
	Kind       string    `json:"kind"`
	MovementID uuid.UUID `json:"movement_id,omitempty"`
	Detail     string    `json:"detail"`
}

// Report is the outcome of reconciling one item.
type Report struct {
	StockItemID   uuid.UUID     `json:"stock_item_id"`
	Checked       int           `json:"checked"`
	Discrepancies []Discrepancy `json:"discrepancies"`
}

// OK reports whether no discrepancy was found.
func (r Report) OK() bool {
	return len(r.Discrepancies) == 0
}

// Reconcile checks movements of one item, in ledger order, against its
// current on-hand quantity. Every movement must satisfy its own snapshot
// invariant, each must start where the previous one ended, and the last one
// must end at onHand.
func Reconcile(itemID uuid.UUID, onHand decimal.Decimal, movements []Movement) Report {
	report := Report{StockItemID: itemID, Checked: len(movements)}
	for i, m := range movements {
		if !m.QuantityBefore.Add(m.SignedQuantity()).Equal(m.QuantityAfter) {
			report.Discrepancies = append(report.Discrepancies, Discrepancy{
				Kind:       DiscrepancySnapshot,
				MovementID: m.ID,
				Detail:     fmt.Sprintf("%s %s %s != %s", m.QuantityBefore, m.MovementType, m.Quantity, m.QuantityAfter),
			})
		}
		if i > 0 {
			prev := movements[i-1]
			if !prev.QuantityAfter.Equal(m.QuantityBefore) {
				report.Discrepancies = append(report.Discrepancies, Discrepancy{
					Kind:       DiscrepancyChain,
					MovementID: m.ID,
					Detail:     fmt.Sprintf("starts at %s, previous ended at %s", m.QuantityBefore, prev.QuantityAfter),
				})
			}
		}
	}
	if n := len(movements); n > 0 && !movements[n-1].QuantityAfter.Equal(onHand) {
		report.Discrepancies = append(report.Discrepancies, Discrepancy{
			Kind:       DiscrepancyBalance,
			MovementID: movements[n-1].ID,
			Detail:     fmt.Sprintf("ledger ends at %s, stock on hand is %s", movements[n-1].QuantityAfter, onHand),
		})
	}
	return report
}
