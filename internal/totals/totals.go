// Package totals computes line and document money totals in integer cents.
package totals

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// VATMode controls how VAT relates to the line price.
type VATMode string

const (
	VATExclusive VATMode = "EXCLUSIVE"
	VATInclusive VATMode = "INCLUSIVE"
	VATNone      VATMode = "NONE"
)

// DiscountType selects percent or flat discounts.
type DiscountType string

const (
	DiscountPercent DiscountType = "PERCENT"
	DiscountAmount  DiscountType = "AMOUNT"
)

// Discount is an optional line discount. For DiscountAmount, Value is in cents.
type Discount struct {
	Type  DiscountType    `json:"type,omitempty"`
	Value decimal.Decimal `json:"value"`
}

// LineInput is one priced line.
type LineInput struct {
	Quantity       decimal.Decimal
	UnitPriceCents int64
	Discount       Discount
	Taxable        bool
	VATRate        decimal.Decimal
	VATMode        VATMode
}

// LineTotals holds computed amounts. Subtotal excludes VAT.
type LineTotals struct {
	GrossCents    int64 `json:"gross_cents"`
	DiscountCents int64 `json:"discount_cents"`
	SubtotalCents int64 `json:"subtotal_cents"`
	VATCents      int64 `json:"vat_cents"`
	TotalCents    int64 `json:"total_cents"`
}

// DocumentTotals are the rollups of all lines.
type DocumentTotals struct {
	SubtotalCents      int64 `json:"subtotal_cents"`
	DiscountTotalCents int64 `json:"discount_total_cents"`
	VATTotalCents      int64 `json:"vat_total_cents"`
	GrandTotalCents    int64 `json:"grand_total_cents"`
}

var hundred = decimal.NewFromInt(100)

// Line computes totals for one line. Discounts never exceed the gross amount.
func Line(in LineInput) (LineTotals, error) {
	if in.Quantity.IsNegative() || in.UnitPriceCents < 0 {
		return LineTotals{}, fmt.Errorf("totals: negative quantity or price: %w", shared.ErrValidation)
	}
	if in.VATRate.IsNegative() {
		return LineTotals{}, fmt.Errorf("totals: negative vat rate: %w", shared.ErrValidation)
	}
	gross := round(in.Quantity.Mul(decimal.NewFromInt(in.UnitPriceCents)))

	discount, err := discountCents(in.Discount, gross)
	if err != nil {
		return LineTotals{}, err
	}
	net := gross - discount

	out := LineTotals{GrossCents: gross, DiscountCents: discount, SubtotalCents: net, TotalCents: net}
	if !in.Taxable || in.VATRate.IsZero() {
		return out, nil
	}
	netDec := decimal.NewFromInt(net)
	switch in.VATMode {
	case VATExclusive:
		out.VATCents = round(netDec.Mul(in.VATRate).Div(hundred))
		out.TotalCents = net + out.VATCents
	case VATInclusive:
		out.VATCents = round(netDec.Mul(in.VATRate).Div(hundred.Add(in.VATRate)))
		out.SubtotalCents = net - out.VATCents
	case VATNone, "":
	default:
		return LineTotals{}, fmt.Errorf("totals: unknown vat mode %q: %w", in.VATMode, shared.ErrValidation)
	}
	return out, nil
}

// Document sums line totals.
func Document(lines []LineTotals) DocumentTotals {
	var doc DocumentTotals
	for _, l := range lines {
		doc.SubtotalCents += l.SubtotalCents
		doc.DiscountTotalCents += l.DiscountCents
		doc.VATTotalCents += l.VATCents
		doc.GrandTotalCents += l.TotalCents
	}
	return doc
}

func discountCents(d Discount, gross int64) (int64, error) {
	if d.Value.IsZero() {
		return 0, nil
	}
	if d.Value.IsNegative() {
		return 0, fmt.Errorf("totals: negative discount: %w", shared.ErrValidation)
	}
	var amount int64
	switch d.Type {
	case DiscountPercent:
		if d.Value.GreaterThan(hundred) {
			return 0, fmt.Errorf("totals: discount above 100%%: %w", shared.ErrValidation)
		}
		amount = round(decimal.NewFromInt(gross).Mul(d.Value).Div(hundred))
	case DiscountAmount:
		amount = round(d.Value)
	default:
		return 0, fmt.Errorf("totals: unknown discount type %q: %w", d.Type, shared.ErrValidation)
	}
	return min(amount, gross), nil
}

func round(d decimal.Decimal) int64 {
	return d.Round(0).IntPart()
}
