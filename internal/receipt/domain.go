// Package receipt implements the goods-received voucher (GRV) lifecycle:
// Draft, Posted, Cancelled. Posting and cancelling drive weighted-average
// costing and append to the movement ledger in one transaction.
package receipt

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/costing"
	"github.com/odyssey-erp/stockledger/internal/shared"
	"github.com/odyssey-erp/stockledger/internal/totals"
)

// Status is the receipt lifecycle state.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusPosted    Status = "POSTED"
	StatusCancelled Status = "CANCELLED"
)

var (
	// ErrInvalidState indicates the operation is not allowed in the current status.
	ErrInvalidState = shared.ErrInvalidState
	// ErrNotFound indicates a missing receipt or stock item.
	ErrNotFound = shared.ErrNotFound
	// ErrValidation indicates invalid receipt data.
	ErrValidation = shared.ErrValidation
	// ErrNothingToReverse indicates a posted receipt without movements.
	ErrNothingToReverse = shared.ErrNothingToReverse
	// ErrConcurrencyConflict indicates a lost race; safe to retry.
	ErrConcurrencyConflict = shared.ErrConcurrencyConflict
)

// Receipt is a goods-received voucher.
type Receipt struct {
	ID                 uuid.UUID  `json:"id"`
	TenantID           uuid.UUID  `json:"tenant_id"`
	Number             string     `json:"number"`
	Sequence           int64      `json:"sequence"`
	SupplierID         uuid.UUID  `json:"supplier_id"`
	LocationID         string     `json:"location_id,omitempty"`
	LocationName       string     `json:"location_name,omitempty"`
	Reference          string     `json:"reference,omitempty"`
	Note               string     `json:"note,omitempty"`
	Status             Status     `json:"status"`
	SubtotalCents      int64      `json:"subtotal_cents"`
	DiscountTotalCents int64      `json:"discount_total_cents"`
	VATTotalCents      int64      `json:"vat_total_cents"`
	GrandTotalCents    int64      `json:"grand_total_cents"`
	Lines              []Line     `json:"lines"`
	CreatedBy          uuid.UUID  `json:"created_by"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	PostedBy           *uuid.UUID `json:"posted_by,omitempty"`
	PostedAt           *time.Time `json:"posted_at,omitempty"`
	CancelledBy        *uuid.UUID `json:"cancelled_by,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	DeletedAt          *time.Time `json:"-"`
}

// Line is one received stock item.
type Line struct {
	ID            uuid.UUID       `json:"id"`
	ReceiptID     uuid.UUID       `json:"receipt_id"`
	LineNo        int             `json:"line_no"`
	StockItemID   uuid.UUID       `json:"stock_item_id"`
	ReceivedQty   decimal.Decimal `json:"received_qty"`
	UnitCostCents int64           `json:"unit_cost_cents"`
	Discount      totals.Discount `json:"discount"`
	Taxable       bool            `json:"taxable"`
	VATRate       decimal.Decimal `json:"vat_rate"`
	VATMode       totals.VATMode  `json:"vat_mode"`
	BatchNumber   string          `json:"batch_number,omitempty"`
	SerialNumber  string          `json:"serial_number,omitempty"`
	ExpiryDate    *time.Time      `json:"expiry_date,omitempty"`
	SubtotalCents int64           `json:"subtotal_cents"`
	DiscountCents int64           `json:"discount_cents"`
	VATCents      int64           `json:"vat_cents"`
	TotalCents    int64           `json:"total_cents"`
}

// LineInput is caller-supplied line data.
type LineInput struct {
	StockItemID   uuid.UUID
	ReceivedQty   decimal.Decimal
	UnitCostCents int64
	Discount      totals.Discount
	Taxable       bool
	VATRate       decimal.Decimal
	VATMode       totals.VATMode
	BatchNumber   string
	SerialNumber  string
	ExpiryDate    *time.Time
}

// Header is the editable part of a receipt.
type Header struct {
	SupplierID   uuid.UUID
	LocationID   string
	LocationName string
	Reference    string
	Note         string
}

// CreateInput describes a new draft receipt.
type CreateInput struct {
	TenantID       uuid.UUID
	ActorID        uuid.UUID
	IdempotencyKey string
	Header
	Lines []LineInput
}

// UpdateInput replaces the header and lines of a draft.
type UpdateInput struct {
	TenantID uuid.UUID
	ActorID  uuid.UUID
	Header
	Lines []LineInput
}

// ListFilter narrows receipt listings.
type ListFilter struct {
	TenantID uuid.UUID
	Status   Status
	Page     int
	PerPage  int
}

// Validate checks a line. Defaults are resolved here and nowhere else.
func (in *LineInput) Validate(lineNo int) error {
	if in.StockItemID == uuid.Nil {
		return fmt.Errorf("receipt: line %d: stock item required: %w", lineNo, ErrValidation)
	}
	if in.ReceivedQty.IsNegative() {
		return fmt.Errorf("receipt: line %d: received quantity must not be negative: %w", lineNo, ErrValidation)
	}
	if !in.ReceivedQty.Equal(in.ReceivedQty.Truncate(costing.QuantityScale)) {
		return fmt.Errorf("receipt: line %d: quantity has more than %d decimals: %w", lineNo, costing.QuantityScale, ErrValidation)
	}
	if in.UnitCostCents < 0 {
		return fmt.Errorf("receipt: line %d: unit cost must not be negative: %w", lineNo, ErrValidation)
	}
	if in.VATMode == "" {
		in.VATMode = totals.VATNone
	}
	if in.Discount.Type == "" && !in.Discount.Value.IsZero() {
		in.Discount.Type = totals.DiscountPercent
	}
	return nil
}

// buildLines validates inputs and prices each line.
func buildLines(receiptID uuid.UUID, inputs []LineInput) ([]Line, totals.DocumentTotals, error) {
	lines := make([]Line, 0, len(inputs))
	priced := make([]totals.LineTotals, 0, len(inputs))
	for i := range inputs {
		in := inputs[i]
		lineNo := i + 1
		if err := in.Validate(lineNo); err != nil {
			return nil, totals.DocumentTotals{}, err
		}
		lt, err := totals.Line(totals.LineInput{
			Quantity:       in.ReceivedQty,
			UnitPriceCents: in.UnitCostCents,
			Discount:       in.Discount,
			Taxable:        in.Taxable,
			VATRate:        in.VATRate,
			VATMode:        in.VATMode,
		})
		if err != nil {
			return nil, totals.DocumentTotals{}, fmt.Errorf("receipt: line %d: %w", lineNo, err)
		}
		priced = append(priced, lt)
		lines = append(lines, Line{
			ID:            uuid.New(),
			ReceiptID:     receiptID,
			LineNo:        lineNo,
			StockItemID:   in.StockItemID,
			ReceivedQty:   in.ReceivedQty,
			UnitCostCents: in.UnitCostCents,
			Discount:      in.Discount,
			Taxable:       in.Taxable,
			VATRate:       in.VATRate,
			VATMode:       in.VATMode,
			BatchNumber:   in.BatchNumber,
			SerialNumber:  in.SerialNumber,
			ExpiryDate:    in.ExpiryDate,
			SubtotalCents: lt.SubtotalCents,
			DiscountCents: lt.DiscountCents,
			VATCents:      lt.VATCents,
			TotalCents:    lt.TotalCents,
		})
	}
	return lines, totals.Document(priced), nil
}

func (r *Receipt) applyTotals(doc totals.DocumentTotals) {
	r.SubtotalCents = doc.SubtotalCents
	r.DiscountTotalCents = doc.DiscountTotalCents
	r.VATTotalCents = doc.VATTotalCents
	r.GrandTotalCents = doc.GrandTotalCents
}

func (r *Receipt) applyHeader(h Header) {
	r.SupplierID = h.SupplierID
	r.LocationID = h.LocationID
	r.LocationName = h.LocationName
	r.Reference = h.Reference
	r.Note = h.Note
}

// readyToPost checks the posting preconditions that do not need storage.
func (r Receipt) readyToPost() error {
	if r.SupplierID == uuid.Nil {
		return fmt.Errorf("receipt %s: supplier required: %w", r.Number, ErrValidation)
	}
	if len(r.Lines) == 0 {
		return fmt.Errorf("receipt %s: at least one line required: %w", r.Number, ErrValidation)
	}
	return nil
}
