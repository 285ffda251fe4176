package receipt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/stockledger/internal/ledger"
	"github.com/odyssey-erp/stockledger/internal/platform/db"
	"github.com/odyssey-erp/stockledger/internal/stock"
	"github.com/odyssey-erp/stockledger/internal/totals"
)

// Repository persists receipts in PostgreSQL.
type Repository struct {
	pool db.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool db.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

const receiptColumns = `id, tenant_id, number, sequence, supplier_id, location_id, location_name, reference, note, status,
subtotal_cents, discount_total_cents, vat_total_cents, grand_total_cents,
created_by, created_at, updated_at, posted_by, posted_at, cancelled_by, cancelled_at`

const lineColumns = `id, receipt_id, line_no, stock_item_id, received_qty, unit_cost_cents, discount_type, discount_value,
taxable, vat_rate, vat_mode, batch_number, serial_number, expiry_date, subtotal_cents, discount_cents, vat_cents, total_cents`

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("receipt repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// Get returns a receipt with its lines.
func (r *Repository) Get(ctx context.Context, tenantID, id uuid.UUID) (Receipt, error) {
	if r == nil {
		return Receipt{}, errors.New("receipt repository not initialised")
	}
	return getReceipt(ctx, r.pool, tenantID, id, false)
}

// List returns one page of receipts without lines, newest first.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Receipt, int, error) {
	if r == nil {
		return nil, 0, errors.New("receipt repository not initialised")
	}
	status := any(nil)
	if filter.Status != "" {
		status = string(filter.Status)
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM receipts
WHERE tenant_id=$1 AND deleted_at IS NULL AND ($2::text IS NULL OR status=$2)`, filter.TenantID, status).Scan(&total); err != nil {
		return nil, 0, err
	}
	offset := (filter.Page - 1) * filter.PerPage
	if offset < 0 {
		offset = 0
	}
	rows, err := r.pool.Query(ctx, `SELECT `+receiptColumns+` FROM receipts
WHERE tenant_id=$1 AND deleted_at IS NULL AND ($2::text IS NULL OR status=$2)
ORDER BY sequence DESC
LIMIT $3 OFFSET $4`, filter.TenantID, status, filter.PerPage, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := []Receipt{}
	for rows.Next() {
		rec, err := scanReceipt(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// MaxSequences returns the highest sequence issued per tenant, soft-deleted
// drafts included.
func (r *Repository) MaxSequences(ctx context.Context) (map[uuid.UUID]int64, error) {
	if r == nil {
		return nil, errors.New("receipt repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT tenant_id, MAX(sequence) FROM receipts GROUP BY tenant_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[uuid.UUID]int64)
	for rows.Next() {
		var tenantID uuid.UUID
		var seq int64
		if err := rows.Scan(&tenantID, &seq); err != nil {
			return nil, err
		}
		out[tenantID] = seq
	}
	return out, rows.Err()
}

// ListMovements returns the ledger entries one receipt produced under source.
func (r *Repository) ListMovements(ctx context.Context, tenantID uuid.UUID, source ledger.SourceType, id uuid.UUID) ([]ledger.Movement, error) {
	if r == nil {
		return nil, errors.New("receipt repository not initialised")
	}
	return ledger.NewRepository(r.pool).ListBySource(ctx, tenantID, source, id)
}

func (t *txRepo) GetForUpdate(ctx context.Context, tenantID, id uuid.UUID) (Receipt, error) {
	return getReceipt(ctx, t.tx, tenantID, id, true)
}

func (t *txRepo) Insert(ctx context.Context, rec Receipt) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO receipts (id, tenant_id, number, sequence, supplier_id, location_id, location_name, reference, note, status,
subtotal_cents, discount_total_cents, vat_total_cents, grand_total_cents, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		rec.ID, rec.TenantID, rec.Number, rec.Sequence, nullUUID(rec.SupplierID), rec.LocationID, rec.LocationName, rec.Reference, rec.Note, string(rec.Status),
		rec.SubtotalCents, rec.DiscountTotalCents, rec.VATTotalCents, rec.GrandTotalCents, nullUUID(rec.CreatedBy), rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("receipt: insert: %w", db.MapError(err))
	}
	return t.insertLines(ctx, rec.Lines)
}

func (t *txRepo) UpdateDraft(ctx context.Context, rec Receipt) error {
	tag, err := t.tx.Exec(ctx, `UPDATE receipts
SET supplier_id=$3, location_id=$4, location_name=$5, reference=$6, note=$7,
    subtotal_cents=$8, discount_total_cents=$9, vat_total_cents=$10, grand_total_cents=$11, updated_at=$12
WHERE tenant_id=$1 AND id=$2 AND status='DRAFT' AND deleted_at IS NULL`,
		rec.TenantID, rec.ID, nullUUID(rec.SupplierID), rec.LocationID, rec.LocationName, rec.Reference, rec.Note,
		rec.SubtotalCents, rec.DiscountTotalCents, rec.VATTotalCents, rec.GrandTotalCents, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("receipt: update: %w", db.MapError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("receipt %s is no longer a draft: %w", rec.Number, ErrConcurrencyConflict)
	}
	if _, err := t.tx.Exec(ctx, `DELETE FROM receipt_lines WHERE receipt_id=$1`, rec.ID); err != nil {
		return fmt.Errorf("receipt: replace lines: %w", db.MapError(err))
	}
	return t.insertLines(ctx, rec.Lines)
}

func (t *txRepo) Transition(ctx context.Context, tr Transition) error {
	var query string
	switch tr.To {
	case StatusPosted:
		query = `UPDATE receipts SET status=$4, posted_by=$5, posted_at=$6, updated_at=$6
WHERE tenant_id=$1 AND id=$2 AND status=$3 AND deleted_at IS NULL`
	case StatusCancelled:
		query = `UPDATE receipts SET status=$4, cancelled_by=$5, cancelled_at=$6, updated_at=$6
WHERE tenant_id=$1 AND id=$2 AND status=$3 AND deleted_at IS NULL`
	default:
		return fmt.Errorf("receipt: cannot transition to %s: %w", tr.To, ErrInvalidState)
	}
	tag, err := t.tx.Exec(ctx, query, tr.TenantID, tr.ReceiptID, string(tr.From), string(tr.To), nullUUID(tr.ActorID), tr.At)
	if err != nil {
		return fmt.Errorf("receipt: transition: %w", db.MapError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("receipt %s left %s concurrently: %w", tr.ReceiptID, tr.From, ErrConcurrencyConflict)
	}
	return nil
}

func (t *txRepo) SoftDelete(ctx context.Context, tenantID, id uuid.UUID, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `UPDATE receipts SET deleted_at=$3, updated_at=$3
WHERE tenant_id=$1 AND id=$2 AND status='DRAFT' AND deleted_at IS NULL`, tenantID, id, at)
	if err != nil {
		return fmt.Errorf("receipt: delete: %w", db.MapError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("receipt %s is no longer a draft: %w", id, ErrConcurrencyConflict)
	}
	return nil
}

func (t *txRepo) Stock() stock.Store {
	return stock.NewRepository(t.tx).ForUpdate()
}

func (t *txRepo) Ledger() ledger.Ledger {
	return ledger.NewRepository(t.tx)
}

func (t *txRepo) insertLines(ctx context.Context, lines []Line) error {
	if len(lines) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, l := range lines {
		batch.Queue(`INSERT INTO receipt_lines (`+lineColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
			l.ID, l.ReceiptID, l.LineNo, l.StockItemID, l.ReceivedQty, l.UnitCostCents, string(l.Discount.Type), l.Discount.Value,
			l.Taxable, l.VATRate, string(l.VATMode), l.BatchNumber, l.SerialNumber, l.ExpiryDate,
			l.SubtotalCents, l.DiscountCents, l.VATCents, l.TotalCents)
	}
	results := t.tx.SendBatch(ctx, batch)
	for range lines {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("receipt: insert lines: %w", db.MapError(err))
		}
	}
	return results.Close()
}

func getReceipt(ctx context.Context, conn db.DBTX, tenantID, id uuid.UUID, forUpdate bool) (Receipt, error) {
	query := `SELECT ` + receiptColumns + ` FROM receipts WHERE tenant_id=$1 AND id=$2 AND deleted_at IS NULL`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	rec, err := scanReceipt(conn.QueryRow(ctx, query, tenantID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Receipt{}, fmt.Errorf("receipt %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Receipt{}, err
	}
	rows, err := conn.Query(ctx, `SELECT `+lineColumns+` FROM receipt_lines WHERE receipt_id=$1 ORDER BY line_no`, id)
	if err != nil {
		return Receipt{}, err
	}
	defer rows.Close()
	rec.Lines = []Line{}
	for rows.Next() {
		var l Line
		var discountType, vatMode string
		if err := rows.Scan(&l.ID, &l.ReceiptID, &l.LineNo, &l.StockItemID, &l.ReceivedQty, &l.UnitCostCents, &discountType, &l.Discount.Value,
			&l.Taxable, &l.VATRate, &vatMode, &l.BatchNumber, &l.SerialNumber, &l.ExpiryDate,
			&l.SubtotalCents, &l.DiscountCents, &l.VATCents, &l.TotalCents); err != nil {
			return Receipt{}, err
		}
		l.Discount.Type = totals.DiscountType(discountType)
		l.VATMode = totals.VATMode(vatMode)
		rec.Lines = append(rec.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return Receipt{}, err
	}
	return rec, nil
}

func scanReceipt(row pgx.Row) (Receipt, error) {
	var rec Receipt
	var status string
	err := row.Scan(&rec.ID, &rec.TenantID, &rec.Number, &rec.Sequence, &rec.SupplierID, &rec.LocationID, &rec.LocationName, &rec.Reference, &rec.Note, &status,
		&rec.SubtotalCents, &rec.DiscountTotalCents, &rec.VATTotalCents, &rec.GrandTotalCents,
		&rec.CreatedBy, &rec.CreatedAt, &rec.UpdatedAt, &rec.PostedBy, &rec.PostedAt, &rec.CancelledBy, &rec.CancelledAt)
	rec.Status = Status(status)
	return rec, err
}

func nullUUID(id uuid.UUID) any {
	if id == uuid.Nil {
		return nil
	}
	return id
}
