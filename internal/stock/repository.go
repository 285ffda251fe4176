package stock

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/stockledger/internal/platform/db"
)

// Repository persists items in PostgreSQL.
type Repository struct {
	db        db.DBTX
	forUpdate bool
}

// NewRepository constructs Repository over a pool or transaction.
func NewRepository(conn db.DBTX) *Repository {
	return &Repository{db: conn}
}

// ForUpdate returns a repository whose reads lock the row until the
// surrounding transaction ends.
func (r *Repository) ForUpdate() *Repository {
	return &Repository{db: r.db, forUpdate: true}
}

const itemColumns = `id, tenant_id, sku, name, on_hand, average_cost_cents, active, created_at, updated_at`

// Get loads one item.
func (r *Repository) Get(ctx context.Context, tenantID, itemID uuid.UUID) (Item, error) {
	if r == nil {
		return Item{}, errors.New("stock repository not initialised")
	}
	query := `SELECT ` + itemColumns + ` FROM stock_items WHERE tenant_id=$1 AND id=$2`
	if r.forUpdate {
		query += ` FOR UPDATE`
	}
	item, err := scanItem(r.db.QueryRow(ctx, query, tenantID, itemID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, fmt.Errorf("stock: item %s: %w", itemID, ErrNotFound)
	}
	if err != nil {
		return Item{}, err
	}
	return item, nil
}

// ApplyDelta increments on hand and sets the average cost in one statement,
// guarded by the expected position.
func (r *Repository) ApplyDelta(ctx context.Context, d Delta) (Item, error) {
	if r == nil {
		return Item{}, errors.New("stock repository not initialised")
	}
	if err := d.Validate(); err != nil {
		return Item{}, err
	}
	item, err := scanItem(r.db.QueryRow(ctx, `UPDATE stock_items
SET on_hand = on_hand + $3, average_cost_cents = $4, updated_at = NOW()
WHERE tenant_id=$1 AND id=$2 AND on_hand=$5 AND average_cost_cents=$6
RETURNING `+itemColumns, d.TenantID, d.ItemID, d.QtyDelta, d.NewAverageCostCents, d.Expected.OnHand, d.Expected.AverageCostCents))
	if err == nil {
		return item, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Item{}, fmt.Errorf("stock: apply delta: %w", db.MapError(err))
	}
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM stock_items WHERE tenant_id=$1 AND id=$2)`, d.TenantID, d.ItemID).Scan(&exists); err != nil {
		return Item{}, err
	}
	if !exists {
		return Item{}, fmt.Errorf("stock: item %s: %w", d.ItemID, ErrNotFound)
	}
	return Item{}, fmt.Errorf("stock: item %s changed concurrently: %w", d.ItemID, ErrConcurrencyConflict)
}

// Create inserts an item. Item management lives elsewhere; this exists for
// seeding opening balances.
func (r *Repository) Create(ctx context.Context, item Item) (Item, error) {
	if r == nil {
		return Item{}, errors.New("stock repository not initialised")
	}
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	created, err := scanItem(r.db.QueryRow(ctx, `INSERT INTO stock_items (id, tenant_id, sku, name, on_hand, average_cost_cents, active)
VALUES ($1,$2,$3,$4,$5,$6,TRUE)
RETURNING `+itemColumns, item.ID, item.TenantID, item.SKU, item.Name, item.OnHand, item.AverageCostCents))
	if err != nil {
		return Item{}, fmt.Errorf("stock: create: %w", db.MapError(err))
	}
	return created, nil
}

// ListActive returns active items for a tenant, or for every tenant when
// tenantID is nil.
func (r *Repository) ListActive(ctx context.Context, tenantID uuid.UUID) ([]Item, error) {
	if r == nil {
		return nil, errors.New("stock repository not initialised")
	}
	rows, err := r.db.Query(ctx, `SELECT `+itemColumns+` FROM stock_items
WHERE active AND ($1::uuid IS NULL OR tenant_id=$1)
ORDER BY tenant_id, sku`, nullUUID(tenantID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []Item{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanItem(row pgx.Row) (Item, error) {
	var item Item
	err := row.Scan(&item.ID, &item.TenantID, &item.SKU, &item.Name, &item.OnHand, &item.AverageCostCents, &item.Active, &item.CreatedAt, &item.UpdatedAt)
	return item, err
}

func nullUUID(id uuid.UUID) any {
	if id == uuid.Nil {
		return nil
	}
	return id
}
