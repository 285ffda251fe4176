package ledger

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/stockledger/internal/platform/db"
)

// Repository persists movements in PostgreSQL. It accepts a pool or a
// transaction.
type Repository struct {
	db db.DBTX
}

// NewRepository constructs Repository.
func NewRepository(conn db.DBTX) *Repository {
	return &Repository{db: conn}
}

const movementColumns = `id, tenant_id, stock_item_id, location_id, location_name, source_type, source_id, source_line_id,
movement_type, quantity, unit_cost_cents, quantity_before, quantity_after, cost_before_cents, cost_after_cents,
batch_number, serial_number, expiry_date, reverses_movement_id, created_by, created_at`

// Append validates and inserts one movement.
func (r *Repository) Append(ctx context.Context, m Movement) (Movement, error) {
	if r == nil {
		return Movement{}, errors.New("ledger repository not initialised")
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if err := m.Validate(); err != nil {
		return Movement{}, err
	}
	err := r.db.QueryRow(ctx, `INSERT INTO inventory_movements (`+movementColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,NOW())
RETURNING created_at`,
		m.ID, m.TenantID, m.StockItemID, m.LocationID, m.LocationName, string(m.SourceType), m.SourceID, m.SourceLineID,
		string(m.MovementType), m.Quantity, m.UnitCostCents, m.QuantityBefore, m.QuantityAfter, m.CostBeforeCents, m.CostAfterCents,
		m.BatchNumber, m.SerialNumber, m.ExpiryDate, m.ReversesMovementID, nullUUID(m.CreatedBy)).Scan(&m.CreatedAt)
	if err != nil {
		return Movement{}, fmt.Errorf("ledger: append: %w", db.MapError(err))
	}
	return m, nil
}

// ListBySource returns the movements of one document in ledger order.
func (r *Repository) ListBySource(ctx context.Context, tenantID uuid.UUID, source SourceType, sourceID uuid.UUID) ([]Movement, error) {
	if r == nil {
		return nil, errors.New("ledger repository not initialised")
	}
	rows, err := r.db.Query(ctx, `SELECT `+movementColumns+` FROM inventory_movements
WHERE tenant_id=$1 AND source_type=$2 AND source_id=$3
ORDER BY seq ASC`, tenantID, string(source), sourceID)
	if err != nil {
		return nil, err
	}
	return scanMovements(rows)
}

// ListByItem returns the stock card of one item in ledger order.
func (r *Repository) ListByItem(ctx context.Context, tenantID, itemID uuid.UUID, filter ItemFilter) ([]Movement, error) {
	if r == nil {
		return nil, errors.New("ledger repository not initialised")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultItemLimit
	}
	order := "ASC"
	if filter.Latest {
		order = "DESC"
	}
	rows, err := r.db.Query(ctx, `SELECT `+movementColumns+` FROM inventory_movements
WHERE tenant_id=$1 AND stock_item_id=$2
  AND created_at BETWEEN COALESCE($3, '-infinity'::timestamptz) AND COALESCE($4, 'infinity'::timestamptz)
ORDER BY seq `+order+`
LIMIT $5`, tenantID, itemID, nullTime(filter.From), nullTime(filter.To), limit)
	if err != nil {
		return nil, err
	}
	movements, err := scanMovements(rows)
	if err != nil || !filter.Latest {
		return movements, err
	}
	slices.Reverse(movements)
	return movements, nil
}

func scanMovements(rows pgx.Rows) ([]Movement, error) {
	defer rows.Close()
	movements := []Movement{}
	for rows.Next() {
		var m Movement
		var source, direction string
		if err := rows.Scan(&m.ID, &m.TenantID, &m.StockItemID, &m.LocationID, &m.LocationName, &source, &m.SourceID, &m.SourceLineID,
			&direction, &m.Quantity, &m.UnitCostCents, &m.QuantityBefore, &m.QuantityAfter, &m.CostBeforeCents, &m.CostAfterCents,
			&m.BatchNumber, &m.SerialNumber, &m.ExpiryDate, &m.ReversesMovementID, &m.CreatedBy, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.SourceType = SourceType(source)
		m.MovementType = MovementType(direction)
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return movements, nil
}

func nullUUID(id uuid.UUID) any {
	if id == uuid.Nil {
		return nil
	}
	return id
}
