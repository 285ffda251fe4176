package stock

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/stockledger/internal/ledger"
	"github.com/odyssey-erp/stockledger/internal/platform/db"
)

// ItemReader loads items.
type ItemReader interface {
	Get(ctx context.Context, tenantID, itemID uuid.UUID) (Item, error)
}

// MovementReader lists an item's movements.
type MovementReader interface {
	ListByItem(ctx context.Context, tenantID, itemID uuid.UUID, filter ledger.ItemFilter) ([]ledger.Movement, error)
}

// Reader runs fn against one consistent snapshot of items and movements.
type Reader interface {
	ReadSnapshot(ctx context.Context, fn func(context.Context, ItemReader, MovementReader) error) error
}

// ReconcileLimit bounds the movements loaded for one reconciliation. Only the
// newest window is checked.
const ReconcileLimit = 100_000

// Service exposes read-side stock operations.
type Service struct {
	reader         Reader
	logger         *slog.Logger
	reconcileLimit int
}

// NewService constructs Service.
func NewService(reader Reader, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{reader: reader, logger: logger, reconcileLimit: ReconcileLimit}
}

// Get returns one item.
func (s *Service) Get(ctx context.Context, tenantID, itemID uuid.UUID) (Item, error) {
	var item Item
	err := s.reader.ReadSnapshot(ctx, func(ctx context.Context, items ItemReader, _ MovementReader) error {
		var err error
		item, err = items.Get(ctx, tenantID, itemID)
		return err
	})
	return item, err
}

// StockCard returns the item together with its movements.
func (s *Service) StockCard(ctx context.Context, tenantID, itemID uuid.UUID, filter ledger.ItemFilter) (Item, []ledger.Movement, error) {
	var item Item
	var movements []ledger.Movement
	err := s.reader.ReadSnapshot(ctx, func(ctx context.Context, items ItemReader, moves MovementReader) error {
		var err error
		if item, err = items.Get(ctx, tenantID, itemID); err != nil {
			return err
		}
		movements, err = moves.ListByItem(ctx, tenantID, itemID, filter)
		return err
	})
	if err != nil {
		return Item{}, nil, err
	}
	return item, movements, nil
}

// Reconcile checks the item's ledger chain against its on-hand quantity.
func (s *Service) Reconcile(ctx context.Context, tenantID, itemID uuid.UUID) (ledger.Report, error) {
	item, movements, err := s.StockCard(ctx, tenantID, itemID, ledger.ItemFilter{Limit: s.reconcileLimit, Latest: true})
	if err != nil {
		return ledger.Report{}, fmt.Errorf("stock: reconcile %s: %w", itemID, err)
	}
	report := ledger.Reconcile(item.ID, item.OnHand, movements)
	if !report.OK() {
		s.logger.Error("ledger out of balance",
			slog.String("tenant_id", tenantID.String()),
			slog.String("stock_item_id", itemID.String()),
			slog.Int("discrepancies", len(report.Discrepancies)),
		)
	}
	return report, nil
}

// PostgresReader reads inside a repeatable-read transaction.
type PostgresReader struct {
	pool db.TxBeginner
}

// NewPostgresReader constructs PostgresReader.
func NewPostgresReader(pool db.TxBeginner) *PostgresReader {
	return &PostgresReader{pool: pool}
}

// ReadSnapshot implements Reader.
func (r *PostgresReader) ReadSnapshot(ctx context.Context, fn func(context.Context, ItemReader, MovementReader) error) error {
	return db.WithReadTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewRepository(tx), ledger.NewRepository(tx))
	})
}
