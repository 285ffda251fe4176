package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// TxBeginner is implemented by *pgxpool.Pool.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

var (
	writeTx = pgx.TxOptions{IsoLevel: pgx.RepeatableRead}
	readTx  = pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}
)

// WithTx runs fn in a RepeatableRead transaction and commits when fn
// returns nil. Errors pass through MapError, so serialization failures
// surface as shared.ErrConcurrencyConflict.
func WithTx(ctx context.Context, pool TxBeginner, fn func(pgx.Tx) error) error {
	return run(ctx, pool, writeTx, fn)
}

// WithReadTx runs fn against one read-only snapshot.
func WithReadTx(ctx context.Context, pool TxBeginner, fn func(pgx.Tx) error) error {
	return run(ctx, pool, readTx, fn)
}

func run(ctx context.Context, pool TxBeginner, opts pgx.TxOptions, fn func(pgx.Tx) error) error {
	if pool == nil {
		return fmt.Errorf("platform/db: no connection pool")
	}
	tx, err := pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", MapError(err))
	}
	// rollback after commit is a no-op
	defer func() {
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}()

	if err := fn(tx); err != nil {
		return MapError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", MapError(err))
	}
	return nil
}
