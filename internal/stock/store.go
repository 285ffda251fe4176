package stock

import (
	"context"

	"github.com/google/uuid"
)

// Store reads items and applies deltas. ApplyDelta is a single atomic
// compare-and-swap: it fails with ErrNotFound when the item is missing and
// with ErrConcurrencyConflict when the item no longer matches Delta.Expected.
type Store interface {
	Get(ctx context.Context, tenantID, itemID uuid.UUID) (Item, error)
	ApplyDelta(ctx context.Context, delta Delta) (Item, error)
}
