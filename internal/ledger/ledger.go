package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Ledger appends and reads movements. There is no update or delete.
type Ledger interface {
	Append(ctx context.Context, m Movement) (Movement, error)
	ListBySource(ctx context.Context, tenantID uuid.UUID, source SourceType, sourceID uuid.UUID) ([]Movement, error)
	ListByItem(ctx context.Context, tenantID, itemID uuid.UUID, filter ItemFilter) ([]Movement, error)
}

// ItemFilter narrows a stock card listing.
type ItemFilter struct {
	From  time.Time
	To    time.Time
	Limit int
	// Latest keeps the newest Limit movements instead of the oldest. The
	// result is still in ledger order.
	Latest bool
}

// DefaultItemLimit caps stock card listings without an explicit limit.
const DefaultItemLimit = 500
