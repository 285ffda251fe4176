package receipt

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// PostedEvent is emitted after a receipt posts.
type PostedEvent struct {
	TenantID     uuid.UUID   `json:"tenant_id"`
	ReceiptID    uuid.UUID   `json:"receipt_id"`
	Number       string      `json:"number"`
	ActorID      uuid.UUID   `json:"actor_id"`
	PostedAt     time.Time   `json:"posted_at"`
	StockItemIDs []uuid.UUID `json:"stock_item_ids"`
	Movements    int         `json:"movements"`
}

// CancelledEvent is emitted after a receipt is cancelled.
type CancelledEvent struct {
	TenantID     uuid.UUID   `json:"tenant_id"`
	ReceiptID    uuid.UUID   `json:"receipt_id"`
	Number       string      `json:"number"`
	ActorID      uuid.UUID   `json:"actor_id"`
	CancelledAt  time.Time   `json:"cancelled_at"`
	StockItemIDs []uuid.UUID `json:"stock_item_ids"`
	Movements    int         `json:"movements"`
	// Partial is true when stock consumed since posting capped the reversal.
	Partial bool `json:"partial"`
}

// IntegrationHandler receives receipt lifecycle events after commit.
type IntegrationHandler interface {
	HandleReceiptPosted(ctx context.Context, evt PostedEvent) error
	HandleReceiptCancelled(ctx context.Context, evt CancelledEvent) error
}
