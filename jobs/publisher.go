package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/stockledger/internal/receipt"
)

// HandleReceiptPosted enqueues the follow-up task for a posted receipt.
// Client implements receipt.IntegrationHandler.
func (c *Client) HandleReceiptPosted(ctx context.Context, evt receipt.PostedEvent) error {
	return c.enqueueReceiptEvent(ctx, TaskReceiptPosted, ReceiptEventPayload{
		TenantID:     evt.TenantID,
		ReceiptID:    evt.ReceiptID,
		Number:       evt.Number,
		ActorID:      evt.ActorID,
		At:           evt.PostedAt,
		StockItemIDs: evt.StockItemIDs,
		Movements:    evt.Movements,
	})
}

// HandleReceiptCancelled enqueues the follow-up task for a cancelled receipt.
func (c *Client) HandleReceiptCancelled(ctx context.Context, evt receipt.CancelledEvent) error {
	return c.enqueueReceiptEvent(ctx, TaskReceiptCancelled, ReceiptEventPayload{
		TenantID:     evt.TenantID,
		ReceiptID:    evt.ReceiptID,
		Number:       evt.Number,
		ActorID:      evt.ActorID,
		At:           evt.CancelledAt,
		StockItemIDs: evt.StockItemIDs,
		Movements:    evt.Movements,
		Partial:      evt.Partial,
	})
}

func (c *Client) enqueueReceiptEvent(ctx context.Context, taskType string, payload ReceiptEventPayload) error {
	task, err := NewReceiptEventTask(taskType, payload)
	if err != nil {
		return err
	}
	// one task per receipt and lifecycle step
	id := fmt.Sprintf("%s:%s", taskType, payload.ReceiptID)
	if _, err := c.client.EnqueueContext(ctx, task, asynq.TaskID(id)); err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
		return fmt.Errorf("jobs: enqueue %s: %w", taskType, err)
	}
	return nil
}

var _ receipt.IntegrationHandler = (*Client)(nil)
