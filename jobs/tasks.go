package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/stockledger/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskReceiptPosted fans out follow-up work after a receipt posts.
	TaskReceiptPosted = "receipt:posted"
	// TaskReceiptCancelled fans out follow-up work after a receipt is cancelled.
	TaskReceiptCancelled = "receipt:cancelled"
	// TaskLedgerReconcile checks one item's ledger against its stock row.
	TaskLedgerReconcile = "ledger:reconcile"
	// TaskLedgerReconcileAll schedules reconciliation of every active item.
	TaskLedgerReconcileAll = "ledger:reconcile-all"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// ReceiptEventPayload is the body of receipt lifecycle tasks.
type ReceiptEventPayload struct {
	TenantID     uuid.UUID   `json:"tenant_id"`
	ReceiptID    uuid.UUID   `json:"receipt_id"`
	Number       string      `json:"number"`
	ActorID      uuid.UUID   `json:"actor_id"`
	At           time.Time   `json:"at"`
	StockItemIDs []uuid.UUID `json:"stock_item_ids"`
	Movements    int         `json:"movements"`
	Partial      bool        `json:"partial,omitempty"`
}

// ReconcilePayload identifies one item to reconcile.
type ReconcilePayload struct {
	TenantID    uuid.UUID `json:"tenant_id"`
	StockItemID uuid.UUID `json:"stock_item_id"`
}

// ReconcileAllPayload carries scheduling metadata. A nil tenant covers all tenants.
type ReconcileAllPayload struct {
	TenantID     uuid.UUID `json:"tenant_id"`
	ScheduledFor time.Time `json:"scheduled_for"`
}

// CleanupPayload configures the idempotency purge.
type CleanupPayload struct {
	OlderThan time.Duration `json:"older_than"`
}

// NewReceiptEventTask constructs a receipt lifecycle task of the given type.
func NewReceiptEventTask(taskType string, payload ReceiptEventPayload) (*asynq.Task, error) {
	if taskType != TaskReceiptPosted && taskType != TaskReceiptCancelled {
		return nil, fmt.Errorf("jobs: unknown receipt task %q", taskType)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, body, asynq.Queue(QueueDefault), asynq.MaxRetry(5)), nil
}

// NewReconcileTask constructs a single-item reconciliation task.
func NewReconcileTask(payload ReconcilePayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerReconcile, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}

// NewReconcileAllTask constructs the scheduled sweep task.
func NewReconcileAllTask(payload ReconcileAllPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerReconcileAll, body, asynq.Queue(QueueDefault)), nil
}

// NewCleanupTask constructs the idempotency purge task.
func NewCleanupTask(olderThan time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(CleanupPayload{OlderThan: olderThan})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
