package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/stockledger/internal/jobs"
	"github.com/odyssey-erp/stockledger/internal/ledger"
	"github.com/odyssey-erp/stockledger/internal/shared"
	"github.com/odyssey-erp/stockledger/internal/stock"
)

// Reconciler checks one item's ledger.
type Reconciler interface {
	Reconcile(ctx context.Context, tenantID, itemID uuid.UUID) (ledger.Report, error)
}

// ItemLister lists active items; a nil tenant lists every tenant.
type ItemLister interface {
	ListActive(ctx context.Context, tenantID uuid.UUID) ([]stock.Item, error)
}

// ReconcileJob runs ledger reconciliation and fans out follow-up work from
// receipt lifecycle tasks.
type ReconcileJob struct {
	Reconciler Reconciler
	Items      ItemLister
	Queue      Enqueuer
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
}

// NewReconcileJob initialises the reconciliation handlers.
func NewReconcileJob(reconciler Reconciler, items ItemLister, queue Enqueuer, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReconcileJob {
	return &ReconcileJob{Reconciler: reconciler, Items: items, Queue: queue, Logger: logger, Metrics: metrics}
}

// Handlers lists the task handlers served by this job.
func (j *ReconcileJob) Handlers() []TaskHandler {
	return []TaskHandler{
		{Type: TaskReceiptPosted, Handler: j.HandleReceiptEvent},
		{Type: TaskReceiptCancelled, Handler: j.HandleReceiptEvent},
		{Type: TaskLedgerReconcile, Handler: j.HandleItem},
		{Type: TaskLedgerReconcileAll, Handler: j.HandleAll},
	}
}

// HandleReceiptEvent schedules reconciliation of every item the receipt touched.
func (j *ReconcileJob) HandleReceiptEvent(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Queue == nil {
		return errors.New("reconcile: handler not configured")
	}
	var payload ReceiptEventPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := j.metrics().Track(t.Type())
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(
		slog.String("task", t.Type()),
		slog.String("tenant_id", payload.TenantID.String()),
		slog.String("receipt", payload.Number),
	)
	if payload.Partial {
		logger.Warn("receipt reversal was capped by on-hand stock")
	}
	for _, itemID := range payload.StockItemIDs {
		if err := j.enqueueItem(ctx, payload.TenantID, itemID); err != nil {
			logger.Error("enqueue reconcile", slog.String("stock_item_id", itemID.String()), slog.Any("error", err))
			return err
		}
	}
	logger.Info("scheduled reconciliation", slog.Int("items", len(payload.StockItemIDs)))
	return nil
}

// HandleItem reconciles one item. Discrepancies are logged and counted but
// do not fail the task: retrying cannot fix them.
func (j *ReconcileJob) HandleItem(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Reconciler == nil {
		return errors.New("reconcile: handler not configured")
	}
	var payload ReconcilePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := j.metrics().Track(TaskLedgerReconcile)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	report, err := j.Reconciler.Reconcile(ctx, payload.TenantID, payload.StockItemID)
	if errors.Is(err, shared.ErrNotFound) {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	if err != nil {
		return err
	}
	byKind := make(map[string]int)
	for _, d := range report.Discrepancies {
		byKind[d.Kind]++
	}
	for kind, n := range byKind {
		j.metrics().AddDiscrepancies(kind, n)
	}
	if !report.OK() {
		j.logger().Error("ledger discrepancies found",
			slog.String("tenant_id", payload.TenantID.String()),
			slog.String("stock_item_id", payload.StockItemID.String()),
			slog.Int("checked", report.Checked),
			slog.Any("discrepancies", report.Discrepancies),
		)
	}
	return nil
}

// HandleAll enqueues reconciliation for every active item.
func (j *ReconcileJob) HandleAll(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Items == nil || j.Queue == nil {
		return errors.New("reconcile: handler not configured")
	}
	var payload ReconcileAllPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	start := time.Now()
	tracker := j.metrics().Track(TaskLedgerReconcileAll)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	items, err := j.Items.ListActive(ctx, payload.TenantID)
	if err != nil {
		return err
	}
	for _, item := range items {
		if err := j.enqueueItem(ctx, item.TenantID, item.ID); err != nil {
			return err
		}
	}
	j.logger().Info("reconciliation sweep scheduled",
		slog.Int("items", len(items)),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func (j *ReconcileJob) enqueueItem(ctx context.Context, tenantID, itemID uuid.UUID) error {
	task, err := NewReconcileTask(ReconcilePayload{TenantID: tenantID, StockItemID: itemID})
	if err != nil {
		return err
	}
	_, err = j.Queue.EnqueueContext(ctx, task, asynq.Unique(time.Minute))
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	return err
}

func (j *ReconcileJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", "reconcile"))
	}
	return slog.Default().With(slog.String("job", "reconcile"))
}

func (j *ReconcileJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

// Cleaner purges old idempotency keys.
type Cleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// CleanupJob removes idempotency keys past their retention.
type CleanupJob struct {
	Store     Cleaner
	Retention time.Duration
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// Handle executes the purge.
func (j *CleanupJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Store == nil {
		return errors.New("cleanup: handler not configured")
	}
	var payload CleanupPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	olderThan := payload.OlderThan
	if olderThan <= 0 {
		olderThan = j.Retention
	}
	if olderThan <= 0 {
		return fmt.Errorf("%w: cleanup retention not set", asynq.SkipRetry)
	}
	metrics := j.Metrics
	if metrics == nil {
		metrics = defaultJobMetrics
	}
	tracker := metrics.Track(TaskIdempotencyCleanup)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()
	removed, err := j.Store.Cleanup(ctx, olderThan)
	if err != nil {
		return err
	}
	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("idempotency keys purged", slog.Int64("removed", removed), slog.Duration("older_than", olderThan))
	return nil
}
