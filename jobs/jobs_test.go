package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/odyssey-erp/stockledger/internal/jobs"
	"github.com/odyssey-erp/stockledger/internal/ledger"
	"github.com/odyssey-erp/stockledger/internal/receipt"
	"github.com/odyssey-erp/stockledger/internal/shared"
	"github.com/odyssey-erp/stockledger/internal/stock"
)

type enqueued struct {
	task *asynq.Task
	opts []asynq.Option
}

type fakeQueue struct {
	mu    sync.Mutex
	tasks []enqueued
	ids   map[string]bool
	err   error
}

func (q *fakeQueue) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return nil, q.err
	}
	for _, opt := range opts {
		if opt.Type() == asynq.TaskIDOpt {
			id := opt.Value().(string)
			if q.ids == nil {
				q.ids = map[string]bool{}
			}
			if q.ids[id] {
				return nil, asynq.ErrTaskIDConflict
			}
			q.ids[id] = true
		}
	}
	q.tasks = append(q.tasks, enqueued{task: task, opts: opts})
	return &asynq.TaskInfo{Type: task.Type(), Queue: QueueDefault}, nil
}

func (q *fakeQueue) types() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, len(q.tasks))
	for i, e := range q.tasks {
		out[i] = e.task.Type()
	}
	return out
}

type stubReconciler struct {
	report ledger.Report
	err    error
	calls  int
}

func (s *stubReconciler) Reconcile(ctx context.Context, tenantID, itemID uuid.UUID) (ledger.Report, error) {
	s.calls++
	return s.report, s.err
}

type stubItems struct {
	items  []stock.Item
	tenant uuid.UUID
}

func (s *stubItems) ListActive(ctx context.Context, tenantID uuid.UUID) ([]stock.Item, error) {
	s.tenant = tenantID
	return s.items, nil
}

type stubCleaner struct {
	olderThan time.Duration
}

func (s *stubCleaner) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	s.olderThan = olderThan
	return 3, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestMetrics() *jobmetrics.Metrics {
	return jobmetrics.NewMetrics(prometheus.NewRegistry())
}

func TestClientEnqueuesReceiptEventsOnce(t *testing.T) {
	queue := &fakeQueue{}
	client := NewClientWith(queue)
	evt := receipt.PostedEvent{
		TenantID:     uuid.New(),
		ReceiptID:    uuid.New(),
		Number:       "GRV-000001",
		StockItemIDs: []uuid.UUID{uuid.New()},
		Movements:    1,
		PostedAt:     time.Now().UTC(),
	}

	require.NoError(t, client.HandleReceiptPosted(context.Background(), evt))
	require.NoError(t, client.HandleReceiptPosted(context.Background(), evt))
	require.Equal(t, []string{TaskReceiptPosted}, queue.types())

	var payload ReceiptEventPayload
	require.NoError(t, json.Unmarshal(queue.tasks[0].task.Payload(), &payload))
	require.Equal(t, evt.ReceiptID, payload.ReceiptID)
	require.Equal(t, evt.StockItemIDs, payload.StockItemIDs)

	require.NoError(t, client.HandleReceiptCancelled(context.Background(), receipt.CancelledEvent{
		TenantID:  evt.TenantID,
		ReceiptID: evt.ReceiptID,
		Partial:   true,
	}))
	require.Equal(t, []string{TaskReceiptPosted, TaskReceiptCancelled}, queue.types())
	require.NoError(t, client.Close())
}

func TestClientSurfacesQueueErrors(t *testing.T) {
	client := NewClientWith(&fakeQueue{err: errors.New("redis down")})
	err := client.HandleReceiptPosted(context.Background(), receipt.PostedEvent{ReceiptID: uuid.New()})
	require.ErrorContains(t, err, "redis down")
}

func TestReceiptEventFansOutPerItem(t *testing.T) {
	queue := &fakeQueue{}
	job := NewReconcileJob(&stubReconciler{}, nil, queue, discardLogger(), newTestMetrics())
	items := []uuid.UUID{uuid.New(), uuid.New()}
	task, err := NewReceiptEventTask(TaskReceiptCancelled, ReceiptEventPayload{
		TenantID:     uuid.New(),
		ReceiptID:    uuid.New(),
		StockItemIDs: items,
		Partial:      true,
	})
	require.NoError(t, err)

	require.NoError(t, job.HandleReceiptEvent(context.Background(), task))
	require.Equal(t, []string{TaskLedgerReconcile, TaskLedgerReconcile}, queue.types())

	var payload ReconcilePayload
	require.NoError(t, json.Unmarshal(queue.tasks[1].task.Payload(), &payload))
	require.Equal(t, items[1], payload.StockItemID)
}

func TestReceiptEventRejectsBadPayload(t *testing.T) {
	job := NewReconcileJob(&stubReconciler{}, nil, &fakeQueue{}, discardLogger(), newTestMetrics())
	err := job.HandleReceiptEvent(context.Background(), asynq.NewTask(TaskReceiptPosted, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestReconcileItemCountsDiscrepancies(t *testing.T) {
	reconciler := &stubReconciler{report: ledger.Report{
		Checked: 3,
		Discrepancies: []ledger.Discrepancy{
			{Kind: ledger.DiscrepancyChain},
			{Kind: ledger.DiscrepancyChain},
			{Kind: ledger.DiscrepancyBalance},
		},
	}}
	job := NewReconcileJob(reconciler, nil, &fakeQueue{}, discardLogger(), newTestMetrics())
	task, err := NewReconcileTask(ReconcilePayload{TenantID: uuid.New(), StockItemID: uuid.New()})
	require.NoError(t, err)

	require.NoError(t, job.HandleItem(context.Background(), task))
	require.Equal(t, 1, reconciler.calls)
}

func TestReconcileItemSkipsMissingItem(t *testing.T) {
	reconciler := &stubReconciler{err: shared.ErrNotFound}
	job := NewReconcileJob(reconciler, nil, &fakeQueue{}, discardLogger(), newTestMetrics())
	task, err := NewReconcileTask(ReconcilePayload{TenantID: uuid.New(), StockItemID: uuid.New()})
	require.NoError(t, err)

	err = job.HandleItem(context.Background(), task)
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestReconcileAllSweepsActiveItems(t *testing.T) {
	queue := &fakeQueue{}
	tenant := uuid.New()
	items := &stubItems{items: []stock.Item{
		{ID: uuid.New(), TenantID: tenant},
		{ID: uuid.New(), TenantID: uuid.New()},
	}}
	job := NewReconcileJob(&stubReconciler{}, items, queue, discardLogger(), newTestMetrics())
	task, err := NewReconcileAllTask(ReconcileAllPayload{})
	require.NoError(t, err)

	require.NoError(t, job.HandleAll(context.Background(), task))
	require.Equal(t, uuid.Nil, items.tenant)
	require.Len(t, queue.types(), 2)
}

func TestReconcileAllToleratesDuplicates(t *testing.T) {
	queue := &fakeQueue{err: asynq.ErrDuplicateTask}
	items := &stubItems{items: []stock.Item{{ID: uuid.New(), TenantID: uuid.New()}}}
	job := NewReconcileJob(&stubReconciler{}, items, queue, discardLogger(), newTestMetrics())

	require.NoError(t, job.HandleAll(context.Background(), asynq.NewTask(TaskLedgerReconcileAll, nil)))
}

func TestHandlersCoverReceiptAndReconcileTasks(t *testing.T) {
	job := NewReconcileJob(&stubReconciler{}, &stubItems{}, &fakeQueue{}, discardLogger(), newTestMetrics())
	var types []string
	for _, h := range job.Handlers() {
		require.NotNil(t, h.Handler)
		types = append(types, h.Type)
	}
	require.ElementsMatch(t, []string{TaskReceiptPosted, TaskReceiptCancelled, TaskLedgerReconcile, TaskLedgerReconcileAll}, types)
}

func TestCleanupUsesPayloadOrRetention(t *testing.T) {
	store := &stubCleaner{}
	job := &CleanupJob{Store: store, Retention: 72 * time.Hour, Logger: discardLogger(), Metrics: newTestMetrics()}

	task, err := NewCleanupTask(time.Hour)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, time.Hour, store.olderThan)

	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskIdempotencyCleanup, nil)))
	require.Equal(t, 72*time.Hour, store.olderThan)

	job.Retention = 0
	err = job.Handle(context.Background(), asynq.NewTask(TaskIdempotencyCleanup, nil))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestUnknownReceiptTaskType(t *testing.T) {
	_, err := NewReceiptEventTask("receipt:archived", ReceiptEventPayload{})
	require.Error(t, err)
}

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	return s.info, s.err
}

func TestHealthReportsQueueState(t *testing.T) {
	h := &Handler{inspector: stubInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 4, Retry: 1}}, logger: discardLogger()}
	router := chi.NewRouter()
	router.Route("/jobs", h.MountRoutes)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var body QueueHealth
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, 4, body.Pending)
	require.Equal(t, 1, body.Retry)

	h.inspector = stubInspector{err: errors.New("redis down")}
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)

	rr = httptest.NewRecorder()
	NewHandler(nil, discardLogger()).health(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"pending":0`)
}

func TestNewWorkerRequiresHandlers(t *testing.T) {
	_, err := NewWorker(WorkerConfig{RedisOpts: asynq.RedisClientOpt{Addr: "127.0.0.1:0"}})
	require.Error(t, err)
}
