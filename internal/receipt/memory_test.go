package receipt

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/stockledger/internal/ledger"
	"github.com/odyssey-erp/stockledger/internal/shared"
	"github.com/odyssey-erp/stockledger/internal/stock"
)

// memState is everything a transaction may touch. Transactions work on a
// clone and swap it in on success, so a failed callback leaves no trace.
type memState struct {
	receipts  map[uuid.UUID]Receipt
	items     map[uuid.UUID]stock.Item
	movements []ledger.Movement
}

func (s *memState) clone() *memState {
	out := &memState{
		receipts:  make(map[uuid.UUID]Receipt, len(s.receipts)),
		items:     make(map[uuid.UUID]stock.Item, len(s.items)),
		movements: append([]ledger.Movement(nil), s.movements...),
	}
	for id, r := range s.receipts {
		r.Lines = append([]Line(nil), r.Lines...)
		out.receipts[id] = r
	}
	for id, it := range s.items {
		out.items[id] = it
	}
	return out
}

type memoryRepo struct {
	mu    sync.Mutex
	state *memState
	// interleave runs after every stock read inside a transaction, standing
	// in for a writer that commits between the read and the update.
	interleave func(st *memState, itemID uuid.UUID)
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{state: &memState{
		receipts: map[uuid.UUID]Receipt{},
		items:    map[uuid.UUID]stock.Item{},
	}}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	work := m.state.clone()
	if err := fn(ctx, &memoryTx{st: work, interleave: m.interleave}); err != nil {
		return err
	}
	m.state = work
	return nil
}

func (m *memoryRepo) Get(ctx context.Context, tenantID, id uuid.UUID) (Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memoryTx{st: m.state}).GetForUpdate(ctx, tenantID, id)
}

func (m *memoryRepo) List(ctx context.Context, filter ListFilter) ([]Receipt, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []Receipt
	for _, r := range m.state.receipts {
		if r.TenantID != filter.TenantID || r.DeletedAt != nil {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		all = append(all, r)
	}
	total := len(all)
	start := (filter.Page - 1) * filter.PerPage
	if start > total {
		start = total
	}
	end := min(start+filter.PerPage, total)
	return all[start:end], total, nil
}

func (m *memoryRepo) ListMovements(ctx context.Context, tenantID uuid.UUID, source ledger.SourceType, id uuid.UUID) ([]ledger.Movement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memoryLedger{st: m.state}).ListBySource(ctx, tenantID, source, id)
}

func (m *memoryRepo) seedItem(tenantID uuid.UUID, sku string, onHand string, avg int64) stock.Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	item := stock.Item{ID: uuid.New(), TenantID: tenantID, SKU: sku, OnHand: dec(onHand), AverageCostCents: avg, Active: true}
	m.state.items[item.ID] = item
	return item
}

// bumpAfterRead makes every in-transaction stock read stale by moving the
// item's on-hand right after it is read.
func (m *memoryRepo) bumpAfterRead(qty string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interleave = func(st *memState, itemID uuid.UUID) {
		item := st.items[itemID]
		item.OnHand = item.OnHand.Add(dec(qty))
		st.items[itemID] = item
	}
}

func (m *memoryRepo) stopInterleaving() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interleave = nil
}

// consume simulates stock leaving through another document.
func (m *memoryRepo) consume(itemID uuid.UUID, qty string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item := m.state.items[itemID]
	item.OnHand = item.OnHand.Sub(dec(qty))
	m.state.items[itemID] = item
}

func (m *memoryRepo) item(id uuid.UUID) stock.Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.items[id]
}

func (m *memoryRepo) allMovements() []ledger.Movement {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ledger.Movement(nil), m.state.movements...)
}

func (m *memoryRepo) itemMovements(itemID uuid.UUID) []ledger.Movement {
	var out []ledger.Movement
	for _, mv := range m.allMovements() {
		if mv.StockItemID == itemID {
			out = append(out, mv)
		}
	}
	return out
}

type memoryTx struct {
	st         *memState
	interleave func(st *memState, itemID uuid.UUID)
}

func (t *memoryTx) GetForUpdate(ctx context.Context, tenantID, id uuid.UUID) (Receipt, error) {
	r, ok := t.st.receipts[id]
	if !ok || r.TenantID != tenantID || r.DeletedAt != nil {
		return Receipt{}, fmt.Errorf("receipt %s: %w", id, ErrNotFound)
	}
	r.Lines = append([]Line(nil), r.Lines...)
	return r, nil
}

func (t *memoryTx) Insert(ctx context.Context, r Receipt) error {
	t.st.receipts[r.ID] = r
	return nil
}

func (t *memoryTx) UpdateDraft(ctx context.Context, r Receipt) error {
	cur, ok := t.st.receipts[r.ID]
	if !ok || cur.Status != StatusDraft || cur.DeletedAt != nil {
		return fmt.Errorf("receipt %s is no longer a draft: %w", r.Number, ErrConcurrencyConflict)
	}
	t.st.receipts[r.ID] = r
	return nil
}

func (t *memoryTx) Transition(ctx context.Context, tr Transition) error {
	r, ok := t.st.receipts[tr.ReceiptID]
	if !ok || r.TenantID != tr.TenantID || r.Status != tr.From || r.DeletedAt != nil {
		return fmt.Errorf("receipt %s left %s concurrently: %w", tr.ReceiptID, tr.From, ErrConcurrencyConflict)
	}
	r.Status = tr.To
	r.UpdatedAt = tr.At
	actor, at := tr.ActorID, tr.At
	switch tr.To {
	case StatusPosted:
		r.PostedBy, r.PostedAt = &actor, &at
	case StatusCancelled:
		r.CancelledBy, r.CancelledAt = &actor, &at
	}
	t.st.receipts[r.ID] = r
	return nil
}

func (t *memoryTx) SoftDelete(ctx context.Context, tenantID, id uuid.UUID, at time.Time) error {
	r, ok := t.st.receipts[id]
	if !ok || r.Status != StatusDraft || r.DeletedAt != nil {
		return fmt.Errorf("receipt %s is no longer a draft: %w", id, ErrConcurrencyConflict)
	}
	r.DeletedAt = &at
	t.st.receipts[id] = r
	return nil
}

func (t *memoryTx) Stock() stock.Store     { return &memoryStock{st: t.st, interleave: t.interleave} }
func (t *memoryTx) Ledger() ledger.Ledger { return &memoryLedger{st: t.st} }

type memoryStock struct {
	st         *memState
	interleave func(st *memState, itemID uuid.UUID)
}

func (s *memoryStock) Get(ctx context.Context, tenantID, itemID uuid.UUID) (stock.Item, error) {
	item, ok := s.st.items[itemID]
	if !ok || item.TenantID != tenantID {
		return stock.Item{}, fmt.Errorf("stock: item %s: %w", itemID, stock.ErrNotFound)
	}
	if s.interleave != nil {
		s.interleave(s.st, itemID)
	}
	return item, nil
}

func (s *memoryStock) ApplyDelta(ctx context.Context, d stock.Delta) (stock.Item, error) {
	if err := d.Validate(); err != nil {
		return stock.Item{}, err
	}
	item, ok := s.st.items[d.ItemID]
	if !ok || item.TenantID != d.TenantID {
		return stock.Item{}, fmt.Errorf("stock: item %s: %w", d.ItemID, stock.ErrNotFound)
	}
	if !item.OnHand.Equal(d.Expected.OnHand) || item.AverageCostCents != d.Expected.AverageCostCents {
		return stock.Item{}, fmt.Errorf("stock: item %s changed concurrently: %w", d.ItemID, stock.ErrConcurrencyConflict)
	}
	item.OnHand = item.OnHand.Add(d.QtyDelta)
	item.AverageCostCents = d.NewAverageCostCents
	s.st.items[item.ID] = item
	return item, nil
}

type memoryLedger struct {
	st *memState
}

func (l *memoryLedger) Append(ctx context.Context, m ledger.Movement) (ledger.Movement, error) {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if err := m.Validate(); err != nil {
		return ledger.Movement{}, err
	}
	m.CreatedAt = time.Now().UTC()
	l.st.movements = append(l.st.movements, m)
	return m, nil
}

func (l *memoryLedger) ListBySource(ctx context.Context, tenantID uuid.UUID, source ledger.SourceType, sourceID uuid.UUID) ([]ledger.Movement, error) {
	out := []ledger.Movement{}
	for _, m := range l.st.movements {
		if m.TenantID == tenantID && m.SourceType == source && m.SourceID == sourceID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (l *memoryLedger) ListByItem(ctx context.Context, tenantID, itemID uuid.UUID, filter ledger.ItemFilter) ([]ledger.Movement, error) {
	out := []ledger.Movement{}
	for _, m := range l.st.movements {
		if m.TenantID == tenantID && m.StockItemID == itemID {
			out = append(out, m)
		}
	}
	return out, nil
}

type recordingAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

func (a *recordingAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.logs))
	for i, l := range a.logs {
		out[i] = l.Action
	}
	return out
}

type memoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]string
}

func (m *memoryIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys == nil {
		m.keys = map[string]string{}
	}
	if _, ok := m.keys[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = module
	return nil
}

func (m *memoryIdempotency) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

type recordingEvents struct {
	mu        sync.Mutex
	posted    []PostedEvent
	cancelled []CancelledEvent
	err       error
}

func (e *recordingEvents) HandleReceiptPosted(ctx context.Context, evt PostedEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.posted = append(e.posted, evt)
	return e.err
}

func (e *recordingEvents) HandleReceiptCancelled(ctx context.Context, evt CancelledEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelled = append(e.cancelled, evt)
	return e.err
}

type countingMetrics struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *countingMetrics) RecordDocumentOp(document, operation, outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = map[string]int{}
	}
	c.counts[document+":"+operation+":"+outcome]++
}

func (c *countingMetrics) count(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[key]
}

type countingLocker struct {
	mu       sync.Mutex
	acquired int
	released int
	err      error
}

func (l *countingLocker) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	l.acquired++
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.released++
	}, nil
}
