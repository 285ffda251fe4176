package receipt

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/costing"
	"github.com/odyssey-erp/stockledger/internal/ledger"
	"github.com/odyssey-erp/stockledger/internal/numbering"
	"github.com/odyssey-erp/stockledger/internal/shared"
	"github.com/odyssey-erp/stockledger/internal/stock"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, tenantID, id uuid.UUID) (Receipt, error)
	List(ctx context.Context, filter ListFilter) ([]Receipt, int, error)
	ListMovements(ctx context.Context, tenantID uuid.UUID, source ledger.SourceType, id uuid.UUID) ([]ledger.Movement, error)
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	GetForUpdate(ctx context.Context, tenantID, id uuid.UUID) (Receipt, error)
	Insert(ctx context.Context, r Receipt) error
	UpdateDraft(ctx context.Context, r Receipt) error
	Transition(ctx context.Context, t Transition) error
	SoftDelete(ctx context.Context, tenantID, id uuid.UUID, at time.Time) error
	Stock() stock.Store
	Ledger() ledger.Ledger
}

// Transition moves a receipt between statuses. It fails with
// ErrConcurrencyConflict when the stored status is no longer From.
type Transition struct {
	TenantID  uuid.UUID
	ReceiptID uuid.UUID
	From      Status
	To        Status
	ActorID   uuid.UUID
	At        time.Time
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards create requests carrying an idempotency key.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Locker serialises work on one document across processes.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// MetricsPort counts document operations by outcome.
type MetricsPort interface {
	RecordDocumentOp(document, operation, outcome string)
}

// Dependencies wires collaborators. Everything except Repo and Numbers is optional.
type Dependencies struct {
	Repo        RepositoryPort
	Numbers     numbering.Sequencer
	Audit       AuditPort
	Idempotency IdempotencyPort
	Locker      Locker
	Integration IntegrationHandler
	Metrics     MetricsPort
	Logger      *slog.Logger
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	NumberPrefix string
	SequenceKey  string
	Clock        func() time.Time
}

// DefaultSequenceKey names the numbering counter receipts draw from.
const DefaultSequenceKey = "receipt"

const (
	documentType       = "receipt"
	defaultPrefix      = "GRV"
	defaultSequenceKey = DefaultSequenceKey
)

// Service coordinates the receipt lifecycle.
type Service struct {
	repo        RepositoryPort
	numbers     numbering.Sequencer
	audit       AuditPort
	idempotency IdempotencyPort
	locker      Locker
	integration IntegrationHandler
	metrics     MetricsPort
	logger      *slog.Logger
	prefix      string
	seqKey      string
	clock       func() time.Time
}

// NewService builds Service.
func NewService(deps Dependencies, cfg ServiceConfig) *Service {
	s := &Service{
		repo:        deps.Repo,
		numbers:     deps.Numbers,
		audit:       deps.Audit,
		idempotency: deps.Idempotency,
		locker:      deps.Locker,
		integration: deps.Integration,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
		prefix:      cfg.NumberPrefix,
		seqKey:      cfg.SequenceKey,
		clock:       cfg.Clock,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.prefix == "" {
		s.prefix = defaultPrefix
	}
	if s.seqKey == "" {
		s.seqKey = defaultSequenceKey
	}
	if s.clock == nil {
		s.clock = func() time.Time { return time.Now().UTC() }
	}
	return s
}

// Create stores a new draft with the next document number.
func (s *Service) Create(ctx context.Context, in CreateInput) (r Receipt, err error) {
	defer func() { s.observe("create", err) }()
	if in.TenantID == uuid.Nil {
		return Receipt{}, fmt.Errorf("receipt: tenant required: %w", ErrValidation)
	}
	id := uuid.New()
	lines, doc, err := buildLines(id, in.Lines)
	if err != nil {
		return Receipt{}, err
	}

	idemKey := ""
	if in.IdempotencyKey != "" && s.idempotency != nil {
		idemKey = fmt.Sprintf("receipt:create:%s:%s", in.TenantID, in.IdempotencyKey)
		if err := s.idempotency.CheckAndInsert(ctx, idemKey, documentType); err != nil {
			return Receipt{}, err
		}
	}
	defer func() {
		if err != nil && idemKey != "" {
			_ = s.idempotency.Delete(ctx, idemKey)
		}
	}()

	seq, err := s.numbers.NextSequence(ctx, in.TenantID, s.seqKey)
	if err != nil {
		return Receipt{}, fmt.Errorf("receipt: next number: %w", err)
	}
	now := s.clock()
	r = Receipt{
		ID:        id,
		TenantID:  in.TenantID,
		Number:    numbering.Format(s.prefix, seq),
		Sequence:  seq,
		Status:    StatusDraft,
		Lines:     lines,
		CreatedBy: in.ActorID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.applyHeader(in.Header)
	r.applyTotals(doc)

	if err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.Insert(ctx, r)
	}); err != nil {
		return Receipt{}, err
	}
	s.recordAudit(ctx, r.TenantID, in.ActorID, "receipt:create", r.ID, map[string]any{
		"number": r.Number,
		"lines":  len(r.Lines),
	})
	return r, nil
}

// Update replaces the header and lines of a draft.
func (s *Service) Update(ctx context.Context, id uuid.UUID, in UpdateInput) (r Receipt, err error) {
	defer func() { s.observe("update", err) }()
	release, err := s.acquire(ctx, in.TenantID, id)
	if err != nil {
		return Receipt{}, err
	}
	defer release()

	cur, err := s.repo.Get(ctx, in.TenantID, id)
	if err != nil {
		return Receipt{}, err
	}
	if cur.Status != StatusDraft {
		return Receipt{}, fmt.Errorf("receipt %s is %s: %w", cur.Number, cur.Status, ErrInvalidState)
	}
	lines, doc, err := buildLines(id, in.Lines)
	if err != nil {
		return Receipt{}, err
	}
	next := cur
	next.applyHeader(in.Header)
	next.Lines = lines
	next.applyTotals(doc)
	next.UpdatedAt = s.clock()

	if err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateDraft(ctx, next)
	}); err != nil {
		return Receipt{}, err
	}
	s.recordAudit(ctx, next.TenantID, in.ActorID, "receipt:update", next.ID, map[string]any{
		"number": next.Number,
		"lines":  len(next.Lines),
	})
	return next, nil
}

// Delete soft-deletes a draft.
func (s *Service) Delete(ctx context.Context, tenantID, id, actorID uuid.UUID) (err error) {
	defer func() { s.observe("delete", err) }()
	release, err := s.acquire(ctx, tenantID, id)
	if err != nil {
		return err
	}
	defer release()

	cur, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if cur.Status != StatusDraft {
		return fmt.Errorf("receipt %s is %s: %w", cur.Number, cur.Status, ErrInvalidState)
	}
	if err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.SoftDelete(ctx, tenantID, id, s.clock())
	}); err != nil {
		return err
	}
	s.recordAudit(ctx, tenantID, actorID, "receipt:delete", id, map[string]any{"number": cur.Number})
	return nil
}

// Get returns one receipt with its lines.
func (s *Service) Get(ctx context.Context, tenantID, id uuid.UUID) (Receipt, error) {
	return s.repo.Get(ctx, tenantID, id)
}

// List returns a page of receipts.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Receipt, shared.Pagination, error) {
	if filter.TenantID == uuid.Nil {
		return nil, shared.Pagination{}, fmt.Errorf("receipt: tenant required: %w", ErrValidation)
	}
	filter.Page, filter.PerPage = shared.NormalizePage(filter.Page, filter.PerPage)
	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// Movements returns the receipt's ledger entries: the IN movements written
// at posting followed by any OUT reversals written at cancellation.
func (s *Service) Movements(ctx context.Context, tenantID, id uuid.UUID) ([]ledger.Movement, error) {
	if _, err := s.repo.Get(ctx, tenantID, id); err != nil {
		return nil, err
	}
	in, err := s.repo.ListMovements(ctx, tenantID, ledger.SourceReceipt, id)
	if err != nil {
		return nil, err
	}
	out, err := s.repo.ListMovements(ctx, tenantID, ledger.SourceReceiptCancel, id)
	if err != nil {
		return nil, err
	}
	return append(in, out...), nil
}

// Post applies every line to stock, appends one IN movement per received
// line and marks the receipt posted. All of it commits or none of it does.
func (s *Service) Post(ctx context.Context, tenantID, id, actorID uuid.UUID) (posted Receipt, err error) {
	defer func() { s.observe("post", err) }()
	release, err := s.acquire(ctx, tenantID, id)
	if err != nil {
		return Receipt{}, err
	}
	defer release()

	cur, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return Receipt{}, err
	}
	if cur.Status != StatusDraft {
		return Receipt{}, fmt.Errorf("receipt %s is %s: %w", cur.Number, cur.Status, ErrInvalidState)
	}
	if err := cur.readyToPost(); err != nil {
		return Receipt{}, err
	}

	var items []uuid.UUID
	var count int
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		items, count = nil, 0
		r, err := tx.GetForUpdate(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if r.Status != StatusDraft {
			return fmt.Errorf("receipt %s is %s: %w", r.Number, r.Status, ErrInvalidState)
		}
		if err := r.readyToPost(); err != nil {
			return err
		}
		store, book := tx.Stock(), tx.Ledger()
		for _, line := range r.Lines {
			item, err := store.Get(ctx, tenantID, line.StockItemID)
			if err != nil {
				return fmt.Errorf("receipt %s line %d: %w", r.Number, line.LineNo, err)
			}
			if !line.ReceivedQty.IsPositive() {
				continue
			}
			next, err := costing.Receive(item.Position(), line.ReceivedQty, line.UnitCostCents)
			if err != nil {
				return fmt.Errorf("receipt %s line %d: %w", r.Number, line.LineNo, err)
			}
			if _, err := book.Append(ctx, ledger.Movement{
				TenantID:        tenantID,
				StockItemID:     item.ID,
				LocationID:      r.LocationID,
				LocationName:    r.LocationName,
				SourceType:      ledger.SourceReceipt,
				SourceID:        r.ID,
				SourceLineID:    line.ID,
				MovementType:    ledger.MovementIn,
				Quantity:        line.ReceivedQty,
				UnitCostCents:   line.UnitCostCents,
				QuantityBefore:  item.OnHand,
				QuantityAfter:   next.OnHand,
				CostBeforeCents: item.AverageCostCents,
				CostAfterCents:  next.AverageCostCents,
				BatchNumber:     line.BatchNumber,
				SerialNumber:    line.SerialNumber,
				ExpiryDate:      line.ExpiryDate,
				CreatedBy:       actorID,
			}); err != nil {
				return err
			}
			if _, err := store.ApplyDelta(ctx, stock.DeltaTo(item, next)); err != nil {
				return err
			}
			count++
			items = appendUnique(items, item.ID)
		}
		at := s.clock()
		if err := tx.Transition(ctx, Transition{
			TenantID:  tenantID,
			ReceiptID: id,
			From:      StatusDraft,
			To:        StatusPosted,
			ActorID:   actorID,
			At:        at,
		}); err != nil {
			return err
		}
		r.Status = StatusPosted
		r.PostedBy = &actorID
		r.PostedAt = &at
		r.UpdatedAt = at
		posted = r
		return nil
	})
	if err != nil {
		return Receipt{}, err
	}

	s.logger.Info("receipt posted",
		slog.String("tenant_id", tenantID.String()),
		slog.String("receipt", posted.Number),
		slog.Int("movements", count),
	)
	s.recordAudit(ctx, tenantID, actorID, "receipt:post", id, map[string]any{
		"number":    posted.Number,
		"movements": count,
	})
	if s.integration != nil {
		evt := PostedEvent{
			TenantID:     tenantID,
			ReceiptID:    id,
			Number:       posted.Number,
			ActorID:      actorID,
			PostedAt:     *posted.PostedAt,
			StockItemIDs: items,
			Movements:    count,
		}
		if err := s.integration.HandleReceiptPosted(ctx, evt); err != nil {
			s.logger.Warn("receipt posted event failed", slog.String("receipt", posted.Number), slog.Any("error", err))
		}
	}
	return posted, nil
}

// Cancel reverses a posted receipt. Each item is reversed by at most its
// current on-hand quantity; the reversal is split across the original
// movements and each share is appended as an OUT movement pointing back at
// the movement it reverses.
func (s *Service) Cancel(ctx context.Context, tenantID, id, actorID uuid.UUID) (cancelled Receipt, err error) {
	defer func() { s.observe("cancel", err) }()
	release, err := s.acquire(ctx, tenantID, id)
	if err != nil {
		return Receipt{}, err
	}
	defer release()

	cur, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return Receipt{}, err
	}
	if cur.Status != StatusPosted {
		return Receipt{}, fmt.Errorf("receipt %s is %s: %w", cur.Number, cur.Status, ErrInvalidState)
	}

	var items []uuid.UUID
	var count int
	var partial bool
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		items, count, partial = nil, 0, false
		r, err := tx.GetForUpdate(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if r.Status != StatusPosted {
			return fmt.Errorf("receipt %s is %s: %w", r.Number, r.Status, ErrInvalidState)
		}
		store, book := tx.Stock(), tx.Ledger()
		originals, err := book.ListBySource(ctx, tenantID, ledger.SourceReceipt, id)
		if err != nil {
			return err
		}
		groups := ledger.GroupByItem(originals, ledger.MovementIn)
		if len(groups) == 0 {
			return fmt.Errorf("receipt %s: %w", r.Number, ErrNothingToReverse)
		}
		for _, g := range groups {
			item, err := store.Get(ctx, tenantID, g.StockItemID)
			if err != nil {
				return fmt.Errorf("receipt %s: %w", r.Number, err)
			}
			inputs := make([]costing.Original, len(g.Movements))
			total := decimal.Zero
			for i, m := range g.Movements {
				inputs[i] = costing.Original{Quantity: m.Quantity, UnitCostCents: m.UnitCostCents}
				total = total.Add(m.Quantity)
			}
			rev, err := costing.Reverse(item.Position(), inputs)
			if err != nil {
				return fmt.Errorf("receipt %s item %s: %w", r.Number, item.ID, err)
			}
			if rev.Quantity.LessThan(total) {
				partial = true
			}
			for i, part := range rev.Parts {
				if part.IsZero() {
					continue
				}
				orig := g.Movements[i]
				origID := orig.ID
				if _, err := book.Append(ctx, ledger.Movement{
					TenantID:           tenantID,
					StockItemID:        orig.StockItemID,
					LocationID:         orig.LocationID,
					LocationName:       orig.LocationName,
					SourceType:         ledger.SourceReceiptCancel,
					SourceID:           r.ID,
					SourceLineID:       orig.SourceLineID,
					MovementType:       ledger.MovementOut,
					Quantity:           part.Quantity,
					UnitCostCents:      orig.UnitCostCents,
					QuantityBefore:     part.QuantityBefore,
					QuantityAfter:      part.QuantityAfter,
					CostBeforeCents:    part.CostBeforeCents,
					CostAfterCents:     part.CostAfterCents,
					BatchNumber:        orig.BatchNumber,
					SerialNumber:       orig.SerialNumber,
					ExpiryDate:         orig.ExpiryDate,
					ReversesMovementID: &origID,
					CreatedBy:          actorID,
				}); err != nil {
					return err
				}
				count++
			}
			if rev.Quantity.IsPositive() {
				if _, err := store.ApplyDelta(ctx, stock.DeltaTo(item, rev.Position)); err != nil {
					return err
				}
			}
			items = appendUnique(items, item.ID)
		}
		at := s.clock()
		if err := tx.Transition(ctx, Transition{
			TenantID:  tenantID,
			ReceiptID: id,
			From:      StatusPosted,
			To:        StatusCancelled,
			ActorID:   actorID,
			At:        at,
		}); err != nil {
			return err
		}
		r.Status = StatusCancelled
		r.CancelledBy = &actorID
		r.CancelledAt = &at
		r.UpdatedAt = at
		cancelled = r
		return nil
	})
	if err != nil {
		return Receipt{}, err
	}

	attrs := []any{
		slog.String("tenant_id", tenantID.String()),
		slog.String("receipt", cancelled.Number),
		slog.Int("movements", count),
	}
	if partial {
		s.logger.Warn("receipt cancelled with partial reversal", attrs...)
	} else {
		s.logger.Info("receipt cancelled", attrs...)
	}
	s.recordAudit(ctx, tenantID, actorID, "receipt:cancel", id, map[string]any{
		"number":    cancelled.Number,
		"movements": count,
		"partial":   partial,
	})
	if s.integration != nil {
		evt := CancelledEvent{
			TenantID:     tenantID,
			ReceiptID:    id,
			Number:       cancelled.Number,
			ActorID:      actorID,
			CancelledAt:  *cancelled.CancelledAt,
			StockItemIDs: items,
			Movements:    count,
			Partial:      partial,
		}
		if err := s.integration.HandleReceiptCancelled(ctx, evt); err != nil {
			s.logger.Warn("receipt cancelled event failed", slog.String("receipt", cancelled.Number), slog.Any("error", err))
		}
	}
	return cancelled, nil
}

func (s *Service) acquire(ctx context.Context, tenantID, id uuid.UUID) (func(), error) {
	if tenantID == uuid.Nil || id == uuid.Nil {
		return nil, fmt.Errorf("receipt: tenant and id required: %w", ErrValidation)
	}
	if s.locker == nil {
		return func() {}, nil
	}
	release, err := s.locker.Acquire(ctx, shared.DocumentLockKey(tenantID, documentType, id))
	if err != nil {
		return nil, err
	}
	return release, nil
}

func (s *Service) recordAudit(ctx context.Context, tenantID, actorID uuid.UUID, action string, id uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		TenantID: tenantID,
		ActorID:  actorID,
		Action:   action,
		Entity:   documentType,
		EntityID: id.String(),
		Meta:     meta,
		At:       s.clock(),
	})
	if err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

func (s *Service) observe(op string, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordDocumentOp(documentType, op, shared.ErrorKind(err))
}

func appendUnique(ids []uuid.UUID, id uuid.UUID) []uuid.UUID {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}
