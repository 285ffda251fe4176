package shared

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

// keyTable stands in for idempotency_keys and audit_logs.
type keyTable struct {
	keys  map[string]time.Time
	audit [][]any
	err   error
}

func (k *keyTable) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if k.err != nil {
		return pgconn.CommandTag{}, k.err
	}
	if k.keys == nil {
		k.keys = map[string]time.Time{}
	}
	switch {
	case strings.HasPrefix(sql, "INSERT INTO idempotency_keys"):
		key := args[0].(string)
		if _, ok := k.keys[key]; ok {
			return pgconn.NewCommandTag("INSERT 0 0"), nil
		}
		k.keys[key] = args[2].(time.Time)
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	case strings.HasPrefix(sql, "DELETE FROM idempotency_keys WHERE created_at"):
		cutoff := args[0].(time.Time)
		n := 0
		for key, at := range k.keys {
			if at.Before(cutoff) {
				delete(k.keys, key)
				n++
			}
		}
		return pgconn.NewCommandTag(fmt.Sprintf("DELETE %d", n)), nil
	case strings.HasPrefix(sql, "DELETE FROM idempotency_keys WHERE key"):
		delete(k.keys, args[0].(string))
		return pgconn.NewCommandTag("DELETE 1"), nil
	case strings.HasPrefix(sql, "INSERT INTO audit_logs"):
		k.audit = append(k.audit, args)
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	}
	return pgconn.CommandTag{}, fmt.Errorf("unexpected statement %q", sql)
}

func TestIsRetryable(t *testing.T) {
	require.True(t, IsRetryable(ErrConcurrencyConflict))
	require.True(t, IsRetryable(fmt.Errorf("stock: apply delta: %w", ErrConcurrencyConflict)))
	require.False(t, IsRetryable(ErrInvalidState))
	require.False(t, IsRetryable(ErrNothingToReverse))
	require.False(t, IsRetryable(nil))
}

func TestTenantAndActorContext(t *testing.T) {
	ctx := context.Background()
	require.Equal(t, uuid.Nil, TenantFromContext(ctx))

	tenant := uuid.New()
	actor := uuid.New()
	ctx = ContextWithActor(ContextWithTenant(ctx, tenant), actor)
	require.Equal(t, tenant, TenantFromContext(ctx))
	require.Equal(t, actor, ActorFromContext(ctx))
}

func TestPagination(t *testing.T) {
	p := NewPagination(0, 0, 45)
	require.Equal(t, 1, p.Page)
	require.Equal(t, 20, p.PerPage)
	require.Equal(t, 3, p.TotalPages)
	require.Equal(t, 0, p.Offset())

	p = NewPagination(3, 500, 1000)
	require.Equal(t, 200, p.PerPage)
	require.Equal(t, 400, p.Offset())
}

func TestAuditLogValidate(t *testing.T) {
	require.Error(t, AuditLog{Action: "RECEIPT_POST", Entity: "receipt"}.Validate())
	require.Error(t, AuditLog{Action: "RECEIPT_POST", Entity: "receipt", EntityID: "x"}.Validate())
	require.NoError(t, AuditLog{TenantID: uuid.New(), Action: "RECEIPT_POST", Entity: "receipt", EntityID: "x"}.Validate())
}

func TestErrorKind(t *testing.T) {
	require.Equal(t, "success", ErrorKind(nil))
	require.Equal(t, "not_found", ErrorKind(fmt.Errorf("stock: %w", ErrNotFound)))
	require.Equal(t, "validation", ErrorKind(ErrValidation))
	require.Equal(t, "invalid_state", ErrorKind(ErrInvalidState))
	require.Equal(t, "nothing_to_reverse", ErrorKind(ErrNothingToReverse))
	require.Equal(t, "conflict", ErrorKind(ErrConcurrencyConflict))
	require.Equal(t, "duplicate", ErrorKind(fmt.Errorf("receipt: %w", ErrIdempotencyConflict)))
	require.Equal(t, "error", ErrorKind(context.Canceled))
}

func TestIdempotencyStore(t *testing.T) {
	ctx := context.Background()
	table := &keyTable{}
	store := NewIdempotencyStore(table)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	require.NoError(t, store.CheckAndInsert(ctx, "receipt:create:t:1", "receipt"))
	require.ErrorIs(t, store.CheckAndInsert(ctx, "receipt:create:t:1", "receipt"), ErrIdempotencyConflict)
	require.Error(t, store.CheckAndInsert(ctx, "", "receipt"))
	require.Error(t, store.CheckAndInsert(ctx, "k", ""))

	require.NoError(t, store.Delete(ctx, "receipt:create:t:1"))
	require.NoError(t, store.CheckAndInsert(ctx, "receipt:create:t:1", "receipt"))

	now = now.Add(100 * time.Hour)
	require.NoError(t, store.CheckAndInsert(ctx, "receipt:create:t:2", "receipt"))
	removed, err := store.Cleanup(ctx, 72*time.Hour)
	require.NoError(t, err)
	require.Equal(t, int64(1), removed)
	require.Len(t, table.keys, 1)

	_, err = store.Cleanup(ctx, 0)
	require.Error(t, err)
}

func TestIdempotencyStorePropagatesErrors(t *testing.T) {
	store := NewIdempotencyStore(&keyTable{err: errors.New("connection reset")})
	require.ErrorContains(t, store.CheckAndInsert(context.Background(), "k", "receipt"), "connection reset")
}

func TestAuditLoggerRecord(t *testing.T) {
	table := &keyTable{}
	logger := NewAuditLogger(table)
	require.Error(t, logger.Record(context.Background(), AuditLog{Action: "receipt:post"}))

	err := logger.Record(context.Background(), AuditLog{
		TenantID: uuid.New(),
		Action:   "receipt:post",
		Entity:   "receipt",
		EntityID: "GRV-000001",
		Meta:     map[string]any{"movements": 2},
	})
	require.NoError(t, err)
	require.Len(t, table.audit, 1)
	require.Nil(t, table.audit[0][1])
	require.JSONEq(t, `{"movements":2}`, string(table.audit[0][5].([]byte)))
}
