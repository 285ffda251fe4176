// Package numbering issues per-tenant document sequence numbers.
package numbering

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/stockledger/internal/platform/db"
)

// Sequencer returns the next number for a tenant and document key. No two
// calls for the same tenant and key return the same number.
type Sequencer interface {
	NextSequence(ctx context.Context, tenantID uuid.UUID, key string) (int64, error)
}

// Format renders a document number such as GRV-000042.
func Format(prefix string, seq int64) string {
	return fmt.Sprintf("%s-%06d", prefix, seq)
}

// RedisSequencer uses INCR on one key per tenant and document type.
type RedisSequencer struct {
	client redis.Cmdable
}

// NewRedisSequencer constructs RedisSequencer.
func NewRedisSequencer(client redis.Cmdable) *RedisSequencer {
	return &RedisSequencer{client: client}
}

func redisKey(tenantID uuid.UUID, key string) string {
	return fmt.Sprintf("seq:%s:%s", tenantID, key)
}

// NextSequence implements Sequencer.
func (s *RedisSequencer) NextSequence(ctx context.Context, tenantID uuid.UUID, key string) (int64, error) {
	if s == nil || s.client == nil {
		return 0, errors.New("numbering: redis sequencer not initialised")
	}
	n, err := s.client.Incr(ctx, redisKey(tenantID, key)).Result()
	if err != nil {
		return 0, fmt.Errorf("numbering: incr: %w", err)
	}
	return n, nil
}

var raiseScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
local floor = tonumber(ARGV[1])
if current < floor then
  redis.call("SET", KEYS[1], floor)
  return floor
end
return current`)

// EnsureAtLeast raises the counter to floor if it is lower, so numbers
// already issued before a Redis flush are never handed out again.
func (s *RedisSequencer) EnsureAtLeast(ctx context.Context, tenantID uuid.UUID, key string, floor int64) (int64, error) {
	if s == nil || s.client == nil {
		return 0, errors.New("numbering: redis sequencer not initialised")
	}
	n, err := raiseScript.Run(ctx, s.client, []string{redisKey(tenantID, key)}, floor).Int64()
	if err != nil {
		return 0, fmt.Errorf("numbering: raise: %w", err)
	}
	return n, nil
}

// PostgresSequencer keeps counters in document_sequences.
type PostgresSequencer struct {
	db db.DBTX
}

// NewPostgresSequencer constructs PostgresSequencer.
func NewPostgresSequencer(conn db.DBTX) *PostgresSequencer {
	return &PostgresSequencer{db: conn}
}

// NextSequence implements Sequencer with an atomic upsert.
func (s *PostgresSequencer) NextSequence(ctx context.Context, tenantID uuid.UUID, key string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("numbering: postgres sequencer not initialised")
	}
	var seq int64
	err := s.db.QueryRow(ctx, `INSERT INTO document_sequences (tenant_id, doc_type, seq)
VALUES ($1, $2, 1)
ON CONFLICT (tenant_id, doc_type) DO UPDATE SET seq = document_sequences.seq + 1
RETURNING seq`, tenantID, key).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("numbering: next sequence: %w", db.MapError(err))
	}
	return seq, nil
}
