package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

func newLocker(t *testing.T, opts Options) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLocker(client, opts, nil), srv
}

func TestAcquireIsExclusive(t *testing.T) {
	locker, _ := newLocker(t, Options{})
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "lock:t:receipt:1")
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "lock:t:receipt:1")
	require.ErrorIs(t, err, shared.ErrConcurrencyConflict)

	other, err := locker.Acquire(ctx, "lock:t:receipt:2")
	require.NoError(t, err)
	other()

	release()
	again, err := locker.Acquire(ctx, "lock:t:receipt:1")
	require.NoError(t, err)
	again()
}

func TestLockExpiresAfterTTL(t *testing.T) {
	locker, srv := newLocker(t, Options{TTL: time.Second})
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "lock:t:receipt:1")
	require.NoError(t, err)
	srv.FastForward(2 * time.Second)

	next, err := locker.Acquire(ctx, "lock:t:receipt:1")
	require.NoError(t, err)
	next()
	release()
}
