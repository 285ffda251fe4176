package numbering

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func newRedisSequencer(t *testing.T) (*RedisSequencer, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisSequencer(client), srv
}

func TestFormat(t *testing.T) {
	require.Equal(t, "GRV-000042", Format("GRV", 42))
	require.Equal(t, "GRV-1234567", Format("GRV", 1234567))
}

func TestRedisSequencerIncrementsPerTenantAndKey(t *testing.T) {
	seq, _ := newRedisSequencer(t)
	ctx := context.Background()
	tenantA, tenantB := uuid.New(), uuid.New()

	n, err := seq.NextSequence(ctx, tenantA, "GRV")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	n, err = seq.NextSequence(ctx, tenantA, "GRV")
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	n, err = seq.NextSequence(ctx, tenantB, "GRV")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	n, err = seq.NextSequence(ctx, tenantA, "INV")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestRedisSequencerUniqueUnderConcurrency(t *testing.T) {
	seq, _ := newRedisSequencer(t)
	tenant := uuid.New()

	var mu sync.Mutex
	seen := make(map[int64]bool)
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 50; i++ {
		g.Go(func() error {
			n, err := seq.NextSequence(ctx, tenant, "GRV")
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			if seen[n] {
				return fmt.Errorf("duplicate sequence %d", n)
			}
			seen[n] = true
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.Len(t, seen, 50)
}

func TestRedisSequencerEnsureAtLeast(t *testing.T) {
	seq, srv := newRedisSequencer(t)
	ctx := context.Background()
	tenant := uuid.New()

	n, err := seq.EnsureAtLeast(ctx, tenant, "GRV", 40)
	require.NoError(t, err)
	require.Equal(t, int64(40), n)

	next, err := seq.NextSequence(ctx, tenant, "GRV")
	require.NoError(t, err)
	require.Equal(t, int64(41), next)

	n, err = seq.EnsureAtLeast(ctx, tenant, "GRV", 5)
	require.NoError(t, err)
	require.Equal(t, int64(41), n)

	srv.FlushAll()
	n, err = seq.EnsureAtLeast(ctx, tenant, "GRV", 41)
	require.NoError(t, err)
	require.Equal(t, int64(41), n)
}

func TestRedisSequencerSurfacesErrors(t *testing.T) {
	seq, srv := newRedisSequencer(t)
	srv.Close()
	_, err := seq.NextSequence(context.Background(), uuid.New(), "GRV")
	require.Error(t, err)
}
