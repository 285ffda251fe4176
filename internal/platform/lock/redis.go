// Package lock provides distributed document locks backed by Redis.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// DefaultTTL bounds how long a crashed holder can block a document.
const DefaultTTL = 30 * time.Second

// Options tunes lock acquisition.
type Options struct {
	TTL time.Duration
	// Wait is how long Acquire retries before giving up. Zero tries once.
	Wait time.Duration
}

// RedisLocker hands out per-key locks.
type RedisLocker struct {
	client *redislock.Client
	opts   Options
	logger *slog.Logger
}

// NewRedisLocker constructs RedisLocker.
func NewRedisLocker(client redis.Scripter, opts Options, logger *slog.Logger) *RedisLocker {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLocker{client: redislock.New(client), opts: opts, logger: logger}
}

// Acquire obtains the lock for key. A held lock surfaces as
// shared.ErrConcurrencyConflict so callers can retry.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	var obtainOpts *redislock.Options
	if l.opts.Wait > 0 {
		retries := int(l.opts.Wait / (100 * time.Millisecond))
		obtainOpts = &redislock.Options{
			RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), max(retries, 1)),
		}
	}
	held, err := l.client.Obtain(ctx, key, l.opts.TTL, obtainOpts)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("lock %s held elsewhere: %w", key, shared.ErrConcurrencyConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", key, err)
	}
	return func() {
		// the caller's context may already be done
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := held.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			l.logger.Warn("release lock", slog.String("key", key), slog.Any("error", err))
		}
	}, nil
}
