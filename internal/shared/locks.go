package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const lockRetryStep = 50 * time.Millisecond

// StockLockKey builds redis keys for per-item stock critical sections.
func StockLockKey(itemID uuid.UUID) string {
	return fmt.Sprintf("inventory:item:%s:lock", itemID)
}

// Locker serialises critical sections across service instances.
type Locker struct {
	client *redislock.Client
	ttl    time.Duration
	wait   time.Duration
}

// NewLocker builds a Locker. ttl bounds how long a crashed holder keeps the
// lock; wait is how long Obtain keeps retrying before giving up.
func NewLocker(client *redis.Client, ttl, wait time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Locker{client: redislock.New(client), ttl: ttl, wait: wait}
}

// WithLock runs fn while holding key. A nil Locker runs fn unguarded.
func (l *Locker) WithLock(ctx context.Context, key string, fn func(context.Context) error) error {
	if l == nil || l.client == nil {
		return fn(ctx)
	}
	strategy := redislock.NoRetry()
	if retries := int(l.wait / lockRetryStep); retries > 0 {
		strategy = redislock.LimitRetry(redislock.LinearBackoff(lockRetryStep), retries)
	}
	lock, err := l.client.Obtain(ctx, key, l.ttl, &redislock.Options{RetryStrategy: strategy})
	if errors.Is(err, redislock.ErrNotObtained) {
		return ErrLockNotObtained
	}
	if err != nil {
		return fmt.Errorf("obtain lock %s: %w", key, err)
	}
	defer func() {
		_ = lock.Release(context.WithoutCancel(ctx))
	}()
	return fn(ctx)
}
