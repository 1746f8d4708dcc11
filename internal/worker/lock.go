package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// RedisLock is a Locker backed by a single-try redsync mutex.
type RedisLock struct {
	mu *redsync.Mutex
}

// NewRedisLock returns a lock named name that expires after ttl if its
// holder dies.
func NewRedisLock(client redis.UniversalClient, name string, ttl time.Duration) *RedisLock {
	rs := redsync.New(goredis.NewPool(client))
	return &RedisLock{mu: rs.NewMutex(name, redsync.WithExpiry(ttl), redsync.WithTries(1))}
}

// TryLock acquires the lock without waiting.
func (l *RedisLock) TryLock(ctx context.Context) (func(), error) {
	if err := l.mu.TryLockContext(ctx); err != nil {
		return nil, fmt.Errorf("lock %s: %w", l.mu.Name(), err)
	}
	return func() {
		if _, err := l.mu.UnlockContext(context.WithoutCancel(ctx)); err != nil {
			slog.LogAttrs(ctx, slog.LevelWarn, "lock release failed",
				slog.String("lock", l.mu.Name()),
				slog.String("error", err.Error()),
			)
		}
	}, nil
}
