package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/rl1809/resource-allocator/internal/core/domain"
	"github.com/rl1809/resource-allocator/internal/port"
)

const (
	lockKeyPrefix    = "lock:"
	lockRetryBackoff = 25 * time.Millisecond
)

// RedisLocker serializes work on an entity across every process sharing the
// Redis instance. The lock TTL bounds how long a crashed holder can block others.
type RedisLocker struct {
	locker *redislock.Client
	wait   time.Duration
	ttl    time.Duration
	log    *logrus.Entry
}

var _ port.Locker = (*RedisLocker)(nil)

func NewRedisLocker(client *redis.Client, wait, ttl time.Duration, log *logrus.Logger) *RedisLocker {
	return &RedisLocker{
		locker: redislock.New(client),
		wait:   wait,
		ttl:    ttl,
		log:    log.WithField("module", "redis_locker"),
	}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	obtainCtx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	lock, err := l.locker.Obtain(obtainCtx, lockKeyPrefix+key, l.ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(lockRetryBackoff),
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, ctx.Err())
		}
		if errors.Is(err, redislock.ErrNotObtained) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: lock %s not acquired within %s", domain.ErrConflict, key, l.wait)
		}
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}

	return func() {
		// the caller's context may already be cancelled; release must still run
		releaseCtx, cancel := context.WithTimeout(context.Background(), l.wait)
		defer cancel()
		if err := lock.Release(releaseCtx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			l.log.WithError(err).WithField("key", key).Warn("release lock")
		}
	}, nil
}
