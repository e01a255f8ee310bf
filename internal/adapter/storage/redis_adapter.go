package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/resource-allocator/internal/port"
)

const (
	idempotencyKeyPrefix = "idempotency:"
	idempotencyKeyTTL    = 24 * time.Hour
)

// claimScript binds the key when free and always answers with the bound value,
// so a concurrent claimer never observes a half-written key.
var claimScript = redis.NewScript(`
local key = KEYS[1]
local value = ARGV[1]
local ttl = tonumber(ARGV[2])

if redis.call('SET', key, value, 'NX', 'PX', ttl) then
	return {1, value}
end

return {0, redis.call('GET', key)}
`)

type RedisAdapter struct {
	client *redis.Client
}

var _ port.CacheRepository = (*RedisAdapter)(nil)

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

func (r *RedisAdapter) ClaimIdempotency(ctx context.Context, key, value string) (string, bool, error) {
	result, err := claimScript.Run(ctx, r.client, []string{idempotencyKeyPrefix + key}, value, idempotencyKeyTTL.Milliseconds()).Slice()
	if err != nil {
		return "", false, fmt.Errorf("claim idempotency key: %w", err)
	}
	if len(result) != 2 {
		return "", false, fmt.Errorf("claim idempotency key: unexpected reply %v", result)
	}

	claimed, _ := result[0].(int64)
	bound, _ := result[1].(string)
	return bound, claimed == 1, nil
}

func (r *RedisAdapter) ReleaseIdempotency(ctx context.Context, key string) error {
	err := r.client.Del(ctx, idempotencyKeyPrefix+key).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}
