package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_ClaimIdempotency(t *testing.T) {
	cache := NewMemoryCache()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }
	ctx := context.Background()

	bound, claimed, err := cache.ClaimIdempotency(ctx, "submit:alice:k1", "req-1")
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, "req-1", bound)

	bound, claimed, err = cache.ClaimIdempotency(ctx, "submit:alice:k1", "req-2")
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, "req-1", bound)

	require.NoError(t, cache.ReleaseIdempotency(ctx, "submit:alice:k1"))
	_, claimed, err = cache.ClaimIdempotency(ctx, "submit:alice:k1", "req-3")
	require.NoError(t, err)
	assert.True(t, claimed)

	now = now.Add(idempotencyKeyTTL + time.Second)
	bound, claimed, err = cache.ClaimIdempotency(ctx, "submit:alice:k1", "req-4")
	require.NoError(t, err)
	assert.True(t, claimed, "expired keys can be claimed again")
	assert.Equal(t, "req-4", bound)
}

func TestMemoryCache_SweepsExpiredKeys(t *testing.T) {
	cache := NewMemoryCache()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }
	ctx := context.Background()

	for _, key := range []string{"submit:alice:k1", "submit:alice:k2", "submit:bob:k1"} {
		_, claimed, err := cache.ClaimIdempotency(ctx, key, "req")
		require.NoError(t, err)
		require.True(t, claimed)
	}
	assert.Len(t, cache.entries, 3)

	now = now.Add(idempotencyKeyTTL + cacheSweepInterval)
	_, claimed, err := cache.ClaimIdempotency(ctx, "submit:carol:k1", "req")
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Len(t, cache.entries, 1)
}
