package storage

import (
	"context"
	"sync"
	"time"

	"github.com/rl1809/resource-allocator/internal/port"
)

// expired keys are swept at most this often
const cacheSweepInterval = time.Minute

type cacheEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryCache is the in-process counterpart of RedisAdapter.
type MemoryCache struct {
	mu        sync.Mutex
	entries   map[string]cacheEntry
	now       func() time.Time
	nextSweep time.Time
}

var _ port.CacheRepository = (*MemoryCache)(nil)

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

func (c *MemoryCache) ClaimIdempotency(_ context.Context, key, value string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.sweep(now)
	if e, ok := c.entries[key]; ok && now.Before(e.expiresAt) {
		return e.value, false, nil
	}
	c.entries[key] = cacheEntry{value: value, expiresAt: now.Add(idempotencyKeyTTL)}
	return value, true, nil
}

func (c *MemoryCache) ReleaseIdempotency(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
	return nil
}

func (c *MemoryCache) sweep(now time.Time) {
	if now.Before(c.nextSweep) {
		return
	}
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, key)
		}
	}
	c.nextSweep = now.Add(cacheSweepInterval)
}
