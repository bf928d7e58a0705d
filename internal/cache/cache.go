package cache

import (
	"context"
	"sync"
	"time"
)

// Cache is a byte-payload cache with logical freshness separate from physical
// eviction. Get returns fresh entries only; GetStale also returns expired
// entries younger than maxAge, for serving degraded responses when an
// upstream is down. Implementations are safe for concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	GetStale(ctx context.Context, key string, maxAge time.Duration) ([]byte, time.Time, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// InMemoryCache implements Cache using a map guarded by a mutex. Expired
// entries are retained up to staleRetention past expiry so GetStale can
// still find them, then dropped on access.
type InMemoryCache struct {
	mu             sync.RWMutex
	data           map[string]memEntry
	staleRetention time.Duration
}

type memEntry struct {
	value     []byte
	storedAt  time.Time
	expiresAt time.Time
}

// NewInMemoryCache creates an in-memory cache. staleRetention bounds how long
// expired entries stay reachable via GetStale (0 drops them at expiry).
func NewInMemoryCache(staleRetention time.Duration) *InMemoryCache {
	return &InMemoryCache{
		data:           make(map[string]memEntry),
		staleRetention: staleRetention,
	}
}

// Get retrieves a fresh entry. Returns (value, true, nil) on hit,
// (nil, false, nil) on miss or expiry.
func (c *InMemoryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	entry, ok := c.data[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}

	now := time.Now()
	if now.After(entry.expiresAt) {
		if now.After(entry.expiresAt.Add(c.staleRetention)) {
			c.mu.Lock()
			delete(c.data, key)
			c.mu.Unlock()
		}
		return nil, false, nil
	}

	return entry.value, true, nil
}

// GetStale retrieves an entry regardless of expiry as long as it was stored
// within maxAge. Returns the value and its stored-at time.
func (c *InMemoryCache) GetStale(ctx context.Context, key string, maxAge time.Duration) ([]byte, time.Time, bool, error) {
	c.mu.RLock()
	entry, ok := c.data[key]
	c.mu.RUnlock()
	if !ok {
		return nil, time.Time{}, false, nil
	}
	if time.Since(entry.storedAt) > maxAge {
		return nil, time.Time{}, false, nil
	}
	return entry.value, entry.storedAt, true, nil
}

// Set stores a value with the given logical TTL.
func (c *InMemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	now := time.Now()
	c.mu.Lock()
	c.data[key] = memEntry{
		value:     value,
		storedAt:  now,
		expiresAt: now.Add(ttl),
	}
	c.mu.Unlock()
	return nil
}
