package cache

import (
	"context"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

const keyPrefix = "concierge:"

// MemcachedCache implements Cache using memcached. Entries are stored inside
// a freshness envelope with a physical expiry of TTL + staleRetention.
type MemcachedCache struct {
	client         *memcache.Client
	staleRetention time.Duration
}

// NewMemcachedCache creates a MemcachedCache. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// configure the client; both use package defaults if zero.
func NewMemcachedCache(addrs string, timeout time.Duration, maxIdleConns int, staleRetention time.Duration) (*MemcachedCache, error) {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedCache{client: client, staleRetention: staleRetention}, nil
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

func (c *MemcachedCache) key(k string) string {
	return keyPrefix + k
}

// Get implements Cache.Get. Returns false, nil on cache miss or logical expiry;
// false, err on backend error.
func (c *MemcachedCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if ctx.Err() != nil {
		return nil, false, ctx.Err()
	}
	item, err := c.client.Get(c.key(key))
	if err != nil {
		if err == memcache.ErrCacheMiss {
			return nil, false, nil
		}
		return nil, false, err
	}
	env, err := unwrap(item.Value)
	if err != nil {
		return nil, false, err
	}
	if !env.fresh(time.Now()) {
		return nil, false, nil
	}
	return env.Payload, true, nil
}

// GetStale implements Cache.GetStale.
func (c *MemcachedCache) GetStale(ctx context.Context, key string, maxAge time.Duration) ([]byte, time.Time, bool, error) {
	if ctx.Err() != nil {
		return nil, time.Time{}, false, ctx.Err()
	}
	item, err := c.client.Get(c.key(key))
	if err != nil {
		if err == memcache.ErrCacheMiss {
			return nil, time.Time{}, false, nil
		}
		return nil, time.Time{}, false, err
	}
	env, err := unwrap(item.Value)
	if err != nil {
		return nil, time.Time{}, false, err
	}
	if time.Since(env.StoredAt) > maxAge {
		return nil, time.Time{}, false, nil
	}
	return env.Payload, env.StoredAt, true, nil
}

// Set implements Cache.Set.
func (c *MemcachedCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	raw, err := wrap(value, ttl)
	if err != nil {
		return err
	}
	expSec := int32((ttl + c.staleRetention).Seconds())
	const maxRelativeExp = 30 * 24 * 60 * 60 // 30 days
	if expSec <= 0 || expSec > maxRelativeExp {
		expSec = 3600 // fallback 1h if invalid
	}
	return c.client.Set(&memcache.Item{
		Key:        c.key(key),
		Value:      raw,
		Expiration: expSec,
	})
}

// Ping checks if memcached is reachable. Used for health checks.
func (c *MemcachedCache) Ping() error {
	return c.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (c *MemcachedCache) Close() error {
	return c.client.Close()
}
