package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache implements Cache using redis. Entries use the same freshness
// envelope as memcached; the key TTL covers logical TTL plus staleRetention.
type RedisCache struct {
	client         *redis.Client
	staleRetention time.Duration
}

// NewRedisCache creates a RedisCache against the given address and database.
func NewRedisCache(addr string, db int, staleRetention time.Duration) *RedisCache {
	return &RedisCache{
		client:         redis.NewClient(&redis.Options{Addr: addr, DB: db}),
		staleRetention: staleRetention,
	}
}

func (c *RedisCache) key(k string) string {
	return keyPrefix + k
}

// Get implements Cache.Get.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	env, err := unwrap(raw)
	if err != nil {
		return nil, false, err
	}
	if !env.fresh(time.Now()) {
		return nil, false, nil
	}
	return env.Payload, true, nil
}

// GetStale implements Cache.GetStale.
func (c *RedisCache) GetStale(ctx context.Context, key string, maxAge time.Duration) ([]byte, time.Time, bool, error) {
	raw, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, time.Time{}, false, nil
		}
		return nil, time.Time{}, false, err
	}
	env, err := unwrap(raw)
	if err != nil {
		return nil, time.Time{}, false, err
	}
	if time.Since(env.StoredAt) > maxAge {
		return nil, time.Time{}, false, nil
	}
	return env.Payload, env.StoredAt, true, nil
}

// Set implements Cache.Set.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	raw, err := wrap(value, ttl)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(key), raw, ttl+c.staleRetention).Err()
}

// Ping checks if redis is reachable. Used for health checks.
func (c *RedisCache) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return c.client.Ping(ctx).Err()
}

// Close closes the redis client. Call during shutdown.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
