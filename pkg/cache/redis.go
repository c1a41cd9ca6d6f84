package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/tablero/tablero/pkg/observability"
)

// RedisCache implements Cache backed by Redis. This is the backend for
// multi-instance deployments, where invalidations must be visible to every
// instance.
type RedisCache struct {
	client *redis.Client
	logger *observability.Logger
}

// RedisOptions configures the redis cache backend
type RedisOptions struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

// NewRedisCache creates a redis-backed cache and verifies connectivity.
func NewRedisCache(ctx context.Context, opts RedisOptions, logger *observability.Logger) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.URL,
		Password: opts.Password,
		DB:       opts.DB,
		PoolSize: opts.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{
		client: client,
		logger: logger.WithField("component", "redis_cache"),
	}, nil
}

// Get decodes the value stored under key into dst. Returns false on miss.
func (c *RedisCache) Get(ctx context.Context, key string, dst any) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get cache key %s: %w", key, err)
	}

	if err := json.Unmarshal(data, dst); err != nil {
		// A corrupt entry behaves like a miss so the caller reloads it.
		c.logger.WithError(err).WithField("key", key).Warn("Dropping undecodable cache entry")
		c.client.Del(ctx, key)
		return false, nil
	}

	return true, nil
}

// Put stores value under key with the given TTL
func (c *RedisCache) Put(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache value for %s: %w", key, err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cache key %s: %w", key, err)
	}

	return nil
}

// Forget removes the given keys
func (c *RedisCache) Forget(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete cache keys: %w", err)
	}
	return nil
}

// Client exposes the underlying redis client so the session store can share
// the connection pool.
func (c *RedisCache) Client() *redis.Client {
	return c.client
}

// Close releases the redis connection pool
func (c *RedisCache) Close() error {
	return c.client.Close()
}
