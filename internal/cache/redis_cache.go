package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache stores values in Redis under a common key prefix.
type RedisCache struct {
	rdb    redis.Cmdable
	prefix string
}

// NewRedisCache creates a Redis-backed Store.
func NewRedisCache(rdb redis.Cmdable, prefix string) *RedisCache {
	return &RedisCache{rdb: rdb, prefix: prefix}
}

func (c *RedisCache) key(k string) string {
	return c.prefix + k
}

func (c *RedisCache) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, c.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("cache put %s: %w", key, err)
	}
	return nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.rdb.Get(ctx, c.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cache get %s: %w", key, err)
	}
	return val, true, nil
}

func (c *RedisCache) Forget(ctx context.Context, key string) error {
	if err := c.rdb.Del(ctx, c.key(key)).Err(); err != nil {
		return fmt.Errorf("cache forget %s: %w", key, err)
	}
	return nil
}

func (c *RedisCache) Increment(ctx context.Context, key string) (int64, error) {
	n, err := c.rdb.Incr(ctx, c.key(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("cache increment %s: %w", key, err)
	}
	return n, nil
}

func (c *RedisCache) Driver() string {
	return "redis"
}
