package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/liamcoop/annotations/internal/logger"
)

const redisKeyPrefix = "annotations:owner:"

// RedisCache is a Cache shared between processes. Records are stored as
// one JSON array per owner.
type RedisCache struct {
	client *redis.Client
	config CacheConfig
}

// NewRedisCache connects to addr and verifies the connection
func NewRedisCache(ctx context.Context, addr string, config CacheConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return NewRedisCacheWithClient(client, config), nil
}

// NewRedisCacheWithClient wraps an existing client
func NewRedisCacheWithClient(client *redis.Client, config CacheConfig) *RedisCache {
	return &RedisCache{client: client, config: config}
}

func (c *RedisCache) key(owner Owner) string {
	return redisKeyPrefix + owner.String()
}

// Get retrieves cached records. Redis errors are logged and treated as misses
func (c *RedisCache) Get(ctx context.Context, owner Owner) []*Record {
	data, err := c.client.Get(ctx, c.key(owner)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		logger.Warn("redis cache get failed", "owner", owner.String(), "error", err)
		return nil
	}

	records := []*Record{}
	if err := json.Unmarshal(data, &records); err != nil {
		logger.Warn("redis cache entry corrupt", "owner", owner.String(), "error", err)
		return nil
	}
	return records
}

// Set stores records with the configured TTL
func (c *RedisCache) Set(ctx context.Context, owner Owner, records []*Record) {
	if records == nil {
		records = []*Record{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		logger.Warn("failed to marshal records for redis cache", "owner", owner.String(), "error", err)
		return
	}

	if err := c.client.Set(ctx, c.key(owner), data, c.config.TTL).Err(); err != nil {
		logger.Warn("redis cache set failed", "owner", owner.String(), "error", err)
	}
}

// Invalidate deletes the owner's entry
func (c *RedisCache) Invalidate(ctx context.Context, owner Owner) {
	if err := c.client.Del(ctx, c.key(owner)).Err(); err != nil {
		logger.Warn("redis cache invalidate failed", "owner", owner.String(), "error", err)
	}
}

// IsValid reports whether an entry exists for owner
func (c *RedisCache) IsValid(ctx context.Context, owner Owner) bool {
	n, err := c.client.Exists(ctx, c.key(owner)).Result()
	if err != nil {
		logger.Warn("redis cache exists failed", "owner", owner.String(), "error", err)
		return false
	}
	return n > 0
}

// Close closes the underlying client
func (c *RedisCache) Close() error {
	return c.client.Close()
}
