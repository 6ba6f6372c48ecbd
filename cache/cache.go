// Package cache implements the read-through JSON cache in front of the
// reference services. The cache is advisory: connectivity failures and
// corrupt entries degrade to a miss and never fail the pipeline.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/opscale-io/orderflow/core"
)

// Key prefixes and TTL defaults from the deployment contract.
const (
	ProductKeyPrefix  = "product:"
	CustomerKeyPrefix = "customer:"
)

// Cache is a JSON-encoding key/value cache over Redis.
type Cache struct {
	redis  *core.RedisClient
	logger core.Logger
}

// New creates a Cache.
func New(redis *core.RedisClient, logger core.Logger) *Cache {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Cache{redis: redis, logger: logger}
}

// Get loads a cached value into out. It returns (true, nil) on a hit.
// A corrupt entry is treated as a miss and logged; the caller is expected
// to re-fetch and overwrite. Connectivity failures return (false, err),
// which callers also treat as a miss.
func (c *Cache) Get(ctx context.Context, key string, out interface{}) (bool, error) {
	raw, err := c.redis.Get(ctx, key)
	if err != nil {
		if core.IsMiss(err) {
			return false, nil
		}
		c.logger.Warn("Cache read failed, treating as miss", map[string]interface{}{
			"key":   key,
			"error": err,
		})
		return false, err
	}

	if err := json.Unmarshal([]byte(raw), out); err != nil {
		c.logger.Warn("Corrupt cache entry, treating as miss", map[string]interface{}{
			"key":   key,
			"error": err,
		})
		return false, nil
	}
	return true, nil
}

// Set stores a JSON-encoded value with a TTL.
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if err := c.redis.Set(ctx, key, data, ttl); err != nil {
		c.logger.Warn("Cache write failed", map[string]interface{}{
			"key":   key,
			"error": err,
		})
		return err
	}
	return nil
}

// Delete removes a key. Returns whether it existed.
func (c *Cache) Delete(ctx context.Context, key string) (bool, error) {
	n, err := c.redis.Del(ctx, key)
	return n > 0, err
}

// Exists reports whether a key is present.
func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	return c.redis.Exists(ctx, key)
}

// Expire sets a TTL on an existing key. Returns whether the key existed.
func (c *Cache) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.redis.Expire(ctx, key, ttl)
}
