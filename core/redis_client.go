// Package core provides the shared domain model, configuration, logging,
// and the Redis client wrapper used by the cache, lock, and failure ledger.
package core

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisClient provides a simplified Redis interface with optional key
// namespacing. The cache, distributed lock, and failure ledger all share a
// single connection pool through this wrapper.
type RedisClient struct {
	client    *redis.Client
	namespace string
	logger    Logger
}

// RedisClientOptions configures the Redis client.
type RedisClientOptions struct {
	Addr      string // host:port
	DB        int
	Namespace string // optional key prefix
	Logger    Logger // optional
}

// NewRedisClient creates a Redis client and verifies connectivity.
func NewRedisClient(opts RedisClientOptions) (*RedisClient, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("redis address is required: %w", ErrInvalidConfiguration)
	}
	if opts.Logger == nil {
		opts.Logger = &NoOpLogger{}
	}

	client := redis.NewClient(&redis.Options{
		Addr: opts.Addr,
		DB:   opts.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		opts.Logger.Error("Failed to connect to Redis", map[string]interface{}{
			"error": err,
			"addr":  opts.Addr,
			"db":    opts.DB,
		})
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", opts.Addr, ErrConnectionFailed)
	}

	opts.Logger.Info("Redis client connected", map[string]interface{}{
		"addr":      opts.Addr,
		"db":        opts.DB,
		"namespace": opts.Namespace,
	})

	return &RedisClient{
		client:    client,
		namespace: opts.Namespace,
		logger:    opts.Logger,
	}, nil
}

// Close closes the Redis connection.
func (r *RedisClient) Close() error {
	return r.client.Close()
}

func (r *RedisClient) formatKey(key string) string {
	if r.namespace != "" {
		return fmt.Sprintf("%s:%s", r.namespace, key)
	}
	return key
}

// Get retrieves a value. Returns redis.Nil error on a missing key.
func (r *RedisClient) Get(ctx context.Context, key string) (string, error) {
	return r.client.Get(ctx, r.formatKey(key)).Result()
}

// IsMiss reports whether a Get error means the key does not exist.
func IsMiss(err error) bool {
	return err == redis.Nil
}

// Set stores a value with optional TTL (0 means no expiry).
func (r *RedisClient) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return r.client.Set(ctx, r.formatKey(key), value, ttl).Err()
}

// SetNX stores a value only if the key is absent. Returns whether it was set.
func (r *RedisClient) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, r.formatKey(key), value, ttl).Result()
}

// Del deletes keys.
func (r *RedisClient) Del(ctx context.Context, keys ...string) (int64, error) {
	formatted := make([]string, len(keys))
	for i, key := range keys {
		formatted[i] = r.formatKey(key)
	}
	return r.client.Del(ctx, formatted...).Result()
}

// Exists reports whether a key exists.
func (r *RedisClient) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, r.formatKey(key)).Result()
	return n > 0, err
}

// Expire sets a TTL on an existing key. Returns whether the key existed.
func (r *RedisClient) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return r.client.Expire(ctx, r.formatKey(key), ttl).Result()
}

// TTL gets the TTL of a key. The Redis sentinel replies pass through
// unscaled: -2 when the key is absent, -1 when it has no expiry.
func (r *RedisClient) TTL(ctx context.Context, key string) (time.Duration, error) {
	return r.client.TTL(ctx, r.formatKey(key)).Result()
}

// Incr increments a counter.
func (r *RedisClient) Incr(ctx context.Context, key string) (int64, error) {
	return r.client.Incr(ctx, r.formatKey(key)).Result()
}

// Eval runs a Lua script against namespaced keys.
func (r *RedisClient) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	formatted := make([]string, len(keys))
	for i, key := range keys {
		formatted[i] = r.formatKey(key)
	}
	return r.client.Eval(ctx, script, formatted, args...).Result()
}

// HealthCheck verifies Redis connectivity.
func (r *RedisClient) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
