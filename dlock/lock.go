// Package dlock implements the per-order distributed lock on Redis.
//
// A lease is an atomic SET NX with TTL holding a random token. Release and
// extend are token-checked with a Lua compare, so a worker that overran its
// TTL cannot free or prolong a lease that has since been claimed by another
// worker. The order store's unique index remains the final idempotency
// backstop if a lease expires mid-flight.
package dlock

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/opscale-io/orderflow/core"
)

// LockKeyPrefix is prepended to the orderId to form the lease name.
const LockKeyPrefix = "order:lock:"

// compare-and-delete: release only the lease we still own.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`

// compare-and-expire: extend only the lease we still own.
const extendScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0`

// Lock acquires and inspects named leases.
type Lock struct {
	redis  *core.RedisClient
	logger core.Logger
}

// New creates a Lock.
func New(redis *core.RedisClient, logger core.Logger) *Lock {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Lock{redis: redis, logger: logger}
}

// Lease is an acquired lock held by this process.
type Lease struct {
	lock  *Lock
	name  string
	token string
}

// Name returns the lease key.
func (l *Lease) Name() string { return l.name }

// Acquire attempts an atomic set-if-absent with TTL. It returns false both
// when another holder owns the lease and when Redis is unreachable; lock
// acquisition failure is a skip signal, never an error.
func (l *Lock) Acquire(ctx context.Context, name string, ttl time.Duration) (*Lease, bool) {
	token := uuid.NewString()

	ok, err := l.redis.SetNX(ctx, name, token, ttl)
	if err != nil {
		l.logger.Warn("Lock acquisition failed", map[string]interface{}{
			"name":  name,
			"error": err,
		})
		return nil, false
	}
	if !ok {
		l.logger.Debug("Lock contended", map[string]interface{}{"name": name})
		return nil, false
	}

	return &Lease{lock: l, name: name, token: token}, true
}

// Release frees the lease if this process still holds it. Releasing an
// expired or re-acquired lease is a no-op.
func (le *Lease) Release(ctx context.Context) bool {
	res, err := le.lock.redis.Eval(ctx, releaseScript, []string{le.name}, le.token)
	if err != nil {
		le.lock.logger.Warn("Lock release failed", map[string]interface{}{
			"name":  le.name,
			"error": err,
		})
		return false
	}
	n, _ := res.(int64)
	return n > 0
}

// Extend pushes the lease TTL forward if this process still holds it.
func (le *Lease) Extend(ctx context.Context, ttl time.Duration) bool {
	res, err := le.lock.redis.Eval(ctx, extendScript, []string{le.name}, le.token, ttl.Milliseconds())
	if err != nil {
		le.lock.logger.Warn("Lock extend failed", map[string]interface{}{
			"name":  le.name,
			"error": err,
		})
		return false
	}
	n, _ := res.(int64)
	return n > 0
}

// IsHeld reports whether any holder currently owns the lease.
func (l *Lock) IsHeld(ctx context.Context, name string) (bool, error) {
	return l.redis.Exists(ctx, name)
}

// TTL returns the remaining lease time in seconds: -1 if the lease is
// absent, -2 if it exists without an expiry.
func (l *Lock) TTL(ctx context.Context, name string) (int64, error) {
	d, err := l.redis.TTL(ctx, name)
	if err != nil {
		return 0, err
	}
	// The client passes the TTL and PTTL sentinel replies through without
	// scaling: -2 means the key is missing, -1 means no expiry is set.
	switch d {
	case time.Duration(-2): // key missing
		return -1, nil
	case time.Duration(-1): // no expiry
		return -2, nil
	}
	return int64(d / time.Second), nil
}
