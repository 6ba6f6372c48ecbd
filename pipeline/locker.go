package pipeline

import (
	"context"
	"time"

	"github.com/opscale-io/orderflow/dlock"
)

// RedisLocker adapts dlock.Lock to the Locker interface.
type RedisLocker struct {
	Lock *dlock.Lock
}

func (r RedisLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (Lease, bool) {
	lease, ok := r.Lock.Acquire(ctx, name, ttl)
	if !ok {
		return nil, false
	}
	return lease, true
}
