package driven

import (
	"context"
	"time"
)

// DistributedLock serialises embedding computations of one content hash
// across worker processes. Locks are named ("embed:<hash>") and expire on
// their own so a crashed holder cannot block a hash forever.
type DistributedLock interface {
	// Acquire takes the named lock for ttl. It returns false without error
	// when another owner holds it.
	Acquire(ctx context.Context, name string, ttl time.Duration) (acquired bool, err error)

	// Release drops a lock this owner holds. Releasing an expired or foreign
	// lock is a no-op.
	Release(ctx context.Context, name string) error

	// Extend resets the expiry of a lock this owner still holds and fails
	// when the lock was lost.
	Extend(ctx context.Context, name string, ttl time.Duration) error

	Ping(ctx context.Context) error
}
