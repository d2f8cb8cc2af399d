package driven

import (
	"context"
	"time"
)

// DistributedLock elects a single instance for work that must not run
// twice, such as the janitor's replay and purge sweeps. Job claiming does
// NOT use this: claims are atomic conditional updates in the JobStore and
// hold no lock across execution.
type DistributedLock interface {
	// Acquire attempts to take a named lock with the given TTL.
	// Returns true if acquired, false if another instance holds it.
	Acquire(ctx context.Context, name string, ttl time.Duration) (acquired bool, err error)

	// Release gives up a named lock. Best-effort: TTL-based
	// implementations expire the lock anyway, and releasing a lock that
	// is not held is not an error.
	Release(ctx context.Context, name string) error

	// Extend refreshes the TTL of a held lock. Implementations without
	// TTLs (PostgreSQL advisory locks) treat this as a no-op.
	Extend(ctx context.Context, name string, ttl time.Duration) error

	// Ping checks that the lock backend is healthy.
	Ping(ctx context.Context) error
}
