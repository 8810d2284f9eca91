// Package lock provides the single-writer lease that keeps the trigger
// path and the scheduler path from executing the same enrollment's next
// hop at the same time. A losing contender skips its tick and retries on
// the next due check.
package lock

import (
	"context"
	"time"
)

// Locker acquires short-lived exclusive leases keyed by string.
type Locker interface {
	// Acquire tries to take the lease. On success it returns acquired=true
	// and a release function; on contention it returns acquired=false and
	// a nil release.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), acquired bool, err error)
}
