package lock

import (
	"context"
	"sync"
	"time"
)

// MemoryLocker implements Locker in-process, for tests and single-node
// development setups.
type MemoryLocker struct {
	mu     sync.Mutex
	leases map[string]time.Time
	now    func() time.Time
}

// NewMemoryLocker creates an in-process locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		leases: make(map[string]time.Time),
		now:    time.Now,
	}
}

func (l *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	if expiry, held := l.leases[key]; held && expiry.After(now) {
		return nil, false, nil
	}

	l.leases[key] = now.Add(ttl)

	release := func() {
		l.mu.Lock()
		defer l.mu.Unlock()

		delete(l.leases, key)
	}

	return release, true, nil
}
