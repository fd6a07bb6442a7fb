// Package lock enforces a single active run per thread with leased,
// heartbeat-renewed locks.
package lock

import (
	"context"
	"time"

	"github.com/xiaot623/gogo/runplane/internal/repository"
)

var (
	// ErrHeld is returned by Acquire when another owner holds a live lease.
	ErrHeld = repository.ErrLockHeld
	// ErrLost is returned by Renew when the caller no longer owns the lock.
	ErrLost = repository.ErrLockLost
)

// Locker is a leased mutual-exclusion primitive keyed by thread id.
type Locker interface {
	Acquire(ctx context.Context, threadID, owner string, ttl time.Duration) error
	Renew(ctx context.Context, threadID, owner string, ttl time.Duration) error
	// Release is a no-op when owner does not hold the lock.
	Release(ctx context.Context, threadID, owner string) error
	Holder(ctx context.Context, threadID string) (owner string, held bool, err error)
}

// BackendLocker keeps locks in the storage backend's lock table.
type BackendLocker struct {
	backend repository.Backend
}

// NewBackendLocker returns a Locker backed by b.
func NewBackendLocker(b repository.Backend) *BackendLocker {
	return &BackendLocker{backend: b}
}

func (l *BackendLocker) Acquire(ctx context.Context, threadID, owner string, ttl time.Duration) error {
	return l.backend.AcquireLock(ctx, threadID, owner, ttl)
}

func (l *BackendLocker) Renew(ctx context.Context, threadID, owner string, ttl time.Duration) error {
	return l.backend.RenewLock(ctx, threadID, owner, ttl)
}

func (l *BackendLocker) Release(ctx context.Context, threadID, owner string) error {
	return l.backend.ReleaseLock(ctx, threadID, owner)
}

func (l *BackendLocker) Holder(ctx context.Context, threadID string) (string, bool, error) {
	return l.backend.LockHolder(ctx, threadID)
}
