package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/xiaot623/gogo/runplane/internal/domain"
	"github.com/xiaot623/gogo/runplane/internal/log"
)

// Manager hands out self-renewing leases.
type Manager struct {
	locker    Locker
	ttl       time.Duration
	heartbeat time.Duration
}

// NewManager creates a manager. heartbeat must be shorter than ttl.
func NewManager(locker Locker, ttl, heartbeat time.Duration) *Manager {
	if heartbeat <= 0 || heartbeat >= ttl {
		heartbeat = ttl / 3
	}
	return &Manager{locker: locker, ttl: ttl, heartbeat: heartbeat}
}

// TTL returns the lease length.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Acquire takes the thread lock for owner and starts renewing it. A live lock
// held by anyone else fails with domain.ErrThreadBusy.
func (m *Manager) Acquire(ctx context.Context, threadID, owner string) (*Lease, error) {
	if err := m.locker.Acquire(ctx, threadID, owner, m.ttl); err != nil {
		if errors.Is(err, ErrHeld) {
			return nil, fmt.Errorf("thread %s: %w", threadID, domain.ErrThreadBusy)
		}
		return nil, fmt.Errorf("acquire thread lock %s: %w", threadID, err)
	}
	l := &Lease{
		m:        m,
		threadID: threadID,
		owner:    owner,
		lost:     make(chan struct{}),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go l.renewLoop()
	return l, nil
}

// Holder reports who holds a live lock on the thread.
func (m *Manager) Holder(ctx context.Context, threadID string) (string, bool, error) {
	return m.locker.Holder(ctx, threadID)
}

// Lease is a held thread lock. It renews itself until released or lost.
type Lease struct {
	m        *Manager
	threadID string
	owner    string

	lost     chan struct{}
	lostOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// ThreadID returns the locked thread.
func (l *Lease) ThreadID() string { return l.threadID }

// Owner returns the token the lock is held under.
func (l *Lease) Owner() string { return l.owner }

// Lost is closed when the lease can no longer be renewed. The holder must stop
// writing to the thread once it fires.
func (l *Lease) Lost() <-chan struct{} {
	return l.lost
}

// IsLost reports whether Lost has fired.
func (l *Lease) IsLost() bool {
	select {
	case <-l.lost:
		return true
	default:
		return false
	}
}

// Release stops renewal and drops the lock. Calling it more than once, or
// after the lease was lost, is a no-op.
func (l *Lease) Release(ctx context.Context) error {
	first := false
	l.stopOnce.Do(func() {
		first = true
		close(l.stop)
	})
	<-l.done
	if !first {
		return nil
	}
	if err := l.m.locker.Release(ctx, l.threadID, l.owner); err != nil {
		return fmt.Errorf("release thread lock %s: %w", l.threadID, err)
	}
	return nil
}

func (l *Lease) markLost() {
	l.lostOnce.Do(func() { close(l.lost) })
}

func (l *Lease) renewLoop() {
	defer close(l.done)
	ticker := time.NewTicker(l.m.heartbeat)
	defer ticker.Stop()

	lastRenewed := time.Now()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.m.heartbeat)
			err := l.m.locker.Renew(ctx, l.threadID, l.owner, l.m.ttl)
			cancel()
			switch {
			case err == nil:
				lastRenewed = time.Now()
			case errors.Is(err, ErrLost):
				log.Warnf("thread lock %s: lease lost by %s", l.threadID, l.owner)
				l.markLost()
				return
			default:
				log.Warnf("thread lock %s: renew failed: %v", l.threadID, err)
				if time.Since(lastRenewed) >= l.m.ttl {
					log.Warnf("thread lock %s: lease expired while renewals failed", l.threadID)
					l.markLost()
					return
				}
			}
		}
	}
}
