// Package scheduler bounds how many runs execute at once and runs them on a
// worker pool.
package scheduler

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/xiaot623/gogo/runplane/internal/domain"
	"github.com/xiaot623/gogo/runplane/internal/log"
)

// Stats is a snapshot of dispatcher load.
type Stats struct {
	Capacity int `json:"capacity"`
	Active   int `json:"active"`
	Waiting  int `json:"waiting"`
}

// Dispatcher hands out execution slots. When all slots are taken, callers
// either wait in arrival order or are rejected, depending on the mode.
type Dispatcher struct {
	capacity   int
	retryAfter time.Duration
	pool       *ants.Pool

	mu      sync.Mutex
	active  int
	waiters *list.List // of *waiter, oldest first
}

type waiter struct {
	ready   chan struct{}
	granted bool
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithRetryAfter sets the hint returned with Overloaded rejections.
func WithRetryAfter(d time.Duration) Option {
	return func(s *Dispatcher) {
		if d > 0 {
			s.retryAfter = d
		}
	}
}

// New creates a dispatcher with capacity slots.
func New(capacity int, opts ...Option) (*Dispatcher, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("scheduler capacity must be positive, got %d", capacity)
	}
	d := &Dispatcher{
		capacity:   capacity,
		retryAfter: time.Second,
		waiters:    list.New(),
	}
	for _, opt := range opts {
		opt(d)
	}
	pool, err := ants.NewPool(capacity, ants.WithPanicHandler(func(p interface{}) {
		log.Errorf("scheduler: worker panic: %v", p)
	}))
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	d.pool = pool
	return d, nil
}

// Admit reserves a slot. In block mode it waits up to timeout (zero waits
// until ctx is done); in fail_fast mode it never waits. Rejections are
// *domain.OverloadedError.
func (d *Dispatcher) Admit(ctx context.Context, mode domain.AdmissionMode, timeout time.Duration) (*Slot, error) {
	d.mu.Lock()
	if d.active < d.capacity && d.waiters.Len() == 0 {
		d.active++
		d.mu.Unlock()
		return &Slot{d: d}, nil
	}
	if mode == domain.AdmissionFailFast {
		d.mu.Unlock()
		return nil, d.overloaded()
	}
	w := &waiter{ready: make(chan struct{})}
	elem := d.waiters.PushBack(w)
	d.mu.Unlock()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-w.ready:
		return &Slot{d: d}, nil
	case <-expired:
	case <-ctx.Done():
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if w.granted {
		// Granted while we were giving up; keep it.
		return &Slot{d: d}, nil
	}
	d.waiters.Remove(elem)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, d.overloaded()
}

func (d *Dispatcher) overloaded() error {
	return &domain.OverloadedError{RetryAfter: d.retryAfter}
}

// release hands the slot to the oldest waiter or frees it.
func (d *Dispatcher) release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if front := d.waiters.Front(); front != nil {
		w := d.waiters.Remove(front).(*waiter)
		w.granted = true
		close(w.ready)
		return
	}
	d.active--
}

// Submit runs fn on the worker pool and frees the slot when fn returns.
func (d *Dispatcher) Submit(slot *Slot, fn func()) error {
	err := d.pool.Submit(func() {
		defer slot.Release()
		fn()
	})
	if err != nil {
		slot.Release()
		return fmt.Errorf("submit run: %w", err)
	}
	return nil
}

// Stats reports current load.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{Capacity: d.capacity, Active: d.active, Waiting: d.waiters.Len()}
}

// Shutdown stops accepting work and waits up to timeout for running workers.
func (d *Dispatcher) Shutdown(timeout time.Duration) error {
	return d.pool.ReleaseTimeout(timeout)
}

// Slot is a reserved unit of run concurrency.
type Slot struct {
	d    *Dispatcher
	once sync.Once
}

// Release returns the slot. Extra calls are no-ops.
func (s *Slot) Release() {
	s.once.Do(s.d.release)
}
