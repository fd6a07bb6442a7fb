// Package stream fans a run's events out to any number of consumers. Each run
// has a bounded log; consumers hold their own cursor into it, so they can join
// late or reattach after a disconnect.
package stream

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/xiaot623/gogo/runplane/internal/domain"
	"github.com/xiaot623/gogo/runplane/internal/log"
)

const (
	DefaultCapacity = 1024
	DefaultGrace    = time.Minute
)

// Hub manages the live logs of all runs in the process.
type Hub struct {
	capacity int
	grace    time.Duration
	now      func() time.Time

	mu   sync.RWMutex
	logs map[string]*Log
}

// Option configures a Hub.
type Option func(*Hub)

// WithCapacity sets the per-run buffer size.
func WithCapacity(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.capacity = n
		}
	}
}

// WithGrace sets how long a finished or parked log is kept for trailing reads.
func WithGrace(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.grace = d
		}
	}
}

// NewHub creates an empty hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		capacity: DefaultCapacity,
		grace:    DefaultGrace,
		now:      time.Now,
		logs:     make(map[string]*Log),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Open returns the run's log, creating it if needed. A new log numbers its
// events after startAfter so seqs never repeat across process restarts.
// Opening a parked log cancels its discard.
func (h *Hub) Open(runID string, startAfter int64) *Log {
	h.mu.Lock()
	defer h.mu.Unlock()
	if l, ok := h.logs[runID]; ok {
		l.revive()
		return l
	}
	l := newLog(h, runID, startAfter, h.capacity)
	h.logs[runID] = l
	log.Debugf("stream %s: opened after seq %d", runID, startAfter)
	return l
}

// Restore rebuilds a run's log from persisted events when this process holds
// none. Events must be ascending; replay stops at the first hole. A restored
// log ending in the end sentinel is closed and discarded after the grace
// period. An existing log is returned untouched.
func (h *Hub) Restore(runID string, events []domain.StreamEvent) *Log {
	h.mu.Lock()
	defer h.mu.Unlock()
	if l, ok := h.logs[runID]; ok {
		return l
	}
	var startAfter int64
	if len(events) > 0 {
		startAfter = events[0].Seq - 1
	}
	l := newLog(h, runID, startAfter, h.capacity)
	l.mu.Lock()
	for _, ev := range events {
		if ev.Seq != l.next {
			break
		}
		l.putLocked(ev)
		if ev.Event == domain.EventTypeEnd {
			l.closed = true
			l.endSeq = ev.Seq
			break
		}
	}
	if l.closed {
		l.timer = time.AfterFunc(h.grace, func() { h.discard(l) })
	}
	l.mu.Unlock()
	h.logs[runID] = l
	log.Debugf("stream %s: restored %d events", runID, len(events))
	return l
}

// Get returns the run's log if it is still held.
func (h *Hub) Get(runID string) (*Log, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	l, ok := h.logs[runID]
	return l, ok
}

// Publish appends an event to an open log.
func (h *Hub) Publish(runID string, event domain.EventType, data json.RawMessage) (int64, error) {
	l, ok := h.Get(runID)
	if !ok {
		return 0, fmt.Errorf("stream %s: %w", runID, domain.ErrNotFound)
	}
	return l.Publish(event, data)
}

// Subscribe attaches a consumer whose first event is fromSeq. Zero means the
// oldest retained event. A fromSeq that was already evicted fails with a
// *domain.StreamGapError; one past the next seq to be published fails with
// domain.ErrInvalidArgument. Subscribing past the end of a closed log yields
// a subscription that is already at io.EOF.
func (h *Hub) Subscribe(runID string, fromSeq int64) (*Subscription, error) {
	l, ok := h.Get(runID)
	if !ok {
		return nil, fmt.Errorf("stream %s: %w", runID, domain.ErrNotFound)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if fromSeq <= 0 {
		fromSeq = l.first
	}
	if fromSeq < l.first {
		return nil, &domain.StreamGapError{RunID: runID, Requested: fromSeq, Oldest: l.first}
	}
	if fromSeq > l.next {
		return nil, fmt.Errorf("stream %s: from_seq %d is past the last seq %d: %w",
			runID, fromSeq, l.next-1, domain.ErrInvalidArgument)
	}
	s := &Subscription{log: l, cursor: fromSeq, acked: fromSeq - 1}
	s.ended = l.closed && fromSeq > l.endSeq
	l.subs[s] = struct{}{}
	return s, nil
}

// Consumers reports how many consumers are attached to the run.
func (h *Hub) Consumers(runID string) int {
	l, ok := h.Get(runID)
	if !ok {
		return 0
	}
	return l.Consumers()
}

// Close emits the end sentinel and keeps the log for the grace period.
func (h *Hub) Close(runID string, data json.RawMessage) {
	l, ok := h.Get(runID)
	if !ok {
		return
	}
	if !l.close(data) {
		return
	}
	l.setTimer(h.grace, func() { h.discard(l) })
	log.Debugf("stream %s: closed at seq %d", runID, l.LastSeq())
}

// Park schedules discard of an open log after the grace period without
// ending it. Used while a run waits on input; Open revives it. A parked log
// is kept past the grace period for as long as consumers are attached, so
// they see the events of the resumed run.
func (h *Hub) Park(runID string) {
	if l, ok := h.Get(runID); ok {
		l.park(h.grace, func() { h.expireParked(l) })
	}
}

// Capacity returns the per-run buffer size.
func (h *Hub) Capacity() int { return h.capacity }

// Len returns the number of logs held.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.logs)
}

func (h *Hub) expireParked(l *Log) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.logs[l.runID] != l {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.parked {
		return
	}
	if len(l.subs) > 0 {
		l.timer = time.AfterFunc(h.grace, func() { h.expireParked(l) })
		return
	}
	delete(h.logs, l.runID)
	log.Debugf("stream %s: parked log expired", l.runID)
}

func (h *Hub) discard(l *Log) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.logs[l.runID] == l {
		delete(h.logs, l.runID)
		log.Debugf("stream %s: discarded", l.runID)
	}
}
