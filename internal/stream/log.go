package stream

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/xiaot623/gogo/runplane/internal/domain"
)

// ErrClosed is returned when publishing to a log that already emitted its end sentinel.
var ErrClosed = errors.New("stream closed")

// Log is the bounded event buffer of one run. Seqs are contiguous; once the
// ring is full the oldest event is evicted so the producer never blocks.
type Log struct {
	hub   *Hub
	runID string

	mu     sync.Mutex
	ring   []domain.StreamEvent
	first  int64 // oldest retained seq
	next   int64 // seq the next publish gets
	closed bool
	parked bool
	endSeq int64
	wake   chan struct{}
	subs   map[*Subscription]struct{}
	timer  *time.Timer
}

func newLog(h *Hub, runID string, startAfter int64, capacity int) *Log {
	return &Log{
		hub:   h,
		runID: runID,
		ring:  make([]domain.StreamEvent, capacity),
		first: startAfter + 1,
		next:  startAfter + 1,
		wake:  make(chan struct{}),
		subs:  make(map[*Subscription]struct{}),
	}
}

// RunID returns the run the log belongs to.
func (l *Log) RunID() string { return l.runID }

// Publish appends an event and wakes waiting consumers. It returns the event's seq.
func (l *Log) Publish(event domain.EventType, data json.RawMessage) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, ErrClosed
	}
	return l.appendLocked(event, data), nil
}

func (l *Log) appendLocked(event domain.EventType, data json.RawMessage) int64 {
	seq := l.next
	l.putLocked(domain.StreamEvent{
		Seq:   seq,
		RunID: l.runID,
		Event: event,
		Data:  data,
		Ts:    l.hub.now().UnixMilli(),
	})
	return seq
}

// putLocked stores ev at l.next, evicting the oldest event if the ring is full.
func (l *Log) putLocked(ev domain.StreamEvent) {
	ev.RunID = l.runID
	l.ring[ev.Seq%int64(len(l.ring))] = ev
	l.next = ev.Seq + 1
	if l.next-l.first > int64(len(l.ring)) {
		l.first = l.next - int64(len(l.ring))
	}
	close(l.wake)
	l.wake = make(chan struct{})
}

// LastSeq returns the seq of the most recent event, or the start offset if none.
func (l *Log) LastSeq() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.next - 1
}

// Closed reports whether the end sentinel was published.
func (l *Log) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Consumers returns the number of attached subscriptions.
func (l *Log) Consumers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subs)
}

// close publishes the end sentinel. It reports false if the log was already closed.
func (l *Log) close(data json.RawMessage) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.endSeq = l.appendLocked(domain.EventTypeEnd, data)
	l.closed = true
	l.parked = false
	return true
}

// setTimer replaces the pending discard timer. A zero d only cancels it.
func (l *Log) setTimer(d time.Duration, fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopTimerLocked()
	if d > 0 {
		l.timer = time.AfterFunc(d, fn)
	}
}

// park arms fn to run after d and marks the log as waiting on input.
func (l *Log) park(d time.Duration, fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.stopTimerLocked()
	l.parked = true
	l.timer = time.AfterFunc(d, fn)
}

// revive cancels a pending discard. The caller holds the hub lock.
func (l *Log) revive() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.parked = false
	l.stopTimerLocked()
}

func (l *Log) stopTimerLocked() {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}

// drained reports whether every attached consumer acked the end sentinel.
func (l *Log) drainedLocked() bool {
	if !l.closed || len(l.subs) == 0 {
		return false
	}
	for s := range l.subs {
		if s.acked < l.endSeq {
			return false
		}
	}
	return true
}
