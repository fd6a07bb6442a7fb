package stream

import (
	"context"
	"io"

	"github.com/xiaot623/gogo/runplane/internal/domain"
)

// Subscription is one consumer's cursor into a run's log.
type Subscription struct {
	log    *Log
	cursor int64 // next seq to deliver
	acked  int64
	ended  bool
}

// RunID returns the run being consumed.
func (s *Subscription) RunID() string { return s.log.runID }

// Next blocks until the next event is available or ctx is done. After the end
// sentinel has been returned it yields io.EOF. A consumer that fell behind the
// buffer gets a *domain.StreamGapError.
func (s *Subscription) Next(ctx context.Context) (domain.StreamEvent, error) {
	for {
		l := s.log
		l.mu.Lock()
		if s.ended {
			l.mu.Unlock()
			return domain.StreamEvent{}, io.EOF
		}
		if s.cursor < l.first {
			err := &domain.StreamGapError{RunID: l.runID, Requested: s.cursor, Oldest: l.first}
			l.mu.Unlock()
			return domain.StreamEvent{}, err
		}
		if s.cursor < l.next {
			ev := l.ring[s.cursor%int64(len(l.ring))]
			s.cursor++
			if ev.Event == domain.EventTypeEnd {
				s.ended = true
			}
			l.mu.Unlock()
			return ev, nil
		}
		wake := l.wake
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return domain.StreamEvent{}, ctx.Err()
		case <-wake:
		}
	}
}

// Ack records that the consumer processed everything up to seq. Once every
// consumer has acked the end sentinel the log is discarded early.
func (s *Subscription) Ack(seq int64) {
	l := s.log
	l.mu.Lock()
	if seq > s.acked {
		s.acked = seq
	}
	drained := l.drainedLocked()
	l.mu.Unlock()
	if drained {
		l.setTimer(0, nil)
		l.hub.discard(l)
	}
}

// Acked returns the highest acknowledged seq.
func (s *Subscription) Acked() int64 {
	s.log.mu.Lock()
	defer s.log.mu.Unlock()
	return s.acked
}

// Close detaches the consumer. A reattach resumes from Acked()+1.
func (s *Subscription) Close() {
	l := s.log
	l.mu.Lock()
	delete(l.subs, s)
	l.mu.Unlock()
}
