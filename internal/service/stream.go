package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/xiaot623/gogo/runplane/internal/domain"
	"github.com/xiaot623/gogo/runplane/internal/stream"
)

// Attach subscribes to a run's event stream starting at fromSeq (zero for the
// oldest retained event). A run with no live log in this process is replayed
// from its stored stream events. A seq that is no longer retained fails with
// a *domain.StreamGapError; the caller rebuilds from checkpoints instead.
func (s *Service) Attach(ctx context.Context, principal, runID string, fromSeq int64) (*stream.Subscription, error) {
	run, err := s.run(ctx, principal, runID, actionRead)
	if err != nil {
		return nil, err
	}
	sub, err := s.hub.Subscribe(runID, fromSeq)
	if err == nil || !errors.Is(err, domain.ErrNotFound) {
		return sub, err
	}

	// No live log in this process.
	if run.Status.IsTerminal() || run.Status == domain.RunStatusInterrupted {
		restored, err := s.restoreStream(ctx, run)
		if err != nil {
			return nil, err
		}
		if restored {
			return s.hub.Subscribe(runID, fromSeq)
		}
	}
	switch {
	case run.Status.IsTerminal():
		// Nothing stored; only the end sentinel is served, at the run's last seq.
		after := run.LastEventSeq - 1
		if after < 0 {
			after = 0
		}
		s.hub.Open(runID, after)
		s.hub.Close(runID, mustJSON(map[string]domain.RunStatus{"status": run.Status}))
	case run.Status == domain.RunStatusInterrupted:
		// Resume continues numbering after the persisted seq.
		s.hub.Open(runID, run.LastEventSeq)
		s.hub.Park(runID)
	default:
		return nil, fmt.Errorf("run %s is not executing on this server: %w", runID, domain.ErrNotFound)
	}
	return s.hub.Subscribe(runID, fromSeq)
}

// restoreStream rebuilds a settled run's log from storage, keeping at most as
// many events as a live log would. It reports false when storage does not
// reach the run's last seq.
func (s *Service) restoreStream(ctx context.Context, run *domain.Run) (bool, error) {
	if run.LastEventSeq == 0 {
		return false, nil
	}
	capacity := s.hub.Capacity()
	after := run.LastEventSeq - int64(capacity)
	if after < 0 {
		after = 0
	}
	events, err := s.backend.ListStreamEvents(ctx, run.RunID, after, capacity)
	if err != nil {
		return false, err
	}
	if len(events) == 0 || events[len(events)-1].Seq != run.LastEventSeq {
		return false, nil
	}
	for i := 1; i < len(events); i++ {
		if events[i].Seq != events[i-1].Seq+1 {
			return false, nil
		}
	}
	s.hub.Restore(run.RunID, events)
	if run.Status == domain.RunStatusInterrupted {
		s.hub.Park(run.RunID)
	}
	return true, nil
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
