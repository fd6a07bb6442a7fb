package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/xiaot623/gogo/runplane/internal/domain"
)

const joinPollInterval = 100 * time.Millisecond

// GetRun returns a run visible to principal.
func (s *Service) GetRun(ctx context.Context, principal, runID string) (*domain.Run, error) {
	return s.run(ctx, principal, runID, actionRead)
}

// ListRuns lists a thread's runs, newest first.
func (s *Service) ListRuns(ctx context.Context, principal, threadID string, limit int) ([]domain.Run, error) {
	if _, err := s.thread(ctx, principal, threadID, actionRead); err != nil {
		return nil, err
	}
	return s.backend.ListRuns(ctx, threadID, limit)
}

// RunEvents returns the run's lifecycle audit records after afterSeq.
func (s *Service) RunEvents(ctx context.Context, principal, runID string, afterSeq int64, limit int) ([]domain.RunEvent, error) {
	if _, err := s.run(ctx, principal, runID, actionRead); err != nil {
		return nil, err
	}
	return s.backend.ListRunEvents(ctx, runID, afterSeq, limit)
}

// Join waits up to timeout for the run to stop executing and returns it.
// A run that failed in its graph also returns its *domain.ComputationFault.
// When the wait times out the run is returned as it stands.
func (s *Service) Join(ctx context.Context, principal, runID string, timeout time.Duration) (*domain.Run, error) {
	run, err := s.run(ctx, principal, runID, actionRead)
	if err != nil {
		return nil, err
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ticker := time.NewTicker(joinPollInterval)
	defer ticker.Stop()
	for !settled(run.Status) {
		if done, ok := s.exec.Done(runID); ok {
			select {
			case <-done:
			case <-ctx.Done():
				return run, nil
			}
		} else {
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return run, nil
			}
		}
		if run, err = s.backend.GetRun(context.WithoutCancel(ctx), runID); err != nil {
			return nil, err
		}
	}
	return run, faultOf(run)
}

func settled(status domain.RunStatus) bool {
	return status == domain.RunStatusInterrupted || status.IsTerminal()
}

// faultOf rebuilds the computation fault recorded on a failed run.
func faultOf(run *domain.Run) error {
	if run.Status != domain.RunStatusError || len(run.Error) == 0 {
		return nil
	}
	var p domain.ErrorPayload
	if err := json.Unmarshal(run.Error, &p); err != nil || p.Code != "computation_fault" {
		return nil
	}
	return &domain.ComputationFault{
		RunID:        run.RunID,
		CheckpointID: p.CheckpointID,
		Seq:          p.Seq,
		Err:          errors.New(p.Message),
	}
}
