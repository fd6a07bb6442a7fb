package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/xiaot623/gogo/runplane/internal/domain"
	"github.com/xiaot623/gogo/runplane/internal/log"
	"github.com/xiaot623/gogo/runplane/internal/runner"
	"github.com/xiaot623/gogo/runplane/internal/scheduler"
)

// CreateRun starts a run of an assistant on a thread. The thread lock is
// taken first, so a second run on a busy thread fails with
// domain.ErrThreadBusy before any execution slot is consumed. The returned
// run is a snapshot taken before execution starts.
func (s *Service) CreateRun(ctx context.Context, principal, threadID string, req domain.CreateRunRequest) (*domain.Run, error) {
	if req.AssistantID == "" {
		return nil, fmt.Errorf("assistant_id is required: %w", domain.ErrInvalidArgument)
	}
	if len(req.Config) > 0 && !isJSONObject(req.Config) {
		return nil, fmt.Errorf("config must be a JSON object: %w", domain.ErrInvalidArgument)
	}
	if len(req.Metadata) > 0 && !isJSONObject(req.Metadata) {
		return nil, fmt.Errorf("metadata must be a JSON object: %w", domain.ErrInvalidArgument)
	}
	if len(req.Input) > 0 && !json.Valid(req.Input) {
		return nil, fmt.Errorf("input is not valid JSON: %w", domain.ErrInvalidArgument)
	}
	if _, err := s.exec.ResolveAssistant(ctx, req.AssistantID); err != nil {
		return nil, err
	}
	if _, err := s.thread(ctx, principal, threadID, actionWrite); err != nil {
		return nil, err
	}

	run := &domain.Run{
		RunID:        uuid.NewString(),
		ThreadID:     threadID,
		AssistantID:  req.AssistantID,
		Owner:        principal,
		Status:       domain.RunStatusPending,
		Input:        req.Input,
		Config:       req.Config,
		Metadata:     req.Metadata,
		CheckpointID: req.CheckpointID,
	}

	lease, err := s.locks.Acquire(ctx, threadID, run.RunID)
	if err != nil {
		return nil, err
	}
	started := false
	defer func() {
		if !started {
			releaseLease(ctx, lease)
		}
	}()

	if err := s.settleThread(ctx, threadID); err != nil {
		return nil, err
	}
	if req.CheckpointID != "" {
		if _, err := s.checkpoints.Get(ctx, threadID, req.CheckpointID); err != nil {
			return nil, err
		}
	}

	slot, err := s.admit(ctx, req.FailFast, req.WaitMs)
	if err != nil {
		return nil, err
	}
	if err := s.exec.Create(ctx, run); err != nil {
		slot.Release()
		return nil, fmt.Errorf("create run: %w", err)
	}
	snapshot := *run
	s.hub.Open(run.RunID, 0)

	started = true
	if err := s.start(runner.Job{Run: run, Lease: lease}, slot); err != nil {
		return nil, err
	}
	log.Infof("run %s: created on thread %s (assistant=%s)", run.RunID, threadID, run.AssistantID)
	return &snapshot, nil
}

// ResumeRun continues an interrupted run with the payload it asked for.
func (s *Service) ResumeRun(ctx context.Context, principal, runID string, payload json.RawMessage) (*domain.Run, error) {
	if len(payload) > 0 && !json.Valid(payload) {
		return nil, fmt.Errorf("resume payload is not valid JSON: %w", domain.ErrInvalidArgument)
	}
	run, err := s.run(ctx, principal, runID, actionWrite)
	if err != nil {
		return nil, err
	}
	if run.Status != domain.RunStatusInterrupted {
		return nil, fmt.Errorf("run %s is %s, not interrupted: %w", runID, run.Status, domain.ErrInvalidState)
	}

	lease, err := s.locks.Acquire(ctx, run.ThreadID, run.RunID)
	if err != nil {
		return nil, err
	}
	started := false
	defer func() {
		if !started {
			releaseLease(ctx, lease)
		}
	}()

	slot, err := s.admit(ctx, false, 0)
	if err != nil {
		return nil, err
	}
	// Re-read under the lock: a cancel may have won the race.
	if run, err = s.backend.GetRun(ctx, runID); err != nil {
		slot.Release()
		return nil, err
	}
	if err := s.exec.MarkResumed(ctx, run, payload); err != nil {
		slot.Release()
		return nil, err
	}
	snapshot := *run

	started = true
	if err := s.start(runner.Job{Run: run, Lease: lease}, slot); err != nil {
		return nil, err
	}
	log.Infof("run %s: resumed", run.RunID)
	return &snapshot, nil
}

// CancelRun asks a run to stop. An executing run observes the request at its
// next step boundary; a pending or interrupted run is cancelled at once.
func (s *Service) CancelRun(ctx context.Context, principal, runID string) (*domain.Run, error) {
	run, err := s.run(ctx, principal, runID, actionWrite)
	if err != nil {
		return nil, err
	}
	if run.Status.IsTerminal() {
		return nil, fmt.Errorf("run %s is already %s: %w", runID, run.Status, domain.ErrInvalidState)
	}
	if s.exec.RequestCancel(runID) {
		log.Infof("run %s: cancellation requested", runID)
		return run, nil
	}

	if run.Status.IsActive() {
		// Not executing here. Only an orphan, whose lock has lapsed, can be
		// settled from this process.
		if _, held, err := s.locks.Holder(ctx, run.ThreadID); err != nil {
			return nil, err
		} else if held {
			return nil, fmt.Errorf("run %s is executing on another worker: %w", runID, domain.ErrInvalidState)
		}
	}
	if err := s.exec.CancelIdle(ctx, run); err != nil {
		if errors.Is(err, domain.ErrInvalidState) && s.exec.RequestCancel(runID) {
			// A worker picked the run up in between.
			return run, nil
		}
		return nil, err
	}
	log.Infof("run %s: cancelled", runID)
	return run, nil
}

// admit reserves an execution slot. failFast overrides the configured mode;
// a positive waitMs overrides the configured admission timeout.
func (s *Service) admit(ctx context.Context, failFast bool, waitMs int) (*scheduler.Slot, error) {
	mode := s.config.AdmissionMode
	if failFast {
		mode = domain.AdmissionFailFast
	}
	timeout := s.config.AdmissionTimeout
	if waitMs > 0 {
		timeout = time.Duration(waitMs) * time.Millisecond
	}
	return s.dispatcher.Admit(ctx, mode, timeout)
}

// start hands the job to the worker pool. The slot is consumed either way.
func (s *Service) start(job runner.Job, slot *scheduler.Slot) error {
	submitted := false
	err := s.exec.Start(s.runCtx, job, func(fn func()) error {
		submitted = true
		return s.dispatcher.Submit(slot, fn)
	})
	if !submitted {
		slot.Release()
		releaseLease(s.runCtx, job.Lease)
	}
	return err
}

// settleThread checks, under the thread lock, that no earlier run still
// claims the thread. An interrupted run keeps the thread busy until it is
// resumed or cancelled. An active run found here lost its lease, so it is
// reclaimed before the new run starts.
func (s *Service) settleThread(ctx context.Context, threadID string) error {
	runs, err := s.backend.ListRuns(ctx, threadID, 0)
	if err != nil {
		return err
	}
	for i := range runs {
		r := &runs[i]
		switch {
		case r.Status == domain.RunStatusInterrupted:
			return fmt.Errorf("thread %s: run %s is waiting on input: %w", threadID, r.RunID, domain.ErrThreadBusy)
		case r.Status == domain.RunStatusPending || r.Status.IsActive():
			if _, executing := s.exec.Done(r.RunID); executing {
				return fmt.Errorf("thread %s: run %s is executing: %w", threadID, r.RunID, domain.ErrThreadBusy)
			}
			if err := s.exec.Reclaim(ctx, r, s.config.ReclaimPolicy); err != nil && !errors.Is(err, domain.ErrInvalidState) {
				return fmt.Errorf("reclaim run %s: %w", r.RunID, err)
			}
			log.Warnf("run %s: reclaimed before new run on thread %s", r.RunID, threadID)
			if r.Status == domain.RunStatusInterrupted {
				return fmt.Errorf("thread %s: run %s is waiting on input: %w", threadID, r.RunID, domain.ErrThreadBusy)
			}
		}
	}
	return nil
}
