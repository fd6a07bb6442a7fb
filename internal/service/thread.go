package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/xiaot623/gogo/runplane/internal/domain"
	"github.com/xiaot623/gogo/runplane/internal/lock"
	"github.com/xiaot623/gogo/runplane/internal/log"
)

// CreateThread creates a thread owned by principal.
func (s *Service) CreateThread(ctx context.Context, principal string, req domain.CreateThreadRequest) (*domain.Thread, error) {
	if len(req.Metadata) > 0 && !isJSONObject(req.Metadata) {
		return nil, fmt.Errorf("metadata must be a JSON object: %w", domain.ErrInvalidArgument)
	}
	switch req.IfExists {
	case "", "raise", "do_nothing":
	default:
		return nil, fmt.Errorf("if_exists must be raise or do_nothing: %w", domain.ErrInvalidArgument)
	}

	thread := &domain.Thread{
		ThreadID: strings.TrimSpace(req.ThreadID),
		Owner:    principal,
		Metadata: req.Metadata,
	}
	if thread.ThreadID == "" {
		thread.ThreadID = uuid.NewString()
	}
	err := s.backend.CreateThread(ctx, thread)
	if errors.Is(err, domain.ErrConstraint) {
		if req.IfExists == "do_nothing" {
			return s.thread(ctx, principal, thread.ThreadID, actionRead)
		}
		return nil, fmt.Errorf("thread %s already exists: %w", thread.ThreadID, domain.ErrInvalidState)
	}
	if err != nil {
		return nil, fmt.Errorf("create thread: %w", err)
	}
	return thread, nil
}

// GetThread returns a thread visible to principal.
func (s *Service) GetThread(ctx context.Context, principal, threadID string) (*domain.Thread, error) {
	return s.thread(ctx, principal, threadID, actionRead)
}

// ListThreads lists the principal's threads, newest first. An empty principal
// sees only unowned threads.
func (s *Service) ListThreads(ctx context.Context, principal string, limit, offset int) ([]domain.Thread, error) {
	threads, err := s.backend.ListThreads(ctx, principal, limit, offset)
	if err != nil {
		return nil, err
	}
	visible := threads[:0]
	for _, t := range threads {
		if err := s.authorize(ctx, principal, t.Owner, actionRead, "thread "+t.ThreadID); err == nil {
			visible = append(visible, t)
		} else if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}
	return visible, nil
}

// DeleteThread removes a thread with its runs and checkpoints. A thread with
// an active run cannot be deleted.
func (s *Service) DeleteThread(ctx context.Context, principal, threadID string) error {
	if _, err := s.thread(ctx, principal, threadID, actionWrite); err != nil {
		return err
	}
	if err := s.ensureIdle(ctx, threadID); err != nil {
		return err
	}
	return s.withThreadLock(ctx, threadID, "delete", func() error {
		if err := s.ensureIdle(ctx, threadID); err != nil {
			return err
		}
		return s.backend.DeleteThread(ctx, threadID)
	})
}

// GetState resolves the thread's current state, or the state at checkpointID.
func (s *Service) GetState(ctx context.Context, principal, threadID, checkpointID string) (*domain.ThreadState, error) {
	if _, err := s.thread(ctx, principal, threadID, actionRead); err != nil {
		return nil, err
	}
	state := &domain.ThreadState{ThreadID: threadID, Values: json.RawMessage(`{}`)}

	var (
		cp  *domain.Checkpoint
		err error
	)
	if checkpointID != "" {
		cp, err = s.checkpoints.Get(ctx, threadID, checkpointID)
	} else {
		cp, err = s.checkpoints.GetLatest(ctx, threadID)
		if errors.Is(err, domain.ErrNotFound) {
			err = nil
		}
	}
	if err != nil {
		return nil, err
	}
	if cp != nil {
		state.Values = cp.State
		state.CheckpointID = cp.CheckpointID
		state.ParentID = cp.ParentID
		state.Seq = cp.Seq
	}

	runs, err := s.backend.ListRuns(ctx, threadID, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) > 0 && runs[0].Status == domain.RunStatusInterrupted {
		state.Interrupts = runs[0].Interrupt
	}
	return state, nil
}

// UpdateState writes values on top of the thread's state as a new checkpoint.
// It is refused while a run is executing on the thread.
func (s *Service) UpdateState(ctx context.Context, principal, threadID string, req domain.UpdateStateRequest) (*domain.Checkpoint, error) {
	if !isJSONObject(req.Values) {
		return nil, fmt.Errorf("values must be a JSON object: %w", domain.ErrInvalidArgument)
	}
	if _, err := s.thread(ctx, principal, threadID, actionWrite); err != nil {
		return nil, err
	}
	var cp *domain.Checkpoint
	err := s.withThreadLock(ctx, threadID, "update", func() error {
		var err error
		cp, err = s.checkpoints.UpdateState(ctx, threadID, req.CheckpointID, req.Values, false)
		return err
	})
	return cp, err
}

// History lists checkpoints newest first, below seq before (zero for all).
func (s *Service) History(ctx context.Context, principal, threadID string, before int64, limit int) ([]domain.Checkpoint, error) {
	if _, err := s.thread(ctx, principal, threadID, actionRead); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}
	var out []domain.Checkpoint
	for cp, err := range s.checkpoints.List(ctx, threadID, before, limit) {
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

// GetCheckpoint returns one checkpoint of a thread.
func (s *Service) GetCheckpoint(ctx context.Context, principal, threadID, checkpointID string) (*domain.Checkpoint, error) {
	if _, err := s.thread(ctx, principal, threadID, actionRead); err != nil {
		return nil, err
	}
	return s.checkpoints.Get(ctx, threadID, checkpointID)
}

// ForkThread copies checkpointID into a new current checkpoint, so the next
// run continues from that point on a new branch.
func (s *Service) ForkThread(ctx context.Context, principal, threadID string, req domain.ForkThreadRequest) (*domain.Checkpoint, error) {
	if req.CheckpointID == "" {
		return nil, fmt.Errorf("checkpoint_id is required: %w", domain.ErrInvalidArgument)
	}
	if _, err := s.thread(ctx, principal, threadID, actionWrite); err != nil {
		return nil, err
	}
	var cp *domain.Checkpoint
	err := s.withThreadLock(ctx, threadID, "fork", func() error {
		if err := s.ensureIdle(ctx, threadID); err != nil {
			return err
		}
		var err error
		cp, err = s.checkpoints.Fork(ctx, threadID, req.CheckpointID)
		return err
	})
	if err != nil {
		return nil, err
	}
	log.Infof("thread %s: forked %s from %s", threadID, cp.CheckpointID, req.CheckpointID)
	return cp, nil
}

// RewindThread moves the thread's current pointer back to an existing
// checkpoint without writing a new one.
func (s *Service) RewindThread(ctx context.Context, principal, threadID string, req domain.RewindThreadRequest) (*domain.ThreadState, error) {
	if req.CheckpointID == "" {
		return nil, fmt.Errorf("checkpoint_id is required: %w", domain.ErrInvalidArgument)
	}
	if _, err := s.thread(ctx, principal, threadID, actionWrite); err != nil {
		return nil, err
	}
	err := s.withThreadLock(ctx, threadID, "rewind", func() error {
		if err := s.ensureIdle(ctx, threadID); err != nil {
			return err
		}
		return s.checkpoints.Rewind(ctx, threadID, req.CheckpointID)
	})
	if err != nil {
		return nil, err
	}
	log.Infof("thread %s: rewound to %s", threadID, req.CheckpointID)
	return s.GetState(ctx, principal, threadID, "")
}

// CheckpointLineage walks from checkpointID to the thread's root through
// parent links, child first. limit caps the walk; zero means 100.
func (s *Service) CheckpointLineage(ctx context.Context, principal, threadID, checkpointID string, limit int) ([]domain.Checkpoint, error) {
	if _, err := s.thread(ctx, principal, threadID, actionRead); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	var out []domain.Checkpoint
	for cp, err := range s.checkpoints.Ancestors(ctx, threadID, checkpointID) {
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// withThreadLock holds the thread's execution lock around fn, so fn cannot
// interleave with a run.
func (s *Service) withThreadLock(ctx context.Context, threadID, purpose string, fn func() error) error {
	lease, err := s.locks.Acquire(ctx, threadID, purpose+":"+uuid.NewString())
	if err != nil {
		return err
	}
	defer releaseLease(ctx, lease)
	return fn()
}

func (s *Service) ensureIdle(ctx context.Context, threadID string) error {
	runs, err := s.backend.ListRuns(ctx, threadID, 0)
	if err != nil {
		return err
	}
	for _, r := range runs {
		if r.Status == domain.RunStatusPending || r.Status.IsActive() {
			return fmt.Errorf("thread %s has active run %s: %w", threadID, r.RunID, domain.ErrInvalidState)
		}
	}
	return nil
}

func releaseLease(ctx context.Context, lease *lock.Lease) {
	if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
		log.Warnf("thread %s: release lease of %s: %v", lease.ThreadID(), lease.Owner(), err)
	}
}

func isJSONObject(raw json.RawMessage) bool {
	var m map[string]json.RawMessage
	return len(raw) > 0 && json.Unmarshal(raw, &m) == nil && m != nil
}
