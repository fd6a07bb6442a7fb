// Package checkpoint maintains each thread's checkpoint forest and resolves
// its current state.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"

	"github.com/xiaot623/gogo/runplane/internal/domain"
	"github.com/xiaot623/gogo/runplane/internal/repository"
)

const defaultPageSize = 50

// PutRequest describes one checkpoint write. An empty ParentID writes a root.
type PutRequest struct {
	ThreadID string
	ParentID string
	RunID    string
	State    json.RawMessage
	Writes   json.RawMessage
	Metadata domain.CheckpointMetadata
	// Branch leaves the thread's current pointer untouched. Without it the
	// new checkpoint becomes current even when ParentID is not the current one.
	Branch bool
}

// Store reads and writes checkpoints through a storage backend.
type Store struct {
	backend  repository.Backend
	pageSize int
}

// New creates a checkpoint store.
func New(backend repository.Backend) *Store {
	return &Store{backend: backend, pageSize: defaultPageSize}
}

// Put writes a checkpoint in its own transaction and returns its id.
func (s *Store) Put(ctx context.Context, req PutRequest) (string, error) {
	cp, err := s.backend.PutCheckpoint(ctx, req.checkpoint(), repository.PutOptions{Branch: req.Branch})
	if err != nil {
		return "", err
	}
	return cp.CheckpointID, nil
}

// PutTx writes a checkpoint inside an enclosing transaction so it commits
// together with whatever else the transaction writes.
func (s *Store) PutTx(ctx context.Context, tx repository.Queries, req PutRequest) (*domain.Checkpoint, error) {
	return tx.PutCheckpoint(ctx, req.checkpoint(), repository.PutOptions{Branch: req.Branch})
}

func (r PutRequest) checkpoint() *domain.Checkpoint {
	return &domain.Checkpoint{
		ThreadID: r.ThreadID,
		ParentID: r.ParentID,
		RunID:    r.RunID,
		State:    r.State,
		Writes:   r.Writes,
		Metadata: r.Metadata,
	}
}

// GetLatest resolves the thread's current pointer. It fails with
// domain.ErrNotFound when the thread has no checkpoint yet.
func (s *Store) GetLatest(ctx context.Context, threadID string) (*domain.Checkpoint, error) {
	return s.backend.GetLatestCheckpoint(ctx, threadID)
}

// Get returns one checkpoint of a thread.
func (s *Store) Get(ctx context.Context, threadID, checkpointID string) (*domain.Checkpoint, error) {
	return s.backend.GetCheckpoint(ctx, threadID, checkpointID)
}

// List yields the thread's checkpoints newest first, starting below before
// (zero for the newest) and stopping after limit items (zero for all).
// Pages are fetched lazily; ranging over the sequence again starts over.
func (s *Store) List(ctx context.Context, threadID string, before int64, limit int) iter.Seq2[domain.Checkpoint, error] {
	return func(yield func(domain.Checkpoint, error) bool) {
		cursor := before
		emitted := 0
		for {
			size := s.pageSize
			if limit > 0 && limit-emitted < size {
				size = limit - emitted
			}
			page, err := s.backend.ListCheckpoints(ctx, threadID, repository.ListCheckpointsFilter{BeforeSeq: cursor, Limit: size})
			if err != nil {
				yield(domain.Checkpoint{}, err)
				return
			}
			for _, cp := range page {
				if !yield(cp, nil) {
					return
				}
				emitted++
			}
			if len(page) < size || (limit > 0 && emitted >= limit) {
				return
			}
			cursor = page[len(page)-1].Seq
		}
	}
}

// Ancestors yields a checkpoint and then each parent up to the root.
func (s *Store) Ancestors(ctx context.Context, threadID, checkpointID string) iter.Seq2[domain.Checkpoint, error] {
	return func(yield func(domain.Checkpoint, error) bool) {
		id := checkpointID
		for id != "" {
			cp, err := s.backend.GetCheckpoint(ctx, threadID, id)
			if err != nil {
				yield(domain.Checkpoint{}, err)
				return
			}
			if !yield(*cp, nil) {
				return
			}
			id = cp.ParentID
		}
	}
}

// UpdateState writes values on top of a checkpoint (the current one when
// asOf is empty) and moves the current pointer to the result unless branch is set.
func (s *Store) UpdateState(ctx context.Context, threadID, asOf string, values json.RawMessage, branch bool) (*domain.Checkpoint, error) {
	var base *domain.Checkpoint
	var err error
	if asOf != "" {
		base, err = s.Get(ctx, threadID, asOf)
	} else {
		base, err = s.GetLatest(ctx, threadID)
	}
	switch {
	case err == nil:
	case asOf == "" && isNotFound(err):
		base = nil
	default:
		return nil, err
	}

	req := PutRequest{
		ThreadID: threadID,
		Writes:   values,
		Metadata: domain.CheckpointMetadata{Source: domain.CheckpointSourceUpdate},
		Branch:   branch,
	}
	var prior json.RawMessage
	if base != nil {
		req.ParentID = base.CheckpointID
		req.Metadata.Step = base.Metadata.Step
		prior = base.State
	}
	req.State, err = Merge(prior, values)
	if err != nil {
		return nil, fmt.Errorf("update state: %w", err)
	}
	return s.backend.PutCheckpoint(ctx, req.checkpoint(), repository.PutOptions{Branch: branch})
}

// Fork copies an older checkpoint into a new child and makes it current, so
// the next run continues from that point on a new branch.
func (s *Store) Fork(ctx context.Context, threadID, fromID string) (*domain.Checkpoint, error) {
	from, err := s.Get(ctx, threadID, fromID)
	if err != nil {
		return nil, err
	}
	return s.backend.PutCheckpoint(ctx, &domain.Checkpoint{
		ThreadID: threadID,
		ParentID: from.CheckpointID,
		State:    from.State,
		Metadata: domain.CheckpointMetadata{Source: domain.CheckpointSourceFork, Step: from.Metadata.Step},
	}, repository.PutOptions{})
}

// Rewind points the thread back at an existing checkpoint without writing a new one.
func (s *Store) Rewind(ctx context.Context, threadID, checkpointID string) error {
	return s.backend.SetCurrentCheckpoint(ctx, threadID, checkpointID)
}
