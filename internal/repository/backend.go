// Package repository implements durable storage for threads, runs, checkpoints,
// stream events, assistants and thread locks on SQLite and Postgres.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/xiaot623/gogo/runplane/internal/domain"
)

var (
	// ErrLockHeld is returned when another owner holds an unexpired lock.
	ErrLockHeld = errors.New("lock held by another owner")
	// ErrLockLost is returned when renewing a lock the caller no longer owns.
	ErrLockLost = errors.New("lock no longer owned")
)

// PutOptions controls how a checkpoint write moves the thread's current pointer.
type PutOptions struct {
	// Branch leaves the current pointer where it is.
	Branch bool
}

// ListCheckpointsFilter pages a thread's checkpoints, newest first.
type ListCheckpointsFilter struct {
	// BeforeSeq only returns checkpoints with a smaller sequence number. Zero means no bound.
	BeforeSeq int64
	Limit     int
}

// Queries is the set of operations available both on a Backend and inside a transaction.
type Queries interface {
	CreateThread(ctx context.Context, thread *domain.Thread) error
	GetThread(ctx context.Context, threadID string) (*domain.Thread, error)
	UpdateThreadMetadata(ctx context.Context, threadID string, metadata json.RawMessage) error
	SetThreadStatus(ctx context.Context, threadID string, status domain.ThreadStatus) error
	DeleteThread(ctx context.Context, threadID string) error

	CreateRun(ctx context.Context, run *domain.Run) error
	GetRun(ctx context.Context, runID string) (*domain.Run, error)
	// UpdateRun persists the run's mutable fields. When expected is non-empty the
	// write only applies if the stored status is one of them; otherwise it fails
	// with domain.ErrInvalidState.
	UpdateRun(ctx context.Context, run *domain.Run, expected ...domain.RunStatus) error
	ListRuns(ctx context.Context, threadID string, limit int) ([]domain.Run, error)

	// PutCheckpoint assigns the next sequence number of the thread, stores the
	// checkpoint and advances the current pointer unless opts.Branch is set.
	PutCheckpoint(ctx context.Context, cp *domain.Checkpoint, opts PutOptions) (*domain.Checkpoint, error)
	GetLatestCheckpoint(ctx context.Context, threadID string) (*domain.Checkpoint, error)
	GetCheckpoint(ctx context.Context, threadID, checkpointID string) (*domain.Checkpoint, error)
	ListCheckpoints(ctx context.Context, threadID string, filter ListCheckpointsFilter) ([]domain.Checkpoint, error)
	SetCurrentCheckpoint(ctx context.Context, threadID, checkpointID string) error

	AppendRunEvent(ctx context.Context, ev *domain.RunEvent) error
	ListRunEvents(ctx context.Context, runID string, afterSeq int64, limit int) ([]domain.RunEvent, error)

	// AppendStreamEvents persists streamed events under the seqs they carry.
	AppendStreamEvents(ctx context.Context, events []domain.StreamEvent) error
	ListStreamEvents(ctx context.Context, runID string, afterSeq int64, limit int) ([]domain.StreamEvent, error)

	CreateAssistant(ctx context.Context, a *domain.Assistant) error
	GetAssistant(ctx context.Context, assistantID string) (*domain.Assistant, error)
	// UpdateAssistant stores a's fields as a new version and makes it current.
	UpdateAssistant(ctx context.Context, a *domain.Assistant) error
	SetAssistantVersion(ctx context.Context, assistantID string, version int) (*domain.Assistant, error)
	DeleteAssistant(ctx context.Context, assistantID string) error
	ListAssistantVersions(ctx context.Context, assistantID string, limit int) ([]domain.AssistantVersion, error)
}

// Backend is a storage implementation. SQLite and Postgres backends are
// observably equivalent: same shapes, same errors, same atomicity.
type Backend interface {
	Queries

	// InTx runs fn in one transaction. Everything fn writes commits or none of it does.
	InTx(ctx context.Context, fn func(tx Queries) error) error

	ListThreads(ctx context.Context, owner string, limit, offset int) ([]domain.Thread, error)
	ListRunsByStatus(ctx context.Context, statuses ...domain.RunStatus) ([]domain.Run, error)
	// DeleteRunEventsBefore drops lifecycle and stream events older than cutoff.
	DeleteRunEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	// ListAssistants pages assistants newest first. Empty owner or graphID match any.
	ListAssistants(ctx context.Context, owner, graphID string, limit, offset int) ([]domain.Assistant, error)

	// AcquireLock takes key for owner until ttl elapses. A lock held by the same
	// owner is extended. A live lock held by anyone else fails with ErrLockHeld.
	AcquireLock(ctx context.Context, key, owner string, ttl time.Duration) error
	// RenewLock extends a lock owner still holds, or fails with ErrLockLost.
	RenewLock(ctx context.Context, key, owner string, ttl time.Duration) error
	// ReleaseLock drops the lock if owner holds it. Releasing twice is a no-op.
	ReleaseLock(ctx context.Context, key, owner string) error
	// LockHolder returns the owner of an unexpired lock.
	LockHolder(ctx context.Context, key string) (owner string, held bool, err error)

	Ping(ctx context.Context) error
	Close() error
}
