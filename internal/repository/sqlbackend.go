package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/xiaot623/gogo/runplane/internal/domain"
	"github.com/xiaot623/gogo/runplane/internal/retry"
)

// sqlBackend implements Backend over one or two database/sql pools.
// meta serves threads, runs, run events and locks; state serves checkpoints
// and every transaction. Both pools point at the same database, so a
// transaction on state covers checkpoint and run metadata writes together.
type sqlBackend struct {
	d       dialect
	meta    *sql.DB
	state   *sql.DB
	writeMu sync.Locker
	retry   retry.Policy
	now     func() time.Time
}

// Option configures a backend.
type Option func(*sqlBackend)

// WithRetryPolicy sets how transient storage faults are retried.
func WithRetryPolicy(p retry.Policy) Option {
	return func(b *sqlBackend) { b.retry = p }
}

// WithClock overrides the time source used for timestamps and lock leases.
func WithClock(now func() time.Time) Option {
	return func(b *sqlBackend) { b.now = now }
}

type noopLocker struct{}

func (noopLocker) Lock()   {}
func (noopLocker) Unlock() {}

func newSQLBackend(d dialect, meta, state *sql.DB, writeMu sync.Locker, opts ...Option) *sqlBackend {
	b := &sqlBackend{
		d:       d,
		meta:    meta,
		state:   state,
		writeMu: writeMu,
		retry:   retry.DefaultPolicy,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *sqlBackend) on(q querier) *sqlQueries {
	return &sqlQueries{d: b.d, q: q, now: b.now}
}

// write runs a single-statement mutation on the writer path.
func (b *sqlBackend) write(ctx context.Context, name string, fn func(q *sqlQueries) error) error {
	return retry.Do(ctx, b.retry, name, func(ctx context.Context) error {
		b.writeMu.Lock()
		defer b.writeMu.Unlock()
		return fn(b.on(b.meta))
	})
}

// InTx runs fn in a transaction, retrying the whole transaction on transient faults.
func (b *sqlBackend) InTx(ctx context.Context, fn func(tx Queries) error) error {
	return retry.Do(ctx, b.retry, "transaction", func(ctx context.Context) error {
		return b.inTx(ctx, fn)
	})
}

func (b *sqlBackend) inTx(ctx context.Context, fn func(tx Queries) error) (err error) {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	tx, err := b.state.BeginTx(ctx, nil)
	if err != nil {
		return classify("begin transaction", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		} else if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(b.on(tx)); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return classify("commit", err)
	}
	return nil
}

func (b *sqlBackend) CreateThread(ctx context.Context, thread *domain.Thread) error {
	return b.write(ctx, "create thread", func(q *sqlQueries) error { return q.CreateThread(ctx, thread) })
}

func (b *sqlBackend) GetThread(ctx context.Context, threadID string) (*domain.Thread, error) {
	return retry.DoValue(ctx, b.retry, "get thread", func(ctx context.Context) (*domain.Thread, error) {
		return b.on(b.meta).GetThread(ctx, threadID)
	})
}

func (b *sqlBackend) ListThreads(ctx context.Context, owner string, limit, offset int) ([]domain.Thread, error) {
	return retry.DoValue(ctx, b.retry, "list threads", func(ctx context.Context) ([]domain.Thread, error) {
		return b.on(b.meta).listThreads(ctx, owner, limit, offset)
	})
}

func (b *sqlBackend) UpdateThreadMetadata(ctx context.Context, threadID string, metadata json.RawMessage) error {
	return b.write(ctx, "update thread metadata", func(q *sqlQueries) error {
		return q.UpdateThreadMetadata(ctx, threadID, metadata)
	})
}

func (b *sqlBackend) SetThreadStatus(ctx context.Context, threadID string, status domain.ThreadStatus) error {
	return b.write(ctx, "set thread status", func(q *sqlQueries) error {
		return q.SetThreadStatus(ctx, threadID, status)
	})
}

func (b *sqlBackend) DeleteThread(ctx context.Context, threadID string) error {
	return b.InTx(ctx, func(tx Queries) error { return tx.DeleteThread(ctx, threadID) })
}

func (b *sqlBackend) CreateRun(ctx context.Context, run *domain.Run) error {
	return b.write(ctx, "create run", func(q *sqlQueries) error { return q.CreateRun(ctx, run) })
}

func (b *sqlBackend) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	return retry.DoValue(ctx, b.retry, "get run", func(ctx context.Context) (*domain.Run, error) {
		return b.on(b.meta).GetRun(ctx, runID)
	})
}

func (b *sqlBackend) UpdateRun(ctx context.Context, run *domain.Run, expected ...domain.RunStatus) error {
	return b.write(ctx, "update run", func(q *sqlQueries) error { return q.UpdateRun(ctx, run, expected...) })
}

func (b *sqlBackend) ListRuns(ctx context.Context, threadID string, limit int) ([]domain.Run, error) {
	return retry.DoValue(ctx, b.retry, "list runs", func(ctx context.Context) ([]domain.Run, error) {
		return b.on(b.meta).ListRuns(ctx, threadID, limit)
	})
}

func (b *sqlBackend) ListRunsByStatus(ctx context.Context, statuses ...domain.RunStatus) ([]domain.Run, error) {
	return retry.DoValue(ctx, b.retry, "list runs by status", func(ctx context.Context) ([]domain.Run, error) {
		return b.on(b.meta).listRunsByStatus(ctx, statuses...)
	})
}

func (b *sqlBackend) PutCheckpoint(ctx context.Context, cp *domain.Checkpoint, opts PutOptions) (*domain.Checkpoint, error) {
	var out *domain.Checkpoint
	err := b.InTx(ctx, func(tx Queries) error {
		var err error
		out, err = tx.PutCheckpoint(ctx, cp, opts)
		return err
	})
	return out, err
}

func (b *sqlBackend) GetLatestCheckpoint(ctx context.Context, threadID string) (*domain.Checkpoint, error) {
	return retry.DoValue(ctx, b.retry, "get latest checkpoint", func(ctx context.Context) (*domain.Checkpoint, error) {
		return b.on(b.state).GetLatestCheckpoint(ctx, threadID)
	})
}

func (b *sqlBackend) GetCheckpoint(ctx context.Context, threadID, checkpointID string) (*domain.Checkpoint, error) {
	return retry.DoValue(ctx, b.retry, "get checkpoint", func(ctx context.Context) (*domain.Checkpoint, error) {
		return b.on(b.state).GetCheckpoint(ctx, threadID, checkpointID)
	})
}

func (b *sqlBackend) ListCheckpoints(ctx context.Context, threadID string, filter ListCheckpointsFilter) ([]domain.Checkpoint, error) {
	return retry.DoValue(ctx, b.retry, "list checkpoints", func(ctx context.Context) ([]domain.Checkpoint, error) {
		return b.on(b.state).ListCheckpoints(ctx, threadID, filter)
	})
}

func (b *sqlBackend) SetCurrentCheckpoint(ctx context.Context, threadID, checkpointID string) error {
	return b.InTx(ctx, func(tx Queries) error { return tx.SetCurrentCheckpoint(ctx, threadID, checkpointID) })
}

func (b *sqlBackend) AppendRunEvent(ctx context.Context, ev *domain.RunEvent) error {
	return b.InTx(ctx, func(tx Queries) error { return tx.AppendRunEvent(ctx, ev) })
}

func (b *sqlBackend) ListRunEvents(ctx context.Context, runID string, afterSeq int64, limit int) ([]domain.RunEvent, error) {
	return retry.DoValue(ctx, b.retry, "list run events", func(ctx context.Context) ([]domain.RunEvent, error) {
		return b.on(b.meta).ListRunEvents(ctx, runID, afterSeq, limit)
	})
}

func (b *sqlBackend) AppendStreamEvents(ctx context.Context, events []domain.StreamEvent) error {
	return b.InTx(ctx, func(tx Queries) error { return tx.AppendStreamEvents(ctx, events) })
}

func (b *sqlBackend) ListStreamEvents(ctx context.Context, runID string, afterSeq int64, limit int) ([]domain.StreamEvent, error) {
	return retry.DoValue(ctx, b.retry, "list stream events", func(ctx context.Context) ([]domain.StreamEvent, error) {
		return b.on(b.meta).ListStreamEvents(ctx, runID, afterSeq, limit)
	})
}

func (b *sqlBackend) CreateAssistant(ctx context.Context, a *domain.Assistant) error {
	return b.InTx(ctx, func(tx Queries) error { return tx.CreateAssistant(ctx, a) })
}

func (b *sqlBackend) GetAssistant(ctx context.Context, assistantID string) (*domain.Assistant, error) {
	return retry.DoValue(ctx, b.retry, "get assistant", func(ctx context.Context) (*domain.Assistant, error) {
		return b.on(b.meta).GetAssistant(ctx, assistantID)
	})
}

func (b *sqlBackend) UpdateAssistant(ctx context.Context, a *domain.Assistant) error {
	return b.InTx(ctx, func(tx Queries) error { return tx.UpdateAssistant(ctx, a) })
}

func (b *sqlBackend) SetAssistantVersion(ctx context.Context, assistantID string, version int) (*domain.Assistant, error) {
	var out *domain.Assistant
	err := b.InTx(ctx, func(tx Queries) error {
		var err error
		out, err = tx.SetAssistantVersion(ctx, assistantID, version)
		return err
	})
	return out, err
}

func (b *sqlBackend) DeleteAssistant(ctx context.Context, assistantID string) error {
	return b.InTx(ctx, func(tx Queries) error { return tx.DeleteAssistant(ctx, assistantID) })
}

func (b *sqlBackend) ListAssistantVersions(ctx context.Context, assistantID string, limit int) ([]domain.AssistantVersion, error) {
	return retry.DoValue(ctx, b.retry, "list assistant versions", func(ctx context.Context) ([]domain.AssistantVersion, error) {
		return b.on(b.meta).ListAssistantVersions(ctx, assistantID, limit)
	})
}

func (b *sqlBackend) ListAssistants(ctx context.Context, owner, graphID string, limit, offset int) ([]domain.Assistant, error) {
	return retry.DoValue(ctx, b.retry, "list assistants", func(ctx context.Context) ([]domain.Assistant, error) {
		return b.on(b.meta).listAssistants(ctx, owner, graphID, limit, offset)
	})
}

func (b *sqlBackend) DeleteRunEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := b.write(ctx, "delete run events", func(q *sqlQueries) error {
		var err error
		n, err = q.deleteRunEventsBefore(ctx, cutoff)
		return err
	})
	return n, err
}

func (b *sqlBackend) AcquireLock(ctx context.Context, key, owner string, ttl time.Duration) error {
	return b.write(ctx, "acquire lock", func(q *sqlQueries) error { return q.acquireLock(ctx, key, owner, ttl) })
}

func (b *sqlBackend) RenewLock(ctx context.Context, key, owner string, ttl time.Duration) error {
	return b.write(ctx, "renew lock", func(q *sqlQueries) error { return q.renewLock(ctx, key, owner, ttl) })
}

func (b *sqlBackend) ReleaseLock(ctx context.Context, key, owner string) error {
	return b.write(ctx, "release lock", func(q *sqlQueries) error { return q.releaseLock(ctx, key, owner) })
}

func (b *sqlBackend) LockHolder(ctx context.Context, key string) (string, bool, error) {
	type holder struct {
		owner string
		held  bool
	}
	h, err := retry.DoValue(ctx, b.retry, "lock holder", func(ctx context.Context) (holder, error) {
		owner, held, err := b.on(b.meta).lockHolder(ctx, key)
		return holder{owner, held}, err
	})
	return h.owner, h.held, err
}

func (b *sqlBackend) Ping(ctx context.Context) error {
	if err := b.meta.PingContext(ctx); err != nil {
		return classify("ping", err)
	}
	if b.state != b.meta {
		if err := b.state.PingContext(ctx); err != nil {
			return classify("ping", err)
		}
	}
	return nil
}

func (b *sqlBackend) Close() error {
	err := b.meta.Close()
	if b.state != b.meta {
		if serr := b.state.Close(); err == nil {
			err = serr
		}
	}
	return err
}

// migrate applies the schema statements on the state pool.
func (b *sqlBackend) migrate(ctx context.Context, stmts []string) error {
	for _, m := range stmts {
		if _, err := b.state.ExecContext(ctx, m); err != nil {
			return classify("migration failed: "+firstLine(m), err)
		}
	}
	return nil
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}
