package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/runplane/internal/domain"
)

// fakeClock is a controllable time source for lease expiry.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type openFunc func(t *testing.T, opts ...Option) Backend

// testBackendContract is run against every backend so both stay observably equivalent.
func testBackendContract(t *testing.T, open openFunc) {
	t.Run("threads", func(t *testing.T) { contractThreads(t, open(t)) })
	t.Run("runs", func(t *testing.T) { contractRuns(t, open(t)) })
	t.Run("checkpoints", func(t *testing.T) { contractCheckpoints(t, open(t)) })
	t.Run("checkpoint paging", func(t *testing.T) { contractCheckpointPaging(t, open(t)) })
	t.Run("transaction atomicity", func(t *testing.T) { contractTxAtomicity(t, open(t)) })
	t.Run("concurrent checkpoint writers", func(t *testing.T) { contractConcurrentSeq(t, open(t)) })
	t.Run("locks", func(t *testing.T) {
		clock := newFakeClock()
		contractLocks(t, open(t, WithClock(clock.Now)), clock)
	})
	t.Run("run events", func(t *testing.T) { contractRunEvents(t, open(t)) })
	t.Run("stream events", func(t *testing.T) { contractStreamEvents(t, open(t)) })
	t.Run("assistants", func(t *testing.T) { contractAssistants(t, open(t)) })
	t.Run("delete thread cascades", func(t *testing.T) { contractDeleteCascade(t, open(t)) })
}

func mustThread(t *testing.T, b Backend, id string) {
	t.Helper()
	require.NoError(t, b.CreateThread(context.Background(), &domain.Thread{ThreadID: id, Owner: "alice"}))
}

func mustRun(t *testing.T, b Backend, threadID, runID string) *domain.Run {
	t.Helper()
	run := &domain.Run{RunID: runID, ThreadID: threadID, AssistantID: "echo", Status: domain.RunStatusPending}
	require.NoError(t, b.CreateRun(context.Background(), run))
	return run
}

func put(t *testing.T, b Backend, threadID, parent, state string, branch bool) *domain.Checkpoint {
	t.Helper()
	cp, err := b.PutCheckpoint(context.Background(), &domain.Checkpoint{
		ThreadID: threadID,
		ParentID: parent,
		State:    json.RawMessage(state),
		Metadata: domain.CheckpointMetadata{Source: domain.CheckpointSourceStep},
	}, PutOptions{Branch: branch})
	require.NoError(t, err)
	return cp
}

func contractThreads(t *testing.T, b Backend) {
	ctx := context.Background()
	require.NoError(t, b.CreateThread(ctx, &domain.Thread{
		ThreadID: "t1",
		Owner:    "alice",
		Metadata: json.RawMessage(`{"topic":"billing"}`),
	}))
	mustThread(t, b, "t2")
	require.NoError(t, b.CreateThread(ctx, &domain.Thread{ThreadID: "t3", Owner: "bob"}))

	err := b.CreateThread(ctx, &domain.Thread{ThreadID: "t1"})
	assert.ErrorIs(t, err, domain.ErrConstraint)

	got, err := b.GetThread(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, domain.ThreadStatusIdle, got.Status)
	assert.JSONEq(t, `{"topic":"billing"}`, string(got.Metadata))
	assert.Empty(t, got.CurrentCheckpointID)

	_, err = b.GetThread(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, b.UpdateThreadMetadata(ctx, "t1", json.RawMessage(`{"topic":"sales"}`)))
	require.NoError(t, b.SetThreadStatus(ctx, "t1", domain.ThreadStatusBusy))
	got, err = b.GetThread(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, domain.ThreadStatusBusy, got.Status)
	assert.JSONEq(t, `{"topic":"sales"}`, string(got.Metadata))
	assert.ErrorIs(t, b.SetThreadStatus(ctx, "missing", domain.ThreadStatusIdle), domain.ErrNotFound)

	alice, err := b.ListThreads(ctx, "alice", 10, 0)
	require.NoError(t, err)
	assert.Len(t, alice, 2)
	all, err := b.ListThreads(ctx, "", 10, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func contractRuns(t *testing.T, b Backend) {
	ctx := context.Background()
	mustThread(t, b, "t1")
	run := mustRun(t, b, "t1", "r1")
	run.Input = json.RawMessage(`{"x":1}`)

	got, err := b.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusPending, got.Status)
	assert.Nil(t, got.StartedAt)

	now := time.Now()
	got.Status = domain.RunStatusRunning
	got.StartedAt = &now
	require.NoError(t, b.UpdateRun(ctx, got, domain.RunStatusPending))

	// A second pending->running CAS loses.
	got.Status = domain.RunStatusRunning
	err = b.UpdateRun(ctx, got, domain.RunStatusPending)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	got.Status = domain.RunStatusInterrupted
	got.Interrupt = json.RawMessage(`{"question":"approve?"}`)
	got.LastEventSeq = 7
	require.NoError(t, b.UpdateRun(ctx, got, domain.RunStatusRunning, domain.RunStatusStreaming))

	again, err := b.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusInterrupted, again.Status)
	assert.JSONEq(t, `{"question":"approve?"}`, string(again.Interrupt))
	assert.Equal(t, int64(7), again.LastEventSeq)
	require.NotNil(t, again.StartedAt)
	assert.Equal(t, now.UnixMilli(), again.StartedAt.UnixMilli())

	_, err = b.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	err = b.UpdateRun(ctx, &domain.Run{RunID: "missing", Status: domain.RunStatusRunning}, domain.RunStatusPending)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = b.CreateRun(ctx, &domain.Run{RunID: "r2", ThreadID: "nope", AssistantID: "echo"})
	assert.ErrorIs(t, err, domain.ErrConstraint)

	mustRun(t, b, "t1", "r3")
	runs, err := b.ListRuns(ctx, "t1", 10)
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	active, err := b.ListRunsByStatus(ctx, domain.ActiveStatuses...)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "r3", active[0].RunID)

	require.NoError(t, b.CreateRun(ctx, &domain.Run{RunID: "r4", ThreadID: "t1", AssistantID: "echo", CheckpointID: "cp-older"}))
	based, err := b.GetRun(ctx, "r4")
	require.NoError(t, err)
	assert.Equal(t, "cp-older", based.CheckpointID)
	assert.Empty(t, based.LastCheckpointID)
}

func contractCheckpoints(t *testing.T, b Backend) {
	ctx := context.Background()
	mustThread(t, b, "t1")
	mustThread(t, b, "t2")

	_, err := b.GetLatestCheckpoint(ctx, "t1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	root := put(t, b, "t1", "", `{"n":1}`, false)
	c2 := put(t, b, "t1", root.CheckpointID, `{"n":2}`, false)
	assert.Equal(t, int64(1), root.Seq)
	assert.Equal(t, int64(2), c2.Seq)

	latest, err := b.GetLatestCheckpoint(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, c2.CheckpointID, latest.CheckpointID)
	assert.Equal(t, root.CheckpointID, latest.ParentID)
	assert.JSONEq(t, `{"n":2}`, string(latest.State))
	assert.Equal(t, domain.CheckpointSourceStep, latest.Metadata.Source)

	// A branch off the root keeps the current pointer on c2 but still consumes a sequence number.
	side := put(t, b, "t1", root.CheckpointID, `{"n":"side"}`, true)
	assert.Equal(t, int64(3), side.Seq)
	latest, err = b.GetLatestCheckpoint(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, c2.CheckpointID, latest.CheckpointID)

	// A fork off the root that advances the pointer.
	fork := put(t, b, "t1", root.CheckpointID, `{"n":"fork"}`, false)
	assert.Equal(t, int64(4), fork.Seq)
	latest, err = b.GetLatestCheckpoint(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, fork.CheckpointID, latest.CheckpointID)

	// Parents must exist in the same thread.
	_, err = b.PutCheckpoint(ctx, &domain.Checkpoint{ThreadID: "t1", ParentID: "ghost", State: json.RawMessage(`{}`)}, PutOptions{})
	assert.ErrorIs(t, err, domain.ErrConstraint)
	_, err = b.PutCheckpoint(ctx, &domain.Checkpoint{ThreadID: "t2", ParentID: root.CheckpointID, State: json.RawMessage(`{}`)}, PutOptions{})
	assert.ErrorIs(t, err, domain.ErrConstraint)
	_, err = b.PutCheckpoint(ctx, &domain.Checkpoint{ThreadID: "nope", State: json.RawMessage(`{}`)}, PutOptions{})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// Failed writes never reuse a sequence number.
	next := put(t, b, "t1", fork.CheckpointID, `{"n":5}`, false)
	assert.Equal(t, int64(5), next.Seq)

	got, err := b.GetCheckpoint(ctx, "t1", c2.CheckpointID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":2}`, string(got.State))
	_, err = b.GetCheckpoint(ctx, "t2", c2.CheckpointID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, b.SetCurrentCheckpoint(ctx, "t1", c2.CheckpointID))
	latest, err = b.GetLatestCheckpoint(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, c2.CheckpointID, latest.CheckpointID)
	assert.ErrorIs(t, b.SetCurrentCheckpoint(ctx, "t2", c2.CheckpointID), domain.ErrNotFound)
}

func contractCheckpointPaging(t *testing.T, b Backend) {
	ctx := context.Background()
	mustThread(t, b, "t1")
	parent := ""
	for i := 1; i <= 7; i++ {
		cp := put(t, b, "t1", parent, fmt.Sprintf(`{"n":%d}`, i), false)
		parent = cp.CheckpointID
	}

	page, err := b.ListCheckpoints(ctx, "t1", ListCheckpointsFilter{Limit: 3})
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, []int64{7, 6, 5}, seqs(page))

	page, err = b.ListCheckpoints(ctx, "t1", ListCheckpointsFilter{BeforeSeq: page[2].Seq, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 3, 2, 1}, seqs(page))
}

func seqs(cps []domain.Checkpoint) []int64 {
	out := make([]int64, len(cps))
	for i, cp := range cps {
		out[i] = cp.Seq
	}
	return out
}

func contractTxAtomicity(t *testing.T, b Backend) {
	ctx := context.Background()
	mustThread(t, b, "t1")
	run := mustRun(t, b, "t1", "r1")
	first := put(t, b, "t1", "", `{"n":1}`, false)

	boom := errors.New("boom")
	err := b.InTx(ctx, func(tx Queries) error {
		cp, err := tx.PutCheckpoint(ctx, &domain.Checkpoint{
			ThreadID: "t1", ParentID: first.CheckpointID, RunID: "r1", State: json.RawMessage(`{"n":2}`),
		}, PutOptions{})
		if err != nil {
			return err
		}
		run.Status = domain.RunStatusRunning
		run.LastCheckpointID = cp.CheckpointID
		if err := tx.UpdateRun(ctx, run, domain.RunStatusPending); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	latest, err := b.GetLatestCheckpoint(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, first.CheckpointID, latest.CheckpointID)
	got, err := b.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusPending, got.Status)
	assert.Empty(t, got.LastCheckpointID)

	// The committed path writes both.
	err = b.InTx(ctx, func(tx Queries) error {
		cp, err := tx.PutCheckpoint(ctx, &domain.Checkpoint{
			ThreadID: "t1", ParentID: first.CheckpointID, RunID: "r1", State: json.RawMessage(`{"n":2}`),
		}, PutOptions{})
		if err != nil {
			return err
		}
		run.Status = domain.RunStatusRunning
		run.LastCheckpointID = cp.CheckpointID
		return tx.UpdateRun(ctx, run, domain.RunStatusPending)
	})
	require.NoError(t, err)
	got, err = b.GetRun(ctx, "r1")
	require.NoError(t, err)
	latest, err = b.GetLatestCheckpoint(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, latest.CheckpointID, got.LastCheckpointID)
	assert.Equal(t, int64(2), latest.Seq)
}

func contractConcurrentSeq(t *testing.T, b Backend) {
	ctx := context.Background()
	mustThread(t, b, "t1")

	const writers = 16
	var wg sync.WaitGroup
	results := make(chan int64, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cp, err := b.PutCheckpoint(ctx, &domain.Checkpoint{
				ThreadID: "t1", State: json.RawMessage(fmt.Sprintf(`{"w":%d}`, i)),
			}, PutOptions{Branch: true})
			if err != nil {
				t.Errorf("writer %d: %v", i, err)
				return
			}
			results <- cp.Seq
		}(i)
	}
	wg.Wait()
	close(results)

	var got []int64
	for s := range results {
		got = append(got, s)
	}
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	want := make([]int64, writers)
	for i := range want {
		want[i] = int64(i + 1)
	}
	assert.Equal(t, want, got)
}

func contractLocks(t *testing.T, b Backend, clock *fakeClock) {
	ctx := context.Background()
	mustThread(t, b, "t1")

	require.NoError(t, b.AcquireLock(ctx, "t1", "r1", 10*time.Second))
	assert.ErrorIs(t, b.AcquireLock(ctx, "t1", "r2", 10*time.Second), ErrLockHeld)
	// Re-acquiring as the holder extends the lease.
	require.NoError(t, b.AcquireLock(ctx, "t1", "r1", 10*time.Second))

	owner, held, err := b.LockHolder(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, held)
	assert.Equal(t, "r1", owner)

	clock.Advance(5 * time.Second)
	require.NoError(t, b.RenewLock(ctx, "t1", "r1", 10*time.Second))
	clock.Advance(9 * time.Second)
	assert.ErrorIs(t, b.AcquireLock(ctx, "t1", "r2", 10*time.Second), ErrLockHeld)

	// The lease lapses without renewal and another owner reclaims it.
	clock.Advance(2 * time.Second)
	_, held, err = b.LockHolder(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, held)
	require.NoError(t, b.AcquireLock(ctx, "t1", "r2", 10*time.Second))
	assert.ErrorIs(t, b.RenewLock(ctx, "t1", "r1", 10*time.Second), ErrLockLost)

	// Releasing a lock you do not own, or twice, is a no-op.
	require.NoError(t, b.ReleaseLock(ctx, "t1", "r1"))
	owner, held, err = b.LockHolder(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, held)
	assert.Equal(t, "r2", owner)
	require.NoError(t, b.ReleaseLock(ctx, "t1", "r2"))
	require.NoError(t, b.ReleaseLock(ctx, "t1", "r2"))
	_, held, err = b.LockHolder(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, held)
}

func contractRunEvents(t *testing.T, b Backend) {
	ctx := context.Background()
	mustThread(t, b, "t1")
	mustRun(t, b, "t1", "r1")

	old := &domain.RunEvent{RunID: "r1", Event: domain.EventTypeRunCreated, CreatedAt: time.Now().Add(-2 * time.Hour)}
	require.NoError(t, b.AppendRunEvent(ctx, old))
	for _, ev := range []domain.EventType{domain.EventTypeRunStarted, domain.EventTypeStepCommitted} {
		require.NoError(t, b.AppendRunEvent(ctx, &domain.RunEvent{RunID: "r1", Event: ev, Data: json.RawMessage(`{"step":1}`)}))
	}

	events, err := b.ListRunEvents(ctx, "r1", 0, 10)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, int64(1), events[0].Seq)
	assert.Equal(t, int64(3), events[2].Seq)

	tail, err := b.ListRunEvents(ctx, "r1", 2, 10)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, domain.EventTypeStepCommitted, tail[0].Event)

	n, err := b.DeleteRunEventsBefore(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func contractStreamEvents(t *testing.T, b Backend) {
	ctx := context.Background()
	mustThread(t, b, "t1")
	mustRun(t, b, "t1", "r1")

	old := time.Now().Add(-2 * time.Hour).UnixMilli()
	now := time.Now().UnixMilli()
	require.NoError(t, b.InTx(ctx, func(tx Queries) error {
		return tx.AppendStreamEvents(ctx, []domain.StreamEvent{
			{RunID: "r1", Seq: 1, Event: domain.EventTypeMetadata, Data: json.RawMessage(`{"run_id":"r1"}`), Ts: old},
			{RunID: "r1", Seq: 2, Event: domain.EventTypeValues, Data: json.RawMessage(`{"n":1}`), Ts: now},
		})
	}))
	require.NoError(t, b.AppendStreamEvents(ctx, []domain.StreamEvent{
		{RunID: "r1", Seq: 3, Event: domain.EventTypeEnd, Data: json.RawMessage(`{"status":"completed"}`), Ts: now},
	}))

	// A seq is stored once.
	err := b.AppendStreamEvents(ctx, []domain.StreamEvent{{RunID: "r1", Seq: 2, Event: domain.EventTypeValues, Ts: now}})
	assert.ErrorIs(t, err, domain.ErrConstraint)

	events, err := b.ListStreamEvents(ctx, "r1", 1, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(2), events[0].Seq)
	assert.JSONEq(t, `{"n":1}`, string(events[0].Data))
	assert.Equal(t, now, events[0].Ts)
	assert.Equal(t, domain.EventTypeEnd, events[1].Event)

	n, err := b.DeleteRunEventsBefore(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	events, err = b.ListStreamEvents(ctx, "r1", 0, 10)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func contractAssistants(t *testing.T, b Backend) {
	ctx := context.Background()
	a := &domain.Assistant{GraphID: "counter", Owner: "alice", Config: json.RawMessage(`{"steps":2}`)}
	require.NoError(t, b.CreateAssistant(ctx, a))
	assert.NotEmpty(t, a.AssistantID)
	assert.Equal(t, 1, a.Version)
	assert.Equal(t, "counter", a.Name)
	require.NoError(t, b.CreateAssistant(ctx, &domain.Assistant{AssistantID: "other", GraphID: "echo", Owner: "bob"}))

	err := b.CreateAssistant(ctx, &domain.Assistant{AssistantID: a.AssistantID, GraphID: "echo"})
	assert.ErrorIs(t, err, domain.ErrConstraint)

	a.Config = json.RawMessage(`{"steps":5}`)
	a.Name = "five"
	require.NoError(t, b.UpdateAssistant(ctx, a))
	assert.Equal(t, 2, a.Version)

	got, err := b.GetAssistant(ctx, a.AssistantID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Version)
	assert.Equal(t, "five", got.Name)
	assert.JSONEq(t, `{"steps":5}`, string(got.Config))

	versions, err := b.ListAssistantVersions(ctx, a.AssistantID, 10)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, 2, versions[0].Version)
	assert.JSONEq(t, `{"steps":2}`, string(versions[1].Config))

	back, err := b.SetAssistantVersion(ctx, a.AssistantID, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, back.Version)
	assert.JSONEq(t, `{"steps":2}`, string(back.Config))
	_, err = b.SetAssistantVersion(ctx, a.AssistantID, 9)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// Versions keep counting after a rollback.
	require.NoError(t, b.UpdateAssistant(ctx, back))
	assert.Equal(t, 3, back.Version)

	mine, err := b.ListAssistants(ctx, "alice", "", 10, 0)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	echo, err := b.ListAssistants(ctx, "", "echo", 10, 0)
	require.NoError(t, err)
	require.Len(t, echo, 1)
	assert.Equal(t, "other", echo[0].AssistantID)

	require.NoError(t, b.DeleteAssistant(ctx, a.AssistantID))
	_, err = b.GetAssistant(ctx, a.AssistantID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	versions, err = b.ListAssistantVersions(ctx, a.AssistantID, 10)
	require.NoError(t, err)
	assert.Empty(t, versions)
	assert.ErrorIs(t, b.DeleteAssistant(ctx, a.AssistantID), domain.ErrNotFound)
}

func contractDeleteCascade(t *testing.T, b Backend) {
	ctx := context.Background()
	mustThread(t, b, "t1")
	mustRun(t, b, "t1", "r1")
	put(t, b, "t1", "", `{}`, false)
	require.NoError(t, b.AppendRunEvent(ctx, &domain.RunEvent{RunID: "r1", Event: domain.EventTypeRunCreated}))
	require.NoError(t, b.AppendStreamEvents(ctx, []domain.StreamEvent{{RunID: "r1", Seq: 1, Event: domain.EventTypeMetadata}}))
	require.NoError(t, b.AcquireLock(ctx, "t1", "r1", time.Minute))

	require.NoError(t, b.DeleteThread(ctx, "t1"))

	_, err := b.GetThread(ctx, "t1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = b.GetRun(ctx, "r1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	cps, err := b.ListCheckpoints(ctx, "t1", ListCheckpointsFilter{})
	require.NoError(t, err)
	assert.Empty(t, cps)
	events, err := b.ListRunEvents(ctx, "r1", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, events)
	streamed, err := b.ListStreamEvents(ctx, "r1", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, streamed)
	_, held, err := b.LockHolder(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, held)

	assert.ErrorIs(t, b.DeleteThread(ctx, "t1"), domain.ErrNotFound)
}
