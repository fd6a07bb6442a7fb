package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/runplane/internal/domain"
	"github.com/xiaot623/gogo/runplane/tests/helpers"
)

func newTestCheckpointStore(t *testing.T, threadID string) *Store {
	t.Helper()
	db := helpers.NewTestSQLiteStore(t)
	require.NoError(t, db.CreateThread(context.Background(), &domain.Thread{ThreadID: threadID}))
	return New(db)
}

func TestPutAdvancesCurrent(t *testing.T) {
	ctx := context.Background()
	s := newTestCheckpointStore(t, "t1")

	_, err := s.GetLatest(ctx, "t1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	first, err := s.Put(ctx, PutRequest{ThreadID: "t1", State: json.RawMessage(`{"a":1}`)})
	require.NoError(t, err)
	second, err := s.Put(ctx, PutRequest{ThreadID: "t1", ParentID: first, State: json.RawMessage(`{"a":2}`)})
	require.NoError(t, err)

	latest, err := s.GetLatest(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, second, latest.CheckpointID)
	assert.Equal(t, int64(2), latest.Seq)

	side, err := s.Put(ctx, PutRequest{ThreadID: "t1", ParentID: first, State: json.RawMessage(`{"a":"side"}`), Branch: true})
	require.NoError(t, err)
	latest, err = s.GetLatest(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, second, latest.CheckpointID, "a branch must not move the current pointer")

	got, err := s.Get(ctx, "t1", side)
	require.NoError(t, err)
	assert.Equal(t, first, got.ParentID)
}

func TestPutOnOlderParentMovesCurrentUnlessBranch(t *testing.T) {
	ctx := context.Background()
	s := newTestCheckpointStore(t, "t1")

	c1, err := s.Put(ctx, PutRequest{ThreadID: "t1", State: json.RawMessage(`{"n":1}`)})
	require.NoError(t, err)
	c2, err := s.Put(ctx, PutRequest{ThreadID: "t1", ParentID: c1, State: json.RawMessage(`{"n":2}`)})
	require.NoError(t, err)

	// Parent c1 is not current; only the explicit flag keeps c2 current.
	side, err := s.Put(ctx, PutRequest{ThreadID: "t1", ParentID: c1, State: json.RawMessage(`{"n":"side"}`), Branch: true})
	require.NoError(t, err)
	latest, err := s.GetLatest(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, c2, latest.CheckpointID)

	c3, err := s.Put(ctx, PutRequest{ThreadID: "t1", ParentID: c1, State: json.RawMessage(`{"n":3}`)})
	require.NoError(t, err)
	latest, err = s.GetLatest(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, c3, latest.CheckpointID)
	assert.Equal(t, c1, latest.ParentID)
	assert.Equal(t, int64(4), latest.Seq)
	assert.NotEqual(t, side, c3)
}

func TestListIsLazyOrderedAndRestartable(t *testing.T) {
	ctx := context.Background()
	s := newTestCheckpointStore(t, "t1")
	s.pageSize = 2

	parent := ""
	for i := 1; i <= 5; i++ {
		id, err := s.Put(ctx, PutRequest{ThreadID: "t1", ParentID: parent, State: json.RawMessage(fmt.Sprintf(`{"i":%d}`, i))})
		require.NoError(t, err)
		parent = id
	}

	collect := func(before int64, limit int) []int64 {
		var out []int64
		for cp, err := range s.List(ctx, "t1", before, limit) {
			require.NoError(t, err)
			out = append(out, cp.Seq)
		}
		return out
	}

	seq := s.List(ctx, "t1", 0, 0)
	var first []int64
	for cp, err := range seq {
		require.NoError(t, err)
		first = append(first, cp.Seq)
	}
	var again []int64
	for cp, err := range seq {
		require.NoError(t, err)
		again = append(again, cp.Seq)
	}
	assert.Equal(t, []int64{5, 4, 3, 2, 1}, first)
	assert.Equal(t, first, again)

	assert.Equal(t, []int64{5, 4, 3}, collect(0, 3))
	assert.Equal(t, []int64{3, 2, 1}, collect(4, 0))

	// Stopping early is honoured.
	n := 0
	for range s.List(ctx, "t1", 0, 0) {
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
}

func TestUpdateStateForkAndRewind(t *testing.T) {
	ctx := context.Background()
	s := newTestCheckpointStore(t, "t1")

	cp1, err := s.UpdateState(ctx, "t1", "", json.RawMessage(`{"a":1,"b":1}`), false)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckpointSourceUpdate, cp1.Metadata.Source)
	assert.Empty(t, cp1.ParentID)

	cp2, err := s.UpdateState(ctx, "t1", "", json.RawMessage(`{"b":null,"c":3}`), false)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1,"c":3}`, string(cp2.State))
	assert.Equal(t, cp1.CheckpointID, cp2.ParentID)

	fork, err := s.Fork(ctx, "t1", cp1.CheckpointID)
	require.NoError(t, err)
	assert.Equal(t, cp1.CheckpointID, fork.ParentID)
	assert.JSONEq(t, `{"a":1,"b":1}`, string(fork.State))
	latest, err := s.GetLatest(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, fork.CheckpointID, latest.CheckpointID)

	var lineage []string
	for cp, err := range s.Ancestors(ctx, "t1", fork.CheckpointID) {
		require.NoError(t, err)
		lineage = append(lineage, cp.CheckpointID)
	}
	assert.Equal(t, []string{fork.CheckpointID, cp1.CheckpointID}, lineage)

	require.NoError(t, s.Rewind(ctx, "t1", cp2.CheckpointID))
	latest, err = s.GetLatest(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, cp2.CheckpointID, latest.CheckpointID)

	_, err = s.UpdateState(ctx, "t1", "missing", json.RawMessage(`{}`), false)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMerge(t *testing.T) {
	out, err := Merge(json.RawMessage(`{"a":1,"b":{"x":1}}`), json.RawMessage(`{"b":{"y":2},"c":true}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1,"b":{"y":2},"c":true}`, string(out))

	out, err = Merge(nil, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(out))

	_, err = Merge(json.RawMessage(`[1,2]`), nil)
	assert.Error(t, err)
}
