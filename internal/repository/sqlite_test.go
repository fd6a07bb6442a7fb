package repository

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xiaot623/gogo/runplane/internal/domain"
	"github.com/xiaot623/gogo/runplane/internal/retry"
)

func newTestStore(t *testing.T, opts ...Option) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:", opts...)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteBackendContractMemory(t *testing.T) {
	testBackendContract(t, func(t *testing.T, opts ...Option) Backend {
		return newTestStore(t, opts...)
	})
}

func TestSQLiteBackendContractFile(t *testing.T) {
	testBackendContract(t, func(t *testing.T, opts ...Option) Backend {
		path := filepath.Join(t.TempDir(), "runs.db")
		store, err := NewSQLiteStore(path, opts...)
		if err != nil {
			t.Fatalf("failed to create store: %v", err)
		}
		t.Cleanup(func() { _ = store.Close() })
		return store
	})
}

func TestSQLiteStateSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "runs.db")

	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	if err := store.CreateThread(ctx, &domain.Thread{ThreadID: "t1"}); err != nil {
		t.Fatalf("CreateThread: %v", err)
	}
	cp, err := store.PutCheckpoint(ctx, &domain.Checkpoint{ThreadID: "t1", State: json.RawMessage(`{"n":1}`)}, PutOptions{})
	if err != nil {
		t.Fatalf("PutCheckpoint: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	latest, err := reopened.GetLatestCheckpoint(ctx, "t1")
	if err != nil {
		t.Fatalf("GetLatestCheckpoint: %v", err)
	}
	if latest.CheckpointID != cp.CheckpointID {
		t.Fatalf("expected checkpoint %s after reopen, got %s", cp.CheckpointID, latest.CheckpointID)
	}
	next, err := reopened.PutCheckpoint(ctx, &domain.Checkpoint{ThreadID: "t1", ParentID: cp.CheckpointID, State: json.RawMessage(`{}`)}, PutOptions{})
	if err != nil {
		t.Fatalf("PutCheckpoint after reopen: %v", err)
	}
	if next.Seq != 2 {
		t.Fatalf("expected seq 2 after reopen, got %d", next.Seq)
	}
}

func TestSQLiteDSN(t *testing.T) {
	dsn := sqliteDSN("/var/lib/runs.db", false)
	for _, want := range []string{"_foreign_keys=1", "_txlock=immediate", "_journal_mode=WAL", "_busy_timeout="} {
		if !strings.Contains(dsn, want) {
			t.Fatalf("dsn %q missing %s", dsn, want)
		}
	}
	mem := sqliteDSN(":memory:", true)
	if strings.Contains(mem, "_journal_mode") {
		t.Fatalf("memory dsn should not set a journal mode: %q", mem)
	}
	if got := sqliteDSN("file:x.db?cache=shared", false); !strings.HasPrefix(got, "file:x.db?cache=shared&") {
		t.Fatalf("existing query not extended: %q", got)
	}
}

func TestSQLiteNoRetryPolicySurfacesFirstError(t *testing.T) {
	store := newTestStore(t, WithRetryPolicy(retry.NoRetry))
	_, err := store.GetRun(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected not found")
	}
}
