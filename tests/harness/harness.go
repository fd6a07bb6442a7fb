// Package harness wires a complete in-memory service for transport tests.
package harness

import (
	"context"
	"testing"
	"time"

	"github.com/xiaot623/gogo/runplane/internal/config"
	"github.com/xiaot623/gogo/runplane/internal/graph"
	"github.com/xiaot623/gogo/runplane/internal/lock"
	"github.com/xiaot623/gogo/runplane/internal/scheduler"
	"github.com/xiaot623/gogo/runplane/internal/service"
	"github.com/xiaot623/gogo/runplane/internal/stream"
	"github.com/xiaot623/gogo/runplane/policy"
	"github.com/xiaot623/gogo/runplane/tests/helpers"
)

// Config returns settings tuned for fast tests.
func Config() *config.Config {
	cfg := config.Default()
	cfg.MaxConcurrentRuns = 4
	cfg.AdmissionTimeout = 200 * time.Millisecond
	cfg.LockTTL = 300 * time.Millisecond
	cfg.HeartbeatEvery = 50 * time.Millisecond
	cfg.StreamGrace = time.Second
	cfg.WSPingInterval = time.Second
	cfg.WSWriteTimeout = time.Second
	cfg.WSReadTimeout = 5 * time.Second
	return cfg
}

// NewService builds a service over an in-memory SQLite backend with the
// default graph catalog. It is shut down when the test ends.
func NewService(t *testing.T, tweak ...func(*config.Config)) (*service.Service, *config.Config) {
	t.Helper()
	cfg := Config()
	for _, fn := range tweak {
		fn(cfg)
	}

	backend := helpers.NewTestSQLiteStore(t)
	graphs := graph.NewRegistry()
	if err := graphs.Load(graph.DefaultCatalog()); err != nil {
		t.Fatalf("load graphs: %v", err)
	}
	dispatcher, err := scheduler.New(cfg.MaxConcurrentRuns)
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	engine, err := policy.NewDefaultEngine(context.Background())
	if err != nil {
		t.Fatalf("policy engine: %v", err)
	}

	svc := service.New(cfg, backend, graphs,
		stream.NewHub(stream.WithCapacity(cfg.StreamBuffer), stream.WithGrace(cfg.StreamGrace)),
		lock.NewManager(lock.NewBackendLocker(backend), cfg.LockTTL, cfg.HeartbeatEvery),
		dispatcher, engine)
	t.Cleanup(func() {
		svc.Close()
		_ = dispatcher.Shutdown(time.Second)
	})
	return svc, cfg
}
