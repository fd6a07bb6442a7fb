// Package service is the run server's core facade. It ties thread and run
// operations to storage, locks, admission, execution and streaming.
package service

import (
	"context"
	"fmt"

	"github.com/xiaot623/gogo/runplane/internal/checkpoint"
	"github.com/xiaot623/gogo/runplane/internal/config"
	"github.com/xiaot623/gogo/runplane/internal/domain"
	"github.com/xiaot623/gogo/runplane/internal/graph"
	"github.com/xiaot623/gogo/runplane/internal/lock"
	"github.com/xiaot623/gogo/runplane/internal/repository"
	"github.com/xiaot623/gogo/runplane/internal/runner"
	"github.com/xiaot623/gogo/runplane/internal/scheduler"
	"github.com/xiaot623/gogo/runplane/internal/stream"
	"github.com/xiaot623/gogo/runplane/policy"
)

// Authorizer decides ownership questions. *policy.Engine implements it.
type Authorizer interface {
	Allow(ctx context.Context, in policy.Input) (bool, error)
}

type Service struct {
	backend     repository.Backend
	checkpoints *checkpoint.Store
	graphs      *graph.Registry
	hub         *stream.Hub
	locks       *lock.Manager
	dispatcher  *scheduler.Dispatcher
	exec        *runner.Executor
	authorizer  Authorizer
	config      *config.Config

	// runCtx outlives requests; runs are bound to it, not to the caller.
	runCtx    context.Context
	cancelRun context.CancelFunc
}

func New(cfg *config.Config, backend repository.Backend, graphs *graph.Registry, hub *stream.Hub,
	locks *lock.Manager, dispatcher *scheduler.Dispatcher, authorizer Authorizer) *Service {
	checkpoints := checkpoint.New(backend)
	runCtx, cancel := context.WithCancel(context.Background())
	return &Service{
		backend:     backend,
		checkpoints: checkpoints,
		graphs:      graphs,
		hub:         hub,
		locks:       locks,
		dispatcher:  dispatcher,
		exec:        runner.New(backend, checkpoints, graphs, hub),
		authorizer:  authorizer,
		config:      cfg,
		runCtx:      runCtx,
		cancelRun:   cancel,
	}
}

// Close stops executing runs at their next step boundary. Their leases lapse
// and the reclaimer settles them on the next start.
func (s *Service) Close() {
	s.cancelRun()
}

// Stats is a snapshot for health reporting.
type Stats struct {
	Scheduler  scheduler.Stats `json:"scheduler"`
	Executing  int             `json:"executing"`
	Streams    int             `json:"streams"`
	LeaseTTLMs int64           `json:"lease_ttl_ms"`
}

func (s *Service) Stats() Stats {
	return Stats{
		Scheduler:  s.dispatcher.Stats(),
		Executing:  s.exec.Executing(),
		Streams:    s.hub.Len(),
		LeaseTTLMs: s.locks.TTL().Milliseconds(),
	}
}

// Ping checks the storage backend.
func (s *Service) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}

const (
	actionRead  = "read"
	actionWrite = "write"
)

// authorize applies the ownership policy. A denied read hides the resource.
func (s *Service) authorize(ctx context.Context, principal, owner, action, resource string) error {
	if s.authorizer == nil {
		return nil
	}
	ok, err := s.authorizer.Allow(ctx, policy.Input{Principal: principal, Owner: owner, Action: action, Resource: resource})
	if err != nil {
		return fmt.Errorf("authorize %s: %w", resource, err)
	}
	if ok {
		return nil
	}
	if action == actionRead {
		return fmt.Errorf("%s: %w", resource, domain.ErrNotFound)
	}
	return fmt.Errorf("%s %s: %w", action, resource, domain.ErrForbidden)
}

func (s *Service) thread(ctx context.Context, principal, threadID, action string) (*domain.Thread, error) {
	thread, err := s.backend.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, principal, thread.Owner, action, "thread "+threadID); err != nil {
		return nil, err
	}
	return thread, nil
}

func (s *Service) run(ctx context.Context, principal, runID, action string) (*domain.Run, error) {
	run, err := s.backend.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, principal, run.Owner, action, "run "+runID); err != nil {
		return nil, err
	}
	return run, nil
}
