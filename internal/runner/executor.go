// Package runner is the run state machine. It persists every status change
// and drives graphs step by step, committing one checkpoint per step.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/xiaot623/gogo/runplane/internal/checkpoint"
	"github.com/xiaot623/gogo/runplane/internal/domain"
	"github.com/xiaot623/gogo/runplane/internal/graph"
	"github.com/xiaot623/gogo/runplane/internal/lock"
	"github.com/xiaot623/gogo/runplane/internal/log"
	"github.com/xiaot623/gogo/runplane/internal/repository"
	"github.com/xiaot623/gogo/runplane/internal/stream"
)

// ErrLeaseLost is returned when a run stops because its thread lock was taken away.
var ErrLeaseLost = errors.New("thread lease lost")

// Job is one execution of a run on a worker.
type Job struct {
	Run   *domain.Run
	Lease *lock.Lease
}

// Executor drives runs. It is the only writer of a run's status while the
// run's lease is held.
type Executor struct {
	backend     repository.Backend
	checkpoints *checkpoint.Store
	graphs      *graph.Registry
	hub         *stream.Hub
	now         func() time.Time
	ctl         controls
}

// New creates an executor.
func New(backend repository.Backend, checkpoints *checkpoint.Store, graphs *graph.Registry, hub *stream.Hub) *Executor {
	return &Executor{
		backend:     backend,
		checkpoints: checkpoints,
		graphs:      graphs,
		hub:         hub,
		now:         time.Now,
		ctl:         controls{runs: make(map[string]*control)},
	}
}

// Start registers the run and hands it to submit for asynchronous execution.
// If submit refuses the work the run is recorded as failed.
func (e *Executor) Start(ctx context.Context, job Job, submit func(func()) error) error {
	run := job.Run
	ctl, ok := e.ctl.add(run.RunID)
	if !ok {
		return fmt.Errorf("run %s is already executing: %w", run.RunID, domain.ErrInvalidState)
	}
	err := submit(func() {
		e.ctl.finish(run.RunID, ctl, e.execute(ctx, job, ctl))
	})
	if err != nil {
		e.ctl.finish(run.RunID, ctl, err)
		e.releaseLease(ctx, job)
		slog := e.hub.Open(run.RunID, run.LastEventSeq)
		return e.abandon(ctx, run, slog, err)
	}
	return nil
}

// Execute runs the job on the calling goroutine until the run completes,
// interrupts, fails or is cancelled.
func (e *Executor) Execute(ctx context.Context, job Job) error {
	ctl, ok := e.ctl.add(job.Run.RunID)
	if !ok {
		return fmt.Errorf("run %s is already executing: %w", job.Run.RunID, domain.ErrInvalidState)
	}
	err := e.execute(ctx, job, ctl)
	e.ctl.finish(job.Run.RunID, ctl, err)
	return err
}

// RequestCancel flags an executing run for cancellation at its next step
// boundary. It reports false if the run is not executing in this process.
func (e *Executor) RequestCancel(runID string) bool {
	ctl, ok := e.ctl.get(runID)
	if ok {
		ctl.cancel.Store(true)
	}
	return ok
}

// Done returns a channel closed when the run stops executing in this process.
func (e *Executor) Done(runID string) (<-chan struct{}, bool) {
	ctl, ok := e.ctl.get(runID)
	if !ok {
		return nil, false
	}
	return ctl.done, true
}

// Executing reports how many runs are executing in this process.
func (e *Executor) Executing() int {
	return e.ctl.len()
}

func (e *Executor) releaseLease(ctx context.Context, job Job) {
	if job.Lease == nil {
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := job.Lease.Release(rctx); err != nil {
		log.Warnf("run %s: %v", job.Run.RunID, err)
	}
}

func (e *Executor) leaseLost(job Job) bool {
	return job.Lease != nil && job.Lease.IsLost()
}

func (e *Executor) execute(ctx context.Context, job Job, ctl *control) (err error) {
	run := job.Run
	defer e.releaseLease(ctx, job)

	slog := e.hub.Open(run.RunID, run.LastEventSeq)
	resumed := run.Status == domain.RunStatusRunning && len(run.Resume) > 0

	if run.Status == domain.RunStatusPending {
		if ctl.cancel.Load() {
			return e.finishCancelled(ctx, run, slog)
		}
		err := e.commit(ctx, run, slog, change{
			to:     domain.RunStatusRunning,
			event:  domain.EventTypeRunStarted,
			thread: domain.ThreadStatusBusy,
			emit:   []pendingEvent{metadata(run, false)},
			mutate: func(r *domain.Run) {
				now := e.now()
				r.StartedAt = &now
			},
		})
		if err != nil {
			return e.abandon(ctx, run, slog, err)
		}
	} else if !run.Status.IsActive() {
		return fmt.Errorf("run %s is %s and cannot execute: %w", run.RunID, run.Status, domain.ErrInvalidState)
	}
	log.Infof("run %s: executing on thread %s (resumed=%t)", run.RunID, run.ThreadID, resumed)

	defer func() {
		if p := recover(); p != nil {
			err = e.abandon(ctx, run, slog, fmt.Errorf("executor panic: %v", p))
		}
	}()

	asst, err := e.ResolveAssistant(ctx, run.AssistantID)
	if err != nil {
		if errors.Is(err, domain.ErrStorage) {
			return e.abandon(ctx, run, slog, err)
		}
		return e.finishFault(ctx, run, slog, 0, nil, err)
	}

	base, err := e.resolveBase(ctx, run)
	if err != nil {
		return e.abandon(ctx, run, slog, err)
	}

	state := json.RawMessage(nil)
	if base != nil {
		state = base.State
	}
	if run.LastCheckpointID == "" && isObject(run.Input) {
		if state, err = checkpoint.Merge(state, run.Input); err != nil {
			return e.finishFault(ctx, run, slog, 0, base, err)
		}
	}

	step := 1
	var resume json.RawMessage
	if resumed {
		var ip domain.InterruptPayload
		if err := json.Unmarshal(run.Interrupt, &ip); err == nil && ip.Step > 0 {
			step = ip.Step
		}
		resume = run.Resume
	}

	cfg := asst.Config
	if isObject(run.Config) {
		if cfg, err = checkpoint.Merge(asst.Config, run.Config); err != nil {
			return e.finishFault(ctx, run, slog, step, base, err)
		}
	}

	for {
		if ctl.cancel.Load() {
			return e.finishCancelled(ctx, run, slog)
		}
		if err := ctx.Err(); err != nil {
			// Shutdown. The run keeps its status and is reclaimed once the lease lapses.
			log.Warnf("run %s: stopped at step %d: %v", run.RunID, step, err)
			e.hub.Park(run.RunID)
			return err
		}
		if e.leaseLost(job) {
			return e.stopLeaseLost(run, step)
		}
		if err := e.syncStreaming(ctx, run, slog); err != nil {
			return e.abandon(ctx, run, slog, err)
		}

		emitted := &emitBuffer{}
		res := callStep(ctx, asst.Graph, graph.StepRequest{
			ThreadID:    run.ThreadID,
			RunID:       run.RunID,
			AssistantID: run.AssistantID,
			Step:        step,
			State:       state,
			Input:       run.Input,
			Resume:      resume,
			Config:      cfg,
		}, emitted)

		if res.Signal.Kind == graph.SignalFault {
			return e.finishFault(ctx, run, slog, step, base, res.Signal.Err, emitted.take()...)
		}
		if e.leaseLost(job) {
			return e.stopLeaseLost(run, step)
		}

		if res.Signal.Kind == graph.SignalInterrupt {
			return e.finishInterrupted(ctx, run, slog, step, base, state, res, emitted.take())
		}

		next, err := checkpoint.Merge(state, res.Delta)
		if err != nil {
			return e.finishFault(ctx, run, slog, step, base, fmt.Errorf("step %d: %w", step, err))
		}
		done := res.Signal.Kind == graph.SignalDone

		events := append(emitted.take(),
			event(domain.EventTypeUpdates, updatesEvent{Step: step, Writes: orEmpty(res.Delta)}),
			pendingEvent{event: domain.EventTypeValues, data: next},
		)
		var written *domain.Checkpoint
		c := change{
			event:     domain.EventTypeStepCommitted,
			eventData: map[string]int{"step": step},
			emit:      events,
			extra:     e.putStep(run, base, step, next, res.Delta, &written),
			mutate:    func(r *domain.Run) { r.Resume = nil },
		}
		if done {
			c.to = domain.RunStatusCompleted
			c.event = domain.EventTypeRunCompleted
			c.thread = domain.ThreadStatusIdle
			c.end = true
			c.mutate = func(r *domain.Run) {
				r.Resume = nil
				r.Output = next
			}
		}
		if err := e.commit(ctx, run, slog, c); err != nil {
			return e.abandon(ctx, run, slog, err)
		}

		base = written
		state = next
		resume = nil

		if done {
			log.Infof("run %s: completed after step %d", run.RunID, step)
			return nil
		}
		step++
	}
}

// putStep returns the transactional write of a step's checkpoint. The stored
// checkpoint is reported through out.
func (e *Executor) putStep(run *domain.Run, base *domain.Checkpoint, step int, state, writes json.RawMessage,
	out **domain.Checkpoint) func(context.Context, repository.Queries, *domain.Run) error {
	parentID := ""
	if base != nil {
		parentID = base.CheckpointID
	}
	return func(ctx context.Context, tx repository.Queries, r *domain.Run) error {
		cp, err := e.checkpoints.PutTx(ctx, tx, checkpoint.PutRequest{
			ThreadID: run.ThreadID,
			ParentID: parentID,
			RunID:    run.RunID,
			State:    state,
			Writes:   orEmpty(writes),
			Metadata: domain.CheckpointMetadata{Source: domain.CheckpointSourceStep, Step: step},
		})
		if err != nil {
			return err
		}
		r.LastCheckpointID = cp.CheckpointID
		*out = cp
		return nil
	}
}

// resolveBase finds the checkpoint a run continues from. Until the run has
// written a checkpoint of its own that is the one it was started from, if
// any; afterwards it is the thread's current one.
func (e *Executor) resolveBase(ctx context.Context, run *domain.Run) (*domain.Checkpoint, error) {
	if run.LastCheckpointID == "" && run.CheckpointID != "" {
		return e.checkpoints.Get(ctx, run.ThreadID, run.CheckpointID)
	}
	cp, err := e.checkpoints.GetLatest(ctx, run.ThreadID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	return cp, err
}

// ResolveAssistant finds the graph behind an assistant id: catalog entries
// first, then assistants stored through the API.
func (e *Executor) ResolveAssistant(ctx context.Context, assistantID string) (graph.Assistant, error) {
	a, err := e.graphs.Get(assistantID)
	if !errors.Is(err, domain.ErrNotFound) {
		return a, err
	}
	stored, serr := e.backend.GetAssistant(ctx, assistantID)
	if errors.Is(serr, domain.ErrNotFound) {
		return graph.Assistant{}, err
	}
	if serr != nil {
		return graph.Assistant{}, serr
	}
	return e.graphs.Build(stored)
}

// syncStreaming records whether anyone is watching the run.
func (e *Executor) syncStreaming(ctx context.Context, run *domain.Run, slog *stream.Log) error {
	attached := slog.Consumers() > 0
	switch {
	case attached && run.Status == domain.RunStatusRunning:
		return e.commit(ctx, run, slog, change{to: domain.RunStatusStreaming})
	case !attached && run.Status == domain.RunStatusStreaming:
		return e.commit(ctx, run, slog, change{to: domain.RunStatusRunning})
	}
	return nil
}

func (e *Executor) finishCancelled(ctx context.Context, run *domain.Run, slog *stream.Log) error {
	err := e.commit(ctx, run, slog, change{
		to:     domain.RunStatusCancelled,
		event:  domain.EventTypeRunCancelled,
		thread: domain.ThreadStatusIdle,
		end:    true,
	})
	if err != nil {
		return e.abandon(ctx, run, slog, err)
	}
	log.Infof("run %s: cancelled", run.RunID)
	return nil
}

func (e *Executor) finishFault(ctx context.Context, run *domain.Run, slog *stream.Log, step int, last *domain.Checkpoint, cause error,
	emitted ...pendingEvent) error {
	if cause == nil {
		cause = errors.New("unknown fault")
	}
	fault := &domain.ComputationFault{RunID: run.RunID, Step: step, Err: cause}
	if last != nil {
		fault.CheckpointID = last.CheckpointID
		fault.Seq = last.Seq
	}
	payload := fault.Payload()
	err := e.commit(ctx, run, slog, change{
		to:        domain.RunStatusError,
		event:     domain.EventTypeRunFailed,
		eventData: payload,
		thread:    domain.ThreadStatusError,
		mutate:    func(r *domain.Run) { r.Error = mustJSON(payload) },
		emit:      append(emitted, event(domain.EventTypeError, payload)),
		end:       true,
	})
	if err != nil {
		log.Errorf("run %s: failed to record fault: %v", run.RunID, err)
		return errors.Join(fault, err)
	}
	log.Warnf("run %s: %v", run.RunID, fault)
	return fault
}

func (e *Executor) finishInterrupted(ctx context.Context, run *domain.Run, slog *stream.Log, step int, base *domain.Checkpoint,
	state json.RawMessage, res graph.StepResult, emitted []pendingEvent) error {
	ip := domain.InterruptPayload{Value: res.Signal.Payload, Step: step}
	if len(ip.Value) == 0 {
		ip.Value = json.RawMessage("null")
	}
	events := append(emitted, event(domain.EventTypeInterrupt, ip))

	c := change{
		to:        domain.RunStatusInterrupted,
		event:     domain.EventTypeRunInterrupted,
		eventData: ip,
		thread:    domain.ThreadStatusInterrupted,
		mutate: func(r *domain.Run) {
			r.Interrupt = mustJSON(ip)
			r.Resume = nil
		},
	}
	if len(res.Delta) > 0 {
		next, err := checkpoint.Merge(state, res.Delta)
		if err != nil {
			return e.finishFault(ctx, run, slog, step, base, err)
		}
		var written *domain.Checkpoint
		c.extra = e.putStep(run, base, step, next, res.Delta, &written)
		events = append(events, pendingEvent{event: domain.EventTypeValues, data: next})
	}
	c.emit = events
	if err := e.commit(ctx, run, slog, c); err != nil {
		return e.abandon(ctx, run, slog, err)
	}
	e.hub.Park(run.RunID)
	log.Infof("run %s: interrupted at step %d", run.RunID, step)
	return nil
}

func (e *Executor) stopLeaseLost(run *domain.Run, step int) error {
	log.Warnf("run %s: lease lost before step %d committed; leaving it to the reclaimer", run.RunID, step)
	e.hub.Park(run.RunID)
	return fmt.Errorf("run %s: %w", run.RunID, ErrLeaseLost)
}

// callStep runs one graph step, turning errors and panics into faults.
func callStep(ctx context.Context, g graph.Graph, req graph.StepRequest, emit graph.Emitter) (res graph.StepResult) {
	defer func() {
		if p := recover(); p != nil {
			res = graph.StepResult{Signal: graph.Fault(fmt.Errorf("graph panic at step %d: %v", req.Step, p))}
		}
	}()
	res, err := g.Step(ctx, req, emit)
	if err != nil {
		return graph.StepResult{Signal: graph.Fault(err)}
	}
	switch res.Signal.Kind {
	case graph.SignalContinue, graph.SignalDone, graph.SignalInterrupt, graph.SignalFault:
		return res
	}
	return graph.StepResult{Signal: graph.Fault(fmt.Errorf("step %d returned no signal", req.Step))}
}

func isObject(raw json.RawMessage) bool {
	var m map[string]json.RawMessage
	return len(raw) > 0 && json.Unmarshal(raw, &m) == nil && m != nil
}

func orEmpty(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("{}")
	}
	return raw
}
