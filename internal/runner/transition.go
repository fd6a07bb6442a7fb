package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/xiaot623/gogo/runplane/internal/domain"
	"github.com/xiaot623/gogo/runplane/internal/log"
	"github.com/xiaot623/gogo/runplane/internal/repository"
	"github.com/xiaot623/gogo/runplane/internal/stream"
)

// change describes one durable step of the state machine.
type change struct {
	to        domain.RunStatus // empty keeps the status
	event     domain.EventType
	eventData any
	thread    domain.ThreadStatus
	mutate    func(r *domain.Run)
	// extra runs first inside the transaction, e.g. to write the step's checkpoint.
	extra func(ctx context.Context, tx repository.Queries, r *domain.Run) error
	// emit is stored with the change under the run's next stream seqs and
	// published once it commits.
	emit []pendingEvent
	// end follows emit with the end sentinel and closes the stream.
	end bool
}

// commit writes a run change, its lifecycle event, its stream events and any
// extra writes in one transaction, guarded by the run's current status. run
// is updated only when the transaction commits.
func (e *Executor) commit(ctx context.Context, run *domain.Run, slog *stream.Log, c change) error {
	from := run.Status
	if from.IsTerminal() {
		return fmt.Errorf("run %s is %s: %w", run.RunID, from, domain.ErrInvalidState)
	}
	next := *run
	if c.to != "" && c.to != from {
		if !domain.CanTransition(from, c.to) {
			return fmt.Errorf("run %s cannot move from %s to %s: %w", run.RunID, from, c.to, domain.ErrInvalidState)
		}
		next.Status = c.to
	}
	if c.mutate != nil {
		c.mutate(&next)
	}
	if next.Status.IsTerminal() && next.EndedAt == nil {
		now := e.now()
		next.EndedAt = &now
	}
	var endData json.RawMessage
	if c.end {
		endData = mustJSON(endEvent{Status: next.Status})
	}
	streamed := e.stage(run.RunID, run.LastEventSeq, c.emit, endData)
	next.LastEventSeq = run.LastEventSeq + int64(len(streamed))

	// In-flight writes always finish, even if the caller is going away.
	wctx := context.WithoutCancel(ctx)
	var committed domain.Run
	err := e.backend.InTx(wctx, func(tx repository.Queries) error {
		staged := next
		if c.extra != nil {
			if err := c.extra(wctx, tx, &staged); err != nil {
				return err
			}
		}
		if err := tx.UpdateRun(wctx, &staged, from); err != nil {
			return err
		}
		if c.thread != "" {
			if err := tx.SetThreadStatus(wctx, staged.ThreadID, c.thread); err != nil {
				return err
			}
		}
		if c.event != "" {
			if err := tx.AppendRunEvent(wctx, &domain.RunEvent{
				RunID: staged.RunID,
				Event: c.event,
				Data:  mustJSON(c.eventData),
			}); err != nil {
				return err
			}
		}
		if len(streamed) > 0 {
			if err := tx.AppendStreamEvents(wctx, streamed); err != nil {
				return err
			}
		}
		committed = staged
		return nil
	})
	if err != nil {
		return err
	}
	*run = committed
	publish(slog, c.emit...)
	if c.end {
		e.hub.Close(run.RunID, endData)
	}
	return nil
}

// stage numbers events after base the way the stream log will. The log of a
// run is opened at its stored LastEventSeq, so both agree.
func (e *Executor) stage(runID string, base int64, events []pendingEvent, endData json.RawMessage) []domain.StreamEvent {
	n := len(events)
	if endData != nil {
		n++
	}
	if n == 0 {
		return nil
	}
	ts := e.now().UnixMilli()
	out := make([]domain.StreamEvent, 0, n)
	for _, ev := range events {
		out = append(out, domain.StreamEvent{Seq: base + int64(len(out)) + 1, RunID: runID, Event: ev.event, Data: ev.data, Ts: ts})
	}
	if endData != nil {
		out = append(out, domain.StreamEvent{Seq: base + int64(len(out)) + 1, RunID: runID, Event: domain.EventTypeEnd, Data: endData, Ts: ts})
	}
	return out
}

func publish(slog *stream.Log, events ...pendingEvent) {
	if slog == nil {
		return
	}
	for _, ev := range events {
		if _, err := slog.Publish(ev.event, ev.data); err != nil {
			log.Warnf("stream %s: drop %s event: %v", slog.RunID(), ev.event, err)
		}
	}
}

// Create persists a new pending run together with its creation event.
func (e *Executor) Create(ctx context.Context, run *domain.Run) error {
	if run.Status == "" {
		run.Status = domain.RunStatusPending
	}
	return e.backend.InTx(ctx, func(tx repository.Queries) error {
		if err := tx.CreateRun(ctx, run); err != nil {
			return err
		}
		if err := tx.SetThreadStatus(ctx, run.ThreadID, domain.ThreadStatusBusy); err != nil {
			return err
		}
		return tx.AppendRunEvent(ctx, &domain.RunEvent{
			RunID: run.RunID,
			Event: domain.EventTypeRunCreated,
			Data:  mustJSON(map[string]string{"assistant_id": run.AssistantID}),
		})
	})
}

// MarkResumed moves an interrupted run back to running with the resume
// payload and opens its stream with the metadata event of the new execution.
// The caller must hold the thread lock.
func (e *Executor) MarkResumed(ctx context.Context, run *domain.Run, payload json.RawMessage) error {
	if run.Status != domain.RunStatusInterrupted {
		return fmt.Errorf("run %s is %s, not interrupted: %w", run.RunID, run.Status, domain.ErrInvalidState)
	}
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	slog := e.hub.Open(run.RunID, run.LastEventSeq)
	err := e.commit(ctx, run, slog, change{
		to:        domain.RunStatusRunning,
		event:     domain.EventTypeRunResumed,
		eventData: json.RawMessage(payload),
		thread:    domain.ThreadStatusBusy,
		mutate:    func(r *domain.Run) { r.Resume = payload },
		emit:      []pendingEvent{metadata(run, true)},
	})
	if err != nil {
		e.hub.Park(run.RunID)
	}
	return err
}

// CancelIdle cancels a run that is not executing in this process: a pending
// run whose worker never started, or an interrupted run.
func (e *Executor) CancelIdle(ctx context.Context, run *domain.Run) error {
	slog, _ := e.hub.Get(run.RunID)
	return e.commit(ctx, run, slog, change{
		to:     domain.RunStatusCancelled,
		event:  domain.EventTypeRunCancelled,
		thread: domain.ThreadStatusIdle,
		end:    true,
	})
}

// Reclaim settles a run whose execution lease expired. Pending runs always
// become errors; others follow policy. The checkpoint pointer is not touched.
func (e *Executor) Reclaim(ctx context.Context, run *domain.Run, policy domain.ReclaimPolicy) error {
	if !run.Status.IsActive() && run.Status != domain.RunStatusPending {
		return fmt.Errorf("run %s is %s: %w", run.RunID, run.Status, domain.ErrInvalidState)
	}
	slog, _ := e.hub.Get(run.RunID)

	if policy == domain.ReclaimToInterrupted && run.Status != domain.RunStatusPending {
		step := 1
		if run.LastCheckpointID != "" {
			cp, err := e.checkpoints.Get(ctx, run.ThreadID, run.LastCheckpointID)
			if err != nil {
				return err
			}
			step = cp.Metadata.Step + 1
		}
		ip := domain.InterruptPayload{Value: json.RawMessage(`{"reason":"lease_expired"}`), Step: step}
		if err := e.commit(ctx, run, slog, change{
			to:        domain.RunStatusInterrupted,
			event:     domain.EventTypeRunReclaimed,
			eventData: map[string]any{"policy": policy, "step": step},
			thread:    domain.ThreadStatusInterrupted,
			mutate: func(r *domain.Run) {
				r.Interrupt = mustJSON(ip)
				r.Resume = nil
			},
			emit: []pendingEvent{event(domain.EventTypeInterrupt, ip)},
		}); err != nil {
			return err
		}
		e.hub.Park(run.RunID)
		return nil
	}

	payload := domain.ErrorPayload{
		Code:         "lease_expired",
		Message:      "execution lease expired before the run finished",
		CheckpointID: run.LastCheckpointID,
	}
	return e.commit(ctx, run, slog, change{
		to:        domain.RunStatusError,
		event:     domain.EventTypeRunReclaimed,
		eventData: map[string]any{"policy": domain.ReclaimToError},
		thread:    domain.ThreadStatusError,
		mutate:    func(r *domain.Run) { r.Error = mustJSON(payload) },
		emit:      []pendingEvent{event(domain.EventTypeError, payload)},
		end:       true,
	})
}

// abandon records a run that could not continue for a reason outside the
// graph, typically storage exhaustion. It is best effort: if the write fails
// too, the lease expires and the reclaimer settles the run.
func (e *Executor) abandon(ctx context.Context, run *domain.Run, slog *stream.Log, cause error) error {
	log.Errorf("run %s: abandoned: %v", run.RunID, cause)
	if errors.Is(cause, domain.ErrInvalidState) {
		// Someone else already moved the run; nothing left to record.
		return cause
	}
	payload := domain.ErrorPayload{
		Code:         domain.ErrorCode(cause),
		Message:      cause.Error(),
		CheckpointID: run.LastCheckpointID,
	}
	err := e.commit(ctx, run, slog, change{
		to:        domain.RunStatusError,
		event:     domain.EventTypeRunFailed,
		eventData: payload,
		thread:    domain.ThreadStatusError,
		mutate:    func(r *domain.Run) { r.Error = mustJSON(payload) },
		emit:      []pendingEvent{event(domain.EventTypeError, payload)},
		end:       true,
	})
	if err != nil {
		log.Errorf("run %s: failed to record error: %v", run.RunID, err)
	}
	return cause
}
