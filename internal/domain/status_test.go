package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(RunStatusPending, RunStatusRunning))
	assert.True(t, CanTransition(RunStatusRunning, RunStatusStreaming))
	assert.True(t, CanTransition(RunStatusStreaming, RunStatusInterrupted))
	assert.True(t, CanTransition(RunStatusInterrupted, RunStatusRunning))
	assert.False(t, CanTransition(RunStatusPending, RunStatusInterrupted))
	assert.False(t, CanTransition(RunStatusInterrupted, RunStatusCompleted))

	for _, terminal := range []RunStatus{RunStatusCompleted, RunStatusError, RunStatusCancelled} {
		assert.True(t, terminal.IsTerminal())
		for _, to := range []RunStatus{RunStatusPending, RunStatusRunning, RunStatusInterrupted, RunStatusCancelled} {
			assert.False(t, CanTransition(terminal, to), "%s -> %s", terminal, to)
		}
	}
}

func TestErrorTaxonomy(t *testing.T) {
	overloaded := fmt.Errorf("admit: %w", &OverloadedError{RetryAfter: time.Second})
	assert.True(t, errors.Is(overloaded, ErrOverloaded))
	assert.Equal(t, "overloaded", ErrorCode(overloaded))

	gap := &StreamGapError{RunID: "r1", Requested: 2, Oldest: 10}
	assert.True(t, errors.Is(gap, ErrStreamGap))

	cause := errors.New("boom")
	fault := &ComputationFault{RunID: "r1", Step: 3, CheckpointID: "cp2", Seq: 2, Err: cause}
	assert.True(t, errors.Is(fault, ErrComputationFault))
	assert.True(t, errors.Is(fault, cause))
	assert.Equal(t, "cp2", fault.Payload().CheckpointID)

	assert.Equal(t, "thread_busy", ErrorCode(fmt.Errorf("x: %w", ErrThreadBusy)))
	assert.Equal(t, "internal", ErrorCode(errors.New("other")))
}
