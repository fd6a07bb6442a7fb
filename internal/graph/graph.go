// Package graph defines the boundary to agent computations. A graph is driven
// one step at a time; each step returns a state delta and a control signal.
package graph

import (
	"context"
	"encoding/json"
	"errors"
)

// SignalKind tells the executor what to do after a step.
type SignalKind string

const (
	SignalContinue  SignalKind = "continue"
	SignalInterrupt SignalKind = "interrupt"
	SignalDone      SignalKind = "done"
	SignalFault     SignalKind = "fault"
)

// Signal is the control outcome of a step.
type Signal struct {
	Kind SignalKind
	// Payload is what an interrupt asks for.
	Payload json.RawMessage
	// Err is the cause of a fault.
	Err error
}

func Continue() Signal { return Signal{Kind: SignalContinue} }
func Done() Signal     { return Signal{Kind: SignalDone} }
func Interrupt(payload json.RawMessage) Signal {
	return Signal{Kind: SignalInterrupt, Payload: payload}
}
func Fault(err error) Signal { return Signal{Kind: SignalFault, Err: err} }

// StepRequest is the input of one step.
type StepRequest struct {
	ThreadID    string          `json:"thread_id"`
	RunID       string          `json:"run_id"`
	AssistantID string          `json:"assistant_id"`
	Step        int             `json:"step"`
	State       json.RawMessage `json:"state,omitempty"`
	Input       json.RawMessage `json:"input,omitempty"`
	// Resume is set only on the step that re-executes after an interrupt.
	Resume json.RawMessage `json:"resume,omitempty"`
	Config json.RawMessage `json:"config,omitempty"`
}

// StepResult is the output of one step.
type StepResult struct {
	Delta  json.RawMessage
	Signal Signal
}

// Emitter receives custom events produced while a step runs.
type Emitter interface {
	Emit(data json.RawMessage)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(data json.RawMessage)

func (f EmitterFunc) Emit(data json.RawMessage) { f(data) }

// Discard drops emitted events.
var Discard Emitter = EmitterFunc(func(json.RawMessage) {})

// Graph is an agent computation. A returned error is treated as a fault.
type Graph interface {
	Step(ctx context.Context, req StepRequest, emit Emitter) (StepResult, error)
}

// Func adapts a function to Graph.
type Func func(ctx context.Context, req StepRequest, emit Emitter) (StepResult, error)

func (f Func) Step(ctx context.Context, req StepRequest, emit Emitter) (StepResult, error) {
	return f(ctx, req, emit)
}

// ErrUnknownGraph is returned when a catalog names a graph nobody registered.
var ErrUnknownGraph = errors.New("unknown graph")
