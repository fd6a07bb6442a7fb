package graph

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/runplane/internal/config"
	"github.com/xiaot623/gogo/runplane/internal/domain"
)

func TestEcho(t *testing.T) {
	res, err := Echo().Step(context.Background(), StepRequest{Step: 1, Input: json.RawMessage(`{"msg":"hi"}`)}, Discard)
	require.NoError(t, err)
	assert.Equal(t, SignalDone, res.Signal.Kind)
	assert.JSONEq(t, `{"echo":{"msg":"hi"}}`, string(res.Delta))
}

func TestApproval_InterruptThenResume(t *testing.T) {
	g := Approval()
	ctx := context.Background()

	res, err := g.Step(ctx, StepRequest{Step: 1, Input: json.RawMessage(`{"action":"deploy"}`)}, Discard)
	require.NoError(t, err)
	assert.Equal(t, SignalInterrupt, res.Signal.Kind)
	assert.JSONEq(t, `{"question":"approve?"}`, string(res.Signal.Payload))
	assert.Empty(t, res.Delta)

	res, err = g.Step(ctx, StepRequest{Step: 1, Resume: json.RawMessage(`{"approved":true}`)}, Discard)
	require.NoError(t, err)
	assert.Equal(t, SignalDone, res.Signal.Kind)
	assert.JSONEq(t, `{"approved":true}`, string(res.Delta))
}

func TestApproval_PreApprovedInputSkipsInterrupt(t *testing.T) {
	res, err := Approval().Step(context.Background(), StepRequest{Step: 1, Input: json.RawMessage(`{"approved":false}`)}, Discard)
	require.NoError(t, err)
	assert.Equal(t, SignalDone, res.Signal.Kind)
	assert.JSONEq(t, `{"approved":false}`, string(res.Delta))
}

func TestApproval_CustomQuestionAndBadResume(t *testing.T) {
	g := Approval()
	res, err := g.Step(context.Background(), StepRequest{Step: 1, Config: json.RawMessage(`{"question":"ship it?"}`)}, Discard)
	require.NoError(t, err)
	assert.JSONEq(t, `{"question":"ship it?"}`, string(res.Signal.Payload))

	_, err = g.Step(context.Background(), StepRequest{Step: 1, Resume: json.RawMessage(`true`)}, Discard)
	assert.Error(t, err)
}

func TestCounter(t *testing.T) {
	g := Counter()
	cfg := json.RawMessage(`{"steps":3}`)
	var ticks []string
	emit := EmitterFunc(func(data json.RawMessage) { ticks = append(ticks, string(data)) })

	for step := 1; step <= 3; step++ {
		res, err := g.Step(context.Background(), StepRequest{Step: step, Config: cfg}, emit)
		require.NoError(t, err)
		if step < 3 {
			assert.Equal(t, SignalContinue, res.Signal.Kind)
		} else {
			assert.Equal(t, SignalDone, res.Signal.Kind)
		}
	}
	assert.Equal(t, []string{`{"tick":1}`, `{"tick":2}`, `{"tick":3}`}, ticks)
}

func TestCounter_Fault(t *testing.T) {
	res, err := Counter().Step(context.Background(), StepRequest{Step: 3, Config: json.RawMessage(`{"steps":5,"fault_at":3}`)}, Discard)
	require.NoError(t, err)
	assert.Equal(t, SignalFault, res.Signal.Kind)
	assert.Error(t, res.Signal.Err)
}

func TestRegistry_Load(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Load(DefaultCatalog()))
	assert.Equal(t, []string{"approval", "counter", "echo"}, r.Assistants())

	cat := &config.GraphCatalog{Assistants: []config.AssistantConfig{
		{AssistantID: "short", Graph: "counter", Config: map[string]any{"steps": 1}},
	}}
	require.NoError(t, r.Load(cat))
	a, err := r.Get("short")
	require.NoError(t, err)
	assert.JSONEq(t, `{"steps":1}`, string(a.Config))

	_, err = r.Get("missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRegistry_Errors(t *testing.T) {
	r := NewRegistry()
	err := r.Load(&config.GraphCatalog{Assistants: []config.AssistantConfig{{AssistantID: "x", Graph: "nope"}}})
	assert.ErrorIs(t, err, ErrUnknownGraph)

	err = r.Load(&config.GraphCatalog{Assistants: []config.AssistantConfig{{AssistantID: "x", Graph: "remote"}}})
	assert.Error(t, err)

	assert.Error(t, r.RegisterFactory("echo", func(config.AssistantConfig) (Graph, error) { return Echo(), nil }))
	require.NoError(t, r.Register("a", Echo(), nil))
	assert.Error(t, r.Register("a", Echo(), nil))
}

func TestRegistry_BuildStored(t *testing.T) {
	r := NewRegistry()

	a, err := r.Build(&domain.Assistant{AssistantID: "mine", GraphID: "counter", Config: json.RawMessage(`{"steps":2}`)})
	require.NoError(t, err)
	assert.Equal(t, "mine", a.ID)
	assert.JSONEq(t, `{"steps":2}`, string(a.Config))
	assert.False(t, r.Has("mine"), "building must not register")

	remote, err := r.Build(&domain.Assistant{AssistantID: "far", GraphID: "remote",
		Config: json.RawMessage(`{"endpoint":"http://graphs.local/step"}`)})
	require.NoError(t, err)
	assert.NotNil(t, remote.Graph)

	_, err = r.Build(&domain.Assistant{AssistantID: "x", GraphID: "nope"})
	assert.ErrorIs(t, err, ErrUnknownGraph)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = r.Build(&domain.Assistant{AssistantID: "x", GraphID: "remote"})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = r.Build(&domain.Assistant{AssistantID: "x", GraphID: "echo", Config: json.RawMessage(`[1]`)})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}
