package graph

import (
	"context"
	"encoding/json"
	"fmt"
)

// Echo copies the input into the state in a single step.
func Echo() Graph {
	return Func(func(ctx context.Context, req StepRequest, emit Emitter) (StepResult, error) {
		delta, err := json.Marshal(map[string]json.RawMessage{"echo": orNull(req.Input)})
		if err != nil {
			return StepResult{}, err
		}
		return StepResult{Delta: delta, Signal: Done()}, nil
	})
}

type approvalConfig struct {
	Question string `json:"question"`
}

// Approval pauses for a human decision unless the input already carries one.
// The resume payload becomes the step's delta.
func Approval() Graph {
	return Func(func(ctx context.Context, req StepRequest, emit Emitter) (StepResult, error) {
		if len(req.Resume) > 0 {
			if !isObject(req.Resume) {
				return StepResult{}, fmt.Errorf("approval resume must be a JSON object")
			}
			return StepResult{Delta: req.Resume, Signal: Done()}, nil
		}

		var in map[string]json.RawMessage
		if len(req.Input) > 0 {
			_ = json.Unmarshal(req.Input, &in)
		}
		if approved, ok := in["approved"]; ok {
			delta, err := json.Marshal(map[string]json.RawMessage{"approved": approved})
			if err != nil {
				return StepResult{}, err
			}
			return StepResult{Delta: delta, Signal: Done()}, nil
		}

		cfg := approvalConfig{Question: "approve?"}
		if len(req.Config) > 0 {
			if err := json.Unmarshal(req.Config, &cfg); err != nil {
				return StepResult{}, fmt.Errorf("approval config: %w", err)
			}
		}
		payload, err := json.Marshal(map[string]string{"question": cfg.Question})
		if err != nil {
			return StepResult{}, err
		}
		return StepResult{Signal: Interrupt(payload)}, nil
	})
}

type counterConfig struct {
	Steps   int `json:"steps"`
	FaultAt int `json:"fault_at"`
}

// Counter runs config.steps steps (default 3), recording the step number in
// "count". A nonzero config.fault_at makes that step fail.
func Counter() Graph {
	return Func(func(ctx context.Context, req StepRequest, emit Emitter) (StepResult, error) {
		cfg := counterConfig{Steps: 3}
		if len(req.Config) > 0 {
			if err := json.Unmarshal(req.Config, &cfg); err != nil {
				return StepResult{}, fmt.Errorf("counter config: %w", err)
			}
		}
		if cfg.FaultAt > 0 && req.Step == cfg.FaultAt {
			return StepResult{Signal: Fault(fmt.Errorf("counter fault at step %d", req.Step))}, nil
		}

		emit.Emit(json.RawMessage(fmt.Sprintf(`{"tick":%d}`, req.Step)))
		delta := json.RawMessage(fmt.Sprintf(`{"count":%d}`, req.Step))
		if req.Step >= cfg.Steps {
			return StepResult{Delta: delta, Signal: Done()}, nil
		}
		return StepResult{Delta: delta, Signal: Continue()}, nil
	})
}

func orNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return raw
}

func isObject(raw json.RawMessage) bool {
	var m map[string]json.RawMessage
	return json.Unmarshal(raw, &m) == nil && m != nil
}
