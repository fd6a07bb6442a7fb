// Package policy decides whether a principal may act on a thread or run.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// Input is the document a policy evaluates.
type Input struct {
	Principal string `json:"principal"`
	Owner     string `json:"owner"`
	Action    string `json:"action"`
	Resource  string `json:"resource"`
}

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a policy engine from rego source defining data.ownership.allow.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.ownership.allow"),
		rego.Module("ownership.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// NewDefaultEngine creates an engine running DefaultPolicy.
func NewDefaultEngine(ctx context.Context) (*Engine, error) {
	return NewEngine(ctx, DefaultPolicy)
}

// Allow evaluates the policy. An undefined result denies.
func (e *Engine) Allow(ctx context.Context, in Input) (bool, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(in))
	if err != nil {
		return false, fmt.Errorf("failed to evaluate policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, nil
	}
	allowed, ok := results[0].Expressions[0].Value.(bool)
	if !ok {
		return false, fmt.Errorf("policy returned %T, want bool", results[0].Expressions[0].Value)
	}
	return allowed, nil
}

// DefaultPolicy lets a principal act on what it owns and on unowned resources.
// The principal string is compared, never interpreted.
const DefaultPolicy = `
package ownership

default allow = false

allow {
	input.owner == ""
}

allow {
	input.principal == input.owner
}
`
