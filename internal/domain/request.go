package domain

import "encoding/json"

// CreateThreadRequest creates a thread.
type CreateThreadRequest struct {
	ThreadID string          `json:"thread_id,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
	IfExists string          `json:"if_exists,omitempty"` // "raise" (default) or "do_nothing"
}

// CreateRunRequest starts a run on a thread.
type CreateRunRequest struct {
	AssistantID  string          `json:"assistant_id"`
	Input        json.RawMessage `json:"input,omitempty"`
	Config       json.RawMessage `json:"config,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	CheckpointID string          `json:"checkpoint_id,omitempty"`
	// Wait blocks for admission up to this many milliseconds. Zero uses the configured default.
	WaitMs int `json:"wait_ms,omitempty"`
	// FailFast rejects immediately when no execution slot is free.
	FailFast bool `json:"fail_fast,omitempty"`
}

// ResumeRunRequest supplies the input an interrupted run is waiting on.
type ResumeRunRequest struct {
	Resume json.RawMessage `json:"resume"`
}

// UpdateStateRequest writes a new checkpoint on top of the thread's state.
type UpdateStateRequest struct {
	Values       json.RawMessage `json:"values"`
	CheckpointID string          `json:"checkpoint_id,omitempty"`
}

// ThreadState is the resolved current state of a thread.
type ThreadState struct {
	ThreadID     string          `json:"thread_id"`
	Values       json.RawMessage `json:"values"`
	CheckpointID string          `json:"checkpoint_id,omitempty"`
	ParentID     string          `json:"parent_checkpoint_id,omitempty"`
	Seq          int64           `json:"seq"`
	Interrupts   json.RawMessage `json:"interrupts,omitempty"`
}

// CreateAssistantRequest stores a new assistant.
type CreateAssistantRequest struct {
	AssistantID string          `json:"assistant_id,omitempty"`
	GraphID     string          `json:"graph_id"`
	Name        string          `json:"name,omitempty"`
	Description string          `json:"description,omitempty"`
	Config      json.RawMessage `json:"config,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	IfExists    string          `json:"if_exists,omitempty"` // "raise" (default) or "do_nothing"
}

// UpdateAssistantRequest writes a new version of an assistant. Empty fields
// keep their current value.
type UpdateAssistantRequest struct {
	GraphID     string          `json:"graph_id,omitempty"`
	Name        string          `json:"name,omitempty"`
	Description string          `json:"description,omitempty"`
	Config      json.RawMessage `json:"config,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
}

// SetAssistantVersionRequest makes an earlier version current again.
type SetAssistantVersionRequest struct {
	Version int `json:"version"`
}

// ForkThreadRequest copies a checkpoint into a new current child.
type ForkThreadRequest struct {
	CheckpointID string `json:"checkpoint_id"`
}

// RewindThreadRequest points the thread back at an existing checkpoint.
type RewindThreadRequest struct {
	CheckpointID string `json:"checkpoint_id"`
}

// ErrorResponse is the JSON body returned for failed requests.
type ErrorResponse struct {
	Error        string `json:"error"`
	Code         string `json:"code"`
	RetryAfterMs int64  `json:"retry_after_ms,omitempty"`
}
