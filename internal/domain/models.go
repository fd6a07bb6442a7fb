package domain

import (
	"encoding/json"
	"time"
)

// Thread is a durable conversation identity owning a checkpoint history.
type Thread struct {
	ThreadID            string          `json:"thread_id"`
	Owner               string          `json:"owner,omitempty"`
	Status              ThreadStatus    `json:"status"`
	Metadata            json.RawMessage `json:"metadata,omitempty"`
	CurrentCheckpointID string          `json:"current_checkpoint_id,omitempty"`
	CheckpointSeq       int64           `json:"checkpoint_seq"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// Run is one execution attempt of a graph against a thread.
type Run struct {
	RunID            string          `json:"run_id"`
	ThreadID         string          `json:"thread_id"`
	AssistantID      string          `json:"assistant_id"`
	Owner            string          `json:"owner,omitempty"`
	Status           RunStatus       `json:"status"`
	Input            json.RawMessage `json:"input,omitempty"`
	Config           json.RawMessage `json:"config,omitempty"`
	Metadata         json.RawMessage `json:"metadata,omitempty"`
	Interrupt        json.RawMessage `json:"interrupt,omitempty"`
	Resume           json.RawMessage `json:"resume,omitempty"`
	Output           json.RawMessage `json:"output,omitempty"`
	Error            json.RawMessage `json:"error,omitempty"`
	CheckpointID     string          `json:"checkpoint_id,omitempty"` // starting checkpoint; empty means current
	LastCheckpointID string          `json:"last_checkpoint_id,omitempty"`
	LastEventSeq     int64           `json:"last_event_seq"`
	CreatedAt        time.Time       `json:"created_at"`
	StartedAt        *time.Time      `json:"started_at,omitempty"`
	EndedAt          *time.Time      `json:"ended_at,omitempty"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Assistant binds a registered graph to a stored configuration. Every update
// bumps Version and keeps the previous one in the version history.
type Assistant struct {
	AssistantID string          `json:"assistant_id"`
	GraphID     string          `json:"graph_id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Owner       string          `json:"owner,omitempty"`
	Config      json.RawMessage `json:"config,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	Version     int             `json:"version"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// AssistantVersion is one immutable revision of an assistant.
type AssistantVersion struct {
	AssistantID string          `json:"assistant_id"`
	Version     int             `json:"version"`
	GraphID     string          `json:"graph_id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Config      json.RawMessage `json:"config,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Checkpoint is an immutable snapshot of a thread's state at one step.
type Checkpoint struct {
	CheckpointID string             `json:"checkpoint_id"`
	ThreadID     string             `json:"thread_id"`
	ParentID     string             `json:"parent_checkpoint_id,omitempty"`
	Seq          int64              `json:"seq"`
	RunID        string             `json:"run_id,omitempty"`
	State        json.RawMessage    `json:"state"`
	Writes       json.RawMessage    `json:"writes,omitempty"`
	Metadata     CheckpointMetadata `json:"metadata"`
	CreatedAt    time.Time          `json:"created_at"`
}

// CheckpointMetadata describes how a checkpoint was produced.
type CheckpointMetadata struct {
	Source CheckpointSource `json:"source"`
	Step   int              `json:"step"`
}

// RunEvent is a persisted lifecycle record for a run.
type RunEvent struct {
	ID        string          `json:"id"`
	RunID     string          `json:"run_id"`
	Seq       int64           `json:"seq"`
	Event     EventType       `json:"event"`
	Data      json.RawMessage `json:"data,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// StreamEvent is one unit of streamed run output.
type StreamEvent struct {
	Seq   int64           `json:"seq"`
	RunID string          `json:"run_id"`
	Event EventType       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Ts    int64           `json:"ts"` // Unix milliseconds
}

// InterruptPayload is the stream event data for an interrupt.
type InterruptPayload struct {
	Value json.RawMessage `json:"value"`
	Step  int             `json:"step"`
}

// ErrorPayload is the stream event data for a failed run and the persisted run error.
type ErrorPayload struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	CheckpointID string `json:"checkpoint_id,omitempty"`
	Seq          int64  `json:"seq,omitempty"`
}
