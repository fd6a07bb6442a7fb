// Package domain defines the core domain models for runplane.
package domain

// RunStatus represents the status of a run.
type RunStatus string

const (
	RunStatusPending     RunStatus = "pending"
	RunStatusRunning     RunStatus = "running"
	RunStatusStreaming   RunStatus = "streaming"
	RunStatusInterrupted RunStatus = "interrupted"
	RunStatusCompleted   RunStatus = "completed"
	RunStatusError       RunStatus = "error"
	RunStatusCancelled   RunStatus = "cancelled"
)

// ThreadStatus is an informational summary of a thread's latest run.
type ThreadStatus string

const (
	ThreadStatusIdle        ThreadStatus = "idle"
	ThreadStatusBusy        ThreadStatus = "busy"
	ThreadStatusInterrupted ThreadStatus = "interrupted"
	ThreadStatusError       ThreadStatus = "error"
)

// EventType names both stream events and persisted run events.
type EventType string

const (
	// Stream events.
	EventTypeMetadata  EventType = "metadata"
	EventTypeValues    EventType = "values"
	EventTypeUpdates   EventType = "updates"
	EventTypeCustom    EventType = "custom"
	EventTypeInterrupt EventType = "interrupt"
	EventTypeError     EventType = "error"
	EventTypeEnd       EventType = "end"

	// Lifecycle events recorded in run_events.
	EventTypeRunCreated     EventType = "run_created"
	EventTypeRunStarted     EventType = "run_started"
	EventTypeStepCommitted  EventType = "step_committed"
	EventTypeRunInterrupted EventType = "run_interrupted"
	EventTypeRunResumed     EventType = "run_resumed"
	EventTypeRunCompleted   EventType = "run_completed"
	EventTypeRunFailed      EventType = "run_failed"
	EventTypeRunCancelled   EventType = "run_cancelled"
	EventTypeRunReclaimed   EventType = "run_reclaimed"
)

// CheckpointSource records what produced a checkpoint.
type CheckpointSource string

const (
	CheckpointSourceInput  CheckpointSource = "input"
	CheckpointSourceStep   CheckpointSource = "step"
	CheckpointSourceUpdate CheckpointSource = "update"
	CheckpointSourceFork   CheckpointSource = "fork"
)

// AdmissionMode selects what happens when all execution slots are busy.
type AdmissionMode string

const (
	AdmissionBlock    AdmissionMode = "block"
	AdmissionFailFast AdmissionMode = "fail_fast"
)

// ReclaimPolicy selects the status given to a run whose lock lease expired.
type ReclaimPolicy string

const (
	ReclaimToError       ReclaimPolicy = "error"
	ReclaimToInterrupted ReclaimPolicy = "interrupted"
)
