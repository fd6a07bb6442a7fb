package domain

var transitions = map[RunStatus][]RunStatus{
	RunStatusPending:     {RunStatusRunning, RunStatusCancelled, RunStatusError},
	RunStatusRunning:     {RunStatusStreaming, RunStatusInterrupted, RunStatusCompleted, RunStatusError, RunStatusCancelled},
	RunStatusStreaming:   {RunStatusRunning, RunStatusInterrupted, RunStatusCompleted, RunStatusError, RunStatusCancelled},
	RunStatusInterrupted: {RunStatusRunning, RunStatusCancelled, RunStatusError},
}

// CanTransition reports whether a run may move from one status to another.
// Terminal statuses have no outgoing edges.
func CanTransition(from, to RunStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are permitted.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusError, RunStatusCancelled:
		return true
	}
	return false
}

// IsActive reports whether the run occupies its thread's execution lock.
func (s RunStatus) IsActive() bool {
	return s == RunStatusRunning || s == RunStatusStreaming
}

// Valid reports whether s names a known status.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusPending, RunStatusRunning, RunStatusStreaming, RunStatusInterrupted,
		RunStatusCompleted, RunStatusError, RunStatusCancelled:
		return true
	}
	return false
}

// ActiveStatuses are the statuses a run may hold while it owns or waits on execution.
var ActiveStatuses = []RunStatus{RunStatusPending, RunStatusRunning, RunStatusStreaming}
