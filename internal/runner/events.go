package runner

import (
	"encoding/json"
	"sync"

	"github.com/xiaot623/gogo/runplane/internal/domain"
)

// pendingEvent is a stream event stored by a commit and published after it.
type pendingEvent struct {
	event domain.EventType
	data  json.RawMessage
}

func event(t domain.EventType, v any) pendingEvent {
	data, err := json.Marshal(v)
	if err != nil {
		data = nil
	}
	return pendingEvent{event: t, data: data}
}

// emitBuffer collects custom events a graph emits during a step.
type emitBuffer struct {
	mu     sync.Mutex
	events []pendingEvent
}

func (b *emitBuffer) Emit(data json.RawMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, pendingEvent{event: domain.EventTypeCustom, data: append(json.RawMessage(nil), data...)})
}

func (b *emitBuffer) take() []pendingEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.events
	b.events = nil
	return out
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

type metadataEvent struct {
	RunID       string `json:"run_id"`
	ThreadID    string `json:"thread_id"`
	AssistantID string `json:"assistant_id"`
	Resumed     bool   `json:"resumed,omitempty"`
}

func metadata(run *domain.Run, resumed bool) pendingEvent {
	return event(domain.EventTypeMetadata, metadataEvent{
		RunID:       run.RunID,
		ThreadID:    run.ThreadID,
		AssistantID: run.AssistantID,
		Resumed:     resumed,
	})
}

type updatesEvent struct {
	Step   int             `json:"step"`
	Writes json.RawMessage `json:"writes"`
}

type endEvent struct {
	Status domain.RunStatus `json:"status"`
}
