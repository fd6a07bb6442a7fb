package graph

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/xiaot623/gogo/runplane/internal/checkpoint"
)

// SSEEvent is one parsed server-sent event.
type SSEEvent struct {
	Event string
	Data  string
}

// signalEvent is the data of a "signal" event from a remote graph.
type signalEvent struct {
	Kind    SignalKind      `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Remote runs steps on an HTTP service. Each step is a POST to
// <endpoint>/step answered with an SSE stream of custom, delta and signal
// events.
type Remote struct {
	endpoint   string
	httpClient *http.Client
}

// NewRemote creates a remote graph.
func NewRemote(endpoint string) *Remote {
	return &Remote{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute, // long timeout for streaming steps
		},
	}
}

func (g *Remote) Step(ctx context.Context, req StepRequest, emit Emitter) (StepResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return StepResult{}, fmt.Errorf("failed to marshal step request: %w", err)
	}

	url := strings.TrimSuffix(g.endpoint, "/") + "/step"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return StepResult{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("X-Thread-ID", req.ThreadID)
	httpReq.Header.Set("X-Run-ID", req.RunID)

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return StepResult{}, fmt.Errorf("failed to call graph: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return StepResult{}, fmt.Errorf("graph returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var (
		result    StepResult
		gotSignal bool
	)
	err = parseSSE(resp.Body, func(ev SSEEvent) error {
		switch ev.Event {
		case "custom":
			emit.Emit(json.RawMessage(ev.Data))
		case "delta":
			merged, err := checkpoint.Merge(result.Delta, json.RawMessage(ev.Data))
			if err != nil {
				return fmt.Errorf("failed to parse delta event: %w", err)
			}
			result.Delta = merged
		case "signal":
			var sig signalEvent
			if err := json.Unmarshal([]byte(ev.Data), &sig); err != nil {
				return fmt.Errorf("failed to parse signal event: %w", err)
			}
			s, err := sig.toSignal()
			if err != nil {
				return err
			}
			result.Signal = s
			gotSignal = true
		}
		return nil
	})
	if err != nil {
		return StepResult{}, err
	}
	if !gotSignal {
		return StepResult{}, errors.New("graph stream ended without a signal")
	}
	return result, nil
}

func (s signalEvent) toSignal() (Signal, error) {
	switch s.Kind {
	case SignalContinue:
		return Continue(), nil
	case SignalDone:
		return Done(), nil
	case SignalInterrupt:
		return Interrupt(s.Payload), nil
	case SignalFault:
		msg := s.Error
		if msg == "" {
			msg = "remote graph fault"
		}
		return Fault(errors.New(msg)), nil
	default:
		return Signal{}, fmt.Errorf("unknown signal kind %q", s.Kind)
	}
}

// parseSSE parses an SSE stream and calls handler for each event.
func parseSSE(reader io.Reader, handler func(SSEEvent) error) error {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	var event SSEEvent

	for scanner.Scan() {
		line := scanner.Text()

		// Empty line marks end of event
		if line == "" {
			if event.Event != "" || event.Data != "" {
				if err := handler(event); err != nil {
					return err
				}
				event = SSEEvent{}
			}
			continue
		}

		if strings.HasPrefix(line, "event:") {
			event.Event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		} else if strings.HasPrefix(line, "data:") {
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if event.Data != "" {
				event.Data += "\n" + data
			} else {
				event.Data = data
			}
		}
		// Comments and other fields are ignored.
	}

	if event.Event != "" || event.Data != "" {
		if err := handler(event); err != nil {
			return err
		}
	}
	return scanner.Err()
}
