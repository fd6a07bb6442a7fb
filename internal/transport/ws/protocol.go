package ws

import "encoding/json"

// Message types from client to server
const (
	TypeAttach = "attach"
	TypeAck    = "ack"
)

// Message types from server to client
const (
	TypeAttached = "attached"
	TypeEvent    = "event"
	TypeError    = "error"
)

// ClientMessage is any message a client sends.
type ClientMessage struct {
	Type    string `json:"type"`
	FromSeq int64  `json:"from_seq,omitempty"`
	Seq     int64  `json:"seq,omitempty"`
}

// AttachedMessage confirms a subscription.
type AttachedMessage struct {
	Type    string `json:"type"`
	RunID   string `json:"run_id"`
	FromSeq int64  `json:"from_seq"`
}

// EventMessage carries one stream event.
type EventMessage struct {
	Type  string          `json:"type"`
	RunID string          `json:"run_id"`
	Seq   int64           `json:"seq"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Ts    int64           `json:"ts"`
}

// ErrorMessage reports a failed request or a broken stream.
type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
