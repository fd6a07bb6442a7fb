package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/xiaot623/gogo/runplane/internal/stream"
)

// ErrBufferFull is returned when a connection's send buffer is full.
var ErrBufferFull = errors.New("send buffer full")

// Connection is one WebSocket client attached to a run.
type Connection struct {
	ID        string
	RunID     string
	Principal string
	Conn      *websocket.Conn
	Send      chan []byte

	mu     sync.Mutex
	sub    *stream.Subscription
	cancel context.CancelFunc
	closed bool
	done   chan struct{}
}

func newConnection(ws *websocket.Conn, runID, principal string) *Connection {
	return &Connection{
		ID:        uuid.New().String(),
		RunID:     runID,
		Principal: principal,
		Conn:      ws,
		Send:      make(chan []byte, 256),
		done:      make(chan struct{}),
	}
}

// SendJSON queues a message without blocking.
func (c *Connection) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return websocket.ErrCloseSent
	}
	select {
	case c.Send <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// swap installs a new subscription and stops the previous one. The returned
// context ends when sub is replaced or the connection closes.
func (c *Connection) swap(sub *stream.Subscription) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	old, oldCancel := c.sub, c.cancel
	closed := c.closed
	if !closed {
		c.sub, c.cancel = sub, cancel
	}
	c.mu.Unlock()

	if oldCancel != nil {
		oldCancel()
	}
	if old != nil {
		old.Close()
	}
	if closed {
		cancel()
		sub.Close()
	}
	return ctx
}

func (c *Connection) current() *stream.Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sub
}

// Close detaches the subscription and stops the writer.
func (c *Connection) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	sub, cancel := c.sub, c.cancel
	c.sub, c.cancel = nil, nil
	close(c.done)
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if sub != nil {
		sub.Close()
	}
}

func (c *Connection) writeMessage(kind int, data []byte, timeout time.Duration) error {
	c.Conn.SetWriteDeadline(time.Now().Add(timeout))
	return c.Conn.WriteMessage(kind, data)
}
