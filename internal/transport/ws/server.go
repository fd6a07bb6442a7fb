// Package ws serves run event streams over WebSocket. A client attaches with
// attach{from_seq}, acknowledges with ack{seq}, and may re-attach at any time
// from the last seq it saw.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/runplane/internal/config"
	"github.com/xiaot623/gogo/runplane/internal/domain"
	"github.com/xiaot623/gogo/runplane/internal/log"
	"github.com/xiaot623/gogo/runplane/internal/service"
	"github.com/xiaot623/gogo/runplane/internal/stream"
)

// Server handles WebSocket connections.
type Server struct {
	cfg      *config.Config
	service  *service.Service
	upgrader websocket.Upgrader
}

// NewServer creates a new WebSocket server.
func NewServer(svc *service.Service, cfg *config.Config) *Server {
	return &Server{
		cfg:     cfg,
		service: svc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// HandleWebSocket upgrades GET /v1/runs/:run_id/ws and runs the connection.
func (s *Server) HandleWebSocket(c echo.Context) error {
	runID := c.Param("run_id")
	principal := c.Request().Header.Get("X-Principal")

	// Reject unknown or foreign runs before upgrading.
	if _, err := s.service.GetRun(c.Request().Context(), principal, runID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrNotFound) {
			status = http.StatusNotFound
		}
		return c.JSON(status, domain.ErrorResponse{Error: err.Error(), Code: domain.ErrorCode(err)})
	}

	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Warnf("failed to upgrade WebSocket: %v", err)
		return nil
	}

	conn := newConnection(ws, runID, principal)
	ws.SetReadLimit(s.cfg.WSMaxMessageSize)

	go s.writePump(conn)
	go s.readPump(conn)

	return nil
}

// readPump reads client messages until the connection fails.
func (s *Server) readPump(conn *Connection) {
	defer func() {
		conn.Close()
		conn.Conn.Close()
	}()

	conn.Conn.SetReadDeadline(time.Now().Add(s.cfg.WSReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.Conn.SetReadDeadline(time.Now().Add(s.cfg.WSReadTimeout))
		return nil
	})

	for {
		_, message, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Warnf("ws %s: %v", conn.ID, err)
			}
			return
		}
		s.handleMessage(conn, message)
	}
}

// writePump drains the send buffer and keeps the connection alive with pings.
func (s *Server) writePump(conn *Connection) {
	ticker := time.NewTicker(s.cfg.WSPingInterval)
	defer func() {
		ticker.Stop()
		conn.Conn.Close()
	}()

	for {
		select {
		case message := <-conn.Send:
			if err := conn.writeMessage(websocket.TextMessage, message, s.cfg.WSWriteTimeout); err != nil {
				log.Debugf("ws %s: write failed: %v", conn.ID, err)
				return
			}

		case <-ticker.C:
			if err := conn.writeMessage(websocket.PingMessage, nil, s.cfg.WSWriteTimeout); err != nil {
				return
			}

		case <-conn.done:
			// Flush what is already queued, then say goodbye.
			for {
				select {
				case message := <-conn.Send:
					if err := conn.writeMessage(websocket.TextMessage, message, s.cfg.WSWriteTimeout); err != nil {
						return
					}
				default:
					_ = conn.writeMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), s.cfg.WSWriteTimeout)
					return
				}
			}
		}
	}
}

// handleMessage dispatches incoming messages to appropriate handlers.
func (s *Server) handleMessage(conn *Connection, data []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, "invalid_argument", "invalid JSON message")
		return
	}

	switch msg.Type {
	case TypeAttach:
		s.handleAttach(conn, msg.FromSeq)
	case TypeAck:
		if sub := conn.current(); sub != nil {
			sub.Ack(msg.Seq)
		}
	default:
		s.sendError(conn, "invalid_argument", "unknown message type: "+msg.Type)
	}
}

// handleAttach subscribes the connection from fromSeq, replacing any earlier
// subscription.
func (s *Server) handleAttach(conn *Connection, fromSeq int64) {
	sub, err := s.service.Attach(context.Background(), conn.Principal, conn.RunID, fromSeq)
	if err != nil {
		s.sendError(conn, domain.ErrorCode(err), err.Error())
		return
	}
	ctx := conn.swap(sub)
	_ = conn.SendJSON(AttachedMessage{Type: TypeAttached, RunID: conn.RunID, FromSeq: fromSeq})
	go s.pump(ctx, conn, sub)
}

// pump forwards events from sub until the stream ends or ctx is cancelled.
func (s *Server) pump(ctx context.Context, conn *Connection, sub *stream.Subscription) {
	for {
		ev, err := sub.Next(ctx)
		if errors.Is(err, io.EOF) {
			// Everything up to the end sentinel is queued; the writer
			// flushes it before closing.
			conn.Close()
			return
		}
		if err != nil {
			if ctx.Err() == nil {
				s.sendError(conn, domain.ErrorCode(err), err.Error())
			}
			return
		}
		msg := EventMessage{
			Type:  TypeEvent,
			RunID: ev.RunID,
			Seq:   ev.Seq,
			Event: string(ev.Event),
			Data:  ev.Data,
			Ts:    ev.Ts,
		}
		if err := conn.SendJSON(msg); err != nil {
			log.Warnf("ws %s: dropping slow client: %v", conn.ID, err)
			conn.Close()
			return
		}
	}
}

func (s *Server) sendError(conn *Connection, code, message string) {
	_ = conn.SendJSON(ErrorMessage{Type: TypeError, Code: code, Message: message})
}
