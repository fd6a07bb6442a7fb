// Package rpc exposes run control over JSON-RPC for co-located operators and
// workers that do not speak the HTTP API.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"

	"github.com/xiaot623/gogo/runplane/internal/domain"
	"github.com/xiaot623/gogo/runplane/internal/log"
	"github.com/xiaot623/gogo/runplane/internal/service"
)

const callTimeout = 30 * time.Second

// Server accepts JSON-RPC connections.
type Server struct {
	listener  net.Listener
	rpcServer *rpc.Server
	done      chan struct{}
}

// NewServer creates a new RPC server bound to the run service.
func NewServer(svc *service.Service) (*Server, error) {
	rpcServer := rpc.NewServer()
	handler := &Handler{service: svc}
	if err := rpcServer.RegisterName("Runplane", handler); err != nil {
		return nil, fmt.Errorf("register rpc handler: %w", err)
	}

	return &Server{
		rpcServer: rpcServer,
		done:      make(chan struct{}),
	}, nil
}

// Start begins accepting RPC connections on the given address.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until it is closed.
func (s *Server) Serve(ln net.Listener) error {
	s.listener = ln
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				close(s.done)
				return nil
			}
			log.Warnf("RPC accept error: %v", err)
			continue
		}

		go s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(conn))
	}
}

// Shutdown stops accepting new RPC connections.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.listener == nil {
		return nil
	}

	if err := s.listener.Close(); err != nil {
		return err
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handler implements the Runplane RPC methods. Errors carry the taxonomy
// code as a "code: message" prefix since net/rpc only transports strings.
type Handler struct {
	service *service.Service
}

// CreateRunArgs starts a run on a thread.
type CreateRunArgs struct {
	Principal string                  `json:"principal,omitempty"`
	ThreadID  string                  `json:"thread_id"`
	Request   domain.CreateRunRequest `json:"request"`
}

// ResumeRunArgs resumes an interrupted run.
type ResumeRunArgs struct {
	Principal string          `json:"principal,omitempty"`
	RunID     string          `json:"run_id"`
	Resume    json.RawMessage `json:"resume"`
}

// RunArgs identifies a run.
type RunArgs struct {
	Principal string `json:"principal,omitempty"`
	RunID     string `json:"run_id"`
}

// StatsArgs is empty; net/rpc needs a concrete argument type.
type StatsArgs struct{}

// CreateRun starts a run.
func (h *Handler) CreateRun(args *CreateRunArgs, resp *domain.Run) error {
	if args == nil || args.ThreadID == "" {
		return errors.New("invalid_argument: thread_id is required")
	}
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	return reply(h.service.CreateRun(ctx, args.Principal, args.ThreadID, args.Request))(resp)
}

// ResumeRun resumes an interrupted run.
func (h *Handler) ResumeRun(args *ResumeRunArgs, resp *domain.Run) error {
	if args == nil || args.RunID == "" {
		return errors.New("invalid_argument: run_id is required")
	}
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	return reply(h.service.ResumeRun(ctx, args.Principal, args.RunID, args.Resume))(resp)
}

// CancelRun requests cancellation of a run.
func (h *Handler) CancelRun(args *RunArgs, resp *domain.Run) error {
	if args == nil || args.RunID == "" {
		return errors.New("invalid_argument: run_id is required")
	}
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	return reply(h.service.CancelRun(ctx, args.Principal, args.RunID))(resp)
}

// GetRun returns a run.
func (h *Handler) GetRun(args *RunArgs, resp *domain.Run) error {
	if args == nil || args.RunID == "" {
		return errors.New("invalid_argument: run_id is required")
	}
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	return reply(h.service.GetRun(ctx, args.Principal, args.RunID))(resp)
}

// Stats reports scheduler and stream load.
func (h *Handler) Stats(_ *StatsArgs, resp *service.Stats) error {
	*resp = h.service.Stats()
	return nil
}

func reply(run *domain.Run, err error) func(*domain.Run) error {
	return func(resp *domain.Run) error {
		if err != nil {
			return fmt.Errorf("%s: %w", domain.ErrorCode(err), err)
		}
		if resp != nil && run != nil {
			*resp = *run
		}
		return nil
	}
}
