// Package v1 provides the versioned HTTP handlers for threads, runs and assistants.
package v1

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/runplane/internal/domain"
	"github.com/xiaot623/gogo/runplane/internal/log"
	"github.com/xiaot623/gogo/runplane/internal/service"
)

// PrincipalHeader carries the caller's opaque identity.
const PrincipalHeader = "X-Principal"

// Handler handles HTTP requests.
type Handler struct {
	service *service.Service
}

// NewHandler creates a new handler.
func NewHandler(service *service.Service) *Handler {
	return &Handler{
		service: service,
	}
}

// RegisterRoutes registers the API routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	// Threads
	e.POST("/v1/threads", h.CreateThread)
	e.GET("/v1/threads", h.ListThreads)
	e.GET("/v1/threads/:thread_id", h.GetThread)
	e.DELETE("/v1/threads/:thread_id", h.DeleteThread)

	// State and history
	e.GET("/v1/threads/:thread_id/state", h.GetState)
	e.POST("/v1/threads/:thread_id/state", h.UpdateState)
	e.GET("/v1/threads/:thread_id/history", h.History)
	e.GET("/v1/threads/:thread_id/checkpoints/:checkpoint_id", h.GetCheckpoint)
	e.GET("/v1/threads/:thread_id/checkpoints/:checkpoint_id/lineage", h.CheckpointLineage)
	e.POST("/v1/threads/:thread_id/fork", h.ForkThread)
	e.POST("/v1/threads/:thread_id/rewind", h.RewindThread)

	// Assistants
	e.POST("/v1/assistants", h.CreateAssistant)
	e.GET("/v1/assistants", h.ListAssistants)
	e.GET("/v1/assistants/:assistant_id", h.GetAssistant)
	e.PATCH("/v1/assistants/:assistant_id", h.UpdateAssistant)
	e.DELETE("/v1/assistants/:assistant_id", h.DeleteAssistant)
	e.GET("/v1/assistants/:assistant_id/versions", h.ListAssistantVersions)
	e.POST("/v1/assistants/:assistant_id/latest", h.SetAssistantVersion)

	// Runs
	e.POST("/v1/threads/:thread_id/runs", h.CreateRun)
	e.GET("/v1/threads/:thread_id/runs", h.ListRuns)
	e.GET("/v1/runs/:run_id", h.GetRun)
	e.POST("/v1/runs/:run_id/cancel", h.CancelRun)
	e.POST("/v1/runs/:run_id/resume", h.ResumeRun)
	e.GET("/v1/runs/:run_id/join", h.JoinRun)
	e.GET("/v1/runs/:run_id/stream", h.StreamRun)
	e.GET("/v1/runs/:run_id/events", h.GetRunEvents)

	e.GET("/health", h.Health)
}

// Health returns health status along with scheduler load.
func (h *Handler) Health(c echo.Context) error {
	stats := h.service.Stats()
	if err := h.service.Ping(c.Request().Context()); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]any{
			"status": "unhealthy",
			"error":  err.Error(),
			"stats":  stats,
		})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status": "healthy",
		"stats":  stats,
	})
}

func principal(c echo.Context) string {
	return c.Request().Header.Get(PrincipalHeader)
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidState), errors.Is(err, domain.ErrThreadBusy):
		return http.StatusConflict
	case errors.Is(err, domain.ErrOverloaded):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrStreamGap):
		return http.StatusGone
	case errors.Is(err, domain.ErrStorage):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// fail writes err as an ErrorResponse. Overload rejections carry Retry-After.
func fail(c echo.Context, err error) error {
	resp := domain.ErrorResponse{Error: err.Error(), Code: domain.ErrorCode(err)}
	var overloaded *domain.OverloadedError
	if errors.As(err, &overloaded) {
		resp.RetryAfterMs = overloaded.RetryAfter.Milliseconds()
		secs := int(math.Ceil(overloaded.RetryAfter.Seconds()))
		c.Response().Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
	}
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Errorf("%s %s: %v", c.Request().Method, c.Path(), err)
	}
	return c.JSON(status, resp)
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, domain.ErrorResponse{Error: msg, Code: "invalid_argument"})
}

func queryInt(c echo.Context, name string, def int) int {
	if v := c.QueryParam(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func queryInt64(c echo.Context, name string, def int64) int64 {
	if v := c.QueryParam(name); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}
