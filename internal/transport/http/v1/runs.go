package v1

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/runplane/internal/domain"
)

// CreateRun starts a run on a thread.
// POST /v1/threads/:thread_id/runs
func (h *Handler) CreateRun(c echo.Context) error {
	var req domain.CreateRunRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.AssistantID == "" {
		return badRequest(c, "assistant_id is required")
	}
	run, err := h.service.CreateRun(c.Request().Context(), principal(c), c.Param("thread_id"), req)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusAccepted, run)
}

// ListRuns lists a thread's runs, newest first.
// GET /v1/threads/:thread_id/runs
func (h *Handler) ListRuns(c echo.Context) error {
	runs, err := h.service.ListRuns(c.Request().Context(), principal(c), c.Param("thread_id"), queryInt(c, "limit", 50))
	if err != nil {
		return fail(c, err)
	}
	if runs == nil {
		runs = []domain.Run{}
	}
	return c.JSON(http.StatusOK, map[string]any{"runs": runs})
}

// GetRun returns one run.
// GET /v1/runs/:run_id
func (h *Handler) GetRun(c echo.Context) error {
	run, err := h.service.GetRun(c.Request().Context(), principal(c), c.Param("run_id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, run)
}

// CancelRun requests cancellation.
// POST /v1/runs/:run_id/cancel
func (h *Handler) CancelRun(c echo.Context) error {
	run, err := h.service.CancelRun(c.Request().Context(), principal(c), c.Param("run_id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusAccepted, run)
}

// ResumeRun supplies the input an interrupted run is waiting on.
// POST /v1/runs/:run_id/resume
func (h *Handler) ResumeRun(c echo.Context) error {
	var req domain.ResumeRunRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	run, err := h.service.ResumeRun(c.Request().Context(), principal(c), c.Param("run_id"), req.Resume)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusAccepted, run)
}

// JoinRun waits for the run to stop executing.
// GET /v1/runs/:run_id/join?timeout_ms=<n>
func (h *Handler) JoinRun(c echo.Context) error {
	timeout := time.Duration(queryInt(c, "timeout_ms", 30000)) * time.Millisecond
	run, err := h.service.Join(c.Request().Context(), principal(c), c.Param("run_id"), timeout)
	if err != nil && !errors.Is(err, domain.ErrComputationFault) {
		return fail(c, err)
	}
	// A graph fault is part of the run's outcome and is reported in run.error.
	return c.JSON(http.StatusOK, run)
}

// GetRunEvents lists the run's lifecycle audit records.
// GET /v1/runs/:run_id/events?after_seq=<n>&limit=<n>
func (h *Handler) GetRunEvents(c echo.Context) error {
	events, err := h.service.RunEvents(c.Request().Context(), principal(c), c.Param("run_id"),
		queryInt64(c, "after_seq", 0), queryInt(c, "limit", 100))
	if err != nil {
		return fail(c, err)
	}
	if events == nil {
		events = []domain.RunEvent{}
	}
	return c.JSON(http.StatusOK, map[string]any{"events": events})
}
