package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/runplane/internal/domain"
)

// CreateThread creates a thread.
// POST /v1/threads
func (h *Handler) CreateThread(c echo.Context) error {
	var req domain.CreateThreadRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	thread, err := h.service.CreateThread(c.Request().Context(), principal(c), req)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, thread)
}

// ListThreads lists the caller's threads.
// GET /v1/threads
func (h *Handler) ListThreads(c echo.Context) error {
	limit := queryInt(c, "limit", 50)
	offset := queryInt(c, "offset", 0)
	threads, err := h.service.ListThreads(c.Request().Context(), principal(c), limit, offset)
	if err != nil {
		return fail(c, err)
	}
	if threads == nil {
		threads = []domain.Thread{}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"threads":  threads,
		"has_more": len(threads) == limit, // Approximate
	})
}

// GetThread returns one thread.
// GET /v1/threads/:thread_id
func (h *Handler) GetThread(c echo.Context) error {
	thread, err := h.service.GetThread(c.Request().Context(), principal(c), c.Param("thread_id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, thread)
}

// DeleteThread deletes a thread with its runs and checkpoints.
// DELETE /v1/threads/:thread_id
func (h *Handler) DeleteThread(c echo.Context) error {
	if err := h.service.DeleteThread(c.Request().Context(), principal(c), c.Param("thread_id")); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// GetState returns the thread's current state, or the state at ?checkpoint_id.
// GET /v1/threads/:thread_id/state
func (h *Handler) GetState(c echo.Context) error {
	state, err := h.service.GetState(c.Request().Context(), principal(c), c.Param("thread_id"), c.QueryParam("checkpoint_id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, state)
}

// UpdateState writes values as a new checkpoint.
// POST /v1/threads/:thread_id/state
func (h *Handler) UpdateState(c echo.Context) error {
	var req domain.UpdateStateRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	cp, err := h.service.UpdateState(c.Request().Context(), principal(c), c.Param("thread_id"), req)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, cp)
}

// History lists checkpoints newest first.
// GET /v1/threads/:thread_id/history?before=<seq>&limit=<n>
func (h *Handler) History(c echo.Context) error {
	checkpoints, err := h.service.History(c.Request().Context(), principal(c), c.Param("thread_id"),
		queryInt64(c, "before", 0), queryInt(c, "limit", 10))
	if err != nil {
		return fail(c, err)
	}
	if checkpoints == nil {
		checkpoints = []domain.Checkpoint{}
	}
	return c.JSON(http.StatusOK, map[string]any{"checkpoints": checkpoints})
}

// GetCheckpoint returns one checkpoint.
// GET /v1/threads/:thread_id/checkpoints/:checkpoint_id
func (h *Handler) GetCheckpoint(c echo.Context) error {
	cp, err := h.service.GetCheckpoint(c.Request().Context(), principal(c), c.Param("thread_id"), c.Param("checkpoint_id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, cp)
}

// CheckpointLineage walks a checkpoint's parents up to the root.
// GET /v1/threads/:thread_id/checkpoints/:checkpoint_id/lineage?limit=<n>
func (h *Handler) CheckpointLineage(c echo.Context) error {
	lineage, err := h.service.CheckpointLineage(c.Request().Context(), principal(c), c.Param("thread_id"),
		c.Param("checkpoint_id"), queryInt(c, "limit", 0))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"checkpoints": lineage})
}

// ForkThread copies a checkpoint into a new current one.
// POST /v1/threads/:thread_id/fork
func (h *Handler) ForkThread(c echo.Context) error {
	var req domain.ForkThreadRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	cp, err := h.service.ForkThread(c.Request().Context(), principal(c), c.Param("thread_id"), req)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, cp)
}

// RewindThread points the thread back at an existing checkpoint.
// POST /v1/threads/:thread_id/rewind
func (h *Handler) RewindThread(c echo.Context) error {
	var req domain.RewindThreadRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	state, err := h.service.RewindThread(c.Request().Context(), principal(c), c.Param("thread_id"), req)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, state)
}
