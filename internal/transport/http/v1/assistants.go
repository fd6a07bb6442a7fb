package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/runplane/internal/domain"
)

// CreateAssistant stores an assistant.
// POST /v1/assistants
func (h *Handler) CreateAssistant(c echo.Context) error {
	var req domain.CreateAssistantRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	a, err := h.service.CreateAssistant(c.Request().Context(), principal(c), req)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

// ListAssistants lists stored assistants, optionally for one graph.
// GET /v1/assistants?graph_id=<id>&limit=<n>&offset=<n>
func (h *Handler) ListAssistants(c echo.Context) error {
	limit := queryInt(c, "limit", 50)
	assistants, err := h.service.ListAssistants(c.Request().Context(), principal(c), c.QueryParam("graph_id"),
		limit, queryInt(c, "offset", 0))
	if err != nil {
		return fail(c, err)
	}
	if assistants == nil {
		assistants = []domain.Assistant{}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"assistants": assistants,
		"has_more":   len(assistants) == limit,
	})
}

// GetAssistant returns an assistant at its current version.
// GET /v1/assistants/:assistant_id
func (h *Handler) GetAssistant(c echo.Context) error {
	a, err := h.service.GetAssistant(c.Request().Context(), principal(c), c.Param("assistant_id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

// UpdateAssistant writes a new version.
// PATCH /v1/assistants/:assistant_id
func (h *Handler) UpdateAssistant(c echo.Context) error {
	var req domain.UpdateAssistantRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	a, err := h.service.UpdateAssistant(c.Request().Context(), principal(c), c.Param("assistant_id"), req)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

// DeleteAssistant removes an assistant with its versions.
// DELETE /v1/assistants/:assistant_id
func (h *Handler) DeleteAssistant(c echo.Context) error {
	if err := h.service.DeleteAssistant(c.Request().Context(), principal(c), c.Param("assistant_id")); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ListAssistantVersions lists versions newest first.
// GET /v1/assistants/:assistant_id/versions
func (h *Handler) ListAssistantVersions(c echo.Context) error {
	versions, err := h.service.ListAssistantVersions(c.Request().Context(), principal(c), c.Param("assistant_id"),
		queryInt(c, "limit", 0))
	if err != nil {
		return fail(c, err)
	}
	if versions == nil {
		versions = []domain.AssistantVersion{}
	}
	return c.JSON(http.StatusOK, map[string]any{"versions": versions})
}

// SetAssistantVersion makes an earlier version current.
// POST /v1/assistants/:assistant_id/latest
func (h *Handler) SetAssistantVersion(c echo.Context) error {
	var req domain.SetAssistantVersionRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	a, err := h.service.SetAssistantVersion(c.Request().Context(), principal(c), c.Param("assistant_id"), req)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, a)
}
