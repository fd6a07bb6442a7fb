// Package http provides the HTTP server for the run API.
package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/xiaot623/gogo/runplane/internal/config"
	"github.com/xiaot623/gogo/runplane/internal/service"
	v1 "github.com/xiaot623/gogo/runplane/internal/transport/http/v1"
	"github.com/xiaot623/gogo/runplane/internal/transport/ws"
)

// NewServer creates the echo server carrying the REST, SSE and WebSocket routes.
func NewServer(svc *service.Service, cfg *config.Config) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Handlers
	v1Handler := v1.NewHandler(svc)
	wsServer := ws.NewServer(svc, cfg)

	// Register Routes
	v1Handler.RegisterRoutes(e)
	e.GET("/v1/runs/:run_id/ws", wsServer.HandleWebSocket)

	return e
}
