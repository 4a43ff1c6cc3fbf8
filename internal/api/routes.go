package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/haneul-labs/sori-server/adapters/recognition"
	"github.com/haneul-labs/sori-server/internal/recovery"
	"github.com/haneul-labs/sori-server/internal/websocket"
)

// InitRoutes initializes all API routes
func InitRoutes(e *echo.Echo, hub *websocket.Hub, engines *recognition.Manager, faults *recovery.Engine, logger *zap.Logger) {
	// Health check. Degraded when the recent fault rate crossed the
	// healthy threshold.
	e.GET("/healthz", func(c echo.Context) error {
		status := http.StatusOK
		body := HealthResponse{Status: "ok", Service: "sori-server"}
		if !faults.Healthy() {
			status = http.StatusServiceUnavailable
			body.Status = "degraded"
		}
		return c.JSON(status, body)
	})

	// Operational snapshot for dashboards and dev tooling.
	e.GET("/stats", func(c echo.Context) error {
		return c.JSON(http.StatusOK, StatsResponse{
			Sessions:     hub.Sessions(),
			Faults:       faults.Stats(),
			ActiveEngine: engines.ActiveName(),
			Engines:      engines.Statuses(c.Request().Context()),
		})
	})

	// WebSocket endpoint. Authentication happens in-band with the first
	// message, so the upgrade itself is unauthenticated.
	e.GET("/ws", func(c echo.Context) error {
		return websocket.HandleConnection(hub, c, logger)
	})
}
