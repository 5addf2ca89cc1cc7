package status

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/zep-us/alert-relay/internal/dispatch"
)

// ServiceName is reported by GET /status
const ServiceName = "alert-relay"

// Source reports dispatcher state
type Source interface {
	Status() dispatch.Snapshot
}

// Response is the body of GET /status
type Response struct {
	Service    string            `json:"service"`
	Mode       string            `json:"mode"` // "local-only" when no provider is enabled
	RelayMode  string            `json:"relay_mode"`
	Status     string            `json:"status"`
	LogEnabled bool              `json:"log_enabled"`
	Dispatch   dispatch.Snapshot `json:"dispatch"`
}

// StatusHandler exposes a read-only view of the service and its providers
type StatusHandler struct {
	source     Source
	relayMode  string
	logEnabled bool
}

// NewStatusHandler creates a StatusHandler
// relayMode: "sync" or "async"; logEnabled: whether alerts are journaled to a file
func NewStatusHandler(source Source, relayMode string, logEnabled bool) *StatusHandler {
	return &StatusHandler{source: source, relayMode: relayMode, logEnabled: logEnabled}
}

// HandleStatus handles GET /status
func (h *StatusHandler) HandleStatus(c echo.Context) error {
	snap := h.source.Status()
	mode := "local-only"
	for _, p := range snap.Providers {
		// disabled providers stay in the registry but never receive alerts
		if p.Enabled {
			mode = "forwarding"
			break
		}
	}
	return c.JSON(http.StatusOK, Response{
		Service:    ServiceName,
		Mode:       mode,
		RelayMode:  h.relayMode,
		Status:     "running",
		LogEnabled: h.logEnabled,
		Dispatch:   snap,
	})
}

// SetupRoutes registers the status route with the Echo instance
func (h *StatusHandler) SetupRoutes(e *echo.Echo) {
	e.GET("/status", h.HandleStatus)
}
