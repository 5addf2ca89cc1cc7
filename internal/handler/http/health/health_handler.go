package health

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/atomic"

	"github.com/zep-us/alert-relay/internal/dispatch"
)

// StatusSource reports dispatcher state
type StatusSource interface {
	Status() dispatch.Snapshot
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status             string `json:"status"`
	ProvidersTotal     int    `json:"providers_total"`
	ProvidersAvailable int    `json:"providers_available"`
}

// HealthHandler handles liveness/readiness checks and the JSON health check
// Follows constructor injection pattern - no global state
type HealthHandler struct {
	readiness *atomic.Bool
	source    StatusSource
}

// NewHealthHandler creates a new HealthHandler with dependency injection
// readiness: Thread-safe boolean flag indicating if service is ready to handle traffic
// source: dispatcher whose provider counts are reported by /health
func NewHealthHandler(readiness *atomic.Bool, source StatusSource) *HealthHandler {
	return &HealthHandler{
		readiness: readiness,
		source:    source,
	}
}

// HandleLiveness handles GET /healthz - liveness check
// Always returns 200 OK to indicate the process is alive
func (h *HealthHandler) HandleLiveness(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

// HandleReadiness handles GET /readyz - readiness check
// Returns 200 OK when ready to accept alerts, 503 while starting or draining
func (h *HealthHandler) HandleReadiness(c echo.Context) error {
	if h.readiness.Load() {
		return c.NoContent(http.StatusOK)
	}
	return c.NoContent(http.StatusServiceUnavailable)
}

// HandleHealth handles GET /health
// Always "healthy" while the process serves requests; exhausted providers are
// not a health problem because alerts are still recorded locally
func (h *HealthHandler) HandleHealth(c echo.Context) error {
	resp := HealthResponse{Status: "healthy"}
	if h.source != nil {
		snap := h.source.Status()
		resp.ProvidersTotal = snap.Total
		resp.ProvidersAvailable = snap.Available
	}
	return c.JSON(http.StatusOK, resp)
}
