package webhook

import (
	"github.com/labstack/echo/v4"
)

// SetupRoutes registers the alert intake route with the Echo instance
// Follows separated routes pattern - route registration separate from handler logic
func (h *WebhookHandler) SetupRoutes(e *echo.Echo) {
	e.POST("/webhook", h.HandleWebhook, h.middleware...)
}

// Use adds route-level middleware (e.g. rate limiting) applied to /webhook only
func (h *WebhookHandler) Use(m ...echo.MiddlewareFunc) *WebhookHandler {
	h.middleware = append(h.middleware, m...)
	return h
}
