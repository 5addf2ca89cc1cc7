package httpiface

import "github.com/labstack/echo/v4"

// HttpRouter is implemented by every relay front-end handler (webhook, status, health).
// App collects them and mounts each one on the shared Echo instance at startup.
type HttpRouter interface {
	SetupRoutes(e *echo.Echo)
}
