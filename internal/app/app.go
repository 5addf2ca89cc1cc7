package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"github.com/zep-us/alert-relay/internal/alertlog"
	"github.com/zep-us/alert-relay/internal/config"
	"github.com/zep-us/alert-relay/internal/dispatch"
	"github.com/zep-us/alert-relay/internal/handler/http/health"
	httpiface "github.com/zep-us/alert-relay/internal/handler/http/interface"
	"github.com/zep-us/alert-relay/internal/handler/http/status"
	"github.com/zep-us/alert-relay/internal/handler/http/webhook"
	"github.com/zep-us/alert-relay/internal/metrics"
	"github.com/zep-us/alert-relay/internal/ratelimit"
	"github.com/zep-us/alert-relay/internal/transport"
	"github.com/zep-us/alert-relay/internal/worker"
	"github.com/zep-us/alert-relay/pkg/logger"
)

// App represents the application with its lifecycle management
type App struct {
	config       *config.Config
	echo         *echo.Echo
	readiness    *atomic.Bool
	httpHandlers []httpiface.HttpRouter
	dispatcher   *dispatch.Dispatcher
	journal      *alertlog.Journal
	workerPool   *worker.Pool       // nil in sync relay mode
	limiter      *ratelimit.Limiter // nil when rate limiting is off
	ctx          context.Context
	cancel       context.CancelFunc
}

// NewApp creates a new App instance with the given configuration
// Follows constructor injection pattern - all dependencies passed via parameters
func NewApp(cfg *config.Config) *App {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	ctx, cancel := context.WithCancel(context.Background())
	app := &App{
		config:    cfg,
		echo:      e,
		readiness: atomic.NewBool(false),
		ctx:       ctx,
		cancel:    cancel,
	}

	return app
}

// injectDependency builds the dispatcher, alert journal, optional worker pool and HTTP handlers.
// An invalid provider configuration is returned as an error and must stop startup.
func (a *App) injectDependency() error {
	tr := transport.New(a.config.MaxConcurrentDeliveries)
	d, err := dispatch.New(a.config.DispatchConfig(), tr)
	if err != nil {
		return fmt.Errorf("build dispatcher: %w", err)
	}
	a.dispatcher = d
	logger.Info("Dispatcher ready: strategy=%s providers=%d", d.Strategy(), d.Len())

	journal, err := alertlog.Open(a.config.AlertLogDir)
	if err != nil {
		_ = d.Close()
		return fmt.Errorf("open alert log: %w", err)
	}
	a.journal = journal

	// Keep the interface nil in sync mode; a typed nil pool would look like a queue
	var queue webhook.Submitter
	if a.config.RelayMode == config.RelayModeAsync {
		shutdownTimeout := time.Duration(a.config.ShutdownTimeoutSeconds) * time.Second
		a.workerPool = worker.NewPool(a.config.WorkerPoolSize, a.config.JobQueueSize, shutdownTimeout, webhook.JobHandler(d, journal))
		queue = a.workerPool
		logger.Info("Using async relay (workers=%d, queueSize=%d)", a.config.WorkerPoolSize, a.config.JobQueueSize)
	} else {
		logger.Info("Using sync relay: responses reflect the delivery outcome")
	}

	wh := webhook.NewWebhookHandler(d, journal, queue)
	if a.config.RateLimitRPS > 0 {
		idle := time.Duration(a.config.RateLimitIdleSeconds) * time.Second
		a.limiter = ratelimit.NewLimiter(a.config.RateLimitRPS, a.config.RateLimitBurst, idle)
		wh.Use(a.limiter.Middleware())
	}

	a.httpHandlers = []httpiface.HttpRouter{
		health.NewHealthHandler(a.readiness, d),
		status.NewStatusHandler(d, a.config.RelayMode, journal.Enabled()),
		wh,
	}
	return nil
}

// preProcess is called before server starts
// Use this hook for initialization tasks that need to happen before accepting traffic
func (a *App) preProcess() {
	logger.Info("Preparing to start server...")

	// Start worker pool before accepting HTTP traffic
	if a.workerPool != nil {
		a.workerPool.Start()
	}
	if a.limiter != nil {
		go a.limiter.Run(a.ctx)
	}
}

// postProcess is called after shutdown signal is received
func (a *App) postProcess() {
	logger.Info("Shutting down gracefully...")
}

// setupMiddleware installs middleware in the order requests must pass through it
func (a *App) setupMiddleware() {
	e := a.echo

	// Client IP for rate limiting and access logs
	e.IPExtractor = ipExtractor(a.config.TrustForwardedFor)

	// 1. CORS first so preflight is answered before anything else
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: a.config.AllowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Content-Type", "Authorization", "Accept", "Origin", "User-Agent", "X-Request-Id"},
	}))

	// 2. Body size limit protects against memory exhaustion from large payloads
	e.Use(middleware.BodyLimit(fmt.Sprintf("%dM", a.config.MaxRequestSizeMB)))

	// 3. Request id, reused as the alert id in logs and the journal
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: uuid.NewString}))

	// 4. Logging
	e.Use(middleware.Logger())

	// 5. Panic recovery
	e.Use(middleware.Recover())

	// 6. Readiness gate: reject new alerts while starting or draining
	e.Use(a.readinessMiddleware)

	// 7. Prometheus metrics middleware and /metrics endpoint
	e.Use(echoprometheus.NewMiddleware(metrics.Namespace))
	e.GET("/metrics", echoprometheus.NewHandler())

	// 8. Queue depth gauge refresh for async mode
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if a.workerPool != nil {
				metrics.QueueDepthGauge.Set(float64(a.workerPool.GetQueueDepth()))
			}
			return next(c)
		}
	})
}

func (a *App) readinessMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !a.readiness.Load() && !alwaysServed(c.Request().URL.Path) {
			logger.Info("readiness=false: reject new request path=%s", c.Request().URL.Path)
			return c.NoContent(http.StatusServiceUnavailable)
		}
		return next(c)
	}
}

// ipExtractor ignores X-Forwarded-For unless the relay sits behind a proxy that sets it
func ipExtractor(trustForwardedFor bool) echo.IPExtractor {
	if trustForwardedFor {
		return echo.ExtractIPFromXFFHeader()
	}
	return echo.ExtractIPDirect()
}

// alwaysServed lists paths answered even during shutdown
func alwaysServed(path string) bool {
	switch path {
	case "/healthz", "/readyz", "/health", "/status", "/metrics":
		return true
	default:
		return false
	}
}

// Run starts the Echo server and handles graceful shutdown
// This implements the full lifecycle: startup -> run -> graceful shutdown
func (a *App) Run() error {
	if err := a.injectDependency(); err != nil {
		a.cancel()
		return err
	}
	a.preProcess()
	a.setupMiddleware()
	for _, handler := range a.httpHandlers {
		handler.SetupRoutes(a.echo)
	}

	go func() {
		addr := fmt.Sprintf(":%d", a.config.ServerPort)
		logger.Info("Starting alert relay on %s", addr)

		// Mark readiness true just before starting to accept connections
		a.readiness.Store(true)

		// http.ErrServerClosed is expected during graceful shutdown, not an actual error
		if err := a.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Error("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal (SIGINT or SIGTERM)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	logger.Info("Server ready. Waiting for interrupt signal...")
	<-quit

	a.postProcess()
	return a.shutdown()
}

// shutdown drains traffic, lets in-flight relays finish and releases provider connections
func (a *App) shutdown() error {
	defer a.cancel()

	// Step 1: Mark as not ready (load balancers stop routing traffic)
	a.readiness.Store(false)
	drainDuration := time.Duration(a.config.ShutdownDrainSeconds) * time.Second
	logger.Info("readiness=false: start drain window duration=%v", drainDuration)

	// Step 2: Drain period
	time.Sleep(drainDuration)

	// Step 3: Stop worker pool (finish queued relays)
	if a.workerPool != nil {
		logger.Info("Stopping worker pool...")
		a.workerPool.Stop()
	}

	// Step 4: Shutdown Echo server with timeout; in-flight sync relays complete here
	shutdownTimeout := time.Duration(a.config.ShutdownTimeoutSeconds) * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	logger.Info("Shutting down Echo server...")
	err := a.echo.Shutdown(shutdownCtx)

	// Step 5: Release the journal and provider connections
	err = multierr.Combine(err, a.journal.Close(), a.dispatcher.Close())
	if err != nil {
		logger.Error("Shutdown error: %v", err)
		return err
	}

	logger.Info("Server stopped gracefully")
	return nil
}
