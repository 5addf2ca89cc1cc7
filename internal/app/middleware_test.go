package app

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zep-us/alert-relay/internal/config"
)

const alertBody = `{"receiver":"ops","status":"firing","alerts":[{"labels":{"alertname":"DiskFull"}}]}`

func TestCORS_PreflightRequest_Returns204(t *testing.T) {
	e := echo.New()
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"https://grafana.example.com"},
		AllowMethods: []string{http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Content-Type"},
	}))
	e.POST("/webhook", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodOptions, "/webhook", nil)
	req.Header.Set("Origin", "https://grafana.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://grafana.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_And_BodyLimit_Order(t *testing.T) {
	e := echo.New()
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"https://grafana.example.com"},
	}))
	e.Use(middleware.BodyLimit("1M"))
	e.POST("/webhook", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(strings.Repeat("x", 1536*1024)))
	req.Header.Set("Origin", "https://grafana.example.com")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Vary"), "CORS should run before BodyLimit")
}

func TestApp_ReadinessMiddleware(t *testing.T) {
	app := NewApp(testConfig(t))
	e := echo.New()
	e.Use(app.readinessMiddleware)
	ok := func(c echo.Context) error { return c.NoContent(http.StatusOK) }
	e.POST("/webhook", ok)
	e.GET("/healthz", ok)
	e.GET("/status", ok)

	code := func(method, path string) int {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
		return rec.Code
	}

	assert.Equal(t, http.StatusServiceUnavailable, code(http.MethodPost, "/webhook"))
	assert.Equal(t, http.StatusOK, code(http.MethodGet, "/healthz"))
	assert.Equal(t, http.StatusOK, code(http.MethodGet, "/status"))

	app.readiness.Store(true)
	assert.Equal(t, http.StatusOK, code(http.MethodPost, "/webhook"))
}

// TestApp_MiddlewareStack_Integration runs the complete middleware and route setup
// against a mock provider. setupMiddleware registers Prometheus collectors, so
// only this test may call it.
func TestApp_MiddlewareStack_Integration(t *testing.T) {
	var hits int32
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if string(body) == alertBody && r.Header.Get("X-Api-Key") == "k1" {
			atomic.AddInt32(&hits, 1)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer provider.Close()

	cfg := testConfig(t)
	cfg.Providers = []config.ProviderConfig{{
		Name:           "primary",
		Enabled:        true,
		Endpoint:       provider.URL,
		Headers:        []config.Header{{Name: "X-Api-Key", Value: "k1"}},
		TimeoutSeconds: 2,
		FreeQuota:      1,
	}}

	app := NewApp(cfg)
	require.NoError(t, app.injectDependency())
	defer app.journal.Close()
	app.setupMiddleware()
	for _, h := range app.httpHandlers {
		h.SetupRoutes(app.echo)
	}

	do := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		app.echo.ServeHTTP(rec, req)
		return rec
	}

	// Not ready yet
	assert.Equal(t, http.StatusServiceUnavailable, do(http.MethodPost, "/webhook", alertBody).Code)
	assert.Equal(t, http.StatusOK, do(http.MethodGet, "/health", "").Code)

	app.readiness.Store(true)

	rec := do(http.MethodPost, "/webhook", alertBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"provider":"primary"`)
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))

	// Quota of one is spent; the alert is still accepted locally
	rec = do(http.MethodPost, "/webhook", alertBody)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"forwarded":false`)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))

	rec = do(http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"quota_used":1`)
	assert.Contains(t, rec.Body.String(), `"mode":"forwarding"`)

	assert.Equal(t, http.StatusBadRequest, do(http.MethodPost, "/webhook", "[]").Code)
	assert.Equal(t, http.StatusRequestEntityTooLarge, do(http.MethodPost, "/webhook", strings.Repeat("x", 2<<20)).Code)

	rec = do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "alert_relay_relay_outcomes_total")
}
