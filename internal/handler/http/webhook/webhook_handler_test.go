package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zep-us/alert-relay/internal/alertlog"
	"github.com/zep-us/alert-relay/internal/dispatch"
	"github.com/zep-us/alert-relay/internal/transport"
	"github.com/zep-us/alert-relay/internal/worker"
)

const grafanaAlert = `{"receiver":"ops","status":"firing","title":"[FIRING:1] HighCPU","alerts":[{"labels":{"alertname":"HighCPU"}}]}`

type fakeRelayer struct {
	mu       sync.Mutex
	outcome  dispatch.Outcome
	payloads []string
	ctxErr   error
}

func (f *fakeRelayer) Relay(ctx context.Context, payload json.RawMessage) dispatch.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, string(payload))
	f.ctxErr = ctx.Err()
	return f.outcome
}

type fakeJournal struct {
	mu        sync.Mutex
	received  []alertlog.Summary
	outcomes  []dispatch.Outcome
	requestID []string
}

func (f *fakeJournal) Received(requestID string, s alertlog.Summary, _ []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, s)
	f.requestID = append(f.requestID, requestID)
}

func (f *fakeJournal) Outcome(_ string, o dispatch.Outcome) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, o)
}

type fakeQueue struct {
	jobs []worker.Job
	err  error
}

func (f *fakeQueue) SubmitJob(job worker.Job) error {
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

func post(t *testing.T, h *WebhookHandler, body string) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	e := echo.New()
	h.SetupRoutes(e)

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), "body %q", rec.Body.String())
	return rec, resp
}

func TestWebhookHandler_Delivered(t *testing.T) {
	relayer := &fakeRelayer{outcome: dispatch.Outcome{Kind: dispatch.Delivered, EndpointID: "pagerduty"}}
	journal := &fakeJournal{}
	h := NewWebhookHandler(relayer, journal, nil)

	rec, resp := post(t, h, grafanaAlert)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", resp.Status)
	assert.True(t, resp.Forwarded)
	assert.Equal(t, "pagerduty", resp.Provider)
	assert.NotEmpty(t, resp.RequestID)

	require.Len(t, relayer.payloads, 1)
	assert.Equal(t, grafanaAlert, relayer.payloads[0], "payload must be relayed unchanged")

	require.Len(t, journal.received, 1)
	assert.Equal(t, alertlog.Summary{Receiver: "ops", Status: "firing", AlertCount: 1, Title: "[FIRING:1] HighCPU"}, journal.received[0])
	assert.Equal(t, []dispatch.Outcome{relayer.outcome}, journal.outcomes)
}

func TestWebhookHandler_RejectedIsRecordedLocally(t *testing.T) {
	for _, reason := range []string{dispatch.ReasonNoEndpoints, dispatch.ReasonNoneAvailable} {
		relayer := &fakeRelayer{outcome: dispatch.Outcome{Kind: dispatch.Rejected, Reason: reason}}
		h := NewWebhookHandler(relayer, &fakeJournal{}, nil)

		rec, resp := post(t, h, grafanaAlert)

		assert.Equal(t, http.StatusOK, rec.Code, reason)
		assert.Equal(t, "success", resp.Status)
		assert.False(t, resp.Forwarded)
		assert.Empty(t, resp.Provider)
		assert.Equal(t, reason, resp.Reason)
	}
}

func TestWebhookHandler_DeliveryFailedIsBadGateway(t *testing.T) {
	relayer := &fakeRelayer{outcome: dispatch.Outcome{
		Kind:       dispatch.DeliveryFailed,
		EndpointID: "slack",
		Reason:     dispatch.ReasonDeliveryFailed,
		Cause:      errors.New("provider returned status 500"),
	}}
	journal := &fakeJournal{}
	h := NewWebhookHandler(relayer, journal, nil)

	rec, resp := post(t, h, grafanaAlert)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "error", resp.Status)
	assert.False(t, resp.Forwarded)
	assert.Equal(t, "slack", resp.Provider)
	assert.Equal(t, dispatch.ReasonDeliveryFailed, resp.Reason)
	assert.Len(t, journal.received, 1, "the alert is recorded even when delivery fails")
}

func TestWebhookHandler_RejectsNonObjectBodies(t *testing.T) {
	for _, body := range []string{"", "not json", "[1,2,3]", `"string"`, `{"broken":`} {
		relayer := &fakeRelayer{}
		h := NewWebhookHandler(relayer, &fakeJournal{}, nil)

		rec, resp := post(t, h, body)

		assert.Equal(t, http.StatusBadRequest, rec.Code, "body %q", body)
		assert.Equal(t, "error", resp.Status)
		assert.Empty(t, relayer.payloads, "invalid body %q must not be relayed", body)
	}
}

func TestWebhookHandler_NonGrafanaObjectIsStillRelayed(t *testing.T) {
	relayer := &fakeRelayer{outcome: dispatch.Outcome{Kind: dispatch.Delivered, EndpointID: "a"}}
	journal := &fakeJournal{}
	h := NewWebhookHandler(relayer, journal, nil)

	rec, _ := post(t, h, `{"alerts":"unexpected shape"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, relayer.payloads, 1)
	require.Len(t, journal.received, 1)
	assert.Equal(t, "unknown", journal.received[0].Status)
}

func TestWebhookHandler_RelayIgnoresClientCancellation(t *testing.T) {
	relayer := &fakeRelayer{outcome: dispatch.Outcome{Kind: dispatch.Delivered, EndpointID: "a"}}
	h := NewWebhookHandler(relayer, &fakeJournal{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(grafanaAlert)).WithContext(ctx)
	rec := httptest.NewRecorder()
	require.NoError(t, h.HandleWebhook(e.NewContext(req, rec)))

	assert.NoError(t, relayer.ctxErr)
}

func TestWebhookHandler_UsesRequestIDHeader(t *testing.T) {
	journal := &fakeJournal{}
	h := NewWebhookHandler(&fakeRelayer{}, journal, nil)

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(grafanaAlert))
	rec := httptest.NewRecorder()
	rec.Header().Set(echo.HeaderXRequestID, "req-42")
	require.NoError(t, h.HandleWebhook(e.NewContext(req, rec)))

	assert.Equal(t, []string{"req-42"}, journal.requestID)
	assert.Contains(t, rec.Body.String(), `"request_id":"req-42"`)
}

func TestWebhookHandler_AsyncAccepted(t *testing.T) {
	relayer := &fakeRelayer{}
	queue := &fakeQueue{}
	h := NewWebhookHandler(relayer, &fakeJournal{}, queue)

	rec, resp := post(t, h, grafanaAlert)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "accepted", resp.Status)
	require.Len(t, queue.jobs, 1)
	assert.Equal(t, resp.RequestID, queue.jobs[0].RequestID)
	assert.Equal(t, grafanaAlert, string(queue.jobs[0].Payload))
	assert.Empty(t, relayer.payloads, "async mode relays on a worker, not in the request")
}

func TestWebhookHandler_AsyncQueueFull(t *testing.T) {
	relayer := &fakeRelayer{}
	journal := &fakeJournal{}
	h := NewWebhookHandler(relayer, journal, &fakeQueue{err: errors.New("worker pool queue full")})

	rec, resp := post(t, h, grafanaAlert)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "error", resp.Status)
	assert.Empty(t, relayer.payloads)

	// every received alert gets a closing journal entry
	require.Len(t, journal.received, 1)
	assert.Equal(t, []string{resp.RequestID}, journal.requestID)
	assert.Equal(t, []dispatch.Outcome{{Kind: dispatch.Rejected, Reason: dispatch.ReasonQueueFull}}, journal.outcomes)
}

func TestJobHandler_RelaysAndJournals(t *testing.T) {
	relayer := &fakeRelayer{outcome: dispatch.Outcome{Kind: dispatch.Delivered, EndpointID: "a"}}
	journal := &fakeJournal{}

	JobHandler(relayer, journal)(worker.Job{RequestID: "r1", Payload: json.RawMessage(grafanaAlert)})

	assert.Equal(t, []string{grafanaAlert}, relayer.payloads)
	assert.Equal(t, []dispatch.Outcome{relayer.outcome}, journal.outcomes)
}

// TestWebhookHandler_EndToEnd wires a real dispatcher and HTTP transport against mock providers
func TestWebhookHandler_EndToEnd(t *testing.T) {
	var mu sync.Mutex
	received := map[string][]string{}
	provider := func(name string) *httptest.Server {
		return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			mu.Lock()
			received[name] = append(received[name], string(body))
			mu.Unlock()
			w.WriteHeader(http.StatusOK)
		}))
	}
	a := provider("a")
	defer a.Close()
	b := provider("b")
	defer b.Close()

	tr := transport.New(0)
	d, err := dispatch.New(dispatch.Config{
		Strategy: dispatch.RoundRobin,
		Endpoints: []dispatch.EndpointConfig{
			{ID: "a", URL: a.URL, Timeout: time.Second, Enabled: true, QuotaLimit: 1},
			{ID: "b", URL: b.URL, Timeout: time.Second, Enabled: true, QuotaLimit: 2},
		},
	}, tr)
	require.NoError(t, err)
	defer d.Close()

	journal, err := alertlog.Open(t.TempDir())
	require.NoError(t, err)
	defer journal.Close()

	h := NewWebhookHandler(d, journal, nil)

	var providers []string
	for i := 0; i < 4; i++ {
		rec, resp := post(t, h, grafanaAlert)
		require.Equal(t, http.StatusOK, rec.Code)
		providers = append(providers, resp.Provider)
	}

	assert.Equal(t, []string{"a", "b", "b", ""}, providers)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{grafanaAlert}, received["a"])
	assert.Equal(t, []string{grafanaAlert, grafanaAlert}, received["b"])
}
