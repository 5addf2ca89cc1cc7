package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/zep-us/alert-relay/internal/alertlog"
	"github.com/zep-us/alert-relay/internal/dispatch"
	"github.com/zep-us/alert-relay/internal/worker"
	"github.com/zep-us/alert-relay/pkg/logger"
)

// Relayer is the dispatcher as seen by the webhook front end
type Relayer interface {
	Relay(ctx context.Context, payload json.RawMessage) dispatch.Outcome
}

// Journal records received alerts and their outcomes
type Journal interface {
	Received(requestID string, s alertlog.Summary, payload []byte)
	Outcome(requestID string, o dispatch.Outcome)
}

// Submitter queues alerts for asynchronous relaying
type Submitter interface {
	SubmitJob(job worker.Job) error
}

// Response is the JSON body returned to the alert sender
type Response struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
	Forwarded bool   `json:"forwarded"`
	Provider  string `json:"provider,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// WebhookHandler receives alert notifications and relays each one to a provider
// Follows constructor injection pattern - the dispatcher is passed in, never reached for globally
type WebhookHandler struct {
	relayer    Relayer
	journal    Journal
	queue      Submitter
	middleware []echo.MiddlewareFunc
}

// NewWebhookHandler creates a WebhookHandler
// relayer: dispatcher shared by all requests
// journal: alert journal
// queue: worker pool for async mode, nil to relay synchronously within the request
func NewWebhookHandler(relayer Relayer, journal Journal, queue Submitter) *WebhookHandler {
	return &WebhookHandler{
		relayer: relayer,
		journal: journal,
		queue:   queue,
	}
}

// HandleWebhook handles POST /webhook
// The body must be a JSON object; it is journaled, relayed unchanged and the
// outcome is mapped to the response status
func (h *WebhookHandler) HandleWebhook(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		logger.Error("Failed to read request body: %v", err)
		return c.JSON(http.StatusBadRequest, Response{Status: "error", Message: "failed to read request body"})
	}
	if !isJSONObject(body) {
		return c.JSON(http.StatusBadRequest, Response{Status: "error", Message: "payload must be a JSON object"})
	}

	requestID := c.Response().Header().Get(echo.HeaderXRequestID)
	if requestID == "" {
		requestID = uuid.NewString()
	}

	h.record(requestID, body)

	if h.queue != nil {
		job := worker.Job{RequestID: requestID, Payload: body, ReceivedAt: time.Now()}
		if err := h.queue.SubmitJob(job); err != nil {
			// Queue is full - backpressure scenario
			logger.Warn("Relay queue rejected alert %s: %v", requestID, err)
			h.journal.Outcome(requestID, dispatch.Outcome{Kind: dispatch.Rejected, Reason: dispatch.ReasonQueueFull})
			return c.JSON(http.StatusServiceUnavailable, Response{Status: "error", Message: dispatch.ReasonQueueFull, RequestID: requestID})
		}
		return c.JSON(http.StatusAccepted, Response{Status: "accepted", Message: "Alert received and queued", RequestID: requestID})
	}

	// The sender going away must not cancel a delivery that already started
	ctx := context.WithoutCancel(c.Request().Context())
	outcome := h.relayer.Relay(ctx, body)
	h.journal.Outcome(requestID, outcome)
	logOutcome(requestID, outcome)

	status, resp := responseFor(outcome)
	resp.RequestID = requestID
	return c.JSON(status, resp)
}

// record journals the alert; a failure here never blocks the relay
func (h *WebhookHandler) record(requestID string, body []byte) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Failed to record alert %s: %v", requestID, r)
		}
	}()

	summary, err := alertlog.Summarize(body)
	if err != nil {
		logger.Warn("Alert %s is not Grafana-shaped, recording raw payload: %v", requestID, err)
	}
	logger.Info("Received alert %s [receiver=%s, status=%s, alerts=%d, title=%s]",
		requestID, summary.Receiver, summary.Status, summary.AlertCount, summary.Title)
	h.journal.Received(requestID, summary, body)
}

// JobHandler returns the worker function used in async mode
func JobHandler(relayer Relayer, journal Journal) worker.Handler {
	return func(job worker.Job) {
		outcome := relayer.Relay(context.Background(), job.Payload)
		journal.Outcome(job.RequestID, outcome)
		logOutcome(job.RequestID, outcome)
	}
}

func responseFor(o dispatch.Outcome) (int, Response) {
	switch o.Kind {
	case dispatch.Delivered:
		return http.StatusOK, Response{
			Status:    "success",
			Message:   "Alert received and forwarded",
			Forwarded: true,
			Provider:  o.EndpointID,
		}
	case dispatch.DeliveryFailed:
		return http.StatusBadGateway, Response{
			Status:   "error",
			Message:  "Alert recorded but delivery failed",
			Provider: o.EndpointID,
			Reason:   o.Reason,
		}
	default:
		// Accepted locally, not forwarded
		return http.StatusOK, Response{
			Status:  "success",
			Message: "Alert received and recorded",
			Reason:  o.Reason,
		}
	}
}

func logOutcome(requestID string, o dispatch.Outcome) {
	switch o.Kind {
	case dispatch.Delivered:
		logger.Info("Alert %s forwarded to %s", requestID, o.EndpointID)
	case dispatch.DeliveryFailed:
		logger.Error("Alert %s delivery to %s failed: %v", requestID, o.EndpointID, o.Cause)
	default:
		logger.Info("Alert %s recorded locally: %s", requestID, o.Reason)
	}
}

func isJSONObject(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	return len(trimmed) > 0 && trimmed[0] == '{' && json.Valid(trimmed)
}
