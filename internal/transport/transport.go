// Package transport delivers relayed alert payloads to provider webhooks over HTTP.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/zep-us/alert-relay/internal/dispatch"
	"github.com/zep-us/alert-relay/pkg/logger"
)

const defaultMaxConcurrent = 10000

// StatusError is returned when a provider answers with a non-2xx status
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider %s returned status %d", e.URL, e.StatusCode)
}

// HTTP is the shared transport used for every provider.
// It owns no per-provider state; timeouts come from the endpoint on each call.
type HTTP struct {
	client *http.Client
	tokens *semaphore.Weighted
}

var _ dispatch.Transport = (*HTTP)(nil)

// New creates an HTTP transport allowing at most maxConcurrent outbound
// deliveries at once (<= 0 selects the default of 10000)
func New(maxConcurrent int) *HTTP {
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}

	// Deliveries are I/O bound and a handful of provider hosts get most of the traffic
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          512,
		MaxIdleConnsPerHost:   128,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &HTTP{
		// No client-wide timeout: each delivery is bounded by its endpoint timeout.
		// Redirects are not followed; a 3xx is reported as a StatusError.
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		tokens: semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

// Deliver POSTs payload to the endpoint exactly once.
// The body is sent as-is; configured headers pass through unmodified and
// Content-Type defaults to application/json when none is configured.
func (t *HTTP) Deliver(ctx context.Context, ep *dispatch.Endpoint, payload json.RawMessage) error {
	ctx, cancel := context.WithTimeout(ctx, ep.Timeout())
	defer cancel()

	if err := t.tokens.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("waiting for delivery slot: %w", err)
	}
	defer t.tokens.Release(1)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL(), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	hasContentType := false
	for k, v := range ep.Headers() {
		// direct map assignment keeps the configured header name casing
		req.Header[k] = []string{v}
		if strings.EqualFold(k, "Content-Type") {
			hasContentType = true
		}
	}
	if !hasContentType {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("post to %s: %w", ep.URL(), err)
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.Warn("Provider %s returned %d for %s", ep.ID(), resp.StatusCode, ep.URL())
		return &StatusError{StatusCode: resp.StatusCode, URL: ep.URL()}
	}
	return nil
}

// Close releases idle provider connections
func (t *HTTP) Close() error {
	t.client.CloseIdleConnections()
	return nil
}
