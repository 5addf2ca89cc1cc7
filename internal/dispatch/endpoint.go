package dispatch

import (
	"time"
)

// QuotaMode selects how an endpoint's usage quota affects availability
type QuotaMode string

const (
	// QuotaEnforced gates availability on quota_used < quota_limit (limit 0 = unlimited)
	QuotaEnforced QuotaMode = "enforced"
	// QuotaDisabled makes availability depend on the enabled flag alone
	QuotaDisabled QuotaMode = "disabled"
)

// ParseQuotaMode maps a configuration value to a QuotaMode.
// An empty value yields QuotaEnforced.
func ParseQuotaMode(s string) (QuotaMode, error) {
	switch QuotaMode(s) {
	case "":
		return QuotaEnforced, nil
	case QuotaEnforced, QuotaDisabled:
		return QuotaMode(s), nil
	default:
		return "", &ConfigError{Field: "quota_mode", Reason: "unknown quota mode " + quote(s)}
	}
}

// EndpointConfig is the static description of one downstream target
type EndpointConfig struct {
	ID         string
	URL        string
	Headers    map[string]string
	Timeout    time.Duration
	Enabled    bool
	QuotaLimit int64
	// QuotaMode overrides Config.QuotaMode for this endpoint when set
	QuotaMode QuotaMode
}

// Endpoint is a configured downstream target plus its runtime usage counters.
// Counters are owned by the Dispatcher and only touched under its lock.
type Endpoint struct {
	id         string
	url        string
	headers    map[string]string
	timeout    time.Duration
	enabled    bool
	quotaLimit int64
	quotaMode  QuotaMode

	quotaUsed int64
	inFlight  int64
}

// NewEndpoint builds a standalone endpoint without validation, for use by
// transports and tests. An empty QuotaMode means QuotaEnforced.
func NewEndpoint(cfg EndpointConfig) *Endpoint {
	return newEndpoint(cfg, QuotaEnforced)
}

func newEndpoint(cfg EndpointConfig, mode QuotaMode) *Endpoint {
	headers := make(map[string]string, len(cfg.Headers))
	for k, v := range cfg.Headers {
		headers[k] = v
	}
	if cfg.QuotaMode != "" {
		mode = cfg.QuotaMode
	}
	return &Endpoint{
		id:         cfg.ID,
		url:        cfg.URL,
		headers:    headers,
		timeout:    cfg.Timeout,
		enabled:    cfg.Enabled,
		quotaLimit: cfg.QuotaLimit,
		quotaMode:  mode,
	}
}

// ID returns the provider name, unique within a dispatcher
func (e *Endpoint) ID() string { return e.id }

// URL returns the webhook address payloads are POSTed to
func (e *Endpoint) URL() string { return e.url }

// Timeout bounds a single delivery attempt to this endpoint
func (e *Endpoint) Timeout() time.Duration { return e.timeout }

// Enabled reports whether the endpoint may be selected; disabled endpoints stay registered for status
func (e *Endpoint) Enabled() bool { return e.enabled }

// Headers returns a copy of the configured request headers
func (e *Endpoint) Headers() map[string]string {
	out := make(map[string]string, len(e.headers))
	for k, v := range e.headers {
		out[k] = v
	}
	return out
}

func (e *Endpoint) unlimited() bool {
	return e.quotaMode == QuotaDisabled || e.quotaLimit == 0
}

// isAvailable reports whether the endpoint may be selected right now.
// Deliveries still in flight count against the quota so concurrent relays
// cannot overshoot the limit. Caller must hold the dispatcher lock.
func (e *Endpoint) isAvailable() bool {
	if !e.enabled {
		return false
	}
	if e.unlimited() {
		return true
	}
	return e.quotaUsed+e.inFlight < e.quotaLimit
}

func (e *Endpoint) remaining() int64 {
	if e.unlimited() {
		return 0
	}
	if r := e.quotaLimit - e.quotaUsed; r > 0 {
		return r
	}
	return 0
}
