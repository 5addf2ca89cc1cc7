// Package dispatch selects one downstream endpoint per inbound alert and
// tracks per-endpoint quota consumption.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/zep-us/alert-relay/internal/metrics"
)

// Transport performs one delivery of a payload to an endpoint.
// A nil error means the endpoint answered with a 2xx status.
// Implementations must not retry and must not touch quota counters.
type Transport interface {
	Deliver(ctx context.Context, ep *Endpoint, payload json.RawMessage) error
}

// Config is everything needed to build a Dispatcher
type Config struct {
	Strategy  Strategy
	QuotaMode QuotaMode
	Endpoints []EndpointConfig
}

// Dispatcher relays payloads to a fixed, ordered set of endpoints.
// One instance is shared by every request handler for the process lifetime.
type Dispatcher struct {
	strategy  Strategy
	selectFn  selector
	transport Transport
	endpoints []*Endpoint

	mu   sync.RWMutex
	next int // cursor in [0, len(endpoints))

	closeOnce sync.Once
	closeErr  error
}

// Validate reports every problem in cfg; the combined error matches ErrInvalidConfig
func (c Config) Validate() error {
	_, _, err := c.build()
	return err
}

func (c Config) build() (Strategy, []*Endpoint, error) {
	var errs error

	strategy, err := ParseStrategy(string(c.Strategy))
	errs = multierr.Append(errs, err)

	mode, err := ParseQuotaMode(string(c.QuotaMode))
	errs = multierr.Append(errs, err)

	seen := make(map[string]struct{}, len(c.Endpoints))
	endpoints := make([]*Endpoint, 0, len(c.Endpoints))
	for i, ec := range c.Endpoints {
		if err := validateEndpoint(i, ec, seen); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		endpoints = append(endpoints, newEndpoint(ec, mode))
	}
	return strategy, endpoints, errs
}

// New validates cfg and builds a Dispatcher.
// Every problem found is reported; the combined error matches ErrInvalidConfig.
func New(cfg Config, transport Transport) (*Dispatcher, error) {
	strategy, endpoints, errs := cfg.build()
	if transport == nil && len(cfg.Endpoints) > 0 {
		errs = multierr.Append(errs, &ConfigError{Field: "transport", Reason: "required when providers are configured"})
	}
	if errs != nil {
		return nil, errs
	}

	d := &Dispatcher{
		strategy:  strategy,
		selectFn:  selectorFor(strategy),
		transport: transport,
		endpoints: endpoints,
	}
	d.mu.RLock()
	d.publishAvailability()
	d.mu.RUnlock()
	return d, nil
}

func validateEndpoint(i int, ec EndpointConfig, seen map[string]struct{}) error {
	name := ec.ID
	if name == "" {
		name = "#" + strconv.Itoa(i)
	}
	var errs error
	fail := func(field, reason string) {
		errs = multierr.Append(errs, &ConfigError{Endpoint: name, Field: field, Reason: reason})
	}

	if ec.ID == "" {
		fail("name", "is required")
	} else if _, dup := seen[ec.ID]; dup {
		fail("name", "duplicate provider name")
	} else {
		seen[ec.ID] = struct{}{}
	}

	if ec.URL == "" {
		fail("endpoint", "is required")
	} else if u, err := url.Parse(ec.URL); err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		fail("endpoint", "must be an absolute http(s) URL, got "+quote(ec.URL))
	}

	if ec.Timeout <= 0 {
		fail("timeout", "must be > 0")
	}
	if ec.QuotaLimit < 0 {
		fail("free_quota", "must be >= 0")
	}
	if ec.QuotaMode != "" {
		if _, err := ParseQuotaMode(string(ec.QuotaMode)); err != nil {
			fail("quota_mode", "unknown quota mode "+quote(string(ec.QuotaMode)))
		}
	}
	return errs
}

// Strategy returns the configured selection strategy
func (d *Dispatcher) Strategy() Strategy {
	return d.strategy
}

// Len returns the number of configured endpoints
func (d *Dispatcher) Len() int {
	return len(d.endpoints)
}

// Relay forwards payload to exactly one selected endpoint.
//
// It never returns an error: an empty registry or a fully exhausted one yields
// Rejected, a failed transport call yields DeliveryFailed. The network call
// happens with no lock held.
func (d *Dispatcher) Relay(ctx context.Context, payload json.RawMessage) Outcome {
	if len(d.endpoints) == 0 {
		return d.record(rejected(ReasonNoEndpoints))
	}

	d.mu.Lock()
	ep := d.selectFn(d)
	if ep != nil {
		ep.inFlight++
	}
	d.mu.Unlock()

	if ep == nil {
		return d.record(rejected(ReasonNoneAvailable))
	}

	err := d.deliver(ctx, ep, payload)

	d.mu.Lock()
	ep.inFlight--
	if err == nil {
		ep.quotaUsed++
	}
	used := ep.quotaUsed
	d.publishAvailability()
	d.mu.Unlock()

	metrics.ProviderQuotaUsedGauge.WithLabelValues(ep.id).Set(float64(used))

	if err != nil {
		return d.record(deliveryFailed(ep.id, err))
	}
	return d.record(delivered(ep.id))
}

// deliver converts a transport panic into an ordinary failure
func (d *Dispatcher) deliver(ctx context.Context, ep *Endpoint, payload json.RawMessage) (err error) {
	metrics.DeliveriesInFlightGauge.Inc()
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transport panic: %v", r)
		}
		metrics.DeliveriesInFlightGauge.Dec()
		metrics.DeliveryDurationHistogram.WithLabelValues(ep.id).Observe(time.Since(start).Seconds())
	}()
	return d.transport.Deliver(ctx, ep, payload)
}

func (d *Dispatcher) record(o Outcome) Outcome {
	provider := o.EndpointID
	if provider == "" {
		provider = "none"
	}
	metrics.RelayOutcomesCounter.WithLabelValues(o.Kind.String(), provider).Inc()
	return o
}

// publishAvailability must be called with d.mu held (read or write)
func (d *Dispatcher) publishAvailability() {
	n := 0
	for _, ep := range d.endpoints {
		if ep.isAvailable() {
			n++
		}
	}
	metrics.ProvidersAvailableGauge.Set(float64(n))
}

// Close releases the transport's connection resources.
// In-flight relays are left to finish on their own; Close is idempotent.
func (d *Dispatcher) Close() error {
	d.closeOnce.Do(func() {
		if c, ok := d.transport.(io.Closer); ok {
			d.closeErr = c.Close()
		}
	})
	return d.closeErr
}
