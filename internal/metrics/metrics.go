package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace is shared by the custom metrics below and the echoprometheus middleware
const Namespace = "alert_relay"

var (
	// RelayOutcomesCounter counts relay attempts by outcome and selected provider ("none" when rejected)
	RelayOutcomesCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "relay_outcomes_total",
		Help:      "Total number of relay attempts by outcome (delivered, rejected, delivery_failed) and provider",
	}, []string{"outcome", "provider"})

	// DeliveryDurationHistogram tracks the latency of outbound deliveries per provider
	DeliveryDurationHistogram = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "delivery_duration_seconds",
		Help:      "Duration of outbound webhook deliveries, including failures and timeouts",
		Buckets:   prometheus.DefBuckets,
	}, []string{"provider"})

	// DeliveriesInFlightGauge tracks outbound deliveries currently waiting on the network
	DeliveriesInFlightGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "deliveries_in_flight",
		Help:      "Current number of outbound deliveries in progress",
	})

	// ProviderQuotaUsedGauge mirrors each provider's quota_used counter
	ProviderQuotaUsedGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "provider_quota_used",
		Help:      "Successful deliveries counted against each provider's quota since startup",
	}, []string{"provider"})

	// ProvidersAvailableGauge tracks how many providers can currently be selected
	ProvidersAvailableGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "providers_available",
		Help:      "Current number of enabled providers with remaining quota",
	})

	// QueueDepthGauge tracks the current depth of the async relay queue
	QueueDepthGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "relay_queue_depth",
		Help:      "Current number of alerts waiting in the async relay queue",
	})

	// ActiveWorkersGauge tracks the number of workers currently relaying an alert
	ActiveWorkersGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "relay_active_workers",
		Help:      "Current number of async workers actively relaying alerts",
	})

	// RateLimitedCounter counts inbound webhooks refused by the rate limiter
	RateLimitedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "webhook_rate_limited_total",
		Help:      "Total number of inbound webhook requests rejected with 429",
	})
)
