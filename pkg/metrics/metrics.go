package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookEvents counts webhook deliveries by outcome
	// (applied|already_processed|ignored|session_not_found|rejected).
	WebhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idbridge_webhook_events_total",
			Help: "Total number of webhook deliveries by processing outcome",
		},
		[]string{"outcome"},
	)

	// SessionsCreated counts verification sessions created by result (success|failure).
	SessionsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idbridge_sessions_created_total",
			Help: "Total number of verification session creation attempts",
		},
		[]string{"result"},
	)

	// ProviderRequests counts calls to the identity-verification provider.
	ProviderRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idbridge_provider_requests_total",
			Help: "Total number of provider API requests",
		},
		[]string{"operation", "result"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "idbridge_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
