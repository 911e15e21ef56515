package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outbound storage client metrics
var (
	// StorageRequestsTotal counts logical storage calls by method and outcome
	StorageRequestsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_client_requests_total",
			Help:      "Total number of logical calls to the storage service",
		},
		[]string{"method", "outcome"}, // outcome: success|app_error|timeout|unavailable|circuit_open|auth_error
	)

	// StorageAttemptsTotal counts individual HTTP attempts, including retries
	StorageAttemptsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_client_attempts_total",
			Help:      "Total number of HTTP attempts against the storage service",
		},
		[]string{"method"},
	)

	// StorageRetriesTotal counts retries by reason
	StorageRetriesTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_client_retries_total",
			Help:      "Total number of storage call retries",
		},
		[]string{"reason"}, // reason: transport|server_error|rate_limited|unauthorized
	)

	// StorageLatency records logical call latency including retries
	StorageLatency = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "storage_client_latency_seconds",
			Help:      "Storage call latency in seconds, retries included",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method"},
	)

	// BreakerState exposes circuit breaker state per dependency
	// Values: 0 = closed, 1 = half-open, 2 = open
	BreakerState = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// BreakerTransitions counts state changes per dependency
	BreakerTransitions = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_transitions_total",
			Help:      "Total number of circuit breaker state transitions",
		},
		[]string{"name", "to"},
	)
)

// Token and key-set metrics
var (
	// TokenRefreshesTotal counts client-credentials token fetches
	TokenRefreshesTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oauth_token_refreshes_total",
			Help:      "Total number of client-credentials token requests",
		},
		[]string{"status"}, // status: success|error
	)

	// JWKSFetchesTotal counts key-set downloads
	JWKSFetchesTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jwks_fetches_total",
			Help:      "Total number of JWKS fetches",
		},
		[]string{"status"}, // status: success|error|rate_limited
	)

	// TokenValidationsTotal counts inbound bearer token checks
	TokenValidationsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_validations_total",
			Help:      "Total number of inbound bearer token validations",
		},
		[]string{"result"}, // result: accepted|rejected
	)
)
