// Package metrics provides Prometheus metrics for talon.
// It tracks vendor API traffic, poll-loop throughput, and local store
// activity so a long-running watch session can be observed from the
// /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "talon"
)

// Vendor API metrics track calls against the alert APIs.
var (
	// APIRequestsTotal counts vendor API requests by operation and outcome.
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "Total number of vendor API requests",
		},
		[]string{"operation", "status"}, // status: success, failure
	)

	// APIRequestLatency measures vendor API request latency.
	APIRequestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_latency_seconds",
			Help:      "Latency of vendor API requests in seconds",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"operation"},
	)

	// RateLimitedTotal counts 429 responses from the vendor API.
	RateLimitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Total number of rate-limited vendor API responses",
		},
		[]string{"operation"},
	)

	// TokenRefreshesTotal counts OAuth2 token exchanges.
	TokenRefreshesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refreshes_total",
			Help:      "Total number of OAuth2 token exchanges performed",
		},
	)
)

// Poll metrics track the watch loop.
var (
	// PollIterationsTotal counts completed poll iterations.
	PollIterationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_iterations_total",
			Help:      "Total number of completed poll iterations",
		},
	)

	// PollErrorsTotal counts poll iterations that ended in backoff.
	PollErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_errors_total",
			Help:      "Total number of poll iterations that failed and backed off",
		},
	)

	// PollLatency measures the duration of a poll iteration.
	PollLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_latency_seconds",
			Help:      "Duration of a single poll iteration in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	// AlertsAcceptedTotal counts alerts that passed the filter, by product.
	AlertsAcceptedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_accepted_total",
			Help:      "Total number of alerts accepted by the watch session",
		},
		[]string{"product"},
	)

	// AlertsFilteredTotal counts alerts rejected by the filter.
	AlertsFilteredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_filtered_total",
			Help:      "Total number of alerts rejected by the watch filter",
		},
	)

	// AlertsDedupedTotal counts alerts dropped as already seen this session.
	AlertsDedupedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_deduped_total",
			Help:      "Total number of alerts dropped by in-session deduplication",
		},
	)

	// WatermarkSeconds tracks the current watch watermark as a Unix timestamp.
	WatermarkSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watermark_seconds",
			Help:      "Current watch watermark as seconds since the Unix epoch",
		},
	)
)

// Storage metrics track the local alert cache.
var (
	// StorageOperationsTotal counts alert store operations.
	StorageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_operations_total",
			Help:      "Total number of alert store operations",
		},
		[]string{"backend", "operation", "status"}, // status: success, failure
	)

	// StorageOperationLatency measures latency of alert store operations.
	StorageOperationLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "storage_operation_latency_seconds",
			Help:      "Latency of alert store operations in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5},
		},
		[]string{"backend", "operation"},
	)
)

// Sink metrics track output emission, including broker forwarders.
var (
	// SinkEmitsTotal counts records handed to each output sink.
	SinkEmitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_emits_total",
			Help:      "Total number of alert records emitted to output sinks",
		},
		[]string{"sink", "status"}, // status: success, failure
	)
)
