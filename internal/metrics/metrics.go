// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Decision label values.
const (
	DecisionAdmitted = "admitted"
	DecisionRejected = "rejected"
	DecisionError    = "error"
)

var (
	// HTTPRequestsTotal counts total HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration measures request latency in seconds.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// ActiveConnections tracks current active connections.
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_connections",
			Help: "Number of active connections",
		},
	)

	// RateLimitDecisionsTotal counts admission checks by outcome.
	RateLimitDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_decisions_total",
			Help: "Total number of rate limit decisions by outcome",
		},
		[]string{"decision"},
	)

	// RateLimitCheckDuration measures how long an admission check takes,
	// including time spent waiting for the caller's lock.
	RateLimitCheckDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rate_limit_check_duration_seconds",
			Help:    "Rate limit check duration in seconds",
			Buckets: []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05, .1},
		},
	)

	// RateLimitSweptTotal counts idle callers reclaimed by the sweeper.
	RateLimitSweptTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rate_limit_swept_callers_total",
			Help: "Total number of idle callers removed from the history store",
		},
	)

	// RateLimitTrackedCallers reports callers held by the in-memory store.
	RateLimitTrackedCallers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rate_limit_tracked_callers",
			Help: "Number of callers currently held in the history store",
		},
	)

	// AuditFlushTotal counts rejection audit flushes by result.
	AuditFlushTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_audit_flush_total",
			Help: "Total number of rejection audit flushes by result",
		},
		[]string{"result"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records an HTTP request metric.
func RecordRequest(method, path string, status int, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordDecision records the outcome and latency of one admission check.
func RecordDecision(decision string, duration time.Duration) {
	RateLimitDecisionsTotal.WithLabelValues(decision).Inc()
	RateLimitCheckDuration.Observe(duration.Seconds())
}

// RecordSweep records a sweeper pass.
func RecordSweep(removed, tracked int) {
	RateLimitSweptTotal.Add(float64(removed))
	RateLimitTrackedCallers.Set(float64(tracked))
}

// RecordAuditFlush records a rejection audit flush.
func RecordAuditFlush(err error) {
	if err != nil {
		AuditFlushTotal.WithLabelValues("error").Inc()
		return
	}
	AuditFlushTotal.WithLabelValues("ok").Inc()
}
