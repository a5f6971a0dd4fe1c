// Package server — metrics.go registers all Prometheus metrics for the HTTP
// server and exposes helpers used by handlers and middleware.
package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric label values shared across registrations.
const (
	// labelHandler is the "handler" label value used to partition metrics by
	// the logical endpoint name rather than the raw URL path.
	labelHandler = "handler"
)

// serverMetrics holds all Prometheus metrics owned by the HTTP server.
// A single instance is created in New and stored on Server so that tests can
// inject a fresh prometheus.Registry without polluting the default one.
type serverMetrics struct {
	// convRequestsTotal counts completed customer chat turns, partitioned by
	// outcome: "ok", "fallback" (no relevant knowledge), or "error".
	convRequestsTotal *prometheus.CounterVec

	// convDurationSeconds records the wall-clock duration of each chat turn
	// from request receipt to reply.
	convDurationSeconds *prometheus.HistogramVec

	// convActive is the number of chat turns currently in flight.
	convActive prometheus.Gauge

	// httpRequestsTotal counts all HTTP requests handled by the mux,
	// partitioned by method, handler name, and status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec
}

// newServerMetrics registers all server metrics against reg and returns the
// populated serverMetrics. promauto.With(reg) is used so that each call
// registers into the provided registry rather than the global default —
// this keeps unit tests hermetic.
func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)

	return &serverMetrics{
		convRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentflow",
			Subsystem: "conversation",
			Name:      "requests_total",
			Help:      "Total number of customer chat turns completed, partitioned by outcome.",
		}, []string{"outcome"}),

		convDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agentflow",
			Subsystem: "conversation",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of customer chat turns from receipt to reply.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"outcome"}),

		convActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "agentflow",
			Subsystem: "conversation",
			Name:      "active_requests",
			Help:      "Number of customer chat turns currently in flight.",
		}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentflow",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", labelHandler, "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agentflow",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", labelHandler}),
	}
}
