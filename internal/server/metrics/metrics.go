// Package metrics owns the Prometheus registry of the server: auth outcome
// counters, HTTP request metrics and whatever collectors other layers
// register (gRPC server metrics, Go runtime).
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "crmkeeper"

type Metrics struct {
	registry     *prometheus.Registry
	authEvents   *prometheus.CounterVec
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New creates a registry with the process and Go collectors plus the
// server's own metrics.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		authEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_events_total",
			Help:      "Finished authentication operations by outcome.",
		}, []string{"operation", "outcome"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.authEvents,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// AuthEvent counts one finished auth operation.
func (m *Metrics) AuthEvent(operation, outcome string) {
	m.authEvents.WithLabelValues(operation, outcome).Inc()
}

// AuthCounter returns the counter behind one operation/outcome pair.
func (m *Metrics) AuthCounter(operation, outcome string) prometheus.Counter {
	return m.authEvents.WithLabelValues(operation, outcome)
}

// ObserveHTTP records a served request. route is the matched pattern, not
// the raw path, to keep label cardinality bounded.
func (m *Metrics) ObserveHTTP(method, route string, code int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// Register adds an external collector to the registry.
func (m *Metrics) Register(c prometheus.Collector) error {
	return m.registry.Register(c)
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
