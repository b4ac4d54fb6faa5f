// Package metrics holds the Prometheus instruments shared by buses and cells.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "cellbus"

// Metrics holds all Prometheus metrics.
type Metrics struct {
	registry *prometheus.Registry

	// Bus metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	DispatchTotal    *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec
	DroppedMessages  *prometheus.CounterVec
	PanicsRecovered  *prometheus.CounterVec
	Subscriptions    prometheus.Gauge

	// HTTP metrics (web cell)
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	GatewayConnections  prometheus.Gauge
}

// New creates metrics registered on a fresh registry, so several buses in
// one process (or one test binary) never collide.
func New() *Metrics {
	return NewWithRegistry(prometheus.NewRegistry())
}

// NewWithRegistry creates metrics registered on reg.
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "requests_total",
				Help:      "Total number of requests sent, by subject and outcome code",
			},
			[]string{"subject", "code"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "request_duration_seconds",
				Help:      "Request round-trip latencies in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"subject"},
		),
		DispatchTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "dispatch_total",
				Help:      "Total number of handler invocations, by subject and outcome code",
			},
			[]string{"subject", "code"},
		),
		DispatchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "dispatch_duration_seconds",
				Help:      "Handler latencies in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"subject"},
		),
		DroppedMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "dropped_messages_total",
				Help:      "Inbound messages dropped because they could not be decoded",
			},
			[]string{"subject"},
		),
		PanicsRecovered: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "panics_recovered_total",
				Help:      "Handler panics converted into Internal errors",
			},
			[]string{"subject"},
		),
		Subscriptions: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "subscriptions",
				Help:      "Number of subjects with an active subscription",
			},
		),

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "web",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "web",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latencies in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		GatewayConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "web",
				Name:      "gateway_connections",
				Help:      "Open websocket gateway connections",
			},
		),
	}
}

// Registry returns the registry the metrics live in.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordRequest records one caller-side request. code is "" on success.
func (m *Metrics) RecordRequest(subject, code string, duration time.Duration) {
	if code == "" {
		code = "ok"
	}
	m.RequestsTotal.WithLabelValues(subject, code).Inc()
	m.RequestDuration.WithLabelValues(subject).Observe(duration.Seconds())
}

// RecordDispatch records one handler invocation. code is "" on success.
func (m *Metrics) RecordDispatch(subject, code string, duration time.Duration) {
	if code == "" {
		code = "ok"
	}
	m.DispatchTotal.WithLabelValues(subject, code).Inc()
	m.DispatchDuration.WithLabelValues(subject).Observe(duration.Seconds())
}

// RecordDropped counts an inbound message that was not dispatched: malformed,
// or lost to a slow consumer.
func (m *Metrics) RecordDropped(subject string) {
	m.DroppedMessages.WithLabelValues(subject).Inc()
}

// RecordPanic counts a recovered handler panic.
func (m *Metrics) RecordPanic(subject string) {
	m.PanicsRecovered.WithLabelValues(subject).Inc()
}

// HTTPMiddleware records request counts and latencies for next.
func (m *Metrics) HTTPMiddleware(endpoint string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		m.HTTPRequestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(wrapped.statusCode)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
	})
}

// Handler returns the Prometheus scrape handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// responseWriter captures the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
