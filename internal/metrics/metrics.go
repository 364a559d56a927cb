// Package metrics exposes custody operation and HTTP request metrics in
// Prometheus format.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/erazemk/makhzan/internal/custody"
)

const namespace = "makhzan"

// Metrics owns a private registry so tests and multiple servers in one
// process don't collide on the global one.
type Metrics struct {
	registry *prometheus.Registry

	operations *prometheus.CounterVec
	units      *prometheus.CounterVec
	latency    *prometheus.HistogramVec

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

var _ custody.Recorder = (*Metrics)(nil)

// New registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "custody_operations_total",
			Help:      "Custody operations by outcome.",
		}, []string{"operation", "result"}),
		units: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "custody_items_total",
			Help:      "Items changed by custody operations.",
		}, []string{"operation"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "custody_operation_duration_seconds",
			Help:      "Custody operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"method", "route", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.operations, m.units, m.latency,
		m.requests, m.requestDuration,
	)
	return m
}

// Observe records one custody operation.
func (m *Metrics) Observe(_ context.Context, operation string, units int, err error, d time.Duration) {
	m.operations.WithLabelValues(operation, Result(err)).Inc()
	if units > 0 {
		m.units.WithLabelValues(operation).Add(float64(units))
	}
	m.latency.WithLabelValues(operation).Observe(d.Seconds())
}

// Result is the outcome label for err: "ok", a custody error kind, or
// "error" for anything else.
func Result(err error) string {
	if err == nil {
		return "ok"
	}
	if k := custody.KindOf(err); k != "" {
		return string(k)
	}
	return "error"
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Middleware counts requests by the ServeMux pattern that served them.
// Unmatched requests share the "unmatched" route label.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(sw.status)).Inc()
		m.requestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
