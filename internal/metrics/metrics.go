// Package metrics exposes prometheus counters for sync runs, decisions and the HTTP API.
// Every method is safe on a nil *Metrics so components can run without instrumentation.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	runs           *prometheus.CounterVec
	runDuration    *prometheus.HistogramVec
	decisions      *prometheus.CounterVec
	reviews        *prometheus.CounterVec
	merges         prometheus.Counter
	archivesPurged prometheus.Counter
	remoteCalls    *prometheus.CounterVec

	httpInFlight        prometheus.Gauge
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// New registers every collector in a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rolodex_sync_runs_total",
			Help: "Sync runs by final status.",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rolodex_sync_run_duration_seconds",
			Help:    "Sync run latency in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}, []string{"direction"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rolodex_sync_decisions_total",
			Help: "Per-entity sync decisions by outcome.",
		}, []string{"outcome"}),
		reviews: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rolodex_review_items_enqueued_total",
			Help: "Review items created by type.",
		}, []string{"type"}),
		merges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rolodex_dedup_merges_total",
			Help: "Persons merged into a keeper.",
		}),
		archivesPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rolodex_archives_purged_total",
			Help: "Expired archives removed.",
		}),
		remoteCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rolodex_directory_requests_total",
			Help: "Remote directory requests by operation and status code.",
		}, []string{"op", "code"}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_in_flight_requests",
			Help: "In-flight HTTP requests.",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.runs, m.runDuration, m.decisions, m.reviews, m.merges, m.archivesPurged, m.remoteCalls,
		m.httpInFlight, m.httpRequestsTotal, m.httpRequestDuration,
	)
	return m
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRun(status, direction string, d time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(direction).Observe(d.Seconds())
}

func (m *Metrics) Decision(outcome string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ReviewEnqueued(reviewType string) {
	if m == nil {
		return
	}
	m.reviews.WithLabelValues(reviewType).Inc()
}

func (m *Metrics) Merged(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.merges.Add(float64(n))
}

func (m *Metrics) Purged(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.archivesPurged.Add(float64(n))
}

func (m *Metrics) RemoteCall(op string, code int) {
	if m == nil {
		return
	}
	m.remoteCalls.WithLabelValues(op, strconv.Itoa(code)).Inc()
}

// Middleware records request count and latency per route template.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}
			m.httpInFlight.Inc()
			defer m.httpInFlight.Dec()
			start := time.Now()
			err := next(c)
			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}
			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			labels := []string{c.Request().Method, path, strconv.Itoa(status)}
			m.httpRequestDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
			m.httpRequestsTotal.WithLabelValues(labels...).Inc()
			return err
		}
	}
}
