// Package metrics defines the Prometheus collectors for capture, dashboard
// and retention work, and exposes a scrape handler.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Capture outcomes
const (
	OutcomeStored  = "stored"
	OutcomeQueued  = "queued"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
	OutcomeDropped = "dropped"
)

// Metrics holds all Prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	CapturedRequestsTotal *prometheus.CounterVec
	CaptureQueueDepth     prometheus.Gauge
	EventsWrittenTotal    *prometheus.CounterVec
	DashboardLatency      *prometheus.HistogramVec
	CacheLookupsTotal     *prometheus.CounterVec
	PrunedEventsTotal     prometheus.Counter

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them with reg.
// A nil reg uses a fresh registry so repeated calls never collide.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		CapturedRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "request_analytics_captured_requests_total",
				Help: "Captured HTTP requests by category and outcome.",
			},
			[]string{"category", "outcome"},
		),
		CaptureQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "request_analytics_capture_queue_depth",
				Help: "Events waiting in the in-process capture queue.",
			},
		),
		EventsWrittenTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "request_analytics_events_written_total",
				Help: "Request events written to storage by dispatcher and status.",
			},
			[]string{"dispatcher", "status"},
		),
		DashboardLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "request_analytics_dashboard_latency_seconds",
				Help:    "Dashboard payload build latency in seconds.",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"endpoint"},
		),
		CacheLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "request_analytics_cache_lookups_total",
				Help: "Dashboard cache lookups by driver and result.",
			},
			[]string{"driver", "result"},
		),
		PrunedEventsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "request_analytics_pruned_events_total",
				Help: "Request events deleted by the retention policy.",
			},
		),
		gatherer: reg,
	}

	reg.MustRegister(
		m.CapturedRequestsTotal,
		m.CaptureQueueDepth,
		m.EventsWrittenTotal,
		m.DashboardLatency,
		m.CacheLookupsTotal,
		m.PrunedEventsTotal,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) Captured(category, outcome string) {
	if m == nil {
		return
	}
	m.CapturedRequestsTotal.WithLabelValues(category, outcome).Inc()
}

func (m *Metrics) Written(dispatcher, status string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.EventsWrittenTotal.WithLabelValues(dispatcher, status).Add(float64(n))
}

func (m *Metrics) QueueDepth(n int) {
	if m == nil {
		return
	}
	m.CaptureQueueDepth.Set(float64(n))
}

func (m *Metrics) ObserveDashboard(endpoint string, started time.Time) {
	if m == nil {
		return
	}
	m.DashboardLatency.WithLabelValues(endpoint).Observe(time.Since(started).Seconds())
}

func (m *Metrics) CacheLookup(driver string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookupsTotal.WithLabelValues(driver, result).Inc()
}

func (m *Metrics) Pruned(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.PrunedEventsTotal.Add(float64(n))
}
