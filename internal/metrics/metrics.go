package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Broadcast holds the broadcast engine's collectors.
// A nil *Broadcast is valid and records nothing.
type Broadcast struct {
	reg prometheus.Gatherer

	// RunsTotal counts finished runs by terminal state (done, aborted, rejected).
	RunsTotal *prometheus.CounterVec
	// DeliveriesTotal counts terminal per-recipient outcomes (success or a failure category).
	DeliveriesTotal *prometheus.CounterVec
	// RateLimitedTotal counts 429 responses that were retried.
	RateLimitedTotal prometheus.Counter
	RunDuration      prometheus.Histogram
	ActiveRuns       prometheus.Gauge
}

// New registers the collectors on reg. A nil reg uses a fresh private registry,
// which keeps tests independent of the global default registry.
func New(reg *prometheus.Registry) *Broadcast {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Broadcast{
		reg: reg,
		RunsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "castbot_runs_total",
				Help: "Total number of broadcast runs by terminal state",
			},
			[]string{"state"},
		),
		DeliveriesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "castbot_deliveries_total",
				Help: "Total number of per-recipient delivery outcomes",
			},
			[]string{"outcome"},
		),
		RateLimitedTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "castbot_rate_limited_total",
				Help: "Total number of rate-limited attempts that were retried",
			},
		),
		RunDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "castbot_run_duration_seconds",
				Help:    "Broadcast run duration in seconds",
				Buckets: prometheus.ExponentialBuckets(1, 2, 14),
			},
		),
		ActiveRuns: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "castbot_active_runs",
				Help: "Number of broadcast runs in progress",
			},
		),
	}
}

// Handler exposes the registry in the Prometheus text format.
func (m *Broadcast) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Broadcast) Delivery(outcome string) {
	if m == nil {
		return
	}
	m.DeliveriesTotal.WithLabelValues(outcome).Inc()
}

func (m *Broadcast) RateLimited() {
	if m == nil {
		return
	}
	m.RateLimitedTotal.Inc()
}

func (m *Broadcast) RunStarted() {
	if m == nil {
		return
	}
	m.ActiveRuns.Inc()
}

func (m *Broadcast) RunFinished(state string, d time.Duration) {
	if m == nil {
		return
	}
	m.ActiveRuns.Dec()
	m.RunsTotal.WithLabelValues(state).Inc()
	m.RunDuration.Observe(d.Seconds())
}

// Rejected counts a request that failed validation before a run started.
func (m *Broadcast) Rejected() {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues("rejected").Inc()
}
