// Package metrics exposes Prometheus counters and histograms for the
// rewrite service. Values are fed from the event bus, so the HTTP handler
// and the rewrite engine never touch the collectors directly.
package metrics

import (
	"context"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	eventbus "github.com/hanpama/deepauth/internal/eventbus"
	events "github.com/hanpama/deepauth/internal/events"
)

const namespace = "deepauth"

// Metrics holds the service collectors.
type Metrics struct {
	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
	Rewrites        *prometheus.CounterVec
	RewriteDuration prometheus.Histogram
	RewriteActions  prometheus.Histogram
}

// New creates the collectors without registering them.
func New() *Metrics {
	return &Metrics{
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests by route and status code",
			},
			[]string{"route", "code"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		Rewrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rewrite",
				Name:      "total",
				Help:      "Total number of query rewrites by outcome (ok or an error code)",
			},
			[]string{"outcome"},
		),
		RewriteDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "rewrite",
				Name:      "duration_seconds",
				Help:      "Query rewrite duration in seconds",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
			},
		),
		RewriteActions: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "rewrite",
				Name:      "actions",
				Help:      "Number of filter edits applied per rewrite",
				Buckets:   prometheus.LinearBuckets(0, 2, 8),
			},
		),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.HTTPRequests, m.HTTPDuration, m.Rewrites, m.RewriteDuration, m.RewriteActions}
}

// Registry owns a Prometheus registry with the service collectors and the
// Go runtime collectors registered.
type Registry struct {
	prometheus *prometheus.Registry
	Metrics    *Metrics
}

// NewRegistry creates a registry. It panics only when a collector is
// registered twice, which cannot happen for a fresh registry.
func NewRegistry() *Registry {
	r := &Registry{prometheus: prometheus.NewRegistry(), Metrics: New()}
	r.prometheus.MustRegister(r.Metrics.collectors()...)
	r.prometheus.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// PrometheusRegistry returns the underlying registry.
func (r *Registry) PrometheusRegistry() *prometheus.Registry { return r.prometheus }

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.prometheus, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Attach feeds the collectors from b.
func (r *Registry) Attach(b *eventbus.Bus) (detach func()) {
	m := r.Metrics
	unsubscribe := []func(){
		eventbus.On(b, func(_ context.Context, e events.HTTPFinish) {
			m.HTTPRequests.WithLabelValues(e.Route, strconv.Itoa(e.Status)).Inc()
			m.HTTPDuration.WithLabelValues(e.Route).Observe(e.Duration.Seconds())
		}),
		eventbus.On(b, func(_ context.Context, e events.RewriteFinish) {
			outcome := "ok"
			if e.Err != nil {
				outcome = e.Code
			}
			m.Rewrites.WithLabelValues(outcome).Inc()
			m.RewriteDuration.Observe(e.Duration.Seconds())
			if e.Err == nil {
				m.RewriteActions.Observe(float64(e.Actions))
			}
		}),
	}
	return func() {
		for _, u := range unsubscribe {
			u()
		}
	}
}
