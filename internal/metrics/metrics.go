// Package metrics exposes engine and gateway activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/classwatch/internal/engine"
)

const namespace = "classwatch"

// Metrics owns a registry and implements engine.Observer.
type Metrics struct {
	registry *prometheus.Registry

	records       *prometheus.CounterVec
	dispatchTime  *prometheus.HistogramVec
	ruleFirings   *prometheus.CounterVec
	ruleDedup     *prometheus.CounterVec
	effectFailure *prometheus.CounterVec
	cascadePasses prometheus.Histogram
	quotaStops    prometheus.Counter
	requests      *prometheus.CounterVec
}

var _ engine.Observer = (*Metrics)(nil)

// New creates the metrics and registers them, with the Go runtime and
// process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Action records appended, by provider and operation.",
		}, []string{"provider", "operation"}),
		dispatchTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent in provider operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "operation"}),
		ruleFirings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_firings_total",
			Help:      "Effects queued by each rule.",
		}, []string{"rule"}),
		ruleDedup: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_dedup_total",
			Help:      "Effects skipped because they already fired in the flow.",
		}, []string{"rule"}),
		effectFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "effect_failures_total",
			Help:      "Queued effects whose dispatch failed.",
		}, []string{"rule"}),
		cascadePasses: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cascade_passes",
			Help:      "Evaluation passes per cascade.",
			Buckets:   []float64{1, 2, 3, 4, 5, 8, 13, 21},
		}),
		quotaStops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cascade_quota_exceeded_total",
			Help:      "Cascades stopped by the per-flow step quota.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_requests_total",
			Help:      "HTTP requests served, by route and status.",
		}, []string{"path", "status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.records, m.dispatchTime,
		m.ruleFirings, m.ruleDedup, m.effectFailure,
		m.cascadePasses, m.quotaStops,
		m.requests,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Dispatched implements engine.Observer. Failed dispatches append nothing
// and are only timed.
func (m *Metrics) Dispatched(provider, operation string, elapsed time.Duration, err error) {
	m.dispatchTime.WithLabelValues(provider, operation).Observe(elapsed.Seconds())
	if err == nil {
		m.records.WithLabelValues(provider, operation).Inc()
	}
}

// RuleFired implements engine.Observer.
func (m *Metrics) RuleFired(rule string) {
	m.ruleFirings.WithLabelValues(rule).Inc()
}

// RuleDeduplicated implements engine.Observer.
func (m *Metrics) RuleDeduplicated(rule string) {
	m.ruleDedup.WithLabelValues(rule).Inc()
}

// EffectFailed implements engine.Observer.
func (m *Metrics) EffectFailed(rule string, _ error) {
	m.effectFailure.WithLabelValues(rule).Inc()
}

// CascadeFinished implements engine.Observer.
func (m *Metrics) CascadeFinished(_ string, stats engine.CascadeStats) {
	m.cascadePasses.Observe(float64(stats.Passes))
	if engine.IsQuotaError(stats.Err) {
		m.quotaStops.Inc()
	}
}

// RequestServed counts one HTTP response.
func (m *Metrics) RequestServed(path string, status int) {
	m.requests.WithLabelValues(path, strconv.Itoa(status)).Inc()
}
