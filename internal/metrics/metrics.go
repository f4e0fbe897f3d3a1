// Package metrics exposes carbonwatch's Prometheus instrumentation.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/carbonwatch/carbonwatch/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "carbonwatch"

// Metrics implements the observer interfaces of the upstream client, the
// poller, the cache and the alerter against one registry.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	upstreamRequests *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	refreshes        *prometheus.CounterVec
	refreshDuration  prometheus.Histogram
	skippedTicks     prometheus.Counter
	cacheHits        prometheus.Counter
	cacheMisses      prometheus.Counter
	alerts           *prometheus.CounterVec
	readings         prometheus.Gauge
	warningActive    prometheus.Gauge
}

// New registers every collector on a fresh registry, plus the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of HTTP request durations by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		upstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Requests made to the upstream API by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		upstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Histogram of upstream API request durations by endpoint.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refreshes_total",
			Help:      "Completed store refreshes by result.",
		}, []string{"result"}),
		refreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refresh_duration_seconds",
			Help:      "Histogram of full refresh durations.",
			Buckets:   prometheus.DefBuckets,
		}),
		skippedTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_ticks_skipped_total",
			Help:      "Poll ticks skipped because a refresh was still running.",
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total cache hits observed.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total cache misses observed.",
		}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_sent_total",
			Help:      "Alert delivery attempts by sink and result.",
		}, []string{"sink", "result"}),
		readings: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "readings",
			Help:      "Readings in the current window.",
		}),
		warningActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "warning_active",
			Help:      "1 while a live warning is active.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpDuration,
		m.upstreamRequests,
		m.upstreamDuration,
		m.refreshes,
		m.refreshDuration,
		m.skippedTicks,
		m.cacheHits,
		m.cacheMisses,
		m.alerts,
		m.readings,
		m.warningActive,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// GaugeFunc registers a gauge whose value is read on every scrape.
func (m *Metrics) GaugeFunc(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(route string, status int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveUpstream(endpoint string, status int, elapsed time.Duration, err error) {
	outcome := "ok"
	switch {
	case status >= 400:
		outcome = strconv.Itoa(status)
	case err != nil:
		outcome = "error"
	}
	m.upstreamRequests.WithLabelValues(endpoint, outcome).Inc()
	m.upstreamDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveRefresh(elapsed time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.refreshes.WithLabelValues(result).Inc()
	m.refreshDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveSkippedTick() { m.skippedTicks.Inc() }

func (m *Metrics) CacheHit() { m.cacheHits.Inc() }

func (m *Metrics) CacheMiss() { m.cacheMisses.Inc() }

// AlertSent counts an alert delivery attempt.
func (m *Metrics) AlertSent(sink string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.alerts.WithLabelValues(sink, result).Inc()
}

// SetWindow updates the reading-window gauges after a refresh.
func (m *Metrics) SetWindow(readings int, warningActive bool) {
	m.readings.Set(float64(readings))
	if warningActive {
		m.warningActive.Set(1)
	} else {
		m.warningActive.Set(0)
	}
}

// RefreshApplied keeps the window gauges in step with the store.
func (m *Metrics) RefreshApplied(a store.Applied) {
	m.SetWindow(len(a.Snapshot.Readings), a.Snapshot.Warning.Active)
}
