// Package metrics exposes subtrack's Prometheus collectors.
//
// All collectors are registered on a private [prometheus.Registry] so that
// several instances (one per test, one per embedded SDK) never collide on the
// global default registry. Every method is safe to call on a nil *Metrics;
// components that are built without metrics simply record nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "subtrack"

// Fetch results used as the "result" label of the fetches counter.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Metrics holds every collector subtrack records into.
type Metrics struct {
	registry *prometheus.Registry

	fetches          *prometheus.CounterVec
	itemsFetched     *prometheus.CounterVec
	itemsProcessed   *prometheus.CounterVec
	processingErrors *prometheus.CounterVec
	queueDropped     *prometheus.CounterVec
	quotaRemaining   prometheus.Gauge
	quotaWait        prometheus.Histogram
	trackers         *prometheus.GaugeVec
}

// New creates a [Metrics] with all collectors registered, plus the standard
// Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_total",
			Help:      "Fetch attempts per subreddit, by result.",
		}, []string{"subreddit", "result"}),
		itemsFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_fetched_total",
			Help:      "Items returned by the fetch backend per subreddit.",
		}, []string{"subreddit"}),
		itemsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_processed_total",
			Help:      "Items recorded into the stats store per subreddit.",
		}, []string{"subreddit"}),
		processingErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "processing_errors_total",
			Help:      "Items skipped by workers because they could not be processed.",
		}, []string{"subreddit"}),
		queueDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_dropped_total",
			Help:      "Items dropped by a bounded queue's overflow policy.",
		}, []string{"subreddit"}),
		quotaRemaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "quota_remaining",
			Help:      "Remaining API calls as last reported by the rate-limit headers.",
		}),
		quotaWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "quota_wait_seconds",
			Help:      "Time fetch loops spent blocked on the shared quota.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 600},
		}),
		trackers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "trackers",
			Help:      "Trackers currently in each lifecycle state.",
		}, []string{"state"}),
	}

	m.registry.MustRegister(
		m.fetches,
		m.itemsFetched,
		m.itemsProcessed,
		m.processingErrors,
		m.queueDropped,
		m.quotaRemaining,
		m.quotaWait,
		m.trackers,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// FetchSucceeded records a successful fetch that returned n items.
func (m *Metrics) FetchSucceeded(subreddit string, n int) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(subreddit, ResultOK).Inc()
	m.itemsFetched.WithLabelValues(subreddit).Add(float64(n))
}

// FetchFailed records a failed fetch.
func (m *Metrics) FetchFailed(subreddit string) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(subreddit, ResultError).Inc()
}

// ItemProcessed records one item written to the stats store.
func (m *Metrics) ItemProcessed(subreddit string) {
	if m == nil {
		return
	}
	m.itemsProcessed.WithLabelValues(subreddit).Inc()
}

// ProcessingFailed records one item skipped by a worker.
func (m *Metrics) ProcessingFailed(subreddit string) {
	if m == nil {
		return
	}
	m.processingErrors.WithLabelValues(subreddit).Inc()
}

// ItemDropped records one item discarded by a queue overflow policy.
func (m *Metrics) ItemDropped(subreddit string) {
	if m == nil {
		return
	}
	m.queueDropped.WithLabelValues(subreddit).Inc()
}

// QuotaUpdated records the remaining count after a successful quota update.
func (m *Metrics) QuotaUpdated(remaining int) {
	if m == nil {
		return
	}
	m.quotaRemaining.Set(float64(remaining))
}

// QuotaWaited records time spent blocked waiting for the quota to reset.
func (m *Metrics) QuotaWaited(d time.Duration) {
	if m == nil {
		return
	}
	m.quotaWait.Observe(d.Seconds())
}

// TrackerTransition moves one tracker from state "from" to state "to".
// An empty from means the tracker was just created.
func (m *Metrics) TrackerTransition(from, to string) {
	if m == nil {
		return
	}
	if from != "" {
		m.trackers.WithLabelValues(from).Dec()
	}
	if to != "" {
		m.trackers.WithLabelValues(to).Inc()
	}
}
