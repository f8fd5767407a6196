// Package prometheus implements the runtime's metrics surface on top of
// prometheus/client_golang. Expose the registry via promhttp to scrape it.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/proteanhq/shopstream-sub002/core/es"
	"github.com/proteanhq/shopstream-sub002/core/metrics"
)

// latencyBuckets covers sub-millisecond store hits up to stalled broker
// round trips (in seconds).
var latencyBuckets = []float64{
	.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10,
}

// timer bridges a Prometheus observer to the metrics.Timer interface.
type timer struct {
	obs   prometheus.Observer
	start time.Time
}

func newTimer(obs prometheus.Observer) metrics.Timer {
	return &timer{obs: obs, start: time.Now()}
}

func (t *timer) ObserveDuration() {
	t.obs.Observe(time.Since(t.start).Seconds())
}

type esMetrics struct {
	storeLoadDuration   *prometheus.HistogramVec
	storeAppendDuration *prometheus.HistogramVec
	eventsAppended      *prometheus.CounterVec

	repoLoadDuration     *prometheus.HistogramVec
	repoSaveDuration     *prometheus.HistogramVec
	concurrencyConflicts *prometheus.CounterVec
	cacheHits            *prometheus.CounterVec
	cacheMisses          *prometheus.CounterVec

	snapshotLoadDuration *prometheus.HistogramVec
	snapshotSaveDuration *prometheus.HistogramVec

	consumerEventDuration *prometheus.HistogramVec
	consumerEvents        *prometheus.CounterVec
	consumerLag           *prometheus.GaugeVec
}

func histogram(name, help string, labels ...string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "shopstream",
		Subsystem: "es",
		Name:      name,
		Help:      help,
		Buckets:   latencyBuckets,
	}, labels)
}

func counter(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shopstream",
		Subsystem: "es",
		Name:      name,
		Help:      help,
	}, labels)
}

// NewESMetrics builds and registers the event sourcing metrics on reg.
func NewESMetrics(reg prometheus.Registerer) es.ESMetrics {
	m := &esMetrics{
		storeLoadDuration:   histogram("store_load_duration_seconds", "Event store load latency", "aggregate_type"),
		storeAppendDuration: histogram("store_append_duration_seconds", "Event store append latency", "aggregate_type"),
		eventsAppended:      counter("events_appended_total", "Events appended to the store", "aggregate_type"),

		repoLoadDuration:     histogram("repo_load_duration_seconds", "Repository load latency", "aggregate_type"),
		repoSaveDuration:     histogram("repo_save_duration_seconds", "Repository save latency", "aggregate_type"),
		concurrencyConflicts: counter("concurrency_conflicts_total", "Optimistic concurrency failures", "aggregate_type"),
		cacheHits:            counter("cache_hits_total", "Aggregate cache hits", "aggregate_type"),
		cacheMisses:          counter("cache_misses_total", "Aggregate cache misses", "aggregate_type"),

		snapshotLoadDuration: histogram("snapshot_load_duration_seconds", "Snapshot load latency", "aggregate_type"),
		snapshotSaveDuration: histogram("snapshot_save_duration_seconds", "Snapshot save latency", "aggregate_type"),

		consumerEventDuration: histogram("consumer_event_duration_seconds", "Consumer event processing time", "event_type", "live"),
		consumerEvents:        counter("consumer_events_total", "Events processed by consumers", "event_type", "live", "success"),
		consumerLag: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "shopstream",
			Subsystem: "es",
			Name:      "consumer_lag",
			Help:      "Sequences between a consumer's checkpoint and the store head",
		}, []string{"consumer"}),
	}

	reg.MustRegister(
		m.storeLoadDuration,
		m.storeAppendDuration,
		m.eventsAppended,
		m.repoLoadDuration,
		m.repoSaveDuration,
		m.concurrencyConflicts,
		m.cacheHits,
		m.cacheMisses,
		m.snapshotLoadDuration,
		m.snapshotSaveDuration,
		m.consumerEventDuration,
		m.consumerEvents,
		m.consumerLag,
	)

	return m
}

func (m *esMetrics) StoreLoadDuration(aggType string) metrics.Timer {
	return newTimer(m.storeLoadDuration.WithLabelValues(aggType))
}

func (m *esMetrics) StoreAppendDuration(aggType string) metrics.Timer {
	return newTimer(m.storeAppendDuration.WithLabelValues(aggType))
}

func (m *esMetrics) EventsAppended(aggType string, count int) {
	m.eventsAppended.WithLabelValues(aggType).Add(float64(count))
}

func (m *esMetrics) RepoLoadDuration(aggType string) metrics.Timer {
	return newTimer(m.repoLoadDuration.WithLabelValues(aggType))
}

func (m *esMetrics) RepoSaveDuration(aggType string) metrics.Timer {
	return newTimer(m.repoSaveDuration.WithLabelValues(aggType))
}

func (m *esMetrics) ConcurrencyConflict(aggType string) {
	m.concurrencyConflicts.WithLabelValues(aggType).Inc()
}

func (m *esMetrics) CacheHit(aggType string) {
	m.cacheHits.WithLabelValues(aggType).Inc()
}

func (m *esMetrics) CacheMiss(aggType string) {
	m.cacheMisses.WithLabelValues(aggType).Inc()
}

func (m *esMetrics) SnapshotLoadDuration(aggType string) metrics.Timer {
	return newTimer(m.snapshotLoadDuration.WithLabelValues(aggType))
}

func (m *esMetrics) SnapshotSaveDuration(aggType string) metrics.Timer {
	return newTimer(m.snapshotSaveDuration.WithLabelValues(aggType))
}

func (m *esMetrics) ConsumerEventDuration(eventType string, live bool) metrics.Timer {
	return newTimer(m.consumerEventDuration.WithLabelValues(eventType, boolToStr(live)))
}

func (m *esMetrics) ConsumerEventProcessed(eventType string, live bool, ok bool) {
	m.consumerEvents.WithLabelValues(eventType, boolToStr(live), boolToStr(ok)).Inc()
}

func (m *esMetrics) ConsumerLag(consumer string, lag int64) {
	m.consumerLag.WithLabelValues(consumer).Set(float64(lag))
}

func boolToStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

var _ es.ESMetrics = (*esMetrics)(nil)
