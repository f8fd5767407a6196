package es

import (
	"github.com/proteanhq/shopstream-sub002/core/metrics"
)

// ESMetrics is the instrumentation surface of the event sourcing runtime.
// Implementations must be safe for concurrent use. The default is a no-op;
// adapters/prometheus provides a real one.
type ESMetrics interface {
	StoreLoadDuration(aggType string) metrics.Timer
	StoreAppendDuration(aggType string) metrics.Timer
	EventsAppended(aggType string, count int)

	RepoLoadDuration(aggType string) metrics.Timer
	RepoSaveDuration(aggType string) metrics.Timer
	ConcurrencyConflict(aggType string)
	CacheHit(aggType string)
	CacheMiss(aggType string)

	SnapshotLoadDuration(aggType string) metrics.Timer
	SnapshotSaveDuration(aggType string) metrics.Timer

	ConsumerEventDuration(eventType string, live bool) metrics.Timer
	ConsumerEventProcessed(eventType string, live bool, ok bool)
	ConsumerLag(consumer string, lag int64)
}

type nopESMetrics struct{}

func (nopESMetrics) StoreLoadDuration(string) metrics.Timer   { return nopTimer{} }
func (nopESMetrics) StoreAppendDuration(string) metrics.Timer { return nopTimer{} }
func (nopESMetrics) EventsAppended(string, int)               {}

func (nopESMetrics) RepoLoadDuration(string) metrics.Timer { return nopTimer{} }
func (nopESMetrics) RepoSaveDuration(string) metrics.Timer { return nopTimer{} }
func (nopESMetrics) ConcurrencyConflict(string)            {}
func (nopESMetrics) CacheHit(string)                       {}
func (nopESMetrics) CacheMiss(string)                      {}

func (nopESMetrics) SnapshotLoadDuration(string) metrics.Timer { return nopTimer{} }
func (nopESMetrics) SnapshotSaveDuration(string) metrics.Timer { return nopTimer{} }

func (nopESMetrics) ConsumerEventDuration(string, bool) metrics.Timer { return nopTimer{} }
func (nopESMetrics) ConsumerEventProcessed(string, bool, bool)        {}
func (nopESMetrics) ConsumerLag(string, int64)                        {}

type nopTimer struct{}

func (nopTimer) ObserveDuration() {}

// NopESMetrics returns an ESMetrics that records nothing.
func NopESMetrics() ESMetrics { return nopESMetrics{} }

// ESMetricsOption injects an ESMetrics implementation into repositories,
// consumers or a whole Env.
type ESMetricsOption struct {
	metrics ESMetrics
}

func (o ESMetricsOption) applyToRepository(opts *repoOpts)       { opts.metrics = o.metrics }
func (o ESMetricsOption) applyToConsumerOpts(opts *consumerOpts) { opts.metrics = o.metrics }
func (o ESMetricsOption) applyToEnv(opts *envOpts)               { opts.metrics = o.metrics }

func WithMetrics(m ESMetrics) ESMetricsOption {
	return ESMetricsOption{metrics: m}
}
