// Package metrics registers and records every Prometheus series the
// service exposes: cache hit/miss counters, build duration histograms,
// GC pass counters, watch fanout timing, and namespace/watcher gauges.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector the service records against.
// A single instance is constructed at startup and handed by the service
// to every namespace's coordinator.
type Metrics struct {
	CacheLookups  *prometheus.CounterVec // result: hit, miss
	BuildDuration *prometheus.HistogramVec
	BuildErrors   *prometheus.CounterVec // reason: dag_cycle, depth_exceeded, document_not_found, other

	GCPassDuration *prometheus.HistogramVec // pass: mc_gen_0, mc_gen_1, mc_gen_2, dead_pointers, namespaces, versions
	GCPassEvicted  *prometheus.CounterVec

	WatchFanoutDuration prometheus.Histogram
	WatchDropped        *prometheus.CounterVec // reason
	ActiveWatchers      prometheus.Gauge

	NamespaceCount    *prometheus.GaugeVec // status
	CacheGenerationSize *prometheus.GaugeVec // generation: gen0, gen1, gen2

	TraceSubscribers prometheus.Gauge
}

// New constructs and registers every collector under namespace "mhconf"
// against reg (§4.D/§4.E observability surface). Pass
// prometheus.NewRegistry() in tests to avoid colliding with the process
// default registry across test cases.
func New(reg prometheus.Registerer) *Metrics {
	const ns = "mhconf"
	f := promauto.With(reg)
	return &Metrics{
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "merge_cache", Name: "lookups_total",
			Help: "Merged-config cache lookups by result.",
		}, []string{"result"}),

		BuildDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: "merge_cache", Name: "build_duration_seconds",
			Help:    "Time to fold+expand a document on a cache miss.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"document"}),

		BuildErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "merge_cache", Name: "build_errors_total",
			Help: "Failed merged-config builds by reason.",
		}, []string{"reason"}),

		GCPassDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: "gc", Name: "pass_duration_seconds",
			Help:    "Duration of each independent GC pass.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
		}, []string{"pass"}),

		GCPassEvicted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "gc", Name: "evicted_total",
			Help: "Entries aged out or removed per GC pass.",
		}, []string{"pass"}),

		WatchFanoutDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: "watch", Name: "fanout_duration_seconds",
			Help:    "Time to deliver one event to every subscriber.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),

		WatchDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "watch", Name: "dropped_total",
			Help: "Watch events dropped before delivery, by reason.",
		}, []string{"reason"}),

		ActiveWatchers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "watch", Name: "active_watchers",
			Help: "Currently registered watch subscribers.",
		}),

		NamespaceCount: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Name: "namespaces", Help: "Namespaces by lifecycle status.",
		}, []string{"status"}),

		CacheGenerationSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "merge_cache", Name: "generation_size",
			Help: "Entries held in each merged-config cache generation.",
		}, []string{"generation"}),

		TraceSubscribers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "trace", Name: "subscribers",
			Help: "Active trace-bus subscribers.",
		}),
	}
}

// ObserveCacheHit/Miss record a merge-cache lookup outcome.
func (m *Metrics) ObserveCacheHit()  { m.CacheLookups.WithLabelValues("hit").Inc() }
func (m *Metrics) ObserveCacheMiss() { m.CacheLookups.WithLabelValues("miss").Inc() }

// ObserveBuild records a completed (successful) build's duration.
func (m *Metrics) ObserveBuild(document string, dur time.Duration) {
	m.BuildDuration.WithLabelValues(document).Observe(dur.Seconds())
}

// IncBuildError records a build failure by reason.
func (m *Metrics) IncBuildError(reason string) { m.BuildErrors.WithLabelValues(reason).Inc() }

// ObserveGCPass records one GC pass's duration and eviction count.
func (m *Metrics) ObserveGCPass(pass string, dur time.Duration, evicted int) {
	m.GCPassDuration.WithLabelValues(pass).Observe(dur.Seconds())
	m.GCPassEvicted.WithLabelValues(pass).Add(float64(evicted))
}

// ObserveWatchFanout implements watchbus.Metrics.
func (m *Metrics) ObserveWatchFanout(listeners int, dur time.Duration) {
	m.WatchFanoutDuration.Observe(dur.Seconds())
}

// IncWatchDropped implements watchbus.Metrics.
func (m *Metrics) IncWatchDropped(reason string) { m.WatchDropped.WithLabelValues(reason).Inc() }

// SetActiveWatchers implements watchbus.Metrics.
func (m *Metrics) SetActiveWatchers(n int) { m.ActiveWatchers.Set(float64(n)) }

// SetNamespaceCount records how many namespaces are in a given status.
func (m *Metrics) SetNamespaceCount(status string, n int) {
	m.NamespaceCount.WithLabelValues(status).Set(float64(n))
}

// SetCacheGenerationSizes publishes the three merge-cache tier sizes.
func (m *Metrics) SetCacheGenerationSizes(gen0, gen1, gen2 int) {
	m.CacheGenerationSize.WithLabelValues("gen0").Set(float64(gen0))
	m.CacheGenerationSize.WithLabelValues("gen1").Set(float64(gen1))
	m.CacheGenerationSize.WithLabelValues("gen2").Set(float64(gen2))
}

// SetTraceSubscribers publishes the trace-bus subscriber count.
func (m *Metrics) SetTraceSubscribers(n int) { m.TraceSubscribers.Set(float64(n)) }
