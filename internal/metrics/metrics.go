// Package metrics exposes cache counters to Prometheus and tracks operation
// latencies with DDSketch.
//
// All methods are safe to call on a nil *Metrics, which records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "convcache"

// Operation names used for latency tracking.
const (
	OpPersist = "persist"
	OpRestore = "restore"
	OpGC      = "gc"
)

// Metrics groups the cache collectors.
type Metrics struct {
	Hits            prometheus.Counter
	Misses          prometheus.Counter
	PersistFailures prometheus.Counter
	RestoreFailures prometheus.Counter
	GCCalls         prometheus.Counter
	GCRuns          prometheus.Counter
	Evictions       prometheus.Counter
	Entries         prometheus.Gauge
	SizeKB          prometheus.Gauge

	latency *LatencyTracker
}

// New creates the collectors and registers them with reg. A nil reg skips
// registration, which is what tests and embedded uses without a metrics
// endpoint want.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "hits_total",
			Help: "Number of lookups served from the cache.",
		}),
		Misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "misses_total",
			Help: "Number of lookups that found no entry.",
		}),
		PersistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "persist_failures_total",
			Help: "Number of results that could not be written to disk.",
		}),
		RestoreFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "restore_failures_total",
			Help: "Number of entries that could not be read back from disk.",
		}),
		GCCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "gc_calls_total",
			Help: "Number of garbage collection decisions.",
		}),
		GCRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "gc_runs_total",
			Help: "Number of garbage collection passes that evicted entries.",
		}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "evictions_total",
			Help: "Number of entries removed by garbage collection.",
		}),
		Entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "entries",
			Help: "Number of entries in the cache index.",
		}),
		SizeKB: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "size_kilobytes",
			Help: "Disk space used by cached results, in KB.",
		}),
		latency: NewLatencyTracker(0.01),
	}

	if reg != nil {
		for _, c := range m.collectors() {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Hits, m.Misses, m.PersistFailures, m.RestoreFailures,
		m.GCCalls, m.GCRuns, m.Evictions, m.Entries, m.SizeKB,
	}
}

// RecordHit counts a cache hit.
func (m *Metrics) RecordHit() {
	if m != nil {
		m.Hits.Inc()
	}
}

// RecordMiss counts a cache miss.
func (m *Metrics) RecordMiss() {
	if m != nil {
		m.Misses.Inc()
	}
}

// RecordPersistFailure counts a failed insertion.
func (m *Metrics) RecordPersistFailure() {
	if m != nil {
		m.PersistFailures.Inc()
	}
}

// RecordRestoreFailure counts a failed restore.
func (m *Metrics) RecordRestoreFailure() {
	if m != nil {
		m.RestoreFailures.Inc()
	}
}

// RecordGCCall counts a garbage collection decision.
func (m *Metrics) RecordGCCall() {
	if m != nil {
		m.GCCalls.Inc()
	}
}

// RecordGCRun counts a garbage collection pass and its evictions.
func (m *Metrics) RecordGCRun(evicted int) {
	if m != nil {
		m.GCRuns.Inc()
		m.Evictions.Add(float64(evicted))
	}
}

// SetUsage updates the entry count and disk usage gauges.
func (m *Metrics) SetUsage(entries int, sizeKB int64) {
	if m != nil {
		m.Entries.Set(float64(entries))
		m.SizeKB.Set(float64(sizeKB))
	}
}

// ObserveLatency records how long an operation took.
func (m *Metrics) ObserveLatency(operation string, d time.Duration) {
	if m != nil {
		m.latency.Record(operation, d)
	}
}

// Latency returns the latency tracker, or nil for a nil Metrics.
func (m *Metrics) Latency() *LatencyTracker {
	if m == nil {
		return nil
	}
	return m.latency
}
