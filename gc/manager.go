// Package gc keeps a cache store under its disk quota by evicting the least
// recently accessed entries, either on demand or from a background loop.
package gc

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmgilman/go/convcache/internal/logging"
	"github.com/jmgilman/go/convcache/internal/metrics"
	"github.com/jmgilman/go/convcache/store"
)

// Eviction reasons reported in logs.
const (
	ReasonQuotaExceeded    = "quota_exceeded"
	ReasonQuotaNonPositive = "quota_non_positive"
)

// Index is the part of a cache store the garbage collector needs.
// *store.Store satisfies it.
type Index interface {
	Snapshot() []store.EntryInfo
	Remove(key string) error
	SizeKB() int64
}

// Result describes one garbage collection pass.
type Result struct {
	Evicted     int
	ReclaimedKB int64
	Duration    time.Duration
}

// Manager decides when to collect and which entries to evict.
type Manager struct {
	index   Index
	quotaKB int64
	logger  *slog.Logger
	metrics *metrics.Metrics

	// passMu serializes passes started by the scheduler and by callers.
	passMu sync.Mutex

	calls     atomic.Int64
	runs      atomic.Int64
	evictions atomic.Int64
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(mt *metrics.Metrics) ManagerOption {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// NewManager creates a manager enforcing quotaKB over index. A quota of zero
// or less means every pass evicts everything.
func NewManager(index Index, quotaKB int64, opts ...ManagerOption) *Manager {
	m := &Manager{
		index:   index,
		quotaKB: quotaKB,
		logger:  logging.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// QuotaKB returns the configured quota.
func (m *Manager) QuotaKB() int64 {
	return m.quotaKB
}

// CacheSizeKB returns the current total size of the indexed entries.
func (m *Manager) CacheSizeKB() int64 {
	return m.index.SizeKB()
}

// GCIfNeeded runs a pass if the cache has reached its quota and reports
// whether it did.
func (m *Manager) GCIfNeeded(ctx context.Context) bool {
	m.calls.Add(1)
	m.metrics.RecordGCCall()

	size := m.CacheSizeKB()
	if size < m.quotaKB {
		return false
	}

	delta := size - m.quotaKB
	reason := ReasonQuotaExceeded
	if m.quotaKB <= 0 {
		delta = size
		reason = ReasonQuotaNonPositive
		m.logger.WarnContext(ctx, "cache quota is not positive, evicting every entry",
			"quota_kb", m.quotaKB,
			"size_kb", size,
			"reason", reason)
	}

	m.run(ctx, delta, reason)
	return true
}

// DoGC evicts entries oldest access first until strictly more than deltaKB
// has been reclaimed or nothing is left. It may overshoot by the size of the
// last evicted entry.
func (m *Manager) DoGC(ctx context.Context, deltaKB int64) Result {
	return m.run(ctx, deltaKB, ReasonQuotaExceeded)
}

func (m *Manager) run(ctx context.Context, deltaKB int64, reason string) Result {
	m.passMu.Lock()
	defer m.passMu.Unlock()

	m.runs.Add(1)
	start := time.Now()

	candidates := m.index.Snapshot()
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if !a.LastAccessed.Equal(b.LastAccessed) {
			return a.LastAccessed.Before(b.LastAccessed)
		}
		return a.Key < b.Key
	})

	var result Result
	for _, c := range candidates {
		if result.ReclaimedKB > deltaKB {
			break
		}
		if ctx.Err() != nil {
			m.logger.DebugContext(ctx, "cache cleanup interrupted", "error", ctx.Err())
			break
		}

		if err := m.index.Remove(c.Key); err != nil {
			logging.Failure(ctx, m.logger, "evict", c.Key, err)
			continue
		}
		result.Evicted++
		result.ReclaimedKB += c.SizeKB
		logging.Eviction(ctx, m.logger, c.Key, c.SizeKB, reason)
	}

	result.Duration = time.Since(start)
	m.evictions.Add(int64(result.Evicted))
	m.metrics.RecordGCRun(result.Evicted)
	m.metrics.ObserveLatency(metrics.OpGC, result.Duration)
	logging.Cleanup(ctx, m.logger, reason, result.Evicted, result.ReclaimedKB, result.Duration)

	return result
}

// Calls returns how many times GCIfNeeded has been invoked.
func (m *Manager) Calls() int64 {
	return m.calls.Load()
}

// Runs returns how many passes have run.
func (m *Manager) Runs() int64 {
	return m.runs.Load()
}

// Evictions returns how many entries have been evicted in total.
func (m *Manager) Evictions() int64 {
	return m.evictions.Load()
}
