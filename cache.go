package convcache

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/jmgilman/go/convcache/bundle"
	"github.com/jmgilman/go/convcache/gc"
	"github.com/jmgilman/go/convcache/internal/logging"
	"github.com/jmgilman/go/convcache/internal/metrics"
	"github.com/jmgilman/go/convcache/store"
	"github.com/jmgilman/go/errors"
	"go.opentelemetry.io/otel/trace"
)

// Converter turns a source bundle into a result bundle. Name identifies the
// conversion and becomes the first part of the cache key.
type Converter interface {
	Name() string
	Convert(ctx context.Context, source *bundle.Bundle, params Parameters) (*bundle.Bundle, error)
}

// Cache stores conversion results on disk, keyed by converter, source
// content and parameters, and keeps them under a disk quota.
//
// Cache failures never surface as conversion failures: a result that cannot
// be stored is simply not cached and a result that cannot be restored is a
// miss. Only key derivation errors are returned, since caching under a wrong
// key could serve the wrong result.
type Cache struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer

	store     *store.Store
	manager   *gc.Manager
	scheduler *gc.Scheduler

	stopGC    func()
	closeOnce sync.Once
}

// Stats is a snapshot of cache activity.
type Stats struct {
	Entries   int
	SizeKB    int64
	QuotaKB   int64
	Hits      int64
	GCCalls   int64
	GCRuns    int64
	Evictions int64
	GCRunning bool
	Latency   []LatencyStats
}

// LatencyStats summarizes the duration of one cache operation, in
// milliseconds.
type LatencyStats struct {
	Operation string
	Count     int64
	P50       float64
	P90       float64
	P99       float64
	Max       float64
}

// New creates a cache from cfg.
//
// Example:
//
//	cfg := convcache.DefaultConfig()
//	cfg.Root = "/var/cache/convcache"
//	cache, err := convcache.New(cfg)
//	if err != nil {
//	    return err
//	}
//	defer cache.Close()
func New(cfg Config, opts ...Option) (*Cache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	root := cfg.Root
	fs := o.fs
	if fs == nil {
		fs = osfs.New("/")
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, errors.Wrapf(err, errors.CodeInvalidConfig, "failed to resolve cache root %s", root)
		}
		root = abs
	}
	cfg.Root = root

	logger := o.logger
	if logger == nil {
		logger = logging.New(cfg.Log.loggingConfig())
	}

	m, err := metrics.New(o.registerer)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidConfig, "failed to register cache metrics")
	}

	if cfg.PurgeOnStart {
		if err := util.RemoveAll(fs, root); err != nil && !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, errors.CodeInternal, "failed to purge cache root %s", root)
		}
		logger.Debug("purged cache root", "root", root)
	}

	s, err := store.New(fs, root,
		store.WithLayout(cfg.Layout),
		store.WithLogger(logger),
		store.WithMetrics(m))
	if err != nil {
		return nil, err
	}

	c := &Cache{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		tracer:  newTracer(o.tracer),
		store:   s,
		manager: gc.NewManager(s, cfg.QuotaKB, gc.WithLogger(logger), gc.WithMetrics(m)),
	}

	if cfg.QuotaKB <= 0 {
		logger.Warn("cache quota is not positive, every collection will evict all entries",
			"quota_kb", cfg.QuotaKB)
	}

	if cfg.EnableGC && !o.disableGC {
		if err := c.startGC(); err != nil {
			return nil, err
		}
	}

	return c, nil
}

func (c *Cache) startGC() error {
	interval, err := gc.IntervalFromConfig(c.cfg.GCInterval)
	if err != nil {
		return err
	}

	var opts []gc.SchedulerOption
	if c.cfg.LockFile != "" {
		opts = append(opts, gc.WithLockFile(c.cfg.LockFile))
	}

	scheduler, err := gc.NewScheduler(c.manager, interval, opts...)
	if err != nil {
		return err
	}
	stop, err := scheduler.Start(context.Background())
	if err != nil {
		return err
	}

	c.scheduler = scheduler
	c.stopGC = stop
	c.logger.Debug("cache gc started", "interval", interval.String(), "quota_kb", c.cfg.QuotaKB)
	return nil
}

// Lookup returns the cached result of converting source with converterName
// and params, or nil on a miss.
func (c *Cache) Lookup(ctx context.Context, converterName string, source Source, params Parameters) (b *bundle.Bundle, err error) {
	ctx, span := c.startSpan(ctx, "convcache.Lookup", converterName)
	defer func() { endSpan(span, err) }()

	key, err := ComputeKey(converterName, source, params)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attrKey.String(key))
	return c.lookup(ctx, key), nil
}

func (c *Cache) lookup(ctx context.Context, key string) *bundle.Bundle {
	span := trace.SpanFromContext(ctx)

	b, err := c.store.Get(key)
	if err != nil {
		logging.Failure(ctx, c.logger, "restore", key, err)
		if err := c.store.Remove(key); err != nil {
			logging.Failure(ctx, c.logger, "remove", key, err)
		}
		logging.Miss(ctx, c.logger, key, "restore_failed")
		span.SetAttributes(attrResult.String("miss"))
		span.AddEvent("restore failed", trace.WithAttributes(attrKey.String(key)))
		return nil
	}
	if b == nil {
		logging.Miss(ctx, c.logger, key, "not_found")
		span.SetAttributes(attrResult.String("miss"))
		return nil
	}

	logging.Hit(ctx, c.logger, key)
	span.SetAttributes(attrResult.String("hit"))
	return b
}

// Store caches result as the outcome of converting source with
// converterName and params. Failing to persist is logged and otherwise
// ignored.
func (c *Cache) Store(ctx context.Context, converterName string, source Source, params Parameters, result *bundle.Bundle) (err error) {
	ctx, span := c.startSpan(ctx, "convcache.Store", converterName)
	defer func() { endSpan(span, err) }()

	key, err := ComputeKey(converterName, source, params)
	if err != nil {
		return err
	}
	span.SetAttributes(attrKey.String(key))
	c.put(ctx, key, result)
	return nil
}

func (c *Cache) put(ctx context.Context, key string, result *bundle.Bundle) {
	if err := c.store.Add(key, result); err != nil {
		logging.Failure(ctx, c.logger, "persist", key, err)
		trace.SpanFromContext(ctx).AddEvent("persist failed", trace.WithAttributes(attrKey.String(key)))
	}
}

// Convert returns the cached result for source, or runs conv and caches its
// result. Cache problems, including a source whose hash cannot be computed,
// only cost a cache bypass. Errors from conv are returned unchanged.
//
// Example:
//
//	result, err := cache.Convert(ctx, pdfConverter, source, convcache.Parameters{
//	    {Name: "dpi", Value: 300},
//	})
func (c *Cache) Convert(ctx context.Context, conv Converter, source *bundle.Bundle, params Parameters) (result *bundle.Bundle, err error) {
	ctx, span := c.startSpan(ctx, "convcache.Convert", conv.Name())
	defer func() { endSpan(span, err) }()

	key, err := ComputeKey(conv.Name(), source, params)
	if err != nil {
		c.logger.WarnContext(ctx, "bypassing cache", "converter", conv.Name(), "error", err)
		span.SetAttributes(attrResult.String("bypass"))
		return conv.Convert(ctx, source, params)
	}
	span.SetAttributes(attrKey.String(key))

	if b := c.lookup(ctx, key); b != nil {
		return b, nil
	}

	result, err = conv.Convert(ctx, source, params)
	if err != nil {
		return nil, err
	}
	c.put(ctx, key, result)
	return result, nil
}

// Flush removes every cached result.
func (c *Cache) Flush() error {
	return c.store.Clear()
}

// GC runs a collection now if the cache has reached its quota and reports
// whether one ran.
func (c *Cache) GC(ctx context.Context) bool {
	return c.manager.GCIfNeeded(ctx)
}

// Stats returns a snapshot of cache activity.
func (c *Cache) Stats() Stats {
	stats := Stats{
		Entries:   c.store.Len(),
		SizeKB:    c.store.SizeKB(),
		QuotaKB:   c.cfg.QuotaKB,
		Hits:      c.store.Hits(),
		GCCalls:   c.manager.Calls(),
		GCRuns:    c.manager.Runs(),
		Evictions: c.manager.Evictions(),
		GCRunning: c.scheduler != nil && c.scheduler.Running(),
	}
	for _, s := range c.metrics.Latency().GetAllStats() {
		stats.Latency = append(stats.Latency, LatencyStats{
			Operation: s.Operation,
			Count:     s.Count,
			P50:       s.P50,
			P90:       s.P90,
			P99:       s.P99,
			Max:       s.Max,
		})
	}
	return stats
}

// Root returns the cache root directory.
func (c *Cache) Root() string {
	return c.store.Root()
}

// Close stops the background collector. Cached results stay on disk.
func (c *Cache) Close() error {
	c.closeOnce.Do(func() {
		if c.stopGC != nil {
			c.stopGC()
		}
	})
	return nil
}
