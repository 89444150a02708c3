package convcache

import (
	"log/slog"

	"github.com/go-git/go-billy/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
)

// Option configures a Cache.
type Option func(*options)

type options struct {
	fs         billy.Filesystem
	logger     *slog.Logger
	registerer prometheus.Registerer
	tracer     trace.TracerProvider
	disableGC  bool
}

// WithFilesystem sets the filesystem holding the cache root. Defaults to the
// local filesystem.
//
// Example:
//
//	cache, _ := convcache.New(cfg, convcache.WithFilesystem(memfs.New()))
func WithFilesystem(fs billy.Filesystem) Option {
	return func(o *options) {
		o.fs = fs
	}
}

// WithLogger overrides the logger built from Config.Log.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithRegisterer registers the cache metrics with reg.
//
// Example:
//
//	cache, _ := convcache.New(cfg, convcache.WithRegisterer(prometheus.DefaultRegisterer))
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithoutGC disables the background collector regardless of
// Config.EnableGC. Collections can still be run with Cache.GC.
func WithoutGC() Option {
	return func(o *options) {
		o.disableGC = true
	}
}

// WithTracerProvider sets the provider used to trace Lookup, Store and
// Convert. Defaults to the global otel provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tracer = tp
	}
}
