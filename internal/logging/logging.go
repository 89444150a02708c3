// Package logging builds the structured loggers used across the cache and
// keeps the field names of recurring cache events uniform.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Config holds logger settings.
type Config struct {
	// Level is the minimum level: debug, info, warn or error.
	Level string `yaml:"level"`
	// Format is "text" (default) or "json".
	Format string `yaml:"format"`
	// Output defaults to os.Stderr.
	Output io.Writer `yaml:"-"`
}

// New creates a slog logger from cfg. An invalid level falls back to info
// and is reported by ParseLevel.
func New(cfg Config) *slog.Logger {
	level, _ := ParseLevel(cfg.Level)

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return slog.New(handler).With("component", "convcache")
}

// Nop returns a logger that discards everything.
func Nop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// ParseLevel parses a level name. Empty means info.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

// Hit logs a cache hit.
func Hit(ctx context.Context, logger *slog.Logger, key string) {
	logger.DebugContext(ctx, "cache hit", "key", key, "result", "hit")
}

// Miss logs a cache miss.
func Miss(ctx context.Context, logger *slog.Logger, key string, reason string) {
	logger.DebugContext(ctx, "cache miss", "key", key, "reason", reason, "result", "miss")
}

// Eviction logs the removal of one entry by the garbage collector.
func Eviction(ctx context.Context, logger *slog.Logger, key string, sizeKB int64, reason string) {
	logger.DebugContext(ctx, "cache entry evicted", "key", key, "size_kb", sizeKB, "reason", reason)
}

// Cleanup logs the outcome of a garbage collection pass.
func Cleanup(ctx context.Context, logger *slog.Logger, reason string, removed int, reclaimedKB int64, duration time.Duration) {
	logger.InfoContext(ctx, "cache cleanup completed",
		"reason", reason,
		"entries_removed", removed,
		"reclaimed_kb", reclaimedKB,
		"duration_ms", duration.Milliseconds())
}

// Failure logs a cache operation that degraded to "not cached".
func Failure(ctx context.Context, logger *slog.Logger, operation string, key string, err error) {
	logger.WarnContext(ctx, "cache operation failed",
		"operation", operation,
		"key", key,
		"error", err)
}
