package store

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/jmgilman/go/convcache/bundle"
	"github.com/jmgilman/go/convcache/internal/logging"
	"github.com/jmgilman/go/convcache/internal/metrics"
	"github.com/jmgilman/go/errors"
)

// Store is the in-memory index of cached conversion results.
//
// A single reader/writer lock guards the index. Lookups share the read lock;
// Add, Remove and Clear take the write lock and hold it for the whole disk
// operation, trading throughput for simplicity.
type Store struct {
	fs      billy.Filesystem
	root    string
	layout  Layout
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu      sync.RWMutex
	entries map[string]*Entry
	totalKB int64

	hits atomic.Int64
}

// stagingPrefix names the directories that hold a replacement artifact until
// it is swapped in.
const stagingPrefix = ".staging-"

// EntryInfo is a point-in-time view of one entry, used for eviction.
type EntryInfo struct {
	Key          string
	LastAccessed time.Time
	SizeKB       int64
}

// Option configures a Store.
type Option func(*Store)

// WithLayout sets the shard directory layout.
func WithLayout(layout Layout) Option {
	return func(s *Store) {
		s.layout = layout
	}
}

// WithLogger sets the logger used for best-effort failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// New creates a store rooted at root on fs, creating the directory if needed.
func New(fs billy.Filesystem, root string, opts ...Option) (*Store, error) {
	s := &Store{
		fs:      fs,
		root:    filepath.Clean(root),
		layout:  DefaultLayout,
		logger:  logging.Nop(),
		entries: make(map[string]*Entry),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.layout.Segments < 0 || s.layout.Length <= 0 {
		return nil, errors.New(errors.CodeInvalidConfig,
			fmt.Sprintf("invalid shard layout: %d segments of length %d", s.layout.Segments, s.layout.Length))
	}
	if err := fs.MkdirAll(s.root, 0o755); err != nil {
		return nil, errors.Wrapf(err, errors.CodeInternal, "failed to create cache root %s", s.root)
	}

	return s, nil
}

// Root returns the cache root directory.
func (s *Store) Root() string {
	return s.root
}

// ShardPath returns the directory where the artifact for key is stored.
func (s *Store) ShardPath(key string) string {
	parts := append([]string{s.root}, s.layout.Shards(key)...)
	parts = append(parts, leaf(key))
	return s.fs.Join(parts...)
}

// Add persists b and indexes it under key. If persistence fails nothing is
// indexed and the returned error matches bundle.ErrPersistence or
// ErrNothingToPersist; callers treat it as "not cached".
//
// Replacing an existing key persists the new bundle into a staging directory
// first, so a failure leaves the previous entry cached and intact. This also
// covers re-adding a bundle whose blobs are backed by the artifact it
// replaces.
func (s *Store) Add(key string, b *bundle.Bundle) error {
	if key == "" {
		return ErrEmptyKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.ShardPath(key)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		s.metrics.RecordPersistFailure()
		return errors.WrapWithContext(fmt.Errorf("%w: %w", bundle.ErrPersistence, err), errors.CodeInternal,
			"failed to create shard directory", map[string]interface{}{"path": dir})
	}

	previous, replacing := s.entries[key]
	target := dir
	if replacing {
		staging, err := util.TempDir(s.fs, dir, stagingPrefix)
		if err != nil {
			s.metrics.RecordPersistFailure()
			return errors.WrapWithContext(fmt.Errorf("%w: %w", bundle.ErrPersistence, err), errors.CodeInternal,
				"failed to create staging directory", map[string]interface{}{"path": dir})
		}
		target = staging
	}

	entry := NewEntry(s.fs, b)
	start := time.Now()
	err := entry.Persist(target)
	s.metrics.ObserveLatency(metrics.OpPersist, time.Since(start))
	if err != nil {
		s.metrics.RecordPersistFailure()
		if replacing {
			_ = util.RemoveAll(s.fs, target)
		} else {
			s.pruneEmptyDirs(dir)
		}
		return err
	}

	if replacing {
		s.swapLocked(key, previous, entry, dir, target)
	}

	s.entries[key] = entry
	s.totalKB += entry.DiskSpaceUsageKB()
	s.metrics.SetUsage(len(s.entries), s.totalKB)
	return nil
}

// swapLocked retires previous and brings the staged artifact of next into
// dir. If that fails next stays valid at its staging path. Callers must hold
// the write lock.
func (s *Store) swapLocked(key string, previous, next *Entry, dir, staging string) {
	if err := previous.Remove(); err != nil {
		s.logger.Warn("failed to remove replaced cache entry", "key", key, "error", err)
	}
	delete(s.entries, key)
	s.totalKB -= previous.DiskSpaceUsageKB()

	if err := next.Relocate(dir); err != nil {
		s.logger.Warn("failed to relocate staged cache entry", "key", key, "path", next.Path(), "error", err)
		return
	}
	if err := util.RemoveAll(s.fs, staging); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("failed to remove staging directory", "key", key, "path", staging, "error", err)
	}
}

// Remove deletes the entry for key and its artifact. Removing a missing key
// is a no-op.
func (s *Store) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(key)
}

// removeLocked drops key from the index even if its artifact cannot be
// deleted. Callers must hold the write lock.
func (s *Store) removeLocked(key string) error {
	entry, ok := s.entries[key]
	if !ok {
		return nil
	}

	err := entry.Remove()
	delete(s.entries, key)
	s.totalKB -= entry.DiskSpaceUsageKB()
	s.metrics.SetUsage(len(s.entries), s.totalKB)
	s.pruneEmptyDirs(s.ShardPath(key))
	return err
}

// pruneEmptyDirs removes dir and its empty parents, stopping at the root.
func (s *Store) pruneEmptyDirs(dir string) {
	for dir != s.root && len(dir) > len(s.root) {
		infos, err := s.fs.ReadDir(dir)
		if err != nil || len(infos) > 0 {
			return
		}
		if err := s.fs.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

// Get restores the bundle cached under key. A miss returns nil without error
// and without touching the hit counter.
func (s *Store) Get(key string) (*bundle.Bundle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[key]
	if !ok {
		s.metrics.RecordMiss()
		return nil, nil
	}

	s.incrementHits()
	s.metrics.RecordHit()

	start := time.Now()
	b, err := entry.Restore()
	s.metrics.ObserveLatency(metrics.OpRestore, time.Since(start))
	if err != nil {
		s.metrics.RecordRestoreFailure()
		return nil, err
	}
	return b, nil
}

// incrementHits adds one hit, wrapping to zero instead of going negative.
func (s *Store) incrementHits() {
	for {
		current := s.hits.Load()
		next := current + 1
		if next < 0 {
			next = 0
		}
		if s.hits.CompareAndSwap(current, next) {
			return
		}
	}
}

// Hits returns the number of cache hits since the store was created.
func (s *Store) Hits() int64 {
	return s.hits.Load()
}

// Entry returns the entry for key, or nil.
func (s *Store) Entry(key string) *Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[key]
}

// Keys returns a sorted snapshot of the indexed keys.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.entries))
	for key := range s.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of indexed entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// SizeKB returns the total disk usage of all entries in KB.
func (s *Store) SizeKB() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totalKB
}

// Snapshot returns the key, access time and size of every entry.
func (s *Store) Snapshot() []EntryInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]EntryInfo, 0, len(s.entries))
	for key, entry := range s.entries {
		infos = append(infos, EntryInfo{
			Key:          key,
			LastAccessed: entry.LastAccessed(),
			SizeKB:       entry.DiskSpaceUsageKB(),
		})
	}
	return infos
}

// Clear empties the index and deletes everything under the cache root. The
// root is recreated so the store stays usable.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]*Entry)
	s.totalKB = 0
	s.metrics.SetUsage(0, 0)

	if err := util.RemoveAll(s.fs, s.root); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, errors.CodeInternal, "failed to remove cache root %s", s.root)
	}
	if err := s.fs.MkdirAll(s.root, 0o755); err != nil {
		return errors.Wrapf(err, errors.CodeInternal, "failed to recreate cache root %s", s.root)
	}
	return nil
}
