package store

import (
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/jmgilman/go/convcache/bundle"
	"github.com/jmgilman/go/errors"
)

// Entry tracks one cached conversion result and its on-disk artifact.
//
// An entry holds its bundle only until Persist is called; afterwards the
// data lives on disk and Restore reloads it. Last access is kept atomically
// so concurrent restores race last-write-wins.
type Entry struct {
	fs     billy.Filesystem
	bundle *bundle.Bundle
	meta   bundle.Metadata

	persisted bool
	path      string
	sizeKB    int64

	lastAccess atomic.Int64 // unix nanoseconds
}

// NewEntry wraps b and snapshots its main blob metadata, which the on-disk
// form does not preserve.
func NewEntry(fs billy.Filesystem, b *bundle.Bundle) *Entry {
	e := &Entry{fs: fs, bundle: b}
	if main := b.Main(); main != nil {
		e.meta = main.Metadata()
	}
	e.touch()
	return e
}

// Persist writes the bundle under basePath and records where it went and
// how much disk it uses. The in-memory bundle is released whether or not
// persistence succeeds.
func (e *Entry) Persist(basePath string) error {
	b := e.bundle
	e.bundle = nil

	path, err := b.Persist(e.fs, basePath)
	if err != nil {
		return err
	}
	if path == "" {
		return ErrNothingToPersist
	}

	size, err := bundle.DiskUsage(e.fs, path)
	if err != nil {
		_ = util.RemoveAll(e.fs, path)
		return errors.WrapWithContext(err, errors.CodeInternal, "failed to measure persisted bundle", map[string]interface{}{
			"path": path,
		})
	}

	e.path = path
	e.sizeKB = size / 1024
	e.persisted = true
	return nil
}

// Restore reloads the bundle from disk and re-applies the main blob metadata
// captured at creation. It returns nil without error if the entry was never
// persisted.
func (e *Entry) Restore() (*bundle.Bundle, error) {
	if !e.persisted {
		return nil, nil
	}

	b, err := bundle.Load(e.fs, e.path)
	if err != nil {
		return nil, err
	}
	if main := b.Main(); main != nil {
		main.Apply(e.meta)
	}

	e.touch()
	return b, nil
}

// Relocate copies the artifact into dir under the same name and points the
// entry at the copy. The original is left for the caller to delete. On
// failure the partial copy is removed and the entry is unchanged.
func (e *Entry) Relocate(dir string) error {
	if !e.persisted {
		return nil
	}

	dest := e.fs.Join(dir, filepath.Base(e.path))
	if dest == e.path {
		return nil
	}
	if err := util.RemoveAll(e.fs, dest); err != nil && !os.IsNotExist(err) {
		return errors.WrapWithContext(err, errors.CodeInternal, "failed to clear artifact destination", map[string]interface{}{
			"path": dest,
		})
	}
	if err := copyTree(e.fs, e.path, dest); err != nil {
		_ = util.RemoveAll(e.fs, dest)
		return errors.WrapWithContext(err, errors.CodeInternal, "failed to copy cache artifact", map[string]interface{}{
			"from": e.path,
			"to":   dest,
		})
	}
	e.path = dest
	return nil
}

// copyTree copies the file or directory tree at src to dst.
func copyTree(fs billy.Filesystem, src, dst string) error {
	return util.Walk(fs, src, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := fs.Join(dst, rel)
		if fi.IsDir() {
			return fs.MkdirAll(target, 0o755)
		}
		return copyFile(fs, p, target)
	})
}

func copyFile(fs billy.Filesystem, src, dst string) error {
	in, err := fs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := fs.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Remove deletes the on-disk artifact. It is safe to call repeatedly.
func (e *Entry) Remove() error {
	if !e.persisted {
		return nil
	}
	if err := util.RemoveAll(e.fs, e.path); err != nil && !os.IsNotExist(err) {
		return errors.WrapWithContext(err, errors.CodeInternal, "failed to remove cache artifact", map[string]interface{}{
			"path": e.path,
		})
	}
	return nil
}

// DiskSpaceUsageKB returns the artifact size in KB, truncated.
func (e *Entry) DiskSpaceUsageKB() int64 {
	return e.sizeKB
}

// LastAccessed returns the time of the last creation, lookup or restore.
func (e *Entry) LastAccessed() time.Time {
	return time.Unix(0, e.lastAccess.Load())
}

// Persisted reports whether the entry has an artifact on disk.
func (e *Entry) Persisted() bool {
	return e.persisted
}

// Path returns the artifact path, or "" if not persisted.
func (e *Entry) Path() string {
	return e.path
}

// Metadata returns the main blob metadata captured at creation.
func (e *Entry) Metadata() bundle.Metadata {
	return e.meta
}

func (e *Entry) touch() {
	e.lastAccess.Store(time.Now().UnixNano())
}

// setLastAccessed overrides the access time. Used by tests to build a
// deterministic eviction order.
func (e *Entry) setLastAccessed(t time.Time) {
	e.lastAccess.Store(t.UnixNano())
}
