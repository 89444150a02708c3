package bundle

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
)

// mainBlobName is promoted to position 0 when loading a directory.
const mainBlobName = "index.html"

// Persist writes the bundle under basePath and returns the path of what it
// wrote: a file for single-blob bundles, a directory otherwise. The name is
// derived from the bundle's content hash.
//
// basePath must already exist. Persisting an empty bundle is a no-op and
// returns an empty path with no error. Any failure removes partial output and
// returns an error matching ErrPersistence.
func (b *Bundle) Persist(fs billy.Filesystem, basePath string) (string, error) {
	if b.Len() == 0 {
		return "", nil
	}

	info, err := fs.Stat(basePath)
	if err != nil {
		return "", persistError(err, "base directory is not accessible", map[string]interface{}{"path": basePath})
	}
	if !info.IsDir() {
		return "", persistError(fmt.Errorf("%s is not a directory", basePath), "invalid base directory", map[string]interface{}{"path": basePath})
	}

	hash, err := b.Hash()
	if err != nil {
		return "", persistError(err, "failed to compute bundle hash", nil)
	}
	dest := fs.Join(basePath, destinationName(hash))

	// Clear whatever a previous persist of the same content left behind.
	if err := util.RemoveAll(fs, dest); err != nil && !os.IsNotExist(err) {
		return "", persistError(err, "failed to clear destination", map[string]interface{}{"path": dest})
	}

	if len(b.blobs) == 1 {
		if err := writeBlob(fs, dest, b.blobs[0]); err != nil {
			return "", persistError(err, "failed to write blob", map[string]interface{}{"path": dest})
		}
		return dest, nil
	}

	if err := b.persistDir(fs, dest); err != nil {
		_ = util.RemoveAll(fs, dest)
		return "", persistError(err, "failed to write bundle directory", map[string]interface{}{"path": dest})
	}
	return dest, nil
}

// persistDir writes every blob as a file inside dir.
func (b *Bundle) persistDir(fs billy.Filesystem, dir string) error {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	seen := make(map[string]bool, len(b.blobs))
	for i, blob := range b.blobs {
		name := entryName(blob.Filename, i)
		if seen[name] {
			return fmt.Errorf("duplicate blob filename %q", name)
		}
		seen[name] = true

		target := fs.Join(dir, filepath.FromSlash(name))
		if parent := filepath.Dir(target); parent != dir {
			if err := fs.MkdirAll(parent, 0o755); err != nil {
				return fmt.Errorf("failed to create directory for %s: %w", name, err)
			}
		}
		if err := writeBlob(fs, target, blob); err != nil {
			return err
		}
	}
	return nil
}

// entryName returns the slash-separated relative name used for a blob inside
// a bundle directory. Names cannot climb out of the directory.
func entryName(filename string, index int) string {
	cleaned := strings.TrimPrefix(path.Clean("/"+filepath.ToSlash(filename)), "/")
	if cleaned == "" || cleaned == "." {
		return fmt.Sprintf("part-%d", index)
	}
	return cleaned
}

// writeBlob copies the blob payload to dest through a temporary file in the
// same directory so a partial file never appears under the final name. The
// temporary name is unique and never clobbers a sibling blob.
func writeBlob(fs billy.Filesystem, dest string, blob *Blob) error {
	tmpFile, err := util.TempFile(fs, filepath.Dir(dest), "."+filepath.Base(dest)+"-")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpPath := tmpFile.Name()

	r, err := blob.Open()
	if err != nil {
		tmpFile.Close()
		_ = fs.Remove(tmpPath)
		return err
	}
	_, err = io.Copy(tmpFile, r)
	r.Close()
	closeErr := tmpFile.Close()
	if err != nil {
		_ = fs.Remove(tmpPath)
		return fmt.Errorf("failed to write temporary file: %w", err)
	}
	if closeErr != nil {
		_ = fs.Remove(tmpPath)
		return fmt.Errorf("failed to close temporary file: %w", closeErr)
	}

	if err := fs.Rename(tmpPath, dest); err != nil {
		_ = fs.Remove(tmpPath)
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}
	return nil
}

// Load rebuilds a bundle from a path written by Persist.
//
// A file becomes a one-blob bundle named after the file. A directory is
// walked recursively and every regular file becomes a blob named by its
// slash-separated path relative to the directory. The first file whose base
// name is index.html (any case) is moved to position 0; the rest keep
// enumeration order. Blobs are file-backed and read lazily.
func Load(fs billy.Filesystem, p string) (*Bundle, error) {
	info, err := fs.Stat(p)
	if err != nil {
		return nil, loadError(err, "bundle path is not accessible", map[string]interface{}{"path": p})
	}

	if !info.IsDir() {
		blob := NewFileBlob(fs, p)
		blob.Filename = filepath.Base(p)
		return New(blob), nil
	}

	var blobs []*Blob
	mainIndex := -1
	err = util.Walk(fs, p, func(filePath string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(p, filePath)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", filePath, err)
		}

		blob := NewFileBlob(fs, filePath)
		blob.Filename = filepath.ToSlash(rel)
		if mainIndex < 0 && strings.EqualFold(fi.Name(), mainBlobName) {
			mainIndex = len(blobs)
		}
		blobs = append(blobs, blob)
		return nil
	})
	if err != nil {
		return nil, loadError(err, "failed to walk bundle directory", map[string]interface{}{"path": p})
	}
	if len(blobs) == 0 {
		return nil, loadError(fmt.Errorf("directory %s contains no files", p), "empty bundle directory", map[string]interface{}{"path": p})
	}

	if mainIndex > 0 {
		main := blobs[mainIndex]
		copy(blobs[1:mainIndex+1], blobs[:mainIndex])
		blobs[0] = main
	}

	return New(blobs...), nil
}

// DiskUsage returns the number of bytes used by the file or directory tree
// at p.
func DiskUsage(fs billy.Filesystem, p string) (int64, error) {
	info, err := fs.Stat(p)
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		return info.Size(), nil
	}

	var size int64
	err = util.Walk(fs, p, func(_ string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !fi.IsDir() {
			size += fi.Size()
		}
		return nil
	})
	return size, err
}
