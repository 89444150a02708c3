package store

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/jmgilman/go/convcache/bundle"
	"github.com/jmgilman/go/convcache/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// failingFS refuses to create files, so every persist fails.
type failingFS struct {
	billy.Filesystem
}

func (f failingFS) Create(filename string) (billy.File, error) {
	return nil, errors.New("disk full")
}

func (f failingFS) OpenFile(filename string, flag int, perm os.FileMode) (billy.File, error) {
	if flag&os.O_CREATE != 0 {
		return nil, errors.New("disk full")
	}
	return f.Filesystem.OpenFile(filename, flag, perm)
}

// toggleFS fails file creation while broken is set.
type toggleFS struct {
	billy.Filesystem
	broken *bool
}

func (f toggleFS) Create(filename string) (billy.File, error) {
	return f.OpenFile(filename, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o666)
}

func (f toggleFS) OpenFile(filename string, flag int, perm os.FileMode) (billy.File, error) {
	if *f.broken && flag&os.O_CREATE != 0 {
		return nil, errors.New("disk full")
	}
	return f.Filesystem.OpenFile(filename, flag, perm)
}

func newTestStore(t *testing.T, opts ...Option) (*Store, billy.Filesystem) {
	t.Helper()
	fs := memfs.New()
	s, err := New(fs, "/cache", opts...)
	require.NoError(t, err)
	return s, fs
}

func sizedBundle(name string, size int) *bundle.Bundle {
	return bundle.New(bundle.NewBlob(make([]byte, size), name))
}

func TestStore_AddGet(t *testing.T) {
	s, _ := newTestStore(t)

	blob := bundle.NewBlob([]byte("converted"), "out.txt")
	blob.MimeType = "text/plain"
	blob.Digest = "sha256:" + strings.Repeat("cd", 32)
	require.NoError(t, s.Add("key-1", bundle.New(blob)))

	assert.Equal(t, 1, s.Len())
	assert.Equal(t, int64(0), s.Hits())

	b, err := s.Get("key-1")
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, "out.txt", b.Main().Filename)
	assert.Equal(t, "text/plain", b.Main().MimeType)
	assert.Equal(t, "sha256:"+strings.Repeat("cd", 32), b.Main().Digest)

	data, err := b.Main().Bytes()
	require.NoError(t, err)
	assert.Equal(t, "converted", string(data))
	assert.Equal(t, int64(1), s.Hits())
}

func TestStore_MissDoesNotCountHit(t *testing.T) {
	s, _ := newTestStore(t)

	b, err := s.Get("missing")
	require.NoError(t, err)
	assert.Nil(t, b)
	assert.Equal(t, int64(0), s.Hits())
}

func TestStore_HitCounterWraps(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.Add("k", sizedBundle("a.bin", 10)))

	s.hits.Store(math.MaxInt64)
	_, err := s.Get("k")
	require.NoError(t, err)
	assert.Equal(t, int64(0), s.Hits())
}

func TestStore_EmptyKey(t *testing.T) {
	s, _ := newTestStore(t)
	assert.ErrorIs(t, s.Add("", sizedBundle("a.bin", 1)), ErrEmptyKey)
}

func TestStore_SizeAccounting(t *testing.T) {
	s, _ := newTestStore(t)

	require.NoError(t, s.Add("a", sizedBundle("a.bin", 10*1024)))
	require.NoError(t, s.Add("b", sizedBundle("b.bin", 20*1024+512)))
	assert.Equal(t, int64(30), s.SizeKB())

	require.NoError(t, s.Remove("a"))
	assert.Equal(t, int64(20), s.SizeKB())
	assert.Equal(t, []string{"b"}, s.Keys())
}

func TestStore_ReplaceExistingKey(t *testing.T) {
	s, fs := newTestStore(t)

	require.NoError(t, s.Add("k", sizedBundle("old.bin", 4*1024)))
	oldPath := s.Entry("k").Path()

	require.NoError(t, s.Add("k", bundle.New(bundle.NewBlob([]byte("new content"), "new.bin"))))
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, int64(0), s.SizeKB())

	_, err := fs.Stat(oldPath)
	assert.True(t, os.IsNotExist(err))

	b, err := s.Get("k")
	require.NoError(t, err)
	data, err := b.Main().Bytes()
	require.NoError(t, err)
	assert.Equal(t, "new content", string(data))
}

func TestStore_ReAddRestoredBundle(t *testing.T) {
	tests := []struct {
		name   string
		bundle func() *bundle.Bundle
	}{
		{
			name: "single file",
			bundle: func() *bundle.Bundle {
				return bundle.New(bundle.NewBlob([]byte("converted"), "out.txt"))
			},
		},
		{
			name: "directory",
			bundle: func() *bundle.Bundle {
				return bundle.New(
					bundle.NewBlob([]byte("<html></html>"), "index.html"),
					bundle.NewBlob([]byte("body{}"), "css/site.css"),
				)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, fs := newTestStore(t)
			require.NoError(t, s.Add("k", tt.bundle()))

			restored, err := s.Get("k")
			require.NoError(t, err)
			require.NotNil(t, restored)

			require.NoError(t, s.Add("k", restored))
			assert.Equal(t, 1, s.Len())

			again, err := s.Get("k")
			require.NoError(t, err)
			require.NotNil(t, again)
			assert.Equal(t, restored.Len(), again.Len())

			data, err := again.Main().Bytes()
			require.NoError(t, err)
			want, err := tt.bundle().Main().Bytes()
			require.NoError(t, err)
			assert.Equal(t, want, data)

			// Only the artifact remains in the leaf directory.
			infos, err := fs.ReadDir(s.ShardPath("k"))
			require.NoError(t, err)
			require.Len(t, infos, 1)
			assert.False(t, strings.HasPrefix(infos[0].Name(), stagingPrefix))
		})
	}
}

func TestStore_FailedReplaceKeepsPrevious(t *testing.T) {
	broken := false
	fs := toggleFS{Filesystem: memfs.New(), broken: &broken}
	s, err := New(fs, "/cache")
	require.NoError(t, err)

	require.NoError(t, s.Add("k", bundle.New(bundle.NewBlob([]byte("first"), "out.txt"))))
	path := s.Entry("k").Path()
	size := s.SizeKB()

	broken = true
	err = s.Add("k", bundle.New(bundle.NewBlob([]byte("second"), "out.txt")))
	require.ErrorIs(t, err, bundle.ErrPersistence)
	broken = false

	assert.Equal(t, 1, s.Len())
	assert.Equal(t, size, s.SizeKB())
	assert.Equal(t, path, s.Entry("k").Path())

	b, err := s.Get("k")
	require.NoError(t, err)
	data, err := b.Main().Bytes()
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))

	infos, err := fs.ReadDir(s.ShardPath("k"))
	require.NoError(t, err)
	assert.Len(t, infos, 1)
}

func TestStore_RemoveLeavesNoFiles(t *testing.T) {
	s, fs := newTestStore(t)

	multi := bundle.New(
		bundle.NewBlob([]byte("<html></html>"), "index.html"),
		bundle.NewBlob([]byte("body{}"), "css/site.css"),
	)
	require.NoError(t, s.Add("k", multi))

	require.NoError(t, s.Remove("k"))
	require.NoError(t, s.Remove("k"))

	assert.Nil(t, s.Entry("k"))
	infos, err := fs.ReadDir("/cache")
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestStore_PersistFailureIsNotIndexed(t *testing.T) {
	m, err := metrics.New(nil)
	require.NoError(t, err)

	fs := failingFS{memfs.New()}
	s, err := New(fs, "/cache", WithMetrics(m))
	require.NoError(t, err)

	err = s.Add("k", sizedBundle("a.bin", 100))
	require.Error(t, err)
	assert.ErrorIs(t, err, bundle.ErrPersistence)

	assert.Equal(t, 0, s.Len())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PersistFailures))

	infos, err := fs.ReadDir("/cache")
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestStore_EmptyBundleIsNotIndexed(t *testing.T) {
	s, _ := newTestStore(t)

	assert.ErrorIs(t, s.Add("k", bundle.New()), ErrNothingToPersist)
	assert.Equal(t, 0, s.Len())
}

func TestStore_Clear(t *testing.T) {
	s, fs := newTestStore(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Add(fmt.Sprintf("k%d", i), sizedBundle("a.bin", 2048)))
	}

	require.NoError(t, s.Clear())
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, int64(0), s.SizeKB())

	infos, err := fs.ReadDir("/cache")
	require.NoError(t, err)
	assert.Empty(t, infos)

	// Still usable afterwards.
	require.NoError(t, s.Add("again", sizedBundle("a.bin", 1)))
	assert.Equal(t, 1, s.Len())
}

func TestStore_Snapshot(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.Add("a", sizedBundle("a.bin", 5*1024)))
	require.NoError(t, s.Add("b", sizedBundle("b.bin", 1024)))

	old := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	s.Entry("a").setLastAccessed(old)

	infos := s.Snapshot()
	require.Len(t, infos, 2)

	byKey := make(map[string]EntryInfo)
	for _, info := range infos {
		byKey[info.Key] = info
	}
	assert.Equal(t, int64(5), byKey["a"].SizeKB)
	assert.True(t, byKey["a"].LastAccessed.Equal(old))
	assert.Equal(t, int64(1), byKey["b"].SizeKB)
}

func TestStore_Metrics(t *testing.T) {
	m, err := metrics.New(nil)
	require.NoError(t, err)
	s, _ := newTestStore(t, WithMetrics(m))

	require.NoError(t, s.Add("k", sizedBundle("a.bin", 3*1024)))
	_, err = s.Get("k")
	require.NoError(t, err)
	_, err = s.Get("missing")
	require.NoError(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.Hits))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Misses))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Entries))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.SizeKB))

	stats, err := m.Latency().GetStats(metrics.OpPersist)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Count)
}

func TestStore_ConcurrentReaders(t *testing.T) {
	fs := osfs.New(t.TempDir())
	s, err := New(fs, "cache")
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		require.NoError(t, s.Add(fmt.Sprintf("k%d", i), sizedBundle(fmt.Sprintf("%d.bin", i), 512)))
	}

	const readers = 32
	var g errgroup.Group
	for i := 0; i < readers; i++ {
		key := fmt.Sprintf("k%d", i%4)
		g.Go(func() error {
			b, err := s.Get(key)
			if err != nil {
				return err
			}
			if b == nil {
				return fmt.Errorf("miss for %s", key)
			}
			_, err = b.Main().Bytes()
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int64(readers), s.Hits())
}

func TestStore_ConcurrentWriters(t *testing.T) {
	s, _ := newTestStore(t)

	var g errgroup.Group
	for i := 0; i < 16; i++ {
		key := fmt.Sprintf("k%d", i)
		g.Go(func() error {
			return s.Add(key, sizedBundle(key+".bin", 1024))
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 16, s.Len())
	assert.Equal(t, int64(16), s.SizeKB())
}
