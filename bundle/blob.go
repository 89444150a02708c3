package bundle

import (
	"bytes"
	"fmt"
	"io"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
)

// Metadata is the descriptive part of a blob that does not survive a round
// trip through the filesystem.
type Metadata struct {
	Filename string `json:"filename,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Encoding string `json:"encoding,omitempty"`
	Digest   string `json:"digest,omitempty"`
}

// Blob is a single binary payload with optional metadata.
//
// The payload is either held in memory or read lazily from a file on a billy
// filesystem. File-backed blobs are what Load returns; reading one after its
// file has been evicted from the cache fails.
type Blob struct {
	Filename string
	MimeType string
	Encoding string
	Digest   string

	data []byte

	fs   billy.Filesystem
	path string
}

// NewBlob creates an in-memory blob. The data slice is not copied.
func NewBlob(data []byte, filename string) *Blob {
	if data == nil {
		data = []byte{}
	}
	return &Blob{Filename: filename, data: data}
}

// NewFileBlob creates a blob backed by the file at path on fs.
func NewFileBlob(fs billy.Filesystem, path string) *Blob {
	return &Blob{fs: fs, path: path}
}

// Open returns a reader over the blob payload. The caller must close it.
func (b *Blob) Open() (io.ReadCloser, error) {
	if b.fs != nil {
		f, err := b.fs.Open(b.path)
		if err != nil {
			return nil, fmt.Errorf("failed to open blob file %s: %w", b.path, err)
		}
		return f, nil
	}
	return io.NopCloser(bytes.NewReader(b.data)), nil
}

// Bytes returns the full blob payload.
func (b *Blob) Bytes() ([]byte, error) {
	if b.fs != nil {
		data, err := util.ReadFile(b.fs, b.path)
		if err != nil {
			return nil, fmt.Errorf("failed to read blob file %s: %w", b.path, err)
		}
		return data, nil
	}
	return b.data, nil
}

// Size returns the payload length in bytes.
func (b *Blob) Size() (int64, error) {
	if b.fs != nil {
		info, err := b.fs.Stat(b.path)
		if err != nil {
			return 0, fmt.Errorf("failed to stat blob file %s: %w", b.path, err)
		}
		return info.Size(), nil
	}
	return int64(len(b.data)), nil
}

// Path returns the backing file path, or "" for in-memory blobs.
func (b *Blob) Path() string {
	return b.path
}

// Metadata returns a snapshot of the blob's descriptive fields.
func (b *Blob) Metadata() Metadata {
	return Metadata{
		Filename: b.Filename,
		MimeType: b.MimeType,
		Encoding: b.Encoding,
		Digest:   b.Digest,
	}
}

// Apply copies every non-empty field of m onto the blob.
func (b *Blob) Apply(m Metadata) {
	if m.Filename != "" {
		b.Filename = m.Filename
	}
	if m.MimeType != "" {
		b.MimeType = m.MimeType
	}
	if m.Encoding != "" {
		b.Encoding = m.Encoding
	}
	if m.Digest != "" {
		b.Digest = m.Digest
	}
}
