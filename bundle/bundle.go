package bundle

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/jmgilman/go/errors"
	"github.com/opencontainers/go-digest"
)

// safeName matches hashes that can be used verbatim as a file name.
var safeName = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

// Bundle is an ordered collection of blobs. The blob at position 0 is the
// main blob.
type Bundle struct {
	blobs []*Blob
}

// New creates a bundle from blobs, in order. Nil blobs are skipped.
func New(blobs ...*Blob) *Bundle {
	b := &Bundle{blobs: make([]*Blob, 0, len(blobs))}
	for _, blob := range blobs {
		if blob != nil {
			b.blobs = append(b.blobs, blob)
		}
	}
	return b
}

// Len returns the number of blobs.
func (b *Bundle) Len() int {
	if b == nil {
		return 0
	}
	return len(b.blobs)
}

// Main returns the main blob, or nil if the bundle is empty.
func (b *Bundle) Main() *Blob {
	if b.Len() == 0 {
		return nil
	}
	return b.blobs[0]
}

// Blobs returns a copy of the blob list.
func (b *Bundle) Blobs() []*Blob {
	if b == nil {
		return nil
	}
	out := make([]*Blob, len(b.blobs))
	copy(out, b.blobs)
	return out
}

// Hash returns a stable content hash for the bundle.
//
// A single blob that already carries a digest hashes to that digest (its
// encoded part when it is an algorithm-prefixed digest). Otherwise the hash
// is the sha256 of every blob's filename and payload, in order.
func (b *Bundle) Hash() (string, error) {
	if b.Len() == 0 {
		return "", ErrEmptyBundle
	}

	if len(b.blobs) == 1 && b.blobs[0].Digest != "" {
		d := digest.Digest(b.blobs[0].Digest)
		if d.Validate() == nil {
			return d.Encoded(), nil
		}
		return b.blobs[0].Digest, nil
	}

	digester := digest.Canonical.Digester()
	h := digester.Hash()
	for i, blob := range b.blobs {
		fmt.Fprintf(h, "%d:%s\x00", i, blob.Filename)
		if err := copyPayload(h, blob); err != nil {
			return "", errors.WrapWithContext(err, errors.CodeInternal, "failed to hash blob", map[string]interface{}{
				"index":    i,
				"filename": blob.Filename,
			})
		}
	}
	return digester.Digest().Encoded(), nil
}

// destinationName turns a bundle hash into a name usable on disk.
func destinationName(hash string) string {
	if safeName.MatchString(hash) && !strings.HasPrefix(hash, ".") {
		return hash
	}
	return digest.FromString(hash).Encoded()
}

func copyPayload(w io.Writer, blob *Blob) error {
	r, err := blob.Open()
	if err != nil {
		return err
	}
	defer r.Close()

	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("failed to read blob payload: %w", err)
	}
	return nil
}
