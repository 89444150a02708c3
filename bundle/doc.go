// Package bundle models the output of a single document conversion.
//
// A Bundle is an ordered list of named blobs. Position 0 always holds the
// main blob; any further blobs are attachments produced alongside it (for
// example the images referenced by an HTML rendition).
//
// # Persistence Layout
//
// Bundles persist themselves to a billy filesystem under a caller-provided
// base directory. The destination name is the bundle's content hash:
//
//	<base>/<hash>              # single-blob bundle, written as one file
//	<base>/<hash>/             # multi-blob bundle, one file per blob
//	├── index.html
//	└── images/logo.png
//
// Loading walks the same layout back into a Bundle. A file named index.html
// (case-insensitive) is promoted to the main position. The order of the
// remaining blobs follows directory enumeration and must not be relied on.
//
// Blob metadata (mime-type, encoding, digest, and for single files the
// filename) is not stored on disk. Callers that need it must snapshot it
// with Blob.Metadata before persisting and re-apply it after loading.
package bundle
