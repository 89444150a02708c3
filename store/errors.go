package store

import "github.com/jmgilman/go/errors"

var (
	// ErrEmptyKey is returned when a cache key is empty.
	ErrEmptyKey = errors.New(errors.CodeInvalidInput, "cache key cannot be empty")

	// ErrNothingToPersist is returned when an entry's bundle has no blobs.
	ErrNothingToPersist = errors.New(errors.CodeInvalidInput, "bundle has nothing to persist")
)
