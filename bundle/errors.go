package bundle

import (
	"fmt"

	"github.com/jmgilman/go/errors"
)

var (
	// ErrEmptyBundle is returned when an operation needs at least one blob.
	ErrEmptyBundle = errors.New(errors.CodeInvalidInput, "bundle has no blobs")

	// ErrPersistence marks any failure while writing a bundle to disk.
	ErrPersistence = errors.New(errors.CodeInternal, "failed to persist bundle")

	// ErrLoad marks any failure while reading a bundle back from disk.
	ErrLoad = errors.New(errors.CodeInternal, "failed to load bundle")
)

// persistError wraps err so that it matches both ErrPersistence and err.
func persistError(err error, message string, ctx map[string]interface{}) error {
	return errors.WrapWithContext(fmt.Errorf("%w: %w", ErrPersistence, err), errors.CodeInternal, message, ctx)
}

// loadError wraps err so that it matches both ErrLoad and err.
func loadError(err error, message string, ctx map[string]interface{}) error {
	return errors.WrapWithContext(fmt.Errorf("%w: %w", ErrLoad, err), errors.CodeInternal, message, ctx)
}
