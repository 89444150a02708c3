package convcache

import (
	"github.com/jmgilman/go/convcache/bundle"
	"github.com/jmgilman/go/errors"
)

var (
	// ErrHashUnavailable is returned when the source content hash cannot be
	// computed. The request must not use the cache at all.
	ErrHashUnavailable = errors.New(errors.CodeInvalidInput, "source content hash is unavailable")

	// ErrInvalidKeyInput is returned when a key cannot be derived from the
	// given converter name or parameters.
	ErrInvalidKeyInput = errors.New(errors.CodeInvalidInput, "invalid cache key input")

	// ErrInvalidConfig is returned by Config.Validate.
	ErrInvalidConfig = errors.New(errors.CodeInvalidConfig, "invalid cache configuration")

	// ErrPersistence marks failures writing a result to disk.
	ErrPersistence = bundle.ErrPersistence

	// ErrLoad marks failures reading a result back from disk.
	ErrLoad = bundle.ErrLoad
)
