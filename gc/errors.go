package gc

import "github.com/jmgilman/go/errors"

var (
	// ErrInvalidInterval is returned for a zero GC interval, which has no
	// meaning in either unit.
	ErrInvalidInterval = errors.New(errors.CodeInvalidConfig, "gc interval must be non-zero")

	// ErrSchedulerRunning is returned when Start is called on a running
	// scheduler.
	ErrSchedulerRunning = errors.New(errors.CodeConflict, "gc scheduler is already running")
)
