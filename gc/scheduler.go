package gc

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/jmgilman/go/errors"
)

// IntervalFromConfig converts a configured GC interval to a duration.
// Positive values are minutes; negative values are milliseconds and exist
// to speed up tests. Zero is rejected.
func IntervalFromConfig(n int) (time.Duration, error) {
	switch {
	case n > 0:
		return time.Duration(n) * time.Minute, nil
	case n < 0:
		return time.Duration(-n) * time.Millisecond, nil
	default:
		return 0, ErrInvalidInterval
	}
}

// Scheduler runs Manager.GCIfNeeded periodically in the background.
type Scheduler struct {
	manager  *Manager
	interval time.Duration
	lock     *flock.Flock

	running atomic.Bool
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithLockFile makes every pass take an exclusive file lock at path. A pass
// is skipped when another process holds the lock, so several processes can
// share one cache root.
func WithLockFile(path string) SchedulerOption {
	return func(s *Scheduler) {
		s.lock = flock.New(path)
	}
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(m *Manager, interval time.Duration, opts ...SchedulerOption) (*Scheduler, error) {
	if interval <= 0 {
		return nil, ErrInvalidInterval
	}

	s := &Scheduler{manager: m, interval: interval}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Interval returns the time between passes.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// Running reports whether the background loop is active.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Start launches the background loop. The loop runs a pass immediately and
// then once per interval until ctx is cancelled or stop is called.
//
// The returned stop function is safe to call multiple times and blocks until
// the loop has exited.
//
// Example:
//
//	stop, err := scheduler.Start(ctx)
//	if err != nil {
//	    return err
//	}
//	defer stop()
func (s *Scheduler) Start(ctx context.Context) (stop func(), err error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrSchedulerRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer s.running.Store(false)

		timer := time.NewTimer(s.interval)
		defer timer.Stop()

		for {
			s.pass(ctx)

			select {
			case <-ctx.Done():
				return
			case <-timer.C:
				timer.Reset(s.interval)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			wg.Wait()
		})
	}, nil
}

// pass runs one GCIfNeeded, under the file lock when one is configured.
func (s *Scheduler) pass(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	if s.lock != nil {
		locked, err := s.lock.TryLock()
		if err != nil {
			s.manager.logger.WarnContext(ctx, "failed to acquire gc lock",
				"path", s.lock.Path(),
				"error", errors.Wrap(err, errors.CodeUnavailable, "gc lock unavailable"))
			return
		}
		if !locked {
			s.manager.logger.DebugContext(ctx, "gc lock held by another process, skipping pass", "path", s.lock.Path())
			return
		}
		defer func() {
			if err := s.lock.Unlock(); err != nil {
				s.manager.logger.WarnContext(ctx, "failed to release gc lock", "path", s.lock.Path(), "error", err)
			}
		}()
	}

	s.manager.GCIfNeeded(ctx)
}
