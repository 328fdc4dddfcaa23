package activity

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCancelled is returned by Future.Wait when the activity was stopped
// before it completed.
var ErrCancelled = errors.New("activity cancelled")

// FutureStatus is the resolution state of a Future.
type FutureStatus int

const (
	// Pending means the activity has not finished yet
	Pending FutureStatus = iota
	// Resolved means the activity completed
	Resolved
	// Cancelled means the activity was stopped
	Cancelled
)

// String returns a human-readable representation of the FutureStatus
func (s FutureStatus) String() string {
	switch s {
	case Pending:
		return "pending"
	case Resolved:
		return "resolved"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Future is the awaitable completion handle of one activity run.
//
// A Future resolves exactly once, either with Resolve or Cancel; later calls
// are ignored. Each restart of an activity allocates a fresh Future, so
// holders of an older Future observe only the run they were handed.
type Future struct {
	delay time.Duration

	once   sync.Once
	done   chan struct{}
	mu     sync.RWMutex
	status FutureStatus
}

func newFuture(delay time.Duration) *Future {
	return &Future{
		delay: delay,
		done:  make(chan struct{}),
	}
}

// Resolve marks the future as completed.
func (f *Future) Resolve() {
	f.settle(Resolved)
}

// Cancel marks the future as cancelled.
func (f *Future) Cancel() {
	f.settle(Cancelled)
}

func (f *Future) settle(status FutureStatus) {
	f.once.Do(func() {
		f.mu.Lock()
		f.status = status
		f.mu.Unlock()
		close(f.done)
	})
}

// Poll returns the current status and whether the future has settled.
func (f *Future) Poll() (FutureStatus, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.status, f.status != Pending
}

// Done returns a channel closed once the future settles.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Delay returns the post-completion delay applied by Wait.
func (f *Future) Delay() time.Duration {
	return f.delay
}

// Wait blocks until the future settles and, if it resolved, for the
// post-completion delay. It returns ErrCancelled for a cancelled run and
// ctx.Err() if ctx ends first.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.done:
	}

	if status, _ := f.Poll(); status == Cancelled {
		return ErrCancelled
	}
	if f.delay <= 0 {
		return nil
	}

	t := time.NewTimer(f.delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
