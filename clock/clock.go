// Package clock provides the time source used for time-slice budgeting and
// step profiling.
//
// Production code uses System. Tests use a Manual clock so that time-sliced
// passes are deterministic:
//
//	c := clock.NewManual(time.Unix(0, 0))
//	m, err := activity.NewManager(activity.WithClock(c.Now))
//	c.Advance(time.Millisecond)
package clock

import (
	"sync"
	"time"
)

// Clock returns the current time. Only differences between two readings are
// meaningful; System readings carry a monotonic component.
type Clock func() time.Time

// System is the wall clock backed by time.Now.
func System() time.Time {
	return time.Now()
}

// Since returns the time elapsed on c since t.
func (c Clock) Since(t time.Time) time.Duration {
	return c().Sub(t)
}

// Stopwatch starts measuring on c and returns a function reporting the
// elapsed duration each time it is called.
func (c Clock) Stopwatch() func() time.Duration {
	start := c()
	return func() time.Duration {
		return c().Sub(start)
	}
}

// Manual is a Clock that only moves when told to. It is safe for concurrent use.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual creates a Manual clock reading start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now returns the current manual time. Pass m.Now wherever a Clock is expected.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

// Set moves the clock to t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}
