package activity

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/unityext/core/clock"
)

// TimerKind is the kind reported by activities built with NewTimer.
const TimerKind = "timer"

// Timer is an activity that runs for a fixed duration, measured with its
// manager's clock from the moment it starts running.
type Timer struct {
	*Activity

	duration time.Duration
	elapsed  atomic.Int64
	onTick   func(*Timer)

	mu      sync.Mutex
	started time.Time
}

// NewTimer creates a timer that completes once d has elapsed. Hooks set with
// opts keep working: an execute hook reporting finished ends the timer early.
func NewTimer(id string, ctx Context, d time.Duration, opts ...Option) *Timer {
	t := &Timer{duration: d}
	t.Activity = New(id, ctx, append([]Option{WithKind(TimerKind)}, opts...)...)

	start, execute := t.onStart, t.onExecute
	t.onStart = func() {
		t.mu.Lock()
		t.started = t.clock()()
		t.mu.Unlock()
		t.elapsed.Store(0)
		if start != nil {
			start()
		}
	}
	t.onExecute = func() bool {
		t.mu.Lock()
		started := t.started
		t.mu.Unlock()
		t.elapsed.Store(int64(min(t.clock().Since(started), t.duration)))
		if t.onTick != nil {
			t.onTick(t)
		}
		if execute != nil && !execute() {
			return false
		}
		return t.Remaining() > 0
	}
	return t
}

// OnTick sets a callback invoked on every step after the elapsed time was
// updated. It must be set before the timer starts.
func (t *Timer) OnTick(fn func(*Timer)) *Timer {
	t.onTick = fn
	return t
}

// Duration returns the configured duration.
func (t *Timer) Duration() time.Duration {
	return t.duration
}

// ElapsedTime returns the time since the timer started running, capped at
// the duration.
func (t *Timer) ElapsedTime() time.Duration {
	return time.Duration(t.elapsed.Load())
}

// Remaining returns the time left before the timer completes.
func (t *Timer) Remaining() time.Duration {
	return max(t.duration-t.ElapsedTime(), 0)
}

// Progress returns the completed fraction in [0, 1].
func (t *Timer) Progress() float64 {
	if t.duration <= 0 {
		return 1
	}
	return float64(t.ElapsedTime()) / float64(t.duration)
}

func (t *Timer) clock() clock.Clock {
	if m := t.Manager(); m != nil {
		return m.now
	}
	return clock.System
}

// Delay starts a timer on m that calls fn once d has elapsed.
func Delay(m *Manager, ctx Context, d time.Duration, fn func()) *Timer {
	t := NewTimer("delay", ctx, d, WithManager(m), WithComplete(fn))
	t.Start()
	return t
}
