// Package host drives the phases of an activity manager from a frame loop.
//
// A Driver ticks at the frame interval. Each frame runs FixedUpdate as many
// times as the fixed-step accumulator allows, then Update and LateUpdate.
// A separate ticker calls KeepAlive so Thread work keeps being picked up even
// when frames stall.
package host

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/unityext/core/clock"
	"github.com/unityext/core/logging"
)

const (
	// DefaultFrameInterval is roughly sixty frames per second.
	DefaultFrameInterval = 16 * time.Millisecond
	// DefaultFixedStep is the simulated period of FixedUpdate.
	DefaultFixedStep = 20 * time.Millisecond
	// DefaultKeepAliveInterval is how often KeepAlive runs.
	DefaultKeepAliveInterval = time.Second
	// DefaultMaxFixedSteps caps the FixedUpdate calls in one frame after a stall.
	DefaultMaxFixedSteps = 5
)

// Phases is the part of the activity manager a Driver calls.
type Phases interface {
	Update() error
	LateUpdate() error
	FixedUpdate() error
	KeepAlive()
}

// Driver runs the host frame loop.
type Driver struct {
	phases        Phases
	logger        *slog.Logger
	now           clock.Clock
	frameInterval time.Duration
	fixedStep     time.Duration
	keepAlive     time.Duration
	maxFixedSteps int

	accumulator time.Duration
	last        time.Time
	frames      atomic.Uint64
	fixedSteps  atomic.Uint64
}

// Option configures a Driver
type Option func(*Driver)

// WithLogger sets the logger phase faults are reported to.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Driver) {
		d.logger = logger
	}
}

// WithClock sets the clock frame deltas are measured with.
func WithClock(c clock.Clock) Option {
	return func(d *Driver) {
		d.now = c
	}
}

// WithFrameInterval sets the period of Update and LateUpdate.
func WithFrameInterval(interval time.Duration) Option {
	return func(d *Driver) {
		d.frameInterval = interval
	}
}

// WithFixedStep sets the period of FixedUpdate.
func WithFixedStep(step time.Duration) Option {
	return func(d *Driver) {
		d.fixedStep = step
	}
}

// WithKeepAliveInterval sets how often KeepAlive runs.
func WithKeepAliveInterval(interval time.Duration) Option {
	return func(d *Driver) {
		d.keepAlive = interval
	}
}

// WithMaxFixedSteps caps the FixedUpdate calls in a single frame.
func WithMaxFixedSteps(n int) Option {
	return func(d *Driver) {
		d.maxFixedSteps = n
	}
}

// NewDriver creates a driver for phases.
func NewDriver(phases Phases, opts ...Option) *Driver {
	d := &Driver{
		phases:        phases,
		logger:        slog.Default(),
		now:           clock.System,
		frameInterval: DefaultFrameInterval,
		fixedStep:     DefaultFixedStep,
		keepAlive:     DefaultKeepAliveInterval,
		maxFixedSteps: DefaultMaxFixedSteps,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "driver")
	return d
}

// Frames returns the number of frames run so far.
func (d *Driver) Frames() uint64 {
	return d.frames.Load()
}

// FixedSteps returns the number of FixedUpdate calls so far.
func (d *Driver) FixedSteps() uint64 {
	return d.fixedSteps.Load()
}

// Run ticks frames until ctx is cancelled. Faults returned by the phases are
// logged and do not stop the loop. Run must not be called concurrently with
// itself or Frame.
func (d *Driver) Run(ctx context.Context) error {
	frames := time.NewTicker(d.frameInterval)
	defer frames.Stop()
	keepAlive := time.NewTicker(d.keepAlive)
	defer keepAlive.Stop()

	d.last = d.now()
	d.logger.Info("frame loop started",
		"frame_interval", d.frameInterval,
		"fixed_step", d.fixedStep,
		"keep_alive_interval", d.keepAlive)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("frame loop stopped", "frames", d.Frames())
			return nil
		case <-keepAlive.C:
			d.phases.KeepAlive()
		case <-frames.C:
			now := d.now()
			dt := now.Sub(d.last)
			d.last = now
			if err := d.Frame(dt); err != nil {
				d.logger.Warn("frame completed with faults",
					"frame", d.Frames(),
					logging.Error(err))
			}
		}
	}
}

// Frame runs one frame that took dt of wall time: Update, then LateUpdate,
// then FixedUpdate once per whole fixed step accumulated. Every phase runs
// even if an earlier one faulted; the faults are returned joined.
func (d *Driver) Frame(dt time.Duration) error {
	var errs []error

	if err := d.phases.Update(); err != nil {
		errs = append(errs, err)
	}
	if err := d.phases.LateUpdate(); err != nil {
		errs = append(errs, err)
	}

	d.accumulator += dt
	steps := 0
	for d.accumulator >= d.fixedStep {
		if steps == d.maxFixedSteps {
			// Long stall: drop the backlog.
			d.logger.Debug("dropping fixed steps", "backlog", d.accumulator)
			d.accumulator = 0
			break
		}
		d.accumulator -= d.fixedStep
		steps++
		d.fixedSteps.Add(1)
		if err := d.phases.FixedUpdate(); err != nil {
			errs = append(errs, err)
		}
	}
	d.frames.Add(1)
	return errors.Join(errs...)
}
