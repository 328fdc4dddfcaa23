// Package schedule starts activities on a wall-clock cron schedule.
//
// A Trigger runs a callback whenever its cron expression fires. A Scheduler
// builds one Trigger per entry of a multi-trigger spec and hands the named
// activities to a Launcher.
//
// Example usage:
//
//	launcher := schedule.NewActivityLauncher(heartbeat, report)
//	s, err := schedule.NewScheduler("heartbeat:* * * * *;report:0 3 * * *", launcher, logger)
//	if err != nil {
//	    return err
//	}
//	s.Start(ctx) // Returns immediately, runs in background
package schedule

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/unityext/core/clock"
)

// ErrInvalidCronSpec is returned when the cron specification cannot be parsed.
var ErrInvalidCronSpec = errors.New("invalid cron spec")

// Trigger executes a callback according to a cron schedule.
type Trigger struct {
	spec     string
	schedule cron.Schedule
	fire     func() error
	logger   *slog.Logger
	now      clock.Clock
}

// NewTrigger creates a new Trigger with the given cron specification.
// The spec follows standard cron format (5 fields: minute, hour, day, month, weekday).
// Returns ErrInvalidCronSpec if the specification cannot be parsed.
func NewTrigger(spec string, fire func() error, logger *slog.Logger) (*Trigger, error) {
	schedule, err := ParseCron(spec)
	if err != nil {
		return nil, err
	}
	return newTrigger(spec, schedule, fire, logger), nil
}

func newTrigger(spec string, schedule cron.Schedule, fire func() error, logger *slog.Logger) *Trigger {
	return &Trigger{
		spec:     spec,
		schedule: schedule,
		fire:     fire,
		logger:   logger.With("schedule", spec),
		now:      clock.System,
	}
}

// Spec returns the cron expression the trigger was built from.
func (t *Trigger) Spec() string {
	return t.spec
}

// Start launches a goroutine that fires according to the cron schedule.
// Returns immediately. The goroutine exits when ctx is cancelled.
func (t *Trigger) Start(ctx context.Context) {
	go t.Run(ctx)
}

// Run fires according to the cron schedule until ctx is cancelled.
func (t *Trigger) Run(ctx context.Context) {
	for {
		nextRun := t.schedule.Next(t.now())
		waitDuration := nextRun.Sub(t.now())

		t.logger.Debug("waiting for next scheduled run",
			"next_run", nextRun,
			"wait_duration", waitDuration,
		)

		timer := time.NewTimer(waitDuration)
		select {
		case <-ctx.Done():
			timer.Stop()
			t.logger.Debug("cron trigger shutting down")
			return
		case <-timer.C:
			t.execute()
		}
	}
}

// NextRun returns the next scheduled run time from now.
func (t *Trigger) NextRun() time.Time {
	return t.schedule.Next(t.now())
}

func (t *Trigger) execute() {
	if err := t.fire(); err != nil {
		t.logger.Warn("scheduled run completed with error", "error", err)
		return
	}
	t.logger.Debug("scheduled run fired")
}
