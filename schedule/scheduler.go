package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/unityext/core/activity"
)

// Launcher is implemented by anything that can start named work when a
// trigger fires.
type Launcher interface {
	Launch(names []string) error
}

// Scheduler manages multiple Trigger instances with different targets and schedules.
type Scheduler struct {
	triggers []*Trigger
	logger   *slog.Logger
}

// NewScheduler creates a new Scheduler from a multi-trigger specification.
// The spec format is: activity1,activity2:cron_expression;activity3:cron_expression2
//
// Example:
//
//	"heartbeat,report:*/5 * * * *;cleanup:0 3 * * *"
//
// Every target must be known to the launcher's Names set.
func NewScheduler(spec string, launcher *ActivityLauncher, logger *slog.Logger) (*Scheduler, error) {
	return NewSchedulerFor(spec, launcher, launcher.Names(), logger)
}

// NewSchedulerFor is NewScheduler for an arbitrary Launcher that accepts the
// names in available.
func NewSchedulerFor(spec string, launcher Launcher, available map[string]bool, logger *slog.Logger) (*Scheduler, error) {
	triggerSpecs, err := ParseTriggerSpecs(spec, available)
	if err != nil {
		return nil, err
	}

	triggers := make([]*Trigger, 0, len(triggerSpecs))
	for _, ts := range triggerSpecs {
		targets := ts.Targets
		trigger, err := NewTrigger(ts.CronSpec, func() error {
			return launcher.Launch(targets)
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("creating trigger for '%s:%s': %w",
				strings.Join(ts.Targets, ","), ts.CronSpec, err)
		}
		triggers = append(triggers, trigger)
	}

	logger.Info("scheduler created", "trigger_count", len(triggers))
	for i, trigger := range triggers {
		logger.Info("trigger registered",
			"index", i,
			"activities", triggerSpecs[i].Targets,
			"schedule", triggerSpecs[i].CronSpec,
			"next_run", trigger.NextRun(),
		)
	}

	return &Scheduler{
		triggers: triggers,
		logger:   logger,
	}, nil
}

// Start launches all triggers. Each trigger runs in its own goroutine.
// Returns immediately. All goroutines exit when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	for _, trigger := range s.triggers {
		trigger.Start(ctx)
	}
}

// Run blocks running every trigger until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, trigger := range s.triggers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			trigger.Run(ctx)
		}()
	}
	wg.Wait()
	return nil
}

// NextRun returns the earliest scheduled run time across all triggers.
// Returns zero time if there are no triggers.
func (s *Scheduler) NextRun() time.Time {
	if len(s.triggers) == 0 {
		return time.Time{}
	}

	earliest := s.triggers[0].NextRun()
	for _, trigger := range s.triggers[1:] {
		if next := trigger.NextRun(); next.Before(earliest) {
			earliest = next
		}
	}
	return earliest
}

// ErrStillRunning is reported for a target whose previous run has not
// finished when its trigger fires again.
var ErrStillRunning = errors.New("previous run still active")

// ActivityLauncher starts activities by id. Each activity must be bound to a
// manager with activity.WithManager.
type ActivityLauncher struct {
	mu         sync.RWMutex
	activities map[string]*activity.Activity
}

// NewActivityLauncher creates a launcher for acts, keyed by their ids.
func NewActivityLauncher(acts ...*activity.Activity) *ActivityLauncher {
	l := &ActivityLauncher{activities: make(map[string]*activity.Activity, len(acts))}
	for _, a := range acts {
		l.Add(a)
	}
	return l
}

// Add registers a under its id, replacing any activity with the same id.
func (l *ActivityLauncher) Add(a *activity.Activity) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.activities[a.ID()] = a
}

// Names returns the set of ids the launcher can start.
func (l *ActivityLauncher) Names() map[string]bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make(map[string]bool, len(l.activities))
	for id := range l.activities {
		names[id] = true
	}
	return names
}

// Launch starts every named activity. An activity that is still Queued or
// Running is left alone and reported with ErrStillRunning.
func (l *ActivityLauncher) Launch(names []string) error {
	var errs []error
	for _, name := range names {
		l.mu.RLock()
		a, ok := l.activities[name]
		l.mu.RUnlock()
		if !ok {
			errs = append(errs, fmt.Errorf("unknown activity %q", name))
			continue
		}
		if !a.Start() {
			if a.State().IsActive() {
				errs = append(errs, fmt.Errorf("activity %q: %w", name, ErrStillRunning))
			} else {
				errs = append(errs, fmt.Errorf("activity %q: not accepted by its manager", name))
			}
		}
	}
	return errors.Join(errs...)
}
