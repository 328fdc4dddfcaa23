// Package statusreporter lets activities publish a short human-readable
// status that the inspection server shows next to them.
package statusreporter

import (
	"sync"

	"github.com/unityext/core/activity"
)

// StatusReporter allows activities to report their current status while they
// run.
//
// USAGE IN ACTIVITIES:
//
//	var a *activity.Activity
//	a = activity.New("compact", activity.Thread,
//	    activity.WithExecute(func() bool {
//	        reporter.SetStatus(a, "compacting segment 3/10")
//	        return more()
//	    }),
//	)
//
// THREAD SAFETY:
// All methods are thread-safe and can be called from concurrent goroutines.
type StatusReporter struct {
	statuses map[string]string
	mu       sync.RWMutex
}

// New creates a new StatusReporter.
func New() *StatusReporter {
	return &StatusReporter{
		statuses: make(map[string]string),
	}
}

// SetStatus updates the current status of a. Changes are logged at Debug
// level on the activity's own logger, so they land in its captured logs.
func (r *StatusReporter) SetStatus(a *activity.Activity, status string) {
	r.mu.Lock()
	prev, ok := r.statuses[a.UID()]
	r.statuses[a.UID()] = status
	r.mu.Unlock()

	if !ok || prev != status {
		a.Logger().Debug(status, "status", true)
	}
}

// Status returns the current status of the activity with the given UID.
func (r *StatusReporter) Status(uid string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.statuses[uid]
}

// Forget drops the status of the activity with the given UID.
func (r *StatusReporter) Forget(uid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.statuses, uid)
}

// CurrentStatuses returns a copy of all current statuses keyed by UID.
func (r *StatusReporter) CurrentStatuses() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]string, len(r.statuses))
	for uid, status := range r.statuses {
		result[uid] = status
	}
	return result
}

// StatusLine is a StatusReporter bound to one activity.
type StatusLine struct {
	reporter *StatusReporter
	activity *activity.Activity
}

// Line returns a status line bound to a.
func (r *StatusReporter) Line(a *activity.Activity) *StatusLine {
	return &StatusLine{reporter: r, activity: a}
}

// Set updates the bound activity's status.
func (l *StatusLine) Set(status string) {
	l.reporter.SetStatus(l.activity, status)
}
