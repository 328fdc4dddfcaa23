// Package handlers provides HTTP handlers for the engine inspection server.
//
// Each handler is in its own file and implements http.Handler.
// Handlers use interfaces to access server dependencies, avoiding
// circular imports.
package handlers

import (
	"time"

	"github.com/unityext/core/activity"
	"github.com/unityext/core/config"
	"github.com/unityext/core/logging"
)

// StatsProvider provides a point-in-time view of the manager.
type StatsProvider interface {
	Stats() activity.Stats
}

// ActivityQuerier looks up live activities.
type ActivityQuerier interface {
	Query(q activity.Query) []*activity.Activity
}

// ProfileProvider provides the last step sample of every activity.
type ProfileProvider interface {
	All() map[string]activity.Sample
	Get(uid string) (activity.Sample, bool)
}

// LogProvider provides the captured log lines of every activity.
type LogProvider interface {
	GetLogs(uid string) []logging.LogEntry
	GetAllLogs() map[string][]logging.LogEntry
}

// ConfigProvider provides access to the current configuration.
type ConfigProvider interface {
	Config() *config.Config
}

// Reloader can reload its configuration.
type Reloader interface {
	Reload() error
}

// NextRunProvider reports the next time a scheduled activity starts.
type NextRunProvider interface {
	NextRun() time.Time
}

// HistoryProvider provides the most recent finished runs.
type HistoryProvider interface {
	Runs() []activity.Run
}

// StatusProvider reports the status line an activity last published.
type StatusProvider interface {
	Status(uid string) string
}
