package handlers

import (
	"net/http"
	"time"

	"github.com/unityext/core/activity"
	"github.com/unityext/core/buildinfo"
)

// NextRunResponse is the JSON response for the next scheduled start.
type NextRunResponse struct {
	Scheduled bool       `json:"scheduled"`
	NextRun   *time.Time `json:"next_run,omitempty"`
}

// StatusResponse is the consolidated response for /api/status.
type StatusResponse struct {
	Engine  activity.Stats       `json:"engine"`
	NextRun NextRunResponse      `json:"next_run"`
	Build   buildinfo.Properties `json:"build"`
}

// StatusHandler handles requests for the consolidated status endpoint.
type StatusHandler struct {
	stats    StatsProvider
	schedule NextRunProvider
}

// NewStatusHandler creates a new StatusHandler. schedule may be nil when no
// activities are scheduled.
func NewStatusHandler(stats StatsProvider, schedule NextRunProvider) *StatusHandler {
	return &StatusHandler{
		stats:    stats,
		schedule: schedule,
	}
}

// ServeHTTP implements http.Handler.
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var nextRun NextRunResponse
	if h.schedule != nil {
		if next := h.schedule.NextRun(); !next.IsZero() {
			nextRun = NextRunResponse{Scheduled: true, NextRun: &next}
		}
	}

	writeJSON(w, http.StatusOK, StatusResponse{
		Engine:  h.stats.Stats(),
		NextRun: nextRun,
		Build:   buildinfo.Get(),
	})
}
