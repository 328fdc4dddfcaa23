package handlers

import (
	"net/http"
	"strconv"

	"github.com/unityext/core/activity"
)

// HistoryHandler returns finished runs, newest first. The optional limit
// query parameter caps the number returned.
type HistoryHandler struct {
	history HistoryProvider
}

// NewHistoryHandler creates a new HistoryHandler.
func NewHistoryHandler(history HistoryProvider) *HistoryHandler {
	return &HistoryHandler{history: history}
}

// ServeHTTP implements http.Handler.
func (h *HistoryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	runs := h.history.Runs()

	if s := r.URL.Query().Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		runs = runs[:min(limit, len(runs))]
	}
	if runs == nil {
		runs = []activity.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}
