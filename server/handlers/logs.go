package handlers

import (
	"net/http"
)

// LogsHandler returns captured activity logs, for one activity when the uid
// query parameter is set and for every activity otherwise.
type LogsHandler struct {
	logs LogProvider
}

// NewLogsHandler creates a new LogsHandler.
func NewLogsHandler(logs LogProvider) *LogsHandler {
	return &LogsHandler{logs: logs}
}

// ServeHTTP implements http.Handler.
func (h *LogsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if uid := r.URL.Query().Get("uid"); uid != "" {
		writeJSON(w, http.StatusOK, h.logs.GetLogs(uid))
		return
	}
	writeJSON(w, http.StatusOK, h.logs.GetAllLogs())
}
