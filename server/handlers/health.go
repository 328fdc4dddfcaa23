package handlers

import "net/http"

// HealthHandler reports whether the manager still accepts work.
type HealthHandler struct {
	stats StatsProvider
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(stats StatsProvider) *HealthHandler {
	return &HealthHandler{stats: stats}
}

// ServeHTTP implements http.Handler. It returns "ok", or 503 once the
// manager has been shut down.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	if h.stats.Stats().ShutDown {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("shutting down"))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
