package handlers

import (
	"net/http"
)

// ProfilesHandler returns step samples. With a uid query parameter it returns
// the sample of that activity only.
type ProfilesHandler struct {
	profiles ProfileProvider
}

// NewProfilesHandler creates a new ProfilesHandler.
func NewProfilesHandler(profiles ProfileProvider) *ProfilesHandler {
	return &ProfilesHandler{profiles: profiles}
}

// ServeHTTP implements http.Handler.
func (h *ProfilesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	uid := r.URL.Query().Get("uid")
	if uid == "" {
		writeJSON(w, http.StatusOK, h.profiles.All())
		return
	}

	sample, ok := h.profiles.Get(uid)
	if !ok {
		writeError(w, http.StatusNotFound, "no profile for activity "+uid)
		return
	}
	writeJSON(w, http.StatusOK, sample)
}
