package handlers

import (
	"net/http"

	"github.com/unityext/core/activity"
)

// ActivityView is the JSON rendering of one live activity.
type ActivityView struct {
	ID      string           `json:"id"`
	UID     string           `json:"uid"`
	Kind    string           `json:"kind"`
	Context activity.Context `json:"context"`
	State   activity.State   `json:"state"`
	Runs    uint64           `json:"runs"`
	Elapsed int64            `json:"elapsed_ns"`
	Status  string           `json:"status,omitempty"`
}

// ActivitiesResponse is the JSON response for /api/activities.
type ActivitiesResponse struct {
	Count      int            `json:"count"`
	Activities []ActivityView `json:"activities"`
}

// ActivitiesHandler lists Queued and Running activities. The optional id,
// kind and context query parameters narrow the result.
type ActivitiesHandler struct {
	querier  ActivityQuerier
	statuses StatusProvider
}

// NewActivitiesHandler creates a new ActivitiesHandler. statuses may be nil.
func NewActivitiesHandler(querier ActivityQuerier, statuses StatusProvider) *ActivitiesHandler {
	return &ActivitiesHandler{querier: querier, statuses: statuses}
}

// ServeHTTP implements http.Handler.
func (h *ActivitiesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	ctx, err := activity.ParseContext(params.Get("context"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	found := h.querier.Query(activity.Query{
		ID:      params.Get("id"),
		Kind:    params.Get("kind"),
		Context: ctx,
	})

	views := make([]ActivityView, 0, len(found))
	for _, a := range found {
		view := ActivityView{
			ID:      a.ID(),
			UID:     a.UID(),
			Kind:    a.Kind(),
			Context: a.Context(),
			State:   a.State(),
			Runs:    a.Runs(),
			Elapsed: a.Elapsed().Nanoseconds(),
		}
		if h.statuses != nil {
			view.Status = h.statuses.Status(a.UID())
		}
		views = append(views, view)
	}

	writeJSON(w, http.StatusOK, ActivitiesResponse{
		Count:      len(views),
		Activities: views,
	})
}
