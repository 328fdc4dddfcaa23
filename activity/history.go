package activity

import (
	"sync"
	"time"
)

// DefaultHistorySize is the number of finished runs a History keeps.
const DefaultHistorySize = 100

// Run describes one finished activity run.
type Run struct {
	ID      string    `json:"id"`
	UID     string    `json:"uid"`
	Kind    string    `json:"kind"`
	Context Context   `json:"context"`
	State   State     `json:"state"`
	Run     uint64    `json:"run"`
	EndedAt time.Time `json:"ended_at"`
}

// History keeps the most recent finished runs in memory, newest first.
type History struct {
	size int
	runs []Run
	mu   sync.Mutex
}

// NewHistory creates a history holding at most size runs.
func NewHistory(size int) *History {
	if size < 1 {
		size = DefaultHistorySize
	}
	return &History{
		size: size,
		runs: make([]Run, 0, size),
	}
}

// Save records a finished run of a.
func (h *History) Save(a *Activity, endedAt time.Time) {
	run := Run{
		ID:      a.ID(),
		UID:     a.UID(),
		Kind:    a.Kind(),
		Context: a.Context(),
		State:   a.State(),
		Run:     a.Runs(),
		EndedAt: endedAt,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.runs) == h.size {
		h.runs = h.runs[:h.size-1]
	}
	h.runs = append([]Run{run}, h.runs...)
}

// Runs returns a copy of the recorded runs, newest first.
func (h *History) Runs() []Run {
	h.mu.Lock()
	defer h.mu.Unlock()
	result := make([]Run, len(h.runs))
	copy(result, h.runs)
	return result
}
