package activity

import (
	"sync"
	"time"
)

// Sample is the profiling record of an activity's most recent step.
type Sample struct {
	ID      string        `json:"id"`
	Kind    string        `json:"kind"`
	Context Context       `json:"context"`
	State   State         `json:"state"`
	Elapsed time.Duration `json:"elapsed_ns"`
	Steps   uint64        `json:"steps"`
	At      time.Time     `json:"at"`
}

// ProfileHandler stores the last step sample of every activity by UID.
// The manager writes to it after each step; the server reads it.
type ProfileHandler struct {
	samples map[string]Sample
	mu      sync.RWMutex
}

// NewProfileHandler creates an empty profile handler.
func NewProfileHandler() *ProfileHandler {
	return &ProfileHandler{
		samples: make(map[string]Sample),
	}
}

// Record stores a sample for a, counting the step.
func (ph *ProfileHandler) Record(a *Activity, elapsed time.Duration, at time.Time) {
	ph.mu.Lock()
	defer ph.mu.Unlock()
	prev := ph.samples[a.UID()]
	ph.samples[a.UID()] = Sample{
		ID:      a.ID(),
		Kind:    a.Kind(),
		Context: a.Context(),
		State:   a.State(),
		Elapsed: elapsed,
		Steps:   prev.Steps + 1,
		At:      at,
	}
}

// Get returns the sample for uid.
func (ph *ProfileHandler) Get(uid string) (Sample, bool) {
	ph.mu.RLock()
	defer ph.mu.RUnlock()
	s, ok := ph.samples[uid]
	return s, ok
}

// Forget drops the sample for uid.
func (ph *ProfileHandler) Forget(uid string) {
	ph.mu.Lock()
	defer ph.mu.Unlock()
	delete(ph.samples, uid)
}

// All returns a copy of every sample keyed by activity UID.
func (ph *ProfileHandler) All() map[string]Sample {
	ph.mu.RLock()
	defer ph.mu.RUnlock()

	copy := make(map[string]Sample, len(ph.samples))
	for k, v := range ph.samples {
		copy[k] = v
	}
	return copy
}
