package activity

// ContextStats counts the live entries of one context.
type ContextStats struct {
	Activities int `json:"activities"`
	Interfaces int `json:"interfaces"`
}

// PendingStats counts Thread work not yet placed in a worker list.
type PendingStats struct {
	Activities int `json:"activities"`
	Interfaces int `json:"interfaces"`
	Jobs       int `json:"jobs"`
}

// WorkerStats describes one worker slot.
type WorkerStats struct {
	Index      int         `json:"index"`
	State      WorkerState `json:"state"`
	Activities int         `json:"activities"`
	Interfaces int         `json:"interfaces"`
	Starts     uint64      `json:"starts"`
}

// Stats is a point-in-time view of the manager.
type Stats struct {
	Contexts       map[Context]ContextStats `json:"contexts"`
	Pending        PendingStats             `json:"pending"`
	Workers        []WorkerStats            `json:"workers"`
	WorkerStarts   uint64                   `json:"worker_starts"`
	MaxThreads     int                      `json:"max_threads"`
	AsyncTimeSlice string                   `json:"async_time_slice"`
	ShutDown       bool                     `json:"shut_down"`
}

// Stats returns live counts per context, the insertion queue lengths and the
// state of every worker slot.
func (m *Manager) Stats() Stats {
	st := Stats{
		Contexts:       make(map[Context]ContextStats, len(phaseContexts)+1),
		Workers:        make([]WorkerStats, 0),
		MaxThreads:     m.MaxThreads(),
		AsyncTimeSlice: m.AsyncTimeSlice().String(),
		ShutDown:       m.closed.Load(),
	}

	for _, ctx := range phaseContexts {
		acts, parts := m.lists[ctx].counts()
		st.Contexts[ctx] = ContextStats{Activities: acts, Interfaces: parts}
	}

	var thread ContextStats
	for _, s := range m.slotsSnapshot() {
		acts, parts := s.list.counts()
		thread.Activities += acts
		thread.Interfaces += parts
		starts := s.starts.Load()
		st.WorkerStarts += starts
		st.Workers = append(st.Workers, WorkerStats{
			Index:      s.index,
			State:      s.State(),
			Activities: acts,
			Interfaces: parts,
			Starts:     starts,
		})
	}
	st.Contexts[Thread] = thread

	m.queueMu.Lock()
	st.Pending = PendingStats{
		Activities: len(m.queuedActs),
		Interfaces: len(m.queuedParts),
	}
	m.queueMu.Unlock()
	st.Pending.Jobs = len(m.jobs)

	return st
}
