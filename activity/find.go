package activity

// Query selects activities by id, kind and context. An empty ID or Kind
// matches any value; Context All matches every context.
type Query struct {
	ID      string
	Kind    string
	Context Context
}

func (q Query) matches(a *Activity) bool {
	if q.ID != "" && a.ID() != q.ID {
		return false
	}
	if q.Kind != "" && a.Kind() != q.Kind {
		return false
	}
	return q.Context == All || a.Context() == q.Context
}

// Find returns the first Queued or Running activity with the given id in
// ctx. An empty id matches any activity.
func (m *Manager) Find(id string, ctx Context) (*Activity, bool) {
	found := m.Query(Query{ID: id, Context: ctx})
	if len(found) == 0 {
		return nil, false
	}
	return found[0], true
}

// FindAll returns every Queued or Running activity with the given id in ctx.
// The result is never nil.
func (m *Manager) FindAll(id string, ctx Context) []*Activity {
	return m.Query(Query{ID: id, Context: ctx})
}

// Query returns every Queued or Running activity matching q, including Thread
// activities still waiting in the insertion queue. Lists are read one at a
// time, so the result is a point-in-time view per list rather than a
// consistent snapshot. The result is never nil.
func (m *Manager) Query(q Query) []*Activity {
	found := make([]*Activity, 0)
	seen := make(map[*Activity]struct{})
	collect := func(acts []*Activity) {
		for _, a := range acts {
			if _, dup := seen[a]; dup || !q.matches(a) {
				continue
			}
			seen[a] = struct{}{}
			found = append(found, a)
		}
	}

	for _, ctx := range phaseContexts {
		if q.Context == All || q.Context == ctx {
			collect(m.lists[ctx].activities())
		}
	}
	if q.Context == All || q.Context == Thread {
		for _, s := range m.slotsSnapshot() {
			collect(s.list.activities())
		}
		collect(m.pendingActivities())
	}
	return found
}

func (m *Manager) pendingActivities() []*Activity {
	m.queueMu.Lock()
	defer m.queueMu.Unlock()
	pending := make([]*Activity, 0, len(m.queuedActs))
	for _, q := range m.queuedActs {
		if q.act.Runs() == q.run && q.act.State().IsActive() {
			pending = append(pending, q.act)
		}
	}
	return pending
}
