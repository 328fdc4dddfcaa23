package activity

import (
	"slices"
	"sync"
)

// DefaultRetainFinished is the number of finished activities whose profile,
// logs and status are kept for inspection.
const DefaultRetainFinished = 256

// Forgetter is a per-activity store the manager evicts from once an activity
// has been finished for long enough.
type Forgetter interface {
	Forget(uid string)
}

// retention remembers the most recently finished activities. When one falls
// out of the window and has not been restarted since, every store forgets it.
type retention struct {
	mu     sync.Mutex
	size   int
	order  []*Activity
	stores []Forgetter
}

func (r *retention) retire(a *Activity) {
	if len(r.stores) == 0 {
		return
	}

	r.mu.Lock()
	r.order = slices.DeleteFunc(r.order, func(o *Activity) bool { return o == a })
	r.order = append(r.order, a)
	var evicted []*Activity
	if over := len(r.order) - r.size; over > 0 {
		evicted = slices.Clone(r.order[:over])
		r.order = slices.Delete(r.order, 0, over)
	}
	r.mu.Unlock()

	for _, old := range evicted {
		// Running again: retired anew when this run ends.
		if !old.State().IsTerminal() {
			continue
		}
		for _, s := range r.stores {
			s.Forget(old.UID())
		}
	}
}

func (r *retention) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}
