package activity

import (
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/unityext/core/clock"
)

// contextList holds the activities and participants of one context.
//
// Removed entries are tombstoned (set to nil) so indices stay valid while
// another goroutine walks the list; only the owner of the list compacts it,
// at the start of its pass. The mutex is never held while a hook runs.
type contextList struct {
	ctx   Context
	async bool

	// epoch is bumped at the start of every pass. Entries queued during a pass
	// carry the current epoch and are left for the next one.
	epoch atomic.Uint64

	mu         sync.Mutex
	acts       []entry
	parts      []*participant
	actCursor  int
	partCursor int
}

// entry is one activity slot. run pins the slot to the run it was added for,
// so a slot left behind by an earlier run of a restarted activity is inert.
// A tombstone has a nil act.
type entry struct {
	act   *Activity
	run   uint64
	epoch uint64
}

func (e entry) live() bool {
	return e.act != nil && e.act.Runs() == e.run && e.act.State().IsActive()
}

// pass carries what a list needs from its manager to execute once.
type pass struct {
	now    clock.Clock
	budget time.Duration
	step   func(*Activity) error
	tick   func(*participant) error
}

func newContextList(ctx Context) *contextList {
	return &contextList{
		ctx:   ctx,
		async: ctx == Async,
	}
}

// addActivity inserts a for the given run. A slot still holding an earlier
// run of a is tombstoned; a slot for the same run makes this a duplicate.
func (l *contextList) addActivity(a *Activity, run uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, e := range l.acts {
		if e.act != a {
			continue
		}
		if e.run == run {
			return false
		}
		l.acts[i] = entry{}
	}
	l.acts = append(l.acts, entry{act: a, run: run, epoch: l.epoch.Load()})
	return true
}

// removeActivity tombstones the slot holding the given run of a.
func (l *contextList) removeActivity(a *Activity, run uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := false
	for i, e := range l.acts {
		if e.act == a && e.run == run {
			l.acts[i] = entry{}
			removed = true
		}
	}
	return removed
}

func (l *contextList) containsActivity(a *Activity) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.acts {
		if e.act == a && e.live() {
			return true
		}
	}
	return false
}

func (l *contextList) addParticipant(p *participant) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	p.pass.Store(l.epoch.Load())
	if slices.Contains(l.parts, p) {
		return false
	}
	l.parts = append(l.parts, p)
	return true
}

func (l *contextList) removeParticipant(p *participant) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := slices.Index(l.parts, p)
	if i < 0 {
		return false
	}
	l.parts[i] = nil
	return true
}

// activities returns the Queued or Running activities currently in the list.
func (l *contextList) activities() []*Activity {
	l.mu.Lock()
	defer l.mu.Unlock()
	live := make([]*Activity, 0, len(l.acts))
	for _, e := range l.acts {
		if e.live() {
			live = append(live, e.act)
		}
	}
	return live
}

// counts returns the number of live activities and participants.
func (l *contextList) counts() (acts, parts int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.acts {
		if e.live() {
			acts++
		}
	}
	for _, p := range l.parts {
		if p != nil && !p.removed.Load() {
			parts++
		}
	}
	return acts, parts
}

func (l *contextList) empty() bool {
	acts, parts := l.counts()
	return acts == 0 && parts == 0
}

// cursor returns the resumable position of the async activity rotation.
func (l *contextList) cursor() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.actCursor
}

// prune compacts tombstones, finished activities and stale runs while
// preserving order.
// Cursors are shifted so they keep pointing at the same next entry.
// Must be called with l.mu held.
func (l *contextList) prune() {
	keep := 0
	for i, e := range l.acts {
		if !e.live() {
			if i < l.actCursor {
				l.actCursor--
			}
			continue
		}
		l.acts[keep] = e
		keep++
	}
	clear(l.acts[keep:])
	l.acts = l.acts[:keep]
	if l.actCursor >= len(l.acts) {
		l.actCursor = 0
	}

	keep = 0
	for i, p := range l.parts {
		if p == nil || p.removed.Load() {
			if i < l.partCursor {
				l.partCursor--
			}
			continue
		}
		l.parts[keep] = p
		keep++
	}
	clear(l.parts[keep:])
	l.parts = l.parts[:keep]
	if l.partCursor >= len(l.parts) {
		l.partCursor = 0
	}
}

func (l *contextList) activityAt(i int) entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i >= len(l.acts) {
		return entry{}
	}
	return l.acts[i]
}

func (l *contextList) participantAt(i int) *participant {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i >= len(l.parts) {
		return nil
	}
	return l.parts[i]
}

// nextActivity returns the activity under the async cursor and advances it.
// ok is false when the list has no slots at all.
func (l *contextList) nextActivity() (e entry, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.acts) == 0 {
		l.actCursor = 0
		return entry{}, false
	}
	e = l.acts[l.actCursor]
	l.actCursor = (l.actCursor + 1) % len(l.acts)
	return e, true
}

func (l *contextList) nextParticipant() (p *participant, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.parts) == 0 {
		l.partCursor = 0
		return nil, false
	}
	p = l.parts[l.partCursor]
	l.partCursor = (l.partCursor + 1) % len(l.parts)
	return p, true
}

func (l *contextList) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return max(len(l.acts), len(l.parts))
}

// runnable reports whether e should be stepped in the pass with the given
// epoch. Activities queued during that pass wait for the next one.
func (e entry) runnable(epoch uint64) bool {
	if e.act == nil || e.act.Runs() != e.run {
		return false
	}
	switch e.act.State() {
	case Running:
		return true
	case Queued:
		return e.epoch != epoch
	default:
		return false
	}
}

func tickable(p *participant, epoch uint64) bool {
	return p != nil && p.enabled() && p.pass.Load() != epoch
}

// execute runs one pass and returns the faults raised by hooks, joined.
func (l *contextList) execute(ps pass) error {
	epoch := l.epoch.Add(1)

	l.mu.Lock()
	l.prune()
	if !l.async {
		l.actCursor = 0
		l.partCursor = 0
	}
	nActs, nParts := len(l.acts), len(l.parts)
	l.mu.Unlock()

	if l.async {
		return l.executeSliced(ps, epoch)
	}

	var errs []error
	for i := 0; i < nActs; i++ {
		if e := l.activityAt(i); e.runnable(epoch) {
			if err := ps.step(e.act); err != nil {
				errs = append(errs, err)
			}
		}
	}
	for i := 0; i < nParts; i++ {
		if p := l.participantAt(i); tickable(p, epoch) {
			if err := ps.tick(p); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// executeSliced steps entries round-robin until the budget is spent. The
// cursors survive between passes, so a pass that runs out of time resumes at
// the next entry. A full rotation without any work ends the pass early.
func (l *contextList) executeSliced(ps pass, epoch uint64) error {
	var errs []error
	elapsed := ps.now.Stopwatch()
	idle := 0

	for elapsed() < ps.budget {
		visited, worked := false, false

		if e, ok := l.nextActivity(); ok {
			visited = true
			if e.runnable(epoch) {
				worked = true
				if err := ps.step(e.act); err != nil {
					errs = append(errs, err)
				}
			}
		}
		if elapsed() >= ps.budget {
			break
		}
		if p, ok := l.nextParticipant(); ok {
			visited = true
			if tickable(p, epoch) {
				worked = true
				if err := ps.tick(p); err != nil {
					errs = append(errs, err)
				}
			}
		}

		if !visited {
			break
		}
		if worked {
			idle = 0
			continue
		}
		idle++
		if idle >= l.size() {
			break
		}
	}
	return errors.Join(errs...)
}
