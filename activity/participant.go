package activity

import (
	"fmt"
	"reflect"
	"runtime/debug"
	"sync/atomic"
)

// Updater is ticked once per Update phase.
type Updater interface {
	OnUpdate()
}

// LateUpdater is ticked once per LateUpdate phase.
type LateUpdater interface {
	OnLateUpdate()
}

// FixedUpdater is ticked once per FixedUpdate phase.
type FixedUpdater interface {
	OnFixedUpdate()
}

// AsyncUpdater is ticked within the Async time budget.
type AsyncUpdater interface {
	OnAsyncUpdate()
}

// ThreadUpdater is ticked on a background worker.
type ThreadUpdater interface {
	OnThreadUpdate()
}

// Enabler is optionally implemented by participants that can be paused.
// A disabled participant keeps its slot but is not ticked.
type Enabler interface {
	Enabled() bool
}

// participant is a bare object registered in one context. The tick method
// value is resolved once at registration.
type participant struct {
	target  any
	ctx     Context
	tick    func()
	enabler Enabler
	pass    atomic.Uint64
	removed atomic.Bool
}

func (p *participant) enabled() bool {
	if p.removed.Load() {
		return false
	}
	return p.enabler == nil || p.enabler.Enabled()
}

// run ticks the participant, converting a panic into a *StepFault.
func (p *participant) run() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &StepFault{
				ID:      fmt.Sprintf("%T", p.target),
				Context: p.ctx,
				Value:   r,
				Stack:   debug.Stack(),
			}
		}
	}()
	p.tick()
	return nil
}

// hashable reports whether obj can be used as a map key. A comparable type
// is not enough: an interface field holding a slice panics when hashed.
func hashable(obj any) (ok bool) {
	if obj == nil || !reflect.TypeOf(obj).Comparable() {
		return false
	}
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	_ = map[any]struct{}{obj: {}}
	return true
}

// capabilities returns one participant per context obj can be ticked in.
// Objects that cannot be tracked as map keys yield nothing.
func capabilities(obj any) []*participant {
	if !hashable(obj) {
		return nil
	}
	enabler, _ := obj.(Enabler)

	var parts []*participant
	add := func(ctx Context, tick func()) {
		parts = append(parts, &participant{
			target:  obj,
			ctx:     ctx,
			tick:    tick,
			enabler: enabler,
		})
	}
	if u, ok := obj.(Updater); ok {
		add(Update, u.OnUpdate)
	}
	if u, ok := obj.(LateUpdater); ok {
		add(LateUpdate, u.OnLateUpdate)
	}
	if u, ok := obj.(FixedUpdater); ok {
		add(FixedUpdate, u.OnFixedUpdate)
	}
	if u, ok := obj.(AsyncUpdater); ok {
		add(Async, u.OnAsyncUpdate)
	}
	if u, ok := obj.(ThreadUpdater); ok {
		add(Thread, u.OnThreadUpdate)
	}
	return parts
}
