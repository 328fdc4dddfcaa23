package activity

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DefaultKind is the kind reported by activities built with New.
const DefaultKind = "activity"

// JobHandle is the boundary to an external data-parallel executor. An
// activity carrying a job stays Running until the job reports completion.
type JobHandle interface {
	// IsCompleted reports whether all scheduled sub-work has finished.
	IsCompleted() bool
	// Complete blocks until the sub-work has finished.
	Complete()
}

// Activity is a single schedulable unit of work.
//
// IMPLEMENTATION CONTRACT:
// - Hooks run on the goroutine driving the activity's context and must not block
// - Execute is invoked by the manager once per pass; callers do not call it directly
// - Start and Stop may be called from any goroutine
// - An activity belongs to at most one manager list at a time
type Activity struct {
	id   string
	uid  string
	kind string
	ctx  Context

	state   atomic.Int32
	runs    atomic.Uint64
	elapsed atomic.Int64

	canStart    func() bool
	onStart     func()
	onExecute   func() bool
	onComplete  func()
	onStop      func()
	onStep      func(*Activity) bool
	onCompleted func(*Activity)
	job         JobHandle
	delay       time.Duration

	mu      sync.Mutex
	future  *Future
	manager *Manager
	logger  *slog.Logger
}

// Option configures an Activity
type Option func(*Activity)

// WithCanStart sets the gate consulted while the activity is Queued.
func WithCanStart(fn func() bool) Option {
	return func(a *Activity) {
		a.canStart = fn
	}
}

// WithStart sets the hook called on the Queued -> Running transition.
func WithStart(fn func()) Option {
	return func(a *Activity) {
		a.onStart = fn
	}
}

// WithExecute sets the step hook. It returns true to keep running and false
// once the activity is finished.
func WithExecute(fn func() bool) Option {
	return func(a *Activity) {
		a.onExecute = fn
	}
}

// WithComplete sets the hook called on the Running -> Complete transition.
func WithComplete(fn func()) Option {
	return func(a *Activity) {
		a.onComplete = fn
	}
}

// WithStop sets the hook called when the activity is stopped.
func WithStop(fn func()) Option {
	return func(a *Activity) {
		a.onStop = fn
	}
}

// OnStep sets a step callback invoked after the execute hook. It follows the
// same continue/finished convention.
func OnStep(fn func(*Activity) bool) Option {
	return func(a *Activity) {
		a.onStep = fn
	}
}

// OnCompleted sets a callback invoked after the completion hook.
func OnCompleted(fn func(*Activity)) Option {
	return func(a *Activity) {
		a.onCompleted = fn
	}
}

// WithJob attaches a data-parallel job handle.
func WithJob(job JobHandle) Option {
	return func(a *Activity) {
		a.job = job
	}
}

// WithKind sets the kind used by Query to tell activity variants apart.
func WithKind(kind string) Option {
	return func(a *Activity) {
		a.kind = kind
	}
}

// WithDelay sets the post-completion delay applied by Future.Wait.
func WithDelay(d time.Duration) Option {
	return func(a *Activity) {
		a.delay = d
	}
}

// WithManager binds the activity to m so that Start and Stop can route to it.
func WithManager(m *Manager) Option {
	return func(a *Activity) {
		a.manager = m
	}
}

// WithActivityLogger sets the logger returned by Logger. The manager's
// LoggerHook is not applied to it.
func WithActivityLogger(logger *slog.Logger) Option {
	return func(a *Activity) {
		a.logger = logger
	}
}

// New creates an idle activity. The id does not need to be unique; UID is.
func New(id string, ctx Context, opts ...Option) *Activity {
	a := &Activity{
		id:   id,
		uid:  uuid.NewString(),
		kind: DefaultKind,
		ctx:  ctx,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ID returns the caller supplied identifier.
func (a *Activity) ID() string { return a.id }

// UID returns an identifier unique to this instance.
func (a *Activity) UID() string { return a.uid }

// Kind returns the activity variant name.
func (a *Activity) Kind() string { return a.kind }

// Context returns the execution context the activity is routed to.
func (a *Activity) Context() Context { return a.ctx }

// State returns the current lifecycle state.
func (a *Activity) State() State { return State(a.state.Load()) }

// Runs returns how many times the activity has been started.
func (a *Activity) Runs() uint64 { return a.runs.Load() }

// Elapsed returns the duration of the most recent step.
func (a *Activity) Elapsed() time.Duration { return time.Duration(a.elapsed.Load()) }

// Future returns the completion handle of the current run, or nil if the
// activity was never started.
func (a *Activity) Future() *Future {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.future
}

// Manager returns the manager the activity is bound to, if any.
func (a *Activity) Manager() *Manager {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.manager
}

// Logger returns the activity logger, falling back to slog.Default.
func (a *Activity) Logger() *slog.Logger {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.logger == nil {
		return slog.Default()
	}
	return a.logger
}

// Start hands the activity to its manager. A Complete or Stopped activity is
// reset and queued again. Returns false if the activity has no manager or is
// already Queued or Running.
func (a *Activity) Start() bool {
	m := a.Manager()
	if m == nil {
		return false
	}
	return m.AddActivity(a)
}

// Stop asks the manager to cancel the activity. Returns false if the
// activity was not Queued or Running.
func (a *Activity) Stop() bool {
	m := a.Manager()
	if m == nil {
		return false
	}
	return m.RemoveActivity(a)
}

func (a *Activity) String() string {
	return fmt.Sprintf("%s(%s, %s, %s)", a.kind, a.id, a.ctx, a.State())
}

// arm prepares a new run: a terminal activity is reset to Idle, moved to
// Queued and given a fresh future. Only the caller that wins the move to
// Queued replaces the future.
func (a *Activity) arm(m *Manager) bool {
	for {
		s := a.State()
		if s.IsActive() {
			return false
		}
		if s.IsTerminal() && !a.state.CompareAndSwap(int32(s), int32(Idle)) {
			continue
		}
		break
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.state.CompareAndSwap(int32(Idle), int32(Queued)) {
		return false
	}
	a.manager = m
	if a.future == nil || a.runs.Load() > 0 {
		a.future = newFuture(a.delay)
	}
	a.runs.Add(1)
	return true
}

// end moves the current run from one of the from states to the terminal
// state to and returns the future of that run. The move and the read happen
// under a.mu, so a concurrent restart cannot swap the future in between.
func (a *Activity) end(to State, from ...State) (*Future, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for {
		s := a.State()
		if !slices.Contains(from, s) {
			return nil, false
		}
		if a.state.CompareAndSwap(int32(s), int32(to)) {
			return a.future, true
		}
	}
}

// cancel moves a Queued or Running activity to Stopped and runs the stop
// side effects synchronously.
func (a *Activity) cancel() bool {
	f, ok := a.end(Stopped, Queued, Running)
	if !ok {
		return false
	}

	if a.onStop != nil {
		a.onStop()
	}
	if a.job != nil && !a.job.IsCompleted() {
		a.job.Complete()
	}
	if f != nil {
		f.Cancel()
	}
	return true
}

// Execute advances the state machine by one step. A panic raised by a hook
// is recovered and returned as a *StepFault; the activity keeps the state it
// had reached.
func (a *Activity) Execute() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &StepFault{
				ID:      a.id,
				UID:     a.uid,
				Context: a.ctx,
				Value:   r,
				Stack:   debug.Stack(),
			}
		}
	}()

	if a.State() == Queued {
		if a.canStart != nil && !a.canStart() {
			return nil
		}
		if !a.state.CompareAndSwap(int32(Queued), int32(Running)) {
			return nil
		}
		if a.onStart != nil {
			a.onStart()
		}
	}

	if a.State() != Running {
		return nil
	}
	if a.step() {
		return nil
	}
	f, ok := a.end(Complete, Running)
	if !ok {
		return nil
	}
	a.finish(f)
	return nil
}

// step reports whether the activity should keep running. Absent hooks count
// as "continue"; an activity with no hooks at all finishes immediately.
func (a *Activity) step() bool {
	if a.job == nil && a.onExecute == nil && a.onStep == nil {
		return false
	}
	if a.job != nil && a.job.IsCompleted() {
		return false
	}
	if a.onExecute != nil && !a.onExecute() {
		return false
	}
	if a.onStep != nil && !a.onStep(a) {
		return false
	}
	return true
}

func (a *Activity) finish(f *Future) {
	if a.onComplete != nil {
		a.onComplete()
	}
	if a.onCompleted != nil {
		a.onCompleted(a)
	}
	if f != nil {
		f.Resolve()
	}
}

// StepFault is returned when an activity or participant hook panics.
type StepFault struct {
	ID      string
	UID     string
	Context Context
	Value   any
	Stack   []byte
}

func (f *StepFault) Error() string {
	return fmt.Sprintf("step %q in %s panicked: %v", f.ID, f.Context, f.Value)
}

// Unwrap exposes a panic value that is itself an error.
func (f *StepFault) Unwrap() error {
	if err, ok := f.Value.(error); ok {
		return err
	}
	return nil
}
