package activity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/unityext/core/clock"
	"github.com/unityext/core/logging"
	"github.com/unityext/core/metrics"
)

const (
	// DefaultAsyncTimeSlice is the default budget of one Async pass.
	DefaultAsyncTimeSlice = 2 * time.Millisecond
	// DefaultMaxThreads is the default number of worker slots.
	DefaultMaxThreads = 4
	// DefaultWorkerSleep is how long a worker yields between iterations.
	DefaultWorkerSleep = time.Millisecond
	// DefaultMaintenanceQueueSize bounds the maintenance job channel.
	DefaultMaintenanceQueueSize = 256
)

// ErrShutdown is returned by Shutdown when the manager was already shut down.
var ErrShutdown = errors.New("manager is shut down")

// Manager owns the context lists, routes activities and participants into
// them and drives the worker pool for the Thread context.
//
// Update, LateUpdate and FixedUpdate must be called from a single host
// goroutine. Every other method is safe for concurrent use.
type Manager struct {
	logger     *slog.Logger
	now        clock.Clock
	hook       logging.LoggerHook
	profiler   *ProfileHandler
	history    *History
	retained   retention
	registry   metrics.Registry
	ins        *instruments
	sleep      time.Duration
	queueSize  int
	asyncSlice atomic.Int64
	maxThreads atomic.Int32

	lists [len(phaseContexts)]*contextList

	// queueMu guards the insertion queues and the distribution target.
	// Lock order is queueMu, then poolMu or a list mutex.
	queueMu     sync.Mutex
	queuedActs  []queuedActivity
	queuedParts []*participant
	target      int

	jobs chan func()

	// addMu is held shared by registrations and exclusively while Shutdown
	// closes the manager, so its sweep sees every accepted registration.
	addMu sync.RWMutex

	poolMu  sync.Mutex
	slots   []*workerSlot
	closed  atomic.Bool
	alive   atomic.Int32
	workers sync.WaitGroup

	regMu        sync.Mutex
	participants map[any][]*participant
}

// queuedActivity is a Thread activity waiting to be placed in a worker list.
type queuedActivity struct {
	act *Activity
	run uint64
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithLogger sets the logger used by the manager and, unless a LoggerHook is
// configured, as the base of every activity logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithClock sets the clock used for time slicing and profiling.
func WithClock(c clock.Clock) ManagerOption {
	return func(m *Manager) {
		m.now = c
	}
}

// WithAsyncTimeSlice sets the budget of one Async pass.
func WithAsyncTimeSlice(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.SetAsyncTimeSlice(d)
	}
}

// WithMaxThreads sets the number of worker slots.
func WithMaxThreads(n int) ManagerOption {
	return func(m *Manager) {
		m.SetMaxThreads(n)
	}
}

// WithWorkerSleep sets how long a worker yields between loop iterations.
func WithWorkerSleep(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.sleep = d
	}
}

// WithMetrics sets the registry the manager creates its instruments in.
func WithMetrics(reg metrics.Registry) ManagerOption {
	return func(m *Manager) {
		m.registry = reg
	}
}

// WithProfiler records a sample after every activity step.
func WithProfiler(p *ProfileHandler) ManagerOption {
	return func(m *Manager) {
		m.profiler = p
	}
}

// WithHistory records every completed or stopped run in h.
func WithHistory(h *History) ManagerOption {
	return func(m *Manager) {
		m.history = h
	}
}

// WithRetainFinished sets how many finished activities keep their profile
// sample and per-activity store entries before they are forgotten.
func WithRetainFinished(n int) ManagerOption {
	return func(m *Manager) {
		m.retained.size = max(n, 0)
	}
}

// WithForgetters adds per-activity stores that drop an activity once it
// leaves the retention window. The profiler and a LoggerHook that implements
// Forgetter are added automatically.
func WithForgetters(stores ...Forgetter) ManagerOption {
	return func(m *Manager) {
		m.retained.stores = append(m.retained.stores, stores...)
	}
}

// WithLoggerHook sets the hook that builds per-activity loggers.
func WithLoggerHook(hook logging.LoggerHook) ManagerOption {
	return func(m *Manager) {
		m.hook = hook
	}
}

// WithMaintenanceQueueSize sets the capacity of the maintenance job queue.
func WithMaintenanceQueueSize(n int) ManagerOption {
	return func(m *Manager) {
		m.queueSize = n
	}
}

// NewManager creates a manager with no workers running. Workers start lazily
// when Thread work is added.
func NewManager(opts ...ManagerOption) (*Manager, error) {
	m := &Manager{
		logger:       slog.Default(),
		now:          clock.System,
		sleep:        DefaultWorkerSleep,
		queueSize:    DefaultMaintenanceQueueSize,
		participants: make(map[any][]*participant),
		retained:     retention{size: DefaultRetainFinished},
	}
	m.asyncSlice.Store(int64(DefaultAsyncTimeSlice))
	m.maxThreads.Store(DefaultMaxThreads)

	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "manager")
	if m.queueSize < 1 {
		m.queueSize = 1
	}
	m.jobs = make(chan func(), m.queueSize)
	if m.profiler != nil {
		m.retained.stores = append(m.retained.stores, m.profiler)
	}
	if f, ok := m.hook.(Forgetter); ok {
		m.retained.stores = append(m.retained.stores, f)
	}

	ins, err := newInstruments(m.registry)
	if err != nil {
		return nil, fmt.Errorf("creating manager instruments: %w", err)
	}
	m.ins = ins

	for _, ctx := range phaseContexts {
		m.lists[ctx] = newContextList(ctx)
	}
	return m, nil
}

// AsyncTimeSlice returns the current Async budget.
func (m *Manager) AsyncTimeSlice() time.Duration {
	return time.Duration(m.asyncSlice.Load())
}

// SetAsyncTimeSlice changes the Async budget, clamped to at least one
// millisecond. It takes effect on the next pass.
func (m *Manager) SetAsyncTimeSlice(d time.Duration) {
	m.asyncSlice.Store(int64(max(d, time.Millisecond)))
}

// MaxThreads returns the number of worker slots new work is spread across.
func (m *Manager) MaxThreads() int {
	return int(m.maxThreads.Load())
}

// SetMaxThreads changes the number of worker slots, clamped to at least one.
// Work already placed on a slot beyond the new limit stays there until done.
func (m *Manager) SetMaxThreads(n int) {
	m.maxThreads.Store(int32(max(n, 1)))
}

// AddActivity queues a in the list of its context. It returns false for a
// nil activity, an invalid context, an activity that is already Queued or
// Running, or after Shutdown.
func (m *Manager) AddActivity(a *Activity) bool {
	if a == nil || !a.Context().Valid() {
		return false
	}
	m.addMu.RLock()
	defer m.addMu.RUnlock()
	if m.closed.Load() {
		return false
	}
	if !a.arm(m) {
		return false
	}
	m.bindLogger(a)
	run := a.Runs()

	if a.Context() == Thread {
		m.queueMu.Lock()
		m.queuedActs = append(m.queuedActs, queuedActivity{act: a, run: run})
		m.queueMu.Unlock()
		m.assertWorker()
		return true
	}

	m.lists[a.Context()].addActivity(a, run)
	return true
}

// RemoveActivity stops a and removes it from its list. The stop hook runs
// synchronously. Returns false if a is nil or not Queued or Running.
func (m *Manager) RemoveActivity(a *Activity) bool {
	if a == nil || !a.cancel() {
		return false
	}
	m.ins.stopped.With(contextLabel(a.Context())).Inc()
	if m.history != nil {
		m.history.Save(a, m.now())
	}
	m.retained.retire(a)
	run := a.Runs()

	if a.Context() != Thread {
		m.lists[a.Context()].removeActivity(a, run)
		return true
	}

	for _, s := range m.slotsSnapshot() {
		s.list.removeActivity(a, run)
	}
	m.submitJob(func() {
		m.queueMu.Lock()
		defer m.queueMu.Unlock()
		m.queuedActs = slices.DeleteFunc(m.queuedActs, func(q queuedActivity) bool {
			return q.act == a && q.run == run
		})
	})
	return true
}

// Start is shorthand for AddActivity.
func (m *Manager) Start(a *Activity) bool {
	return m.AddActivity(a)
}

// Stop is shorthand for RemoveActivity.
func (m *Manager) Stop(a *Activity) bool {
	return m.RemoveActivity(a)
}

// AddInterface registers obj in every context whose capability interface it
// implements. Returns false for nil, for objects with no capability, for
// objects that cannot be used as map keys and for objects already registered.
func (m *Manager) AddInterface(obj any) bool {
	m.addMu.RLock()
	defer m.addMu.RUnlock()
	if m.closed.Load() {
		return false
	}
	parts := capabilities(obj)
	if len(parts) == 0 {
		return false
	}

	m.regMu.Lock()
	if _, ok := m.participants[obj]; ok {
		m.regMu.Unlock()
		return false
	}
	m.participants[obj] = parts
	m.regMu.Unlock()

	for _, p := range parts {
		if p.ctx != Thread {
			m.lists[p.ctx].addParticipant(p)
			continue
		}
		m.queueMu.Lock()
		m.queuedParts = append(m.queuedParts, p)
		m.queueMu.Unlock()
		m.assertWorker()
	}
	return true
}

// RemoveInterface unregisters obj from every context it was added to.
func (m *Manager) RemoveInterface(obj any) bool {
	if !hashable(obj) {
		return false
	}

	m.regMu.Lock()
	parts, ok := m.participants[obj]
	delete(m.participants, obj)
	m.regMu.Unlock()
	if !ok {
		return false
	}

	for _, p := range parts {
		p.removed.Store(true)
		if p.ctx != Thread {
			m.lists[p.ctx].removeParticipant(p)
			continue
		}
		for _, s := range m.slotsSnapshot() {
			s.list.removeParticipant(p)
		}
		m.submitJob(func() {
			m.queueMu.Lock()
			defer m.queueMu.Unlock()
			m.queuedParts = slices.DeleteFunc(m.queuedParts, func(q *participant) bool {
				return q == p
			})
		})
	}
	return true
}

// Update runs the Update list, then the Async list within its time budget,
// then the worker pool health check. Hook panics are returned joined as
// *StepFault values after every entry had its turn.
func (m *Manager) Update() error {
	err := errors.Join(m.runPhase(Update), m.runPhase(Async))
	m.healthCheck()
	return err
}

// LateUpdate runs the LateUpdate list.
func (m *Manager) LateUpdate() error {
	return m.runPhase(LateUpdate)
}

// FixedUpdate runs the FixedUpdate list.
func (m *Manager) FixedUpdate() error {
	return m.runPhase(FixedUpdate)
}

// KeepAlive runs the worker pool health check. Hosts call it periodically so
// Thread work is picked up even when Update is not being called.
func (m *Manager) KeepAlive() {
	m.healthCheck()
}

// Shutdown stops every activity, unregisters every participant and waits for
// the workers to exit. The manager rejects new work afterwards.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.addMu.Lock()
	m.poolMu.Lock()
	already := m.closed.Swap(true)
	m.poolMu.Unlock()
	m.addMu.Unlock()
	if already {
		return ErrShutdown
	}

	stopped := 0
	for _, a := range m.FindAll("", All) {
		if m.RemoveActivity(a) {
			stopped++
		}
	}

	m.regMu.Lock()
	objs := make([]any, 0, len(m.participants))
	for obj := range m.participants {
		objs = append(objs, obj)
	}
	m.regMu.Unlock()
	for _, obj := range objs {
		m.RemoveInterface(obj)
	}

	m.logger.Info("shutting down", "stopped", stopped, "participants", len(objs))

	done := make(chan struct{})
	go func() {
		m.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for workers: %w", ctx.Err())
	}
}

func (m *Manager) runPhase(ctx Context) error {
	l := m.lists[ctx]
	err := l.execute(m.pass())
	acts, _ := l.counts()
	m.ins.listSize.With(contextLabel(ctx)).Set(float64(acts))
	return err
}

func (m *Manager) pass() pass {
	return pass{
		now:    m.now,
		budget: m.AsyncTimeSlice(),
		step:   m.step,
		tick:   m.tick,
	}
}

// step executes a once and records its profile, metrics and faults.
func (m *Manager) step(a *Activity) error {
	before := a.State()
	elapsed := m.now.Stopwatch()
	err := a.Execute()
	d := elapsed()
	a.elapsed.Store(int64(d))

	label := contextLabel(a.Context())
	m.ins.steps.With(label).Inc()
	if m.profiler != nil {
		m.profiler.Record(a, d, m.now())
	}
	if before != Complete && a.State() == Complete {
		m.ins.completed.With(label).Inc()
		if m.history != nil {
			m.history.Save(a, m.now())
		}
		m.retained.retire(a)
	}
	if err != nil {
		m.ins.faults.With(label).Inc()
		m.logger.Error("activity step panicked",
			logging.ActivityID(a.UID()),
			logging.Context(a.Context().String()),
			"id", a.ID(),
			"state", a.State(),
			logging.Error(err))
	}
	return err
}

func (m *Manager) tick(p *participant) error {
	err := p.run()
	if err != nil {
		m.ins.faults.With(contextLabel(p.ctx)).Inc()
		m.logger.Error("participant tick panicked",
			logging.Context(p.ctx.String()),
			"type", fmt.Sprintf("%T", p.target),
			logging.Error(err))
	}
	return err
}

// bindLogger gives a an activity logger unless one was set explicitly.
func (m *Manager) bindLogger(a *Activity) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.logger != nil {
		return
	}
	if m.hook != nil {
		a.logger = m.hook.LoggerForActivity(m.logger, a.UID())
		return
	}
	a.logger = m.logger.With(logging.ActivityID(a.UID()), "activity", a.ID())
}
