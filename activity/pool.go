package activity

import (
	"sync/atomic"
	"time"

	"github.com/unityext/core/logging"
)

// WorkerState is the lifecycle state of one worker slot.
//
// Transitions:
//
//	Absent -> Starting -> Running -> IdleChecking -> Absent
//	IdleChecking -> Running (new work arrived)
type WorkerState int32

const (
	// WorkerAbsent means no goroutine serves the slot
	WorkerAbsent WorkerState = iota
	// WorkerStarting means a goroutine was spawned but has not entered its loop
	WorkerStarting
	// WorkerRunning means the goroutine is draining queues and its list
	WorkerRunning
	// WorkerIdleChecking means the goroutine is deciding whether to exit
	WorkerIdleChecking
)

// String returns a human-readable representation of the WorkerState
func (s WorkerState) String() string {
	switch s {
	case WorkerAbsent:
		return "absent"
	case WorkerStarting:
		return "starting"
	case WorkerRunning:
		return "running"
	case WorkerIdleChecking:
		return "idle_checking"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s WorkerState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// workerSlot is one Thread list plus the state of the goroutine serving it.
type workerSlot struct {
	index  int
	list   *contextList
	state  atomic.Int32
	starts atomic.Uint64
}

func (s *workerSlot) State() WorkerState {
	return WorkerState(s.state.Load())
}

// slotsSnapshot returns every slot ever created, including slots beyond the
// current MaxThreads that may still hold work.
func (m *Manager) slotsSnapshot() []*workerSlot {
	m.poolMu.Lock()
	defer m.poolMu.Unlock()
	return append([]*workerSlot(nil), m.slots...)
}

// activeSlots returns the slots new work is distributed to, creating them up
// to MaxThreads.
func (m *Manager) activeSlots() []*workerSlot {
	m.poolMu.Lock()
	defer m.poolMu.Unlock()
	n := m.MaxThreads()
	for len(m.slots) < n {
		m.slots = append(m.slots, &workerSlot{
			index: len(m.slots),
			list:  newContextList(Thread),
		})
	}
	return m.slots[:n]
}

// ensureSlot spawns a goroutine for s if the slot is Absent.
func (m *Manager) ensureSlot(s *workerSlot) bool {
	m.poolMu.Lock()
	defer m.poolMu.Unlock()
	if m.closed.Load() {
		return false
	}
	if !s.state.CompareAndSwap(int32(WorkerAbsent), int32(WorkerStarting)) {
		return false
	}
	s.starts.Add(1)
	m.ins.workerStarts.Inc()
	m.ins.workers.Set(float64(m.alive.Add(1)))
	m.workers.Add(1)
	go m.work(s)
	return true
}

// assertWorker makes sure the slot that receives the next distributed entry
// has a goroutine, so pending work is picked up.
func (m *Manager) assertWorker() {
	slots := m.activeSlots()
	m.queueMu.Lock()
	s := slots[m.target%len(slots)]
	m.queueMu.Unlock()
	m.ensureSlot(s)
}

func (m *Manager) work(s *workerSlot) {
	defer m.workers.Done()
	logger := m.logger.With(logging.Worker(s.index))
	logger.Debug("worker started")

	for {
		s.state.Store(int32(WorkerRunning))

		m.drainJobs()
		m.distribute()
		// Faults are logged per entry by step and tick.
		_ = s.list.execute(m.pass())

		if m.sleep > 0 {
			time.Sleep(m.sleep)
		}

		s.state.Store(int32(WorkerIdleChecking))
		if !s.list.empty() || m.pendingWork() {
			continue
		}

		s.state.Store(int32(WorkerAbsent))
		// Work placed between the idle check and the store above would find
		// the slot Absent and spawn a new goroutine, unless we reclaim it here.
		if (!s.list.empty() || m.pendingWork()) &&
			s.state.CompareAndSwap(int32(WorkerAbsent), int32(WorkerStarting)) {
			continue
		}

		m.ins.workers.Set(float64(m.alive.Add(-1)))
		logger.Debug("worker exiting")
		return
	}
}

// drainJobs applies every queued maintenance job.
func (m *Manager) drainJobs() {
	for {
		select {
		case job := <-m.jobs:
			job()
		default:
			return
		}
	}
}

// distribute moves the insertion queues into worker lists round-robin and
// makes sure every slot that received work has a goroutine.
func (m *Manager) distribute() {
	m.queueMu.Lock()
	defer m.queueMu.Unlock()
	if len(m.queuedActs) == 0 && len(m.queuedParts) == 0 {
		return
	}

	slots := m.activeSlots()
	next := func() *workerSlot {
		s := slots[m.target%len(slots)]
		m.target = (m.target + 1) % len(slots)
		return s
	}

	for _, q := range m.queuedActs {
		if q.act.Runs() != q.run || q.act.State() != Queued {
			continue
		}
		s := next()
		s.list.addActivity(q.act, q.run)
		m.ensureSlot(s)
	}
	clear(m.queuedActs)
	m.queuedActs = m.queuedActs[:0]

	for _, p := range m.queuedParts {
		if p.removed.Load() {
			continue
		}
		s := next()
		s.list.addParticipant(p)
		m.ensureSlot(s)
	}
	clear(m.queuedParts)
	m.queuedParts = m.queuedParts[:0]
}

// submitJob queues a maintenance job for the workers. Once the manager is
// shut down, or if the queue is full, the job runs on the caller.
func (m *Manager) submitJob(job func()) {
	if m.closed.Load() {
		job()
		return
	}
	select {
	case m.jobs <- job:
		m.assertWorker()
	default:
		job()
	}
}

func (m *Manager) pendingWork() bool {
	if len(m.jobs) > 0 {
		return true
	}
	m.queueMu.Lock()
	defer m.queueMu.Unlock()
	return len(m.queuedActs) > 0 || len(m.queuedParts) > 0
}

// healthCheck restarts Absent slots that have work. It covers a worker
// exiting just as work was queued for it.
func (m *Manager) healthCheck() {
	if m.closed.Load() {
		return
	}
	if m.pendingWork() {
		m.assertWorker()
	}
	for _, s := range m.slotsSnapshot() {
		if s.State() == WorkerAbsent && !s.list.empty() {
			if m.ensureSlot(s) {
				m.logger.Debug("restarted idle worker", logging.Worker(s.index))
			}
		}
	}
}
