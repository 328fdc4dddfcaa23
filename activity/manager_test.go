package activity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unityext/core/clock"
	"github.com/unityext/core/logging"
	"github.com/unityext/core/metrics"
)

func newTestManager(t *testing.T, opts ...ManagerOption) *Manager {
	t.Helper()
	base := []ManagerOption{
		WithLogger(logging.Discard()),
		WithWorkerSleep(100 * time.Microsecond),
	}
	m, err := NewManager(append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.Shutdown(ctx); err != nil && !errors.Is(err, ErrShutdown) {
			t.Errorf("shutdown: %v", err)
		}
	})
	return m
}

// forever returns an execute hook that never finishes and counts its calls.
func forever(calls *atomic.Int32) func() bool {
	return func() bool {
		calls.Add(1)
		return true
	}
}

// finishAfter returns an execute hook that finishes on call n.
func finishAfter(n int32, calls *atomic.Int32) func() bool {
	return func() bool {
		return calls.Add(1) < n
	}
}

func TestManager_UpdateActivityCompletesInOnePass(t *testing.T) {
	m := newTestManager(t)
	completed := 0
	a := New("a", Update,
		WithManager(m),
		WithExecute(func() bool { return false }),
		WithComplete(func() { completed++ }))

	require.True(t, a.Start())
	assert.Equal(t, Queued, a.State())

	require.NoError(t, m.Update())
	assert.Equal(t, Complete, a.State())
	assert.Equal(t, 1, completed)

	require.NoError(t, m.Update())
	assert.Equal(t, 1, completed, "a completed activity is not stepped again")

	status, settled := a.Future().Poll()
	assert.True(t, settled)
	assert.Equal(t, Resolved, status)
	assert.Empty(t, m.FindAll("", All))
}

func TestManager_PhasesRunTheirOwnLists(t *testing.T) {
	m := newTestManager(t)
	var update, late, fixed atomic.Int32
	New("u", Update, WithManager(m), WithExecute(forever(&update))).Start()
	New("l", LateUpdate, WithManager(m), WithExecute(forever(&late))).Start()
	New("f", FixedUpdate, WithManager(m), WithExecute(forever(&fixed))).Start()

	require.NoError(t, m.Update())
	require.NoError(t, m.FixedUpdate())
	require.NoError(t, m.FixedUpdate())
	require.NoError(t, m.LateUpdate())

	assert.Equal(t, int32(1), update.Load())
	assert.Equal(t, int32(2), fixed.Load())
	assert.Equal(t, int32(1), late.Load())
}

func TestManager_AsyncBudgetIsShared(t *testing.T) {
	manual := clock.NewManual(time.Unix(0, 0))
	m := newTestManager(t, WithClock(manual.Now), WithAsyncTimeSlice(2*time.Millisecond))

	const others = 10
	counts := make([]int, others+1)
	step := func(i int) func() bool {
		return func() bool {
			manual.Advance(100 * time.Microsecond)
			counts[i]++
			return true
		}
	}
	for i := range others {
		New("other", Async, WithManager(m), WithExecute(step(i))).Start()
	}
	b := New("b", Async, WithManager(m), WithExecute(func() bool {
		manual.Advance(100 * time.Microsecond)
		counts[others]++
		return counts[others] < 10
	}))
	require.True(t, b.Start())

	passes := 0
	for b.State() != Complete && passes < 20 {
		require.NoError(t, m.Update())
		passes++
		if b.State() == Complete {
			break
		}
		lo, hi := counts[0], counts[0]
		for _, c := range counts {
			lo, hi = min(lo, c), max(hi, c)
		}
		assert.LessOrEqual(t, hi-lo, 1, "pass %d skipped an entry more than once: %v", passes, counts)
	}

	assert.Equal(t, Complete, b.State())
	assert.Equal(t, 10, counts[others])
	assert.GreaterOrEqual(t, passes, 1)
	assert.LessOrEqual(t, passes, 10)
}

func TestManager_AsyncPassResumesAtCursor(t *testing.T) {
	manual := clock.NewManual(time.Unix(0, 0))
	m := newTestManager(t, WithClock(manual.Now), WithAsyncTimeSlice(2*time.Millisecond))

	var order []string
	for _, id := range []string{"a", "b", "c"} {
		New(id, Async, WithManager(m), WithExecute(func() bool {
			manual.Advance(time.Millisecond)
			order = append(order, id)
			return true
		})).Start()
	}

	require.NoError(t, m.Update())
	assert.Equal(t, []string{"a", "b"}, order)
	require.NoError(t, m.Update())
	assert.Equal(t, []string{"a", "b", "c", "a"}, order)
}

func TestManager_AsyncCursorCompletesACycle(t *testing.T) {
	manual := clock.NewManual(time.Unix(0, 0))
	// Every step costs 1ms, so a 2ms slice fits two of the five entries.
	m := newTestManager(t, WithClock(manual.Now), WithAsyncTimeSlice(2*time.Millisecond))

	const entries = 5
	counts := make([]int, entries)
	for i := range entries {
		New("rotating", Async, WithManager(m), WithExecute(func() bool {
			manual.Advance(time.Millisecond)
			counts[i]++
			return true
		})).Start()
	}

	async := m.lists[Async]
	start := async.cursor()
	for pass := 1; pass <= 3; pass++ {
		require.NoError(t, m.Update())
	}
	for i, c := range counts {
		assert.GreaterOrEqual(t, c, 1, "entry %d not stepped after ceil(5/2) passes", i)
	}

	require.NoError(t, m.Update())
	require.NoError(t, m.Update())
	assert.Equal(t, start, async.cursor(), "cursor returns to its start after a full cycle")
	assert.Equal(t, []int{2, 2, 2, 2, 2}, counts)
}

func TestManager_AsyncPassEndsWhenNothingRuns(t *testing.T) {
	m := newTestManager(t, WithAsyncTimeSlice(time.Hour))
	New("done", Async, WithManager(m)).Start()

	finished := make(chan error, 1)
	go func() { finished <- m.Update() }()
	select {
	case err := <-finished:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("async pass did not end after a rotation without work")
	}
}

func TestManager_StopThreadActivityIsSynchronous(t *testing.T) {
	m := newTestManager(t)
	var calls atomic.Int32
	var stopped atomic.Bool
	c := New("c", Thread,
		WithManager(m),
		WithExecute(forever(&calls)),
		WithStop(func() { stopped.Store(true) }))
	require.True(t, c.Start())
	require.Eventually(t, func() bool { return c.State() == Running }, 5*time.Second, time.Millisecond)

	require.True(t, c.Stop())
	assert.Equal(t, Stopped, c.State())
	assert.True(t, stopped.Load())
	status, _ := c.Future().Poll()
	assert.Equal(t, Cancelled, status)
	assert.False(t, c.Stop(), "stopping twice reports false")

	require.Eventually(t, func() bool {
		return m.Stats().Contexts[Thread].Activities == 0
	}, 5*time.Second, time.Millisecond)
}

func TestManager_FindAllAcrossContexts(t *testing.T) {
	m := newTestManager(t)
	var calls atomic.Int32
	u := New("u", Update, WithManager(m), WithExecute(forever(&calls)))
	as := New("as", Async, WithManager(m), WithExecute(forever(&calls)), WithKind("tween"))
	th := New("th", Thread, WithManager(m), WithExecute(forever(&calls)))
	for _, a := range []*Activity{u, as, th} {
		require.True(t, a.Start())
	}

	all := m.FindAll("", All)
	require.Len(t, all, 3)
	assert.ElementsMatch(t, []*Activity{u, as, th}, all)

	for _, a := range all {
		found, ok := m.Find(a.ID(), a.Context())
		require.True(t, ok, a.ID())
		assert.Same(t, a, found)
	}
	_, ok := m.Find("u", Thread)
	assert.False(t, ok)

	assert.Equal(t, []*Activity{as}, m.Query(Query{Kind: "tween", Context: All}))
	assert.NotNil(t, m.FindAll("missing", All))
	assert.Empty(t, m.FindAll("missing", All))
}

func TestManager_RejectsInvalidInput(t *testing.T) {
	m := newTestManager(t)

	assert.False(t, m.AddActivity(nil))
	assert.False(t, m.AddActivity(New("all", All)))
	assert.False(t, m.RemoveActivity(nil))
	assert.False(t, m.RemoveActivity(New("idle", Update)), "idle activities are not owned")

	var calls atomic.Int32
	a := New("a", Update, WithManager(m), WithExecute(forever(&calls)))
	require.True(t, a.Start())
	assert.False(t, a.Start(), "a queued activity cannot be started again")
	require.NoError(t, m.Update())
	assert.False(t, m.AddActivity(a), "a running activity cannot be added again")
	assert.Len(t, m.FindAll("a", Update), 1)

	assert.False(t, New("orphan", Update).Start(), "activities without a manager cannot start")
}

func TestManager_RestartAfterStop(t *testing.T) {
	m := newTestManager(t)
	var calls atomic.Int32
	a := New("a", Update, WithManager(m), WithExecute(forever(&calls)))

	require.True(t, a.Start())
	first := a.Future()
	require.NoError(t, m.Update())
	require.True(t, a.Stop())

	require.True(t, a.Start())
	assert.Equal(t, Queued, a.State())
	assert.Equal(t, uint64(2), a.Runs())
	assert.NotSame(t, first, a.Future())
	status, _ := first.Poll()
	assert.Equal(t, Cancelled, status, "the old run keeps its own outcome")

	require.NoError(t, m.Update())
	assert.Equal(t, int32(2), calls.Load())
	assert.Len(t, m.FindAll("a", Update), 1)
}

func TestManager_StartDuringPassIsDeferred(t *testing.T) {
	m := newTestManager(t)
	var bCalls atomic.Int32
	b := New("b", Update, WithManager(m), WithExecute(forever(&bCalls)))
	a := New("a", Update, WithManager(m), WithExecute(func() bool {
		b.Start()
		return false
	}))
	require.True(t, a.Start())

	require.NoError(t, m.Update())
	assert.Equal(t, Complete, a.State())
	assert.Equal(t, Queued, b.State())
	assert.Zero(t, bCalls.Load(), "activities queued during a pass wait for the next one")

	require.NoError(t, m.Update())
	assert.Equal(t, int32(1), bCalls.Load())
}

func TestManager_PanicsAreJoinedFaults(t *testing.T) {
	m := newTestManager(t)
	errBoom := errors.New("boom")

	bad := New("bad", Update, WithManager(m), WithExecute(func() bool { panic(errBoom) }))
	worse := New("worse", Update, WithManager(m), WithExecute(func() bool { panic("worse") }))
	good := New("good", Update, WithManager(m))
	for _, a := range []*Activity{bad, worse, good} {
		require.True(t, a.Start())
	}

	err := m.Update()
	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)

	assert.Len(t, stepFaults(err), 2)

	var fault *StepFault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, "bad", fault.ID)
	assert.Equal(t, bad.UID(), fault.UID)
	assert.Equal(t, Update, fault.Context)
	assert.NotEmpty(t, fault.Stack)

	assert.Equal(t, Complete, good.State(), "a fault does not abort the pass")
	assert.Equal(t, Running, bad.State(), "the faulting activity keeps the state it reached")
}

// stepFaults flattens the joined faults returned by a phase call.
func stepFaults(err error) []*StepFault {
	if fault, ok := err.(*StepFault); ok {
		return []*StepFault{fault}
	}
	joined, ok := err.(interface{ Unwrap() []error })
	if !ok {
		return nil
	}
	var faults []*StepFault
	for _, e := range joined.Unwrap() {
		faults = append(faults, stepFaults(e)...)
	}
	return faults
}

type job struct {
	done      atomic.Bool
	completed atomic.Bool
}

func (j *job) IsCompleted() bool { return j.done.Load() }
func (j *job) Complete()         { j.completed.Store(true) }

func TestManager_JobHandle(t *testing.T) {
	m := newTestManager(t)

	j := &job{}
	a := New("job", Update, WithManager(m), WithJob(j))
	require.True(t, a.Start())
	require.NoError(t, m.Update())
	assert.Equal(t, Running, a.State())

	j.done.Store(true)
	require.NoError(t, m.Update())
	assert.Equal(t, Complete, a.State())

	pending := &job{}
	b := New("pending", Update, WithManager(m), WithJob(pending))
	require.True(t, b.Start())
	require.True(t, b.Stop())
	assert.True(t, pending.completed.Load(), "stopping waits for outstanding jobs")
}

func TestManager_CanStartGate(t *testing.T) {
	m := newTestManager(t)
	var open atomic.Bool
	starts := 0
	a := New("gated", Update,
		WithManager(m),
		WithCanStart(open.Load),
		WithStart(func() { starts++ }),
		WithExecute(func() bool { return true }))
	require.True(t, a.Start())

	require.NoError(t, m.Update())
	assert.Equal(t, Queued, a.State())
	assert.Zero(t, starts)

	open.Store(true)
	require.NoError(t, m.Update())
	require.NoError(t, m.Update())
	assert.Equal(t, Running, a.State())
	assert.Equal(t, 1, starts)
}

func TestManager_StepCallbacks(t *testing.T) {
	m := newTestManager(t)
	var completedWith *Activity
	steps := 0
	a := New("cb", Update,
		WithManager(m),
		OnStep(func(*Activity) bool {
			steps++
			return steps < 2
		}),
		OnCompleted(func(a *Activity) { completedWith = a }))
	require.True(t, a.Start())

	require.NoError(t, m.Update())
	assert.Equal(t, Running, a.State())
	require.NoError(t, m.Update())
	assert.Equal(t, Complete, a.State())
	assert.Same(t, a, completedWith)
}

func TestManager_Stats(t *testing.T) {
	m := newTestManager(t, WithMaxThreads(2), WithAsyncTimeSlice(3*time.Millisecond))
	var calls atomic.Int32
	New("u1", Update, WithManager(m), WithExecute(forever(&calls))).Start()
	New("u2", Update, WithManager(m), WithExecute(forever(&calls))).Start()
	New("l", LateUpdate, WithManager(m), WithExecute(forever(&calls))).Start()
	m.AddInterface(&participantCounter{})

	st := m.Stats()
	assert.Equal(t, ContextStats{Activities: 2, Interfaces: 1}, st.Contexts[Update])
	assert.Equal(t, ContextStats{Activities: 1, Interfaces: 1}, st.Contexts[LateUpdate])
	assert.Equal(t, ContextStats{Activities: 0, Interfaces: 1}, st.Contexts[FixedUpdate])
	assert.Equal(t, 2, st.MaxThreads)
	assert.Equal(t, "3ms", st.AsyncTimeSlice)
	assert.False(t, st.ShutDown)
	assert.NotNil(t, st.Workers)
}

func TestManager_RuntimeKnobsAreClamped(t *testing.T) {
	m := newTestManager(t)

	m.SetAsyncTimeSlice(0)
	assert.Equal(t, time.Millisecond, m.AsyncTimeSlice())
	m.SetMaxThreads(-3)
	assert.Equal(t, 1, m.MaxThreads())
	m.SetMaxThreads(8)
	assert.Equal(t, 8, m.MaxThreads())
}

func TestManager_Shutdown(t *testing.T) {
	m := newTestManager(t)
	var calls atomic.Int32
	u := New("u", Update, WithManager(m), WithExecute(forever(&calls)))
	th := New("th", Thread, WithManager(m), WithExecute(forever(&calls)))
	p := &participantCounter{}
	require.True(t, u.Start())
	require.True(t, th.Start())
	require.True(t, m.AddInterface(p))
	require.Eventually(t, func() bool { return th.State() == Running }, 5*time.Second, time.Millisecond)

	require.NoError(t, m.Shutdown(context.Background()))

	assert.Equal(t, Stopped, u.State())
	assert.Equal(t, Stopped, th.State())
	assert.Empty(t, m.FindAll("", All))
	assert.True(t, m.Stats().ShutDown)
	for _, w := range m.Stats().Workers {
		assert.Equal(t, WorkerAbsent, w.State)
	}

	assert.False(t, u.Start(), "a shut down manager rejects work")
	assert.False(t, m.AddInterface(&participantCounter{}))
	require.NoError(t, m.Update())
	assert.Zero(t, p.updates)

	assert.ErrorIs(t, m.Shutdown(context.Background()), ErrShutdown)
}

func TestManager_ShutdownRacingStarts(t *testing.T) {
	m := newTestManager(t)

	var (
		mu       sync.Mutex
		accepted []*Activity
		wg       sync.WaitGroup
	)
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx := LateUpdate
			if g%2 == 0 {
				ctx = Thread
			}
			for {
				var calls atomic.Int32
				a := New("late", ctx, WithManager(m), WithExecute(forever(&calls)))
				if !a.Start() || !m.AddInterface(&participantCounter{}) {
					return
				}
				mu.Lock()
				accepted = append(accepted, a)
				mu.Unlock()
			}
		}()
	}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(accepted) > 100
	}, 5*time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	for _, a := range accepted {
		assert.NotEqual(t, Queued, a.State(), "%s accepted but left queued", a)
		assert.NotEqual(t, Running, a.State(), "%s accepted but left running", a)
	}
	stats := m.Stats()
	for _, ctx := range []Context{LateUpdate, Update, FixedUpdate} {
		assert.Zero(t, stats.Contexts[ctx].Interfaces, "participants left in %s", ctx)
	}
}

func TestManager_LoggerHook(t *testing.T) {
	hook := logging.NewCapturingLoggerHook(logging.NewLogCollector())
	m := newTestManager(t, WithLoggerHook(hook))

	var a *Activity
	a = New("chatty", Update, WithManager(m), WithExecute(func() bool {
		a.Logger().Info("stepping")
		return false
	}))
	own := New("own", Update,
		WithManager(m),
		WithActivityLogger(logging.Discard()))
	require.True(t, a.Start())
	require.True(t, own.Start())
	require.NoError(t, m.Update())

	logs := hook.Collector().GetLogs(a.UID())
	require.Len(t, logs, 1)
	assert.Equal(t, "stepping", logs[0].Message)
	assert.Empty(t, hook.Collector().GetLogs(own.UID()), "an explicit logger is not replaced")
}

func TestManager_ProfilerAndHistory(t *testing.T) {
	manual := clock.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	profiler := NewProfileHandler()
	history := NewHistory(10)
	m := newTestManager(t, WithClock(manual.Now), WithProfiler(profiler), WithHistory(history))

	a := New("slow", Update, WithManager(m), WithExecute(func() bool {
		manual.Advance(3 * time.Millisecond)
		return false
	}))
	var calls atomic.Int32
	b := New("cancelled", Update, WithManager(m), WithExecute(forever(&calls)))
	require.True(t, a.Start())
	require.True(t, b.Start())
	require.NoError(t, m.Update())
	require.True(t, b.Stop())

	sample, ok := profiler.Get(a.UID())
	require.True(t, ok)
	assert.Equal(t, 3*time.Millisecond, sample.Elapsed)
	assert.Equal(t, uint64(1), sample.Steps)
	assert.Equal(t, Complete, sample.State)
	assert.Equal(t, 3*time.Millisecond, a.Elapsed())

	runs := history.Runs()
	require.Len(t, runs, 2)
	assert.Equal(t, "cancelled", runs[0].ID)
	assert.Equal(t, Stopped, runs[0].State)
	assert.Equal(t, "slow", runs[1].ID)
	assert.Equal(t, Complete, runs[1].State)
	assert.Equal(t, uint64(1), runs[1].Run)
}

func TestManager_Instruments(t *testing.T) {
	registry, err := metrics.NewScrapeRegistry(metrics.WithNamespace("engine"))
	require.NoError(t, err)
	m := newTestManager(t, WithMetrics(registry))

	var calls atomic.Int32
	New("done", Update, WithManager(m)).Start()
	New("boom", Update, WithManager(m), WithExecute(func() bool { panic("boom") })).Start()
	stopped := New("stopped", LateUpdate, WithManager(m), WithExecute(forever(&calls)))
	stopped.Start()
	stopped.Stop()
	require.Error(t, m.Update())

	w := httptest.NewRecorder()
	registry.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := w.Body.String()
	assert.Contains(t, body, `engine_activity_steps_total{context="update"} 2`)
	assert.Contains(t, body, `engine_activity_completed_total{context="update"} 1`)
	assert.Contains(t, body, `engine_activity_faults_total{context="update"} 1`)
	assert.Contains(t, body, `engine_activity_stopped_total{context="late_update"} 1`)
	assert.Contains(t, body, `engine_activity_list_size{context="update"} 1`)

	_, err = NewManager(WithMetrics(registry))
	assert.ErrorContains(t, err, "creating manager instruments")
}
