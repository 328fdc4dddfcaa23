package activity

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type participantCounter struct {
	updates, lates, fixed int
	disabled              bool
}

func (p *participantCounter) OnUpdate()      { p.updates++ }
func (p *participantCounter) OnLateUpdate()  { p.lates++ }
func (p *participantCounter) OnFixedUpdate() { p.fixed++ }
func (p *participantCounter) Enabled() bool  { return !p.disabled }

type threadCounter struct {
	ticks atomic.Int32
}

func (c *threadCounter) OnThreadUpdate() { c.ticks.Add(1) }

type asyncPanicker struct{}

func (*asyncPanicker) OnAsyncUpdate() { panic("tick failed") }

type unhashable []int

func (unhashable) OnUpdate() {}

// boxed is comparable by type but holds a value that cannot be hashed.
type boxed struct {
	value any
}

func (boxed) OnUpdate() {}

func TestManager_AddInterface(t *testing.T) {
	m := newTestManager(t)
	p := &participantCounter{}

	require.True(t, m.AddInterface(p))
	assert.False(t, m.AddInterface(p), "registering twice is rejected")

	require.NoError(t, m.Update())
	require.NoError(t, m.LateUpdate())
	require.NoError(t, m.FixedUpdate())
	require.NoError(t, m.FixedUpdate())
	assert.Equal(t, 1, p.updates)
	assert.Equal(t, 1, p.lates)
	assert.Equal(t, 2, p.fixed)

	p.disabled = true
	require.NoError(t, m.Update())
	assert.Equal(t, 1, p.updates, "disabled participants keep their slot but are not ticked")
	assert.Equal(t, 1, m.Stats().Contexts[Update].Interfaces)

	p.disabled = false
	require.True(t, m.RemoveInterface(p))
	assert.False(t, m.RemoveInterface(p))
	require.NoError(t, m.Update())
	assert.Equal(t, 1, p.updates)
	assert.Zero(t, m.Stats().Contexts[Update].Interfaces)
}

func TestManager_AddInterfaceWithoutCapabilities(t *testing.T) {
	m := newTestManager(t)

	assert.False(t, m.AddInterface(nil))
	assert.False(t, m.AddInterface(42))
	assert.False(t, m.AddInterface(unhashable{1}))
	assert.False(t, m.RemoveInterface(unhashable{1}))
	assert.NotPanics(t, func() {
		assert.False(t, m.AddInterface(boxed{value: []int{1}}))
		assert.False(t, m.RemoveInterface(boxed{value: []int{1}}))
	})
	assert.True(t, m.AddInterface(boxed{value: 1}), "a hashable value in the box is fine")
}

func TestManager_ThreadParticipant(t *testing.T) {
	m := newTestManager(t)
	c := &threadCounter{}
	require.True(t, m.AddInterface(c))

	require.Eventually(t, func() bool { return c.ticks.Load() > 3 }, 5*time.Second, time.Millisecond)

	require.True(t, m.RemoveInterface(c))
	require.Eventually(t, func() bool {
		return m.Stats().Contexts[Thread].Interfaces == 0
	}, 5*time.Second, time.Millisecond)
}

func TestManager_ParticipantPanicIsAFault(t *testing.T) {
	m := newTestManager(t, WithAsyncTimeSlice(time.Millisecond))
	require.True(t, m.AddInterface(&asyncPanicker{}))

	err := m.Update()
	require.Error(t, err)
	faults := stepFaults(err)
	require.NotEmpty(t, faults)
	assert.Equal(t, Async, faults[0].Context)
	assert.Equal(t, "*activity.asyncPanicker", faults[0].ID)
	assert.Equal(t, "tick failed", faults[0].Value)
}

func TestManager_ParticipantAddedDuringPassWaits(t *testing.T) {
	m := newTestManager(t)
	late := &participantCounter{}
	a := New("registrar", Update, WithManager(m), WithExecute(func() bool {
		m.AddInterface(late)
		return false
	}))
	require.True(t, a.Start())

	require.NoError(t, m.Update())
	assert.Zero(t, late.updates)
	require.NoError(t, m.Update())
	assert.Equal(t, 1, late.updates)
}
