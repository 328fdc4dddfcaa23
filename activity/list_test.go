package activity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// armed returns an activity in the Queued state of its first run.
func armed(t *testing.T, id string) *Activity {
	t.Helper()
	a := New(id, Update)
	require.True(t, a.arm(nil))
	return a
}

func ids(acts []*Activity) []string {
	out := make([]string, len(acts))
	for i, a := range acts {
		out[i] = a.ID()
	}
	return out
}

func TestContextList_PruneKeepsOrderAndIsIdempotent(t *testing.T) {
	l := newContextList(Update)
	a, b, c, d := armed(t, "a"), armed(t, "b"), armed(t, "c"), armed(t, "d")
	for _, x := range []*Activity{a, b, c, d} {
		require.True(t, l.addActivity(x, x.Runs()))
	}
	require.True(t, l.removeActivity(b, b.Runs()))
	require.True(t, c.cancel())

	l.mu.Lock()
	l.actCursor = 3
	l.prune()
	first := append([]entry(nil), l.acts...)
	cursor := l.actCursor
	l.prune()
	l.mu.Unlock()

	assert.Equal(t, []string{"a", "d"}, ids(l.activities()))
	assert.Equal(t, first, l.acts, "a second prune changes nothing")
	assert.Equal(t, 1, cursor, "the cursor keeps pointing at d")
	assert.Equal(t, 1, l.cursor())
}

func TestContextList_DuplicateAndStaleRuns(t *testing.T) {
	l := newContextList(Update)
	a := armed(t, "a")

	require.True(t, l.addActivity(a, a.Runs()))
	assert.False(t, l.addActivity(a, a.Runs()), "the same run is never added twice")

	require.True(t, a.cancel())
	require.True(t, a.arm(nil))
	require.True(t, l.addActivity(a, a.Runs()))

	acts, _ := l.counts()
	assert.Equal(t, 1, acts)
	assert.False(t, l.removeActivity(a, 1), "the first run's slot was replaced")
	assert.True(t, l.containsActivity(a))
}

func TestContextList_RemovedParticipantIsPruned(t *testing.T) {
	l := newContextList(Async)
	parts := capabilities(&participantCounter{})
	require.NotEmpty(t, parts)
	p := parts[0]

	require.True(t, l.addParticipant(p))
	assert.False(t, l.addParticipant(p))
	assert.False(t, l.empty())

	require.True(t, l.removeParticipant(p))
	assert.False(t, l.removeParticipant(p))
	assert.True(t, l.empty())

	l.mu.Lock()
	l.prune()
	l.mu.Unlock()
	assert.Zero(t, l.size())
}
