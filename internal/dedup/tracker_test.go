package dedup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_BasicDuplicateDetection(t *testing.T) {
	tr := New()
	assert.False(t, tr.IsDuplicate("A", 1))
	tr.MarkSeen("A", 1)
	assert.True(t, tr.IsDuplicate("A", 1))
	assert.False(t, tr.IsDuplicate("A", 2))
	assert.False(t, tr.IsDuplicate("B", 1))
}

func TestTracker_WindowSlidesForward(t *testing.T) {
	tr := New(WithWindowSize(16))
	for i := uint64(1); i <= 16; i++ {
		tr.MarkSeen("A", i)
	}
	// All 16 should still be within the window.
	for i := uint64(1); i <= 16; i++ {
		assert.True(t, tr.IsDuplicate("A", i), "seq %d", i)
	}

	// Marking seq 20 (>= base+size) slides the window; newBase = 20 - 8 = 12.
	tr.MarkSeen("A", 20)
	assert.True(t, tr.IsDuplicate("A", 20))
	assert.True(t, tr.IsDuplicate("A", 12))
	assert.False(t, tr.IsDuplicate("A", 1), "old seq should have fallen out of the window")
}

func TestTracker_OlderThanBaseIgnored(t *testing.T) {
	tr := New(WithWindowSize(16))
	tr.MarkSeen("A", 100)
	tr.MarkSeen("A", 1) // far below base, ignored
	assert.False(t, tr.IsDuplicate("A", 1))
}

func TestTracker_MaxNodesEviction(t *testing.T) {
	tr := New(WithMaxNodes(2))
	tr.MarkSeen("A", 1)
	tr.MarkSeen("B", 1)
	require.Equal(t, 2, tr.PeerCount())

	tr.MarkSeen("C", 1) // evicts least-recently-used peer
	require.Equal(t, 2, tr.PeerCount())
}

func TestTracker_CleanupIdle(t *testing.T) {
	cur := time.Unix(0, 0)
	tr := New(WithTTL(time.Hour), withClock(func() time.Time { return cur }))
	tr.MarkSeen("A", 1)

	cur = cur.Add(30 * time.Minute)
	tr.MarkSeen("B", 1)

	cur = cur.Add(45 * time.Minute) // A is now 75m idle, B is 45m idle
	evicted := tr.CleanupIdle()
	assert.Equal(t, 1, evicted)
	assert.Equal(t, 1, tr.PeerCount())
	assert.False(t, tr.IsDuplicate("A", 1))
	assert.True(t, tr.IsDuplicate("B", 1))
}
