package entry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkEntry(key, value, nodeID string, ts int64) StorageEntry {
	return StorageEntry{Key: key, Value: value, NodeID: nodeID, TimestampMs: ts}
}

func TestResolve_RemoteNewerWins(t *testing.T) {
	now := time.UnixMilli(10_000_000)
	existing := mkEntry("k", "v1", "A", 1000)
	incoming := mkEntry("k", "v2", "B", 2000)

	assert.Equal(t, RemoteWins, Resolve(existing, incoming, now))
	// Swapping roles flips the verdict — commutative up to equivalence.
	assert.Equal(t, LocalWins, Resolve(incoming, existing, now))
}

func TestResolve_EqualTimestampTieBreaksOnNodeID(t *testing.T) {
	now := time.UnixMilli(10_000_000)
	a := mkEntry("k", "vA", "A", 1000)
	b := mkEntry("k", "vB", "B", 1000)

	// "B" > "A" lexicographically, so B should win regardless of call order.
	assert.Equal(t, RemoteWins, Resolve(a, b, now))
	assert.Equal(t, LocalWins, Resolve(b, a, now))
}

func TestResolve_DuplicateSameContentSameKey(t *testing.T) {
	now := time.UnixMilli(10_000_000)
	a := mkEntry("k", "v", "A", 1000)
	b := mkEntry("k", "v", "A", 1000)
	assert.Equal(t, Duplicate, Resolve(a, b, now))
}

func TestResolve_ConflictSameKeyDifferentContent(t *testing.T) {
	now := time.UnixMilli(10_000_000)
	a := mkEntry("k", "v1", "A", 1000)
	b := mkEntry("k", "v2", "A", 1000)
	assert.Equal(t, Conflict, Resolve(a, b, now))
	assert.Equal(t, Conflict, Resolve(b, a, now))
}

func TestResolve_TombstoneWinsOverValue(t *testing.T) {
	now := time.UnixMilli(10_000_000)
	value := mkEntry("k", "v", "A", 1000)
	tombstone := StorageEntry{Key: "k", NodeID: "B", TimestampMs: 2000, IsTombstone: true}
	assert.Equal(t, RemoteWins, Resolve(value, tombstone, now))
}

func TestClamp_NonRegression(t *testing.T) {
	now := time.UnixMilli(1_000_000_000)
	within := now.UnixMilli() + 1000
	require.Equal(t, within, Clamp(within, now))

	tooFar := now.UnixMilli() + MaxFutureSkewMs + 60_000
	require.Equal(t, now.UnixMilli()+MaxFutureSkewMs, Clamp(tooFar, now))

	// Exactly at the bound is untouched.
	atBound := now.UnixMilli() + MaxFutureSkewMs
	require.Equal(t, atBound, Clamp(atBound, now))
}

func TestEntryValidate(t *testing.T) {
	ok := StorageEntry{Key: "k", Value: "v", NodeID: "A", TimestampMs: 1}
	require.NoError(t, ok.Validate())

	missingKey := ok
	missingKey.Key = ""
	require.Error(t, missingKey.Validate())

	badTs := ok
	badTs.TimestampMs = 0
	require.Error(t, badTs.Validate())
}
