package applicator

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"merklekv/internal/dedup"
	"merklekv/internal/metrics"
	"merklekv/internal/replev"
	"merklekv/internal/storage"
)

func newTestApplicator() (*Applicator, storage.Backend) {
	store := storage.NewMemory()
	tr := dedup.New()
	a := New(store, tr, metrics.Nop{}, zerolog.Nop())
	return a, store
}

func TestApply_NewWriteIsApplied(t *testing.T) {
	a, store := newTestApplicator()
	ev := replev.Event{Key: "k", NodeID: "A", Seq: 1, TimestampMs: 1000, Value: "v1"}

	status := a.Apply(ev)
	assert.Equal(t, Applied, status.Result)

	got, ok := store.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v1", got.Value)
}

func TestApply_DuplicateEventSecondTime(t *testing.T) {
	a, _ := newTestApplicator()
	ev := replev.Event{Key: "k", NodeID: "X", Seq: 42, TimestampMs: 1000, Value: "v"}

	first := a.Apply(ev)
	second := a.Apply(ev)

	assert.Equal(t, Applied, first.Result)
	assert.Equal(t, Duplicate, second.Result)
}

func TestApply_OlderEventRejected(t *testing.T) {
	a, store := newTestApplicator()
	newer := replev.Event{Key: "k", NodeID: "B", Seq: 1, TimestampMs: 2000, Value: "v2"}
	older := replev.Event{Key: "k", NodeID: "A", Seq: 1, TimestampMs: 1000, Value: "v1"}

	require.Equal(t, Applied, a.Apply(newer).Result)
	status := a.Apply(older)
	assert.Equal(t, Rejected, status.Result)
	assert.Equal(t, ReasonOlder, status.Reason)

	got, _ := store.Get("k")
	assert.Equal(t, "v2", got.Value, "storage must not regress to the older value")
}

func TestApply_TombstoneWinsOverValue(t *testing.T) {
	a, store := newTestApplicator()
	value := replev.Event{Key: "k", NodeID: "A", Seq: 1, TimestampMs: 1000, Value: "v"}
	del := replev.Event{Key: "k", NodeID: "B", Seq: 1, TimestampMs: 2000, Tombstone: true}

	require.Equal(t, Applied, a.Apply(value).Result)
	status := a.Apply(del)
	assert.Equal(t, Applied, status.Result)

	got, ok := store.Get("k")
	require.True(t, ok)
	assert.True(t, got.IsTombstone)
}

func TestApply_ConflictKeepsExisting(t *testing.T) {
	a, store := newTestApplicator()
	first := replev.Event{Key: "k", NodeID: "A", Seq: 1, TimestampMs: 1000, Value: "vA"}
	clash := replev.Event{Key: "k", NodeID: "A", Seq: 2, TimestampMs: 1000, Value: "vB"}

	require.Equal(t, Applied, a.Apply(first).Result)
	status := a.Apply(clash)
	assert.Equal(t, ConflictResult, status.Result)

	got, _ := store.Get("k")
	assert.Equal(t, "vA", got.Value, "conflicting write must not overwrite the existing entry")
}

func TestApply_InvalidEventRejectedWithoutMarkingSeen(t *testing.T) {
	a, _ := newTestApplicator()
	bad := replev.Event{Key: "", NodeID: "A", Seq: 1, TimestampMs: 1000, Value: "v"}

	status := a.Apply(bad)
	assert.Equal(t, Rejected, status.Result)
	assert.Equal(t, ReasonInvalid, status.Reason)
	assert.False(t, a.dedup.IsDuplicate("A", 1), "a rejected event must not be marked seen")
}
