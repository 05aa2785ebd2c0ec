// Package replev defines the on-wire ReplicationEvent projection of a write
// and its deterministic CBOR encoding, plus conversions to/from the storage
// layer's entry.StorageEntry.
package replev

import "merklekv/internal/entry"

// Event is the on-the-wire projection of a write (spec §3). It carries the
// same identity fields as entry.StorageEntry, but serializes `value` only
// when the write is not a tombstone.
type Event struct {
	Key         string
	NodeID      string
	Seq         uint64
	TimestampMs int64
	Tombstone   bool
	Value       string // empty and not-present-on-wire when Tombstone
}

// FromEntry projects a StorageEntry into its wire Event.
func FromEntry(e entry.StorageEntry) Event {
	ev := Event{
		Key:         e.Key,
		NodeID:      e.NodeID,
		Seq:         e.Seq,
		TimestampMs: e.TimestampMs,
		Tombstone:   e.IsTombstone,
	}
	if !e.IsTombstone {
		ev.Value = e.Value
	}
	return ev
}

// ToEntry reconstructs a StorageEntry from a wire Event.
func (e Event) ToEntry() entry.StorageEntry {
	return entry.StorageEntry{
		Key:         e.Key,
		Value:       e.Value,
		TimestampMs: e.TimestampMs,
		NodeID:      e.NodeID,
		Seq:         e.Seq,
		IsTombstone: e.Tombstone,
	}
}
