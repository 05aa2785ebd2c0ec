// Package outbox implements the bounded, durable, drop-oldest FIFO of
// pending ReplicationEvents (spec §4.6).
//
// Persistence follows the teacher's Store.Snapshot/loadSnapshot pattern
// directly: the entire queue is re-marshaled to a temp file and atomically
// renamed over the previous snapshot on every mutation. The teacher notes
// this is "acceptable because maxSize is small and writes are rare relative
// to [the network]" — exactly the justification spec §4.6 gives for
// rewriting the whole outbox on each mutation.
package outbox

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"
	"time"

	"merklekv/internal/replev"
)

// DefaultMaxSize bounds the outbox (spec §4.6).
const DefaultMaxSize = 10_000

type wireRecord struct {
	Key         string `json:"key"`
	NodeID      string `json:"node_id"`
	Seq         uint64 `json:"seq"`
	TimestampMs int64  `json:"timestamp_ms"`
	Tombstone   bool   `json:"tombstone"`
	Value       string `json:"value,omitempty"`
}

func toWire(ev replev.Event) wireRecord {
	return wireRecord{
		Key: ev.Key, NodeID: ev.NodeID, Seq: ev.Seq,
		TimestampMs: ev.TimestampMs, Tombstone: ev.Tombstone, Value: ev.Value,
	}
}

func fromWire(w wireRecord) replev.Event {
	return replev.Event{
		Key: w.Key, NodeID: w.NodeID, Seq: w.Seq,
		TimestampMs: w.TimestampMs, Tombstone: w.Tombstone, Value: w.Value,
	}
}

// document is the on-disk shape: {events: [...], updated: ISO-8601} (spec §6).
type document struct {
	Events  []wireRecord `json:"events"`
	Updated string       `json:"updated"`
}

// Queue is a bounded, durable FIFO of ReplicationEvents.
type Queue struct {
	mu            sync.Mutex
	events        []replev.Event
	maxSize       int
	path          string
	persist       bool
	lastFlush     *time.Time
	onDrop        func()
}

// Option configures Queue construction.
type Option func(*Queue)

// WithMaxSize overrides DefaultMaxSize.
func WithMaxSize(n int) Option { return func(q *Queue) { q.maxSize = n } }

// WithDropHook registers a callback fired every time drop-oldest evicts an
// entry, used to increment the outbox_drops metric.
func WithDropHook(fn func()) Option { return func(q *Queue) { q.onDrop = fn } }

// Open loads (or creates) the outbox snapshot at path. If the file is
// corrupt, it is truncated to the last good prefix of parseable records and
// rewritten, matching spec §4.6's recovery contract.
func Open(path string, opts ...Option) (*Queue, error) {
	q := &Queue{maxSize: DefaultMaxSize, path: path, persist: true}
	for _, opt := range opts {
		opt(q)
	}

	events, truncated, err := loadDocument(path)
	if err != nil {
		return nil, err
	}
	q.events = events
	if truncated {
		if err := q.persistLocked(); err != nil {
			return nil, err
		}
	}
	return q, nil
}

// OpenInMemory creates a Queue with persistence disabled, used in tests that
// only need FIFO/bounding behavior.
func OpenInMemory(opts ...Option) *Queue {
	q := &Queue{maxSize: DefaultMaxSize, persist: false}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// rawDocument mirrors document but keeps each event as raw JSON so a single
// malformed element doesn't sink the whole file.
type rawDocument struct {
	Events  []json.RawMessage `json:"events"`
	Updated string            `json:"updated"`
}

func loadDocument(path string) (events []replev.Event, truncated bool, err error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer f.Close()

	var raw rawDocument
	dec := json.NewDecoder(bufio.NewReader(f))
	if err := dec.Decode(&raw); err != nil {
		// The document shell itself is corrupt: nothing recoverable.
		return nil, true, nil
	}

	out := make([]replev.Event, 0, len(raw.Events))
	for _, elem := range raw.Events {
		var rec wireRecord
		if err := json.Unmarshal(elem, &rec); err != nil {
			// First bad element: keep the good prefix, drop the rest.
			return out, true, nil
		}
		out = append(out, fromWire(rec))
	}
	return out, false, nil
}

// Enqueue appends event, dropping the oldest entry first if the queue is at
// capacity (spec §4.6/§8 property 8).
func (q *Queue) Enqueue(event replev.Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) >= q.maxSize {
		q.events = q.events[1:]
		if q.onDrop != nil {
			q.onDrop()
		}
	}
	q.events = append(q.events, event)
	return q.persistLocked()
}

// PeekBatch returns up to n events from the front of the queue without
// removing them.
func (q *Queue) PeekBatch(n int) []replev.Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n > len(q.events) {
		n = len(q.events)
	}
	out := make([]replev.Event, n)
	copy(out, q.events[:n])
	return out
}

// AckBatch removes the first n events (the ones a flush just published
// successfully) and records the flush time.
func (q *Queue) AckBatch(n int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n > len(q.events) {
		n = len(q.events)
	}
	q.events = q.events[n:]
	now := time.Now()
	q.lastFlush = &now
	return q.persistLocked()
}

// Size returns the current queue length.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// LastFlushTime returns the last time AckBatch ran, or nil if it never has.
func (q *Queue) LastFlushTime() *time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lastFlush
}

func (q *Queue) persistLocked() error {
	if !q.persist {
		return nil
	}

	recs := make([]wireRecord, len(q.events))
	for i, ev := range q.events {
		recs[i] = toWire(ev)
	}
	doc := document{Events: recs, Updated: time.Now().UTC().Format(time.RFC3339Nano)}

	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	tmp := q.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, q.path)
}
