// Package applicator implements the canonical inbound replication pipeline
// (spec §4.5): validate -> dedup check -> clamp -> LWW -> commit -> mark-seen.
//
// The pipeline shape is grounded on the teacher's Store.ApplyRemote, which
// already does "compare vector clocks, discard older, keep anomalies, commit
// winners" in one method; here it is split into named steps and widened to
// cover dedup, clamping, and structured status reporting per the spec.
package applicator

import (
	"time"

	"github.com/rs/zerolog"

	"merklekv/internal/dedup"
	"merklekv/internal/entry"
	"merklekv/internal/metrics"
	"merklekv/internal/replev"
	"merklekv/internal/storage"
)

// Result is the tagged outcome of applying one event (spec §9).
type Result int

const (
	Applied Result = iota
	Duplicate
	Rejected
	ConflictResult
)

func (r Result) String() string {
	switch r {
	case Applied:
		return "Applied"
	case Duplicate:
		return "Duplicate"
	case Rejected:
		return "Rejected"
	case ConflictResult:
		return "Conflict"
	default:
		return "Unknown"
	}
}

// RejectReason enumerates why an event was rejected or conflicted.
type RejectReason string

const (
	ReasonNone         RejectReason = ""
	ReasonInvalid      RejectReason = "invalid"
	ReasonOlder        RejectReason = "older"
	ReasonContentClash RejectReason = "content_clash"
)

// Status is the structured application outcome emitted to observers (spec
// §4.5 step 6).
type Status struct {
	Result       Result
	Reason       RejectReason
	Key          string
	NodeID       string
	Seq          uint64
	ProcessingMs float64
}

// Applicator wires storage, dedup tracking, and metrics into the inbound
// pipeline. A single Applicator instance must only be driven by one
// goroutine at a time per key — the spec's "serialized per key" contract
// (§4.5) — callers are expected to route events for the same key through the
// same worker; Applicator itself does not fan out concurrency.
type Applicator struct {
	store   storage.Backend
	dedup   *dedup.Tracker
	metrics metrics.Surface
	log     zerolog.Logger
	now     func() time.Time
}

// New creates an Applicator.
func New(store storage.Backend, tracker *dedup.Tracker, m metrics.Surface, log zerolog.Logger) *Applicator {
	return &Applicator{store: store, dedup: tracker, metrics: m, log: log, now: time.Now}
}

// Apply runs the full inbound pipeline for one decoded event. It never
// returns an error to the caller — per spec §7, applicator failures are
// counted and logged, never surfaced — the Status return value carries the
// outcome instead.
func (a *Applicator) Apply(ev replev.Event) Status {
	start := a.now()
	status := a.apply(ev)
	status.ProcessingMs = float64(a.now().Sub(start).Microseconds()) / 1000
	a.report(status)
	return status
}

func (a *Applicator) apply(ev replev.Event) Status {
	base := Status{Key: ev.Key, NodeID: ev.NodeID, Seq: ev.Seq}

	if err := ev.ToEntry().Validate(); err != nil {
		a.metrics.IncEventsRejected()
		base.Result = Rejected
		base.Reason = ReasonInvalid
		return base
	}

	if a.dedup.IsDuplicate(ev.NodeID, ev.Seq) {
		base.Result = Duplicate
		a.metrics.IncEventsDuplicate()
		return base
	}

	now := a.now()
	incoming := ev.ToEntry()
	incoming.TimestampMs = entry.Clamp(incoming.TimestampMs, now)

	existing, exists := a.store.Get(ev.Key)
	outcome := entry.RemoteWins
	if exists {
		outcome = entry.Resolve(existing, incoming, now)
	}

	switch outcome {
	case entry.LocalWins:
		base.Result = Rejected
		base.Reason = ReasonOlder
		return base

	case entry.Duplicate:
		base.Result = Duplicate
		a.metrics.IncEventsDuplicate()
		a.dedup.MarkSeen(ev.NodeID, ev.Seq)
		return base

	case entry.Conflict:
		base.Result = ConflictResult
		base.Reason = ReasonContentClash
		a.metrics.IncEventsConflict()
		return base
	}

	// RemoteWins: commit, then mark seen.
	var err error
	if incoming.IsTombstone {
		err = a.store.Delete(ev.Key, incoming.TimestampMs, incoming.NodeID, incoming.Seq)
	} else {
		err = a.store.Put(incoming)
	}
	if err != nil {
		a.log.Error().Err(err).Str("key", ev.Key).Msg("applicator: storage commit failed")
		a.metrics.IncEventsRejected()
		base.Result = Rejected
		base.Reason = ReasonInvalid
		return base
	}

	a.dedup.MarkSeen(ev.NodeID, ev.Seq)
	base.Result = Applied
	a.metrics.IncEventsApplied()
	return base
}

func (a *Applicator) report(s Status) {
	a.metrics.ObserveApplyDurationMs(s.ProcessingMs)
	ev := a.log.Debug()
	if s.Result == ConflictResult {
		ev = a.log.Warn()
	}
	ev.Str("result", s.Result.String()).
		Str("reason", string(s.Reason)).
		Str("key", s.Key).
		Str("node_id", s.NodeID).
		Uint64("seq", s.Seq).
		Float64("processing_ms", s.ProcessingMs).
		Msg("applicator: processed event")
}
