// Package metrics defines the counters/gauges/histograms consumed
// throughout MerkleKV (spec §2 component 10, §9: "metrics... abstract
// collaborators... interfaces"). No pack repo wires a concrete metrics
// client (Prometheus, statsd, …) to a component this spec owns, so the
// surface here is a small injected interface with a stdlib-only in-process
// implementation — see DESIGN.md for why this is the one ambient concern
// left on stdlib primitives rather than a third-party client.
package metrics

import "sync/atomic"

// Surface is every counter/gauge this spec's components touch. Grouping
// them as named methods (rather than a generic Inc(name string)) keeps call
// sites self-documenting and keeps the implementation free of string-typos.
type Surface interface {
	IncSequencePersistenceErrors()
	IncEventsPublished(n int)
	IncPublishErrors()
	IncOutboxDrops()
	IncEventsRejected()
	IncEventsDuplicate()
	IncEventsApplied()
	IncEventsConflict()
	IncWrites(n int)
	IncIdempotentReplays()
	ObservePublishLatencyMs(ms float64)
	ObserveApplyDurationMs(ms float64)
	SetOutboxSize(n int)
}

// Counters is a stdlib-only in-process Surface implementation: atomic
// counters plus a cheap running-average for the two histograms. It is
// intended to be wrapped or scraped by whatever observability stack a
// deployment already runs (anti-entropy Merkle-tree sync metrics, referenced
// in spec §1, are likewise out of this repo's scope and would be recorded
// through the same Surface by its owner).
type Counters struct {
	sequencePersistenceErrors uint64
	eventsPublished           uint64
	publishErrors             uint64
	outboxDrops               uint64
	eventsRejected            uint64
	eventsDuplicate           uint64
	eventsApplied             uint64
	eventsConflict            uint64
	writes                    uint64
	idempotentReplays         uint64
	outboxSize                int64

	publishLatencySum   uint64 // fixed-point microseconds, for lock-free accumulation
	publishLatencyCount uint64
	applyDurationSum    uint64
	applyDurationCount  uint64
}

// NewCounters creates a zeroed Counters surface.
func NewCounters() *Counters { return &Counters{} }

func (c *Counters) IncSequencePersistenceErrors() { atomic.AddUint64(&c.sequencePersistenceErrors, 1) }
func (c *Counters) IncEventsPublished(n int)       { atomic.AddUint64(&c.eventsPublished, uint64(n)) }
func (c *Counters) IncPublishErrors()              { atomic.AddUint64(&c.publishErrors, 1) }
func (c *Counters) IncOutboxDrops()                { atomic.AddUint64(&c.outboxDrops, 1) }
func (c *Counters) IncEventsRejected()             { atomic.AddUint64(&c.eventsRejected, 1) }
func (c *Counters) IncEventsDuplicate()            { atomic.AddUint64(&c.eventsDuplicate, 1) }
func (c *Counters) IncEventsApplied()              { atomic.AddUint64(&c.eventsApplied, 1) }
func (c *Counters) IncEventsConflict()             { atomic.AddUint64(&c.eventsConflict, 1) }
func (c *Counters) IncWrites(n int)                { atomic.AddUint64(&c.writes, uint64(n)) }
func (c *Counters) IncIdempotentReplays()          { atomic.AddUint64(&c.idempotentReplays, 1) }

func (c *Counters) SetOutboxSize(n int) { atomic.StoreInt64(&c.outboxSize, int64(n)) }

func (c *Counters) ObservePublishLatencyMs(ms float64) {
	atomic.AddUint64(&c.publishLatencySum, uint64(ms*1000))
	atomic.AddUint64(&c.publishLatencyCount, 1)
}

func (c *Counters) ObserveApplyDurationMs(ms float64) {
	atomic.AddUint64(&c.applyDurationSum, uint64(ms*1000))
	atomic.AddUint64(&c.applyDurationCount, 1)
}

// Snapshot is a point-in-time read of every counter, used by the admin
// /metrics endpoint and tests.
type Snapshot struct {
	SequencePersistenceErrors uint64
	EventsPublished           uint64
	PublishErrors             uint64
	OutboxDrops               uint64
	EventsRejected            uint64
	EventsDuplicate           uint64
	EventsApplied             uint64
	EventsConflict            uint64
	Writes                    uint64
	IdempotentReplays         uint64
	OutboxSize                int64
	AvgPublishLatencyMs       float64
	AvgApplyDurationMs        float64
}

func (c *Counters) Snapshot() Snapshot {
	s := Snapshot{
		SequencePersistenceErrors: atomic.LoadUint64(&c.sequencePersistenceErrors),
		EventsPublished:           atomic.LoadUint64(&c.eventsPublished),
		PublishErrors:             atomic.LoadUint64(&c.publishErrors),
		OutboxDrops:               atomic.LoadUint64(&c.outboxDrops),
		EventsRejected:            atomic.LoadUint64(&c.eventsRejected),
		EventsDuplicate:           atomic.LoadUint64(&c.eventsDuplicate),
		EventsApplied:             atomic.LoadUint64(&c.eventsApplied),
		EventsConflict:            atomic.LoadUint64(&c.eventsConflict),
		Writes:                    atomic.LoadUint64(&c.writes),
		IdempotentReplays:         atomic.LoadUint64(&c.idempotentReplays),
		OutboxSize:                atomic.LoadInt64(&c.outboxSize),
	}
	if n := atomic.LoadUint64(&c.publishLatencyCount); n > 0 {
		s.AvgPublishLatencyMs = float64(atomic.LoadUint64(&c.publishLatencySum)) / float64(n) / 1000
	}
	if n := atomic.LoadUint64(&c.applyDurationCount); n > 0 {
		s.AvgApplyDurationMs = float64(atomic.LoadUint64(&c.applyDurationSum)) / float64(n) / 1000
	}
	return s
}

// Nop is a Surface that discards everything, used when metrics are not wired.
type Nop struct{}

func (Nop) IncSequencePersistenceErrors()     {}
func (Nop) IncEventsPublished(int)            {}
func (Nop) IncPublishErrors()                 {}
func (Nop) IncOutboxDrops()                   {}
func (Nop) IncEventsRejected()                {}
func (Nop) IncEventsDuplicate()               {}
func (Nop) IncEventsApplied()                 {}
func (Nop) IncEventsConflict()                {}
func (Nop) IncWrites(int)                     {}
func (Nop) IncIdempotentReplays()             {}
func (Nop) ObservePublishLatencyMs(float64)   {}
func (Nop) ObserveApplyDurationMs(float64)    {}
func (Nop) SetOutboxSize(int)                 {}
