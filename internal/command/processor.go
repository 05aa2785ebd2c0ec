package command

import (
	"context"
	"fmt"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"merklekv/internal/entry"
	"merklekv/internal/errs"
	"merklekv/internal/metrics"
	"merklekv/internal/publisher"
	"merklekv/internal/replev"
	"merklekv/internal/seqclock"
	"merklekv/internal/storage"
)

// DefaultIdempotencyMaxEntries and DefaultIdempotencyTTL are the cache
// defaults from spec §4.8 ("10 minutes, 1000 entries").
const (
	DefaultIdempotencyMaxEntries = 1000
	DefaultIdempotencyTTL        = 10 * time.Minute
)

type cachedResponse struct {
	resp      Response
	expiresAt time.Time
}

// Processor executes Commands against local storage, assigns versions via
// seqclock, and hands the resulting event to the publisher — in that order
// (spec §5: "storage commit happens before the corresponding event is
// generated or published").
//
// The op dispatch and per-request validation follow the teacher's
// api/handlers.go PutHandler/GetHandler shape, generalized from single-key
// Gin handlers into op-name-dispatched bulk commands.
type Processor struct {
	store     storage.Backend
	clock     *seqclock.Clock
	nodeID    string
	publisher *publisher.Publisher
	metrics   metrics.Surface
	log       zerolog.Logger
	now       func() time.Time

	idempotency *lru.Cache[string, cachedResponse]
}

// Option configures Processor construction.
type Option func(*Processor)

// WithIdempotencyCache overrides the default LRU size for the idempotency cache.
func WithIdempotencyCache(maxEntries int) Option {
	return func(p *Processor) {
		c, err := lru.New[string, cachedResponse](maxEntries)
		if err == nil {
			p.idempotency = c
		}
	}
}

// WithNow overrides the clock used for timestamps and TTL checks (tests only).
func WithNow(fn func() time.Time) Option {
	return func(p *Processor) { p.now = fn }
}

// New builds a Processor.
func New(store storage.Backend, clock *seqclock.Clock, nodeID string, pub *publisher.Publisher, m metrics.Surface, log zerolog.Logger, opts ...Option) *Processor {
	idem, _ := lru.New[string, cachedResponse](DefaultIdempotencyMaxEntries)
	p := &Processor{
		store:       store,
		clock:       clock,
		nodeID:      nodeID,
		publisher:   pub,
		metrics:     m,
		log:         log,
		now:         time.Now,
		idempotency: idem,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Execute processes a Command and returns its Response. Each write is
// committed to storage first and then handed to p.publisher synchronously,
// so Execute also waits for the publish (or, when offline or on a publish
// failure, the outbox enqueue). A publish error is logged and does not turn
// the Response into an error.
func (p *Processor) Execute(cmd Command) Response {
	if cached, ok := p.lookupIdempotent(cmd.ID); ok {
		p.metrics.IncIdempotentReplays()
		return cached
	}

	resp := p.dispatch(cmd)
	p.cacheIdempotent(cmd.ID, resp)
	return resp
}

func (p *Processor) lookupIdempotent(id string) (Response, bool) {
	if id == "" || p.idempotency == nil {
		return Response{}, false
	}
	cached, ok := p.idempotency.Get(id)
	if !ok {
		return Response{}, false
	}
	if p.now().After(cached.expiresAt) {
		p.idempotency.Remove(id)
		return Response{}, false
	}
	return cached.resp, true
}

func (p *Processor) cacheIdempotent(id string, resp Response) {
	if id == "" || p.idempotency == nil {
		return
	}
	p.idempotency.Add(id, cachedResponse{resp: resp, expiresAt: p.now().Add(DefaultIdempotencyTTL)})
}

func (p *Processor) dispatch(cmd Command) Response {
	switch cmd.Op {
	case OpGet:
		return p.get(cmd)
	case OpSet:
		return p.set(cmd)
	case OpDel:
		return p.del(cmd)
	case OpIncr:
		return p.incrDecr(cmd, 1)
	case OpDecr:
		return p.incrDecr(cmd, -1)
	case OpAppend:
		return p.appendPrepend(cmd, true)
	case OpPrepend:
		return p.appendPrepend(cmd, false)
	case OpMGet:
		return p.mget(cmd)
	case OpMSet:
		return p.mset(cmd)
	default:
		return errorResponse(cmd.ID, errs.InvalidRequest, fmt.Sprintf("unknown op %q", cmd.Op))
	}
}

func validateKey(key string) *errs.Error {
	if key == "" || len(key) > MaxKeyBytes {
		return errs.New(errs.InvalidRequest, fmt.Sprintf("key length %d out of range (1..%d)", len(key), MaxKeyBytes))
	}
	return nil
}

func validateValue(value string) *errs.Error {
	if len(value) > MaxValueBytes {
		return errs.New(errs.PayloadTooLarge, fmt.Sprintf("value length %d exceeds %d", len(value), MaxValueBytes))
	}
	return nil
}

func errorResponse(id string, code errs.Code, msg string) Response {
	return Response{ID: id, Status: ERROR, Error: msg, ErrorCode: int(code)}
}

func (p *Processor) get(cmd Command) Response {
	if verr := validateKey(cmd.Key); verr != nil {
		return errorResponse(cmd.ID, verr.Code, verr.Message)
	}
	e, ok := p.store.Get(cmd.Key)
	if !ok || e.IsTombstone {
		return errorResponse(cmd.ID, errs.NotFound, "key not found")
	}
	return Response{ID: cmd.ID, Status: OK, Value: e.Value}
}

// commit stamps e with a fresh sequence/timestamp, writes it to storage, and
// only then (storage-commit-first, per spec §5) hands the derived event to
// the publisher.
func (p *Processor) commit(e entry.StorageEntry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if err := p.store.Put(e); err != nil {
		return err
	}
	p.metrics.IncWrites(1)
	if p.publisher != nil {
		ev := replev.FromEntry(e)
		if pubErr := p.publisher.Publish(context.Background(), ev); pubErr != nil {
			p.log.Warn().Err(pubErr).Str("key", e.Key).Msg("processor: publish failed, falling back to outbox should have handled this")
		}
	}
	return nil
}

func (p *Processor) commitDelete(key string, ts int64, seq uint64) error {
	if err := p.store.Delete(key, ts, p.nodeID, seq); err != nil {
		return err
	}
	p.metrics.IncWrites(1)
	if p.publisher != nil {
		ev := replev.Event{Key: key, NodeID: p.nodeID, Seq: seq, TimestampMs: ts, Tombstone: true}
		if pubErr := p.publisher.Publish(context.Background(), ev); pubErr != nil {
			p.log.Warn().Err(pubErr).Str("key", key).Msg("processor: publish failed, falling back to outbox should have handled this")
		}
	}
	return nil
}

func (p *Processor) set(cmd Command) Response {
	if verr := validateKey(cmd.Key); verr != nil {
		return errorResponse(cmd.ID, verr.Code, verr.Message)
	}
	if verr := validateValue(cmd.Value); verr != nil {
		return errorResponse(cmd.ID, verr.Code, verr.Message)
	}

	seq := p.clock.Next()
	e := entry.StorageEntry{
		Key:         cmd.Key,
		Value:       cmd.Value,
		TimestampMs: p.now().UnixMilli(),
		NodeID:      p.nodeID,
		Seq:         seq,
	}
	if err := p.commit(e); err != nil {
		return errorResponse(cmd.ID, errs.InternalError, err.Error())
	}
	return Response{ID: cmd.ID, Status: OK}
}

func (p *Processor) del(cmd Command) Response {
	if verr := validateKey(cmd.Key); verr != nil {
		return errorResponse(cmd.ID, verr.Code, verr.Message)
	}
	seq := p.clock.Next()
	if err := p.commitDelete(cmd.Key, p.now().UnixMilli(), seq); err != nil {
		return errorResponse(cmd.ID, errs.InternalError, err.Error())
	}
	return Response{ID: cmd.ID, Status: OK}
}

// incrDecr implements INCR/DECR (spec §4.8): missing key behaves as 0, an
// explicit amount must be nonzero and within [MinIncrAmount, MaxIncrAmount],
// the stored value must parse as a base-10 int64, and a result that would
// overflow int64 is rejected rather than wrapped.
func (p *Processor) incrDecr(cmd Command, sign int64) Response {
	if verr := validateKey(cmd.Key); verr != nil {
		return errorResponse(cmd.ID, verr.Code, verr.Message)
	}

	delta := sign
	if cmd.Amount != nil {
		amt := *cmd.Amount
		if amt == 0 || amt < MinIncrAmount || amt > MaxIncrAmount {
			return errorResponse(cmd.ID, errs.InvalidRequest, "amount must be nonzero and within [-9e15, 9e15]")
		}
		delta = sign * amt
	}

	current := int64(0)
	if e, ok := p.store.Get(cmd.Key); ok && !e.IsTombstone {
		parsed, err := strconv.ParseInt(e.Value, 10, 64)
		if err != nil {
			return errorResponse(cmd.ID, errs.InvalidType, "existing value is not an integer")
		}
		current = parsed
	}

	next, ok := addInt64(current, delta)
	if !ok {
		return errorResponse(cmd.ID, errs.RangeOverflow, "result exceeds int64 range")
	}

	seq := p.clock.Next()
	e := entry.StorageEntry{
		Key:         cmd.Key,
		Value:       strconv.FormatInt(next, 10),
		TimestampMs: p.now().UnixMilli(),
		NodeID:      p.nodeID,
		Seq:         seq,
	}
	if err := p.commit(e); err != nil {
		return errorResponse(cmd.ID, errs.InternalError, err.Error())
	}
	return Response{ID: cmd.ID, Status: OK, Value: e.Value}
}

// appendPrepend implements APPEND/PREPEND (spec §4.8): missing key behaves
// as empty string, result is bound by MaxValueBytes.
func (p *Processor) appendPrepend(cmd Command, append bool) Response {
	if verr := validateKey(cmd.Key); verr != nil {
		return errorResponse(cmd.ID, verr.Code, verr.Message)
	}

	existing := ""
	if e, ok := p.store.Get(cmd.Key); ok && !e.IsTombstone {
		existing = e.Value
	}

	var next string
	if append {
		next = existing + cmd.Value
	} else {
		next = cmd.Value + existing
	}
	if verr := validateValue(next); verr != nil {
		return errorResponse(cmd.ID, verr.Code, verr.Message)
	}

	seq := p.clock.Next()
	e := entry.StorageEntry{
		Key:         cmd.Key,
		Value:       next,
		TimestampMs: p.now().UnixMilli(),
		NodeID:      p.nodeID,
		Seq:         seq,
	}
	if err := p.commit(e); err != nil {
		return errorResponse(cmd.ID, errs.InternalError, err.Error())
	}
	return Response{ID: cmd.ID, Status: OK, Value: next}
}

// addInt64 adds b to a, reporting whether the sum overflowed int64 rather
// than wrapping (spec §7: "104 RangeOverflow - numeric operation exceeds
// int64").
func addInt64(a, b int64) (int64, bool) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, false
	}
	return sum, true
}

func (p *Processor) mget(cmd Command) Response {
	if len(cmd.Keys) == 0 {
		return errorResponse(cmd.ID, errs.InvalidRequest, "mget requires at least one key")
	}
	results := make([]ItemResult, 0, len(cmd.Keys))
	for _, key := range cmd.Keys {
		if verr := validateKey(key); verr != nil {
			results = append(results, ItemResult{Key: key, Status: ERROR, ErrorCode: int(verr.Code), Error: verr.Message})
			continue
		}
		e, ok := p.store.Get(key)
		if !ok || e.IsTombstone {
			results = append(results, ItemResult{Key: key, Status: ERROR, ErrorCode: int(errs.NotFound), Error: "key not found"})
			continue
		}
		results = append(results, ItemResult{Key: key, Status: OK, Value: e.Value})
	}
	return Response{ID: cmd.ID, Status: OK, Results: results}
}

func (p *Processor) mset(cmd Command) Response {
	if len(cmd.KeyValues) == 0 {
		return errorResponse(cmd.ID, errs.InvalidRequest, "mset requires at least one key-value pair")
	}

	total := 0
	for _, kv := range cmd.KeyValues {
		total += len(kv.Key) + len(kv.Value)
	}
	if total > MaxBulkPayloadBytes {
		return errorResponse(cmd.ID, errs.PayloadTooLarge, "bulk payload exceeds size limit")
	}

	results := make([]ItemResult, 0, len(cmd.KeyValues))
	for _, kv := range cmd.KeyValues {
		key, value := kv.Key, kv.Value
		if verr := validateKey(key); verr != nil {
			results = append(results, ItemResult{Key: key, Status: ERROR, ErrorCode: int(verr.Code), Error: verr.Message})
			continue
		}
		if verr := validateValue(value); verr != nil {
			results = append(results, ItemResult{Key: key, Status: ERROR, ErrorCode: int(verr.Code), Error: verr.Message})
			continue
		}

		seq := p.clock.Next()
		e := entry.StorageEntry{
			Key:         key,
			Value:       value,
			TimestampMs: p.now().UnixMilli(),
			NodeID:      p.nodeID,
			Seq:         seq,
		}
		if err := p.commit(e); err != nil {
			results = append(results, ItemResult{Key: key, Status: ERROR, ErrorCode: int(errs.InternalError), Error: err.Error()})
			continue
		}
		results = append(results, ItemResult{Key: key, Status: OK})
	}
	return Response{ID: cmd.ID, Status: OK, Results: results}
}
