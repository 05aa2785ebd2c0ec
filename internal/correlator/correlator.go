// Package correlator implements the Command Correlator (spec §4.9): the
// client side of request/response matching over the pub/sub transport.
//
// Where the teacher's internal/client issues one HTTP request per call and
// blocks on its response directly, MerkleKV's transport is asynchronous
// pub/sub — a published command and its response arrive as two independent
// messages, so this package reproduces the teacher's "one call in, one
// result out" ergonomics (client.Put, client.Get) on top of an in-flight
// map keyed by request id instead of an HTTP round trip.
package correlator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"merklekv/internal/command"
	"merklekv/internal/errs"
	"merklekv/internal/transport"
)

// replyCacheSize bounds the reply-dedup cache so a long-lived client doesn't
// grow it unboundedly (spec §4.9).
const replyCacheSize = 4096

// Timeout tiers from spec §4.9: single-key ops get the shortest budget,
// multi-key bulk ops more, and whole-store sync operations the most.
const (
	SingleKeyTimeout = 10 * time.Second
	MultiKeyTimeout  = 20 * time.Second
	SyncTimeout      = 30 * time.Second
)

// MaxCommandBytes caps the encoded size of an outbound command.
const MaxCommandBytes = 512 * 1024

// pending is one in-flight request: possibly several Send calls sharing the
// same request id (spec §4.9: a repeated in-flight id joins the existing
// request instead of issuing a second one), each with its own waiter
// channel so every caller is woken once the response arrives.
type pending struct {
	waiters []chan command.Response
	refs    int
}

// Correlator assigns request ids, publishes commands, and resolves their
// responses as they arrive on the reply topic.
type Correlator struct {
	transport  transport.Transport
	requestTopic string
	replyTopic   string
	log        zerolog.Logger

	mu       sync.Mutex
	inFlight map[string]*pending
	replied  *lru.Cache[string, command.Response] // dedup cache: id -> last response seen

	timeoutFor func(op string) time.Duration
}

// Option configures Correlator construction.
type Option func(*Correlator)

// WithTimeoutFunc overrides the op -> timeout mapping (tests only; production
// callers use the spec §4.9 default tiers).
func WithTimeoutFunc(fn func(op string) time.Duration) Option {
	return func(c *Correlator) { c.timeoutFor = fn }
}

// New creates a Correlator and subscribes to the reply topic.
func New(t transport.Transport, topicPrefix string, log zerolog.Logger, opts ...Option) (*Correlator, error) {
	replied, err := lru.New[string, command.Response](replyCacheSize)
	if err != nil {
		return nil, fmt.Errorf("correlator: reply cache: %w", err)
	}
	c := &Correlator{
		transport:    t,
		requestTopic: topicPrefix + "/commands/request",
		replyTopic:   topicPrefix + "/commands/response",
		log:          log,
		inFlight:     make(map[string]*pending),
		replied:      replied,
		timeoutFor:   defaultTimeoutFor,
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := t.Subscribe(c.replyTopic, c.onResponse); err != nil {
		return nil, fmt.Errorf("correlator: subscribe: %w", err)
	}
	return c, nil
}

// defaultTimeoutFor picks the timeout tier for an op (spec §4.9).
func defaultTimeoutFor(op string) time.Duration {
	switch op {
	case command.OpMGet, command.OpMSet:
		return MultiKeyTimeout
	default:
		return SingleKeyTimeout
	}
}

// validateID checks the request id invariant of spec §4.9: length in
// [1,64], and, when the length matches a canonical UUID (36 chars), the
// string must actually parse as a UUIDv4.
func validateID(id string) *errs.Error {
	if l := len(id); l < 1 || l > 64 {
		return errs.New(errs.InvalidRequest, fmt.Sprintf("request id length %d out of range (1..64)", l))
	}
	if len(id) == 36 {
		parsed, err := uuid.Parse(id)
		if err != nil || parsed.Version() != 4 {
			return errs.New(errs.InvalidRequest, "request id is not a canonical UUIDv4")
		}
	}
	return nil
}

// Send assigns cmd a UUIDv4 id if it doesn't already have one, publishes it,
// and blocks until either the matching response arrives, ctx is cancelled,
// or the op's timeout tier elapses — whichever comes first. A timed-out
// request resolves as a Timeout error response, and that timeout response is
// never cached; a reply that arrives later is still cached by onResponse and
// returned to a subsequent Send with the same id. A request id that is
// already in flight joins the existing request instead of publishing a
// second copy of the command.
func (c *Correlator) Send(ctx context.Context, cmd command.Command) (command.Response, error) {
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	if verr := validateID(cmd.ID); verr != nil {
		return command.Response{}, verr
	}

	if cached, ok := c.cachedReply(cmd.ID); ok {
		return cached, nil
	}

	ch := make(chan command.Response, 1)

	c.mu.Lock()
	p, alreadyInFlight := c.inFlight[cmd.ID]
	if !alreadyInFlight {
		p = &pending{}
		c.inFlight[cmd.ID] = p
	}
	p.waiters = append(p.waiters, ch)
	p.refs++
	c.mu.Unlock()
	defer c.release(cmd.ID)

	if !alreadyInFlight {
		payload, err := json.Marshal(cmd)
		if err != nil {
			return command.Response{}, fmt.Errorf("correlator: encode command: %w", err)
		}
		if len(payload) > MaxCommandBytes {
			return command.Response{}, errs.New(errs.PayloadTooLarge, "command payload exceeds size limit")
		}
		if err := c.transport.Publish(ctx, c.requestTopic, payload, 1, false); err != nil {
			return command.Response{}, fmt.Errorf("correlator: publish: %w", err)
		}
	}

	timeout := c.timeoutFor(cmd.Op)
	select {
	case resp := <-ch:
		return resp, nil
	case <-time.After(timeout):
		c.log.Warn().Str("id", cmd.ID).Str("op", cmd.Op).Dur("timeout", timeout).Msg("correlator: command timed out")
		return command.Response{
			ID:        cmd.ID,
			Status:    command.ERROR,
			Error:     "command timed out",
			ErrorCode: int(errs.Timeout),
		}, nil
	case <-ctx.Done():
		return command.Response{}, ctx.Err()
	}
}

// release drops this caller's stake in the in-flight entry for id, removing
// the entry itself only once every joined caller has given up on it —
// otherwise a caller that finishes first (success or timeout) would delete
// the shared entry out from under a still-waiting duplicate.
func (c *Correlator) release(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.inFlight[id]
	if !ok {
		return
	}
	p.refs--
	if p.refs <= 0 {
		delete(c.inFlight, id)
	}
}

// cachedReply returns a previously-observed reply for id, tagged as an
// idempotent replay (spec §7 code 110) rather than the verbatim original
// response.
func (c *Correlator) cachedReply(id string) (command.Response, bool) {
	resp, ok := c.replied.Get(id)
	if !ok {
		return command.Response{}, false
	}
	resp.ErrorCode = int(errs.IdempotentReplay)
	return resp, true
}

// onResponse is the transport.Handler bound to the reply topic. A response
// for a request that is no longer in flight (already timed out, or a
// duplicate redelivery) is cached for dedup but otherwise dropped. Every
// waiter sharing the request's id (see Send) is woken.
func (c *Correlator) onResponse(_ string, payload []byte) {
	var resp command.Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		c.log.Warn().Err(err).Msg("correlator: discarding malformed response")
		return
	}

	c.replied.Add(resp.ID, resp)

	c.mu.Lock()
	p, ok := c.inFlight[resp.ID]
	var waiters []chan command.Response
	if ok {
		waiters = append(waiters, p.waiters...)
	}
	c.mu.Unlock()

	for _, ch := range waiters {
		select {
		case ch <- resp:
		default:
		}
	}
}
