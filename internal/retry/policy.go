// Package retry implements the client-side exponential-backoff-with-jitter
// policy of spec §4.10.
//
// The formula is a direct generalization of the teacher's hand-rolled
// backoff in cluster/replicator.go (sendReplicateRequest: "100ms, 200ms,
// 400ms... with a cap") — widened to add jitter and a terminal/retriable
// error classification. No pack library wraps this better than stdlib
// math/rand + time; see DESIGN.md.
package retry

import (
	"math"
	"math/rand"
	"time"
)

// Class classifies an error for retry purposes (spec §4.10).
type Class int

const (
	// Retriable errors are connection/timeout/transport class.
	Retriable Class = iota
	// Terminal errors are validation/auth/size class — never retried.
	Terminal
)

// Classifier decides whether an error is retriable.
type Classifier func(error) Class

// Policy is exponential backoff with jitter.
type Policy struct {
	Initial     time.Duration
	Backoff     float64
	MaxDelay    time.Duration
	Jitter      float64
	MaxAttempts int
	Classify    Classifier
	rng         *rand.Rand
}

// Default returns the spec's default policy: initial=1s, backoff=2.0,
// maxDelay=30s, jitter=0.2, maxAttempts=5, every error retriable (callers
// override Classify to exclude terminal errors).
func Default() Policy {
	return Policy{
		Initial:     1 * time.Second,
		Backoff:     2.0,
		MaxDelay:    30 * time.Second,
		Jitter:      0.2,
		MaxAttempts: 5,
		Classify:    func(error) Class { return Retriable },
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Delay returns the backoff duration for attempt n (0-indexed: the delay
// before the (n+1)th attempt), per spec §4.10:
//
//	delay_n = min(maxDelay, initial * backoff^n) * (1 + U(-jitter, +jitter))
func (p Policy) Delay(n int) time.Duration {
	raw := float64(p.Initial) * math.Pow(p.Backoff, float64(n))
	if capped := float64(p.MaxDelay); raw > capped {
		raw = capped
	}

	rng := p.rng
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	jitterFactor := 1 + (rng.Float64()*2-1)*p.Jitter
	d := time.Duration(raw * jitterFactor)
	if d < 0 {
		d = 0
	}
	return d
}

// ShouldRetry reports whether attempt (1-indexed, the attempt that just
// failed with err) should be retried.
func (p Policy) ShouldRetry(attempt int, err error) bool {
	if attempt >= p.MaxAttempts {
		return false
	}
	if p.Classify == nil {
		return true
	}
	return p.Classify(err) == Retriable
}
