package dedup

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMaxNodes bounds the number of peer windows tracked at once (spec §4.4).
const DefaultMaxNodes = 1000

// DefaultTTL prunes idle peers on periodic cleanup (spec §4.4).
const DefaultTTL = 7 * 24 * time.Hour

type entry struct {
	win        *window
	lastAccess time.Time
}

// Tracker is the per-peer sliding-window dedup tracker. It is safe for
// concurrent use.
type Tracker struct {
	mu         sync.Mutex
	windowSize uint64
	ttl        time.Duration
	peers      *lru.Cache[string, *entry]
	now        func() time.Time
}

// Option configures Tracker construction.
type Option func(*Tracker)

// WithWindowSize overrides DefaultWindowSize.
func WithWindowSize(size uint64) Option { return func(t *Tracker) { t.windowSize = size } }

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option { return func(t *Tracker) { t.ttl = ttl } }

// WithMaxNodes overrides DefaultMaxNodes.
func WithMaxNodes(max int) Option {
	return func(t *Tracker) {
		c, _ := lru.New[string, *entry](max)
		t.peers = c
	}
}

// withClock overrides the time source; used by tests.
func withClock(now func() time.Time) Option { return func(t *Tracker) { t.now = now } }

// New creates a Tracker bounded to DefaultMaxNodes peers by default.
func New(opts ...Option) *Tracker {
	t := &Tracker{windowSize: DefaultWindowSize, ttl: DefaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	if t.peers == nil {
		c, _ := lru.New[string, *entry](DefaultMaxNodes)
		t.peers = c
	}
	return t
}

// IsDuplicate reports whether (nodeID, seq) has already been marked seen.
// Evicted or never-seen peers conservatively report false — a
// false-negative, never a false-positive (spec §4.4 invariant).
func (t *Tracker) IsDuplicate(nodeID string, seq uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.peers.Get(nodeID)
	if !ok {
		return false
	}
	return e.win.contains(seq)
}

// MarkSeen records (nodeID, seq) as seen, creating a window for nodeID on
// first contact and evicting the least-recently-accessed peer if the bound
// is exceeded.
func (t *Tracker) MarkSeen(nodeID string, seq uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.peers.Get(nodeID)
	if !ok {
		e = &entry{win: newWindow(t.windowSize)}
		t.peers.Add(nodeID, e)
	}
	e.win.mark(seq)
	e.lastAccess = t.now()
}

// CleanupIdle evicts peers whose window has not been touched within the
// configured TTL. Intended to be called periodically (spec §4.4).
func (t *Tracker) CleanupIdle() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-t.ttl)
	var stale []string
	for _, nodeID := range t.peers.Keys() {
		e, ok := t.peers.Peek(nodeID)
		if !ok {
			continue
		}
		if e.lastAccess.Before(cutoff) {
			stale = append(stale, nodeID)
		}
	}
	for _, nodeID := range stale {
		t.peers.Remove(nodeID)
	}
	return len(stale)
}

// PeerCount reports how many peer windows are currently tracked.
func (t *Tracker) PeerCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.peers.Len()
}
