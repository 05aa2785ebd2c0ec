package entry

import "time"

// MaxFutureSkewMs bounds how far into the future an incoming timestamp is
// trusted; anything later is clamped to now+MaxFutureSkewMs. Default 5
// minutes (spec §4.3).
const MaxFutureSkewMs = 300_000

// Outcome is the result of comparing two entries for the same key.
type Outcome int

const (
	// LocalWins means the existing/local entry should be kept.
	LocalWins Outcome = iota
	// RemoteWins means the incoming/other entry should replace the existing one.
	RemoteWins
	// Duplicate means both entries carry an equal compare-key AND equal content.
	Duplicate
	// Conflict means both entries carry an equal compare-key but differing
	// content — an anomaly that should be logged and the existing entry kept.
	Conflict
)

// Clamp bounds ts to at most now+MaxFutureSkewMs. Timestamps at or under that
// bound pass through unchanged (spec §8 property 10: clamp non-regression).
func Clamp(ts int64, now time.Time) int64 {
	maxAllowed := now.UnixMilli() + MaxFutureSkewMs
	if ts > maxAllowed {
		return maxAllowed
	}
	return ts
}

// compareKey is the lexicographic (clampedTimestamp, nodeId) ordering key
// used for local comparison, per spec §4.3.
type compareKey struct {
	ts     int64
	nodeID string
}

func keyOf(e StorageEntry, now time.Time) compareKey {
	return compareKey{ts: Clamp(e.TimestampMs, now), nodeID: e.NodeID}
}

func (a compareKey) less(b compareKey) bool {
	if a.ts != b.ts {
		return a.ts < b.ts
	}
	return a.nodeID < b.nodeID
}

func (a compareKey) equal(b compareKey) bool {
	return a.ts == b.ts && a.nodeID == b.nodeID
}

// Resolve decides the outcome of applying incoming over existing, per the
// rules of spec §4.3/§4.5. Clamping uses now as the wall clock reference.
//
// Resolve is commutative in the sense required by §8 property 4: swapping
// the arguments yields the complementary outcome (LocalWins<->RemoteWins),
// and Duplicate/Conflict are symmetric by construction.
func Resolve(existing, incoming StorageEntry, now time.Time) Outcome {
	ek := keyOf(existing, now)
	ik := keyOf(incoming, now)

	if ek.equal(ik) {
		if contentHash(existing) == contentHash(incoming) {
			return Duplicate
		}
		return Conflict
	}
	if ik.less(ek) {
		return LocalWins
	}
	return RemoteWins
}
