// Package dedup implements the per-peer sliding-window sequence dedup tracker
// of spec §4.4: O(1) membership over a bounded window of recent seq values,
// bounded total peer count via LRU eviction, and idle-peer TTL pruning.
//
// The teacher's store package tracks causality with a VectorClock
// (map[nodeID]counter) instead of a dedup window, but the *shape* of "bound
// a map by wrapping it with an LRU of a fixed size" is exactly what
// hashicorp/golang-lru gives us, and is attested across the pack
// (ethereum-go-ethereum, ClusterCockpit-cc-backend, juju-juju, AKJUS-bsc-erigon
// all depend on it for bounded caches) — so peer windows live in one.
// §9 flags that the source used an unbounded set despite describing a
// bitmap; here we use a real bit-set, per that note.
package dedup

import "math/bits"

// DefaultWindowSize is the default bit-set span W (spec §4.4).
const DefaultWindowSize = 4096

// window is a bitset over [baseSeq, baseSeq+size).
type window struct {
	baseSeq uint64
	size    uint64
	bits    []uint64
}

// newWindow starts the window at seq 1, the first value seqclock hands out,
// so a fresh window spans [1, size].
func newWindow(size uint64) *window {
	return &window{baseSeq: 1, size: size, bits: make([]uint64, (size+63)/64)}
}

func (w *window) contains(seq uint64) bool {
	if seq < w.baseSeq || seq >= w.baseSeq+w.size {
		return false
	}
	off := seq - w.baseSeq
	return w.bits[off/64]&(1<<(off%64)) != 0
}

func (w *window) set(seq uint64) {
	off := seq - w.baseSeq
	w.bits[off/64] |= 1 << (off % 64)
}

// mark records seq as seen, sliding the window when seq lands beyond its
// current span. Sequences older than the window's base are ignored (the
// conservative false-negative called out in spec §4.4 — safe because LWW
// re-application is idempotent).
func (w *window) mark(seq uint64) {
	switch {
	case seq < w.baseSeq:
		return
	case seq >= w.baseSeq+w.size:
		newBase := seq - w.size/2
		w.slide(newBase)
		w.set(seq)
	default:
		w.set(seq)
	}
}

// slide moves the window forward to start at newBase, dropping bits below it.
func (w *window) slide(newBase uint64) {
	shiftSeqs := newBase - w.baseSeq
	wordShift := shiftSeqs / 64
	bitShift := shiftSeqs % 64

	n := uint64(len(w.bits))
	next := make([]uint64, n)
	for i := uint64(0); i < n; i++ {
		srcIdx := i + wordShift
		if srcIdx >= n {
			continue
		}
		var v uint64
		if bitShift == 0 {
			v = w.bits[srcIdx]
		} else {
			v = w.bits[srcIdx] >> bitShift
			if srcIdx+1 < n {
				v |= w.bits[srcIdx+1] << (64 - bitShift)
			}
		}
		next[i] = v
	}
	w.bits = next
	w.baseSeq = newBase
}

// popcount reports how many sequence numbers are currently marked; nothing
// in the package calls it.
func (w *window) popcount() int {
	n := 0
	for _, word := range w.bits {
		n += bits.OnesCount64(word)
	}
	return n
}
