// Package seqclock produces the monotonically increasing per-node sequence
// number stamped onto every locally-originated write.
//
// Persistence follows the teacher's WAL shape directly (internal/store/wal.go):
// newline-delimited JSON records, append-only, fsync'd, last-good-line wins
// on recovery. Spec §4.2 leaves the exact durable format open ("any durable
// format that satisfies §8 property 5 suffices") — NDJSON-append is what the
// teacher already does for its WAL, so we reuse it here instead of inventing
// a new on-disk shape.
package seqclock

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// record is one line of the durable sequence file.
type record struct {
	Seq     uint64 `json:"seq"`
	Updated string `json:"updated"`
}

// Clock is a durable, monotonically increasing per-node counter.
//
// Persistence errors never block Next(): the in-memory counter is always
// the source of truth going forward, and a metric is incremented so the
// operator can see that durability degraded (spec §4.2).
type Clock struct {
	mu         sync.Mutex
	currentSeq uint64
	file       *os.File
	log        zerolog.Logger
	onPersistErr func()
}

// Option configures Clock construction.
type Option func(*Clock)

// WithPersistErrorHook registers a callback invoked every time appending a
// record to the durable file fails. Node wiring uses this to increment the
// sequence_persistence_errors metric (spec §4.2).
func WithPersistErrorHook(fn func()) Option {
	return func(c *Clock) { c.onPersistErr = fn }
}

// WithLogger attaches a logger; defaults to a disabled logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Clock) { c.log = l }
}

// Open opens (or creates) the durable sequence file at path and recovers
// currentSeq from the last valid line. A corrupt trailing line is ignored;
// recovery always yields a value >= the highest seq ever durably recorded,
// which is the monotonicity guarantee spec §4.2 requires.
func Open(path string, opts ...Option) (*Clock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}

	c := &Clock{file: f, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(c)
	}

	if err := c.recover(); err != nil {
		f.Close()
		return nil, err
	}
	return c, nil
}

func (c *Clock) recover() error {
	if _, err := c.file.Seek(0, 0); err != nil {
		return err
	}
	scanner := bufio.NewScanner(c.file)
	// Sequence records are tiny; the default scanner buffer is plenty.
	var last uint64
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec record
		if err := json.Unmarshal(line, &rec); err != nil {
			// Corrupt line — skip it and keep reading, per the teacher's
			// WAL.readAll() skip-and-continue stance; the recovered value is
			// the highest seq among all valid lines.
			continue
		}
		if rec.Seq > last {
			last = rec.Seq
		}
	}
	c.currentSeq = last
	if _, err := c.file.Seek(0, 2); err != nil {
		return err
	}
	return scanner.Err()
}

// Current returns the last sequence number handed out, without allocating one.
func (c *Clock) Current() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentSeq
}

// Next increments and durably persists the counter before returning it. A
// persistence failure does not block the caller — the in-memory value still
// advances, keeping the clock monotonic for the lifetime of the process.
func (c *Clock) Next() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.currentSeq++
	next := c.currentSeq

	rec := record{Seq: next, Updated: time.Now().UTC().Format(time.RFC3339Nano)}
	data, err := json.Marshal(rec)
	if err == nil {
		data = append(data, '\n')
		if _, werr := c.file.Write(data); werr == nil {
			werr = c.file.Sync()
			if werr != nil {
				c.persistFailed(werr)
			}
		} else {
			c.persistFailed(err)
		}
	} else {
		c.persistFailed(err)
	}
	return next
}

func (c *Clock) persistFailed(err error) {
	c.log.Warn().Err(err).Msg("sequence clock persistence failed, continuing in-memory")
	if c.onPersistErr != nil {
		c.onPersistErr()
	}
}

// Close releases the underlying file handle.
func (c *Clock) Close() error {
	return c.file.Close()
}
