package main

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"merklekv/internal/config"
	"merklekv/internal/dedup"
)

// maintenanceInterval is how often the tombstone sweep and idle-peer dedup
// cleanup run. Neither the distilled spec nor the teacher names a concrete
// period; once a minute is frequent enough to bound tombstone growth without
// meaningfully competing with foreground traffic.
const maintenanceInterval = 1 * time.Minute

// snapshotEvery is how many maintenance ticks pass between snapshots for a
// snapshottable backend — once every 10 minutes at the default tick rate.
const snapshotEvery = 10

// tombstoneSweeper is the narrow slice of storage.Backend the maintenance
// loop needs; both storage.Memory and storage.Durable satisfy it.
type tombstoneSweeper interface {
	SweepTombstones(cutoffMs int64) int
}

// snapshotter is satisfied by storage.Durable only; storage.Memory has no
// on-disk state to compact.
type snapshotter interface {
	Snapshot() error
}

// runMaintenanceLoop periodically sweeps expired tombstones, prunes idle
// peer dedup windows, and (for a durable backend) compacts the WAL into a
// fresh snapshot, until ctx is cancelled.
func runMaintenanceLoop(ctx context.Context, store tombstoneSweeper, tracker *dedup.Tracker, cfg config.Config, log zerolog.Logger) {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	snap, durable := store.(snapshotter)

	tick := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick++
			cutoff := time.Now().UnixMilli() - cfg.TombstoneRetentionMs
			if n := store.SweepTombstones(cutoff); n > 0 {
				log.Debug().Int("removed", n).Msg("maintenance: swept expired tombstones")
			}
			if n := tracker.CleanupIdle(); n > 0 {
				log.Debug().Int("removed", n).Msg("maintenance: pruned idle dedup peers")
			}
			if durable && tick%snapshotEvery == 0 {
				if err := snap.Snapshot(); err != nil {
					log.Warn().Err(err).Msg("maintenance: snapshot failed")
				} else {
					log.Debug().Msg("maintenance: snapshot compacted WAL")
				}
			}
		}
	}
}
