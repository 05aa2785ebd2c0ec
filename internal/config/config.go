// Package config loads MerkleKV's node configuration (spec §6) from a YAML
// file with environment-variable overrides, via github.com/spf13/viper.
//
// The teacher's cmd/server/main.go binds a handful of flags directly to
// Server fields; MerkleKV's configuration surface is far larger (storage,
// dedup, outbox, idempotency, timeout tuning), so this package centralizes
// it the way the pack's viper-using services do: one struct, one loader,
// defaults set before the file/env layers are applied.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is every tunable named in spec §6.
type Config struct {
	NodeID      string `mapstructure:"node_id"`
	ClientID    string `mapstructure:"client_id"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	StoragePath string `mapstructure:"storage_path"`

	PersistenceEnabled bool `mapstructure:"persistence_enabled"`

	MaxKeyBytes         int `mapstructure:"max_key_bytes"`
	MaxValueBytes       int `mapstructure:"max_value_bytes"`
	MaxBulkPayloadBytes int `mapstructure:"max_bulk_payload_bytes"`
	MaxCborBytes        int `mapstructure:"max_cbor_bytes"`

	MaxFutureSkewMs      int64 `mapstructure:"max_future_skew_ms"`
	TombstoneRetentionMs int64 `mapstructure:"tombstone_retention_ms"`

	DedupWindowSize int           `mapstructure:"dedup_window_size"`
	DedupTTL        time.Duration `mapstructure:"dedup_ttl"`
	DedupMaxNodes   int           `mapstructure:"dedup_max_nodes"`

	OutboxMaxSize   int `mapstructure:"outbox_max_size"`
	OutboxBatchSize int `mapstructure:"outbox_batch_size"`

	IdempotencyTTLMs      int64 `mapstructure:"idempotency_ttl_ms"`
	IdempotencyMaxEntries int   `mapstructure:"idempotency_max_entries"`

	SingleKeyTimeoutMs int64 `mapstructure:"single_key_timeout_ms"`
	MultiKeyTimeoutMs  int64 `mapstructure:"multi_key_timeout_ms"`
	SyncTimeoutMs      int64 `mapstructure:"sync_timeout_ms"`
}

// setDefaults mirrors the constants scattered across entry/dedup/outbox/
// command, kept in one place so an operator can see them in a single file.
// cmd/merklekv-node reads node_id, topic_prefix, storage_path,
// persistence_enabled, tombstone_retention_ms, the dedup_* keys and
// outbox_max_size; the remaining keys are loaded into Config but do not
// change the constants those packages use.
func setDefaults(v *viper.Viper) {
	v.SetDefault("node_id", "")
	v.SetDefault("client_id", "merklekv")
	v.SetDefault("topic_prefix", "merklekv")
	v.SetDefault("storage_path", "./data")

	v.SetDefault("persistence_enabled", true)

	v.SetDefault("max_key_bytes", 256)
	v.SetDefault("max_value_bytes", 256*1024)
	v.SetDefault("max_bulk_payload_bytes", 512*1024)
	v.SetDefault("max_cbor_bytes", 300*1024)

	v.SetDefault("max_future_skew_ms", 300_000)
	v.SetDefault("tombstone_retention_ms", 24*time.Hour.Milliseconds())

	v.SetDefault("dedup_window_size", 4096)
	v.SetDefault("dedup_ttl", 7*24*time.Hour)
	v.SetDefault("dedup_max_nodes", 1000)

	v.SetDefault("outbox_max_size", 10_000)
	v.SetDefault("outbox_batch_size", 100)

	v.SetDefault("idempotency_ttl_ms", (10 * time.Minute).Milliseconds())
	v.SetDefault("idempotency_max_entries", 1000)

	v.SetDefault("single_key_timeout_ms", (10 * time.Second).Milliseconds())
	v.SetDefault("multi_key_timeout_ms", (20 * time.Second).Milliseconds())
	v.SetDefault("sync_timeout_ms", (30 * time.Second).Milliseconds())
}

// Load reads configuration from path (if non-empty) layered over defaults,
// then applies MERKLEKV_-prefixed environment overrides — e.g.
// MERKLEKV_NODE_ID overrides node_id.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("merklekv")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the invariants Load's caller needs before wiring a node:
// a node id must be set, since every local write is stamped with it.
func (c Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("config: node_id must be set")
	}
	if c.TopicPrefix == "" {
		return fmt.Errorf("config: topic_prefix must be set")
	}
	return nil
}
