package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsAppliedWithoutFile(t *testing.T) {
	t.Setenv("MERKLEKV_NODE_ID", "node-a")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "node-a", cfg.NodeID)
	assert.Equal(t, 256, cfg.MaxKeyBytes)
	assert.Equal(t, 4096, cfg.DedupWindowSize)
	assert.Equal(t, int64(300_000), cfg.MaxFutureSkewMs)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "merklekv.yaml")
	require.NoError(t, os.WriteFile(path, []byte("node_id: node-b\nmax_value_bytes: 1024\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "node-b", cfg.NodeID)
	assert.Equal(t, 1024, cfg.MaxValueBytes)
	assert.Equal(t, 512*1024, cfg.MaxBulkPayloadBytes, "unset keys keep their default")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "merklekv.yaml")
	require.NoError(t, os.WriteFile(path, []byte("node_id: node-b\n"), 0o644))
	t.Setenv("MERKLEKV_NODE_ID", "node-c")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "node-c", cfg.NodeID)
}

func TestLoad_MissingNodeIDFails(t *testing.T) {
	_, err := Load("")
	assert.Error(t, err)
}
