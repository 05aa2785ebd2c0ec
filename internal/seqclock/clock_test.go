package seqclock

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClock_MonotonicAcrossRestarts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.seq")

	c1, err := Open(path)
	require.NoError(t, err)
	var last uint64
	for i := 0; i < 5; i++ {
		last = c1.Next()
	}
	require.Equal(t, uint64(5), last)
	require.NoError(t, c1.Close())

	c2, err := Open(path)
	require.NoError(t, err)
	require.Equal(t, uint64(5), c2.Current())
	require.Equal(t, uint64(6), c2.Next())
	require.NoError(t, c2.Close())
}

func TestClock_CurrentDoesNotAdvance(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(filepath.Join(dir, "node.seq"))
	require.NoError(t, err)
	defer c.Close()

	require.Equal(t, uint64(0), c.Current())
	c.Next()
	require.Equal(t, uint64(1), c.Current())
	require.Equal(t, uint64(1), c.Current())
}

func TestClock_PersistErrorHookFires(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.seq")
	c, err := Open(path)
	require.NoError(t, err)
	defer c.Close()

	var fired bool
	c.onPersistErr = func() { fired = true }
	// Force a persistence failure by closing the backing file out from under it.
	c.file.Close()
	c.Next()
	require.True(t, fired)
}
