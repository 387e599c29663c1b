package layout

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartitionRenameAndSkipDetection(t *testing.T) {
	dir := t.TempDir()
	g := ForGroup(dir)

	skip, err := g.SkipAlreadyDefragmentedPartition(3)
	require.NoError(t, err)
	assert.False(t, skip)

	require.NoError(t, os.WriteFile(g.PartitionTemp(3), []byte("data"), 0644))
	require.NoError(t, g.RenamePartition(3))

	skip, err = g.SkipAlreadyDefragmentedPartition(3)
	require.NoError(t, err)
	assert.True(t, skip)

	_, err = os.Stat(g.PartitionTemp(3))
	assert.True(t, os.IsNotExist(err))
}

func TestCompletionMarkerIdempotent(t *testing.T) {
	dir := t.TempDir()
	g := ForGroup(dir)

	skip, err := g.SkipAlreadyDefragmentedCacheGroup()
	require.NoError(t, err)
	assert.False(t, skip)

	require.NoError(t, g.CreateCompletionMarker())
	require.NoError(t, g.CreateCompletionMarker()) // idempotent, no error on re-create

	skip, err = g.SkipAlreadyDefragmentedCacheGroup()
	require.NoError(t, err)
	assert.True(t, skip)

	info, err := os.Stat(g.CompletionMarker())
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}

func TestRemoveStaleIndexTemp(t *testing.T) {
	dir := t.TempDir()
	g := ForGroup(dir)

	require.NoError(t, g.RemoveStaleIndexTemp()) // no-op when absent

	require.NoError(t, os.WriteFile(g.IndexTemp(), []byte("x"), 0644))
	require.NoError(t, g.RemoveStaleIndexTemp())

	_, err := os.Stat(g.IndexTemp())
	assert.True(t, os.IsNotExist(err))
}

func TestBatchRenameDefragmentedCacheGroupPartitions(t *testing.T) {
	dir := t.TempDir()
	g := ForGroup(dir)

	require.NoError(t, os.WriteFile(g.PartitionFinal(0), []byte("p0"), 0644))
	require.NoError(t, os.WriteFile(g.PartitionFinal(1), []byte("p1"), 0644))
	// partition 2 was never touched this run (e.g. empty tree, skipped) — no part-dfrg file.

	require.NoError(t, g.BatchRenameDefragmentedCacheGroupPartitions([]uint32{0, 1, 2}))

	for _, p := range []uint32{0, 1} {
		_, err := os.Stat(g.PartitionFile(p))
		require.NoError(t, err)
		_, err = os.Stat(g.PartitionFinal(p))
		assert.True(t, os.IsNotExist(err))
	}
	_, err := os.Stat(g.PartitionFile(2))
	assert.True(t, os.IsNotExist(err))
}

func TestIndexRename(t *testing.T) {
	dir := t.TempDir()
	g := ForGroup(dir)

	require.NoError(t, os.WriteFile(g.IndexTemp(), []byte("idx"), 0644))
	require.NoError(t, g.RenameIndex())

	_, err := os.Stat(filepath.Join(dir, "index-dfrg.bin"))
	require.NoError(t, err)
}
