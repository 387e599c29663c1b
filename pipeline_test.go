package defrag

import (
	"fmt"
	"testing"

	"defrag/checkpoint"
	"defrag/layout"
	"defrag/page"
	"defrag/tree"

	"github.com/stretchr/testify/require"
)

// buildOldPartition writes a synthetic "live" partition file with n rows,
// every mod-th row carrying a non-zero expireTime, the fixture the
// pipeline tests in this file start from (except the unsupported-version
// test, which writes its own meta page).
func buildOldPartition(t *testing.T, path string, n int, mod int, expire int64) (*page.Store, uint64) {
	t.Helper()
	store, err := page.Create(path, page.FlagData, nil)
	require.NoError(t, err)
	require.NoError(t, ReserveMetaPage(store))

	codec := page.CodecFor(page.AlgoNone)
	fl := page.NewFreeList(store, codec)
	bt := tree.New(store)

	for i := 0; i < n; i++ {
		row := page.DataRow{
			CacheID: 7,
			Key:     []byte(fmt.Sprintf("key-%05d", i)),
			Value:   []byte(fmt.Sprintf("v%d", i)),
			Version: int64(i) + 1,
		}
		if mod > 0 && i%mod == 0 {
			row.ExpireTime = expire
		}
		link, err := fl.InsertDataRow(row)
		require.NoError(t, err)
		require.NoError(t, bt.Put(dataKey(row.CacheID, row.Key), linkValue(link)))
	}

	root, _ := bt.Root()
	require.NoError(t, WriteMetaPage(store, MetaPage{
		Version:           CurrentMetaVersion,
		Size:              uint64(n),
		UpdateCounter:     uint64(n),
		CacheDataTreeRoot: root,
		HasCacheDataRoot:  n > 0,
	}))
	return store, uint64(n)
}

func newTestPipeline(t *testing.T, dir string) (*PartitionPipeline, *checkpoint.Controller) {
	t.Helper()
	partMem := page.NewMemory()
	mapMem := page.NewMemory()
	cp := checkpoint.New(func(reason string) error {
		_ = partMem.SyncAll()
		return mapMem.SyncAll()
	}, nil)
	cp.Start()
	t.Cleanup(cp.Stop)

	lay := layout.ForGroup(dir)
	pp := NewPartitionPipeline(PipelineConfig{
		Group:         1,
		InlineCacheID: true,
		Codec:         page.CodecFor(page.AlgoNone),
	}, lay, cp, partMem, mapMem)
	return pp, cp
}

func TestPartitionPipelineDenseCopy(t *testing.T) {
	dir := t.TempDir()
	oldStore, n := buildOldPartition(t, dir+"/part-0.bin", 500, 0, 0)
	t.Cleanup(func() { _ = oldStore.Close() })

	pp, _ := newTestPipeline(t, dir)
	result, err := pp.Run(0, oldStore)
	require.NoError(t, err)
	require.False(t, result.Skipped)
	require.EqualValues(t, n, result.RowsCopied)
	require.NoError(t, pp.Finish(result))

	lay := layout.ForGroup(dir)
	skip, err := lay.SkipAlreadyDefragmentedPartition(0)
	require.NoError(t, err)
	require.True(t, skip)

	for i := 0; i < int(n); i++ {
		link, ok, err := result.LinkMap.Get(mustOldLink(t, oldStore, i))
		require.NoError(t, err)
		require.True(t, ok)
		require.NotZero(t, link)
	}
}

func TestPartitionPipelineTTLRows(t *testing.T) {
	dir := t.TempDir()
	oldStore, _ := buildOldPartition(t, dir+"/part-0.bin", 1000, 7, 1_700_000_000_000)
	t.Cleanup(func() { _ = oldStore.Close() })

	pp, _ := newTestPipeline(t, dir)
	result, err := pp.Run(0, oldStore)
	require.NoError(t, err)
	require.EqualValues(t, 1000, result.RowsCopied)
	require.NoError(t, pp.Finish(result))

	newStore, err := page.Open(layout.ForGroup(dir).PartitionFinal(0), page.FlagData, nil)
	require.NoError(t, err)
	defer newStore.Close()

	newMeta, err := ReadMetaPage(newStore)
	require.NoError(t, err)
	require.True(t, newMeta.HasPendingRoot)

	pending := tree.Open(newStore, newMeta.PendingTreeRoot)
	it := tree.NewIterator(page.Size)
	count := 0
	require.NoError(t, it.Iterate(pending, nil, func(key, val []byte) (bool, error) {
		count++
		return true, nil
	}))
	require.Equal(t, 143, count) // ceil(1000/7)
}

func TestPartitionPipelineSkipAlreadyDefragmented(t *testing.T) {
	dir := t.TempDir()
	oldStore, _ := buildOldPartition(t, dir+"/part-0.bin", 10, 0, 0)
	t.Cleanup(func() { _ = oldStore.Close() })

	pp, _ := newTestPipeline(t, dir)
	first, err := pp.Run(0, oldStore)
	require.NoError(t, err)
	require.NoError(t, pp.Finish(first))
	// Simulate the coordinator's end-of-group cleanup releasing the map
	// store before a later resume run reopens it.
	require.NoError(t, first.LinkMap.Close())

	// A fresh pipeline/process over the same directory should now observe
	// the final file and skip straight to reopening the Link Map.
	pp2, _ := newTestPipeline(t, dir)
	result, err := pp2.Run(0, oldStore)
	require.NoError(t, err)
	require.True(t, result.Skipped)
	require.NotNil(t, result.LinkMap)
}

func TestPartitionPipelineUnsupportedMetaVersion(t *testing.T) {
	dir := t.TempDir()
	oldStore, err := page.Create(dir+"/part-0.bin", page.FlagData, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = oldStore.Close() })
	require.NoError(t, ReserveMetaPage(oldStore))
	require.NoError(t, WriteMetaPage(oldStore, MetaPage{Version: 4}))

	pp, _ := newTestPipeline(t, dir)
	_, err = pp.Run(0, oldStore)
	require.Error(t, err)
	require.True(t, IsKind(err, KindUnsupportedMetaVersion))
}

// mustOldLink recomputes the i-th row's old link by walking the old tree —
// test-only helper, mirroring how the pipeline itself discovers links.
func mustOldLink(t *testing.T, oldStore *page.Store, i int) uint64 {
	t.Helper()
	meta, err := ReadMetaPage(oldStore)
	require.NoError(t, err)
	val, ok, err := tree.Open(oldStore, meta.CacheDataTreeRoot).Get(dataKey(7, []byte(fmt.Sprintf("key-%05d", i))))
	require.NoError(t, err)
	require.True(t, ok)
	return parseLinkValue(val)
}
