package defrag

import (
	"defrag/checkpoint"
	"defrag/layout"
	"defrag/linkmap"
	"defrag/page"
	"defrag/tree"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// PipelineConfig carries the per-group settings a PartitionPipeline needs
// that do not change between partitions.
type PipelineConfig struct {
	Group uint32
	// InlineCacheID mirrors a cache group's own "inline cacheId per row"
	// flag (spec §3 "this is a per-group flag and must be preserved
	// round-trip"). When false, rows are stored with CacheID overwritten
	// to page.UndefinedCacheID and restored in memory immediately after.
	InlineCacheID bool
	Codec         page.Codec
	Log           logrus.FieldLogger
}

// PartitionResult summarizes one partition's pipeline run for logging and
// for the caller's compound future bookkeeping. A non-skipped result still
// needs Finish called on it once its checkpointFuture has been awaited.
type PartitionResult struct {
	Partition  uint32
	Skipped    bool
	OldPages   int64
	NewPages   int64
	MapPages   int64
	RowsCopied int64
	LinkMap    *linkmap.LinkMap

	store            *page.Store
	checkpointFuture *checkpoint.Future
}

// PartitionPipeline is the Partition Pipeline (C6). One instance is reused
// across every partition of a single cache group.
type PartitionPipeline struct {
	cfg     PipelineConfig
	lay     *layout.Group
	cp      *checkpoint.Controller
	it      *tree.Iterator
	partMem *page.Memory
	mapMem  *page.Memory
}

// NewPartitionPipeline builds a pipeline for one cache group. partMem and
// mapMem are the defragmentation-owned part-region and mapping-region
// page memories the coordinator constructed for this run (spec §3
// "Ownership").
func NewPartitionPipeline(cfg PipelineConfig, lay *layout.Group, cp *checkpoint.Controller, partMem, mapMem *page.Memory) *PartitionPipeline {
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}
	return &PartitionPipeline{
		cfg:     cfg,
		lay:     lay,
		cp:      cp,
		it:      tree.NewIterator(page.Size),
		partMem: partMem,
		mapMem:  mapMem,
	}
}

// Run executes spec §4.4's six steps for partition P against oldStore,
// the existing (read-only) partition file.
func (pp *PartitionPipeline) Run(partition uint32, oldStore *page.Store) (PartitionResult, error) {
	log := pp.cfg.Log.WithFields(logrus.Fields{"group": pp.cfg.Group, "partition": partition})

	// Step 1 — mapping store + Link Map.
	already, err := pp.lay.SkipAlreadyDefragmentedPartition(partition)
	if err != nil {
		return PartitionResult{}, partitionErr(KindPageIOError, pp.cfg.Group, partition, err)
	}

	lm, mapStore, err := pp.openLinkMap(partition, already)
	if err != nil {
		return PartitionResult{}, partitionErr(KindPageIOError, pp.cfg.Group, partition, err)
	}
	pp.mapMem.AddStore(int32(pp.cfg.Group), uint16(partition), page.FlagData, mapStore)

	// Step 2 — skip check.
	if already {
		log.Debug("partition already defragmented, skipping")
		return PartitionResult{Partition: partition, Skipped: true, LinkMap: lm, MapPages: mapStore.Pages()}, nil
	}

	oldMeta, err := ReadMetaPage(oldStore)
	if err != nil {
		return PartitionResult{}, partitionErr(KindPageIOError, pp.cfg.Group, partition, err)
	}

	// Step 3 — data store.
	newStore, err := page.Create(pp.lay.PartitionTemp(partition), page.FlagData, nil)
	if err != nil {
		return PartitionResult{}, partitionErr(KindPageIOError, pp.cfg.Group, partition, err)
	}
	pp.partMem.AddStore(int32(pp.cfg.Group), uint16(partition), page.FlagData, newStore)
	if err := ReserveMetaPage(newStore); err != nil {
		return PartitionResult{}, partitionErr(KindPageIOError, pp.cfg.Group, partition, err)
	}

	// Step 4 — new cache data store, under the read-lock.
	pp.cp.ReadLock()
	newTree := tree.New(newStore)
	newPending := tree.New(newStore)
	newFreeList := page.NewFreeList(newStore, pp.cfg.Codec)
	pp.cp.ReadUnlock()

	oldFreeList := page.NewFreeList(oldStore, pp.cfg.Codec)
	oldTree := tree.New(oldStore)
	if oldMeta.HasCacheDataRoot {
		oldTree = tree.Open(oldStore, oldMeta.CacheDataTreeRoot)
	}

	// Step 5 — copy rows, under the read-lock, yielding on cadence.
	rowsCopied, err := pp.copyRows(oldTree, oldFreeList, newTree, newPending, newFreeList, lm)
	if err != nil {
		return PartitionResult{}, partitionErr(KindPageIOError, pp.cfg.Group, partition, err)
	}

	if err := newFreeList.SaveMetadata(); err != nil {
		return PartitionResult{}, partitionErr(KindPageIOError, pp.cfg.Group, partition, err)
	}

	if err := copyPartitionMeta(oldStore, oldMeta, newStore, oldFreeList, newFreeList, newTree, newPending); err != nil {
		kind := KindPageIOError
		if errors.Is(err, ErrUnsupportedMetaVersion) {
			kind = KindUnsupportedMetaVersion
		}
		return PartitionResult{}, partitionErr(kind, pp.cfg.Group, partition, err)
	}

	result := PartitionResult{
		Partition:  partition,
		OldPages:   oldStore.Pages(),
		NewPages:   newStore.Pages(),
		MapPages:   mapStore.Pages(),
		RowsCopied: rowsCopied,
		LinkMap:    lm,
	}

	// Step 6 — request the closing checkpoint without blocking (spec §4.7
	// "collecting per-partition checkpoint futures into a compound future;
	// await it"). The caller awaits every partition's future together —
	// typically via a checkpoint.CompoundFuture covering the whole group —
	// then calls Finish to close and rename this store.
	if err := pp.requestCheckpoint(partition, newStore, &result); err != nil {
		return result, err
	}

	return result, nil
}

func (pp *PartitionPipeline) openLinkMap(partition uint32, already bool) (*linkmap.LinkMap, *page.Store, error) {
	path := pp.lay.PartitionMap(partition)
	if already {
		store, err := page.Open(path, page.FlagData, nil)
		if err != nil {
			return nil, nil, errors.Wrap(err, "reopen link map store")
		}
		lm, err := linkmap.Open(store)
		if err != nil {
			return nil, nil, errors.Wrap(err, "reopen link map")
		}
		return lm, store, nil
	}

	store, err := page.Create(path, page.FlagData, nil)
	if err != nil {
		return nil, nil, errors.Wrap(err, "create link map store")
	}
	lm, err := linkmap.Create(store)
	if err != nil {
		return nil, nil, errors.Wrap(err, "create link map")
	}
	return lm, store, nil
}

func (pp *PartitionPipeline) copyRows(
	oldTree *tree.BTree,
	oldFreeList *page.FreeList,
	newTree, newPending *tree.BTree,
	newFreeList *page.FreeList,
	lm *linkmap.LinkMap,
) (int64, error) {
	pp.cp.ReadLock()
	defer pp.cp.ReadUnlock()

	yielder := checkpoint.NewYielder(checkpoint.DefaultYieldCadence)
	var rowsCopied int64

	yield := func() {
		if yielder.ShouldYield() {
			pp.cp.ReadUnlock()
			pp.cp.ReadLock()
			yielder.Reset()
		}
	}

	visit := func(_, val []byte) (bool, error) {
		oldLink := parseLinkValue(val)
		row, err := oldFreeList.GetDataRow(oldLink)
		if err != nil {
			return false, errors.Wrapf(err, "read old row at link %d", oldLink)
		}

		origID := row.CacheID
		if !pp.cfg.InlineCacheID {
			row.CacheID = page.UndefinedCacheID
		}
		row.Link = 0

		newLink, err := newFreeList.InsertDataRow(row)
		if err != nil {
			return false, errors.Wrap(err, "insert new row")
		}
		row.CacheID = origID

		if err := newTree.Put(dataKey(row.CacheID, row.Key), linkValue(newLink)); err != nil {
			return false, errors.Wrap(err, "insert new cache data tree entry")
		}
		if err := lm.Put(oldLink, newLink); err != nil {
			return false, errors.Wrap(err, "record link map entry")
		}
		if row.ExpireTime != 0 {
			if err := newPending.Put(pendingKey(row.CacheID, row.ExpireTime, newLink), nil); err != nil {
				return false, errors.Wrap(err, "insert pending entries tree entry")
			}
		}

		rowsCopied++
		return true, nil
	}

	if err := pp.it.Iterate(oldTree, yield, visit); err != nil {
		return rowsCopied, err
	}
	return rowsCopied, nil
}

// requestCheckpoint issues the partition's closing checkpoint and attaches
// the resulting future to result without blocking on it.
func (pp *PartitionPipeline) requestCheckpoint(partition uint32, newStore *page.Store, result *PartitionResult) error {
	fut, err := pp.cp.ForceCheckpoint("partition defragmented")
	if err != nil {
		return partitionErr(KindCheckpointFailed, pp.cfg.Group, partition, err)
	}
	result.store = newStore
	result.checkpointFuture = fut
	return nil
}

// Finish awaits result's checkpoint future, then closes and renames its
// new store into place (spec §4.4 Step 6's commit point). Safe to call on
// a skipped partition's result, where it is a no-op.
func (pp *PartitionPipeline) Finish(result PartitionResult) error {
	if result.Skipped || result.store == nil {
		return nil
	}
	if err := result.checkpointFuture.Get(); err != nil {
		return partitionErr(KindCheckpointFailed, pp.cfg.Group, result.Partition, err)
	}

	pp.cfg.Log.WithFields(logrus.Fields{
		"group":        pp.cfg.Group,
		"partition":    result.Partition,
		"oldPages":     result.OldPages,
		"newPages":     result.NewPages,
		"mappingPages": result.MapPages,
	}).Info("partition defragmented")

	pp.partMem.Invalidate(int32(pp.cfg.Group), uint16(result.Partition))
	pp.partMem.RemoveStore(int32(pp.cfg.Group), uint16(result.Partition), page.FlagData)

	if err := result.store.Close(); err != nil {
		return partitionErr(KindPageIOError, pp.cfg.Group, result.Partition, err)
	}
	if err := pp.lay.RenamePartition(result.Partition); err != nil {
		return partitionErr(KindPageIOError, pp.cfg.Group, result.Partition, err)
	}
	return nil
}
