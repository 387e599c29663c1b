package defrag

import (
	"defrag/layout"
	"defrag/linkmap"
	"defrag/page"

	"github.com/pkg/errors"
)

// bootstrapIndexStore implements spec §4.8: delete any stale
// index-dfrg.bin.tmp, create a fresh store under the checkpoint read-lock,
// sync it, and register it in the part-region page memory at
// page.IndexPartition.
func bootstrapIndexStore(group uint32, lay *layout.Group, cp CheckpointManager, partMem *page.Memory) (*page.Store, error) {
	if err := lay.RemoveStaleIndexTemp(); err != nil {
		return nil, errors.Wrap(err, "remove stale index temp file")
	}

	cp.ReadLock()
	defer cp.ReadUnlock()

	store, err := page.Create(lay.IndexTemp(), page.FlagIdx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "create index store")
	}
	if err := store.Sync(); err != nil {
		return nil, errors.Wrap(err, "sync index store")
	}
	partMem.AddStore(int32(group), page.IndexPartition, page.FlagIdx, store)
	return store, nil
}

// runIndexDefragmentation implements spec §4.6: once every partition of
// group has been rewritten, delegate to the external indexing subsystem if
// the group has an index store, then invalidate old/new index pages,
// release the bootstrapped index store and the group's mapping region,
// rename the index temp file (or discard it, if no indexing ran), write
// the completion marker, and batch-rename every part-dfrg-*.bin into its
// live name.
func runIndexDefragmentation(
	oldGroup, newGroup uint32,
	partitions []uint32,
	linkMaps map[uint32]*linkmap.LinkMap,
	indexing Indexing,
	hasIndexStore bool,
	lay *layout.Group,
	cp CheckpointManager,
	partMem, mapMem *page.Memory,
) error {
	indexed := hasIndexStore && indexing != nil && indexing.ModuleEnabled()
	if indexed {
		if err := indexing.Defragment(oldGroup, newGroup, partMem, linkMaps, cp); err != nil {
			return groupErr(KindIndexDefragmentationFailed, newGroup, err)
		}

		fut, err := cp.ForceCheckpoint("index defragmented")
		if err != nil {
			return groupErr(KindCheckpointFailed, newGroup, err)
		}
		if err := fut.Get(); err != nil {
			return groupErr(KindCheckpointFailed, newGroup, err)
		}

		partMem.Invalidate(int32(oldGroup), page.IndexPartition)
		partMem.Invalidate(int32(newGroup), page.IndexPartition)
	}

	// By this point every data partition's store has already been closed
	// and deregistered in PartitionPipeline.Finish; the only thing still
	// registered for this group is the bootstrapped index store, so
	// clearing the group closes exactly that.
	if err := partMem.ClearGroupAndClose(int32(newGroup)); err != nil {
		return groupErr(KindPageIOError, newGroup, err)
	}

	if indexed {
		if err := lay.RenameIndex(); err != nil {
			return groupErr(KindPageIOError, newGroup, err)
		}
	} else if err := lay.RemoveStaleIndexTemp(); err != nil {
		return groupErr(KindPageIOError, newGroup, err)
	}

	// The Link Map was only needed to translate links for the indexing
	// subsystem above (or not needed at all, if this group has no index
	// store); either way nothing else references it once we reach here.
	if err := mapMem.ClearGroupAndClose(int32(newGroup)); err != nil {
		return groupErr(KindPageIOError, newGroup, err)
	}

	if err := lay.CreateCompletionMarker(); err != nil {
		return groupErr(KindPageIOError, newGroup, err)
	}

	if err := lay.BatchRenameDefragmentedCacheGroupPartitions(partitions); err != nil {
		return groupErr(KindPageIOError, newGroup, err)
	}
	return nil
}
