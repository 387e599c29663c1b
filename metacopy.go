package defrag

import (
	"defrag/page"
	"defrag/tree"

	"github.com/pkg/errors"
)

const gapsKeySentinel = "gaps"

// copyPartitionMeta implements spec §4.5: it validates the old meta
// version, copies the fields that must survive byte-for-byte, relocates
// the shared-group counters chain and the update-counter gaps blob if
// present, rejects a source partition whose encrypted-page counters are
// non-zero (otherwise writing them as zero), and persists the result to
// newStore's meta page.
func copyPartitionMeta(
	oldStore *page.Store,
	oldMeta MetaPage,
	newStore *page.Store,
	oldFreeList, newFreeList *page.FreeList,
	newTree, newPending *tree.BTree,
) error {
	if oldMeta.Version != MetaVersion1 && oldMeta.Version != MetaVersion2 && oldMeta.Version != MetaVersion3 {
		return errors.Wrapf(ErrUnsupportedMetaVersion, "version %d", oldMeta.Version)
	}

	newMeta := MetaPage{
		Version:        CurrentMetaVersion,
		PartitionState: oldMeta.PartitionState,
		Size:           oldMeta.Size,
		UpdateCounter:  oldMeta.UpdateCounter,
		GlobalRemoveID: oldMeta.GlobalRemoveID,
	}

	if root, ok := newTree.Root(); ok {
		newMeta.CacheDataTreeRoot = root
		newMeta.HasCacheDataRoot = true
	}
	if root, ok := newPending.Root(); ok {
		newMeta.PendingTreeRoot = root
		newMeta.HasPendingRoot = true
	}

	if oldMeta.CountersPageID != 0 {
		counters, err := readCountersChain(oldFreeList, oldMeta.CountersPageID)
		if err != nil {
			return errors.Wrap(err, "read shared-group counters chain")
		}
		link, err := newFreeList.InsertDataRow(page.DataRow{Key: []byte("counters"), Value: encodeCounters(counters)})
		if err != nil {
			return errors.Wrap(err, "write shared-group counters chain")
		}
		newMeta.CountersPageID = uint32(link)
	}

	if oldMeta.GapsLink != 0 {
		gaps, err := oldFreeList.GetDataRow(oldMeta.GapsLink)
		if err != nil {
			return errors.Wrap(err, "read update-counter gaps blob")
		}
		link, err := newFreeList.InsertDataRow(page.DataRow{Key: []byte(gapsKeySentinel), Value: gaps.Value})
		if err != nil {
			return errors.Wrap(err, "write update-counter gaps blob")
		}
		newMeta.GapsLink = link
	}

	// Resetting non-zero encrypted-page counters would drop information for
	// encrypted groups, so fail fast instead of silently truncating.
	if oldMeta.EncryptedPageCount != 0 || oldMeta.EncryptedPageIndex != 0 {
		return errors.New("defrag: source partition is encrypted (non-zero encrypted page counters); defragmentation of encrypted groups is not supported")
	}
	newMeta.EncryptedPageCount = 0
	newMeta.EncryptedPageIndex = 0

	return WriteMetaPage(newStore, newMeta)
}

// readCountersChain reads the shared-group per-cache sizes map the same
// way a gaps blob is read — a single free-list row keyed by page id,
// rather than a linked chain of individual counter pages, the same
// "one append-mostly blob" simplification this engine makes for every
// auxiliary structure that isn't the Cache Data Tree itself.
func readCountersChain(fl *page.FreeList, countersPageID uint32) (map[int32]uint64, error) {
	row, err := fl.GetDataRow(uint64(countersPageID))
	if err != nil {
		return nil, err
	}
	return decodeCounters(row.Value), nil
}
