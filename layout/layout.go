// Package layout implements the File Layout Manager (C7): the naming
// scheme for a cache group's defragmentation files, crash-safe renames,
// completion-marker handling, and the resume/skip checks that make a
// re-run after a crash idempotent (spec §3, §4.8).
package layout

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Group is a cache group's file layout rooted at dir.
type Group struct {
	dir string
}

// ForGroup returns the layout for a cache group whose files live under
// dir.
func ForGroup(dir string) *Group {
	return &Group{dir: dir}
}

const (
	partFileFmt    = "part-%d.bin"
	partDfrgTmpFmt = "part-dfrg-%d.bin.tmp"
	partDfrgFmt    = "part-dfrg-%d.bin"
	partMapFmt     = "part-map-%d.bin"

	indexDfrgTmp = "index-dfrg.bin.tmp"
	indexDfrg    = "index-dfrg.bin"

	completionMarker = "defrg-completion.marker"
)

func (g *Group) path(name string) string {
	return filepath.Join(g.dir, name)
}

// PartitionFile is the live, pre-defragmentation partition file.
func (g *Group) PartitionFile(p uint32) string {
	return g.path(fmt.Sprintf(partFileFmt, p))
}

// PartitionTemp is the in-progress defragmented partition file.
func (g *Group) PartitionTemp(p uint32) string {
	return g.path(fmt.Sprintf(partDfrgTmpFmt, p))
}

// PartitionFinal is the defragmented partition file's name after its
// commit-point rename (spec §4.4 step 6).
func (g *Group) PartitionFinal(p uint32) string {
	return g.path(fmt.Sprintf(partDfrgFmt, p))
}

// PartitionMap is the per-partition link-map file.
func (g *Group) PartitionMap(p uint32) string {
	return g.path(fmt.Sprintf(partMapFmt, p))
}

// IndexTemp is the in-progress defragmented index store file.
func (g *Group) IndexTemp() string {
	return g.path(indexDfrgTmp)
}

// IndexFinal is the defragmented index store file after its rename.
func (g *Group) IndexFinal() string {
	return g.path(indexDfrg)
}

// CompletionMarker is the zero-byte sentinel whose presence means the
// whole group finished successfully (spec §3 "atomic sentinel").
func (g *Group) CompletionMarker() string {
	return g.path(completionMarker)
}

// SkipAlreadyDefragmentedPartition reports whether partition p's final
// file already exists, meaning a prior run already committed it (spec
// §4.4 step 2).
func (g *Group) SkipAlreadyDefragmentedPartition(p uint32) (bool, error) {
	return exists(g.PartitionFinal(p))
}

// SkipAlreadyDefragmentedCacheGroup reports whether this group's
// completion marker already exists, meaning the whole group is done and
// the coordinator should move on (spec §4.7, §7 AlreadyDefragmented).
func (g *Group) SkipAlreadyDefragmentedCacheGroup() (bool, error) {
	return exists(g.CompletionMarker())
}

func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, errors.Wrapf(err, "stat %s", path)
}

// RenamePartition performs the per-partition commit-point rename (spec
// §4.4 step 6): part-dfrg-P.bin.tmp → part-dfrg-P.bin.
func (g *Group) RenamePartition(p uint32) error {
	return rename(g.PartitionTemp(p), g.PartitionFinal(p))
}

// RenameIndex performs the index commit-point rename (spec §4.7). It does
// not write the completion marker; the caller writes that only after this
// succeeds.
func (g *Group) RenameIndex() error {
	return rename(g.IndexTemp(), g.IndexFinal())
}

func rename(from, to string) error {
	if err := os.Rename(from, to); err != nil {
		return errors.Wrapf(err, "rename %s -> %s", from, to)
	}
	return nil
}

// CreateCompletionMarker creates the group's zero-byte completion marker.
// Spec §3: "its atomic creation is the commit point" — O_EXCL guards
// against a concurrent second writer ever observing a half-written file.
func (g *Group) CreateCompletionMarker() error {
	f, err := os.OpenFile(g.CompletionMarker(), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return errors.Wrap(err, "create completion marker")
	}
	return f.Close()
}

// RemoveStaleIndexTemp deletes a leftover index-dfrg.bin.tmp from a
// crashed previous run, so the current run starts the index store from
// scratch (spec §4.6 "delete any stale index-dfrg.bin.tmp").
func (g *Group) RemoveStaleIndexTemp() error {
	err := os.Remove(g.IndexTemp())
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove stale index temp file")
	}
	return nil
}

// BatchRenameDefragmentedCacheGroupPartitions performs the final,
// group-level swap of every part-dfrg-*.bin into its live part-*.bin name,
// called once the completion marker has been written (spec §4.7
// "batchRenameDefragmentedCacheGroupPartitions(G)").
func (g *Group) BatchRenameDefragmentedCacheGroupPartitions(partitions []uint32) error {
	for _, p := range partitions {
		final := g.PartitionFinal(p)
		if ok, err := exists(final); err != nil {
			return err
		} else if !ok {
			continue
		}
		if err := rename(final, g.PartitionFile(p)); err != nil {
			return err
		}
	}
	return nil
}
