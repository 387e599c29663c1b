package defrag

import (
	"path/filepath"
	"testing"

	"defrag/page"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDbMgr is a minimal DbMgr test double: the two data regions it hands
// out are the same *page.Memory the coordinator and the test both observe.
type fakeDbMgr struct {
	partMem, mapMem     *page.Memory
	checkpointedRegions []string
	removedRegions      []string
	resumedWAL          bool
	restoredState       bool
	disabledLocalWAL    bool
}

var errUnknownRegion = errors.New("unknown data region")

func (f *fakeDbMgr) DataRegion(name string) (*page.Memory, error) {
	switch name {
	case partDataRegionName:
		return f.partMem, nil
	case mappingDataRegionName:
		return f.mapMem, nil
	}
	return nil, errUnknownRegion
}

func (f *fakeDbMgr) ResumeWalLogging() error           { f.resumedWAL = true; return nil }
func (f *fakeDbMgr) OnStateRestored() error            { f.restoredState = true; return nil }
func (f *fakeDbMgr) CheckpointedDataRegions() []string { return f.checkpointedRegions }
func (f *fakeDbMgr) RemoveCheckpointedDataRegion(name string) error {
	f.removedRegions = append(f.removedRegions, name)
	return nil
}
func (f *fakeDbMgr) DisableLocalWAL() error { f.disabledLocalWAL = true; return nil }

// fakeStores is a minimal FilePageStoreMgr test double over a single
// temp-dir-backed cache group with a fixed set of pre-built partitions.
type fakeStores struct {
	dir        string
	partitions map[uint32]*page.Store
	hasIndex   bool
}

func (f *fakeStores) CacheWorkDir(group uint32) string { return f.dir }
func (f *fakeStores) Exists(group, partition uint32) bool {
	_, ok := f.partitions[partition]
	return ok
}
func (f *fakeStores) GetStore(group, partition uint32) (*page.Store, error) {
	s, ok := f.partitions[partition]
	if !ok {
		return nil, errUnknownRegion
	}
	return s, nil
}
func (f *fakeStores) HasIndexStore(group uint32) bool { return f.hasIndex }

type fakeMaintenance struct {
	unregistered []string
}

func (f *fakeMaintenance) UnregisterMaintenanceTask(name string) {
	f.unregistered = append(f.unregistered, name)
}

func buildFakeOldPartition(t *testing.T, dir string, n int) *page.Store {
	t.Helper()
	store, _ := buildOldPartition(t, filepath.Join(dir, "part-0.bin"), n, 0, 0)
	return store
}

func TestCoordinatorRunEmptyGroupSkipped(t *testing.T) {
	dir := t.TempDir()
	db := &fakeDbMgr{partMem: page.NewMemory(), mapMem: page.NewMemory()}
	stores := &fakeStores{dir: dir, partitions: map[uint32]*page.Store{}}
	maint := &fakeMaintenance{}

	c := NewCoordinator(CoordinatorConfig{
		DB:          db,
		Stores:      stores,
		Maintenance: maint,
		Codec:       page.CodecFor(page.AlgoNone),
	})

	err := c.Run([]GroupSpec{{ID: 1, Partitions: []uint32{0}, UserGroup: true}})
	require.NoError(t, err)
	assert.True(t, db.resumedWAL)
	assert.True(t, db.restoredState)
	assert.True(t, db.disabledLocalWAL)
	assert.Contains(t, maint.unregistered, MaintenanceTaskName)
}

func TestCoordinatorRunSingleGroupDefragments(t *testing.T) {
	dir := t.TempDir()
	oldStore := buildFakeOldPartition(t, dir, 50)
	t.Cleanup(func() { _ = oldStore.Close() })

	db := &fakeDbMgr{partMem: page.NewMemory(), mapMem: page.NewMemory()}
	stores := &fakeStores{dir: dir, partitions: map[uint32]*page.Store{0: oldStore}}
	maint := &fakeMaintenance{}

	c := NewCoordinator(CoordinatorConfig{
		DB:          db,
		Stores:      stores,
		Maintenance: maint,
		Codec:       page.CodecFor(page.AlgoNone),
		GroupFilter: map[uint32]bool{1: true},
	})

	err := c.Run([]GroupSpec{{ID: 1, Partitions: []uint32{0}, UserGroup: true}})
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dir, "defrg-completion.marker"))
	assert.FileExists(t, filepath.Join(dir, "part-0.bin"))
	assert.NoFileExists(t, filepath.Join(dir, "part-dfrg-0.bin"))
	assert.Contains(t, db.removedRegions, dir)
}

func TestCoordinatorRunFiltersNonUserGroups(t *testing.T) {
	dir := t.TempDir()
	db := &fakeDbMgr{partMem: page.NewMemory(), mapMem: page.NewMemory()}
	stores := &fakeStores{dir: dir, partitions: map[uint32]*page.Store{}}
	maint := &fakeMaintenance{}

	c := NewCoordinator(CoordinatorConfig{
		DB:          db,
		Stores:      stores,
		Maintenance: maint,
		Codec:       page.CodecFor(page.AlgoNone),
	})

	err := c.Run([]GroupSpec{{ID: 2, Partitions: []uint32{0}, UserGroup: false}})
	require.NoError(t, err)
	assert.Empty(t, db.removedRegions)
}

func TestCoordinatorRunGroupFilterExcludesGroup(t *testing.T) {
	dir := t.TempDir()
	oldStore := buildFakeOldPartition(t, dir, 10)
	t.Cleanup(func() { _ = oldStore.Close() })

	db := &fakeDbMgr{partMem: page.NewMemory(), mapMem: page.NewMemory()}
	stores := &fakeStores{dir: dir, partitions: map[uint32]*page.Store{0: oldStore}}
	maint := &fakeMaintenance{}

	c := NewCoordinator(CoordinatorConfig{
		DB:          db,
		Stores:      stores,
		Maintenance: maint,
		Codec:       page.CodecFor(page.AlgoNone),
		GroupFilter: map[uint32]bool{99: true},
	})

	err := c.Run([]GroupSpec{{ID: 1, Partitions: []uint32{0}, UserGroup: true}})
	require.NoError(t, err)
	assert.Empty(t, db.removedRegions)
	assert.NoFileExists(t, filepath.Join(dir, "defrg-completion.marker"))
}
