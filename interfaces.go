package defrag

import (
	"defrag/checkpoint"
	"defrag/linkmap"
	"defrag/page"
)

// MaintenanceTaskName is the maintenance-registry task name an external
// actor registers to trigger the engine on restart; the engine
// unregisters it on success (spec §6).
const MaintenanceTaskName = "defragmentationMaintenanceTask"

// DbMgr is the subset of the node's database manager the coordinator
// consumes (spec §6). The cluster runtime, WAL, and topology behind it are
// out of scope — this engine only needs the six calls below.
type DbMgr interface {
	DataRegion(name string) (*page.Memory, error)
	ResumeWalLogging() error
	OnStateRestored() error
	CheckpointedDataRegions() []string
	RemoveCheckpointedDataRegion(name string) error
	DisableLocalWAL() error
}

// FilePageStoreMgr is the subset of the file-page-store manager the
// coordinator consumes to discover and open a cache group's existing
// partition files.
type FilePageStoreMgr interface {
	CacheWorkDir(group uint32) string
	Exists(group, partition uint32) bool
	GetStore(group, partition uint32) (*page.Store, error)
	HasIndexStore(group uint32) bool
}

// MaintenanceRegistry is the subset of the maintenance-task registry the
// coordinator consumes to clear its own task on success.
type MaintenanceRegistry interface {
	UnregisterMaintenanceTask(name string)
}

// Indexing is the external indexing subsystem's defragmentation hook (C8
// delegates to it). linkMaps carries one Link Map per partition of
// oldGroup; the implementer must translate every link it encounters
// through the matching partition's map.
type Indexing interface {
	ModuleEnabled() bool
	Defragment(oldGroup, newGroup uint32, partMemory *page.Memory, linkMaps map[uint32]*linkmap.LinkMap, cpLock CheckpointManager) error
}

// CheckpointManager is the minimal checkpoint contract the coordinator and
// pipeline depend on — satisfied by *checkpoint.Controller, and narrowed
// here so test doubles don't need the controller's full surface.
type CheckpointManager interface {
	ForceCheckpoint(reason string) (*checkpoint.Future, error)
	ReadLock()
	ReadUnlock()
}

var _ CheckpointManager = (*checkpoint.Controller)(nil)

// TTLUnregistrar unregisters TTL (pending-entry expiry) processing for a
// cache group's caches before its pipelines run (spec §4.7 "unregister TTL
// for the group's caches").
type TTLUnregistrar interface {
	UnregisterTTL(group uint32) error
}

// WALDisabler locally disables a cache group's WAL for the duration of its
// rewrite (spec §4.7 "locally disable the group's WAL").
type WALDisabler interface {
	DisableGroupWAL(group uint32) error
}
