package defrag

import (
	"defrag/checkpoint"
	"defrag/layout"
	"defrag/linkmap"
	"defrag/page"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// GroupSpec describes one cache group the coordinator should consider
// defragmenting. Discovering the node's cache groups, their partition
// lists, and their page-eviction modes is cluster-runtime bookkeeping
// (spec §1 "deliberately out of scope") — the coordinator's caller
// supplies this list.
type GroupSpec struct {
	ID               uint32
	Partitions       []uint32
	PageEvictionMode string
	UserGroup        bool
}

// CoordinatorConfig wires the Defragmenter Coordinator (C9) to its
// external collaborators (spec §6).
type CoordinatorConfig struct {
	Log         logrus.FieldLogger
	DB          DbMgr
	Stores      FilePageStoreMgr
	Maintenance MaintenanceRegistry
	Indexing    Indexing
	TTL         TTLUnregistrar
	WAL         WALDisabler
	Codec       page.Codec
	// GroupFilter mirrors cacheGroupsForDefragmentation: when non-empty,
	// only groups whose ID is in this set are processed.
	GroupFilter map[uint32]bool
}

// Coordinator is the Defragmenter Coordinator (C9).
type Coordinator struct {
	cfg     CoordinatorConfig
	log     logrus.FieldLogger
	cp      *checkpoint.Controller
	partMem *page.Memory
	mapMem  *page.Memory

	prevPageEvictionMode string
	prevIndexFut         *checkpoint.Future
}

// partDataRegionName and mappingDataRegionName are the well-known region
// names the coordinator asks DbMgr for (spec §6 "dataRegion(name) →
// Region"), matching spec §3's partDataRegion/mappingDataRegion vocabulary.
const (
	partDataRegionName    = "partDataRegion"
	mappingDataRegionName = "mappingDataRegion"
)

// NewCoordinator builds a Coordinator. The part-region and mapping-region
// page memories are fetched from DbMgr once Run starts; the checkpoint
// controller flushes whatever is registered in them at that point.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}
	c := &Coordinator{
		cfg: cfg,
		log: cfg.Log,
	}
	c.cp = checkpoint.New(c.flush, cfg.Log)
	return c
}

func (c *Coordinator) flush(reason string) error {
	if err := c.partMem.SyncAll(); err != nil {
		return errors.Wrap(err, "sync part region")
	}
	if err := c.mapMem.SyncAll(); err != nil {
		return errors.Wrap(err, "sync mapping region")
	}
	return nil
}

// Run drives spec §4.7's coordinator loop over groups.
func (c *Coordinator) Run(groups []GroupSpec) error {
	partMem, err := c.cfg.DB.DataRegion(partDataRegionName)
	if err != nil {
		return errors.Wrap(err, "acquire part data region")
	}
	mapMem, err := c.cfg.DB.DataRegion(mappingDataRegionName)
	if err != nil {
		return errors.Wrap(err, "acquire mapping data region")
	}
	c.partMem, c.mapMem = partMem, mapMem

	c.cp.Start()
	defer c.cp.Stop()

	if err := c.cfg.DB.ResumeWalLogging(); err != nil {
		return errors.Wrap(err, "resume WAL logging")
	}
	if err := c.cfg.DB.OnStateRestored(); err != nil {
		return errors.Wrap(err, "restore state")
	}

	c.log.WithField("checkpointedRegions", c.cfg.DB.CheckpointedDataRegions()).
		Debug("forcing beforeDefragmentation checkpoint across currently checkpointed regions")

	beforeFut, err := c.cp.ForceCheckpoint("beforeDefragmentation")
	if err != nil {
		return errors.Wrap(err, "force beforeDefragmentation checkpoint")
	}
	if err := beforeFut.Get(); err != nil {
		return errors.Wrap(err, "beforeDefragmentation checkpoint failed")
	}

	if err := c.cfg.DB.DisableLocalWAL(); err != nil {
		return errors.Wrap(err, "disable local WAL")
	}

	for _, g := range groups {
		if err := c.runGroup(g); err != nil {
			c.cp.Stop()
			return err
		}
	}

	c.cfg.Maintenance.UnregisterMaintenanceTask(MaintenanceTaskName)
	return nil
}

func (c *Coordinator) runGroup(g GroupSpec) error {
	log := c.log.WithFields(logrus.Fields{"group": g.ID})

	if len(c.cfg.GroupFilter) > 0 && !c.cfg.GroupFilter[g.ID] {
		log.Debug("group not in cacheGroupsForDefragmentation filter, skipping")
		return nil
	}
	if !g.UserGroup {
		log.Debug("non-user cache group, skipping")
		return nil
	}

	workDir := c.cfg.Stores.CacheWorkDir(g.ID)
	lay := layout.ForGroup(workDir)
	done, err := lay.SkipAlreadyDefragmentedCacheGroup()
	if err != nil {
		return groupErr(KindPageIOError, g.ID, err)
	}
	if done {
		log.Debug("cache group already defragmented, skipping")
		return nil
	}

	oldPartitions := c.existingPartitions(g)
	if len(oldPartitions) == 0 {
		log.Debug("cache group has no existing partitions with data, skipping")
		return nil
	}

	if g.PageEvictionMode != "" && c.prevPageEvictionMode != "" && g.PageEvictionMode != c.prevPageEvictionMode {
		if c.prevIndexFut != nil {
			if err := c.prevIndexFut.Get(); err != nil {
				return groupErr(KindCheckpointFailed, g.ID, err)
			}
		}
	}
	c.prevPageEvictionMode = g.PageEvictionMode

	if err := c.cfg.DB.RemoveCheckpointedDataRegion(workDir); err != nil {
		return groupErr(KindPageIOError, g.ID, err)
	}
	if c.cfg.TTL != nil {
		if err := c.cfg.TTL.UnregisterTTL(g.ID); err != nil {
			return groupErr(KindPageIOError, g.ID, err)
		}
	}
	if c.cfg.WAL != nil {
		if err := c.cfg.WAL.DisableGroupWAL(g.ID); err != nil {
			return groupErr(KindPageIOError, g.ID, err)
		}
	}

	if _, err := bootstrapIndexStore(g.ID, lay, c.cp, c.partMem); err != nil {
		return groupErr(KindPageIOError, g.ID, err)
	}

	pipeline := NewPartitionPipeline(PipelineConfig{
		Group: g.ID,
		Codec: c.cfg.Codec,
		Log:   c.log,
	}, lay, c.cp, c.partMem, c.mapMem)

	linkMaps := make(map[uint32]*linkmap.LinkMap, len(oldPartitions))
	results := make([]PartitionResult, 0, len(oldPartitions))
	for _, p := range oldPartitions {
		oldStore, err := c.cfg.Stores.GetStore(g.ID, p)
		if err != nil {
			if oldStore != nil {
				log.WithError(err).WithField("partition", p).Debug("old page store lookup failed")
			}
			return partitionErr(KindPageIOError, g.ID, p, err)
		}

		result, err := pipeline.Run(p, oldStore)
		if err != nil {
			return err
		}
		linkMaps[p] = result.LinkMap
		results = append(results, result)
	}

	// Spec §4.7: partitions run sequentially, but their closing checkpoints
	// are collected into one compound future and awaited together before
	// any of them is renamed into place.
	cf := checkpoint.NewCompoundFuture()
	for _, r := range results {
		cf.Add(r.checkpointFuture)
	}
	if err := cf.Wait(); err != nil {
		return groupErr(KindCheckpointFailed, g.ID, err)
	}
	for _, r := range results {
		if err := pipeline.Finish(r); err != nil {
			return err
		}
	}

	hasIndexStore := c.cfg.Stores.HasIndexStore(g.ID)
	if err := runIndexDefragmentation(g.ID, g.ID, g.Partitions, linkMaps, c.cfg.Indexing, hasIndexStore, lay, c.cp, c.partMem, c.mapMem); err != nil {
		return err
	}
	// Index defragmentation above already ran to completion synchronously,
	// so the "await the previous group's index future" gate in the next
	// call to runGroup has nothing left to wait for; kept as a Future for
	// fidelity with spec §4.7's compound-future wording and as the seam a
	// genuinely async Indexing.Defragment implementation would need.
	c.prevIndexFut = checkpoint.Finished()

	return nil
}

func (c *Coordinator) existingPartitions(g GroupSpec) []uint32 {
	var out []uint32
	for _, p := range g.Partitions {
		if c.cfg.Stores.Exists(g.ID, p) {
			out = append(out, p)
		}
	}
	return out
}
