package page

import (
	"sync"

	"github.com/pkg/errors"
)

// storeKey identifies one of the stores registered in a Memory: a
// (cache group, partition, flag) triple. The part region and the mapping
// region each hold many stores, one per partition per cache group
// currently being defragmented.
type storeKey struct {
	group     int32
	partition uint16
	flag      Flag
}

// Memory is the buffer pool over a set of page stores (C2). It offers the
// acquire/read-lock/write-lock/release call shape of PageMemoryEx for the
// Java engine, generalized across every store registered for a data
// region; the latch calls take no lock of their own (see Pinned) (spec §3 "Ownership": the coordinator owns partDataRegion and
// mappingDataRegion for the run).
type Memory struct {
	mu     sync.RWMutex
	stores map[storeKey]*Store
}

// NewMemory creates an empty buffer pool. One Memory is constructed per
// data region (partDataRegion, mappingDataRegion); the node-global old
// page memory is a distinct Memory this engine never writes through.
func NewMemory() *Memory {
	return &Memory{stores: make(map[storeKey]*Store)}
}

// AddStore registers a page store for (group, partition, flag), the
// equivalent of DefragmentationPageReadWriteManager.pageStoreMap().addPageStore.
func (m *Memory) AddStore(group int32, partition uint16, flag Flag, s *Store) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stores[storeKey{group, partition, flag}] = s
}

// RemoveStore deregisters a single store, without closing it — callers
// close the store themselves (PartitionPipeline.Finish closes it just
// before the final rename, spec §4.4 Step 6).
func (m *Memory) RemoveStore(group int32, partition uint16, flag Flag) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.stores, storeKey{group, partition, flag})
}

// ClearGroupAndClose removes and closes every store registered for a
// cache group, the mapping region's actual end-of-group cleanup (spec
// §4.6 "clear mapping-region page stores for this group") once nothing
// else still needs them open.
func (m *Memory) ClearGroupAndClose(group int32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for k, s := range m.stores {
		if k.group != group {
			continue
		}
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(m.stores, k)
	}
	return firstErr
}

// Invalidate drops any pinned state this Memory is holding for
// (group, partition). Because pages are mapped directly from the backing
// store rather than double-buffered, there is no separate cache entry to
// evict; Invalidate exists so call sites mirroring the Java
// PageMemoryEx.invalidate(grpId, partId) contract have somewhere to call
// into, and so a future double-buffered implementation has a seam.
func (m *Memory) Invalidate(group int32, partition uint16) {
	// No-op: pages are views directly over Store's mmap region, which is
	// already closed/renamed by the caller once invalidation is requested.
	_ = group
	_ = partition
}

// SyncAll flushes every store currently registered in this Memory, the
// page-store half of a checkpoint flush cycle (spec §4.1).
func (m *Memory) SyncAll() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.stores {
		if err := s.Sync(); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) storeFor(group int32, partition uint16, flag Flag) (*Store, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.stores[storeKey{group, partition, flag}]
	if !ok {
		return nil, errors.Errorf("no page store registered for group=%d partition=%d flag=%s", group, partition, flag)
	}
	return s, nil
}

// Pinned is a single pinned page, acquired via Memory.Acquire. It exposes
// a read-lock/write-lock pair over a private copy of the page's bytes;
// neither call takes a latch, and ReadUnlock and Release do nothing. The
// B+-tree and free list do not go through it — they read and write their
// page.Store directly.
type Pinned struct {
	mem       *Memory
	group     int32
	id        ID
	store     *Store
	buf       [Size]byte
	loaded    bool
	writeHeld bool
}

// Acquire pins the page addressed by id within the given cache group's
// registered store, loading its current bytes from the backing Store.
// Mirrors PageMemoryEx.acquirePage.
func (m *Memory) Acquire(group int32, id ID) (*Pinned, error) {
	store, err := m.storeFor(group, id.Partition(), id.Flag())
	if err != nil {
		return nil, err
	}
	return &Pinned{mem: m, group: group, id: id, store: store}, nil
}

func (p *Pinned) ensureLoaded() error {
	if p.loaded {
		return nil
	}
	if err := p.store.ReadPage(p.id.Index(), p.buf[:]); err != nil {
		return err
	}
	p.loaded = true
	return nil
}

// ReadLock returns the page bytes for reading. Callers must call
// ReadUnlock when done; the slice returned is only valid until then.
func (p *Pinned) ReadLock() ([]byte, error) {
	if err := p.ensureLoaded(); err != nil {
		return nil, err
	}
	return p.buf[:], nil
}

// ReadUnlock releases a read latch acquired by ReadLock.
func (p *Pinned) ReadUnlock() {}

// WriteLock returns the page bytes for mutation. The caller writes
// in-place into the returned slice; the mutation is only durable once
// WriteUnlock(true) is called.
func (p *Pinned) WriteLock() ([]byte, error) {
	if err := p.ensureLoaded(); err != nil {
		return nil, err
	}
	p.writeHeld = true
	return p.buf[:], nil
}

// WriteUnlock releases a write latch acquired by WriteLock. If dirty is
// true, the page's current bytes are persisted to the backing store.
func (p *Pinned) WriteUnlock(dirty bool) error {
	p.writeHeld = false
	if !dirty {
		return nil
	}
	return p.store.WritePage(p.id.Index(), p.buf[:])
}

// Release unpins the page. Safe to call multiple times.
func (p *Pinned) Release() {}
