package defrag

import (
	"encoding/binary"

	"defrag/page"

	"github.com/pkg/errors"
)

// MetaPageIdx is the reserved page index every partition store carries its
// meta page at, mirroring the Link Map's own well-known meta page.
const MetaPageIdx uint32 = 0

// Supported partition meta versions (spec §3, §4.5 step 1).
const (
	MetaVersion1 = 1
	MetaVersion2 = 2
	MetaVersion3 = 3
)

// CurrentMetaVersion is the version every meta page this engine writes
// carries.
const CurrentMetaVersion = MetaVersion3

// ErrUnsupportedMetaVersion is returned when an old partition's meta
// version falls outside {1,2,3} (spec §4.5 step 1, §7).
var ErrUnsupportedMetaVersion = errors.New("defrag: unsupported partition meta version")

// MetaPage is the partition meta page (spec §3). It is read from an
// existing partition's page 0 and written fresh to a new partition's page
// 0 by copyPartitionMeta (spec §4.5).
type MetaPage struct {
	Version            uint16
	PartitionState     uint8
	Size               uint64
	UpdateCounter      uint64
	GlobalRemoveID     uint64
	CountersPageID     uint32 // 0 means "no shared-group counters chain"
	GapsLink           uint64 // 0 means "no gaps blob"
	EncryptedPageCount uint32
	EncryptedPageIndex uint32

	// CacheDataTreeRoot and PendingTreeRoot are this engine's own
	// bookkeeping, persisted alongside the fields above so a store can be
	// reopened without a separate superblock.
	CacheDataTreeRoot uint32
	HasCacheDataRoot  bool
	PendingTreeRoot   uint32
	HasPendingRoot    bool
}

const noRoot = ^uint32(0)

const metaLayoutSize = 2 + 1 + 8 + 8 + 8 + 4 + 8 + 4 + 4 + 4 + 4

// ReserveMetaPage allocates page 0 for store's meta page if the store is
// brand new. It must be called before any tree or free list activity
// touches the store — otherwise the first tree node or free-list row would
// land on page 0 and a later WriteMetaPage would silently overwrite it.
func ReserveMetaPage(store *page.Store) error {
	if store.Pages() != 0 {
		return nil
	}
	idx, err := store.Allocate()
	if err != nil {
		return errors.Wrap(err, "defrag: reserve meta page")
	}
	if idx != MetaPageIdx {
		return errors.Errorf("defrag: meta page reservation landed on page %d, expected %d", idx, MetaPageIdx)
	}
	return nil
}

// ReadMetaPage reads and decodes the meta page at page 0 of store.
func ReadMetaPage(store *page.Store) (MetaPage, error) {
	buf := make([]byte, page.Size)
	if err := store.ReadPage(MetaPageIdx, buf); err != nil {
		return MetaPage{}, errors.Wrap(err, "defrag: read meta page")
	}
	body := buf[page.HeaderSize:]
	var m MetaPage
	m.Version = binary.BigEndian.Uint16(body[0:])
	m.PartitionState = body[2]
	m.Size = binary.BigEndian.Uint64(body[3:])
	m.UpdateCounter = binary.BigEndian.Uint64(body[11:])
	m.GlobalRemoveID = binary.BigEndian.Uint64(body[19:])
	m.CountersPageID = binary.BigEndian.Uint32(body[27:])
	m.GapsLink = binary.BigEndian.Uint64(body[31:])
	m.EncryptedPageCount = binary.BigEndian.Uint32(body[39:])
	m.EncryptedPageIndex = binary.BigEndian.Uint32(body[43:])
	m.CacheDataTreeRoot = binary.BigEndian.Uint32(body[47:])
	m.PendingTreeRoot = binary.BigEndian.Uint32(body[51:])
	m.HasCacheDataRoot = m.CacheDataTreeRoot != noRoot
	m.HasPendingRoot = m.PendingTreeRoot != noRoot
	return m, nil
}

// WriteMetaPage encodes and writes m to page 0 of store, allocating that
// page first if the store is brand new (Pages() == 0).
func WriteMetaPage(store *page.Store, m MetaPage) error {
	if store.Pages() == 0 {
		if _, err := store.Allocate(); err != nil {
			return errors.Wrap(err, "defrag: allocate meta page")
		}
	}
	buf := make([]byte, page.Size)
	page.PutHeader(buf, page.Header{Type: 1, Version: m.Version})
	body := buf[page.HeaderSize:]

	cdRoot, pRoot := m.CacheDataTreeRoot, m.PendingTreeRoot
	if !m.HasCacheDataRoot {
		cdRoot = noRoot
	}
	if !m.HasPendingRoot {
		pRoot = noRoot
	}

	binary.BigEndian.PutUint16(body[0:], m.Version)
	body[2] = m.PartitionState
	binary.BigEndian.PutUint64(body[3:], m.Size)
	binary.BigEndian.PutUint64(body[11:], m.UpdateCounter)
	binary.BigEndian.PutUint64(body[19:], m.GlobalRemoveID)
	binary.BigEndian.PutUint32(body[27:], m.CountersPageID)
	binary.BigEndian.PutUint64(body[31:], m.GapsLink)
	binary.BigEndian.PutUint32(body[39:], m.EncryptedPageCount)
	binary.BigEndian.PutUint32(body[43:], m.EncryptedPageIndex)
	binary.BigEndian.PutUint32(body[47:], cdRoot)
	binary.BigEndian.PutUint32(body[51:], pRoot)

	return errors.Wrap(store.WritePage(MetaPageIdx, buf), "defrag: write meta page")
}
