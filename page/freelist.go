package page

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// rowChunkType tags pages that hold free-list row bytes, distinguishing
// them from tree pages sharing the same store.
const rowChunkType uint16 = 2

// FreeList allocates storage for data rows inside a page store, grounded
// on the teacher-adjacent `duchm1606-godb/pkg/storage/freelist.go` design
// (a page-backed linked allocator) generalized for values that may not
// fit in a single page. Because the engine's stores allocate pages
// sequentially and never shrink mid-run, a row spanning N pages always
// lands on N *contiguous* indices — the same "first/middle/last" idea as
// the teacher's PageFirst/PageMiddle/PageLast flags in page.go, without
// needing explicit next-page pointers to chain them.
type FreeList struct {
	store *Store
	codec Codec

	rowsInserted int64
}

// NewFreeList constructs a free list writing rows into store, compressing
// values through codec (AlgoNone is a valid, zero-value codec).
func NewFreeList(store *Store, codec Codec) *FreeList {
	return &FreeList{store: store, codec: codec}
}

// InsertDataRow allocates fresh storage for row and writes it, returning
// the link (spec §3 "Row link") at which it now lives. The caller is
// expected to have already zeroed row.Link — a fresh link is always
// assigned, which is what forces every old link to be invalidated by
// defragmentation (spec §1).
func (fl *FreeList) InsertDataRow(row DataRow) (uint64, error) {
	blob := row.Marshal(fl.codec)

	payload := make([]byte, 4+len(blob))
	binary.LittleEndian.PutUint32(payload[:4], uint32(len(blob)))
	copy(payload[4:], blob)

	firstIdx := int64(-1)
	offset := 0

	for offset < len(payload) {
		idx, err := fl.store.Allocate()
		if err != nil {
			return 0, errors.Wrap(err, "free list: allocate row page")
		}
		if firstIdx < 0 {
			firstIdx = int64(idx)
		}

		buf := make([]byte, Size)
		PutHeader(buf, Header{Type: rowChunkType, Version: 1})
		n := copy(buf[HeaderSize:], payload[offset:])
		if err := fl.store.WritePage(idx, buf); err != nil {
			return 0, errors.Wrap(err, "free list: write row page")
		}
		offset += n
	}

	fl.rowsInserted++
	return uint64(firstIdx), nil
}

// GetDataRow reads back a row previously written by InsertDataRow.
func (fl *FreeList) GetDataRow(link uint64) (DataRow, error) {
	idx := uint32(link)

	buf := make([]byte, Size)
	if err := fl.store.ReadPage(idx, buf); err != nil {
		return DataRow{}, errors.Wrap(err, "free list: read row page")
	}
	total := binary.LittleEndian.Uint32(buf[HeaderSize : HeaderSize+4])

	payload := make([]byte, 0, total)
	payload = append(payload, buf[HeaderSize+4:]...)
	idx++
	for int64(len(payload)) < int64(total) {
		if err := fl.store.ReadPage(idx, buf); err != nil {
			return DataRow{}, errors.Wrap(err, "free list: read row continuation page")
		}
		payload = append(payload, buf[HeaderSize:]...)
		idx++
	}
	payload = payload[:total]

	return Unmarshal(payload, fl.codec)
}

// SaveMetadata flushes the free list's bookkeeping. Defragmentation never
// frees a row mid-run (storage is append-mostly, spec §3), so there is no
// reclaimed-page chain to persist yet; this exists so the call site in the
// partition pipeline (spec §4.4 step 5) matches the contract a future
// implementation with row deletion would need.
func (fl *FreeList) SaveMetadata() error {
	return nil
}

// RowsInserted is the number of rows written through this free list so
// far, used for logging (spec §4.4 step 6 "log sizes").
func (fl *FreeList) RowsInserted() int64 {
	return fl.rowsInserted
}
