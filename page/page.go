// Package page implements the fixed-size page store and buffer pool the
// defragmentation engine writes its compacted partitions through (C1/C2).
package page

// Size is the fixed page size used by every store the engine creates.
// The teacher's DefaultPageSize played the same role for a single file;
// here it is shared by every partition, mapping, and index store a run
// allocates.
const Size = 4096

// Flag distinguishes a data partition page from an index partition page,
// the two page kinds the engine ever allocates (spec §3 "Page").
type Flag uint8

const (
	// FlagData marks pages belonging to a partition's Cache Data Tree,
	// Pending Entries Tree, or free list.
	FlagData Flag = iota
	// FlagIdx marks pages belonging to the index partition.
	FlagIdx
)

func (f Flag) String() string {
	switch f {
	case FlagData:
		return "DATA"
	case FlagIdx:
		return "IDX"
	default:
		return "UNKNOWN"
	}
}

// ID is the 64-bit opaque page address described in spec §3: it encodes
// (partition, flag, index) the same way the teacher's PagePtr addressed a
// single-file page count, generalized to multiple partitions sharing one
// id space per cache group.
//
// Layout, high to low bits: 8 bits unused, 8 bits flag, 16 bits partition,
// 32 bits index. This mirrors Ignite's PageIdUtils packing closely enough
// to keep the partition/flag/index vocabulary the spec uses, without
// claiming bit-for-bit compatibility with any real wire format.
type ID uint64

// IndexPartition is the well-known partition number reserved for a cache
// group's index pages (analogous to Ignite's PageIdAllocator.INDEX_PARTITION).
const IndexPartition = 0xFFFF

// NewID packs a partition number, flag, and page index into a single ID.
func NewID(partition uint16, flag Flag, index uint32) ID {
	return ID(uint64(flag)<<48 | uint64(partition)<<32 | uint64(index))
}

// Partition extracts the partition number encoded in the id.
func (id ID) Partition() uint16 {
	return uint16(id >> 32)
}

// Flag extracts the page flag encoded in the id.
func (id ID) Flag() Flag {
	return Flag(id >> 48)
}

// Index extracts the page index (position within the partition's page
// sequence) encoded in the id.
func (id ID) Index() uint32 {
	return uint32(id)
}

// Header is the fixed preamble every page begins with: a type tag and
// version that higher layers (the B+-tree, the free list) reinterpret the
// remaining bytes against. Same role as the teacher's Page struct in
// page.go, trimmed to what this spec's layers actually need.
type Header struct {
	Type     uint16
	Version  uint16
	CheckSum uint32
}

const HeaderSize = 8

// PutHeader writes h into the first HeaderSize bytes of buf.
func PutHeader(buf []byte, h Header) {
	byteOrder.PutUint16(buf[0:2], h.Type)
	byteOrder.PutUint16(buf[2:4], h.Version)
	byteOrder.PutUint32(buf[4:8], h.CheckSum)
}

// GetHeader reads a Header from the first HeaderSize bytes of buf.
func GetHeader(buf []byte) Header {
	return Header{
		Type:     byteOrder.Uint16(buf[0:2]),
		Version:  byteOrder.Uint16(buf[2:4]),
		CheckSum: byteOrder.Uint32(buf[4:8]),
	}
}
