// Package tree implements the page-resident B+-tree used for the Cache
// Data Tree, the Pending Entries Tree, and the Link Map, plus the forward
// tree iterator (C4). Node layout is adapted from
// duchm1606-godb/pkg/btree/node.go, generalized from a single in-process
// byte slice to pages read and written through a page.Store, and from 8-byte page
// pointers to the 4-byte page indices this engine's stores hand out.
package tree

import (
	"bytes"
	"encoding/binary"

	"defrag/page"
)

// node types, same two-way split as duchm1606's NodeTypeInternal/NodeTypeLeaf.
const (
	typeInternal uint16 = 1
	typeLeaf     uint16 = 2
)

// node layout:
//
//	page.Header (8B) | nodeType (2B) | nkeys (2B) | pointers (nkeys*4B, internal only) | offsets (nkeys*2B) | packed entries
//
// Each packed entry is [klen uint16][vlen uint16][key][val]. Offsets are
// relative to the start of the packed-entries area and give the start of
// entry i's bytes, mirroring duchm1606's offset list exactly.
const (
	nodeHeaderOff  = page.HeaderSize
	nodeTypeOff    = nodeHeaderOff
	nodeNKeysOff   = nodeHeaderOff + 2
	nodeEntriesOff = nodeHeaderOff + 4
)

type node []byte

func newNode() node {
	n := make(node, page.Size)
	page.PutHeader(n, page.Header{Type: 3, Version: 1})
	return n
}

func (n node) ntype() uint16   { return binary.LittleEndian.Uint16(n[nodeTypeOff:]) }
func (n node) nkeys() uint16   { return binary.LittleEndian.Uint16(n[nodeNKeysOff:]) }
func (n node) setHeader(t, nkeys uint16) {
	binary.LittleEndian.PutUint16(n[nodeTypeOff:], t)
	binary.LittleEndian.PutUint16(n[nodeNKeysOff:], nkeys)
}

func (n node) ptrAreaOff() int { return nodeEntriesOff }

func (n node) offsetAreaOff() int {
	if n.ntype() == typeInternal {
		return nodeEntriesOff + int(n.nkeys())*4
	}
	return nodeEntriesOff
}

func (n node) entryAreaOff() int {
	return n.offsetAreaOff() + int(n.nkeys())*2
}

func (n node) getPtr(idx uint16) uint32 {
	off := n.ptrAreaOff() + int(idx)*4
	return binary.LittleEndian.Uint32(n[off:])
}

func (n node) setPtr(idx uint16, v uint32) {
	off := n.ptrAreaOff() + int(idx)*4
	binary.LittleEndian.PutUint32(n[off:], v)
}

func (n node) getOffset(idx uint16) uint16 {
	if idx == 0 {
		return 0
	}
	off := n.offsetAreaOff() + int(idx-1)*2
	return binary.LittleEndian.Uint16(n[off:])
}

func (n node) setOffset(idx uint16, v uint16) {
	if idx == 0 {
		return
	}
	off := n.offsetAreaOff() + int(idx-1)*2
	binary.LittleEndian.PutUint16(n[off:], v)
}

func (n node) entryPos(idx uint16) int {
	return n.entryAreaOff() + int(n.getOffset(idx))
}

func (n node) getEntry(idx uint16) (key, val []byte) {
	pos := n.entryPos(idx)
	klen := binary.LittleEndian.Uint16(n[pos:])
	vlen := binary.LittleEndian.Uint16(n[pos+2:])
	key = n[pos+4 : pos+4+int(klen)]
	val = n[pos+4+int(klen) : pos+4+int(klen)+int(vlen)]
	return
}

func (n node) getKey(idx uint16) []byte {
	key, _ := n.getEntry(idx)
	return key
}

func (n node) usedBytes() int {
	nk := n.nkeys()
	if nk == 0 {
		return n.entryAreaOff()
	}
	last := n.entryPos(nk - 1)
	k, v := n.getEntry(nk - 1)
	return last + 4 + len(k) + len(v)
}

// build constructs a fresh node of the given type from parallel key/val
// (leaf) or key/ptr (internal) slices. For internal nodes pass nil vals
// and non-nil ptrs; for leaves pass nil ptrs and non-nil vals.
func build(ntype uint16, keys [][]byte, vals [][]byte, ptrs []uint32) node {
	n := newNode()
	nk := uint16(len(keys))
	n.setHeader(ntype, nk)

	entryOff := n.entryAreaOff()
	cursor := entryOff
	for i := 0; i < len(keys); i++ {
		if ntype == typeInternal {
			n.setPtr(uint16(i), ptrs[i])
		}
		n.setOffset(uint16(i), uint16(cursor-entryOff))
		var val []byte
		if vals != nil {
			val = vals[i]
		}
		binary.LittleEndian.PutUint16(n[cursor:], uint16(len(keys[i])))
		binary.LittleEndian.PutUint16(n[cursor+2:], uint16(len(val)))
		copy(n[cursor+4:], keys[i])
		copy(n[cursor+4+len(keys[i]):], val)
		cursor += 4 + len(keys[i]) + len(val)
	}
	return n
}

func cmp(a, b []byte) int {
	return bytes.Compare(a, b)
}
