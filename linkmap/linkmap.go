// Package linkmap implements the Link Map (C5): a persistent old-link to
// new-link mapping that lets the Cache Data Tree rebuild step rewrite rows
// at fresh addresses while deferring the fix-up of every other index that
// still points at the old ones.
package linkmap

import (
	"encoding/binary"

	"defrag/page"
	"defrag/tree"

	"github.com/pkg/errors"
)

// MetaPageIdx is the well-known page index the map's root pointer lives
// at — page 0 of its own dedicated page store, mirroring the reserved
// metadata page every other page store in this engine carries.
const MetaPageIdx uint32 = 0

// LinkMap wraps a tree.BTree keyed by the 8-byte old link, valued by the
// 8-byte new link. Page store layout: page 0 holds the map's own header
// plus the tree's root pointer; every later page belongs to the tree.
type LinkMap struct {
	store *page.Store
	bt    *tree.BTree
	root  uint32
}

// Create formats a brand-new link map over an empty store (init=true in
// spec §4.3 terms — the store has no meta page yet).
func Create(store *page.Store) (*LinkMap, error) {
	if _, err := store.Allocate(); err != nil {
		return nil, errors.Wrap(err, "linkmap: allocate meta page")
	}
	lm := &LinkMap{store: store, root: noRootMarker}
	lm.bt = tree.Open(store, noRootMarker)
	if err := lm.writeMeta(); err != nil {
		return nil, err
	}
	return lm, nil
}

// Open resumes a link map previously formatted by Create (init=false).
func Open(store *page.Store) (*LinkMap, error) {
	buf := make([]byte, page.Size)
	if err := store.ReadPage(MetaPageIdx, buf); err != nil {
		return nil, errors.Wrap(err, "linkmap: read meta page")
	}
	root := binary.LittleEndian.Uint32(buf[page.HeaderSize:])
	lm := &LinkMap{store: store, root: root}
	lm.bt = tree.Open(store, root)
	return lm, nil
}

const noRootMarker = ^uint32(0)

func (lm *LinkMap) writeMeta() error {
	buf := make([]byte, page.Size)
	page.PutHeader(buf, page.Header{Type: 4, Version: 1})
	root, _ := lm.bt.Root()
	binary.LittleEndian.PutUint32(buf[page.HeaderSize:], root)
	return errors.Wrap(lm.store.WritePage(MetaPageIdx, buf), "linkmap: write meta page")
}

func encodeLink(link uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, link)
	return b
}

func decodeLink(b []byte) uint64 {
	return binary.LittleEndian.Uint64(b)
}

// Put records that old now lives at new. A duplicate Put for the same old
// link overwrites the previous mapping (spec §4.3).
func (lm *LinkMap) Put(old, new_ uint64) error {
	if err := lm.bt.Put(encodeLink(old), encodeLink(new_)); err != nil {
		return errors.Wrap(err, "linkmap: put")
	}
	return lm.writeMeta()
}

// Get resolves old to its new link, reporting false if old was never
// mapped.
func (lm *LinkMap) Get(old uint64) (uint64, bool, error) {
	v, ok, err := lm.bt.Get(encodeLink(old))
	if err != nil || !ok {
		return 0, ok, err
	}
	return decodeLink(v), true, nil
}

// Flush rewrites the map's meta page with the current root pointer. Put
// already does this after every insert, so Flush only repeats that write.
func (lm *LinkMap) Flush() error {
	return lm.writeMeta()
}

// Close releases the underlying page store. Callers do this once the map
// is no longer needed — for this engine, once a cache group's index
// defragmentation has consumed every partition's map (spec §4.6 "clear
// mapping-region page stores for this group").
func (lm *LinkMap) Close() error {
	return lm.store.Close()
}
