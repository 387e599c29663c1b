package tree

import (
	"defrag/page"

	"github.com/pkg/errors"
)

// noRoot marks a tree with no allocated root page yet.
const noRoot = ^uint32(0)

// BTree is a page-resident ordered map, adapted from
// duchm1606-godb/pkg/btree/tree.go's BTree — same get/new callback idea,
// generalized to read/write through a page.Store instead of an in-process
// byte-slice arena. Keys and values are caller-encoded bytes; the three
// uses this engine makes of it (Cache Data Tree, Pending Entries Tree,
// Link Map) each bring their own key encoding.
//
// Because this engine is the sole writer of every tree it builds — there
// are no concurrent readers of a stale version — nodes are mutated and
// rewritten in place at the same page index rather than copy-on-write.
type BTree struct {
	store *page.Store
	root  uint32
}

// Open wraps an existing root page (resuming a tree already on disk) or,
// if root is noRoot, starts an empty tree that allocates its first page
// lazily on the first Put.
func Open(store *page.Store, root uint32) *BTree {
	return &BTree{store: store, root: root}
}

// New starts an empty tree over store.
func New(store *page.Store) *BTree {
	return Open(store, noRoot)
}

// Root returns the current root page index and whether one has been
// allocated yet — callers persist this into their owning meta page.
func (t *BTree) Root() (uint32, bool) {
	return t.root, t.root != noRoot
}

func (t *BTree) get(idx uint32) (node, error) {
	buf := make([]byte, page.Size)
	if err := t.store.ReadPage(idx, buf); err != nil {
		return nil, errors.Wrap(err, "tree: read node page")
	}
	return node(buf), nil
}

func (t *BTree) put(idx uint32, n node) error {
	return errors.Wrap(t.store.WritePage(idx, n), "tree: write node page")
}

func (t *BTree) alloc(n node) (uint32, error) {
	idx, err := t.store.Allocate()
	if err != nil {
		return 0, errors.Wrap(err, "tree: allocate node page")
	}
	if err := t.put(idx, n); err != nil {
		return 0, err
	}
	return idx, nil
}

// Get performs a point lookup, used by the Link Map (spec §4.3 "get(old)
// → new") — the Cache Data Tree and Pending Entries Tree are only ever
// iterated or appended to during defragmentation.
func (t *BTree) Get(key []byte) ([]byte, bool, error) {
	if t.root == noRoot {
		return nil, false, nil
	}
	idx := t.root
	for {
		n, err := t.get(idx)
		if err != nil {
			return nil, false, err
		}
		if n.ntype() == typeLeaf {
			i, ok := leafFind(n, key)
			if !ok {
				return nil, false, nil
			}
			_, v := n.getEntry(i)
			return append([]byte{}, v...), true, nil
		}
		idx = n.getPtr(nodeLookupLE(n, key))
	}
}

func nodeLookupLE(n node, key []byte) uint16 {
	var idx uint16
	for i := uint16(0); i < n.nkeys(); i++ {
		if cmp(n.getKey(i), key) <= 0 {
			idx = i
		} else {
			break
		}
	}
	return idx
}

func leafFind(n node, key []byte) (uint16, bool) {
	for i := uint16(0); i < n.nkeys(); i++ {
		k := n.getKey(i)
		c := cmp(k, key)
		if c == 0 {
			return i, true
		}
		if c > 0 {
			break
		}
	}
	return 0, false
}
