package tree

import "github.com/pkg/errors"

// Iter is a forward cursor over a BTree's leaves, adapted from
// duchm1606-godb/pkg/btree/iterator.go's BIter — path/pos stacks from
// root to leaf, advanced by Next(). Used as the engine underneath
// Iterator (C4).
type Iter struct {
	tree      *BTree
	path      []node
	pos       []uint16
	exhausted bool
}

// SeekFirst positions an iterator at the tree's first entry.
func (t *BTree) SeekFirst() (*Iter, error) {
	it := &Iter{tree: t}
	if t.root == noRoot {
		return it, nil
	}
	idx := t.root
	for {
		n, err := t.get(idx)
		if err != nil {
			return nil, err
		}
		it.path = append(it.path, n)
		it.pos = append(it.pos, 0)
		if n.ntype() == typeInternal {
			idx = n.getPtr(0)
			continue
		}
		break
	}
	return it, nil
}

// Valid reports whether Deref is safe to call.
func (it *Iter) Valid() bool {
	if it.exhausted || len(it.path) == 0 {
		return false
	}
	leaf := it.path[len(it.path)-1]
	return it.pos[len(it.pos)-1] < leaf.nkeys()
}

// Deref returns the key/value at the iterator's current position.
func (it *Iter) Deref() (key, val []byte) {
	leaf := it.path[len(it.path)-1]
	return leaf.getEntry(it.pos[len(it.pos)-1])
}

// Next advances the cursor to the next leaf entry in key order.
func (it *Iter) Next() error {
	exhausted, err := iterNext(it, len(it.path)-1)
	if err != nil {
		return err
	}
	it.exhausted = exhausted
	return nil
}

// iterNext advances the cursor at level and below, walking up toward the
// root as each level's last child is exhausted. It reports true once the
// advance runs past the root's last child — the whole tree is exhausted —
// so Next can mark the cursor invalid instead of re-deriving a stale leaf
// from an ancestor position that was never actually advanced.
func iterNext(it *Iter, level int) (bool, error) {
	if level < 0 {
		return true, nil
	}
	if it.pos[level]+1 < it.path[level].nkeys() {
		it.pos[level]++
	} else {
		exhausted, err := iterNext(it, level-1)
		if err != nil {
			return false, err
		}
		if exhausted {
			return true, nil
		}
	}

	if level+1 < len(it.pos) {
		parent := it.path[level]
		child, err := it.tree.get(parent.getPtr(it.pos[level]))
		if err != nil {
			return false, err
		}
		it.path[level+1] = child
		it.pos[level+1] = 0
	}
	return false, nil
}

// VisitFunc processes one leaf entry. Returning false stops iteration
// early (spec §4.2 invariant 3).
type VisitFunc func(key, val []byte) (bool, error)

// Iterator walks a BTree's leaves in order, invoking a caller-supplied
// yield hook between entries (C4). The iterator itself never mutates the
// tree (spec §4.2 invariant 2) and never holds more than the current
// leaf's worth of state pinned.
type Iterator struct{}

// NewIterator constructs a Tree Iterator. pageSize is accepted for
// parity with the Java constructor's signature (TreeIterator(pageSize))
// even though this implementation does not need it directly — node
// layout is computed from page.Size.
func NewIterator(pageSize int) *Iterator {
	return &Iterator{}
}

// Iterate walks t's leaves in key order. yield is called once per entry,
// before visit, giving the caller (the partition pipeline) a place to
// release and reacquire the checkpoint read-lock on its own cadence (spec
// §4.1, §4.2). visit returns false to stop early.
func (it *Iterator) Iterate(t *BTree, yield func(), visit VisitFunc) error {
	cur, err := t.SeekFirst()
	if err != nil {
		return errors.Wrap(err, "tree iterator: seek first")
	}
	for cur.Valid() {
		if yield != nil {
			yield()
		}
		key, val := cur.Deref()
		cont, err := visit(key, val)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
		if err := cur.Next(); err != nil {
			return errors.Wrap(err, "tree iterator: advance")
		}
	}
	return nil
}
