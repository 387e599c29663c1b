package tree

// Put upserts key→val, overwriting any existing value for an equal key
// (spec §4.3 "Duplicate put of the same old key must overwrite").
func (t *BTree) Put(key, val []byte) error {
	if t.root == noRoot {
		leaf := build(typeLeaf, [][]byte{key}, [][]byte{val}, nil)
		idx, err := t.alloc(leaf)
		if err != nil {
			return err
		}
		t.root = idx
		return nil
	}

	res, err := t.insertInto(t.root, key, val)
	if err != nil {
		return err
	}
	if !res.split {
		return nil
	}

	newRoot := build(typeInternal,
		[][]byte{{}, res.splitKey},
		nil,
		[]uint32{t.root, res.splitIdx})
	idx, err := t.alloc(newRoot)
	if err != nil {
		return err
	}
	t.root = idx
	return nil
}

type insertResult struct {
	split    bool
	splitKey []byte
	splitIdx uint32
}

func (t *BTree) insertInto(idx uint32, key, val []byte) (insertResult, error) {
	n, err := t.get(idx)
	if err != nil {
		return insertResult{}, err
	}

	if n.ntype() == typeLeaf {
		updated := leafUpsert(n, key, val)
		return t.writeOrSplitLeaf(idx, updated)
	}

	childPos := nodeLookupLE(n, key)
	childIdx := n.getPtr(childPos)

	childRes, err := t.insertInto(childIdx, key, val)
	if err != nil {
		return insertResult{}, err
	}
	if !childRes.split {
		return insertResult{}, nil
	}

	updated := internalInsert(n, childPos, childRes.splitKey, childRes.splitIdx)
	return t.writeOrSplitInternal(idx, updated)
}

func (t *BTree) writeOrSplitLeaf(idx uint32, n node) (insertResult, error) {
	if n.usedBytes() <= len(n) {
		return insertResult{}, t.put(idx, n)
	}
	left, right := splitLeaf(n)
	if err := t.put(idx, left); err != nil {
		return insertResult{}, err
	}
	rightIdx, err := t.alloc(right)
	if err != nil {
		return insertResult{}, err
	}
	return insertResult{split: true, splitKey: right.getKey(0), splitIdx: rightIdx}, nil
}

func (t *BTree) writeOrSplitInternal(idx uint32, n node) (insertResult, error) {
	if n.usedBytes() <= len(n) {
		return insertResult{}, t.put(idx, n)
	}
	left, right := splitInternal(n)
	if err := t.put(idx, left); err != nil {
		return insertResult{}, err
	}
	rightIdx, err := t.alloc(right)
	if err != nil {
		return insertResult{}, err
	}
	return insertResult{split: true, splitKey: right.getKey(0), splitIdx: rightIdx}, nil
}

// leafUpsert returns a freshly built leaf node with key/val inserted in
// sorted position, replacing any existing entry for an equal key.
func leafUpsert(n node, key, val []byte) node {
	nk := n.nkeys()
	keys := make([][]byte, 0, nk+1)
	vals := make([][]byte, 0, nk+1)

	inserted := false
	for i := uint16(0); i < nk; i++ {
		k, v := n.getEntry(i)
		c := cmp(k, key)
		if c == 0 {
			keys = append(keys, key)
			vals = append(vals, val)
			inserted = true
			continue
		}
		if c > 0 && !inserted {
			keys = append(keys, key)
			vals = append(vals, val)
			inserted = true
		}
		keys = append(keys, k)
		vals = append(vals, v)
	}
	if !inserted {
		keys = append(keys, key)
		vals = append(vals, val)
	}
	return build(typeLeaf, keys, vals, nil)
}

// internalInsert returns a freshly built internal node with a new
// (key, childPtr) entry inserted right after childPos — the separator
// produced by a child split.
func internalInsert(n node, childPos uint16, key []byte, childPtr uint32) node {
	nk := n.nkeys()
	keys := make([][]byte, 0, nk+1)
	ptrs := make([]uint32, 0, nk+1)

	for i := uint16(0); i <= childPos; i++ {
		keys = append(keys, n.getKey(i))
		ptrs = append(ptrs, n.getPtr(i))
	}
	keys = append(keys, key)
	ptrs = append(ptrs, childPtr)
	for i := childPos + 1; i < nk; i++ {
		keys = append(keys, n.getKey(i))
		ptrs = append(ptrs, n.getPtr(i))
	}
	return build(typeInternal, keys, nil, ptrs)
}

func splitLeaf(n node) (node, node) {
	nk := n.nkeys()
	mid := nk / 2
	leftKeys, leftVals := collectRange(n, 0, mid)
	rightKeys, rightVals := collectRange(n, mid, nk)
	return build(typeLeaf, leftKeys, leftVals, nil), build(typeLeaf, rightKeys, rightVals, nil)
}

func splitInternal(n node) (node, node) {
	nk := n.nkeys()
	mid := nk / 2
	leftKeys, leftPtrs := collectPtrRange(n, 0, mid)
	rightKeys, rightPtrs := collectPtrRange(n, mid, nk)
	return build(typeInternal, leftKeys, nil, leftPtrs), build(typeInternal, rightKeys, nil, rightPtrs)
}

func collectRange(n node, from, to uint16) ([][]byte, [][]byte) {
	keys := make([][]byte, 0, to-from)
	vals := make([][]byte, 0, to-from)
	for i := from; i < to; i++ {
		k, v := n.getEntry(i)
		keys = append(keys, k)
		vals = append(vals, v)
	}
	return keys, vals
}

func collectPtrRange(n node, from, to uint16) ([][]byte, []uint32) {
	keys := make([][]byte, 0, to-from)
	ptrs := make([]uint32, 0, to-from)
	for i := from; i < to; i++ {
		keys = append(keys, n.getKey(i))
		ptrs = append(ptrs, n.getPtr(i))
	}
	return keys, ptrs
}
