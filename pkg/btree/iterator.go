// ABOUTME: Forward iterator over the B+-tree for range scans
// ABOUTME: SeekLE positions the cursor, Next advances it one entry at a time

package btree

import "github.com/nainya/domstore/pkg/codec"

// Iter walks leaf entries in key order, starting from a SeekLE
// position. It holds no lock of its own; pkg/engine holds the store lock
// across each whole Query scan.
type Iter struct {
	tree *Tree
	path []Node
	pos  []uint16
}

// NewIterator returns an iterator over tree, initially unpositioned.
func (t *Tree) NewIterator() *Iter {
	return &Iter{
		tree: t,
		path: make([]Node, 0, 8),
		pos:  make([]uint16, 0, 8),
	}
}

// SeekLE positions the iterator at the last entry whose key is <= key.
// Returns false if the tree is empty.
func (it *Iter) SeekLE(key []byte) (ok bool, err error) {
	defer recoverErr(&err)
	it.path = it.path[:0]
	it.pos = it.pos[:0]

	if it.tree.root() == 0 {
		return false, nil
	}

	node := it.tree.get(it.tree.root())
	for {
		it.path = append(it.path, node)
		idx := lookupLE(node, key)
		it.pos = append(it.pos, idx)

		if node.btype() == NodeLeaf {
			break
		}
		node = it.tree.get(node.getPtr(idx))
	}
	return true, nil
}

// Valid reports whether the iterator is positioned at a real entry.
func (it *Iter) Valid() bool {
	if len(it.path) == 0 {
		return false
	}
	leaf := it.path[len(it.path)-1]
	pos := it.pos[len(it.pos)-1]
	return pos < leaf.nkeys()
}

// Key returns the key at the current position.
func (it *Iter) Key() []byte {
	if !it.Valid() {
		return nil
	}
	leaf := it.path[len(it.path)-1]
	return leaf.getKey(it.pos[len(it.pos)-1])
}

// Address returns the decoded 8-byte address at the current position.
func (it *Iter) Address() uint64 {
	if !it.Valid() {
		return 0
	}
	leaf := it.path[len(it.path)-1]
	return codec.Uint64(leaf.getVal(it.pos[len(it.pos)-1]))
}

// Next advances to the next key in order, returning false once the tree
// is exhausted.
func (it *Iter) Next() (ok bool, err error) {
	defer recoverErr(&err)
	if len(it.path) == 0 {
		return false, nil
	}

	leafIdx := len(it.pos) - 1
	it.pos[leafIdx]++
	if it.pos[leafIdx] < it.path[leafIdx].nkeys() {
		return true, nil
	}

	it.path = it.path[:leafIdx]
	it.pos = it.pos[:leafIdx]

	for len(it.pos) > 0 {
		parentIdx := len(it.pos) - 1
		it.pos[parentIdx]++
		parent := it.path[parentIdx]
		if it.pos[parentIdx] < parent.nkeys() {
			return it.descendLeftmost(), nil
		}
		it.path = it.path[:parentIdx]
		it.pos = it.pos[:parentIdx]
	}
	return false, nil
}

func (it *Iter) descendLeftmost() bool {
	for {
		parentIdx := len(it.path) - 1
		parent := it.path[parentIdx]
		pos := it.pos[parentIdx]

		child := it.tree.get(parent.getPtr(pos))
		it.path = append(it.path, child)

		if child.btype() == NodeLeaf {
			it.pos = append(it.pos, 0)
			return true
		}
		it.pos = append(it.pos, 0)
	}
}
