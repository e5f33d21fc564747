// ABOUTME: Ancestor-walk fallback lookup used when the B+-tree has no entry for a key
// ABOUTME: Walks up logical ancestors until one hits the index, then scans forward for the target gid

package domstore

import (
	"github.com/nainya/domstore/pkg/btree"
	"github.com/nainya/domstore/pkg/gid"
	"github.com/nainya/domstore/pkg/key"
	"github.com/nainya/domstore/pkg/lock"
)

// FindByFallback resolves (documentID, targetGid) to a value when the
// B+-tree has no direct entry for it: it walks up the node's ancestors
// until one resolves in the index, then scans that ancestor's record
// chain forward in document order looking for targetGid. Document order matches gid order (nodes are assigned gids in
// the order they are appended), so the scan simply steps the iterator
// forward (targetGid - anchorGid) times rather than decoding each
// record to compare. It fails with ErrFallbackNotFound if the walk
// reaches the document root without finding an indexed ancestor, or if
// the scan runs off the end of the chain before reaching targetGid.
func FindByFallback(tree *btree.Tree, store *Store, l *lock.Lock, owner lock.Owner, sp gid.StructureProvider, documentID string, targetGid int64) ([]byte, error) {
	path := gid.AncestorPath(sp, documentID, targetGid)

	anchorAddr := uint64(0)
	anchorIdx := -1
	for i := len(path) - 1; i >= 0; i-- {
		addr, found, err := tree.Get(key.EncodeNode(documentID, path[i]))
		if err != nil {
			return nil, err
		}
		if found {
			anchorAddr = addr
			anchorIdx = i
			break
		}
	}
	if anchorIdx == -1 {
		return nil, ErrFallbackNotFound
	}

	anchorGid := path[anchorIdx]
	if anchorGid == targetGid {
		return store.Get(Address(anchorAddr))
	}

	steps := targetGid - anchorGid
	if steps < 0 {
		return nil, ErrFallbackNotFound
	}

	it := NewIterator(store, l, owner, Address(anchorAddr))
	for i := int64(0); i <= steps; i++ {
		ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrFallbackNotFound
		}
	}
	return it.Value(), nil
}
