// ABOUTME: Copy-on-write B+-tree mapping composite keys to 8-byte addresses
// ABOUTME: Insert/Get/Delete; splits on write, tolerates underfull nodes on delete

package btree

import (
	"bytes"
	"time"

	"github.com/nainya/domstore/internal/logger"
	"github.com/nainya/domstore/internal/metrics"
	"github.com/nainya/domstore/pkg/cache"
	"github.com/nainya/domstore/pkg/codec"
	"github.com/nainya/domstore/pkg/page"
)

// cachedNode pins one on-disk B+-tree page in the reference-counted
// cache.
type cachedNode struct {
	pg *page.Page
	pf *page.PageFile
}

func (c *cachedNode) CacheKey() uint64  { return uint64(c.pg.Num) }
func (c *cachedNode) IsDirty() bool     { return c.pg.Dirty() }
func (c *cachedNode) AllowUnload() bool { return true }
func (c *cachedNode) Sync() error       { return c.pf.Write(c.pg) }

// Tree is a disk-backed, copy-on-write B+-tree. Every mutation replaces
// the nodes on the path from root to leaf with freshly allocated pages
// and frees the old ones; there is no in-place node mutation, which is
// what lets the reference-counted cache pin multiple versions safely
// during a single insert/split.
type Tree struct {
	pf       *page.PageFile
	cache    *cache.BTreePageCache
	workSize int

	log *logger.Logger
	met *metrics.Metrics
}

// New wraps a page file and its B+-tree page cache into a Tree. The
// tree root is tracked in pf.Header.BTreeRoot (-1 means empty).
func New(pf *page.PageFile, c *cache.BTreePageCache) *Tree {
	return &Tree{
		pf:       pf,
		cache:    c,
		workSize: NodeWorkSize(int(pf.Header.PageSize)),
	}
}

// WithObservability attaches a logger and metrics handle used to record
// every Get/Insert/Delete call. Both are nil-safe.
func (t *Tree) WithObservability(log *logger.Logger, met *metrics.Metrics) *Tree {
	t.log = log
	t.met = met
	return t
}

// recordOp reports op's outcome and duration to the metrics handle and
// logs it at debug (success) or error (failure) level.
func (t *Tree) recordOp(op string, start time.Time, err error) {
	dur := time.Since(start)
	status := "ok"
	if err != nil {
		status = "error"
	}
	if t.met != nil {
		t.met.RecordBTreeOperation(op, status, dur)
	}
	if t.log != nil {
		l := t.log.BTreeLogger(op)
		if err != nil {
			l.Error("btree operation failed").Dur("duration_ms", dur).Err(err).Send()
		} else {
			l.Debug("btree operation completed").Dur("duration_ms", dur).Send()
		}
	}
}

func (t *Tree) root() uint64 {
	if t.pf.Header.BTreeRoot < 0 {
		return 0
	}
	return uint64(t.pf.Header.BTreeRoot)
}

func (t *Tree) setRoot(ptr uint64) {
	t.pf.Header.BTreeRoot = int64(ptr)
}

// get dereferences a page number to its Node view, consulting the cache
// first. Panics with *IOError on disk failure; recovered at the public
// API boundary.
func (t *Tree) get(ptr uint64) Node {
	if item, ok := t.cache.Get(ptr); ok {
		return Node(item.(*cachedNode).pg.Buf[page.CommonHeaderSize:])
	}
	pg, err := t.pf.Read(uint32(ptr))
	if err != nil {
		panic(&IOError{Op: "get", Err: err})
	}
	cn := &cachedNode{pg: pg, pf: t.pf}
	if err := t.cache.Add(cn, 1); err != nil {
		panic(&IOError{Op: "cache", Err: err})
	}
	return Node(pg.Buf[page.CommonHeaderSize:])
}

// new allocates a fresh page, copies node into it, and returns its page
// number as the new child pointer.
func (t *Tree) new(node Node) uint64 {
	if len(node) > t.workSize {
		panic(ErrCorruption)
	}
	pg, err := t.pf.GetFreePage()
	if err != nil {
		panic(&IOError{Op: "new", Err: err})
	}
	switch node.btype() {
	case NodeLeaf:
		pg.SetStatus(page.StatusBTreeLeaf)
	case NodeInternal:
		pg.SetStatus(page.StatusBTreeNode)
	default:
		panic("btree: bad node type")
	}
	copy(pg.Buf[page.CommonHeaderSize:], node)
	pg.SetDirty(true)
	if err := t.pf.Write(pg); err != nil {
		panic(&IOError{Op: "new", Err: err})
	}
	cn := &cachedNode{pg: pg, pf: t.pf}
	if err := t.cache.Add(cn, 0); err != nil {
		panic(&IOError{Op: "cache", Err: err})
	}
	return uint64(pg.Num)
}

// del frees a page previously returned by new or read via get.
func (t *Tree) del(ptr uint64) {
	t.cache.Remove(ptr)
	pg, err := t.pf.Read(uint32(ptr))
	if err != nil {
		panic(&IOError{Op: "del", Err: err})
	}
	if err := t.pf.UnlinkPage(pg); err != nil {
		panic(&IOError{Op: "del", Err: err})
	}
}

// newScratch allocates an in-memory (not yet persisted) node buffer
// sized to hold up to two pages' worth of entries, used as scratch
// space for intermediate split results.
func (t *Tree) newScratch() Node {
	return make(Node, 2*t.workSize)
}

func (t *Tree) newPage() Node {
	return make(Node, t.workSize)
}

// recoverErr converts an internal panic into an error, for use at every
// public entry point. Any panic value that is an error (including runtime
// errors such as out-of-range indexing) is returned as the error; any
// other panic value is re-raised.
func recoverErr(errp *error) {
	if r := recover(); r != nil {
		switch v := r.(type) {
		case error:
			*errp = v
		default:
			panic(r)
		}
	}
}

// Get retrieves the address stored for key.
func (t *Tree) Get(key []byte) (addr uint64, found bool, err error) {
	start := time.Now()
	defer func() { t.recordOp("get", start, err) }()
	defer recoverErr(&err)
	if t.root() == 0 {
		return 0, false, nil
	}
	node := t.get(t.root())
	a, ok := t.treeGet(node, key)
	return a, ok, nil
}

func (t *Tree) treeGet(node Node, key []byte) (uint64, bool) {
	idx := lookupLE(node, key)
	switch node.btype() {
	case NodeLeaf:
		if idx < node.nkeys() && bytes.Equal(key, node.getKey(idx)) {
			return codec.Uint64(node.getVal(idx)), true
		}
		return 0, false
	case NodeInternal:
		child := t.get(node.getPtr(idx))
		return t.treeGet(child, key)
	default:
		panic(ErrCorruption)
	}
}

// Insert adds or updates the (key, addr) pair.
func (t *Tree) Insert(key []byte, addr uint64) (err error) {
	start := time.Now()
	defer func() { t.recordOp("insert", start, err) }()
	defer recoverErr(&err)
	if len(key) > MaxKeySize {
		return ErrKeyTooLarge
	}

	var val [ValueSize]byte
	codec.PutUint64(val[:], addr)

	if t.root() == 0 {
		root := t.newPage()
		root.setHeader(NodeLeaf, 2)
		appendKV(root, 0, 0, nil, make([]byte, ValueSize)) // sentinel: covers whole key space
		appendKV(root, 1, 0, key, val[:])
		t.setRoot(t.new(root))
		return nil
	}

	node := t.treeInsert(t.get(t.root()), key, val[:])
	count, parts := t.split3(node)
	t.del(t.root())

	if count > 1 {
		newRoot := t.newPage()
		newRoot.setHeader(NodeInternal, count)
		for i, part := range parts[:count] {
			ptr := t.new(part)
			appendKV(newRoot, uint16(i), ptr, part.getKey(0), make([]byte, ValueSize))
		}
		t.setRoot(t.new(newRoot))
	} else {
		t.setRoot(t.new(parts[0]))
	}
	return nil
}

func (t *Tree) treeInsert(node Node, key, val []byte) Node {
	newNode := t.newScratch()
	idx := lookupLE(node, key)

	switch node.btype() {
	case NodeLeaf:
		if idx < node.nkeys() && bytes.Equal(key, node.getKey(idx)) {
			leafUpdate(newNode, node, idx, key, val)
		} else {
			leafInsert(newNode, node, idx+1, key, val)
		}
	case NodeInternal:
		t.nodeInsert(newNode, node, idx, key, val)
	default:
		panic(ErrCorruption)
	}
	return newNode
}

func leafInsert(dst, src Node, idx uint16, key, val []byte) {
	dst.setHeader(NodeLeaf, src.nkeys()+1)
	appendRange(dst, src, 0, 0, idx)
	appendKV(dst, idx, 0, key, val)
	appendRange(dst, src, idx+1, idx, src.nkeys()-idx)
}

func leafUpdate(dst, src Node, idx uint16, key, val []byte) {
	dst.setHeader(NodeLeaf, src.nkeys())
	appendRange(dst, src, 0, 0, idx)
	appendKV(dst, idx, 0, key, val)
	appendRange(dst, src, idx+1, idx+1, src.nkeys()-(idx+1))
}

func (t *Tree) nodeInsert(dst, src Node, idx uint16, key, val []byte) {
	childPtr := src.getPtr(idx)
	childNode := t.treeInsert(t.get(childPtr), key, val)
	count, parts := t.split3(childNode)
	t.del(childPtr)
	t.replaceChildren(dst, src, idx, parts[:count]...)
}

func (t *Tree) replaceChildren(dst, src Node, idx uint16, children ...Node) {
	inc := uint16(len(children))
	dst.setHeader(NodeInternal, src.nkeys()+inc-1)
	appendRange(dst, src, 0, 0, idx)
	for i, child := range children {
		ptr := t.new(child)
		appendKV(dst, idx+uint16(i), ptr, child.getKey(0), make([]byte, ValueSize))
	}
	appendRange(dst, src, idx+inc, idx+1, src.nkeys()-(idx+1))
}

// split3 splits an over-sized node into at most 3 page-sized nodes.
func (t *Tree) split3(old Node) (uint16, [3]Node) {
	if old.nbytes() <= t.workSize {
		return 1, [3]Node{old[:t.workSize]}
	}

	left := t.newScratch()
	right := t.newPage()
	t.split2(left, right, old)

	if left.nbytes() <= t.workSize {
		return 2, [3]Node{left[:t.workSize], right}
	}

	leftleft := t.newPage()
	middle := t.newPage()
	t.split2(leftleft, middle, left)
	return 3, [3]Node{leftleft, middle, right}
}

func (t *Tree) split2(left, right, old Node) {
	nkeys := old.nkeys()
	nleft := uint16(0)
	target := t.workSize * 3 / 4
	for i := uint16(0); i < nkeys; i++ {
		nleft = i + 1
		if old.kvPos(nleft) >= target {
			break
		}
	}

	left.setHeader(old.btype(), nleft)
	appendRange(left, old, 0, 0, nleft)

	right.setHeader(old.btype(), nkeys-nleft)
	appendRange(right, old, 0, nleft, nkeys-nleft)
}

// Delete removes key from the tree, returning whether it was present.
func (t *Tree) Delete(key []byte) (removed bool, err error) {
	start := time.Now()
	defer func() { t.recordOp("delete", start, err) }()
	defer recoverErr(&err)
	if t.root() == 0 {
		return false, nil
	}

	updated := t.treeDelete(t.get(t.root()), key)
	if len(updated) == 0 {
		return false, nil
	}
	t.del(t.root())

	if updated.btype() == NodeInternal && updated.nkeys() == 1 {
		t.setRoot(updated.getPtr(0))
	} else {
		t.setRoot(t.new(updated))
	}
	return true, nil
}

func (t *Tree) treeDelete(node Node, key []byte) Node {
	idx := lookupLE(node, key)
	switch node.btype() {
	case NodeLeaf:
		if idx >= node.nkeys() || !bytes.Equal(key, node.getKey(idx)) {
			return nil
		}
		out := t.newPage()
		leafDelete(out, node, idx)
		return out
	case NodeInternal:
		return t.nodeDelete(node, idx, key)
	default:
		panic(ErrCorruption)
	}
}

func leafDelete(dst, src Node, idx uint16) {
	dst.setHeader(NodeLeaf, src.nkeys()-1)
	appendRange(dst, src, 0, 0, idx)
	appendRange(dst, src, idx, idx+1, src.nkeys()-(idx+1))
}

// nodeDelete replaces one child of node with its post-delete version.
// Underfull children are left in place rather than merged with a
// sibling: an underfull leaf is tolerated and only reclaimed by a
// later compaction pass, not eagerly rebalanced here.
func (t *Tree) nodeDelete(node Node, idx uint16, key []byte) Node {
	childPtr := node.getPtr(idx)
	updated := t.treeDelete(t.get(childPtr), key)
	if len(updated) == 0 {
		return nil
	}
	t.del(childPtr)

	// updated can itself be down to zero keys (its last entry was just
	// removed); keep its separator rather than reach into the now-empty
	// node for one, so an emptied-out leaf stays addressable until a
	// later compaction pass reclaims it.
	sep := node.getKey(idx)
	if updated.nkeys() > 0 {
		sep = updated.getKey(0)
	}

	out := t.newPage()
	out.setHeader(NodeInternal, node.nkeys())
	appendRange(out, node, 0, 0, idx)
	appendKV(out, idx, t.new(updated), sep, make([]byte, ValueSize))
	appendRange(out, node, idx+1, idx+1, node.nkeys()-(idx+1))
	return out
}
