// ABOUTME: B+-tree node layout: header, pointer array, offset array, packed KV data
// ABOUTME: Big-endian throughout, with fixed-width 8-byte address values

package btree

import (
	"bytes"

	"github.com/nainya/domstore/pkg/codec"
	"github.com/nainya/domstore/pkg/page"
)

// Node types.
const (
	NodeInternal = 1 // holds (key, child page number) pairs, no values
	NodeLeaf     = 2 // holds (key, address) pairs
)

// Layout constants. A Node is a page payload: a 4-byte header (type,
// nkeys), an array of nkeys 8-byte child pointers (internal nodes only;
// leaves store nkeys as the matching field but leave the pointer slots
// unused so offset math stays uniform between node kinds), an array of
// nkeys 2-byte cumulative offsets (each giving the end of one entry; the
// first entry starts at offset 0, which is not stored), and the packed
// (key, value) data.
//
// Every value is a fixed 8-byte big-endian address (pkg/domstore's
// virtual address encoding), so unlike a general-purpose KV node there
// is no vlen field: only klen is stored per entry.
const (
	headerSize = 4
	ptrSize    = 8
	offSize    = 2
	ValueSize  = 8
	MaxKeySize = 1024
)

// NodeWorkSize returns the number of bytes available to a node's
// header+pointers+offsets+KV data within a page of the given size,
// after the common page header (status, record length) is excluded.
func NodeWorkSize(pageSize int) int {
	return pageSize - page.CommonHeaderSize
}

// Node is a B+-tree page payload viewed as a byte slice.
type Node []byte

func (n Node) btype() uint16 { return codec.Uint16(n[0:2]) }
func (n Node) nkeys() uint16 { return codec.Uint16(n[2:4]) }

func (n Node) setHeader(btype, nkeys uint16) {
	codec.PutUint16(n[0:2], btype)
	codec.PutUint16(n[2:4], nkeys)
}

func (n Node) getPtr(idx uint16) uint64 {
	if idx >= n.nkeys() {
		panic("btree: getPtr index out of range")
	}
	pos := headerSize + ptrSize*int(idx)
	return codec.Uint64(n[pos:])
}

func (n Node) setPtr(idx uint16, val uint64) {
	if idx >= n.nkeys() {
		panic("btree: setPtr index out of range")
	}
	pos := headerSize + ptrSize*int(idx)
	codec.PutUint64(n[pos:], val)
}

func offsetPos(n Node, idx uint16) int {
	if idx < 1 || idx > n.nkeys() {
		panic("btree: offsetPos index out of range")
	}
	return headerSize + ptrSize*int(n.nkeys()) + offSize*int(idx-1)
}

func (n Node) getOffset(idx uint16) uint16 {
	if idx == 0 {
		return 0
	}
	return codec.Uint16(n[offsetPos(n, idx):])
}

func (n Node) setOffset(idx uint16, offset uint16) {
	codec.PutUint16(n[offsetPos(n, idx):], offset)
}

func (n Node) kvPos(idx uint16) int {
	if idx > n.nkeys() {
		panic("btree: kvPos index out of range")
	}
	return headerSize + ptrSize*int(n.nkeys()) + offSize*int(n.nkeys()) + int(n.getOffset(idx))
}

func (n Node) getKey(idx uint16) []byte {
	if idx >= n.nkeys() {
		panic("btree: getKey index out of range")
	}
	pos := n.kvPos(idx)
	klen := codec.Uint16(n[pos:])
	return n[pos+2:][:klen]
}

// getVal returns the fixed 8-byte value (an encoded address) at idx.
// Internal nodes store the same 8-byte slot as a child page number.
func (n Node) getVal(idx uint16) []byte {
	if idx >= n.nkeys() {
		panic("btree: getVal index out of range")
	}
	pos := n.kvPos(idx)
	klen := codec.Uint16(n[pos:])
	return n[pos+2+int(klen):][:ValueSize]
}

func (n Node) nbytes() int {
	return n.kvPos(n.nkeys())
}

// lookupLE returns the largest index i such that key(i) <= key, or 0 if
// key is smaller than every key in the node. Entry 0 is always a copy of
// the parent's separator and compares <= any search key.
func lookupLE(n Node, key []byte) uint16 {
	nkeys := n.nkeys()
	found := uint16(0)
	for i := uint16(1); i < nkeys; i++ {
		cmp := bytes.Compare(n.getKey(i), key)
		if cmp <= 0 {
			found = i
		}
		if cmp >= 0 {
			break
		}
	}
	return found
}

func appendRange(dst, src Node, dstIdx, srcIdx, n uint16) {
	if n == 0 {
		return
	}
	if srcIdx+n > src.nkeys() {
		panic("btree: appendRange source out of bounds")
	}
	if dstIdx+n > dst.nkeys() {
		panic("btree: appendRange destination out of bounds")
	}

	if src.btype() == NodeInternal {
		for i := uint16(0); i < n; i++ {
			dst.setPtr(dstIdx+i, src.getPtr(srcIdx+i))
		}
	}

	dstBegin := dst.getOffset(dstIdx)
	srcBegin := src.getOffset(srcIdx)
	for i := uint16(1); i <= n; i++ {
		offset := dstBegin + src.getOffset(srcIdx+i) - srcBegin
		dst.setOffset(dstIdx+i, offset)
	}

	begin := src.kvPos(srcIdx)
	end := src.kvPos(srcIdx + n)
	copy(dst[dst.kvPos(dstIdx):], src[begin:end])
}

// appendKV writes a single (key, value) entry at idx. ptr is the child
// page number for internal nodes and is ignored for leaves.
func appendKV(dst Node, idx uint16, ptr uint64, key, val []byte) {
	dst.setPtr(idx, ptr)

	pos := dst.kvPos(idx)
	codec.PutUint16(dst[pos:], uint16(len(key)))
	copy(dst[pos+2:], key)
	copy(dst[pos+2+len(key):], val)

	dst.setOffset(idx+1, dst.getOffset(idx)+2+uint16(len(key))+ValueSize)
}
