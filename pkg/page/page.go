// ABOUTME: Fixed-size page buffer and header layout
// ABOUTME: Status byte, dirty flag, record length, plus data-page chain fields

// Package page implements the fixed-size on-disk page used throughout the
// DOM storage engine: a byte buffer with a small common
// header (status, dirty flag, record length) followed by a payload area
// whose interpretation depends on the page's status.
package page

import "github.com/nainya/domstore/pkg/codec"

// Status values occupy the first header byte.
const (
	StatusFree      = 0 // unused, resident in the free list
	StatusData      = 1 // DOM record page
	StatusBTreeLeaf = 2
	StatusBTreeNode = 3 // B+-tree internal (non-leaf) node
)

const (
	// CommonHeaderSize is the size of the header every page carries
	// regardless of status: status(1) + dirty(1) + pad(2) + record_len(4).
	CommonHeaderSize = 8

	// DataHeaderExtra is the additional header carried by data pages:
	// record_count(2) + pad(2) + data_length(4) + next(4) + prev(4) + next_tid(2) + unused(10).
	// The next/prev chain links are stored as 32-bit page numbers.
	DataHeaderExtra = 28

	// DataHeaderSize is the full header size of a data page.
	DataHeaderSize = CommonHeaderSize + DataHeaderExtra

	// NoPage is the sentinel "no page" value used for chain links and
	// the free-list terminator.
	NoPage uint32 = 0xFFFFFFFF
)

// Page is a fixed-size in-memory page buffer plus a pin count the cache
// layers need. The dirty flag lives in the buffer (byte 1) and is written
// with it; the pin count is not persisted.
type Page struct {
	Num  uint32
	Buf  []byte
	// RefCount is mutated only while the page is resident in a cache,
	// under the engine lock.
	RefCount int
}

// New allocates a zeroed page buffer of the given size.
func New(num uint32, size int) *Page {
	return &Page{Num: num, Buf: make([]byte, size)}
}

// Status returns the page's status byte.
func (p *Page) Status() uint8 { return p.Buf[0] }

// SetStatus sets the page's status byte.
func (p *Page) SetStatus(s uint8) { p.Buf[0] = s }

// Dirty reports whether the page's in-memory copy differs from disk.
func (p *Page) Dirty() bool { return p.Buf[1] != 0 }

// SetDirty marks or clears the dirty flag.
func (p *Page) SetDirty(d bool) {
	if d {
		p.Buf[1] = 1
	} else {
		p.Buf[1] = 0
	}
}

// RecordLen returns the generic "occupied length" header field. Data
// pages use DataLength instead (which accounts for per-record headers);
// this field is used by non-data page kinds that just need "how much of
// the payload is meaningful".
func (p *Page) RecordLen() int32 { return codec.Int32(p.Buf[4:8]) }

// SetRecordLen sets the generic record-length header field.
func (p *Page) SetRecordLen(n int32) { codec.PutInt32(p.Buf[4:8], n) }

// Reset clears a page back to the free state, ready to be returned to the
// free list.
func (p *Page) Reset() {
	for i := range p.Buf {
		p.Buf[i] = 0
	}
	p.SetStatus(StatusFree)
}

// --- Data-page specific fields ---

// RecordCount returns the number of records currently packed into the page.
func (p *Page) RecordCount() uint16 { return codec.Uint16(p.Buf[8:10]) }

// SetRecordCount sets the record count.
func (p *Page) SetRecordCount(n uint16) { codec.PutUint16(p.Buf[8:10], n) }

// DataLength returns the occupied prefix length of the record area.
func (p *Page) DataLength() int32 { return codec.Int32(p.Buf[12:16]) }

// SetDataLength sets the occupied prefix length.
func (p *Page) SetDataLength(n int32) { codec.PutInt32(p.Buf[12:16], n) }

// NextDataPage returns the next page in this page's document chain, or
// NoPage if this is the tail.
func (p *Page) NextDataPage() uint32 { return codec.Uint32(p.Buf[16:20]) }

// SetNextDataPage sets the next-chain-page link.
func (p *Page) SetNextDataPage(n uint32) { codec.PutUint32(p.Buf[16:20], n) }

// PrevDataPage returns the previous page in this page's document chain,
// or NoPage if this is the head.
func (p *Page) PrevDataPage() uint32 { return codec.Uint32(p.Buf[20:24]) }

// SetPrevDataPage sets the previous-chain-page link.
func (p *Page) SetPrevDataPage(n uint32) { codec.PutUint32(p.Buf[20:24], n) }

// NextTid returns the next tuple identifier to allocate on this page.
func (p *Page) NextTid() uint16 { return codec.Uint16(p.Buf[24:26]) }

// SetNextTid sets the next-tid allocator counter.
func (p *Page) SetNextTid(n uint16) { codec.PutUint16(p.Buf[24:26], n) }

// AllocTid allocates and returns the next tid for this page: strictly
// monotonic, never reused, even across record removal.
func (p *Page) AllocTid() uint16 {
	t := p.NextTid()
	p.SetNextTid(t + 1)
	return t
}

// DataPayload returns the mutable record-storage area of a data page.
func (p *Page) DataPayload() []byte { return p.Buf[DataHeaderSize:] }

// DataWorkSize returns the number of payload bytes a data page of this
// size has available to records.
func DataWorkSize(pageSize int) int { return pageSize - DataHeaderSize }

// InitData initializes a freshly allocated page as an empty data page.
func (p *Page) InitData() {
	p.SetStatus(StatusData)
	p.SetRecordCount(0)
	p.SetDataLength(0)
	p.SetNextDataPage(NoPage)
	p.SetPrevDataPage(NoPage)
	p.SetNextTid(1)
	p.SetDirty(true)
}
