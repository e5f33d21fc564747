// ABOUTME: DOM record store: append/insert-after/update/remove of variable-length records
// ABOUTME: The hardest component: tid stability, overflow chain split/insert

package domstore

import (
	"time"

	"github.com/nainya/domstore/internal/logger"
	"github.com/nainya/domstore/internal/metrics"
	"github.com/nainya/domstore/pkg/cache"
	"github.com/nainya/domstore/pkg/codec"
	"github.com/nainya/domstore/pkg/page"
)

// Owner is an opaque handle identifying the append context of one active
// session.
type Owner uint64

const recordHeaderSize = 4 // [tid: u16][len: u16]

// Store is the DOM record store: it owns no cache or page file of its
// own beyond what it is given, and holds only the per-owner current-tail
// map as mutable state. That map is written only by the holder of the
// exclusive engine lock; the caller, typically pkg/engine, is
// responsible for that discipline.
type Store struct {
	pf    *page.PageFile
	cache *cache.DataPageCache
	tails map[Owner]uint32

	log *logger.Logger
	met *metrics.Metrics
}

// New wraps a page file and its data-page cache into a record store.
func New(pf *page.PageFile, c *cache.DataPageCache) *Store {
	return &Store{pf: pf, cache: c, tails: make(map[Owner]uint32)}
}

// WithObservability attaches a logger and metrics handle used to record
// every Add/Update/Remove/InsertAfter call. Both are nil-safe.
func (s *Store) WithObservability(log *logger.Logger, met *metrics.Metrics) *Store {
	s.log = log
	s.met = met
	return s
}

// recordOp reports op's outcome and duration to the metrics handle and
// logs it at debug (success) or error (failure) level.
func (s *Store) recordOp(op string, start time.Time, err error) {
	dur := time.Since(start)
	status := "ok"
	if err != nil {
		status = "error"
	}
	if s.met != nil {
		s.met.RecordStoreOperation(op, status, dur)
	}
	if s.log != nil {
		l := s.log.StoreLogger(op)
		if err != nil {
			l.Error("store operation failed").Dur("duration_ms", dur).Err(err).Send()
		} else {
			l.Debug("store operation completed").Dur("duration_ms", dur).Send()
		}
	}
}

type cachedDataPage struct {
	pg *page.Page
	pf *page.PageFile
}

func (c *cachedDataPage) CacheKey() uint64  { return uint64(c.pg.Num) }
func (c *cachedDataPage) IsDirty() bool     { return c.pg.Dirty() }
func (c *cachedDataPage) AllowUnload() bool { return true }

func (c *cachedDataPage) Sync() error {
	if err := c.pf.Write(c.pg); err != nil {
		return &IOError{Op: "sync", Err: err}
	}
	c.pg.SetDirty(false)
	return nil
}

func (s *Store) getPage(n uint32) (*page.Page, error) {
	if item, ok := s.cache.Get(uint64(n)); ok {
		return item.(*cachedDataPage).pg, nil
	}
	pg, err := s.pf.Read(n)
	if err != nil {
		return nil, &IOError{Op: "read", Err: err}
	}
	if err := s.cache.Add(&cachedDataPage{pg: pg, pf: s.pf}, 0); err != nil {
		return nil, err
	}
	return pg, nil
}

// writePage writes pg back to the page file, tagging any failure as an
// IOError so pkg/engine can tell disk failures apart from tree-layer ones.
func (s *Store) writePage(pg *page.Page) error {
	if err := s.pf.Write(pg); err != nil {
		return &IOError{Op: "write", Err: err}
	}
	return nil
}

// allocPage hands out a fresh page, tagging free-list/extension failures.
func (s *Store) allocPage() (*page.Page, error) {
	pg, err := s.pf.GetFreePage()
	if err != nil {
		return nil, &IOError{Op: "alloc", Err: err}
	}
	return pg, nil
}

func (s *Store) unlinkPage(pg *page.Page) error {
	if err := s.pf.UnlinkPage(pg); err != nil {
		return &IOError{Op: "unlink", Err: err}
	}
	return nil
}

func (s *Store) trackPage(pg *page.Page) error {
	return s.cache.Add(&cachedDataPage{pg: pg, pf: s.pf}, 0)
}

// SetCurrentPage installs p as owner's current append target.
func (s *Store) SetCurrentPage(owner Owner, p uint32) { s.tails[owner] = p }

// CloseDocument forgets owner's current-tail entry.
func (s *Store) CloseDocument(owner Owner) { delete(s.tails, owner) }

func writeRecord(payload []byte, offset int, tid uint16, bytes []byte) {
	codec.PutUint16(payload[offset:], tid)
	codec.PutUint16(payload[offset+2:], uint16(len(bytes)))
	copy(payload[offset+4:], bytes)
}

func countRecords(payload []byte, dataLen int) uint16 {
	var n uint16
	off := 0
	for off < dataLen {
		length := int(codec.Uint16(payload[off+2:]))
		off += recordHeaderSize + length
		n++
	}
	return n
}

// Add appends bytes as a new record in owner's current document,
// allocating and chaining a fresh tail page if there is no room.
func (s *Store) Add(owner Owner, bytes []byte) (addr Address, err error) {
	start := time.Now()
	defer func() { s.recordOp("add", start, err) }()
	addr, err = s.add(owner, bytes)
	return addr, err
}

func (s *Store) add(owner Owner, bytes []byte) (Address, error) {
	if len(bytes) > 0xFFFF {
		return 0, ErrValueTooLarge
	}

	workSize := page.DataWorkSize(s.pf.PageSize())
	needed := len(bytes) + recordHeaderSize

	tailNum, haveTail := s.tails[owner]
	var tail *page.Page
	var err error
	if haveTail {
		tail, err = s.getPage(tailNum)
		if err != nil {
			return 0, err
		}
	}

	if tail == nil || int(tail.DataLength())+needed > workSize {
		newTail, err := s.allocPage()
		if err != nil {
			return 0, err
		}
		newTail.InitData()

		if tail != nil {
			tail.SetNextDataPage(newTail.Num)
			tail.SetDirty(true)
			if err := s.writePage(tail); err != nil {
				return 0, err
			}
			newTail.SetPrevDataPage(tail.Num)
		} else {
			newTail.SetPrevDataPage(page.NoPage)
		}
		newTail.SetNextDataPage(page.NoPage)
		if err := s.writePage(newTail); err != nil {
			return 0, err
		}
		if err := s.trackPage(newTail); err != nil {
			return 0, err
		}
		tail = newTail
		s.tails[owner] = tail.Num
	}

	tid := tail.AllocTid()
	offset := int(tail.DataLength())
	writeRecord(tail.DataPayload(), offset, tid, bytes)
	tail.SetRecordCount(tail.RecordCount() + 1)
	tail.SetDataLength(int32(offset + needed))
	tail.SetDirty(true)
	if err := s.writePage(tail); err != nil {
		return 0, err
	}

	return CreatePointer(tail.Num, tid), nil
}

// FindValuePosition resolves addr to a (page, offset) pair, where offset
// is the position of the record's length field, one field past the tid.
// Returns found=false if the tid is not present anywhere in the chain
// starting at addr's page: the end-of-chain case, not an error.
func (s *Store) FindValuePosition(addr Address) (pageNum uint32, offset int, found bool, err error) {
	pageNum = addr.Page()
	targetTid := addr.Tid()

	for {
		pg, err := s.getPage(pageNum)
		if err != nil {
			return 0, 0, false, err
		}
		payload := pg.DataPayload()
		dataLen := int(pg.DataLength())

		off := 0
		for off < dataLen {
			tid := codec.Uint16(payload[off:])
			length := int(codec.Uint16(payload[off+2:]))
			if tid == targetTid {
				return pg.Num, off + 2, true, nil
			}
			off += recordHeaderSize + length
		}

		next := pg.NextDataPage()
		if next == page.NoPage {
			return 0, 0, false, nil
		}
		pageNum = next
	}
}

// Get returns the bytes stored at addr.
func (s *Store) Get(addr Address) ([]byte, error) {
	pageNum, off, found, err := s.FindValuePosition(addr)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	pg, err := s.getPage(pageNum)
	if err != nil {
		return nil, err
	}
	payload := pg.DataPayload()
	length := int(codec.Uint16(payload[off:]))
	out := make([]byte, length)
	copy(out, payload[off+2:off+2+length])
	return out, nil
}

// Update overwrites the record at addr in place. Equal
// length only: a longer value fails with ErrTooLong, a shorter one with
// ErrShrunk.
func (s *Store) Update(addr Address, bytes []byte) (err error) {
	start := time.Now()
	defer func() { s.recordOp("update", start, err) }()
	return s.update(addr, bytes)
}

func (s *Store) update(addr Address, bytes []byte) error {
	pageNum, off, found, err := s.FindValuePosition(addr)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	pg, err := s.getPage(pageNum)
	if err != nil {
		return err
	}
	payload := pg.DataPayload()
	oldLen := int(codec.Uint16(payload[off:]))

	switch {
	case len(bytes) > oldLen:
		return ErrTooLong
	case len(bytes) < oldLen:
		return ErrShrunk
	}

	copy(payload[off+2:off+2+oldLen], bytes)
	pg.SetDirty(true)
	return s.writePage(pg)
}

// Remove deletes the record at addr, compacting the page and unlinking
// it from its chain if it drains to zero records.
func (s *Store) Remove(addr Address) (err error) {
	start := time.Now()
	defer func() { s.recordOp("remove", start, err) }()
	return s.remove(addr)
}

func (s *Store) remove(addr Address) error {
	pageNum, off, found, err := s.FindValuePosition(addr)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	pg, err := s.getPage(pageNum)
	if err != nil {
		return err
	}

	payload := pg.DataPayload()
	length := int(codec.Uint16(payload[off:]))
	recordStart := off - 2 // off points at the length field; the tid field starts 2 bytes earlier
	endOfRecord := off + 2 + length
	dataLen := int(pg.DataLength())

	copy(payload[recordStart:], payload[endOfRecord:dataLen])
	pg.SetDataLength(int32(dataLen - (length + recordHeaderSize)))
	pg.SetRecordCount(pg.RecordCount() - 1)
	pg.SetDirty(true)

	if pg.RecordCount() == 0 {
		return s.unlinkDataPage(pg)
	}
	return s.writePage(pg)
}

func (s *Store) unlinkDataPage(pg *page.Page) error {
	prevNum := pg.PrevDataPage()
	nextNum := pg.NextDataPage()

	if prevNum != page.NoPage {
		prevPg, err := s.getPage(prevNum)
		if err != nil {
			return err
		}
		prevPg.SetNextDataPage(nextNum)
		prevPg.SetDirty(true)
		if err := s.writePage(prevPg); err != nil {
			return err
		}
	}
	if nextNum != page.NoPage {
		nextPg, err := s.getPage(nextNum)
		if err != nil {
			return err
		}
		nextPg.SetPrevDataPage(prevNum)
		nextPg.SetDirty(true)
		if err := s.writePage(nextPg); err != nil {
			return err
		}
	}

	for owner, tailNum := range s.tails {
		if tailNum == pg.Num {
			if prevNum != page.NoPage {
				s.tails[owner] = prevNum
			} else {
				delete(s.tails, owner)
			}
		}
	}

	s.cache.Remove(uint64(pg.Num))
	return s.unlinkPage(pg)
}

// InsertAfter inserts bytes immediately after the record at addr,
// returning the new record's address.
func (s *Store) InsertAfter(addr Address, bytes []byte) (addr2 Address, err error) {
	start := time.Now()
	defer func() { s.recordOp("insert_after", start, err) }()
	return s.insertAfter(addr, bytes)
}

func (s *Store) insertAfter(addr Address, bytes []byte) (Address, error) {
	if len(bytes) > 0xFFFF {
		return 0, ErrValueTooLarge
	}

	pageNum, off, found, err := s.FindValuePosition(addr)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, ErrNotFound
	}

	pg, err := s.getPage(pageNum)
	if err != nil {
		return 0, err
	}
	payload := pg.DataPayload()
	existingLen := int(codec.Uint16(payload[off:]))
	endOfExisting := off + 2 + existingLen
	dataLen := int(pg.DataLength())
	workSize := page.DataWorkSize(s.pf.PageSize())
	needed := len(bytes) + recordHeaderSize

	switch {
	case dataLen+needed <= workSize:
		return s.insertMidPage(pg, endOfExisting, dataLen, bytes)
	case endOfExisting == dataLen:
		return s.appendLinkedPage(pg, bytes)
	default:
		return s.splitChain(pg, endOfExisting, bytes)
	}
}

// insertMidPage is case 1: the tail of the page's records shifts right
// to make room, and the new record lands in the gap.
func (s *Store) insertMidPage(pg *page.Page, endOfExisting, dataLen int, bytes []byte) (Address, error) {
	payload := pg.DataPayload()
	needed := len(bytes) + recordHeaderSize
	copy(payload[endOfExisting+needed:], payload[endOfExisting:dataLen])

	tid := pg.AllocTid()
	writeRecord(payload, endOfExisting, tid, bytes)
	pg.SetDataLength(int32(dataLen + needed))
	pg.SetRecordCount(pg.RecordCount() + 1)
	pg.SetDirty(true)
	if err := s.writePage(pg); err != nil {
		return 0, err
	}
	return CreatePointer(pg.Num, tid), nil
}

// appendLinkedPage is case 3: pg has no room and nothing to carry over
// (the target record was already its last), so the new record starts a
// freshly spliced page.
func (s *Store) appendLinkedPage(pg *page.Page, bytes []byte) (Address, error) {
	newPg, err := s.allocPage()
	if err != nil {
		return 0, err
	}
	newPg.InitData()

	oldNext := pg.NextDataPage()
	newPg.SetPrevDataPage(pg.Num)
	newPg.SetNextDataPage(oldNext)
	pg.SetNextDataPage(newPg.Num)
	pg.SetDirty(true)
	if err := s.writePage(pg); err != nil {
		return 0, err
	}

	if oldNext != page.NoPage {
		nextPg, err := s.getPage(oldNext)
		if err != nil {
			return 0, err
		}
		nextPg.SetPrevDataPage(newPg.Num)
		nextPg.SetDirty(true)
		if err := s.writePage(nextPg); err != nil {
			return 0, err
		}
	}

	tid := newPg.AllocTid()
	writeRecord(newPg.DataPayload(), 0, tid, bytes)
	newPg.SetDataLength(int32(len(bytes) + recordHeaderSize))
	newPg.SetRecordCount(1)
	newPg.SetDirty(true)
	if err := s.writePage(newPg); err != nil {
		return 0, err
	}
	if err := s.trackPage(newPg); err != nil {
		return 0, err
	}

	if oldNext == page.NoPage {
		s.retailTo(pg.Num, newPg.Num)
	}
	return CreatePointer(newPg.Num, tid), nil
}

// splitChain is case 2: the page is full and the target record is not
// last, so the tail records split off into a fresh page inserted into
// the chain, and the new record is appended to pg's now-shorter tail, or,
// if it still does not fit there, to a fresh page spliced in after pg.
func (s *Store) splitChain(pg *page.Page, endOfExisting int, bytes []byte) (Address, error) {
	dataLen := int(pg.DataLength())
	tailLen := dataLen - endOfExisting
	tailBytes := make([]byte, tailLen)
	copy(tailBytes, pg.DataPayload()[endOfExisting:dataLen])

	splitPg, err := s.allocPage()
	if err != nil {
		return 0, err
	}
	splitPg.InitData()
	copy(splitPg.DataPayload(), tailBytes)
	splitPg.SetDataLength(int32(tailLen))
	splitPg.SetNextTid(pg.NextTid())

	oldNext := pg.NextDataPage()
	splitPg.SetPrevDataPage(pg.Num)
	splitPg.SetNextDataPage(oldNext)

	pg.SetNextDataPage(splitPg.Num)
	pg.SetDataLength(int32(endOfExisting))

	if oldNext != page.NoPage {
		nextPg, err := s.getPage(oldNext)
		if err != nil {
			return 0, err
		}
		nextPg.SetPrevDataPage(splitPg.Num)
		nextPg.SetDirty(true)
		if err := s.writePage(nextPg); err != nil {
			return 0, err
		}
	}

	pg.SetRecordCount(countRecords(pg.DataPayload(), int(pg.DataLength())))
	splitPg.SetRecordCount(countRecords(splitPg.DataPayload(), int(splitPg.DataLength())))
	splitPg.SetDirty(true)
	if err := s.writePage(splitPg); err != nil {
		return 0, err
	}
	if err := s.trackPage(splitPg); err != nil {
		return 0, err
	}

	if oldNext == page.NoPage {
		s.retailTo(pg.Num, splitPg.Num)
	}

	if endOfExisting+len(bytes)+recordHeaderSize > page.DataWorkSize(s.pf.PageSize()) {
		return s.appendLinkedPage(pg, bytes)
	}

	tid := pg.AllocTid()
	writeRecord(pg.DataPayload(), endOfExisting, tid, bytes)
	pg.SetDataLength(int32(endOfExisting + len(bytes) + recordHeaderSize))
	pg.SetRecordCount(pg.RecordCount() + 1)
	pg.SetDirty(true)
	if err := s.writePage(pg); err != nil {
		return 0, err
	}
	return CreatePointer(pg.Num, tid), nil
}

// retailTo moves every owner currently pointing at oldTail to newTail,
// used when a split or append happens to fall at the true chain tail.
func (s *Store) retailTo(oldTail, newTail uint32) {
	for owner, tailNum := range s.tails {
		if tailNum == oldTail {
			s.tails[owner] = newTail
		}
	}
}

// Flush writes back every dirty resident data page without evicting.
func (s *Store) Flush() error {
	return s.cache.Flush()
}
