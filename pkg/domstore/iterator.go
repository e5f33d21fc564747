// ABOUTME: Lazy forward iterator over a document's record chain
// ABOUTME: Acquires the engine lock only for the duration of each step, never across steps

package domstore

import (
	"github.com/nainya/domstore/pkg/codec"
	"github.com/nainya/domstore/pkg/lock"
	"github.com/nainya/domstore/pkg/page"
)

// Iterator walks a document's record chain forward in document order,
// starting at a given address. It is finite and non-restartable: once
// Next returns false, the iterator is exhausted. Every
// step acquires and releases the engine lock itself; callers must not
// hold the lock across calls to Next/Remove.
type Iterator struct {
	store *Store
	l     *lock.Lock
	owner lock.Owner

	pageNum uint32 // page of the current (or, pre-start, starting) record
	offset  int    // tid-field position of the current record within its page
	done    bool
	started bool

	curTid   uint16
	curBytes []byte
}

// NewIterator returns an iterator whose first Next call positions on
// start itself.
func NewIterator(s *Store, l *lock.Lock, owner lock.Owner, start Address) *Iterator {
	return &Iterator{
		store:   s,
		l:       l,
		owner:   owner,
		pageNum: start.Page(),
		curTid:  start.Tid(),
	}
}

// Valid reports whether the iterator is currently positioned on a live
// record (i.e. the most recent Next call returned true).
func (it *Iterator) Valid() bool { return it.started && !it.done }

// Address returns the current record's address.
func (it *Iterator) Address() Address { return CreatePointer(it.pageNum, it.curTid) }

// Value returns the current record's bytes.
func (it *Iterator) Value() []byte { return it.curBytes }

// Next advances to the next record in document order, or to the
// iterator's starting record on the very first call. It returns false
// once the chain is exhausted.
func (it *Iterator) Next() (bool, error) {
	if it.done {
		return false, nil
	}

	if err := it.l.Acquire(it.owner, lock.Shared); err != nil {
		return false, err
	}
	defer it.l.Release(it.owner, lock.Shared)

	if !it.started {
		it.started = true
		ok, err := it.seekTid(it.pageNum, it.curTid)
		if err != nil || !ok {
			it.done = true
			return false, err
		}
		return true, nil
	}

	pg, err := it.store.getPage(it.pageNum)
	if err != nil {
		return false, err
	}
	nextPageNum, nextOff, ok, err := advancePosition(it.store, pg, it.offset)
	if err != nil {
		return false, err
	}
	if !ok {
		it.done = true
		return false, nil
	}
	nextPg, err := it.store.getPage(nextPageNum)
	if err != nil {
		return false, err
	}
	return it.load(nextPg, nextOff)
}

// advancePosition computes the position just past the record at offset
// within pg, following the chain to the next non-empty page if offset's
// record is the last one on pg. It returns ok=false at end of chain.
func advancePosition(s *Store, pg *page.Page, offset int) (pageNum uint32, newOffset int, ok bool, err error) {
	payload := pg.DataPayload()
	dataLen := int(pg.DataLength())
	length := int(codec.Uint16(payload[offset+2:]))
	next := offset + recordHeaderSize + length

	if next < dataLen {
		return pg.Num, next, true, nil
	}

	nextPageNum := pg.NextDataPage()
	for nextPageNum != page.NoPage {
		nextPg, err := s.getPage(nextPageNum)
		if err != nil {
			return 0, 0, false, err
		}
		if int(nextPg.DataLength()) > 0 {
			return nextPg.Num, 0, true, nil
		}
		nextPageNum = nextPg.NextDataPage()
	}
	return 0, 0, false, nil
}

// seekTid positions the iterator at the record with the given tid on
// pageNum, used once to resolve the iterator's starting record.
func (it *Iterator) seekTid(pageNum uint32, tid uint16) (bool, error) {
	pg, err := it.store.getPage(pageNum)
	if err != nil {
		return false, err
	}
	payload := pg.DataPayload()
	dataLen := int(pg.DataLength())
	off := 0
	for off < dataLen {
		if codec.Uint16(payload[off:]) == tid {
			return it.load(pg, off)
		}
		length := int(codec.Uint16(payload[off+2:]))
		off += recordHeaderSize + length
	}
	return false, nil
}

func (it *Iterator) load(pg *page.Page, off int) (bool, error) {
	payload := pg.DataPayload()
	tid := codec.Uint16(payload[off:])
	length := int(codec.Uint16(payload[off+2:]))
	value := make([]byte, length)
	copy(value, payload[off+recordHeaderSize:off+recordHeaderSize+length])

	it.pageNum = pg.Num
	it.offset = off
	it.curTid = tid
	it.curBytes = value
	return true, nil
}

// Remove deletes the record the iterator is currently positioned on and
// advances past it, so that a subsequent Next continues in document
// order from the following record.
func (it *Iterator) Remove() error {
	if !it.Valid() {
		return ErrNotFound
	}

	if err := it.l.Acquire(it.owner, lock.Exclusive); err != nil {
		return err
	}
	defer it.l.Release(it.owner, lock.Exclusive)

	addr := it.Address()

	pg, err := it.store.getPage(it.pageNum)
	if err != nil {
		return err
	}
	nextPageNum, nextOff, hasNext, err := advancePosition(it.store, pg, it.offset)
	if err != nil {
		return err
	}
	// If the successor lands on the same page after this one, removal
	// shifts its bytes left by this record's on-disk width.
	sameRecordPage := hasNext && nextPageNum == it.pageNum
	width := 0
	if sameRecordPage {
		payload := pg.DataPayload()
		length := int(codec.Uint16(payload[it.offset+2:]))
		width = recordHeaderSize + length
	}

	if err := it.store.Remove(addr); err != nil {
		return err
	}

	if !hasNext {
		it.done = true
		return nil
	}
	if sameRecordPage {
		nextOff -= width
	}

	nextPg, err := it.store.getPage(nextPageNum)
	if err != nil {
		return err
	}
	_, err = it.load(nextPg, nextOff)
	return err
}
