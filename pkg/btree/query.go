// ABOUTME: Range and predicate scans over the tree
// ABOUTME: IndexQuery kinds: equality, between (BW, inclusive), prefix, negation

package btree

import "bytes"

// QueryKind selects how an IndexQuery's bounds are interpreted.
type QueryKind int

const (
	// Equality matches entries whose key equals Key exactly.
	Equality QueryKind = iota
	// Between matches entries with Low <= key <= High (inclusive both ends).
	Between
	// Prefix matches entries whose key starts with Key.
	Prefix
	// Negation matches entries the Inner query would NOT match, scanned
	// over the tree's full key range.
	Negation
)

// IndexQuery describes one scan over the tree.
type IndexQuery struct {
	Kind  QueryKind
	Key   []byte
	Low   []byte
	High  []byte
	Inner *IndexQuery
}

func (q IndexQuery) matches(key []byte) bool {
	switch q.Kind {
	case Equality:
		return bytes.Equal(key, q.Key)
	case Between:
		return bytes.Compare(key, q.Low) >= 0 && bytes.Compare(key, q.High) <= 0
	case Prefix:
		return bytes.HasPrefix(key, q.Key)
	case Negation:
		return q.Inner != nil && !q.Inner.matches(key)
	default:
		return false
	}
}

// seekStart returns the key the iterator should seek to before applying
// q.matches per entry (nil meaning "start at the first entry").
func (q IndexQuery) seekStart() []byte {
	switch q.Kind {
	case Equality:
		return q.Key
	case Between:
		return q.Low
	case Prefix:
		return q.Key
	default:
		return nil
	}
}

// upperBound returns the key past which the scan can stop early (nil
// meaning "scan to the end").
func (q IndexQuery) upperBound() []byte {
	switch q.Kind {
	case Equality:
		return q.Key
	case Between:
		return q.High
	default:
		return nil
	}
}

// Query runs the scan described by q, invoking callback(key, address) for
// every matching entry in key order until callback returns false or the
// scan is exhausted.
func (t *Tree) Query(q IndexQuery, callback func(key []byte, addr uint64) bool) error {
	it := t.NewIterator()
	start := q.seekStart()

	ok, err := it.SeekLE(start)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	if start != nil && bytes.Compare(it.Key(), start) < 0 {
		if ok, err = it.Next(); err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}

	upper := q.upperBound()
	for it.Valid() {
		key := it.Key()
		if upper != nil && bytes.Compare(key, upper) > 0 {
			return nil
		}
		if q.Kind == Equality && bytes.Compare(key, q.Key) > 0 {
			return nil
		}
		if q.Kind == Prefix && !bytes.HasPrefix(key, q.Key) && bytes.Compare(key, q.Key) > 0 {
			return nil
		}
		// The empty-key, zero-address entry is the sentinel Insert places
		// at the front of the tree, not a stored entry.
		sentinel := len(key) == 0 && it.Address() == 0
		if !sentinel && q.matches(key) {
			if !callback(key, it.Address()) {
				return nil
			}
		}
		if ok, err = it.Next(); err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}
	return nil
}
