// ABOUTME: Reference-counted, insertion-order cache used by the B+-tree
// ABOUTME: Evicts the oldest AllowUnload()-eligible entry, pinning via refcount

package cache

import (
	"container/list"

	"github.com/nainya/domstore/internal/logger"
	"github.com/nainya/domstore/internal/metrics"
)

// BTreePageCache is a bounded mapping keyed by page number, preserving
// insertion order, used to pin B+-tree nodes in memory while they are
// being traversed. Unlike DataPageCache's clock sweep, eviction always
// considers the oldest entries first and never touches refcount as part
// of the scan. Whether an entry may be evicted is decided by its
// AllowUnload() alone; the refcount kept by Get/Release is not consulted.
type BTreePageCache struct {
	capacity int
	index    map[uint64]*list.Element
	order    *list.List

	hits, misses, evictions uint64

	name string
	log  *logger.Logger
	met  *metrics.Metrics
}

type refEntry struct {
	item     Cacheable
	refcount int
}

// NewBTreePageCache creates a reference-counted cache bounded at capacity
// entries.
func NewBTreePageCache(capacity int) *BTreePageCache {
	return &BTreePageCache{
		capacity: capacity,
		index:    make(map[uint64]*list.Element),
		order:    list.New(),
	}
}

// WithObservability names this cache for metrics/log labeling and
// attaches a logger and metrics handle. Both are nil-safe.
func (c *BTreePageCache) WithObservability(name string, log *logger.Logger, met *metrics.Metrics) *BTreePageCache {
	c.name = name
	if log != nil {
		c.log = log.CacheLogger(name)
	}
	c.met = met
	return c
}

// Add inserts a new entry at the back (most recent), or increments the
// refcount of an already-resident entry with the same key.
// If at capacity, the oldest AllowUnload()-eligible entry other than the
// new key is evicted first.
func (c *BTreePageCache) Add(item Cacheable, initialRefcount int) error {
	key := item.CacheKey()
	if el, ok := c.index[key]; ok {
		el.Value.(*refEntry).refcount++
		return nil
	}

	if c.order.Len() >= c.capacity {
		if err := c.evictOneExcept(key); err != nil {
			return err
		}
	}

	el := c.order.PushBack(&refEntry{item: item, refcount: initialRefcount})
	c.index[key] = el
	c.reportResident()
	return nil
}

func (c *BTreePageCache) reportResident() {
	if c.met != nil {
		c.met.CacheResidentTotal.WithLabelValues(c.name).Set(float64(c.order.Len()))
	}
}

// evictOneExcept scans from the head (oldest first); if a full pass
// finds nothing evictable, scanning restarts from the head, bounded
// here at one restart to avoid a pathological infinite loop.
func (c *BTreePageCache) evictOneExcept(protected uint64) error {
	const maxRestarts = 2
	for restart := 0; restart < maxRestarts; restart++ {
		for el := c.order.Front(); el != nil; el = el.Next() {
			e := el.Value.(*refEntry)
			key := e.item.CacheKey()
			if key == protected {
				continue
			}
			if !e.item.AllowUnload() {
				continue
			}
			if e.item.IsDirty() {
				if err := e.item.Sync(); err != nil {
					return err
				}
			}
			c.order.Remove(el)
			delete(c.index, key)
			c.evictions++
			if c.met != nil {
				c.met.RecordCacheEviction(c.name)
			}
			if c.log != nil {
				c.log.Debug("evicted page").Uint64("key", key).Send()
			}
			return nil
		}
	}
	return ErrEvictionOverflow
}

// Get returns the resident item for key, if any, recording a hit/miss.
func (c *BTreePageCache) Get(key uint64) (Cacheable, bool) {
	el, ok := c.index[key]
	if !ok {
		c.misses++
		if c.met != nil {
			c.met.RecordCacheMiss(c.name)
		}
		return nil, false
	}
	c.hits++
	if c.met != nil {
		c.met.RecordCacheHit(c.name)
	}
	return el.Value.(*refEntry).item, true
}

// Release decrements a resident entry's refcount, stopping at zero. It
// does not affect eviction, which consults only AllowUnload().
func (c *BTreePageCache) Release(key uint64) {
	if el, ok := c.index[key]; ok {
		e := el.Value.(*refEntry)
		if e.refcount > 0 {
			e.refcount--
		}
	}
}

// Flush syncs every dirty resident entry.
func (c *BTreePageCache) Flush() error {
	for el := c.order.Front(); el != nil; el = el.Next() {
		e := el.Value.(*refEntry)
		if e.item.IsDirty() {
			if err := e.item.Sync(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Remove deletes key unconditionally.
func (c *BTreePageCache) Remove(key uint64) {
	if el, ok := c.index[key]; ok {
		c.order.Remove(el)
		delete(c.index, key)
		c.reportResident()
	}
}

// Len reports the number of resident entries.
func (c *BTreePageCache) Len() int { return c.order.Len() }

// Stats returns cumulative hit/miss/eviction counters for metrics export.
func (c *BTreePageCache) Stats() (hits, misses, evictions uint64) {
	return c.hits, c.misses, c.evictions
}
