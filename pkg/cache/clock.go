// ABOUTME: Clock-policy bounded cache used for data pages
// ABOUTME: Decrements refcount on each sweep, evicts the first cold entry

package cache

import (
	"container/list"
	"errors"

	"github.com/nainya/domstore/internal/logger"
	"github.com/nainya/domstore/internal/metrics"
)

// ErrEvictionOverflow is returned when the bounded eviction scan of the
// resident set found nothing eligible to evict, rather than spinning
// indefinitely looking for one.
var ErrEvictionOverflow = errors.New("cache: no evictable entry within the bounded eviction scan")

type clockEntry struct {
	item     Cacheable
	refcount int
}

// DataPageCache is a bounded mapping from page number to resident data
// page, evicted with a clock (second-chance) policy: repeatedly sweeping
// in insertion order, decrementing refcount, until an entry with
// refcount < 1 is found.
type DataPageCache struct {
	capacity int
	index    map[uint64]*list.Element
	order    *list.List
	hand     *list.Element

	hits, misses, evictions uint64

	name string
	log  *logger.Logger
	met  *metrics.Metrics
}

// NewDataPageCache creates a clock cache bounded at capacity entries.
func NewDataPageCache(capacity int) *DataPageCache {
	return &DataPageCache{
		capacity: capacity,
		index:    make(map[uint64]*list.Element),
		order:    list.New(),
	}
}

// WithObservability names this cache for metrics/log labeling and
// attaches a logger and metrics handle. Both are nil-safe.
func (c *DataPageCache) WithObservability(name string, log *logger.Logger, met *metrics.Metrics) *DataPageCache {
	c.name = name
	if log != nil {
		c.log = log.CacheLogger(name)
	}
	c.met = met
	return c
}

// Add inserts a new entry or, if the key is already resident, increments
// its refcount. If the cache is now over capacity, one
// entry is evicted.
func (c *DataPageCache) Add(item Cacheable, initialRefcount int) error {
	key := item.CacheKey()
	if el, ok := c.index[key]; ok {
		el.Value.(*clockEntry).refcount++
		return nil
	}

	el := c.order.PushBack(&clockEntry{item: item, refcount: initialRefcount})
	c.index[key] = el
	defer c.reportResident()

	if c.order.Len() > c.capacity {
		return c.evictOneExcept(key)
	}
	return nil
}

func (c *DataPageCache) reportResident() {
	if c.met != nil {
		c.met.CacheResidentTotal.WithLabelValues(c.name).Set(float64(c.order.Len()))
	}
}

func (c *DataPageCache) evictOneExcept(protected uint64) error {
	if c.order.Len() == 0 {
		return nil
	}
	if c.hand == nil {
		c.hand = c.order.Front()
	}

	maxSweeps := 2*c.order.Len() + 8
	for attempt := 0; attempt < maxSweeps; attempt++ {
		if c.hand == nil {
			c.hand = c.order.Front()
		}
		e := c.hand.Value.(*clockEntry)
		key := e.item.CacheKey()

		if key == protected {
			c.hand = c.hand.Next()
			continue
		}

		if e.refcount < 1 {
			if e.item.IsDirty() {
				if err := e.item.Sync(); err != nil {
					return err
				}
			}
			victim := c.hand
			c.hand = c.hand.Next()
			c.order.Remove(victim)
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

		e.refcount--
		c.hand = c.hand.Next()
	}
	return ErrEvictionOverflow
}

// Get returns the resident item for key, if any, and records a
// hit/miss for stats purposes.
func (c *DataPageCache) Get(key uint64) (Cacheable, bool) {
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
	return el.Value.(*clockEntry).item, true
}

// Touch increments the refcount of a resident entry, e.g. to pin it
// across a sequence of operations without re-adding it.
func (c *DataPageCache) Touch(key uint64) {
	if el, ok := c.index[key]; ok {
		el.Value.(*clockEntry).refcount++
	}
}

// Flush writes back every dirty resident entry without evicting any of
// them.
func (c *DataPageCache) Flush() error {
	for el := c.order.Front(); el != nil; el = el.Next() {
		e := el.Value.(*clockEntry)
		if e.item.IsDirty() {
			if err := e.item.Sync(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Remove deletes key from the cache unconditionally, regardless of
// refcount or dirty state.
func (c *DataPageCache) Remove(key uint64) {
	el, ok := c.index[key]
	if !ok {
		return
	}
	if c.hand == el {
		c.hand = el.Next()
	}
	c.order.Remove(el)
	delete(c.index, key)
	c.reportResident()
}

// Len reports the number of resident entries.
func (c *DataPageCache) Len() int { return c.order.Len() }

// Stats returns cumulative hit/miss/eviction counters for metrics export.
func (c *DataPageCache) Stats() (hits, misses, evictions uint64) {
	return c.hits, c.misses, c.evictions
}
