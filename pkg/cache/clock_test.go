package cache

import "testing"

func TestDataPageCacheHitMiss(t *testing.T) {
	c := NewDataPageCache(2)
	a := newFake(1)
	if err := c.Add(a, 0); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if _, ok := c.Get(1); !ok {
		t.Fatal("expected hit for key 1")
	}
	if _, ok := c.Get(99); ok {
		t.Fatal("expected miss for key 99")
	}

	hits, misses, _ := c.Stats()
	if hits != 1 || misses != 1 {
		t.Errorf("hits=%d misses=%d, want 1/1", hits, misses)
	}
}

func TestDataPageCacheEvictsAtCapacity(t *testing.T) {
	c := NewDataPageCache(2)
	a, b, d := newFake(1), newFake(2), newFake(3)

	if err := c.Add(a, 0); err != nil {
		t.Fatalf("Add a: %v", err)
	}
	if err := c.Add(b, 0); err != nil {
		t.Fatalf("Add b: %v", err)
	}
	if err := c.Add(d, 0); err != nil {
		t.Fatalf("Add d: %v", err)
	}

	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2", c.Len())
	}
	_, _, evictions := c.Stats()
	if evictions != 1 {
		t.Errorf("evictions = %d, want 1", evictions)
	}
}

func TestDataPageCachePinnedEntrySurvives(t *testing.T) {
	c := NewDataPageCache(1)
	pinned := newFake(1)

	// Each Add's eviction sweep is bounded, so an entry pinned more heavily
	// than one sweep can drain survives and the Add reports
	// ErrEvictionOverflow instead.
	if err := c.Add(pinned, 100); err != nil {
		t.Fatalf("Add pinned: %v", err)
	}

	for i := uint64(2); i < 2+10; i++ {
		err := c.Add(newFake(i), 0)
		if err == ErrEvictionOverflow {
			break
		}
		if err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	if _, ok := c.Get(1); !ok {
		t.Error("pinned entry was evicted but should have survived repeated sweeps")
	}
}

func TestDataPageCacheSyncsDirtyBeforeEviction(t *testing.T) {
	c := NewDataPageCache(1)
	a := newFake(1)
	a.dirty = true
	if err := c.Add(a, 0); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := c.Add(newFake(2), 0); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if a.synced != 1 {
		t.Errorf("synced = %d, want 1", a.synced)
	}
}

func TestDataPageCacheRemoveDropsEntry(t *testing.T) {
	c := NewDataPageCache(3)
	for _, k := range []uint64{1, 2, 3} {
		if err := c.Add(newFake(k), 0); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	c.Remove(1)
	if c.Len() != 2 {
		t.Errorf("Len after Remove = %d, want 2", c.Len())
	}
	if _, ok := c.Get(1); ok {
		t.Error("removed key 1 still resident")
	}
}

func TestDataPageCacheFlushSyncsWithoutEviction(t *testing.T) {
	c := NewDataPageCache(3)
	a := newFake(1)
	a.dirty = true
	if err := c.Add(a, 0); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := c.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if a.synced != 1 {
		t.Errorf("synced = %d, want 1", a.synced)
	}
	if c.Len() != 1 {
		t.Errorf("Len after Flush = %d, want 1 (no eviction)", c.Len())
	}
}
