package domstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/nainya/domstore/pkg/cache"
	"github.com/nainya/domstore/pkg/lock"
	"github.com/nainya/domstore/pkg/page"
)

func newTestStoreWithLock(t *testing.T) (*Store, *lock.Lock) {
	t.Helper()
	dir := t.TempDir()
	pf, err := page.Open(filepath.Join(dir, "data.dom"))
	if err != nil {
		t.Fatalf("page.Open: %v", err)
	}
	t.Cleanup(func() { pf.Close() })
	return New(pf, cache.NewDataPageCache(64)), lock.New(time.Second)
}

func TestIteratorWalksRecordsInOrder(t *testing.T) {
	s, l := newTestStoreWithLock(t)
	owner := Owner(1)
	lockOwner := lock.Owner(1)

	want := []string{"one", "two", "three"}
	var first Address
	for i, v := range want {
		addr, err := s.Add(owner, []byte(v))
		if err != nil {
			t.Fatalf("Add: %v", err)
		}
		if i == 0 {
			first = addr
		}
	}

	it := NewIterator(s, l, lockOwner, first)
	var got []string
	for {
		ok, err := it.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, string(it.Value()))
	}

	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestIteratorCrossesPageBoundary(t *testing.T) {
	s, l := newTestStoreWithLock(t)
	owner := Owner(1)
	lockOwner := lock.Owner(1)
	workSize := page.DataWorkSize(s.pf.PageSize())

	big := make([]byte, workSize-recordHeaderSize)
	first, err := s.Add(owner, big)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := s.Add(owner, []byte("on the next page")); err != nil {
		t.Fatalf("Add: %v", err)
	}

	it := NewIterator(s, l, lockOwner, first)
	count := 0
	for {
		ok, err := it.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		count++
	}
	if count != 2 {
		t.Fatalf("iterated %d records, want 2", count)
	}
}

func TestIteratorRemoveAdvancesToNext(t *testing.T) {
	s, l := newTestStoreWithLock(t)
	owner := Owner(1)
	lockOwner := lock.Owner(1)

	first, err := s.Add(owner, []byte("a"))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := s.Add(owner, []byte("b")); err != nil {
		t.Fatalf("Add: %v", err)
	}

	it := NewIterator(s, l, lockOwner, first)
	ok, err := it.Next()
	if err != nil || !ok {
		t.Fatalf("Next: ok=%v err=%v", ok, err)
	}
	if err := it.Remove(); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if !it.Valid() || string(it.Value()) != "b" {
		t.Fatalf("after Remove, positioned on %q, want b", it.Value())
	}

	if _, err := s.Get(first); err != ErrNotFound {
		t.Fatalf("Get removed record = %v, want ErrNotFound", err)
	}
}

func TestIteratorFinitelyTerminates(t *testing.T) {
	s, l := newTestStoreWithLock(t)
	owner := Owner(1)
	lockOwner := lock.Owner(1)

	addr, err := s.Add(owner, []byte("only"))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	it := NewIterator(s, l, lockOwner, addr)
	if ok, err := it.Next(); err != nil || !ok {
		t.Fatalf("first Next: ok=%v err=%v", ok, err)
	}
	if ok, err := it.Next(); err != nil || ok {
		t.Fatalf("second Next: ok=%v err=%v, want false", ok, err)
	}
	if ok, err := it.Next(); err != nil || ok {
		t.Fatalf("third Next after exhaustion: ok=%v err=%v, want false", ok, err)
	}
}
