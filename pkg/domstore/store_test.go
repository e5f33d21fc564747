package domstore

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/nainya/domstore/pkg/cache"
	"github.com/nainya/domstore/pkg/page"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	pf, err := page.Open(filepath.Join(dir, "data.dom"))
	if err != nil {
		t.Fatalf("page.Open: %v", err)
	}
	t.Cleanup(func() { pf.Close() })
	return New(pf, cache.NewDataPageCache(64))
}

func TestAddThenGetRoundTrips(t *testing.T) {
	s := newTestStore(t)
	owner := Owner(1)

	want := [][]byte{[]byte("short"), bytes.Repeat([]byte("b"), 200), bytes.Repeat([]byte("c"), 300)}
	var addrs []Address
	for _, v := range want {
		addr, err := s.Add(owner, v)
		if err != nil {
			t.Fatalf("Add: %v", err)
		}
		addrs = append(addrs, addr)
	}

	for i, addr := range addrs {
		got, err := s.Get(addr)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if !bytes.Equal(got, want[i]) {
			t.Errorf("Get(%d) = %q, want %q", i, got, want[i])
		}
	}
}

func TestAddAllocatesNewPageWhenFull(t *testing.T) {
	s := newTestStore(t)
	owner := Owner(1)
	workSize := page.DataWorkSize(s.pf.PageSize())

	big := bytes.Repeat([]byte("x"), workSize-recordHeaderSize)
	firstAddr, err := s.Add(owner, big)
	if err != nil {
		t.Fatalf("Add big: %v", err)
	}

	secondAddr, err := s.Add(owner, []byte("overflow"))
	if err != nil {
		t.Fatalf("Add overflow: %v", err)
	}
	if secondAddr.Page() == firstAddr.Page() {
		t.Fatal("expected the second record to land on a new page")
	}

	firstPg, err := s.getPage(firstAddr.Page())
	if err != nil {
		t.Fatalf("getPage: %v", err)
	}
	if firstPg.NextDataPage() != secondAddr.Page() {
		t.Fatal("expected first page to link forward to the new page")
	}
}

func TestUpdateRejectsLongerValue(t *testing.T) {
	s := newTestStore(t)
	owner := Owner(1)
	addr, err := s.Add(owner, []byte("abc"))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Update(addr, []byte("abcdef")); err != ErrTooLong {
		t.Fatalf("Update longer = %v, want ErrTooLong", err)
	}
}

func TestUpdateRejectsShorterValue(t *testing.T) {
	s := newTestStore(t)
	owner := Owner(1)
	addr, err := s.Add(owner, []byte("abcdef"))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Update(addr, []byte("ab")); err != ErrShrunk {
		t.Fatalf("Update shorter = %v, want ErrShrunk", err)
	}
}

func TestUpdateSameLengthOverwrites(t *testing.T) {
	s := newTestStore(t)
	owner := Owner(1)
	addr, err := s.Add(owner, []byte("abcdef"))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Update(addr, []byte("ZYXWVU")); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, err := s.Get(addr)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "ZYXWVU" {
		t.Fatalf("Get after Update = %q, want ZYXWVU", got)
	}
}

func TestRemoveDrainsPageAndUnlinks(t *testing.T) {
	s := newTestStore(t)
	owner := Owner(1)
	addr, err := s.Add(owner, []byte("only record"))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Remove(addr); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := s.Get(addr); err != ErrNotFound {
		t.Fatalf("Get after Remove = %v, want ErrNotFound", err)
	}
}

func TestRemoveCompactsWithoutDrainingPage(t *testing.T) {
	s := newTestStore(t)
	owner := Owner(1)
	a1, err := s.Add(owner, []byte("first"))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	a2, err := s.Add(owner, []byte("second"))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	if err := s.Remove(a1); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	got, err := s.Get(a2)
	if err != nil {
		t.Fatalf("Get survivor: %v", err)
	}
	if string(got) != "second" {
		t.Fatalf("Get survivor = %q, want second", got)
	}
}

func TestInsertAfterMidPageShift(t *testing.T) {
	s := newTestStore(t)
	owner := Owner(1)
	a1, err := s.Add(owner, []byte("first"))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	a2, err := s.Add(owner, []byte("third"))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	mid, err := s.InsertAfter(a1, []byte("second"))
	if err != nil {
		t.Fatalf("InsertAfter: %v", err)
	}

	for _, tc := range []struct {
		addr Address
		want string
	}{{a1, "first"}, {mid, "second"}, {a2, "third"}} {
		got, err := s.Get(tc.addr)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if string(got) != tc.want {
			t.Errorf("Get = %q, want %q", got, tc.want)
		}
	}
}

func TestInsertAfterFillsThenSplitsChain(t *testing.T) {
	s := newTestStore(t)
	owner := Owner(1)
	workSize := page.DataWorkSize(s.pf.PageSize())

	// Fill the page almost to capacity with one big record, then a
	// small trailing record, leaving too little spare room for the
	// next insert to fit in place: it must split off the tail record
	// into a fresh page instead.
	big := bytes.Repeat([]byte("x"), workSize-100)
	firstAddr, err := s.Add(owner, big)
	if err != nil {
		t.Fatalf("Add big: %v", err)
	}
	lastAddr, err := s.Add(owner, []byte("tail"))
	if err != nil {
		t.Fatalf("Add tail: %v", err)
	}

	newAddr, err := s.InsertAfter(firstAddr, bytes.Repeat([]byte("y"), 150))
	if err != nil {
		t.Fatalf("InsertAfter: %v", err)
	}

	got, err := s.Get(lastAddr)
	if err != nil {
		t.Fatalf("Get tail after split: %v", err)
	}
	if string(got) != "tail" {
		t.Fatalf("Get tail after split = %q, want tail", got)
	}
	got, err = s.Get(newAddr)
	if err != nil {
		t.Fatalf("Get inserted after split: %v", err)
	}
	if len(got) != 150 {
		t.Fatalf("Get inserted len = %d, want 150", len(got))
	}
}

func TestInsertAfterAtFullPageLastRecordAppendsNewPage(t *testing.T) {
	s := newTestStore(t)
	owner := Owner(1)
	workSize := page.DataWorkSize(s.pf.PageSize())

	big := bytes.Repeat([]byte("x"), workSize-recordHeaderSize)
	addr, err := s.Add(owner, big)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	newAddr, err := s.InsertAfter(addr, []byte("new tail"))
	if err != nil {
		t.Fatalf("InsertAfter: %v", err)
	}
	if newAddr.Page() == addr.Page() {
		t.Fatal("expected insertion to land on a newly spliced page")
	}
	got, err := s.Get(newAddr)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "new tail" {
		t.Fatalf("Get = %q, want new tail", got)
	}
}

func TestTidsAreMonotonicPerPage(t *testing.T) {
	s := newTestStore(t)
	owner := Owner(1)
	var last uint16
	for i := 0; i < 10; i++ {
		addr, err := s.Add(owner, []byte("v"))
		if err != nil {
			t.Fatalf("Add: %v", err)
		}
		if i > 0 && addr.Tid() <= last {
			t.Fatalf("tid %d not greater than previous %d", addr.Tid(), last)
		}
		last = addr.Tid()
	}
}

func TestCloseDocumentForgetsTail(t *testing.T) {
	s := newTestStore(t)
	owner := Owner(1)
	if _, err := s.Add(owner, []byte("v")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	s.CloseDocument(owner)
	if _, ok := s.tails[owner]; ok {
		t.Fatal("expected tail entry to be forgotten after CloseDocument")
	}
}
