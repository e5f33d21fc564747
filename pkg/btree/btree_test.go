package btree

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/nainya/domstore/pkg/cache"
	"github.com/nainya/domstore/pkg/page"
)

func newTestTree(t *testing.T) *Tree {
	t.Helper()
	dir := t.TempDir()
	pf, err := page.Open(filepath.Join(dir, "tree.dom"))
	if err != nil {
		t.Fatalf("page.Open: %v", err)
	}
	t.Cleanup(func() { pf.Close() })
	return New(pf, cache.NewBTreePageCache(64))
}

func TestGetOnEmptyTree(t *testing.T) {
	tr := newTestTree(t)
	_, found, err := tr.Get([]byte("x"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if found {
		t.Fatal("expected not found on empty tree")
	}
}

func TestInsertThenGet(t *testing.T) {
	tr := newTestTree(t)
	if err := tr.Insert([]byte("doc1/5"), 12345); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	addr, found, err := tr.Get([]byte("doc1/5"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !found {
		t.Fatal("expected found")
	}
	if addr != 12345 {
		t.Errorf("addr = %d, want 12345", addr)
	}
}

func TestInsertUpdatesExistingKey(t *testing.T) {
	tr := newTestTree(t)
	if err := tr.Insert([]byte("k"), 1); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := tr.Insert([]byte("k"), 2); err != nil {
		t.Fatalf("Insert (update): %v", err)
	}

	addr, found, err := tr.Get([]byte("k"))
	if err != nil || !found {
		t.Fatalf("Get: addr=%d found=%v err=%v", addr, found, err)
	}
	if addr != 2 {
		t.Errorf("addr = %d, want 2 (update should overwrite)", addr)
	}
}

func TestManyInsertsForceSplit(t *testing.T) {
	tr := newTestTree(t)
	const n = 500
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%06d", i))
		if err := tr.Insert(key, uint64(i)); err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
	}

	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%06d", i))
		addr, found, err := tr.Get(key)
		if err != nil {
			t.Fatalf("Get %d: %v", i, err)
		}
		if !found {
			t.Fatalf("key %d missing after split", i)
		}
		if addr != uint64(i) {
			t.Errorf("key %d: addr = %d, want %d", i, addr, i)
		}
	}
}

func TestDeleteRemovesKey(t *testing.T) {
	tr := newTestTree(t)
	if err := tr.Insert([]byte("a"), 1); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := tr.Insert([]byte("b"), 2); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	removed, err := tr.Delete([]byte("a"))
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !removed {
		t.Fatal("expected removed=true")
	}

	_, found, err := tr.Get([]byte("a"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if found {
		t.Fatal("key should be gone after Delete")
	}

	addr, found, err := tr.Get([]byte("b"))
	if err != nil || !found || addr != 2 {
		t.Fatalf("other key disturbed: addr=%d found=%v err=%v", addr, found, err)
	}
}

func TestDeleteMissingKeyReturnsFalse(t *testing.T) {
	tr := newTestTree(t)
	if err := tr.Insert([]byte("a"), 1); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	removed, err := tr.Delete([]byte("nonexistent"))
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if removed {
		t.Fatal("expected removed=false for missing key")
	}
}

func TestQueryEquality(t *testing.T) {
	tr := newTestTree(t)
	for i := 0; i < 20; i++ {
		if err := tr.Insert([]byte(fmt.Sprintf("k%02d", i)), uint64(i)); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	var got []uint64
	err := tr.Query(IndexQuery{Kind: Equality, Key: []byte("k05")}, func(key []byte, addr uint64) bool {
		got = append(got, addr)
		return true
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 || got[0] != 5 {
		t.Fatalf("Equality query = %v, want [5]", got)
	}
}

func TestQueryBetweenInclusive(t *testing.T) {
	tr := newTestTree(t)
	for i := 0; i < 10; i++ {
		if err := tr.Insert([]byte(fmt.Sprintf("k%02d", i)), uint64(i)); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	var got []uint64
	q := IndexQuery{Kind: Between, Low: []byte("k02"), High: []byte("k05")}
	if err := tr.Query(q, func(key []byte, addr uint64) bool {
		got = append(got, addr)
		return true
	}); err != nil {
		t.Fatalf("Query: %v", err)
	}

	want := []uint64{2, 3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("Between query = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Between query = %v, want %v", got, want)
		}
	}
}

func TestQueryPrefix(t *testing.T) {
	tr := newTestTree(t)
	keys := []string{"doc1/1", "doc1/2", "doc2/1", "doc2/2"}
	for i, k := range keys {
		if err := tr.Insert([]byte(k), uint64(i)); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	var got []uint64
	q := IndexQuery{Kind: Prefix, Key: []byte("doc1/")}
	if err := tr.Query(q, func(key []byte, addr uint64) bool {
		got = append(got, addr)
		return true
	}); err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Prefix query returned %v, want 2 matches", got)
	}
}

func TestQueryNegation(t *testing.T) {
	tr := newTestTree(t)
	for i := 0; i < 5; i++ {
		if err := tr.Insert([]byte(fmt.Sprintf("k%02d", i)), uint64(i)); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	q := IndexQuery{Kind: Negation, Inner: &IndexQuery{Kind: Equality, Key: []byte("k02")}}
	var got []uint64
	if err := tr.Query(q, func(key []byte, addr uint64) bool {
		got = append(got, addr)
		return true
	}); err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("Negation query returned %d entries, want 4", len(got))
	}
	for _, a := range got {
		if a == 2 {
			t.Fatal("negated key k02 should not appear")
		}
	}
}

func TestIteratorForwardScan(t *testing.T) {
	tr := newTestTree(t)
	for i := 0; i < 30; i++ {
		if err := tr.Insert([]byte(fmt.Sprintf("k%03d", i)), uint64(i)); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	it := tr.NewIterator()
	ok, err := it.SeekLE([]byte("k010"))
	if err != nil {
		t.Fatalf("SeekLE: %v", err)
	}
	if !ok {
		t.Fatal("expected SeekLE to succeed on non-empty tree")
	}

	count := 0
	for it.Valid() {
		count++
		more, err := it.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !more {
			break
		}
	}
	if count == 0 {
		t.Fatal("iterator yielded no entries")
	}
}
