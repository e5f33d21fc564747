package gid

import "testing"

func TestAncestorPathOrdersRootFirst(t *testing.T) {
	mp := NewMemoryProvider()
	mp.AddChild("doc1", 1, 2)
	mp.AddChild("doc1", 2, 3)

	path := AncestorPath(mp, "doc1", 3)
	want := []int64{1, 2, 3}
	if len(path) != len(want) {
		t.Fatalf("AncestorPath = %v, want %v", path, want)
	}
	for i := range want {
		if path[i] != want[i] {
			t.Fatalf("AncestorPath = %v, want %v", path, want)
		}
	}
}

func TestAncestorPathAtRoot(t *testing.T) {
	mp := NewMemoryProvider()
	path := AncestorPath(mp, "doc1", 1)
	if len(path) != 1 || path[0] != 1 {
		t.Fatalf("AncestorPath for root = %v, want [1]", path)
	}
}

func TestFirstChildAndChildCount(t *testing.T) {
	mp := NewMemoryProvider()
	mp.AddChild("doc1", 1, 10)
	mp.AddChild("doc1", 1, 11)
	mp.AddChild("doc1", 1, 12)

	first, ok := mp.FirstChildID("doc1", 1)
	if !ok || first != 10 {
		t.Fatalf("FirstChildID = %d, %v, want 10, true", first, ok)
	}
	if count := mp.ChildCount("doc1", 1); count != 3 {
		t.Fatalf("ChildCount = %d, want 3", count)
	}
}

func TestChildCountForChildlessNode(t *testing.T) {
	mp := NewMemoryProvider()
	if count := mp.ChildCount("doc1", 99); count != 0 {
		t.Fatalf("ChildCount = %d, want 0", count)
	}
	if _, ok := mp.FirstChildID("doc1", 99); ok {
		t.Fatal("expected no first child for unknown node")
	}
}
