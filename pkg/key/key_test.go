package key

import (
	"bytes"
	"testing"
)

func TestEncodeNodeRoundTrip(t *testing.T) {
	cases := []struct {
		doc string
		gid int64
	}{
		{"doc-1", 1},
		{"doc-1", 42},
		{"doc-2", 0},
		{"doc-with-\x00-null", 7},
		{"doc-with-\xff-ff", -5},
	}
	for _, c := range cases {
		k := EncodeNode(c.doc, c.gid)
		doc, gid, err := DecodeNode(k)
		if err != nil {
			t.Fatalf("DecodeNode(%q, %d): %v", c.doc, c.gid, err)
		}
		if doc != c.doc || gid != c.gid {
			t.Errorf("round trip: want (%q, %d), got (%q, %d)", c.doc, c.gid, doc, gid)
		}
	}
}

func TestKeyOrderingMatchesGidOrdering(t *testing.T) {
	low := EncodeNode("doc-1", 1)
	high := EncodeNode("doc-1", 2)
	if bytes.Compare(low, high) >= 0 {
		t.Errorf("expected gid=1 key < gid=2 key lexicographically")
	}

	neg := EncodeNode("doc-1", -10)
	pos := EncodeNode("doc-1", 10)
	if bytes.Compare(neg, pos) >= 0 {
		t.Errorf("expected negative gid key < positive gid key lexicographically")
	}
}

func TestDifferentDocumentsOrderByDocumentFirst(t *testing.T) {
	a := EncodeNode("doc-a", 1000)
	b := EncodeNode("doc-b", 0)
	if bytes.Compare(a, b) >= 0 {
		t.Errorf("expected doc-a key < doc-b key regardless of gid")
	}
}
