// ABOUTME: XML structural navigation used by the fallback traversal path
// ABOUTME: A parent-walk helper in the spirit of a GetAncestorPath/GetChildren traversal

// Package gid provides the ancestor-walk helper the record store falls
// back to when the B+-tree has no entry for a key: an
// external collaborator that knows a document's XML structure well
// enough to name a node's parent, first child, and child count, without
// knowing anything about pages or addresses.
package gid

// StructureProvider exposes the XML structural queries the fallback
// lookup needs. A real engine backs this with the document's own index;
// pkg/domstore depends only on this interface.
type StructureProvider interface {
	// ParentID returns the parent gid of node, or ok=false at the root.
	ParentID(doc string, node int64) (parent int64, ok bool)
	// FirstChildID returns the first child gid of node, or ok=false if
	// node has no children.
	FirstChildID(doc string, node int64) (child int64, ok bool)
	// ChildCount returns the number of direct children of node.
	ChildCount(doc string, node int64) int
}

// AncestorPath walks from node up to the document root, returning gids
// ordered root-first (adapted from GetAncestorPath, which prepends each
// step so the result reads top-down).
func AncestorPath(sp StructureProvider, doc string, node int64) []int64 {
	var path []int64
	current := node
	for {
		path = append([]int64{current}, path...)
		parent, ok := sp.ParentID(doc, current)
		if !ok {
			break
		}
		current = parent
	}
	return path
}

// MemoryProvider is a simple in-memory StructureProvider, useful for
// tests and for small documents that keep their structure resident.
type MemoryProvider struct {
	parent map[key]int64
	child  map[key]int64 // first child
	count  map[key]int
}

type key struct {
	doc  string
	node int64
}

// NewMemoryProvider returns an empty MemoryProvider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		parent: make(map[key]int64),
		child:  make(map[key]int64),
		count:  make(map[key]int),
	}
}

// AddChild records that child's parent is parent within doc, appending
// child after any siblings already recorded (first-child tracking only
// keeps the earliest addition; ChildCount counts every AddChild call).
func (m *MemoryProvider) AddChild(doc string, parent, child int64) {
	pk := key{doc, parent}
	if _, exists := m.child[pk]; !exists {
		m.child[pk] = child
	}
	m.count[pk]++
	m.parent[key{doc, child}] = parent
}

func (m *MemoryProvider) ParentID(doc string, node int64) (int64, bool) {
	p, ok := m.parent[key{doc, node}]
	return p, ok
}

func (m *MemoryProvider) FirstChildID(doc string, node int64) (int64, bool) {
	c, ok := m.child[key{doc, node}]
	return c, ok
}

func (m *MemoryProvider) ChildCount(doc string, node int64) int {
	return m.count[key{doc, node}]
}
