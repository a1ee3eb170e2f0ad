// ABOUTME: Object Graph Table mapping canonical references to pass-local nodes
// ABOUTME: Built fresh for every collection pass and cleared when it ends

package graph

import "errors"

var (
	// ErrTableFull is returned when the table cannot hold another node
	ErrTableFull = errors.New("object graph table is full")
)

// Table is the Object Graph Table for a single collection pass.
// It is owned by the collector and accessed from one goroutine only.
type Table struct {
	nodes    map[ObjRef]*Node
	order    []*Node
	maxNodes int
}

// NewTable creates an empty table. A maxNodes of zero means unbounded.
func NewTable(maxNodes int) *Table {
	return &Table{
		nodes:    make(map[ObjRef]*Node),
		maxNodes: maxNodes,
	}
}

// Lookup returns the node for ref, or nil if it has not been added
func (t *Table) Lookup(ref ObjRef) *Node {
	return t.nodes[ref]
}

// Add returns the node for ref, creating a black node on first sight.
// The boolean reports whether the node was created by this call.
func (t *Table) Add(ref ObjRef) (*Node, bool, error) {
	if n, ok := t.nodes[ref]; ok {
		return n, false, nil
	}
	if t.maxNodes > 0 && len(t.order) >= t.maxNodes {
		return nil, false, ErrTableFull
	}
	n := &Node{Ref: ref, Color: Black}
	t.nodes[ref] = n
	t.order = append(t.order, n)
	return n, true, nil
}

// NumNodes returns the number of nodes in the table
func (t *Table) NumNodes() int {
	return len(t.order)
}

// ForEachNode iterates over nodes in insertion order
func (t *Table) ForEachNode(fn func(*Node)) {
	for _, n := range t.order {
		fn(n)
	}
}

// CountColor returns how many nodes currently have color c
func (t *Table) CountColor(c Color) int {
	count := 0
	for _, n := range t.order {
		if n.Color == c {
			count++
		}
	}
	return count
}

// Clear drops every node so the table can back the next pass
func (t *Table) Clear() {
	for _, n := range t.order {
		n.Edges = nil
	}
	clear(t.nodes)
	t.order = t.order[:0]
}
