// ABOUTME: Core data types for the collector's per-pass object graph
// ABOUTME: Defines ObjID, ObjRef, RuntimeTag, Color and the Node record

package graph

import (
	"fmt"
	"math"
)

// ObjID is an identity assigned to an object by its owning runtime
type ObjID uint64

// RuntimeTag identifies the runtime adapter that owns an object
type RuntimeTag uint8

// ObjRef is the opaque handle the collector uses for an object
type ObjRef struct {
	Tag RuntimeTag // Owning runtime
	ID  ObjID      // Identity within that runtime
}

// String returns a compact "tag:id" form used in logs
func (r ObjRef) String() string {
	return fmt.Sprintf("%d:%#x", r.Tag, uint64(r.ID))
}

// Color is the trial-deletion state of a node
type Color uint8

const (
	// Black nodes are definitely live
	Black Color = iota
	// White nodes are members of a garbage cycle
	White
	// Grey nodes are being scanned
	Grey
)

func (c Color) String() string {
	switch c {
	case Black:
		return "black"
	case White:
		return "white"
	case Grey:
		return "grey"
	}
	return fmt.Sprintf("color(%d)", uint8(c))
}

// Node is the bookkeeping record for one object during a single pass.
// Nodes are owned by a Table and never outlive the pass that created them.
type Node struct {
	Ref          ObjRef  // Canonical reference
	Name         string  // Description reported by the runtime, if any
	Color        Color   // Trial-deletion color
	InternalRefs uint32  // References found from within the graph
	RefCount     uint32  // Refcount snapshot taken when the node was traversed
	Edges        []*Node // Outgoing references recorded during marking
	Traversed    bool    // Set once the owning runtime has described the node
}

// AddInternalRef increments the internal reference count, saturating at
// the maximum uint32 value
func (n *Node) AddInternalRef() {
	if n.InternalRefs != math.MaxUint32 {
		n.InternalRefs++
	}
}

// External reports the number of references held from outside the graph
func (n *Node) External() uint32 {
	if n.InternalRefs >= n.RefCount {
		return 0
	}
	return n.RefCount - n.InternalRefs
}
