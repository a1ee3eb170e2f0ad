// ABOUTME: Runtime adapter contract implemented by each participating runtime
// ABOUTME: Defines traversal, pinning, link severing and collection hooks

// Package participant defines how language runtimes take part in cycle
// collection. The collector never inspects objects itself; it asks the
// owning runtime to describe them, pin them, and sever their links.
package participant

import "github.com/prateek/cyclecollector/graph"

// TraversalCallback receives the description of one object
type TraversalCallback interface {
	// DescribeNode reports the object's current refcount and an optional
	// human-readable name. It must be called once, before any NoteChild.
	DescribeNode(refCount uint32, name string)

	// NoteChild reports one outgoing reference. The child may belong to a
	// different runtime.
	NoteChild(child graph.ObjRef, edge string)
}

// Runtime is the adapter one language runtime registers with the collector
type Runtime interface {
	// Canonical maps any identity of an object to its single canonical
	// identity, collapsing multiple handles on one underlying object.
	Canonical(id graph.ObjID) graph.ObjID

	// Traverse describes id and every outgoing reference it holds.
	// It must not change any refcount.
	Traverse(id graph.ObjID, cb TraversalCallback) error

	// Root pins a batch so the objects survive until Unroot
	Root(ids []graph.ObjID) error

	// Unlink severs every outgoing reference of each object in the batch.
	// It must be idempotent and must not free children itself.
	Unlink(ids []graph.ObjID) error

	// Unroot releases the pins taken by Root
	Unroot(ids []graph.ObjID) error

	// BeginCollection is called before a collection touches this runtime
	BeginCollection()

	// EndCollection is called once the collection is finished
	EndCollection()
}
