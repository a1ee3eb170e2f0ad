// ABOUTME: In-memory reference-counted heap that takes part in cycle collection
// ABOUTME: Implements the runtime adapter contract and notifies the collector on refcount drops

// Package refheap is a small reference-counted object heap. Objects hold
// references to each other, possibly across heaps, and report suspicious
// refcount drops to a collector. It is the reference implementation of the
// participant.Runtime contract.
package refheap

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/prateek/cyclecollector/graph"
	"github.com/prateek/cyclecollector/participant"
)

// ErrNoObject is reported for identities the heap does not hold
var ErrNoObject = errors.New("no such object")

// Suspector is the part of the collector the heap reports to
type Suspector interface {
	Suspect(ref graph.ObjRef)
	Forget(ref graph.ObjRef)
}

type edge struct {
	to   *Object
	name string
}

// Object is a reference-counted heap object
type Object struct {
	heap  *Heap
	id    graph.ObjID
	name  string
	rc    uint32
	edges []edge
	dead  bool
}

// ID returns the object's canonical identity
func (o *Object) ID() graph.ObjID { return o.id }

// Name returns the object's name
func (o *Object) Name() string { return o.name }

// RefCount returns the current refcount
func (o *Object) RefCount() uint32 { return o.rc }

// Dead reports whether the object has been destroyed
func (o *Object) Dead() bool { return o.dead }

// Ref returns the collector reference for the object
func (o *Object) Ref() graph.ObjRef {
	return graph.ObjRef{Tag: o.heap.tag, ID: o.id}
}

// Children returns the objects o references, in link order
func (o *Object) Children() []*Object {
	out := make([]*Object, 0, len(o.edges))
	for _, e := range o.edges {
		out = append(out, e.to)
	}
	return out
}

// AddRef takes a reference. A rising refcount withdraws any suspicion.
func (o *Object) AddRef() {
	o.rc++
	o.heap.forget(o)
}

// Release drops a reference, destroying the object when none remain.
// A drop that leaves references behind makes the object a cycle suspect.
func (o *Object) Release() {
	if o.dead || o.rc == 0 {
		o.heap.log.WithField("object", o.Ref()).Warn("release of a dead object")
		return
	}
	o.rc--
	if o.rc == 0 {
		o.heap.destroy(o)
		return
	}
	if o.heap.cc != nil {
		o.heap.cc.Suspect(o.Ref())
	}
}

// Link makes o reference to, taking a reference on it
func (o *Object) Link(to *Object, name string) {
	to.AddRef()
	o.edges = append(o.edges, edge{to: to, name: name})
}

// Unlink drops the first reference from o to to
func (o *Object) Unlink(to *Object) bool {
	for i, e := range o.edges {
		if e.to == to {
			o.edges = append(o.edges[:i], o.edges[i+1:]...)
			to.Release()
			return true
		}
	}
	return false
}

// clearEdges releases every outgoing reference
func (o *Object) clearEdges() {
	edges := o.edges
	o.edges = nil
	for _, e := range edges {
		e.to.Release()
	}
}

// Heap is a reference-counted heap owned by one runtime tag
type Heap struct {
	tag      graph.RuntimeTag
	cc       Suspector
	log      logrus.FieldLogger
	objects  map[graph.ObjID]*Object
	aliases  map[graph.ObjID]graph.ObjID
	nextID   graph.ObjID
	failures map[participant.Op]map[graph.ObjID]error

	destroyed []graph.ObjID
	begins    int
	ends      int

	// OnTraverse, when set, runs at the start of every Traverse call
	OnTraverse func(id graph.ObjID)
}

var _ participant.Runtime = (*Heap)(nil)

// New creates an empty heap for tag that reports to cc. cc may be nil.
func New(tag graph.RuntimeTag, cc Suspector) *Heap {
	return &Heap{
		tag:      tag,
		cc:       cc,
		log:      logrus.WithField("runtime", tag),
		objects:  make(map[graph.ObjID]*Object),
		aliases:  make(map[graph.ObjID]graph.ObjID),
		nextID:   1,
		failures: make(map[participant.Op]map[graph.ObjID]error),
	}
}

// SetLogger replaces the heap's logger
func (h *Heap) SetLogger(l logrus.FieldLogger) {
	h.log = l.WithField("runtime", h.tag)
}

// SetSuspector replaces the collector notified by the heap
func (h *Heap) SetSuspector(cc Suspector) {
	h.cc = cc
}

// Tag returns the heap's runtime tag
func (h *Heap) Tag() graph.RuntimeTag { return h.tag }

// NewObject allocates an object whose single reference belongs to the caller
func (h *Heap) NewObject(name string) *Object {
	o, _ := h.newObjectWithID(h.nextID, name)
	o.rc = 1
	return o
}

func (h *Heap) newObjectWithID(id graph.ObjID, name string) (*Object, error) {
	if id == 0 {
		return nil, fmt.Errorf("object %q: id 0 is reserved", name)
	}
	if err := h.checkID(id); err != nil {
		return nil, err
	}
	o := &Object{heap: h, id: id, name: name}
	h.objects[id] = o
	if id >= h.nextID {
		h.nextID = id + 1
	}
	return o, nil
}

// checkID reports whether id is already taken by an object or an alias
func (h *Heap) checkID(id graph.ObjID) error {
	if _, ok := h.objects[id]; ok {
		return fmt.Errorf("object %d: duplicate id", id)
	}
	if _, ok := h.aliases[id]; ok {
		return fmt.Errorf("object %d: id is an alias", id)
	}
	return nil
}

// Alias returns a second identity for o, as if the object exposed
// another interface
func (h *Heap) Alias(o *Object) graph.ObjID {
	id := h.nextID
	h.nextID++
	h.aliases[id] = o.id
	return id
}

// Lookup finds an object by any of its identities
func (h *Heap) Lookup(id graph.ObjID) (*Object, bool) {
	o, ok := h.objects[h.Canonical(id)]
	return o, ok
}

// Len returns the number of live objects
func (h *Heap) Len() int {
	return len(h.objects)
}

// Destroyed returns the identities destroyed so far, in order
func (h *Heap) Destroyed() []graph.ObjID {
	return append([]graph.ObjID(nil), h.destroyed...)
}

// Collections returns how many BeginCollection and EndCollection calls
// the heap has seen
func (h *Heap) Collections() (begins, ends int) {
	return h.begins, h.ends
}

// FailOn makes op fail for id with err until ClearFailures is called
func (h *Heap) FailOn(op participant.Op, id graph.ObjID, err error) {
	if h.failures[op] == nil {
		h.failures[op] = make(map[graph.ObjID]error)
	}
	h.failures[op][id] = err
}

// ClearFailures removes every injected failure
func (h *Heap) ClearFailures() {
	clear(h.failures)
}

func (h *Heap) injected(op participant.Op, id graph.ObjID) error {
	return h.failures[op][id]
}

func (h *Heap) forget(o *Object) {
	if h.cc != nil {
		h.cc.Forget(o.Ref())
	}
}

func (h *Heap) destroy(o *Object) {
	o.dead = true
	delete(h.objects, o.id)
	for alias, id := range h.aliases {
		if id == o.id {
			delete(h.aliases, alias)
		}
	}
	h.destroyed = append(h.destroyed, o.id)
	h.forget(o)
	h.log.WithField("object", o.Ref()).Debug("object destroyed")
	o.clearEdges()
}

// Canonical resolves aliases to the object's primary identity
func (h *Heap) Canonical(id graph.ObjID) graph.ObjID {
	if primary, ok := h.aliases[id]; ok {
		return primary
	}
	return id
}

// Traverse describes an object and its outgoing references
func (h *Heap) Traverse(id graph.ObjID, cb participant.TraversalCallback) error {
	if h.OnTraverse != nil {
		h.OnTraverse(id)
	}
	if err := h.injected(participant.OpTraverse, id); err != nil {
		return &participant.ObjectError{Op: participant.OpTraverse, ID: id, Err: err}
	}
	o, ok := h.Lookup(id)
	if !ok {
		return &participant.ObjectError{Op: participant.OpTraverse, ID: id, Err: ErrNoObject}
	}

	cb.DescribeNode(o.rc, o.name)
	for _, e := range o.edges {
		cb.NoteChild(e.to.Ref(), e.name)
	}
	return nil
}

// Root pins every object in the batch
func (h *Heap) Root(ids []graph.ObjID) error {
	errs := participant.NewBatchErrors(participant.OpRoot)
	for _, id := range ids {
		if err := h.injected(participant.OpRoot, id); err != nil {
			errs.Fail(id, err)
			continue
		}
		o, ok := h.Lookup(id)
		if !ok {
			errs.Fail(id, ErrNoObject)
			continue
		}
		o.rc++
	}
	return errs.ErrorOrNil()
}

// Unlink severs every outgoing reference of each object in the batch
func (h *Heap) Unlink(ids []graph.ObjID) error {
	errs := participant.NewBatchErrors(participant.OpUnlink)
	for _, id := range ids {
		if err := h.injected(participant.OpUnlink, id); err != nil {
			errs.Fail(id, err)
			continue
		}
		o, ok := h.Lookup(id)
		if !ok {
			errs.Fail(id, ErrNoObject)
			continue
		}
		o.clearEdges()
	}
	return errs.ErrorOrNil()
}

// Unroot drops the pins taken by Root. Objects left without references
// are destroyed.
func (h *Heap) Unroot(ids []graph.ObjID) error {
	errs := participant.NewBatchErrors(participant.OpUnroot)
	for _, id := range ids {
		if err := h.injected(participant.OpUnroot, id); err != nil {
			errs.Fail(id, err)
			continue
		}
		o, ok := h.Lookup(id)
		if !ok {
			errs.Fail(id, ErrNoObject)
			continue
		}
		o.Release()
	}
	return errs.ErrorOrNil()
}

// BeginCollection records the start of a collection
func (h *Heap) BeginCollection() {
	h.begins++
}

// EndCollection records the end of a collection
func (h *Heap) EndCollection() {
	h.ends++
}
