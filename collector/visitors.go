// ABOUTME: Mark, scan and scan-black visitors plus the runtime-backed expander
// ABOUTME: Implements trial deletion on top of the shared graph walker

package collector

import (
	"errors"

	"github.com/prateek/cyclecollector/graph"
	"github.com/prateek/cyclecollector/participant"
)

// markGreyVisitor greys every node reachable from a root and counts the
// references each node receives from inside the graph
type markGreyVisitor struct{}

func (markGreyVisitor) ShouldVisit(n *graph.Node) bool {
	return n.Color != graph.Grey
}

func (markGreyVisitor) Visit(n *graph.Node) (bool, error) {
	n.Color = graph.Grey
	return true, nil
}

func (markGreyVisitor) NoteChild(child *graph.Node) {
	child.AddInternalRef()
}

// scanVisitor resolves grey nodes. A node whose references all come from
// inside the graph turns white; any other node is rescued, together with
// everything it reaches, by a scan-black walk.
type scanVisitor struct {
	black *graph.Walker
}

func (s *scanVisitor) ShouldVisit(n *graph.Node) bool {
	return n.Color == graph.Grey
}

func (s *scanVisitor) Visit(n *graph.Node) (bool, error) {
	if n.Color != graph.Grey {
		return false, newFault(FaultScanNotGrey, n, "color is %s", n.Color)
	}
	switch {
	case n.InternalRefs > n.RefCount:
		return false, newFault(FaultInternalExceedsRefCount, n,
			"internal refs %d exceed refcount %d", n.InternalRefs, n.RefCount)
	case n.InternalRefs == n.RefCount:
		n.Color = graph.White
		return true, nil
	}
	_, err := s.black.Walk(n, scanBlackVisitor{})
	return false, err
}

func (s *scanVisitor) NoteChild(*graph.Node) {}

// scanBlackVisitor paints everything it reaches black
type scanBlackVisitor struct{}

func (scanBlackVisitor) ShouldVisit(n *graph.Node) bool {
	return n.Color != graph.Black
}

func (scanBlackVisitor) Visit(n *graph.Node) (bool, error) {
	n.Color = graph.Black
	return true, nil
}

func (scanBlackVisitor) NoteChild(*graph.Node) {}

// traversal collects one runtime's description of a node
type traversal struct {
	c         *Collector
	node      *graph.Node
	described bool
	err       error
}

func (t *traversal) DescribeNode(refCount uint32, name string) {
	if t.described {
		return
	}
	t.described = true
	t.node.RefCount = refCount
	t.node.Name = name
}

func (t *traversal) NoteChild(child graph.ObjRef, edge string) {
	if t.err != nil {
		return
	}
	ref, ok := t.c.canonical(child)
	if !ok {
		// Objects owned by unregistered runtimes are outside the graph.
		// Their references into it still show up as external refcount.
		return
	}
	cn, _, err := t.c.table.Add(ref)
	if err != nil {
		t.err = err
		return
	}
	t.node.Edges = append(t.node.Edges, cn)
	if t.c.listener != nil {
		t.c.listener.NoteEdge(t.node, cn, edge)
	}
}

// expandThroughRuntime asks the owning runtime to describe n the first
// time it is reached during marking
func (c *Collector) expandThroughRuntime(n *graph.Node) ([]*graph.Node, error) {
	if n.Traversed {
		return n.Edges, nil
	}

	rt, ok := c.active[n.Ref.Tag]
	if !ok {
		return nil, newFault(FaultUnknownRuntime, n, "no runtime registered for tag %d", n.Ref.Tag)
	}

	t := &traversal{c: c, node: n}
	if err := rt.Traverse(n.Ref.ID, t); err != nil {
		f := newFault(FaultTraverse, n, "runtime traverse failed")
		f.Err = err
		return nil, f
	}
	if t.err != nil {
		return nil, t.err
	}
	if !t.described {
		return nil, newFault(FaultTraverse, n, "runtime did not describe the object")
	}
	if n.RefCount == 0 {
		return nil, newFault(FaultZeroRefCount, n, "live object reported refcount 0")
	}

	n.Traversed = true
	if c.listener != nil {
		c.listener.NoteNode(n)
	}
	return n.Edges, nil
}

// canonical resolves ref through its runtime. It reports false when no
// runtime owns ref.
func (c *Collector) canonical(ref graph.ObjRef) (graph.ObjRef, bool) {
	rt, ok := c.active[ref.Tag]
	if !ok {
		return ref, false
	}
	return graph.ObjRef{Tag: ref.Tag, ID: rt.Canonical(ref.ID)}, true
}

// batchFailures logs every object that failed in an adapter batch call and
// returns the failed identities. A batch that failed as a whole reports
// every identity.
func (c *Collector) batchFailures(op participant.Op, tag graph.RuntimeTag, ids []graph.ObjID, err error) map[graph.ObjID]bool {
	if err == nil {
		return nil
	}

	failed := make(map[graph.ObjID]bool)
	log := c.log.WithField("runtime", tag).WithField("op", string(op))

	bad, whole := participant.FailedIDs(err)
	if whole {
		log.WithError(err).Warnf("%s failed for the whole batch of %d objects", op, len(ids))
		for _, id := range ids {
			failed[id] = true
		}
		return failed
	}

	var merr interface{ WrappedErrors() []error }
	if errors.As(err, &merr) {
		for _, e := range merr.WrappedErrors() {
			log.WithError(e).Warn("object failed in batch")
		}
	} else {
		log.WithError(err).Warn("object failed in batch")
	}
	for _, id := range bad {
		failed[id] = true
	}
	return failed
}
