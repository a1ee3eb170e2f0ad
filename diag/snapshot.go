// ABOUTME: Recorder listener that snapshots the graph built by each collection pass
// ABOUTME: Also tracks objects the caller expects to be collected

// Package diag holds optional collector instrumentation: snapshots of the
// per-pass graph, explanations of why an object survived, retention
// analysis and graph dumps. None of it is needed for collection itself.
package diag

import (
	"sort"

	"github.com/prateek/cyclecollector/collector"
	"github.com/prateek/cyclecollector/graph"
)

// NodeInfo is the recorded state of one node at the end of a pass
type NodeInfo struct {
	Ref          graph.ObjRef
	Name         string
	Color        graph.Color
	RefCount     uint32
	InternalRefs uint32
	Traversed    bool
	Edges        []graph.ObjRef
	EdgeNames    []string
}

// External returns the number of references held from outside the graph
func (n *NodeInfo) External() uint32 {
	if n.InternalRefs >= n.RefCount {
		return 0
	}
	return n.RefCount - n.InternalRefs
}

// Snapshot is a copy of the graph of one pass, colors included
type Snapshot struct {
	Pass  uint64
	Err   error
	Nodes map[graph.ObjRef]*NodeInfo
	Order []graph.ObjRef
}

// Node returns the recorded node for ref
func (s *Snapshot) Node(ref graph.ObjRef) *NodeInfo {
	return s.Nodes[ref]
}

// Anchors returns the nodes with references from outside the graph, in
// recording order
func (s *Snapshot) Anchors() []graph.ObjRef {
	var out []graph.ObjRef
	for _, ref := range s.Order {
		if s.Nodes[ref].External() > 0 {
			out = append(out, ref)
		}
	}
	return out
}

// WithColor returns the refs of every node colored c, sorted
func (s *Snapshot) WithColor(c graph.Color) []graph.ObjRef {
	var out []graph.ObjRef
	for _, ref := range s.Order {
		if s.Nodes[ref].Color == c {
			out = append(out, ref)
		}
	}
	sortRefs(out)
	return out
}

// Recorder is a collector.Listener keeping the snapshot of the last pass
// that built a graph
type Recorder struct {
	names     map[graph.ObjRef][]string
	traversed map[graph.ObjRef]bool
	last      *Snapshot
	passes    int
	expected  map[graph.ObjRef]bool
}

var _ collector.Listener = (*Recorder)(nil)

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{
		expected: make(map[graph.ObjRef]bool),
	}
}

// BeginPass resets the per-pass state
func (r *Recorder) BeginPass(pass uint64) {
	r.names = make(map[graph.ObjRef][]string)
	r.traversed = make(map[graph.ObjRef]bool)
}

// NoteNode records that the owning runtime described n
func (r *Recorder) NoteNode(n *graph.Node) {
	r.traversed[n.Ref] = true
}

// NoteEdge records the name of an edge, in the order edges are added
func (r *Recorder) NoteEdge(from, to *graph.Node, edge string) {
	r.names[from.Ref] = append(r.names[from.Ref], edge)
}

// EndPass copies the final graph. Passes that built no graph keep the
// previous snapshot.
func (r *Recorder) EndPass(pass uint64, t *graph.Table, err error) {
	if t.NumNodes() == 0 {
		return
	}

	s := &Snapshot{
		Pass:  pass,
		Err:   err,
		Nodes: make(map[graph.ObjRef]*NodeInfo, t.NumNodes()),
	}
	t.ForEachNode(func(n *graph.Node) {
		info := &NodeInfo{
			Ref:          n.Ref,
			Name:         n.Name,
			Color:        n.Color,
			RefCount:     n.RefCount,
			InternalRefs: n.InternalRefs,
			Traversed:    r.traversed[n.Ref],
			EdgeNames:    r.names[n.Ref],
		}
		for _, e := range n.Edges {
			info.Edges = append(info.Edges, e.Ref)
		}
		s.Nodes[n.Ref] = info
		s.Order = append(s.Order, n.Ref)
	})

	r.last = s
	r.passes++
	for ref := range r.expected {
		if n := s.Nodes[ref]; n != nil && n.Color == graph.White && err == nil {
			delete(r.expected, ref)
		}
	}
}

// Last returns the most recent snapshot, or nil
func (r *Recorder) Last() *Snapshot {
	return r.last
}

// Passes returns the number of snapshots taken
func (r *Recorder) Passes() int {
	return r.passes
}

// ExpectGarbage records that ref should be collected by a coming pass
func (r *Recorder) ExpectGarbage(ref graph.ObjRef) {
	r.expected[ref] = true
}

// Unexpected returns the expected-garbage objects that the last pass saw
// and kept alive
func (r *Recorder) Unexpected() []graph.ObjRef {
	if r.last == nil {
		return nil
	}
	var out []graph.ObjRef
	for ref := range r.expected {
		if n := r.last.Nodes[ref]; n != nil && n.Color != graph.White {
			out = append(out, ref)
		}
	}
	sortRefs(out)
	return out
}

// Pending returns every expected-garbage object not yet collected
func (r *Recorder) Pending() []graph.ObjRef {
	out := make([]graph.ObjRef, 0, len(r.expected))
	for ref := range r.expected {
		out = append(out, ref)
	}
	sortRefs(out)
	return out
}

func sortRefs(refs []graph.ObjRef) {
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Tag != refs[j].Tag {
			return refs[i].Tag < refs[j].Tag
		}
		return refs[i].ID < refs[j].ID
	})
}
