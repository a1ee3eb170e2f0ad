// ABOUTME: Shared fixtures for collector tests
// ABOUTME: Provides a quiet collector constructor and a scripted runtime adapter

package collector

import (
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/prateek/cyclecollector/config"
	"github.com/prateek/cyclecollector/graph"
	"github.com/prateek/cyclecollector/participant"
	"github.com/prateek/cyclecollector/refheap"
)

// newTestCollector builds a collector whose log output is captured
func newTestCollector(t *testing.T, opts ...Option) (*Collector, *logtest.Hook) {
	t.Helper()
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	opts = append([]Option{WithLogger(logger)}, opts...)
	c, err := New(opts...)
	require.NoError(t, err)
	return c, hook
}

// newHeap registers a reference-counted heap under tag
func newHeap(t *testing.T, c *Collector, tag graph.RuntimeTag) *refheap.Heap {
	t.Helper()
	h := refheap.New(tag, c)
	logger, _ := logtest.NewNullLogger()
	h.SetLogger(logger)
	require.NoError(t, c.RegisterRuntime(tag, h))
	return h
}

// makeCycle builds a <-> b and drops the creator's references, leaving an
// isolated garbage cycle
func makeCycle(h *refheap.Heap) (*refheap.Object, *refheap.Object) {
	a := h.NewObject("a")
	b := h.NewObject("b")
	a.Link(b, "next")
	b.Link(a, "next")
	a.Release()
	b.Release()
	return a, b
}

func withConfig(mutate func(*config.Config)) Option {
	cfg := config.Default()
	mutate(&cfg)
	return WithConfig(cfg)
}

// scriptedObject is the description a scriptedRuntime reports for one id
type scriptedObject struct {
	rc       uint32
	children []graph.ObjRef
	silent   bool
}

// scriptedRuntime reports a fixed object graph and records every call
type scriptedRuntime struct {
	objects     map[graph.ObjID]scriptedObject
	traverseErr error
	rootErr     error

	traversed []graph.ObjID
	rooted    []graph.ObjID
	unlinked  []graph.ObjID
	unrooted  []graph.ObjID
	begins    int
	ends      int
}

var _ participant.Runtime = (*scriptedRuntime)(nil)

func newScripted() *scriptedRuntime {
	return &scriptedRuntime{objects: make(map[graph.ObjID]scriptedObject)}
}

func (s *scriptedRuntime) Canonical(id graph.ObjID) graph.ObjID { return id }

func (s *scriptedRuntime) Traverse(id graph.ObjID, cb participant.TraversalCallback) error {
	s.traversed = append(s.traversed, id)
	if s.traverseErr != nil {
		return s.traverseErr
	}
	o := s.objects[id]
	if !o.silent {
		cb.DescribeNode(o.rc, "scripted")
	}
	for _, child := range o.children {
		cb.NoteChild(child, "")
	}
	return nil
}

func (s *scriptedRuntime) Root(ids []graph.ObjID) error {
	if s.rootErr != nil {
		return s.rootErr
	}
	s.rooted = append(s.rooted, ids...)
	return nil
}

func (s *scriptedRuntime) Unlink(ids []graph.ObjID) error {
	s.unlinked = append(s.unlinked, ids...)
	return nil
}

func (s *scriptedRuntime) Unroot(ids []graph.ObjID) error {
	s.unrooted = append(s.unrooted, ids...)
	return nil
}

func (s *scriptedRuntime) BeginCollection() { s.begins++ }
func (s *scriptedRuntime) EndCollection()   { s.ends++ }
