// ABOUTME: Integration tests for the complete cycle collector
// ABOUTME: Loads heap scenarios from testdata, drops references and checks what gets reclaimed

package cyclecollector_test

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"testing"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/tidwall/gjson"

	"github.com/prateek/cyclecollector/collector"
	"github.com/prateek/cyclecollector/diag"
	"github.com/prateek/cyclecollector/graph"
	"github.com/prateek/cyclecollector/refheap"
)

// scenario wires a collector, a recorder and one heap loaded from a file
type scenario struct {
	c       *collector.Collector
	rec     *diag.Recorder
	heap    *refheap.Heap
	objects map[graph.ObjID]*refheap.Object
	doc     gjson.Result
}

func loadScenario(t *testing.T, path string) *scenario {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to open test file: %v", err)
	}

	logger, _ := logtest.NewNullLogger()
	rec := diag.NewRecorder()
	c, err := collector.New(collector.WithLogger(logger), collector.WithListener(rec))
	if err != nil {
		t.Fatalf("Failed to create collector: %v", err)
	}
	h := refheap.New(1, c)
	h.SetLogger(logger)
	if err := c.RegisterRuntime(1, h); err != nil {
		t.Fatalf("Failed to register heap: %v", err)
	}

	objs, err := h.Load(data)
	if err != nil {
		t.Fatalf("Failed to load %s: %v", path, err)
	}
	return &scenario{c: c, rec: rec, heap: h, objects: objs, doc: gjson.ParseBytes(data)}
}

func (s *scenario) ids(key string) []graph.ObjID {
	var out []graph.ObjID
	for _, v := range s.doc.Get(key).Array() {
		out = append(out, graph.ObjID(v.Uint()))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func TestScenarios(t *testing.T) {
	files, err := filepath.Glob("testdata/*.json")
	if err != nil {
		t.Fatalf("Failed to list test data: %v", err)
	}
	if len(files) == 0 {
		t.Fatal("No scenarios found")
	}

	for _, file := range files {
		t.Run(filepath.Base(file), func(t *testing.T) {
			s := loadScenario(t, file)

			for _, id := range s.ids("release") {
				s.objects[id].Release()
			}
			if err := s.c.BumpGeneration(); err != nil {
				t.Fatalf("BumpGeneration failed: %v", err)
			}
			if _, err := s.c.Collect(3); err != nil {
				t.Fatalf("Collect failed: %v", err)
			}

			destroyed := s.heap.Destroyed()
			sort.Slice(destroyed, func(i, j int) bool { return destroyed[i] < destroyed[j] })
			want := s.ids("garbage")
			if len(destroyed) != len(want) {
				t.Fatalf("Expected garbage %v, got %v", want, destroyed)
			}
			for i := range want {
				if destroyed[i] != want[i] {
					t.Fatalf("Expected garbage %v, got %v", want, destroyed)
				}
			}

			if got := s.heap.Len(); got != len(s.objects)-len(want) {
				t.Errorf("Expected %d live objects, got %d", len(s.objects)-len(want), got)
			}
			if cands := s.c.Candidates(); len(cands) != 0 {
				t.Errorf("Expected every candidate to be resolved, got %v", cands)
			}
			if s.c.Disabled() {
				t.Errorf("Collector disabled: %v", s.c.Fault())
			}
		})
	}
}

func TestSurvivorExplanationAndDump(t *testing.T) {
	s := loadScenario(t, "testdata/anchored.json")
	s.objects[1].Release()
	s.c.BumpGeneration()
	if _, err := s.c.Collect(1); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}

	snap := s.rec.Last()
	if snap == nil {
		t.Fatal("Expected a snapshot of the pass")
	}

	// C survives because B points at it and A is held from outside
	target := graph.ObjRef{Tag: 1, ID: 3}
	paths := snap.Explain(target, 5)
	if len(paths) != 1 {
		t.Fatalf("Expected 1 path, got %d", len(paths))
	}
	want := []graph.ObjID{3, 2, 1}
	for i, r := range paths[0].Refs {
		if r.ID != want[i] {
			t.Errorf("Expected path %v, got %v", want, paths[0].Refs)
			break
		}
	}

	retained := snap.RetainedBy()
	if retained[graph.ObjRef{Tag: 1, ID: 1}] != 3 {
		t.Errorf("Expected A to retain the whole cycle, got %d", retained[graph.ObjRef{Tag: 1, ID: 1}])
	}

	var buf bytes.Buffer
	if err := snap.WriteJSON(&buf); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
	if n := gjson.GetBytes(buf.Bytes(), "objects.#").Int(); n != 3 {
		t.Errorf("Expected 3 objects in the dump, got %d", n)
	}
	if n := gjson.GetBytes(buf.Bytes(), "roots.#").Int(); n != 1 {
		t.Errorf("Expected 1 root in the dump, got %d", n)
	}
}

func TestShutdownReclaimsUnagedCycles(t *testing.T) {
	s := loadScenario(t, "testdata/pure_cycle.json")
	s.objects[1].Release()

	res, err := s.c.Shutdown()
	if err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if res.Collected != 2 {
		t.Errorf("Expected 2 objects collected, got %d", res.Collected)
	}
	if s.heap.Len() != 0 {
		t.Errorf("Expected empty heap, got %d objects", s.heap.Len())
	}
	if !s.c.Disabled() {
		t.Error("Expected collector to be disabled after shutdown")
	}
}
