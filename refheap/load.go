// ABOUTME: Builds a heap from a JSON object graph description
// ABOUTME: Objects list their outgoing pointers; roots are held by the caller

package refheap

import (
	"bytes"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/prateek/cyclecollector/graph"
)

// objectSpec is one entry of the objects array
type objectSpec struct {
	id   graph.ObjID
	name string
	ptrs []graph.ObjID
}

// Load populates h from a JSON graph description:
//
//	{"objects": [{"id": 1, "name": "A", "ptrs": [2]}, ...], "roots": [1]}
//
// Every pointer takes a reference on its target and every root entry takes
// one reference held by the caller, released with Object.Release. Objects
// that end up with no reference at all are rejected. The whole document is
// checked before anything is created, so a failed Load leaves h untouched.
// The returned map is keyed by object id.
func (h *Heap) Load(data []byte) (map[graph.ObjID]*Object, error) {
	data = bytes.TrimSpace(data)
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("invalid json: %q", data)
	}
	doc := gjson.ParseBytes(data)

	specs, roots, err := h.parseGraph(doc)
	if err != nil {
		return nil, err
	}

	created := make(map[graph.ObjID]*Object, len(specs))
	order := make([]*Object, 0, len(specs))
	for _, spec := range specs {
		o, err := h.newObjectWithID(spec.id, spec.name)
		if err != nil {
			return nil, err
		}
		created[spec.id] = o
		order = append(order, o)
	}
	for i, spec := range specs {
		for _, ptr := range spec.ptrs {
			target := created[ptr]
			order[i].Link(target, target.name)
		}
	}
	for _, id := range roots {
		created[id].rc++
	}
	return created, nil
}

// parseGraph reads and checks the document without touching h
func (h *Heap) parseGraph(doc gjson.Result) ([]objectSpec, []graph.ObjID, error) {
	objects := doc.Get("objects")
	if !objects.IsArray() {
		return nil, nil, fmt.Errorf("missing objects array")
	}

	var specs []objectSpec
	seen := make(map[graph.ObjID]bool)
	var parseErr error
	objects.ForEach(func(_, value gjson.Result) bool {
		id := graph.ObjID(value.Get("id").Uint())
		if id == 0 {
			parseErr = fmt.Errorf("object at index %d missing ID", len(specs))
			return false
		}
		if seen[id] {
			parseErr = fmt.Errorf("object %d: duplicate id", id)
			return false
		}
		if err := h.checkID(id); err != nil {
			parseErr = err
			return false
		}
		seen[id] = true
		spec := objectSpec{id: id, name: value.Get("name").String()}
		for _, ptr := range value.Get("ptrs").Array() {
			spec.ptrs = append(spec.ptrs, graph.ObjID(ptr.Uint()))
		}
		specs = append(specs, spec)
		return true
	})
	if parseErr != nil {
		return nil, nil, parseErr
	}

	incoming := make(map[graph.ObjID]int, len(specs))
	for _, spec := range specs {
		for _, ptr := range spec.ptrs {
			if !seen[ptr] {
				return nil, nil, fmt.Errorf("object %d points to unknown object %d", spec.id, ptr)
			}
			incoming[ptr]++
		}
	}

	var roots []graph.ObjID
	doc.Get("roots").ForEach(func(_, value gjson.Result) bool {
		id := graph.ObjID(value.Uint())
		if !seen[id] {
			parseErr = fmt.Errorf("root %s is not an object", value.Raw)
			return false
		}
		incoming[id]++
		roots = append(roots, id)
		return true
	})
	if parseErr != nil {
		return nil, nil, parseErr
	}

	for _, spec := range specs {
		if incoming[spec.id] == 0 {
			return nil, nil, fmt.Errorf("object %d is unreferenced", spec.id)
		}
	}
	return specs, roots, nil
}
