// ABOUTME: Dumps a pass snapshot as a JSON object graph
// ABOUTME: Uses the heap-graph layout of objects with ptrs plus externally held roots

package diag

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/prateek/cyclecollector/graph"
)

// PackedID folds a reference into one integer: the runtime tag in the top
// byte and the object identity in the rest
func PackedID(ref graph.ObjRef) uint64 {
	return uint64(ref.Tag)<<56 | uint64(ref.ID)&(1<<56-1)
}

// jsonDump represents the JSON dump format
type jsonDump struct {
	Pass    uint64       `json:"pass"`
	Error   string       `json:"error,omitempty"`
	Objects []jsonObject `json:"objects"`
	Roots   []uint64     `json:"roots"`
}

// jsonObject represents an object in the JSON format
type jsonObject struct {
	ID       uint64   `json:"id"`
	Type     string   `json:"type"`
	Size     uint64   `json:"size"`
	Ptrs     []uint64 `json:"ptrs"`
	Runtime  uint8    `json:"runtime"`
	Color    string   `json:"color"`
	RefCount uint32   `json:"refcount"`
	Internal uint32   `json:"internal"`
	Edges    []string `json:"edges,omitempty"`
}

// WriteJSON writes the snapshot. Each object has size 1 so that heap graph
// tools report retained sizes as object counts; roots are the anchors.
func (s *Snapshot) WriteJSON(w io.Writer) error {
	dump := jsonDump{
		Pass:    s.Pass,
		Objects: make([]jsonObject, 0, len(s.Order)),
		Roots:   []uint64{},
	}
	if s.Err != nil {
		dump.Error = s.Err.Error()
	}

	for _, ref := range s.Order {
		n := s.Nodes[ref]
		obj := jsonObject{
			ID:       PackedID(ref),
			Type:     n.Name,
			Size:     1,
			Ptrs:     []uint64{},
			Runtime:  uint8(ref.Tag),
			Color:    n.Color.String(),
			RefCount: n.RefCount,
			Internal: n.InternalRefs,
			Edges:    n.EdgeNames,
		}
		for _, e := range n.Edges {
			obj.Ptrs = append(obj.Ptrs, PackedID(e))
		}
		dump.Objects = append(dump.Objects, obj)
	}
	for _, ref := range s.Anchors() {
		dump.Roots = append(dump.Roots, PackedID(ref))
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(dump); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}
