// ABOUTME: Explains why an object survived by finding paths from externally held nodes
// ABOUTME: BFS over reverse edges of a pass snapshot, with per-path cycle avoidance

package diag

import "github.com/prateek/cyclecollector/graph"

// Path is a chain of references from an object back to an anchor, a node
// with references from outside the graph
type Path struct {
	Refs []graph.ObjRef // Sequence from target to anchor
}

// Anchor returns the last element of the path
func (p Path) Anchor() graph.ObjRef {
	return p.Refs[len(p.Refs)-1]
}

// ReverseEdges maps each node to the nodes that point to it
type ReverseEdges map[graph.ObjRef][]graph.ObjRef

// BuildReverseEdges creates the referrer map of a snapshot
func BuildReverseEdges(s *Snapshot) ReverseEdges {
	reverse := make(ReverseEdges)
	for _, ref := range s.Order {
		for _, target := range s.Nodes[ref].Edges {
			reverse[target] = append(reverse[target], ref)
		}
	}
	return reverse
}

// Explain finds up to maxPaths shortest paths showing what keeps ref alive.
// A white object has no such path.
func (s *Snapshot) Explain(ref graph.ObjRef, maxPaths int) []Path {
	if maxPaths <= 0 {
		return nil
	}
	start := s.Nodes[ref]
	if start == nil || start.Color == graph.White {
		return nil
	}
	if start.External() > 0 {
		return []Path{{Refs: []graph.ObjRef{ref}}}
	}

	reverse := BuildReverseEdges(s)

	type searchNode struct {
		ref  graph.ObjRef
		path []graph.ObjRef
	}

	var result []Path
	queue := []searchNode{{ref: ref, path: []graph.ObjRef{ref}}}

	for len(queue) > 0 && len(result) < maxPaths {
		cur := queue[0]
		queue = queue[1:]

		for _, referrer := range reverse[cur.ref] {
			if contains(cur.path, referrer) {
				continue
			}

			next := make([]graph.ObjRef, len(cur.path)+1)
			copy(next, cur.path)
			next[len(cur.path)] = referrer

			if s.Nodes[referrer].External() > 0 {
				result = append(result, Path{Refs: next})
				if len(result) >= maxPaths {
					break
				}
				continue
			}
			queue = append(queue, searchNode{ref: referrer, path: next})
		}
	}
	return result
}

func contains(path []graph.ObjRef, ref graph.ObjRef) bool {
	for _, r := range path {
		if r == ref {
			return true
		}
	}
	return false
}
