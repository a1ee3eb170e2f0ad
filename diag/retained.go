// ABOUTME: Retention analysis over a pass snapshot using a dominator tree
// ABOUTME: Counts how many graph nodes each surviving node keeps alive

package diag

import "github.com/prateek/cyclecollector/graph"

// RetainedBy computes, for every node reachable from an anchor, the number
// of snapshot nodes that would become unreachable if it went away: itself
// plus every node it dominates. A virtual super-root points at all
// anchors, so nodes held by two anchors are retained by neither.
// Dominators are computed with the iterative Cooper-Harvey-Kennedy scheme.
func (s *Snapshot) RetainedBy() map[graph.ObjRef]int {
	// Index 0 is the super-root; node i+1 is s.Order[i].
	index := make(map[graph.ObjRef]int, len(s.Order))
	for i, ref := range s.Order {
		index[ref] = i + 1
	}
	n := len(s.Order) + 1

	succ := make([][]int, n)
	for _, ref := range s.Anchors() {
		succ[0] = append(succ[0], index[ref])
	}
	for i, ref := range s.Order {
		for _, e := range s.Nodes[ref].Edges {
			if j, ok := index[e]; ok {
				succ[i+1] = append(succ[i+1], j)
			}
		}
	}

	// Postorder numbering with an explicit stack.
	postorder := make([]int, n)
	for i := range postorder {
		postorder[i] = -1
	}
	visited := make([]bool, n)
	var order []int // nodes in postorder
	type frame struct{ node, next int }
	stack := []frame{{node: 0}}
	visited[0] = true
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.next < len(succ[top.node]) {
			child := succ[top.node][top.next]
			top.next++
			if !visited[child] {
				visited[child] = true
				stack = append(stack, frame{node: child})
			}
			continue
		}
		postorder[top.node] = len(order)
		order = append(order, top.node)
		stack = stack[:len(stack)-1]
	}

	preds := make([][]int, n)
	for v := 0; v < n; v++ {
		if !visited[v] {
			continue
		}
		for _, w := range succ[v] {
			preds[w] = append(preds[w], v)
		}
	}

	idom := make([]int, n)
	for i := range idom {
		idom[i] = -1
	}
	idom[0] = 0

	intersect := func(a, b int) int {
		for a != b {
			for postorder[a] < postorder[b] {
				a = idom[a]
			}
			for postorder[b] < postorder[a] {
				b = idom[b]
			}
		}
		return a
	}

	for changed := true; changed; {
		changed = false
		// Reverse postorder, skipping the super-root.
		for i := len(order) - 2; i >= 0; i-- {
			b := order[i]
			newIdom := -1
			for _, p := range preds[b] {
				if idom[p] == -1 {
					continue
				}
				if newIdom == -1 {
					newIdom = p
				} else {
					newIdom = intersect(p, newIdom)
				}
			}
			if newIdom != -1 && idom[b] != newIdom {
				idom[b] = newIdom
				changed = true
			}
		}
	}

	// Dominators finish after the nodes they dominate, so one sweep in
	// postorder accumulates subtree sizes.
	size := make([]int, n)
	for _, v := range order {
		size[v]++
		if v != 0 {
			size[idom[v]] += size[v]
		}
	}

	retained := make(map[graph.ObjRef]int)
	for _, v := range order {
		if v != 0 {
			retained[s.Order[v-1]] = size[v]
		}
	}
	return retained
}
