// ABOUTME: Breadth-first graph walker shared by every collector pass
// ABOUTME: Parameterized by a Visitor and an Expander that enumerates children

package graph

// Visitor decides what a walk does at each node
type Visitor interface {
	// ShouldVisit reports whether n still needs visiting in this walk
	ShouldVisit(n *Node) bool

	// Visit processes n. Children are only queued when descend is true.
	Visit(n *Node) (descend bool, err error)

	// NoteChild is called for every edge out of a visited node
	NoteChild(child *Node)
}

// Expander enumerates the children of a node
type Expander interface {
	Expand(n *Node) ([]*Node, error)
}

// ExpanderFunc adapts a function to the Expander interface
type ExpanderFunc func(n *Node) ([]*Node, error)

// Expand calls f(n)
func (f ExpanderFunc) Expand(n *Node) ([]*Node, error) {
	return f(n)
}

// RecordedEdges expands a node over the edges captured while marking
var RecordedEdges Expander = ExpanderFunc(func(n *Node) ([]*Node, error) {
	return n.Edges, nil
})

// Walker runs visitors over the graph using a FIFO worklist
type Walker struct {
	Expander Expander
}

// NewWalker creates a walker that enumerates children with e
func NewWalker(e Expander) *Walker {
	return &Walker{Expander: e}
}

// Walk visits every node reachable from start that the visitor accepts.
// It returns the number of nodes visited and stops at the first error.
func (w *Walker) Walk(start *Node, v Visitor) (int, error) {
	visited := 0
	queue := []*Node{start}

	for len(queue) > 0 {
		n := queue[0]
		queue[0] = nil
		queue = queue[1:]

		if !v.ShouldVisit(n) {
			continue
		}

		children, err := w.Expander.Expand(n)
		if err != nil {
			return visited, err
		}

		descend, err := v.Visit(n)
		visited++
		if err != nil {
			return visited, err
		}
		if !descend {
			continue
		}

		for _, child := range children {
			v.NoteChild(child)
			queue = append(queue, child)
		}
	}

	return visited, nil
}
