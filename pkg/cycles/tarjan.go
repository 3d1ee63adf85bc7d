package cycles

import (
	"gonum.org/v1/gonum/graph"
)

// tarjanSCC finds strongly connected components using Tarjan's algorithm
type tarjanSCC struct {
	graph   graph.Directed
	order   []int64 // roots are tried in this order
	index   int
	stack   []int64
	onStack map[int64]bool
	indices map[int64]int
	lowLink map[int64]int
	sccs    [][]int64
}

// newTarjanSCC creates a finder that starts its searches from the nodes in
// order, which keeps the output stable across runs
func newTarjanSCC(g graph.Directed, order []int64) *tarjanSCC {
	return &tarjanSCC{
		graph:   g,
		order:   order,
		onStack: make(map[int64]bool),
		indices: make(map[int64]int),
		lowLink: make(map[int64]int),
	}
}

// components returns every component with more than one node
func (t *tarjanSCC) components() [][]int64 {
	for _, id := range t.order {
		if _, visited := t.indices[id]; !visited {
			t.strongConnect(id)
		}
	}
	return t.sccs
}

func (t *tarjanSCC) strongConnect(id int64) {
	t.indices[id] = t.index
	t.lowLink[id] = t.index
	t.index++

	t.stack = append(t.stack, id)
	t.onStack[id] = true

	successors := graph.NodesOf(t.graph.From(id))
	sortIDs(successors)
	for _, succ := range successors {
		succID := succ.ID()
		if _, visited := t.indices[succID]; !visited {
			t.strongConnect(succID)
			t.lowLink[id] = min(t.lowLink[id], t.lowLink[succID])
		} else if t.onStack[succID] {
			t.lowLink[id] = min(t.lowLink[id], t.indices[succID])
		}
	}

	if t.lowLink[id] != t.indices[id] {
		return
	}

	// id is a root: pop its component
	var scc []int64
	for {
		w := t.stack[len(t.stack)-1]
		t.stack = t.stack[:len(t.stack)-1]
		t.onStack[w] = false
		scc = append(scc, w)
		if w == id {
			break
		}
	}
	if len(scc) > 1 {
		t.sccs = append(t.sccs, scc)
	}
}

func sortIDs(nodes []graph.Node) {
	// insertion sort; successor lists are short
	for i := 1; i < len(nodes); i++ {
		for j := i; j > 0 && nodes[j].ID() < nodes[j-1].ID(); j-- {
			nodes[j], nodes[j-1] = nodes[j-1], nodes[j]
		}
	}
}
