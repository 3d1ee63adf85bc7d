package cycles

import (
	"sort"

	"github.com/ritzau/unitconv/pkg/graph"
	"github.com/ritzau/unitconv/pkg/model"
)

// RuleCycle is a group of units that reach each other through forward rules
type RuleCycle struct {
	Units []string `json:"units"`
	Walk  []string `json:"walk"` // one literal cycle through the group
}

// Audit finds every cycle already present in a stored rule set.
// Rules that went through Detect never produce one, but imports and rows
// written by other tools bypass the gate.
func Audit(rules []model.ConversionRule) []RuleCycle {
	adj := graph.Build(rules, graph.Forward)
	view := adj.Directed()

	order := make([]int64, 0, adj.Len())
	for _, unit := range adj.Units() {
		id, _ := view.ID(unit)
		order = append(order, id)
	}

	sccs := newTarjanSCC(view.Graph(), order).components()

	result := make([]RuleCycle, 0, len(sccs))
	for _, scc := range sccs {
		sort.Slice(scc, func(i, j int) bool { return scc[i] < scc[j] })
		units := make([]string, 0, len(scc))
		for _, id := range scc {
			units = append(units, view.Unit(id))
		}
		result = append(result, RuleCycle{
			Units: units,
			Walk:  walkWithin(adj, units),
		})
	}

	sort.Slice(result, func(i, j int) bool {
		a, _ := view.ID(result[i].Units[0])
		b, _ := view.ID(result[j].Units[0])
		return a < b
	})
	return result
}

// walkWithin runs the detector restricted to one component, starting at its
// first unit
func walkWithin(adj *graph.Adjacency, units []string) []string {
	members := make(map[string]bool, len(units))
	for _, u := range units {
		members[u] = true
	}

	sub := graph.New()
	for _, from := range units {
		for _, e := range adj.Neighbors(from) {
			if members[e.To] {
				sub.Link(from, e.To, e.Rate)
			}
		}
	}

	d := &detector{
		adj:     sub,
		visited: make(map[string]bool),
		onPath:  make(map[string]int),
	}
	return d.walk(units[0])
}
