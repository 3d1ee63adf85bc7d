// Package graph builds adjacency structures from conversion rule snapshots.
package graph

import (
	"github.com/ritzau/unitconv/pkg/model"
	"gonum.org/v1/gonum/graph/simple"
)

// Directionality selects which edges a rule contributes
type Directionality int

const (
	// Forward adds only the declared fromUnit -> toUnit edge of each rule
	Forward Directionality = iota
	// Bidirectional also adds the reverse edge weighted 1/rate
	Bidirectional
)

func (d Directionality) String() string {
	if d == Bidirectional {
		return "bidirectional"
	}
	return "forward"
}

// Edge is one outgoing edge of a unit
type Edge struct {
	To      string
	Rate    float64 // rate of the rule that produced the edge, as declared
	Inverse bool    // true when walking against the rule's declared direction
	RuleID  string
}

// Weight is the multiplicative factor for moving one unit along the edge
func (e Edge) Weight() float64 {
	if e.Inverse {
		return 1 / e.Rate
	}
	return e.Rate
}

// Apply composes acc with this edge's weight. Reverse edges divide by the
// declared rate.
func (e Edge) Apply(acc float64) float64 {
	if e.Inverse {
		return acc / e.Rate
	}
	return acc * e.Rate
}

// Adjacency maps each unit to its outgoing edges in rule insertion order
type Adjacency struct {
	edges map[string][]Edge
	units []string // first-seen order
}

// BuildOption customizes Build
type BuildOption func(*buildOptions)

type buildOptions struct {
	excludeID string
}

// WithExclude leaves out the rule with the given ID, as if it did not exist.
// An empty ID excludes nothing.
func WithExclude(id string) BuildOption {
	return func(o *buildOptions) {
		o.excludeID = id
	}
}

// New creates an empty adjacency
func New() *Adjacency {
	return &Adjacency{
		edges: make(map[string][]Edge),
	}
}

// Build creates the adjacency for a rule snapshot.
// Rules that repeat an already connected unit pair add no further edges, so a
// store that let duplicates slip through never double-counts.
func Build(rules []model.ConversionRule, dir Directionality, opts ...BuildOption) *Adjacency {
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}

	a := New()
	for _, r := range rules {
		if o.excludeID != "" && r.ID == o.excludeID {
			continue
		}
		a.addEdge(r.FromUnit, Edge{To: r.ToUnit, Rate: r.ConversionRate, RuleID: r.ID})
		if dir == Bidirectional {
			a.addEdge(r.ToUnit, Edge{To: r.FromUnit, Rate: r.ConversionRate, Inverse: true, RuleID: r.ID})
		} else {
			a.addUnit(r.ToUnit)
		}
	}
	return a
}

// Link appends a forward edge that is not backed by a stored rule
func (a *Adjacency) Link(from, to string, rate float64) {
	a.addEdge(from, Edge{To: to, Rate: rate})
}

func (a *Adjacency) addUnit(unit string) {
	if _, ok := a.edges[unit]; ok {
		return
	}
	a.edges[unit] = nil
	a.units = append(a.units, unit)
}

func (a *Adjacency) addEdge(from string, e Edge) {
	a.addUnit(from)
	a.addUnit(e.To)
	for _, existing := range a.edges[from] {
		if existing.To == e.To {
			return
		}
	}
	a.edges[from] = append(a.edges[from], e)
}

// Neighbors returns the outgoing edges of a unit; nil for unknown units
func (a *Adjacency) Neighbors(unit string) []Edge {
	return a.edges[unit]
}

// HasUnit reports whether the unit appears in any rule
func (a *Adjacency) HasUnit(unit string) bool {
	_, ok := a.edges[unit]
	return ok
}

// Units returns every unit in first-seen order
func (a *Adjacency) Units() []string {
	out := make([]string, len(a.units))
	copy(out, a.units)
	return out
}

// Len returns the number of units
func (a *Adjacency) Len() int {
	return len(a.units)
}

// EdgeCount returns the number of directed edges
func (a *Adjacency) EdgeCount() int {
	n := 0
	for _, es := range a.edges {
		n += len(es)
	}
	return n
}

// DirectedView is a gonum representation of an adjacency with a unit index
type DirectedView struct {
	graph *simple.DirectedGraph
	ids   map[string]int64
	units []string // indexed by node ID
}

// Directed converts the adjacency into a gonum directed graph.
// Node IDs follow first-seen unit order. Self edges are dropped since gonum's
// simple graphs cannot hold them.
func (a *Adjacency) Directed() *DirectedView {
	v := &DirectedView{
		graph: simple.NewDirectedGraph(),
		ids:   make(map[string]int64, len(a.units)),
		units: make([]string, 0, len(a.units)),
	}
	for i, unit := range a.units {
		id := int64(i)
		v.ids[unit] = id
		v.units = append(v.units, unit)
		v.graph.AddNode(simple.Node(id))
	}
	for _, from := range a.units {
		fromID := v.ids[from]
		for _, e := range a.edges[from] {
			toID := v.ids[e.To]
			if fromID == toID || v.graph.HasEdgeFromTo(fromID, toID) {
				continue
			}
			v.graph.SetEdge(v.graph.NewEdge(v.graph.Node(fromID), v.graph.Node(toID)))
		}
	}
	return v
}

// Graph returns the underlying gonum graph
func (v *DirectedView) Graph() *simple.DirectedGraph {
	return v.graph
}

// Unit returns the unit name for a node ID, or "" when unknown
func (v *DirectedView) Unit(id int64) string {
	if id < 0 || int(id) >= len(v.units) {
		return ""
	}
	return v.units[id]
}

// ID returns the node ID of a unit
func (v *DirectedView) ID(unit string) (int64, bool) {
	id, ok := v.ids[unit]
	return id, ok
}
