// Package cycles guards the conversion rule graph against circular rules.
package cycles

import (
	"fmt"
	"strings"

	"github.com/ritzau/unitconv/pkg/graph"
	"github.com/ritzau/unitconv/pkg/model"
)

// CycleError rejects a rule whose forward edge would close a cycle
type CycleError struct {
	Path []string // literal walk, first unit repeated at the end
}

func (e *CycleError) Error() string {
	return "conversion cycle detected: " + FormatPath(e.Path)
}

// FormatPath renders a cycle walk as "A→B→C→A"
func FormatPath(path []string) string {
	return strings.Join(path, "→")
}

// Detect reports whether adding candidate to the forward rule graph creates a
// cycle. The rule with excludeID is ignored, which lets an edited rule be
// checked without conflicting with its stored version.
//
// The walk starts where the candidate edge lands, so a cycle closed by the
// candidate is returned starting at candidate.ToUnit, e.g. rules A->B, B->C and
// candidate C->A yield ["A","B","C","A"]. Nil means no cycle.
//
// Only units reachable from candidate.ToUnit are walked. A cycle already
// stored among units the candidate cannot reach is not reported; Audit finds
// those. A reversed existing pair is reported as a two-unit walk, so callers
// that treat it as a duplicate must check pairs first.
func Detect(rules []model.ConversionRule, candidate model.Edge, excludeID string) []string {
	adj := graph.Build(rules, graph.Forward, graph.WithExclude(excludeID))
	adj.Link(candidate.FromUnit, candidate.ToUnit, 1)

	d := &detector{
		adj:     adj,
		visited: make(map[string]bool),
		onPath:  make(map[string]int),
	}
	return d.walk(candidate.ToUnit)
}

// Check is Detect returning a *CycleError instead of the raw walk
func Check(rules []model.ConversionRule, candidate model.Edge, excludeID string) error {
	if path := Detect(rules, candidate, excludeID); path != nil {
		return &CycleError{Path: path}
	}
	return nil
}

type detector struct {
	adj     *graph.Adjacency
	visited map[string]bool // fully explored, no cycle through them
	onPath  map[string]int  // unit -> index in path
	path    []string
}

func (d *detector) walk(unit string) []string {
	if idx, ok := d.onPath[unit]; ok {
		cycle := make([]string, 0, len(d.path)-idx+1)
		cycle = append(cycle, d.path[idx:]...)
		return append(cycle, unit)
	}
	if d.visited[unit] {
		return nil
	}

	d.onPath[unit] = len(d.path)
	d.path = append(d.path, unit)

	for _, e := range d.adj.Neighbors(unit) {
		if cycle := d.walk(e.To); cycle != nil {
			return cycle
		}
	}

	d.path = d.path[:len(d.path)-1]
	delete(d.onPath, unit)
	d.visited[unit] = true
	return nil
}

// Describe renders a human readable verdict for a cycle check
func Describe(candidate model.Edge, path []string) string {
	if path == nil {
		return fmt.Sprintf("%s → %s does not create a conversion cycle", candidate.FromUnit, candidate.ToUnit)
	}
	return fmt.Sprintf("%s → %s would create a conversion cycle: %s", candidate.FromUnit, candidate.ToUnit, FormatPath(path))
}
