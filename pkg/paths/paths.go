// Package paths finds conversion routes between units.
package paths

import (
	"github.com/ritzau/unitconv/pkg/graph"
	"github.com/ritzau/unitconv/pkg/model"
	"github.com/ritzau/unitconv/pkg/rounding"
)

// DefaultMaxSteps bounds the number of rules chained in one conversion
const DefaultMaxSteps = 5

// UseDefaultSteps asks for DefaultMaxSteps, or the caller's own default
const UseDefaultSteps = -1

// queueEntry is one frontier element of the breadth-first search
type queueEntry struct {
	unit string
	path []string
	rate float64
}

// FindShortest returns the conversion route from one unit to another that
// chains the fewest rules. Among routes of equal length the first one
// discovered in rule insertion order wins; rates play no part in the choice.
//
// Routes longer than maxSteps hops are not explored, so a maxSteps of zero
// only finds the identity route. A negative maxSteps means DefaultMaxSteps.
// Unknown units simply produce Found == false.
func FindShortest(rules []model.ConversionRule, from, to string, maxSteps int) model.ConversionPath {
	if from == to {
		return model.IdentityPath(from)
	}
	if maxSteps < 0 {
		maxSteps = DefaultMaxSteps
	}

	adj := graph.Build(rules, graph.Bidirectional)
	if !adj.HasUnit(from) || !adj.HasUnit(to) {
		return model.NotFoundPath(from, to)
	}

	visited := make(map[string]bool)
	queue := []queueEntry{{unit: from, path: []string{from}, rate: 1}}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if current.unit == to {
			return model.ConversionPath{
				FromUnit:  from,
				ToUnit:    to,
				Path:      current.path,
				TotalRate: current.rate,
				Steps:     len(current.path) - 1,
				Found:     true,
			}
		}

		if visited[current.unit] {
			continue
		}
		visited[current.unit] = true

		// Extending would exceed maxSteps hops
		if len(current.path) > maxSteps {
			continue
		}

		for _, e := range adj.Neighbors(current.unit) {
			if visited[e.To] {
				continue
			}
			next := make([]string, len(current.path), len(current.path)+1)
			copy(next, current.path)
			queue = append(queue, queueEntry{
				unit: e.To,
				path: append(next, e.To),
				rate: e.Apply(current.rate),
			})
		}
	}

	return model.NotFoundPath(from, to)
}

// Conversion is a route applied to a concrete quantity
type Conversion struct {
	model.ConversionPath
	Quantity  float64        `json:"quantity"`
	Result    float64        `json:"result"`
	Rounded   float64        `json:"rounded"`
	Formatted string         `json:"formatted"`
	Category  model.Category `json:"category"`
}

// Convert finds a route and applies it to quantity, rounding the result by
// category. When category is empty the category of the rule that delivers
// the target unit is used.
func Convert(rules []model.ConversionRule, from, to string, quantity float64, category model.Category, maxSteps int) Conversion {
	p := FindShortest(rules, from, to, maxSteps)
	c := Conversion{ConversionPath: p, Quantity: quantity, Category: category}
	if !p.Found {
		return c
	}

	if c.Category == "" {
		c.Category = categoryOf(rules, p.Path)
	}
	c.Result = quantity * p.TotalRate
	c.Rounded = rounding.Round(c.Result, c.Category)
	c.Formatted = rounding.Format(c.Result, c.Category)
	return c
}

// categoryOf picks the category of the rule covering the last hop
func categoryOf(rules []model.ConversionRule, path []string) model.Category {
	if len(path) < 2 {
		for _, r := range rules {
			if len(path) == 1 && (r.FromUnit == path[0] || r.ToUnit == path[0]) {
				return r.Category
			}
		}
		return ""
	}
	key := model.NewPairKey(path[len(path)-2], path[len(path)-1])
	for _, r := range rules {
		if r.PairKey() == key {
			return r.Category
		}
	}
	return ""
}
