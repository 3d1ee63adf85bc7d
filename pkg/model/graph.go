package model

// Graph is the JSON view of the rule graph served to the admin UI.
// Units become nodes and every rule becomes one edge in its declared direction.
type Graph struct {
	Nodes []*Node `json:"nodes"`
	Edges []*Link `json:"edges"`
}

// Node represents one unit in the graph view
type Node struct {
	ID         string     `json:"id"`
	Label      string     `json:"label"`
	Categories []Category `json:"categories,omitempty"` // categories of the rules touching this unit
	Degree     int        `json:"degree"`
}

// Link represents one rule in the graph view
type Link struct {
	RuleID   string   `json:"ruleId"`
	Source   string   `json:"source"`
	Target   string   `json:"target"`
	Rate     float64  `json:"rate"`
	Category Category `json:"category"`
}

// NewGraph creates a new empty graph view
func NewGraph() *Graph {
	return &Graph{
		Nodes: make([]*Node, 0),
		Edges: make([]*Link, 0),
	}
}

// BuildGraphView converts a rule snapshot into its graph view.
// Nodes appear in first-seen order so the UI layout is stable between calls.
func BuildGraphView(rules []ConversionRule) *Graph {
	g := NewGraph()
	index := make(map[string]*Node)

	touch := func(unit string, cat Category) {
		node, ok := index[unit]
		if !ok {
			node = &Node{ID: unit, Label: unit}
			index[unit] = node
			g.Nodes = append(g.Nodes, node)
		}
		node.Degree++
		for _, c := range node.Categories {
			if c == cat {
				return
			}
		}
		node.Categories = append(node.Categories, cat)
	}

	for _, r := range rules {
		touch(r.FromUnit, r.Category)
		touch(r.ToUnit, r.Category)
		g.Edges = append(g.Edges, &Link{
			RuleID:   r.ID,
			Source:   r.FromUnit,
			Target:   r.ToUnit,
			Rate:     r.ConversionRate,
			Category: r.Category,
		})
	}
	return g
}
