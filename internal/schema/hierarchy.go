package schema

import (
	"errors"

	"github.com/dominikbraun/graph"
)

// Edge is a child -> parent inheritance link.
type Edge struct {
	Child  string
	Parent string
}

// Hierarchy is the inheritance graph of one module. Links that would close
// a cycle are left out and reported by Cyclic.
type Hierarchy struct {
	g        graph.Graph[string, string]
	edges    []Edge
	cyclic   []string
	external []string
}

// BuildHierarchy builds the inheritance graph of m. Parents that are not
// classes of m become external vertices.
func BuildHierarchy(m *Module) *Hierarchy {
	h := &Hierarchy{g: graph.New(graph.StringHash, graph.Directed(), graph.PreventCycles())}
	for _, c := range m.Classes {
		_ = h.g.AddVertex(c.Name)
	}
	seenExt := make(map[string]bool)
	for _, c := range m.Classes {
		if c.Parent == "" {
			continue
		}
		if _, ok := m.Class(c.Parent); !ok && !seenExt[c.Parent] {
			seenExt[c.Parent] = true
			h.external = append(h.external, c.Parent)
			_ = h.g.AddVertex(c.Parent)
		}
		err := h.g.AddEdge(c.Name, c.Parent)
		switch {
		case err == nil:
			h.edges = append(h.edges, Edge{Child: c.Name, Parent: c.Parent})
		case errors.Is(err, graph.ErrEdgeCreatesCycle):
			h.cyclic = append(h.cyclic, c.Name)
		}
	}
	return h
}

// Edges returns the inheritance links in class order.
func (h *Hierarchy) Edges() []Edge { return h.edges }

// Cyclic returns classes whose parent link would close a cycle.
func (h *Hierarchy) Cyclic() []string { return h.cyclic }

// External returns parent names that are not classes of the module.
func (h *Hierarchy) External() []string { return h.external }

// Depth returns the number of ancestors of name reachable in the graph.
func (h *Hierarchy) Depth(name string) int {
	adj, err := h.g.AdjacencyMap()
	if err != nil {
		return 0
	}
	depth := 0
	for cur := name; ; depth++ {
		next := ""
		for p := range adj[cur] {
			next = p
		}
		if next == "" {
			return depth
		}
		cur = next
	}
}
