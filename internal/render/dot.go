package render

import (
	"fmt"
	"path"

	"github.com/zboralski/lattice"
	lrender "github.com/zboralski/lattice/render"

	"schemadump/internal/schema"
)

// Dot emits two Graphviz files per module: the inheritance graph and a
// layout view with one cluster per class, enum and the offset table.
type Dot struct{}

func (Dot) Format() string { return "dot" }

func (Dot) Render(m *schema.Model, _ Config) ([]Artifact, error) {
	dirs := moduleDirs(m)
	out := make([]Artifact, 0, 2*len(m.Modules))
	for i, mod := range m.Modules {
		h := schema.BuildHierarchy(mod)
		out = append(out,
			Artifact{
				Path:    path.Join(dirs[i], dirs[i]+".dot"),
				Content: []byte(lrender.DOT(hierarchyGraph(mod, h), mod.Name+" hierarchy")),
			},
			Artifact{
				Path:    path.Join(dirs[i], dirs[i]+".layout.dot"),
				Content: []byte(lrender.DOTCFG(layoutGraph(mod, h), mod.Name+" layout")),
			},
		)
	}
	return out, nil
}

// hierarchyGraph maps inheritance onto a call graph: the child "calls" its
// parent.
func hierarchyGraph(mod *schema.Module, h *schema.Hierarchy) *lattice.Graph {
	g := &lattice.Graph{}
	for _, c := range mod.Classes {
		g.Nodes = append(g.Nodes, c.Name)
	}
	g.Nodes = append(g.Nodes, h.External()...)
	for _, e := range h.Edges() {
		g.Edges = append(g.Edges, lattice.Edge{Caller: e.Child, Callee: e.Parent})
	}
	g.Dedup()
	return g
}

// layoutGraph renders each container as a single-block function whose call
// sites are its members in declaration order.
func layoutGraph(mod *schema.Module, h *schema.Hierarchy) *lattice.CFGGraph {
	g := &lattice.CFGGraph{}
	for _, c := range mod.Classes {
		calls := []lattice.CallSite{{Offset: 0, Callee: fmt.Sprintf("size %s depth %d", hexValue(c.Size), h.Depth(c.Name))}}
		for i, f := range c.Fields {
			calls = append(calls, lattice.CallSite{Offset: i + 1, Callee: fmt.Sprintf("%s @ %s", f.Name, hexValue(f.Offset))})
		}
		g.Funcs = append(g.Funcs, singleBlock("class "+c.Name, calls))
	}
	for _, e := range mod.Enums {
		var calls []lattice.CallSite
		for i, mem := range e.Members {
			calls = append(calls, lattice.CallSite{Offset: i, Callee: fmt.Sprintf("%s = %d", mem.Name, mem.Value)})
		}
		g.Funcs = append(g.Funcs, singleBlock("enum "+e.Name, calls))
	}
	if len(mod.Offsets) > 0 {
		var calls []lattice.CallSite
		for i, o := range mod.Offsets {
			calls = append(calls, lattice.CallSite{Offset: i, Callee: fmt.Sprintf("%s = %s", o.Name, hexValue(o.Value))})
		}
		g.Funcs = append(g.Funcs, singleBlock("offsets", calls))
	}
	return g
}

func singleBlock(name string, calls []lattice.CallSite) *lattice.FuncCFG {
	end := len(calls)
	if end == 0 {
		end = 1
	}
	return &lattice.FuncCFG{
		Name: name,
		Blocks: []*lattice.BasicBlock{{
			ID:    0,
			Start: 0,
			End:   end,
			Term:  true,
			Calls: calls,
		}},
	}
}
