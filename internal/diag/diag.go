// Package diag records resolution gaps: traversal steps the walker could
// not complete. Gaps are collected, never raised.
package diag

import "fmt"

// Kind classifies a gap.
type Kind string

const (
	KindModuleMissing Kind = "module_missing"
	KindRootMissing   Kind = "root_missing"
	KindNullPointer   Kind = "null_pointer"
	KindReadFailed    Kind = "read_failed"
	KindInvalid       Kind = "invalid"
	KindDuplicate     Kind = "duplicate"
	KindClamped       Kind = "clamped"
	KindCycle         Kind = "cycle"
)

// Scope is the entity level a gap occurred at.
type Scope string

const (
	ScopeModule    Scope = "module"
	ScopeRoot      Scope = "root"
	ScopeClass     Scope = "class"
	ScopeField     Scope = "field"
	ScopeEnum      Scope = "enum"
	ScopeMember    Scope = "member"
	ScopeOffset    Scope = "offset"
	ScopeInterface Scope = "interface"
)

// Gap records a non-fatal failure to resolve one entity.
type Gap struct {
	Module  string `json:"module"`
	Scope   Scope  `json:"scope"`
	Entity  string `json:"entity,omitempty"`
	Address uint64 `json:"address"`
	Kind    Kind   `json:"kind"`
	Msg     string `json:"msg"`
}

func (g Gap) String() string {
	if g.Entity != "" {
		return fmt.Sprintf("[%s] %s %s/%s 0x%x: %s", g.Kind, g.Scope, g.Module, g.Entity, g.Address, g.Msg)
	}
	return fmt.Sprintf("[%s] %s %s 0x%x: %s", g.Kind, g.Scope, g.Module, g.Address, g.Msg)
}

// Gaps accumulates gaps for one module traversal.
type Gaps struct {
	module string
	items  []Gap
}

// NewGaps returns an accumulator that stamps every gap with module.
func NewGaps(module string) *Gaps {
	return &Gaps{module: module}
}

func (d *Gaps) Add(scope Scope, entity string, addr uint64, kind Kind, msg string) Gap {
	g := Gap{Module: d.module, Scope: scope, Entity: entity, Address: addr, Kind: kind, Msg: msg}
	d.items = append(d.items, g)
	return g
}

func (d *Gaps) Addf(scope Scope, entity string, addr uint64, kind Kind, format string, args ...any) Gap {
	return d.Add(scope, entity, addr, kind, fmt.Sprintf(format, args...))
}

func (d *Gaps) Items() []Gap { return d.items }
func (d *Gaps) Len() int     { return len(d.items) }

// CountByModule tallies gaps per module name.
func CountByModule(gaps []Gap) map[string]int {
	out := make(map[string]int)
	for _, g := range gaps {
		out[g.Module]++
	}
	return out
}
