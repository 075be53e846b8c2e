// Package schema holds the type schema recovered from a target: modules,
// classes, fields, enums and named offsets. A Model is built once by the
// walker and treated as read-only afterwards.
package schema

import (
	"errors"
	"fmt"

	"schemadump/internal/diag"
)

var (
	ErrDuplicate = errors.New("schema: duplicate name")
	ErrInvalid   = errors.New("schema: invalid model")
)

// Model is the root container. Module order is the configured walk order.
type Model struct {
	Modules []*Module `json:"modules"`
}

// Module returns the module named name.
func (m *Model) Module(name string) (*Module, bool) {
	for _, mod := range m.Modules {
		if mod.Name == name {
			return mod, true
		}
	}
	return nil, false
}

// Module is one target module. Classes, enums and offsets are separate
// namespaces; each keeps discovery order.
type Module struct {
	Name    string     `json:"name"`
	Base    uint64     `json:"base"`
	Classes []*Class   `json:"classes"`
	Enums   []*Enum    `json:"enums"`
	Offsets []Offset   `json:"offsets"`
	Gaps    []diag.Gap `json:"gaps,omitempty"`

	classIdx  map[string]int
	enumIdx   map[string]int
	offsetIdx map[string]int
}

// NewModule returns an empty module.
func NewModule(name string, base uint64) *Module {
	return &Module{
		Name:      name,
		Base:      base,
		classIdx:  make(map[string]int),
		enumIdx:   make(map[string]int),
		offsetIdx: make(map[string]int),
	}
}

// AddClass appends c unless a class of the same name exists.
func (m *Module) AddClass(c *Class) error {
	m.ensureIndex()
	if _, ok := m.classIdx[c.Name]; ok {
		return fmt.Errorf("%w: class %s", ErrDuplicate, c.Name)
	}
	m.classIdx[c.Name] = len(m.Classes)
	m.Classes = append(m.Classes, c)
	return nil
}

// AddEnum appends e unless an enum of the same name exists.
func (m *Module) AddEnum(e *Enum) error {
	m.ensureIndex()
	if _, ok := m.enumIdx[e.Name]; ok {
		return fmt.Errorf("%w: enum %s", ErrDuplicate, e.Name)
	}
	m.enumIdx[e.Name] = len(m.Enums)
	m.Enums = append(m.Enums, e)
	return nil
}

// AddOffset appends o unless an offset of the same name exists.
func (m *Module) AddOffset(o Offset) error {
	m.ensureIndex()
	if _, ok := m.offsetIdx[o.Name]; ok {
		return fmt.Errorf("%w: offset %s", ErrDuplicate, o.Name)
	}
	m.offsetIdx[o.Name] = len(m.Offsets)
	m.Offsets = append(m.Offsets, o)
	return nil
}

// Class looks a class up by name.
func (m *Module) Class(name string) (*Class, bool) {
	m.ensureIndex()
	i, ok := m.classIdx[name]
	if !ok {
		return nil, false
	}
	return m.Classes[i], true
}

// Enum looks an enum up by name.
func (m *Module) Enum(name string) (*Enum, bool) {
	m.ensureIndex()
	i, ok := m.enumIdx[name]
	if !ok {
		return nil, false
	}
	return m.Enums[i], true
}

// Offset looks a named offset up by name.
func (m *Module) Offset(name string) (Offset, bool) {
	m.ensureIndex()
	i, ok := m.offsetIdx[name]
	if !ok {
		return Offset{}, false
	}
	return m.Offsets[i], true
}

// ParentOf resolves the weak parent reference of c. It reports false when c
// has no parent or the parent is not part of this module.
func (m *Module) ParentOf(c *Class) (*Class, bool) {
	if c.Parent == "" {
		return nil, false
	}
	return m.Class(c.Parent)
}

// Counts reports the number of resolved entities per namespace.
func (m *Module) Counts() Counts {
	return Counts{Classes: len(m.Classes), Enums: len(m.Enums), Offsets: len(m.Offsets)}
}

// ensureIndex rebuilds the name indexes for modules built as literals.
func (m *Module) ensureIndex() {
	if m.classIdx != nil {
		return
	}
	m.classIdx = make(map[string]int, len(m.Classes))
	m.enumIdx = make(map[string]int, len(m.Enums))
	m.offsetIdx = make(map[string]int, len(m.Offsets))
	for i, c := range m.Classes {
		if _, ok := m.classIdx[c.Name]; !ok {
			m.classIdx[c.Name] = i
		}
	}
	for i, e := range m.Enums {
		if _, ok := m.enumIdx[e.Name]; !ok {
			m.enumIdx[e.Name] = i
		}
	}
	for i, o := range m.Offsets {
		if _, ok := m.offsetIdx[o.Name]; !ok {
			m.offsetIdx[o.Name] = i
		}
	}
}

// Counts is a per-module tally of resolved entities.
type Counts struct {
	Classes int `json:"classes"`
	Enums   int `json:"enums"`
	Offsets int `json:"offsets"`
}

// Total is the number of resolved top-level entities.
func (c Counts) Total() int { return c.Classes + c.Enums + c.Offsets }

// Class is a reflected class. Parent is a weak reference by name.
type Class struct {
	Name   string  `json:"name"`
	Size   uint32  `json:"size"`
	Parent string  `json:"parent,omitempty"`
	Fields []Field `json:"fields"`
}

// Field is a class member at a byte offset. Type is best effort.
type Field struct {
	Name   string `json:"name"`
	Offset uint32 `json:"offset"`
	Type   string `json:"type,omitempty"`
}

// AddField appends f unless a field of the same name exists.
func (c *Class) AddField(f Field) error {
	for _, o := range c.Fields {
		if o.Name == f.Name {
			return fmt.Errorf("%w: field %s::%s", ErrDuplicate, c.Name, f.Name)
		}
	}
	c.Fields = append(c.Fields, f)
	return nil
}

// Enum is a reflected enumeration with an underlying width in bytes.
type Enum struct {
	Name    string   `json:"name"`
	Width   int      `json:"width"`
	Members []Member `json:"members"`
}

// Member is one enumerator.
type Member struct {
	Name  string `json:"name"`
	Value int64  `json:"value"`
}

// AddMember appends mem unless a member of the same name exists.
func (e *Enum) AddMember(mem Member) error {
	for _, o := range e.Members {
		if o.Name == mem.Name {
			return fmt.Errorf("%w: member %s::%s", ErrDuplicate, e.Name, mem.Name)
		}
	}
	e.Members = append(e.Members, mem)
	return nil
}

// ValidWidth reports whether w is a supported enum width.
func ValidWidth(w int) bool {
	return w == 1 || w == 2 || w == 4 || w == 8
}

// Offset is a named raw value, usually an RVA into its module.
type Offset struct {
	Name    string `json:"name"`
	Value   uint64 `json:"value"`
	Comment string `json:"comment,omitempty"`
}

// Validate checks every naming and width invariant of the model.
func (m *Model) Validate() error {
	var errs []error
	mods := make(map[string]bool)
	for _, mod := range m.Modules {
		if mods[mod.Name] {
			errs = append(errs, fmt.Errorf("%w: module %s listed twice", ErrInvalid, mod.Name))
		}
		mods[mod.Name] = true
		errs = append(errs, mod.validate()...)
	}
	return errors.Join(errs...)
}

func (m *Module) validate() []error {
	var errs []error
	dup := func(kind string, names []string) {
		seen := make(map[string]bool, len(names))
		for _, n := range names {
			if n == "" {
				errs = append(errs, fmt.Errorf("%w: %s: empty %s name", ErrInvalid, m.Name, kind))
			}
			if seen[n] {
				errs = append(errs, fmt.Errorf("%w: %s: %s %s listed twice", ErrInvalid, m.Name, kind, n))
			}
			seen[n] = true
		}
	}
	var classes, enums, offsets []string
	for _, c := range m.Classes {
		classes = append(classes, c.Name)
		fields := make([]string, len(c.Fields))
		for i, f := range c.Fields {
			fields[i] = f.Name
		}
		dup("field of "+c.Name, fields)
	}
	for _, e := range m.Enums {
		enums = append(enums, e.Name)
		if !ValidWidth(e.Width) {
			errs = append(errs, fmt.Errorf("%w: %s: enum %s width %d", ErrInvalid, m.Name, e.Name, e.Width))
		}
		members := make([]string, len(e.Members))
		for i, mem := range e.Members {
			members[i] = mem.Name
		}
		dup("member of "+e.Name, members)
	}
	for _, o := range m.Offsets {
		offsets = append(offsets, o.Name)
	}
	dup("class", classes)
	dup("enum", enums)
	dup("offset", offsets)
	return errs
}
