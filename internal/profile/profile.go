// Package profile describes the reflection tables of a target: the byte
// layout of its descriptors and, per module, where the root tables live.
package profile

import (
	"errors"
	"fmt"
)

var ErrInvalidProfile = errors.New("profile: invalid")

// RootKind selects the decoder for a root table.
type RootKind string

const (
	RootClasses    RootKind = "classes"
	RootEnums      RootKind = "enums"
	RootOffsets    RootKind = "offsets"
	RootInterfaces RootKind = "interfaces"
)

// Layout is the byte layout of the reflection tables. Hop chains are
// offset lists for resolve.Follow.
//
// Root table (classes, enums, offsets):
//
//	+Table.Count:   count   u32
//	+Table.Entries: entries ptr -> [count]ptr (classes, enums)
//	                            -> [count]OffsetEntry (offsets)
type Layout struct {
	Table     TableLayout     `mapstructure:"table" yaml:"table"`
	Class     ClassLayout     `mapstructure:"class" yaml:"class"`
	Field     FieldLayout     `mapstructure:"field" yaml:"field"`
	Enum      EnumLayout      `mapstructure:"enum" yaml:"enum"`
	Member    MemberLayout    `mapstructure:"member" yaml:"member"`
	Offset    OffsetLayout    `mapstructure:"offset" yaml:"offset"`
	Interface InterfaceLayout `mapstructure:"interface" yaml:"interface"`
}

type TableLayout struct {
	Count   uint64 `mapstructure:"count" yaml:"count"`
	Entries uint64 `mapstructure:"entries" yaml:"entries"`
}

// ClassLayout is a class descriptor. HeaderSize bytes are read in one go;
// Size, FieldCount and Fields must lie inside the header.
type ClassLayout struct {
	HeaderSize uint64   `mapstructure:"header_size" yaml:"header_size"`
	Name       uint64   `mapstructure:"name" yaml:"name"`
	Size       uint64   `mapstructure:"size" yaml:"size"`               // u32
	FieldCount uint64   `mapstructure:"field_count" yaml:"field_count"` // u16
	Fields     uint64   `mapstructure:"fields" yaml:"fields"`
	Parent     []uint64 `mapstructure:"parent" yaml:"parent"` // descriptor -> parent descriptor; empty = no parents
}

type FieldLayout struct {
	Stride uint64   `mapstructure:"stride" yaml:"stride"`
	Name   uint64   `mapstructure:"name" yaml:"name"`
	Offset uint64   `mapstructure:"offset" yaml:"offset"` // u32
	Type   []uint64 `mapstructure:"type" yaml:"type"`     // record -> type name string; empty = untyped
}

type EnumLayout struct {
	HeaderSize  uint64 `mapstructure:"header_size" yaml:"header_size"`
	Name        uint64 `mapstructure:"name" yaml:"name"`
	Width       uint64 `mapstructure:"width" yaml:"width"`               // u8
	MemberCount uint64 `mapstructure:"member_count" yaml:"member_count"` // u16
	Members     uint64 `mapstructure:"members" yaml:"members"`
}

type MemberLayout struct {
	Stride uint64 `mapstructure:"stride" yaml:"stride"`
	Name   uint64 `mapstructure:"name" yaml:"name"`
	Value  uint64 `mapstructure:"value" yaml:"value"` // u64, narrowed to the enum width
}

type OffsetLayout struct {
	Stride  uint64 `mapstructure:"stride" yaml:"stride"`
	Name    uint64 `mapstructure:"name" yaml:"name"`
	Value   uint64 `mapstructure:"value" yaml:"value"`     // u64
	Comment uint64 `mapstructure:"comment" yaml:"comment"` // nullable string ptr
}

// InterfaceLayout is one node of an interface registration list.
type InterfaceLayout struct {
	Create uint64 `mapstructure:"create" yaml:"create"`
	Name   uint64 `mapstructure:"name" yaml:"name"`
	Next   uint64 `mapstructure:"next" yaml:"next"`
}

// Root locates one root table inside a module. The start address is the
// export Symbol when set, else module base + RVA. With CodeRef the start
// is a function whose first data reference is taken instead. Hops are
// then followed from there.
type Root struct {
	Kind    RootKind `mapstructure:"kind" yaml:"kind"`
	Name    string   `mapstructure:"name" yaml:"name,omitempty"`
	Symbol  string   `mapstructure:"symbol" yaml:"symbol,omitempty"`
	RVA     uint64   `mapstructure:"rva" yaml:"rva,omitempty"`
	CodeRef bool     `mapstructure:"code_ref" yaml:"code_ref,omitempty"`
	Hops    []uint64 `mapstructure:"hops" yaml:"hops,omitempty"`
	Comment string   `mapstructure:"comment" yaml:"comment,omitempty"`
}

// Label names the root in gaps and logs.
func (r Root) Label() string {
	switch {
	case r.Name != "":
		return r.Name
	case r.Symbol != "":
		return string(r.Kind) + "@" + r.Symbol
	default:
		return fmt.Sprintf("%s@+0x%x", r.Kind, r.RVA)
	}
}

// Module lists the root tables of one target module.
type Module struct {
	Name  string `mapstructure:"name" yaml:"name"`
	Roots []Root `mapstructure:"roots" yaml:"roots"`
}

// Profile bundles a layout with the modules to walk.
type Profile struct {
	Layout  Layout   `mapstructure:"layout" yaml:"layout"`
	Modules []Module `mapstructure:"modules" yaml:"modules"`
}

// DefaultLayout returns the built-in descriptor layout.
func DefaultLayout() Layout {
	return Layout{
		Table: TableLayout{Count: 0x00, Entries: 0x08},
		Class: ClassLayout{
			HeaderSize: 0x20,
			Name:       0x00,
			Size:       0x08,
			FieldCount: 0x0C,
			Fields:     0x10,
			Parent:     []uint64{0x18, 0x08},
		},
		Field: FieldLayout{Stride: 0x20, Name: 0x00, Offset: 0x10, Type: []uint64{0x08, 0x08}},
		Enum: EnumLayout{
			HeaderSize:  0x18,
			Name:        0x00,
			Width:       0x08,
			MemberCount: 0x0A,
			Members:     0x10,
		},
		Member:    MemberLayout{Stride: 0x10, Name: 0x00, Value: 0x08},
		Offset:    OffsetLayout{Stride: 0x18, Name: 0x00, Value: 0x08, Comment: 0x10},
		Interface: InterfaceLayout{Create: 0x00, Name: 0x08, Next: 0x10},
	}
}

// DefaultRoots returns the root tables every default module exports.
func DefaultRoots() []Root {
	return []Root{
		{Kind: RootClasses, Symbol: "g_SchemaClassTable"},
		{Kind: RootEnums, Symbol: "g_SchemaEnumTable"},
		{Kind: RootOffsets, Symbol: "g_OffsetTable"},
		{Kind: RootInterfaces, Symbol: "CreateInterface", CodeRef: true, Hops: []uint64{0}, Comment: "interface"},
	}
}

// Default returns the built-in profile.
func Default() Profile {
	names := []string{"client.dll", "engine2.dll", "schemasystem.dll", "server.dll", "tier0.dll"}
	mods := make([]Module, len(names))
	for i, n := range names {
		mods[i] = Module{Name: n, Roots: DefaultRoots()}
	}
	return Profile{Layout: DefaultLayout(), Modules: mods}
}

// Validate checks that the layout is self-consistent and every module and
// root is well formed.
func (p Profile) Validate() error {
	var errs []error
	if err := p.Layout.Validate(); err != nil {
		errs = append(errs, err)
	}
	seen := make(map[string]bool)
	for i, m := range p.Modules {
		if m.Name == "" {
			errs = append(errs, fmt.Errorf("%w: module %d has no name", ErrInvalidProfile, i))
			continue
		}
		if seen[m.Name] {
			errs = append(errs, fmt.Errorf("%w: module %s listed twice", ErrInvalidProfile, m.Name))
		}
		seen[m.Name] = true
		for j, r := range m.Roots {
			if err := r.validate(); err != nil {
				errs = append(errs, fmt.Errorf("module %s root %d: %w", m.Name, j, err))
			}
		}
	}
	return errors.Join(errs...)
}

func (r Root) validate() error {
	switch r.Kind {
	case RootClasses, RootEnums, RootOffsets, RootInterfaces:
	default:
		return fmt.Errorf("%w: unknown root kind %q", ErrInvalidProfile, r.Kind)
	}
	if r.Symbol == "" && r.RVA == 0 {
		return fmt.Errorf("%w: root %s needs a symbol or an rva", ErrInvalidProfile, r.Kind)
	}
	return nil
}

// MaxRecordSize bounds every header size, stride, field offset and hop of
// a layout.
const MaxRecordSize = 1 << 16

// Validate checks that fixed-size fields fit their headers and records and
// that no offset is large enough to wrap an address computation.
func (l Layout) Validate() error {
	var errs []error
	bounded := func(what string, v uint64) {
		if v > MaxRecordSize {
			errs = append(errs, fmt.Errorf("%w: %s 0x%x exceeds 0x%x", ErrInvalidProfile, what, v, uint64(MaxRecordSize)))
		}
	}
	fits := func(what string, off, width, size uint64) {
		if off > size || width > size-off {
			errs = append(errs, fmt.Errorf("%w: %s at 0x%x overruns 0x%x", ErrInvalidProfile, what, off, size))
		}
	}
	hops := func(what string, hs []uint64) {
		for i, h := range hs {
			bounded(fmt.Sprintf("%s[%d]", what, i), h)
		}
	}

	bounded("class.header_size", l.Class.HeaderSize)
	bounded("field.stride", l.Field.Stride)
	bounded("enum.header_size", l.Enum.HeaderSize)
	bounded("member.stride", l.Member.Stride)
	bounded("offset.stride", l.Offset.Stride)
	bounded("table.count", l.Table.Count)
	bounded("table.entries", l.Table.Entries)
	bounded("interface.create", l.Interface.Create)
	bounded("interface.name", l.Interface.Name)
	bounded("interface.next", l.Interface.Next)
	hops("class.parent", l.Class.Parent)
	hops("field.type", l.Field.Type)

	fits("class.name", l.Class.Name, 8, l.Class.HeaderSize)
	fits("class.size", l.Class.Size, 4, l.Class.HeaderSize)
	fits("class.field_count", l.Class.FieldCount, 2, l.Class.HeaderSize)
	fits("class.fields", l.Class.Fields, 8, l.Class.HeaderSize)
	fits("field.name", l.Field.Name, 8, l.Field.Stride)
	fits("field.offset", l.Field.Offset, 4, l.Field.Stride)
	fits("enum.name", l.Enum.Name, 8, l.Enum.HeaderSize)
	fits("enum.width", l.Enum.Width, 1, l.Enum.HeaderSize)
	fits("enum.member_count", l.Enum.MemberCount, 2, l.Enum.HeaderSize)
	fits("enum.members", l.Enum.Members, 8, l.Enum.HeaderSize)
	fits("member.name", l.Member.Name, 8, l.Member.Stride)
	fits("member.value", l.Member.Value, 8, l.Member.Stride)
	fits("offset.name", l.Offset.Name, 8, l.Offset.Stride)
	fits("offset.value", l.Offset.Value, 8, l.Offset.Stride)
	fits("offset.comment", l.Offset.Comment, 8, l.Offset.Stride)
	return errors.Join(errs...)
}
