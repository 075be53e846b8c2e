// Package walkertest builds in-memory targets laid out the way the default
// reflection profile expects, for tests of the walker and its consumers.
package walkertest

import (
	"encoding/binary"

	"schemadump/internal/memport"
	"schemadump/internal/memport/memimage"
	"schemadump/internal/profile"
)

// ModuleSize is the span registered for every fixture module.
const ModuleSize = 0x4000

// Field describes one field record. Type is optional.
type Field struct {
	Name   string
	Offset uint32
	Type   string
}

// Member describes one enumerator.
type Member struct {
	Name  string
	Value uint64 // raw, before narrowing
}

// Offset describes one entry of the offset table. Comment is optional.
type Offset struct {
	Name    string
	Value   uint64
	Comment string
}

// Target is a memimage.Image plus the modules written into it.
type Target struct {
	Image  *memimage.Image
	Layout profile.Layout
}

// New returns an empty target using the default layout.
func New() *Target {
	return &Target{Image: memimage.New(), Layout: profile.DefaultLayout()}
}

// Module starts a module. Nothing is exported until Finish.
func (t *Target) Module(name string) *Module {
	base := t.Image.Alloc(ModuleSize)
	mod := t.Image.AddModule(name, base, ModuleSize, memport.ArchX8664)
	return &Module{t: t, Mod: mod}
}

// Module accumulates the tables of one fixture module.
type Module struct {
	t          *Target
	Mod        memport.Module
	classes    []uint64
	enums      []uint64
	offsets    []Offset
	interfaces []iface
}

type iface struct {
	name   string
	create uint64
}

func (m *Module) im() *memimage.Image { return m.t.Image }

// Class writes a class descriptor and adds it to the class table. It
// returns the descriptor address.
func (m *Module) Class(name string, size uint32, fields ...Field) uint64 {
	desc := m.RawClass(name, size, fields...)
	m.classes = append(m.classes, desc)
	return desc
}

// RawClass writes a class descriptor without listing it.
func (m *Module) RawClass(name string, size uint32, fields ...Field) uint64 {
	cl, fl := m.t.Layout.Class, m.t.Layout.Field
	im := m.im()
	desc := im.Alloc(int(cl.HeaderSize))
	im.PutPtr(desc+cl.Name, im.CString(name))
	im.PutU32(desc+cl.Size, size)
	im.PutU16(desc+cl.FieldCount, uint16(len(fields)))
	if len(fields) > 0 {
		tbl := im.Alloc(len(fields) * int(fl.Stride))
		for i, f := range fields {
			rec := tbl + uint64(i)*fl.Stride
			im.PutPtr(rec+fl.Name, im.CString(f.Name))
			im.PutU32(rec+fl.Offset, f.Offset)
			if f.Type != "" {
				// record+Type[0] -> type info; info+Type[1] -> name
				info := im.Alloc(0x10)
				im.PutPtr(info+fl.Type[1], im.CString(f.Type))
				im.PutPtr(rec+fl.Type[0], info)
			}
		}
		im.PutPtr(desc+cl.Fields, tbl)
	}
	return desc
}

// FieldTable returns the address of the field records of desc.
func (m *Module) FieldTable(desc uint64) uint64 {
	var b [8]byte
	_ = m.im().Read(desc+m.t.Layout.Class.Fields, b[:])
	return binary.LittleEndian.Uint64(b[:])
}

// SetParent links child to the parent descriptor through the base class
// record the default layout expects.
func (m *Module) SetParent(child, parent uint64) {
	hops := m.t.Layout.Class.Parent
	im := m.im()
	link := im.Alloc(int(hops[1]) + 8)
	im.PutPtr(link+hops[1], parent)
	im.PutPtr(child+hops[0], link)
}

// Enum writes an enum descriptor and adds it to the enum table.
func (m *Module) Enum(name string, width uint8, members ...Member) uint64 {
	el, ml := m.t.Layout.Enum, m.t.Layout.Member
	im := m.im()
	desc := im.Alloc(int(el.HeaderSize))
	im.PutPtr(desc+el.Name, im.CString(name))
	im.PutU8(desc+el.Width, width)
	im.PutU16(desc+el.MemberCount, uint16(len(members)))
	if len(members) > 0 {
		tbl := im.Alloc(len(members) * int(ml.Stride))
		for i, mem := range members {
			rec := tbl + uint64(i)*ml.Stride
			im.PutPtr(rec+ml.Name, im.CString(mem.Name))
			im.PutU64(rec+ml.Value, mem.Value)
		}
		im.PutPtr(desc+el.Members, tbl)
	}
	m.enums = append(m.enums, desc)
	return desc
}

// NullClass adds a null entry to the class table.
func (m *Module) NullClass() { m.classes = append(m.classes, 0) }

// Offset adds an entry to the offset table.
func (m *Module) Offset(name string, value uint64, comment string) {
	m.offsets = append(m.offsets, Offset{Name: name, Value: value, Comment: comment})
}

// Interface adds a registration whose create function lies at base+rva.
func (m *Module) Interface(name string, rva uint64) {
	m.interfaces = append(m.interfaces, iface{name: name, create: m.Mod.Base + rva})
}

// Finish writes the root tables and exports them under the default root
// symbols. It returns the interface list head, or 0 when there is none.
func (m *Module) Finish() (ifaceHead uint64) {
	lay := m.t.Layout
	im := m.im()
	name := m.Mod.Name

	im.AddExport(name, "g_SchemaClassTable", m.ptrTable(m.classes))
	im.AddExport(name, "g_SchemaEnumTable", m.ptrTable(m.enums))

	ol := lay.Offset
	otbl := im.Alloc(int(lay.Table.Entries) + 8)
	im.PutU32(otbl+lay.Table.Count, uint32(len(m.offsets)))
	if len(m.offsets) > 0 {
		recs := im.Alloc(len(m.offsets) * int(ol.Stride))
		for i, o := range m.offsets {
			rec := recs + uint64(i)*ol.Stride
			im.PutPtr(rec+ol.Name, im.CString(o.Name))
			im.PutU64(rec+ol.Value, o.Value)
			if o.Comment != "" {
				im.PutPtr(rec+ol.Comment, im.CString(o.Comment))
			}
		}
		im.PutPtr(otbl+lay.Table.Entries, recs)
	}
	im.AddExport(name, "g_OffsetTable", otbl)

	il := lay.Interface
	var prev uint64
	for i := len(m.interfaces) - 1; i >= 0; i-- {
		node := im.Alloc(int(il.Next) + 8)
		im.PutPtr(node+il.Create, m.interfaces[i].create)
		im.PutPtr(node+il.Name, im.CString(m.interfaces[i].name))
		im.PutPtr(node+il.Next, prev)
		prev = node
	}
	ifaceHead = prev

	// CreateInterface: mov rax, [rip+disp32]; ret. The global holds the
	// list head.
	global := im.Alloc(8)
	im.PutPtr(global, ifaceHead)
	code := im.Alloc(128)
	disp := int32(int64(global) - int64(code+7))
	insn := []byte{0x48, 0x8B, 0x05, 0, 0, 0, 0, 0xC3}
	binary.LittleEndian.PutUint32(insn[3:], uint32(disp))
	im.Write(code, insn)
	im.AddExport(name, "CreateInterface", code)
	return ifaceHead
}

func (m *Module) ptrTable(ptrs []uint64) uint64 {
	lay := m.t.Layout.Table
	im := m.im()
	tbl := im.Alloc(int(lay.Entries) + 8)
	im.PutU32(tbl+lay.Count, uint32(len(ptrs)))
	if len(ptrs) > 0 {
		arr := im.Alloc(len(ptrs) * 8)
		for i, p := range ptrs {
			im.PutPtr(arr+uint64(i)*8, p)
		}
		im.PutPtr(tbl+lay.Entries, arr)
	}
	return tbl
}

// Profile returns profile modules with the default roots for names.
func Profile(names ...string) []profile.Module {
	out := make([]profile.Module, len(names))
	for i, n := range names {
		out[i] = profile.Module{Name: n, Roots: profile.DefaultRoots()}
	}
	return out
}
