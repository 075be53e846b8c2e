package walker

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/maypok86/otter"

	"schemadump/internal/coderef"
	"schemadump/internal/diag"
	"schemadump/internal/memport"
	"schemadump/internal/profile"
	"schemadump/internal/resolve"
	"schemadump/internal/schema"
)

// maxBulkRead caps single reads of record tables; larger tables are read
// record by record.
const maxBulkRead = 1 << 20

// codeWindows are the sizes tried when reading the start of a function for
// code reference decoding, largest first so short mappings still decode.
var codeWindows = []int{128, 64, 32, 16}

// moduleWalk is the state of one module traversal. It is confined to one
// goroutine.
type moduleWalk struct {
	opts Options
	lay  profile.Layout
	port memport.Port
	r    memport.Reader
	mod  memport.Module
	out  *schema.Module
	gaps *diag.Gaps
	strs otter.Cache[uint64, string]
	log  *slog.Logger
}

// readGap records a gap for a failed read and returns nil, or returns err
// when it means the port is gone.
func (m *moduleWalk) readGap(err error, scope diag.Scope, entity string, addr uint64, what string) error {
	if memport.IsFatal(err) {
		return err
	}
	kind := diag.KindReadFailed
	switch {
	case errors.Is(err, resolve.ErrNullPointer):
		kind = diag.KindNullPointer
	case errors.Is(err, errEmptyName):
		kind = diag.KindInvalid
	}
	m.note(scope, entity, addr, kind, "%s: %v", what, err)
	return nil
}

func (m *moduleWalk) note(scope diag.Scope, entity string, addr uint64, kind diag.Kind, format string, args ...any) {
	g := m.gaps.Addf(scope, entity, addr, kind, format, args...)
	m.log.Debug("gap", "gap", g.String())
}

// str reads a bounded C string, cached by address.
func (m *moduleWalk) str(addr uint64) (string, error) {
	if addr == 0 {
		return "", resolve.ErrNullPointer
	}
	if s, ok := m.strs.Get(addr); ok {
		return s, nil
	}
	s, truncated, err := resolve.CString(m.r, addr, m.opts.MaxStringLen)
	if err != nil {
		return "", err
	}
	if truncated {
		m.log.Debug("string truncated", "addr", fmt.Sprintf("0x%x", addr), "len", len(s))
	}
	m.strs.Set(addr, s)
	return s, nil
}

var errEmptyName = errors.New("empty name")

// name reads an entity name. Unnamed entities cannot be emitted.
func (m *moduleWalk) name(addr uint64) (string, error) {
	s, err := m.str(addr)
	if err == nil && s == "" {
		return "", errEmptyName
	}
	return s, err
}

func le16(b []byte, off uint64) uint16 { return binary.LittleEndian.Uint16(b[off:]) }
func le32(b []byte, off uint64) uint32 { return binary.LittleEndian.Uint32(b[off:]) }
func le64(b []byte, off uint64) uint64 { return binary.LittleEndian.Uint64(b[off:]) }

// clamp caps a table count at MaxEntries, recording a gap when it does.
func (m *moduleWalk) clamp(n int, scope diag.Scope, entity string, addr uint64) int {
	if n > m.opts.MaxEntries {
		m.note(scope, entity, addr, diag.KindClamped, "count %d clamped to %d", n, m.opts.MaxEntries)
		return m.opts.MaxEntries
	}
	return n
}

// records gives access to n fixed-size records. The table is read in one
// go when possible; otherwise each record is read on its own so one bad
// record does not cost its siblings.
type records struct {
	r      memport.Reader
	base   uint64
	stride uint64
	bulk   []byte
}

func (m *moduleWalk) records(base uint64, n int, stride uint64) *records {
	rs := &records{r: m.r, base: base, stride: stride}
	if total := uint64(n) * stride; n > 0 && total <= maxBulkRead {
		if b, err := resolve.Bytes(m.r, base, int(total)); err == nil {
			rs.bulk = b
		}
	}
	return rs
}

func (rs *records) at(i int) (addr uint64, rec []byte, err error) {
	off := uint64(i) * rs.stride
	addr = rs.base + off
	if rs.bulk != nil {
		return addr, rs.bulk[off : off+rs.stride], nil
	}
	rec, err = resolve.Bytes(rs.r, addr, int(rs.stride))
	return addr, rec, err
}

func (m *moduleWalk) walkRoot(root profile.Root) error {
	label := root.Label()
	addr, err := m.locate(root)
	if err != nil {
		if memport.IsFatal(err) {
			return err
		}
		m.note(diag.ScopeRoot, label, addr, diag.KindRootMissing, "locate: %v", err)
		return nil
	}
	m.log.Debug("root located", "root", label, "addr", fmt.Sprintf("0x%x", addr))

	switch root.Kind {
	case profile.RootClasses:
		return m.walkDescriptors(label, addr, diag.ScopeClass, m.decodeClass)
	case profile.RootEnums:
		return m.walkDescriptors(label, addr, diag.ScopeEnum, m.decodeEnum)
	case profile.RootOffsets:
		return m.walkOffsets(root, label, addr)
	case profile.RootInterfaces:
		return m.walkInterfaces(root, label, addr)
	default:
		m.note(diag.ScopeRoot, label, addr, diag.KindInvalid, "unknown root kind %q", root.Kind)
		return nil
	}
}

// locate resolves the address of a root table.
func (m *moduleWalk) locate(root profile.Root) (uint64, error) {
	var addr uint64
	if root.Symbol != "" {
		a, err := retry(m.opts, func() (uint64, error) {
			return m.port.Export(m.mod, root.Symbol)
		})
		if err != nil {
			return 0, err
		}
		addr = a
	} else {
		a, err := resolve.Add(m.mod.Base, root.RVA)
		if err != nil {
			return 0, err
		}
		addr = a
	}

	if root.CodeRef {
		var code []byte
		var err error
		for _, n := range codeWindows {
			if code, err = resolve.Bytes(m.r, addr, n); err == nil || memport.IsFatal(err) {
				break
			}
		}
		if err != nil {
			return addr, fmt.Errorf("read code: %w", err)
		}
		target, err := coderef.Find(code, addr, m.mod.Arch, 0)
		if err != nil {
			return addr, err
		}
		addr = target
	}

	if len(root.Hops) > 0 {
		a, err := resolve.Follow(m.r, addr, root.Hops...)
		if err != nil {
			return addr, err
		}
		addr = a
	}
	// An empty registration list is a null head.
	if addr == 0 && root.Kind != profile.RootInterfaces {
		return 0, resolve.ErrNullPointer
	}
	return addr, nil
}

// tableHeader reads the count and entry pointer of a root table.
func (m *moduleWalk) tableHeader(label string, table uint64) (n int, entries uint64, ok bool, err error) {
	count, err := resolve.U32(m.r, table+m.lay.Table.Count)
	if err != nil {
		return 0, 0, false, m.readGap(err, diag.ScopeRoot, label, table, "table count")
	}
	entries, err = resolve.Ptr(m.r, table+m.lay.Table.Entries)
	if err != nil {
		return 0, 0, false, m.readGap(err, diag.ScopeRoot, label, table, "table entries")
	}
	if count > 0 && entries == 0 {
		m.note(diag.ScopeRoot, label, table, diag.KindNullPointer, "table of %d entries has no entry array", count)
		return 0, 0, false, nil
	}
	return m.clamp(int(count), diag.ScopeRoot, label, table), entries, true, nil
}

// walkDescriptors decodes a table of descriptor pointers.
func (m *moduleWalk) walkDescriptors(label string, table uint64, scope diag.Scope, decode func(uint64) error) error {
	n, entries, ok, err := m.tableHeader(label, table)
	if !ok {
		return err
	}
	ptrs := m.records(entries, n, resolve.PtrSize)
	for i := 0; i < n; i++ {
		at, rec, err := ptrs.at(i)
		entity := fmt.Sprintf("%s[%d]", label, i)
		if err != nil {
			if err := m.readGap(err, scope, entity, at, "descriptor pointer"); err != nil {
				return err
			}
			continue
		}
		desc := le64(rec, 0)
		if desc == 0 {
			m.note(scope, entity, at, diag.KindNullPointer, "null descriptor")
			continue
		}
		if err := decode(desc); err != nil {
			return err
		}
	}
	return nil
}

// decodeClass decodes one class descriptor. Only a port failure is
// returned; everything else becomes a gap.
func (m *moduleWalk) decodeClass(desc uint64) error {
	cl, fl := m.lay.Class, m.lay.Field

	hdr, err := resolve.Bytes(m.r, desc, int(cl.HeaderSize))
	if err != nil {
		return m.readGap(err, diag.ScopeClass, "", desc, "class header")
	}
	name, err := m.name(le64(hdr, cl.Name))
	if err != nil {
		return m.readGap(err, diag.ScopeClass, "", desc, "class name")
	}

	c := &schema.Class{Name: name, Size: le32(hdr, cl.Size)}
	count := int(le16(hdr, cl.FieldCount))
	fields := le64(hdr, cl.Fields)

	if len(cl.Parent) > 0 {
		parent, err := m.parentName(desc, hdr)
		if err != nil {
			if err := m.readGap(err, diag.ScopeClass, name, desc, "parent"); err != nil {
				return err
			}
		}
		c.Parent = parent
	}

	if count > 0 && fields == 0 {
		m.note(diag.ScopeClass, name, desc, diag.KindNullPointer, "%d fields but no field table", count)
		count = 0
	}
	count = m.clamp(count, diag.ScopeClass, name, desc)
	recs := m.records(fields, count, fl.Stride)
	for i := 0; i < count; i++ {
		at, rec, err := recs.at(i)
		entity := fmt.Sprintf("%s[%d]", name, i)
		if err != nil {
			if err := m.readGap(err, diag.ScopeField, entity, at, "field record"); err != nil {
				return err
			}
			continue
		}
		fname, err := m.name(le64(rec, fl.Name))
		if err != nil {
			if err := m.readGap(err, diag.ScopeField, entity, at, "field name"); err != nil {
				return err
			}
			continue
		}
		f := schema.Field{Name: fname, Offset: le32(rec, fl.Offset)}
		if len(fl.Type) > 0 {
			typ, err := m.typeName(at)
			if err != nil {
				return err
			}
			f.Type = typ
		}
		if err := c.AddField(f); err != nil {
			m.note(diag.ScopeField, name+"::"+fname, at, diag.KindDuplicate, "%v", err)
		}
	}

	if err := m.out.AddClass(c); err != nil {
		m.note(diag.ScopeClass, name, desc, diag.KindDuplicate, "%v", err)
	}
	return nil
}

// parentName resolves the parent class name of a descriptor. A null first
// link means the class has no parent.
func (m *moduleWalk) parentName(desc uint64, hdr []byte) (string, error) {
	hops := m.lay.Class.Parent
	var first uint64
	if hops[0] <= uint64(len(hdr))-resolve.PtrSize {
		first = le64(hdr, hops[0])
	} else {
		p, err := resolve.Ptr(m.r, desc+hops[0])
		if err != nil {
			return "", err
		}
		first = p
	}
	if first == 0 {
		return "", nil
	}
	pdesc, err := resolve.Follow(m.r, first, hops[1:]...)
	if err != nil {
		return "", err
	}
	if pdesc == 0 {
		return "", nil
	}
	np, err := resolve.Ptr(m.r, pdesc+m.lay.Class.Name)
	if err != nil {
		return "", err
	}
	return m.str(np)
}

// typeName reads a field's declared type. It is best effort: only a port
// failure is reported.
func (m *moduleWalk) typeName(rec uint64) (string, error) {
	p, err := resolve.Follow(m.r, rec, m.lay.Field.Type...)
	if err != nil || p == 0 {
		if memport.IsFatal(err) {
			return "", err
		}
		return "", nil
	}
	s, err := m.str(p)
	if memport.IsFatal(err) {
		return "", err
	}
	return s, nil
}

// signExtend narrows raw to width bytes and sign-extends it.
func signExtend(raw uint64, width int) int64 {
	shift := uint(64 - 8*width)
	return int64(raw<<shift) >> shift
}

func (m *moduleWalk) decodeEnum(desc uint64) error {
	el, ml := m.lay.Enum, m.lay.Member

	hdr, err := resolve.Bytes(m.r, desc, int(el.HeaderSize))
	if err != nil {
		return m.readGap(err, diag.ScopeEnum, "", desc, "enum header")
	}
	name, err := m.name(le64(hdr, el.Name))
	if err != nil {
		return m.readGap(err, diag.ScopeEnum, "", desc, "enum name")
	}

	e := &schema.Enum{Name: name, Width: int(hdr[el.Width])}
	if !schema.ValidWidth(e.Width) {
		m.note(diag.ScopeEnum, name, desc, diag.KindInvalid, "width %d, using 8", e.Width)
		e.Width = 8
	}
	count := int(le16(hdr, el.MemberCount))
	members := le64(hdr, el.Members)
	if count > 0 && members == 0 {
		m.note(diag.ScopeEnum, name, desc, diag.KindNullPointer, "%d members but no member table", count)
		count = 0
	}
	count = m.clamp(count, diag.ScopeEnum, name, desc)

	recs := m.records(members, count, ml.Stride)
	for i := 0; i < count; i++ {
		at, rec, err := recs.at(i)
		entity := fmt.Sprintf("%s[%d]", name, i)
		if err != nil {
			if err := m.readGap(err, diag.ScopeMember, entity, at, "member record"); err != nil {
				return err
			}
			continue
		}
		mname, err := m.name(le64(rec, ml.Name))
		if err != nil {
			if err := m.readGap(err, diag.ScopeMember, entity, at, "member name"); err != nil {
				return err
			}
			continue
		}
		mem := schema.Member{Name: mname, Value: signExtend(le64(rec, ml.Value), e.Width)}
		if err := e.AddMember(mem); err != nil {
			m.note(diag.ScopeMember, name+"::"+mname, at, diag.KindDuplicate, "%v", err)
		}
	}

	if err := m.out.AddEnum(e); err != nil {
		m.note(diag.ScopeEnum, name, desc, diag.KindDuplicate, "%v", err)
	}
	return nil
}

// walkOffsets decodes a table of inline offset entries.
func (m *moduleWalk) walkOffsets(root profile.Root, label string, table uint64) error {
	ol := m.lay.Offset
	n, entries, ok, err := m.tableHeader(label, table)
	if !ok {
		return err
	}
	recs := m.records(entries, n, ol.Stride)
	for i := 0; i < n; i++ {
		at, rec, err := recs.at(i)
		entity := fmt.Sprintf("%s[%d]", label, i)
		if err != nil {
			if err := m.readGap(err, diag.ScopeOffset, entity, at, "offset entry"); err != nil {
				return err
			}
			continue
		}
		name, err := m.name(le64(rec, ol.Name))
		if err != nil {
			if err := m.readGap(err, diag.ScopeOffset, entity, at, "offset name"); err != nil {
				return err
			}
			continue
		}
		o := schema.Offset{Name: name, Value: le64(rec, ol.Value), Comment: root.Comment}
		if cp := le64(rec, ol.Comment); cp != 0 {
			comment, err := m.str(cp)
			if memport.IsFatal(err) {
				return err
			}
			if err == nil && comment != "" {
				o.Comment = comment
			}
		}
		if err := m.out.AddOffset(o); err != nil {
			m.note(diag.ScopeOffset, name, at, diag.KindDuplicate, "%v", err)
		}
	}
	return nil
}

// walkInterfaces follows an interface registration list. Each node becomes
// an offset holding its create function relative to the module base.
func (m *moduleWalk) walkInterfaces(root profile.Root, label string, head uint64) error {
	il := m.lay.Interface
	span := int(max(il.Create, il.Name, il.Next) + resolve.PtrSize)
	comment := root.Comment
	if comment == "" {
		comment = "interface"
	}

	visited := make(map[uint64]bool)
	node := head
	for steps := 0; node != 0; steps++ {
		if steps >= m.opts.MaxEntries {
			m.note(diag.ScopeInterface, label, node, diag.KindClamped, "list longer than %d nodes", m.opts.MaxEntries)
			return nil
		}
		if visited[node] {
			m.note(diag.ScopeInterface, label, node, diag.KindInvalid, "list revisits node after %d nodes", steps)
			return nil
		}
		visited[node] = true

		rec, err := resolve.Bytes(m.r, node, span)
		if err != nil {
			return m.readGap(err, diag.ScopeInterface, label, node, "interface node")
		}
		next := le64(rec, il.Next)
		name, err := m.name(le64(rec, il.Name))
		if err != nil {
			if err := m.readGap(err, diag.ScopeInterface, fmt.Sprintf("%s[%d]", label, steps), node, "interface name"); err != nil {
				return err
			}
			node = next
			continue
		}
		create := le64(rec, il.Create)
		if create < m.mod.Base {
			m.note(diag.ScopeInterface, name, node, diag.KindInvalid, "create function 0x%x below module base 0x%x", create, m.mod.Base)
		} else if err := m.out.AddOffset(schema.Offset{Name: name, Value: create - m.mod.Base, Comment: comment}); err != nil {
			m.note(diag.ScopeInterface, name, node, diag.KindDuplicate, "%v", err)
		}
		node = next
	}
	return nil
}

// checkHierarchy records inheritance cycles. The classes stay in the model.
func (m *moduleWalk) checkHierarchy() {
	h := schema.BuildHierarchy(m.out)
	for _, name := range h.Cyclic() {
		c, _ := m.out.Class(name)
		m.note(diag.ScopeClass, name, 0, diag.KindCycle, "parent %s closes an inheritance cycle", c.Parent)
	}
}
