package profile

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	p := Default()
	require.NoError(t, p.Validate())
	require.Len(t, p.Modules, 5)
	assert.Equal(t, "client.dll", p.Modules[0].Name)
	for _, m := range p.Modules {
		assert.Equal(t, DefaultRoots(), m.Roots)
	}
}

func TestRoot_Label(t *testing.T) {
	assert.Equal(t, "types", Root{Kind: RootClasses, Name: "types", Symbol: "g_X"}.Label())
	assert.Equal(t, "enums@g_SchemaEnumTable", Root{Kind: RootEnums, Symbol: "g_SchemaEnumTable"}.Label())
	assert.Equal(t, "offsets@+0x1a20", Root{Kind: RootOffsets, RVA: 0x1A20}.Label())
}

func TestValidate_Modules(t *testing.T) {
	p := Profile{Layout: DefaultLayout(), Modules: []Module{
		{Name: "a.dll", Roots: []Root{{Kind: "vtables", Symbol: "x"}}},
		{Name: "a.dll"},
		{Name: ""},
		{Name: "b.dll", Roots: []Root{{Kind: RootClasses}}},
	}}
	err := p.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidProfile)
	assert.Contains(t, err.Error(), `unknown root kind "vtables"`)
	assert.Contains(t, err.Error(), "a.dll listed twice")
	assert.Contains(t, err.Error(), "module 2 has no name")
	assert.Contains(t, err.Error(), "needs a symbol or an rva")
}

func TestValidate_Layout(t *testing.T) {
	l := DefaultLayout()
	require.NoError(t, l.Validate())

	l.Class.HeaderSize = 0x10
	l.Member.Stride = 8
	err := l.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidProfile)
	assert.Contains(t, err.Error(), "class.fields at 0x10 overruns 0x10")
	assert.Contains(t, err.Error(), "member.value at 0x8 overruns 0x8")
	assert.NotContains(t, err.Error(), "class.name")
}

func TestValidate_LayoutOffsetsCannotWrap(t *testing.T) {
	cases := map[string]func(*Layout){
		"class name":      func(l *Layout) { l.Class.Name = math.MaxUint64 - 3 },
		"member value":    func(l *Layout) { l.Member.Value = math.MaxUint64 - 7 },
		"header size":     func(l *Layout) { l.Class.HeaderSize = math.MaxUint64 },
		"interface next":  func(l *Layout) { l.Interface.Next = math.MaxUint64 - 7 },
		"interface name":  func(l *Layout) { l.Interface.Name = MaxRecordSize + 1 },
		"table entries":   func(l *Layout) { l.Table.Entries = math.MaxUint64 },
		"parent hop":      func(l *Layout) { l.Class.Parent = []uint64{0x18, math.MaxUint64} },
		"field type hop":  func(l *Layout) { l.Field.Type = []uint64{math.MaxUint64 - 7} },
		"stride too wide": func(l *Layout) { l.Offset.Stride = MaxRecordSize * 2 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			l := DefaultLayout()
			mutate(&l)
			assert.ErrorIs(t, l.Validate(), ErrInvalidProfile)
		})
	}

	l := DefaultLayout()
	l.Class.HeaderSize = MaxRecordSize
	l.Interface.Next = MaxRecordSize
	assert.NoError(t, l.Validate())
}
