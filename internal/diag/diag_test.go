package diag

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGaps(t *testing.T) {
	d := NewGaps("client.dll")
	assert.Zero(t, d.Len())

	g := d.Addf(ScopeField, "C_Player.m_hPawn", 0x1000, KindNullPointer, "name pointer at +0x%x", 0)
	assert.Equal(t, Gap{
		Module:  "client.dll",
		Scope:   ScopeField,
		Entity:  "C_Player.m_hPawn",
		Address: 0x1000,
		Kind:    KindNullPointer,
		Msg:     "name pointer at +0x0",
	}, g)
	d.Add(ScopeModule, "", 0, KindModuleMissing, "not loaded")

	assert.Equal(t, 2, d.Len())
	assert.Equal(t, g, d.Items()[0])
	assert.Equal(t, "[null_pointer] field client.dll/C_Player.m_hPawn 0x1000: name pointer at +0x0", g.String())
	assert.Equal(t, "[module_missing] module client.dll 0x0: not loaded", d.Items()[1].String())
}

func TestCountByModule(t *testing.T) {
	gaps := []Gap{{Module: "a"}, {Module: "b"}, {Module: "a"}}
	assert.Equal(t, map[string]int{"a": 2, "b": 1}, CountByModule(gaps))
	assert.Empty(t, CountByModule(nil))
}
