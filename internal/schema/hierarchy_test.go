package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildHierarchy(t *testing.T) {
	m := &Module{Name: "client.dll", Classes: []*Class{
		{Name: "C_BaseEntity", Parent: "CEntityInstance"},
		{Name: "C_BaseModelEntity", Parent: "C_BaseEntity"},
		{Name: "C_Player", Parent: "C_BaseModelEntity"},
		{Name: "CGlobals"},
	}}
	h := BuildHierarchy(m)

	assert.Equal(t, []Edge{
		{Child: "C_BaseEntity", Parent: "CEntityInstance"},
		{Child: "C_BaseModelEntity", Parent: "C_BaseEntity"},
		{Child: "C_Player", Parent: "C_BaseModelEntity"},
	}, h.Edges())
	assert.Equal(t, []string{"CEntityInstance"}, h.External())
	assert.Empty(t, h.Cyclic())

	assert.Equal(t, 3, h.Depth("C_Player"))
	assert.Equal(t, 0, h.Depth("CGlobals"))
	assert.Equal(t, 0, h.Depth("CEntityInstance"))
}

func TestBuildHierarchy_Cycles(t *testing.T) {
	m := &Module{Name: "m", Classes: []*Class{
		{Name: "A", Parent: "B"},
		{Name: "B", Parent: "A"},
		{Name: "Self", Parent: "Self"},
	}}
	h := BuildHierarchy(m)

	assert.Equal(t, []Edge{{Child: "A", Parent: "B"}}, h.Edges())
	assert.Equal(t, []string{"B", "Self"}, h.Cyclic())
	assert.Equal(t, 1, h.Depth("A"))
}
