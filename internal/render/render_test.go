package render

import (
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"schemadump/internal/schema"
)

// scenarioModel is module A with class Foo { bar @ 0x8 }. Module B was
// lost to a gap and so is absent.
func scenarioModel() *schema.Model {
	return &schema.Model{Modules: []*schema.Module{{
		Name: "A",
		Classes: []*schema.Class{{
			Name:   "Foo",
			Size:   0x10,
			Fields: []schema.Field{{Name: "bar", Offset: 0x8}},
		}},
	}}}
}

func richModel() *schema.Model {
	return &schema.Model{Modules: []*schema.Module{
		{
			Name: "client.dll",
			Classes: []*schema.Class{
				{Name: "C_BaseEntity", Size: 0x40, Parent: "CEntityInstance", Fields: []schema.Field{
					{Name: "m_iHealth", Offset: 0x34, Type: "int32"},
					{Name: "m_vecOrigin", Offset: 0x38, Type: "Vector"},
				}},
				{Name: "C_Player", Size: 0x80, Parent: "C_BaseEntity", Fields: []schema.Field{
					{Name: "m_hPawn", Offset: 0x40},
				}},
				{Name: "CEmpty", Size: 0x1},
			},
			Enums: []*schema.Enum{
				{Name: "ETeam", Width: 1, Members: []schema.Member{{Name: "TEAM_NONE", Value: 0}, {Name: "TEAM_INVALID", Value: -1}}},
				{Name: "EFlags", Width: 8, Members: []schema.Member{{Name: "FLAG_MIN", Value: math.MinInt64}}},
			},
			Offsets: []schema.Offset{
				{Name: "dwEntityList", Value: 0x1A2B3C, Comment: "entity list"},
				{Name: "dwLocalPlayer", Value: 0x30},
			},
		},
		{
			Name:    "engine2.dll",
			Offsets: []schema.Offset{{Name: "Source2EngineToClient001", Value: 0x120, Comment: "interface"}},
		},
	}}
}

func renderFormat(t *testing.T, format string, m *schema.Model, indent int) []Artifact {
	t.Helper()
	e, ok := Default().Lookup(format)
	require.True(t, ok, format)
	arts, err := e.Render(m, Config{IndentWidth: indent})
	require.NoError(t, err)
	return arts
}

func TestScenario_HeaderDeclaration(t *testing.T) {
	arts := renderFormat(t, "hpp", scenarioModel(), 4)
	require.Len(t, arts, 1)
	assert.Equal(t, "A/A.hpp", arts[0].Path)

	want := `// Generated by schemadump. Do not edit.
// Module: A
// Classes: 1, Enums: 0, Offsets: 0

#pragma once

#include <cstddef>
#include <cstdint>

namespace schemadump {
    namespace A {
        // Parent: None
        // Size: 0x10
        namespace Foo {
            constexpr std::ptrdiff_t bar = 0x8;
        }
        namespace offsets {
        }
    }
}
`
	assert.Equal(t, want, string(arts[0].Content))
}

func TestScenario_JSONDocument(t *testing.T) {
	arts := renderFormat(t, "json", scenarioModel(), 4)
	require.Len(t, arts, 1)
	assert.Equal(t, "schema.json", arts[0].Path)
	assert.Contains(t, string(arts[0].Content), "\n    \"A\": {")

	var doc map[string]struct {
		Classes map[string]struct {
			Size   uint32  `json:"size"`
			Parent *string `json:"parent"`
			Fields map[string]struct {
				Offset uint32 `json:"offset"`
			} `json:"fields"`
		} `json:"classes"`
	}
	require.NoError(t, json.Unmarshal(arts[0].Content, &doc))
	require.Contains(t, doc, "A")
	assert.NotContains(t, doc, "B")
	foo := doc["A"].Classes["Foo"]
	assert.Equal(t, uint32(0x10), foo.Size)
	assert.Nil(t, foo.Parent)
	assert.Equal(t, uint32(8), foo.Fields["bar"].Offset)
}

func TestJSON_KeepsModelOrder(t *testing.T) {
	arts := renderFormat(t, "json", richModel(), 2)
	out := string(arts[0].Content)
	assert.Less(t, strings.Index(out, `"client.dll"`), strings.Index(out, `"engine2.dll"`))
	assert.Less(t, strings.Index(out, `"C_BaseEntity"`), strings.Index(out, `"C_Player"`))
	assert.Less(t, strings.Index(out, `"m_iHealth"`), strings.Index(out, `"m_vecOrigin"`))
	assert.Contains(t, out, `"TEAM_INVALID": -1`)
}

func TestYAML_Document(t *testing.T) {
	arts := renderFormat(t, "yaml", richModel(), 2)
	require.Len(t, arts, 1)
	assert.Equal(t, "schema.yaml", arts[0].Path)

	var doc map[string]map[string]map[string]any
	require.NoError(t, yaml.Unmarshal(arts[0].Content, &doc))
	require.Contains(t, doc, "client.dll")
	assert.Contains(t, doc["client.dll"]["classes"], "C_Player")
	assert.Contains(t, doc["client.dll"]["enums"], "ETeam")
	assert.Contains(t, doc["engine2.dll"]["offsets"], "Source2EngineToClient001")
}

func TestRender_Deterministic(t *testing.T) {
	for _, f := range Default().Formats() {
		t.Run(f, func(t *testing.T) {
			a := renderFormat(t, f, richModel(), 4)
			b := renderFormat(t, f, richModel(), 4)
			assert.Equal(t, a, b)
		})
	}
}

func TestRender_EveryEntityInEveryFormat(t *testing.T) {
	m := richModel()
	for _, f := range Default().Formats() {
		t.Run(f, func(t *testing.T) {
			var all strings.Builder
			for _, a := range renderFormat(t, f, m, 4) {
				all.Write(a.Content)
			}
			out := all.String()
			for _, mod := range m.Modules {
				for _, c := range mod.Classes {
					assert.Contains(t, out, c.Name)
					for _, fld := range c.Fields {
						assert.Contains(t, out, fld.Name)
					}
				}
				for _, e := range mod.Enums {
					assert.Contains(t, out, e.Name)
					for _, mem := range e.Members {
						assert.Contains(t, out, mem.Name)
					}
				}
				for _, o := range mod.Offsets {
					assert.Contains(t, out, o.Name)
				}
			}
		})
	}
}

func TestRender_PerModuleLayout(t *testing.T) {
	cases := map[string][]string{
		"hpp": {"client_dll/client_dll.hpp", "engine2_dll/engine2_dll.hpp"},
		"cs":  {"client_dll/client_dll.cs", "engine2_dll/engine2_dll.cs"},
		"rs":  {"client_dll/client_dll.rs", "engine2_dll/engine2_dll.rs"},
		"py":  {"client_dll/client_dll.py", "engine2_dll/engine2_dll.py"},
		"dot": {
			"client_dll/client_dll.dot", "client_dll/client_dll.layout.dot",
			"engine2_dll/engine2_dll.dot", "engine2_dll/engine2_dll.layout.dot",
		},
	}
	for f, want := range cases {
		var got []string
		for _, a := range renderFormat(t, f, richModel(), 4) {
			got = append(got, a.Path)
		}
		assert.Equal(t, want, got, f)
	}
}

func TestCpp_EnumsAndOffsets(t *testing.T) {
	out := string(renderFormat(t, "hpp", richModel(), 4)[0].Content)
	assert.Contains(t, out, "enum class ETeam : int8_t {")
	assert.Contains(t, out, "TEAM_INVALID = -1,")
	assert.Contains(t, out, "FLAG_MIN = (-9223372036854775807 - 1),")
	assert.Contains(t, out, "constexpr std::uintptr_t dwEntityList = 0x1A2B3C; // entity list")
	assert.Contains(t, out, "constexpr std::ptrdiff_t m_iHealth = 0x34; // int32")
	assert.Contains(t, out, "// Parent: CEntityInstance")
}

func TestCSharp_Shape(t *testing.T) {
	out := string(renderFormat(t, "cs", richModel(), 4)[0].Content)
	assert.Contains(t, out, "namespace SchemaDump.client_dll {")
	assert.Contains(t, out, "    public static class C_Player {")
	assert.Contains(t, out, "        public const uint m_hPawn = 0x40;")
	assert.Contains(t, out, "public enum ETeam : sbyte {")
	assert.Contains(t, out, "public enum EFlags : long {")
	assert.Contains(t, out, "public static class Offsets {")
	assert.Contains(t, out, "public const ulong dwLocalPlayer = 0x30;")
}

func TestRust_IndentWidth(t *testing.T) {
	out := string(renderFormat(t, "rs", richModel(), 2)[0].Content)
	assert.Contains(t, out, "pub mod schemadump {\n  pub mod client_dll {\n")
	assert.Contains(t, out, "      pub const m_iHealth: usize = 0x34; // int32\n")
	assert.Contains(t, out, "pub const TEAM_INVALID: i8 = -1;")
	assert.Contains(t, out, "pub mod offsets {")
}

func TestPython_FlatNames(t *testing.T) {
	out := string(renderFormat(t, "py", richModel(), 4)[0].Content)
	assert.Contains(t, out, "C_BaseEntity_m_iHealth = 0x34 # int32\n")
	assert.Contains(t, out, "C_Player_m_hPawn = 0x40\n")
	assert.Contains(t, out, "CEmpty = None\n")
	assert.Contains(t, out, "ETeam_TEAM_INVALID = -1\n")
	assert.Contains(t, out, "dwEntityList = 0x1A2B3C # entity list\n")
}

func TestDot_Graphs(t *testing.T) {
	arts := renderFormat(t, "dot", richModel(), 4)
	require.Len(t, arts, 4)
	hier := string(arts[0].Content)
	assert.Contains(t, hier, "digraph")
	assert.Contains(t, hier, "C_Player")
	assert.Contains(t, hier, "CEntityInstance")
	layout := string(arts[1].Content)
	assert.Contains(t, layout, "m_vecOrigin")
	assert.Contains(t, layout, "TEAM_NONE")
	assert.Contains(t, layout, "dwEntityList")
}

func TestCodeFormats_SanitizeNames(t *testing.T) {
	m := &schema.Model{Modules: []*schema.Module{{
		Name: "client.dll",
		Classes: []*schema.Class{{Name: "CUtlVector<int>", Size: 8, Fields: []schema.Field{
			{Name: "class", Offset: 0},
			{Name: "m-a", Offset: 4},
			{Name: "m_a", Offset: 8},
			{Name: "3d", Offset: 12},
		}}},
	}}}
	out := string(renderFormat(t, "hpp", m, 4)[0].Content)
	assert.Contains(t, out, "namespace CUtlVector_int_ {")
	assert.Contains(t, out, "constexpr std::ptrdiff_t class_ = 0x0;")
	assert.Contains(t, out, "constexpr std::ptrdiff_t m_a_1 = 0x4;")
	assert.Contains(t, out, "constexpr std::ptrdiff_t m_a = 0x8;")
	assert.Contains(t, out, "constexpr std::ptrdiff_t _3d = 0xC;")
}

func TestCSharp_MemberMayNotShareClassName(t *testing.T) {
	m := &schema.Model{Modules: []*schema.Module{{
		Name:    "m",
		Classes: []*schema.Class{{Name: "Foo", Fields: []schema.Field{{Name: "Foo", Offset: 8}}}},
	}}}
	out := string(renderFormat(t, "cs", m, 4)[0].Content)
	assert.Contains(t, out, "public const uint Foo_1 = 0x8;")
}

func TestCodeFormats_ValidNamesAreNotRenamed(t *testing.T) {
	m := &schema.Model{Modules: []*schema.Module{{
		Name: "m",
		Classes: []*schema.Class{
			{Name: "a.b", Size: 8, Fields: []schema.Field{{Name: "x", Offset: 0}}},
			{Name: "a_b", Size: 8, Fields: []schema.Field{{Name: "y", Offset: 4}}},
		},
	}}}
	hpp := string(renderFormat(t, "hpp", m, 4)[0].Content)
	assert.Contains(t, hpp, "namespace a_b_1 {")
	assert.Contains(t, hpp, "namespace a_b {")
	assert.Less(t, strings.Index(hpp, "namespace a_b_1 {"), strings.Index(hpp, "namespace a_b {"))

	py := string(renderFormat(t, "py", m, 4)[0].Content)
	assert.Contains(t, py, "a_b_x = 0x0\n")
	assert.Contains(t, py, "a_b_y = 0x4\n")

	m.Modules[0].Classes = []*schema.Class{{Name: "C", Fields: []schema.Field{
		{Name: "m-a", Offset: 4},
		{Name: "m_a", Offset: 8},
	}}}
	py = string(renderFormat(t, "py", m, 4)[0].Content)
	assert.Contains(t, py, "C_m_a_1 = 0x4\n")
	assert.Contains(t, py, "C_m_a = 0x8\n")
}

func TestCpp_TrailingBackslashDoesNotSpliceComment(t *testing.T) {
	m := &schema.Model{Modules: []*schema.Module{{
		Name: "m",
		Classes: []*schema.Class{{Name: "Foo", Size: 0x18, Fields: []schema.Field{
			{Name: "a", Offset: 0x8, Type: `C:\`},
			{Name: "b", Offset: 0x10},
		}}},
	}}}
	for _, format := range []string{"hpp", "cs", "rs"} {
		out := string(renderFormat(t, format, m, 4)[0].Content)
		for _, line := range strings.Split(out, "\n") {
			assert.False(t, strings.HasSuffix(line, `\`), "%s: %q", format, line)
		}
	}
	hpp := string(renderFormat(t, "hpp", m, 4)[0].Content)
	assert.Contains(t, hpp, `constexpr std::ptrdiff_t a = 0x8; // "C:\\"`)
	assert.Contains(t, hpp, "constexpr std::ptrdiff_t b = 0x10;")
}
