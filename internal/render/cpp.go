package render

import (
	"math"
	"strconv"

	"schemadump/internal/schema"
)

var cppRules = identRules{keywords: keywordSet(
	"alignas", "alignof", "and", "and_eq", "asm", "auto", "bitand", "bitor", "bool", "break",
	"case", "catch", "char", "char8_t", "char16_t", "char32_t", "class", "compl", "concept",
	"const", "consteval", "constexpr", "constinit", "const_cast", "continue", "co_await",
	"co_return", "co_yield", "decltype", "default", "delete", "do", "double", "dynamic_cast",
	"else", "enum", "explicit", "export", "extern", "false", "float", "for", "friend", "goto",
	"if", "inline", "int", "long", "mutable", "namespace", "new", "noexcept", "not", "not_eq",
	"nullptr", "operator", "or", "or_eq", "private", "protected", "public", "register",
	"reinterpret_cast", "requires", "return", "short", "signed", "sizeof", "static",
	"static_assert", "static_cast", "struct", "switch", "template", "this", "thread_local",
	"throw", "true", "try", "typedef", "typeid", "typename", "union", "unsigned", "using",
	"virtual", "void", "volatile", "wchar_t", "while", "xor", "xor_eq", "std",
)}

var cppIntTypes = map[int]string{1: "int8_t", 2: "int16_t", 4: "int32_t", 8: "int64_t"}

// cppInt spells v as a C++ integer literal. The most negative int64 has no
// literal form.
func cppInt(v int64) string {
	if v == math.MinInt64 {
		return "(-9223372036854775807 - 1)"
	}
	return strconv.FormatInt(v, 10)
}

// Cpp emits one header per module with nested namespaces mirroring
// module -> class containment.
type Cpp struct{}

func (Cpp) Format() string { return "hpp" }

func (Cpp) Render(m *schema.Model, cfg Config) ([]Artifact, error) {
	mods := moduleNames(cppRules, m)
	idx := 0
	return perModule(m, "hpp", func(mod *schema.Module, _ string) []byte {
		n := planNames(cppRules, mods[idx], mod, nameOptions{group: "offsets"})
		idx++
		return cppModule(mod, n, cfg)
	}), nil
}

func cppModule(mod *schema.Module, n names, cfg Config) []byte {
	w := newCodeWriter(cfg.IndentWidth)
	banner(w, "//", mod)
	w.line("")
	w.line("#pragma once")
	w.line("")
	w.line("#include <cstddef>")
	w.line("#include <cstdint>")
	w.line("")
	w.open("namespace schemadump {")
	w.open("namespace %s {", n.module)

	for i, c := range mod.Classes {
		w.line("// Parent: %s", parentText(c))
		w.line("// Size: %s", hexValue(c.Size))
		w.open("namespace %s {", n.classes[i])
		for j, f := range c.Fields {
			w.line("constexpr std::ptrdiff_t %s = %s;%s", n.fields[i][j], hexValue(f.Offset), trailing("//", f.Type))
		}
		w.close("}")
	}

	for i, e := range mod.Enums {
		w.line("// Width: %d", e.Width)
		w.open("enum class %s : %s {", n.enums[i], cppIntTypes[e.Width])
		for j, mem := range e.Members {
			w.line("%s = %s,", n.members[i][j], cppInt(mem.Value))
		}
		w.close("};")
	}

	w.open("namespace %s {", n.group)
	for i, o := range mod.Offsets {
		w.line("constexpr std::uintptr_t %s = %s;%s", n.offsets[i], hexValue(o.Value), trailing("//", o.Comment))
	}
	w.close("}")

	w.close("}")
	w.close("}")
	return w.bytes()
}
