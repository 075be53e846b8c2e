package render

import (
	"strconv"

	"schemadump/internal/schema"
)

var csRules = identRules{keywords: keywordSet(
	"abstract", "as", "base", "bool", "break", "byte", "case", "catch", "char", "checked",
	"class", "const", "continue", "decimal", "default", "delegate", "do", "double", "else",
	"enum", "event", "explicit", "extern", "false", "finally", "fixed", "float", "for",
	"foreach", "goto", "if", "implicit", "in", "int", "interface", "internal", "is", "lock",
	"long", "namespace", "new", "null", "object", "operator", "out", "override", "params",
	"private", "protected", "public", "readonly", "ref", "return", "sbyte", "sealed", "short",
	"sizeof", "stackalloc", "static", "string", "struct", "switch", "this", "throw", "true",
	"try", "typeof", "uint", "ulong", "unchecked", "unsafe", "ushort", "using", "virtual",
	"void", "volatile", "while",
)}

var csIntTypes = map[int]string{1: "sbyte", 2: "short", 4: "int", 8: "long"}

// CSharp emits one file per module: a namespace per module, a static class
// per class and per offset group.
type CSharp struct{}

func (CSharp) Format() string { return "cs" }

func (CSharp) Render(m *schema.Model, cfg Config) ([]Artifact, error) {
	mods := moduleNames(csRules, m)
	idx := 0
	return perModule(m, "cs", func(mod *schema.Module, _ string) []byte {
		n := planNames(csRules, mods[idx], mod, nameOptions{group: "Offsets", selfReserve: true})
		idx++
		return csModule(mod, n, cfg)
	}), nil
}

func csModule(mod *schema.Module, n names, cfg Config) []byte {
	w := newCodeWriter(cfg.IndentWidth)
	banner(w, "//", mod)
	w.line("")
	w.open("namespace SchemaDump.%s {", n.module)

	for i, c := range mod.Classes {
		w.line("// Parent: %s", parentText(c))
		w.line("// Size: %s", hexValue(c.Size))
		w.open("public static class %s {", n.classes[i])
		for j, f := range c.Fields {
			w.line("public const uint %s = %s;%s", n.fields[i][j], hexValue(f.Offset), trailing("//", f.Type))
		}
		w.close("}")
	}

	for i, e := range mod.Enums {
		w.line("// Width: %d", e.Width)
		w.open("public enum %s : %s {", n.enums[i], csIntTypes[e.Width])
		for j, mem := range e.Members {
			w.line("%s = %s,", n.members[i][j], strconv.FormatInt(mem.Value, 10))
		}
		w.close("}")
	}

	w.open("public static class %s {", n.group)
	for i, o := range mod.Offsets {
		w.line("public const ulong %s = %s;%s", n.offsets[i], hexValue(o.Value), trailing("//", o.Comment))
	}
	w.close("}")

	w.close("}")
	return w.bytes()
}
