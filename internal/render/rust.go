package render

import (
	"strconv"

	"schemadump/internal/schema"
)

var rsRules = identRules{keywords: keywordSet(
	"_", "as", "async", "await", "break", "const", "continue", "crate", "dyn", "else", "enum",
	"extern", "false", "fn", "for", "if", "impl", "in", "let", "loop", "match", "mod", "move",
	"mut", "pub", "ref", "return", "self", "Self", "static", "struct", "super", "trait",
	"true", "type", "unsafe", "use", "where", "while", "abstract", "become", "box", "do",
	"final", "macro", "override", "priv", "typeof", "unsized", "virtual", "yield", "try",
	"gen", "union",
)}

var rsIntTypes = map[int]string{1: "i8", 2: "i16", 4: "i32", 8: "i64"}

// Rust emits one file per module of nested modules with constants. Enums
// become modules of typed constants since enumerators may share values.
type Rust struct{}

func (Rust) Format() string { return "rs" }

func (Rust) Render(m *schema.Model, cfg Config) ([]Artifact, error) {
	mods := moduleNames(rsRules, m)
	idx := 0
	return perModule(m, "rs", func(mod *schema.Module, _ string) []byte {
		n := planNames(rsRules, mods[idx], mod, nameOptions{group: "offsets"})
		idx++
		return rsModule(mod, n, cfg)
	}), nil
}

func rsModule(mod *schema.Module, n names, cfg Config) []byte {
	w := newCodeWriter(cfg.IndentWidth)
	banner(w, "//", mod)
	w.line("")
	w.line("#![allow(non_upper_case_globals, non_camel_case_types, non_snake_case, unused)]")
	w.line("")
	w.open("pub mod schemadump {")
	w.open("pub mod %s {", n.module)

	for i, c := range mod.Classes {
		w.line("// Parent: %s", parentText(c))
		w.line("// Size: %s", hexValue(c.Size))
		w.open("pub mod %s {", n.classes[i])
		for j, f := range c.Fields {
			w.line("pub const %s: usize = %s;%s", n.fields[i][j], hexValue(f.Offset), trailing("//", f.Type))
		}
		w.close("}")
	}

	for i, e := range mod.Enums {
		w.line("// Width: %d", e.Width)
		w.open("pub mod %s {", n.enums[i])
		for j, mem := range e.Members {
			w.line("pub const %s: %s = %s;", n.members[i][j], rsIntTypes[e.Width], strconv.FormatInt(mem.Value, 10))
		}
		w.close("}")
	}

	w.open("pub mod %s {", n.group)
	for i, o := range mod.Offsets {
		w.line("pub const %s: usize = %s;%s", n.offsets[i], hexValue(o.Value), trailing("//", o.Comment))
	}
	w.close("}")

	w.close("}")
	w.close("}")
	return w.bytes()
}
