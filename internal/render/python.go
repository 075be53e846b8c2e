package render

import (
	"strconv"

	"schemadump/internal/schema"
)

var pyRules = identRules{keywords: keywordSet(
	"False", "None", "True", "and", "as", "assert", "async", "await", "break", "class",
	"continue", "def", "del", "elif", "else", "except", "finally", "for", "from", "global",
	"if", "import", "in", "is", "lambda", "nonlocal", "not", "or", "pass", "raise", "return",
	"try", "while", "with", "yield",
)}

// Python emits flat constant declarations, one file per module. Every
// constant of a module shares one namespace: <Class>_<field>,
// <Enum>_<member> and bare offset names.
type Python struct{}

func (Python) Format() string { return "py" }

func (Python) Render(m *schema.Model, cfg Config) ([]Artifact, error) {
	return perModule(m, "py", func(mod *schema.Module, _ string) []byte {
		return pyModule(mod)
	}), nil
}

// pyNames names every constant of mod in emission order.
func pyNames(mod *schema.Module) []string {
	var raw []string
	for _, c := range mod.Classes {
		prefix := pyRules.sanitize(c.Name)
		if len(c.Fields) == 0 {
			raw = append(raw, c.Name)
		}
		for _, f := range c.Fields {
			raw = append(raw, prefix+"_"+f.Name)
		}
	}
	for _, e := range mod.Enums {
		prefix := pyRules.sanitize(e.Name)
		if len(e.Members) == 0 {
			raw = append(raw, e.Name)
		}
		for _, mem := range e.Members {
			raw = append(raw, prefix+"_"+mem.Name)
		}
	}
	for _, o := range mod.Offsets {
		raw = append(raw, o.Name)
	}
	return claimAll(newScope(pyRules), raw)
}

func pyModule(mod *schema.Module) []byte {
	w := newCodeWriter(0)
	banner(w, "#", mod)
	names := pyNames(mod)
	next := func() string {
		n := names[0]
		names = names[1:]
		return n
	}

	for _, c := range mod.Classes {
		w.line("")
		w.line("# class %s (size %s, parent %s)", commentText(c.Name), hexValue(c.Size), parentText(c))
		if len(c.Fields) == 0 {
			w.line("%s = None", next())
		}
		for _, f := range c.Fields {
			w.line("%s = %s%s", next(), hexValue(f.Offset), trailing("#", f.Type))
		}
	}

	for _, e := range mod.Enums {
		w.line("")
		w.line("# enum %s (width %d)", commentText(e.Name), e.Width)
		if len(e.Members) == 0 {
			w.line("%s = None", next())
		}
		for _, mem := range e.Members {
			w.line("%s = %s", next(), strconv.FormatInt(mem.Value, 10))
		}
	}

	if len(mod.Offsets) > 0 {
		w.line("")
		w.line("# offsets")
	}
	for _, o := range mod.Offsets {
		w.line("%s = %s%s", next(), hexValue(o.Value), trailing("#", o.Comment))
	}
	return w.bytes()
}
