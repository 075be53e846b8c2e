package render

import (
	"fmt"
	"strconv"
	"strings"

	"schemadump/internal/schema"
)

// identRules sanitizes names into identifiers of one target language.
// Illegal characters become '_', a leading digit gets a '_' prefix and
// keywords get a '_' suffix. Valid identifiers pass through unchanged.
type identRules struct {
	keywords map[string]bool
	path     bool // also allow '-', for directory names
	fold     bool // collisions compare case-insensitively
}

func keywordSet(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

func (r identRules) sanitize(name string) string {
	var b strings.Builder
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
			b.WriteByte(c)
		case c >= '0' && c <= '9':
			if i == 0 && !r.path {
				b.WriteByte('_')
			}
			b.WriteByte(c)
		case c == '-' && r.path:
			b.WriteByte(c)
		default:
			b.WriteByte('_')
		}
	}
	s := b.String()
	if s == "" {
		s = "_"
	}
	if r.keywords[s] {
		s += "_"
	}
	return s
}

// scope hands out unique sanitized names within one parent container.
// A name that collides after sanitizing gets the first free _N suffix.
type scope struct {
	rules identRules
	used  map[string]bool
}

func newScope(rules identRules) *scope {
	return &scope{rules: rules, used: make(map[string]bool)}
}

func (s *scope) key(name string) string {
	if s.rules.fold {
		return strings.ToLower(name)
	}
	return name
}

// reserve marks name as taken without sanitizing it.
func (s *scope) reserve(name string) { s.used[s.key(name)] = true }

func (s *scope) claim(name string) string {
	base := s.rules.sanitize(name)
	cand := base
	for n := 1; s.used[s.key(cand)]; n++ {
		cand = fmt.Sprintf("%s_%d", base, n)
	}
	s.used[s.key(cand)] = true
	return cand
}

// claimAll claims every name of raw in one scope. Names that are already
// valid identifiers are claimed first, so they keep their spelling and a
// sanitized neighbor takes the suffix instead. Ties go by position.
func claimAll(s *scope, raw []string) []string {
	out := make([]string, len(raw))
	done := make([]bool, len(raw))
	for i, name := range raw {
		if s.rules.sanitize(name) == name && !s.used[s.key(name)] {
			out[i] = s.claim(name)
			done[i] = true
		}
	}
	for i, name := range raw {
		if !done[i] {
			out[i] = s.claim(name)
		}
	}
	return out
}

var pathRules = identRules{path: true, fold: true}

func moduleNameList(m *schema.Model) []string {
	out := make([]string, len(m.Modules))
	for i, mod := range m.Modules {
		out[i] = mod.Name
	}
	return out
}

// moduleDirs assigns every module a unique directory name.
func moduleDirs(m *schema.Model) []string {
	return claimAll(newScope(pathRules), moduleNameList(m))
}

// hexValue is the canonical hex form of offsets and sizes.
func hexValue[T uint32 | uint64](v T) string {
	return fmt.Sprintf("0x%X", uint64(v))
}

// commentText makes s safe for a single-line comment in any format. Text
// that would end the line in a backslash, or its trigraph, is quoted so a
// C-family compiler cannot splice the next line into the comment.
func commentText(s string) string {
	s = strings.ReplaceAll(s, "*/", "* /")
	s = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return '?'
		}
		return r
	}, s)
	if strings.HasSuffix(s, `\`) || strings.HasSuffix(s, "??/") {
		return strconv.Quote(s)
	}
	return s
}

// names is the sanitized naming of one module for a C-like format.
type names struct {
	module  string
	classes []string
	fields  [][]string
	enums   []string
	members [][]string
	offsets []string
	group   string // container for named offsets
}

// nameOptions tunes planNames per format.
type nameOptions struct {
	group       string // desired name of the offsets container
	selfReserve bool   // members may not reuse their container's name
}

// planNames sanitizes every name of mod. Classes, enums and the offsets
// container share the module scope since they are declared side by side.
func planNames(rules identRules, module string, mod *schema.Module, opt nameOptions) names {
	n := names{module: module}
	var raw []string
	for _, c := range mod.Classes {
		raw = append(raw, c.Name)
	}
	for _, e := range mod.Enums {
		raw = append(raw, e.Name)
	}
	raw = append(raw, opt.group)
	top := claimAll(newScope(rules), raw)
	n.classes = top[:len(mod.Classes)]
	n.enums = top[len(mod.Classes) : len(mod.Classes)+len(mod.Enums)]
	n.group = top[len(top)-1]

	for i, c := range mod.Classes {
		s := newScope(rules)
		if opt.selfReserve {
			s.reserve(n.classes[i])
		}
		fs := make([]string, len(c.Fields))
		for j, f := range c.Fields {
			fs[j] = f.Name
		}
		n.fields = append(n.fields, claimAll(s, fs))
	}
	for i, e := range mod.Enums {
		s := newScope(rules)
		if opt.selfReserve {
			s.reserve(n.enums[i])
		}
		ms := make([]string, len(e.Members))
		for j, mem := range e.Members {
			ms[j] = mem.Name
		}
		n.members = append(n.members, claimAll(s, ms))
	}
	s := newScope(rules)
	if opt.selfReserve {
		s.reserve(n.group)
	}
	offs := make([]string, len(mod.Offsets))
	for i, o := range mod.Offsets {
		offs[i] = o.Name
	}
	n.offsets = claimAll(s, offs)
	return n
}

// moduleNames sanitizes the module segment of every module in one scope.
func moduleNames(rules identRules, m *schema.Model) []string {
	return claimAll(newScope(rules), moduleNameList(m))
}
