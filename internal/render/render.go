// Package render turns a schema.Model into source artifacts. Each output
// format is an Emitter; emitters only read the model and the config, so the
// same pair always renders to the same bytes.
package render

import (
	"errors"
	"fmt"

	"schemadump/internal/schema"
)

var ErrUnknownFormat = errors.New("render: unknown format")

// Artifact is one output file, relative to the destination root.
type Artifact struct {
	Path    string
	Content []byte
}

// Config holds the options emitters honor.
type Config struct {
	IndentWidth int // spaces per nesting level, > 0
}

// Emitter renders one format.
type Emitter interface {
	Format() string
	Render(m *schema.Model, cfg Config) ([]Artifact, error)
}

// Registry is a fixed, ordered set of emitters keyed by format id.
// Aliases resolve to a canonical id and are not listed by Formats.
type Registry struct {
	emitters []Emitter
	byFormat map[string]Emitter
	aliases  map[string]string
}

// NewRegistry registers emitters in order. Duplicate format ids panic.
func NewRegistry(emitters ...Emitter) *Registry {
	r := &Registry{byFormat: make(map[string]Emitter, len(emitters)), aliases: make(map[string]string)}
	for _, e := range emitters {
		if _, dup := r.byFormat[e.Format()]; dup {
			panic(fmt.Sprintf("render: format %q registered twice", e.Format()))
		}
		r.byFormat[e.Format()] = e
		r.emitters = append(r.emitters, e)
	}
	return r
}

// Alias makes name select the emitter of format. It panics if format is
// unknown or name is already taken.
func (r *Registry) Alias(name, format string) *Registry {
	if _, ok := r.byFormat[format]; !ok {
		panic(fmt.Sprintf("render: alias %q for unknown format %q", name, format))
	}
	if _, dup := r.byFormat[name]; dup || r.aliases[name] != "" {
		panic(fmt.Sprintf("render: alias %q already registered", name))
	}
	r.aliases[name] = format
	return r
}

// Default returns the registry of every built-in format. "header" names
// the C++ header format.
func Default() *Registry {
	return NewRegistry(
		JSON{},
		YAML{},
		Cpp{},
		CSharp{},
		Rust{},
		Python{},
		Dot{},
	).Alias("header", "hpp")
}

// Formats lists the registered format ids in registry order.
func (r *Registry) Formats() []string {
	out := make([]string, len(r.emitters))
	for i, e := range r.emitters {
		out[i] = e.Format()
	}
	return out
}

func (r *Registry) canonical(format string) string {
	if c, ok := r.aliases[format]; ok {
		return c
	}
	return format
}

// Lookup returns the emitter for a format id or alias.
func (r *Registry) Lookup(format string) (Emitter, bool) {
	e, ok := r.byFormat[r.canonical(format)]
	return e, ok
}

// Select resolves format ids and aliases to emitters in registry order,
// dropping repeats. Any unknown id fails the whole selection.
func (r *Registry) Select(formats []string) ([]Emitter, error) {
	want := make(map[string]bool, len(formats))
	var unknown []error
	for _, f := range formats {
		e, ok := r.Lookup(f)
		if !ok {
			unknown = append(unknown, fmt.Errorf("%w: %q", ErrUnknownFormat, f))
			continue
		}
		want[e.Format()] = true
	}
	if len(unknown) > 0 {
		return nil, errors.Join(unknown...)
	}
	var out []Emitter
	for _, e := range r.emitters {
		if want[e.Format()] {
			out = append(out, e)
		}
	}
	return out, nil
}
