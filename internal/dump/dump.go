// Package dump runs one extraction and renders it into files: validate the
// request, walk the target once, render every selected format against the
// frozen model and write the artifacts under a locked destination root.
package dump

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"golang.org/x/sync/errgroup"

	"schemadump/internal/ctxlog"
	"schemadump/internal/diag"
	"schemadump/internal/memport"
	"schemadump/internal/output"
	"schemadump/internal/profile"
	"schemadump/internal/render"
	"schemadump/internal/schema"
	"schemadump/internal/walker"
)

var (
	// ErrPortUnavailable aborts a run: the memory port was lost.
	ErrPortUnavailable = memport.ErrUnavailable

	ErrLocked        = output.ErrLocked
	ErrDuplicatePath = errors.New("dump: two artifacts share a path")
)

// ConfigError rejects a request before any memory access.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("dump: invalid %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Request describes one run.
type Request struct {
	Formats     []string
	IndentWidth int
	RootDir     string
	Modules     []profile.Module
	Layout      profile.Layout
	Walk        walker.Options
}

// ModuleSummary reports what was recovered for one configured module.
// Resolved counts every recovered entity: classes, enums and offsets.
type ModuleSummary struct {
	Name     string `json:"name"`
	Classes  int    `json:"classes"`
	Enums    int    `json:"enums"`
	Offsets  int    `json:"offsets"`
	Resolved int    `json:"resolved"`
	Gaps     int    `json:"gaps"`
	Missing  bool   `json:"missing"`
}

// Result is the outcome of a successful run.
type Result struct {
	Files   []string        `json:"files"` // written paths, relative to RootDir
	Modules []ModuleSummary `json:"modules"`
	Gaps    []diag.Gap      `json:"gaps,omitempty"`
}

// Summary returns per-module counts keyed by module name.
func (r *Result) Summary() map[string]ModuleSummary {
	out := make(map[string]ModuleSummary, len(r.Modules))
	for _, m := range r.Modules {
		out[m.Name] = m
	}
	return out
}

// Run executes req with the built-in renderers.
func Run(ctx context.Context, req Request, port memport.Port) (*Result, error) {
	return RunWith(ctx, render.Default(), req, port)
}

// RunWith executes req with the renderers of reg.
func RunWith(ctx context.Context, reg *render.Registry, req Request, port memport.Port) (*Result, error) {
	log := ctxlog.FromContext(ctx)

	emitters, err := validate(reg, req)
	if err != nil {
		return nil, err
	}

	model, gaps, err := walker.New(port, req.Layout, req.Walk).Walk(ctx, req.Modules)
	if err != nil {
		return nil, fmt.Errorf("dump: walk: %w", err)
	}
	if err := model.Validate(); err != nil {
		return nil, fmt.Errorf("dump: %w", err)
	}

	artifacts, err := renderAll(ctx, emitters, model, render.Config{IndentWidth: req.IndentWidth})
	if err != nil {
		return nil, err
	}

	files, err := output.Write(ctx, req.RootDir, artifacts)
	if err != nil {
		return nil, err
	}

	res := &Result{Files: files, Modules: summarize(req.Modules, model, gaps), Gaps: gaps}
	log.Info("dump complete",
		"modules", len(model.Modules), "files", len(files), "gaps", len(gaps), "dir", req.RootDir)
	return res, nil
}

func validate(reg *render.Registry, req Request) ([]render.Emitter, error) {
	if len(req.Formats) == 0 {
		return nil, &ConfigError{Field: "formats", Err: errors.New("no format selected")}
	}
	emitters, err := reg.Select(req.Formats)
	if err != nil {
		return nil, &ConfigError{Field: "formats", Err: err}
	}
	if req.IndentWidth <= 0 {
		return nil, &ConfigError{Field: "indent_width", Err: fmt.Errorf("must be positive, got %d", req.IndentWidth)}
	}
	if strings.TrimSpace(req.RootDir) == "" {
		return nil, &ConfigError{Field: "root_dir", Err: errors.New("empty")}
	}
	if len(req.Modules) == 0 {
		return nil, &ConfigError{Field: "modules", Err: errors.New("no module selected")}
	}
	p := profile.Profile{Layout: req.Layout, Modules: req.Modules}
	if err := p.Validate(); err != nil {
		return nil, &ConfigError{Field: "profile", Err: err}
	}
	return emitters, nil
}

// renderAll renders every emitter concurrently and returns the artifacts
// in emitter order. Paths must be unique across formats.
func renderAll(ctx context.Context, emitters []render.Emitter, model *schema.Model, cfg render.Config) ([]render.Artifact, error) {
	parts := make([][]render.Artifact, len(emitters))
	g, _ := errgroup.WithContext(ctx)
	for i, e := range emitters {
		g.Go(func() error {
			arts, err := e.Render(model, cfg)
			if err != nil {
				return fmt.Errorf("dump: render %s: %w", e.Format(), err)
			}
			parts[i] = arts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []render.Artifact
	seen := make(map[string]string)
	for i, arts := range parts {
		for _, a := range arts {
			p := path.Clean(a.Path)
			if !validRelPath(p) {
				return nil, fmt.Errorf("dump: render %s: path %q escapes the destination", emitters[i].Format(), a.Path)
			}
			if prev, ok := seen[p]; ok {
				return nil, fmt.Errorf("%w: %s (%s, %s)", ErrDuplicatePath, p, prev, emitters[i].Format())
			}
			seen[p] = emitters[i].Format()
			out = append(out, render.Artifact{Path: p, Content: a.Content})
		}
	}
	return out, nil
}

func validRelPath(p string) bool {
	return p != "." && p != "" && !path.IsAbs(p) && p != ".." && !strings.HasPrefix(p, "../")
}

func summarize(modules []profile.Module, model *schema.Model, gaps []diag.Gap) []ModuleSummary {
	perModule := diag.CountByModule(gaps)
	missing := make(map[string]bool)
	for _, g := range gaps {
		if g.Kind == diag.KindModuleMissing {
			missing[g.Module] = true
		}
	}
	out := make([]ModuleSummary, len(modules))
	for i, spec := range modules {
		s := ModuleSummary{Name: spec.Name, Gaps: perModule[spec.Name], Missing: missing[spec.Name]}
		if mod, ok := model.Module(spec.Name); ok {
			c := mod.Counts()
			s.Classes, s.Enums, s.Offsets = c.Classes, c.Enums, c.Offsets
			s.Resolved = c.Classes + c.Enums + c.Offsets
		}
		out[i] = s
	}
	return out
}
