// Package walker decodes the reflection tables of target modules into a
// schema.Model. Anything short of losing the memory port degrades into
// recorded gaps.
package walker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/maypok86/otter"
	"golang.org/x/sync/errgroup"

	"schemadump/internal/ctxlog"
	"schemadump/internal/diag"
	"schemadump/internal/memport"
	"schemadump/internal/profile"
	"schemadump/internal/schema"
)

// Options tunes a walk.
type Options struct {
	Retries      int           // extra attempts per read on transient failures
	Backoff      time.Duration // fixed pause between attempts
	MaxStringLen int           // cap for names and type strings
	MaxEntries   int           // cap for table counts and list lengths
	Parallelism  int           // modules walked concurrently
	CacheSize    int           // string cache capacity per module

	// OnModule is called after each module traversal, possibly from
	// several goroutines at once.
	OnModule func(name string, counts schema.Counts, gaps int)
}

// DefaultOptions returns the defaults used by the CLI.
func DefaultOptions() Options {
	return Options{
		Retries:      3,
		Backoff:      2 * time.Millisecond,
		MaxStringLen: 256,
		MaxEntries:   1 << 16,
		Parallelism:  4,
		CacheSize:    4096,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Retries < 0 {
		o.Retries = 0
	}
	if o.Backoff < 0 {
		o.Backoff = 0
	}
	if o.MaxStringLen <= 0 {
		o.MaxStringLen = d.MaxStringLen
	}
	if o.MaxEntries <= 0 {
		o.MaxEntries = d.MaxEntries
	}
	if o.Parallelism <= 0 {
		o.Parallelism = 1
	}
	if o.CacheSize <= 0 {
		o.CacheSize = d.CacheSize
	}
	return o
}

// Walker walks module reflection tables through a memory port.
type Walker struct {
	port   memport.Port
	layout profile.Layout
	opts   Options
}

// New returns a walker reading through port.
func New(port memport.Port, layout profile.Layout, opts Options) *Walker {
	return &Walker{port: port, layout: layout, opts: opts.withDefaults()}
}

type moduleResult struct {
	module *schema.Module // nil when the module was not found
	gaps   []diag.Gap
}

// Walk traverses modules and returns the model with every recorded gap.
// Modules found in the target appear in the model in the order given;
// missing ones only leave a gap. The error is non-nil only when the port
// became unavailable (or ctx ended), in which case nothing is returned.
func (w *Walker) Walk(ctx context.Context, modules []profile.Module) (*schema.Model, []diag.Gap, error) {
	if err := w.layout.Validate(); err != nil {
		return nil, nil, err
	}
	log := ctxlog.FromContext(ctx)

	results := make([]moduleResult, len(modules))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.opts.Parallelism)
	for i, spec := range modules {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := w.walkModule(gctx, log, spec)
			if err != nil {
				return fmt.Errorf("walker: %s: %w", spec.Name, err)
			}
			results[i] = res
			if w.opts.OnModule != nil {
				var counts schema.Counts
				if res.module != nil {
					counts = res.module.Counts()
				}
				w.opts.OnModule(spec.Name, counts, len(res.gaps))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	model := &schema.Model{}
	var gaps []diag.Gap
	for _, res := range results {
		gaps = append(gaps, res.gaps...)
		if res.module != nil {
			model.Modules = append(model.Modules, res.module)
		}
	}
	return model, gaps, nil
}

func (w *Walker) walkModule(ctx context.Context, log *slog.Logger, spec profile.Module) (moduleResult, error) {
	gaps := diag.NewGaps(spec.Name)
	log = log.With("module", spec.Name)

	mod, err := w.findModule(spec.Name)
	if err != nil {
		if memport.IsFatal(err) {
			return moduleResult{}, err
		}
		g := gaps.Addf(diag.ScopeModule, "", 0, diag.KindModuleMissing, "find module: %v", err)
		log.Warn("module not resolved", "gap", g.String())
		return moduleResult{gaps: gaps.Items()}, nil
	}

	strs, err := otter.MustBuilder[uint64, string](w.opts.CacheSize).Build()
	if err != nil {
		return moduleResult{}, fmt.Errorf("string cache: %w", err)
	}
	defer strs.Close()

	m := &moduleWalk{
		opts: w.opts,
		lay:  w.layout,
		port: w.port,
		r:    &retryReader{port: w.port, retries: w.opts.Retries, backoff: w.opts.Backoff},
		mod:  mod,
		out:  schema.NewModule(spec.Name, mod.Base),
		gaps: gaps,
		strs: strs,
		log:  log,
	}
	for _, root := range spec.Roots {
		if err := ctx.Err(); err != nil {
			return moduleResult{}, err
		}
		if err := m.walkRoot(root); err != nil {
			return moduleResult{}, err
		}
	}
	m.checkHierarchy()

	m.out.Gaps = gaps.Items()
	counts := m.out.Counts()
	log.Info("module walked",
		"classes", counts.Classes, "enums", counts.Enums, "offsets", counts.Offsets,
		"gaps", gaps.Len())
	return moduleResult{module: m.out, gaps: gaps.Items()}, nil
}

// findModule retries transient lookup failures like any other read.
func (w *Walker) findModule(name string) (memport.Module, error) {
	return retry(w.opts, func() (memport.Module, error) {
		return w.port.FindModule(name)
	})
}

// retry runs op until it succeeds, fails for good or runs out of attempts.
func retry[T any](opts Options, op func() (T, error)) (T, error) {
	for attempt := 0; ; attempt++ {
		v, err := op()
		if err == nil || !memport.IsTransient(err) || attempt >= opts.Retries {
			return v, err
		}
		time.Sleep(opts.Backoff)
	}
}

// retryReader retries transient read failures a bounded number of times.
type retryReader struct {
	port    memport.Reader
	retries int
	backoff time.Duration
}

func (r *retryReader) Read(addr uint64, buf []byte) error {
	for attempt := 0; ; attempt++ {
		err := r.port.Read(addr, buf)
		if err == nil || !memport.IsTransient(err) || attempt >= r.retries {
			return err
		}
		time.Sleep(r.backoff)
	}
}
