package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"schemadump/internal/ctxlog"
	"schemadump/internal/dump"
	"schemadump/internal/profile"
	"schemadump/internal/schema"
)

func newDumpCmd(a *app) *cobra.Command {
	var (
		modules  string
		progress bool
	)
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Extract the schema and write every selected format",
		Long: `Dump resolves each configured module in the image directory, walks its
reflection tables once and renders the schema into the selected formats
under the output directory.

Examples:
  # Default formats into ./output
  schemadump dump --image-dir ./images

  # Only JSON and C++ for client modules, two-space indent
  schemadump dump --image-dir ./images --formats json,hpp --indent 2 --modules 'client*'
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig(cmd, map[string]string{
				"image.dir":           "image-dir",
				"output.dir":          "out",
				"output.formats":      "formats",
				"output.indent_width": "indent",
			})
			if err != nil {
				return err
			}
			ctx, runID, closeLog, err := withLogger(cmd.Context(), cmd.ErrOrStderr(), cfg)
			if err != nil {
				return err
			}
			defer closeLog()
			log := ctxlog.FromContext(ctx)

			if cfg.Image.Dir == "" {
				return fmt.Errorf("dump: no image directory (set --image-dir or image.dir)")
			}
			mods, err := selectModules(cfg.Profile.Modules, modules)
			if err != nil {
				return err
			}

			port, release, err := a.openPort(cfg.Image.Dir)
			if err != nil {
				return fmt.Errorf("dump: %w", err)
			}
			defer release()

			opts := cfg.WalkerOptions()
			if progress {
				bar := newModuleBar(cmd.ErrOrStderr(), len(mods))
				opts.OnModule = bar.done
				defer bar.finish()
			}

			log.Info("dump starting", "modules", len(mods), "formats", strings.Join(cfg.Output.Formats, ","))
			res, err := dump.Run(ctx, dump.Request{
				Formats:     cfg.Output.Formats,
				IndentWidth: cfg.Output.IndentWidth,
				RootDir:     cfg.Output.Dir,
				Modules:     mods,
				Layout:      cfg.Profile.Layout,
				Walk:        opts,
			}, port)
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), runID, cfg.Output.Dir, res)
			return nil
		},
	}

	cmd.Flags().String("image-dir", "", "directory holding the module images")
	cmd.Flags().String("out", "output", "output directory")
	cmd.Flags().StringSlice("formats", nil, "output formats (see 'schemadump formats')")
	cmd.Flags().Int("indent", 4, "indentation width in spaces")
	cmd.Flags().StringVar(&modules, "modules", "", "glob selecting module names, e.g. '{client,server}.dll'")
	cmd.Flags().BoolVar(&progress, "progress", false, "show a progress bar while walking modules")
	return cmd
}

// selectModules keeps the modules whose name matches pattern,
// case-insensitively. An empty pattern keeps all of them.
func selectModules(all []profile.Module, pattern string) ([]profile.Module, error) {
	if pattern == "" {
		return all, nil
	}
	g, err := glob.Compile(strings.ToLower(pattern))
	if err != nil {
		return nil, fmt.Errorf("dump: bad --modules pattern %q: %w", pattern, err)
	}
	var out []profile.Module
	for _, m := range all {
		if g.Match(strings.ToLower(m.Name)) {
			out = append(out, m)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("dump: --modules %q matches no configured module", pattern)
	}
	return out, nil
}

// moduleBar advances one step per walked module. The walker reports from
// several goroutines.
type moduleBar struct {
	mu  sync.Mutex
	bar *progressbar.ProgressBar
}

func newModuleBar(w io.Writer, n int) *moduleBar {
	return &moduleBar{bar: progressbar.NewOptions(n,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("Walking modules"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(w)
		}),
	)}
}

func (b *moduleBar) done(name string, _ schema.Counts, _ int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bar.Describe(name)
	_ = b.bar.Add(1)
}

func (b *moduleBar) finish() {
	b.mu.Lock()
	defer b.mu.Unlock()
	_ = b.bar.Finish()
}

func printSummary(w io.Writer, runID, dir string, res *dump.Result) {
	fmt.Fprintf(w, "run %s: wrote %d files to %s\n", runID, len(res.Files), dir)
	for _, m := range res.Modules {
		if m.Missing {
			fmt.Fprintf(w, "  %-20s missing\n", m.Name)
			continue
		}
		fmt.Fprintf(w, "  %-20s %5d classes %5d enums %5d offsets %5d resolved %4d gaps\n",
			m.Name, m.Classes, m.Enums, m.Offsets, m.Resolved, m.Gaps)
	}
}
