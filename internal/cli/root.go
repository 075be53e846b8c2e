// Package cli is the schemadump command tree.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"schemadump/internal/config"
	"schemadump/internal/ctxlog"
	"schemadump/internal/memport"
	"schemadump/internal/memport/elfimage"
)

// portOpener opens the memory port for an image directory. The returned
// func releases it.
type portOpener func(dir string) (memport.Port, func() error, error)

func openELF(dir string) (memport.Port, func() error, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, nil, fmt.Errorf("image dir: %w", err)
	}
	p := elfimage.New(dir)
	return p, p.Close, nil
}

// app carries state shared by every command of one invocation.
type app struct {
	configFile string
	logLevel   string
	logFormat  string
	logFile    string
	openPort   portOpener
}

// Execute runs the command tree against os.Args. This is called by
// main.main().
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// NewRootCmd builds the command tree backed by ELF module images.
func NewRootCmd() *cobra.Command {
	return newRootCmd(openELF)
}

func newRootCmd(open portOpener) *cobra.Command {
	a := &app{openPort: open}
	root := &cobra.Command{
		Use:   "schemadump",
		Short: "Recover type schemas from module images and render them as source",
		Long: `schemadump walks the reflection tables of a target's modules, builds a
schema of classes, fields, enums and named offsets, and renders it into
C++, C#, Rust, Python, JSON, YAML and Graphviz files.

Configuration is read from schemadump.yaml (or --config), then SCHEMADUMP_*
environment variables, then flags.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&a.configFile, "config", "", "config file (default is ./schemadump.yaml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "log format: text or json")
	root.PersistentFlags().StringVar(&a.logFile, "log-file", "", "also append log records to this file")

	root.AddCommand(
		newDumpCmd(a),
		newFormatsCmd(),
		newProfileCmd(a),
	)
	return root
}

// loadConfig loads configuration with cmd's flags bound over it.
func (a *app) loadConfig(cmd *cobra.Command, bind map[string]string) (*config.Config, error) {
	l := config.NewLoader(".")
	l.File = a.configFile
	l.Bind("log.level", cmd.Flags().Lookup("log-level"))
	l.Bind("log.format", cmd.Flags().Lookup("log-format"))
	l.Bind("log.file", cmd.Flags().Lookup("log-file"))
	for key, name := range bind {
		l.Bind(key, cmd.Flags().Lookup(name))
	}
	return l.Load()
}

// withLogger tags a run with a fresh id and puts the configured logger on
// the command context. With log.file set, records also go to that file;
// the returned func closes it.
func withLogger(ctx context.Context, w io.Writer, cfg *config.Config) (context.Context, string, func() error, error) {
	closeLog := func() error { return nil }
	if cfg.Log.File != "" {
		f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, "", nil, fmt.Errorf("open log file: %w", err)
		}
		w = io.MultiWriter(w, f)
		closeLog = f.Close
	}
	runID := uuid.NewString()
	log := ctxlog.New(w, cfg.Log.Level, cfg.Log.Format).With("run_id", runID)
	return ctxlog.WithLogger(ctx, log), runID, closeLog, nil
}
