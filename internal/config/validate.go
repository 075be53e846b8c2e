package config

import (
	"errors"
	"fmt"

	"schemadump/internal/render"
)

var (
	// ErrInvalidOutput indicates a bad output section.
	ErrInvalidOutput = errors.New("invalid output settings")

	// ErrInvalidWalk indicates a bad walk section.
	ErrInvalidWalk = errors.New("invalid walk settings")

	// ErrInvalidLog indicates an unknown log level or format.
	ErrInvalidLog = errors.New("invalid log settings")
)

// Validate checks that the configuration is valid and complete. Every
// problem found is reported.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Output.Dir == "" {
		errs = append(errs, fmt.Errorf("%w: dir is empty", ErrInvalidOutput))
	}
	if cfg.Output.IndentWidth <= 0 {
		errs = append(errs, fmt.Errorf("%w: indent_width must be positive, got %d", ErrInvalidOutput, cfg.Output.IndentWidth))
	}
	if len(cfg.Output.Formats) == 0 {
		errs = append(errs, fmt.Errorf("%w: no format selected", ErrInvalidOutput))
	}
	reg := render.Default()
	for _, f := range cfg.Output.Formats {
		if _, ok := reg.Lookup(f); !ok {
			errs = append(errs, fmt.Errorf("%w: unknown format %q", ErrInvalidOutput, f))
		}
	}

	if cfg.Walk.Retries < 0 {
		errs = append(errs, fmt.Errorf("%w: retries must not be negative", ErrInvalidWalk))
	}
	if cfg.Walk.Backoff < 0 {
		errs = append(errs, fmt.Errorf("%w: backoff must not be negative", ErrInvalidWalk))
	}
	if cfg.Walk.MaxStringLen <= 0 {
		errs = append(errs, fmt.Errorf("%w: max_string_len must be positive", ErrInvalidWalk))
	}
	if cfg.Walk.MaxEntries <= 0 {
		errs = append(errs, fmt.Errorf("%w: max_entries must be positive", ErrInvalidWalk))
	}
	if cfg.Walk.Parallelism <= 0 {
		errs = append(errs, fmt.Errorf("%w: parallelism must be positive", ErrInvalidWalk))
	}

	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("%w: unknown level %q", ErrInvalidLog, cfg.Log.Level))
	}
	switch cfg.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("%w: unknown format %q", ErrInvalidLog, cfg.Log.Format))
	}

	if err := cfg.Profile.Validate(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
