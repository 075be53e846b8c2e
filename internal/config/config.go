package config

import (
	"time"

	"schemadump/internal/profile"
	"schemadump/internal/walker"
)

// Config is the complete schemadump configuration. It can be loaded from
// schemadump.yaml with environment variable and flag overrides.
type Config struct {
	Output  OutputConfig    `yaml:"output" mapstructure:"output"`
	Walk    WalkConfig      `yaml:"walk" mapstructure:"walk"`
	Log     LogConfig       `yaml:"log" mapstructure:"log"`
	Image   ImageConfig     `yaml:"image" mapstructure:"image"`
	Profile profile.Profile `yaml:"profile" mapstructure:"profile"`
}

// OutputConfig selects formats and where artifacts are written.
type OutputConfig struct {
	Dir         string   `yaml:"dir" mapstructure:"dir"`                   // destination root
	Formats     []string `yaml:"formats" mapstructure:"formats"`           // format ids, e.g. ["json", "hpp"]
	IndentWidth int      `yaml:"indent_width" mapstructure:"indent_width"` // spaces per nesting level
}

// WalkConfig tunes the schema walker.
type WalkConfig struct {
	Retries      int           `yaml:"retries" mapstructure:"retries"`
	Backoff      time.Duration `yaml:"backoff" mapstructure:"backoff"`
	MaxStringLen int           `yaml:"max_string_len" mapstructure:"max_string_len"`
	MaxEntries   int           `yaml:"max_entries" mapstructure:"max_entries"`
	Parallelism  int           `yaml:"parallelism" mapstructure:"parallelism"`
}

// LogConfig selects the log level and handler. File, when set, also
// receives every record, appended across runs.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `yaml:"format" mapstructure:"format"` // text or json
	File   string `yaml:"file" mapstructure:"file"`
}

// ImageConfig points at the directory holding module images.
type ImageConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// Default returns a configuration with the built-in defaults.
func Default() *Config {
	w := walker.DefaultOptions()
	return &Config{
		Output: OutputConfig{
			Dir:         "output",
			Formats:     []string{"cs", "hpp", "json", "rs"},
			IndentWidth: 4,
		},
		Walk: WalkConfig{
			Retries:      w.Retries,
			Backoff:      w.Backoff,
			MaxStringLen: w.MaxStringLen,
			MaxEntries:   w.MaxEntries,
			Parallelism:  w.Parallelism,
		},
		Log:     LogConfig{Level: "info", Format: "text"},
		Profile: profile.Default(),
	}
}

// WalkerOptions converts the walk section to walker options.
func (c *Config) WalkerOptions() walker.Options {
	o := walker.DefaultOptions()
	o.Retries = c.Walk.Retries
	o.Backoff = c.Walk.Backoff
	o.MaxStringLen = c.Walk.MaxStringLen
	o.MaxEntries = c.Walk.MaxEntries
	o.Parallelism = c.Walk.Parallelism
	return o
}
