// Package config loads schemadump configuration from defaults, an optional
// YAML file, SCHEMADUMP_* environment variables and command-line flags.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// FileName is the config file looked up in the working directory when no
// explicit path is given.
const FileName = "schemadump"

// Loader loads configuration.
type Loader struct {
	// File is an explicit config file. Empty searches Dir for
	// schemadump.yaml and tolerates its absence.
	File string
	Dir  string

	// Flags maps config keys to flags that override them when set.
	Flags map[string]*pflag.Flag
}

// NewLoader returns a loader searching dir for schemadump.yaml.
func NewLoader(dir string) *Loader {
	return &Loader{Dir: dir, Flags: make(map[string]*pflag.Flag)}
}

// Bind makes flag override key when the flag is set on the command line.
func (l *Loader) Bind(key string, flag *pflag.Flag) {
	if flag != nil {
		l.Flags[key] = flag
	}
}

// Load resolves configuration with the following priority (highest first):
// 1. Flags set on the command line
// 2. Environment variables (SCHEMADUMP_*)
// 3. Config file
// 4. Defaults
func (l *Loader) Load() (*Config, error) {
	v := viper.New()

	if l.File != "" {
		v.SetConfigFile(l.File)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		if l.Dir != "" {
			v.AddConfigPath(l.Dir)
		}
	}

	v.SetEnvPrefix("SCHEMADUMP")
	v.AutomaticEnv()
	// SCHEMADUMP_OUTPUT_INDENT_WIDTH -> output.indent_width
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	setDefaults(v)

	for key, flag := range l.Flags {
		if err := v.BindPFlag(key, flag); err != nil {
			return nil, fmt.Errorf("config: bind flag %s: %w", flag.Name, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine unless one was asked for explicitly.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || l.File != "" {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	}

	// Decoding over the defaults keeps profile layout fields that the file
	// leaves out. Slices are decoded element-wise into existing ones, so any
	// slice the settings provide starts empty.
	cfg := Default()
	cfg.Output.Formats = nil
	if v.IsSet("profile.modules") {
		cfg.Profile.Modules = nil
	}
	if v.IsSet("profile.layout.class.parent") {
		cfg.Profile.Layout.Class.Parent = nil
	}
	if v.IsSet("profile.layout.field.type") {
		cfg.Profile.Layout.Field.Type = nil
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}
	return cfg, nil
}

var envKeys = []string{
	"output.dir",
	"output.formats",
	"output.indent_width",
	"walk.retries",
	"walk.backoff",
	"walk.max_string_len",
	"walk.max_entries",
	"walk.parallelism",
	"log.level",
	"log.format",
	"log.file",
	"image.dir",
}

// setDefaults configures viper with default values.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("output.dir", d.Output.Dir)
	v.SetDefault("output.formats", d.Output.Formats)
	v.SetDefault("output.indent_width", d.Output.IndentWidth)

	v.SetDefault("walk.retries", d.Walk.Retries)
	v.SetDefault("walk.backoff", d.Walk.Backoff)
	v.SetDefault("walk.max_string_len", d.Walk.MaxStringLen)
	v.SetDefault("walk.max_entries", d.Walk.MaxEntries)
	v.SetDefault("walk.parallelism", d.Walk.Parallelism)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)

	v.SetDefault("image.dir", d.Image.Dir)
}
