// Package config loads xlsprobe run settings.
//
// Settings come from three layers, later ones winning: built-in defaults,
// an optional YAML file, and command-line flags. The YAML file is checked
// against an embedded CUE schema before it is decoded, so unknown keys and
// malformed values are reported with their file position.
//
// Paths left unset after all three layers are derived: the gem5 executable
// and platform script from gem5_root, and the stimuli, reference and XLS
// config from the build environment (see package firmware).
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	cueyaml "cuelang.org/go/encoding/yaml"
	"gopkg.in/yaml.v3"

	"github.com/roach88/xlsprobe/internal/firmware"
	"github.com/roach88/xlsprobe/internal/harness"
	"github.com/roach88/xlsprobe/internal/simulator"
)

//go:embed schema.cue
var schemaSource string

// Defaults.
const (
	DefaultGem5Root     = "gem5"
	DefaultReadyTimeout = 10 * time.Minute
	DefaultProbeTimeout = 10 * time.Minute
	DefaultDialTimeout  = 10 * time.Second
)

// Duration is a time.Duration written as a Go duration string ("90s",
// "10m"). A bare 0 disables the corresponding deadline.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	v, err := time.ParseDuration(n.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Config is the full set of run settings.
type Config struct {
	Simulator      simulator.Kind `yaml:"simulator"`
	Gem5Root       string         `yaml:"gem5_root"`
	Executable     string         `yaml:"executable,omitempty"`
	PlatformConfig string         `yaml:"platform_config,omitempty"`
	DebugFlags     string         `yaml:"debug_flags"`

	Firmware    string `yaml:"firmware,omitempty"`
	Plugin      string `yaml:"plugin,omitempty"`
	XLSConfig   string `yaml:"xls_config,omitempty"`
	Stimuli     string `yaml:"stimuli,omitempty"`
	Reference   string `yaml:"reference,omitempty"`
	TestDataDir string `yaml:"test_data_dir"`

	Address  string `yaml:"address"`
	Sentinel string `yaml:"sentinel"`

	ReadyTimeout Duration `yaml:"ready_timeout"`
	ProbeTimeout Duration `yaml:"probe_timeout"`
	DialTimeout  Duration `yaml:"dial_timeout"`

	// HistoryDB is the run ledger path; empty disables recording.
	HistoryDB string `yaml:"history_db,omitempty"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Simulator:    simulator.Gem5,
		Gem5Root:     DefaultGem5Root,
		DebugFlags:   simulator.DefaultDebugFlags,
		TestDataDir:  firmware.DefaultTestDataDir,
		Address:      harness.DefaultAddress,
		Sentinel:     simulator.DefaultSentinel,
		ReadyTimeout: Duration(DefaultReadyTimeout),
		ProbeTimeout: Duration(DefaultProbeTimeout),
		DialTimeout:  Duration(DefaultDialTimeout),
	}
}

// Load reads path over the defaults. An empty path returns Default().
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := Parse(path, data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Parse validates data against the schema and decodes it into cfg.
// Keys absent from data keep their current value in cfg.
func Parse(filename string, data []byte, cfg *Config) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := Check(filename, data); err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode %s: %w", filename, err)
	}
	return nil
}

// Check validates YAML data against the embedded schema without decoding.
func Check(filename string, data []byte) error {
	file, err := cueyaml.Extract(filename, data)
	if err != nil {
		return schemaError(err)
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	value := ctx.BuildFile(file)
	if err := value.Err(); err != nil {
		return schemaError(err)
	}
	if err := def.Unify(value).Validate(cue.Concrete(true)); err != nil {
		return schemaError(err)
	}
	return nil
}

// FieldError is one schema violation with its source position.
type FieldError struct {
	Message string
	Pos     token.Pos
}

func (e *FieldError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Message)
	}
	return e.Message
}

// SchemaError collects every violation found in a config file.
type SchemaError struct {
	Fields []*FieldError
}

func (e *SchemaError) Error() string {
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Error()
	}
	return "invalid config: " + strings.Join(msgs, "; ")
}

func schemaError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return fmt.Errorf("invalid config: %w", err)
	}
	out := &SchemaError{}
	for _, e := range errs {
		fe := &FieldError{Message: e.Error()}
		for _, pos := range cueerrors.Positions(e) {
			fe.Pos = pos
			if pos.Filename() != "schema.cue" {
				break
			}
		}
		out.Fields = append(out.Fields, fe)
	}
	return out
}

// Resolve fills derived paths. lookup reads the build environment and is
// consulted only when a test-data path is still unset.
func (c *Config) Resolve(lookup firmware.LookupFunc) error {
	exe, platform := simulator.Gem5Paths(c.Gem5Root)
	if c.Executable == "" {
		c.Executable = exe
	}
	if c.PlatformConfig == "" {
		c.PlatformConfig = platform
	}

	if c.Stimuli != "" && c.Reference != "" && c.XLSConfig != "" {
		return nil
	}
	opts, err := firmware.FromLookup(lookup)
	if err != nil {
		return fmt.Errorf("derive test data paths: %w", err)
	}
	paths := opts.Layout(c.TestDataDir)
	if c.Stimuli == "" {
		c.Stimuli = paths.Stimuli
	}
	if c.Reference == "" {
		c.Reference = paths.Reference
	}
	if c.XLSConfig == "" {
		c.XLSConfig = paths.XLSConfig
	}
	return nil
}

// Validate checks the settings needed to start a run.
func (c *Config) Validate() error {
	if !simulator.IsSupported(string(c.Simulator)) {
		return fmt.Errorf("unsupported simulator %q (supported: %s)", c.Simulator, simulator.UsageValues())
	}
	if c.Stimuli == "" || c.Reference == "" {
		return fmt.Errorf("stimuli and reference paths are required")
	}
	return c.Command().Validate()
}

// Command returns the simulator invocation for c.
func (c *Config) Command() simulator.Command {
	return simulator.Command{
		Executable:     c.Executable,
		DebugFlags:     c.DebugFlags,
		PlatformConfig: c.PlatformConfig,
		Firmware:       c.Firmware,
		Plugin:         c.Plugin,
		XLSConfig:      c.XLSConfig,
	}
}
