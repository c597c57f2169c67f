package config

import (
	"fmt"
	"os"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/san-kum/biosim/internal/sim"
)

const (
	DefaultTimeLimit = 10.0
	DefaultNumSteps  = 100
	DefaultRuns      = 1
	DefaultOutputDir = "out"
	DefaultDataDir   = ".biosim"
)

// Config is one simulation job as read from a YAML file.
type Config struct {
	Model     string `yaml:"model" mapstructure:"model"`
	OutputDir string `yaml:"output_dir" mapstructure:"output_dir"`
	Format    string `yaml:"format" mapstructure:"format"`
	Runs      int    `yaml:"runs" mapstructure:"runs"`
	Seed      int64  `yaml:"seed" mapstructure:"seed"`

	TimeLimit     float64  `yaml:"time_limit" mapstructure:"time_limit"`
	MinStep       float64  `yaml:"min_step,omitempty" mapstructure:"min_step"`
	MaxStep       float64  `yaml:"max_step,omitempty" mapstructure:"max_step"`
	PrintInterval float64  `yaml:"print_interval,omitempty" mapstructure:"print_interval"`
	NumSteps      int      `yaml:"num_steps,omitempty" mapstructure:"num_steps"`
	RelError      float64  `yaml:"rel_error,omitempty" mapstructure:"rel_error"`
	AbsError      float64  `yaml:"abs_error,omitempty" mapstructure:"abs_error"`
	Quantity      string   `yaml:"quantity" mapstructure:"quantity"`
	Species       []string `yaml:"species,omitempty" mapstructure:"species"`
	Method        string   `yaml:"method" mapstructure:"method"`

	Statistics bool   `yaml:"statistics" mapstructure:"statistics"`
	Store      string `yaml:"store" mapstructure:"store"`
	DataDir    string `yaml:"data_dir" mapstructure:"data_dir"`
	LogLevel   string `yaml:"log_level" mapstructure:"log_level"`
	LogFormat  string `yaml:"log_format" mapstructure:"log_format"`
}

func DefaultConfig() *Config {
	return &Config{
		OutputDir: DefaultOutputDir,
		Format:    "tsd",
		Runs:      DefaultRuns,
		TimeLimit: DefaultTimeLimit,
		NumSteps:  DefaultNumSteps,
		Quantity:  string(sim.Amount),
		Method:    "rk45",
		Store:     "fs",
		DataDir:   DefaultDataDir,
		LogLevel:  "info",
		LogFormat: "text",
	}
}

func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := Merge(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Merge overlays the keys present in the file at path onto cfg.
func Merge(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: %s: %w", path, err)
	}
	return nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ApplyOverrides sets fields from key=value pairs such as
// {"time_limit": "50", "species": "A,B"}. Keys are the YAML names.
func ApplyOverrides(cfg *Config, overrides map[string]string) error {
	if len(overrides) == 0 {
		return nil
	}
	input := make(map[string]any, len(overrides))
	for k, v := range overrides {
		input[k] = v
	}
	return Decode(cfg, input)
}

// Decode sets fields of cfg from a map keyed by YAML names. Values are
// weakly typed and unknown keys are an error.
func Decode(cfg *Config, input map[string]any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook:       mapstructure.StringToSliceHookFunc(","),
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(input); err != nil {
		return fmt.Errorf("config: overrides: %w", err)
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("config: no model file")
	}
	if c.Runs < 1 {
		return fmt.Errorf("config: runs must be at least 1, got %d", c.Runs)
	}
	switch c.Format {
	case "tsd", "csv":
	default:
		return fmt.Errorf("config: unknown format %q", c.Format)
	}
	switch sim.Quantity(c.Quantity) {
	case sim.Amount, sim.Concentration:
	default:
		return fmt.Errorf("config: unknown quantity %q", c.Quantity)
	}
	switch c.Store {
	case "fs", "sqlite", "none":
	default:
		return fmt.Errorf("config: unknown store %q", c.Store)
	}
	return nil
}

// SimConfig returns the engine settings of c.
func (c *Config) SimConfig() sim.Config {
	return sim.Config{
		TimeLimit:     c.TimeLimit,
		MinStep:       c.MinStep,
		MaxStep:       c.MaxStep,
		PrintInterval: c.PrintInterval,
		NumSteps:      c.NumSteps,
		RelError:      c.RelError,
		AbsError:      c.AbsError,
		Quantity:      sim.Quantity(c.Quantity),
		Species:       c.Species,
	}
}
