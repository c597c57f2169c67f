// Package automation runs scripted sequences of simulation jobs: a list of
// steps, each a config overlay, plus an optional parameter sweep.
package automation

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/biosim/internal/config"
	"github.com/san-kum/biosim/internal/experiment"
	"github.com/san-kum/biosim/internal/logging"
	"github.com/san-kum/biosim/internal/model"
)

// Scenario defines a scripted simulation sequence
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	// Base is a config file the steps start from, relative to the
	// scenario file.
	Base  string `yaml:"base"`
	Steps []Step `yaml:"steps"`
	Sweep *Sweep `yaml:"sweep"`

	dir string
}

// Step is one job: config keys to set and model parameters to overwrite.
type Step struct {
	Name       string             `yaml:"name"`
	Set        map[string]any     `yaml:"set"`
	Parameters map[string]float64 `yaml:"parameters"`
}

// Sweep runs one step per value of a parameter, Count values evenly spaced
// over [Min, Max].
type Sweep struct {
	Parameter string  `yaml:"parameter"`
	Min       float64 `yaml:"min"`
	Max       float64 `yaml:"max"`
	Count     int     `yaml:"count"`
}

// StepResult is the outcome of one step.
type StepResult struct {
	Step    string
	Config  *config.Config
	Outcome *experiment.Outcome
}

// LoadScenario loads a scenario from a YAML file
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var scenario Scenario
	if err := yaml.Unmarshal(data, &scenario); err != nil {
		return nil, fmt.Errorf("automation: %s: %w", path, err)
	}
	scenario.dir = filepath.Dir(path)
	return &scenario, nil
}

// Expand returns the listed steps followed by the sweep steps.
func (s *Scenario) Expand() ([]Step, error) {
	steps := make([]Step, 0, len(s.Steps))
	for i, st := range s.Steps {
		if st.Name == "" {
			st.Name = fmt.Sprintf("step_%d", i+1)
		}
		steps = append(steps, st)
	}

	if s.Sweep == nil {
		return steps, nil
	}
	sw := s.Sweep
	if sw.Parameter == "" {
		return nil, fmt.Errorf("automation: sweep without parameter")
	}
	if sw.Count < 1 {
		return nil, fmt.Errorf("automation: sweep count must be at least 1, got %d", sw.Count)
	}
	for i := 0; i < sw.Count; i++ {
		v := sw.Min
		if sw.Count > 1 {
			v = sw.Min + float64(i)*(sw.Max-sw.Min)/float64(sw.Count-1)
		}
		steps = append(steps, Step{
			Name:       fmt.Sprintf("%s=%g", sw.Parameter, v),
			Parameters: map[string]float64{sw.Parameter: v},
		})
	}
	return steps, nil
}

type Runner struct {
	// Base is copied for every step. It defaults to config.DefaultConfig
	// merged with the scenario's base file.
	Base    *config.Config
	Options []experiment.Option
	Logger  *slog.Logger
}

// Run executes every step in order. A canceled step ends the scenario.
func (r *Runner) Run(ctx context.Context, s *Scenario) ([]StepResult, error) {
	log := r.Logger
	if log == nil {
		log = logging.NewNop()
	}

	base := r.Base
	if base == nil {
		base = config.DefaultConfig()
	}
	if s.Base != "" {
		path := s.Base
		if !filepath.IsAbs(path) {
			path = filepath.Join(s.dir, path)
		}
		merged := *base
		if err := config.Merge(path, &merged); err != nil {
			return nil, err
		}
		base = &merged
	}

	steps, err := s.Expand()
	if err != nil {
		return nil, err
	}

	results := make([]StepResult, 0, len(steps))
	for i, step := range steps {
		cfg := *base
		cfg.Species = append([]string(nil), base.Species...)
		if len(step.Set) > 0 {
			if err := config.Decode(&cfg, step.Set); err != nil {
				return results, fmt.Errorf("step %s: %w", step.Name, err)
			}
		}
		if _, set := step.Set["output_dir"]; !set && cfg.OutputDir != "" {
			cfg.OutputDir = filepath.Join(cfg.OutputDir, step.Name)
		}

		arena, err := model.Load(cfg.Model)
		if err != nil {
			return results, fmt.Errorf("step %s: %w", step.Name, err)
		}
		for name, v := range step.Parameters {
			if err := arena.SetParameter(name, v); err != nil {
				return results, fmt.Errorf("step %s: %w", step.Name, err)
			}
		}

		log.Info("running step", "step", step.Name, "index", i+1, "of", len(steps), "model", cfg.Model)
		outcome, err := experiment.New(&cfg, arena, r.Options...).Run(ctx)
		if err != nil {
			return results, fmt.Errorf("step %s: %w", step.Name, err)
		}
		results = append(results, StepResult{Step: step.Name, Config: &cfg, Outcome: outcome})

		if outcome.Canceled {
			log.Info("scenario canceled", "step", step.Name)
			break
		}
	}
	return results, nil
}
