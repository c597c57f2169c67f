package config

import "sort"

// Presets are tolerance profiles. Only the solver fields are set.
var Presets = map[string]*Config{
	"default": {
		RelError: 1e-9, AbsError: 1e-12, Method: "rk45",
	},
	"precise": {
		RelError: 1e-12, AbsError: 1e-15, Method: "rk45", NumSteps: 1000,
	},
	"coarse": {
		RelError: 1e-5, AbsError: 1e-8, Method: "rk45", NumSteps: 50,
	},
	"fixed": {
		Method: "rk4", MaxStep: 0.01,
	},
}

func GetPreset(name string) *Config {
	p, ok := Presets[name]
	if !ok {
		return nil
	}
	cp := *p
	return &cp
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ApplyPreset copies the non-zero fields of the named preset into cfg.
func ApplyPreset(cfg *Config, name string) bool {
	p, ok := Presets[name]
	if !ok {
		return false
	}
	if p.RelError != 0 {
		cfg.RelError = p.RelError
	}
	if p.AbsError != 0 {
		cfg.AbsError = p.AbsError
	}
	if p.Method != "" {
		cfg.Method = p.Method
	}
	if p.NumSteps != 0 {
		cfg.NumSteps = p.NumSteps
	}
	if p.MaxStep != 0 {
		cfg.MaxStep = p.MaxStep
	}
	return true
}
