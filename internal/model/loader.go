package model

import (
	"fmt"
	"os"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/san-kum/biosim/internal/expr"
)

// A model file holds exactly one model block and any number of submodel
// blocks:
//
//	model "toggle" {
//	  compartment "cell" { size = 1 }
//	  species "A" {
//	    compartment    = "cell"
//	    initial_amount = 0
//	  }
//	  parameter "k" { value = 2 }
//	  reaction "production" {
//	    rate = "k"
//	    product "A" {}
//	  }
//	  event "pulse" {
//	    trigger = "time >= 5"
//	    assign "A" { math = "10" }
//	  }
//	}
//
//	submodel "inner" {
//	  ...
//	  replace "X" { with = "A" }
//	}
//
// Formulas are strings in expr syntax.
type fileRoot struct {
	Models    []*modelBlock `hcl:"model,block"`
	Submodels []*modelBlock `hcl:"submodel,block"`
}

type modelBlock struct {
	ID                 string              `hcl:"id,label"`
	Compartments       []*compartmentBlock `hcl:"compartment,block"`
	Species            []*speciesBlock     `hcl:"species,block"`
	Parameters         []*parameterBlock   `hcl:"parameter,block"`
	Reactions          []*reactionBlock    `hcl:"reaction,block"`
	RateRules          []*ruleBlock        `hcl:"rate_rule,block"`
	AssignmentRules    []*ruleBlock        `hcl:"assignment_rule,block"`
	InitialAssignments []*ruleBlock        `hcl:"initial_assignment,block"`
	Events             []*eventBlock       `hcl:"event,block"`
	Constraints        []*constraintBlock  `hcl:"constraint,block"`
	Replacements       []*replaceBlock     `hcl:"replace,block"`
}

type compartmentBlock struct {
	ID       string   `hcl:"id,label"`
	Size     *float64 `hcl:"size,optional"`
	Constant *bool    `hcl:"constant,optional"`
}

type speciesBlock struct {
	ID                   string   `hcl:"id,label"`
	Compartment          string   `hcl:"compartment"`
	InitialAmount        *float64 `hcl:"initial_amount,optional"`
	InitialConcentration *float64 `hcl:"initial_concentration,optional"`
	OnlySubstanceUnits   bool     `hcl:"only_substance_units,optional"`
	Boundary             bool     `hcl:"boundary,optional"`
	Constant             bool     `hcl:"constant,optional"`
}

type parameterBlock struct {
	ID       string  `hcl:"id,label"`
	Value    float64 `hcl:"value,optional"`
	Constant bool    `hcl:"constant,optional"`
}

type reactionBlock struct {
	ID              string             `hcl:"id,label"`
	Rate            string             `hcl:"rate"`
	Reactants       []*refBlock        `hcl:"reactant,block"`
	Products        []*refBlock        `hcl:"product,block"`
	Modifiers       []string           `hcl:"modifiers,optional"`
	LocalParameters map[string]float64 `hcl:"local_parameters,optional"`
}

type refBlock struct {
	Species           string   `hcl:"species,label"`
	Stoichiometry     *float64 `hcl:"stoichiometry,optional"`
	StoichiometryMath string   `hcl:"stoichiometry_math,optional"`
}

type ruleBlock struct {
	Variable string `hcl:"variable,label"`
	Math     string `hcl:"math"`
}

type eventBlock struct {
	ID                       string       `hcl:"id,label"`
	Trigger                  string       `hcl:"trigger"`
	Delay                    string       `hcl:"delay,optional"`
	Priority                 string       `hcl:"priority,optional"`
	UseValuesFromTriggerTime bool         `hcl:"use_values_from_trigger_time,optional"`
	Assignments              []*ruleBlock `hcl:"assign,block"`
}

type constraintBlock struct {
	ID      string `hcl:"id,label"`
	Math    string `hcl:"math"`
	Message string `hcl:"message,optional"`
}

type replaceBlock struct {
	Local string `hcl:"local,label"`
	With  string `hcl:"with"`
}

// Load reads and validates a model file.
func Load(path string) (*Arena, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("model: read %s: %w", path, err)
	}
	return Parse(src, path)
}

// Parse decodes and validates model source. filename is used in
// diagnostics only.
func Parse(src []byte, filename string) (*Arena, error) {
	file, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("model: parse %s: %w", filename, diags)
	}

	var root fileRoot
	if diags := gohcl.DecodeBody(file.Body, nil, &root); diags.HasErrors() {
		return nil, fmt.Errorf("model: decode %s: %w", filename, diags)
	}
	if len(root.Models) != 1 {
		return nil, fmt.Errorf("model: %s: expected exactly one model block, found %d", filename, len(root.Models))
	}

	top, err := root.Models[0].translate()
	if err != nil {
		return nil, err
	}
	arena := NewArena(top)

	for _, b := range root.Submodels {
		sub, err := b.translate()
		if err != nil {
			return nil, err
		}
		if _, err := arena.AddSubmodel(sub); err != nil {
			return nil, err
		}
	}

	if err := arena.Validate(); err != nil {
		return nil, err
	}
	return arena, nil
}

func (b *modelBlock) translate() (*ModelState, error) {
	m := &ModelState{ID: b.ID}
	var err error
	compile := func(owner, src string) *expr.Formula {
		if err != nil || src == "" {
			return nil
		}
		f, cerr := expr.Compile(src)
		if cerr != nil {
			err = fmt.Errorf("model: %s.%s: %w", b.ID, owner, cerr)
		}
		return f
	}

	for _, c := range b.Compartments {
		comp := Compartment{ID: c.ID, Size: 1, Constant: true}
		if c.Size != nil {
			comp.Size = *c.Size
		}
		if c.Constant != nil {
			comp.Constant = *c.Constant
		}
		m.Compartments = append(m.Compartments, comp)
	}

	for _, s := range b.Species {
		sp := Species{
			ID:                    s.ID,
			Compartment:           s.Compartment,
			HasOnlySubstanceUnits: s.OnlySubstanceUnits,
			BoundaryCondition:     s.Boundary,
			Constant:              s.Constant,
		}
		switch {
		case s.InitialAmount != nil && s.InitialConcentration != nil:
			return nil, fmt.Errorf("model: %s.%s: both initial_amount and initial_concentration set", b.ID, s.ID)
		case s.InitialConcentration != nil:
			sp.Initial = *s.InitialConcentration
			sp.InitialIsConcentration = true
		case s.InitialAmount != nil:
			sp.Initial = *s.InitialAmount
		}
		m.Species = append(m.Species, sp)
	}

	for _, p := range b.Parameters {
		m.Parameters = append(m.Parameters, Parameter{ID: p.ID, Value: p.Value, Constant: p.Constant})
	}

	refs := func(owner string, blocks []*refBlock) []SpeciesRef {
		out := make([]SpeciesRef, 0, len(blocks))
		for _, rb := range blocks {
			ref := SpeciesRef{Species: rb.Species, Stoichiometry: 1}
			if rb.Stoichiometry != nil {
				ref.Stoichiometry = *rb.Stoichiometry
			}
			ref.StoichiometryMath = compile(owner, rb.StoichiometryMath)
			out = append(out, ref)
		}
		return out
	}
	for _, r := range b.Reactions {
		m.Reactions = append(m.Reactions, Reaction{
			ID:              r.ID,
			Reactants:       refs(r.ID, r.Reactants),
			Products:        refs(r.ID, r.Products),
			Modifiers:       r.Modifiers,
			Rate:            compile(r.ID, r.Rate),
			LocalParameters: r.LocalParameters,
		})
	}

	rules := func(blocks []*ruleBlock) []Rule {
		var out []Rule
		for _, rb := range blocks {
			out = append(out, Rule{Variable: rb.Variable, Math: compile(rb.Variable, rb.Math)})
		}
		return out
	}
	m.RateRules = rules(b.RateRules)
	m.AssignmentRules = rules(b.AssignmentRules)
	m.InitialAssignments = rules(b.InitialAssignments)

	for _, e := range b.Events {
		m.Events = append(m.Events, Event{
			ID:                       e.ID,
			Trigger:                  compile(e.ID, e.Trigger),
			Delay:                    compile(e.ID, e.Delay),
			Priority:                 compile(e.ID, e.Priority),
			UseValuesFromTriggerTime: e.UseValuesFromTriggerTime,
			Assignments:              rules(e.Assignments),
		})
	}

	for _, c := range b.Constraints {
		m.Constraints = append(m.Constraints, Constraint{ID: c.ID, Math: compile(c.ID, c.Math), Message: c.Message})
	}

	if len(b.Replacements) > 0 {
		m.Replacements = make(map[string]string, len(b.Replacements))
		for _, r := range b.Replacements {
			m.Replacements[r.Local] = r.With
		}
	}

	if err != nil {
		return nil, err
	}
	return m, nil
}
