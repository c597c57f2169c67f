package model

import (
	"github.com/san-kum/biosim/internal/expr"
)

type Compartment struct {
	ID       string
	Size     float64
	Constant bool
}

type Species struct {
	ID          string
	Compartment string

	// Initial is an amount, or a concentration when InitialIsConcentration
	// is set.
	Initial                float64
	InitialIsConcentration bool

	HasOnlySubstanceUnits bool
	BoundaryCondition     bool
	Constant              bool
}

type Parameter struct {
	ID       string
	Value    float64
	Constant bool
}

// SpeciesRef is one reactant or product of a reaction. StoichiometryMath,
// when set, replaces the fixed Stoichiometry and is re-evaluated on every
// derivative evaluation.
type SpeciesRef struct {
	Species           string
	Stoichiometry     float64
	StoichiometryMath *expr.Formula
}

type Reaction struct {
	ID        string
	Reactants []SpeciesRef
	Products  []SpeciesRef
	Modifiers []string
	Rate      *expr.Formula

	// LocalParameters shadow model names inside Rate.
	LocalParameters map[string]float64
}

// Rule binds Variable to Math. It is used for rate rules, assignment rules
// and initial assignments.
type Rule struct {
	Variable string
	Math     *expr.Formula
}

type EventAssignment = Rule

type Event struct {
	ID      string
	Trigger *expr.Formula

	// Delay and Priority are optional.
	Delay    *expr.Formula
	Priority *expr.Formula

	// UseValuesFromTriggerTime evaluates assignments when the trigger
	// fires instead of when the event is executed.
	UseValuesFromTriggerTime bool

	Assignments []EventAssignment
}

type Constraint struct {
	ID      string
	Math    *expr.Formula
	Message string
}

// VarKind classifies a model variable.
type VarKind int

const (
	KindNone VarKind = iota
	KindCompartment
	KindSpecies
	KindParameter
)

func (k VarKind) String() string {
	switch k {
	case KindCompartment:
		return "compartment"
	case KindSpecies:
		return "species"
	case KindParameter:
		return "parameter"
	default:
		return "none"
	}
}

type varRef struct {
	kind VarKind
	idx  int
}

// ModelState is one model scope.
type ModelState struct {
	ID string

	Compartments       []Compartment
	Species            []Species
	Parameters         []Parameter
	Reactions          []Reaction
	RateRules          []Rule
	AssignmentRules    []Rule
	InitialAssignments []Rule
	Events             []Event
	Constraints        []Constraint

	// Replacements maps a local variable to the top-model variable that
	// replaces it. Only meaningful for submodels.
	Replacements map[string]string

	index map[string]varRef
}

func (m *ModelState) reindex() {
	m.index = make(map[string]varRef, len(m.Compartments)+len(m.Species)+len(m.Parameters))
	for i, c := range m.Compartments {
		m.index[c.ID] = varRef{KindCompartment, i}
	}
	for i, s := range m.Species {
		m.index[s.ID] = varRef{KindSpecies, i}
	}
	for i, p := range m.Parameters {
		m.index[p.ID] = varRef{KindParameter, i}
	}
}

func (m *ModelState) ref(name string) (varRef, bool) {
	if m.index == nil {
		m.reindex()
	}
	r, ok := m.index[name]
	return r, ok
}

// Variables returns every variable in declaration order: compartments,
// then species, then parameters.
func (m *ModelState) Variables() []string {
	out := make([]string, 0, len(m.Compartments)+len(m.Species)+len(m.Parameters))
	for _, c := range m.Compartments {
		out = append(out, c.ID)
	}
	for _, s := range m.Species {
		out = append(out, s.ID)
	}
	for _, p := range m.Parameters {
		out = append(out, p.ID)
	}
	return out
}

func (m *ModelState) Has(name string) bool {
	_, ok := m.ref(name)
	return ok
}

func (m *ModelState) Kind(name string) VarKind {
	r, ok := m.ref(name)
	if !ok {
		return KindNone
	}
	return r.kind
}

func (m *ModelState) SpeciesByID(name string) (*Species, bool) {
	r, ok := m.ref(name)
	if !ok || r.kind != KindSpecies {
		return nil, false
	}
	return &m.Species[r.idx], true
}

func (m *ModelState) CompartmentByID(name string) (*Compartment, bool) {
	r, ok := m.ref(name)
	if !ok || r.kind != KindCompartment {
		return nil, false
	}
	return &m.Compartments[r.idx], true
}

// InitialValue returns the value a variable starts with before initial
// assignments. Species are returned as amounts.
func (m *ModelState) InitialValue(name string) float64 {
	r, ok := m.ref(name)
	if !ok {
		return 0
	}
	switch r.kind {
	case KindCompartment:
		return m.Compartments[r.idx].Size
	case KindParameter:
		return m.Parameters[r.idx].Value
	}
	s := m.Species[r.idx]
	if !s.InitialIsConcentration {
		return s.Initial
	}
	size := 1.0
	if c, ok := m.CompartmentByID(s.Compartment); ok {
		size = c.Size
	}
	return s.Initial * size
}

// IsConstant reports whether a variable never changes during a run.
func (m *ModelState) IsConstant(name string) bool {
	r, ok := m.ref(name)
	if !ok {
		return false
	}
	switch r.kind {
	case KindCompartment:
		return m.Compartments[r.idx].Constant
	case KindParameter:
		return m.Parameters[r.idx].Constant
	}
	return m.Species[r.idx].Constant
}

// NeedsConversion reports whether formulas see name as a concentration
// while the state holds an amount.
func (m *ModelState) NeedsConversion(name string) bool {
	s, ok := m.SpeciesByID(name)
	return ok && !s.HasOnlySubstanceUnits
}

// AssignmentRuleFor returns the index of the assignment rule targeting
// name, or -1.
func (m *ModelState) AssignmentRuleFor(name string) int {
	for i, r := range m.AssignmentRules {
		if r.Variable == name {
			return i
		}
	}
	return -1
}

// RateRuleFor returns the index of the rate rule targeting name, or -1.
func (m *ModelState) RateRuleFor(name string) int {
	for i, r := range m.RateRules {
		if r.Variable == name {
			return i
		}
	}
	return -1
}

// RuleDependents maps each variable to the assignment rules whose math
// reads it. Reads of a species also count as reads of its compartment,
// since the concentration the rule sees depends on both.
func (m *ModelState) RuleDependents() map[string][]int {
	deps := make(map[string][]int)
	for i, r := range m.AssignmentRules {
		seen := make(map[string]bool)
		add := func(name string) {
			if !seen[name] {
				seen[name] = true
				deps[name] = append(deps[name], i)
			}
		}
		for _, name := range r.Math.Refs() {
			add(name)
			if s, ok := m.SpeciesByID(name); ok && !s.HasOnlySubstanceUnits {
				add(s.Compartment)
			}
		}
	}
	return deps
}

// DependsOnTime reports whether any assignment rule reads the time symbol.
func (m *ModelState) DependsOnTime() bool {
	for _, r := range m.AssignmentRules {
		if r.Math.DependsOn(expr.Time) {
			return true
		}
	}
	return false
}
