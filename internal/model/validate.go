package model

import (
	"fmt"
	"sort"
	"strings"

	"github.com/san-kum/biosim/internal/expr"
)

const (
	ErrKindDuplicate   = "duplicate"
	ErrKindUndefined   = "undefined"
	ErrKindConstant    = "constant"
	ErrKindConflict    = "conflict"
	ErrKindReplacement = "replacement"
	ErrKindMissing     = "missing"
)

// ValidationError describes one configuration problem in a model scope.
type ValidationError struct {
	Scope   string
	Kind    string
	Name    string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s %q: %s", e.Scope, e.Kind, e.Name, e.Message)
}

type ValidationErrors []ValidationError

func (es ValidationErrors) Error() string {
	msgs := make([]string, len(es))
	for i, e := range es {
		msgs[i] = e.Error()
	}
	return fmt.Sprintf("model: %d validation error(s): %s", len(es), strings.Join(msgs, "; "))
}

// Validate checks every scope and returns ValidationErrors, or nil.
func (a *Arena) Validate() error {
	var errs ValidationErrors
	for _, h := range a.Handles() {
		errs = append(errs, a.validateScope(h)...)
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

func (a *Arena) validateScope(h Handle) ValidationErrors {
	m := a.Get(h)
	var errs ValidationErrors
	fail := func(kind, name, format string, args ...any) {
		errs = append(errs, ValidationError{Scope: m.ID, Kind: kind, Name: name, Message: fmt.Sprintf(format, args...)})
	}

	seen := make(map[string]bool)
	for _, name := range m.Variables() {
		if name == expr.Time {
			fail(ErrKindConflict, name, "reserved name")
		}
		if seen[name] {
			fail(ErrKindDuplicate, name, "declared more than once")
		}
		seen[name] = true
	}

	for _, s := range m.Species {
		if _, ok := m.CompartmentByID(s.Compartment); !ok {
			fail(ErrKindUndefined, s.ID, "compartment %q does not exist", s.Compartment)
		}
	}

	known := func(name string) bool { return name == expr.Time || m.Has(name) }
	check := func(owner string, f *expr.Formula, extra map[string]float64) {
		if f == nil {
			fail(ErrKindMissing, owner, "formula is missing")
			return
		}
		err := f.Check(func(name string) bool {
			if _, ok := extra[name]; ok {
				return true
			}
			return known(name)
		})
		if err != nil {
			fail(ErrKindUndefined, owner, "%v", err)
		}
	}

	reactionIDs := make(map[string]bool)
	for _, r := range m.Reactions {
		if reactionIDs[r.ID] {
			fail(ErrKindDuplicate, r.ID, "reaction declared more than once")
		}
		reactionIDs[r.ID] = true
		check(r.ID, r.Rate, r.LocalParameters)
		for _, ref := range append(append([]SpeciesRef(nil), r.Reactants...), r.Products...) {
			if _, ok := m.SpeciesByID(ref.Species); !ok {
				fail(ErrKindUndefined, r.ID, "species %q does not exist", ref.Species)
			}
			if ref.StoichiometryMath != nil {
				check(r.ID, ref.StoichiometryMath, r.LocalParameters)
			}
		}
		for _, mod := range r.Modifiers {
			if _, ok := m.SpeciesByID(mod); !ok {
				fail(ErrKindUndefined, r.ID, "modifier %q does not exist", mod)
			}
		}
	}

	targets := make(map[string]string)
	target := func(kind string, r Rule) {
		if !m.Has(r.Variable) {
			fail(ErrKindUndefined, r.Variable, "%s targets an undeclared variable", kind)
			return
		}
		if m.IsConstant(r.Variable) {
			fail(ErrKindConstant, r.Variable, "%s targets a constant", kind)
		}
		if prev, ok := targets[r.Variable]; ok {
			fail(ErrKindConflict, r.Variable, "targeted by both %s and %s", prev, kind)
		}
		targets[r.Variable] = kind
		check(r.Variable, r.Math, nil)
	}
	for _, r := range m.RateRules {
		target("rate rule", r)
	}
	for _, r := range m.AssignmentRules {
		target("assignment rule", r)
	}

	initial := make(map[string]bool)
	for _, r := range m.InitialAssignments {
		if !m.Has(r.Variable) {
			fail(ErrKindUndefined, r.Variable, "initial assignment targets an undeclared variable")
			continue
		}
		if initial[r.Variable] {
			fail(ErrKindDuplicate, r.Variable, "more than one initial assignment")
		}
		if targets[r.Variable] == "assignment rule" {
			fail(ErrKindConflict, r.Variable, "targeted by both assignment rule and initial assignment")
		}
		initial[r.Variable] = true
		check(r.Variable, r.Math, nil)
	}

	eventIDs := make(map[string]bool)
	for _, ev := range m.Events {
		if eventIDs[ev.ID] {
			fail(ErrKindDuplicate, ev.ID, "event declared more than once")
		}
		eventIDs[ev.ID] = true
		check(ev.ID, ev.Trigger, nil)
		if ev.Delay != nil {
			check(ev.ID, ev.Delay, nil)
		}
		if ev.Priority != nil {
			check(ev.ID, ev.Priority, nil)
		}
		for _, as := range ev.Assignments {
			if !m.Has(as.Variable) {
				fail(ErrKindUndefined, ev.ID, "assignment to undeclared variable %q", as.Variable)
				continue
			}
			if m.IsConstant(as.Variable) {
				fail(ErrKindConstant, ev.ID, "assignment to constant %q", as.Variable)
			}
			if targets[as.Variable] == "assignment rule" {
				fail(ErrKindConflict, ev.ID, "assignment to %q which has an assignment rule", as.Variable)
			}
			check(ev.ID, as.Math, nil)
		}
	}

	for _, c := range m.Constraints {
		check(c.ID, c.Math, nil)
	}

	if len(m.Replacements) > 0 && h == Top {
		fail(ErrKindReplacement, m.ID, "the top model cannot declare replacements")
	}
	if h != Top {
		top := a.Top()
		locals := make([]string, 0, len(m.Replacements))
		for local := range m.Replacements {
			locals = append(locals, local)
		}
		sort.Strings(locals)
		for _, local := range locals {
			with := m.Replacements[local]
			if !m.Has(local) {
				fail(ErrKindReplacement, local, "replaced variable is not declared in %s", m.ID)
			}
			if !top.Has(with) {
				fail(ErrKindReplacement, local, "replacement %q is not declared in %s", with, top.ID)
			} else if m.Kind(local) != KindNone && m.Kind(local) != top.Kind(with) {
				fail(ErrKindReplacement, local, "%s cannot be replaced by %s %q", m.Kind(local), top.Kind(with), with)
			}
		}
	}

	return errs
}
