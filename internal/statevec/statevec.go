// Package statevec flattens the variables of every model scope into one
// contiguous state vector and records, per index, the symbolic terms that
// make up its time derivative.
package statevec

import (
	"fmt"

	"github.com/san-kum/biosim/internal/dynamo"
	"github.com/san-kum/biosim/internal/expr"
	"github.com/san-kum/biosim/internal/model"
)

// Key names a variable in one scope.
type Key struct {
	Scope model.Handle
	Name  string
}

// Term is one reaction's contribution to a derivative:
//
//	d(species)/dt += rate(Reaction) * Sign * (Stoich or Coeff)
type Term struct {
	Scope    model.Handle
	Reaction int
	Sign     float64
	Coeff    float64
	Stoich   *expr.Formula
}

// UnresolvedError reports a name with no index in its scope.
type UnresolvedError struct {
	Scope   string
	Name    string
	Context string
}

func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("statevec: %s: %q has no index (%s)", e.Scope, e.Name, e.Context)
}

type Vector struct {
	values  dynamo.State
	keys    [][]Key
	byScope []map[string]int
	terms   [][]Term
}

// New returns an empty vector for the given number of scopes.
func New(scopes int) *Vector {
	v := &Vector{byScope: make([]map[string]int, scopes)}
	for i := range v.byScope {
		v.byScope[i] = make(map[string]int)
	}
	return v
}

// AddVariable allocates the next index for (scope, name) with the given
// initial value and returns it. Adding a name twice returns the existing
// index.
func (v *Vector) AddVariable(scope model.Handle, name string, initial float64) int {
	if i, ok := v.byScope[scope][name]; ok {
		return i
	}
	i := len(v.values)
	v.values = append(v.values, initial)
	v.keys = append(v.keys, []Key{{Scope: scope, Name: name}})
	v.terms = append(v.terms, nil)
	v.byScope[scope][name] = i
	return i
}

// Alias makes (scope, name) share index i.
func (v *Vector) Alias(scope model.Handle, name string, i int) {
	v.byScope[scope][name] = i
	v.keys[i] = append(v.keys[i], Key{Scope: scope, Name: name})
}

// AddReaction accumulates the derivative terms of reaction idx of scope.
func (v *Vector) AddReaction(scope model.Handle, scopeID string, idx int, r model.Reaction) error {
	add := func(ref model.SpeciesRef, sign float64) error {
		i, ok := v.byScope[scope][ref.Species]
		if !ok {
			return &UnresolvedError{Scope: scopeID, Name: ref.Species, Context: "reaction " + r.ID}
		}
		v.terms[i] = append(v.terms[i], Term{
			Scope:    scope,
			Reaction: idx,
			Sign:     sign,
			Coeff:    ref.Stoichiometry,
			Stoich:   ref.StoichiometryMath,
		})
		return nil
	}
	for _, ref := range r.Reactants {
		if err := add(ref, -1); err != nil {
			return err
		}
	}
	for _, ref := range r.Products {
		if err := add(ref, 1); err != nil {
			return err
		}
	}
	return nil
}

func (v *Vector) Index(scope model.Handle, name string) (int, bool) {
	i, ok := v.byScope[scope][name]
	return i, ok
}

// Names returns the name to index map of one scope. It must not be
// modified.
func (v *Vector) Names(scope model.Handle) map[string]int {
	return v.byScope[scope]
}

// Key returns the owning (first registered) key of index i.
func (v *Vector) Key(i int) Key { return v.keys[i][0] }

// Keys returns every key sharing index i.
func (v *Vector) Keys(i int) []Key { return v.keys[i] }

func (v *Vector) Terms(i int) []Term { return v.terms[i] }

func (v *Vector) Dim() int { return len(v.values) }

// Values is the live state. Callers may write to it but not resize it.
func (v *Vector) Values() dynamo.State { return v.values }

func (v *Vector) Get(i int) float64 { return v.values[i] }

func (v *Vector) Set(i int, x float64) { v.values[i] = x }

// Snapshot returns a copy of the current values.
func (v *Vector) Snapshot() dynamo.State { return v.values.Clone() }

// Restore overwrites the values with s.
func (v *Vector) Restore(s dynamo.State) error {
	if len(s) != len(v.values) {
		return fmt.Errorf("statevec: restore %d values into %d: %w", len(s), len(v.values), dynamo.ErrDimensionMismatch)
	}
	copy(v.values, s)
	return nil
}

// Build flattens every scope of arena. Top-model variables are indexed
// first; a submodel variable with a replacement shares the index of the
// top-model variable replacing it.
func Build(arena *model.Arena) (*Vector, error) {
	v := New(arena.Len())
	top := arena.Top()
	for _, name := range top.Variables() {
		v.AddVariable(model.Top, name, top.InitialValue(name))
	}

	for _, h := range arena.Handles()[1:] {
		m := arena.Get(h)
		for _, name := range m.Variables() {
			with, replaced := m.Replacements[name]
			if !replaced {
				v.AddVariable(h, name, m.InitialValue(name))
				continue
			}
			i, ok := v.Index(model.Top, with)
			if !ok {
				return nil, &UnresolvedError{Scope: top.ID, Name: with, Context: "replacement of " + m.ID + "." + name}
			}
			v.Alias(h, name, i)
		}
	}

	for _, h := range arena.Handles() {
		m := arena.Get(h)
		for idx, r := range m.Reactions {
			if err := v.AddReaction(h, m.ID, idx, r); err != nil {
				return nil, err
			}
		}
	}
	return v, nil
}
