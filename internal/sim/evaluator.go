package sim

import (
	"math"
	"sort"

	"github.com/san-kum/biosim/internal/dynamo"
	"github.com/san-kum/biosim/internal/expr"
	"github.com/san-kum/biosim/internal/model"
)

// slot locates a variable in the state vector. comp is the index of the
// compartment whose size converts the stored amount into what formulas
// see, or -1.
type slot struct {
	idx  int
	comp int
}

type scope struct {
	h     model.Handle
	m     *model.ModelState
	slots map[string]slot
	rates []float64
}

type ruleRef struct {
	sc     *scope
	math   *expr.Formula
	target slot
}

type rateRule struct {
	sc     *scope
	math   *expr.Formula
	target slot
}

type constraintRef struct {
	sc *scope
	c  *model.Constraint
}

// env resolves names of one scope against a state vector.
type env struct {
	sc    *scope
	y     dynamo.State
	t     float64
	local map[string]float64
}

func (v env) Lookup(name string) (float64, bool) {
	if v.local != nil {
		if x, ok := v.local[name]; ok {
			return x, true
		}
	}
	if name == expr.Time {
		return v.t, true
	}
	s, ok := v.sc.slots[name]
	if !ok {
		return 0, false
	}
	x := v.y[s.idx]
	if s.comp >= 0 {
		x /= v.y[s.comp]
	}
	return x, true
}

func (e *Engine) buildScopes() {
	e.scopes = make([]*scope, e.arena.Len())
	for _, h := range e.arena.Handles() {
		m := e.arena.Get(h)
		sc := &scope{
			h:     h,
			m:     m,
			slots: make(map[string]slot),
			rates: make([]float64, len(m.Reactions)),
		}
		for name, i := range e.vec.Names(h) {
			s := slot{idx: i, comp: -1}
			if sp, ok := m.SpeciesByID(name); ok && !sp.HasOnlySubstanceUnits {
				if ci, ok := e.vec.Index(h, sp.Compartment); ok {
					s.comp = ci
				}
			}
			sc.slots[name] = s
		}
		e.scopes[h] = sc
	}
}

func (e *Engine) buildRules() {
	e.rules = nil
	e.rateRules = nil
	e.timeRules = nil
	e.constraints = nil
	e.ruleDeps = make([][]int, e.vec.Dim())

	ruleTarget := make([]bool, e.vec.Dim())
	for _, sc := range e.scopes {
		base := len(e.rules)
		for _, r := range sc.m.AssignmentRules {
			t := sc.slots[r.Variable]
			e.rules = append(e.rules, ruleRef{sc: sc, math: r.Math, target: t})
			ruleTarget[t.idx] = true
		}
		for name, ids := range sc.m.RuleDependents() {
			global := make([]int, len(ids))
			for k, id := range ids {
				global[k] = base + id
			}
			if name == expr.Time {
				e.timeRules = append(e.timeRules, global...)
				continue
			}
			if s, ok := sc.slots[name]; ok {
				e.ruleDeps[s.idx] = append(e.ruleDeps[s.idx], global...)
			}
		}
		for _, r := range sc.m.RateRules {
			e.rateRules = append(e.rateRules, rateRule{sc: sc, math: r.Math, target: sc.slots[r.Variable]})
		}
		for i := range sc.m.Constraints {
			e.constraints = append(e.constraints, constraintRef{sc: sc, c: &sc.m.Constraints[i]})
		}
	}
	for i := range e.ruleDeps {
		e.ruleDeps[i] = dedupe(e.ruleDeps[i])
	}
	e.timeRules = dedupe(e.timeRules)

	e.dynamic = make([]bool, e.vec.Dim())
	for i := range e.dynamic {
		e.dynamic[i] = len(e.vec.Terms(i)) > 0 && !ruleTarget[i]
		for _, k := range e.vec.Keys(i) {
			sp, ok := e.arena.Get(k.Scope).SpeciesByID(k.Name)
			if !ok || sp.Constant || sp.BoundaryCondition {
				e.dynamic[i] = false
			}
		}
	}
}

func dedupe(ids []int) []int {
	if len(ids) < 2 {
		return ids
	}
	sort.Ints(ids)
	out := ids[:1]
	for _, id := range ids[1:] {
		if id != out[len(out)-1] {
			out = append(out, id)
		}
	}
	return out
}

// derive computes dy/dt from a state whose assignment rules are resolved.
func (e *Engine) derive(y dynamo.State, t float64) dynamo.State {
	for _, sc := range e.scopes {
		for j := range sc.m.Reactions {
			r := &sc.m.Reactions[j]
			sc.rates[j] = r.Rate.Eval(env{sc: sc, y: y, t: t, local: r.LocalParameters})
		}
	}

	dy := make(dynamo.State, len(y))
	for i := range dy {
		if !e.dynamic[i] {
			continue
		}
		sum := 0.0
		for _, term := range e.vec.Terms(i) {
			sc := e.scopes[term.Scope]
			stoich := term.Coeff
			if term.Stoich != nil {
				local := sc.m.Reactions[term.Reaction].LocalParameters
				stoich = term.Stoich.Eval(env{sc: sc, y: y, t: t, local: local})
			}
			sum += sc.rates[term.Reaction] * term.Sign * stoich
		}
		dy[i] = sum
	}

	// Rate rules override whatever the reactions contributed.
	for _, rr := range e.rateRules {
		v := rr.math.Eval(env{sc: rr.sc, y: y, t: t})
		if rr.target.comp >= 0 {
			v *= y[rr.target.comp]
		}
		dy[rr.target.idx] = v
	}
	return dy
}

// resolveAll resolves every assignment rule against the committed state.
func (e *Engine) resolveAll(t float64) {
	pending := make([]bool, len(e.rules))
	for i := range pending {
		pending[i] = true
	}
	e.resolve(e.vec.Values(), t, pending)
}

// resolveChanged resolves, on y, only the rules whose inputs differ from
// the committed state, plus time dependent rules when t moved.
func (e *Engine) resolveChanged(y dynamo.State, t float64) {
	if len(e.rules) == 0 {
		return
	}
	pending := make([]bool, len(e.rules))
	committed := e.vec.Values()
	for i := range y {
		if y[i] != committed[i] {
			for _, id := range e.ruleDeps[i] {
				pending[id] = true
			}
		}
	}
	if t != e.cur {
		for _, id := range e.timeRules {
			pending[id] = true
		}
	}
	e.resolve(y, t, pending)
}

// resolve evaluates pending rules until a pass changes nothing or the
// iteration cap is reached. NaN results keep the previous value.
func (e *Engine) resolve(y dynamo.State, t float64, pending []bool) {
	next := make([]bool, len(e.rules))
	for iter := 0; ; iter++ {
		if !anySet(pending) {
			return
		}
		if iter >= e.cfg.MaxRuleIterations {
			if !e.ruleCapWarned {
				e.ruleCapWarned = true
				e.log.Warn("assignment rules did not converge", "run", e.run, "t", t, "iterations", iter)
			}
			return
		}

		clear(next)
		for id, p := range pending {
			if !p {
				continue
			}
			r := e.rules[id]
			v := r.math.Eval(env{sc: r.sc, y: y, t: t})
			if math.IsNaN(v) {
				continue
			}
			if r.target.comp >= 0 {
				v *= y[r.target.comp]
			}
			if !e.changed(y[r.target.idx], v) {
				continue
			}
			y[r.target.idx] = v
			for _, d := range e.ruleDeps[r.target.idx] {
				next[d] = true
			}
		}
		pending, next = next, pending
	}
}

func (e *Engine) changed(old, v float64) bool {
	if e.cfg.RuleTolerance == 0 {
		return old != v
	}
	return !(math.Abs(v-old) <= e.cfg.RuleTolerance)
}

func anySet(b []bool) bool {
	for _, x := range b {
		if x {
			return true
		}
	}
	return false
}

// applyInitialAssignments evaluates initial assignments and rules
// repeatedly so that assignments may depend on each other in any order.
func (e *Engine) applyInitialAssignments() {
	n := 0
	for _, sc := range e.scopes {
		n += len(sc.m.InitialAssignments)
	}
	if n == 0 {
		return
	}

	y := e.vec.Values()
	for pass := 0; pass <= n; pass++ {
		changed := false
		for _, sc := range e.scopes {
			for _, ia := range sc.m.InitialAssignments {
				s := sc.slots[ia.Variable]
				v := ia.Math.Eval(env{sc: sc, y: y, t: 0})
				if math.IsNaN(v) {
					continue
				}
				if s.comp >= 0 {
					v *= y[s.comp]
				}
				if y[s.idx] != v {
					y[s.idx] = v
					changed = true
				}
			}
		}
		e.resolveAll(0)
		if !changed {
			return
		}
	}
}

// checkConstraints flags the run when a constraint evaluates to false. A
// NaN constraint is not a violation.
func (e *Engine) checkConstraints() {
	if e.result.ConstraintViolated {
		return
	}
	y := e.vec.Values()
	for _, cr := range e.constraints {
		v := cr.c.Math.Eval(env{sc: cr.sc, y: y, t: e.cur})
		if math.IsNaN(v) || v != 0 {
			continue
		}
		msg := cr.c.Message
		if msg == "" {
			msg = "constraint " + cr.c.ID + " violated"
		}
		e.result.ConstraintViolated = true
		e.result.Violation = msg
		e.log.Warn("constraint violated", "run", e.run, "scope", cr.sc.m.ID, "constraint", cr.c.ID, "t", e.cur, "message", msg)
		return
	}
}

// outputValues returns the reported values at the current state.
func (e *Engine) outputValues() []float64 {
	y := e.vec.Values()
	out := make([]float64, len(e.outputs))
	for k, s := range e.outputs {
		v := y[s.idx]
		if s.comp >= 0 {
			v /= y[s.comp]
		}
		out[k] = v
	}
	return out
}
