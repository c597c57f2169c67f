package integrators

import (
	"fmt"
	"math"

	"github.com/san-kum/biosim/internal/dynamo"
)

// Stepper advances x by a single step of size dt.
type Stepper interface {
	Step(sys dynamo.System, x dynamo.State, t, dt float64) dynamo.State
}

// EmbeddedStepper is a Stepper with a local error estimate, enabling
// adaptive step-size control.
type EmbeddedStepper interface {
	Stepper
	StepWithError(sys dynamo.System, x dynamo.State, t, dt float64) (dynamo.State, dynamo.State)
	Rescale(errNorm float64) float64
}

// Action tells the solver what to do after an event handler fired.
type Action int

const (
	Continue Action = iota
	Stop
)

// EventHandler is a switching function. The solver stops at the first
// time g changes sign, located by bisection, and calls EventOccurred with
// the state at that time. EventOccurred may modify y in place.
type EventHandler interface {
	G(t float64, y dynamo.State) float64
	EventOccurred(t float64, y dynamo.State) Action
}

// StepObserver is implemented by handlers that need to see every accepted
// step that did not end in an event.
type StepObserver interface {
	StepAccepted(t float64, y dynamo.State)
}

type Stats struct {
	Accepted int
	Rejected int
	Roots    int
}

type handlerEntry struct {
	handler     EventHandler
	maxCheck    float64
	convergence float64
	maxIter     int
}

// Solver integrates a System between two times with optional adaptive
// step-size control and event location.
type Solver struct {
	stepper  Stepper
	embedded EmbeddedStepper

	minStep float64
	maxStep float64
	absTol  float64
	relTol  float64

	handlers []handlerEntry
	lastStep float64
	stats    Stats
}

func NewSolver(stepper Stepper, minStep, maxStep, absTol, relTol float64) *Solver {
	s := &Solver{
		stepper: stepper,
		minStep: minStep,
		maxStep: maxStep,
		absTol:  absTol,
		relTol:  relTol,
	}
	if e, ok := stepper.(EmbeddedStepper); ok {
		s.embedded = e
	}
	if maxStep <= 0 {
		s.maxStep = math.Inf(1)
	}
	return s
}

// AddEventHandler registers h. g is sampled at least every maxCheckInterval
// inside a step; roots are bisected until the bracket is below convergence
// or maxIter halvings were made.
func (s *Solver) AddEventHandler(h EventHandler, maxCheckInterval, convergence float64, maxIter int) {
	if maxCheckInterval <= 0 {
		maxCheckInterval = math.Inf(1)
	}
	if maxIter <= 0 {
		maxIter = 100
	}
	s.handlers = append(s.handlers, handlerEntry{
		handler:     h,
		maxCheck:    maxCheckInterval,
		convergence: convergence,
		maxIter:     maxIter,
	})
}

func (s *Solver) Adaptive() bool { return s.embedded != nil }

func (s *Solver) Stats() Stats { return s.stats }

// Reset forgets the carried step size and counters.
func (s *Solver) Reset() {
	s.lastStep = 0
	s.stats = Stats{}
}

// Integrate advances y in place from t0 towards t1 and returns the time
// reached. It returns early when an event handler asks to stop.
func (s *Solver) Integrate(sys dynamo.System, t0 float64, y dynamo.State, t1 float64) (float64, error) {
	if len(y) != sys.Dim() {
		return t0, fmt.Errorf("integrate: state has %d entries, system has %d: %w", len(y), sys.Dim(), dynamo.ErrDimensionMismatch)
	}
	if t1 <= t0 {
		return t0, nil
	}

	g := make([]float64, len(s.handlers))
	for i, e := range s.handlers {
		g[i] = e.handler.G(t0, y)
	}

	t := t0
	proposal := s.firstStep(t0, t1)
	step := 0

	for t < t1 {
		h := proposal
		last := false
		if h >= t1-t {
			h = t1 - t
			last = true
		}

		var yNew dynamo.State
		errNorm := 0.0
		if s.embedded != nil {
			var errEst dynamo.State
			yNew, errEst = s.embedded.StepWithError(sys, y, t, h)
			errNorm = s.errorNorm(y, yNew, errEst)
			if math.IsNaN(errNorm) {
				errNorm = math.Inf(1)
			}
			if errNorm > 1 {
				s.stats.Rejected++
				next := h * s.embedded.Rescale(errNorm)
				if h <= s.minStep || t+next == t {
					return t, &dynamo.SimulationError{Step: step, Time: t, State: y.Clone(), Wrapped: dynamo.ErrStepTooSmall}
				}
				proposal = math.Max(next, s.minStep)
				continue
			}
		} else {
			yNew = s.stepper.Step(sys, y, t, h)
		}

		if !yNew.IsValid() {
			return t, &dynamo.SimulationError{Step: step, Time: t, State: y.Clone(), Wrapped: dynamo.ErrInvalidState}
		}

		tNew := t + h
		if last {
			tNew = t1
		}

		if len(s.handlers) > 0 {
			if root, idx, yRoot, ok := s.locate(sys, t, y, g, tNew, yNew); ok {
				copy(y, yRoot)
				t = root
				s.stats.Roots++
				s.lastStep = proposal
				if s.handlers[idx].handler.EventOccurred(t, y) == Stop {
					return t, nil
				}
				for i, e := range s.handlers {
					g[i] = e.handler.G(t, y)
				}
				continue
			}
		}

		copy(y, yNew)
		t = tNew
		step++
		s.stats.Accepted++

		for _, e := range s.handlers {
			if obs, ok := e.handler.(StepObserver); ok {
				obs.StepAccepted(t, y)
			}
		}
		for i, e := range s.handlers {
			g[i] = e.handler.G(t, y)
		}

		if s.embedded != nil {
			grown := math.Min(s.maxStep, h*s.embedded.Rescale(errNorm))
			if last {
				grown = math.Max(proposal, grown)
			}
			proposal = math.Min(s.maxStep, grown)
		}
	}

	s.lastStep = proposal
	return t, nil
}

func (s *Solver) firstStep(t0, t1 float64) float64 {
	span := t1 - t0
	h := math.Min(s.maxStep, span)
	if s.embedded != nil && s.lastStep > 0 {
		h = math.Min(h, s.lastStep)
	}
	return h
}

func (s *Solver) errorNorm(y, yNew, errEst dynamo.State) float64 {
	worst := 0.0
	for i := range errEst {
		e := math.Abs(errEst[i])
		sc := s.absTol + s.relTol*math.Max(math.Abs(y[i]), math.Abs(yNew[i]))
		var ratio float64
		switch {
		case e == 0:
			ratio = 0
		case sc == 0:
			ratio = math.Inf(1)
		default:
			ratio = e / sc
		}
		if ratio > worst || math.IsNaN(ratio) {
			worst = ratio
		}
	}
	return worst
}

// locate samples every handler across [t, tEnd] and returns the earliest
// bisected root, the index of its handler and the state there.
func (s *Solver) locate(sys dynamo.System, t float64, y dynamo.State, gStart []float64, tEnd float64, yEnd dynamo.State) (float64, int, dynamo.State, bool) {
	h := tEnd - t
	check := math.Inf(1)
	for _, e := range s.handlers {
		check = math.Min(check, e.maxCheck)
	}
	n := 1
	if !math.IsInf(check, 1) && h > check {
		n = int(math.Ceil(h / check))
	}

	ta := t
	ga := append([]float64(nil), gStart...)
	for k := 1; k <= n; k++ {
		tb, yb := tEnd, yEnd
		if k < n {
			tb = t + h*float64(k)/float64(n)
			yb = s.stepper.Step(sys, y, t, tb-t)
		}

		gb := make([]float64, len(s.handlers))
		best := -1
		bestT := math.Inf(1)
		var bestY dynamo.State
		for i, e := range s.handlers {
			gb[i] = e.handler.G(tb, yb)
			if !crossed(ga[i], gb[i]) {
				continue
			}
			rt, ry := s.bisect(sys, e, t, y, ta, ga[i], tb, yb)
			if rt < bestT {
				best, bestT, bestY = i, rt, ry
			}
		}
		if best >= 0 {
			return bestT, best, bestY, true
		}
		ta, ga = tb, gb
	}
	return 0, -1, nil, false
}

// bisect narrows [ta, tb] around the sign change of e. States inside the
// bracket are recomputed by stepping from (t0, y0). The returned time is on
// the far side of the root.
func (s *Solver) bisect(sys dynamo.System, e handlerEntry, t0 float64, y0 dynamo.State, ta, ga, tb float64, yb dynamo.State) (float64, dynamo.State) {
	for iter := 0; iter < e.maxIter && tb-ta > e.convergence; iter++ {
		tm := ta + 0.5*(tb-ta)
		if tm <= ta || tm >= tb {
			break
		}
		ym := s.stepper.Step(sys, y0, t0, tm-t0)
		gm := e.handler.G(tm, ym)
		if crossed(ga, gm) {
			tb, yb = tm, ym
		} else {
			ta, ga = tm, gm
		}
	}
	return tb, yb
}

func crossed(a, b float64) bool {
	return (a < 0) != (b < 0)
}
