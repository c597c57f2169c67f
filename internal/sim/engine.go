package sim

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/san-kum/biosim/internal/dynamo"
	"github.com/san-kum/biosim/internal/integrators"
	"github.com/san-kum/biosim/internal/logging"
	"github.com/san-kum/biosim/internal/model"
	"github.com/san-kum/biosim/internal/output"
	"github.com/san-kum/biosim/internal/progress"
	"github.com/san-kum/biosim/internal/statevec"
)

// Root finding parameters passed to the solver for both event handlers.
const (
	rootConvergence = 1e-20
	rootMaxIter     = 10000
)

// Recorder observes engine activity, typically for metrics.
type Recorder interface {
	StepDone(res dynamo.StepResult)
	EventFired(scope, event string)
	RowWritten()
	WriteFailed()
	RunFinished(res Result)
}

type nopRecorder struct{}

func (nopRecorder) StepDone(dynamo.StepResult) {}
func (nopRecorder) EventFired(string, string)  {}
func (nopRecorder) RowWritten()                {}
func (nopRecorder) WriteFailed()               {}
func (nopRecorder) RunFinished(Result)         {}

// StatisticsHook aggregates printed rows across runs.
type StatisticsHook interface {
	Observe(run int, t float64, values []float64)
	Print(names []string) error
}

// Hooks fans rows out to several statistics hooks.
type Hooks []StatisticsHook

func (hs Hooks) Observe(run int, t float64, values []float64) {
	for _, h := range hs {
		h.Observe(run, t, values)
	}
}

func (hs Hooks) Print(names []string) error {
	var err error
	for _, h := range hs {
		err = errors.Join(err, h.Print(names))
	}
	return err
}

// Result summarizes one run.
type Result struct {
	Run                int
	EndTime            float64
	Rows               int
	WriteErrors        int
	EventsFired        int
	Canceled           bool
	ConstraintViolated bool
	Violation          string
	DegradedSteps      int
	Degraded           []dynamo.StepResult
	Solver             integrators.Stats
	Duration           time.Duration
}

type Option func(*Engine)

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithStepper selects the integration method. The default is RK45.
func WithStepper(s integrators.Stepper) Option {
	return func(e *Engine) { e.stepper = s }
}

// WithOutput sets the function opening the row writer of each run.
func WithOutput(open func(run int) (output.Writer, error)) Option {
	return func(e *Engine) { e.open = open }
}

func WithProgress(s progress.Sink) Option {
	return func(e *Engine) { e.sink = s }
}

func WithToken(t *progress.Token) Option {
	return func(e *Engine) { e.token = t }
}

func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.rec = r }
}

func WithStatistics(h StatisticsHook) Option {
	return func(e *Engine) { e.stats = h }
}

type Engine struct {
	arena   *model.Arena
	cfg     Config
	log     *slog.Logger
	stepper integrators.Stepper
	open    func(run int) (output.Writer, error)
	sink    progress.Sink
	token   *progress.Token
	rec     Recorder
	stats   StatisticsHook

	initialized bool
	seed        int64
	run         int

	vec         *statevec.Vector
	snapshot    dynamo.State
	scopes      []*scope
	rules       []ruleRef
	ruleDeps    [][]int
	timeRules   []int
	rateRules   []rateRule
	dynamic     []bool
	events      []*eventState
	constraints []constraintRef
	queue       eventQueue
	seq         uint64

	solver  *integrators.Solver
	trigger *triggerHandler
	queued  *queueHandler

	names   []string
	outputs []slot
	writer  output.Writer

	cur           float64
	printed       int
	printDone     bool
	ruleCapWarned bool
	result        Result
}

func New(arena *model.Arena, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		arena: arena,
		cfg:   cfg.withDefaults(),
		rec:   nopRecorder{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = logging.NewNop()
	}
	if e.stepper == nil {
		e.stepper = integrators.NewRK45()
	}
	if e.token == nil {
		e.token = progress.NewToken()
	}
	return e
}

// Initialize builds the state vector, resolves initial values and opens the
// output of the given run. Calling it again is a no-op.
func (e *Engine) Initialize(seed int64, run int) error {
	if e.initialized {
		return nil
	}
	if err := e.cfg.validate(); err != nil {
		return fmt.Errorf("sim: %w", err)
	}
	if err := e.arena.Validate(); err != nil {
		return err
	}

	vec, err := statevec.Build(e.arena)
	if err != nil {
		return err
	}
	e.vec = vec
	e.seed = seed

	e.buildScopes()
	e.buildRules()
	e.buildEvents()
	if err := e.buildOutputs(); err != nil {
		return err
	}

	e.applyInitialAssignments()
	e.resolveAll(0)
	e.snapshot = e.vec.Snapshot()

	e.buildSolver()
	e.resetRun(run)

	if err := e.openWriter(run); err != nil {
		return err
	}
	e.initialized = true

	e.log.Info("engine initialized",
		"run", run,
		"dim", e.vec.Dim(),
		"scopes", e.arena.Len(),
		"rules", len(e.rules),
		"events", len(e.events),
		"print_interval", e.cfg.PrintInterval,
	)
	return nil
}

// SetupForNewRun restores the state captured after initialization and
// prepares run n. It is the only way to start a second run.
func (e *Engine) SetupForNewRun(run int) error {
	if !e.initialized {
		return dynamo.ErrNotInitialized
	}
	e.closeWriter()
	if err := e.vec.Restore(e.snapshot); err != nil {
		return err
	}
	e.solver.Reset()
	e.resetRun(run)
	return e.openWriter(run)
}

// Cancel asks a running Simulate to stop at its next check.
func (e *Engine) Cancel() {
	e.token.Cancel()
}

// PrintStatistics hands the aggregated rows to the statistics hook, if any.
func (e *Engine) PrintStatistics() error {
	if e.stats == nil {
		return nil
	}
	return e.stats.Print(e.names)
}

func (e *Engine) Initialized() bool { return e.initialized }

func (e *Engine) Result() Result { return e.result }

func (e *Engine) Time() float64 { return e.cur }

func (e *Engine) Config() Config { return e.cfg }

// Names returns the reported variable names in column order.
func (e *Engine) Names() []string { return e.names }

// State returns a copy of the current state vector.
func (e *Engine) State() dynamo.State { return e.vec.Snapshot() }

// Snapshot returns a copy of the state captured after initialization.
func (e *Engine) Snapshot() dynamo.State { return e.snapshot.Clone() }

// Value returns the stored value (an amount for species) of a variable,
// qualified as scope.name for submodels.
func (e *Engine) Value(name string) (float64, bool) {
	h, local, err := e.qualify(name)
	if err != nil {
		return 0, false
	}
	i, ok := e.vec.Index(h, local)
	if !ok {
		return 0, false
	}
	return e.vec.Get(i), true
}

// FireCount returns how many times an event fired in the current run. An
// empty scope means the top model.
func (e *Engine) FireCount(scope, event string) int {
	for _, es := range e.events {
		if es.ev.ID == event && (es.sc.m.ID == scope || scope == "" && es.sc.h == model.Top) {
			return es.fired
		}
	}
	return 0
}

// Dim implements dynamo.System.
func (e *Engine) Dim() int { return e.vec.Dim() }

// Derive implements dynamo.System. Assignment rules are resolved on a
// scratch copy of y before the derivative is computed.
func (e *Engine) Derive(y dynamo.State, t float64) dynamo.State {
	work := y.Clone()
	e.resolveChanged(work, t)
	return e.derive(work, t)
}

func (e *Engine) qualify(name string) (model.Handle, string, error) {
	scopeID, local, ok := strings.Cut(name, ".")
	if !ok {
		return model.Top, name, nil
	}
	h, found := e.arena.Lookup(scopeID)
	if !found {
		return 0, "", &statevec.UnresolvedError{Scope: scopeID, Name: local, Context: "unknown scope"}
	}
	return h, local, nil
}

func (e *Engine) buildSolver() {
	maxStep := e.cfg.MaxStep
	if _, adaptive := e.stepper.(integrators.EmbeddedStepper); !adaptive && math.IsInf(maxStep, 1) {
		maxStep = e.cfg.PrintInterval / 10
	}
	e.solver = integrators.NewSolver(e.stepper, e.cfg.MinStep, maxStep, e.cfg.AbsError, e.cfg.RelError)
	e.trigger = &triggerHandler{e: e, sign: 1}
	e.queued = &queueHandler{e: e, sign: 1}
	e.solver.AddEventHandler(e.trigger, e.cfg.PrintInterval, rootConvergence, rootMaxIter)
	e.solver.AddEventHandler(e.queued, e.cfg.PrintInterval, rootConvergence, rootMaxIter)
}

func (e *Engine) buildOutputs() error {
	e.names, e.outputs = nil, nil
	add := func(name string, h model.Handle, local string) error {
		i, ok := e.vec.Index(h, local)
		if !ok {
			return &statevec.UnresolvedError{Scope: e.arena.Get(h).ID, Name: local, Context: "reported variable"}
		}
		s := slot{idx: i, comp: -1}
		if e.cfg.Quantity == Concentration {
			if sp, ok := e.arena.Get(h).SpeciesByID(local); ok {
				if ci, ok := e.vec.Index(h, sp.Compartment); ok {
					s.comp = ci
				}
			}
		}
		e.names = append(e.names, name)
		e.outputs = append(e.outputs, s)
		return nil
	}

	if len(e.cfg.Species) > 0 {
		for _, name := range e.cfg.Species {
			h, local, err := e.qualify(name)
			if err != nil {
				return err
			}
			if err := add(name, h, local); err != nil {
				return err
			}
		}
		return nil
	}

	for _, h := range e.arena.Handles() {
		m := e.arena.Get(h)
		for _, sp := range m.Species {
			if _, replaced := m.Replacements[sp.ID]; replaced {
				continue
			}
			name := sp.ID
			if h != model.Top {
				name = m.ID + "." + sp.ID
			}
			if err := add(name, h, sp.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) resetRun(run int) {
	e.run = run
	e.cur = 0
	e.printed = 0
	e.printDone = false
	e.ruleCapWarned = false
	e.queue = e.queue[:0]
	e.seq = 0
	e.trigger.sign = 1
	e.queued.sign = 1
	for _, es := range e.events {
		es.prev = false
		es.pending = false
		es.fired = 0
	}
	e.result = Result{Run: run}

	// Events already true at t=0 see a false prior value and are queued.
	e.scanTriggers(0)
}

func (e *Engine) openWriter(run int) error {
	if e.open == nil {
		return nil
	}
	w, err := e.open(run)
	if err != nil {
		return fmt.Errorf("sim: open output for run %d: %w", run, err)
	}
	e.writer = w
	if err := w.WriteHeader(e.names); err != nil {
		e.log.Error("write header failed", "run", run, "err", err)
		e.rec.WriteFailed()
	}
	return nil
}

func (e *Engine) closeWriter() {
	if e.writer == nil {
		return
	}
	if err := e.writer.Close(); err != nil {
		e.log.Error("close output failed", "run", e.run, "err", err)
		e.rec.WriteFailed()
	}
	e.writer = nil
}
