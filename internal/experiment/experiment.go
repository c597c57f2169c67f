// Package experiment runs a configured simulation job: the runs loop,
// output files, statistics and storage of each run.
package experiment

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"strings"

	"github.com/san-kum/biosim/internal/config"
	"github.com/san-kum/biosim/internal/logging"
	"github.com/san-kum/biosim/internal/metrics"
	"github.com/san-kum/biosim/internal/model"
	"github.com/san-kum/biosim/internal/output"
	"github.com/san-kum/biosim/internal/progress"
	"github.com/san-kum/biosim/internal/sim"
	"github.com/san-kum/biosim/internal/stats"
	"github.com/san-kum/biosim/internal/storage"
)

type Option func(*Experiment)

func WithLogger(l *slog.Logger) Option {
	return func(x *Experiment) { x.log = l }
}

func WithProgress(s progress.Sink) Option {
	return func(x *Experiment) { x.sink = s }
}

func WithToken(t *progress.Token) Option {
	return func(x *Experiment) { x.token = t }
}

func WithRecorder(r sim.Recorder) Option {
	return func(x *Experiment) { x.rec = r }
}

// WithStore saves every finished run.
func WithStore(s storage.Store) Option {
	return func(x *Experiment) { x.store = s }
}

// Outcome is what a job produced. RunIDs parallels Results; a run whose
// save failed has an empty ID.
type Outcome struct {
	Results  []sim.Result
	RunIDs   []string
	Files    []string
	Canceled bool
	Names    []string
}

type Experiment struct {
	cfg   *config.Config
	arena *model.Arena
	reg   *Registry
	log   *slog.Logger
	sink  progress.Sink
	token *progress.Token
	rec   sim.Recorder
	store storage.Store
}

func New(cfg *config.Config, arena *model.Arena, opts ...Option) *Experiment {
	x := &Experiment{
		cfg:   cfg,
		arena: arena,
		reg:   NewRegistry(),
	}
	for _, opt := range opts {
		opt(x)
	}
	if x.log == nil {
		x.log = logging.NewNop()
	}
	if x.token == nil {
		x.token = progress.NewToken()
	}
	return x
}

// Token is the cancellation flag shared with every run of the job.
func (x *Experiment) Token() *progress.Token { return x.token }

// Run simulates runs 1..N. A canceled run ends the job and skips the
// statistics.
func (x *Experiment) Run(ctx context.Context) (*Outcome, error) {
	if err := x.cfg.Validate(); err != nil {
		return nil, err
	}
	stepper, err := x.reg.GetMethod(x.cfg.Method)
	if err != nil {
		return nil, err
	}
	format, err := x.reg.GetFormat(x.cfg.Format)
	if err != nil {
		return nil, err
	}

	out := &Outcome{}
	var mem *output.Memory
	open := func(run int) (output.Writer, error) {
		mem = output.NewMemory()
		if x.cfg.OutputDir == "" {
			return mem, nil
		}
		w, path, err := output.Create(x.cfg.OutputDir, format, run)
		if err != nil {
			return nil, err
		}
		out.Files = append(out.Files, path)
		return output.Tee{w, mem}, nil
	}

	collector := metrics.NewCollector(metrics.NewMassDrift(), metrics.NewBounded(math.Inf(1)))
	hooks := sim.Hooks{collector}
	if x.cfg.Statistics {
		dir := x.cfg.OutputDir
		if dir == "" {
			dir = "."
		}
		hooks = append(hooks, stats.ToDir(filepath.Join(dir, "statistics"), format))
	}

	opts := []sim.Option{
		sim.WithLogger(x.log),
		sim.WithStepper(stepper),
		sim.WithOutput(open),
		sim.WithToken(x.token),
		sim.WithStatistics(hooks),
	}
	if x.sink != nil {
		opts = append(opts, sim.WithProgress(x.sink))
	}
	if x.rec != nil {
		opts = append(opts, sim.WithRecorder(x.rec))
	}

	engine := sim.New(x.arena, x.cfg.SimConfig(), opts...)
	if err := engine.Initialize(x.cfg.Seed, 1); err != nil {
		return nil, err
	}
	out.Names = engine.Names()

	for run := 1; run <= x.cfg.Runs; run++ {
		if run > 1 {
			if err := engine.SetupForNewRun(run); err != nil {
				return out, err
			}
		}
		res, err := engine.Simulate(ctx)
		if err != nil {
			return out, fmt.Errorf("run %d: %w", run, err)
		}
		out.Results = append(out.Results, *res)

		if x.store != nil {
			id, err := x.save(ctx, engine.Config(), *res, mem.Series(), collector.Values())
			if err != nil {
				x.log.Error("save run failed", "run", run, "err", err)
				id = ""
			}
			out.RunIDs = append(out.RunIDs, id)
		}

		if res.Canceled {
			out.Canceled = true
			break
		}
	}

	if !out.Canceled && x.cfg.Statistics {
		if err := engine.PrintStatistics(); err != nil {
			return out, fmt.Errorf("statistics: %w", err)
		}
	}
	return out, nil
}

func (x *Experiment) save(ctx context.Context, cfg sim.Config, res sim.Result, series output.Series, m map[string]float64) (string, error) {
	return x.store.Save(ctx, storage.Run{
		Model:              x.arena.Get(model.Top).ID,
		Seed:               x.cfg.Seed,
		Run:                res.Run,
		Method:             x.cfg.Method,
		TimeLimit:          cfg.TimeLimit,
		PrintInterval:      cfg.PrintInterval,
		EndTime:            res.EndTime,
		Rows:               res.Rows,
		EventsFired:        res.EventsFired,
		DegradedSteps:      res.DegradedSteps,
		Canceled:           res.Canceled,
		ConstraintViolated: res.ConstraintViolated,
		Metrics:            m,
	}, series)
}

// Describe is a one-line summary of an outcome.
func (o *Outcome) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d run(s)", len(o.Results))
	if o.Canceled {
		b.WriteString(", canceled")
	}
	for _, r := range o.Results {
		if r.ConstraintViolated {
			fmt.Fprintf(&b, ", run %d: %s", r.Run, r.Violation)
		}
		if r.DegradedSteps > 0 {
			fmt.Fprintf(&b, ", run %d: %d degraded step(s)", r.Run, r.DegradedSteps)
		}
	}
	return b.String()
}
