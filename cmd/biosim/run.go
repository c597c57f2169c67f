package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/san-kum/biosim/internal/adapters/redis"
	"github.com/san-kum/biosim/internal/api"
	"github.com/san-kum/biosim/internal/config"
	"github.com/san-kum/biosim/internal/experiment"
	"github.com/san-kum/biosim/internal/logging"
	"github.com/san-kum/biosim/internal/metrics"
	"github.com/san-kum/biosim/internal/model"
	"github.com/san-kum/biosim/internal/progress"
	"github.com/san-kum/biosim/internal/storage"
	"github.com/san-kum/biosim/internal/tui"
)

type runFlags struct {
	configFile string
	preset     string
	overrides  []string

	timeLimit     float64
	printInterval float64
	numSteps      int
	runs          int
	seed          int64
	method        string
	format        string
	outputDir     string
	quantity      string
	species       []string
	statistics    bool
	logLevel      string
	logFormat     string

	noTUI     bool
	listen    string
	redisAddr string
	redisName string
}

func newRunCmd() *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run [model.hcl]",
		Short: "run simulation",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.resolve(cmd, args)
			if err != nil {
				return err
			}
			return runSimulation(cmd.Context(), cfg, f)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.configFile, "config", "", "config file path (yaml)")
	fl.StringVar(&f.preset, "preset", "", "use preset configuration")
	fl.StringArrayVar(&f.overrides, "set", nil, "override a config key (key=value), repeatable")

	fl.Float64Var(&f.timeLimit, "time", config.DefaultTimeLimit, "time limit")
	fl.Float64Var(&f.printInterval, "print-interval", 0, "time between output rows")
	fl.IntVar(&f.numSteps, "steps", config.DefaultNumSteps, "output rows when no print interval is given")
	fl.IntVar(&f.runs, "runs", config.DefaultRuns, "number of runs")
	fl.Int64Var(&f.seed, "seed", 0, "random seed")
	fl.StringVar(&f.method, "method", "rk45", "integration method (euler, rk4, rk45)")
	fl.StringVar(&f.format, "format", "tsd", "output format (tsd, csv)")
	fl.StringVar(&f.outputDir, "out", config.DefaultOutputDir, "output directory, empty for none")
	fl.StringVar(&f.quantity, "quantity", "amount", "species quantity (amount, concentration)")
	fl.StringSliceVar(&f.species, "species", nil, "reported species, scope.name for submodels")
	fl.BoolVar(&f.statistics, "statistics", false, "write cross-run statistics")
	fl.StringVar(&f.logLevel, "log-level", "info", "log level")
	fl.StringVar(&f.logFormat, "log-format", "text", "log format (text, json)")

	fl.BoolVar(&f.noTUI, "no-tui", false, "log progress instead of drawing it")
	fl.StringVar(&f.listen, "listen", "", "serve progress, cancel and metrics on this address")
	fl.StringVar(&f.redisAddr, "redis", "", "publish progress and accept cancel through this redis server")
	fl.StringVar(&f.redisName, "redis-name", "default", "job name on the redis bus")
	return cmd
}

// resolve layers defaults, preset, config file, --set overrides and
// explicitly set flags, in that order.
func (f *runFlags) resolve(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg := config.DefaultConfig()

	if f.preset != "" {
		if !config.ApplyPreset(cfg, f.preset) {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", f.preset, config.ListPresets())
		}
	}

	if f.configFile != "" {
		if err := config.Merge(f.configFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	overrides := make(map[string]string, len(f.overrides))
	for _, kv := range f.overrides {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --set %q, want key=value", kv)
		}
		overrides[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	if err := config.ApplyOverrides(cfg, overrides); err != nil {
		return nil, err
	}

	if len(args) > 0 {
		cfg.Model = args[0]
	}

	changed := cmd.Flags().Changed
	if changed("time") {
		cfg.TimeLimit = f.timeLimit
	}
	if changed("print-interval") {
		cfg.PrintInterval = f.printInterval
	}
	if changed("steps") {
		cfg.NumSteps = f.numSteps
	}
	if changed("runs") {
		cfg.Runs = f.runs
	}
	if changed("seed") {
		cfg.Seed = f.seed
	}
	if changed("method") {
		cfg.Method = f.method
	}
	if changed("format") {
		cfg.Format = f.format
	}
	if changed("out") {
		cfg.OutputDir = f.outputDir
	}
	if changed("quantity") {
		cfg.Quantity = f.quantity
	}
	if changed("species") {
		cfg.Species = f.species
	}
	if changed("statistics") {
		cfg.Statistics = f.statistics
	}
	if changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if changed("log-format") {
		cfg.LogFormat = f.logFormat
	}
	if changed("data") {
		cfg.DataDir = dataDir
	}
	if changed("store") {
		cfg.Store = storeKind
	}

	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runSimulation(ctx context.Context, cfg *config.Config, f *runFlags) error {
	interactive := !f.noTUI && term.IsTerminal(int(os.Stdout.Fd()))

	logOut := io.Writer(os.Stderr)
	if interactive {
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return err
		}
		lf, err := os.OpenFile(filepath.Join(cfg.DataDir, "biosim.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return err
		}
		defer lf.Close()
		logOut = lf
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat, logOut)
	if err != nil {
		return err
	}

	arena, err := model.Load(cfg.Model)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	rec, err := metrics.NewRecorder(reg)
	if err != nil {
		return err
	}

	var st storage.Store
	if cfg.Store != "none" {
		st, err = storage.Open(storage.Kind(cfg.Store), cfg.DataDir)
		if err != nil {
			return err
		}
		defer st.Close()
	}

	token := progress.NewToken()
	latest := &progress.Latest{}
	sinks := progress.Multi{latest}
	if !interactive {
		sinks = append(sinks, progress.LogSink{Logger: log})
	}

	if f.redisAddr != "" {
		client := goredis.NewClient(&goredis.Options{Addr: f.redisAddr})
		defer client.Close()
		bus := redis.New(client, f.redisName, redis.WithLogger(log))
		stop, err := bus.WatchCancel(ctx, token)
		if err != nil {
			return err
		}
		defer stop()
		sinks = append(sinks, bus)
	}

	if f.listen != "" {
		srv := &http.Server{
			Addr: f.listen,
			Handler: (&api.Server{
				Progress: latest,
				Cancel:   token,
				Store:    st,
				Gatherer: reg,
				Logger:   log,
			}).Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("api server failed", "addr", f.listen, "err", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Info("api listening", "addr", f.listen)
	}

	job := func(sink progress.Sink) (*experiment.Outcome, error) {
		opts := []experiment.Option{
			experiment.WithLogger(log),
			experiment.WithProgress(sink),
			experiment.WithToken(token),
			experiment.WithRecorder(rec),
		}
		if st != nil {
			opts = append(opts, experiment.WithStore(st))
		}
		return experiment.New(cfg, arena, opts...).Run(ctx)
	}

	start := time.Now()
	var outcome *experiment.Outcome
	if interactive {
		err = tui.Run(filepath.Base(cfg.Model), cfg.Runs, token.Cancel, func(s progress.Sink) error {
			var jobErr error
			outcome, jobErr = job(append(sinks, s))
			return jobErr
		})
	} else {
		sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
		defer stop()
		go func() {
			<-sigCtx.Done()
			token.Cancel()
		}()
		outcome, err = job(sinks)
	}
	if err != nil {
		return err
	}

	printOutcome(os.Stdout, outcome, time.Since(start))
	return nil
}

func printOutcome(w io.Writer, o *experiment.Outcome, elapsed time.Duration) {
	fmt.Fprintf(w, "completed in %v\n", elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "%s\n", o.Describe())
	for i, res := range o.Results {
		fmt.Fprintf(w, "\nrun %d:\n", res.Run)
		if i < len(o.RunIDs) && o.RunIDs[i] != "" {
			fmt.Fprintf(w, "  id: %s\n", o.RunIDs[i])
		}
		fmt.Fprintf(w, "  end time: %g\n", res.EndTime)
		fmt.Fprintf(w, "  rows: %d\n", res.Rows)
		fmt.Fprintf(w, "  events fired: %d\n", res.EventsFired)
		fmt.Fprintf(w, "  steps: %d accepted, %d rejected\n", res.Solver.Accepted, res.Solver.Rejected)
		if res.DegradedSteps > 0 {
			fmt.Fprintf(w, "  degraded steps: %d\n", res.DegradedSteps)
		}
	}
	for _, path := range o.Files {
		fmt.Fprintf(w, "wrote %s\n", path)
	}
}
