package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/san-kum/biosim/internal/dynamo"
	"github.com/san-kum/biosim/internal/sim"
)

// Recorder exports engine activity as Prometheus metrics.
type Recorder struct {
	steps       *prometheus.CounterVec
	events      *prometheus.CounterVec
	rows        prometheus.Counter
	writeErrors prometheus.Counter
	runs        *prometheus.CounterVec
	duration    prometheus.Histogram
	simTime     prometheus.Gauge
}

var _ sim.Recorder = (*Recorder)(nil)

// NewRecorder creates the collectors and registers them with reg.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		steps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "biosim_steps_total",
				Help: "Integrator steps by outcome",
			},
			[]string{"kind"},
		),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "biosim_events_fired_total",
				Help: "Model events fired",
			},
			[]string{"scope", "event"},
		),
		rows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "biosim_rows_written_total",
			Help: "Output rows written",
		}),
		writeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "biosim_write_errors_total",
			Help: "Failed output writes",
		}),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "biosim_runs_total",
				Help: "Finished runs by outcome",
			},
			[]string{"outcome"},
		),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "biosim_run_duration_seconds",
			Help:    "Wall clock duration of a run",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		simTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "biosim_simulated_time",
			Help: "Simulated time reached by the latest run",
		}),
	}

	for _, c := range []prometheus.Collector{r.steps, r.events, r.rows, r.writeErrors, r.runs, r.duration, r.simTime} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Recorder) StepDone(res dynamo.StepResult) {
	r.steps.WithLabelValues(res.Kind.String()).Inc()
}

func (r *Recorder) EventFired(scope, event string) {
	r.events.WithLabelValues(scope, event).Inc()
}

func (r *Recorder) RowWritten() { r.rows.Inc() }

func (r *Recorder) WriteFailed() { r.writeErrors.Inc() }

func (r *Recorder) RunFinished(res sim.Result) {
	outcome := "completed"
	switch {
	case res.Canceled:
		outcome = "canceled"
	case res.ConstraintViolated:
		outcome = "constraint_violated"
	case res.DegradedSteps > 0:
		outcome = "degraded"
	}
	r.runs.WithLabelValues(outcome).Inc()
	r.duration.Observe(res.Duration.Seconds())
	r.simTime.Set(res.EndTime)
}
