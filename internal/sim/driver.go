package sim

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/san-kum/biosim/internal/dynamo"
	"github.com/san-kum/biosim/internal/progress"
)

// Simulate integrates the current run up to the time limit, printing a row
// every print interval. Integrator failures degrade the affected interval
// and the run continues; only a dimension mismatch aborts it. Cancellation
// through ctx or Cancel ends the run early without an error.
func (e *Engine) Simulate(ctx context.Context) (*Result, error) {
	if !e.initialized {
		return nil, dynamo.ErrNotInitialized
	}
	started := time.Now()
	limit := e.cfg.TimeLimit

	var err error
	for {
		if e.token.Canceled() || ctx.Err() != nil {
			e.result.Canceled = true
			e.log.Info("simulation canceled", "run", e.run, "t", e.cur)
			break
		}

		if e.eventsDue(e.cur) || e.risingEdge(e.cur, e.vec.Values()) {
			e.processEvents(e.cur)
			e.checkConstraints()
		}
		e.printDue()

		if e.cur >= limit || e.result.ConstraintViolated {
			break
		}

		end := math.Min(e.cur+e.cfg.MaxStep, math.Min(e.nextPrint(), limit))
		if err = e.step(end); err != nil {
			break
		}
		e.resolveAll(e.cur)
		e.checkConstraints()
	}

	e.finish(started)
	if err != nil {
		return &e.result, err
	}
	return &e.result, nil
}

// step integrates from the current time towards end. The solver may stop
// earlier at an event.
func (e *Engine) step(end float64) error {
	start := e.cur
	if e.vec.Dim() == 0 {
		e.cur = end
		e.rec.StepDone(dynamo.Ok(start, end, end))
		return nil
	}

	y := e.vec.Snapshot()
	reached, err := e.solver.Integrate(e, start, y, end)
	if err != nil {
		if errors.Is(err, dynamo.ErrDimensionMismatch) {
			res := dynamo.Fatal(start, end, err)
			e.rec.StepDone(res)
			e.log.Error("integration failed", "run", e.run, "step", res.String(), "err", err)
			return err
		}
		res := dynamo.Degraded(start, end, err)
		e.result.Degraded = append(e.result.Degraded, res)
		e.result.DegradedSteps++
		e.log.Warn("integration degraded", "run", e.run, "from", start, "to", end, "err", err)
		e.rec.StepDone(res)

		// The state stays where the integrator left it; time is forced on.
		if err := e.vec.Restore(y); err != nil {
			return err
		}
		e.cur = end
		return nil
	}

	if err := e.vec.Restore(y); err != nil {
		return err
	}
	e.cur = reached
	e.rec.StepDone(dynamo.Ok(start, end, reached))
	return nil
}

// nextPrint is the time of the next row, snapped to the limit when it
// would overshoot or land within rounding distance of it.
func (e *Engine) nextPrint() float64 {
	limit := e.cfg.TimeLimit
	tp := float64(e.printed) * e.cfg.PrintInterval
	if tp > limit || limit-tp <= 1e-9*e.cfg.PrintInterval {
		return limit
	}
	return tp
}

func (e *Engine) printDue() {
	limit := e.cfg.TimeLimit
	for !e.printDone && e.cur >= e.nextPrint() {
		tp := e.nextPrint()
		e.writeRow(tp)
		e.printed++
		e.result.Rows++
		if tp >= limit {
			e.printDone = true
		}
		if e.sink != nil {
			fraction := tp / limit
			e.sink.Report(progress.Update{
				Run:      e.run,
				Time:     tp,
				Fraction: fraction,
				Status:   progress.Title(fraction),
			})
		}
	}
}

func (e *Engine) writeRow(t float64) {
	values := e.outputValues()
	if e.stats != nil {
		e.stats.Observe(e.run, t, values)
	}
	if e.writer == nil {
		return
	}
	if err := e.writer.WriteRow(t, values); err != nil {
		e.result.WriteErrors++
		e.log.Error("write row failed", "run", e.run, "t", t, "err", err)
		e.rec.WriteFailed()
		return
	}
	e.rec.RowWritten()
}

func (e *Engine) finish(started time.Time) {
	e.closeWriter()
	e.result.EndTime = e.cur
	e.result.Duration = time.Since(started)
	e.result.Solver = e.solver.Stats()

	if e.sink != nil {
		fraction := e.cur / e.cfg.TimeLimit
		e.sink.Report(progress.Update{
			Run:      e.run,
			Time:     e.cur,
			Fraction: fraction,
			Status:   progress.Title(fraction),
			Done:     true,
		})
	}
	e.rec.RunFinished(e.result)
	e.log.Info("simulation finished",
		"run", e.run,
		"end_time", e.cur,
		"rows", e.result.Rows,
		"events", e.result.EventsFired,
		"degraded", e.result.DegradedSteps,
		"canceled", e.result.Canceled,
		"duration", e.result.Duration,
	)
}
