// Package stats aggregates printed rows across runs into per-time mean,
// variance and standard deviation series.
package stats

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/san-kum/biosim/internal/output"
)

// Series names written by Print, in order.
const (
	Mean              = "mean"
	Variance          = "variance"
	StandardDeviation = "standard_deviation"
)

// point accumulates one print time with Welford's online update.
type point struct {
	t    float64
	n    int
	mean []float64
	m2   []float64
}

func (p *point) add(values []float64) {
	if p.mean == nil {
		p.mean = make([]float64, len(values))
		p.m2 = make([]float64, len(values))
	}
	p.n++
	for i, x := range values {
		if i >= len(p.mean) {
			break
		}
		d := x - p.mean[i]
		p.mean[i] += d / float64(p.n)
		p.m2[i] += d * (x - p.mean[i])
	}
}

// variance is the population variance, zero for a single run.
func (p *point) variance() []float64 {
	out := make([]float64, len(p.m2))
	if p.n < 2 {
		return out
	}
	for i, v := range p.m2 {
		out[i] = v / float64(p.n)
	}
	return out
}

// Accumulator implements the engine's statistics hook. Rows are keyed by
// their position in a run, so every run must print the same times.
type Accumulator struct {
	mu     sync.Mutex
	open   func(name string) (output.Writer, error)
	points []*point
	cur    map[int]int
	runs   map[int]struct{}
}

// New returns an accumulator writing each series through open.
func New(open func(name string) (output.Writer, error)) *Accumulator {
	return &Accumulator{
		open: open,
		cur:  make(map[int]int),
		runs: make(map[int]struct{}),
	}
}

// ToDir writes the series as dir/<name><ext> in format f.
func ToDir(dir string, f output.Format) *Accumulator {
	return New(func(name string) (output.Writer, error) {
		w, _, err := output.CreateNamed(dir, f, name)
		return w, err
	})
}

func (a *Accumulator) Observe(run int, t float64, values []float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.runs[run] = struct{}{}
	k := a.cur[run]
	a.cur[run] = k + 1
	if k == len(a.points) {
		a.points = append(a.points, &point{t: t})
	}
	a.points[k].add(values)
}

// Runs is the number of distinct runs observed.
func (a *Accumulator) Runs() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.runs)
}

// Series returns the aggregated rows of one statistic.
func (a *Accumulator) Series(name string) (output.Series, error) {
	switch name {
	case Mean, Variance, StandardDeviation:
	default:
		return output.Series{}, fmt.Errorf("stats: unknown series %q", name)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	s := output.Series{}
	for _, p := range a.points {
		var row []float64
		switch name {
		case Mean:
			row = append([]float64(nil), p.mean...)
		case Variance:
			row = p.variance()
		case StandardDeviation:
			row = p.variance()
			for i, v := range row {
				row[i] = math.Sqrt(v)
			}
		}
		s.Times = append(s.Times, p.t)
		s.Values = append(s.Values, row)
	}
	return s, nil
}

// Print writes the mean, variance and standard deviation series.
func (a *Accumulator) Print(names []string) error {
	var errs error
	for _, name := range []string{Mean, Variance, StandardDeviation} {
		errs = errors.Join(errs, a.write(name, names))
	}
	return errs
}

func (a *Accumulator) write(name string, names []string) error {
	s, err := a.Series(name)
	if err != nil {
		return err
	}
	w, err := a.open(name)
	if err != nil {
		return fmt.Errorf("stats: open %s: %w", name, err)
	}
	if err := w.WriteHeader(names); err != nil {
		w.Close()
		return fmt.Errorf("stats: write %s: %w", name, err)
	}
	for i, t := range s.Times {
		if err := w.WriteRow(t, s.Values[i]); err != nil {
			w.Close()
			return fmt.Errorf("stats: write %s: %w", name, err)
		}
	}
	return w.Close()
}
