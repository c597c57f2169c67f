package metrics

import (
	"math"
	"sync"
)

// Metric summarizes the printed rows of one run into a single number.
type Metric interface {
	Name() string
	Observe(t float64, values []float64)
	Value() float64
	Reset()
}

// MassDrift tracks the largest relative change of the summed reported
// amounts. It is zero for networks that conserve mass.
type MassDrift struct {
	initial  float64
	maxDrift float64
	samples  int
}

func NewMassDrift() *MassDrift {
	return &MassDrift{}
}

func (m *MassDrift) Name() string { return "mass_drift" }

func (m *MassDrift) Observe(t float64, values []float64) {
	total := 0.0
	for _, v := range values {
		total += v
	}
	if m.samples == 0 {
		m.initial = total
	}
	m.samples++

	if m.initial != 0 {
		drift := math.Abs(total-m.initial) / math.Abs(m.initial)
		m.maxDrift = math.Max(m.maxDrift, drift)
	}
}

func (m *MassDrift) Value() float64 { return m.maxDrift }

func (m *MassDrift) Reset() {
	m.initial = 0
	m.maxDrift = 0
	m.samples = 0
}

// Bounded is the fraction of rows whose values all stay within
// [0, threshold]. Negative amounts count as violations.
type Bounded struct {
	threshold  float64
	violations int
	samples    int
}

func NewBounded(threshold float64) *Bounded {
	return &Bounded{threshold: threshold}
}

func (b *Bounded) Name() string { return "bounded" }

func (b *Bounded) Observe(t float64, values []float64) {
	b.samples++
	for _, v := range values {
		if v < 0 || v > b.threshold || math.IsNaN(v) {
			b.violations++
			break
		}
	}
}

func (b *Bounded) Value() float64 {
	if b.samples == 0 {
		return 1.0
	}
	return 1.0 - float64(b.violations)/float64(b.samples)
}

func (b *Bounded) Reset() {
	b.violations = 0
	b.samples = 0
}

// Collector feeds printed rows to a set of metrics, resetting them when a
// new run starts. It satisfies the engine's statistics hook.
type Collector struct {
	mu      sync.Mutex
	metrics []Metric
	run     int
	started bool
}

func NewCollector(ms ...Metric) *Collector {
	return &Collector{metrics: ms}
}

func (c *Collector) Observe(run int, t float64, values []float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started || run != c.run {
		for _, m := range c.metrics {
			m.Reset()
		}
		c.run, c.started = run, true
	}
	for _, m := range c.metrics {
		m.Observe(t, values)
	}
}

func (c *Collector) Print([]string) error { return nil }

// Values returns the metrics of the latest run by name.
func (c *Collector) Values() map[string]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]float64, len(c.metrics))
	for _, m := range c.metrics {
		out[m.Name()] = m.Value()
	}
	return out
}
