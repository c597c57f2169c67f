package analysis

import (
	"math"
	"strings"
	"testing"

	"github.com/san-kum/biosim/internal/output"
)

func TestFFTImpulse(t *testing.T) {
	out := FFT([]float64{1, 0, 0, 0})
	for k, v := range out {
		if v != 1 {
			t.Errorf("bin %d: expected 1, got %v", k, v)
		}
	}
}

func TestDominantFrequency(t *testing.T) {
	const n = 256
	dt := 0.1
	times := make([]float64, n)
	values := make([]float64, n)
	for i := range times {
		times[i] = float64(i) * dt
		values[i] = 5 + math.Sin(2*math.Pi*0.5*times[i])
	}

	f, err := DominantFrequency(times, values)
	if err != nil {
		t.Fatal(err)
	}
	// bin width is 1/(256*0.1)
	if math.Abs(f-0.5) > 1/(n*dt) {
		t.Errorf("expected ~0.5, got %g", f)
	}
}

func TestDominantFrequencyFlat(t *testing.T) {
	times := []float64{0, 1, 2, 3, 4}
	values := []float64{2, 2, 2, 2, 2}
	f, err := DominantFrequency(times, values)
	if err != nil {
		t.Fatal(err)
	}
	if f != 0 {
		t.Errorf("expected 0 for a flat series, got %g", f)
	}
}

func TestDominantFrequencyTooShort(t *testing.T) {
	if _, err := DominantFrequency([]float64{0, 1}, []float64{1, 2}); err == nil {
		t.Error("expected error")
	}
}

func TestSpectrumPads(t *testing.T) {
	ps, df, err := Spectrum(make([]float64, 11), 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(ps) != 8 {
		t.Errorf("expected 8 bins, got %d", len(ps))
	}
	if df != 1.0/16 {
		t.Errorf("expected bin width 1/16, got %g", df)
	}
}

func TestPhasePortrait(t *testing.T) {
	s := output.Series{
		Names:  []string{"X", "Y"},
		Times:  []float64{0, 1, 2},
		Values: [][]float64{{0, 0}, {1, 1}, {2, 0}},
	}
	p, err := NewPhasePortrait(s, "X", "Y")
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Points) != 3 || p.Points[1] != (Point{1, 1}) {
		t.Errorf("unexpected points %v", p.Points)
	}

	art := p.ASCII(5, 3)
	lines := strings.Split(strings.TrimSuffix(art, "\n"), "\n")
	if len(lines) != 5 {
		t.Fatalf("expected 5 lines, got %d:\n%s", len(lines), art)
	}
	if lines[1] != "  •  " {
		t.Errorf("expected peak in the middle of the top row, got %q", lines[1])
	}
	if lines[3] != "o   •" {
		t.Errorf("unexpected bottom row %q", lines[3])
	}

	if _, err := NewPhasePortrait(s, "X", "Z"); err == nil {
		t.Error("expected error for missing column")
	}
}
