package export

import (
	"math"
	"strings"
	"testing"

	"github.com/san-kum/biosim/internal/analysis"
	"github.com/san-kum/biosim/internal/output"
)

func series() output.Series {
	return output.Series{
		Names:  []string{"A", "B<1>"},
		Times:  []float64{0, 1, 2, 3},
		Values: [][]float64{{10, 0}, {6, 4}, {math.NaN(), 6}, {2, 8}},
	}
}

func TestSeriesToSVG(t *testing.T) {
	svg, err := SeriesToSVG(series(), nil, 400, 200)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(svg, "<?xml") || !strings.HasSuffix(svg, "</svg>\n") {
		t.Errorf("expected a complete svg document, got %q", svg)
	}
	if got := strings.Count(svg, "<path"); got != 2 {
		t.Errorf("expected 2 paths, got %d", got)
	}
	if !strings.Contains(svg, "B&lt;1&gt;") {
		t.Error("legend should escape column names")
	}
	// The NaN row splits the first line in two.
	first := svg[strings.Index(svg, "<path"):]
	first = first[:strings.Index(first, "/>")]
	if got := strings.Count(first, "M"); got != 2 {
		t.Errorf("expected 2 segments around NaN, got %d", got)
	}
}

func TestSeriesToSVGErrors(t *testing.T) {
	if _, err := SeriesToSVG(series(), []string{"nope"}, 100, 100); err == nil {
		t.Error("expected error for unknown column")
	}
	short := output.Series{Names: []string{"A"}, Times: []float64{0}, Values: [][]float64{{1}}}
	if _, err := SeriesToSVG(short, nil, 100, 100); err == nil {
		t.Error("expected error for a single row")
	}
}

func TestPhaseToSVG(t *testing.T) {
	p, err := analysis.NewPhasePortrait(series(), "A", "B<1>")
	if err != nil {
		t.Fatal(err)
	}
	svg, err := PhaseToSVG(p, 300, 300)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(svg, "B&lt;1&gt; vs A") {
		t.Errorf("expected axis caption, got %q", svg)
	}
}
