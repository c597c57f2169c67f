package analysis

import (
	"fmt"
	"strings"

	"github.com/san-kum/biosim/internal/output"
)

type Point struct{ X, Y float64 }

// PhasePortrait pairs two columns of a series row by row.
type PhasePortrait struct {
	XName, YName string
	Points       []Point
}

func NewPhasePortrait(s output.Series, xName, yName string) (*PhasePortrait, error) {
	xs, ys := s.Column(xName), s.Column(yName)
	if xs == nil {
		return nil, fmt.Errorf("analysis: no column %q", xName)
	}
	if ys == nil {
		return nil, fmt.Errorf("analysis: no column %q", yName)
	}

	p := &PhasePortrait{XName: xName, YName: yName, Points: make([]Point, len(xs))}
	for i := range xs {
		p.Points[i] = Point{X: xs[i], Y: ys[i]}
	}
	return p, nil
}

// ASCII renders the portrait on a width x height character grid.
func (p *PhasePortrait) ASCII(width, height int) string {
	if len(p.Points) == 0 || width < 2 || height < 2 {
		return ""
	}

	minX, maxX := p.Points[0].X, p.Points[0].X
	minY, maxY := p.Points[0].Y, p.Points[0].Y
	for _, pt := range p.Points {
		minX, maxX = min(minX, pt.X), max(maxX, pt.X)
		minY, maxY = min(minY, pt.Y), max(maxY, pt.Y)
	}
	rangeX, rangeY := maxX-minX, maxY-minY
	if rangeX == 0 {
		rangeX = 1
	}
	if rangeY == 0 {
		rangeY = 1
	}

	canvas := make([][]rune, height)
	for i := range canvas {
		canvas[i] = []rune(strings.Repeat(" ", width))
	}

	for i, pt := range p.Points {
		col := int((pt.X - minX) / rangeX * float64(width-1))
		row := height - 1 - int((pt.Y-minY)/rangeY*float64(height-1))
		if row < 0 || row >= height || col < 0 || col >= width {
			continue
		}
		switch {
		case i == 0:
			canvas[row][col] = 'o'
		case canvas[row][col] != 'o':
			canvas[row][col] = '•'
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: [%.4g, %.4g]\n", p.YName, minY, maxY)
	for _, row := range canvas {
		sb.WriteString(string(row))
		sb.WriteRune('\n')
	}
	fmt.Fprintf(&sb, "%s: [%.4g, %.4g]\n", p.XName, minX, maxX)
	return sb.String()
}
