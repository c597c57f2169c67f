package export

import (
	"fmt"
	"math"
	"strings"

	"github.com/san-kum/biosim/internal/analysis"
	"github.com/san-kum/biosim/internal/output"
)

var palette = []string{"#00d7af", "#ffd700", "#ff87d7", "#5fafff", "#87ff5f", "#ff5f5f"}

type bounds struct {
	minX, maxX, minY, maxY float64
}

func (b *bounds) add(x, y float64) {
	if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
		return
	}
	b.minX, b.maxX = math.Min(b.minX, x), math.Max(b.maxX, x)
	b.minY, b.maxY = math.Min(b.minY, y), math.Max(b.maxY, y)
}

// pad widens the box by 10% on each side.
func (b *bounds) pad() {
	rangeX := b.maxX - b.minX
	rangeY := b.maxY - b.minY
	if rangeX <= 0 {
		rangeX = 1
	}
	if rangeY <= 0 {
		rangeY = 1
	}
	b.minX -= rangeX * 0.1
	b.maxX += rangeX * 0.1
	b.minY -= rangeY * 0.1
	b.maxY += rangeY * 0.1
}

func newBounds() bounds {
	return bounds{minX: math.Inf(1), maxX: math.Inf(-1), minY: math.Inf(1), maxY: math.Inf(-1)}
}

func header(sb *strings.Builder, width, height int) {
	fmt.Fprintf(sb, `<?xml version="1.0" encoding="UTF-8"?>
<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">
<rect width="100%%" height="100%%" fill="#0a0a0a"/>
`, width, height, width, height)
}

// path writes one polyline. Non-finite points break the line.
func path(sb *strings.Builder, xs, ys []float64, b bounds, width, height int, stroke string) {
	rangeX := b.maxX - b.minX
	rangeY := b.maxY - b.minY

	fmt.Fprintf(sb, `<path fill="none" stroke="%s" stroke-width="1.5" d="`, stroke)
	move := true
	for i := range xs {
		if math.IsNaN(ys[i]) || math.IsInf(ys[i], 0) || math.IsNaN(xs[i]) || math.IsInf(xs[i], 0) {
			move = true
			continue
		}
		x := (xs[i] - b.minX) / rangeX * float64(width)
		y := float64(height) - (ys[i]-b.minY)/rangeY*float64(height)
		if move {
			fmt.Fprintf(sb, "M%.1f,%.1f", x, y)
			move = false
		} else {
			fmt.Fprintf(sb, " L%.1f,%.1f", x, y)
		}
	}
	sb.WriteString("\"/>\n")
}

// SeriesToSVG plots the named columns of s against time, one colored line
// per column with a legend. An empty names list plots every column.
func SeriesToSVG(s output.Series, names []string, width, height int) (string, error) {
	if len(s.Times) < 2 {
		return "", fmt.Errorf("export: need at least two rows, got %d", len(s.Times))
	}
	if len(names) == 0 {
		names = s.Names
	}

	cols := make([][]float64, len(names))
	b := newBounds()
	for i, name := range names {
		cols[i] = s.Column(name)
		if cols[i] == nil {
			return "", fmt.Errorf("export: no column %q", name)
		}
		for j, v := range cols[i] {
			b.add(s.Times[j], v)
		}
	}
	if math.IsInf(b.minX, 1) {
		return "", fmt.Errorf("export: no finite values")
	}
	b.pad()

	var sb strings.Builder
	header(&sb, width, height)
	for i, col := range cols {
		path(&sb, s.Times, col, b, width, height, palette[i%len(palette)])
	}
	for i, name := range names {
		fmt.Fprintf(&sb, `<text x="10" y="%d" fill="%s" font-family="monospace" font-size="12">%s</text>
`, 18+14*i, palette[i%len(palette)], escape(name))
	}
	sb.WriteString("</svg>\n")
	return sb.String(), nil
}

// PhaseToSVG draws a phase portrait as a single line.
func PhaseToSVG(p *analysis.PhasePortrait, width, height int) (string, error) {
	if len(p.Points) < 2 {
		return "", fmt.Errorf("export: need at least two points, got %d", len(p.Points))
	}
	xs := make([]float64, len(p.Points))
	ys := make([]float64, len(p.Points))
	b := newBounds()
	for i, pt := range p.Points {
		xs[i], ys[i] = pt.X, pt.Y
		b.add(pt.X, pt.Y)
	}
	if math.IsInf(b.minX, 1) {
		return "", fmt.Errorf("export: no finite values")
	}
	b.pad()

	var sb strings.Builder
	header(&sb, width, height)
	path(&sb, xs, ys, b, width, height, palette[0])
	fmt.Fprintf(&sb, `<text x="10" y="18" fill="#808080" font-family="monospace" font-size="12">%s vs %s</text>
`, escape(p.YName), escape(p.XName))
	sb.WriteString("</svg>\n")
	return sb.String(), nil
}

var escaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")

func escape(s string) string { return escaper.Replace(s) }
