// Package analysis inspects stored time series after a run.
//
//   - [Spectrum] and [DominantFrequency]: oscillation analysis of one
//     species sampled at the print interval
//   - [NewPhasePortrait]: one species against another, rendered as text
//
// Oscillating networks (repressilators, predator-prey pairs) show a sharp
// peak in the spectrum:
//
//	f, err := analysis.DominantFrequency(series.Times, series.Column("X"))
//	period := 1 / f
package analysis
