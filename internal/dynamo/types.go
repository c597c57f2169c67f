package dynamo

import (
	"fmt"
	"math"
)

type State []float64

func (s State) Clone() State {
	c := make(State, len(s))
	copy(c, s)
	return c
}

func (s State) IsValid() bool {
	for _, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (s State) Norm() float64 {
	sum := 0.0
	for _, v := range s {
		sum += v * v
	}
	return math.Sqrt(sum)
}

func (s State) Add(other State) State {
	result := make(State, len(s))
	for i := range s {
		if i < len(other) {
			result[i] = s[i] + other[i]
		} else {
			result[i] = s[i]
		}
	}
	return result
}

func (s State) Scale(factor float64) State {
	result := make(State, len(s))
	for i := range s {
		result[i] = s[i] * factor
	}
	return result
}

func (s State) Sub(other State) State {
	result := make(State, len(s))
	for i := range s {
		if i < len(other) {
			result[i] = s[i] - other[i]
		} else {
			result[i] = s[i]
		}
	}
	return result
}

// Equal reports bit-for-bit equality, treating two NaNs in the same slot as equal.
func (s State) Equal(other State) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if math.Float64bits(s[i]) != math.Float64bits(other[i]) {
			return false
		}
	}
	return true
}

// System is a first-order ODE system. Derive must not retain or modify x.
type System interface {
	Derive(x State, t float64) State
	Dim() int
}

// StepKind classifies the outcome of one driver sub-step.
type StepKind int

const (
	StepOK StepKind = iota
	StepDegraded
	StepFatal
)

func (k StepKind) String() string {
	switch k {
	case StepOK:
		return "ok"
	case StepDegraded:
		return "degraded"
	case StepFatal:
		return "fatal"
	default:
		return fmt.Sprintf("StepKind(%d)", int(k))
	}
}

// StepResult is the explicit outcome of integrating from Start towards Target.
// A degraded step means the integrator failed and time was forced to Target.
type StepResult struct {
	Kind   StepKind
	Start  float64
	Target float64
	// Reached is the time the state vector corresponds to after the step.
	Reached float64
	Reason  error
}

func Ok(start, target, reached float64) StepResult {
	return StepResult{Kind: StepOK, Start: start, Target: target, Reached: reached}
}

func Degraded(start, forced float64, reason error) StepResult {
	return StepResult{Kind: StepDegraded, Start: start, Target: forced, Reached: forced, Reason: reason}
}

func Fatal(start, target float64, reason error) StepResult {
	return StepResult{Kind: StepFatal, Start: start, Target: target, Reached: start, Reason: reason}
}

func (r StepResult) String() string {
	if r.Reason != nil {
		return fmt.Sprintf("%s [%.6g -> %.6g]: %v", r.Kind, r.Start, r.Reached, r.Reason)
	}
	return fmt.Sprintf("%s [%.6g -> %.6g]", r.Kind, r.Start, r.Reached)
}
