package integrators

import (
	"math"
	"testing"

	"github.com/san-kum/biosim/internal/dynamo"
)

func TestRK45_Step(t *testing.T) {
	integrator := NewRK45()
	sys := &oscillator{}
	x := dynamo.State{1.0, 0.0}
	dt := 0.01

	for i := 0; i < 1000; i++ {
		x = integrator.Step(sys, x, float64(i)*dt, dt)
	}

	if !x.IsValid() {
		t.Error("RK45 produced invalid state")
	}
	if math.Abs(x[0]-math.Cos(10)) > 1e-8 {
		t.Errorf("x(10) = %.10f, want %.10f", x[0], math.Cos(10))
	}
}

func TestRK45_ErrorEstimateShrinksWithStep(t *testing.T) {
	integrator := NewRK45()
	sys := &decay{k: 2}
	x0 := dynamo.State{1, 0}

	_, coarse := integrator.StepWithError(sys, x0, 0, 0.5)
	_, fine := integrator.StepWithError(sys, x0, 0, 0.05)

	if math.Abs(fine[0]) >= math.Abs(coarse[0]) {
		t.Errorf("error estimate did not shrink: coarse %e, fine %e", coarse[0], fine[0])
	}
}

func TestRK45_Rescale(t *testing.T) {
	r := NewRK45()

	tests := []struct {
		name    string
		errNorm float64
		check   func(float64) bool
	}{
		{"rejected clamps low", 1e12, func(s float64) bool { return s == 0.2 }},
		{"rejected shrinks", 2, func(s float64) bool { return s < 1 && s >= 0.2 }},
		{"accepted grows", 1e-3, func(s float64) bool { return s > 1 && s <= 10 }},
		{"exact step", 0, func(s float64) bool { return s == 10 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Rescale(tt.errNorm); !tt.check(got) {
				t.Errorf("Rescale(%g) = %g", tt.errNorm, got)
			}
		})
	}
}

func TestRK45_VsRK4_Accuracy(t *testing.T) {
	rk4 := NewRK4()
	rk45 := NewRK45()
	sys := &decay{k: 1.5}

	x4 := dynamo.State{1, 0}
	x45 := dynamo.State{1, 0}
	dt := 0.1

	for i := 0; i < 20; i++ {
		x4 = rk4.Step(sys, x4, float64(i)*dt, dt)
		x45 = rk45.Step(sys, x45, float64(i)*dt, dt)
	}

	want := math.Exp(-1.5 * 2)
	if math.Abs(x45[0]-want) > math.Abs(x4[0]-want) {
		t.Errorf("RK45 error %e larger than RK4 error %e", math.Abs(x45[0]-want), math.Abs(x4[0]-want))
	}
}
