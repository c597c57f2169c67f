package dynamo

import (
	"errors"
	"math"
	"strings"
	"testing"
)

func TestState_IsValid(t *testing.T) {
	tests := []struct {
		name  string
		state State
		valid bool
	}{
		{"empty", State{}, true},
		{"normal", State{1.0, 2.0, 3.0}, true},
		{"zeros", State{0.0, 0.0}, true},
		{"with NaN", State{1.0, math.NaN()}, false},
		{"with +Inf", State{1.0, math.Inf(1)}, false},
		{"with -Inf", State{1.0, math.Inf(-1)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.IsValid(); got != tt.valid {
				t.Errorf("IsValid() = %v, want %v", got, tt.valid)
			}
		})
	}
}

func TestState_Norm(t *testing.T) {
	tests := []struct {
		state    State
		expected float64
	}{
		{State{3, 4}, 5.0},
		{State{1, 0}, 1.0},
		{State{0, 0}, 0.0},
		{State{1, 1, 1, 1}, 2.0},
	}

	for _, tt := range tests {
		if got := tt.state.Norm(); math.Abs(got-tt.expected) > 1e-10 {
			t.Errorf("Norm(%v) = %v, want %v", tt.state, got, tt.expected)
		}
	}
}

func TestState_Arithmetic(t *testing.T) {
	a := State{1, 2, 3}
	b := State{4, 5, 6}

	sum := a.Add(b)
	if sum[0] != 5 || sum[1] != 7 || sum[2] != 9 {
		t.Errorf("Add failed: got %v", sum)
	}

	diff := b.Sub(a)
	if diff[0] != 3 || diff[1] != 3 || diff[2] != 3 {
		t.Errorf("Sub failed: got %v", diff)
	}

	scaled := a.Scale(2)
	if scaled[0] != 2 || scaled[1] != 4 || scaled[2] != 6 {
		t.Errorf("Scale failed: got %v", scaled)
	}
}

func TestState_CloneIsIndependent(t *testing.T) {
	src := State{1, 2, 3}
	c := src.Clone()
	c[0] = 99
	if src[0] == 99 {
		t.Error("Clone did not create independent copy")
	}
}

func TestState_Equal(t *testing.T) {
	nan := math.NaN()
	tests := []struct {
		name string
		a, b State
		want bool
	}{
		{"same", State{1, 2}, State{1, 2}, true},
		{"different value", State{1, 2}, State{1, 2.0000001}, false},
		{"different length", State{1}, State{1, 2}, false},
		{"nan slots", State{nan}, State{nan}, true},
		{"signed zero", State{0}, State{math.Copysign(0, -1)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Equal(tt.b); got != tt.want {
				t.Errorf("Equal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStepResult(t *testing.T) {
	ok := Ok(0, 1, 0.5)
	if ok.Kind != StepOK || ok.Reached != 0.5 {
		t.Errorf("unexpected ok result: %+v", ok)
	}

	deg := Degraded(1, 2, ErrStepTooSmall)
	if deg.Kind != StepDegraded {
		t.Errorf("expected degraded, got %s", deg.Kind)
	}
	if deg.Reached != 2 {
		t.Errorf("expected forced time 2, got %f", deg.Reached)
	}
	if !errors.Is(deg.Reason, ErrStepTooSmall) {
		t.Errorf("expected ErrStepTooSmall reason, got %v", deg.Reason)
	}
	if !strings.Contains(deg.String(), "degraded") {
		t.Errorf("expected kind in string, got %q", deg.String())
	}

	fatal := Fatal(3, 4, ErrInvalidState)
	if fatal.Reached != 3 {
		t.Errorf("fatal step should not advance time, got %f", fatal.Reached)
	}
}

func TestSimulationError(t *testing.T) {
	err := &SimulationError{Time: 1.5, Step: 150, Wrapped: ErrInvalidState}
	expected := "step 150 (t=1.5000): dynamo: invalid state (NaN or Inf detected)"
	if err.Error() != expected {
		t.Errorf("SimulationError.Error() = %q, want %q", err.Error(), expected)
	}
	if !errors.Is(err, ErrInvalidState) {
		t.Error("expected SimulationError to unwrap to ErrInvalidState")
	}
}
