package sim

import (
	"fmt"
	"math"
)

// Quantity selects how species are reported.
type Quantity string

const (
	Amount        Quantity = "amount"
	Concentration Quantity = "concentration"
)

const (
	DefaultAbsError          = 1e-12
	DefaultRelError          = 1e-9
	DefaultNumSteps          = 100
	DefaultMaxRuleIterations = 1000
	DefaultMaxEventCascade   = 100
)

type Config struct {
	TimeLimit     float64
	MinStep       float64
	MaxStep       float64
	PrintInterval float64
	NumSteps      int
	RelError      float64
	AbsError      float64
	Quantity      Quantity

	// Species lists the reported variables. Submodel variables are
	// qualified as scope.name. Empty means every species.
	Species []string

	MaxRuleIterations int
	RuleTolerance     float64
	MaxEventCascade   int
}

// withDefaults fills zero fields. NumSteps, when set, wins over
// PrintInterval.
func (c Config) withDefaults() Config {
	if c.AbsError <= 0 {
		c.AbsError = DefaultAbsError
	}
	if c.RelError <= 0 {
		c.RelError = DefaultRelError
	}
	if c.NumSteps <= 0 && c.PrintInterval <= 0 {
		c.NumSteps = DefaultNumSteps
	}
	if c.NumSteps > 0 {
		c.PrintInterval = c.TimeLimit / float64(c.NumSteps)
	}
	if c.MaxStep <= 0 {
		c.MaxStep = math.Inf(1)
	}
	if c.MinStep <= 0 {
		c.MinStep = 1e-12 * c.TimeLimit
	}
	if c.Quantity == "" {
		c.Quantity = Amount
	}
	if c.MaxRuleIterations <= 0 {
		c.MaxRuleIterations = DefaultMaxRuleIterations
	}
	if c.MaxEventCascade <= 0 {
		c.MaxEventCascade = DefaultMaxEventCascade
	}
	return c
}

func (c Config) validate() error {
	if c.TimeLimit <= 0 || math.IsInf(c.TimeLimit, 0) || math.IsNaN(c.TimeLimit) {
		return fmt.Errorf("time limit must be positive and finite, got %g", c.TimeLimit)
	}
	if c.PrintInterval <= 0 {
		return fmt.Errorf("print interval must be positive, got %g", c.PrintInterval)
	}
	if c.MinStep > c.MaxStep {
		return fmt.Errorf("min step %g exceeds max step %g", c.MinStep, c.MaxStep)
	}
	if c.RuleTolerance < 0 {
		return fmt.Errorf("rule tolerance must not be negative, got %g", c.RuleTolerance)
	}
	switch c.Quantity {
	case Amount, Concentration:
	default:
		return fmt.Errorf("unknown quantity %q", c.Quantity)
	}
	return nil
}
