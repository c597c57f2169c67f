package sim_test

import (
	"context"
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/biosim/internal/dynamo"
	"github.com/san-kum/biosim/internal/model"
	"github.com/san-kum/biosim/internal/output"
	"github.com/san-kum/biosim/internal/progress"
	"github.com/san-kum/biosim/internal/sim"
)

const decaySrc = `
model "decay" {
  compartment "cell" {
    size = 1
  }

  species "A" {
    compartment    = "cell"
    initial_amount = 10
  }

  species "B" {
    compartment    = "cell"
    initial_amount = 0
  }

  parameter "k" {
    value    = 0.5
    constant = true
  }

  reaction "r1" {
    rate = "k*A"

    reactant "A" {}
    product "B" {}
  }
}
`

const staticSrc = `
model "static" {
  compartment "cell" {
    size = 1
  }

  species "A" {
    compartment    = "cell"
    initial_amount = 1
  }

  species "B" {
    compartment    = "cell"
    initial_amount = 2
  }
}
`

const productionSrc = `
model "production" {
  compartment "cell" {
    size = 1
  }

  species "S" {
    compartment    = "cell"
    initial_amount = 0
  }

  parameter "k" {
    value    = 2
    constant = true
  }

  reaction "make" {
    rate = "k"

    product "S" {}
  }
}
`

const pulseSrc = `
model "pulse" {
  compartment "cell" {
    size = 1
  }

  species "A" {
    compartment    = "cell"
    initial_amount = 0
  }

  event "pulse" {
    trigger = "time >= 5"

    assign "A" {
      math = "10"
    }
  }
}
`

type run struct {
	engine *sim.Engine
	mem    *output.Memory
}

func newRun(src string, cfg sim.Config, opts ...sim.Option) *run {
	GinkgoHelper()
	arena, err := model.Parse([]byte(src), "test.hcl")
	Expect(err).NotTo(HaveOccurred())

	r := &run{mem: output.NewMemory()}
	opts = append(opts, sim.WithOutput(func(int) (output.Writer, error) {
		r.mem = output.NewMemory()
		return r.mem, nil
	}))
	r.engine = sim.New(arena, cfg, opts...)
	Expect(r.engine.Initialize(1, 0)).To(Succeed())
	return r
}

func (r *run) simulate() *sim.Result {
	GinkgoHelper()
	res, err := r.engine.Simulate(context.Background())
	Expect(err).NotTo(HaveOccurred())
	return res
}

func rowAt(s output.Series, t float64) []float64 {
	for i, tm := range s.Times {
		if tm == t {
			return s.Values[i]
		}
	}
	return nil
}

var _ = Describe("Engine", func() {
	cfg := sim.Config{TimeLimit: 10, NumSteps: 10}

	Describe("lifecycle", func() {
		It("refuses to simulate before Initialize", func() {
			arena, err := model.Parse([]byte(staticSrc), "static.hcl")
			Expect(err).NotTo(HaveOccurred())
			e := sim.New(arena, cfg)

			_, err = e.Simulate(context.Background())
			Expect(err).To(MatchError(dynamo.ErrNotInitialized))
			Expect(e.SetupForNewRun(1)).To(MatchError(dynamo.ErrNotInitialized))
		})

		It("treats a second Initialize as a no-op", func() {
			r := newRun(decaySrc, cfg)
			r.simulate()
			before := r.engine.State()

			Expect(r.engine.Initialize(1, 0)).To(Succeed())
			Expect(r.engine.State()).To(Equal(before))
		})

		It("rejects an invalid configuration", func() {
			arena, err := model.Parse([]byte(staticSrc), "static.hcl")
			Expect(err).NotTo(HaveOccurred())
			e := sim.New(arena, sim.Config{})
			Expect(e.Initialize(1, 0)).NotTo(Succeed())
			Expect(e.Initialized()).To(BeFalse())
		})
	})

	Describe("printing", func() {
		It("writes NumSteps+1 rows at strictly increasing times", func() {
			r := newRun(decaySrc, cfg)
			res := r.simulate()

			s := r.mem.Series()
			Expect(res.Rows).To(Equal(11))
			Expect(s.Times).To(HaveLen(11))
			Expect(s.Times[0]).To(Equal(0.0))
			Expect(s.Times[len(s.Times)-1]).To(Equal(10.0))
			for i := 1; i < len(s.Times); i++ {
				Expect(s.Times[i]).To(BeNumerically(">", s.Times[i-1]))
			}
			Expect(r.mem.Closed()).To(BeTrue())
			Expect(res.EndTime).To(Equal(10.0))
		})

		It("snaps the last row to the time limit", func() {
			r := newRun(staticSrc, sim.Config{TimeLimit: 1, PrintInterval: 0.3})
			r.simulate()

			s := r.mem.Series()
			Expect(s.Times[len(s.Times)-1]).To(Equal(1.0))
			Expect(s.Times).To(HaveLen(5))
		})

		It("reports every species by default", func() {
			r := newRun(decaySrc, cfg)
			Expect(r.engine.Names()).To(Equal([]string{"A", "B"}))
		})

		It("reports the requested columns only", func() {
			c := cfg
			c.Species = []string{"B", "k"}
			r := newRun(decaySrc, c)
			r.simulate()
			Expect(r.mem.Series().Names).To(Equal([]string{"B", "k"}))
		})
	})

	Describe("dynamics", func() {
		It("leaves a network without reactions untouched", func() {
			r := newRun(staticSrc, cfg)
			r.simulate()

			s := r.mem.Series()
			for _, row := range s.Values {
				Expect(row).To(Equal([]float64{1, 2}))
			}
			Expect(r.engine.State()).To(Equal(r.engine.Snapshot()))
		})

		It("integrates constant production exactly", func() {
			r := newRun(productionSrc, cfg)
			r.simulate()

			s := r.mem.Series()
			for i, t := range s.Times {
				Expect(s.Values[i][0]).To(BeNumerically("~", 2*t, 1e-9))
			}
		})

		It("follows first order decay and conserves mass", func() {
			r := newRun(decaySrc, cfg)
			r.simulate()

			s := r.mem.Series()
			for i, t := range s.Times {
				a, b := s.Values[i][0], s.Values[i][1]
				Expect(a).To(BeNumerically("~", 10*math.Exp(-0.5*t), 1e-6))
				Expect(a + b).To(BeNumerically("~", 10, 1e-9))
			}
		})

		It("reports concentrations when asked", func() {
			src := `
model "conc" {
  compartment "cell" {
    size = 2
  }

  species "P" {
    compartment           = "cell"
    initial_concentration = 1.5
  }

  species "Q" {
    compartment          = "cell"
    initial_amount       = 4
    only_substance_units = true
  }
}
`
			amounts := newRun(src, cfg)
			v, ok := amounts.engine.Value("P")
			Expect(ok).To(BeTrue())
			Expect(v).To(Equal(3.0))

			c := cfg
			c.Quantity = sim.Concentration
			conc := newRun(src, c)
			conc.simulate()
			Expect(rowAt(conc.mem.Series(), 10)).To(Equal([]float64{1.5, 2}))
		})

		It("moves mass through a replaced submodel species", func() {
			src := `
model "top" {
  compartment "cell" {
    size = 1
  }

  species "P" {
    compartment    = "cell"
    initial_amount = 10
  }
}

submodel "export" {
  compartment "cell" {
    size = 1
  }

  species "Pin" {
    compartment = "cell"
  }

  species "Out" {
    compartment    = "cell"
    initial_amount = 0
  }

  parameter "kex" {
    value = 0.1
  }

  reaction "efflux" {
    rate = "kex*Pin"

    reactant "Pin" {}
    product "Out" {}
  }

  replace "Pin" {
    with = "P"
  }
}
`
			r := newRun(src, cfg)
			Expect(r.engine.Names()).To(Equal([]string{"P", "export.Out"}))
			r.simulate()

			p, _ := r.engine.Value("P")
			out, ok := r.engine.Value("export.Out")
			Expect(ok).To(BeTrue())
			Expect(p).To(BeNumerically("~", 10*math.Exp(-1), 1e-6))
			Expect(p + out).To(BeNumerically("~", 10, 1e-9))
		})
	})

	Describe("assignment rules", func() {
		It("reaches a fixed point regardless of declaration order", func() {
			src := `
model "rules" {
  parameter "x" {}
  parameter "y" {}
  parameter "z" {}

  assignment_rule "z" {
    math = "y + 1"
  }

  assignment_rule "y" {
    math = "2*x"
  }

  assignment_rule "x" {
    math = "time + 1"
  }
}
`
			c := cfg
			c.Species = []string{"x", "y", "z"}
			r := newRun(src, c)
			Expect(rowAtInit(r)).To(Equal([]float64{1, 2, 3}))

			r.simulate()
			Expect(rowAt(r.mem.Series(), 10)).To(Equal([]float64{11, 22, 23}))
		})

		It("applies initial assignments that depend on each other", func() {
			src := `
model "init" {
  compartment "cell" {
    size = 1
  }

  species "A" {
    compartment    = "cell"
    initial_amount = 3
  }

  parameter "b" {}
  parameter "c" {}

  initial_assignment "c" {
    math = "b + 1"
  }

  initial_assignment "b" {
    math = "2*A"
  }
}
`
			r := newRun(src, cfg)
			b, _ := r.engine.Value("b")
			c, _ := r.engine.Value("c")
			Expect(b).To(Equal(6.0))
			Expect(c).To(Equal(7.0))
		})

		It("gives up on a cycle that never settles", func() {
			src := `
model "cycle" {
  parameter "x" {}
  parameter "y" {}

  assignment_rule "x" {
    math = "y + 1"
  }

  assignment_rule "y" {
    math = "x + 1"
  }
}
`
			c := sim.Config{TimeLimit: 2, NumSteps: 2, Species: []string{"x"}, MaxRuleIterations: 50}
			r := newRun(src, c)
			res := r.simulate()

			Expect(res.Rows).To(Equal(3))
			Expect(res.EndTime).To(Equal(2.0))
			for _, row := range r.mem.Series().Values {
				Expect(math.IsInf(row[0], 0) || math.IsNaN(row[0])).To(BeFalse())
			}
		})
	})

	Describe("events", func() {
		It("fires once on a rising trigger edge", func() {
			r := newRun(pulseSrc, cfg)
			res := r.simulate()

			s := r.mem.Series()
			Expect(rowAt(s, 4)).To(Equal([]float64{0}))
			Expect(rowAt(s, 5)).To(Equal([]float64{10}))
			Expect(rowAt(s, 10)).To(Equal([]float64{10}))
			Expect(r.engine.FireCount("", "pulse")).To(Equal(1))
			Expect(res.EventsFired).To(Equal(1))
		})

		It("fires simultaneous events by descending priority", func() {
			src := `
model "prio" {
  parameter "X" {}

  event "low" {
    trigger  = "time >= 2"
    priority = "1"

    assign "X" {
      math = "1"
    }
  }

  event "high" {
    trigger  = "time >= 2"
    priority = "5"

    assign "X" {
      math = "2"
    }
  }
}
`
			c := cfg
			c.Species = []string{"X"}
			r := newRun(src, c)
			r.simulate()

			Expect(rowAt(r.mem.Series(), 3)).To(Equal([]float64{1}))
			Expect(r.engine.FireCount("", "low")).To(Equal(1))
			Expect(r.engine.FireCount("", "high")).To(Equal(1))
		})

		It("honours delays and trigger time values", func() {
			src := `
model "delayed" {
  parameter "Y" {}
  parameter "Z" {}
  parameter "W" {}

  event "late" {
    trigger = "time >= 2"
    delay   = "1.5"

    assign "Y" {
      math = "7"
    }
  }

  event "captured" {
    trigger                      = "time >= 2"
    delay                        = "1"
    use_values_from_trigger_time = true

    assign "Z" {
      math = "time"
    }
  }

  event "fresh" {
    trigger = "time >= 2"
    delay   = "1"

    assign "W" {
      math = "time"
    }
  }
}
`
			c := cfg
			c.Species = []string{"Y", "Z", "W"}
			r := newRun(src, c)
			r.simulate()

			s := r.mem.Series()
			Expect(rowAt(s, 3)).To(Equal([]float64{0, 2, 3}))
			Expect(rowAt(s, 4)).To(Equal([]float64{7, 2, 3}))
		})

		It("fires a state trigger at the crossing between rows", func() {
			src := `
model "halflife" {
  compartment "cell" {
    size = 1
  }

  species "A" {
    compartment    = "cell"
    initial_amount = 10
  }

  parameter "k" {
    value    = 0.5
    constant = true
  }

  parameter "half" {}

  reaction "loss" {
    rate = "k*A"

    reactant "A" {}
  }

  event "halved" {
    trigger = "A < 5"

    assign "half" {
      math = "time"
    }
  }
}
`
			r := newRun(src, cfg)
			r.simulate()

			half, ok := r.engine.Value("half")
			Expect(ok).To(BeTrue())
			Expect(half).To(BeNumerically("~", math.Ln2/0.5, 1e-6))
			Expect(r.engine.FireCount("", "halved")).To(Equal(1))
		})

		It("re-arms once the trigger has gone false", func() {
			src := `
model "wave" {
  parameter "A" {}
  parameter "n" {}

  rate_rule "A" {
    math = "cos(time)"
  }

  event "high" {
    trigger = "A > 0.5"

    assign "n" {
      math = "n + 1"
    }
  }
}
`
			r := newRun(src, cfg)
			r.simulate()

			n, _ := r.engine.Value("n")
			Expect(n).To(Equal(2.0))
			Expect(r.engine.FireCount("", "high")).To(Equal(2))
		})

		It("fires events enabled by another event at the same instant", func() {
			src := `
model "chain" {
  parameter "a" {}
  parameter "b" {}

  event "first" {
    trigger = "time >= 1"

    assign "a" {
      math = "1"
    }
  }

  event "second" {
    trigger = "a > 0.5"

    assign "b" {
      math = "time"
    }
  }
}
`
			c := cfg
			c.Species = []string{"a", "b"}
			r := newRun(src, c)
			r.simulate()

			Expect(rowAt(r.mem.Series(), 1)).To(Equal([]float64{1, 1}))
			Expect(r.engine.FireCount("", "first")).To(Equal(1))
			Expect(r.engine.FireCount("", "second")).To(Equal(1))
		})
	})

	Describe("runs", func() {
		It("restores the initial state bit for bit", func() {
			r := newRun(pulseSrc, cfg)
			r.simulate()
			Expect(r.engine.State()).NotTo(Equal(r.engine.Snapshot()))

			Expect(r.engine.SetupForNewRun(1)).To(Succeed())
			Expect(r.engine.State()).To(Equal(r.engine.Snapshot()))
			Expect(r.engine.Time()).To(Equal(0.0))
			Expect(r.engine.FireCount("", "pulse")).To(Equal(0))
		})

		It("replays a run deterministically", func() {
			r := newRun(decaySrc, cfg)
			r.simulate()
			first := r.mem.Series()

			Expect(r.engine.SetupForNewRun(1)).To(Succeed())
			res := r.simulate()
			Expect(res.Run).To(Equal(1))
			Expect(r.mem.Series()).To(Equal(first))
		})
	})

	Describe("cancellation", func() {
		It("stops when Cancel is called from a progress sink", func() {
			var r *run
			sink := progress.SinkFunc(func(u progress.Update) {
				if !u.Done {
					r.engine.Cancel()
				}
			})
			r = newRun(decaySrc, cfg, sim.WithProgress(sink))
			res := r.simulate()

			Expect(res.Canceled).To(BeTrue())
			Expect(res.Rows).To(Equal(1))
			Expect(res.EndTime).To(BeNumerically("<", 10))
			Expect(r.mem.Closed()).To(BeTrue())
		})

		It("stops when the context is canceled", func() {
			r := newRun(decaySrc, cfg)
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			res, err := r.engine.Simulate(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Canceled).To(BeTrue())
			Expect(res.Rows).To(BeZero())
		})

		It("reports a final done update", func() {
			latest := &progress.Latest{}
			r := newRun(decaySrc, cfg, sim.WithProgress(latest))
			r.simulate()

			u, ok := latest.Get()
			Expect(ok).To(BeTrue())
			Expect(u.Done).To(BeTrue())
			Expect(u.Status).To(Equal("Progress (100%)"))
		})
	})

	Describe("failures", func() {
		It("degrades steps the integrator cannot take and keeps going", func() {
			src := `
model "broken" {
  compartment "cell" {
    size = 1
  }

  species "A" {
    compartment    = "cell"
    initial_amount = 1
  }

  reaction "bad" {
    rate = "sqrt(-1)"

    product "A" {}
  }
}
`
			r := newRun(src, cfg)
			res := r.simulate()

			Expect(res.DegradedSteps).To(Equal(10))
			Expect(res.Degraded).To(HaveLen(10))
			Expect(res.Degraded[0].Kind).To(Equal(dynamo.StepDegraded))
			Expect(res.Degraded[0].Reason).To(MatchError(dynamo.ErrStepTooSmall))
			Expect(res.Rows).To(Equal(11))
			Expect(res.EndTime).To(Equal(10.0))
			Expect(r.engine.State()).To(Equal(r.engine.Snapshot()))
		})

		It("stops at a violated constraint", func() {
			src := `
model "bounded" {
  compartment "cell" {
    size = 1
  }

  species "A" {
    compartment    = "cell"
    initial_amount = 10
  }

  reaction "loss" {
    rate = "A"

    reactant "A" {}
  }

  constraint "floor" {
    math    = "A > 5"
    message = "A dropped below 5"
  }
}
`
			r := newRun(src, cfg)
			res := r.simulate()

			Expect(res.ConstraintViolated).To(BeTrue())
			Expect(res.Violation).To(Equal("A dropped below 5"))
			Expect(res.EndTime).To(Equal(1.0))
			Expect(res.Rows).To(Equal(2))
		})
	})
})

// rowAtInit reports the configured columns before any integration.
func rowAtInit(r *run) []float64 {
	out := make([]float64, 0, len(r.engine.Names()))
	for _, n := range r.engine.Names() {
		v, _ := r.engine.Value(n)
		out = append(out, v)
	}
	return out
}
