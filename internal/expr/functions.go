package expr

import (
	"errors"
	"math"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

var errNotANumber = errors.New("expr: result is not a number")

// Constants resolved when the environment does not define the name.
var constants = map[string]float64{
	"pi":           math.Pi,
	"exponentiale": math.E,
	"avogadro":     6.02214076e23,
	"INF":          math.Inf(1),
}

var functions = map[string]function.Function{
	"abs":   stdlib.AbsoluteFunc,
	"floor": stdlib.FloorFunc,
	"ceil":  stdlib.CeilFunc,
	"min":   stdlib.MinFunc,
	"max":   stdlib.MaxFunc,
	"pow":   stdlib.PowFunc,

	"exp":   unary(math.Exp),
	"ln":    unary(math.Log),
	"log":   unary(math.Log10),
	"log10": unary(math.Log10),
	"sqrt":  unary(math.Sqrt),
	"sin":   unary(math.Sin),
	"cos":   unary(math.Cos),
	"tan":   unary(math.Tan),
	"asin":  unary(math.Asin),
	"acos":  unary(math.Acos),
	"atan":  unary(math.Atan),
	"sinh":  unary(math.Sinh),
	"cosh":  unary(math.Cosh),
	"tanh":  unary(math.Tanh),

	"root":  binary(func(n, x float64) float64 { return math.Pow(x, 1/n) }),
	"logb":  binary(func(b, x float64) float64 { return math.Log(x) / math.Log(b) }),
	"hill":  hill,
}

// Functions lists the names callable from formulas.
func Functions() []string {
	names := make([]string, 0, len(functions))
	for name := range functions {
		names = append(names, name)
	}
	return names
}

func unary(f func(float64) float64) function.Function {
	return function.New(&function.Spec{
		Params: []function.Parameter{
			{Name: "x", Type: cty.Number},
		},
		Type: function.StaticReturnType(cty.Number),
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			return numberVal(f(toFloat(args[0])))
		},
	})
}

func binary(f func(a, b float64) float64) function.Function {
	return function.New(&function.Spec{
		Params: []function.Parameter{
			{Name: "a", Type: cty.Number},
			{Name: "b", Type: cty.Number},
		},
		Type: function.StaticReturnType(cty.Number),
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			return numberVal(f(toFloat(args[0]), toFloat(args[1])))
		},
	})
}

// hill(x, k, n) is the activating Hill function x^n / (k^n + x^n).
var hill = function.New(&function.Spec{
	Params: []function.Parameter{
		{Name: "x", Type: cty.Number},
		{Name: "k", Type: cty.Number},
		{Name: "n", Type: cty.Number},
	},
	Type: function.StaticReturnType(cty.Number),
	Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
		x, k, n := toFloat(args[0]), toFloat(args[1]), toFloat(args[2])
		xn := math.Pow(x, n)
		return numberVal(xn / (math.Pow(k, n) + xn))
	},
})

func toFloat(v cty.Value) float64 {
	f, _ := v.AsBigFloat().Float64()
	return f
}

// numberVal never hands NaN to cty, which cannot represent it.
func numberVal(f float64) (cty.Value, error) {
	if math.IsNaN(f) {
		return cty.UnknownVal(cty.Number), errNotANumber
	}
	return cty.NumberFloatVal(f), nil
}
