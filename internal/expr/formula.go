package expr

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
)

// Time is the name formulas use for the simulation time.
const Time = "time"

// Env resolves a variable name to its current value.
type Env interface {
	Lookup(name string) (float64, bool)
}

// MapEnv is an Env backed by a plain map.
type MapEnv map[string]float64

func (m MapEnv) Lookup(name string) (float64, bool) {
	v, ok := m[name]
	return v, ok
}

// EnvFunc adapts a function to Env.
type EnvFunc func(name string) (float64, bool)

func (f EnvFunc) Lookup(name string) (float64, bool) { return f(name) }

// Formula is a compiled expression. It is immutable and safe to share.
type Formula struct {
	src  string
	expr hclsyntax.Expression
	refs []string
	num  *float64
}

// Compile parses src. Names joined by a bare minus (k1*A-B) are read as a
// subtraction, not as one identifier.
func Compile(src string) (*Formula, error) {
	trimmed := strings.TrimSpace(src)
	if trimmed == "" {
		return nil, fmt.Errorf("expr: empty formula")
	}

	f := &Formula{src: trimmed}
	if looksNumeric(trimmed) {
		if v, err := strconv.ParseFloat(trimmed, 64); err == nil {
			f.num = &v
			return f, nil
		}
	}

	e, diags := hclsyntax.ParseExpression([]byte(separateMinus(trimmed)), "formula", hcl.InitialPos)
	if diags.HasErrors() {
		return nil, fmt.Errorf("expr: parse %q: %w", trimmed, diags)
	}
	f.expr = e

	seen := make(map[string]struct{})
	for _, tr := range e.Variables() {
		name := tr.RootName()
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		f.refs = append(f.refs, name)
	}
	sort.Strings(f.refs)

	if err := checkFunctions(e); err != nil {
		return nil, fmt.Errorf("expr: %q: %w", trimmed, err)
	}
	return f, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(src string) *Formula {
	f, err := Compile(src)
	if err != nil {
		panic(err)
	}
	return f
}

// Number returns a formula that always evaluates to v.
func Number(v float64) *Formula {
	return &Formula{src: strconv.FormatFloat(v, 'g', -1, 64), num: &v}
}

func (f *Formula) String() string { return f.src }

// Refs returns the sorted, distinct variable names the formula reads.
func (f *Formula) Refs() []string { return f.refs }

// DependsOn reports whether name appears in the formula.
func (f *Formula) DependsOn(name string) bool {
	i := sort.SearchStrings(f.refs, name)
	return i < len(f.refs) && f.refs[i] == name
}

// IsConstant reports whether the formula is a plain number.
func (f *Formula) IsConstant() bool { return f.num != nil }

// Eval returns the numeric value of f under env. Booleans map to 1 and 0.
// Any failure yields NaN.
func (f *Formula) Eval(env Env) (v float64) {
	if f.num != nil {
		return *f.num
	}

	vars := make(map[string]cty.Value, len(f.refs))
	for _, name := range f.refs {
		x, ok := env.Lookup(name)
		if !ok {
			x, ok = constants[name]
		}
		if !ok || math.IsNaN(x) {
			return math.NaN()
		}
		vars[name] = cty.NumberFloatVal(x)
	}

	defer func() {
		// big.Float panics on Inf-Inf and similar; treat as NaN.
		if recover() != nil {
			v = math.NaN()
		}
	}()

	val, diags := f.expr.Value(&hcl.EvalContext{
		Variables: vars,
		Functions: functions,
	})
	if diags.HasErrors() || val.IsNull() || !val.IsKnown() {
		return math.NaN()
	}

	switch val.Type() {
	case cty.Number:
		out, _ := val.AsBigFloat().Float64()
		return out
	case cty.Bool:
		if val.True() {
			return 1
		}
		return 0
	}
	return math.NaN()
}

// EvalBool evaluates f as a condition. Numbers are true when non-zero; NaN
// is false.
func (f *Formula) EvalBool(env Env) bool {
	v := f.Eval(env)
	return !math.IsNaN(v) && v != 0
}

// Check verifies that every name f reads can be resolved by known.
func (f *Formula) Check(known func(name string) bool) error {
	var missing []string
	for _, name := range f.refs {
		if _, ok := constants[name]; ok {
			continue
		}
		if !known(name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("expr: %q references undefined %s", f.src, strings.Join(missing, ", "))
	}
	return nil
}

func checkFunctions(e hclsyntax.Expression) error {
	var unknown []string
	diags := hclsyntax.VisitAll(e, func(n hclsyntax.Node) hcl.Diagnostics {
		if call, ok := n.(*hclsyntax.FunctionCallExpr); ok {
			if _, ok := functions[call.Name]; !ok {
				unknown = append(unknown, call.Name)
			}
		}
		return nil
	})
	if diags.HasErrors() {
		return diags
	}
	if len(unknown) > 0 {
		return fmt.Errorf("unknown function %s", strings.Join(unknown, ", "))
	}
	return nil
}

func looksNumeric(s string) bool {
	c := s[0]
	return c == '-' || c == '+' || c == '.' || (c >= '0' && c <= '9')
}

// separateMinus puts spaces around a minus sign that directly follows an
// identifier, since HCL allows '-' inside identifiers.
func separateMinus(src string) string {
	var b strings.Builder
	b.Grow(len(src) + 8)

	inIdent, inNumber := false, false
	for _, r := range src {
		switch {
		case r == '-' && inIdent:
			b.WriteString(" - ")
			inIdent = false
			continue
		case unicode.IsLetter(r) || r == '_':
			if !inNumber {
				inIdent = true
			}
		case unicode.IsDigit(r) || r == '.':
			if !inIdent {
				inNumber = true
			}
		default:
			inIdent, inNumber = false, false
		}
		b.WriteRune(r)
	}
	return b.String()
}
