// Package formula parses and evaluates contract formulas over decimal values.
package formula

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Places is the number of decimals every result is quantized to.
const Places = 4

// powPrecision bounds non-integer exponentiation.
const powPrecision = 16

const (
	maxExponent    = 1000
	maxRoundPlaces = 32
)

var (
	// ErrMissingParameter is returned when a referenced name is not bound.
	ErrMissingParameter = errors.New("missing parameter")
	// ErrDivisionByZero is returned for x/0 and x%0.
	ErrDivisionByZero = errors.New("division by zero")
	// ErrOutOfRange is returned for exponents or rounding places beyond
	// the supported bounds.
	ErrOutOfRange = errors.New("argument out of range")
)

// Context binds parameter names to values.
type Context map[string]decimal.Decimal

// Names lists bound names, sorted.
func (c Context) Names() []string {
	out := make([]string, 0, len(c))
	for k := range c {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Quantize rounds to Places decimals, half away from zero.
func Quantize(d decimal.Decimal) decimal.Decimal {
	return d.Round(Places)
}

type evaluator struct {
	ctx    Context
	source string
}

// EvaluateDetailed parses and evaluates src, returning the quantized
// result or the reason it could not be computed.
func EvaluateDetailed(src string, ctx Context) (decimal.Decimal, error) {
	f, err := Parse(src)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse %q: %w", src, err)
	}
	return f.Eval(ctx)
}

// Evaluate applies ZeroOnError to EvaluateDetailed.
func Evaluate(src string, ctx Context) decimal.Decimal {
	v, err := EvaluateDetailed(src, ctx)
	return ZeroOnError(src, v, err)
}

// ZeroOnError is the fallback policy for formulas: any failure yields 0
// and a warning.
func ZeroOnError(src string, v decimal.Decimal, err error) decimal.Decimal {
	if err != nil {
		slog.Warn("formula evaluated to zero", "formula", src, "error", err)
		return decimal.Zero
	}
	return v
}

// Eval evaluates a parsed formula.
func (f *Formula) Eval(ctx Context) (decimal.Decimal, error) {
	v, err := f.root.eval(&evaluator{ctx: ctx, source: f.Source})
	if err != nil {
		return decimal.Zero, err
	}
	return Quantize(v), nil
}

func (n *numberNode) eval(*evaluator) (decimal.Decimal, error) { return n.value, nil }

func (n *paramNode) eval(env *evaluator) (decimal.Decimal, error) {
	v, ok := env.ctx[n.name]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrMissingParameter, n.name)
	}
	return v, nil
}

func (n *unaryNode) eval(env *evaluator) (decimal.Decimal, error) {
	v, err := n.operand.eval(env)
	if err != nil {
		return decimal.Zero, err
	}
	if n.op == "-" {
		return v.Neg(), nil
	}
	return v, nil
}

func (n *binaryNode) eval(env *evaluator) (decimal.Decimal, error) {
	l, err := n.left.eval(env)
	if err != nil {
		return decimal.Zero, err
	}
	r, err := n.right.eval(env)
	if err != nil {
		return decimal.Zero, err
	}
	switch n.op {
	case "+":
		return l.Add(r), nil
	case "-":
		return l.Sub(r), nil
	case "*":
		return l.Mul(r), nil
	case "/":
		if r.IsZero() {
			return decimal.Zero, ErrDivisionByZero
		}
		return l.Div(r), nil
	case "%":
		if r.IsZero() {
			return decimal.Zero, ErrDivisionByZero
		}
		return floorMod(l, r), nil
	case "**":
		if l.IsZero() && r.IsNegative() {
			return decimal.Zero, ErrDivisionByZero
		}
		if r.Abs().GreaterThan(decimal.NewFromInt(maxExponent)) {
			return decimal.Zero, fmt.Errorf("exponent %s: %w", r, ErrOutOfRange)
		}
		return l.PowWithPrecision(r, powPrecision)
	}
	return decimal.Zero, fmt.Errorf("unsupported operator %s", n.op)
}

// floorMod gives the result the sign of the divisor.
func floorMod(l, r decimal.Decimal) decimal.Decimal {
	m := l.Mod(r)
	if !m.IsZero() && m.IsNegative() != r.IsNegative() {
		m = m.Add(r)
	}
	return m
}

func (n *callNode) eval(env *evaluator) (decimal.Decimal, error) {
	name := strings.ToLower(n.name)
	if _, known := builtins[name]; !known {
		slog.Warn("unknown formula function evaluated to zero", "function", n.name, "formula", env.source)
		return decimal.Zero, nil
	}
	args := make([]decimal.Decimal, 0, len(n.args))
	for _, a := range n.args {
		v, err := a.eval(env)
		if err != nil {
			return decimal.Zero, err
		}
		args = append(args, v)
	}
	return builtins[name](args)
}

type builtin func(args []decimal.Decimal) (decimal.Decimal, error)

var builtins = map[string]builtin{
	"min": func(args []decimal.Decimal) (decimal.Decimal, error) {
		if len(args) == 0 {
			return decimal.Zero, errors.New("min() needs arguments")
		}
		return decimal.Min(args[0], args[1:]...), nil
	},
	"max": func(args []decimal.Decimal) (decimal.Decimal, error) {
		if len(args) == 0 {
			return decimal.Zero, errors.New("max() needs arguments")
		}
		return decimal.Max(args[0], args[1:]...), nil
	},
	"sum": func(args []decimal.Decimal) (decimal.Decimal, error) {
		return decimal.Sum(decimal.Zero, args...), nil
	},
	"abs": func(args []decimal.Decimal) (decimal.Decimal, error) {
		if len(args) != 1 {
			return decimal.Zero, errors.New("abs() takes one argument")
		}
		return args[0].Abs(), nil
	},
	"round": func(args []decimal.Decimal) (decimal.Decimal, error) {
		switch len(args) {
		case 1:
			return args[0].Round(0), nil
		case 2:
			if args[1].Abs().GreaterThan(decimal.NewFromInt(maxRoundPlaces)) {
				return decimal.Zero, fmt.Errorf("round() places %s: %w", args[1], ErrOutOfRange)
			}
			return args[0].Round(int32(args[1].IntPart())), nil
		}
		return decimal.Zero, errors.New("round() takes one or two arguments")
	},
	// amount_in_slab_on(X) is the value of X.
	"amount_in_slab_on": func(args []decimal.Decimal) (decimal.Decimal, error) {
		if len(args) != 1 {
			return decimal.Zero, errors.New("amount_in_slab_on() takes one argument")
		}
		return args[0], nil
	},
}

// Validation reports whether a formula can be evaluated against a context.
type Validation struct {
	Valid               bool     `json:"valid"`
	Error               string   `json:"error,omitempty"`
	MissingParameters   []string `json:"missing_parameters"`
	AvailableParameters []string `json:"available_parameters"`
	FormulaParameters   []string `json:"formula_parameters"`
}

// Validate checks syntax and parameter bindings without evaluating.
func Validate(src string, ctx Context) Validation {
	v := Validation{
		MissingParameters:   []string{},
		AvailableParameters: ctx.Names(),
		FormulaParameters:   []string{},
	}
	f, err := Parse(src)
	if err != nil {
		v.Error = err.Error()
		return v
	}
	v.FormulaParameters = f.Parameters()
	for _, p := range f.Parameters() {
		if _, ok := ctx[p]; !ok {
			v.MissingParameters = append(v.MissingParameters, p)
		}
	}
	v.Valid = len(v.MissingParameters) == 0
	if !v.Valid {
		v.Error = fmt.Sprintf("Missing parameters: %s", strings.Join(v.MissingParameters, ", "))
	}
	return v
}
