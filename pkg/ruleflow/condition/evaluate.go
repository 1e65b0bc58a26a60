package condition

import (
	"errors"
	"fmt"
	"strings"

	"github.com/randalmurphal/ruleflow/pkg/ruleflow/notation"
)

// ErrMalformed is wrapped by errors for expressions that cannot be parsed.
var ErrMalformed = errors.New("malformed condition")

// BinaryOp compares two resolved operands.
type BinaryOp func(left, right any) bool

// Vars is a Resolver over a flat map.
type Vars map[string]any

// Lookup implements notation.Resolver.
func (v Vars) Lookup(name string) (any, bool) {
	val, ok := v[name]
	return val, ok
}

// Evaluator evaluates condition expressions with optional custom operators.
type Evaluator struct {
	customOps map[string]BinaryOp
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithCustomOperator registers a word operator such as "matches".
// Built-in operators take precedence.
func WithCustomOperator(name string, fn BinaryOp) Option {
	return func(e *Evaluator) {
		if e.customOps == nil {
			e.customOps = make(map[string]BinaryOp)
		}
		e.customOps[name] = fn
	}
}

// New creates an Evaluator.
func New(opts ...Option) *Evaluator {
	e := &Evaluator{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate evaluates expr with operands resolved through r. A nil r
// resolves nothing. An empty expression is true: a destination without a
// condition always delivers.
func (e *Evaluator) Evaluate(expr string, r notation.Resolver) (bool, error) {
	if strings.TrimSpace(expr) == "" {
		return true, nil
	}
	if r == nil {
		r = Vars(nil)
	}
	return e.eval(expr, r)
}

// Eval evaluates expr with the default Evaluator.
func Eval(expr string, r notation.Resolver) (bool, error) {
	return New().Evaluate(expr, r)
}

type builtin struct {
	op      string
	compare BinaryOp
}

// Longer operators first so "<=" is not read as "<".
var builtins = []builtin{
	{"==", func(l, r any) bool { return format(l) == format(r) }},
	{"!=", func(l, r any) bool { return format(l) != format(r) }},
	{">=", func(l, r any) bool { return ToFloat64(l) >= ToFloat64(r) }},
	{"<=", func(l, r any) bool { return ToFloat64(l) <= ToFloat64(r) }},
	{">", func(l, r any) bool { return ToFloat64(l) > ToFloat64(r) }},
	{"<", func(l, r any) bool { return ToFloat64(l) < ToFloat64(r) }},
	{" contains ", func(l, r any) bool { return strings.Contains(format(l), format(r)) }},
}

func (e *Evaluator) eval(expr string, r notation.Resolver) (bool, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return false, fmt.Errorf("%w: empty operand", ErrMalformed)
	}

	if parts := strings.SplitN(expr, " or ", 2); len(parts) == 2 {
		left, err := e.eval(parts[0], r)
		if err != nil {
			return false, err
		}
		right, err := e.eval(parts[1], r)
		if err != nil {
			return false, err
		}
		return left || right, nil
	}

	if parts := strings.SplitN(expr, " and ", 2); len(parts) == 2 {
		left, err := e.eval(parts[0], r)
		if err != nil {
			return false, err
		}
		right, err := e.eval(parts[1], r)
		if err != nil {
			return false, err
		}
		return left && right, nil
	}

	if inner, ok := strings.CutPrefix(expr, "not "); ok {
		return e.negate(inner, r)
	}
	if inner, ok := strings.CutPrefix(expr, "!"); ok && !strings.HasPrefix(inner, "=") {
		return e.negate(inner, r)
	}
	if operand, ok := strings.CutPrefix(expr, "exists "); ok {
		operand = strings.TrimSpace(operand)
		if operand == "" {
			return false, fmt.Errorf("%w: exists without operand", ErrMalformed)
		}
		_, found := r.Lookup(operand)
		return found, nil
	}

	for _, b := range builtins {
		if parts := strings.SplitN(expr, b.op, 2); len(parts) == 2 {
			left, right, err := operands(expr, parts, r)
			if err != nil {
				return false, err
			}
			return b.compare(left, right), nil
		}
	}

	for name, fn := range e.customOps {
		if parts := strings.SplitN(expr, " "+name+" ", 2); len(parts) == 2 {
			left, right, err := operands(expr, parts, r)
			if err != nil {
				return false, err
			}
			return fn(left, right), nil
		}
	}

	return IsTruthy(Resolve(expr, r)), nil
}

func (e *Evaluator) negate(expr string, r notation.Resolver) (bool, error) {
	result, err := e.eval(expr, r)
	if err != nil {
		return false, err
	}
	return !result, nil
}

func operands(expr string, parts []string, r notation.Resolver) (any, any, error) {
	l, rt := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	if l == "" || rt == "" {
		return nil, nil, fmt.Errorf("%w: missing operand in %q", ErrMalformed, expr)
	}
	return Resolve(l, r), Resolve(rt, r), nil
}

func format(v any) string {
	return fmt.Sprintf("%v", v)
}
