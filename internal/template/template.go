// Package template evaluates dynamically computed numeric parameters such as
// PID gains, tolerances, deltas and window timeouts.
//
// A parameter is either a plain number or an expr-lang expression evaluated
// against an Env, e.g. `state("sensor.outdoor") < 0 ? 20 : 12`.
package template

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
	"github.com/expr-lang/expr/vm"
)

var (
	ErrEmpty      = errors.New("template is empty")
	ErrNotNumeric = errors.New("template result is not numeric")
)

// Env is the variable set an expression is evaluated against.
type Env map[string]any

// StateFunc is the function exposed to expressions as state(entity_id).
const StateFunc = "state"

// AttrFunc is the function exposed to expressions as attr(entity_id, name).
const AttrFunc = "attr"

type Value struct {
	source   string
	static   *float64
	program  *vm.Program
	entities []string
}

// Static returns a constant parameter.
func Static(v float64) *Value {
	return &Value{source: strconv.FormatFloat(v, 'f', -1, 64), static: &v}
}

// Parse compiles src. Plain numbers become constants.
func Parse(src string) (*Value, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, ErrEmpty
	}

	if f, err := strconv.ParseFloat(src, 64); err == nil {
		return &Value{source: src, static: &f}, nil
	}

	tree, err := parser.Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parse template %q: %w", src, err)
	}

	program, err := expr.Compile(src, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("compile template %q: %w", src, err)
	}

	collector := &entityCollector{seen: map[string]bool{}}
	ast.Walk(&tree.Node, collector)

	return &Value{source: src, program: program, entities: collector.entities}, nil
}

// MustParse is Parse for constant configuration in tests and defaults.
func MustParse(src string) *Value {
	v, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return v
}

func (v *Value) String() string {
	if v == nil {
		return ""
	}
	return v.source
}

// IsStatic reports whether the value never changes.
func (v *Value) IsStatic() bool {
	return v != nil && v.static != nil
}

// Entities lists the entity ids referenced through state() or attr().
func (v *Value) Entities() []string {
	if v == nil {
		return nil
	}
	return v.entities
}

func (v *Value) Render(env Env) (float64, error) {
	if v == nil {
		return 0, ErrEmpty
	}
	if v.static != nil {
		return *v.static, nil
	}

	out, err := expr.Run(v.program, map[string]any(env))
	if err != nil {
		return 0, fmt.Errorf("render template %q: %w", v.source, err)
	}

	f, err := ToFloat(out)
	if err != nil {
		return 0, fmt.Errorf("render template %q: %w", v.source, err)
	}
	return f, nil
}

// ToFloat converts an expression result or raw state value to a finite float.
func ToFloat(raw any) (float64, error) {
	var f float64
	switch x := raw.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case int32:
		f = float64(x)
	case uint16:
		f = float64(x)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrNotNumeric, x)
		}
		f = parsed
	default:
		return 0, fmt.Errorf("%w: %v (%T)", ErrNotNumeric, raw, raw)
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %v", ErrNotNumeric, f)
	}
	return f, nil
}

type entityCollector struct {
	seen     map[string]bool
	entities []string
}

func (c *entityCollector) Visit(node *ast.Node) {
	call, ok := (*node).(*ast.CallNode)
	if !ok || len(call.Arguments) == 0 {
		return
	}
	callee, ok := call.Callee.(*ast.IdentifierNode)
	if !ok || (callee.Value != StateFunc && callee.Value != AttrFunc) {
		return
	}
	arg, ok := call.Arguments[0].(*ast.StringNode)
	if !ok || c.seen[arg.Value] {
		return
	}
	c.seen[arg.Value] = true
	c.entities = append(c.entities, arg.Value)
}
