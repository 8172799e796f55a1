// Package celexpr compiles boolean CEL expressions used as row filters.
package celexpr

import (
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/pkg/errors"
)

// Program is a compiled boolean expression. It is safe for concurrent use.
type Program struct {
	expr string
	prg  cel.Program
}

// Vars declares the variables an expression may reference.
type Vars map[string]*cel.Type

// IDVars exposes only the primary key.
var IDVars = Vars{"id": cel.StringType}

// Compile parses and type-checks expr. An empty expression yields a nil
// Program, which matches everything.
func Compile(expr string, vars Vars) (*Program, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}

	opts := make([]cel.EnvOption, 0, len(vars))
	for name, typ := range vars {
		opts = append(opts, cel.Variable(name, typ))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create CEL environment")
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, errors.Wrapf(issues.Err(), "invalid filter %q", expr)
	}
	out := ast.OutputType()
	if !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, errors.Errorf("filter %q must be a boolean expression, got %s", expr, out)
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to build filter %q", expr)
	}
	return &Program{expr: expr, prg: prg}, nil
}

func (p *Program) String() string {
	if p == nil {
		return ""
	}
	return p.expr
}

// Match evaluates the program against vars. A nil Program matches.
// Evaluation errors, such as comparing a null column, count as no match.
func (p *Program) Match(vars map[string]any) bool {
	if p == nil {
		return true
	}
	out, _, err := p.prg.Eval(vars)
	if err != nil {
		return false
	}
	matched, ok := out.Value().(bool)
	return ok && matched
}
