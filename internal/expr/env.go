package expr

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
)

// Environment builds and compiles CEL programs against the caller context
// exposed to access-policy predicates.
type Environment struct {
	env *cel.Env
}

// NewEnvironment declares the CEL variables exposed to policy predicates:
// the authenticated user (id/role), whether an API key credential was
// presented, the table/operation/field under evaluation, and the wall clock.
func NewEnvironment() (*Environment, error) {
	env, err := cel.NewEnv(
		cel.Variable("user", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("apiKey", cel.BoolType),
		cel.Variable("table", cel.StringType),
		cel.Variable("operation", cel.StringType),
		cel.Variable("field", cel.StringType),
		cel.Variable("now", cel.DynType),
		cel.Function("hasRole",
			cel.Overload("hasrole_map_string",
				[]*cel.Type{cel.MapType(cel.StringType, cel.DynType), cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(hasRole),
			),
		),
		cel.HomogeneousAggregateLiterals(),
	)
	if err != nil {
		return nil, fmt.Errorf("expr: build environment: %w", err)
	}
	return &Environment{env: env}, nil
}

// Program wraps a compiled CEL program that yields a boolean result.
type Program struct {
	source  string
	program cel.Program
}

// Compile prepares the program for execution, ensuring the expression yields
// a boolean.
func (e *Environment) Compile(expression string) (Program, error) {
	expr := strings.TrimSpace(expression)
	if expr == "" {
		return Program{}, fmt.Errorf("expr: expression required")
	}
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return Program{}, fmt.Errorf("expr: compile %q: %w", expr, issues.Err())
	}
	if t := ast.OutputType(); t != cel.BoolType && t != cel.DynType {
		return Program{}, fmt.Errorf("expr: %q must return bool, got %s", expr, cel.FormatCELType(t))
	}
	program, err := e.env.Program(ast)
	if err != nil {
		return Program{}, fmt.Errorf("expr: program %q: %w", expr, err)
	}
	return Program{source: expr, program: program}, nil
}

// EvalBool executes the program against the provided activation and coerces
// the result to bool.
func (p Program) EvalBool(vars map[string]any) (bool, error) {
	if p.program == nil {
		return false, fmt.Errorf("expr: program not initialized")
	}
	val, _, err := p.program.Eval(vars)
	if err != nil {
		return false, fmt.Errorf("expr: eval %q: %w", p.source, err)
	}
	switch v := val.(type) {
	case types.Bool:
		return bool(v), nil
	case ref.Val:
		if v.Type() == types.BoolType {
			if b, ok := v.Value().(bool); ok {
				return b, nil
			}
		}
	}
	return false, fmt.Errorf("expr: %q yielded non-bool result %T", p.source, val)
}

// Source returns the original CEL expression for logging.
func (p Program) Source() string { return p.source }

// hasRole compares the user map's role against the wanted role without
// case sensitivity, matching the evaluator's built-in predicates.
func hasRole(userVal ref.Val, roleVal ref.Val) ref.Val {
	mapper, ok := userVal.(traits.Mapper)
	if !ok {
		return types.NewErr("expr: hasRole expects a user map")
	}
	wanted, ok := roleVal.Value().(string)
	if !ok {
		return types.NewErr("expr: hasRole expects a string role")
	}
	value, found := mapper.Find(types.String("role"))
	if !found || value == nil {
		return types.Bool(false)
	}
	actual, ok := value.Value().(string)
	if !ok {
		return types.Bool(false)
	}
	return types.Bool(strings.EqualFold(actual, wanted))
}
