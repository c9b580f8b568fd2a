package expr

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/macropower/rulebook/pkg/rule"
)

// ErrNotBool is returned when an expression does not evaluate to a boolean.
var ErrNotBool = errors.New("expression must return a boolean")

// Protect CEL environment creation and compilation from concurrent access.
var celMutex sync.Mutex

// Environment provides a thread-safe wrapper around a [*cel.Env].
type Environment struct {
	env *cel.Env
}

// NewEnvironment creates a new [Environment] with the `rule` variable and
// the custom function library.
func NewEnvironment(opts ...cel.EnvOption) (*Environment, error) {
	env, err := createEnvironment(opts...)
	if err != nil {
		return nil, err
	}

	return &Environment{env: env}, nil
}

// createEnvironment creates the [*cel.Env] using the global mutex.
func createEnvironment(opts ...cel.EnvOption) (*cel.Env, error) {
	celMutex.Lock()
	defer celMutex.Unlock()

	opts = append(opts,
		cel.Variable("rule", cel.MapType(cel.StringType, cel.DynType)),
		cel.Lib(&lib{}),
	)

	celEnv, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	return celEnv, nil
}

// Compile compiles a CEL expression and returns a program.
//
//nolint:ireturn // Following CEL's function signature.
func (e *Environment) Compile(expression string) (cel.Program, error) {
	celMutex.Lock()
	defer celMutex.Unlock()

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile expression: %w", issues.Err())
	}

	if !ast.OutputType().IsExactType(cel.BoolType) && !ast.OutputType().IsExactType(cel.DynType) {
		return nil, fmt.Errorf("compile expression: %w, got %s", ErrNotBool, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("create program: %w", err)
	}

	return program, nil
}

// Matcher is a compiled boolean expression over a rule.
type Matcher struct {
	program    cel.Program
	expression string
}

var defaultEnv = sync.OnceValues(func() (*Environment, error) {
	return NewEnvironment()
})

// NewMatcher compiles expression in the default environment.
func NewMatcher(expression string) (*Matcher, error) {
	env, err := defaultEnv()
	if err != nil {
		return nil, err
	}

	program, err := env.Compile(expression)
	if err != nil {
		return nil, fmt.Errorf("match %q: %w", expression, err)
	}

	return &Matcher{program: program, expression: expression}, nil
}

// Match evaluates the expression against r.
func (m *Matcher) Match(r *rule.Rule) (bool, error) {
	result, _, err := m.program.Eval(map[string]any{
		"rule": RuleVars(r),
	})
	if err != nil {
		return false, fmt.Errorf("evaluate %q: %w", m.expression, err)
	}

	b, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("evaluate %q: %w", m.expression, ErrNotBool)
	}

	return b, nil
}

func (m *Matcher) String() string {
	return m.expression
}

// RuleVars converts r into the map bound to the `rule` variable.
func RuleVars(r *rule.Rule) map[string]any {
	return map[string]any{
		"id":           r.ID,
		"title":        r.Title,
		"content":      r.Content,
		"category":     string(r.Category),
		"urgency":      string(r.Urgency),
		"sources":      nonNil(r.Sources),
		"projectTypes": nonNil(r.ProjectTypes),
		"tags":         nonNil(r.Tags),
	}
}

func nonNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}

	return ss
}
