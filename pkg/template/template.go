// Package template implements a small logic-light templating language for
// rendering rules into text.
//
// Templates interpolate values with "{{path.to.value}}", call helpers with
// "{{helper arg...}}" or "(helper arg...)", and support nestable blocks:
//
//	{{#if cond}}...{{else}}...{{/if}}
//	{{#unless cond}}...{{/unless}}
//	{{#each list}}...{{else}}...{{/each}}
//
// Inside "each", "this" is the current element and "@index", "@key",
// "@first" and "@last" describe the iteration. "../" climbs to the enclosing
// scope. A plain path that is not found in the current scope is looked up
// in the enclosing scopes.
//
// Unresolved variables are handled according to the [MissingKey] policy; by
// default the original tag is echoed unchanged, and so is stray "{{" prose.
package template

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"strings"
)

// ErrMissingKey is returned by [MissingError] templates for unresolved
// variables.
var ErrMissingKey = errors.New("missing value")

// MissingKey controls how unresolved variables render.
type MissingKey int

const (
	// MissingEcho outputs the original tag, e.g. "{{missing}}". Output
	// tags that call an undefined helper, and a "{{" that is never
	// closed, are also kept as text.
	MissingEcho MissingKey = iota
	// MissingEmpty outputs nothing.
	MissingEmpty
	// MissingError fails the render with [ErrMissingKey].
	MissingError
)

var missingKeyNames = map[MissingKey]string{
	MissingEcho:  "echo",
	MissingEmpty: "empty",
	MissingError: "error",
}

func (m MissingKey) String() string {
	if s, ok := missingKeyNames[m]; ok {
		return s
	}

	return fmt.Sprintf("MissingKey(%d)", int(m))
}

// ParseMissingKey parses "echo", "empty" or "error".
func ParseMissingKey(s string) (MissingKey, error) {
	for k, name := range missingKeyNames {
		if strings.EqualFold(s, name) {
			return k, nil
		}
	}

	return MissingEcho, fmt.Errorf("unknown missing key policy %q, must be one of: echo, empty, error", s)
}

// Helper is a function callable from templates. Arguments that reference
// missing values are nil.
type Helper func(args ...any) (any, error)

// Funcs maps helper names to helpers.
type Funcs map[string]Helper

// Option configures [Parse].
type Option func(*options)

type options struct {
	funcs   Funcs
	name    string
	missing MissingKey
}

// WithName names the template in error messages.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithFuncs adds helpers, replacing built-ins of the same name.
func WithFuncs(funcs Funcs) Option {
	return func(o *options) {
		maps.Copy(o.funcs, funcs)
	}
}

// WithMissingKey sets the policy for unresolved variables.
func WithMissingKey(m MissingKey) Option {
	return func(o *options) {
		o.missing = m
	}
}

// Template is a parsed template. It is immutable and safe for concurrent use.
type Template struct {
	funcs   Funcs
	name    string
	src     string
	root    []Node
	missing MissingKey
}

// Parse parses src into a [Template].
func Parse(src string, opts ...Option) (*Template, error) {
	o := &options{
		funcs: DefaultFuncs(),
		name:  "template",
	}
	for _, opt := range opts {
		opt(o)
	}

	root, err := parse(src, o.funcs, o.missing)
	if err != nil {
		var perr *ParseError
		if errors.As(err, &perr) {
			perr.Name = o.name
		}

		return nil, err
	}

	return &Template{
		name:    o.name,
		src:     src,
		root:    root,
		funcs:   o.funcs,
		missing: o.missing,
	}, nil
}

// Must panics if err is non-nil.
func Must(t *Template, err error) *Template {
	if err != nil {
		panic(err)
	}

	return t
}

// Render parses and executes src against data.
func Render(src string, data any, opts ...Option) (string, error) {
	t, err := Parse(src, opts...)
	if err != nil {
		return "", err
	}

	return t.Execute(data)
}

// Name returns the template name.
func (t *Template) Name() string {
	return t.name
}

// Source returns the template source.
func (t *Template) Source() string {
	return t.src
}

// Root returns the parsed nodes.
func (t *Template) Root() []Node {
	return t.root
}

// Execute renders the template against data.
func (t *Template) Execute(data any) (string, error) {
	var b strings.Builder

	err := t.ExecuteTo(&b, data)
	if err != nil {
		return "", err
	}

	return b.String(), nil
}

// ExecuteTo renders the template against data into w.
func (t *Template) ExecuteTo(w io.Writer, data any) error {
	s := &state{
		t:      t,
		w:      w,
		scopes: []scope{{ctx: data}},
	}

	return s.walk(t.root)
}

// ParseError reports a malformed template.
type ParseError struct {
	Name string
	Msg  string
	Line int
	Col  int
}

func newParseError(src string, pos int, msg string) *ParseError {
	line, col := lineCol(src, pos)

	return &ParseError{Msg: msg, Line: line, Col: col}
}

func (e *ParseError) Error() string {
	name := e.Name
	if name == "" {
		name = "template"
	}

	return fmt.Sprintf("%s:%d:%d: %s", name, e.Line, e.Col, e.Msg)
}

// ExecError reports a failure while rendering.
type ExecError struct {
	Err  error
	Name string
	Line int
	Col  int
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("%s:%d:%d: %v", e.Name, e.Line, e.Col, e.Err)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// lineCol converts a byte offset into a 1-based line and column.
func lineCol(src string, pos int) (int, int) {
	pos = min(pos, len(src))
	line := 1 + strings.Count(src[:pos], "\n")
	col := pos - strings.LastIndexByte(src[:pos], '\n')

	return line, col
}
