package yaml

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/goccy/go-yaml"
	"github.com/goccy/go-yaml/ast"
	"github.com/goccy/go-yaml/parser"
	"github.com/goccy/go-yaml/token"
)

func NewPathBuilder() *yaml.PathBuilder {
	// Use the goccy/go-yaml PathBuilder to create a new YAMLPath.
	return &yaml.PathBuilder{}
}

type ErrorWrapper struct {
	Opts []ErrorOpt
}

func NewErrorWrapper(opts ...ErrorOpt) *ErrorWrapper {
	return &ErrorWrapper{
		Opts: opts,
	}
}

// Wrap wraps an error with additional context for [Error]s.
// If the error isn't an [Error], it returns the original error unmodified.
func (ew *ErrorWrapper) Wrap(err error, opts ...ErrorOpt) error {
	if err == nil {
		return nil
	}

	var yamlErr *Error
	if errors.As(err, &yamlErr) {
		for _, opt := range ew.Opts {
			opt(yamlErr)
		}

		for _, opt := range opts {
			opt(yamlErr)
		}

		return yamlErr
	}

	return err
}

// Error represents a YAML error. It includes the original error, and either
// the [*yaml.Path] or the [*token.Token] where the error occurred.
// When the source is available, the message includes an excerpt around the
// error location.
type Error struct {
	Err   error
	Path  *yaml.Path
	Token *token.Token
	// Formatter is a chroma formatter name (e.g. "terminal256"). When empty,
	// the excerpt is not highlighted.
	Formatter   string
	Style       string
	Source      []byte
	SourceLines int // Number of lines to show around the error in the source.
}

func NewError(err error, opts ...ErrorOpt) *Error {
	e := &Error{
		Err:         err,
		SourceLines: 2,
	}
	for _, opt := range opts {
		opt(e)
	}

	return e
}

type ErrorOpt func(e *Error)

func WithSourceLines(lines int) ErrorOpt {
	return func(e *Error) {
		e.SourceLines = lines
	}
}

func WithPath(path *yaml.Path) ErrorOpt {
	return func(e *Error) {
		e.Path = path
	}
}

func WithToken(tk *token.Token) ErrorOpt {
	return func(e *Error) {
		e.Token = tk
	}
}

// WithHighlight enables chroma highlighting of the source excerpt.
func WithHighlight(formatter, style string) ErrorOpt {
	return func(e *Error) {
		e.Formatter = formatter
		e.Style = style
	}
}

func WithSource(source []byte) ErrorOpt {
	return func(e *Error) {
		e.Source = source
	}
}

func (e Error) Unwrap() error {
	return e.Err
}

func (e Error) Error() string {
	if e.Err == nil {
		return ""
	}
	if e.Path == nil && e.Token == nil {
		return e.Err.Error()
	}

	errMsg, srcErr := e.annotateSource()
	if srcErr != nil {
		if e.Path == nil {
			return e.Err.Error()
		}

		slog.Debug("could not annotate source with error",
			slog.String("path", e.Path.String()),
			slog.Any("error", srcErr),
		)

		return fmt.Sprintf("error at %s: %v", e.Path.String(), e.Err)
	}

	return errMsg
}

// Line returns the 1-based line of the error, or 0 if it is unknown.
func (e Error) Line() int {
	tk, err := e.token()
	if err != nil || tk == nil {
		return 0
	}

	return tk.Position.Line
}

func (e Error) token() (*token.Token, error) {
	if e.Token != nil {
		return e.Token, nil
	}
	if e.Path == nil || len(e.Source) == 0 {
		return nil, errors.New("no source to resolve path")
	}

	return getTokenFromPath(e.Source, e.Path)
}

func (e Error) annotateSource() (string, error) {
	tk, err := e.token()
	if err != nil {
		return "", fmt.Errorf("get token from path: %w", err)
	}

	line, col := tk.Position.Line, tk.Position.Column
	errMsg := fmt.Sprintf("[%d:%d] %v", line, col, e.Err)

	if len(e.Source) == 0 {
		return errMsg, nil
	}

	return fmt.Sprintf("%s:\n\n%s", errMsg, e.excerpt(line, col)), nil
}

// excerpt renders the source lines around line, marking the error line and
// column.
func (e Error) excerpt(line, col int) string {
	lines := strings.Split(strings.TrimRight(string(e.Source), "\n"), "\n")

	first := max(1, line-e.SourceLines)
	last := min(len(lines), line+e.SourceLines)
	if first > last {
		return ""
	}

	body := lines[first-1 : last]
	if e.Formatter != "" {
		body = highlight(body, e.Formatter, e.Style)
	}

	width := len(fmt.Sprint(last))

	var b strings.Builder

	for i, text := range body {
		n := first + i

		marker := " "
		if n == line {
			marker = ">"
		}

		fmt.Fprintf(&b, "%s %*d | %s\n", marker, width, n, text)

		if n == line && col > 0 {
			fmt.Fprintf(&b, "  %s | %s^\n", strings.Repeat(" ", width), strings.Repeat(" ", col-1))
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

func highlight(lines []string, formatter, style string) []string {
	if style == "" {
		style = "monokai"
	}

	var buf bytes.Buffer

	err := quick.Highlight(&buf, strings.Join(lines, "\n"), "yaml", formatter, style)
	if err != nil {
		return lines
	}

	const reset = "\x1b[0m"

	s := strings.TrimRight(buf.String(), "\n")
	s = strings.TrimRight(strings.TrimSuffix(s, reset), "\n")

	out := strings.Split(s, "\n")
	if len(out) != len(lines) {
		return lines
	}

	for i := range out {
		out[i] += reset
	}

	return out
}

func getTokenFromPath(source []byte, path *yaml.Path) (*token.Token, error) {
	file, err := parser.ParseBytes(source, 0)
	if err != nil {
		return nil, fmt.Errorf("parse source bytes into ast.File: %w", err)
	}

	node, err := path.FilterFile(file)
	if err != nil {
		return nil, fmt.Errorf("filter from ast.File by YAMLPath: %w", err)
	}

	// Point to the KEY rather than the value returned by FilterFile.
	keyToken := findKeyToken(file, path)
	if keyToken != nil {
		return keyToken, nil
	}

	return node.GetToken(), nil
}

// findKeyToken attempts to find the KEY token for the given path by looking
// in the parent node.
func findKeyToken(file *ast.File, path *yaml.Path) *token.Token {
	pathStr := path.String()

	lastDot := strings.LastIndex(pathStr, ".")
	lastBracket := strings.LastIndex(pathStr, "[")

	if lastDot == -1 && lastBracket == -1 {
		return nil // Root path, no parent.
	}

	if lastDot <= lastBracket {
		return nil // Array index, no key.
	}

	parentPath, err := yaml.PathString(pathStr[:lastDot])
	if err != nil {
		return nil
	}

	parentNode, err := parentPath.FilterFile(file)
	if err != nil {
		return nil
	}

	lastSegment := pathStr[lastDot+1:]

	if mapping, ok := parentNode.(*ast.MappingNode); ok {
		for _, val := range mapping.Values {
			if val.Key.String() == lastSegment {
				return val.Key.GetToken()
			}
		}
	}

	return nil
}
