// Package errs defines the error taxonomy shared by the rule store, the
// selection engine, the template interpreter, and the profile manager.
//
// Each error type matches one of the sentinel errors with [errors.Is], and
// can be inspected with [errors.As] for details:
//
//	var verr *errs.ValidationError
//	if errors.As(err, &verr) {
//		for _, v := range verr.Violations {
//			fmt.Println(v.Field, v.Code, v.Message)
//		}
//	}
package errs

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sahilm/fuzzy"
)

var (
	ErrValidation           = errors.New("validation failed")
	ErrNotFound             = errors.New("not found")
	ErrTemplateNotFound     = errors.New("template not found")
	ErrConfigurationInvalid = errors.New("configuration invalid")
	ErrStorage              = errors.New("storage error")
)

// Violation describes a single violated constraint.
type Violation struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (v Violation) String() string {
	if v.Field == "" {
		return fmt.Sprintf("%s: %s", v.Code, v.Message)
	}

	return fmt.Sprintf("%s: %s: %s", v.Field, v.Code, v.Message)
}

// Violations collects [Violation]s. The zero value is ready to use.
type Violations []Violation

// Add appends a violation.
func (vs *Violations) Add(field, code, format string, args ...any) {
	*vs = append(*vs, Violation{
		Field:   field,
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	})
}

// Merge appends all violations from other, prefixing each field.
func (vs *Violations) Merge(prefix string, other []Violation) {
	for _, v := range other {
		if prefix != "" {
			if v.Field == "" {
				v.Field = prefix
			} else {
				v.Field = prefix + "." + v.Field
			}
		}

		*vs = append(*vs, v)
	}
}

// Has reports whether any violation carries the given code.
func (vs Violations) Has(code string) bool {
	for _, v := range vs {
		if v.Code == code {
			return true
		}
	}

	return false
}

// Err returns a [*ValidationError] if there are any violations, otherwise nil.
func (vs Violations) Err() error {
	if len(vs) == 0 {
		return nil
	}

	return &ValidationError{Violations: vs}
}

func (vs Violations) format(head string) string {
	if len(vs) == 1 {
		return fmt.Sprintf("%s: %s", head, vs[0])
	}

	var b strings.Builder

	fmt.Fprintf(&b, "%s: %d violations", head, len(vs))
	for _, v := range vs {
		b.WriteString("\n  - ")
		b.WriteString(v.String())
	}

	return b.String()
}

// ValidationError carries the complete list of violated constraints.
type ValidationError struct {
	Violations Violations
}

func (e *ValidationError) Error() string {
	return e.Violations.format(ErrValidation.Error())
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NotFoundError is returned by id lookups on rules and profiles.
type NotFoundError struct {
	Kind        string
	ID          string
	Suggestions []string
}

// NewNotFoundError creates a [*NotFoundError], suggesting the closest
// candidates to id.
func NewNotFoundError(kind, id string, candidates []string) *NotFoundError {
	return &NotFoundError{
		Kind:        kind,
		ID:          id,
		Suggestions: Suggest(id, candidates, 3),
	}
}

func (e *NotFoundError) Error() string {
	msg := fmt.Sprintf("%s %q: %s", e.Kind, e.ID, ErrNotFound)
	if len(e.Suggestions) > 0 {
		msg += fmt.Sprintf(" (did you mean %s?)", quoteJoin(e.Suggestions))
	}

	return msg
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// TemplateNotFoundError is returned when rendering an unregistered template.
type TemplateNotFoundError struct {
	Name        string
	Suggestions []string
}

// NewTemplateNotFoundError creates a [*TemplateNotFoundError].
func NewTemplateNotFoundError(name string, known []string) *TemplateNotFoundError {
	return &TemplateNotFoundError{
		Name:        name,
		Suggestions: Suggest(name, known, 3),
	}
}

func (e *TemplateNotFoundError) Error() string {
	msg := fmt.Sprintf("template %q: %s", e.Name, "not found")
	if len(e.Suggestions) > 0 {
		msg += fmt.Sprintf(" (did you mean %s?)", quoteJoin(e.Suggestions))
	}

	return msg
}

func (e *TemplateNotFoundError) Is(target error) bool {
	return target == ErrTemplateNotFound
}

// ConfigurationInvalidError blocks a profile save.
type ConfigurationInvalidError struct {
	ID         string
	Violations Violations
}

func (e *ConfigurationInvalidError) Error() string {
	head := ErrConfigurationInvalid.Error()
	if e.ID != "" {
		head = fmt.Sprintf("profile %q: %s", e.ID, head)
	}

	return e.Violations.format(head)
}

func (e *ConfigurationInvalidError) Is(target error) bool {
	return target == ErrConfigurationInvalid
}

// StorageError wraps an I/O failure. It is never retried internally.
type StorageError struct {
	Err  error
	Op   string
	Path string
}

func (e *StorageError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}

	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

// Suggest returns up to limit candidates that fuzzy-match s, best first.
func Suggest(s string, candidates []string, limit int) []string {
	if s == "" || len(candidates) == 0 {
		return nil
	}

	matches := fuzzy.Find(s, candidates)

	var out []string
	for _, m := range matches {
		if len(out) == limit {
			break
		}

		out = append(out, m.Str)
	}

	return out
}

func quoteJoin(ss []string) string {
	quoted := make([]string, 0, len(ss))
	for _, s := range ss {
		quoted = append(quoted, fmt.Sprintf("%q", s))
	}

	return strings.Join(quoted, ", ")
}
