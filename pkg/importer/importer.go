// Package importer reads rule records from YAML, JSON or TOML documents.
//
// A document is either a list of records or a mapping with a "rules" list
// (the only shape TOML allows, as "[[rules]]" tables). Each record is
// decoded and validated on its own, so one bad record does not hide the
// others. Ids are optional; a store assigns them on add.
package importer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/macropower/rulebook/pkg/errs"
	"github.com/macropower/rulebook/pkg/rule"
	"github.com/macropower/rulebook/pkg/yaml"
)

// Violation codes reported for records.
const (
	CodeMalformedRecord = "MALFORMED_RECORD"
	CodeDuplicateID     = rule.CodeDuplicateID
)

// Format is a document encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
	FormatTOML Format = "toml"
)

// Formats lists the supported formats.
var Formats = []Format{FormatYAML, FormatJSON, FormatTOML}

// ParseFormat parses a format name, ignoring case. "yml" is accepted for
// YAML.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimPrefix(s, "."))); f {
	case FormatYAML, FormatJSON, FormatTOML:
		return f, nil
	case "yml":
		return FormatYAML, nil
	}

	return "", fmt.Errorf("unknown format %q, must be one of: yaml, json, toml", s)
}

// FormatFromPath returns the format matching the extension of path.
func FormatFromPath(path string) (Format, error) {
	return ParseFormat(filepath.Ext(path))
}

// Record is one decoded rule record.
type Record struct {
	// Rule is the decoded candidate. It is nil if the record could not be
	// decoded at all.
	Rule *rule.Rule
	// Err is a [*errs.ValidationError] for invalid records, or nil.
	Err error
	// Index is the position of the record in the document.
	Index int
}

// Valid reports whether the record can be added to a store.
func (r Record) Valid() bool {
	return r.Err == nil && r.Rule != nil
}

// Result holds every record of a document, in document order.
type Result struct {
	Records []Record
}

// Rules returns the valid candidates.
func (r *Result) Rules() []*rule.Rule {
	var out []*rule.Rule
	for _, rec := range r.Records {
		if rec.Valid() {
			out = append(out, rec.Rule)
		}
	}

	return out
}

// Invalid returns the records that failed validation.
func (r *Result) Invalid() []Record {
	var out []Record
	for _, rec := range r.Records {
		if !rec.Valid() {
			out = append(out, rec)
		}
	}

	return out
}

// Err returns a [*errs.ValidationError] collecting the violations of every
// invalid record, with fields prefixed by "rules[i]", or nil.
func (r *Result) Err() error {
	var vs errs.Violations

	for _, rec := range r.Invalid() {
		prefix := fmt.Sprintf("rules[%d]", rec.Index)

		var verr *errs.ValidationError
		if !errors.As(rec.Err, &verr) {
			vs.Add(prefix, CodeMalformedRecord, "%v", rec.Err)
			continue
		}

		vs.Merge(prefix, verr.Violations)
	}

	return vs.Err()
}

// Option configures decoding.
type Option func(*options)

type options struct {
	source string
}

// WithSource records source on every rule that lists no sources.
func WithSource(source string) Option {
	return func(o *options) {
		o.source = source
	}
}

// Read decodes the file at path, choosing the format by extension. Rules
// without sources get the file name as their source.
func Read(path string, opts ...Option) (*Result, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, &errs.StorageError{Op: "read", Path: path, Err: err}
	}
	defer f.Close()

	opts = append([]Option{WithSource(filepath.Base(path))}, opts...)

	res, err := Decode(f, format, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return res, nil
}

// Decode reads one document from r. It fails only if the document itself
// is malformed; per-record problems are reported in the [Result].
func Decode(r io.Reader, format Format, opts ...Option) (*Result, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}

	raw, err := records(data, format)
	if err != nil {
		return nil, err
	}

	res := &Result{Records: make([]Record, 0, len(raw))}
	seen := map[string]int{}

	for i, rec := range raw {
		r, err := decodeRecord(rec)
		if err != nil {
			res.Records = append(res.Records, Record{Index: i, Err: err})
			continue
		}

		if len(r.Sources) == 0 && o.source != "" {
			r.Sources = []string{o.source}
		}

		vs := candidateViolations(r)
		if r.ID != "" {
			if first, dup := seen[r.ID]; dup {
				vs.Add("id", CodeDuplicateID, "id %q is also used by rules[%d]", r.ID, first)
			} else {
				seen[r.ID] = i
			}
		}

		res.Records = append(res.Records, Record{Index: i, Rule: r, Err: vs.Err()})
	}

	return res, nil
}

func records(data []byte, format Format) ([]any, error) {
	var doc any

	switch format {
	case FormatTOML:
		var m map[string]any

		_, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&m)
		if err != nil {
			return nil, fmt.Errorf("decode toml: %w", err)
		}

		doc = m

	case FormatYAML, FormatJSON:
		// JSON documents are valid YAML.
		err := yaml.Unmarshal(data, &doc)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("decode %s: %w", format, err)
		}

	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}

	switch v := doc.(type) {
	case nil:
		return nil, nil
	case []any:
		return v, nil
	case map[string]any:
		list, ok := v["rules"]
		if !ok {
			return nil, fmt.Errorf("%w: expected a list of rules or a \"rules\" key", errs.ErrValidation)
		}

		return toList(list)
	}

	return nil, fmt.Errorf("%w: expected a list of rules, got %T", errs.ErrValidation, doc)
}

func toList(v any) ([]any, error) {
	switch l := v.(type) {
	case nil:
		return nil, nil
	case []any:
		return l, nil
	case []map[string]any:
		// TOML arrays of tables.
		out := make([]any, 0, len(l))
		for _, m := range l {
			out = append(out, m)
		}

		return out, nil
	}

	return nil, fmt.Errorf("%w: \"rules\" must be a list, got %T", errs.ErrValidation, v)
}

// decodeRecord converts a generic record to a rule through its JSON form,
// so every format shares the json field names and enum parsing of
// [rule.Rule].
func decodeRecord(rec any) (*rule.Rule, error) {
	if _, ok := rec.(map[string]any); !ok {
		return nil, fmt.Errorf("expected a mapping, got %T", rec)
	}

	b, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()

	var r rule.Rule

	err = dec.Decode(&r)
	if err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}

	r.Normalize()

	return &r, nil
}

// candidateViolations returns the violations of r, except for a missing id.
func candidateViolations(r *rule.Rule) errs.Violations {
	var vs errs.Violations
	for _, v := range r.Violations() {
		if v.Code != rule.CodeMissingID {
			vs = append(vs, v)
		}
	}

	return vs
}
