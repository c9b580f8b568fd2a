package template

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/macropower/rulebook/pkg/rule"
)

// DateLayout is the default layout of the formatDate helper (US locale).
const DateLayout = "1/2/2006"

var errArgs = errors.New("wrong number of arguments")

// DefaultFuncs returns a new map of the built-in helpers:
//
//	eq a b            a equals b
//	ne a b            a differs from b
//	or a b...         first truthy argument, else the last one
//	and a b...        first falsy argument, else the last one
//	not a             negation
//	urgencyEmoji u    urgency glyph, e.g. "🔴" for CRITICAL
//	formatDate t [l]  date in layout l (default "1/2/2006")
//	timeAgo t         relative time, e.g. "3 hours ago"
//	titleCase s       "CODING_STANDARDS" to "Coding Standards"
//	join list [sep]   elements joined by sep (default ", ")
//	upper s, lower s  case conversion
//	len v             length of a string, list or map
func DefaultFuncs() Funcs {
	return Funcs{
		"eq":           eqHelper,
		"ne":           neHelper,
		"or":           orHelper,
		"and":          andHelper,
		"not":          notHelper,
		"urgencyEmoji": urgencyEmojiHelper,
		"formatDate":   formatDateHelper,
		"timeAgo":      timeAgoHelper,
		"titleCase":    titleCaseHelper,
		"join":         joinHelper,
		"upper":        upperHelper,
		"lower":        lowerHelper,
		"len":          lenHelper,
	}
}

func eqHelper(args ...any) (any, error) {
	if len(args) != 2 {
		return nil, errArgs
	}

	return equal(args[0], args[1]), nil
}

func neHelper(args ...any) (any, error) {
	if len(args) != 2 {
		return nil, errArgs
	}

	return !equal(args[0], args[1]), nil
}

func orHelper(args ...any) (any, error) {
	if len(args) == 0 {
		return nil, errArgs
	}

	for _, a := range args {
		if truthy(a) {
			return a, nil
		}
	}

	return args[len(args)-1], nil
}

func andHelper(args ...any) (any, error) {
	if len(args) == 0 {
		return nil, errArgs
	}

	for _, a := range args {
		if !truthy(a) {
			return a, nil
		}
	}

	return args[len(args)-1], nil
}

func notHelper(args ...any) (any, error) {
	if len(args) != 1 {
		return nil, errArgs
	}

	return !truthy(args[0]), nil
}

func urgencyEmojiHelper(args ...any) (any, error) {
	if len(args) != 1 {
		return nil, errArgs
	}

	u := rule.Urgency(strings.ToUpper(stringify(args[0])))

	return u.Emoji(), nil
}

func formatDateHelper(args ...any) (any, error) {
	if len(args) < 1 || len(args) > 2 {
		return nil, errArgs
	}

	layout := DateLayout
	if len(args) == 2 {
		layout = stringify(args[1])
	}

	t, ok := toTime(args[0])
	if !ok {
		return stringify(args[0]), nil
	}

	return t.Format(layout), nil
}

func timeAgoHelper(args ...any) (any, error) {
	if len(args) != 1 {
		return nil, errArgs
	}

	t, ok := toTime(args[0])
	if !ok {
		return stringify(args[0]), nil
	}

	return humanize.Time(t), nil
}

func titleCaseHelper(args ...any) (any, error) {
	if len(args) != 1 {
		return nil, errArgs
	}

	s := strings.NewReplacer("_", " ", "-", " ").Replace(stringify(args[0]))

	return cases.Title(language.English).String(strings.ToLower(s)), nil
}

func joinHelper(args ...any) (any, error) {
	if len(args) < 1 || len(args) > 2 {
		return nil, errArgs
	}

	sep := ", "
	if len(args) == 2 {
		sep = stringify(args[1])
	}

	items, err := entries(args[0])
	if err != nil {
		return nil, err
	}

	parts := make([]string, 0, len(items))
	for _, it := range items {
		parts = append(parts, stringify(it.val))
	}

	return strings.Join(parts, sep), nil
}

func upperHelper(args ...any) (any, error) {
	if len(args) != 1 {
		return nil, errArgs
	}

	return strings.ToUpper(stringify(args[0])), nil
}

func lowerHelper(args ...any) (any, error) {
	if len(args) != 1 {
		return nil, errArgs
	}

	return strings.ToLower(stringify(args[0])), nil
}

func lenHelper(args ...any) (any, error) {
	if len(args) != 1 {
		return nil, errArgs
	}

	rv := indirect(reflect.ValueOf(args[0]))
	if !rv.IsValid() {
		return 0, nil
	}

	switch rv.Kind() {
	case reflect.String, reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len(), nil
	}

	return nil, fmt.Errorf("len of %T", args[0])
}

// equal compares numbers by value and string-like values by content.
func equal(a, b any) bool {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
	}

	if as, ok := toString(a); ok {
		if bs, ok := toString(b); ok {
			return as == bs
		}
	}

	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	rv := reflect.ValueOf(v)

	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}

	return 0, false
}

func toString(v any) (string, bool) {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.String {
		return rv.String(), true
	}

	return "", false
}

var dateLayouts = []string{time.RFC3339Nano, time.RFC3339, time.DateTime, time.DateOnly}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, !t.IsZero()
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}

		return *t, !t.IsZero()
	case string:
		for _, layout := range dateLayouts {
			parsed, err := time.Parse(layout, t)
			if err == nil {
				return parsed, true
			}
		}
	}

	return time.Time{}, false
}
