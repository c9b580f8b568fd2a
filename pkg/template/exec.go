package template

import (
	"errors"
	"fmt"
	"io"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"
)

type scope struct {
	ctx  any
	data map[string]any
}

type state struct {
	t      *Template
	w      io.Writer
	scopes []scope
}

func (s *state) walk(nodes []Node) error {
	for _, n := range nodes {
		err := s.node(n)
		if err != nil {
			return err
		}
	}

	return nil
}

func (s *state) node(n Node) error {
	switch n := n.(type) {
	case *TextNode:
		return s.write(n.Text)

	case *VariableNode:
		v, ok := s.resolve(n.Path)
		if ok {
			return s.write(stringify(v))
		}

		switch s.t.missing {
		case MissingEmpty:
			return nil
		case MissingError:
			return s.errorf(n.Pos, fmt.Errorf("%w for %q", ErrMissingKey, n.Path.Raw))
		default:
			return s.write(n.Raw)
		}

	case *HelperNode:
		v, err := s.call(n.Call)
		if err != nil {
			return err
		}

		return s.write(stringify(v))

	case *IfNode:
		v, err := s.eval(n.Cond)
		if err != nil {
			return err
		}
		if truthy(v) {
			return s.walk(n.Then)
		}

		return s.walk(n.Else)

	case *UnlessNode:
		v, err := s.eval(n.Cond)
		if err != nil {
			return err
		}
		if !truthy(v) {
			return s.walk(n.Then)
		}

		return s.walk(n.Else)

	case *EachNode:
		return s.each(n)
	}

	return s.errorf(n.Position(), fmt.Errorf("unknown node %T", n))
}

func (s *state) each(n *EachNode) error {
	v, err := s.eval(n.Target)
	if err != nil {
		return err
	}

	items, err := entries(v)
	if err != nil {
		return s.errorf(n.Pos, err)
	}
	if len(items) == 0 {
		return s.walk(n.Else)
	}

	for i, it := range items {
		s.scopes = append(s.scopes, scope{
			ctx: it.val,
			data: map[string]any{
				"index": i,
				"key":   it.key,
				"first": i == 0,
				"last":  i == len(items)-1,
			},
		})

		err := s.walk(n.Body)

		s.scopes = s.scopes[:len(s.scopes)-1]

		if err != nil {
			return err
		}
	}

	return nil
}

func (s *state) eval(e Expr) (any, error) {
	switch e := e.(type) {
	case *LiteralExpr:
		return e.Value, nil
	case *PathExpr:
		v, _ := s.resolve(e)
		return v, nil
	case *SubExpr:
		return s.call(e)
	}

	return nil, s.errorf(e.Position(), fmt.Errorf("unknown expression %T", e))
}

func (s *state) call(c *SubExpr) (any, error) {
	fn, ok := s.t.funcs[c.Name]
	if !ok || fn == nil {
		return nil, s.errorf(c.Pos, fmt.Errorf("unknown helper %q", c.Name))
	}

	args := make([]any, 0, len(c.Args))
	for _, a := range c.Args {
		v, err := s.eval(a)
		if err != nil {
			return nil, err
		}

		args = append(args, v)
	}

	out, err := fn(args...)
	if err != nil {
		return nil, s.errorf(c.Pos, fmt.Errorf("%s: %w", c.Name, err))
	}

	return out, nil
}

// resolve looks up a path. Plain paths fall back to enclosing scopes.
func (s *state) resolve(p *PathExpr) (any, bool) {
	start := len(s.scopes) - 1 - p.Parents
	if start < 0 {
		return nil, false
	}

	if p.Data {
		name, rest := p.Segments[0], p.Segments[1:]
		if name == "root" {
			return lookupPath(s.scopes[0].ctx, rest)
		}

		for i := start; i >= 0; i-- {
			if v, ok := s.scopes[i].data[name]; ok {
				return lookupPath(v, rest)
			}
		}

		return nil, false
	}

	if p.This || p.Parents > 0 {
		return lookupPath(s.scopes[start].ctx, p.Segments)
	}

	for i := start; i >= 0; i-- {
		if v, ok := lookupPath(s.scopes[i].ctx, p.Segments); ok {
			return v, true
		}
	}

	return nil, false
}

func (s *state) write(text string) error {
	_, err := io.WriteString(s.w, text)
	if err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	return nil
}

func (s *state) errorf(pos int, err error) error {
	var eerr *ExecError
	if errors.As(err, &eerr) {
		return err
	}

	line, col := lineCol(s.t.src, pos)

	return &ExecError{Name: s.t.name, Line: line, Col: col, Err: err}
}

func lookupPath(v any, segs []string) (any, bool) {
	for _, seg := range segs {
		var ok bool

		v, ok = lookupField(v, seg)
		if !ok {
			return nil, false
		}
	}

	return v, true
}

func lookupField(v any, key string) (any, bool) {
	switch m := v.(type) {
	case nil:
		return nil, false
	case map[string]any:
		val, ok := m[key]
		return val, ok
	}

	rv := indirect(reflect.ValueOf(v))
	if !rv.IsValid() {
		return nil, false
	}

	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}

		mv := rv.MapIndex(reflect.ValueOf(key).Convert(rv.Type().Key()))
		if !mv.IsValid() {
			return nil, false
		}

		return mv.Interface(), true

	case reflect.Slice, reflect.Array:
		if key == "length" {
			return rv.Len(), true
		}

		i, err := strconv.Atoi(key)
		if err != nil || i < 0 || i >= rv.Len() {
			return nil, false
		}

		return rv.Index(i).Interface(), true

	case reflect.Struct:
		return structField(rv, key)
	}

	return nil, false
}

// structField matches key against the json tag or, ignoring case, the name
// of an exported field.
func structField(rv reflect.Value, key string) (any, bool) {
	rt := rv.Type()

	for i := range rt.NumField() {
		f := rt.Field(i)
		if !f.IsExported() {
			continue
		}

		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == key || strings.EqualFold(f.Name, key) {
			return rv.Field(i).Interface(), true
		}
	}

	return nil, false
}

func indirect(rv reflect.Value) reflect.Value {
	for rv.IsValid() && (rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface) {
		if rv.IsNil() {
			return reflect.Value{}
		}

		rv = rv.Elem()
	}

	return rv
}

type entry struct {
	key any
	val any
}

// entries lists the elements of a slice, array or string-keyed map (in key
// order). Nil yields nothing.
func entries(v any) ([]entry, error) {
	if v == nil {
		return nil, nil
	}

	rv := indirect(reflect.ValueOf(v))
	if !rv.IsValid() {
		return nil, nil
	}

	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]entry, 0, rv.Len())
		for i := range rv.Len() {
			out = append(out, entry{key: i, val: rv.Index(i).Interface()})
		}

		return out, nil

	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("cannot iterate over map with %s keys", rv.Type().Key())
		}

		keys := rv.MapKeys()
		slices.SortFunc(keys, func(a, b reflect.Value) int {
			return strings.Compare(a.String(), b.String())
		})

		out := make([]entry, 0, len(keys))
		for _, k := range keys {
			out = append(out, entry{key: k.String(), val: rv.MapIndex(k).Interface()})
		}

		return out, nil
	}

	return nil, fmt.Errorf("cannot iterate over %T", v)
}

func stringify(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case time.Time:
		return v.Format(time.RFC3339)
	case fmt.Stringer:
		return v.String()
	case error:
		return v.Error()
	}

	rv := indirect(reflect.ValueOf(v))
	if !rv.IsValid() {
		return ""
	}

	switch rv.Kind() {
	case reflect.String:
		return rv.String()
	case reflect.Slice, reflect.Array:
		parts := make([]string, 0, rv.Len())
		for i := range rv.Len() {
			parts = append(parts, stringify(rv.Index(i).Interface()))
		}

		return strings.Join(parts, ",")
	}

	return fmt.Sprint(rv.Interface())
}

func truthy(v any) bool {
	switch v := v.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case time.Time:
		return !v.IsZero()
	}

	rv := indirect(reflect.ValueOf(v))
	if !rv.IsValid() {
		return false
	}

	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array, reflect.String:
		return rv.Len() > 0
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		return rv.Float() != 0
	}

	return true
}
