package template

import (
	"fmt"
	"strconv"
	"strings"
)

type tagKind int

const (
	tagExpr tagKind = iota
	tagOpen
	tagClose
	tagElse
	tagComment
)

// tag is a classified tag segment.
type tag struct {
	// name is the block keyword for open and close tags.
	name string
	// content is the expression text and base its offset in the source.
	content string
	base    int
	kind    tagKind
	seg     segment
}

func classify(src string, seg segment) tag {
	inner := src[seg.start+len(leftDelim) : seg.end-len(rightDelim)]
	base := seg.start + len(leftDelim)

	trimmed := strings.TrimLeft(inner, " \t\r\n")
	base += len(inner) - len(trimmed)
	trimmed = strings.TrimRight(trimmed, " \t\r\n")

	t := tag{seg: seg, content: trimmed, base: base}

	switch {
	case strings.HasPrefix(trimmed, "!"):
		t.kind = tagComment
	case strings.HasPrefix(trimmed, "#"), strings.HasPrefix(trimmed, "/"):
		t.kind = tagOpen
		if trimmed[0] == '/' {
			t.kind = tagClose
		}

		rest := trimmed[1:]

		idx := strings.IndexAny(rest, " \t\r\n")
		if idx < 0 {
			t.name = rest
			t.content = ""
			t.base = seg.end - len(rightDelim)

			break
		}

		after := rest[idx:]
		args := strings.TrimLeft(after, " \t\r\n")

		t.name = rest[:idx]
		t.content = args
		t.base += 1 + idx + len(after) - len(args)
	case trimmed == "else":
		t.kind = tagElse
	}

	return t
}

// parser builds the node tree from scanned segments.
type parser struct {
	funcs Funcs
	src   string
	segs  []segment
	i     int
	// echo keeps output tags that are not template expressions as text.
	echo bool
}

func parse(src string, funcs Funcs, missing MissingKey) ([]Node, error) {
	echo := missing == MissingEcho

	segs, err := scan(src, echo)
	if err != nil {
		return nil, err
	}

	markStandalone(src, segs, func(s segment) bool {
		return classify(src, s).kind != tagExpr
	})

	p := &parser{src: src, segs: segs, funcs: funcs, echo: echo}

	nodes, stop, err := p.parseList("", false)
	if err != nil {
		return nil, err
	}
	if stop != nil {
		return nil, p.unexpected(*stop)
	}

	return nodes, nil
}

// parseList parses nodes until EOF, a close tag or (when allowElse) an else
// tag, which is returned.
func (p *parser) parseList(block string, allowElse bool) ([]Node, *tag, error) {
	var nodes []Node

	for p.i < len(p.segs) {
		seg := p.segs[p.i]
		p.i++

		if seg.kind == segText {
			if seg.start < seg.end {
				nodes = append(nodes, &TextNode{Text: p.src[seg.start:seg.end], Pos: seg.start})
			}

			continue
		}

		t := classify(p.src, seg)

		switch t.kind {
		case tagComment:
			continue
		case tagExpr:
			n, err := p.parseOutput(t)
			if err != nil {
				return nil, nil, err
			}

			nodes = append(nodes, n)
		case tagOpen:
			n, err := p.parseBlock(t)
			if err != nil {
				return nil, nil, err
			}

			nodes = append(nodes, n)
		case tagElse:
			if block == "" || !allowElse {
				return nil, nil, p.unexpected(t)
			}

			return nodes, &t, nil
		case tagClose:
			if block == "" {
				return nil, nil, p.unexpected(t)
			}

			return nodes, &t, nil
		}
	}

	return nodes, nil, nil
}

func (p *parser) parseBlock(open tag) (Node, error) {
	switch open.name {
	case "if", "unless", "each":
	default:
		return nil, newParseError(p.src, open.seg.start, fmt.Sprintf("unknown block %q", "#"+open.name))
	}

	if open.content == "" {
		return nil, newParseError(p.src, open.base, fmt.Sprintf("{{#%s}} requires an argument", open.name))
	}

	cond, err := p.parseTagExpr(open)
	if err != nil {
		return nil, err
	}

	body, stop, err := p.parseList(open.name, true)
	if err != nil {
		return nil, err
	}

	var elseBody []Node

	if stop != nil && stop.kind == tagElse {
		elseBody, stop, err = p.parseList(open.name, false)
		if err != nil {
			return nil, err
		}
	}

	if stop == nil {
		return nil, newParseError(p.src, open.seg.start, fmt.Sprintf("unclosed {{#%s}}", open.name))
	}
	if stop.name != open.name {
		return nil, newParseError(p.src, stop.seg.start,
			fmt.Sprintf("{{/%s}} does not close {{#%s}}", stop.name, open.name))
	}

	pos := open.seg.start

	switch open.name {
	case "if":
		return &IfNode{Cond: cond, Then: body, Else: elseBody, Pos: pos}, nil
	case "unless":
		return &UnlessNode{Cond: cond, Then: body, Else: elseBody, Pos: pos}, nil
	default:
		return &EachNode{Target: cond, Body: body, Else: elseBody, Pos: pos}, nil
	}
}

func (p *parser) parseOutput(t tag) (Node, error) {
	if t.content == "" {
		return nil, newParseError(p.src, t.seg.start, "empty tag")
	}
	if p.echo && p.isProse(t) {
		return &TextNode{Text: p.src[t.seg.start:t.seg.end], Pos: t.seg.start}, nil
	}

	e, err := p.parseTagExpr(t)
	if err != nil {
		return nil, err
	}

	switch e := e.(type) {
	case *PathExpr:
		return &VariableNode{Path: e, Raw: p.src[t.seg.start:t.seg.end], Pos: t.seg.start}, nil
	case *SubExpr:
		return &HelperNode{Call: e, Pos: t.seg.start}, nil
	case *LiteralExpr:
		return &TextNode{Text: stringify(e.Value), Pos: t.seg.start}, nil
	default:
		return nil, newParseError(p.src, t.seg.start, "invalid tag")
	}
}

// parseTagExpr parses the expression of a tag: a single operand, or a helper
// name followed by arguments.
func (p *parser) parseTagExpr(t tag) (Expr, error) {
	toks, err := lexExpr(p.src, t.content, t.base)
	if err != nil {
		return nil, err
	}

	ep := &exprParser{src: p.src, toks: toks, funcs: p.funcs}

	first := ep.peek()
	if first.kind == tokIdent && ep.toks[1].kind != tokEOF {
		e, err := ep.parseCall(ep.next(), tokEOF)
		if err != nil {
			return nil, err
		}

		return e, nil
	}

	e, err := ep.parseOperand()
	if err != nil {
		return nil, err
	}

	if tk := ep.peek(); tk.kind != tokEOF {
		return nil, newParseError(p.src, tk.pos, fmt.Sprintf("unexpected %s %q", tk.kind, tk.val))
	}

	// A bare helper name is a call without arguments.
	if pe, ok := e.(*PathExpr); ok && p.isHelperName(pe) {
		return &SubExpr{Name: pe.Raw, Pos: pe.Pos}, nil
	}

	return e, nil
}

// isProse reports whether an output tag cannot be an expression: it has
// characters no expression uses, or calls an undefined helper with
// arguments, e.g. "{{see docs}}".
func (p *parser) isProse(t tag) bool {
	toks, err := lexExpr(p.src, t.content, t.base)
	if err != nil {
		return true
	}
	if toks[0].kind != tokIdent || toks[1].kind == tokEOF {
		return false
	}

	_, ok := p.funcs[toks[0].val]

	return !ok
}

func (p *parser) isHelperName(pe *PathExpr) bool {
	if pe.This || pe.Data || pe.Parents > 0 || len(pe.Segments) != 1 {
		return false
	}

	_, ok := p.funcs[pe.Raw]

	return ok
}

func (p *parser) unexpected(t tag) error {
	return newParseError(p.src, t.seg.start, fmt.Sprintf("unexpected %s", p.src[t.seg.start:t.seg.end]))
}

type exprParser struct {
	funcs Funcs
	src   string
	toks  []token
	i     int
}

func (e *exprParser) peek() token {
	return e.toks[e.i]
}

func (e *exprParser) next() token {
	t := e.toks[e.i]
	if t.kind != tokEOF {
		e.i++
	}

	return t
}

// parseCall parses helper arguments up to the end token.
func (e *exprParser) parseCall(name token, end tokenKind) (*SubExpr, error) {
	if name.kind != tokIdent {
		return nil, newParseError(e.src, name.pos, fmt.Sprintf("expected helper name, got %s", name.kind))
	}
	if _, ok := e.funcs[name.val]; !ok {
		return nil, newParseError(e.src, name.pos, fmt.Sprintf("unknown helper %q", name.val))
	}

	call := &SubExpr{Name: name.val, Pos: name.pos}

	for {
		tk := e.peek()
		if tk.kind == end {
			e.next()
			return call, nil
		}
		if tk.kind == tokEOF {
			return nil, newParseError(e.src, call.Pos, "unclosed subexpression")
		}

		arg, err := e.parseOperand()
		if err != nil {
			return nil, err
		}

		call.Args = append(call.Args, arg)
	}
}

func (e *exprParser) parseOperand() (Expr, error) {
	tk := e.next()

	switch tk.kind {
	case tokString:
		return &LiteralExpr{Value: tk.val, Pos: tk.pos}, nil
	case tokNumber:
		if i, err := strconv.ParseInt(tk.val, 10, 64); err == nil {
			return &LiteralExpr{Value: i, Pos: tk.pos}, nil
		}

		f, err := strconv.ParseFloat(tk.val, 64)
		if err != nil {
			return nil, newParseError(e.src, tk.pos, fmt.Sprintf("invalid number %q", tk.val))
		}

		return &LiteralExpr{Value: f, Pos: tk.pos}, nil
	case tokIdent:
		switch tk.val {
		case "true":
			return &LiteralExpr{Value: true, Pos: tk.pos}, nil
		case "false":
			return &LiteralExpr{Value: false, Pos: tk.pos}, nil
		case "null":
			return &LiteralExpr{Value: nil, Pos: tk.pos}, nil
		}

		return parsePath(e.src, tk.val, tk.pos)
	case tokLParen:
		return e.parseCall(e.next(), tokRParen)
	default:
		return nil, newParseError(e.src, tk.pos, fmt.Sprintf("unexpected %s", tk.kind))
	}
}

func parsePath(src, raw string, pos int) (*PathExpr, error) {
	p := &PathExpr{Raw: raw, Pos: pos}
	rest := raw

	for {
		if strings.HasPrefix(rest, "../") {
			p.Parents++
			rest = rest[3:]

			continue
		}
		if rest == ".." {
			p.Parents++
			rest = ""
		}

		break
	}

	if strings.HasPrefix(rest, "./") {
		p.This = true
		rest = rest[2:]
	}

	switch {
	case rest == "":
		if p.Parents == 0 && !p.This {
			return nil, newParseError(src, pos, fmt.Sprintf("invalid path %q", raw))
		}

		p.This = true
	case strings.HasPrefix(rest, "@"):
		p.Data = true
		rest = rest[1:]
	case rest == "this":
		p.This = true
		rest = ""
	case strings.HasPrefix(rest, "this.") || strings.HasPrefix(rest, "this/"):
		p.This = true
		rest = rest[len("this."):]
	}

	if rest != "" {
		p.Segments = strings.FieldsFunc(rest, func(r rune) bool { return r == '.' || r == '/' })

		if len(p.Segments) == 0 || strings.Contains(rest, "..") || strings.HasSuffix(rest, ".") {
			return nil, newParseError(src, pos, fmt.Sprintf("invalid path %q", raw))
		}
	}

	if p.Data && len(p.Segments) == 0 {
		return nil, newParseError(src, pos, fmt.Sprintf("invalid data variable %q", raw))
	}

	return p, nil
}
