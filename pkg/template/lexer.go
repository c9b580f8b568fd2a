package template

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

const (
	leftDelim  = "{{"
	rightDelim = "}}"
)

var (
	errUnclosedTag = errors.New("unclosed tag")
	errNestedTag   = fmt.Errorf("unexpected %q inside tag", leftDelim)
)

type segmentKind int

const (
	segText segmentKind = iota
	segTag
)

// segment is a span of the template source: literal text or a whole
// "{{...}}" tag.
type segment struct {
	kind  segmentKind
	start int
	end   int
	// standalone tags sit alone on their line; the line's indentation and
	// newline are dropped from the output.
	standalone bool
}

// scan splits src into text and tag segments. With lenient set, a "{{" that
// never closes is kept as text.
func scan(src string, lenient bool) ([]segment, error) {
	var segs []segment

	pos := 0
	for pos < len(src) {
		i := strings.Index(src[pos:], leftDelim)
		if i < 0 {
			segs = append(segs, segment{kind: segText, start: pos, end: len(src)})
			break
		}

		if i > 0 {
			segs = append(segs, segment{kind: segText, start: pos, end: pos + i})
		}

		start := pos + i

		end, err := tagEnd(src, start+len(leftDelim))
		if err != nil && lenient && (errors.Is(err, errUnclosedTag) || errors.Is(err, errNestedTag)) {
			segs = append(segs, segment{kind: segText, start: start, end: start + len(leftDelim)})
			pos = start + len(leftDelim)

			continue
		}
		if err != nil {
			return nil, newParseError(src, start, err.Error())
		}

		segs = append(segs, segment{kind: segTag, start: start, end: end})
		pos = end
	}

	return segs, nil
}

// tagEnd returns the offset just past the "}}" closing the tag whose content
// begins at pos. Quoted strings may contain delimiters.
func tagEnd(src string, pos int) (int, error) {
	var quote byte

	for i := pos; i < len(src); i++ {
		c := src[i]

		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case strings.HasPrefix(src[i:], rightDelim):
			return i + len(rightDelim), nil
		case strings.HasPrefix(src[i:], leftDelim):
			return 0, errNestedTag
		}
	}

	if quote != 0 {
		return 0, errors.New("unterminated string in tag")
	}

	return 0, fmt.Errorf("%w, missing %q", errUnclosedTag, rightDelim)
}

// markStandalone trims the surrounding whitespace of block tags that are the
// only content on their line.
func markStandalone(src string, segs []segment, isBlock func(segment) bool) {
	for i := range segs {
		s := &segs[i]
		if s.kind != segTag || !isBlock(*s) {
			continue
		}

		lineStart := strings.LastIndexByte(src[:s.start], '\n') + 1
		if strings.TrimLeft(src[lineStart:s.start], " \t") != "" {
			continue
		}

		lineEnd := len(src)
		if j := strings.IndexByte(src[s.end:], '\n'); j >= 0 {
			lineEnd = s.end + j
		}

		if strings.TrimRight(src[s.end:lineEnd], " \t\r") != "" {
			continue
		}

		s.standalone = true

		if lineEnd < len(src) {
			lineEnd++
		}

		if i > 0 && segs[i-1].kind == segText {
			segs[i-1].end = max(segs[i-1].start, lineStart)
		}
		if i+1 < len(segs) && segs[i+1].kind == segText {
			segs[i+1].start = min(segs[i+1].end, lineEnd)
		}
	}
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokNumber
	tokLParen
	tokRParen
)

func (k tokenKind) String() string {
	switch k {
	case tokEOF:
		return "end of tag"
	case tokIdent:
		return "identifier"
	case tokString:
		return "string"
	case tokNumber:
		return "number"
	case tokLParen:
		return `"("`
	case tokRParen:
		return `")"`
	}

	return "token"
}

type token struct {
	val  string
	kind tokenKind
	pos  int // Offset into the template source.
}

// lexExpr tokenizes the content of a tag. base is the offset of content in
// the template source.
func lexExpr(src, content string, base int) ([]token, error) {
	var toks []token

	i := 0
	for i < len(content) {
		c := content[i]

		switch {
		case unicode.IsSpace(rune(c)):
			i++
		case c == '(':
			toks = append(toks, token{kind: tokLParen, val: "(", pos: base + i})
			i++
		case c == ')':
			toks = append(toks, token{kind: tokRParen, val: ")", pos: base + i})
			i++
		case c == '"' || c == '\'':
			s, n, err := lexString(content[i:])
			if err != nil {
				return nil, newParseError(src, base+i, err.Error())
			}

			toks = append(toks, token{kind: tokString, val: s, pos: base + i})
			i += n
		case isNumberStart(content[i:]):
			n := i + 1
			for n < len(content) && (isDigit(content[n]) || content[n] == '.') {
				n++
			}

			toks = append(toks, token{kind: tokNumber, val: content[i:n], pos: base + i})
			i = n
		case isIdentChar(c):
			n := i
			for n < len(content) && isIdentChar(content[n]) {
				n++
			}

			toks = append(toks, token{kind: tokIdent, val: content[i:n], pos: base + i})
			i = n
		default:
			return nil, newParseError(src, base+i, fmt.Sprintf("unexpected character %q", c))
		}
	}

	return append(toks, token{kind: tokEOF, pos: base + len(content)}), nil
}

// lexString reads a quoted string at the start of s, returning its unquoted
// value and the number of bytes consumed.
func lexString(s string) (string, int, error) {
	quote := s[0]

	var b strings.Builder

	for i := 1; i < len(s); i++ {
		c := s[i]

		switch {
		case c == '\\' && i+1 < len(s):
			i++
			switch s[i] {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteByte(s[i])
			}
		case c == quote:
			return b.String(), i + 1, nil
		default:
			b.WriteByte(c)
		}
	}

	return "", 0, errors.New("unterminated string")
}

func isNumberStart(s string) bool {
	if isDigit(s[0]) {
		return true
	}

	return s[0] == '-' && len(s) > 1 && isDigit(s[1])
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// isIdentChar reports whether c may appear in a path or helper name, e.g.
// "../rules.0.title" or "@index".
func isIdentChar(c byte) bool {
	return c == '_' || c == '.' || c == '/' || c == '@' || c == '-' ||
		isDigit(c) || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
