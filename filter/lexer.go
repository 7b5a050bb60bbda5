package filter

import (
	"strings"
	"unicode"

	"github.com/c360/semdds/errors"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokString
	tokParam
	tokOp
	tokLParen
	tokRParen
	tokComma
	tokAnd
	tokOr
	tokNot
	tokLike
	tokBetween
	tokTrue
	tokFalse
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

var keywords = map[string]tokenKind{
	"AND":     tokAnd,
	"OR":      tokOr,
	"NOT":     tokNot,
	"LIKE":    tokLike,
	"BETWEEN": tokBetween,
	"TRUE":    tokTrue,
	"FALSE":   tokFalse,
}

func syntaxError(pos int, format string, args ...any) error {
	args = append([]any{pos}, args...)
	return errors.Failf(errors.RetcodeBadParameter, "filter", "Compile", "at %d: "+format, args...)
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || r == '.' || r == '[' || r == ']' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func lex(src string) ([]token, error) {
	var toks []token
	rs := []rune(src)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			toks = append(toks, token{tokLParen, "(", i})
			i++
		case r == ')':
			toks = append(toks, token{tokRParen, ")", i})
			i++
		case r == ',':
			toks = append(toks, token{tokComma, ",", i})
			i++
		case r == '=':
			toks = append(toks, token{tokOp, "=", i})
			i++
		case r == '<' || r == '>' || r == '!':
			op := string(r)
			if i+1 < len(rs) && (rs[i+1] == '=' || (r == '<' && rs[i+1] == '>')) {
				op += string(rs[i+1])
			}
			if op == "!" {
				return nil, syntaxError(i, "unexpected '!'")
			}
			toks = append(toks, token{tokOp, op, i})
			i += len(op)
		case r == '\'' || r == '`' || r == '’':
			start := i
			var sb strings.Builder
			i++
			closed := false
			for i < len(rs) {
				if rs[i] == '\'' || rs[i] == '’' {
					if i+1 < len(rs) && rs[i+1] == '\'' {
						sb.WriteRune('\'')
						i += 2
						continue
					}
					closed = true
					i++
					break
				}
				sb.WriteRune(rs[i])
				i++
			}
			if !closed {
				return nil, syntaxError(start, "unterminated string")
			}
			toks = append(toks, token{tokString, sb.String(), start})
		case r == '%':
			start := i
			i++
			for i < len(rs) && unicode.IsDigit(rs[i]) {
				i++
			}
			if i == start+1 || i-start > 3 {
				return nil, syntaxError(start, "parameter must be %%0 to %%99")
			}
			toks = append(toks, token{tokParam, string(rs[start+1 : i]), start})
		case unicode.IsDigit(r) || ((r == '-' || r == '+') && i+1 < len(rs) && (unicode.IsDigit(rs[i+1]) || rs[i+1] == '.')) || (r == '.' && i+1 < len(rs) && unicode.IsDigit(rs[i+1])):
			start := i
			i++
			for i < len(rs) && (unicode.IsDigit(rs[i]) || rs[i] == '.' || rs[i] == 'e' || rs[i] == 'E' || rs[i] == 'x' || rs[i] == 'X' ||
				(rs[i] >= 'a' && rs[i] <= 'f') || (rs[i] >= 'A' && rs[i] <= 'F') ||
				((rs[i] == '-' || rs[i] == '+') && (rs[i-1] == 'e' || rs[i-1] == 'E'))) {
				i++
			}
			toks = append(toks, token{tokNumber, string(rs[start:i]), start})
		case isIdentStart(r):
			start := i
			for i < len(rs) && isIdentPart(rs[i]) {
				i++
			}
			text := string(rs[start:i])
			if kind, ok := keywords[strings.ToUpper(text)]; ok {
				toks = append(toks, token{kind, text, start})
			} else {
				toks = append(toks, token{tokIdent, text, start})
			}
		default:
			return nil, syntaxError(i, "unexpected character %q", r)
		}
	}
	return append(toks, token{tokEOF, "", len(rs)}), nil
}
