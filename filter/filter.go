// Package filter implements the SQL subset used by content-filtered topics
// and query conditions. Expressions are compiled once and evaluated against
// JSON samples; field references are gjson paths.
package filter

import (
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/c360/semdds/errors"
)

// MaxParameters bounds the %n parameter index.
const MaxParameters = 100

type operandKind int

const (
	operandField operandKind = iota
	operandLiteral
	operandParam
)

type operand struct {
	kind  operandKind
	path  string
	value any
	index int
}

type node interface {
	eval(e *env) (bool, error)
}

type env struct {
	sample gjson.Result
	params []any
}

type andNode struct{ left, right node }
type orNode struct{ left, right node }
type notNode struct{ inner node }
type constNode struct{ value bool }

type compareNode struct {
	op          string
	left, right operand
}

type likeNode struct {
	value, pattern operand
}

type betweenNode struct {
	value, low, high operand
	negate           bool
}

func (n andNode) eval(e *env) (bool, error) {
	l, err := n.left.eval(e)
	if err != nil || !l {
		return false, err
	}
	return n.right.eval(e)
}

func (n orNode) eval(e *env) (bool, error) {
	l, err := n.left.eval(e)
	if err != nil || l {
		return l, err
	}
	return n.right.eval(e)
}

func (n notNode) eval(e *env) (bool, error) {
	v, err := n.inner.eval(e)
	return !v && err == nil, err
}

func (n constNode) eval(*env) (bool, error) { return n.value, nil }

func (n compareNode) eval(e *env) (bool, error) {
	l, ok := e.resolve(n.left)
	if !ok {
		return false, nil
	}
	r, ok := e.resolve(n.right)
	if !ok {
		return false, nil
	}
	return operators[n.op](l, r)
}

func (n likeNode) eval(e *env) (bool, error) {
	v, ok := e.resolve(n.value)
	if !ok {
		return false, nil
	}
	p, ok := e.resolve(n.pattern)
	if !ok {
		return false, nil
	}
	return operatorLike(v, p)
}

func (n betweenNode) eval(e *env) (bool, error) {
	v, ok := e.resolve(n.value)
	if !ok {
		return false, nil
	}
	lo, ok := e.resolve(n.low)
	if !ok {
		return false, nil
	}
	hi, ok := e.resolve(n.high)
	if !ok {
		return false, nil
	}
	in := compareValues(v, lo) >= 0 && compareValues(v, hi) <= 0
	return in != n.negate, nil
}

func (e *env) resolve(o operand) (any, bool) {
	switch o.kind {
	case operandLiteral:
		return o.value, true
	case operandParam:
		if o.index >= len(e.params) {
			return nil, false
		}
		return e.params[o.index], true
	}
	r := e.sample.Get(o.path)
	if !r.Exists() {
		return nil, false
	}
	switch r.Type {
	case gjson.Number:
		return r.Num, true
	case gjson.True:
		return true, true
	case gjson.False:
		return false, true
	case gjson.String:
		return r.Str, true
	case gjson.Null:
		return nil, false
	}
	return r.Raw, true
}

// Expression is a compiled filter.
type Expression struct {
	text     string
	root     node
	maxParam int
	fields   []string
}

// Compile parses an expression. An empty expression matches every sample.
func Compile(expr string) (*Expression, error) {
	x := &Expression{text: expr, maxParam: -1}
	if strings.TrimSpace(expr) == "" {
		x.root = constNode{true}
		return x, nil
	}
	toks, err := lex(expr)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks, expr: x}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, syntaxError(t.pos, "unexpected %q", t.text)
	}
	x.root = root
	return x, nil
}

// String returns the expression text.
func (x *Expression) String() string { return x.text }

// MaxParam returns the highest %n index referenced, or -1.
func (x *Expression) MaxParam() int { return x.maxParam }

// Fields lists the field paths referenced, in order of appearance.
func (x *Expression) Fields() []string { return x.fields }

// CheckParams reports BadParameter when params do not cover every %n.
func (x *Expression) CheckParams(params []string) error {
	if x.maxParam >= len(params) {
		return errors.Failf(errors.RetcodeBadParameter, "filter", "CheckParams",
			"expression references %%%d but %d parameters given", x.maxParam, len(params))
	}
	return nil
}

// Evaluate applies the expression to a JSON sample. A field that is absent
// makes its predicate false.
func (x *Expression) Evaluate(sample []byte, params []string) (bool, error) {
	if err := x.CheckParams(params); err != nil {
		return false, err
	}
	if !gjson.ValidBytes(sample) {
		return false, errors.Fail(errors.RetcodeBadParameter, "filter", "Evaluate", "sample is not valid JSON")
	}
	e := &env{sample: gjson.ParseBytes(sample), params: make([]any, len(params))}
	for i, p := range params {
		e.params[i] = parseParam(p)
	}
	ok, err := x.root.eval(e)
	if err != nil {
		return false, errors.WrapInvalid(err, "filter", "Evaluate", "evaluate "+x.text)
	}
	return ok, nil
}

// parseParam types a parameter string: quoted text is a string, numbers and
// booleans are typed, anything else stays a string.
func parseParam(p string) any {
	s := strings.TrimSpace(p)
	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		return s[1 : len(s)-1]
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	switch strings.ToUpper(s) {
	case "TRUE":
		return true
	case "FALSE":
		return false
	}
	return p
}
