package filter

import (
	"strconv"
)

type parser struct {
	toks []token
	pos  int
	expr *Expression
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = orNode{left, right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokAnd {
		p.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = andNode{left, right}
	}
	return left, nil
}

func (p *parser) parseNot() (node, error) {
	if p.peek().kind == tokNot {
		p.next()
		inner, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return notNode{inner}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	t := p.peek()
	if t.kind == tokLParen {
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if c := p.next(); c.kind != tokRParen {
			return nil, syntaxError(c.pos, "expected ')'")
		}
		return inner, nil
	}
	if (t.kind == tokTrue || t.kind == tokFalse) && p.isPredicateEnd(p.pos+1) {
		p.next()
		return constNode{t.kind == tokTrue}, nil
	}
	return p.parsePredicate()
}

func (p *parser) isPredicateEnd(i int) bool {
	switch p.toks[i].kind {
	case tokEOF, tokAnd, tokOr, tokRParen:
		return true
	}
	return false
}

func (p *parser) parsePredicate() (node, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	t := p.next()
	switch t.kind {
	case tokOp:
		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return compareNode{op: t.text, left: left, right: right}, nil
	case tokLike:
		pattern, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return likeNode{value: left, pattern: pattern}, nil
	case tokNot:
		b := p.next()
		switch b.kind {
		case tokBetween:
			return p.parseBetween(left, true)
		case tokLike:
			pattern, err := p.parseOperand()
			if err != nil {
				return nil, err
			}
			return notNode{likeNode{value: left, pattern: pattern}}, nil
		}
		return nil, syntaxError(b.pos, "expected BETWEEN or LIKE after NOT")
	case tokBetween:
		return p.parseBetween(left, false)
	}
	return nil, syntaxError(t.pos, "expected comparison operator, got %q", t.text)
}

func (p *parser) parseBetween(value operand, negate bool) (node, error) {
	low, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	if t := p.next(); t.kind != tokAnd {
		return nil, syntaxError(t.pos, "expected AND in BETWEEN")
	}
	high, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	return betweenNode{value: value, low: low, high: high, negate: negate}, nil
}

func (p *parser) parseOperand() (operand, error) {
	t := p.next()
	switch t.kind {
	case tokIdent:
		p.expr.fields = append(p.expr.fields, t.text)
		return operand{kind: operandField, path: t.text}, nil
	case tokNumber:
		v, err := parseNumber(t.text)
		if err != nil {
			return operand{}, syntaxError(t.pos, "invalid number %q", t.text)
		}
		return operand{kind: operandLiteral, value: v}, nil
	case tokString:
		return operand{kind: operandLiteral, value: t.text}, nil
	case tokTrue:
		return operand{kind: operandLiteral, value: true}, nil
	case tokFalse:
		return operand{kind: operandLiteral, value: false}, nil
	case tokParam:
		n, err := strconv.Atoi(t.text)
		if err != nil || n >= MaxParameters {
			return operand{}, syntaxError(t.pos, "invalid parameter %%%s", t.text)
		}
		if n > p.expr.maxParam {
			p.expr.maxParam = n
		}
		return operand{kind: operandParam, index: n}, nil
	}
	if t.kind == tokEOF {
		return operand{}, syntaxError(t.pos, "unexpected end of expression")
	}
	return operand{}, syntaxError(t.pos, "expected operand, got %q", t.text)
}

func parseNumber(s string) (float64, error) {
	if i, err := strconv.ParseInt(s, 0, 64); err == nil {
		return float64(i), nil
	}
	return strconv.ParseFloat(s, 64)
}
