package formula

import "strconv"

const (
	maxSourceLen = 512
	maxDepth     = 64
)

type node interface {
	eval(level int64) (value, error)
}

type numberNode struct{ v value }

type levelNode struct{}

type unaryNode struct {
	neg     bool
	operand node
}

type binaryNode struct {
	op          tokenKind
	left, right node
}

type callNode struct {
	fn   *builtin
	args []node
}

type parser struct {
	toks  []token
	pos   int
	depth int
}

// parse builds the syntax tree for src. The grammar, lowest precedence first:
//
//	expr   = term { ("+" | "-") term }
//	term   = unary { ("*" | "/" | "//" | "%") unary }
//	unary  = ("+" | "-") unary | power
//	power  = atom [ "**" unary ]
//	atom   = number | "level" | func "(" expr { "," expr } ")" | "(" expr ")"
func parse(src string) (node, error) {
	if len(src) > maxSourceLen {
		return nil, &ValidationError{Pos: maxSourceLen, Reason: "expression is longer than " + strconv.Itoa(maxSourceLen) + " characters"}
	}
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	if p.peek().kind == tokEOF {
		return nil, &ValidationError{Pos: 0, Reason: "expression is empty"}
	}
	n, err := p.expr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, p.unexpected(t)
	}
	return n, nil
}

func (p *parser) peek() token {
	return p.toks[p.pos]
}

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) expect(kind tokenKind) (token, error) {
	t := p.next()
	if t.kind != kind {
		return t, &ValidationError{Pos: t.pos, Reason: "expected " + kind.String() + ", found " + describe(t)}
	}
	return t, nil
}

func (p *parser) unexpected(t token) error {
	return &ValidationError{Pos: t.pos, Reason: "unexpected " + describe(t)}
}

func describe(t token) string {
	if t.kind == tokEOF {
		return t.kind.String()
	}
	return strconv.Quote(t.text)
}

func (p *parser) enter(t token) error {
	p.depth++
	if p.depth > maxDepth {
		return &ValidationError{Pos: t.pos, Reason: "expression is nested too deeply"}
	}
	return nil
}

func (p *parser) leave() { p.depth-- }

func (p *parser) expr() (node, error) {
	left, err := p.term()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokPlus && t.kind != tokMinus {
			return left, nil
		}
		p.next()
		right, err := p.term()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: t.kind, left: left, right: right}
	}
}

func (p *parser) term() (node, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		switch t.kind {
		case tokStar, tokSlash, tokFloorDiv, tokPercent:
		default:
			return left, nil
		}
		p.next()
		right, err := p.unary()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: t.kind, left: left, right: right}
	}
}

func (p *parser) unary() (node, error) {
	t := p.peek()
	if t.kind != tokPlus && t.kind != tokMinus {
		return p.power()
	}
	p.next()
	if err := p.enter(t); err != nil {
		return nil, err
	}
	defer p.leave()
	operand, err := p.unary()
	if err != nil {
		return nil, err
	}
	if t.kind == tokPlus {
		return operand, nil
	}
	return &unaryNode{neg: true, operand: operand}, nil
}

func (p *parser) power() (node, error) {
	base, err := p.atom()
	if err != nil {
		return nil, err
	}
	t := p.peek()
	if t.kind != tokPow {
		return base, nil
	}
	p.next()
	if err := p.enter(t); err != nil {
		return nil, err
	}
	defer p.leave()
	exp, err := p.unary()
	if err != nil {
		return nil, err
	}
	return &binaryNode{op: tokPow, left: base, right: exp}, nil
}

func (p *parser) atom() (node, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		return &numberNode{v: t.num}, nil
	case tokLParen:
		if err := p.enter(t); err != nil {
			return nil, err
		}
		defer p.leave()
		inner, err := p.expr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen); err != nil {
			return nil, err
		}
		return inner, nil
	case tokIdent:
		if p.peek().kind == tokLParen {
			return p.call(t)
		}
		if t.text == variableName {
			return levelNode{}, nil
		}
		return nil, &ValidationError{Pos: t.pos, Reason: "unknown name " + strconv.Quote(t.text) + "; only " + strconv.Quote(variableName) + " is allowed"}
	}
	return nil, p.unexpected(t)
}

func (p *parser) call(name token) (node, error) {
	fn, ok := builtins[name.text]
	if !ok {
		return nil, &ValidationError{Pos: name.pos, Reason: "function " + strconv.Quote(name.text) + " is not allowed"}
	}
	open := p.next()
	if err := p.enter(open); err != nil {
		return nil, err
	}
	defer p.leave()

	var args []node
	if p.peek().kind != tokRParen {
		for {
			arg, err := p.expr()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.peek().kind != tokComma {
				break
			}
			p.next()
		}
	}
	if _, err := p.expect(tokRParen); err != nil {
		return nil, err
	}
	if len(args) < fn.minArgs || (fn.maxArgs >= 0 && len(args) > fn.maxArgs) {
		return nil, &ValidationError{Pos: name.pos, Reason: fn.arity(name.text, len(args))}
	}
	return &callNode{fn: fn, args: args}, nil
}
