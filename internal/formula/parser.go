package formula

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// node is an expression tree node.
type node interface {
	eval(env *evaluator) (decimal.Decimal, error)
}

type numberNode struct{ value decimal.Decimal }

type paramNode struct{ name string }

type unaryNode struct {
	op      string
	operand node
}

type binaryNode struct {
	op          string
	left, right node
}

type callNode struct {
	name string
	args []node
}

// Formula is a parsed formula.
type Formula struct {
	Source string
	// Result is the left-hand name in "name = expr", or "result".
	Result string
	root   node
	params []string
}

// Parameters lists the distinct parameter names referenced, sorted.
func (f *Formula) Parameters() []string { return f.params }

type parser struct {
	toks   []token
	pos    int
	params map[string]struct{}
}

// Parse compiles a formula. Only the closed arithmetic grammar is accepted.
func Parse(src string) (*Formula, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks, params: map[string]struct{}{}}

	result := "result"
	if len(toks) > 2 && toks[0].kind == tokIdent && toks[1].kind == tokAssign {
		result = toks[0].text
		p.pos = 2
	}

	root, err := p.expr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, fmt.Errorf("unexpected %s", t)
	}

	params := make([]string, 0, len(p.params))
	for name := range p.params {
		params = append(params, name)
	}
	sort.Strings(params)
	return &Formula{Source: src, Result: result, root: root, params: params}, nil
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) isOp(ops ...string) (string, bool) {
	t := p.peek()
	if t.kind != tokOp {
		return "", false
	}
	for _, op := range ops {
		if t.text == op {
			return op, true
		}
	}
	return "", false
}

// expr := term (("+" | "-") term)*
func (p *parser) expr() (node, error) {
	left, err := p.term()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.isOp("+", "-")
		if !ok {
			return left, nil
		}
		p.next()
		right, err := p.term()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: op, left: left, right: right}
	}
}

// term := unary (("*" | "/" | "%") unary)*
func (p *parser) term() (node, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.isOp("*", "/", "%")
		if !ok {
			return left, nil
		}
		p.next()
		right, err := p.unary()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: op, left: left, right: right}
	}
}

// unary := ("+" | "-") unary | power
func (p *parser) unary() (node, error) {
	if op, ok := p.isOp("+", "-"); ok {
		p.next()
		operand, err := p.unary()
		if err != nil {
			return nil, err
		}
		return &unaryNode{op: op, operand: operand}, nil
	}
	return p.power()
}

// power := primary ("**" unary)?   right-associative, -2**2 == -(2**2)
func (p *parser) power() (node, error) {
	base, err := p.primary()
	if err != nil {
		return nil, err
	}
	if _, ok := p.isOp("**"); ok {
		p.next()
		exp, err := p.unary()
		if err != nil {
			return nil, err
		}
		return &binaryNode{op: "**", left: base, right: exp}, nil
	}
	return base, nil
}

func (p *parser) primary() (node, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		v, err := decimal.NewFromString(t.text)
		if err != nil {
			return nil, fmt.Errorf("bad number %s", t)
		}
		return &numberNode{value: v}, nil
	case tokIdent:
		if p.peek().kind == tokLParen {
			p.next()
			args, err := p.args()
			if err != nil {
				return nil, err
			}
			return &callNode{name: t.text, args: args}, nil
		}
		p.params[t.text] = struct{}{}
		return &paramNode{name: t.text}, nil
	case tokLParen:
		inner, err := p.expr()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return nil, fmt.Errorf("expected ) but found %s", closing)
		}
		return inner, nil
	}
	return nil, fmt.Errorf("unexpected %s", t)
}

func (p *parser) args() ([]node, error) {
	var args []node
	if p.peek().kind == tokRParen {
		p.next()
		return args, nil
	}
	for {
		a, err := p.expr()
		if err != nil {
			return nil, err
		}
		args = append(args, a)
		switch t := p.next(); t.kind {
		case tokComma:
			continue
		case tokRParen:
			return args, nil
		default:
			return nil, fmt.Errorf("expected , or ) but found %s", t)
		}
	}
}
