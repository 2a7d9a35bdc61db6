package parser

import (
	"fmt"

	"github.com/robertoaraneda/gofhir/pkg/fhirpath/lexer"
)

// maxDepth bounds recursive descent to guard against pathological input.
const maxDepth = 250

// Error reports a parse failure with source position context.
type Error struct {
	Line, Column int
	Msg          string
}

func (e *Error) Error() string {
	return fmt.Sprintf("fhirpath: parse error at %d:%d: %s", e.Line, e.Column, e.Msg)
}

var calendarDurationUnits = map[string]bool{
	"year": true, "years": true, "month": true, "months": true,
	"week": true, "weeks": true, "day": true, "days": true,
	"hour": true, "hours": true, "minute": true, "minutes": true,
	"second": true, "seconds": true, "millisecond": true, "milliseconds": true,
}

type parser struct {
	tokens []lexer.Token
	pos    int
	depth  int
}

// Parse lexes and parses a FHIRPath expression string into an AST.
func Parse(src string) (Node, error) {
	toks, err := lexer.New(src).Tokenize()
	if err != nil {
		return nil, err
	}
	return ParseTokens(toks)
}

// ParseTokens parses a pre-lexed token stream into an AST.
func ParseTokens(toks []lexer.Token) (Node, error) {
	p := &parser{tokens: toks}
	expr, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if !p.atEOF() {
		tok := p.cur()
		return nil, &Error{tok.Line, tok.Column, fmt.Sprintf("unexpected token %q", tok.Text)}
	}
	return expr, nil
}

func (p *parser) cur() lexer.Token  { return p.tokens[p.pos] }
func (p *parser) atEOF() bool       { return p.cur().Kind == lexer.EOF }
func (p *parser) advance() lexer.Token {
	t := p.cur()
	if p.pos < len(p.tokens)-1 {
		p.pos++
	}
	return t
}

func (p *parser) isOp(text string) bool {
	t := p.cur()
	return t.Kind == lexer.Operator && t.Text == text
}

func (p *parser) isKeyword(text string) bool {
	t := p.cur()
	return t.Kind == lexer.Keyword && t.Text == text
}

func (p *parser) expectOp(text string) error {
	if !p.isOp(text) {
		t := p.cur()
		return &Error{t.Line, t.Column, fmt.Sprintf("expected %q, got %q", text, t.Text)}
	}
	p.advance()
	return nil
}

func (p *parser) enter() error {
	p.depth++
	if p.depth > maxDepth {
		t := p.cur()
		return &Error{t.Line, t.Column, "expression nesting too deep"}
	}
	return nil
}

func (p *parser) leave() { p.depth-- }

// --- precedence chain, low to high ---
// implies < or/xor < and < in/contains < is/as < =,~,!=,!~ < <=,<,>=,> < | < +,-,& < *,/,div,mod < unary < postfix < term

func (p *parser) parseExpression() (Node, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()
	return p.parseImplies()
}

func (p *parser) parseImplies() (Node, error) {
	left, err := p.parseOrXor()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("implies") {
		p.advance()
		right, err := p.parseOrXor()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: "implies", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseOrXor() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("or") || p.isKeyword("xor") {
		op := p.advance().Text
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Node, error) {
	left, err := p.parseMembership()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("and") {
		p.advance()
		right, err := p.parseMembership()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: "and", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseMembership() (Node, error) {
	left, err := p.parseIsAs()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("in") || p.isKeyword("contains") {
		op := p.advance().Text
		right, err := p.parseIsAs()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseIsAs() (Node, error) {
	left, err := p.parseEquality()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("is") || p.isKeyword("as") {
		op := p.advance().Text
		typeName, err := p.parseTypeSpecifier()
		if err != nil {
			return nil, err
		}
		left = &TypeExpr{Op: op, Operand: left, Type: typeName}
	}
	return left, nil
}

func (p *parser) parseTypeSpecifier() (string, error) {
	t := p.cur()
	if t.Kind != lexer.Identifier {
		return "", &Error{t.Line, t.Column, "expected type specifier"}
	}
	name := p.advance().Text
	for p.isOp(".") {
		// only fuse into a qualified name when the next token is itself an
		// identifier (a namespace qualifier), not a further invocation.
		if p.tokens[p.pos+1].Kind != lexer.Identifier {
			break
		}
		p.advance()
		name += "." + p.advance().Text
	}
	return name, nil
}

func (p *parser) parseEquality() (Node, error) {
	left, err := p.parseInequality()
	if err != nil {
		return nil, err
	}
	for p.isOp("=") || p.isOp("~") || p.isOp("!=") || p.isOp("!~") {
		op := p.advance().Text
		right, err := p.parseInequality()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseInequality() (Node, error) {
	left, err := p.parseUnion()
	if err != nil {
		return nil, err
	}
	for p.isOp("<=") || p.isOp("<") || p.isOp(">=") || p.isOp(">") {
		op := p.advance().Text
		right, err := p.parseUnion()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseUnion() (Node, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for p.isOp("|") {
		p.advance()
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: "|", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAdditive() (Node, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.isOp("+") || p.isOp("-") || p.isOp("&") {
		op := p.advance().Text
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseMultiplicative() (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.isOp("*") || p.isOp("/") || p.isKeyword("div") || p.isKeyword("mod") {
		op := p.advance().Text
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op, Left: left, Right: right}
	}
	return left, nil
}

// parseUnary implements the polarity-fusion calibration described in the
// engine design: a `+`/`-` immediately adjacent to a numeric literal fuses
// into a signed literal that then participates in postfix invocation, so
// `-1.power(2)` parses as `(-1).power(2)`.
func (p *parser) parseUnary() (Node, error) {
	if p.isOp("+") || p.isOp("-") {
		sign := p.cur().Text[0]
		if p.tokens[p.pos+1].Kind == lexer.Number {
			p.advance()
			numTok := p.advance()
			lit := numberLiteralFromToken(numTok)
			if sign == '-' {
				lit.Text = "-" + lit.Text
			}
			node, err := p.parsePostfixFrom(Node(&lit))
			if err != nil {
				return nil, err
			}
			return node, nil
		}
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Polarity{Sign: sign, Operand: operand}, nil
	}
	return p.parsePostfix()
}

func numberLiteralFromToken(t lexer.Token) NumberLiteral {
	text := t.Text
	isLong := false
	if len(text) > 0 && text[len(text)-1] == 'L' {
		isLong = true
		text = text[:len(text)-1]
	}
	return NumberLiteral{Text: text, IsLong: isLong}
}

func (p *parser) parsePostfix() (Node, error) {
	term, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	return p.parsePostfixFrom(term)
}

func (p *parser) parsePostfixFrom(term Node) (Node, error) {
	for {
		switch {
		case p.isOp("."):
			p.advance()
			member, err := p.parseMemberOrFunction()
			if err != nil {
				return nil, err
			}
			term = &Invocation{Target: term, Member: member}
		case p.isOp("["):
			p.advance()
			idx, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			if err := p.expectOp("]"); err != nil {
				return nil, err
			}
			term = &Indexer{Target: term, Index: idx}
		default:
			return term, nil
		}
	}
}

func (p *parser) parseMemberOrFunction() (Node, error) {
	t := p.cur()
	var name string
	switch t.Kind {
	case lexer.Identifier, lexer.DelimitedIdentifier:
		name = p.advance().Text
	case lexer.Keyword:
		// keywords like `as`, `is`, `div` may also appear as plain function
		// names (`as(...)`, `is(...)`) when immediately followed by `(`.
		name = p.advance().Text
	default:
		return nil, &Error{t.Line, t.Column, fmt.Sprintf("expected member name, got %q", t.Text)}
	}
	if p.isOp("(") {
		return p.parseFunctionArgs(name)
	}
	return &MemberInvocation{Name: name}, nil
}

func (p *parser) parseFunctionArgs(name string) (Node, error) {
	p.advance() // '('
	var args []Node
	if !p.isOp(")") {
		for {
			arg, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.isOp(",") {
				p.advance()
				continue
			}
			break
		}
	}
	if err := p.expectOp(")"); err != nil {
		return nil, err
	}
	return &FunctionInvocation{Name: name, Args: args}, nil
}

func (p *parser) parseTerm() (Node, error) {
	t := p.cur()
	switch {
	case t.Kind == lexer.Operator && t.Text == "(":
		p.advance()
		expr, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if err := p.expectOp(")"); err != nil {
			return nil, err
		}
		return expr, nil
	case t.Kind == lexer.Operator && t.Text == "{":
		p.advance()
		if p.isOp("}") {
			p.advance()
			return &NullLiteral{}, nil
		}
		var elems []Node
		for {
			e, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			elems = append(elems, e)
			if p.isOp(",") {
				p.advance()
				continue
			}
			break
		}
		if err := p.expectOp("}"); err != nil {
			return nil, err
		}
		return &CollectionLiteral{Elements: elems}, nil
	case t.Kind == lexer.Operator && t.Text == "$":
		p.advance()
		name := p.cur()
		if name.Kind != lexer.Identifier {
			return nil, &Error{name.Line, name.Column, "expected $this, $index or $total"}
		}
		p.advance()
		switch name.Text {
		case "this":
			return &ThisInvocation{}, nil
		case "index":
			return &IndexInvocation{}, nil
		case "total":
			return &TotalInvocation{}, nil
		default:
			return nil, &Error{name.Line, name.Column, fmt.Sprintf("unknown special variable $%s", name.Text)}
		}
	case t.Kind == lexer.ExternalConstant:
		p.advance()
		return &ExternalConstant{Name: t.Text}, nil
	case t.Kind == lexer.Keyword && (t.Text == "true" || t.Text == "false"):
		p.advance()
		return &BoolLiteral{Value: t.Text == "true"}, nil
	case t.Kind == lexer.String:
		p.advance()
		return &StringLiteral{Value: t.Text}, nil
	case t.Kind == lexer.Number:
		p.advance()
		lit := numberLiteralFromToken(t)
		if unit, ok := p.tryConsumeUnit(); ok {
			return &QuantityLiteral{Number: lit, Unit: unit}, nil
		}
		return &lit, nil
	case t.Kind == lexer.Date:
		p.advance()
		return &DateLiteral{Text: stripAt(t.Text)}, nil
	case t.Kind == lexer.DateTime:
		p.advance()
		return &DateTimeLiteral{Text: stripAt(t.Text)}, nil
	case t.Kind == lexer.Time:
		p.advance()
		return &TimeLiteral{Text: stripAt(t.Text)}, nil
	case t.Kind == lexer.Identifier, t.Kind == lexer.DelimitedIdentifier:
		return p.parseMemberOrFunction()
	default:
		return nil, &Error{t.Line, t.Column, fmt.Sprintf("unexpected token %q", t.Text)}
	}
}

// tryConsumeUnit consumes a quantity unit (quoted UCUM string, or a bare
// calendar-duration keyword like `days`) immediately following a number.
func (p *parser) tryConsumeUnit() (string, bool) {
	t := p.cur()
	if t.Kind == lexer.String {
		p.advance()
		return t.Text, true
	}
	if t.Kind == lexer.Identifier && calendarDurationUnits[t.Text] {
		p.advance()
		return t.Text, true
	}
	return "", false
}

func stripAt(s string) string {
	if len(s) > 0 && s[0] == '@' {
		return s[1:]
	}
	return s
}
