package fhirpath

import (
	"fmt"
	"strconv"
	"strings"
)

// Operator precedence, higher binds tighter. A left-associative infix
// operator registered at precedence p parses its right operand with p as
// the ceiling.
const (
	precImplies = iota + 1
	precOr
	precAnd
	precMembership
	precEquality
	precComparison
	precUnion
	precTypeOps
	precAdditive
	precMultiplicative
	precUnary
	precIndexer
	precDot
)

type prefixParselet func(p *Parser, tok Token) (*Node, error)

type infixParselet struct {
	precedence int
	parse      func(p *Parser, left *Node, tok Token) (*Node, error)
}

// parseletKey addresses a parselet table entry. Symbol and Identifier
// tokens are looked up by value (falling back to the bare id for
// identifiers); all other tokens by id alone.
type parseletKey struct {
	id    TokenID
	value string
}

// ParserBuilder assembles the prefix and infix parselet tables once; the
// resulting tables are shared by every Parser instance.
type ParserBuilder struct {
	prefix map[parseletKey]prefixParselet
	infix  map[parseletKey]infixParselet
}

func (b *ParserBuilder) registerPrefix(id TokenID, value string, fn prefixParselet) {
	b.prefix[parseletKey{id, value}] = fn
}

func (b *ParserBuilder) registerInfix(id TokenID, value string, precedence int,
	fn func(p *Parser, left *Node, tok Token) (*Node, error)) {
	b.infix[parseletKey{id, value}] = infixParselet{precedence: precedence, parse: fn}
}

// registerBinary registers a left-associative binary operator.
func (b *ParserBuilder) registerBinary(id TokenID, value string, precedence int) {
	b.registerInfix(id, value, precedence, func(p *Parser, left *Node, tok Token) (*Node, error) {
		right, err := p.parseExpression(precedence)
		if err != nil {
			return nil, err
		}
		return &Node{Kind: NodeBinary, Operator: tok.Value, Left: left, Right: right}, nil
	})
}

var defaultTables = buildTables()

func buildTables() *ParserBuilder {
	b := &ParserBuilder{
		prefix: make(map[parseletKey]prefixParselet),
		infix:  make(map[parseletKey]infixParselet),
	}

	b.registerPrefix(TokenNumber, "", parseNumber)
	b.registerPrefix(TokenString, "", parseString)
	b.registerPrefix(TokenDateTime, "", parseDateTime)
	b.registerPrefix(TokenIdentifier, "", parseIdentifier)
	b.registerPrefix(TokenIdentifier, "true", parseBool)
	b.registerPrefix(TokenIdentifier, "false", parseBool)
	b.registerPrefix(TokenSymbol, "(", parseGroup)
	b.registerPrefix(TokenSymbol, "-", parseUnary)
	b.registerPrefix(TokenSymbol, "+", parseUnary)
	b.registerPrefix(TokenSymbol, "{", parseEmptySet)

	b.registerInfix(TokenSymbol, ".", precDot, parseDot)
	b.registerInfix(TokenSymbol, "[", precIndexer, parseIndexer)

	b.registerBinary(TokenSymbol, "*", precMultiplicative)
	b.registerBinary(TokenSymbol, "/", precMultiplicative)
	b.registerBinary(TokenIdentifier, "div", precMultiplicative)
	b.registerBinary(TokenIdentifier, "mod", precMultiplicative)
	b.registerBinary(TokenSymbol, "+", precAdditive)
	b.registerBinary(TokenSymbol, "-", precAdditive)
	b.registerBinary(TokenSymbol, "&", precAdditive)
	b.registerBinary(TokenSymbol, "|", precUnion)
	b.registerBinary(TokenIdentifier, "is", precTypeOps)
	b.registerBinary(TokenIdentifier, "as", precTypeOps)
	b.registerBinary(TokenSymbol, "=", precEquality)
	b.registerBinary(TokenSymbol, "!=", precEquality)
	b.registerBinary(TokenSymbol, "~", precEquality)
	b.registerBinary(TokenSymbol, "!~", precEquality)
	b.registerBinary(TokenSymbol, "<", precComparison)
	b.registerBinary(TokenSymbol, ">", precComparison)
	b.registerBinary(TokenSymbol, "<=", precComparison)
	b.registerBinary(TokenSymbol, ">=", precComparison)
	b.registerBinary(TokenIdentifier, "in", precMembership)
	b.registerBinary(TokenIdentifier, "contains", precMembership)
	b.registerBinary(TokenIdentifier, "and", precAnd)
	b.registerBinary(TokenIdentifier, "or", precOr)
	b.registerBinary(TokenIdentifier, "xor", precOr)
	b.registerBinary(TokenIdentifier, "implies", precImplies)

	return b
}

// Parser is a Pratt (top-down operator precedence) parser over a token
// stream with comments already filtered out.
type Parser struct {
	tokens []Token
	pos    int
	tables *ParserBuilder
}

// parse tokenizes and parses an expression into an AST. Use Parse for the
// cached entry point.
func parse(expression string) (*Node, error) {
	raw, err := Tokenize(expression)
	if err != nil {
		return nil, err
	}
	tokens := raw[:0:0]
	for _, t := range raw {
		if t.ID != TokenComment {
			tokens = append(tokens, t)
		}
	}
	p := &Parser{tokens: tokens, tables: defaultTables}
	node, err := p.parseExpression(0)
	if err != nil {
		return nil, err
	}
	if p.pos < len(p.tokens) {
		tok := p.tokens[p.pos]
		return nil, fmt.Errorf("unexpected token %q at line %d, column %d", tok.Value, tok.Line, tok.Column)
	}
	return node, nil
}

func (p *Parser) peek() (Token, bool) {
	if p.pos < len(p.tokens) {
		return p.tokens[p.pos], true
	}
	return Token{ID: TokenEOF}, false
}

func (p *Parser) advance() Token {
	tok, _ := p.peek()
	if p.pos < len(p.tokens) {
		p.pos++
	}
	return tok
}

func (p *Parser) expectSymbol(value string) error {
	tok := p.advance()
	if tok.ID != TokenSymbol || tok.Value != value {
		return fmt.Errorf("expected %q but found %q at line %d, column %d", value, tok.Value, tok.Line, tok.Column)
	}
	return nil
}

func (p *Parser) prefixFor(tok Token) prefixParselet {
	if tok.ID == TokenSymbol {
		return p.tables.prefix[parseletKey{tok.ID, tok.Value}]
	}
	if fn, ok := p.tables.prefix[parseletKey{tok.ID, tok.Value}]; ok {
		return fn
	}
	return p.tables.prefix[parseletKey{tok.ID, ""}]
}

func (p *Parser) infixFor(tok Token) (infixParselet, bool) {
	if tok.ID == TokenSymbol {
		in, ok := p.tables.infix[parseletKey{tok.ID, tok.Value}]
		return in, ok
	}
	if in, ok := p.tables.infix[parseletKey{tok.ID, tok.Value}]; ok {
		return in, ok
	}
	in, ok := p.tables.infix[parseletKey{tok.ID, ""}]
	return in, ok
}

func (p *Parser) parseExpression(precedence int) (*Node, error) {
	tok := p.advance()
	if tok.ID == TokenEOF {
		return nil, fmt.Errorf("unexpected end of expression")
	}
	prefix := p.prefixFor(tok)
	if prefix == nil {
		return nil, fmt.Errorf("unexpected token %q at line %d, column %d", tok.Value, tok.Line, tok.Column)
	}
	left, err := prefix(p, tok)
	if err != nil {
		return nil, err
	}

	for {
		next, ok := p.peek()
		if !ok {
			break
		}
		infix, found := p.infixFor(next)
		if !found || infix.precedence <= precedence {
			break
		}
		p.advance()
		left, err = infix.parse(p, left, next)
		if err != nil {
			return nil, err
		}
	}
	return left, nil
}

// ============================================================================
// Prefix parselets
// ============================================================================

func parseNumber(_ *Parser, tok Token) (*Node, error) {
	if strings.Contains(tok.Value, ".") {
		f, err := strconv.ParseFloat(tok.Value, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid decimal %q at line %d, column %d", tok.Value, tok.Line, tok.Column)
		}
		return &Node{Kind: NodeLiteral, Literal: &TypedValue{Type: "decimal", Value: f}}, nil
	}
	i, err := strconv.ParseInt(tok.Value, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid integer %q at line %d, column %d", tok.Value, tok.Line, tok.Column)
	}
	return &Node{Kind: NodeLiteral, Literal: &TypedValue{Type: "integer", Value: i}}, nil
}

func parseString(_ *Parser, tok Token) (*Node, error) {
	return &Node{Kind: NodeLiteral, Literal: &TypedValue{Type: "string", Value: tok.Value}}, nil
}

func parseDateTime(_ *Parser, tok Token) (*Node, error) {
	return &Node{Kind: NodeLiteral, Literal: &TypedValue{Type: "dateTime", Value: tok.Value}}, nil
}

func parseBool(_ *Parser, tok Token) (*Node, error) {
	return &Node{Kind: NodeLiteral, Literal: &TypedValue{Type: "boolean", Value: tok.Value == "true"}}, nil
}

func parseIdentifier(p *Parser, tok Token) (*Node, error) {
	// Bare function call: name(args...)
	if next, ok := p.peek(); ok && next.ID == TokenSymbol && next.Value == "(" {
		p.advance()
		args, err := p.parseArgList()
		if err != nil {
			return nil, err
		}
		return &Node{Kind: NodeFunction, Name: tok.Value, Args: args}, nil
	}
	return &Node{Kind: NodePath, Name: tok.Value}, nil
}

func parseGroup(p *Parser, _ Token) (*Node, error) {
	inner, err := p.parseExpression(0)
	if err != nil {
		return nil, err
	}
	if err := p.expectSymbol(")"); err != nil {
		return nil, err
	}
	return inner, nil
}

func parseUnary(p *Parser, tok Token) (*Node, error) {
	right, err := p.parseExpression(precUnary)
	if err != nil {
		return nil, err
	}
	return &Node{Kind: NodeUnary, Operator: tok.Value, Right: right}, nil
}

func parseEmptySet(p *Parser, tok Token) (*Node, error) {
	if err := p.expectSymbol("}"); err != nil {
		return nil, fmt.Errorf("expected '}' after '{' at line %d, column %d", tok.Line, tok.Column)
	}
	return &Node{Kind: NodeLiteral}, nil
}

// ============================================================================
// Infix parselets
// ============================================================================

func parseDot(p *Parser, left *Node, tok Token) (*Node, error) {
	ident := p.advance()
	if ident.ID != TokenIdentifier {
		return nil, fmt.Errorf("expected identifier after '.' at line %d, column %d", tok.Line, tok.Column)
	}
	if next, ok := p.peek(); ok && next.ID == TokenSymbol && next.Value == "(" {
		p.advance()
		args, err := p.parseArgList()
		if err != nil {
			return nil, err
		}
		return &Node{Kind: NodeFunction, Name: ident.Value, Left: left, Args: args}, nil
	}
	right := &Node{Kind: NodePath, Name: ident.Value}
	return &Node{Kind: NodeDot, Left: left, Right: right}, nil
}

func parseIndexer(p *Parser, left *Node, _ Token) (*Node, error) {
	index, err := p.parseExpression(0)
	if err != nil {
		return nil, err
	}
	if err := p.expectSymbol("]"); err != nil {
		return nil, err
	}
	return &Node{Kind: NodeIndexer, Left: left, Right: index}, nil
}

func (p *Parser) parseArgList() ([]*Node, error) {
	var args []*Node
	if next, ok := p.peek(); ok && next.ID == TokenSymbol && next.Value == ")" {
		p.advance()
		return args, nil
	}
	for {
		arg, err := p.parseExpression(0)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		next, ok := p.peek()
		if !ok {
			return nil, fmt.Errorf("unterminated argument list")
		}
		if next.ID == TokenSymbol && next.Value == "," {
			p.advance()
			continue
		}
		break
	}
	if err := p.expectSymbol(")"); err != nil {
		return nil, err
	}
	return args, nil
}
