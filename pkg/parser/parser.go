// Package parser implements the Ember language parser.
//
// The parser is responsible for converting a stream of tokens (from the
// lexer) into an Abstract Syntax Tree. It performs syntactic analysis to
// ensure the code follows the grammar rules of the Ember language.
//
// Parser Architecture:
//
// The parser uses a recursive descent strategy with Pratt-style operator
// precedence climbing for expressions:
//  1. Each grammar rule corresponds to a parsing function.
//  2. The parser looks ahead one token (via peekTok) to decide what to parse.
//  3. parseExpression takes a minimum binding power and loops consuming
//     infix operators whose precedence is higher than that.
//
// Token Management:
//
// The parser maintains two tokens at all times:
//   - curTok: the current token being examined
//   - peekTok: the next token (one token lookahead)
//
// Error Handling:
//
// The parser accumulates errors in the errors slice rather than stopping at
// the first error, so a single pass can report multiple syntax problems.
package parser

import (
	"fmt"
	"strconv"

	"github.com/emberlang/ember/pkg/ast"
	"github.com/emberlang/ember/pkg/lexer"
)

// operator precedence, lowest to highest.
const (
	_ int = iota
	lowest
	assignPrec
	orPrec
	andPrec
	equalsPrec
	compareLG
	bitOrPrec
	bitXorPrec
	bitAndPrec
	shiftPrec
	sumPrec
	productPrec
	prefixPrec
	callPrec
)

var precedences = map[lexer.TokenType]int{
	lexer.TokenAssign:     assignPrec,
	lexer.TokenOr:         orPrec,
	lexer.TokenAnd:        andPrec,
	lexer.TokenEq:         equalsPrec,
	lexer.TokenNotEq:      equalsPrec,
	lexer.TokenLess:       compareLG,
	lexer.TokenGreater:    compareLG,
	lexer.TokenLessEq:     compareLG,
	lexer.TokenGreaterEq:  compareLG,
	lexer.TokenPipe:       bitOrPrec,
	lexer.TokenCaret:      bitXorPrec,
	lexer.TokenAmp:        bitAndPrec,
	lexer.TokenShl:        shiftPrec,
	lexer.TokenShr:        shiftPrec,
	lexer.TokenPlus:       sumPrec,
	lexer.TokenMinus:      sumPrec,
	lexer.TokenStar:       productPrec,
	lexer.TokenSlash:      productPrec,
	lexer.TokenPercent:    productPrec,
	lexer.TokenLParen:     callPrec,
	lexer.TokenDot:        callPrec,
}

// Parser represents the Ember parser. It is stateful and single-use: create
// a new parser for each source file or code snippet.
type Parser struct {
	l       *lexer.Lexer
	curTok  lexer.Token
	peekTok lexer.Token
	errors  []string
}

// New creates a new parser for the given source code.
func New(input string) *Parser {
	p := &Parser{
		l:      lexer.New(input),
		errors: []string{},
	}
	p.nextToken()
	p.nextToken()
	return p
}

func (p *Parser) nextToken() {
	p.curTok = p.peekTok
	p.peekTok = p.l.NextToken()
}

func (p *Parser) peekPrecedence() int {
	if pr, ok := precedences[p.peekTok.Type]; ok {
		return pr
	}
	return lowest
}

func (p *Parser) expect(tt lexer.TokenType, what string) bool {
	if p.curTok.Type != tt {
		p.addError(fmt.Sprintf("expected %s, got %s", what, p.curTok.Type))
		return false
	}
	return true
}

func (p *Parser) expectPeek(tt lexer.TokenType, what string) bool {
	if p.peekTok.Type != tt {
		p.addError(fmt.Sprintf("expected %s, got %s", what, p.peekTok.Type))
		return false
	}
	p.nextToken()
	return true
}

// Parse parses the source and returns its AST, or an error listing every
// syntax problem found.
func (p *Parser) Parse() (*ast.Program, error) {
	program := &ast.Program{}
	for p.curTok.Type != lexer.TokenEOF {
		stmt := p.parseStatement()
		if stmt != nil {
			program.Statements = append(program.Statements, stmt)
		}
		p.nextToken()
	}
	if len(p.errors) > 0 {
		return program, fmt.Errorf("parser errors: %v", p.errors)
	}
	return program, nil
}

func (p *Parser) parseStatement() ast.Statement {
	switch p.curTok.Type {
	case lexer.TokenLet:
		return p.parseLetStatement()
	case lexer.TokenPrint:
		return p.parsePrintStatement()
	case lexer.TokenReturn:
		return p.parseReturnStatement()
	case lexer.TokenIf:
		return p.parseIfStatement()
	case lexer.TokenWhile:
		return p.parseWhileStatement()
	case lexer.TokenFn:
		return p.parseFunctionStatement()
	case lexer.TokenStruct:
		return p.parseStructStatement()
	case lexer.TokenImpl:
		return p.parseImplStatement()
	case lexer.TokenLBrace:
		return p.parseBlockStatement()
	default:
		return p.parseExpressionStatement()
	}
}

func (p *Parser) parseLetStatement() ast.Statement {
	if !p.expectPeek(lexer.TokenIdentifier, "identifier") {
		return nil
	}
	name := p.curTok.Literal
	if !p.expectPeek(lexer.TokenAssign, "'='") {
		return nil
	}
	p.nextToken()
	value := p.parseExpression(lowest)
	if value == nil {
		return nil
	}
	p.skipSemi()
	return &ast.LetStatement{Name: name, Value: value}
}

func (p *Parser) parsePrintStatement() ast.Statement {
	p.nextToken()
	value := p.parseExpression(lowest)
	if value == nil {
		return nil
	}
	p.skipSemi()
	return &ast.PrintStatement{Value: value}
}

func (p *Parser) parseReturnStatement() ast.Statement {
	if p.peekTok.Type == lexer.TokenSemi {
		p.nextToken()
		return &ast.ReturnStatement{}
	}
	p.nextToken()
	value := p.parseExpression(lowest)
	p.skipSemi()
	return &ast.ReturnStatement{Value: value}
}

func (p *Parser) parseIfStatement() ast.Statement {
	p.nextToken()
	cond := p.parseExpression(lowest)
	if cond == nil {
		return nil
	}
	if !p.expectPeek(lexer.TokenLBrace, "'{'") {
		return nil
	}
	then := p.parseBlockStatement().(*ast.BlockStatement)

	stmt := &ast.IfStatement{Condition: cond, Then: then}
	if p.peekTok.Type == lexer.TokenElse {
		p.nextToken()
		switch p.peekTok.Type {
		case lexer.TokenIf:
			p.nextToken()
			stmt.Else = p.parseIfStatement()
		case lexer.TokenLBrace:
			p.nextToken()
			stmt.Else = p.parseBlockStatement()
		default:
			p.addError("expected '{' or 'if' after else")
		}
	}
	return stmt
}

func (p *Parser) parseWhileStatement() ast.Statement {
	p.nextToken()
	cond := p.parseExpression(lowest)
	if cond == nil {
		return nil
	}
	if !p.expectPeek(lexer.TokenLBrace, "'{'") {
		return nil
	}
	body := p.parseBlockStatement().(*ast.BlockStatement)
	return &ast.WhileStatement{Condition: cond, Body: body}
}

func (p *Parser) parseBlockStatement() ast.Statement {
	// curTok is '{'
	block := &ast.BlockStatement{}
	p.nextToken()
	for p.curTok.Type != lexer.TokenRBrace && p.curTok.Type != lexer.TokenEOF {
		stmt := p.parseStatement()
		if stmt != nil {
			block.Statements = append(block.Statements, stmt)
		}
		p.nextToken()
	}
	if p.curTok.Type != lexer.TokenRBrace {
		p.addError("expected '}' to close block")
	}
	return block
}

func (p *Parser) parseFunctionStatement() *ast.FunctionStatement {
	if !p.expectPeek(lexer.TokenIdentifier, "function name") {
		return nil
	}
	fn := &ast.FunctionStatement{Name: p.curTok.Literal}
	if !p.expectPeek(lexer.TokenLParen, "'('") {
		return nil
	}
	fn.Parameters = p.parseParamList()
	if !p.expectPeek(lexer.TokenLBrace, "'{'") {
		return nil
	}
	fn.Body = p.parseBlockStatement().(*ast.BlockStatement)
	return fn
}

func (p *Parser) parseParamList() []string {
	var params []string
	if p.peekTok.Type == lexer.TokenRParen {
		p.nextToken()
		return params
	}
	p.nextToken()
	params = append(params, p.curTok.Literal)
	for p.peekTok.Type == lexer.TokenComma {
		p.nextToken()
		p.nextToken()
		params = append(params, p.curTok.Literal)
	}
	if !p.expectPeek(lexer.TokenRParen, "')'") {
		return params
	}
	return params
}

func (p *Parser) parseStructStatement() ast.Statement {
	if !p.expectPeek(lexer.TokenIdentifier, "struct name") {
		return nil
	}
	st := &ast.StructStatement{Name: p.curTok.Literal}
	if !p.expectPeek(lexer.TokenLBrace, "'{'") {
		return nil
	}
	p.nextToken()
	for p.curTok.Type != lexer.TokenRBrace && p.curTok.Type != lexer.TokenEOF {
		if p.curTok.Type == lexer.TokenIdentifier {
			st.Properties = append(st.Properties, p.curTok.Literal)
		}
		if p.peekTok.Type == lexer.TokenComma {
			p.nextToken()
		}
		p.nextToken()
	}
	return st
}

func (p *Parser) parseImplStatement() ast.Statement {
	if !p.expectPeek(lexer.TokenIdentifier, "struct name") {
		return nil
	}
	impl := &ast.ImplStatement{StructName: p.curTok.Literal}
	if !p.expectPeek(lexer.TokenLBrace, "'{'") {
		return nil
	}
	p.nextToken()
	for p.curTok.Type != lexer.TokenRBrace && p.curTok.Type != lexer.TokenEOF {
		if p.curTok.Type == lexer.TokenFn {
			if m := p.parseFunctionStatement(); m != nil {
				impl.Methods = append(impl.Methods, m)
			}
		}
		p.nextToken()
	}
	return impl
}

func (p *Parser) parseExpressionStatement() ast.Statement {
	expr := p.parseExpression(lowest)
	if expr == nil {
		return nil
	}
	p.skipSemi()
	return &ast.ExpressionStatement{Expr: expr}
}

func (p *Parser) skipSemi() {
	if p.peekTok.Type == lexer.TokenSemi {
		p.nextToken()
	}
}

// parseExpression implements precedence-climbing: parse a prefix expression,
// then keep consuming infix/postfix operators whose precedence exceeds
// minPrec.
func (p *Parser) parseExpression(minPrec int) ast.Expression {
	left := p.parsePrefix()
	if left == nil {
		return nil
	}

	for p.peekTok.Type != lexer.TokenSemi && minPrec < p.peekPrecedence() {
		switch p.peekTok.Type {
		case lexer.TokenDot:
			p.nextToken()
			left = p.parseMemberOrMethodCall(left)
		case lexer.TokenLParen:
			p.nextToken()
			left = p.parseCall(left)
		case lexer.TokenAssign:
			p.nextToken()
			left = p.parseAssign(left)
		default:
			p.nextToken()
			left = p.parseInfix(left)
		}
	}
	return left
}

func (p *Parser) parsePrefix() ast.Expression {
	switch p.curTok.Type {
	case lexer.TokenNumber:
		return p.parseNumberLiteral()
	case lexer.TokenString:
		return &ast.StringLiteral{Value: p.curTok.Literal}
	case lexer.TokenTrue:
		return &ast.BooleanLiteral{Value: true}
	case lexer.TokenFalse:
		return &ast.BooleanLiteral{Value: false}
	case lexer.TokenNull:
		return &ast.NullLiteral{}
	case lexer.TokenIdentifier:
		return p.parseIdentifierOrStructLiteral()
	case lexer.TokenLParen:
		p.nextToken()
		expr := p.parseExpression(lowest)
		if !p.expectPeek(lexer.TokenRParen, "')'") {
			return nil
		}
		return expr
	case lexer.TokenMinus, lexer.TokenBang, lexer.TokenTilde, lexer.TokenAmp, lexer.TokenStar:
		op := p.curTok.Literal
		p.nextToken()
		operand := p.parseExpression(prefixPrec)
		if operand == nil {
			return nil
		}
		return &ast.UnaryExpr{Operator: op, Operand: operand}
	default:
		p.addError(fmt.Sprintf("unexpected token: %s", p.curTok.Type))
		return nil
	}
}

func (p *Parser) parseIdentifierOrStructLiteral() ast.Expression {
	name := p.curTok.Literal
	if p.peekTok.Type == lexer.TokenLBrace {
		p.nextToken()
		return p.parseStructLiteral(name)
	}
	return &ast.Identifier{Name: name}
}

func (p *Parser) parseStructLiteral(name string) ast.Expression {
	lit := &ast.StructLiteral{Blueprint: name}
	p.nextToken() // consume '{'
	for p.curTok.Type != lexer.TokenRBrace && p.curTok.Type != lexer.TokenEOF {
		if !p.expect(lexer.TokenIdentifier, "field name") {
			return nil
		}
		fname := p.curTok.Literal
		if !p.expectPeek(lexer.TokenColon, "':'") {
			return nil
		}
		p.nextToken()
		val := p.parseExpression(lowest)
		lit.Fields = append(lit.Fields, ast.StructFieldInit{Name: fname, Value: val})
		if p.peekTok.Type == lexer.TokenComma {
			p.nextToken()
		}
		p.nextToken()
	}
	return lit
}

func (p *Parser) parseNumberLiteral() ast.Expression {
	value, err := strconv.ParseFloat(p.curTok.Literal, 64)
	if err != nil {
		p.addError(fmt.Sprintf("could not parse %q as number", p.curTok.Literal))
		return nil
	}
	return &ast.NumberLiteral{Value: value}
}

func (p *Parser) parseInfix(left ast.Expression) ast.Expression {
	op := p.curTok.Literal
	prec := precedences[p.curTok.Type]
	p.nextToken()
	right := p.parseExpression(prec)
	if right == nil {
		return nil
	}
	return &ast.BinaryExpr{Operator: op, Left: left, Right: right}
}

func (p *Parser) parseAssign(target ast.Expression) ast.Expression {
	p.nextToken()
	value := p.parseExpression(lowest)
	if value == nil {
		return nil
	}
	return &ast.AssignExpr{Target: target, Value: value}
}

func (p *Parser) parseCall(callee ast.Expression) ast.Expression {
	call := &ast.CallExpr{Callee: callee}
	call.Args = p.parseArgList()
	return call
}

func (p *Parser) parseArgList() []ast.Expression {
	var args []ast.Expression
	if p.peekTok.Type == lexer.TokenRParen {
		p.nextToken()
		return args
	}
	p.nextToken()
	args = append(args, p.parseExpression(lowest))
	for p.peekTok.Type == lexer.TokenComma {
		p.nextToken()
		p.nextToken()
		args = append(args, p.parseExpression(lowest))
	}
	if !p.expectPeek(lexer.TokenRParen, "')'") {
		return args
	}
	return args
}

// parseMemberOrMethodCall parses a single `.field` or `.method(...)` step;
// the caller's precedence loop repeatedly folds these into a chain.
func (p *Parser) parseMemberOrMethodCall(object ast.Expression) ast.Expression {
	if !p.expectPeek(lexer.TokenIdentifier, "field or method name") {
		return nil
	}
	name := p.curTok.Literal
	if p.peekTok.Type == lexer.TokenLParen {
		p.nextToken()
		call := &ast.MethodCallExpr{Receiver: object, Method: name}
		call.Args = p.parseArgList()
		return call
	}
	return &ast.MemberExpr{Object: object, Field: name}
}

func (p *Parser) addError(msg string) {
	p.errors = append(p.errors, msg)
}

// Errors returns the list of accumulated parsing errors.
func (p *Parser) Errors() []string {
	return p.errors
}
