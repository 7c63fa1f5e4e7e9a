package parser

import (
	"github.com/opal-lang/scriptengine/ast"
	"github.com/opal-lang/scriptengine/frontend/token"
)

func (p *Parser) parseClassDeclaration() ast.Statement {
	start := p.cur
	p.next() // 'class'
	name := ""
	if p.at(token.IDENT) {
		name = p.cur.Value
		p.next()
	}
	superClass, body := p.parseClassTail()
	return &ast.ClassDeclaration{Span: p.span(start), Name: name, SuperClass: superClass, Body: body}
}

func (p *Parser) parseClassExpression() ast.Expression {
	start := p.cur
	p.next() // 'class'
	name := ""
	if p.at(token.IDENT) {
		name = p.cur.Value
		p.next()
	}
	superClass, body := p.parseClassTail()
	return &ast.ClassExpression{Span: p.span(start), Name: name, SuperClass: superClass, Body: body}
}

func (p *Parser) parseClassTail() (ast.Expression, []ast.ClassMember) {
	var superClass ast.Expression
	if p.at(token.KW_EXTENDS) {
		p.next()
		superClass = p.parseCallMemberChain()
	}
	body := p.parseClassBody()
	return superClass, body
}

func (p *Parser) parseClassBody() []ast.ClassMember {
	p.expect(token.LBRACE)
	var members []ast.ClassMember
	for !p.at(token.RBRACE) && !p.at(token.EOF) {
		if p.at(token.SEMICOLON) {
			p.next()
			continue
		}
		members = append(members, p.parseClassMember())
	}
	p.expect(token.RBRACE)
	return members
}

func (p *Parser) parseClassMember() ast.ClassMember {
	start := p.cur

	static := false
	if p.at(token.KW_STATIC) && !isPropertyTerminator(p.peek.Kind) {
		if p.peekAt(token.LBRACE) {
			p.next()
			body := p.parseBlock()
			return &ast.StaticBlock{Span: p.span(start), Body: body.Body}
		}
		static = true
		p.next()
	}

	async := false
	if p.at(token.KW_ASYNC) && !isPropertyTerminator(p.peek.Kind) {
		async = true
		p.next()
	}
	generator := false
	if p.at(token.STAR) {
		generator = true
		p.next()
	}
	kind := ast.MethodKindMethod
	if (p.at(token.KW_GET) || p.at(token.KW_SET)) && !isPropertyTerminator(p.peek.Kind) {
		if p.at(token.KW_GET) {
			kind = ast.MethodKindGet
		} else {
			kind = ast.MethodKindSet
		}
		p.next()
	}

	computed := false
	private := false
	var key ast.Expression
	switch {
	case p.at(token.LBRACKET):
		computed = true
		p.next()
		key = p.parseAssignmentExpression()
		p.expect(token.RBRACKET)
	case p.at(token.PRIVATE_NAME):
		private = true
		key = &ast.PrivateName{Span: p.tokSpan(p.cur), Name: p.cur.Value}
		p.next()
	case p.at(token.STRING):
		key = &ast.StringLiteral{Span: p.tokSpan(p.cur), Value: p.cur.Value}
		p.next()
	default:
		keyTok := p.cur
		name := keyTok.Value
		key = &ast.Identifier{Span: p.tokSpan(keyTok), Name: name}
		p.next()
		if kind == ast.MethodKindMethod && name == "constructor" && !static {
			kind = ast.MethodKindConstructor
		}
	}

	if p.at(token.LPAREN) {
		fn := p.finishMethodValue(generator, async)
		return &ast.MethodDefinition{Span: p.span(start), Kind: kind, Static: static, Computed: computed, Private: private, Key: key, Value: fn}
	}

	var value ast.Expression
	if p.at(token.ASSIGN) {
		p.next()
		value = p.parseAssignmentExpression()
	}
	p.consumeSemicolon()
	return &ast.PropertyDefinition{Span: p.span(start), Static: static, Computed: computed, Private: private, Key: key, Value: value}
}
