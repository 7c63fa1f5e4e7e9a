// Package parser implements a recursive-descent / Pratt parser that
// turns frontend/lexer's token stream into ast.Program. Its structure —
// a Parser holding cur/peek tokens plus an accumulated error list — is
// adapted from runtime/parser in the teacher; errors are built by
// errorf as internal/engineerr values.
package parser

import (
	"log/slog"

	"github.com/opal-lang/scriptengine/ast"
	"github.com/opal-lang/scriptengine/frontend/lexer"
	"github.com/opal-lang/scriptengine/frontend/token"
	"github.com/opal-lang/scriptengine/internal/engineerr"
)

type Parser struct {
	input  string
	lex    *lexer.Lexer
	logger *slog.Logger

	cur  token.Token
	peek token.Token

	// noIn suppresses treating the "in" keyword as a relational operator
	// while parsing a for-loop's init expression, so `for (x in y)` can
	// be told apart from `for (x; x in y; x++)`.
	noIn bool

	errors []*engineerr.Error
}

type Option func(*Parser)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Parser) { p.logger = logger }
}

func New(input string, opts ...Option) *Parser {
	p := &Parser{input: input, lex: lexer.New(input), logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	p.next()
	p.next()
	return p
}

func (p *Parser) next() {
	p.cur = p.peek
	p.peek = p.lex.Next()
}

func (p *Parser) at(k token.Kind) bool  { return p.cur.Kind == k }
func (p *Parser) peekAt(k token.Kind) bool { return p.peek.Kind == k }

func (p *Parser) span(start token.Token) ast.Span {
	return ast.Span{
		Start: ast.Position{Line: start.Line, Column: start.Column, Offset: start.Offset},
		End:   ast.Position{Line: p.cur.EndLine, Column: p.cur.EndColumn, Offset: p.cur.Offset},
	}
}

func (p *Parser) tokSpan(t token.Token) ast.Span {
	return ast.Span{
		Start: ast.Position{Line: t.Line, Column: t.Column, Offset: t.Offset},
		End:   ast.Position{Line: t.EndLine, Column: t.EndColumn, Offset: t.Offset + len(t.Value)},
	}
}

// Errors returns every error accumulated while parsing.
func (p *Parser) Errors() []*engineerr.Error { return p.errors }

func (p *Parser) errorf(kind engineerr.Kind, format string, args ...any) {
	e := engineerr.New(kind, p.tokSpan(p.cur), format, args...).WithSource(p.input)
	p.errors = append(p.errors, e)
}

func (p *Parser) expect(k token.Kind) token.Token {
	if !p.at(k) {
		p.errorf(engineerr.KindSyntax, "expected %s, got %s", k, p.cur.Kind)
		t := p.cur
		return t
	}
	t := p.cur
	p.next()
	return t
}

func (p *Parser) consumeSemicolon() {
	if p.at(token.SEMICOLON) {
		p.next()
	}
	// Automatic semicolon insertion: a newline, '}', or EOF also ends a
	// statement. We don't track newlines precisely in this lexer, so we
	// simply don't require the semicolon when absent.
}

// ParseProgram parses a whole source file into an ast.Program.
func ParseProgram(source string, opts ...Option) (*ast.Program, []*engineerr.Error) {
	p := New(source, opts...)
	start := p.cur
	var body []ast.Statement
	for !p.at(token.EOF) {
		stmt := p.parseStatement()
		if stmt != nil {
			body = append(body, stmt)
		}
	}
	prog := &ast.Program{Body: body}
	prog.Span = p.span(start)
	return prog, p.errors
}

func (p *Parser) parseStatement() ast.Statement {
	switch p.cur.Kind {
	case token.LBRACE:
		return p.parseBlock()
	case token.SEMICOLON:
		start := p.cur
		p.next()
		return &ast.EmptyStatement{Span: p.tokSpan(start)}
	case token.KW_VAR, token.KW_LET, token.KW_CONST:
		stmt := p.parseVarDeclaration()
		p.consumeSemicolon()
		return stmt
	case token.KW_FUNCTION:
		return p.parseFunctionDeclaration(false)
	case token.KW_ASYNC:
		if p.peekAt(token.KW_FUNCTION) {
			p.next()
			return p.parseFunctionDeclaration(true)
		}
	case token.KW_CLASS:
		return p.parseClassDeclaration()
	case token.KW_IF:
		return p.parseIf()
	case token.KW_FOR:
		return p.parseFor()
	case token.KW_WHILE:
		return p.parseWhile()
	case token.KW_DO:
		return p.parseDoWhile()
	case token.KW_SWITCH:
		return p.parseSwitch()
	case token.KW_BREAK:
		return p.parseBreak()
	case token.KW_CONTINUE:
		return p.parseContinue()
	case token.KW_RETURN:
		return p.parseReturn()
	case token.KW_THROW:
		return p.parseThrow()
	case token.KW_TRY:
		return p.parseTry()
	case token.IDENT:
		if p.peekAt(token.COLON) {
			return p.parseLabeled()
		}
	}
	stmt := p.parseExpressionStatement()
	p.consumeSemicolon()
	return stmt
}

func (p *Parser) parseBlock() *ast.BlockStatement {
	start := p.expect(token.LBRACE)
	var body []ast.Statement
	for !p.at(token.RBRACE) && !p.at(token.EOF) {
		body = append(body, p.parseStatement())
	}
	p.expect(token.RBRACE)
	return &ast.BlockStatement{Span: p.span(start), Body: body}
}

func (p *Parser) parseVarDeclaration() *ast.VarDeclaration {
	start := p.cur
	var kind ast.VarKind
	switch p.cur.Kind {
	case token.KW_VAR:
		kind = ast.VarKindVar
	case token.KW_LET:
		kind = ast.VarKindLet
	case token.KW_CONST:
		kind = ast.VarKindConst
	}
	p.next()

	var decls []ast.VarDeclarator
	for {
		declStart := p.cur
		target := p.parseBindingTarget()
		var init ast.Expression
		if p.at(token.ASSIGN) {
			p.next()
			init = p.parseAssignmentExpression()
		}
		decls = append(decls, ast.VarDeclarator{Span: p.span(declStart), Target: target, Init: init})
		if p.at(token.COMMA) {
			p.next()
			continue
		}
		break
	}
	return &ast.VarDeclaration{Span: p.span(start), Kind: kind, Declarations: decls}
}

func (p *Parser) parseIf() ast.Statement {
	start := p.cur
	p.next()
	p.expect(token.LPAREN)
	test := p.parseExpression()
	p.expect(token.RPAREN)
	cons := p.parseStatement()
	var alt ast.Statement
	if p.at(token.KW_ELSE) {
		p.next()
		alt = p.parseStatement()
	}
	return &ast.IfStatement{Span: p.span(start), Test: test, Consequent: cons, Alternate: alt}
}

func (p *Parser) parseWhile() ast.Statement {
	start := p.cur
	p.next()
	p.expect(token.LPAREN)
	test := p.parseExpression()
	p.expect(token.RPAREN)
	body := p.parseStatement()
	return &ast.WhileStatement{Span: p.span(start), Test: test, Body: body}
}

func (p *Parser) parseDoWhile() ast.Statement {
	start := p.cur
	p.next()
	body := p.parseStatement()
	p.expect(token.KW_WHILE)
	p.expect(token.LPAREN)
	test := p.parseExpression()
	p.expect(token.RPAREN)
	p.consumeSemicolon()
	return &ast.DoWhileStatement{Span: p.span(start), Body: body, Test: test}
}

func (p *Parser) parseFor() ast.Statement {
	start := p.cur
	p.next()
	await := false
	if p.at(token.KW_AWAIT) {
		await = true
		p.next()
	}
	p.expect(token.LPAREN)

	// for (;;) / for (init; test; update)
	if p.at(token.SEMICOLON) {
		p.next()
		return p.finishClassicFor(start, nil)
	}

	var kind ast.VarKind
	hasDecl := false
	switch p.cur.Kind {
	case token.KW_VAR:
		kind, hasDecl = ast.VarKindVar, true
	case token.KW_LET:
		kind, hasDecl = ast.VarKindLet, true
	case token.KW_CONST:
		kind, hasDecl = ast.VarKindConst, true
	}

	if hasDecl {
		p.next()
		target := p.parseBindingTarget()
		if p.at(token.KW_OF) {
			p.next()
			right := p.parseAssignmentExpression()
			p.expect(token.RPAREN)
			body := p.parseStatement()
			return &ast.ForOfStatement{Span: p.span(start), Kind: kind, Left: target, Right: right, Body: body, Await: await}
		}
		if p.at(token.KW_IN) {
			p.next()
			right := p.parseExpression()
			p.expect(token.RPAREN)
			body := p.parseStatement()
			return &ast.ForInStatement{Span: p.span(start), Kind: kind, Left: target, Right: right, Body: body}
		}
		var init ast.Expression
		if p.at(token.ASSIGN) {
			p.next()
			init = p.parseAssignmentExpression()
		}
		decl := &ast.VarDeclaration{Kind: kind, Declarations: []ast.VarDeclarator{{Target: target, Init: init}}}
		decls := decl
		for p.at(token.COMMA) {
			p.next()
			t2 := p.parseBindingTarget()
			var i2 ast.Expression
			if p.at(token.ASSIGN) {
				p.next()
				i2 = p.parseAssignmentExpression()
			}
			decls.Declarations = append(decls.Declarations, ast.VarDeclarator{Target: t2, Init: i2})
		}
		p.expect(token.SEMICOLON)
		return p.finishClassicFor(start, decls)
	}

	// Non-declaration init: either for-in/of over an existing target, or
	// a plain expression init.
	exprStart := p.cur
	p.noIn = true
	expr := p.parseExpression()
	p.noIn = false
	if p.at(token.KW_OF) {
		p.next()
		right := p.parseAssignmentExpression()
		p.expect(token.RPAREN)
		body := p.parseStatement()
		return &ast.ForOfStatement{Span: p.span(start), Left: exprToPattern(expr), Right: right, Body: body, Await: await}
	}
	if p.at(token.KW_IN) {
		p.next()
		right := p.parseExpression()
		p.expect(token.RPAREN)
		body := p.parseStatement()
		return &ast.ForInStatement{Span: p.span(start), Left: exprToPattern(expr), Right: right, Body: body}
	}
	p.expect(token.SEMICOLON)
	initStmt := &ast.ExpressionStatement{Span: p.span(exprStart), Expr: expr}
	return p.finishClassicFor(start, initStmt)
}

func (p *Parser) finishClassicFor(start token.Token, init ast.Statement) ast.Statement {
	var test ast.Expression
	if !p.at(token.SEMICOLON) {
		test = p.parseExpression()
	}
	p.expect(token.SEMICOLON)
	var update ast.Expression
	if !p.at(token.RPAREN) {
		update = p.parseExpression()
	}
	p.expect(token.RPAREN)
	body := p.parseStatement()
	return &ast.ForStatement{Span: p.span(start), Init: init, Test: test, Update: update, Body: body}
}

func (p *Parser) parseSwitch() ast.Statement {
	start := p.cur
	p.next()
	p.expect(token.LPAREN)
	disc := p.parseExpression()
	p.expect(token.RPAREN)
	p.expect(token.LBRACE)
	var cases []ast.SwitchCase
	for !p.at(token.RBRACE) && !p.at(token.EOF) {
		caseStart := p.cur
		var test ast.Expression
		if p.at(token.KW_CASE) {
			p.next()
			test = p.parseExpression()
		} else {
			p.expect(token.KW_DEFAULT)
		}
		p.expect(token.COLON)
		var body []ast.Statement
		for !p.at(token.KW_CASE) && !p.at(token.KW_DEFAULT) && !p.at(token.RBRACE) && !p.at(token.EOF) {
			body = append(body, p.parseStatement())
		}
		cases = append(cases, ast.SwitchCase{Span: p.span(caseStart), Test: test, Body: body})
	}
	p.expect(token.RBRACE)
	return &ast.SwitchStatement{Span: p.span(start), Discriminant: disc, Cases: cases}
}

func (p *Parser) parseBreak() ast.Statement {
	start := p.cur
	p.next()
	label := ""
	if p.at(token.IDENT) {
		label = p.cur.Value
		p.next()
	}
	p.consumeSemicolon()
	return &ast.BreakStatement{Span: p.span(start), Label: label}
}

func (p *Parser) parseContinue() ast.Statement {
	start := p.cur
	p.next()
	label := ""
	if p.at(token.IDENT) {
		label = p.cur.Value
		p.next()
	}
	p.consumeSemicolon()
	return &ast.ContinueStatement{Span: p.span(start), Label: label}
}

func (p *Parser) parseReturn() ast.Statement {
	start := p.cur
	p.next()
	var arg ast.Expression
	if !p.at(token.SEMICOLON) && !p.at(token.RBRACE) && !p.at(token.EOF) {
		arg = p.parseExpression()
	}
	p.consumeSemicolon()
	return &ast.ReturnStatement{Span: p.span(start), Argument: arg}
}

func (p *Parser) parseThrow() ast.Statement {
	start := p.cur
	p.next()
	arg := p.parseExpression()
	p.consumeSemicolon()
	return &ast.ThrowStatement{Span: p.span(start), Argument: arg}
}

func (p *Parser) parseTry() ast.Statement {
	start := p.cur
	p.next()
	block := p.parseBlock()
	var handler *ast.CatchClause
	if p.at(token.KW_CATCH) {
		catchStart := p.cur
		p.next()
		var param ast.Pattern
		if p.at(token.LPAREN) {
			p.next()
			param = p.parseBindingTarget()
			p.expect(token.RPAREN)
		}
		body := p.parseBlock()
		handler = &ast.CatchClause{Span: p.span(catchStart), Param: param, Body: body}
	}
	var fin *ast.BlockStatement
	if p.at(token.KW_FINALLY) {
		p.next()
		fin = p.parseBlock()
	}
	return &ast.TryStatement{Span: p.span(start), Block: block, Handler: handler, Finally: fin}
}

func (p *Parser) parseLabeled() ast.Statement {
	start := p.cur
	label := p.cur.Value
	p.next()
	p.expect(token.COLON)
	body := p.parseStatement()
	return &ast.LabeledStatement{Span: p.span(start), Label: label, Body: body}
}

func (p *Parser) parseExpressionStatement() ast.Statement {
	start := p.cur
	expr := p.parseExpression()
	return &ast.ExpressionStatement{Span: p.span(start), Expr: expr}
}

func (p *Parser) parseFunctionDeclaration(async bool) ast.Statement {
	start := p.cur
	p.next() // 'function'
	generator := false
	if p.at(token.STAR) {
		generator = true
		p.next()
	}
	name := ""
	if p.at(token.IDENT) {
		name = p.cur.Value
		p.next()
	}
	params := p.parseParamList()
	body := p.parseBlock()
	return &ast.FunctionDeclaration{
		Span: p.span(start), Name: name, Params: params, Body: body,
		Generator: generator, Async: async,
	}
}

func (p *Parser) parseParamList() []ast.Pattern {
	p.expect(token.LPAREN)
	var params []ast.Pattern
	for !p.at(token.RPAREN) && !p.at(token.EOF) {
		params = append(params, p.parseParam())
		if p.at(token.COMMA) {
			p.next()
			continue
		}
		break
	}
	p.expect(token.RPAREN)
	return params
}

func (p *Parser) parseParam() ast.Pattern {
	if p.at(token.DOT_DOT_DOT) {
		start := p.cur
		p.next()
		target := p.parseBindingTarget()
		return &ast.RestElement{Span: p.span(start), Target: target}
	}
	target := p.parseBindingTarget()
	if p.at(token.ASSIGN) {
		start := p.cur
		p.next()
		def := p.parseAssignmentExpression()
		return &ast.AssignmentPattern{Span: p.span(start), Target: target, Default: def}
	}
	return target
}

