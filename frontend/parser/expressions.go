package parser

import (
	"strconv"
	"strings"

	"github.com/opal-lang/scriptengine/ast"
	"github.com/opal-lang/scriptengine/frontend/lexer"
	"github.com/opal-lang/scriptengine/frontend/token"
	"github.com/opal-lang/scriptengine/internal/engineerr"
)

// parseExpression parses a full expression, including top-level commas
// (SequenceExpression).
func (p *Parser) parseExpression() ast.Expression {
	start := p.cur
	first := p.parseAssignmentExpression()
	if !p.at(token.COMMA) {
		return first
	}
	exprs := []ast.Expression{first}
	for p.at(token.COMMA) {
		p.next()
		exprs = append(exprs, p.parseAssignmentExpression())
	}
	return &ast.SequenceExpression{Span: p.span(start), Expressions: exprs}
}

var assignOps = map[token.Kind]string{
	token.ASSIGN: "=", token.PLUS_ASSIGN: "+=", token.MINUS_ASSIGN: "-=",
	token.STAR_ASSIGN: "*=", token.SLASH_ASSIGN: "/=", token.PERCENT_ASSIGN: "%=",
	token.STAR_STAR_ASSIGN: "**=", token.AND_ASSIGN: "&&=", token.OR_ASSIGN: "||=",
	token.QQ_ASSIGN: "??=", token.AMP_ASSIGN: "&=", token.PIPE_ASSIGN: "|=",
	token.CARET_ASSIGN: "^=", token.SHL_ASSIGN: "<<=", token.SHR_ASSIGN: ">>=",
	token.USHR_ASSIGN: ">>>=",
}

// parseAssignmentExpression parses a single (non-comma) expression,
// handling yield, arrow functions, and right-associative assignment.
func (p *Parser) parseAssignmentExpression() ast.Expression {
	if p.at(token.KW_YIELD) {
		return p.parseYield()
	}
	if arrow := p.tryParseArrowFunction(); arrow != nil {
		return arrow
	}

	start := p.cur
	left := p.parseConditional()
	if op, ok := assignOps[p.cur.Kind]; ok {
		p.next()
		value := p.parseAssignmentExpression()
		return &ast.AssignmentExpression{Span: p.span(start), Operator: op, Target: exprToPattern(left), Value: value}
	}
	return left
}

func (p *Parser) parseYield() ast.Expression {
	start := p.cur
	p.next()
	delegate := false
	if p.at(token.STAR) {
		delegate = true
		p.next()
	}
	var arg ast.Expression
	switch p.cur.Kind {
	case token.SEMICOLON, token.RPAREN, token.RBRACE, token.RBRACKET, token.COMMA, token.COLON, token.EOF:
		// bare yield
	default:
		arg = p.parseAssignmentExpression()
	}
	return &ast.YieldExpression{Span: p.span(start), Argument: arg, Delegate: delegate}
}

// tryParseArrowFunction detects `(params) => body` and `ident => body`
// (optionally preceded by `async`) without committing to consuming
// input unless the shape actually matches, by re-lexing a lookahead
// window from the current token's byte offset.
func (p *Parser) tryParseArrowFunction() ast.Expression {
	async := false
	start := p.cur
	lookFrom := p.cur
	if p.at(token.KW_ASYNC) && !p.peekAt(token.SEMICOLON) {
		// async arrow requires no newline-sensitive handling here; just
		// check what follows syntactically.
		if p.peekAt(token.LPAREN) || p.peekAt(token.IDENT) {
			async = true
			lookFrom = p.peek
		} else {
			return nil
		}
	}

	switch lookFrom.Kind {
	case token.IDENT:
		if async {
			// async ident => ...
			if !p.arrowFollowsSingleIdent() {
				return nil
			}
			p.next() // consume 'async'
			param := &ast.Identifier{Span: p.tokSpan(p.cur), Name: p.cur.Value}
			p.next() // consume ident
			p.expect(token.ARROW)
			body, exprBody := p.parseArrowBody()
			return &ast.ArrowFunctionExpression{Span: p.span(start), Params: []ast.Pattern{param}, Body: body, ExprBody: exprBody, Async: true}
		}
		if !p.arrowFollowsSingleIdent() {
			return nil
		}
		param := &ast.Identifier{Span: p.tokSpan(p.cur), Name: p.cur.Value}
		p.next()
		p.expect(token.ARROW)
		body, exprBody := p.parseArrowBody()
		return &ast.ArrowFunctionExpression{Span: p.span(start), Params: []ast.Pattern{param}, Body: body, ExprBody: exprBody}
	case token.LPAREN:
		if !p.parenGroupIsArrowParams(lookFrom) {
			return nil
		}
		if async {
			p.next() // consume 'async'
		}
		params := p.parseParamList()
		p.expect(token.ARROW)
		body, exprBody := p.parseArrowBody()
		return &ast.ArrowFunctionExpression{Span: p.span(start), Params: params, Body: body, ExprBody: exprBody, Async: async}
	default:
		return nil
	}
}

// arrowFollowsSingleIdent reports whether the token right after the
// current identifier is `=>`, using the peek token already buffered.
func (p *Parser) arrowFollowsSingleIdent() bool {
	return p.peekAt(token.ARROW)
}

// parenGroupIsArrowParams scans a `(...)` group starting at lp via an
// independent lexer instance seeded at lp's byte offset, to decide
// whether it is followed by `=>` without disturbing the main parser's
// position.
func (p *Parser) parenGroupIsArrowParams(lp token.Token) bool {
	sub := lexer.New(p.input[lp.Offset:])
	depth := 0
	tok := sub.Next()
	if tok.Kind != token.LPAREN {
		return false
	}
	depth = 1
	for depth > 0 {
		tok = sub.Next()
		switch tok.Kind {
		case token.LPAREN:
			depth++
		case token.RPAREN:
			depth--
		case token.EOF:
			return false
		}
	}
	next := sub.Next()
	return next.Kind == token.ARROW
}

func (p *Parser) parseArrowBody() (*ast.BlockStatement, ast.Expression) {
	if p.at(token.LBRACE) {
		return p.parseBlock(), nil
	}
	return nil, p.parseAssignmentExpression()
}

func (p *Parser) parseConditional() ast.Expression {
	start := p.cur
	test := p.parseNullish()
	if !p.at(token.QUESTION) {
		return test
	}
	p.next()
	cons := p.parseAssignmentExpression()
	p.expect(token.COLON)
	alt := p.parseAssignmentExpression()
	return &ast.ConditionalExpression{Span: p.span(start), Test: test, Consequent: cons, Alternate: alt}
}

func (p *Parser) parseNullish() ast.Expression {
	start := p.cur
	left := p.parseLogicalOr()
	for p.at(token.QUESTION_QUESTION) {
		p.next()
		right := p.parseLogicalOr()
		left = &ast.LogicalExpression{Span: p.span(start), Operator: ast.LogicalNull, Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseLogicalOr() ast.Expression {
	start := p.cur
	left := p.parseLogicalAnd()
	for p.at(token.OR_OR) {
		p.next()
		right := p.parseLogicalAnd()
		left = &ast.LogicalExpression{Span: p.span(start), Operator: ast.LogicalOr, Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseLogicalAnd() ast.Expression {
	start := p.cur
	left := p.parseBitOr()
	for p.at(token.AND_AND) {
		p.next()
		right := p.parseBitOr()
		left = &ast.LogicalExpression{Span: p.span(start), Operator: ast.LogicalAnd, Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseBitOr() ast.Expression {
	start := p.cur
	left := p.parseBitXor()
	for p.at(token.PIPE) {
		p.next()
		right := p.parseBitXor()
		left = &ast.BinaryExpression{Span: p.span(start), Operator: ast.BinBitOr, Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseBitXor() ast.Expression {
	start := p.cur
	left := p.parseBitAnd()
	for p.at(token.CARET) {
		p.next()
		right := p.parseBitAnd()
		left = &ast.BinaryExpression{Span: p.span(start), Operator: ast.BinBitXor, Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseBitAnd() ast.Expression {
	start := p.cur
	left := p.parseEquality()
	for p.at(token.AMP) {
		p.next()
		right := p.parseEquality()
		left = &ast.BinaryExpression{Span: p.span(start), Operator: ast.BinBitAnd, Left: left, Right: right}
	}
	return left
}

var equalityOps = map[token.Kind]ast.BinaryOperator{
	token.EQ: ast.BinEq, token.NOT_EQ: ast.BinNotEq,
	token.STRICT_EQ: ast.BinStrictEq, token.STRICT_NOT_EQ: ast.BinStrictNotEq,
}

func (p *Parser) parseEquality() ast.Expression {
	start := p.cur
	left := p.parseRelational()
	for {
		op, ok := equalityOps[p.cur.Kind]
		if !ok {
			return left
		}
		p.next()
		right := p.parseRelational()
		left = &ast.BinaryExpression{Span: p.span(start), Operator: op, Left: left, Right: right}
	}
}

var relationalOps = map[token.Kind]ast.BinaryOperator{
	token.LT: ast.BinLt, token.LT_EQ: ast.BinLtEq,
	token.GT: ast.BinGt, token.GT_EQ: ast.BinGtEq,
	token.KW_INSTANCEOF: ast.BinInstanceof,
}

func (p *Parser) parseRelational() ast.Expression {
	start := p.cur
	left := p.parseShift()
	for {
		if op, ok := relationalOps[p.cur.Kind]; ok {
			p.next()
			right := p.parseShift()
			left = &ast.BinaryExpression{Span: p.span(start), Operator: op, Left: left, Right: right}
			continue
		}
		if p.at(token.KW_IN) && !p.noIn {
			p.next()
			right := p.parseShift()
			left = &ast.BinaryExpression{Span: p.span(start), Operator: ast.BinIn, Left: left, Right: right}
			continue
		}
		return left
	}
}

var shiftOps = map[token.Kind]ast.BinaryOperator{
	token.SHL: ast.BinShl, token.SHR: ast.BinShr, token.USHR: ast.BinUShr,
}

func (p *Parser) parseShift() ast.Expression {
	start := p.cur
	left := p.parseAdditive()
	for {
		op, ok := shiftOps[p.cur.Kind]
		if !ok {
			return left
		}
		p.next()
		right := p.parseAdditive()
		left = &ast.BinaryExpression{Span: p.span(start), Operator: op, Left: left, Right: right}
	}
}

func (p *Parser) parseAdditive() ast.Expression {
	start := p.cur
	left := p.parseMultiplicative()
	for p.at(token.PLUS) || p.at(token.MINUS) {
		op := ast.BinAdd
		if p.at(token.MINUS) {
			op = ast.BinSub
		}
		p.next()
		right := p.parseMultiplicative()
		left = &ast.BinaryExpression{Span: p.span(start), Operator: op, Left: left, Right: right}
	}
	return left
}

var multiplicativeOps = map[token.Kind]ast.BinaryOperator{
	token.STAR: ast.BinMul, token.SLASH: ast.BinDiv, token.PERCENT: ast.BinMod,
}

func (p *Parser) parseMultiplicative() ast.Expression {
	start := p.cur
	left := p.parseExponent()
	for {
		op, ok := multiplicativeOps[p.cur.Kind]
		if !ok {
			return left
		}
		p.next()
		right := p.parseExponent()
		left = &ast.BinaryExpression{Span: p.span(start), Operator: op, Left: left, Right: right}
	}
}

// parseExponent is right-associative: `2 ** 3 ** 2` is `2 ** (3 ** 2)`.
func (p *Parser) parseExponent() ast.Expression {
	start := p.cur
	left := p.parseUnary()
	if p.at(token.STAR_STAR) {
		p.next()
		right := p.parseExponent()
		return &ast.BinaryExpression{Span: p.span(start), Operator: ast.BinExp, Left: left, Right: right}
	}
	return left
}

var unaryOps = map[token.Kind]ast.UnaryOperator{
	token.BANG: ast.UnaryNot, token.MINUS: ast.UnaryNeg, token.PLUS: ast.UnaryPlus,
	token.TILDE: ast.UnaryBitNot, token.KW_TYPEOF: ast.UnaryTypeof,
	token.KW_VOID: ast.UnaryVoid, token.KW_DELETE: ast.UnaryDelete,
}

func (p *Parser) parseUnary() ast.Expression {
	start := p.cur
	if op, ok := unaryOps[p.cur.Kind]; ok {
		p.next()
		arg := p.parseUnary()
		return &ast.UnaryExpression{Span: p.span(start), Operator: op, Argument: arg}
	}
	if p.at(token.KW_AWAIT) {
		p.next()
		arg := p.parseUnary()
		return &ast.AwaitExpression{Span: p.span(start), Argument: arg}
	}
	if p.at(token.INCREMENT) || p.at(token.DECREMENT) {
		op := p.cur.Value
		p.next()
		arg := p.parseUnary()
		return &ast.UpdateExpression{Span: p.span(start), Operator: op, Prefix: true, Argument: arg}
	}
	return p.parsePostfix()
}

func (p *Parser) parsePostfix() ast.Expression {
	start := p.cur
	expr := p.parseCallMemberChain()
	if p.at(token.INCREMENT) || p.at(token.DECREMENT) {
		op := p.cur.Value
		p.next()
		return &ast.UpdateExpression{Span: p.span(start), Operator: op, Prefix: false, Argument: expr}
	}
	return expr
}

func (p *Parser) parseCallMemberChain() ast.Expression {
	start := p.cur
	var expr ast.Expression
	if p.at(token.KW_NEW) {
		expr = p.parseNewExpression()
	} else {
		expr = p.parsePrimary()
	}
	for {
		switch {
		case p.at(token.DOT):
			p.next()
			if p.at(token.PRIVATE_NAME) {
				name := &ast.PrivateName{Span: p.tokSpan(p.cur), Name: p.cur.Value}
				p.next()
				expr = &ast.MemberExpression{Span: p.span(start), Object: expr, Property: name, Private: true}
				continue
			}
			propTok := p.cur
			prop := &ast.Identifier{Span: p.tokSpan(propTok), Name: propTok.Value}
			p.next()
			expr = &ast.MemberExpression{Span: p.span(start), Object: expr, Property: prop}
		case p.at(token.QUESTION_DOT):
			p.next()
			if p.at(token.LPAREN) {
				args := p.parseArguments()
				expr = &ast.CallExpression{Span: p.span(start), Callee: expr, Arguments: args, Optional: true}
				continue
			}
			if p.at(token.LBRACKET) {
				p.next()
				prop := p.parseExpression()
				p.expect(token.RBRACKET)
				expr = &ast.MemberExpression{Span: p.span(start), Object: expr, Property: prop, Computed: true, Optional: true}
				continue
			}
			propTok := p.cur
			prop := &ast.Identifier{Span: p.tokSpan(propTok), Name: propTok.Value}
			p.next()
			expr = &ast.MemberExpression{Span: p.span(start), Object: expr, Property: prop, Optional: true}
		case p.at(token.LBRACKET):
			p.next()
			prop := p.parseExpression()
			p.expect(token.RBRACKET)
			expr = &ast.MemberExpression{Span: p.span(start), Object: expr, Property: prop, Computed: true}
		case p.at(token.LPAREN):
			args := p.parseArguments()
			expr = &ast.CallExpression{Span: p.span(start), Callee: expr, Arguments: args}
		case p.at(token.TEMPLATE_STRING):
			quasi := p.parseTemplateLiteral()
			expr = &ast.TaggedTemplateExpression{Span: p.span(start), Tag: expr, Quasi: quasi}
		default:
			return expr
		}
	}
}

func (p *Parser) parseNewExpression() ast.Expression {
	start := p.cur
	p.next() // 'new'
	if p.at(token.DOT) {
		// new.target — represented as a synthetic identifier; the
		// compiler recognizes the literal name "new.target".
		p.next()
		p.expect(token.IDENT) // "target"
		return &ast.Identifier{Span: p.span(start), Name: "new.target"}
	}
	callee := p.parseCallMemberChainNoCall()
	var args []ast.Expression
	if p.at(token.LPAREN) {
		args = p.parseArguments()
	}
	return &ast.NewExpression{Span: p.span(start), Callee: callee, Arguments: args}
}

// parseCallMemberChainNoCall parses a member expression chain for a
// `new` callee, stopping before any call parentheses so `new f(x)(y)`
// parses as `(new f(x))(y)`.
func (p *Parser) parseCallMemberChainNoCall() ast.Expression {
	start := p.cur
	var expr ast.Expression
	if p.at(token.KW_NEW) {
		expr = p.parseNewExpression()
	} else {
		expr = p.parsePrimary()
	}
	for {
		switch {
		case p.at(token.DOT):
			p.next()
			propTok := p.cur
			prop := &ast.Identifier{Span: p.tokSpan(propTok), Name: propTok.Value}
			p.next()
			expr = &ast.MemberExpression{Span: p.span(start), Object: expr, Property: prop}
		case p.at(token.LBRACKET):
			p.next()
			prop := p.parseExpression()
			p.expect(token.RBRACKET)
			expr = &ast.MemberExpression{Span: p.span(start), Object: expr, Property: prop, Computed: true}
		default:
			return expr
		}
	}
}

func (p *Parser) parseArguments() []ast.Expression {
	p.expect(token.LPAREN)
	var args []ast.Expression
	for !p.at(token.RPAREN) && !p.at(token.EOF) {
		if p.at(token.DOT_DOT_DOT) {
			start := p.cur
			p.next()
			arg := p.parseAssignmentExpression()
			args = append(args, &ast.SpreadElement{Span: p.span(start), Argument: arg})
		} else {
			args = append(args, p.parseAssignmentExpression())
		}
		if p.at(token.COMMA) {
			p.next()
			continue
		}
		break
	}
	p.expect(token.RPAREN)
	return args
}

func (p *Parser) parsePrimary() ast.Expression {
	start := p.cur
	switch p.cur.Kind {
	case token.NUMBER:
		v, _ := strconv.ParseFloat(normalizeNumber(p.cur.Value), 64)
		p.next()
		return &ast.NumberLiteral{Span: p.tokSpan(start), Value: v}
	case token.STRING:
		val := p.cur.Value
		p.next()
		return &ast.StringLiteral{Span: p.tokSpan(start), Value: val}
	case token.TEMPLATE_STRING:
		return p.parseTemplateLiteral()
	case token.REGEX:
		pattern, flags := splitRegex(p.cur.Value)
		p.next()
		return &ast.RegexLiteral{Span: p.tokSpan(start), Pattern: pattern, Flags: flags}
	case token.KW_TRUE:
		p.next()
		return &ast.BooleanLiteral{Span: p.tokSpan(start), Value: true}
	case token.KW_FALSE:
		p.next()
		return &ast.BooleanLiteral{Span: p.tokSpan(start), Value: false}
	case token.KW_NULL:
		p.next()
		return &ast.NullLiteral{Span: p.tokSpan(start)}
	case token.KW_UNDEFINED:
		p.next()
		return &ast.UndefinedLiteral{Span: p.tokSpan(start)}
	case token.KW_THIS:
		p.next()
		return &ast.ThisExpression{Span: p.tokSpan(start)}
	case token.KW_SUPER:
		p.next()
		return &ast.SuperExpression{Span: p.tokSpan(start)}
	case token.PRIVATE_NAME:
		name := p.cur.Value
		p.next()
		return &ast.PrivateName{Span: p.tokSpan(start), Name: name}
	case token.IDENT:
		name := p.cur.Value
		p.next()
		return &ast.Identifier{Span: p.tokSpan(start), Name: name}
	case token.KW_OF, token.KW_GET, token.KW_SET, token.KW_STATIC:
		// contextual keywords usable as identifiers outside their
		// special positions
		name := p.cur.Value
		p.next()
		return &ast.Identifier{Span: p.tokSpan(start), Name: name}
	case token.KW_FUNCTION:
		return p.parseFunctionExpression(false)
	case token.KW_ASYNC:
		if p.peekAt(token.KW_FUNCTION) {
			p.next()
			return p.parseFunctionExpression(true)
		}
		name := p.cur.Value
		p.next()
		return &ast.Identifier{Span: p.tokSpan(start), Name: name}
	case token.KW_CLASS:
		return p.parseClassExpression()
	case token.LPAREN:
		p.next()
		expr := p.parseExpression()
		p.expect(token.RPAREN)
		return expr
	case token.LBRACKET:
		return p.parseArrayLiteral()
	case token.LBRACE:
		return p.parseObjectLiteral()
	default:
		p.errorf(engineerr.KindSyntax, "unexpected token %s", p.cur.Kind)
		tok := p.cur
		p.next()
		return &ast.Identifier{Span: p.tokSpan(tok), Name: tok.Value}
	}
}

func (p *Parser) parseFunctionExpression(async bool) ast.Expression {
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
	return &ast.FunctionExpression{Span: p.span(start), Name: name, Params: params, Body: body, Generator: generator, Async: async}
}

func (p *Parser) parseArrayLiteral() ast.Expression {
	start := p.cur
	p.expect(token.LBRACKET)
	var elems []ast.Expression
	for !p.at(token.RBRACKET) && !p.at(token.EOF) {
		if p.at(token.COMMA) {
			elems = append(elems, nil)
			p.next()
			continue
		}
		if p.at(token.DOT_DOT_DOT) {
			spreadStart := p.cur
			p.next()
			arg := p.parseAssignmentExpression()
			elems = append(elems, &ast.SpreadElement{Span: p.span(spreadStart), Argument: arg})
		} else {
			elems = append(elems, p.parseAssignmentExpression())
		}
		if p.at(token.COMMA) {
			p.next()
		}
	}
	p.expect(token.RBRACKET)
	return &ast.ArrayLiteral{Span: p.span(start), Elements: elems}
}

func (p *Parser) parseObjectLiteral() ast.Expression {
	start := p.cur
	p.expect(token.LBRACE)
	var props []ast.Property
	for !p.at(token.RBRACE) && !p.at(token.EOF) {
		props = append(props, p.parseObjectProperty())
		if p.at(token.COMMA) {
			p.next()
		}
	}
	p.expect(token.RBRACE)
	return &ast.ObjectLiteral{Span: p.span(start), Properties: props}
}

func (p *Parser) parseObjectProperty() ast.Property {
	start := p.cur
	if p.at(token.DOT_DOT_DOT) {
		p.next()
		arg := p.parseAssignmentExpression()
		return ast.Property{Span: p.span(start), Kind: ast.PropertyKindSpread, Value: arg}
	}

	async := false
	generator := false
	accessor := ast.PropertyKindInit
	if p.at(token.KW_ASYNC) && !isPropertyTerminator(p.peek.Kind) {
		async = true
		p.next()
	}
	if p.at(token.STAR) {
		generator = true
		p.next()
	}
	if (p.at(token.KW_GET) || p.at(token.KW_SET)) && !isPropertyTerminator(p.peek.Kind) {
		if p.at(token.KW_GET) {
			accessor = ast.PropertyKindGet
		} else {
			accessor = ast.PropertyKindSet
		}
		p.next()
	}

	computed := false
	var key ast.Expression
	if p.at(token.LBRACKET) {
		computed = true
		p.next()
		key = p.parseAssignmentExpression()
		p.expect(token.RBRACKET)
	} else {
		keyTok := p.cur
		switch keyTok.Kind {
		case token.STRING:
			key = &ast.StringLiteral{Span: p.tokSpan(keyTok), Value: keyTok.Value}
		case token.NUMBER:
			v, _ := strconv.ParseFloat(normalizeNumber(keyTok.Value), 64)
			key = &ast.NumberLiteral{Span: p.tokSpan(keyTok), Value: v}
		default:
			key = &ast.Identifier{Span: p.tokSpan(keyTok), Name: keyTok.Value}
		}
		p.next()
	}

	if accessor != ast.PropertyKindInit {
		fn := p.finishMethodValue(false, false)
		return ast.Property{Span: p.span(start), Kind: accessor, Computed: computed, Key: key, Value: fn}
	}
	if p.at(token.LPAREN) {
		fn := p.finishMethodValue(generator, async)
		return ast.Property{Span: p.span(start), Kind: ast.PropertyKindMethod, Computed: computed, Key: key, Value: fn}
	}
	if p.at(token.COLON) {
		p.next()
		value := p.parseAssignmentExpression()
		return ast.Property{Span: p.span(start), Kind: ast.PropertyKindInit, Computed: computed, Key: key, Value: value}
	}
	// shorthand: { x } or { x = defaultInAPattern }
	shorthand := true
	var value ast.Expression = key
	if p.at(token.ASSIGN) {
		// only legal when this object literal is later reinterpreted as
		// a destructuring pattern; represented as an AssignmentExpression
		// so exprToPattern can recover the default.
		eqStart := p.cur
		p.next()
		def := p.parseAssignmentExpression()
		if ident, ok := key.(*ast.Identifier); ok {
			value = &ast.AssignmentExpression{Span: p.span(eqStart), Operator: "=", Target: ident, Value: def}
		}
	}
	return ast.Property{Span: p.span(start), Kind: ast.PropertyKindInit, Computed: computed, Key: key, Value: value, Shorthand: shorthand}
}

func isPropertyTerminator(k token.Kind) bool {
	switch k {
	case token.COLON, token.LPAREN, token.COMMA, token.RBRACE, token.ASSIGN:
		return true
	default:
		return false
	}
}

// finishMethodValue parses `(params) { body }` into a FunctionExpression,
// assuming the key has already been consumed.
func (p *Parser) finishMethodValue(generator, async bool) *ast.FunctionExpression {
	start := p.cur
	params := p.parseParamList()
	body := p.parseBlock()
	return &ast.FunctionExpression{Span: p.span(start), Params: params, Body: body, Generator: generator, Async: async}
}

func (p *Parser) parseTemplateLiteral() *ast.TemplateLiteral {
	start := p.cur
	raw := p.cur.Value
	p.next()
	quasis, exprSources := splitTemplate(raw)
	exprs := make([]ast.Expression, len(exprSources))
	for i, src := range exprSources {
		sub := New(src)
		exprs[i] = sub.parseExpression()
	}
	return &ast.TemplateLiteral{Span: p.tokSpan(start), Quasis: quasis, Expressions: exprs}
}

// splitTemplate splits the lexer's raw backtick-delimited template text
// (including the backticks) into literal quasis and `${...}` expression
// source snippets.
func splitTemplate(raw string) ([]string, []string) {
	s := raw
	if strings.HasPrefix(s, "`") {
		s = s[1:]
	}
	if strings.HasSuffix(s, "`") {
		s = s[:len(s)-1]
	}
	var quasis []string
	var exprs []string
	var cur strings.Builder
	i := 0
	for i < len(s) {
		if s[i] == '$' && i+1 < len(s) && s[i+1] == '{' {
			quasis = append(quasis, cur.String())
			cur.Reset()
			depth := 1
			j := i + 2
			start := j
			for j < len(s) && depth > 0 {
				switch s[j] {
				case '{':
					depth++
				case '}':
					depth--
				}
				if depth > 0 {
					j++
				}
			}
			exprs = append(exprs, s[start:j])
			i = j + 1
			continue
		}
		if s[i] == '\\' && i+1 < len(s) {
			cur.WriteByte(s[i])
			cur.WriteByte(s[i+1])
			i += 2
			continue
		}
		cur.WriteByte(s[i])
		i++
	}
	quasis = append(quasis, cur.String())
	return quasis, exprs
}

func normalizeNumber(lit string) string {
	return strings.ReplaceAll(lit, "_", "")
}

func splitRegex(lit string) (pattern, flags string) {
	end := strings.LastIndex(lit, "/")
	if end <= 0 {
		return lit, ""
	}
	return lit[1:end], lit[end+1:]
}
