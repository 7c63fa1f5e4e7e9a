package parser

import (
	"github.com/opal-lang/scriptengine/ast"
	"github.com/opal-lang/scriptengine/frontend/token"
	"github.com/opal-lang/scriptengine/internal/engineerr"
)

// parseBindingTarget parses a declaration/parameter binding target:
// an identifier or an array/object destructuring pattern.
func (p *Parser) parseBindingTarget() ast.Pattern {
	switch p.cur.Kind {
	case token.LBRACKET:
		return p.parseArrayPattern()
	case token.LBRACE:
		return p.parseObjectPattern()
	default:
		return p.parseIdentifierPattern()
	}
}

func (p *Parser) parseIdentifierPattern() ast.Pattern {
	start := p.cur
	name := p.cur.Value
	if !p.at(token.IDENT) && !isContextualKeyword(p.cur.Kind) {
		p.errorf(engineerr.KindSyntax, "expected binding identifier, got %s", p.cur.Kind)
	}
	p.next()
	return &ast.Identifier{Span: p.tokSpan(start), Name: name}
}

func isContextualKeyword(k token.Kind) bool {
	switch k {
	case token.KW_ASYNC, token.KW_GET, token.KW_SET, token.KW_OF, token.KW_STATIC:
		return true
	default:
		return false
	}
}

func (p *Parser) parseArrayPattern() ast.Pattern {
	start := p.cur
	p.expect(token.LBRACKET)
	var elems []*ast.ArrayPatternElement
	var rest ast.Pattern
	for !p.at(token.RBRACKET) && !p.at(token.EOF) {
		if p.at(token.COMMA) {
			elems = append(elems, &ast.ArrayPatternElement{Span: p.tokSpan(p.cur), Target: nil})
			p.next()
			continue
		}
		if p.at(token.DOT_DOT_DOT) {
			restStart := p.cur
			p.next()
			rest = p.parseBindingTarget()
			_ = restStart
			break
		}
		elemStart := p.cur
		target := p.parseBindingTarget()
		if p.at(token.ASSIGN) {
			p.next()
			def := p.parseAssignmentExpression()
			target = &ast.AssignmentPattern{Span: p.span(elemStart), Target: target, Default: def}
		}
		elems = append(elems, &ast.ArrayPatternElement{Span: p.span(elemStart), Target: target})
		if p.at(token.COMMA) {
			p.next()
		}
	}
	p.expect(token.RBRACKET)
	return &ast.ArrayPattern{Span: p.span(start), Elements: elems, Rest: rest}
}

func (p *Parser) parseObjectPattern() ast.Pattern {
	start := p.cur
	p.expect(token.LBRACE)
	var props []ast.ObjectPatternProperty
	var rest ast.Pattern
	for !p.at(token.RBRACE) && !p.at(token.EOF) {
		if p.at(token.DOT_DOT_DOT) {
			p.next()
			rest = p.parseIdentifierPattern()
			break
		}
		propStart := p.cur
		computed := false
		var key ast.Expression
		if p.at(token.LBRACKET) {
			computed = true
			p.next()
			key = p.parseAssignmentExpression()
			p.expect(token.RBRACKET)
		} else {
			keyTok := p.cur
			key = &ast.Identifier{Span: p.tokSpan(keyTok), Name: keyTok.Value}
			p.next()
		}
		var value ast.Pattern
		shorthand := true
		if p.at(token.COLON) {
			shorthand = false
			p.next()
			value = p.parseBindingTarget()
		} else {
			if ident, ok := key.(*ast.Identifier); ok {
				value = &ast.Identifier{Span: ident.Span, Name: ident.Name}
			}
		}
		if p.at(token.ASSIGN) {
			p.next()
			def := p.parseAssignmentExpression()
			value = &ast.AssignmentPattern{Span: p.span(propStart), Target: value, Default: def}
		}
		props = append(props, ast.ObjectPatternProperty{
			Span: p.span(propStart), Computed: computed, Key: key, Value: value, Shorthand: shorthand,
		})
		if p.at(token.COMMA) {
			p.next()
		}
	}
	p.expect(token.RBRACE)
	return &ast.ObjectPattern{Span: p.span(start), Properties: props, Rest: rest}
}

// exprToPattern reinterprets an already-parsed expression as an
// assignment target, used for destructuring assignment
// (`[a, b] = x`, `({a} = x)`) and for-in/of loops whose left side is not
// a fresh declaration (`for (x of xs)`, `for ([a,b] of pairs)`).
func exprToPattern(expr ast.Expression) ast.Pattern {
	switch e := expr.(type) {
	case *ast.Identifier:
		return e
	case *ast.MemberExpression:
		return &ast.MemberPattern{Span: e.Span, Member: e}
	case *ast.ArrayLiteral:
		var elems []*ast.ArrayPatternElement
		var rest ast.Pattern
		for _, el := range e.Elements {
			if el == nil {
				elems = append(elems, &ast.ArrayPatternElement{Target: nil})
				continue
			}
			if spread, ok := el.(*ast.SpreadElement); ok {
				rest = exprToPattern(spread.Argument)
				continue
			}
			elems = append(elems, &ast.ArrayPatternElement{Span: el.NodeSpan(), Target: exprToPattern(el)})
		}
		return &ast.ArrayPattern{Span: e.Span, Elements: elems, Rest: rest}
	case *ast.ObjectLiteral:
		var props []ast.ObjectPatternProperty
		var rest ast.Pattern
		for _, prop := range e.Properties {
			if prop.Kind == ast.PropertyKindSpread {
				rest = exprToPattern(prop.Value)
				continue
			}
			props = append(props, ast.ObjectPatternProperty{
				Span: prop.Span, Computed: prop.Computed, Key: prop.Key,
				Value: exprToPattern(prop.Value), Shorthand: prop.Shorthand,
			})
		}
		return &ast.ObjectPattern{Span: e.Span, Properties: props, Rest: rest}
	case *ast.AssignmentExpression:
		if e.Operator == "=" {
			return &ast.AssignmentPattern{Span: e.Span, Target: e.Target, Default: e.Value}
		}
	}
	// Fall back to a member pattern wrapper is not possible; surface the
	// expression wrapped so the compiler can produce a precise error.
	return &ast.MemberPattern{Span: expr.NodeSpan(), Member: &ast.MemberExpression{Span: expr.NodeSpan()}}
}
