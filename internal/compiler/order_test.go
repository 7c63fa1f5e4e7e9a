package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opal-lang/scriptengine/ast"
	"github.com/opal-lang/scriptengine/internal/opcode"
)

func span() ast.Span {
	pos := ast.Position{Line: 1, Column: 1}
	return ast.Span{Start: pos, End: pos}
}

func callExpr(name string, args ...ast.Expression) *ast.CallExpression {
	return &ast.CallExpression{
		Span:     span(),
		Callee:   &ast.Identifier{Span: span(), Name: name},
		Arguments: args,
	}
}

func countOp(instrs []opcode.Instr, op opcode.Op) int {
	n := 0
	for _, instr := range instrs {
		if instr.Op == op {
			n++
		}
	}
	return n
}

func TestOrderCallLowersDirectlyToSuspendOrder(t *testing.T) {
	t.Parallel()

	prog := &ast.Program{
		Span: span(),
		Body: []ast.Statement{
			&ast.ExpressionStatement{Span: span(), Expr: callExpr("__order__", &ast.NumberLiteral{Span: span(), Value: 42})},
		},
	}

	ck, err := Compile(prog)
	require.NoError(t, err)
	assert.Equal(t, 1, countOp(ck.Instructions, opcode.SuspendOrder))
	assert.Equal(t, 0, countOp(ck.Instructions, opcode.Call), "the order call must never reach the generic Call opcode")
}

func TestOrderCallWithNoArgumentsLoadsUndefinedPayload(t *testing.T) {
	t.Parallel()

	prog := &ast.Program{
		Span: span(),
		Body: []ast.Statement{
			&ast.ExpressionStatement{Span: span(), Expr: callExpr("__order__")},
		},
	}

	ck, err := Compile(prog)
	require.NoError(t, err)

	suspendIdx := -1
	for i, instr := range ck.Instructions {
		if instr.Op == opcode.SuspendOrder {
			suspendIdx = i
			break
		}
	}
	require.GreaterOrEqual(t, suspendIdx, 1, "SuspendOrder must be preceded by at least one instruction")
	assert.Equal(t, opcode.LoadUndefined, ck.Instructions[suspendIdx-1].Op,
		"a payload-less order call must load an explicit undefined before suspending, not read an uninitialized register")
	assert.Equal(t, ck.Instructions[suspendIdx-1].A, ck.Instructions[suspendIdx].A,
		"LoadUndefined and SuspendOrder must target the same register")
}

func TestEvalCallLowersDirectlyToDirectEval(t *testing.T) {
	t.Parallel()

	prog := &ast.Program{
		Span: span(),
		Body: []ast.Statement{
			&ast.ExpressionStatement{Span: span(), Expr: callExpr("eval", &ast.StringLiteral{Span: span(), Value: "1"})},
		},
	}

	ck, err := Compile(prog)
	require.NoError(t, err)
	assert.Equal(t, 1, countOp(ck.Instructions, opcode.DirectEval))
}
