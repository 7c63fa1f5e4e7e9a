package parser_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opal-lang/scriptengine/ast"
	"github.com/opal-lang/scriptengine/frontend/parser"
)

func TestParseProgramAcceptsSimpleVarDeclaration(t *testing.T) {
	t.Parallel()

	prog, errs := parser.ParseProgram("var x = 1 + 2;")
	require.Empty(t, errs)
	require.Len(t, prog.Body, 1)

	decl, ok := prog.Body[0].(*ast.VarDeclaration)
	require.True(t, ok, "expected a VarDeclaration, got %T", prog.Body[0])
	assert.Equal(t, ast.VarKindVar, decl.Kind)
	require.Len(t, decl.Declarations, 1)
	assert.Equal(t, "x", decl.Declarations[0].Target.(*ast.Identifier).Name)
}

func TestParseProgramReportsErrorForMissingIdentifier(t *testing.T) {
	t.Parallel()

	_, errs := parser.ParseProgram("var = 1;")
	assert.NotEmpty(t, errs)
}

func TestParseProgramParsesFunctionDeclaration(t *testing.T) {
	t.Parallel()

	prog, errs := parser.ParseProgram(`
function add(a, b) {
  return a + b;
}
`)
	require.Empty(t, errs)
	require.Len(t, prog.Body, 1)

	fn, ok := prog.Body[0].(*ast.FunctionDeclaration)
	require.True(t, ok, "expected a FunctionDeclaration, got %T", prog.Body[0])
	assert.Equal(t, "add", fn.Name)
	assert.Len(t, fn.Params, 2)
}
