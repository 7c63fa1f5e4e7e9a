// Package fixtures is the shared harness package-level tests import
// for common test needs: ready-to-run script source snippets and
// small AST node builders for tests that exercise the compiler below
// the parser. It lives under testing/ rather than internal/ so it can
// be imported from both internal package tests and engine_test.go at
// the module root.
package fixtures

import (
	"github.com/opal-lang/scriptengine/ast"
)

// Script source fixtures. Each is a minimal, self-contained program
// exercising one corner of the supported grammar — named for the
// behavior it drives, not the opcode or AST node it happens to touch,
// so a fixture keeps meaning if the implementation underneath it
// changes shape.
const (
	SimpleVarDeclaration = `var x = 1;`

	ArithmeticExpression = `var total = (2 + 3) * 4 - 1;`

	ClosureCounter = `
function makeCounter() {
  var count = 0;
  return function () {
    count = count + 1;
    return count;
  };
}
var counter = makeCounter();
var first = counter();
var second = counter();
`

	TryCatchRecoversThrow = `
var recovered = null;
try {
  throw "boom";
} catch (e) {
  recovered = e;
}
`

	UncaughtThrowPropagates = `throw "boom";`

	OrderSyscallSingle = `var reply = __order__(42);`

	OrderSyscallNoPayload = `var reply = __order__();`

	GeneratorYieldsThreeValues = `
var log = "";
function* counter() {
  log = log + "start,";
  yield 1;
  log = log + "mid,";
  yield 2;
  yield 3;
}
var g = counter();
var beforeNext = log;
var first = g.next();
var firstValue = first.value;
var firstDone = first.done;
var afterNext = log;
`

	GeneratorDrainedToCompletion = `
function* counter() {
  yield 1;
  yield 2;
}
var g = counter();
var a = g.next();
var aValue = a.value;
var aDone = a.done;
var b = g.next();
var bValue = b.value;
var bDone = b.done;
var c = g.next();
var cValue = c.value;
var cDone = c.done;
`

	AsyncFunctionReturnsPromise = `
async function compute() {
  return 21 * 2;
}
var result = null;
compute().then(function (v) { result = v; });
`

	AsyncFunctionThrowRejectsPromise = `
async function fail() {
  throw "boom";
}
var reason = null;
fail().catch(function (e) { reason = e; });
`

	ProxyTrapsGet = `
var target = { greeting: "hi" };
var seen = null;
var proxy = new Proxy(target, {
  get: function (t, key) {
    seen = key;
    return t[key];
  }
});
var value = proxy.greeting;
`
)

// Span returns a degenerate zero-width span at line 1, column 1 — good
// enough identity for hand-built nodes a compiler unit test feeds
// straight into compileExpression/compileStatement without ever
// rendering a source-mapped error message.
func Span() ast.Span {
	pos := ast.Position{Line: 1, Column: 1, Offset: 0}
	return ast.Span{Start: pos, End: pos}
}

// Ident builds an Identifier node referencing name.
func Ident(name string) *ast.Identifier {
	return &ast.Identifier{Span: Span(), Name: name}
}

// Number builds a NumberLiteral node.
func Number(v float64) *ast.NumberLiteral {
	return &ast.NumberLiteral{Span: Span(), Value: v}
}

// Str builds a StringLiteral node.
func Str(v string) *ast.StringLiteral {
	return &ast.StringLiteral{Span: Span(), Value: v}
}

// VarDecl builds a single-declarator `var name = init;` statement.
func VarDecl(name string, init ast.Expression) *ast.VarDeclaration {
	return &ast.VarDeclaration{
		Span: Span(),
		Kind: ast.VarKindVar,
		Declarations: []ast.VarDeclarator{
			{Span: Span(), Target: Ident(name), Init: init},
		},
	}
}

// Program wraps statements in a top-level Program node, the unit
// compiler.Compile accepts.
func Program(body ...ast.Statement) *ast.Program {
	return &ast.Program{Span: Span(), Body: body}
}
