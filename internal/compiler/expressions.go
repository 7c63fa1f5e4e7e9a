package compiler

import (
	"github.com/opal-lang/scriptengine/ast"
	"github.com/opal-lang/scriptengine/internal/chunk"
	"github.com/opal-lang/scriptengine/internal/opcode"
)

func (c *Compiler) nameConst(fc *funcCtx, name string) int {
	return c.addConst(fc, chunk.Const{Kind: chunk.ConstString, Str: name})
}

func (c *Compiler) emitGetByName(fc *funcCtx, name string, dst int, span ast.Span) {
	c.emit(fc, opcode.Instr{Op: opcode.GetByName, A: dst, Const: c.nameConst(fc, name)}, span)
}

func (c *Compiler) emitSetByName(fc *funcCtx, name string, src int, span ast.Span) {
	c.emit(fc, opcode.Instr{Op: opcode.SetByName, A: src, Const: c.nameConst(fc, name)}, span)
}

// compileExpression lowers expr and returns the register holding its
// value; callers are responsible for freeing that register once done.
func (c *Compiler) compileExpression(fc *funcCtx, expr ast.Expression) int {
	switch e := expr.(type) {
	case *ast.NumberLiteral:
		return c.compileConst(fc, chunk.Const{Kind: chunk.ConstNumber, Num: e.Value}, e.Span)
	case *ast.StringLiteral:
		return c.compileConst(fc, chunk.Const{Kind: chunk.ConstString, Str: e.Value}, e.Span)
	case *ast.BooleanLiteral:
		reg, _ := fc.regs.alloc()
		op := opcode.LoadFalse
		if e.Value {
			op = opcode.LoadTrue
		}
		c.emit(fc, opcode.Instr{Op: op, A: reg}, e.Span)
		return reg
	case *ast.NullLiteral:
		reg, _ := fc.regs.alloc()
		c.emit(fc, opcode.Instr{Op: opcode.LoadNull, A: reg}, e.Span)
		return reg
	case *ast.UndefinedLiteral:
		reg, _ := fc.regs.alloc()
		c.emit(fc, opcode.Instr{Op: opcode.LoadUndefined, A: reg}, e.Span)
		return reg
	case *ast.Identifier:
		reg, _ := fc.regs.alloc()
		c.emitGetByName(fc, e.Name, reg, e.Span)
		return reg
	case *ast.ThisExpression:
		reg, _ := fc.regs.alloc()
		c.emitGetByName(fc, "this", reg, e.Span)
		return reg
	case *ast.TemplateLiteral:
		return c.compileTemplateLiteral(fc, e)
	case *ast.RegexLiteral:
		reg, _ := fc.regs.alloc()
		litIdx := c.addConst(fc, chunk.Const{Kind: chunk.ConstString, Str: e.Pattern + "\x00" + e.Flags})
		c.emit(fc, opcode.Instr{Op: opcode.LoadConst, A: reg, Const: litIdx, B: 1}, e.Span)
		return reg
	case *ast.ArrayLiteral:
		return c.compileArrayLiteral(fc, e)
	case *ast.ObjectLiteral:
		return c.compileObjectLiteral(fc, e)
	case *ast.FunctionExpression:
		return c.compileFunctionExpr(fc, e.Params, e.Body, e.Name, e.Generator, e.Async, false)
	case *ast.ArrowFunctionExpression:
		return c.compileArrow(fc, e)
	case *ast.ClassExpression:
		return c.compileClassExpr(fc, e)
	case *ast.UnaryExpression:
		return c.compileUnary(fc, e)
	case *ast.UpdateExpression:
		return c.compileUpdate(fc, e)
	case *ast.BinaryExpression:
		return c.compileBinary(fc, e)
	case *ast.LogicalExpression:
		return c.compileLogical(fc, e)
	case *ast.ConditionalExpression:
		return c.compileConditional(fc, e)
	case *ast.AssignmentExpression:
		return c.compileAssignment(fc, e)
	case *ast.SequenceExpression:
		var reg int
		for i, sub := range e.Expressions {
			if i > 0 {
				fc.regs.free(reg)
			}
			reg = c.compileExpression(fc, sub)
		}
		return reg
	case *ast.CallExpression:
		return c.compileCall(fc, e)
	case *ast.NewExpression:
		return c.compileNew(fc, e)
	case *ast.MemberExpression:
		return c.compileMemberGet(fc, e)
	case *ast.SpreadElement:
		return c.compileExpression(fc, e.Argument)
	case *ast.YieldExpression:
		return c.compileYield(fc, e)
	case *ast.AwaitExpression:
		return c.compileAwait(fc, e)
	case *ast.SuperExpression:
		reg, _ := fc.regs.alloc()
		c.emitGetByName(fc, fc.superTarget, reg, e.Span)
		return reg
	case *ast.TaggedTemplateExpression:
		return c.compileTaggedTemplate(fc, e)
	case *ast.PrivateName:
		reg, _ := fc.regs.alloc()
		c.emit(fc, opcode.Instr{Op: opcode.LoadUndefined, A: reg}, e.Span)
		return reg
	default:
		c.errorf(engineerrInternal(), expr.NodeSpan(), "unhandled expression kind %T", expr)
		reg, _ := fc.regs.alloc()
		return reg
	}
}

func (c *Compiler) compileConst(fc *funcCtx, k chunk.Const, span ast.Span) int {
	reg, _ := fc.regs.alloc()
	idx := c.addConst(fc, k)
	c.emit(fc, opcode.Instr{Op: opcode.LoadConst, A: reg, Const: idx}, span)
	return reg
}

func (c *Compiler) compileTemplateLiteral(fc *funcCtx, e *ast.TemplateLiteral) int {
	resultReg, _ := fc.regs.alloc()
	idx := c.addConst(fc, chunk.Const{Kind: chunk.ConstString, Str: e.Quasis[0]})
	c.emit(fc, opcode.Instr{Op: opcode.LoadConst, A: resultReg, Const: idx}, e.Span)
	for i, expr := range e.Expressions {
		exprReg := c.compileExpression(fc, expr)
		c.emit(fc, opcode.Instr{Op: opcode.Add, A: resultReg, B: resultReg, C: exprReg}, e.Span)
		fc.regs.free(exprReg)
		quasiIdx := c.addConst(fc, chunk.Const{Kind: chunk.ConstString, Str: e.Quasis[i+1]})
		qReg, _ := fc.regs.alloc()
		c.emit(fc, opcode.Instr{Op: opcode.LoadConst, A: qReg, Const: quasiIdx}, e.Span)
		c.emit(fc, opcode.Instr{Op: opcode.Add, A: resultReg, B: resultReg, C: qReg}, e.Span)
		fc.regs.free(qReg)
	}
	return resultReg
}

func (c *Compiler) compileTaggedTemplate(fc *funcCtx, e *ast.TaggedTemplateExpression) int {
	tagReg := c.compileExpression(fc, e.Tag)
	argsReg, _ := fc.regs.alloc()
	c.emit(fc, opcode.Instr{Op: opcode.NewArray, A: argsReg}, e.Span)
	strsReg := c.compileConst(fc, chunk.Const{Kind: chunk.ConstString, Str: joinQuasis(e.Quasi.Quasis)}, e.Span)
	c.emit(fc, opcode.Instr{Op: opcode.SetPropConst, A: argsReg, B: strsReg, Const: c.nameConst(fc, "0")}, e.Span)
	fc.regs.free(strsReg)
	for i, expr := range e.Quasi.Expressions {
		exprReg := c.compileExpression(fc, expr)
		c.emit(fc, opcode.Instr{Op: opcode.SetPropConst, A: argsReg, B: exprReg, Const: c.nameConst(fc, itoa(i+1))}, e.Span)
		fc.regs.free(exprReg)
	}
	dst, _ := fc.regs.alloc()
	c.emit(fc, opcode.Instr{Op: opcode.Call, A: dst, B: tagReg, C: argsReg}, e.Span)
	fc.regs.free(tagReg)
	fc.regs.free(argsReg)
	return dst
}

func joinQuasis(qs []string) string {
	out := ""
	for i, q := range qs {
		if i > 0 {
			out += "\x00"
		}
		out += q
	}
	return out
}

func (c *Compiler) compileArrayLiteral(fc *funcCtx, e *ast.ArrayLiteral) int {
	arrReg, _ := fc.regs.alloc()
	c.emit(fc, opcode.Instr{Op: opcode.NewArray, A: arrReg}, e.Span)
	idx := 0
	for _, el := range e.Elements {
		if el == nil {
			idx++
			continue
		}
		if spread, ok := el.(*ast.SpreadElement); ok {
			srcReg := c.compileExpression(fc, spread.Argument)
			c.emit(fc, opcode.Instr{Op: opcode.SpreadInto, A: arrReg, B: srcReg}, e.Span)
			fc.regs.free(srcReg)
			continue
		}
		valReg := c.compileExpression(fc, el)
		c.emit(fc, opcode.Instr{Op: opcode.SetPropConst, A: arrReg, B: valReg, Const: c.nameConst(fc, itoa(idx))}, e.Span)
		fc.regs.free(valReg)
		idx++
	}
	return arrReg
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

func (c *Compiler) compileObjectLiteral(fc *funcCtx, e *ast.ObjectLiteral) int {
	objReg, _ := fc.regs.alloc()
	c.emit(fc, opcode.Instr{Op: opcode.NewObject, A: objReg}, e.Span)
	for _, prop := range e.Properties {
		if prop.Kind == ast.PropertyKindSpread {
			srcReg := c.compileExpression(fc, prop.Value)
			c.emit(fc, opcode.Instr{Op: opcode.SpreadInto, A: objReg, B: srcReg}, e.Span)
			fc.regs.free(srcReg)
			continue
		}
		valReg := c.compileExpression(fc, prop.Value)
		op := opcode.SetProp
		if !prop.Computed {
			if ident, ok := prop.Key.(*ast.Identifier); ok {
				c.emit(fc, opcode.Instr{Op: opcode.SetPropConst, A: objReg, B: valReg, Const: c.nameConst(fc, ident.Name)}, e.Span)
				fc.regs.free(valReg)
				continue
			}
			if str, ok := prop.Key.(*ast.StringLiteral); ok {
				c.emit(fc, opcode.Instr{Op: opcode.SetPropConst, A: objReg, B: valReg, Const: c.nameConst(fc, str.Value)}, e.Span)
				fc.regs.free(valReg)
				continue
			}
		}
		keyReg := c.compileExpression(fc, prop.Key)
		c.emit(fc, opcode.Instr{Op: op, A: objReg, B: keyReg, C: valReg}, e.Span)
		fc.regs.free(keyReg)
		fc.regs.free(valReg)
	}
	return objReg
}

func (c *Compiler) compileFunctionExpr(fc *funcCtx, params []ast.Pattern, body *ast.BlockStatement, name string, generator, async, isArrow bool) int {
	ck, err := CompileFunction(params, body, generator, async, isArrow)
	if err != nil {
		c.errors = append(c.errors, asEngineErr(err))
		reg, _ := fc.regs.alloc()
		return reg
	}
	ck.Name = name
	constIdx := c.addConst(fc, chunk.Const{Kind: chunk.ConstChunk, Chunk: ck})
	reg, _ := fc.regs.alloc()
	c.emit(fc, opcode.Instr{Op: opcode.CreateClosure, A: reg, Const: constIdx}, ast.Span{})
	return reg
}

func (c *Compiler) compileArrow(fc *funcCtx, e *ast.ArrowFunctionExpression) int {
	body := e.Body
	if body == nil {
		body = &ast.BlockStatement{Body: []ast.Statement{&ast.ReturnStatement{Argument: e.ExprBody}}}
	}
	return c.compileFunctionExpr(fc, e.Params, body, "", false, e.Async, true)
}

var unaryOpcode = map[ast.UnaryOperator]opcode.Op{
	ast.UnaryNot: opcode.Not, ast.UnaryNeg: opcode.Neg, ast.UnaryPlus: opcode.Pos,
	ast.UnaryBitNot: opcode.BitNot, ast.UnaryTypeof: opcode.Typeof,
}

func (c *Compiler) compileUnary(fc *funcCtx, e *ast.UnaryExpression) int {
	if e.Operator == ast.UnaryDelete {
		return c.compileDelete(fc, e)
	}
	if e.Operator == ast.UnaryVoid {
		argReg := c.compileExpression(fc, e.Argument)
		fc.regs.free(argReg)
		reg, _ := fc.regs.alloc()
		c.emit(fc, opcode.Instr{Op: opcode.LoadUndefined, A: reg}, e.Span)
		return reg
	}
	argReg := c.compileExpression(fc, e.Argument)
	dst, _ := fc.regs.alloc()
	c.emit(fc, opcode.Instr{Op: unaryOpcode[e.Operator], A: dst, B: argReg}, e.Span)
	fc.regs.free(argReg)
	return dst
}

func (c *Compiler) compileDelete(fc *funcCtx, e *ast.UnaryExpression) int {
	member, ok := e.Argument.(*ast.MemberExpression)
	dst, _ := fc.regs.alloc()
	if !ok {
		c.emit(fc, opcode.Instr{Op: opcode.LoadTrue, A: dst}, e.Span)
		return dst
	}
	objReg := c.compileExpression(fc, member.Object)
	if member.Computed {
		keyReg := c.compileExpression(fc, member.Property)
		c.emit(fc, opcode.Instr{Op: opcode.DeleteProp, A: dst, B: objReg, C: keyReg, Const: -1}, e.Span)
		fc.regs.free(keyReg)
	} else {
		name := member.Property.(*ast.Identifier).Name
		c.emit(fc, opcode.Instr{Op: opcode.DeleteProp, A: dst, B: objReg, Const: c.nameConst(fc, name)}, e.Span)
	}
	fc.regs.free(objReg)
	return dst
}

func (c *Compiler) compileUpdate(fc *funcCtx, e *ast.UpdateExpression) int {
	op := opcode.Inc
	if e.Operator == "--" {
		op = opcode.Dec
	}
	pat := exprAsSimpleTarget(e.Argument)
	oldReg := c.compileExpression(fc, e.Argument)
	newReg, _ := fc.regs.alloc()
	c.emit(fc, opcode.Instr{Op: op, A: newReg, B: oldReg}, e.Span)
	c.storeSimpleTarget(fc, pat, newReg, e.Span)
	if e.Prefix {
		fc.regs.free(oldReg)
		return newReg
	}
	fc.regs.free(newReg)
	return oldReg
}

// exprAsSimpleTarget recognizes identifier/member update targets
// without going through the full pattern machinery (update expressions
// never destructure).
func exprAsSimpleTarget(e ast.Expression) ast.Expression { return e }

func (c *Compiler) storeSimpleTarget(fc *funcCtx, target ast.Expression, valReg int, span ast.Span) {
	switch t := target.(type) {
	case *ast.Identifier:
		c.emitSetByName(fc, t.Name, valReg, span)
	case *ast.MemberExpression:
		c.compileMemberSet(fc, t, valReg, span)
	}
}

var binaryOpcode = map[ast.BinaryOperator]opcode.Op{
	ast.BinAdd: opcode.Add, ast.BinSub: opcode.Sub, ast.BinMul: opcode.Mul,
	ast.BinDiv: opcode.Div, ast.BinMod: opcode.Mod, ast.BinExp: opcode.Exp,
	ast.BinEq: opcode.Eq, ast.BinNotEq: opcode.NotEq,
	ast.BinStrictEq: opcode.StrictEq, ast.BinStrictNotEq: opcode.StrictNotEq,
	ast.BinLt: opcode.Lt, ast.BinLtEq: opcode.LtEq, ast.BinGt: opcode.Gt, ast.BinGtEq: opcode.GtEq,
	ast.BinBitAnd: opcode.BitAnd, ast.BinBitOr: opcode.BitOr, ast.BinBitXor: opcode.BitXor,
	ast.BinShl: opcode.Shl, ast.BinShr: opcode.Shr, ast.BinUShr: opcode.UShr,
	ast.BinIn: opcode.In, ast.BinInstanceof: opcode.Instanceof,
}

func (c *Compiler) compileBinary(fc *funcCtx, e *ast.BinaryExpression) int {
	leftReg := c.compileExpression(fc, e.Left)
	rightReg := c.compileExpression(fc, e.Right)
	dst, _ := fc.regs.alloc()
	c.emit(fc, opcode.Instr{Op: binaryOpcode[e.Operator], A: dst, B: leftReg, C: rightReg}, e.Span)
	fc.regs.free(leftReg)
	fc.regs.free(rightReg)
	return dst
}

func (c *Compiler) compileLogical(fc *funcCtx, e *ast.LogicalExpression) int {
	leftReg := c.compileExpression(fc, e.Left)
	var jmp int
	switch e.Operator {
	case ast.LogicalAnd:
		jmp = c.emit(fc, opcode.Instr{Op: opcode.JumpIfFalse, A: leftReg}, e.Span)
	case ast.LogicalOr:
		jmp = c.emit(fc, opcode.Instr{Op: opcode.JumpIfTrue, A: leftReg}, e.Span)
	default: // ??
		jmp = c.emit(fc, opcode.Instr{Op: opcode.JumpIfNullish, A: leftReg}, e.Span)
		// The VM takes JumpIfNullish when the value is NOT nullish, so,
		// as in the other two cases, the jump skips the right side.
	}
	rightReg := c.compileExpression(fc, e.Right)
	c.emit(fc, opcode.Instr{Op: opcode.Move, A: leftReg, B: rightReg}, e.Span)
	fc.regs.free(rightReg)
	c.patchJump(fc, jmp)
	return leftReg
}

func (c *Compiler) compileConditional(fc *funcCtx, e *ast.ConditionalExpression) int {
	testReg := c.compileExpression(fc, e.Test)
	jmpFalse := c.emit(fc, opcode.Instr{Op: opcode.JumpIfFalse, A: testReg}, e.Span)
	fc.regs.free(testReg)
	dst, _ := fc.regs.alloc()
	consReg := c.compileExpression(fc, e.Consequent)
	c.emit(fc, opcode.Instr{Op: opcode.Move, A: dst, B: consReg}, e.Span)
	fc.regs.free(consReg)
	jmpEnd := c.emit(fc, opcode.Instr{Op: opcode.Jump}, e.Span)
	c.patchJump(fc, jmpFalse)
	altReg := c.compileExpression(fc, e.Alternate)
	c.emit(fc, opcode.Instr{Op: opcode.Move, A: dst, B: altReg}, e.Span)
	fc.regs.free(altReg)
	c.patchJump(fc, jmpEnd)
	return dst
}

var compoundBinaryOp = map[string]ast.BinaryOperator{
	"+=": ast.BinAdd, "-=": ast.BinSub, "*=": ast.BinMul, "/=": ast.BinDiv,
	"%=": ast.BinMod, "**=": ast.BinExp, "&=": ast.BinBitAnd, "|=": ast.BinBitOr,
	"^=": ast.BinBitXor, "<<=": ast.BinShl, ">>=": ast.BinShr, ">>>=": ast.BinUShr,
}

func (c *Compiler) compileAssignment(fc *funcCtx, e *ast.AssignmentExpression) int {
	if e.Operator == "=" {
		valReg := c.compileExpression(fc, e.Value)
		c.assignPattern(fc, e.Target, valReg, e.Span)
		return valReg
	}
	if e.Operator == "&&=" || e.Operator == "||=" || e.Operator == "??=" {
		return c.compileLogicalAssignment(fc, e)
	}
	ident, member := simpleAssignTarget(e.Target)
	var curReg int
	if ident != nil {
		curReg, _ = fc.regs.alloc()
		c.emitGetByName(fc, ident.Name, curReg, e.Span)
	} else {
		curReg = c.compileMemberGet(fc, member)
	}
	rhsReg := c.compileExpression(fc, e.Value)
	dst, _ := fc.regs.alloc()
	c.emit(fc, opcode.Instr{Op: binaryOpcode[compoundBinaryOp[e.Operator]], A: dst, B: curReg, C: rhsReg}, e.Span)
	fc.regs.free(curReg)
	fc.regs.free(rhsReg)
	if ident != nil {
		c.emitSetByName(fc, ident.Name, dst, e.Span)
	} else {
		c.compileMemberSet(fc, member, dst, e.Span)
	}
	return dst
}

// simpleAssignTarget unwraps a compound-assignment target, which is
// always an identifier or an existing member expression (destructuring
// targets are only legal with plain "=").
func simpleAssignTarget(pat ast.Pattern) (*ast.Identifier, *ast.MemberExpression) {
	switch t := pat.(type) {
	case *ast.Identifier:
		return t, nil
	case *ast.MemberPattern:
		return nil, t.Member
	}
	return nil, nil
}

func (c *Compiler) compileLogicalAssignment(fc *funcCtx, e *ast.AssignmentExpression) int {
	ident, member := simpleAssignTarget(e.Target)
	var curReg int
	if ident != nil {
		curReg, _ = fc.regs.alloc()
		c.emitGetByName(fc, ident.Name, curReg, e.Span)
	} else {
		curReg = c.compileMemberGet(fc, member)
	}
	var jmp int
	switch e.Operator {
	case "&&=":
		jmp = c.emit(fc, opcode.Instr{Op: opcode.JumpIfFalse, A: curReg}, e.Span)
	case "||=":
		jmp = c.emit(fc, opcode.Instr{Op: opcode.JumpIfTrue, A: curReg}, e.Span)
	default:
		jmp = c.emit(fc, opcode.Instr{Op: opcode.JumpIfNullish, A: curReg}, e.Span)
	}
	rhsReg := c.compileExpression(fc, e.Value)
	c.emit(fc, opcode.Instr{Op: opcode.Move, A: curReg, B: rhsReg}, e.Span)
	fc.regs.free(rhsReg)
	if ident != nil {
		c.emitSetByName(fc, ident.Name, curReg, e.Span)
	} else {
		c.compileMemberSet(fc, member, curReg, e.Span)
	}
	c.patchJump(fc, jmp)
	return curReg
}

func (c *Compiler) compileCall(fc *funcCtx, e *ast.CallExpression) int {
	if member, ok := e.Callee.(*ast.MemberExpression); ok {
		objReg := c.compileExpression(fc, member.Object)
		argsReg := c.compileArguments(fc, e.Arguments)
		dst, _ := fc.regs.alloc()
		if !member.Computed {
			name := member.Property.(*ast.Identifier).Name
			c.emit(fc, opcode.Instr{Op: opcode.CallMethod, A: dst, B: objReg, C: argsReg, Const: c.nameConst(fc, name)}, e.Span)
		} else {
			keyReg := c.compileExpression(fc, member.Property)
			// Const: -1 marks the key as a register (keyReg, carried in
			// Target) rather than a constant-pool name index.
			c.emit(fc, opcode.Instr{Op: opcode.CallMethod, A: dst, B: objReg, C: argsReg, Const: -1, Target: keyReg}, e.Span)
			fc.regs.free(keyReg)
		}
		fc.regs.free(objReg)
		fc.regs.free(argsReg)
		return dst
	}
	if ident, ok := e.Callee.(*ast.Identifier); ok && ident.Name == "eval" {
		argsReg := c.compileArguments(fc, e.Arguments)
		dst, _ := fc.regs.alloc()
		c.emit(fc, opcode.Instr{Op: opcode.DirectEval, A: dst, B: argsReg}, e.Span)
		fc.regs.free(argsReg)
		return dst
	}
	// __order__ is the well-known internal native function spec.md
	// §4.7's order syscall describes: calling it issues a host order and
	// suspends the whole run in one step (SuspendOrder), rather than
	// allocating a promise-like marker a later `await` would suspend on
	// — the same direct-lowering treatment `eval` gets just above.
	if ident, ok := e.Callee.(*ast.Identifier); ok && ident.Name == "__order__" {
		var payloadReg int
		if len(e.Arguments) > 0 {
			payloadReg = c.compileExpression(fc, e.Arguments[0])
		} else {
			payloadReg, _ = fc.regs.alloc()
			c.emit(fc, opcode.Instr{Op: opcode.LoadUndefined, A: payloadReg}, e.Span)
		}
		c.emit(fc, opcode.Instr{Op: opcode.SuspendOrder, A: payloadReg}, e.Span)
		return payloadReg
	}
	calleeReg := c.compileExpression(fc, e.Callee)
	argsReg := c.compileArguments(fc, e.Arguments)
	dst, _ := fc.regs.alloc()
	c.emit(fc, opcode.Instr{Op: opcode.Call, A: dst, B: calleeReg, C: argsReg}, e.Span)
	fc.regs.free(calleeReg)
	fc.regs.free(argsReg)
	return dst
}

// compileArguments lowers one call's argument list into a single array
// object built the same way an array literal is, so a variable number of
// arguments -- plain or spread -- reaches the VM as one register
// regardless of arity; the calling convention never needs a separate
// argument-count operand.
func (c *Compiler) compileArguments(fc *funcCtx, args []ast.Expression) int {
	arrReg, _ := fc.regs.alloc()
	c.emit(fc, opcode.Instr{Op: opcode.NewArray, A: arrReg}, ast.Span{})
	idx := 0
	for _, a := range args {
		if spread, ok := a.(*ast.SpreadElement); ok {
			srcReg := c.compileExpression(fc, spread.Argument)
			c.emit(fc, opcode.Instr{Op: opcode.SpreadInto, A: arrReg, B: srcReg}, spread.Span)
			fc.regs.free(srcReg)
			continue
		}
		valReg := c.compileExpression(fc, a)
		c.emit(fc, opcode.Instr{Op: opcode.SetPropConst, A: arrReg, B: valReg, Const: c.nameConst(fc, itoa(idx))}, a.NodeSpan())
		fc.regs.free(valReg)
		idx++
	}
	return arrReg
}

func (c *Compiler) compileNew(fc *funcCtx, e *ast.NewExpression) int {
	calleeReg := c.compileExpression(fc, e.Callee)
	argsReg := c.compileArguments(fc, e.Arguments)
	dst, _ := fc.regs.alloc()
	c.emit(fc, opcode.Instr{Op: opcode.Construct, A: dst, B: calleeReg, C: argsReg}, e.Span)
	fc.regs.free(calleeReg)
	fc.regs.free(argsReg)
	return dst
}

func (c *Compiler) compileMemberGet(fc *funcCtx, e *ast.MemberExpression) int {
	objReg := c.compileExpression(fc, e.Object)
	dst, _ := fc.regs.alloc()
	if e.Private {
		name := e.Property.(*ast.PrivateName).Name
		c.emit(fc, opcode.Instr{Op: opcode.GetPrivate, A: dst, B: objReg, Const: c.nameConst(fc, name)}, e.Span)
	} else if e.Computed {
		keyReg := c.compileExpression(fc, e.Property)
		c.emit(fc, opcode.Instr{Op: opcode.GetProp, A: dst, B: objReg, C: keyReg}, e.Span)
		fc.regs.free(keyReg)
	} else {
		name := e.Property.(*ast.Identifier).Name
		c.emit(fc, opcode.Instr{Op: opcode.GetPropConst, A: dst, B: objReg, Const: c.nameConst(fc, name)}, e.Span)
	}
	fc.regs.free(objReg)
	return dst
}

func (c *Compiler) compileMemberSet(fc *funcCtx, e *ast.MemberExpression, valReg int, span ast.Span) {
	objReg := c.compileExpression(fc, e.Object)
	if e.Private {
		name := e.Property.(*ast.PrivateName).Name
		c.emit(fc, opcode.Instr{Op: opcode.SetPrivate, A: objReg, B: valReg, Const: c.nameConst(fc, name)}, span)
	} else if e.Computed {
		keyReg := c.compileExpression(fc, e.Property)
		c.emit(fc, opcode.Instr{Op: opcode.SetProp, A: objReg, B: keyReg, C: valReg}, span)
		fc.regs.free(keyReg)
	} else {
		name := e.Property.(*ast.Identifier).Name
		c.emit(fc, opcode.Instr{Op: opcode.SetPropConst, A: objReg, B: valReg, Const: c.nameConst(fc, name)}, span)
	}
	fc.regs.free(objReg)
}

func (c *Compiler) compileYield(fc *funcCtx, e *ast.YieldExpression) int {
	var argReg int
	if e.Argument != nil {
		argReg = c.compileExpression(fc, e.Argument)
	} else {
		argReg, _ = fc.regs.alloc()
		c.emit(fc, opcode.Instr{Op: opcode.LoadUndefined, A: argReg}, e.Span)
	}
	dst, _ := fc.regs.alloc()
	op := opcode.Yield
	if e.Delegate {
		op = opcode.YieldDelegate
	}
	c.emit(fc, opcode.Instr{Op: op, A: dst, B: argReg}, e.Span)
	fc.regs.free(argReg)
	return dst
}

func (c *Compiler) compileAwait(fc *funcCtx, e *ast.AwaitExpression) int {
	argReg := c.compileExpression(fc, e.Argument)
	dst, _ := fc.regs.alloc()
	c.emit(fc, opcode.Instr{Op: opcode.Await, A: dst, B: argReg}, e.Span)
	fc.regs.free(argReg)
	return dst
}
