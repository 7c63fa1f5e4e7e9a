package compiler

import (
	"github.com/opal-lang/scriptengine/ast"
	"github.com/opal-lang/scriptengine/internal/chunk"
	"github.com/opal-lang/scriptengine/internal/opcode"
)

// __super_target__ is the hidden binding a derived class's methods
// consult to resolve `super.prop`/`super()`: the instance prototype's
// prototype for instance methods, the parent constructor for statics.
const superTargetBinding = "__super_target__"

func (c *Compiler) compileClassDeclaration(fc *funcCtx, s *ast.ClassDeclaration) {
	reg := c.compileClass(fc, s.Name, s.SuperClass, s.Body, s.Span)
	c.emitSetByName(fc, s.Name, reg, s.Span)
	fc.regs.free(reg)
}

func (c *Compiler) compileClassExpr(fc *funcCtx, e *ast.ClassExpression) int {
	return c.compileClass(fc, e.Name, e.SuperClass, e.Body, e.Span)
}

// compileClass synthesizes a constructor chunk (default-delegating to
// super for derived classes with no explicit constructor), emits
// instance field initializers inline in that constructor chunk and
// static fields and static blocks inline in the enclosing code, and
// emits define_method/define_accessor for every other member (spec.md
// §4.2 class bullet).
func (c *Compiler) compileClass(fc *funcCtx, name string, superClass ast.Expression, body []ast.ClassMember, span ast.Span) int {
	var superReg int
	isDerived := superClass != nil
	if isDerived {
		superReg = c.compileExpression(fc, superClass)
	}

	var ctorMember *ast.MethodDefinition
	var instanceFields, staticFields []*ast.PropertyDefinition
	var staticBlocks []*ast.StaticBlock
	var methods []*ast.MethodDefinition
	for _, m := range body {
		switch mem := m.(type) {
		case *ast.MethodDefinition:
			if mem.Kind == ast.MethodKindConstructor {
				ctorMember = mem
				continue
			}
			methods = append(methods, mem)
		case *ast.PropertyDefinition:
			if mem.Static {
				staticFields = append(staticFields, mem)
			} else {
				instanceFields = append(instanceFields, mem)
			}
		case *ast.StaticBlock:
			staticBlocks = append(staticBlocks, mem)
		}
	}

	ctorChunk := c.compileConstructor(ctorMember, instanceFields, isDerived, name)
	ctorConst := c.addConst(fc, chunk.Const{Kind: chunk.ConstChunk, Chunk: ctorChunk})

	classReg, _ := fc.regs.alloc()
	if isDerived {
		// Target: 1 flags this as a derived-class constructor for the VM
		// (B alone can't: register 0 is a legal superReg).
		c.emit(fc, opcode.Instr{Op: opcode.CreateClosure, A: classReg, B: superReg, Const: ctorConst, Target: 1}, span)
		fc.regs.free(superReg)
	} else {
		c.emit(fc, opcode.Instr{Op: opcode.CreateClosure, A: classReg, Const: ctorConst}, span)
	}

	for _, m := range methods {
		c.compileMethodDefinition(fc, classReg, m, isDerived)
	}

	for _, pd := range staticFields {
		c.compileStaticField(fc, classReg, pd, isDerived)
	}
	for _, sb := range staticBlocks {
		c.compileStaticBlock(fc, classReg, sb, isDerived)
	}
	return classReg
}

// compileConstructor builds the chunk run by `new`: a user-written
// constructor body, or — for a derived class with none — a synthesized
// `constructor(...args) { super(...args); }`, always preceded by the
// instance field initializers (spec.md's "fields initialize before the
// constructor body runs, after super() for derived classes").
func (c *Compiler) compileConstructor(ctor *ast.MethodDefinition, fields []*ast.PropertyDefinition, isDerived bool, className string) *chunk.Chunk {
	cc := New()
	fc := &funcCtx{scope: newScope(nil, true), superTarget: superTargetBinding}

	var params []ast.Pattern
	var userBody []ast.Statement
	if ctor != nil {
		params = ctor.Value.Params
		userBody = ctor.Value.Body.Body
	} else if isDerived {
		restName := &ast.Identifier{Name: "args"}
		params = []ast.Pattern{&ast.RestElement{Target: restName}}
		userBody = []ast.Statement{&ast.ExpressionStatement{Expr: &ast.CallExpression{
			Callee:    &ast.SuperExpression{},
			Arguments: []ast.Expression{&ast.SpreadElement{Argument: restName}},
		}}}
	}

	for _, p := range params {
		cc.hoistParam(fc, p)
	}
	cc.hoist(fc, userBody)
	cc.emitParamBindings(fc, params)

	if isDerived && ctor != nil {
		// User-written derived constructors are responsible for calling
		// super() themselves before touching `this`; fields still run
		// right after that call completes, which the VM's construct
		// trampoline enforces by deferring field initialization until
		// the super() opcode returns rather than doing it here.
	} else if !isDerived {
		cc.emitFieldInits(fc, fields)
	}

	for _, stmt := range userBody {
		cc.compileStatement(fc, stmt)
	}
	if isDerived && ctor == nil {
		cc.emitFieldInits(fc, fields)
	}

	ck := chunk.New(className+".constructor", fc.instrs, fc.consts, fc.positions, fc.regs.high)
	ck.ParamCount = len(params)
	ck.BindingCount = len(fc.scope.names)
	if len(params) > 0 {
		if _, ok := params[len(params)-1].(*ast.RestElement); ok {
			ck.HasRestParam = true
		}
	}
	if len(cc.errors) > 0 {
		c.errors = append(c.errors, cc.errors...)
	}
	return ck
}

// emitFieldInits emits `this.<name> = <init or undefined>` for every
// instance field, in declaration order.
func (c *Compiler) emitFieldInits(fc *funcCtx, fields []*ast.PropertyDefinition) {
	for _, f := range fields {
		thisReg, _ := fc.regs.alloc()
		c.emitGetByName(fc, "this", thisReg, f.Span)
		var valReg int
		if f.Value != nil {
			valReg = c.compileExpression(fc, f.Value)
		} else {
			valReg, _ = fc.regs.alloc()
			c.emit(fc, opcode.Instr{Op: opcode.LoadUndefined, A: valReg}, f.Span)
		}
		if f.Private {
			name := f.Key.(*ast.PrivateName).Name
			c.emit(fc, opcode.Instr{Op: opcode.SetPrivate, A: thisReg, B: valReg, Const: c.nameConst(fc, name)}, f.Span)
		} else if !f.Computed {
			name := propKeyName(f.Key)
			c.emit(fc, opcode.Instr{Op: opcode.SetPropConst, A: thisReg, B: valReg, Const: c.nameConst(fc, name)}, f.Span)
		} else {
			keyReg := c.compileExpression(fc, f.Key)
			c.emit(fc, opcode.Instr{Op: opcode.SetProp, A: thisReg, B: keyReg, C: valReg}, f.Span)
			fc.regs.free(keyReg)
		}
		fc.regs.free(valReg)
		fc.regs.free(thisReg)
	}
}

func (c *Compiler) compileMethodDefinition(fc *funcCtx, classReg int, m *ast.MethodDefinition, isDerived bool) {
	superTarget := ""
	if isDerived {
		superTarget = superTargetBinding
	}
	ck, err := compileMethodChunk(m.Value, superTarget)
	if err != nil {
		c.errors = append(c.errors, asEngineErr(err))
		return
	}
	constIdx := c.addConst(fc, chunk.Const{Kind: chunk.ConstChunk, Chunk: ck})
	closureReg, _ := fc.regs.alloc()
	c.emit(fc, opcode.Instr{Op: opcode.CreateClosure, A: closureReg, Const: constIdx}, m.Span)

	op := opcode.DefineMethod
	accessorFlag := 0
	if m.Kind == ast.MethodKindGet || m.Kind == ast.MethodKindSet {
		op = opcode.DefineAccessor
		if m.Kind == ast.MethodKindSet {
			accessorFlag = 1
		}
	}

	target := classReg
	if !m.Static {
		target, _ = fc.regs.alloc()
		c.emit(fc, opcode.Instr{Op: opcode.GetPropConst, A: target, B: classReg, Const: c.nameConst(fc, "prototype")}, m.Span)
	}

	if m.Private {
		name := m.Key.(*ast.PrivateName).Name
		c.emit(fc, opcode.Instr{Op: op, A: target, B: closureReg, C: accessorFlag, Const: c.nameConst(fc, name)}, m.Span)
	} else if !m.Computed {
		name := propKeyName(m.Key)
		c.emit(fc, opcode.Instr{Op: op, A: target, B: closureReg, C: accessorFlag, Const: c.nameConst(fc, name)}, m.Span)
	} else {
		keyReg := c.compileExpression(fc, m.Key)
		// Const: -1 marks the key as a register (keyReg) rather than a
		// constant-pool name index; Target carries the accessor flag since
		// C is occupied by the key register here.
		c.emit(fc, opcode.Instr{Op: op, A: target, B: closureReg, C: keyReg, Const: -1, Target: accessorFlag}, m.Span)
		fc.regs.free(keyReg)
	}
	if !m.Static {
		fc.regs.free(target)
	}
	fc.regs.free(closureReg)
}

// compileMethodChunk mirrors CompileFunction but additionally seeds
// superTarget so `super.foo()` inside the method resolves correctly.
func compileMethodChunk(fn *ast.FunctionExpression, superTarget string) (*chunk.Chunk, error) {
	cc := New()
	fc := &funcCtx{scope: newScope(nil, true), isGenerator: fn.Generator, isAsync: fn.Async, superTarget: superTarget}
	for _, p := range fn.Params {
		cc.hoistParam(fc, p)
	}
	ck := cc.compileFunctionBody(fc, fn.Params, fn.Body.Body, false)
	ck.Generator = fn.Generator
	ck.Async = fn.Async
	if len(cc.errors) > 0 {
		return nil, cc.errors[0]
	}
	return ck, nil
}

func (c *Compiler) compileStaticField(fc *funcCtx, classReg int, pd *ast.PropertyDefinition, isDerived bool) {
	var valReg int
	if pd.Value != nil {
		valReg = c.compileExpression(fc, pd.Value)
	} else {
		valReg, _ = fc.regs.alloc()
		c.emit(fc, opcode.Instr{Op: opcode.LoadUndefined, A: valReg}, pd.Span)
	}
	if pd.Private {
		name := pd.Key.(*ast.PrivateName).Name
		c.emit(fc, opcode.Instr{Op: opcode.SetPrivate, A: classReg, B: valReg, Const: c.nameConst(fc, name)}, pd.Span)
	} else if !pd.Computed {
		name := propKeyName(pd.Key)
		c.emit(fc, opcode.Instr{Op: opcode.SetPropConst, A: classReg, B: valReg, Const: c.nameConst(fc, name)}, pd.Span)
	} else {
		keyReg := c.compileExpression(fc, pd.Key)
		c.emit(fc, opcode.Instr{Op: opcode.SetProp, A: classReg, B: keyReg, C: valReg}, pd.Span)
		fc.regs.free(keyReg)
	}
	fc.regs.free(valReg)
}

// compileStaticBlock compiles a `static { ... }` block with `this`
// bound to the class constructor itself.
func (c *Compiler) compileStaticBlock(fc *funcCtx, classReg int, sb *ast.StaticBlock, isDerived bool) {
	c.emitSetByName(fc, "this", classReg, sb.Span)
	outer := fc.scope
	fc.scope = newScope(outer, false)
	for _, stmt := range sb.Body {
		c.compileStatement(fc, stmt)
	}
	fc.scope = outer
}
