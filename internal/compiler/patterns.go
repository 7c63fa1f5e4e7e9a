package compiler

import (
	"github.com/opal-lang/scriptengine/ast"
	"github.com/opal-lang/scriptengine/internal/opcode"
)

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// declarePattern introduces every name bound by pat into the current
// scope and emits a declare_binding for each, carrying the mutable/TDZ
// flags a let/const/catch-param/for-loop binding needs (spec.md §3.3).
func (c *Compiler) declarePattern(fc *funcCtx, pat ast.Pattern, mutable, tdz bool) {
	switch p := pat.(type) {
	case *ast.Identifier:
		fc.scope.names[p.Name] = true
		c.emit(fc, opcode.Instr{
			Op: opcode.DeclareBinding, A: boolToInt(mutable), B: boolToInt(tdz),
			Const: c.nameConst(fc, p.Name),
		}, p.Span)
	case *ast.ArrayPattern:
		for _, el := range p.Elements {
			if el != nil && el.Target != nil {
				c.declarePattern(fc, el.Target, mutable, tdz)
			}
		}
		if p.Rest != nil {
			c.declarePattern(fc, p.Rest, mutable, tdz)
		}
	case *ast.ObjectPattern:
		for _, prop := range p.Properties {
			c.declarePattern(fc, prop.Value, mutable, tdz)
		}
		if p.Rest != nil {
			c.declarePattern(fc, p.Rest, mutable, tdz)
		}
	case *ast.AssignmentPattern:
		c.declarePattern(fc, p.Target, mutable, tdz)
	case *ast.RestElement:
		c.declarePattern(fc, p.Target, mutable, tdz)
	case *ast.MemberPattern:
		// Assignment to an existing property never declares a binding.
	}
}

// assignPattern compiles the destructuring of valReg into pat, whether
// pat is a plain identifier, a member target, or a nested array/object
// pattern with defaults and rest.
func (c *Compiler) assignPattern(fc *funcCtx, pat ast.Pattern, valReg int, span ast.Span) {
	switch p := pat.(type) {
	case *ast.Identifier:
		c.emitSetByName(fc, p.Name, valReg, span)
	case *ast.MemberPattern:
		c.compileMemberSet(fc, p.Member, valReg, span)
	case *ast.AssignmentPattern:
		c.assignWithDefault(fc, p, valReg, span)
	case *ast.RestElement:
		c.assignPattern(fc, p.Target, valReg, span)
	case *ast.ArrayPattern:
		c.assignArrayPattern(fc, p, valReg, span)
	case *ast.ObjectPattern:
		c.assignObjectPattern(fc, p, valReg, span)
	}
}

// assignWithDefault replaces valReg with p.Default in place when valReg
// holds exactly `undefined`, then assigns the (possibly replaced) value
// to p.Target.
func (c *Compiler) assignWithDefault(fc *funcCtx, p *ast.AssignmentPattern, valReg int, span ast.Span) {
	undefReg, _ := fc.regs.alloc()
	c.emit(fc, opcode.Instr{Op: opcode.LoadUndefined, A: undefReg}, span)
	isUndefReg, _ := fc.regs.alloc()
	c.emit(fc, opcode.Instr{Op: opcode.StrictEq, A: isUndefReg, B: valReg, C: undefReg}, span)
	fc.regs.free(undefReg)
	skip := c.emit(fc, opcode.Instr{Op: opcode.JumpIfFalse, A: isUndefReg}, span)
	fc.regs.free(isUndefReg)
	defReg := c.compileExpression(fc, p.Default)
	c.emit(fc, opcode.Instr{Op: opcode.Move, A: valReg, B: defReg}, span)
	fc.regs.free(defReg)
	c.patchJump(fc, skip)
	c.assignPattern(fc, p.Target, valReg, span)
}

// assignArrayPattern drives the iteration protocol via for_of_next: the
// first call (kind carried in C) converts the source into an iterator,
// subsequent calls fetch one value plus a done flag (spec.md §4.2).
func (c *Compiler) assignArrayPattern(fc *funcCtx, p *ast.ArrayPattern, srcReg int, span ast.Span) {
	iterReg, _ := fc.regs.alloc()
	c.emit(fc, opcode.Instr{Op: opcode.ForOfNext, A: iterReg, B: srcReg, C: 1}, span)

	doneReg, _ := fc.regs.alloc()
	c.emit(fc, opcode.Instr{Op: opcode.LoadFalse, A: doneReg}, span)

	for _, el := range p.Elements {
		valReg, _ := fc.regs.alloc()
		stillJmp := c.emit(fc, opcode.Instr{Op: opcode.JumpIfTrue, A: doneReg}, span)
		c.emit(fc, opcode.Instr{Op: opcode.ForOfNext, A: valReg, B: iterReg, C: doneReg}, span)
		afterFetch := c.emit(fc, opcode.Instr{Op: opcode.Jump}, span)
		c.patchJump(fc, stillJmp)
		c.emit(fc, opcode.Instr{Op: opcode.LoadUndefined, A: valReg}, span)
		c.patchJump(fc, afterFetch)
		if el != nil && el.Target != nil {
			c.assignPattern(fc, el.Target, valReg, span)
		}
		fc.regs.free(valReg)
	}

	if p.Rest != nil {
		restReg, _ := fc.regs.alloc()
		c.emit(fc, opcode.Instr{Op: opcode.NewArray, A: restReg}, span)
		valReg, _ := fc.regs.alloc()
		idxConst := 0
		top := len(fc.instrs)
		doneJmp := c.emit(fc, opcode.Instr{Op: opcode.JumpIfTrue, A: doneReg}, span)
		c.emit(fc, opcode.Instr{Op: opcode.ForOfNext, A: valReg, B: iterReg, C: doneReg}, span)
		skipPush := c.emit(fc, opcode.Instr{Op: opcode.JumpIfTrue, A: doneReg}, span)
		c.emit(fc, opcode.Instr{Op: opcode.SetPropConst, A: restReg, B: valReg, Const: c.nameConst(fc, itoa(idxConst))}, span)
		idxConst++
		c.emit(fc, opcode.Instr{Op: opcode.Jump, Target: top}, span)
		c.patchJump(fc, skipPush)
		c.patchJump(fc, doneJmp)
		fc.regs.free(valReg)
		c.assignPattern(fc, p.Rest, restReg, span)
		fc.regs.free(restReg)
	}
	fc.regs.free(doneReg)
	fc.regs.free(iterReg)
}

// assignObjectPattern reads each named property directly off srcReg
// (no iteration protocol) and, for a rest target, shallow-copies every
// remaining own enumerable property.
func (c *Compiler) assignObjectPattern(fc *funcCtx, p *ast.ObjectPattern, srcReg int, span ast.Span) {
	var usedNames []string
	for _, prop := range p.Properties {
		var valReg int
		if prop.Computed {
			keyReg := c.compileExpression(fc, prop.Key)
			valReg, _ = fc.regs.alloc()
			c.emit(fc, opcode.Instr{Op: opcode.GetProp, A: valReg, B: srcReg, C: keyReg}, span)
			fc.regs.free(keyReg)
		} else {
			name := propKeyName(prop.Key)
			usedNames = append(usedNames, name)
			valReg, _ = fc.regs.alloc()
			c.emit(fc, opcode.Instr{Op: opcode.GetPropConst, A: valReg, B: srcReg, Const: c.nameConst(fc, name)}, span)
		}
		c.assignPattern(fc, prop.Value, valReg, span)
		fc.regs.free(valReg)
	}
	if p.Rest != nil {
		restReg, _ := fc.regs.alloc()
		c.emit(fc, opcode.Instr{Op: opcode.NewObject, A: restReg}, span)
		c.emit(fc, opcode.Instr{Op: opcode.SpreadInto, A: restReg, B: srcReg}, span)
		for _, name := range usedNames {
			throwaway, _ := fc.regs.alloc()
			c.emit(fc, opcode.Instr{Op: opcode.DeleteProp, A: throwaway, B: restReg, Const: c.nameConst(fc, name)}, span)
			fc.regs.free(throwaway)
		}
		c.assignPattern(fc, p.Rest, restReg, span)
		fc.regs.free(restReg)
	}
}

// patternBoundNames lists every identifier pat binds, in declaration
// order — used by compileFor to know which names a `for(let ...)`
// initializer's per-iteration environment must carry forward.
func patternBoundNames(pat ast.Pattern) []string {
	switch p := pat.(type) {
	case *ast.Identifier:
		return []string{p.Name}
	case *ast.ArrayPattern:
		var names []string
		for _, el := range p.Elements {
			if el != nil && el.Target != nil {
				names = append(names, patternBoundNames(el.Target)...)
			}
		}
		if p.Rest != nil {
			names = append(names, patternBoundNames(p.Rest)...)
		}
		return names
	case *ast.ObjectPattern:
		var names []string
		for _, prop := range p.Properties {
			names = append(names, patternBoundNames(prop.Value)...)
		}
		if p.Rest != nil {
			names = append(names, patternBoundNames(p.Rest)...)
		}
		return names
	case *ast.AssignmentPattern:
		return patternBoundNames(p.Target)
	case *ast.RestElement:
		return patternBoundNames(p.Target)
	default:
		return nil
	}
}

func propKeyName(key ast.Expression) string {
	switch k := key.(type) {
	case *ast.Identifier:
		return k.Name
	case *ast.StringLiteral:
		return k.Value
	case *ast.NumberLiteral:
		return itoa(int(k.Value))
	}
	return ""
}
