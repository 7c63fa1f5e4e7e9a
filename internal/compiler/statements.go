package compiler

import (
	"github.com/opal-lang/scriptengine/ast"
	"github.com/opal-lang/scriptengine/internal/chunk"
	"github.com/opal-lang/scriptengine/internal/opcode"
)

func (c *Compiler) compileStatement(fc *funcCtx, stmt ast.Statement) {
	switch s := stmt.(type) {
	case *ast.VarDeclaration:
		c.compileVarDeclaration(fc, s)
	case *ast.FunctionDeclaration:
		c.compileFunctionDeclaration(fc, s)
	case *ast.ClassDeclaration:
		c.compileClassDeclaration(fc, s)
	case *ast.ExpressionStatement:
		reg := c.compileExpression(fc, s.Expr)
		fc.regs.free(reg)
	case *ast.BlockStatement:
		c.compileBlock(fc, s)
	case *ast.EmptyStatement:
		// nothing to emit
	case *ast.IfStatement:
		c.compileIf(fc, s)
	case *ast.WhileStatement:
		c.compileWhile(fc, s)
	case *ast.DoWhileStatement:
		c.compileDoWhile(fc, s)
	case *ast.ForStatement:
		c.compileFor(fc, s)
	case *ast.ForInStatement:
		c.compileForIn(fc, s)
	case *ast.ForOfStatement:
		c.compileForOf(fc, s)
	case *ast.SwitchStatement:
		c.compileSwitch(fc, s)
	case *ast.BreakStatement:
		c.compileBreak(fc, s)
	case *ast.ContinueStatement:
		c.compileContinue(fc, s)
	case *ast.ReturnStatement:
		c.compileReturn(fc, s)
	case *ast.ThrowStatement:
		c.compileThrow(fc, s)
	case *ast.TryStatement:
		c.compileTry(fc, s)
	case *ast.LabeledStatement:
		c.compileLabeled(fc, s)
	default:
		c.errorf(engineerrInternal(), stmt.NodeSpan(), "unhandled statement kind %T", stmt)
	}
}

func (c *Compiler) compileBlock(fc *funcCtx, b *ast.BlockStatement) {
	outer := fc.scope
	fc.scope = newScope(outer, false)
	for _, stmt := range b.Body {
		c.compileStatement(fc, stmt)
	}
	fc.scope = outer
}

func (c *Compiler) compileVarDeclaration(fc *funcCtx, s *ast.VarDeclaration) {
	for _, d := range s.Declarations {
		tdz := s.Kind != ast.VarKindVar
		c.declarePattern(fc, d.Target, s.Kind != ast.VarKindConst, tdz)
		if d.Init != nil {
			valReg := c.compileExpression(fc, d.Init)
			c.assignPattern(fc, d.Target, valReg, d.Span)
			fc.regs.free(valReg)
		} else if s.Kind != ast.VarKindVar {
			c.initializeBareTDZ(fc, d.Target)
		}
	}
}

// initializeBareTDZ clears TDZ for `let x;`/`const x;` bindings with no
// initializer (legal for let, not const — the parser does not enforce
// that distinction, matching the teacher's permissive-parse-then-
// validate-elsewhere style).
func (c *Compiler) initializeBareTDZ(fc *funcCtx, pat ast.Pattern) {
	if ident, ok := pat.(*ast.Identifier); ok {
		reg, _ := fc.regs.alloc()
		c.emit(fc, opcode.Instr{Op: opcode.LoadUndefined, A: reg}, ast.Span{})
		c.emitSetByName(fc, ident.Name, reg, ast.Span{})
		fc.regs.free(reg)
	}
}

func (c *Compiler) compileFunctionDeclaration(fc *funcCtx, s *ast.FunctionDeclaration) {
	ck, err := CompileFunction(s.Params, s.Body, s.Generator, s.Async, false)
	if err != nil {
		c.errors = append(c.errors, asEngineErr(err))
		return
	}
	ck.Name = s.Name
	constIdx := c.addConst(fc, chunk.Const{Kind: chunk.ConstChunk, Chunk: ck})
	reg, _ := fc.regs.alloc()
	c.emit(fc, opcode.Instr{Op: opcode.CreateClosure, A: reg, Const: constIdx}, s.Span)
	c.emitSetByName(fc, s.Name, reg, s.Span)
	fc.regs.free(reg)
}

func (c *Compiler) compileIf(fc *funcCtx, s *ast.IfStatement) {
	testReg := c.compileExpression(fc, s.Test)
	jmpFalse := c.emit(fc, opcode.Instr{Op: opcode.JumpIfFalse, A: testReg}, s.Span)
	fc.regs.free(testReg)
	c.compileStatement(fc, s.Consequent)
	if s.Alternate != nil {
		jmpEnd := c.emit(fc, opcode.Instr{Op: opcode.Jump}, s.Span)
		c.patchJump(fc, jmpFalse)
		c.compileStatement(fc, s.Alternate)
		c.patchJump(fc, jmpEnd)
	} else {
		c.patchJump(fc, jmpFalse)
	}
}

func (c *Compiler) pushLoop(fc *funcCtx, label string) *loopLabels {
	if label == "" {
		label = c.pendingLabel
	}
	c.pendingLabel = ""
	l := &loopLabels{label: label, continueTarget: -1, activationDepth: len(fc.loops)}
	fc.loops = append(fc.loops, l)
	return l
}

func (c *Compiler) pushSwitch(fc *funcCtx) *loopLabels {
	l := &loopLabels{label: c.pendingLabel, isSwitch: true, continueTarget: -1, activationDepth: len(fc.loops)}
	c.pendingLabel = ""
	fc.loops = append(fc.loops, l)
	return l
}

func (c *Compiler) popLoop(fc *funcCtx) *loopLabels {
	l := fc.loops[len(fc.loops)-1]
	fc.loops = fc.loops[:len(fc.loops)-1]
	return l
}

func (c *Compiler) patchLoopExits(fc *funcCtx, l *loopLabels, breakTarget, continueTarget int) {
	for _, idx := range l.breakJumps {
		fc.instrs[idx].Target = breakTarget
	}
	for _, idx := range l.continueJumps {
		fc.instrs[idx].Target = continueTarget
	}
}

func (c *Compiler) compileWhile(fc *funcCtx, s *ast.WhileStatement) {
	l := c.pushLoop(fc, "")
	top := len(fc.instrs)
	l.continueTarget = top
	testReg := c.compileExpression(fc, s.Test)
	exitJump := c.emit(fc, opcode.Instr{Op: opcode.JumpIfFalse, A: testReg}, s.Span)
	fc.regs.free(testReg)
	c.compileStatement(fc, s.Body)
	c.emit(fc, opcode.Instr{Op: opcode.Jump, Target: top}, s.Span)
	end := len(fc.instrs)
	fc.instrs[exitJump].Target = end
	c.patchLoopExits(fc, c.popLoop(fc), end, top)
}

func (c *Compiler) compileDoWhile(fc *funcCtx, s *ast.DoWhileStatement) {
	l := c.pushLoop(fc, "")
	top := len(fc.instrs)
	c.compileStatement(fc, s.Body)
	continueTarget := len(fc.instrs)
	l.continueTarget = continueTarget
	testReg := c.compileExpression(fc, s.Test)
	c.emit(fc, opcode.Instr{Op: opcode.JumpIfTrue, A: testReg, Target: top}, s.Span)
	fc.regs.free(testReg)
	end := len(fc.instrs)
	c.patchLoopExits(fc, c.popLoop(fc), end, continueTarget)
}

// forLoopLetNames returns the names a `for(let/const ...)` initializer
// binds, or nil for a `var` initializer (or no initializer at all) —
// those don't get a fresh per-iteration environment, matching plain
// `var`'s ordinary function-scoped semantics.
func forLoopLetNames(s *ast.ForStatement) []string {
	vd, ok := s.Init.(*ast.VarDeclaration)
	if !ok || vd.Kind == ast.VarKindVar {
		return nil
	}
	var names []string
	for _, d := range vd.Declarations {
		names = append(names, patternBoundNames(d.Target)...)
	}
	return names
}

// compileFor lowers a C-style for loop. When the initializer is
// `let`/`const`, spec.md §4.2 requires each iteration's closures to
// capture a distinct binding (`for(let i=0;i<3;i++) a.push(()=>i)`
// must produce "0,1,2", not "3,3,3"): PushScope opens the environment
// the initializer declares into, and the first iteration runs in it;
// CloneScope at the end of every iteration, just before the update (so
// also on `continue`), replaces the active environment with a fresh
// sibling carrying the loop variables' current values forward, and the
// update, the next test and the next body run against that new
// environment, which no earlier closure holds. PopScope restores the
// pre-loop environment once the
// loop exits, whether by the test failing or by a `break`.
func (c *Compiler) compileFor(fc *funcCtx, s *ast.ForStatement) {
	outer := fc.scope
	fc.scope = newScope(outer, false)

	letNames := forLoopLetNames(s)
	perIteration := len(letNames) > 0
	if perIteration {
		c.emit(fc, opcode.Instr{Op: opcode.PushScope}, s.Span)
	}
	if s.Init != nil {
		c.compileStatement(fc, s.Init)
	}
	l := c.pushLoop(fc, "")
	top := len(fc.instrs)
	var exitJump int
	hasTest := s.Test != nil
	if hasTest {
		testReg := c.compileExpression(fc, s.Test)
		exitJump = c.emit(fc, opcode.Instr{Op: opcode.JumpIfFalse, A: testReg}, s.Span)
		fc.regs.free(testReg)
	}
	c.compileStatement(fc, s.Body)
	continueTarget := len(fc.instrs)
	if perIteration {
		namesConst := c.addConst(fc, chunk.Const{Kind: chunk.ConstNames, Names: letNames})
		c.emit(fc, opcode.Instr{Op: opcode.CloneScope, Const: namesConst}, s.Span)
	}
	if s.Update != nil {
		updReg := c.compileExpression(fc, s.Update)
		fc.regs.free(updReg)
	}
	c.emit(fc, opcode.Instr{Op: opcode.Jump, Target: top}, s.Span)
	end := len(fc.instrs)
	if hasTest {
		fc.instrs[exitJump].Target = end
	}
	c.patchLoopExits(fc, c.popLoop(fc), end, continueTarget)
	if perIteration {
		c.emit(fc, opcode.Instr{Op: opcode.PopScope}, s.Span)
	}
	fc.scope = outer
}

func (c *Compiler) compileForIn(fc *funcCtx, s *ast.ForInStatement) {
	c.compileForEachProtocol(fc, s.Left, s.Right, s.Body, s.Span, false)
}

func (c *Compiler) compileForOf(fc *funcCtx, s *ast.ForOfStatement) {
	c.compileForEachProtocol(fc, s.Left, s.Right, s.Body, s.Span, true)
}

// compileForEachProtocol lowers both for-in and for-of: the right-hand
// side is evaluated once into an iterator/enumerator register, then
// for_of_next (which the VM specializes per for-in/for-of via a flag
// carried in C: keys for for-in, values for for-of) drives the loop. A
// push_iter_try marks the body, but no close step runs on
// break/return/throw: the unwinder passes over that marker, and the
// source was already copied into an internal item list when the loop
// began.
func (c *Compiler) compileForEachProtocol(fc *funcCtx, left ast.Pattern, right ast.Expression, body ast.Statement, span ast.Span, isOf bool) {
	srcReg := c.compileExpression(fc, right)
	iterReg, _ := fc.regs.alloc()
	kind := 0
	if isOf {
		kind = 1
	}
	c.emit(fc, opcode.Instr{Op: opcode.ForOfNext, A: iterReg, B: srcReg, C: kind}, span)
	fc.regs.free(srcReg)

	l := c.pushLoop(fc, "")
	top := len(fc.instrs)
	valReg, _ := fc.regs.alloc()
	doneReg, _ := fc.regs.alloc()
	c.emit(fc, opcode.Instr{Op: opcode.ForOfNext, A: valReg, B: iterReg, C: doneReg}, span)
	exitJump := c.emit(fc, opcode.Instr{Op: opcode.JumpIfTrue, A: doneReg}, span)
	fc.regs.free(doneReg)

	tryIdx := c.emit(fc, opcode.Instr{Op: opcode.PushIterTry, A: iterReg}, span)
	fc.tryDepth++

	outer := fc.scope
	fc.scope = newScope(outer, false)
	c.declarePattern(fc, left, true, false)
	c.assignPattern(fc, left, valReg, span)
	fc.regs.free(valReg)
	c.compileStatement(fc, body)
	fc.scope = outer

	c.emit(fc, opcode.Instr{Op: opcode.PopTry}, span)
	fc.tryDepth--
	_ = tryIdx
	c.emit(fc, opcode.Instr{Op: opcode.Jump, Target: top}, span)
	end := len(fc.instrs)
	fc.instrs[exitJump].Target = end
	fc.regs.free(iterReg)
	c.patchLoopExits(fc, c.popLoop(fc), end, top)
}

func (c *Compiler) compileSwitch(fc *funcCtx, s *ast.SwitchStatement) {
	discReg := c.compileExpression(fc, s.Discriminant)
	c.pushSwitch(fc)
	var caseJumps []int
	defaultIdx := -1
	for i, sc := range s.Cases {
		if sc.Test == nil {
			defaultIdx = i
			continue
		}
		testReg := c.compileExpression(fc, sc.Test)
		cmpReg, _ := fc.regs.alloc()
		c.emit(fc, opcode.Instr{Op: opcode.StrictEq, A: cmpReg, B: discReg, C: testReg}, sc.Span)
		fc.regs.free(testReg)
		jmp := c.emit(fc, opcode.Instr{Op: opcode.JumpIfTrue, A: cmpReg}, sc.Span)
		fc.regs.free(cmpReg)
		caseJumps = append(caseJumps, jmp)
	}
	fc.regs.free(discReg)
	endJump := c.emit(fc, opcode.Instr{Op: opcode.Jump}, s.Span)

	bodyStarts := make([]int, len(s.Cases))
	ci := 0
	for i, sc := range s.Cases {
		bodyStarts[i] = len(fc.instrs)
		if sc.Test != nil {
			fc.instrs[caseJumps[ci]].Target = bodyStarts[i]
			ci++
		}
		for _, stmt := range sc.Body {
			c.compileStatement(fc, stmt)
		}
	}
	if defaultIdx >= 0 {
		fc.instrs[endJump].Target = bodyStarts[defaultIdx]
	} else {
		fc.instrs[endJump].Target = len(fc.instrs)
	}
	end := len(fc.instrs)
	c.patchLoopExits(fc, c.popLoop(fc), end, end)
}

// runFinallysAcross re-compiles, innermost first, the statements of every
// currently-open try's finally block that a control-transfer compiled at
// this point would otherwise jump past without running — i.e. every entry
// of fc.openTrys opened strictly after minDepth loops/switches were active.
// Pass -1 for a function-wide exit (return), crossing every open finally;
// pass a loop's activationDepth for a break/continue targeting that loop,
// crossing only the finally blocks entered since that loop started.
//
// While re-compiling one try's finally body, fc.openTrys is temporarily
// truncated to exclude that try (and anything opened inside it), so a
// return/break/continue lexically inside the finally block itself only
// reruns the *outer* finally blocks, never this one again.
func (c *Compiler) runFinallysAcross(fc *funcCtx, minDepth int) {
	trys := fc.openTrys
	for i := len(trys) - 1; i >= 0; i-- {
		if trys[i].loopDepthAtOpen <= minDepth {
			break
		}
		saved := fc.openTrys
		fc.openTrys = trys[:i]
		for _, stmt := range trys[i].finallyBody {
			c.compileStatement(fc, stmt)
		}
		fc.openTrys = saved
	}
}

func (c *Compiler) compileBreak(fc *funcCtx, s *ast.BreakStatement) {
	l := c.findLoop(fc, s.Label)
	if l == nil {
		c.errorf(engineerrInternal(), s.Span, "break outside loop or switch")
		return
	}
	c.runFinallysAcross(fc, l.activationDepth)
	idx := c.emit(fc, opcode.Instr{Op: opcode.Jump}, s.Span)
	l.breakJumps = append(l.breakJumps, idx)
}

func (c *Compiler) compileContinue(fc *funcCtx, s *ast.ContinueStatement) {
	l := c.findLoopSkippingSwitch(fc, s.Label)
	if l == nil {
		c.errorf(engineerrInternal(), s.Span, "continue outside loop")
		return
	}
	c.runFinallysAcross(fc, l.activationDepth)
	idx := c.emit(fc, opcode.Instr{Op: opcode.Jump}, s.Span)
	l.continueJumps = append(l.continueJumps, idx)
}

func (c *Compiler) findLoop(fc *funcCtx, label string) *loopLabels {
	if label == "" {
		if len(fc.loops) == 0 {
			return nil
		}
		return fc.loops[len(fc.loops)-1]
	}
	for i := len(fc.loops) - 1; i >= 0; i-- {
		if fc.loops[i].label == label {
			return fc.loops[i]
		}
	}
	return nil
}

// findLoopSkippingSwitch is findLoop but, for an unlabeled continue,
// skips switch frames — `continue` always targets the nearest loop,
// never an enclosing switch.
func (c *Compiler) findLoopSkippingSwitch(fc *funcCtx, label string) *loopLabels {
	if label != "" {
		return c.findLoop(fc, label)
	}
	for i := len(fc.loops) - 1; i >= 0; i-- {
		if !fc.loops[i].isSwitch {
			return fc.loops[i]
		}
	}
	return nil
}

func (c *Compiler) compileReturn(fc *funcCtx, s *ast.ReturnStatement) {
	var reg int
	if s.Argument != nil {
		reg = c.compileExpression(fc, s.Argument)
	} else {
		reg, _ = fc.regs.alloc()
		c.emit(fc, opcode.Instr{Op: opcode.LoadUndefined, A: reg}, s.Span)
	}
	// A return exits the whole function, so every currently-open finally
	// runs first, outermost last, regardless of any loop nesting.
	c.runFinallysAcross(fc, -1)
	c.emit(fc, opcode.Instr{Op: opcode.Return, A: reg}, s.Span)
	fc.regs.free(reg)
}

func (c *Compiler) compileThrow(fc *funcCtx, s *ast.ThrowStatement) {
	reg := c.compileExpression(fc, s.Argument)
	c.emit(fc, opcode.Instr{Op: opcode.Throw, A: reg}, s.Span)
	fc.regs.free(reg)
}

// compileTry lowers try/catch/finally per spec.md §4.5's "finally always
// runs, a catch-less try re-throws after finally": PushTry records both an
// optional catch target and an optional finally target on one tryHandler.
// Normal completion of the try body (or, when present, the catch body)
// explicitly marks the pending completion as normal and jumps into a
// single shared copy of the finally block, ending in ResumeCompletion;
// an exception the runtime raise() finds no catch for, but does find a
// finally for, is routed into that same shared block with a pending
// completionThrow, so ResumeCompletion re-raises it once the finally has
// run (see internal/vm/vm.go). Because that runtime protocol only ever
// fires for a *thrown* exception, a return/break/continue that must pass
// through an enclosing finally on its way out instead has that finally's
// statements re-compiled inline right before the exit jump, via
// runFinallysAcross and funcCtx.openTrys.
func (c *Compiler) compileTry(fc *funcCtx, s *ast.TryStatement) {
	hasFinally := s.Finally != nil
	hasCatch := s.Handler != nil

	pushIdx := c.emit(fc, opcode.Instr{Op: opcode.PushTry, A: boolToInt(hasCatch), B: boolToInt(hasFinally)}, s.Span)
	fc.tryDepth++
	if hasFinally {
		fc.openTrys = append(fc.openTrys, &openTry{finallyBody: s.Finally.Body, loopDepthAtOpen: len(fc.loops)})
	}

	c.compileStatement(fc, &ast.BlockStatement{Body: s.Block.Body})
	c.emit(fc, opcode.Instr{Op: opcode.PopTry}, s.Span)
	fc.tryDepth--

	var jumpsToFinally, jumpsToAfter []int
	if hasFinally {
		c.emit(fc, opcode.Instr{Op: opcode.SetCompletionNormal}, s.Span)
		jumpsToFinally = append(jumpsToFinally, c.emit(fc, opcode.Instr{Op: opcode.Jump}, s.Span))
	} else {
		jumpsToAfter = append(jumpsToAfter, c.emit(fc, opcode.Instr{Op: opcode.Jump}, s.Span))
	}

	if hasCatch {
		catchTarget := len(fc.instrs)
		fc.instrs[pushIdx].Target = catchTarget
		outer := fc.scope
		fc.scope = newScope(outer, false)
		excReg, _ := fc.regs.alloc()
		if s.Handler.Param != nil {
			c.declarePattern(fc, s.Handler.Param, true, false)
			c.assignPattern(fc, s.Handler.Param, excReg, s.Handler.Span)
		}
		fc.regs.free(excReg)
		for _, stmt := range s.Handler.Body.Body {
			c.compileStatement(fc, stmt)
		}
		fc.scope = outer
		if hasFinally {
			c.emit(fc, opcode.Instr{Op: opcode.SetCompletionNormal}, s.Span)
			jumpsToFinally = append(jumpsToFinally, c.emit(fc, opcode.Instr{Op: opcode.Jump}, s.Span))
		} else {
			jumpsToAfter = append(jumpsToAfter, c.emit(fc, opcode.Instr{Op: opcode.Jump}, s.Span))
		}
	}

	if hasFinally {
		// This try's own finally is no longer "open" for code from here
		// on — including its own body, compiled next — only for outer
		// trys still on the stack.
		fc.openTrys = fc.openTrys[:len(fc.openTrys)-1]

		finallyTarget := len(fc.instrs)
		fc.instrs[pushIdx].C = finallyTarget
		for _, idx := range jumpsToFinally {
			fc.instrs[idx].Target = finallyTarget
		}
		for _, stmt := range s.Finally.Body {
			c.compileStatement(fc, stmt)
		}
		c.emit(fc, opcode.Instr{Op: opcode.ResumeCompletion}, s.Span)
	}
	for _, idx := range jumpsToAfter {
		fc.instrs[idx].Target = len(fc.instrs)
	}
}

func (c *Compiler) compileLabeled(fc *funcCtx, s *ast.LabeledStatement) {
	switch body := s.Body.(type) {
	case *ast.ForStatement, *ast.ForInStatement, *ast.ForOfStatement, *ast.WhileStatement, *ast.DoWhileStatement:
		// Re-dispatch with the label attached to the loop the compiler is
		// about to push, by temporarily tagging pushLoop's next call.
		c.pendingLabel = s.Label
		c.compileStatement(fc, body)
		c.pendingLabel = ""
	default:
		c.compileStatement(fc, s.Body)
	}
}
