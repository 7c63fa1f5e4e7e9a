// Package vm implements the register-file interpreter of spec.md §4.3:
// a fetch-decode-execute loop over internal/chunk.Chunk instructions,
// trampolined calls (an explicit frame stack instead of Go recursion so
// host-stack depth stays constant regardless of source-level call
// depth), the exception/finally handler stack of §4.5, and generator/
// async suspension via explicit frame-state capture. Structurally this
// is the same explicit work-loop-with-state-machine shape
// runtime/executor's shell worker uses for its read/status/flush select
// loop (adapted here from process-IO multiplexing to bytecode
// dispatch), and the per-call context-threading style of
// runtime/execution/interpreter_context.go (adapted from a single
// mutable execution context to an explicit stack of immutable-once-
// pushed trampoline frames).
package vm

import (
	"log/slog"
	"math"

	"github.com/opal-lang/scriptengine/ast"
	"github.com/opal-lang/scriptengine/internal/chunk"
	"github.com/opal-lang/scriptengine/internal/engineerr"
	"github.com/opal-lang/scriptengine/internal/env"
	"github.com/opal-lang/scriptengine/internal/heap"
	"github.com/opal-lang/scriptengine/internal/object"
	"github.com/opal-lang/scriptengine/internal/opcode"
	"github.com/opal-lang/scriptengine/internal/value"
)

// closure is the Native payload of a KindFunctionBytecode object: the
// chunk to run plus the environment it closed over at definition time.
// It is not itself heap-tracked, but it can hold live references to
// heap objects through its captured environment's bindings, so it
// implements TraceRefs for internal/heap's mark phase.
type closure struct {
	chunk    *chunk.Chunk
	outer    *env.Environment
	thisVal  value.Value
	hasThis  bool // arrow functions close over the defining this
	isArrow  bool
	// homeProto is the target super.foo() resolves method lookups
	// against: for an instance method the [[Prototype]] of the object it
	// was installed on, for a static method the parent constructor (nil
	// when the class has none); nil for ordinary functions.
	homeProto *object.Object
}

// TraceRefs satisfies internal/heap's duck-typed GC root interface.
// Bindings captured by the closed-over environment are themselves
// rooted by the guard that created them (see VM.newFrame/vm.Heap.CreateGuard
// usage in execCall), so the only extra reference a closure can hold
// live past its defining frame is a bound `this` for an arrow function.
func (c *closure) TraceRefs() []*object.Object {
	if c.hasThis && c.thisVal.Kind() == value.Object {
		if o, ok := c.thisVal.Obj().(*object.Object); ok {
			return []*object.Object{o}
		}
	}
	return nil
}

// tryHandler is one entry of a frame's exception-handling stack
// (spec.md §4.5): an optional catch target, an optional finally
// target, and the register high-water mark to restore on unwind. A
// handler with neither hasCatch nor hasFinally set (a malformed or
// iterator-close entry) contributes nothing to exception routing and
// is simply unwound past.
type tryHandler struct {
	hasCatch      bool
	catchTarget   int
	hasFinally    bool
	finallyTarget int
	isIterClose   bool
	iterReg       int
	regHigh       int
}

// completionKind tags what a shared finally block must do once it
// finishes running, for the one non-local-exit case that reaches it at
// runtime rather than being inlined at compile time: an exception
// raise()d past a catch-less try that still has a finally. compileTry
// routes every OTHER non-normal exit (return/break/continue) by
// re-compiling the finally's statements inline at the exit site
// instead (see internal/compiler/statements.go), so completionThrow is
// the only abnormal kind a Frame's finallyCompletion ever carries.
type completionKind int

const (
	completionNormal completionKind = iota
	completionThrow
)

// pendingCompletion is set by raise() immediately before jumping into a
// finally block reached because no enclosing catch handled the
// exception, and consumed by that block's trailing ResumeCompletion
// instruction: completionNormal falls through, completionThrow
// re-raises so the (already-popped) tryStack routes it to the next
// enclosing handler or the top-level uncaught path.
type pendingCompletion struct {
	kind  completionKind
	value value.Value
}

// Frame is one trampoline frame: the state a call pushes and a return
// pops, so the Go call stack never grows with source-level call depth.
type Frame struct {
	chunk       *chunk.Chunk
	ip          int
	regs        []value.Value
	guard       *heap.Guard
	environment *env.Environment
	tryStack    []*tryHandler
	returnReg   int // in the *caller* frame
	callerFrame *Frame

	this      value.Value
	newTarget value.Value

	isGenerator bool
	isAsync     bool
	suspended   *pendingCompletion
	resumeReg   int // register Resume writes the host's answer into

	// finallyCompletion is set by raise() immediately before jumping into
	// a shared finally block reached because no enclosing catch handled
	// the exception, and consumed by that block's ResumeCompletion.
	finallyCompletion *pendingCompletion

	// yieldDelegates tracks a `yield*` expression's inner iterator across
	// suspend/resume, keyed by the YieldDelegate instruction's own index
	// so a loop body containing more than one yield* keeps each one's
	// iterator separate. See execYieldDelegate.
	yieldDelegates map[int]*iterState

	// asyncPromise is set on a frame pushed by createAsyncCall: the
	// promise this frame's eventual completion (normal return, falling
	// off the end, or an exception it does not itself catch) settles,
	// instead of landing its result straight in the caller's register
	// the way an ordinary synchronous call does. See popFrame and raise.
	asyncPromise *object.Object
}

// Suspension describes why Execute returned control to the host without
// completing, per spec.md §6.2/§6.3.
type SuspensionKind int

const (
	SuspendNone SuspensionKind = iota
	SuspendNeedImports
	SuspendOrder
	// SuspendYield marks a generator frame's dispatch stopping at a
	// yield/yield* point; only code internal to this package ever sees
	// it (DriveGenerator's pumpGenerator loop), since it never escapes to
	// Engine.Step the way SuspendOrder/SuspendNeedImports do.
	SuspendYield
)

type ImportRequest struct {
	Specifier    string
	ResolvedPath string
	Importer     string
}

type PendingOrder struct {
	ID      uint64
	Payload value.Value
}

// Result is the outcome of one Execute call, mapping onto spec.md §6.2's
// Result | Suspended | NeedImports union.
type Result struct {
	Suspension  SuspensionKind
	Value       value.Value
	Err         error
	NeedImports []ImportRequest
	Pending     []PendingOrder
	Cancelled   []uint64
}

// VM runs chunks against a heap and a global environment. One VM
// instance corresponds to spec.md §1's "one engine = one cooperative
// context": no two goroutines may call into the same VM concurrently.
type VM struct {
	logger        *slog.Logger
	Heap          *heap.Heap
	Global        *env.Environment
	frames        []*Frame
	MaxCallDepth  int
	StepBudget    int
	stepsRun      int
	ObjectProto    *object.Object
	FunctionProto  *object.Object
	ArrayProto     *object.Object
	GeneratorProto *object.Object
	PromiseProto   *object.Object

	finalValue value.Value
	finalIsSet bool

	// scratchReturn receives a popped frame's return value when that
	// frame was pushed with returnReg == scratchReturnReg — the sentinel
	// CallFunction and other non-opcode-driven call sites use to capture
	// a nested call's result without a real caller register to land it
	// in (see invoke/popFrame).
	scratchReturn value.Value

	pendingOrders   []PendingOrder
	cancelledOrders []uint64
	needImports     []ImportRequest
	nextOrderID     uint64
}

type Option func(*VM)

func WithLogger(logger *slog.Logger) Option { return func(v *VM) { v.logger = logger } }

// Logger exposes the VM's configured logger to the builtins package
// (console.log and friends), falling back to slog.Default() the same
// way the VM itself does internally when none was supplied.
func (vm *VM) Logger() *slog.Logger {
	if vm.logger != nil {
		return vm.logger
	}
	return slog.Default()
}
func WithMaxCallDepth(n int) Option         { return func(v *VM) { v.MaxCallDepth = n } }
func WithStepBudget(n int) Option           { return func(v *VM) { v.StepBudget = n } }
func WithPrototypes(objectProto, functionProto, arrayProto *object.Object) Option {
	return func(v *VM) {
		v.ObjectProto, v.FunctionProto, v.ArrayProto = objectProto, functionProto, arrayProto
	}
}

// WithGeneratorProto wires the prototype internal/builtins installs
// next/throw/return onto, so vm.invoke's createGenerator (run before
// internal/builtins even exists, at chunk-compile time there is no such
// dependency) can attach it to every generator instance it allocates.
func WithGeneratorProto(p *object.Object) Option { return func(v *VM) { v.GeneratorProto = p } }

// WithPromiseProto wires the prototype NewPromise attaches to every
// promise it allocates (async-call promises included) onto the actual
// Promise.prototype internal/builtins installs then/catch/finally onto,
// rather than leaving a raw promise with only ObjectProto's surface.
func WithPromiseProto(p *object.Object) Option { return func(v *VM) { v.PromiseProto = p } }

func New(h *heap.Heap, global *env.Environment, opts ...Option) *VM {
	v := &VM{
		logger:       slog.Default(),
		Heap:         h,
		Global:       global,
		MaxCallDepth: 1024,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// NewFunction wraps ck as a callable heap object bound to defEnv, the
// environment active where the function was defined — the only
// "upvalue" mechanism this VM needs, since names resolve dynamically
// through the environment chain rather than a flattened upvalue array.
func (vm *VM) NewFunction(guard *heap.Guard, ck *chunk.Chunk, defEnv *env.Environment) *object.Object {
	kind := object.KindFunctionBytecode
	switch {
	case ck.Generator && ck.Async:
		kind = object.KindFunctionAsyncGenerator
	case ck.Generator:
		kind = object.KindFunctionGenerator
	case ck.Async:
		kind = object.KindFunctionAsync
	}
	fn := vm.Heap.Allocate(guard, kind, vm.FunctionProto)
	fn.Native = &closure{chunk: ck, outer: defEnv, isArrow: ck.IsArrow}
	fn.DefineOwn(object.StringKey("name"), object.NameLengthDescriptor(value.Str(ck.Name)))
	fn.DefineOwn(object.StringKey("length"), object.NameLengthDescriptor(value.Num(float64(ck.ParamCount))))
	return fn
}

// Execute runs ck to completion (or until the first suspension point)
// using a fresh top-level trampoline frame, per spec.md §4.3's call
// protocol applied to the program/function entry point itself.
func (vm *VM) Execute(ck *chunk.Chunk, guard *heap.Guard) Result {
	frame := vm.newFrame(ck, guard, vm.Global, value.Undef(), value.Undef())
	// Top-level declarations land in the global environment itself, where
	// the engine's GetExport/GetExportNames read them.
	frame.environment = vm.Global
	vm.frames = append(vm.frames, frame)
	vm.finalIsSet = false
	return vm.run()
}

// Resume continues a previously suspended run (an async frame whose
// await settled, or a module whose NeedImports were provided) by
// pushing resumeVal into the top frame's designated register and
// re-entering the trampoline loop.
func (vm *VM) Resume(resumeVal value.Value, isThrow bool) Result {
	if len(vm.frames) == 0 {
		return Result{Err: engineerr.Internal("resume called with no suspended frame")}
	}
	f := vm.top()
	if isThrow {
		res, done := vm.raise(f, resumeVal)
		if done {
			return res
		}
	} else if f.suspended != nil {
		f.regs[f.resumeReg] = resumeVal
		f.suspended = nil
	}
	return vm.run()
}

func (vm *VM) newFrame(ck *chunk.Chunk, guard *heap.Guard, outer *env.Environment, this, newTarget value.Value) *Frame {
	e := env.New(outer, ck.BindingCount, true)
	return &Frame{
		chunk:       ck,
		regs:        make([]value.Value, ck.MaxRegisters),
		guard:       guard,
		environment: e,
		this:        this,
		newTarget:   newTarget,
		isGenerator: ck.Generator,
		isAsync:     ck.Async,
	}
}

func (vm *VM) top() *Frame { return vm.frames[len(vm.frames)-1] }

// FrameSnapshot is one call frame's postmortem summary: which chunk it
// was executing, at what instruction, and whether it was a generator/
// async frame waiting on a suspension.
type FrameSnapshot struct {
	ChunkName   string `cbor:"chunk_name"`
	IP          int    `cbor:"ip"`
	IsGenerator bool   `cbor:"is_generator"`
	IsAsync     bool   `cbor:"is_async"`
	Suspended   bool   `cbor:"suspended"`
}

// Snapshot is a point-in-time dump of this VM's call stack and pending
// host-protocol state (spec.md §4.7's NeedImports/orders), consumed by
// internal/diag to build a crash/postmortem export alongside a
// heap.Snapshot.
type Snapshot struct {
	Frames          []FrameSnapshot `cbor:"frames"`
	StepsRun        int             `cbor:"steps_run"`
	PendingOrders   int             `cbor:"pending_orders"`
	NeedImports     int             `cbor:"need_imports"`
	CancelledOrders int             `cbor:"cancelled_orders"`
}

// Snapshot walks the current frame stack bottom-up, newest last, the
// same order the trampoline itself pushes them in.
func (vm *VM) Snapshot() Snapshot {
	frames := make([]FrameSnapshot, len(vm.frames))
	for i, f := range vm.frames {
		frames[i] = FrameSnapshot{
			ChunkName:   f.chunk.Name,
			IP:          f.ip,
			IsGenerator: f.isGenerator,
			IsAsync:     f.isAsync,
			Suspended:   f.suspended != nil,
		}
	}
	return Snapshot{
		Frames:          frames,
		StepsRun:        vm.stepsRun,
		PendingOrders:   len(vm.pendingOrders),
		NeedImports:     len(vm.needImports),
		CancelledOrders: len(vm.cancelledOrders),
	}
}

// run is the fetch-decode-execute trampoline loop: it never recurses
// into itself for a source-level call, it only pushes/pops vm.frames.
func (vm *VM) run() Result {
	for {
		if vm.finalIsSet {
			vm.finalIsSet = false
			return Result{Value: vm.finalValue}
		}
		if len(vm.frames) == 0 {
			return Result{Value: value.Undef()}
		}
		f := vm.top()
		if f.ip >= len(f.chunk.Instructions) {
			// Fell off the end without an explicit return: undefined.
			vm.popFrame(value.Undef())
			continue
		}
		vm.stepsRun++
		if vm.StepBudget > 0 && vm.stepsRun > vm.StepBudget {
			return Result{Err: engineerr.New(engineerr.KindCancellation, ast.Span{}, "step budget exceeded")}
		}

		instr := f.chunk.Instructions[f.ip]
		f.ip++

		res, done := vm.dispatch(f, instr)
		if done {
			return res
		}
	}
}

// dispatch executes one instruction against frame f. The bool return
// signals the run loop to stop and surface res to the host (either the
// program completed/errored or it suspended).
func (vm *VM) dispatch(f *Frame, instr opcode.Instr) (Result, bool) {
	switch instr.Op {
	case opcode.Nop, opcode.Debugger:
		// no-op

	case opcode.LoadUndefined:
		f.regs[instr.A] = value.Undef()
	case opcode.LoadNull:
		f.regs[instr.A] = value.Nul()
	case opcode.LoadTrue:
		f.regs[instr.A] = value.Bool(true)
	case opcode.LoadFalse:
		f.regs[instr.A] = value.Bool(false)
	case opcode.LoadConst:
		k := f.chunk.Constants[instr.Const]
		switch k.Kind {
		case chunk.ConstNumber:
			f.regs[instr.A] = value.Num(k.Num)
		case chunk.ConstString:
			f.regs[instr.A] = value.Str(k.Str)
		}
	case opcode.Move:
		f.regs[instr.A] = f.regs[instr.B]

	case opcode.Add:
		f.regs[instr.A] = vm.add(f.regs[instr.B], f.regs[instr.C])
	case opcode.Sub:
		f.regs[instr.A] = value.Num(value.ToNumber(f.regs[instr.B]) - value.ToNumber(f.regs[instr.C]))
	case opcode.Mul:
		f.regs[instr.A] = value.Num(value.ToNumber(f.regs[instr.B]) * value.ToNumber(f.regs[instr.C]))
	case opcode.Div:
		f.regs[instr.A] = value.Num(value.ToNumber(f.regs[instr.B]) / value.ToNumber(f.regs[instr.C]))
	case opcode.Mod:
		f.regs[instr.A] = value.Num(math.Mod(value.ToNumber(f.regs[instr.B]), value.ToNumber(f.regs[instr.C])))
	case opcode.Exp:
		f.regs[instr.A] = value.Num(math.Pow(value.ToNumber(f.regs[instr.B]), value.ToNumber(f.regs[instr.C])))
	case opcode.BitAnd:
		f.regs[instr.A] = value.Num(float64(toInt32(f.regs[instr.B]) & toInt32(f.regs[instr.C])))
	case opcode.BitOr:
		f.regs[instr.A] = value.Num(float64(toInt32(f.regs[instr.B]) | toInt32(f.regs[instr.C])))
	case opcode.BitXor:
		f.regs[instr.A] = value.Num(float64(toInt32(f.regs[instr.B]) ^ toInt32(f.regs[instr.C])))
	case opcode.Shl:
		f.regs[instr.A] = value.Num(float64(toInt32(f.regs[instr.B]) << (uint32(toInt32(f.regs[instr.C])) & 31)))
	case opcode.Shr:
		f.regs[instr.A] = value.Num(float64(toInt32(f.regs[instr.B]) >> (uint32(toInt32(f.regs[instr.C])) & 31)))
	case opcode.UShr:
		f.regs[instr.A] = value.Num(float64(uint32(toInt32(f.regs[instr.B])) >> (uint32(toInt32(f.regs[instr.C])) & 31)))
	case opcode.Eq:
		f.regs[instr.A] = value.Bool(value.LooseEquals(f.regs[instr.B], f.regs[instr.C]))
	case opcode.NotEq:
		f.regs[instr.A] = value.Bool(!value.LooseEquals(f.regs[instr.B], f.regs[instr.C]))
	case opcode.StrictEq:
		f.regs[instr.A] = value.Bool(value.StrictEquals(f.regs[instr.B], f.regs[instr.C]))
	case opcode.StrictNotEq:
		f.regs[instr.A] = value.Bool(!value.StrictEquals(f.regs[instr.B], f.regs[instr.C]))
	case opcode.Lt:
		f.regs[instr.A] = value.Bool(compareLess(f.regs[instr.B], f.regs[instr.C]))
	case opcode.LtEq:
		f.regs[instr.A] = value.Bool(!compareLess(f.regs[instr.C], f.regs[instr.B]) && !bothNaN(f.regs[instr.B], f.regs[instr.C]))
	case opcode.Gt:
		f.regs[instr.A] = value.Bool(compareLess(f.regs[instr.C], f.regs[instr.B]))
	case opcode.GtEq:
		f.regs[instr.A] = value.Bool(!compareLess(f.regs[instr.B], f.regs[instr.C]) && !bothNaN(f.regs[instr.B], f.regs[instr.C]))
	case opcode.In:
		return vm.execIn(f, instr)
	case opcode.Instanceof:
		return vm.execInstanceof(f, instr)
	case opcode.Neg:
		f.regs[instr.A] = value.Num(-value.ToNumber(f.regs[instr.B]))
	case opcode.Pos:
		f.regs[instr.A] = value.Num(value.ToNumber(f.regs[instr.B]))
	case opcode.Not:
		f.regs[instr.A] = value.Bool(!value.ToBoolean(f.regs[instr.B]))
	case opcode.BitNot:
		f.regs[instr.A] = value.Num(float64(^toInt32(f.regs[instr.B])))
	case opcode.Typeof:
		f.regs[instr.A] = value.Str(value.TypeOf(f.regs[instr.B], vm.isCallable(f.regs[instr.B])))

	case opcode.Inc:
		f.regs[instr.A] = value.Num(value.ToNumber(f.regs[instr.B]) + 1)
	case opcode.Dec:
		f.regs[instr.A] = value.Num(value.ToNumber(f.regs[instr.B]) - 1)

	case opcode.Jump:
		f.ip = instr.Target
	case opcode.JumpIfTrue:
		if value.ToBoolean(f.regs[instr.A]) {
			f.ip = instr.Target
		}
	case opcode.JumpIfFalse:
		if !value.ToBoolean(f.regs[instr.A]) {
			f.ip = instr.Target
		}
	case opcode.JumpIfNullish:
		if !f.regs[instr.A].IsNullish() {
			f.ip = instr.Target
		}

	case opcode.DeclareBinding:
		name := f.chunk.Constants[instr.Const].Str
		f.environment.Declare(name, instr.A != 0, instr.B != 0)
		if instr.B == 0 {
			f.environment.Initialize(name, value.Undef())
		}
	case opcode.GetByName:
		return vm.execGetByName(f, instr)
	case opcode.SetByName:
		return vm.execSetByName(f, instr)

	case opcode.NewObject:
		o := vm.Heap.Allocate(f.guard, object.KindPlain, vm.ObjectProto)
		f.regs[instr.A] = value.Obj(o)
	case opcode.NewArray:
		o := vm.Heap.Allocate(f.guard, object.KindArray, vm.ArrayProto)
		f.regs[instr.A] = value.Obj(o)
	case opcode.GetProp:
		return vm.execGetProp(f, instr, value.ToPropertyKeyString(f.regs[instr.C]))
	case opcode.GetPropConst:
		return vm.execGetProp(f, instr, f.chunk.Constants[instr.Const].Str)
	case opcode.SetProp:
		return vm.execSetProp(f, instr, value.ToPropertyKeyString(f.regs[instr.B]), instr.C)
	case opcode.SetPropConst:
		return vm.execSetProp(f, instr, f.chunk.Constants[instr.Const].Str, instr.B)
	case opcode.DeleteProp:
		return vm.execDeleteProp(f, instr)
	case opcode.HasProp:
		return vm.execIn(f, instr)

	case opcode.Call:
		return vm.execCall(f, instr, false)
	case opcode.CallMethod:
		return vm.execCall(f, instr, true)
	case opcode.Construct:
		return vm.execConstruct(f, instr)
	case opcode.Return:
		vm.popFrame(f.regs[instr.A])
	case opcode.DirectEval:
		return vm.execDirectEval(f, instr)

	case opcode.Throw:
		return vm.raise(f, f.regs[instr.A])
	case opcode.PushTry:
		f.tryStack = append(f.tryStack, &tryHandler{
			hasCatch: instr.A != 0, catchTarget: instr.Target,
			hasFinally: instr.B != 0, finallyTarget: instr.C,
			regHigh: len(f.regs),
		})
	case opcode.PushIterTry:
		f.tryStack = append(f.tryStack, &tryHandler{isIterClose: true, iterReg: instr.A, regHigh: len(f.regs)})
	case opcode.PopTry:
		if len(f.tryStack) > 0 {
			f.tryStack = f.tryStack[:len(f.tryStack)-1]
		}

	case opcode.SetCompletionNormal:
		f.finallyCompletion = &pendingCompletion{kind: completionNormal}
	case opcode.ResumeCompletion:
		pc := f.finallyCompletion
		f.finallyCompletion = nil
		if pc != nil && pc.kind == completionThrow {
			return vm.raise(f, pc.value)
		}

	case opcode.CreateClosure:
		cl := f.chunk.Constants[instr.Const].Chunk
		fn := vm.NewFunction(f.guard, cl, f.environment)
		if instr.Target != 0 {
			// Derived-class constructor: instr.B carries the super-class
			// register; bind it as the hidden super-lookup target.
			super := f.regs[instr.B]
			fn.DefineOwn(object.StringKey("__proto_ctor__"), object.NameLengthDescriptor(super))
		}
		f.regs[instr.A] = value.Obj(fn)
	case opcode.DefineMethod, opcode.DefineAccessor:
		return vm.execDefineMethod(f, instr)

	case opcode.GetPrivate:
		return vm.execGetPrivate(f, instr)
	case opcode.SetPrivate:
		return vm.execSetPrivate(f, instr)
	case opcode.HasPrivate:
		f.regs[instr.A] = value.Bool(vm.hasPrivate(f.regs[instr.B], f.chunk.Constants[instr.Const].Str))

	case opcode.ForOfNext:
		return vm.execForOfNext(f, instr)
	case opcode.IteratorClose:
		// Handled implicitly by the try unwinder; a bare instruction is a no-op.
	case opcode.Yield, opcode.YieldDelegate:
		return vm.execYield(f, instr)
	case opcode.Await:
		return vm.execAwait(f, instr)
	case opcode.SuspendOrder:
		return vm.execSuspendOrder(f, instr)

	case opcode.SpreadInto:
		vm.spreadInto(f.regs[instr.A], f.regs[instr.B])

	case opcode.PushScope:
		f.environment = env.New(f.environment, 0, false)
	case opcode.PopScope:
		if f.environment.Outer != nil {
			f.environment = f.environment.Outer
		}
	case opcode.CloneScope:
		names := f.chunk.Constants[instr.Const].Names
		old := f.environment
		next := env.New(old.Outer, len(names), false)
		for _, name := range names {
			old.CopyBinding(name, next)
		}
		f.environment = next

	default:
		return Result{Err: engineerr.Internal("unimplemented opcode %s", instr.Op)}, true
	}
	return Result{}, false
}

func (vm *VM) add(a, b value.Value) value.Value {
	if a.Kind() == value.String || b.Kind() == value.String {
		return value.Str(toDisplayString(a) + toDisplayString(b))
	}
	return value.Num(value.ToNumber(a) + value.ToNumber(b))
}

func toDisplayString(v value.Value) string {
	switch v.Kind() {
	case value.String:
		return v.Str()
	case value.Number:
		return object_numToString(v.Num())
	case value.Boolean:
		if v.Bool() {
			return "true"
		}
		return "false"
	case value.Undefined:
		return "undefined"
	case value.Null:
		return "null"
	default:
		return "[object Object]"
	}
}

func object_numToString(n float64) string {
	if math.IsNaN(n) {
		return "NaN"
	}
	if math.IsInf(n, 1) {
		return "Infinity"
	}
	if math.IsInf(n, -1) {
		return "-Infinity"
	}
	return value.ToPropertyKeyString(value.Num(n))
}

func compareLess(a, b value.Value) bool {
	if a.Kind() == value.String && b.Kind() == value.String {
		return a.Str() < b.Str()
	}
	an, bn := value.ToNumber(a), value.ToNumber(b)
	if math.IsNaN(an) || math.IsNaN(bn) {
		return false
	}
	return an < bn
}

func bothNaN(a, b value.Value) bool {
	return math.IsNaN(value.ToNumber(a)) || math.IsNaN(value.ToNumber(b))
}

func toInt32(v value.Value) int32 {
	n := value.ToNumber(v)
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0
	}
	return int32(int64(n))
}

func (vm *VM) isCallable(v value.Value) bool {
	if v.Kind() != value.Object {
		return false
	}
	o, ok := v.Obj().(*object.Object)
	return ok && o.IsCallable()
}

// spreadInto lives in vm_ops.go alongside the iterator machinery it
// shares with for-of (spreading a non-array iterable needs the same
// iterState this VM builds for loops).

// popFrame pops the current trampoline frame, landing retVal in the
// caller's requested register; when the popped frame was the bottom
// frame, retVal becomes the Result the run loop hands back to the host.
// scratchReturnReg and discardReturnReg are returnReg sentinels for
// frames pushed by a call site that has no real destination register in
// the caller (a getter/setter trap, or a native function's nested
// Function.prototype.call/apply): discardReturnReg throws the value
// away, scratchReturnReg lands it in vm.scratchReturn for the pusher to
// read back once the frame stack unwinds to where it started.
const (
	discardReturnReg = -1
	scratchReturnReg = -2
)

func (vm *VM) popFrame(retVal value.Value) {
	popped := vm.frames[len(vm.frames)-1]
	vm.frames = vm.frames[:len(vm.frames)-1]
	popped.guard.Release()
	if popped.asyncPromise != nil {
		vm.SettlePromise(popped.asyncPromise, retVal, false)
	}
	if len(vm.frames) == 0 {
		vm.finalValue = retVal
		vm.finalIsSet = true
		return
	}
	switch popped.returnReg {
	case discardReturnReg:
	case scratchReturnReg:
		vm.scratchReturn = retVal
	default:
		caller := vm.top()
		caller.regs[popped.returnReg] = retVal
	}
}

func (vm *VM) raise(f *Frame, errVal value.Value) (Result, bool) {
	for {
		for len(f.tryStack) > 0 {
			h := f.tryStack[len(f.tryStack)-1]
			f.tryStack = f.tryStack[:len(f.tryStack)-1]
			if h.isIterClose {
				continue
			}
			if h.hasCatch {
				f.ip = h.catchTarget
				f.regs[0] = errVal
				return Result{}, false
			}
			if h.hasFinally {
				f.finallyCompletion = &pendingCompletion{kind: completionThrow, value: errVal}
				f.ip = h.finallyTarget
				return Result{}, false
			}
			// Neither catch nor finally: this handler (a malformed bare
			// `try{}` with no handler and no finally) contributes nothing
			// to routing the exception — keep unwinding past it.
		}
		if f.asyncPromise != nil {
			// An async function's body throwing with nothing left to catch
			// it rejects the call's own promise instead of propagating into
			// whatever called it (spec.md section 4.8): the caller already
			// holds that promise from call time, so popping silently and
			// resuming the frame below is exactly what letting the call
			// "return" normally would do.
			vm.SettlePromise(f.asyncPromise, errVal, true)
			f.guard.Release()
			vm.frames = vm.frames[:len(vm.frames)-1]
			if len(vm.frames) == 0 {
				vm.finalValue = value.Undef()
				vm.finalIsSet = true
			}
			return Result{}, false
		}
		if len(vm.frames) <= 1 {
			var ee *engineerr.Error
			if o, ok := errVal.Obj().(*object.Object); ok {
				if d, has := o.Get(object.StringKey("message")); has {
					ee = engineerr.New(engineerr.KindType, ast.Span{}, "%s", value.ToPropertyKeyString(d.Value))
				}
			}
			if ee == nil {
				ee = engineerr.New(engineerr.KindType, ast.Span{}, "uncaught exception: %s", toDisplayString(errVal))
			}
			return Result{Err: ee}, true
		}
		vm.frames = vm.frames[:len(vm.frames)-1]
		f = vm.top()
	}
}
