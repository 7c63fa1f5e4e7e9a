// Package opcode enumerates the register-VM instruction set described
// in spec.md §4.3. Names are illustrative per the spec; this is one
// concrete instruction set satisfying the required semantics.
package opcode

type Op uint8

const (
	Nop Op = iota
	Halt
	Debugger

	// Moves and constants
	LoadUndefined
	LoadNull
	LoadTrue
	LoadFalse
	LoadConst
	Move

	// Arithmetic / logical / comparison
	Add
	Sub
	Mul
	Div
	Mod
	Exp
	BitAnd
	BitOr
	BitXor
	Shl
	Shr
	UShr
	Eq
	NotEq
	StrictEq
	StrictNotEq
	Lt
	LtEq
	Gt
	GtEq
	In
	Instanceof
	Neg
	Pos
	Not
	BitNot
	Typeof

	// Update
	Inc
	Dec

	// Control flow
	Jump
	JumpIfTrue
	JumpIfFalse
	JumpIfNullish

	// Environment access
	DeclareBinding
	GetByName
	SetByName

	// Objects and arrays
	NewObject
	NewArray
	GetProp
	GetPropConst
	SetProp
	SetPropConst
	DeleteProp
	HasProp

	// Calls
	Call
	CallMethod
	Construct
	Return
	DirectEval

	// Exceptions
	Throw
	PushTry
	PushIterTry
	PopTry

	// Closures and classes
	CreateClosure
	DefineMethod
	DefineAccessor

	// Private members
	GetPrivate
	SetPrivate
	HasPrivate

	// Iteration and suspension
	ForOfNext
	IteratorClose
	Yield
	YieldDelegate
	Await
	SuspendOrder

	// Spread / rest support
	SpreadInto

	// Per-iteration environments (spec.md §4.2 "per-iteration let
	// bindings"): PushScope opens a fresh child environment a loop's
	// initializer declares into; CloneScope, run at the end of every
	// iteration before the loop's update, replaces the current
	// environment with a new sibling
	// that carries the named bindings' live values forward; PopScope
	// restores the environment active before the loop once it exits.
	PushScope
	CloneScope
	PopScope

	// Try/finally completion protocol (spec.md §4.5 "finally always
	// runs"): SetCompletionNormal marks the frame's pending finally
	// completion as an ordinary fallthrough immediately before jumping
	// into a shared finally block; ResumeCompletion, emitted at that
	// block's end, re-raises when the completion it finds there is a
	// propagating exception instead of a normal completion. A
	// return/break/continue that must run an enclosing finally instead
	// has that finally's statements re-compiled inline at the exit site
	// (see internal/compiler/statements.go), so it never touches this
	// protocol.
	SetCompletionNormal
	ResumeCompletion
)

var names = [...]string{
	"nop", "halt", "debugger",
	"load_undefined", "load_null", "load_true", "load_false", "load_const", "move",
	"add", "sub", "mul", "div", "mod", "exp",
	"bit_and", "bit_or", "bit_xor", "shl", "shr", "ushr",
	"eq", "not_eq", "strict_eq", "strict_not_eq", "lt", "lt_eq", "gt", "gt_eq",
	"in", "instanceof", "neg", "pos", "not", "bit_not", "typeof",
	"inc", "dec",
	"jump", "jump_if_true", "jump_if_false", "jump_if_nullish",
	"declare_binding", "get_by_name", "set_by_name",
	"new_object", "new_array", "get_prop", "get_prop_const", "set_prop", "set_prop_const",
	"delete_prop", "has_prop",
	"call", "call_method", "construct", "return", "direct_eval",
	"throw", "push_try", "push_iter_try", "pop_try",
	"create_closure", "define_method", "define_accessor",
	"get_private", "set_private", "has_private",
	"for_of_next", "iterator_close", "yield", "yield_delegate", "await", "suspend_order",
	"spread_into",
	"push_scope", "clone_scope", "pop_scope",
	"set_completion_normal", "resume_completion",
}

func (op Op) String() string {
	if int(op) < len(names) {
		return names[op]
	}
	return "unknown"
}

// Instr is one decoded instruction. Not every field is meaningful for
// every op; A/B/C are register or small-integer operands, Const is a
// constant-pool index used by LoadConst/GetPropConst/SetPropConst/
// CreateClosure, and Target is a jump destination (instruction index).
type Instr struct {
	Op     Op
	A, B, C int
	Const  int
	Target int
}
