// Package env implements the lexical environment chain of spec.md
// §3.3: a mapping from name to binding slot (value, mutability, TDZ
// bit) with an outer reference, pre-sized from the compiler's computed
// binding-count hint (spec.md §4.2, §9 "why pre-sized environment
// maps").
package env

import "github.com/opal-lang/scriptengine/internal/value"

// Slot is one binding: a value cell plus its mutability and
// temporal-dead-zone state.
type Slot struct {
	Value   value.Value
	Mutable bool
	TDZ     bool // true until a let/const binding's declaration executes
}

// Environment is a heap-visible exotic object in the full data model;
// here it is the VM-facing representation the compiler's binding-count
// hint pre-sizes and the trampoline creates on every call/block entry.
type Environment struct {
	Outer    *Environment
	bindings map[string]*Slot
	// IsFunctionScope marks an environment made for a call frame (or the
	// global one) rather than for a loop scope. lookup does not consult
	// it: every lookup walks the whole Outer chain.
	IsFunctionScope bool
}

// New creates an environment pre-sized to hint bindings, per the
// compiler's computed binding count (spec.md §4.2).
func New(outer *Environment, hint int, isFunctionScope bool) *Environment {
	return &Environment{
		Outer:           outer,
		bindings:        make(map[string]*Slot, hint),
		IsFunctionScope: isFunctionScope,
	}
}

// Declare creates a binding in this environment. TDZ should be true for
// let/const until their initializer executes; var bindings are declared
// non-TDZ with an undefined initial value.
func (e *Environment) Declare(name string, mutable, tdz bool) {
	e.bindings[name] = &Slot{Value: value.Undef(), Mutable: mutable, TDZ: tdz}
}

// Initialize clears a binding's TDZ bit and sets its value — the step
// that runs when a let/const declaration's initializer executes.
func (e *Environment) Initialize(name string, v value.Value) {
	if s, ok := e.bindings[name]; ok {
		s.Value = v
		s.TDZ = false
	}
}

// lookup finds the nearest environment in the chain declaring name.
func (e *Environment) lookup(name string) (*Environment, *Slot) {
	for cur := e; cur != nil; cur = cur.Outer {
		if s, ok := cur.bindings[name]; ok {
			return cur, s
		}
	}
	return nil, nil
}

// ErrKind distinguishes the environment-lookup failure shapes
// (unresolved, TDZ, not mutable) the VM must turn into distinct errors.
type ErrKind int

const (
	ErrNone ErrKind = iota
	ErrUnresolved
	ErrTDZ
	ErrNotMutable
)

// Get resolves name through the chain, reporting TDZ access and
// unresolved-reference as distinct error kinds so the VM's get-by-name
// opcode can raise the right engineerr.Kind.
func (e *Environment) Get(name string) (value.Value, ErrKind) {
	_, s := e.lookup(name)
	if s == nil {
		return value.Undef(), ErrUnresolved
	}
	if s.TDZ {
		return value.Undef(), ErrTDZ
	}
	return s.Value, ErrNone
}

// Set assigns an existing binding, honoring TDZ and mutability. It
// never declares: an unbound name yields ErrUnresolved, which the VM's
// set-by-name opcode turns into an implicit global.
func (e *Environment) Set(name string, v value.Value) ErrKind {
	env, s := e.lookup(name)
	if s == nil {
		return ErrUnresolved
	}
	if s.TDZ {
		return ErrTDZ
	}
	if !s.Mutable {
		return ErrNotMutable
	}
	s.Value = v
	_ = env
	return ErrNone
}

func (e *Environment) Has(name string) bool {
	_, s := e.lookup(name)
	return s != nil
}

// HasOwn reports whether name is bound directly in this environment,
// without walking outward — used by direct-eval shadowing checks.
func (e *Environment) HasOwn(name string) bool {
	_, ok := e.bindings[name]
	return ok
}

// CopyBinding transplants name's current value and mutability from e
// into dst as an already-initialized binding — the primitive a
// per-iteration `for(let ...)` loop uses to carry each loop variable's
// live value forward into the fresh environment spec.md §4.2 requires
// for every iteration, without disturbing e itself. A no-op if e has no
// such binding.
func (e *Environment) CopyBinding(name string, dst *Environment) {
	_, s := e.lookup(name)
	if s == nil {
		return
	}
	dst.Declare(name, s.Mutable, false)
	dst.Initialize(name, s.Value)
}

// OwnNames lists every binding declared directly in this environment,
// without walking outward. engine.go uses this on the global
// environment to answer get_export_names(): since the supported
// grammar has no import/export syntax (SPEC_FULL.md §A), a script's
// top-level bindings are its exports.
func (e *Environment) OwnNames() []string {
	names := make([]string, 0, len(e.bindings))
	for name := range e.bindings {
		names = append(names, name)
	}
	return names
}
