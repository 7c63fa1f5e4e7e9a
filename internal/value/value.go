// Package value implements the engine's tagged Value union (spec.md
// §3.1): undefined, null, boolean, number, string, symbol and object,
// plus the loose/strict/same-value/same-value-zero equality rules the
// VM's comparison opcodes apply. The Kind-with-String() idiom mirrors
// core/types/types.go's TokenType in the teacher.
package value

import (
	"math"
	"strconv"
)

type Kind uint8

const (
	Undefined Kind = iota
	Null
	Boolean
	Number
	String
	Symbol
	Object
)

func (k Kind) String() string {
	switch k {
	case Undefined:
		return "undefined"
	case Null:
		return "null"
	case Boolean:
		return "boolean"
	case Number:
		return "number"
	case String:
		return "string"
	case Symbol:
		return "symbol"
	case Object:
		return "object"
	default:
		return "unknown"
	}
}

// ObjectRef is satisfied by internal/heap's object handle. It is
// declared here, rather than imported, to keep value free of a heap
// dependency — heap depends on value, not the reverse.
type ObjectRef interface {
	ValueObjectID() uint64
}

// Symbol is a unique-identity value; Description is informational only
// and never used for equality.
type SymbolRef struct {
	ID          uint64
	Description string
}

// Value is a small tagged union, passed by value throughout the VM and
// compiler. Only one of Num/Str/Sym/Obj is meaningful for a given Kind.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	sym  *SymbolRef
	obj  ObjectRef
}

func (v Value) Kind() Kind    { return v.kind }
func (v Value) IsUndefined() bool { return v.kind == Undefined }
func (v Value) IsNull() bool     { return v.kind == Null }
func (v Value) IsNullish() bool  { return v.kind == Undefined || v.kind == Null }
func (v Value) Bool() bool       { return v.b }
func (v Value) Num() float64     { return v.n }
func (v Value) Str() string      { return v.s }
func (v Value) Symbol() *SymbolRef { return v.sym }
func (v Value) Obj() ObjectRef   { return v.obj }

var undefinedValue = Value{kind: Undefined}
var nullValue = Value{kind: Null}

func Undef() Value { return undefinedValue }
func Nul() Value   { return nullValue }

func Bool(b bool) Value    { return Value{kind: Boolean, b: b} }
func Num(n float64) Value  { return Value{kind: Number, n: n} }
func Str(s string) Value   { return Value{kind: String, s: s} }
func Sym(s *SymbolRef) Value { return Value{kind: Symbol, sym: s} }
func Obj(o ObjectRef) Value { return Value{kind: Object, obj: o} }

// ToBoolean applies the source language's truthiness coercion.
func ToBoolean(v Value) bool {
	switch v.kind {
	case Undefined, Null:
		return false
	case Boolean:
		return v.b
	case Number:
		return v.n != 0 && !math.IsNaN(v.n)
	case String:
		return v.s != ""
	default:
		return true
	}
}

// ToNumber applies the string/number coercion rules used by `+` and the
// relational operators; it does not attempt object-to-primitive
// conversion (callers route objects through the built-in surface's
// @@toPrimitive protocol first).
func ToNumber(v Value) float64 {
	switch v.kind {
	case Undefined:
		return math.NaN()
	case Null:
		return 0
	case Boolean:
		if v.b {
			return 1
		}
		return 0
	case Number:
		return v.n
	case String:
		if v.s == "" {
			return 0
		}
		n, err := strconv.ParseFloat(v.s, 64)
		if err != nil {
			return math.NaN()
		}
		return n
	default:
		return math.NaN()
	}
}

// TypeOf implements the `typeof` operator. Callers pass isCallable for
// object values since the object model's callable check lives in
// internal/object, not here.
func TypeOf(v Value, isCallable bool) string {
	switch v.kind {
	case Undefined:
		return "undefined"
	case Null:
		return "object"
	case Boolean:
		return "boolean"
	case Number:
		return "number"
	case String:
		return "string"
	case Symbol:
		return "symbol"
	case Object:
		if isCallable {
			return "function"
		}
		return "object"
	default:
		return "undefined"
	}
}

// StrictEquals is `===`: no coercion, NaN != NaN, objects by identity.
func StrictEquals(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case Undefined, Null:
		return true
	case Boolean:
		return a.b == b.b
	case Number:
		return a.n == b.n
	case String:
		return a.s == b.s
	case Symbol:
		return a.sym == b.sym
	case Object:
		return sameObject(a.obj, b.obj)
	default:
		return false
	}
}

func sameObject(a, b ObjectRef) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ValueObjectID() == b.ValueObjectID()
}

// SameValue is `Object.is`: like StrictEquals but NaN equals itself and
// +0 is distinct from -0.
func SameValue(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	if a.kind == Number {
		if math.IsNaN(a.n) && math.IsNaN(b.n) {
			return true
		}
		if a.n == 0 && b.n == 0 {
			return math.Signbit(a.n) == math.Signbit(b.n)
		}
		return a.n == b.n
	}
	return StrictEquals(a, b)
}

// SameValueZero is like SameValue but +0 and -0 are equal (used by
// Array#includes, Map/Set key comparison).
func SameValueZero(a, b Value) bool {
	if a.kind == Number && b.kind == Number {
		if math.IsNaN(a.n) && math.IsNaN(b.n) {
			return true
		}
		return a.n == b.n
	}
	return StrictEquals(a, b)
}

// LooseEquals is `==`. Object-to-primitive coercion for the Object case
// is not performed here; the VM's binary-op handler calls back into the
// built-in surface first and only reaches here with primitives, except
// that two objects compare by identity like StrictEquals.
func LooseEquals(a, b Value) bool {
	if a.kind == b.kind {
		return StrictEquals(a, b)
	}
	if a.IsNullish() && b.IsNullish() {
		return true
	}
	if a.IsNullish() || b.IsNullish() {
		return false
	}
	switch {
	case a.kind == Number && b.kind == String:
		return a.n == ToNumber(b)
	case a.kind == String && b.kind == Number:
		return ToNumber(a) == b.n
	case a.kind == Boolean:
		return LooseEquals(Num(ToNumber(a)), b)
	case b.kind == Boolean:
		return LooseEquals(a, Num(ToNumber(b)))
	default:
		return false
	}
}

// ToPropertyKeyString renders a value as a string for use as a
// non-symbol property key (array index keys included).
func ToPropertyKeyString(v Value) string {
	switch v.kind {
	case String:
		return v.s
	case Number:
		return strconv.FormatFloat(v.n, 'g', -1, 64)
	case Boolean:
		if v.b {
			return "true"
		}
		return "false"
	case Undefined:
		return "undefined"
	case Null:
		return "null"
	default:
		return ""
	}
}
