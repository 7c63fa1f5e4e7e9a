// Package object implements the heap object model of spec.md §3.2: a
// property map keyed by property key, an indexed-elements vector for
// array-exotic backing, a nullable prototype, an exotic-kind
// discriminant, and extensible/sealed/frozen flags. The enum-with-
// String() idiom for ExoticKind mirrors core/types/types.go's TokenType
// in the teacher.
package object

import "github.com/opal-lang/scriptengine/internal/value"

type ExoticKind uint8

const (
	KindPlain ExoticKind = iota
	KindArray
	KindFunctionBytecode
	KindFunctionNative
	KindFunctionBound
	KindFunctionGenerator
	KindFunctionAsync
	KindFunctionAsyncGenerator
	KindPromise
	KindMap
	KindSet
	KindDate
	KindRegExp
	KindProxy
	KindSymbolWrapper
	KindBooleanWrapper
	KindNumberWrapper
	KindStringWrapper
	KindPendingOrder
	KindIterator
	KindIteratorResult
	KindEnvironment
)

func (k ExoticKind) String() string {
	names := [...]string{
		"plain", "array", "function(bytecode)", "function(native)",
		"function(bound)", "function(generator)", "function(async)",
		"function(async-generator)", "promise", "map", "set", "date",
		"regexp", "proxy", "symbol-wrapper", "boolean-wrapper",
		"number-wrapper", "string-wrapper", "pending-order", "iterator",
		"iterator-result", "environment",
	}
	if int(k) < len(names) {
		return names[k]
	}
	return "unknown"
}

func (k ExoticKind) IsFunction() bool {
	switch k {
	case KindFunctionBytecode, KindFunctionNative, KindFunctionBound,
		KindFunctionGenerator, KindFunctionAsync, KindFunctionAsyncGenerator:
		return true
	default:
		return false
	}
}

// PropertyKey is either a plain string or a symbol identity; symbol
// keys never collide with string keys regardless of description text.
type PropertyKey struct {
	Str    string
	Sym    *value.SymbolRef
	IsSym  bool
}

func StringKey(s string) PropertyKey { return PropertyKey{Str: s} }
func SymbolKey(s *value.SymbolRef) PropertyKey { return PropertyKey{Sym: s, IsSym: true} }

// Descriptor is a data or accessor property descriptor (spec.md §3.2).
// IsAccessor selects which pair of fields is meaningful.
type Descriptor struct {
	IsAccessor   bool
	Value        value.Value // data descriptor
	Writable     bool
	Get          value.Value // accessor descriptor; Undefined if absent
	Set          value.Value
	Enumerable   bool
	Configurable bool
}

// MethodDescriptor returns the default attribute set for a property
// installed via method syntax or a class method (spec.md §8 testable
// property): writable, non-enumerable, configurable.
func MethodDescriptor(v value.Value) Descriptor {
	return Descriptor{Value: v, Writable: true, Enumerable: false, Configurable: true}
}

// NameLengthDescriptor is the attribute set for a function's `name` and
// `length` own properties: non-writable, non-enumerable, configurable.
func NameLengthDescriptor(v value.Value) Descriptor {
	return Descriptor{Value: v, Writable: false, Enumerable: false, Configurable: true}
}

// PropertyMap preserves insertion order for enumeration while offering
// O(1) lookup, mirroring the source language's own ordering rule
// (integer-like keys first in ascending order, then insertion order) —
// simplified here to pure insertion order; Object.OwnKeys applies the
// integer-key reordering when it lists an object's keys.
type PropertyMap struct {
	order []PropertyKey
	byKey map[PropertyKey]int
	descs []Descriptor
}

func NewPropertyMap() *PropertyMap {
	return &PropertyMap{byKey: make(map[PropertyKey]int)}
}

func (m *PropertyMap) Get(key PropertyKey) (Descriptor, bool) {
	i, ok := m.byKey[key]
	if !ok {
		return Descriptor{}, false
	}
	return m.descs[i], true
}

func (m *PropertyMap) Set(key PropertyKey, d Descriptor) {
	if i, ok := m.byKey[key]; ok {
		m.descs[i] = d
		return
	}
	m.byKey[key] = len(m.order)
	m.order = append(m.order, key)
	m.descs = append(m.descs, d)
}

func (m *PropertyMap) Delete(key PropertyKey) bool {
	i, ok := m.byKey[key]
	if !ok {
		return false
	}
	delete(m.byKey, key)
	m.order = append(m.order[:i], m.order[i+1:]...)
	m.descs = append(m.descs[:i], m.descs[i+1:]...)
	for k, idx := range m.byKey {
		if idx > i {
			m.byKey[k] = idx - 1
		}
	}
	return true
}

func (m *PropertyMap) Keys() []PropertyKey {
	out := make([]PropertyKey, len(m.order))
	copy(out, m.order)
	return out
}

func (m *PropertyMap) Len() int { return len(m.order) }

// Object is the heap's universal representation. Exotic-kind-specific
// payloads (native function pointer, bound-call target, promise state,
// map/set backing, proxy target/handler, regex source) are held in the
// Native field as an opaque interface; each built-in installs and reads
// its own concrete type there.
type Object struct {
	id         uint64
	Proto      *Object
	Kind       ExoticKind
	Props      *PropertyMap
	Elements   []value.Value // array-exotic backing for small integer indices
	Extensible bool
	Sealed     bool
	Frozen     bool
	Private    map[uint64]value.Value // brand id -> slot value
	Native     any
}

func New(id uint64, kind ExoticKind, proto *Object) *Object {
	return &Object{
		id: id, Kind: kind, Proto: proto, Props: NewPropertyMap(),
		Extensible: true,
	}
}

// ValueObjectID satisfies value.ObjectRef so an *Object can be wrapped
// directly by value.Obj.
func (o *Object) ValueObjectID() uint64 { return o.id }
func (o *Object) ID() uint64            { return o.id }

func (o *Object) IsCallable() bool { return o.Kind.IsFunction() }

// GetOwn looks up a property on this object only (no prototype walk).
func (o *Object) GetOwn(key PropertyKey) (Descriptor, bool) {
	if o.Kind == KindArray || len(o.Elements) > 0 {
		if !key.IsSym {
			if idx, ok := arrayIndex(key.Str); ok && idx < len(o.Elements) {
				return Descriptor{Value: o.Elements[idx], Writable: !o.Frozen, Enumerable: true, Configurable: !o.Sealed}, true
			}
		}
	}
	return o.Props.Get(key)
}

// Get resolves a property through the prototype chain.
func (o *Object) Get(key PropertyKey) (Descriptor, bool) {
	for cur := o; cur != nil; cur = cur.Proto {
		if d, ok := cur.GetOwn(key); ok {
			return d, true
		}
	}
	return Descriptor{}, false
}

func (o *Object) DefineOwn(key PropertyKey, d Descriptor) {
	if o.Kind == KindArray && !key.IsSym {
		if idx, ok := arrayIndex(key.Str); ok {
			for len(o.Elements) <= idx {
				o.Elements = append(o.Elements, value.Undef())
			}
			o.Elements[idx] = d.Value
			return
		}
	}
	o.Props.Set(key, d)
}

func (o *Object) DeleteOwn(key PropertyKey) bool {
	if o.Kind == KindArray && !key.IsSym {
		if idx, ok := arrayIndex(key.Str); ok && idx < len(o.Elements) {
			o.Elements[idx] = value.Undef()
			return true
		}
	}
	return o.Props.Delete(key)
}

func (o *Object) HasOwn(key PropertyKey) bool {
	_, ok := o.GetOwn(key)
	return ok
}

func (o *Object) Has(key PropertyKey) bool {
	_, ok := o.Get(key)
	return ok
}

// OwnKeys returns integer-indexed keys in ascending order followed by
// string keys in insertion order, then symbol keys in insertion order —
// the source language's own-property-enumeration order.
func (o *Object) OwnKeys() []PropertyKey {
	var ints, strs, syms []PropertyKey
	for i := range o.Elements {
		ints = append(ints, StringKey(itoa(i)))
	}
	for _, k := range o.Props.Keys() {
		if k.IsSym {
			syms = append(syms, k)
			continue
		}
		if _, ok := arrayIndex(k.Str); ok {
			ints = append(ints, k)
			continue
		}
		strs = append(strs, k)
	}
	for i := 1; i < len(ints); i++ {
		for j := i; j > 0; j-- {
			a, _ := arrayIndex(ints[j-1].Str)
			b, _ := arrayIndex(ints[j].Str)
			if a <= b {
				break
			}
			ints[j-1], ints[j] = ints[j], ints[j-1]
		}
	}
	out := make([]PropertyKey, 0, len(ints)+len(strs)+len(syms))
	out = append(out, ints...)
	out = append(out, strs...)
	out = append(out, syms...)
	return out
}

func arrayIndex(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	if itoa(n) != s {
		return 0, false
	}
	return n, true
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
