package vm

import (
	"hash/fnv"

	"github.com/opal-lang/scriptengine/ast"
	"github.com/opal-lang/scriptengine/frontend/parser"
	"github.com/opal-lang/scriptengine/internal/compiler"
	"github.com/opal-lang/scriptengine/internal/engineerr"
	"github.com/opal-lang/scriptengine/internal/env"
	"github.com/opal-lang/scriptengine/internal/heap"
	"github.com/opal-lang/scriptengine/internal/object"
	"github.com/opal-lang/scriptengine/internal/opcode"
	"github.com/opal-lang/scriptengine/internal/value"
)

// NativeFunc is the calling convention for a host-provided builtin
// installed as an object's Native payload: this value, the packed
// argument slice, and (for `new Ctor()`) the constructor being invoked.
type NativeFunc func(vm *VM, this value.Value, args []value.Value, newTarget value.Value) (value.Value, error)

// NewNativeFunction wraps fn as a callable heap object the way
// NewFunction wraps a bytecode chunk; internal/builtins uses this to
// install every prototype method and global constructor.
func (vm *VM) NewNativeFunction(guard *heap.Guard, name string, length int, fn NativeFunc) *object.Object {
	o := vm.Heap.Allocate(guard, object.KindFunctionNative, vm.FunctionProto)
	o.Native = fn
	o.DefineOwn(object.StringKey("name"), object.NameLengthDescriptor(value.Str(name)))
	o.DefineOwn(object.StringKey("length"), object.NameLengthDescriptor(value.Num(float64(length))))
	return o
}

// ArgOrUndefined returns args[i] if present, else undefined — the
// common pattern every variadic native function needs.
func ArgOrUndefined(args []value.Value, i int) value.Value {
	if i < len(args) {
		return args[i]
	}
	return value.Undef()
}

// hiddenArgName/hiddenRestName must match internal/compiler's naming —
// the compiler reads these bindings via get_by_name as the very first
// thing a function body does, and the VM is the one that seeds them
// into a freshly pushed frame's environment before running its chunk.
func hiddenArgName(i int) string { return "__arg" + itoaVM(i) + "__" }

const hiddenRestName = "__rest__"

func itoaVM(n int) string {
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

func (vm *VM) makeError(f *Frame, name, message string) value.Value {
	o := vm.Heap.Allocate(f.guard, object.KindPlain, vm.ObjectProto)
	o.DefineOwn(object.StringKey("name"), object.Descriptor{Value: value.Str(name), Writable: true, Enumerable: true, Configurable: true})
	o.DefineOwn(object.StringKey("message"), object.Descriptor{Value: value.Str(message), Writable: true, Enumerable: true, Configurable: true})
	return value.Obj(o)
}

func (vm *VM) execGetByName(f *Frame, instr opcode.Instr) (Result, bool) {
	name := f.chunk.Constants[instr.Const].Str
	v, errKind := f.environment.Get(name)
	switch errKind {
	case env.ErrNone:
		f.regs[instr.A] = v
		return Result{}, false
	case env.ErrTDZ:
		return vm.raise(f, vm.makeError(f, "ReferenceError", "Cannot access '"+name+"' before initialization"))
	default:
		return vm.raise(f, vm.makeError(f, "ReferenceError", name+" is not defined"))
	}
}

func (vm *VM) execSetByName(f *Frame, instr opcode.Instr) (Result, bool) {
	name := f.chunk.Constants[instr.Const].Str
	val := f.regs[instr.A]
	switch f.environment.Set(name, val) {
	case env.ErrNone:
		return Result{}, false
	case env.ErrNotMutable:
		return vm.raise(f, vm.makeError(f, "TypeError", "Assignment to constant variable '"+name+"'"))
	case env.ErrTDZ:
		// A let/const declaration's own initializer writes the binding it
		// just declared in this environment: that write ends the TDZ.
		if f.environment.HasOwn(name) {
			f.environment.Initialize(name, val)
			return Result{}, false
		}
		return vm.raise(f, vm.makeError(f, "ReferenceError", "Cannot access '"+name+"' before initialization"))
	default:
		// Implicit global assignment to an undeclared name: declare it on
		// the outermost environment rather than raising, matching
		// sloppy-mode `x = 1` behavior.
		root := f.environment
		for root.Outer != nil {
			root = root.Outer
		}
		root.Declare(name, true, false)
		root.Initialize(name, val)
		return Result{}, false
	}
}

func (vm *VM) asObject(v value.Value) (*object.Object, bool) {
	if v.Kind() != value.Object {
		return nil, false
	}
	o, ok := v.Obj().(*object.Object)
	return o, ok
}

func (vm *VM) execGetProp(f *Frame, instr opcode.Instr, key string) (Result, bool) {
	obj := f.regs[instr.B]
	o, ok := vm.asObject(obj)
	if !ok {
		return vm.raise(f, vm.makeError(f, "TypeError", "Cannot read properties of "+toDisplayString(obj)+" (reading '"+key+"')"))
	}
	if px, isProxy := vm.proxyOf(o); isProxy {
		if trap, has := px.handler.Get(object.StringKey("get")); has && !trap.Value.IsUndefined() {
			return vm.invokeSync(f, instr.A, trap.Value, value.Obj(px.handler), []value.Value{value.Obj(px.target), value.Str(key), obj})
		}
		o = px.target
	}
	d, has := o.Get(object.StringKey(key))
	if !has {
		f.regs[instr.A] = value.Undef()
		return Result{}, false
	}
	if d.IsAccessor {
		if d.Get.IsUndefined() {
			f.regs[instr.A] = value.Undef()
			return Result{}, false
		}
		return vm.invokeSync(f, instr.A, d.Get, obj, nil)
	}
	f.regs[instr.A] = d.Value
	return Result{}, false
}

func (vm *VM) execSetProp(f *Frame, instr opcode.Instr, key string, valReg int) (Result, bool) {
	obj := f.regs[instr.A]
	val := f.regs[valReg]
	o, ok := vm.asObject(obj)
	if !ok {
		return vm.raise(f, vm.makeError(f, "TypeError", "Cannot set properties of "+toDisplayString(obj)))
	}
	if px, isProxy := vm.proxyOf(o); isProxy {
		if trap, has := px.handler.Get(object.StringKey("set")); has && !trap.Value.IsUndefined() {
			return vm.invokeSync(f, discardReturnReg, trap.Value, value.Obj(px.handler), []value.Value{value.Obj(px.target), value.Str(key), val, obj})
		}
		o = px.target
	}
	if d, has := o.Get(object.StringKey(key)); has && d.IsAccessor {
		if !d.Set.IsUndefined() {
			_, done := vm.invokeSync(f, discardReturnReg, d.Set, obj, []value.Value{val})
			return Result{}, done
		}
		return Result{}, false
	}
	if o.Frozen {
		return Result{}, false
	}
	o.DefineOwn(object.StringKey(key), object.Descriptor{Value: val, Writable: true, Enumerable: true, Configurable: true})
	return Result{}, false
}

func (vm *VM) execDeleteProp(f *Frame, instr opcode.Instr) (Result, bool) {
	obj := f.regs[instr.B]
	o, ok := vm.asObject(obj)
	if !ok {
		f.regs[instr.A] = value.Bool(true)
		return Result{}, false
	}
	var key string
	if instr.Const >= 0 {
		key = f.chunk.Constants[instr.Const].Str
	} else {
		key = value.ToPropertyKeyString(f.regs[instr.C])
	}
	if px, isProxy := vm.proxyOf(o); isProxy {
		if trap, has := px.handler.Get(object.StringKey("deleteProperty")); has && !trap.Value.IsUndefined() {
			return vm.invokeSync(f, instr.A, trap.Value, value.Obj(px.handler), []value.Value{value.Obj(px.target), value.Str(key)})
		}
		o = px.target
	}
	if o.Sealed || o.Frozen {
		f.regs[instr.A] = value.Bool(false)
		return Result{}, false
	}
	f.regs[instr.A] = value.Bool(o.DeleteOwn(object.StringKey(key)))
	return Result{}, false
}

func (vm *VM) execIn(f *Frame, instr opcode.Instr) (Result, bool) {
	key := value.ToPropertyKeyString(f.regs[instr.B])
	o, ok := vm.asObject(f.regs[instr.C])
	if !ok {
		return vm.raise(f, vm.makeError(f, "TypeError", "Cannot use 'in' operator on a non-object"))
	}
	if px, isProxy := vm.proxyOf(o); isProxy {
		if trap, has := px.handler.Get(object.StringKey("has")); has && !trap.Value.IsUndefined() {
			return vm.invokeSync(f, instr.A, trap.Value, value.Obj(px.handler), []value.Value{value.Obj(px.target), value.Str(key)})
		}
		o = px.target
	}
	f.regs[instr.A] = value.Bool(o.Has(object.StringKey(key)))
	return Result{}, false
}

func (vm *VM) execInstanceof(f *Frame, instr opcode.Instr) (Result, bool) {
	ctorVal := f.regs[instr.C]
	ctor, ok := vm.asObject(ctorVal)
	if !ok || !ctor.IsCallable() {
		return vm.raise(f, vm.makeError(f, "TypeError", "Right-hand side of 'instanceof' is not callable"))
	}
	protoDesc, has := ctor.Get(object.StringKey("prototype"))
	if !has {
		f.regs[instr.A] = value.Bool(false)
		return Result{}, false
	}
	protoObj, ok := vm.asObject(protoDesc.Value)
	if !ok {
		f.regs[instr.A] = value.Bool(false)
		return Result{}, false
	}
	obj, ok := vm.asObject(f.regs[instr.B])
	if !ok {
		f.regs[instr.A] = value.Bool(false)
		return Result{}, false
	}
	for p := obj.Proto; p != nil; p = p.Proto {
		if p == protoObj {
			f.regs[instr.A] = value.Bool(true)
			return Result{}, false
		}
	}
	f.regs[instr.A] = value.Bool(false)
	return Result{}, false
}

var privateHash = fnv.New64a

// privateBrand derives a stable slot id from a private field's source
// name. The source language scopes #x per class body; this build
// shares one brand per name across all classes, a simplification noted
// alongside internal/vm's other grounding decisions.
func (vm *VM) privateBrand(name string) uint64 {
	h := privateHash()
	h.Write([]byte(name))
	return h.Sum64()
}

func (vm *VM) execGetPrivate(f *Frame, instr opcode.Instr) (Result, bool) {
	name := f.chunk.Constants[instr.Const].Str
	o, ok := vm.asObject(f.regs[instr.B])
	if !ok {
		return vm.raise(f, vm.makeError(f, "TypeError", "Cannot read private member #"+name+" from an object whose class does not declare it"))
	}
	v, has := o.Private[vm.privateBrand(name)]
	if !has {
		return vm.raise(f, vm.makeError(f, "TypeError", "Cannot read private member #"+name+" from an object whose class does not declare it"))
	}
	f.regs[instr.A] = v
	return Result{}, false
}

func (vm *VM) execSetPrivate(f *Frame, instr opcode.Instr) (Result, bool) {
	name := f.chunk.Constants[instr.Const].Str
	o, ok := vm.asObject(f.regs[instr.A])
	if !ok {
		return vm.raise(f, vm.makeError(f, "TypeError", "Cannot write private member #"+name+" to a non-object"))
	}
	if o.Private == nil {
		o.Private = make(map[uint64]value.Value)
	}
	o.Private[vm.privateBrand(name)] = f.regs[instr.B]
	return Result{}, false
}

func (vm *VM) hasPrivate(v value.Value, name string) bool {
	o, ok := vm.asObject(v)
	if !ok {
		return false
	}
	_, has := o.Private[vm.privateBrand(name)]
	return has
}

func (vm *VM) execDefineMethod(f *Frame, instr opcode.Instr) (Result, bool) {
	target, ok := vm.asObject(f.regs[instr.A])
	if !ok {
		return Result{}, false
	}
	fnObj, ok := vm.asObject(f.regs[instr.B])
	if ok {
		if cl, ok := fnObj.Native.(*closure); ok {
			cl.homeProto = target.Proto
			if target.IsCallable() {
				// Static member: super resolves against the parent constructor.
				cl.homeProto = nil
				if pc, has := target.GetOwn(object.StringKey(hiddenProtoCtorName)); has {
					cl.homeProto, _ = vm.asObject(pc.Value)
				}
			}
		}
	}
	var key string
	if instr.Const >= 0 {
		key = f.chunk.Constants[instr.Const].Str
	} else {
		key = value.ToPropertyKeyString(f.regs[instr.C])
	}
	accessorFlag := instr.C
	if instr.Const < 0 {
		accessorFlag = instr.Target
	}
	if instr.Op == opcode.DefineAccessor {
		existing, _ := target.GetOwn(object.StringKey(key))
		d := object.Descriptor{IsAccessor: true, Enumerable: false, Configurable: true, Get: existing.Get, Set: existing.Set}
		if accessorFlag != 0 {
			d.Set = f.regs[instr.B]
		} else {
			d.Get = f.regs[instr.B]
		}
		target.DefineOwn(object.StringKey(key), d)
		return Result{}, false
	}
	target.DefineOwn(object.StringKey(key), object.MethodDescriptor(f.regs[instr.B]))
	return Result{}, false
}

// --- iteration ---

type iterState struct {
	items []value.Value
	idx   int
}

func (it *iterState) next() (value.Value, bool) {
	if it.idx >= len(it.items) {
		return value.Undef(), true
	}
	v := it.items[it.idx]
	it.idx++
	return v, false
}

func (vm *VM) buildIterator(v value.Value) *iterState {
	switch v.Kind() {
	case value.Object:
		o, _ := vm.asObject(v)
		if o == nil {
			return &iterState{}
		}
		if o.Kind == object.KindArray {
			items := make([]value.Value, len(o.Elements))
			copy(items, o.Elements)
			return &iterState{items: items}
		}
		var items []value.Value
		for _, k := range o.OwnKeys() {
			if k.IsSym {
				continue
			}
			if d, ok := o.GetOwn(k); ok && d.Enumerable {
				items = append(items, d.Value)
			}
		}
		return &iterState{items: items}
	case value.String:
		s := v.Str()
		items := make([]value.Value, 0, len(s))
		for _, r := range s {
			items = append(items, value.Str(string(r)))
		}
		return &iterState{items: items}
	default:
		return &iterState{}
	}
}

func (vm *VM) execForOfNext(f *Frame, instr opcode.Instr) (Result, bool) {
	src := f.regs[instr.B]
	if o, ok := vm.asObject(src); ok {
		if it, ok := o.Native.(*iterState); ok {
			val, done := it.next()
			f.regs[instr.A] = val
			f.regs[instr.C] = value.Bool(done)
			return Result{}, false
		}
	}
	var it *iterState
	if instr.C == 0 {
		// for-in: enumerate the enumerable own string keys, not values.
		it = &iterState{}
		if o, ok := vm.asObject(src); ok {
			for _, k := range o.OwnKeys() {
				if d, has := o.GetOwn(k); has && d.Enumerable && !k.IsSym {
					it.items = append(it.items, value.Str(k.Str))
				}
			}
		}
	} else {
		it = vm.buildIterator(src)
	}
	iterObj := vm.Heap.Allocate(f.guard, object.KindIterator, vm.ObjectProto)
	iterObj.Native = it
	f.regs[instr.A] = value.Obj(iterObj)
	return Result{}, false
}

func (vm *VM) spreadInto(dstVal, srcVal value.Value) {
	dst, ok := vm.asObject(dstVal)
	if !ok {
		return
	}
	src, ok := vm.asObject(srcVal)
	if !ok {
		return
	}
	if dst.Kind == object.KindArray {
		if src.Kind == object.KindArray {
			dst.Elements = append(dst.Elements, src.Elements...)
			return
		}
		it := vm.buildIterator(srcVal)
		for {
			v, done := it.next()
			if done {
				break
			}
			dst.Elements = append(dst.Elements, v)
		}
		return
	}
	for _, k := range src.OwnKeys() {
		d, ok := src.GetOwn(k)
		if ok && d.Enumerable {
			dst.DefineOwn(k, d)
		}
	}
}

// --- calls ---

// invoke is the general call path: it either runs a native function
// synchronously or pushes a new trampoline frame for a bytecode
// closure. dstReg is the caller-frame register to land the return value
// in once the callee completes; callers that need the value right away
// (property accessors) should prefer invokeSync.
func (vm *VM) invoke(caller *Frame, dstReg int, calleeVal, thisVal value.Value, args []value.Value, newTarget value.Value) (Result, bool) {
	fnObj, ok := vm.asObject(calleeVal)
	if !ok || !fnObj.IsCallable() {
		return vm.raise(caller, vm.makeError(caller, "TypeError", toDisplayString(calleeVal)+" is not a function"))
	}
	if native, ok := fnObj.Native.(NativeFunc); ok {
		ret, err := native(vm, thisVal, args, newTarget)
		if err != nil {
			return vm.raise(caller, vm.nativeErrorValue(caller, err))
		}
		if dstReg >= 0 {
			caller.regs[dstReg] = ret
		}
		return Result{}, false
	}
	cl, ok := fnObj.Native.(*closure)
	if !ok {
		return vm.raise(caller, vm.makeError(caller, "TypeError", toDisplayString(calleeVal)+" is not a function"))
	}
	if cl.chunk.Generator {
		return vm.createGenerator(caller, dstReg, fnObj, cl, thisVal, newTarget, args)
	}
	if len(vm.frames) >= vm.MaxCallDepth {
		return vm.raise(caller, vm.makeError(caller, "RangeError", "Maximum call stack size exceeded"))
	}
	if cl.chunk.Async {
		return vm.createAsyncCall(caller, dstReg, fnObj, cl, thisVal, newTarget, args)
	}

	guard := vm.Heap.CreateGuard()
	callee := vm.newFrame(cl.chunk, guard, cl.outer, thisVal, newTarget)
	callee.callerFrame = caller
	callee.returnReg = dstReg
	vm.bindCallArgs(callee, fnObj, cl, guard, args)

	vm.frames = append(vm.frames, callee)
	return Result{}, false
}

// createAsyncCall implements the async-function call contract (spec.md
// §4.8): the call always returns a promise immediately, rather than
// running the body and landing its result straight in the caller's
// register the way an ordinary call does. The body still runs on the
// real trampoline (vm.frames), not an isolated stack the way a
// generator's does, so a suspension inside it (an order syscall; an
// await on a pending promise does not suspend, see execAwait) continues to
// propagate and resume exactly as it would for any other frame; only
// the frame's eventual completion is intercepted, by popFrame and
// raise checking asyncPromise, to settle the promise instead.
func (vm *VM) createAsyncCall(caller *Frame, dstReg int, fnObj *object.Object, cl *closure, thisVal, newTarget value.Value, args []value.Value) (Result, bool) {
	guard := vm.Heap.CreateGuard()
	p := vm.NewPromise(guard)
	if dstReg >= 0 {
		caller.regs[dstReg] = value.Obj(p)
	}

	callee := vm.newFrame(cl.chunk, guard, cl.outer, thisVal, newTarget)
	callee.callerFrame = caller
	callee.returnReg = discardReturnReg
	callee.asyncPromise = p
	vm.bindCallArgs(callee, fnObj, cl, guard, args)

	vm.frames = append(vm.frames, callee)
	return Result{}, false
}

// bindCallArgs declares and initializes the hidden per-parameter, rest-
// parameter, `this`, and super-target bindings a bytecode closure's body
// reads as the very first thing it does, in a freshly built callee
// frame's environment. Shared by invoke's ordinary call path and
// createGenerator's lazy first-start path (spec.md §4.8: a function*
// call doesn't run its body, so this binding work only happens once
// next() actually starts it).
func (vm *VM) bindCallArgs(callee *Frame, fnObj *object.Object, cl *closure, guard *heap.Guard, args []value.Value) {
	fixed := cl.chunk.ParamCount
	if cl.chunk.HasRestParam {
		fixed--
	}
	for i := 0; i < fixed; i++ {
		v := value.Undef()
		if i < len(args) {
			v = args[i]
		}
		callee.environment.Declare(hiddenArgName(i), true, false)
		callee.environment.Initialize(hiddenArgName(i), v)
	}
	if cl.chunk.HasRestParam {
		var rest []value.Value
		if len(args) > fixed {
			rest = append(rest, args[fixed:]...)
		}
		restArr := vm.Heap.Allocate(guard, object.KindArray, vm.ArrayProto)
		restArr.Elements = rest
		callee.environment.Declare(hiddenRestName, true, false)
		callee.environment.Initialize(hiddenRestName, value.Obj(restArr))
	}
	if !cl.isArrow {
		// Arrow functions have no `this` binding of their own: GetByName
		// falls through to the enclosing non-arrow frame's binding via
		// the closed-over environment chain (cl.outer), exactly the way
		// any other free variable resolves.
		callee.environment.Declare("this", true, false)
		callee.environment.Initialize("this", callee.this)
	}
	if cl.homeProto != nil {
		callee.environment.Declare(superTargetName, true, false)
		callee.environment.Initialize(superTargetName, value.Obj(cl.homeProto))
	}
	if pc, has := fnObj.GetOwn(object.StringKey(hiddenProtoCtorName)); has {
		callee.environment.Declare(superTargetName, true, false)
		callee.environment.Initialize(superTargetName, pc.Value)
	}
}

// invokeSync drives one extra call to completion inline — used by
// accessor (getter/setter) property traps where the result is needed
// immediately rather than delivered through the normal frame-return
// path. It re-enters the trampoline loop just for the pushed frame.
func (vm *VM) invokeSync(f *Frame, dstReg int, calleeVal, thisVal value.Value, args []value.Value) (Result, bool) {
	depth := len(vm.frames)
	res, done := vm.invoke(f, dstReg, calleeVal, thisVal, args, value.Undef())
	if done {
		return res, true
	}
	if len(vm.frames) == depth {
		// invoke handled the call synchronously (native function).
		return Result{}, false
	}
	for len(vm.frames) > depth {
		if vm.finalIsSet {
			break
		}
		top := vm.top()
		if top.ip >= len(top.chunk.Instructions) {
			vm.popFrame(value.Undef())
			continue
		}
		instr := top.chunk.Instructions[top.ip]
		top.ip++
		r, d := vm.dispatch(top, instr)
		if d {
			return r, true
		}
	}
	return Result{}, false
}

const (
	superTargetName     = "__super_target__"
	hiddenProtoCtorName = "__proto_ctor__"
)

// CallFunction re-enters the trampoline from outside dispatch — the
// entry point Function.prototype.call/apply/bind use to invoke a
// target that may itself be ordinary bytecode, not just a native
// function. A NativeFunc body has no *Frame of its own to hand invoke
// as a caller and no destination register to receive a nested
// bytecode call's result, so it borrows vm.top() (valid: a native
// function runs synchronously while its own call is still the top
// frame) and the scratchReturnReg sentinel to collect the result.
func (vm *VM) CallFunction(guard *heap.Guard, callee, thisVal value.Value, args []value.Value) (value.Value, error) {
	caller := vm.top()
	fnObj, ok := vm.asObject(callee)
	if !ok || !fnObj.IsCallable() {
		return value.Undef(), engineerr.New(engineerr.KindType, ast.Span{}, "%s is not a function", toDisplayString(callee))
	}
	if native, isNative := fnObj.Native.(NativeFunc); isNative {
		return native(vm, thisVal, args, value.Undef())
	}
	res, done := vm.invokeSync(caller, scratchReturnReg, callee, thisVal, args)
	if done {
		return res.Value, res.Err
	}
	return vm.scratchReturn, nil
}

func (vm *VM) execCall(f *Frame, instr opcode.Instr, isMethod bool) (Result, bool) {
	var callee, thisVal value.Value
	var argsReg int
	if isMethod {
		thisVal = f.regs[instr.B]
		argsReg = instr.C
		var key string
		if instr.Const >= 0 {
			key = f.chunk.Constants[instr.Const].Str
		} else {
			key = value.ToPropertyKeyString(f.regs[instr.Target])
		}
		o, ok := vm.asObject(thisVal)
		if !ok {
			return vm.raise(f, vm.makeError(f, "TypeError", "Cannot read properties of "+toDisplayString(thisVal)+" (reading '"+key+"')"))
		}
		resolvedViaTrap := false
		if px, isProxy := vm.proxyOf(o); isProxy {
			if trap, has := px.handler.Get(object.StringKey("get")); has && !trap.Value.IsUndefined() {
				resolved, err := vm.CallFunction(f.guard, trap.Value, value.Obj(px.handler), []value.Value{value.Obj(px.target), value.Str(key), thisVal})
				if err != nil {
					return vm.raise(f, vm.nativeErrorValue(f, err))
				}
				callee = resolved
				resolvedViaTrap = true
			} else {
				o = px.target
			}
		}
		if !resolvedViaTrap {
			d, has := o.Get(object.StringKey(key))
			if !has {
				return vm.raise(f, vm.makeError(f, "TypeError", toDisplayString(thisVal)+"."+key+" is not a function"))
			}
			callee = d.Value
		}
	} else {
		callee = f.regs[instr.B]
		argsReg = instr.C
		thisVal = value.Undef()
		// A `super(...)` call lowers to a plain Call whose callee is
		// whatever __super_target__ holds (see compileClass): recognize
		// that shape here and thread the constructor's own `this`
		// through, rather than leaving the parent constructor to run
		// against an undefined receiver.
		if superVal, errKind := f.environment.Get(superTargetName); errKind == env.ErrNone && value.StrictEquals(superVal, callee) {
			if cur, ck := f.environment.Get("this"); ck == env.ErrNone {
				thisVal = cur
			}
		}
	}
	argsObj, ok := vm.asObject(f.regs[argsReg])
	var args []value.Value
	if ok {
		args = argsObj.Elements
	}
	return vm.invoke(f, instr.A, callee, thisVal, args, value.Undef())
}

func (vm *VM) execConstruct(f *Frame, instr opcode.Instr) (Result, bool) {
	calleeVal := f.regs[instr.B]
	ctor, ok := vm.asObject(calleeVal)
	if !ok || !ctor.IsCallable() {
		return vm.raise(f, vm.makeError(f, "TypeError", toDisplayString(calleeVal)+" is not a constructor"))
	}
	argsObj, ok := vm.asObject(f.regs[instr.C])
	var args []value.Value
	if ok {
		args = argsObj.Elements
	}

	protoDesc, _ := ctor.Get(object.StringKey("prototype"))
	proto := vm.ObjectProto
	if p, ok := vm.asObject(protoDesc.Value); ok {
		proto = p
	}
	inst := vm.Heap.Allocate(f.guard, object.KindPlain, proto)
	return vm.invoke(f, instr.A, calleeVal, value.Obj(inst), args, calleeVal)
}

// nativeErrorValue wraps a Go error raised by a native function as a
// throwable value, preferring an existing engineerr.Error's message.
func (vm *VM) nativeErrorValue(f *Frame, err error) value.Value {
	if ee := asEngineErrVM(err); ee != nil {
		return vm.makeError(f, ee.Kind.String(), ee.Message)
	}
	return vm.makeError(f, "Error", err.Error())
}

func asEngineErrVM(err error) *engineerr.Error {
	ee, _ := err.(*engineerr.Error)
	return ee
}

// --- generator / async suspension ---

// execYield suspends the current (always top-of-stack, see
// pumpGenerator) generator frame at a yield point: f.ip already points
// past this instruction, so resuming just re-enters dispatch there
// once DriveGenerator writes the host's answer into f.resumeReg.
func (vm *VM) execYield(f *Frame, instr opcode.Instr) (Result, bool) {
	if instr.Op == opcode.YieldDelegate {
		return vm.execYieldDelegate(f, instr)
	}
	f.resumeReg = instr.A
	return Result{Suspension: SuspendYield, Value: f.regs[instr.B]}, true
}

// execYieldDelegate drives yield*'s inner iterable one step at a time,
// re-entering this same instruction (by resetting f.ip back to its own
// index) across every suspend/resume cycle until the delegate is
// exhausted. It does not forward the resumed value into the delegate's
// own next() call, nor forward throw()/return() into a delegated
// generator — a deliberately simplified, non-protocol-aware yield*.
func (vm *VM) execYieldDelegate(f *Frame, instr opcode.Instr) (Result, bool) {
	selfIP := f.ip - 1
	if f.yieldDelegates == nil {
		f.yieldDelegates = make(map[int]*iterState)
	}
	it, ok := f.yieldDelegates[selfIP]
	if !ok {
		it = vm.buildIterator(f.regs[instr.B])
		f.yieldDelegates[selfIP] = it
	}
	v, done := it.next()
	if done {
		delete(f.yieldDelegates, selfIP)
		f.regs[instr.A] = value.Undef()
		return Result{}, false
	}
	f.resumeReg = instr.A
	f.ip = selfIP
	return Result{Suspension: SuspendYield, Value: v}, true
}

// generatorState is the Native payload of a generator-object instance
// (what calling a function* produces, distinct from the function
// itself per spec.md §4.8: the call does not run the body). It owns
// the one frame the body eventually runs in, a dedicated guard keeping
// that frame's heap objects alive across suspend/resume, and the args
// the lazy first next() call binds with bindCallArgs.
type generatorState struct {
	fn        *object.Object
	cl        *closure
	thisVal   value.Value
	newTarget value.Value
	args      []value.Value
	guard     *heap.Guard
	frame     *Frame
	started   bool
	done      bool
}

// TraceRefs mirrors closure.TraceRefs's shallow-tracing precedent: a
// suspended generator's frame registers and environment bindings are
// not walked (this codebase never traces frame state), only the
// handful of references needed to resume or report on the generator
// itself.
func (g *generatorState) TraceRefs() []*object.Object {
	var refs []*object.Object
	if g.fn != nil {
		refs = append(refs, g.fn)
	}
	if o, ok := g.thisVal.Obj().(*object.Object); ok {
		refs = append(refs, o)
	}
	return refs
}

// createGenerator implements the function* call protocol: calling a
// generator function produces a generator object wrapping the
// not-yet-started call rather than running its body (spec.md §4.8).
func (vm *VM) createGenerator(caller *Frame, dstReg int, fnObj *object.Object, cl *closure, thisVal, newTarget value.Value, args []value.Value) (Result, bool) {
	guard := vm.Heap.CreateGuard()
	inst := vm.Heap.Allocate(guard, object.KindIterator, vm.GeneratorProto)
	inst.Native = &generatorState{
		fn:        fnObj,
		cl:        cl,
		thisVal:   thisVal,
		newTarget: newTarget,
		args:      append([]value.Value(nil), args...),
		guard:     guard,
	}
	if dstReg >= 0 {
		caller.regs[dstReg] = value.Obj(inst)
	}
	return Result{}, false
}

// GeneratorMode selects which of a generator object's three driving
// methods (installed onto vm.GeneratorProto by internal/builtins) is
// resuming a suspended frame.
type GeneratorMode int

const (
	GeneratorNext GeneratorMode = iota
	GeneratorThrow
	GeneratorReturn
)

// pumpGenerator isolates gs.frame onto its own single-element frame
// stack for the duration of one drive step, so raise()'s uncaught-
// exception fallback and run()'s completion detection both operate
// entirely within the generator's own call chain: reusing the ambient
// vm.frames for this would let an exception left uncaught inside the
// generator body cascade into and destroy whatever frames called
// next() in the first place.
func (vm *VM) pumpGenerator(gs *generatorState, preStep func() (Result, bool)) Result {
	savedFrames := vm.frames
	savedFinalSet, savedFinalValue := vm.finalIsSet, vm.finalValue
	vm.frames = []*Frame{gs.frame}
	vm.finalIsSet = false
	defer func() {
		vm.frames = savedFrames
		vm.finalIsSet, vm.finalValue = savedFinalSet, savedFinalValue
	}()

	if preStep != nil {
		if res, done := preStep(); done {
			return res
		}
	}
	return vm.run()
}

// finishGeneratorStep turns one pumpGenerator Result into the
// (value, done, error) triple DriveGenerator promises its callers, and
// tears down gs's guard once the generator frame is truly finished —
// normal completion/return, or an error that went uncaught inside it.
func (vm *VM) finishGeneratorStep(gs *generatorState, res Result) (value.Value, bool, error) {
	if res.Suspension == SuspendYield {
		return res.Value, false, nil
	}
	gs.done = true
	gs.guard.Release()
	if res.Err != nil {
		return value.Undef(), true, res.Err
	}
	return res.Value, true, nil
}

// generatorErrFromValue converts a thrown value into the Go error a
// native function's return signature requires; like every other
// uncaught-at-the-boundary exception in this VM (see raise's
// len(vm.frames)<=1 case), the exact thrown value does not survive the
// crossing, only its displayed message.
func (vm *VM) generatorErrFromValue(v value.Value) error {
	return engineerr.New(engineerr.KindType, ast.Span{}, "%s", toDisplayString(v))
}

// DriveGenerator implements one call to a generator object's
// next/throw/return method (spec.md §4.8). this must be a generator
// instance created by createGenerator.
func (vm *VM) DriveGenerator(this value.Value, mode GeneratorMode, input value.Value) (value.Value, bool, error) {
	o, ok := vm.asObject(this)
	if !ok {
		return value.Undef(), true, engineerr.New(engineerr.KindType, ast.Span{}, "not a generator")
	}
	gs, ok := o.Native.(*generatorState)
	if !ok {
		return value.Undef(), true, engineerr.New(engineerr.KindType, ast.Span{}, "not a generator")
	}

	if gs.done {
		switch mode {
		case GeneratorThrow:
			return value.Undef(), true, vm.generatorErrFromValue(input)
		default:
			return input, true, nil
		}
	}

	if !gs.started {
		if mode != GeneratorNext {
			gs.done = true
			gs.guard.Release()
			if mode == GeneratorThrow {
				return value.Undef(), true, vm.generatorErrFromValue(input)
			}
			return input, true, nil
		}
		frame := vm.newFrame(gs.cl.chunk, gs.guard, gs.cl.outer, gs.thisVal, gs.newTarget)
		frame.returnReg = scratchReturnReg
		vm.bindCallArgs(frame, gs.fn, gs.cl, gs.guard, gs.args)
		gs.frame = frame
		gs.started = true
		return vm.finishGeneratorStep(gs, vm.pumpGenerator(gs, nil))
	}

	f := gs.frame
	switch mode {
	case GeneratorReturn:
		gs.done = true
		gs.guard.Release()
		return input, true, nil
	case GeneratorThrow:
		return vm.finishGeneratorStep(gs, vm.pumpGenerator(gs, func() (Result, bool) {
			return vm.raise(f, input)
		}))
	default:
		f.regs[f.resumeReg] = input
		return vm.finishGeneratorStep(gs, vm.pumpGenerator(gs, nil))
	}
}

// NewIteratorResult builds a plain {value, done} object, the shape
// spec.md's iteration protocol requires every next()/return()/throw()
// call to produce.
func (vm *VM) NewIteratorResult(guard *heap.Guard, v value.Value, done bool) *object.Object {
	o := vm.Heap.Allocate(guard, object.KindIteratorResult, vm.ObjectProto)
	o.DefineOwn(object.StringKey("value"), object.Descriptor{Value: v, Writable: true, Enumerable: true, Configurable: true})
	o.DefineOwn(object.StringKey("done"), object.Descriptor{Value: value.Bool(done), Writable: true, Enumerable: true, Configurable: true})
	return o
}

func (vm *VM) execAwait(f *Frame, instr opcode.Instr) (Result, bool) {
	awaited := f.regs[instr.B]
	if o, ok := vm.asObject(awaited); ok && o.Kind == object.KindPromise {
		if state, ok := o.Native.(*promiseState); ok && state.settled {
			if state.rejected {
				return vm.raise(f, state.value)
			}
			f.regs[instr.A] = state.value
			return Result{}, false
		}
		// Pending promise: the frame is not suspended and no reaction is
		// registered; the promise object itself becomes the await result.
	}
	f.regs[instr.A] = awaited
	return Result{}, false
}

type promiseState struct {
	settled   bool
	rejected  bool
	value     value.Value
	onFulfill []func(value.Value)
	onReject  []func(value.Value)
}

// MarkOrderCancelled records id as host-cancelled so the next
// Suspended result's Cancelled list reports it (spec.md §5: "a
// cancelled order's marker, when awaited, throws a cancellation
// error" — the awaiting side learns this from module.OrderBroker's
// rejected promise; this list is the wire-level signal a host
// re-inspecting a Suspended result sees).
func (vm *VM) MarkOrderCancelled(id uint64) {
	vm.cancelledOrders = append(vm.cancelledOrders, id)
}

// NewPromise allocates a pending promise object; the Promise
// constructor and the module-order plumbing both create promises
// through this one entry point.
func (vm *VM) NewPromise(guard *heap.Guard) *object.Object {
	proto := vm.PromiseProto
	if proto == nil {
		proto = vm.ObjectProto
	}
	o := vm.Heap.Allocate(guard, object.KindPromise, proto)
	o.Native = &promiseState{}
	return o
}

// SettlePromise resolves or rejects a pending promise, firing any
// reactions queued by PromiseThen. Settling an already-settled promise
// is a no-op, matching normal promise semantics.
func (vm *VM) SettlePromise(p *object.Object, v value.Value, rejected bool) {
	state, ok := p.Native.(*promiseState)
	if !ok || state.settled {
		return
	}
	state.settled = true
	state.rejected = rejected
	state.value = v
	reactions := state.onFulfill
	if rejected {
		reactions = state.onReject
	}
	for _, r := range reactions {
		r(v)
	}
	state.onFulfill, state.onReject = nil, nil
}

// PromiseThen registers reactions for a (possibly already settled)
// promise, invoking immediately if it has already settled.
func (vm *VM) PromiseThen(p *object.Object, onFulfill, onReject func(value.Value)) {
	state, ok := p.Native.(*promiseState)
	if !ok {
		return
	}
	if state.settled {
		if state.rejected {
			if onReject != nil {
				onReject(state.value)
			}
		} else if onFulfill != nil {
			onFulfill(state.value)
		}
		return
	}
	if onFulfill != nil {
		state.onFulfill = append(state.onFulfill, onFulfill)
	}
	if onReject != nil {
		state.onReject = append(state.onReject, onReject)
	}
}

// proxyState is a KindProxy object's Native payload: the real object
// operations fall back to once a trap is absent from handler.
type proxyState struct {
	target  *object.Object
	handler *object.Object
}

// NewProxy allocates a Proxy wrapping target with the given handler;
// internal/builtins' Proxy constructor is the only caller.
func (vm *VM) NewProxy(guard *heap.Guard, target, handler *object.Object) *object.Object {
	o := vm.Heap.Allocate(guard, object.KindProxy, target.Proto)
	o.Native = &proxyState{target: target, handler: handler}
	return o
}

func (vm *VM) proxyOf(o *object.Object) (*proxyState, bool) {
	if o.Kind != object.KindProxy {
		return nil, false
	}
	px, ok := o.Native.(*proxyState)
	return px, ok
}

// ProxyTarget returns the wrapped object behind a Proxy, for callers
// (Object.keys/values/assign) that need to read property values outside
// the get-trap path used by ordinary property access.
func (vm *VM) ProxyTarget(o *object.Object) (*object.Object, bool) {
	px, ok := vm.proxyOf(o)
	if !ok {
		return o, false
	}
	return px.target, true
}

// ProxyOwnKeys returns the enumerable-own-key view Object.keys/for-in
// use against a (possibly proxied) object. Per the ownKeys invariant
// resolution: a handler's ownKeys result is corrected rather than
// rejected when it drops one of the target's own non-configurable
// keys — those are silently re-inserted so callers never observe an
// invariant violation, only a best-effort approximation of what the
// trap asked for.
func (vm *VM) ProxyOwnKeys(o *object.Object) []object.PropertyKey {
	px, isProxy := vm.proxyOf(o)
	if !isProxy {
		return o.OwnKeys()
	}
	trap, has := px.handler.Get(object.StringKey("ownKeys"))
	if !has || trap.Value.IsUndefined() {
		return px.target.OwnKeys()
	}
	caller := vm.top()
	res, done := vm.invokeSync(caller, scratchReturnReg, trap.Value, value.Obj(px.handler), []value.Value{value.Obj(px.target)})
	if done && res.Err != nil {
		return px.target.OwnKeys()
	}
	reported, ok := vm.asObject(vm.scratchReturn)
	if !ok || reported.Kind != object.KindArray {
		return px.target.OwnKeys()
	}
	seen := make(map[string]bool, len(reported.Elements))
	keys := make([]object.PropertyKey, 0, len(reported.Elements))
	for _, el := range reported.Elements {
		k := el.Str()
		if seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, object.StringKey(k))
	}
	for _, k := range px.target.OwnKeys() {
		if k.IsSym || seen[k.Str] {
			continue
		}
		if d, has := px.target.GetOwn(k); has && !d.Configurable {
			keys = append(keys, k)
		}
	}
	return keys
}

// execDirectEval implements the direct-`eval(src)` call compileCall
// special-cases the same way it special-cases `__order__`: src is
// parsed and compiled exactly as internal/compiler's own entry points
// do, then run as a nested trampoline frame sharing the calling
// frame's environment and guard, so declarations the evaluated source
// makes (var, function, and — per this build's single-environment-per-
// frame simplification, also let/const, see DESIGN.md) are visible to
// the caller once eval returns, matching spec.md §4.4's "extends the
// caller's environment." A non-string argument is returned unevaluated
// per the language's indirect-eval-passthrough rule for non-string eval
// arguments.
func (vm *VM) execDirectEval(f *Frame, instr opcode.Instr) (Result, bool) {
	argsObj, ok := vm.asObject(f.regs[instr.B])
	var args []value.Value
	if ok {
		args = argsObj.Elements
	}
	src := ArgOrUndefined(args, 0)
	if src.Kind() != value.String {
		f.regs[instr.A] = src
		return Result{}, false
	}
	prog, errs := parser.ParseProgram(src.Str())
	if len(errs) > 0 {
		return vm.raise(f, vm.makeError(f, "SyntaxError", errs[0].Message))
	}
	ck, err := compiler.Compile(prog)
	if err != nil {
		return vm.raise(f, vm.nativeErrorValue(f, err))
	}
	if len(vm.frames) >= vm.MaxCallDepth {
		return vm.raise(f, vm.makeError(f, "RangeError", "Maximum call stack size exceeded"))
	}
	evalFrame := &Frame{
		chunk:       ck,
		regs:        make([]value.Value, ck.MaxRegisters),
		guard:       f.guard,
		environment: f.environment,
		this:        f.this,
		newTarget:   value.Undef(),
		callerFrame: f,
		returnReg:   instr.A,
	}
	vm.frames = append(vm.frames, evalFrame)
	return Result{}, false
}

// execSuspendOrder implements spec.md §4.7's order syscall: the
// compiler lowers a call to the well-known `__order__` intrinsic
// directly to this opcode (compileCall's special case, the same way it
// special-cases `eval`) instead of an ordinary Call, so issuing an
// order both mints its id and performs the VM-wide suspension in one
// step. instr.A holds the payload on the way in and is where Resume
// later writes the host's answer (or resolve_promise's value, relayed
// through module.OrderBroker), so the source-level `order(payload)`
// call expression evaluates to that answer once resumed.
func (vm *VM) execSuspendOrder(f *Frame, instr opcode.Instr) (Result, bool) {
	vm.nextOrderID++
	id := vm.nextOrderID
	vm.pendingOrders = append(vm.pendingOrders, PendingOrder{ID: id, Payload: f.regs[instr.A]})
	f.suspended = &pendingCompletion{}
	f.resumeReg = instr.A
	return Result{
		Suspension: SuspendOrder,
		Pending:    vm.pendingOrders,
		Cancelled:  vm.cancelledOrders,
	}, true
}
