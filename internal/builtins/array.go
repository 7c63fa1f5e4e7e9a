package builtins

import (
	"strconv"
	"strings"

	"github.com/opal-lang/scriptengine/internal/env"
	"github.com/opal-lang/scriptengine/internal/heap"
	"github.com/opal-lang/scriptengine/internal/object"
	"github.com/opal-lang/scriptengine/internal/value"
	"github.com/opal-lang/scriptengine/internal/vm"
)

// toDisplayString mirrors the VM's internal stringification closely
// enough for console/array output; it intentionally doesn't chase
// Symbol.toPrimitive or other coercion edge cases native code never
// needs to reproduce exactly.
func toDisplayString(v value.Value) string {
	switch v.Kind() {
	case value.Undefined:
		return "undefined"
	case value.Null:
		return "null"
	case value.Boolean:
		if v.Bool() {
			return "true"
		}
		return "false"
	case value.Number:
		return strconv.FormatFloat(v.Num(), 'g', -1, 64)
	case value.String:
		return v.Str()
	case value.Object:
		if o, ok := asObj(v); ok {
			if o.Kind == object.KindArray {
				return arrayJoin(o, ",")
			}
			return "[object " + kindTag(o.Kind) + "]"
		}
		return "[object Object]"
	default:
		return ""
	}
}

func arrayJoin(o *object.Object, sep string) string {
	parts := make([]string, len(o.Elements))
	for i, el := range o.Elements {
		if el.IsNullish() {
			parts[i] = ""
			continue
		}
		parts[i] = toDisplayString(el)
	}
	return strings.Join(parts, sep)
}

// installArrayProto wires the subset of Array.prototype spec.md's call
// protocol expects every array-producing builtin to share: iteration,
// mutation, and the functional combinators, each a thin NativeFunc
// calling back into the callback through vm.CallFunction the same way
// function_proto.go's call/apply do.
func installArrayProto(vmInst *vm.VM, guard *heap.Guard, reg *Registry, proto *object.Object) {
	reg.RegisterNative(vmInst, guard, proto, Descriptor{Name: "push", Length: 1}, func(vmi *vm.VM, this value.Value, args []value.Value, _ value.Value) (value.Value, error) {
		o, ok := asObj(this)
		if !ok {
			return value.Num(0), nil
		}
		o.Elements = append(o.Elements, args...)
		return value.Num(float64(len(o.Elements))), nil
	})
	reg.RegisterNative(vmInst, guard, proto, Descriptor{Name: "pop", Length: 0}, func(vmi *vm.VM, this value.Value, args []value.Value, _ value.Value) (value.Value, error) {
		o, ok := asObj(this)
		if !ok || len(o.Elements) == 0 {
			return value.Undef(), nil
		}
		last := o.Elements[len(o.Elements)-1]
		o.Elements = o.Elements[:len(o.Elements)-1]
		return last, nil
	})
	reg.RegisterNative(vmInst, guard, proto, Descriptor{Name: "shift", Length: 0}, func(vmi *vm.VM, this value.Value, args []value.Value, _ value.Value) (value.Value, error) {
		o, ok := asObj(this)
		if !ok || len(o.Elements) == 0 {
			return value.Undef(), nil
		}
		first := o.Elements[0]
		o.Elements = o.Elements[1:]
		return first, nil
	})
	reg.RegisterNative(vmInst, guard, proto, Descriptor{Name: "unshift", Length: 1}, func(vmi *vm.VM, this value.Value, args []value.Value, _ value.Value) (value.Value, error) {
		o, ok := asObj(this)
		if !ok {
			return value.Num(0), nil
		}
		o.Elements = append(append([]value.Value{}, args...), o.Elements...)
		return value.Num(float64(len(o.Elements))), nil
	})
	reg.RegisterNative(vmInst, guard, proto, Descriptor{Name: "slice", Length: 2}, func(vmi *vm.VM, this value.Value, args []value.Value, _ value.Value) (value.Value, error) {
		o, ok := asObj(this)
		arr := vmi.Heap.Allocate(guard, object.KindArray, vmi.ArrayProto)
		if !ok {
			return value.Obj(arr), nil
		}
		start, end := sliceBounds(len(o.Elements), args)
		if start < end {
			arr.Elements = append(arr.Elements, o.Elements[start:end]...)
		}
		return value.Obj(arr), nil
	})
	reg.RegisterNative(vmInst, guard, proto, Descriptor{Name: "join", Length: 1}, func(vmi *vm.VM, this value.Value, args []value.Value, _ value.Value) (value.Value, error) {
		o, ok := asObj(this)
		if !ok {
			return value.Str(""), nil
		}
		sep := ","
		if len(args) > 0 && !args[0].IsUndefined() {
			sep = toDisplayString(args[0])
		}
		return value.Str(arrayJoin(o, sep)), nil
	})
	reg.RegisterNative(vmInst, guard, proto, Descriptor{Name: "includes", Length: 1}, func(vmi *vm.VM, this value.Value, args []value.Value, _ value.Value) (value.Value, error) {
		o, ok := asObj(this)
		target := vm.ArgOrUndefined(args, 0)
		if !ok {
			return value.Bool(false), nil
		}
		for _, el := range o.Elements {
			if value.SameValueZero(el, target) {
				return value.Bool(true), nil
			}
		}
		return value.Bool(false), nil
	})
	reg.RegisterNative(vmInst, guard, proto, Descriptor{Name: "indexOf", Length: 1}, func(vmi *vm.VM, this value.Value, args []value.Value, _ value.Value) (value.Value, error) {
		o, ok := asObj(this)
		target := vm.ArgOrUndefined(args, 0)
		if !ok {
			return value.Num(-1), nil
		}
		for i, el := range o.Elements {
			if value.StrictEquals(el, target) {
				return value.Num(float64(i)), nil
			}
		}
		return value.Num(-1), nil
	})
	reg.RegisterNative(vmInst, guard, proto, Descriptor{Name: "forEach", Length: 1}, func(vmi *vm.VM, this value.Value, args []value.Value, _ value.Value) (value.Value, error) {
		o, ok := asObj(this)
		cb := vm.ArgOrUndefined(args, 0)
		if !ok {
			return value.Undef(), nil
		}
		for i, el := range o.Elements {
			if _, err := vmi.CallFunction(guard, cb, value.Undef(), []value.Value{el, value.Num(float64(i)), this}); err != nil {
				return value.Undef(), err
			}
		}
		return value.Undef(), nil
	})
	reg.RegisterNative(vmInst, guard, proto, Descriptor{Name: "map", Length: 1}, func(vmi *vm.VM, this value.Value, args []value.Value, _ value.Value) (value.Value, error) {
		o, ok := asObj(this)
		cb := vm.ArgOrUndefined(args, 0)
		out := vmi.Heap.Allocate(guard, object.KindArray, vmi.ArrayProto)
		if !ok {
			return value.Obj(out), nil
		}
		for i, el := range o.Elements {
			r, err := vmi.CallFunction(guard, cb, value.Undef(), []value.Value{el, value.Num(float64(i)), this})
			if err != nil {
				return value.Undef(), err
			}
			out.Elements = append(out.Elements, r)
		}
		return value.Obj(out), nil
	})
	reg.RegisterNative(vmInst, guard, proto, Descriptor{Name: "filter", Length: 1}, func(vmi *vm.VM, this value.Value, args []value.Value, _ value.Value) (value.Value, error) {
		o, ok := asObj(this)
		cb := vm.ArgOrUndefined(args, 0)
		out := vmi.Heap.Allocate(guard, object.KindArray, vmi.ArrayProto)
		if !ok {
			return value.Obj(out), nil
		}
		for i, el := range o.Elements {
			r, err := vmi.CallFunction(guard, cb, value.Undef(), []value.Value{el, value.Num(float64(i)), this})
			if err != nil {
				return value.Undef(), err
			}
			if value.ToBoolean(r) {
				out.Elements = append(out.Elements, el)
			}
		}
		return value.Obj(out), nil
	})
	reg.RegisterNative(vmInst, guard, proto, Descriptor{Name: "reduce", Length: 1}, func(vmi *vm.VM, this value.Value, args []value.Value, _ value.Value) (value.Value, error) {
		o, ok := asObj(this)
		cb := vm.ArgOrUndefined(args, 0)
		if !ok {
			return value.Undef(), nil
		}
		i := 0
		acc := vm.ArgOrUndefined(args, 1)
		if len(args) < 2 {
			if len(o.Elements) == 0 {
				return value.Undef(), nil
			}
			acc = o.Elements[0]
			i = 1
		}
		for ; i < len(o.Elements); i++ {
			r, err := vmi.CallFunction(guard, cb, value.Undef(), []value.Value{acc, o.Elements[i], value.Num(float64(i)), this})
			if err != nil {
				return value.Undef(), err
			}
			acc = r
		}
		return acc, nil
	})
	reg.RegisterNative(vmInst, guard, proto, Descriptor{Name: "find", Length: 1}, func(vmi *vm.VM, this value.Value, args []value.Value, _ value.Value) (value.Value, error) {
		o, ok := asObj(this)
		cb := vm.ArgOrUndefined(args, 0)
		if !ok {
			return value.Undef(), nil
		}
		for i, el := range o.Elements {
			r, err := vmi.CallFunction(guard, cb, value.Undef(), []value.Value{el, value.Num(float64(i)), this})
			if err != nil {
				return value.Undef(), err
			}
			if value.ToBoolean(r) {
				return el, nil
			}
		}
		return value.Undef(), nil
	})
	reg.RegisterNative(vmInst, guard, proto, Descriptor{Name: "toString", Length: 0}, func(vmi *vm.VM, this value.Value, args []value.Value, _ value.Value) (value.Value, error) {
		o, ok := asObj(this)
		if !ok {
			return value.Str(""), nil
		}
		return value.Str(arrayJoin(o, ",")), nil
	})
}

func sliceBounds(length int, args []value.Value) (int, int) {
	start, end := 0, length
	if len(args) > 0 && !args[0].IsUndefined() {
		start = normalizeIndex(int(value.ToNumber(args[0])), length)
	}
	if len(args) > 1 && !args[1].IsUndefined() {
		end = normalizeIndex(int(value.ToNumber(args[1])), length)
	}
	return start, end
}

func normalizeIndex(i, length int) int {
	if i < 0 {
		i += length
	}
	if i < 0 {
		return 0
	}
	if i > length {
		return length
	}
	return i
}

func installGlobalArray(vmInst *vm.VM, guard *heap.Guard, reg *Registry, global *env.Environment, arrayProto *object.Object) {
	ctor := vmInst.NewNativeFunction(guard, "Array", 1, func(vmi *vm.VM, this value.Value, args []value.Value, newTarget value.Value) (value.Value, error) {
		arr := vmi.Heap.Allocate(guard, object.KindArray, arrayProto)
		if len(args) == 1 && args[0].Kind() == value.Number {
			n := int(args[0].Num())
			arr.Elements = make([]value.Value, n)
			for i := range arr.Elements {
				arr.Elements[i] = value.Undef()
			}
			return value.Obj(arr), nil
		}
		arr.Elements = append(arr.Elements, args...)
		return value.Obj(arr), nil
	})
	ctor.DefineOwn(object.StringKey("prototype"), object.NameLengthDescriptor(value.Obj(arrayProto)))

	reg.RegisterNative(vmInst, guard, ctor, Descriptor{Name: "isArray", Length: 1}, func(vmi *vm.VM, this value.Value, args []value.Value, _ value.Value) (value.Value, error) {
		o, ok := asObj(vm.ArgOrUndefined(args, 0))
		return value.Bool(ok && o.Kind == object.KindArray), nil
	})
	reg.RegisterNative(vmInst, guard, ctor, Descriptor{Name: "from", Length: 1}, func(vmi *vm.VM, this value.Value, args []value.Value, _ value.Value) (value.Value, error) {
		out := vmi.Heap.Allocate(guard, object.KindArray, arrayProto)
		src, ok := asObj(vm.ArgOrUndefined(args, 0))
		if !ok {
			return value.Obj(out), nil
		}
		if src.Kind == object.KindArray {
			out.Elements = append(out.Elements, src.Elements...)
		} else {
			for i := 0; ; i++ {
				d, has := src.GetOwn(object.StringKey(strconv.Itoa(i)))
				if !has {
					break
				}
				out.Elements = append(out.Elements, d.Value)
			}
		}
		return value.Obj(out), nil
	})

	declareGlobal(global, "Array", value.Obj(ctor))
}
