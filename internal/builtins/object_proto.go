package builtins

import (
	"github.com/opal-lang/scriptengine/ast"
	"github.com/opal-lang/scriptengine/internal/engineerr"
	"github.com/opal-lang/scriptengine/internal/env"
	"github.com/opal-lang/scriptengine/internal/heap"
	"github.com/opal-lang/scriptengine/internal/object"
	"github.com/opal-lang/scriptengine/internal/value"
	"github.com/opal-lang/scriptengine/internal/vm"
)

func asObj(v value.Value) (*object.Object, bool) {
	if v.Kind() != value.Object {
		return nil, false
	}
	o, ok := v.Obj().(*object.Object)
	return o, ok
}

func installObjectProto(vmInst *vm.VM, guard *heap.Guard, reg *Registry, proto *object.Object) {
	reg.RegisterNative(vmInst, guard, proto, Descriptor{Name: "hasOwnProperty", Length: 1}, func(vmi *vm.VM, this value.Value, args []value.Value, _ value.Value) (value.Value, error) {
		o, ok := asObj(this)
		if !ok {
			return value.Bool(false), nil
		}
		key := value.ToPropertyKeyString(vm.ArgOrUndefined(args, 0))
		return value.Bool(o.HasOwn(object.StringKey(key))), nil
	})
	reg.RegisterNative(vmInst, guard, proto, Descriptor{Name: "isPrototypeOf", Length: 1}, func(vmi *vm.VM, this value.Value, args []value.Value, _ value.Value) (value.Value, error) {
		target, ok := asObj(vm.ArgOrUndefined(args, 0))
		self, selfOK := asObj(this)
		if !ok || !selfOK {
			return value.Bool(false), nil
		}
		for p := target.Proto; p != nil; p = p.Proto {
			if p == self {
				return value.Bool(true), nil
			}
		}
		return value.Bool(false), nil
	})
	reg.RegisterNative(vmInst, guard, proto, Descriptor{Name: "toString", Length: 0}, func(vmi *vm.VM, this value.Value, args []value.Value, _ value.Value) (value.Value, error) {
		if o, ok := asObj(this); ok {
			return value.Str("[object " + kindTag(o.Kind) + "]"), nil
		}
		return value.Str("[object Undefined]"), nil
	})
}

func kindTag(k object.ExoticKind) string {
	switch k {
	case object.KindArray:
		return "Array"
	case object.KindFunctionBytecode, object.KindFunctionNative, object.KindFunctionBound,
		object.KindFunctionGenerator, object.KindFunctionAsync, object.KindFunctionAsyncGenerator:
		return "Function"
	default:
		return "Object"
	}
}

func installGlobalObject(vmInst *vm.VM, guard *heap.Guard, reg *Registry, global *env.Environment, objectProto *object.Object) {
	ctor := vmInst.NewNativeFunction(guard, "Object", 1, func(vmi *vm.VM, this value.Value, args []value.Value, newTarget value.Value) (value.Value, error) {
		if o, ok := asObj(vm.ArgOrUndefined(args, 0)); ok {
			return value.Obj(o), nil
		}
		return value.Obj(vmi.Heap.Allocate(guard, object.KindPlain, objectProto)), nil
	})
	ctor.DefineOwn(object.StringKey("prototype"), object.NameLengthDescriptor(value.Obj(objectProto)))

	reg.RegisterNative(vmInst, guard, ctor, Descriptor{Name: "keys", Length: 1}, func(vmi *vm.VM, this value.Value, args []value.Value, _ value.Value) (value.Value, error) {
		o, ok := asObj(vm.ArgOrUndefined(args, 0))
		arr := vmi.Heap.Allocate(guard, object.KindArray, vmi.ArrayProto)
		if !ok {
			return value.Obj(arr), nil
		}
		target, _ := vmi.ProxyTarget(o)
		for _, k := range vmi.ProxyOwnKeys(o) {
			if k.IsSym {
				continue
			}
			if d, has := target.GetOwn(k); has && d.Enumerable {
				arr.Elements = append(arr.Elements, value.Str(k.Str))
			}
		}
		return value.Obj(arr), nil
	})
	reg.RegisterNative(vmInst, guard, ctor, Descriptor{Name: "values", Length: 1}, func(vmi *vm.VM, this value.Value, args []value.Value, _ value.Value) (value.Value, error) {
		o, ok := asObj(vm.ArgOrUndefined(args, 0))
		arr := vmi.Heap.Allocate(guard, object.KindArray, vmi.ArrayProto)
		if !ok {
			return value.Obj(arr), nil
		}
		target, _ := vmi.ProxyTarget(o)
		for _, k := range vmi.ProxyOwnKeys(o) {
			if k.IsSym {
				continue
			}
			if d, has := target.GetOwn(k); has && d.Enumerable {
				arr.Elements = append(arr.Elements, d.Value)
			}
		}
		return value.Obj(arr), nil
	})
	reg.RegisterNative(vmInst, guard, ctor, Descriptor{Name: "assign", Length: 2}, func(vmi *vm.VM, this value.Value, args []value.Value, _ value.Value) (value.Value, error) {
		if len(args) == 0 {
			return value.Undef(), engineerr.New(engineerr.KindType, ast.Span{}, "Object.assign requires a target")
		}
		target, ok := asObj(args[0])
		if !ok {
			return value.Undef(), engineerr.New(engineerr.KindType, ast.Span{}, "Object.assign target must be an object")
		}
		for _, src := range args[1:] {
			so, ok := asObj(src)
			if !ok {
				continue
			}
			for _, k := range so.OwnKeys() {
				if d, has := so.GetOwn(k); has && d.Enumerable {
					target.DefineOwn(k, object.Descriptor{Value: d.Value, Writable: true, Enumerable: true, Configurable: true})
				}
			}
		}
		return value.Obj(target), nil
	})
	reg.RegisterNative(vmInst, guard, ctor, Descriptor{Name: "freeze", Length: 1}, func(vmi *vm.VM, this value.Value, args []value.Value, _ value.Value) (value.Value, error) {
		if o, ok := asObj(vm.ArgOrUndefined(args, 0)); ok {
			o.Frozen, o.Sealed, o.Extensible = true, true, false
		}
		return vm.ArgOrUndefined(args, 0), nil
	})

	declareGlobal(global, "Object", value.Obj(ctor))
}
