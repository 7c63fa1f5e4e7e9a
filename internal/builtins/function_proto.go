package builtins

import (
	"github.com/opal-lang/scriptengine/internal/heap"
	"github.com/opal-lang/scriptengine/internal/object"
	"github.com/opal-lang/scriptengine/internal/value"
	"github.com/opal-lang/scriptengine/internal/vm"
)

// installFunctionProto wires call/apply/bind the same way every other
// native method here is wired: through vm.CallFunction (re-entering the
// trampoline synchronously via the VM's public invocation entry point)
// rather than duplicating dispatch logic in the builtins layer.
func installFunctionProto(vmInst *vm.VM, guard *heap.Guard, reg *Registry, proto *object.Object) {
	reg.RegisterNative(vmInst, guard, proto, Descriptor{Name: "call", Length: 1}, func(vmi *vm.VM, this value.Value, args []value.Value, _ value.Value) (value.Value, error) {
		callThis := vm.ArgOrUndefined(args, 0)
		var rest []value.Value
		if len(args) > 1 {
			rest = args[1:]
		}
		return vmi.CallFunction(guard, this, callThis, rest)
	})
	reg.RegisterNative(vmInst, guard, proto, Descriptor{Name: "apply", Length: 2}, func(vmi *vm.VM, this value.Value, args []value.Value, _ value.Value) (value.Value, error) {
		callThis := vm.ArgOrUndefined(args, 0)
		var rest []value.Value
		if arr, ok := asObj(vm.ArgOrUndefined(args, 1)); ok {
			rest = arr.Elements
		}
		return vmi.CallFunction(guard, this, callThis, rest)
	})
	reg.RegisterNative(vmInst, guard, proto, Descriptor{Name: "bind", Length: 1}, func(vmi *vm.VM, this value.Value, args []value.Value, _ value.Value) (value.Value, error) {
		target, ok := asObj(this)
		if !ok {
			return value.Undef(), nil
		}
		boundThis := vm.ArgOrUndefined(args, 0)
		var preset []value.Value
		if len(args) > 1 {
			preset = append(preset, args[1:]...)
		}
		bound := vmi.Heap.Allocate(guard, object.KindFunctionBound, vmi.FunctionProto)
		bound.Native = vm.NativeFunc(func(inner *vm.VM, _ value.Value, callArgs []value.Value, newTarget value.Value) (value.Value, error) {
			all := append(append([]value.Value{}, preset...), callArgs...)
			return inner.CallFunction(guard, value.Obj(target), boundThis, all)
		})
		return value.Obj(bound), nil
	})
}
