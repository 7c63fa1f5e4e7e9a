package builtins

import (
	"github.com/opal-lang/scriptengine/internal/heap"
	"github.com/opal-lang/scriptengine/internal/object"
	"github.com/opal-lang/scriptengine/internal/value"
	"github.com/opal-lang/scriptengine/internal/vm"
)

// installGeneratorProto wires next/throw/return the same way promise.go
// wires then/catch/finally: the builtins layer holds no generator state
// of its own, it only ever asks the VM (vm.DriveGenerator) to advance
// one it already owns, and wraps the answer as an IteratorResult.
func installGeneratorProto(vmInst *vm.VM, guard *heap.Guard, reg *Registry) *object.Object {
	proto := object.New(5, object.KindPlain, vmInst.ObjectProto)

	reg.RegisterNative(vmInst, guard, proto, Descriptor{Name: "next", Length: 1}, func(vmi *vm.VM, this value.Value, args []value.Value, _ value.Value) (value.Value, error) {
		v, done, err := vmi.DriveGenerator(this, vm.GeneratorNext, vm.ArgOrUndefined(args, 0))
		if err != nil {
			return value.Undef(), err
		}
		return value.Obj(vmi.NewIteratorResult(guard, v, done)), nil
	})
	reg.RegisterNative(vmInst, guard, proto, Descriptor{Name: "throw", Length: 1}, func(vmi *vm.VM, this value.Value, args []value.Value, _ value.Value) (value.Value, error) {
		v, done, err := vmi.DriveGenerator(this, vm.GeneratorThrow, vm.ArgOrUndefined(args, 0))
		if err != nil {
			return value.Undef(), err
		}
		return value.Obj(vmi.NewIteratorResult(guard, v, done)), nil
	})
	reg.RegisterNative(vmInst, guard, proto, Descriptor{Name: "return", Length: 1}, func(vmi *vm.VM, this value.Value, args []value.Value, _ value.Value) (value.Value, error) {
		v, done, err := vmi.DriveGenerator(this, vm.GeneratorReturn, vm.ArgOrUndefined(args, 0))
		if err != nil {
			return value.Undef(), err
		}
		return value.Obj(vmi.NewIteratorResult(guard, v, done)), nil
	})

	return proto
}
