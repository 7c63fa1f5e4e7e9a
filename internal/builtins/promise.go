package builtins

import (
	"github.com/opal-lang/scriptengine/internal/env"
	"github.com/opal-lang/scriptengine/internal/heap"
	"github.com/opal-lang/scriptengine/internal/object"
	"github.com/opal-lang/scriptengine/internal/value"
	"github.com/opal-lang/scriptengine/internal/vm"
)

// installGlobalPromise wires the constructor and .then/.catch/.finally
// surface onto the VM's own settle/react machinery (vm.NewPromise,
// vm.SettlePromise, vm.PromiseThen): the builtins layer never tracks
// promise state itself, it only ever asks the VM to create, settle, or
// subscribe to one.
func installGlobalPromise(vmInst *vm.VM, guard *heap.Guard, reg *Registry, global *env.Environment, promiseProto *object.Object) {
	ctor := vmInst.NewNativeFunction(guard, "Promise", 1, func(vmi *vm.VM, this value.Value, args []value.Value, newTarget value.Value) (value.Value, error) {
		p := vmi.NewPromise(guard)
		executor := vm.ArgOrUndefined(args, 0)
		resolve := vmi.NewNativeFunction(guard, "resolve", 1, func(vmi2 *vm.VM, _ value.Value, rargs []value.Value, _ value.Value) (value.Value, error) {
			vmi2.SettlePromise(p, vm.ArgOrUndefined(rargs, 0), false)
			return value.Undef(), nil
		})
		reject := vmi.NewNativeFunction(guard, "reject", 1, func(vmi2 *vm.VM, _ value.Value, rargs []value.Value, _ value.Value) (value.Value, error) {
			vmi2.SettlePromise(p, vm.ArgOrUndefined(rargs, 0), true)
			return value.Undef(), nil
		})
		if _, err := vmi.CallFunction(guard, executor, value.Undef(), []value.Value{value.Obj(resolve), value.Obj(reject)}); err != nil {
			vmi.SettlePromise(p, engineErrToValue(vmi, guard, err), true)
		}
		return value.Obj(p), nil
	})
	ctor.DefineOwn(object.StringKey("prototype"), object.NameLengthDescriptor(value.Obj(promiseProto)))

	reg.RegisterNative(vmInst, guard, ctor, Descriptor{Name: "resolve", Length: 1}, func(vmi *vm.VM, this value.Value, args []value.Value, _ value.Value) (value.Value, error) {
		p := vmi.NewPromise(guard)
		vmi.SettlePromise(p, vm.ArgOrUndefined(args, 0), false)
		return value.Obj(p), nil
	})
	reg.RegisterNative(vmInst, guard, ctor, Descriptor{Name: "reject", Length: 1}, func(vmi *vm.VM, this value.Value, args []value.Value, _ value.Value) (value.Value, error) {
		p := vmi.NewPromise(guard)
		vmi.SettlePromise(p, vm.ArgOrUndefined(args, 0), true)
		return value.Obj(p), nil
	})

	reg.RegisterNative(vmInst, guard, promiseProto, Descriptor{Name: "then", Length: 2}, func(vmi *vm.VM, this value.Value, args []value.Value, _ value.Value) (value.Value, error) {
		p, ok := asObj(this)
		if !ok {
			return value.Undef(), nil
		}
		onFulfill, onReject := vm.ArgOrUndefined(args, 0), vm.ArgOrUndefined(args, 1)
		next := vmi.NewPromise(guard)
		vmi.PromiseThen(p,
			func(v value.Value) { settleFromReaction(vmi, guard, next, onFulfill, v, false) },
			func(v value.Value) { settleFromReaction(vmi, guard, next, onReject, v, true) },
		)
		return value.Obj(next), nil
	})
	reg.RegisterNative(vmInst, guard, promiseProto, Descriptor{Name: "catch", Length: 1}, func(vmi *vm.VM, this value.Value, args []value.Value, _ value.Value) (value.Value, error) {
		then, _ := promiseProto.GetOwn(object.StringKey("then"))
		return vmi.CallFunction(guard, then.Value, this, []value.Value{value.Undef(), vm.ArgOrUndefined(args, 0)})
	})
	reg.RegisterNative(vmInst, guard, promiseProto, Descriptor{Name: "finally", Length: 1}, func(vmi *vm.VM, this value.Value, args []value.Value, _ value.Value) (value.Value, error) {
		cb := vm.ArgOrUndefined(args, 0)
		wrap := vmi.NewNativeFunction(guard, "", 1, func(vmi2 *vm.VM, _ value.Value, wargs []value.Value, _ value.Value) (value.Value, error) {
			_, err := vmi2.CallFunction(guard, cb, value.Undef(), nil)
			if err != nil {
				return value.Undef(), err
			}
			return vm.ArgOrUndefined(wargs, 0), nil
		})
		then, _ := promiseProto.GetOwn(object.StringKey("then"))
		return vmi.CallFunction(guard, then.Value, this, []value.Value{value.Obj(wrap), value.Obj(wrap)})
	})

	declareGlobal(global, "Promise", value.Obj(ctor))
}

// settleFromReaction runs a then/catch reaction callback (if any) and
// propagates its outcome into the chained promise, matching ordinary
// promise chaining: a reaction that throws rejects the next promise, a
// missing reaction passes the settlement through unchanged.
func settleFromReaction(vmi *vm.VM, guard *heap.Guard, next *object.Object, cb, v value.Value, wasRejection bool) {
	if cb.IsUndefined() {
		vmi.SettlePromise(next, v, wasRejection)
		return
	}
	r, err := vmi.CallFunction(guard, cb, value.Undef(), []value.Value{v})
	if err != nil {
		vmi.SettlePromise(next, engineErrToValue(vmi, guard, err), true)
		return
	}
	vmi.SettlePromise(next, r, false)
}

func engineErrToValue(vmi *vm.VM, guard *heap.Guard, err error) value.Value {
	o := vmi.Heap.Allocate(guard, object.KindPlain, vmi.ObjectProto)
	o.DefineOwn(object.StringKey("message"), object.Descriptor{Value: value.Str(err.Error()), Writable: true, Enumerable: true, Configurable: true})
	o.DefineOwn(object.StringKey("name"), object.Descriptor{Value: value.Str("Error"), Writable: true, Enumerable: true, Configurable: true})
	return value.Obj(o)
}
