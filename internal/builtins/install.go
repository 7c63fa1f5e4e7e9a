package builtins

import (
	"github.com/opal-lang/scriptengine/internal/env"
	"github.com/opal-lang/scriptengine/internal/heap"
	"github.com/opal-lang/scriptengine/internal/object"
	"github.com/opal-lang/scriptengine/internal/value"
	"github.com/opal-lang/scriptengine/internal/vm"
)

// Prototypes bundles the three exotic-kind prototypes every chunk's
// closures are constructed against, plus the registry of every native
// function installed anywhere in the object graph.
type Prototypes struct {
	Object   *object.Object
	Function *object.Object
	Array    *object.Object
	Registry *Registry
}

// Install builds the prototype chain and the global environment's
// built-in bindings (console, Object, Array, Promise, Proxy) against a
// VM that has not yet run any user chunk. It wires the prototypes into
// vmInst itself (through vm.WithPrototypes) and returns them as well.
func Install(vmInst *vm.VM, guard *heap.Guard, global *env.Environment) *Prototypes {
	reg := NewRegistry()

	// Prototypes are permanent fixtures of the VM, not swept garbage, so
	// they are built directly rather than through heap.Allocate; they
	// get small fixed ids of their own since id 0 would otherwise
	// collide across all three.
	objectProto := object.New(1, object.KindPlain, nil)
	functionProto := object.New(2, object.KindPlain, objectProto)
	arrayProto := object.New(3, object.KindPlain, objectProto)

	p := &Prototypes{Object: objectProto, Function: functionProto, Array: arrayProto, Registry: reg}

	// vm.WithPrototypes must run before any further Allocate call that
	// wants these as a proto, so Install applies it here, before
	// installGlobals below allocates anything through vmInst.Heap.
	vm.WithPrototypes(objectProto, functionProto, arrayProto)(vmInst)

	// createGenerator (invoke's function* call path) needs GeneratorProto
	// wired before any user chunk runs, same as the three prototypes
	// above; installGeneratorProto itself only needs ObjectProto, already
	// wired by the WithPrototypes call just above.
	generatorProto := installGeneratorProto(vmInst, guard, reg)
	vm.WithGeneratorProto(generatorProto)(vmInst)

	// vm.NewPromise (used both by Promise-constructor code below and by
	// createAsyncCall for every async-function call's return value)
	// needs PromiseProto wired before either can run, for the same
	// reason GeneratorProto does above.
	promiseProto := object.New(4, object.KindPlain, objectProto)
	vm.WithPromiseProto(promiseProto)(vmInst)

	installObjectProto(vmInst, guard, reg, objectProto)
	installFunctionProto(vmInst, guard, reg, functionProto)
	installArrayProto(vmInst, guard, reg, arrayProto)

	installGlobalConsole(vmInst, guard, reg, global)
	installGlobalObject(vmInst, guard, reg, global, objectProto)
	installGlobalArray(vmInst, guard, reg, global, arrayProto)
	installGlobalPromise(vmInst, guard, reg, global, promiseProto)
	installGlobalProxy(vmInst, guard, reg, global)

	return p
}

func declareGlobal(global *env.Environment, name string, v value.Value) {
	global.Declare(name, false, false)
	global.Initialize(name, v)
}
