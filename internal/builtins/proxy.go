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

// installGlobalProxy wires the Proxy constructor to vm.NewProxy; every
// trap (get/set/has/deleteProperty/ownKeys) is dispatched by the VM
// itself at the property-access opcode level, not here — this
// constructor only validates the two arguments and allocates the
// wrapper object.
func installGlobalProxy(vmInst *vm.VM, guard *heap.Guard, reg *Registry, global *env.Environment) {
	ctor := vmInst.NewNativeFunction(guard, "Proxy", 2, func(vmi *vm.VM, this value.Value, args []value.Value, newTarget value.Value) (value.Value, error) {
		target, ok := asObj(vm.ArgOrUndefined(args, 0))
		if !ok {
			return value.Undef(), engineerr.New(engineerr.KindType, ast.Span{}, "Cannot create proxy with a non-object as target")
		}
		handler, ok := asObj(vm.ArgOrUndefined(args, 1))
		if !ok {
			return value.Undef(), engineerr.New(engineerr.KindType, ast.Span{}, "Cannot create proxy with a non-object as handler")
		}
		return value.Obj(vmi.NewProxy(guard, target, handler)), nil
	})
	declareGlobal(global, "Proxy", value.Obj(ctor))
}
