package builtins

import (
	"context"
	"log/slog"
	"strings"

	"github.com/opal-lang/scriptengine/internal/env"
	"github.com/opal-lang/scriptengine/internal/heap"
	"github.com/opal-lang/scriptengine/internal/object"
	"github.com/opal-lang/scriptengine/internal/value"
	"github.com/opal-lang/scriptengine/internal/vm"
)

// installGlobalConsole routes console output through the engine's own
// slog.Logger rather than stdout directly, so a host embedding the
// engine controls where script-level logging actually lands — the
// same reasoning behind every other ambient-stack log call in this
// tree going through a caller-supplied *slog.Logger.
func installGlobalConsole(vmInst *vm.VM, guard *heap.Guard, reg *Registry, global *env.Environment) {
	console := vmInst.Heap.Allocate(guard, object.KindPlain, vmInst.ObjectProto)

	logAt := func(level slog.Level) vm.NativeFunc {
		return func(vmi *vm.VM, this value.Value, args []value.Value, _ value.Value) (value.Value, error) {
			parts := make([]string, len(args))
			for i, a := range args {
				parts[i] = toDisplayString(a)
			}
			vmi.Logger().Log(context.Background(), level, strings.Join(parts, " "))
			return value.Undef(), nil
		}
	}
	reg.RegisterNative(vmInst, guard, console, Descriptor{Name: "log", Length: 0}, logAt(slog.LevelInfo))
	reg.RegisterNative(vmInst, guard, console, Descriptor{Name: "info", Length: 0}, logAt(slog.LevelInfo))
	reg.RegisterNative(vmInst, guard, console, Descriptor{Name: "warn", Length: 0}, logAt(slog.LevelWarn))
	reg.RegisterNative(vmInst, guard, console, Descriptor{Name: "error", Length: 0}, logAt(slog.LevelError))
	reg.RegisterNative(vmInst, guard, console, Descriptor{Name: "debug", Length: 0}, logAt(slog.LevelDebug))

	declareGlobal(global, "console", value.Obj(console))
}
