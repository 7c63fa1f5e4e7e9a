// Package scriptengine is the public façade spec.md §6.1 describes: a
// single-threaded, cooperatively-scheduled "one engine = one context"
// embedding surface over the compiler/register-VM/heap core. It plays
// the same role `cli/internal/engine/engine.go` plays in the teacher —
// a thin constructor-and-dispatch wrapper over an independently usable
// lexer/parser/executor stack — adapted from a shell-plan executor to
// a script engine.
package scriptengine

import (
	"crypto/rand"
	"log/slog"

	"github.com/opal-lang/scriptengine/frontend/parser"
	"github.com/opal-lang/scriptengine/internal/builtins"
	"github.com/opal-lang/scriptengine/internal/chunk"
	"github.com/opal-lang/scriptengine/internal/compiler"
	"github.com/opal-lang/scriptengine/internal/engineerr"
	"github.com/opal-lang/scriptengine/internal/env"
	"github.com/opal-lang/scriptengine/internal/heap"
	"github.com/opal-lang/scriptengine/internal/module"
	"github.com/opal-lang/scriptengine/internal/object"
	"github.com/opal-lang/scriptengine/internal/value"
	"github.com/opal-lang/scriptengine/internal/vm"
)

// State is one of spec.md §6.3's formally enumerated interpreter
// states. Prepare moves Idle to Ready-to-step; every other transition
// happens inside Step/Run. The host-resolution entry points
// (ProvideModule, FulfillOrders, ResolvePromise, RejectPromise) leave
// the state as it is and only record answers for the next Step/Run.
type State int

const (
	StateIdle State = iota
	StateReadyToStep
	StateNeedsImports
	StateSuspendedForOrder
	StateComplete
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReadyToStep:
		return "ready-to-step"
	case StateNeedsImports:
		return "needs-imports"
	case StateSuspendedForOrder:
		return "suspended-for-order"
	case StateComplete:
		return "complete"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Option configures a new Engine. There is no config-file format —
// per SPEC_FULL.md §B, the embedding host configures the engine in
// code, the same way the teacher's `New*` constructors take explicit
// parameters rather than reading a TOML/YAML file.
type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option { return func(e *Engine) { e.logger = logger } }

// WithMaxRegisters caps a compiled chunk's live-register high-water
// mark tighter than the compiler's built-in hard cap
// (chunk.MaxRegisters); Prepare rejects any chunk that exceeds it. Zero
// (the default) means "use the compiler's own cap, unmodified".
func WithMaxRegisters(n int) Option { return func(e *Engine) { e.maxRegisters = n } }

func WithMaxCallDepth(n int) Option { return func(e *Engine) { e.maxCallDepth = n } }

func WithStepBudget(n int) Option { return func(e *Engine) { e.stepBudget = n } }

// WithGCEveryAllocation forces a collection after every heap
// allocation, per spec.md §8's property test validating that guard
// discipline holds under the most aggressive possible collection
// cadence, not just the default one.
func WithGCEveryAllocation(on bool) Option { return func(e *Engine) { e.gcEveryAlloc = on } }

// Engine is the embeddable unit spec.md §1 calls "one engine = one
// cooperative context": it owns a heap, a global environment, a VM,
// and the module/order host-protocol bookkeeping, and must not be
// driven from more than one goroutine concurrently.
type Engine struct {
	logger *slog.Logger

	maxRegisters int
	maxCallDepth int
	stepBudget   int
	gcEveryAlloc bool

	heap   *heap.Heap
	guard  *heap.Guard
	global *env.Environment
	vm     *vm.VM
	protos *builtins.Prototypes

	loader *module.Loader
	orders *module.OrderBroker

	state          State
	chunk          *chunk.Chunk
	err            error
	pendingOrderID uint64
	orderAnswers   map[uint64]orderAnswer
	knownOrders    map[uint64]bool
}

// orderAnswer is the value or rejection reason a host supplied for one
// pending order id, queued until the frame that issued that order is
// actually resumed.
type orderAnswer struct {
	value    value.Value
	rejected bool
}

// New builds an Engine with its heap, global environment, prototypes
// and builtins installed, but no chunk loaded yet (State is Idle until
// Prepare succeeds). The heap's object-id key is a fresh random value
// per engine instance, the same `crypto/rand`-seeded-key pattern
// `core/sdk/secret/handle.go`'s `NewIDFactory` callers use, generalized
// from secret-handle ids to heap-object debug ids.
func New(opts ...Option) *Engine {
	e := &Engine{
		logger:       slog.Default(),
		maxCallDepth: 1024,
	}
	for _, opt := range opts {
		opt(e)
	}

	seed := make([]byte, 32)
	_, _ = rand.Read(seed)

	e.heap = heap.New(seed, heap.WithLogger(e.logger), heap.WithGCEveryAllocation(e.gcEveryAlloc))
	e.guard = e.heap.CreateGuard()
	e.global = env.New(nil, 64, true)

	e.vm = vm.New(e.heap, e.global,
		vm.WithLogger(e.logger),
		vm.WithMaxCallDepth(e.maxCallDepth),
		vm.WithStepBudget(e.stepBudget),
	)
	e.protos = builtins.Install(e.vm, e.guard, e.global)

	e.loader = module.NewLoader()
	e.orders = module.NewOrderBroker()
	e.orderAnswers = make(map[uint64]orderAnswer)
	e.knownOrders = make(map[uint64]bool)

	e.state = StateIdle
	return e
}

// Prepare compiles source (via the bundled frontend, per SPEC_FULL.md
// §A) and loads the resulting chunk, transitioning to Ready-to-step. A
// parse or compile error leaves the engine Idle and is returned
// directly rather than surfacing through Step/Run, matching spec.md
// §7's "parse-time errors are reported synchronously from prepare;
// execution does not begin".
func (e *Engine) Prepare(source string) error {
	prog, perrs := parser.ParseProgram(source, parser.WithLogger(e.logger))
	if len(perrs) > 0 {
		return perrs[0]
	}
	ck, err := compiler.Compile(prog)
	if err != nil {
		return err
	}
	if e.maxRegisters > 0 && ck.MaxRegisters > e.maxRegisters {
		return engineerr.New(engineerr.KindRange, prog.Span,
			"program requires %d live registers, exceeding the configured limit of %d",
			ck.MaxRegisters, e.maxRegisters)
	}
	e.chunk = ck
	e.state = StateReadyToStep
	return nil
}

// Step runs one Execute/Resume call and folds its Result into the
// engine's state machine (spec.md §6.3).
func (e *Engine) Step() (vm.Result, error) {
	var res vm.Result
	switch e.state {
	case StateReadyToStep:
		res = e.vm.Execute(e.chunk, e.guard)
	case StateNeedsImports:
		res = e.vm.Resume(value.Undef(), false)
	case StateSuspendedForOrder:
		ans, ok := e.orderAnswers[e.pendingOrderID]
		if !ok {
			return vm.Result{}, engineerr.Internal(
				"order %d has not been answered via FulfillOrders/CancelOrders yet", e.pendingOrderID)
		}
		delete(e.orderAnswers, e.pendingOrderID)
		res = e.vm.Resume(ans.value, ans.rejected)
	default:
		return vm.Result{}, engineerr.Internal("step called in state %s", e.state)
	}
	e.applyResult(res)
	return res, res.Err
}

// Run drives Step until a non-continuable outcome: Complete, Errored,
// Needs-imports, or Suspended-for-order (spec.md §6.1's "same as step()
// but drives until one of the non-continue outcomes").
func (e *Engine) Run() (vm.Result, error) {
	for {
		res, err := e.Step()
		if e.state != StateReadyToStep {
			return res, err
		}
	}
}

func (e *Engine) applyResult(res vm.Result) {
	switch {
	case res.Err != nil:
		e.state = StateErrored
		e.err = res.Err
	case res.Suspension == vm.SuspendNeedImports:
		e.state = StateNeedsImports
	case res.Suspension == vm.SuspendOrder:
		e.state = StateSuspendedForOrder
		if len(res.Pending) > 0 {
			last := res.Pending[len(res.Pending)-1]
			e.pendingOrderID = last.ID
			if !e.knownOrders[last.ID] {
				e.knownOrders[last.ID] = true
				e.orders.CreateOrderPromise(e.vm, e.guard, last.ID)
			}
		}
	default:
		e.state = StateComplete
	}
}

// State reports the engine's current formally-enumerated state.
func (e *Engine) State() State { return e.state }

// Err returns the error that moved the engine into Errored, if any.
func (e *Engine) Err() error { return e.err }

// ProvideModule answers a NeedImports request for specifier with
// source text, per spec.md §4.7. Once every outstanding specifier the
// last suspension reported has been provided, the caller should call
// Step/Run again to resume.
func (e *Engine) ProvideModule(specifier, source string) error {
	return e.loader.ProvideModule(specifier, source)
}

// FulfillOrders answers a batch of pending orders from the last
// Suspended result, settling each order's backing promise and queuing
// its answer for the frame that issued it to receive on the next
// Step/Run.
func (e *Engine) FulfillOrders(responses []module.OrderResponse) {
	e.orders.FulfillOrders(e.vm, responses)
	for _, r := range responses {
		e.orderAnswers[r.ID] = orderAnswer{value: r.Value, rejected: r.Rejected}
	}
}

// CreateOrderPromise exposes the promise object backing a pending
// order id, for a host that wants to hand it to its own async
// plumbing rather than calling FulfillOrders directly.
func (e *Engine) CreateOrderPromise(id uint64) *object.Object {
	return e.orders.CreateOrderPromise(e.vm, e.guard, id)
}

// ResolvePromise settles a previously-created order promise and queues
// its value as that order's answer.
func (e *Engine) ResolvePromise(id uint64, v value.Value) bool {
	e.orderAnswers[id] = orderAnswer{value: v}
	return e.orders.ResolvePromise(e.vm, id, v)
}

// RejectPromise settles a previously-created order promise as rejected
// and queues the reason as that order's (throwing) answer.
func (e *Engine) RejectPromise(id uint64, reason value.Value) bool {
	e.orderAnswers[id] = orderAnswer{value: reason, rejected: true}
	return e.orders.RejectPromise(e.vm, id, reason)
}

// CancelOrders rejects every named pending order with a cancellation
// error value (spec.md §5's cancellation semantics), and records the
// ids so the next Suspended result reports them under Cancelled.
func (e *Engine) CancelOrders(ids []uint64) {
	makeErr := func() value.Value {
		o := e.heap.Allocate(e.guard, object.KindPlain, e.protos.Object)
		o.DefineOwn(object.StringKey("name"), object.NameLengthDescriptor(value.Str("CancellationError")))
		o.DefineOwn(object.StringKey("message"), object.NameLengthDescriptor(value.Str("order was cancelled by host")))
		return value.Obj(o)
	}
	// CancelOrders below calls makeCancellationError once per id, in ids
	// order; stash each call's result here so the orderAnswers loop
	// reuses the exact same error value the backing promise was
	// rejected with instead of allocating a second, distinct one.
	perID := make([]value.Value, 0, len(ids))
	e.orders.CancelOrders(e.vm, ids, func() value.Value {
		v := makeErr()
		perID = append(perID, v)
		return v
	})
	for i, id := range ids {
		e.vm.MarkOrderCancelled(id)
		e.orderAnswers[id] = orderAnswer{value: perID[i], rejected: true}
	}
}

// GetExport looks up name among the top-level script bindings. The
// supported grammar (SPEC_FULL.md §A) has no import/export syntax, so
// a script's global bindings are its exports — see internal/module's
// DESIGN.md scoping note.
func (e *Engine) GetExport(name string) (value.Value, bool) {
	v, kind := e.global.Get(name)
	return v, kind == env.ErrNone
}

// GetExportNames lists every top-level binding name.
func (e *Engine) GetExportNames() []string {
	return e.global.OwnNames()
}

// --- Value construction (spec.md §6.1's minimum programmatic surface) ---

func Number(n float64) value.Value { return value.Num(n) }
func String(s string) value.Value  { return value.Str(s) }
func Boolean(b bool) value.Value   { return value.Bool(b) }
func Null() value.Value            { return value.Nul() }
func Undefined() value.Value       { return value.Undef() }

// NewObject allocates a fresh plain object rooted on the engine's guard.
func (e *Engine) NewObject() *object.Object {
	return e.heap.Allocate(e.guard, object.KindPlain, e.protos.Object)
}

// NewArray allocates a fresh array object rooted on the engine's guard.
func (e *Engine) NewArray() *object.Object {
	return e.heap.Allocate(e.guard, object.KindArray, e.protos.Array)
}

// Get reads an own or inherited property.
func (e *Engine) Get(o *object.Object, key string) (value.Value, bool) {
	d, ok := o.Get(object.StringKey(key))
	if !ok {
		return value.Undef(), false
	}
	return d.Value, true
}

// Set defines/overwrites an enumerable, writable, configurable own
// data property, the shape a plain `obj.key = value` assignment in
// script produces.
func (e *Engine) Set(o *object.Object, key string, v value.Value) {
	o.DefineOwn(object.StringKey(key), object.Descriptor{
		Value: v, Writable: true, Enumerable: true, Configurable: true,
	})
}

// Push appends to an array object's indexed elements.
func (e *Engine) Push(arr *object.Object, v value.Value) {
	arr.Elements = append(arr.Elements, v)
}

// RegisterNative installs a host-implemented function as a global
// binding, the callback-signature entry point spec.md §6.1 names
// ("context, this, args[], userdata -> value | error").
func (e *Engine) RegisterNative(name string, length int, fn vm.NativeFunc) {
	ctor := e.vm.NewNativeFunction(e.guard, name, length, fn)
	e.global.Declare(name, false, false)
	e.global.Initialize(name, value.Obj(ctor))
}
