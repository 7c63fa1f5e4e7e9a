package module

import (
	"sync"

	"github.com/opal-lang/scriptengine/internal/heap"
	"github.com/opal-lang/scriptengine/internal/object"
	"github.com/opal-lang/scriptengine/internal/value"
	"github.com/opal-lang/scriptengine/internal/vm"
)

// OrderBroker tracks the promise backing each outstanding pending-order
// id (spec.md §4.7): `create_order_promise` mints one, `resolve_promise`/
// `reject_promise` settle it directly, and `FulfillOrders` is the bulk
// entry point `fulfill_orders` uses when a host answers a batch of
// orders from a single Suspended result. Grounded on
// core/decorator/session_pool.go's pending-request-id-to-waiter table
// shape, generalized from decorator sessions to arbitrary host orders.
type OrderBroker struct {
	mu       sync.Mutex
	promises map[uint64]*object.Object
}

func NewOrderBroker() *OrderBroker {
	return &OrderBroker{promises: make(map[uint64]*object.Object)}
}

// CreateOrderPromise mints the promise a pending-order marker resolves
// into once the host answers; the id is whatever the VM assigned the
// order when it executed suspend-order (vm.PendingOrder.ID).
func (b *OrderBroker) CreateOrderPromise(vmInst *vm.VM, guard *heap.Guard, id uint64) *object.Object {
	p := vmInst.NewPromise(guard)
	b.mu.Lock()
	b.promises[id] = p
	b.mu.Unlock()
	return p
}

func (b *OrderBroker) promiseFor(id uint64) (*object.Object, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.promises[id]
	return p, ok
}

func (b *OrderBroker) forget(id uint64) {
	b.mu.Lock()
	delete(b.promises, id)
	b.mu.Unlock()
}

// ResolvePromise settles the order's promise with v; reports false if
// id names no promise this broker created (already settled and
// forgotten, or never registered).
func (b *OrderBroker) ResolvePromise(vmInst *vm.VM, id uint64, v value.Value) bool {
	p, ok := b.promiseFor(id)
	if !ok {
		return false
	}
	vmInst.SettlePromise(p, v, false)
	b.forget(id)
	return true
}

// RejectPromise settles the order's promise as rejected with reason —
// used both for a host-reported order failure and for a cancelled
// order (spec.md §5's cancellation: "a cancelled order's marker, when
// awaited, throws a cancellation error").
func (b *OrderBroker) RejectPromise(vmInst *vm.VM, id uint64, reason value.Value) bool {
	p, ok := b.promiseFor(id)
	if !ok {
		return false
	}
	vmInst.SettlePromise(p, reason, true)
	b.forget(id)
	return true
}

// OrderResponse is one entry of a fulfill_orders batch: either a
// concrete resolution value or a rejection reason for the named order.
type OrderResponse struct {
	ID       uint64
	Value    value.Value
	Rejected bool
}

// FulfillOrders settles every response's promise; unmatched ids are
// silently skipped rather than erroring, since a host may legitimately
// answer an order the engine already cancelled and forgot.
func (b *OrderBroker) FulfillOrders(vmInst *vm.VM, responses []OrderResponse) {
	for _, r := range responses {
		if r.Rejected {
			b.RejectPromise(vmInst, r.ID, r.Value)
		} else {
			b.ResolvePromise(vmInst, r.ID, r.Value)
		}
	}
}

// CancelOrders rejects every listed order id with a cancellation error
// value, matching vm.Result.Cancelled's contract: these ids were
// cancelled by the host side of the order, not resolved.
func (b *OrderBroker) CancelOrders(vmInst *vm.VM, ids []uint64, makeCancellationError func() value.Value) {
	for _, id := range ids {
		b.RejectPromise(vmInst, id, makeCancellationError())
	}
}
