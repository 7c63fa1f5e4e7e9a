package module

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opal-lang/scriptengine/internal/env"
	"github.com/opal-lang/scriptengine/internal/heap"
	"github.com/opal-lang/scriptengine/internal/value"
	"github.com/opal-lang/scriptengine/internal/vm"
)

func newTestVM(t *testing.T) (*heap.Heap, *heap.Guard, *vm.VM) {
	t.Helper()
	h := heap.New([]byte("order-broker-test-seed"))
	g := h.CreateGuard()
	global := env.New(nil, 0, true)
	vmInst := vm.New(h, global)
	return h, g, vmInst
}

func TestResolvePromiseSettlesFulfilled(t *testing.T) {
	t.Parallel()

	_, g, vmInst := newTestVM(t)
	b := NewOrderBroker()

	p := b.CreateOrderPromise(vmInst, g, 1)
	var got value.Value
	vmInst.PromiseThen(p, func(v value.Value) { got = v }, nil)

	ok := b.ResolvePromise(vmInst, 1, value.Str("done"))
	require.True(t, ok)
	assert.Equal(t, "done", got.Str())
}

func TestResolvePromiseReportsFalseForUnknownID(t *testing.T) {
	t.Parallel()

	_, _, vmInst := newTestVM(t)
	b := NewOrderBroker()

	ok := b.ResolvePromise(vmInst, 999, value.Num(1))
	assert.False(t, ok)
}

func TestFulfillOrdersRoutesRejectedResponsesToReject(t *testing.T) {
	t.Parallel()

	_, g, vmInst := newTestVM(t)
	b := NewOrderBroker()

	p := b.CreateOrderPromise(vmInst, g, 7)
	var rejected value.Value
	vmInst.PromiseThen(p, nil, func(v value.Value) { rejected = v })

	b.FulfillOrders(vmInst, []OrderResponse{
		{ID: 7, Value: value.Str("nope"), Rejected: true},
	})

	assert.Equal(t, "nope", rejected.Str())
}

func TestCancelOrdersCallsMakeErrorOncePerID(t *testing.T) {
	t.Parallel()

	_, g, vmInst := newTestVM(t)
	b := NewOrderBroker()
	b.CreateOrderPromise(vmInst, g, 1)
	b.CreateOrderPromise(vmInst, g, 2)

	calls := 0
	b.CancelOrders(vmInst, []uint64{1, 2}, func() value.Value {
		calls++
		return value.Str("cancelled")
	})

	assert.Equal(t, 2, calls)
}

func TestSettledPromiseForgottenByBroker(t *testing.T) {
	t.Parallel()

	_, g, vmInst := newTestVM(t)
	b := NewOrderBroker()
	b.CreateOrderPromise(vmInst, g, 1)

	require.True(t, b.ResolvePromise(vmInst, 1, value.Num(1)))
	// Second resolution attempt finds no registered promise left.
	assert.False(t, b.ResolvePromise(vmInst, 1, value.Num(2)))
}
