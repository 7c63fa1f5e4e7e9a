package diag

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opal-lang/scriptengine/internal/env"
	"github.com/opal-lang/scriptengine/internal/heap"
	"github.com/opal-lang/scriptengine/internal/object"
	"github.com/opal-lang/scriptengine/internal/vm"
)

func newTestVM(t *testing.T) (*heap.Heap, *vm.VM) {
	t.Helper()
	h := heap.New([]byte("diag-test-seed"))
	g := h.CreateGuard()
	defer g.Release()
	objectProto := h.Allocate(g, object.KindPlain, nil)
	functionProto := h.Allocate(g, object.KindPlain, objectProto)
	arrayProto := h.Allocate(g, object.KindPlain, objectProto)
	global := env.New(nil, 0, true)
	vmInst := vm.New(h, global, vm.WithPrototypes(objectProto, functionProto, arrayProto))
	return h, vmInst
}

func TestCaptureReportsHeapAndVMCounters(t *testing.T) {
	t.Parallel()

	h, vmInst := newTestVM(t)
	g := h.CreateGuard()
	h.Allocate(g, object.KindPlain, nil)
	h.Allocate(g, object.KindArray, nil)

	snap := Capture(h, vmInst, time.Unix(0, 0).UTC())

	// newTestVM's three plain prototypes are still in the heap (no
	// collection has run), plus the two objects allocated here.
	assert.Equal(t, 5, snap.Heap.KindCounts["plain"]+snap.Heap.KindCounts["array"])
	assert.GreaterOrEqual(t, snap.Heap.Allocations, 2)
	assert.Equal(t, 0, len(snap.VM.Frames), "freshly constructed VM has no active call frames")
}

func TestExportIsDeterministicForIdenticalState(t *testing.T) {
	t.Parallel()

	h, vmInst := newTestVM(t)
	stamp := time.Unix(1700000000, 0).UTC()

	first, err := ExportNow(h, vmInst, stamp)
	require.NoError(t, err)
	second, err := ExportNow(h, vmInst, stamp)
	require.NoError(t, err)

	assert.Equal(t, first, second, "canonical CBOR of identical state must encode byte-for-byte equal")
	assert.NotEmpty(t, first)
}
