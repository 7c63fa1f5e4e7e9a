// Package diag builds postmortem snapshots a host can request when an
// engine run stalls or crashes: a CBOR-encoded capture of the heap's
// size/root structure and the VM's call stack and pending-order state,
// per spec.md §6's diagnostic surface. Encoding uses the same canonical
// (deterministic) CBOR mode as internal/chunk.Fingerprint, grounded on
// core/planfmt/canonical.go's canonical encoding of plan graphs, so two
// snapshots of an identical state always serialize byte-for-byte equal.
package diag

import (
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/opal-lang/scriptengine/internal/heap"
	"github.com/opal-lang/scriptengine/internal/vm"
)

// Snapshot bundles a heap and VM snapshot with a capture timestamp, the
// unit internal/diag actually exports.
type Snapshot struct {
	CapturedAt time.Time     `cbor:"captured_at"`
	Heap       heap.Snapshot `cbor:"heap"`
	VM         vm.Snapshot   `cbor:"vm"`
}

// Capture reads both snapshots at the instant called. The caller picks
// the timestamp (rather than Capture calling time.Now itself) so a host
// wiring this into a deterministic replay or test harness can supply a
// fixed clock.
func Capture(h *heap.Heap, vmInst *vm.VM, now time.Time) Snapshot {
	return Snapshot{
		CapturedAt: now,
		Heap:       h.Snapshot(),
		VM:         vmInst.Snapshot(),
	}
}

// Export encodes a Snapshot with the engine's canonical CBOR mode, the
// same deterministic-map-ordering, deterministic-float mode
// internal/chunk.Fingerprint uses, so exports are diffable byte-for-byte
// across runs with identical state.
func Export(s Snapshot) ([]byte, error) {
	mode, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	return mode.Marshal(s)
}

// ExportNow is the common-case convenience: capture and encode in one
// call, stamping the snapshot with the time the caller passes as now.
func ExportNow(h *heap.Heap, vmInst *vm.VM, now time.Time) ([]byte, error) {
	return Export(Capture(h, vmInst, now))
}
