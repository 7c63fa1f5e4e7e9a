// Package chunk implements the immutable bytecode chunk of spec.md
// §3.4: an instruction vector, a constant pool (numbers, interned
// strings, nested chunks), a position table, a max-register count and
// function metadata. Fingerprint uses canonical CBOR plus keyed
// BLAKE2b, the same digest pairing runtime/planner's plan-hash code
// uses in the teacher, repurposed from plan identity to chunk identity.
package chunk

import (
	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/blake2b"

	"github.com/opal-lang/scriptengine/ast"
	"github.com/opal-lang/scriptengine/internal/opcode"
)

// ConstKind discriminates the constant pool's union.
type ConstKind uint8

const (
	ConstNumber ConstKind = iota
	ConstString
	ConstChunk
	// ConstNames holds a binding-name list, used by opcode.CloneScope to
	// say which per-iteration loop bindings to carry forward.
	ConstNames
)

type Const struct {
	Kind   ConstKind
	Num    float64
	Str    string
	Chunk  *Chunk
	Names  []string
}

// PositionEntry maps one instruction index to its source span, used to
// materialize stack traces (spec.md §7).
type PositionEntry struct {
	InstrIndex int
	Span       ast.Span
}

// MaxRegisters is the compiler's hard cap per chunk (spec.md §4.2).
const MaxRegisters = 256

// Chunk is frozen once the compiler finishes lowering a function or
// program body (spec.md §3.6's "chunks are born in the compiler and
// frozen").
type Chunk struct {
	Name         string
	Instructions []opcode.Instr
	Constants    []Const
	Positions    []PositionEntry
	MaxRegisters int

	ParamCount   int
	BindingCount int // hint for the environment's pre-sized map
	Generator    bool
	Async        bool
	IsArrow      bool
	HasRestParam bool
}

// New builds a chunk in one shot — the compiler accumulates
// instructions/constants into a builder (see internal/compiler) and
// calls New once lowering for a function/program body completes.
func New(name string, instrs []opcode.Instr, consts []Const, positions []PositionEntry, maxRegs int) *Chunk {
	return &Chunk{
		Name: name, Instructions: instrs, Constants: consts,
		Positions: positions, MaxRegisters: maxRegs,
	}
}

// SpanFor returns the source span recorded for instrIndex, or the zero
// span if none was recorded (synthetic instructions).
func (c *Chunk) SpanFor(instrIndex int) ast.Span {
	// Positions are appended in instruction order; scan backward for the
	// nearest entry at or before instrIndex.
	for i := len(c.Positions) - 1; i >= 0; i-- {
		if c.Positions[i].InstrIndex <= instrIndex {
			return c.Positions[i].Span
		}
	}
	return ast.Span{}
}

// fingerprintRecord is the canonical, deterministic projection of a
// chunk used to compute its content-addressed Fingerprint; it excludes
// nested chunk pointers' addresses, only their own fingerprints.
type fingerprintRecord struct {
	Name         string
	Instructions []opcode.Instr
	Constants    []fingerprintConst
	MaxRegisters int
	ParamCount   int
	BindingCount int
	Generator    bool
	Async        bool
}

type fingerprintConst struct {
	Kind  ConstKind
	Num   float64
	Str   string
	Names []string
	// Nested chunk constants contribute their own fingerprint bytes
	// rather than re-serializing the whole subtree inline.
	ChunkFingerprint []byte
}

// Fingerprint derives a content-addressed identity for the chunk from
// its canonical CBOR encoding and key. No other package in this module
// calls it.
func (c *Chunk) Fingerprint(key []byte) []byte {
	rec := fingerprintRecord{
		Name: c.Name, Instructions: c.Instructions, MaxRegisters: c.MaxRegisters,
		ParamCount: c.ParamCount, BindingCount: c.BindingCount,
		Generator: c.Generator, Async: c.Async,
	}
	for _, k := range c.Constants {
		fc := fingerprintConst{Kind: k.Kind, Num: k.Num, Str: k.Str, Names: k.Names}
		if k.Kind == ConstChunk && k.Chunk != nil {
			fc.ChunkFingerprint = k.Chunk.Fingerprint(key)
		}
		rec.Constants = append(rec.Constants, fc)
	}
	data, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil
	}
	encoded, err := data.Marshal(rec)
	if err != nil {
		return nil
	}
	h, err := blake2b.New256(key)
	if err != nil {
		return nil
	}
	h.Write(encoded)
	return h.Sum(nil)
}
