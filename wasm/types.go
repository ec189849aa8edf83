package wasm

import (
	"bytes"

	"github.com/reconcilerio/static-config/internal/binary"
)

// SegmentID identifies a data segment by its index in the data section.
// IDs are stable for the lifetime of a Module.
type SegmentID uint32

// GlobalID identifies a global by its absolute index (imports first).
type GlobalID uint32

// CustomID identifies a custom section. IDs are never reused within a Module.
type CustomID uint32

// Module is an editable view of a core module's static structure.
//
// Globals, exports and data segments are decoded into fields and re-encoded
// from them. Every other section is kept as raw bytes and written back
// unchanged in its original position.
type Module struct {
	Imports  []Import
	Memories []MemoryType
	Globals  []Global
	Exports  []Export
	Data     []DataSegment

	// globalNames comes from subsection 7 of the name section.
	globalNames map[GlobalID]string

	sections   []section
	customs    []CustomSection
	nextCustom CustomID
}

// section records the position of a section in the original binary.
// For custom sections custom is the id of the entry in Module.customs;
// for edited sections raw is ignored.
type section struct {
	raw    []byte
	custom CustomID
	id     byte
}

// ValType represents a WebAssembly value type.
type ValType byte

func (v ValType) String() string {
	switch v {
	case ValI32:
		return "i32"
	case ValI64:
		return "i64"
	case ValF32:
		return "f32"
	case ValF64:
		return "f64"
	case ValV128:
		return "v128"
	case ValFuncRef:
		return "funcref"
	case ValExtern:
		return "externref"
	case ValRefNull:
		return "ref null"
	case ValRef:
		return "ref"
	default:
		return "unknown"
	}
}

// Import describes an imported item. Only the kind and, for globals and
// memories, the type are decoded; the import section is re-emitted verbatim.
type Import struct {
	Global *GlobalType
	Memory *MemoryType
	Module string
	Name   string
	Kind   byte
}

// MemoryType describes a linear memory with size limits.
type MemoryType struct {
	Limits Limits
}

// Limits describes size constraints for tables and memories.
type Limits struct {
	Max      *uint64
	Min      uint64
	Shared   bool
	Memory64 bool
}

// GlobalType describes a global variable's type and mutability.
type GlobalType struct {
	// HeapType is kept verbatim for (ref null ht) and (ref ht) globals.
	HeapType []byte
	ValType  ValType
	Mutable  bool
}

// Global represents a defined global with its raw init expression.
type Global struct {
	Type GlobalType
	Init []byte
}

// ConstI32 returns the value of a plain `i32.const N; end` initializer.
func (g *Global) ConstI32() (int32, bool) {
	if g.Type.ValType != ValI32 {
		return 0, false
	}
	return constI32(g.Init)
}

// SetConstI32 replaces the initializer with `i32.const v; end`.
func (g *Global) SetConstI32(v int32) {
	g.Init = ConstI32Expr(v)
}

// Export describes an exported item.
type Export struct {
	Name string
	Kind byte
	Idx  uint32
}

// DataSegment represents a data segment.
type DataSegment struct {
	// Offset is the raw offset expression for active segments.
	Offset []byte
	Init   []byte
	Flags  uint32
	MemIdx uint32
}

// Active reports whether the segment is copied into memory at instantiation.
func (d *DataSegment) Active() bool {
	return d.Flags != DataPassive
}

// FixedOffset returns the start address of an active segment whose offset
// expression is a plain `i32.const N; end`.
func (d *DataSegment) FixedOffset() (uint32, bool) {
	if !d.Active() {
		return 0, false
	}
	v, ok := constI32(d.Offset)
	if !ok {
		return 0, false
	}
	return uint32(v), true
}

// End returns the first address past the segment's bytes.
func (d *DataSegment) End() (uint64, bool) {
	start, ok := d.FixedOffset()
	if !ok {
		return 0, false
	}
	return uint64(start) + uint64(len(d.Init)), true
}

// CustomSection holds a named custom section's data.
type CustomSection struct {
	Name string
	Data []byte
	ID   CustomID
}

func constI32(expr []byte) (int32, bool) {
	if len(expr) < 3 || expr[0] != OpI32Const || expr[len(expr)-1] != OpEnd {
		return 0, false
	}
	r := binary.NewReader(expr[1 : len(expr)-1])
	v, err := r.ReadS32()
	if err != nil || r.Len() != 0 {
		return 0, false
	}
	return v, true
}

// ConstI32Expr returns the constant expression `i32.const v; end`.
func ConstI32Expr(v int32) []byte {
	w := binary.NewWriter()
	w.Byte(OpI32Const)
	w.WriteS32(v)
	w.Byte(OpEnd)
	return bytes.Clone(w.Bytes())
}
