package embed

import (
	"math"

	"github.com/reconcilerio/static-config/errors"
	"github.com/reconcilerio/static-config/wasm"
)

// Control block contract between the engine and the template.
//
// The template exports an immutable i32 global named ControlSymbol whose value
// is the address of a 12-byte struct in linear memory:
//
//	offset 0  u8     unused
//	offset 4  u32le  entry count
//	offset 8  u32le  address of the encoded entries
const (
	ControlSymbol         = "CONFIG"
	CountOffset    uint32 = 4
	DataOffset     uint32 = 8
	ControlSize    uint32 = 12
	ControlVersion        = 1
)

// ControlAddress resolves the address of the control block through the
// ControlSymbol export.
func ControlAddress(m *wasm.Module) (uint32, error) {
	exp, ok := m.Export(ControlSymbol)
	if !ok {
		return 0, errors.New(errors.PhaseEmbed, errors.KindFormat).
			Global(ControlSymbol).
			Detail("template does not export the control block symbol").
			Build()
	}
	if exp.Kind != wasm.KindGlobal {
		return 0, errors.New(errors.PhaseEmbed, errors.KindFormat).
			Global(ControlSymbol).
			Detail("control block symbol is not a global export").
			Build()
	}

	g, ok := m.Global(wasm.GlobalID(exp.Idx))
	if !ok {
		return 0, errors.New(errors.PhaseEmbed, errors.KindFormat).
			Global(ControlSymbol).
			Detail("control block symbol refers to an imported or missing global").
			Build()
	}
	v, ok := g.ConstI32()
	if !ok {
		return 0, errors.New(errors.PhaseEmbed, errors.KindFormat).
			Global(ControlSymbol).
			Detail("control block symbol is not a constant i32").
			Build()
	}
	addr := uint32(v)
	if uint64(addr)+uint64(ControlSize) > math.MaxUint32 {
		return 0, errors.New(errors.PhaseEmbed, errors.KindLayout).
			Global(ControlSymbol).
			Address(addr).
			Detail("control block of %d bytes does not fit below the end of the address space", ControlSize).
			Build()
	}
	return addr, nil
}
