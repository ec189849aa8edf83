package layout

import (
	"github.com/reconcilerio/static-config/errors"
	"github.com/reconcilerio/static-config/wasm"
)

// StackPointerGlobal is the linker-defined global holding the top of the
// shadow stack.
const StackPointerGlobal = "__stack_pointer"

// StackAlign is the alignment every reservation must respect.
const StackAlign = 8

// Reservation is a planned decrement of the stack pointer.
type Reservation struct {
	Global wasm.GlobalID
	Old    uint32
	New    uint32
}

// Apply writes the new stack pointer value into m.
func (r Reservation) Apply(m *wasm.Module) {
	if g, ok := m.Global(r.Global); ok {
		g.SetConstI32(int32(r.New))
	}
}

// PlanStack checks that amount bytes can be carved from the top of the stack
// and returns the resulting reservation without touching m.
func PlanStack(m *wasm.Module, amount uint32) (Reservation, error) {
	if amount%StackAlign != 0 {
		return Reservation{}, errors.New(errors.PhaseLayout, errors.KindLayout).
			Global(StackPointerGlobal).
			Detail("stack must be bumped by multiples of %d bytes, got %d", StackAlign, amount).
			Build()
	}

	id, ok := m.GlobalByName(StackPointerGlobal)
	if !ok {
		return Reservation{}, errors.New(errors.PhaseLayout, errors.KindLayout).
			Global(StackPointerGlobal).
			Detail("stack pointer global not found").
			Build()
	}
	if m.IsImportedGlobal(id) {
		return Reservation{}, errors.New(errors.PhaseLayout, errors.KindLayout).
			Global(StackPointerGlobal).
			Detail("stack pointer global is imported").
			Build()
	}

	g, ok := m.Global(id)
	if !ok {
		return Reservation{}, errors.New(errors.PhaseLayout, errors.KindLayout).
			Global(StackPointerGlobal).
			Detail("stack pointer global index %d out of range", id).
			Build()
	}
	if !g.Type.Mutable {
		return Reservation{}, errors.New(errors.PhaseLayout, errors.KindLayout).
			Global(StackPointerGlobal).
			Detail("stack pointer global is immutable").
			Build()
	}
	v, ok := g.ConstI32()
	if !ok {
		return Reservation{}, errors.New(errors.PhaseLayout, errors.KindLayout).
			Global(StackPointerGlobal).
			Detail("stack pointer is not a constant i32").
			Build()
	}

	sp := uint32(v)
	if amount > sp {
		return Reservation{}, errors.New(errors.PhaseLayout, errors.KindLayout).
			Global(StackPointerGlobal).
			Detail("stack size %d is smaller than the reservation %d", sp, amount).
			Build()
	}

	return Reservation{Global: id, Old: sp, New: sp - amount}, nil
}

// ReserveStack lowers the stack pointer by amount and returns the new value,
// which is the base address of the reserved region. The global is unchanged
// on error, and reserving zero bytes leaves it as is.
func ReserveStack(m *wasm.Module, amount uint32) (uint32, error) {
	r, err := PlanStack(m, amount)
	if err != nil {
		return 0, err
	}
	if amount > 0 {
		r.Apply(m)
	}
	return r.New, nil
}

// Align8 rounds n up to the stack alignment.
func Align8(n uint32) uint32 {
	return (n + StackAlign - 1) &^ (StackAlign - 1)
}
