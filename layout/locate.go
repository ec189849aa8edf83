package layout

import (
	"github.com/reconcilerio/static-config/errors"
	"github.com/reconcilerio/static-config/wasm"
)

// Location is an address expressed relative to the data segment holding it.
type Location struct {
	Segment wasm.SegmentID
	Offset  uint32
}

// Locate maps a linear-memory address to the data segment with the greatest
// start address at or below it. The offset may lie past the end of the
// segment's bytes; callers that write there must grow the segment.
//
// Every data segment must be active on memory 0 with a constant i32 offset.
func Locate(m *wasm.Module, addr uint32) (Location, error) {
	var (
		best      wasm.SegmentID
		bestStart uint32
		found     bool
	)

	for _, id := range m.Segments() {
		start, err := segmentStart(m, id)
		if err != nil {
			return Location{}, err
		}
		if start <= addr && (!found || start > bestStart) {
			best, bestStart, found = id, start, true
		}
	}

	if !found {
		return Location{}, errors.New(errors.PhaseLayout, errors.KindLayout).
			Address(addr).
			Detail("no data segment starts at or below address").
			Build()
	}

	return Location{Segment: best, Offset: addr - bestStart}, nil
}

// Start returns the fixed start address of a data segment, enforcing the same
// preconditions as Locate.
func Start(m *wasm.Module, id wasm.SegmentID) (uint32, error) {
	return segmentStart(m, id)
}

func segmentStart(m *wasm.Module, id wasm.SegmentID) (uint32, error) {
	seg, ok := m.Segment(id)
	if !ok {
		return 0, errors.New(errors.PhaseLayout, errors.KindLayout).
			Segment(uint32(id)).
			Detail("data segment does not exist").
			Build()
	}
	if !seg.Active() {
		return 0, errors.New(errors.PhaseLayout, errors.KindLayout).
			Segment(uint32(id)).
			Detail("data segment is passive").
			Build()
	}
	if seg.MemIdx != 0 {
		return 0, errors.New(errors.PhaseLayout, errors.KindLayout).
			Segment(uint32(id)).
			Detail("data segment targets memory %d, expected memory 0", seg.MemIdx).
			Build()
	}
	start, ok := seg.FixedOffset()
	if !ok {
		return 0, errors.New(errors.PhaseLayout, errors.KindLayout).
			Segment(uint32(id)).
			Detail("data segment offset is not a constant i32").
			Build()
	}
	return start, nil
}
