package embed

import (
	"encoding/binary"
	"slices"

	"go.uber.org/zap"

	"github.com/reconcilerio/static-config/configdata"
	"github.com/reconcilerio/static-config/errors"
	"github.com/reconcilerio/static-config/layout"
	"github.com/reconcilerio/static-config/wasm"
)

const pageSize = 65536

// Result describes a completed embedding.
type Result struct {
	// Segments lists the data segments whose bytes changed, in ascending order.
	Segments []wasm.SegmentID
	// Base is the address of the encoded entries and the new stack pointer.
	Base uint32
	// Size is the length of the encoded entries.
	Size uint32
	// Reserved is the number of bytes taken from the stack.
	Reserved uint32
	// Count is the number of entries.
	Count uint32
	// Control is the address of the control block.
	Control uint32
}

// Embed writes entries into the template's memory image and points the
// control block at them.
//
// The encoded entries are placed at the top of the shadow stack, which is
// lowered by the 8-byte aligned blob size. On any error m is left exactly as
// it was.
func Embed(m *wasm.Module, entries []configdata.Entry) (*Result, error) {
	blob := configdata.Encode(entries)
	size := uint32(len(blob))
	reserved := layout.Align8(size)

	reservation, err := layout.PlanStack(m, reserved)
	if err != nil {
		return nil, err
	}
	base := reservation.New

	control, err := ControlAddress(m)
	if err != nil {
		return nil, err
	}

	img := newImage(m)

	if size > 0 {
		if err := img.write(base, blob); err != nil {
			return nil, err
		}
	}

	var field [4]byte
	binary.LittleEndian.PutUint32(field[:], uint32(len(entries)))
	if err := img.write(control+CountOffset, field[:]); err != nil {
		return nil, err
	}
	binary.LittleEndian.PutUint32(field[:], base)
	if err := img.write(control+DataOffset, field[:]); err != nil {
		return nil, err
	}

	// Commit. Nothing below can fail.
	if reserved > 0 {
		reservation.Apply(m)
	}
	touched := img.commit()

	Logger().Debug("embedded configuration",
		zap.Int("entries", len(entries)),
		zap.Uint32("base", base),
		zap.Uint32("size", size),
		zap.Uint32("reserved", reserved),
		zap.Uint32("control", control),
		zap.Int("control_version", ControlVersion),
		zap.Int("segments", len(touched)),
	)

	return &Result{
		Segments: touched,
		Base:     base,
		Size:     size,
		Reserved: reserved,
		Count:    uint32(len(entries)),
		Control:  control,
	}, nil
}

// image stages writes to data segments until commit.
type image struct {
	m      *wasm.Module
	staged map[wasm.SegmentID][]byte
}

func newImage(m *wasm.Module) *image {
	return &image{m: m, staged: make(map[wasm.SegmentID][]byte)}
}

func (img *image) bytes(id wasm.SegmentID) []byte {
	if b, ok := img.staged[id]; ok {
		return b
	}
	seg, _ := img.m.Segment(id)
	b := slices.Clone(seg.Init)
	img.staged[id] = b
	return b
}

// write copies data to addr, zero-padding and growing the covering segment
// when addr lies past its end.
func (img *image) write(addr uint32, data []byte) error {
	loc, err := layout.Locate(img.m, addr)
	if err != nil {
		return err
	}

	buf := img.bytes(loc.Segment)
	end := uint64(loc.Offset) + uint64(len(data))
	if end > uint64(len(buf)) {
		if err := img.checkGrowth(loc.Segment, addr, end); err != nil {
			return err
		}
		grown := make([]byte, end)
		copy(grown, buf)
		buf = grown
		img.staged[loc.Segment] = buf
	}

	copy(buf[loc.Offset:], data)
	return nil
}

// checkGrowth refuses to extend a segment over another segment or past the
// initial size of memory.
func (img *image) checkGrowth(id wasm.SegmentID, addr uint32, newLen uint64) error {
	start, err := layout.Start(img.m, id)
	if err != nil {
		return err
	}
	newEnd := uint64(start) + newLen

	for _, other := range img.m.Segments() {
		if other == id {
			continue
		}
		otherStart, err := layout.Start(img.m, other)
		if err != nil {
			return err
		}
		if otherStart >= start && uint64(otherStart) < newEnd {
			return errors.New(errors.PhaseEmbed, errors.KindLayout).
				Segment(uint32(id)).
				Address(addr).
				Detail("growing segment to end at 0x%x would overlap segment %d at 0x%x", newEnd, other, otherStart).
				Build()
		}
	}

	if limit, ok := initialMemory(img.m); ok && newEnd > limit {
		return errors.New(errors.PhaseEmbed, errors.KindLayout).
			Segment(uint32(id)).
			Address(addr).
			Detail("growing segment to end at 0x%x exceeds initial memory of 0x%x bytes", newEnd, limit).
			Build()
	}
	return nil
}

func (img *image) commit() []wasm.SegmentID {
	ids := make([]wasm.SegmentID, 0, len(img.staged))
	for id, b := range img.staged {
		seg, _ := img.m.Segment(id)
		if slices.Equal(seg.Init, b) {
			continue
		}
		seg.Init = b
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// initialMemory returns the byte size of memory 0 at instantiation.
func initialMemory(m *wasm.Module) (uint64, bool) {
	for _, imp := range m.Imports {
		if imp.Kind == wasm.KindMemory && imp.Memory != nil {
			return imp.Memory.Limits.Min * pageSize, true
		}
	}
	if len(m.Memories) > 0 {
		return m.Memories[0].Limits.Min * pageSize, true
	}
	return 0, false
}
