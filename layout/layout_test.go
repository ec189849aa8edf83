package layout_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	staticerrors "github.com/reconcilerio/static-config/errors"
	"github.com/reconcilerio/static-config/internal/fixture"
	"github.com/reconcilerio/static-config/layout"
	"github.com/reconcilerio/static-config/wasm"
)

func segmentsAt(starts ...int32) *wasm.Module {
	m := &wasm.Module{}
	for _, s := range starts {
		m.Data = append(m.Data, wasm.DataSegment{
			Flags:  wasm.DataActive,
			Offset: wasm.ConstI32Expr(s),
			Init:   []byte{0, 0, 0, 0},
		})
	}
	return m
}

func TestLocate(t *testing.T) {
	tests := []struct {
		name    string
		starts  []int32
		addr    uint32
		segment wasm.SegmentID
		offset  uint32
	}{
		{"past last segment", []int32{100, 200}, 250, 1, 50},
		{"exact start", []int32{100, 200}, 200, 1, 0},
		{"between segments", []int32{100, 200}, 150, 0, 50},
		{"unordered segments", []int32{200, 100}, 150, 1, 50},
		{"single segment", []int32{0}, 4096, 0, 4096},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc, err := layout.Locate(segmentsAt(tt.starts...), tt.addr)
			if err != nil {
				t.Fatalf("Locate: %v", err)
			}
			if loc.Segment != tt.segment || loc.Offset != tt.offset {
				t.Errorf("Locate(%d) = %+v, want segment %d offset %d", tt.addr, loc, tt.segment, tt.offset)
			}
		})
	}
}

func TestLocateErrors(t *testing.T) {
	t.Run("below every segment", func(t *testing.T) {
		_, err := layout.Locate(segmentsAt(100, 200), 50)
		if !errors.Is(err, staticerrors.ErrLayout) {
			t.Fatalf("expected layout error, got %v", err)
		}
		var se *staticerrors.Error
		if !errors.As(err, &se) || se.Address == nil || *se.Address != 50 {
			t.Errorf("error should name the address: %v", err)
		}
	})

	t.Run("no segments", func(t *testing.T) {
		if _, err := layout.Locate(&wasm.Module{}, 0); !errors.Is(err, staticerrors.ErrLayout) {
			t.Errorf("expected layout error, got %v", err)
		}
	})

	bad := []struct {
		name string
		seg  wasm.DataSegment
	}{
		{"passive", wasm.DataSegment{Flags: wasm.DataPassive}},
		{"other memory", wasm.DataSegment{Flags: wasm.DataActiveExplicit, MemIdx: 1, Offset: wasm.ConstI32Expr(0)}},
		{"non-constant offset", wasm.DataSegment{Flags: wasm.DataActive, Offset: []byte{wasm.OpGlobalGet, 0x00, wasm.OpEnd}}},
	}
	for _, tt := range bad {
		t.Run(tt.name, func(t *testing.T) {
			m := segmentsAt(100)
			m.Data = append(m.Data, tt.seg)
			_, err := layout.Locate(m, 150)
			if !errors.Is(err, staticerrors.ErrLayout) {
				t.Fatalf("expected layout error, got %v", err)
			}
			var se *staticerrors.Error
			if !errors.As(err, &se) || se.Segment == nil || *se.Segment != 1 {
				t.Errorf("error should name segment 1: %v", err)
			}
		})
	}
}

func TestLocateTemplate(t *testing.T) {
	m, err := wasm.Parse(fixture.Template())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	loc, err := layout.Locate(m, fixture.DefaultControlAddr+4)
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if loc.Segment != 1 || loc.Offset != 4 {
		t.Errorf("Locate = %+v, want segment 1 offset 4", loc)
	}
}

func TestReserveStack(t *testing.T) {
	m, err := wasm.Parse(fixture.Template())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	base, err := layout.ReserveStack(m, 48)
	if err != nil {
		t.Fatalf("ReserveStack: %v", err)
	}
	if want := uint32(fixture.DefaultStackPointer) - 48; base != want {
		t.Errorf("base = %d, want %d", base, want)
	}

	g, _ := m.Global(0)
	if v, _ := g.ConstI32(); uint32(v) != base {
		t.Errorf("stack pointer = %d, want %d", v, base)
	}
}

func TestReserveStackZero(t *testing.T) {
	data := fixture.Template()
	m, err := wasm.Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	base, err := layout.ReserveStack(m, 0)
	if err != nil {
		t.Fatalf("ReserveStack: %v", err)
	}
	if base != uint32(fixture.DefaultStackPointer) {
		t.Errorf("base = %d, want %d", base, fixture.DefaultStackPointer)
	}
	if !bytes.Equal(m.Encode(), data) {
		t.Error("reserving zero bytes modified the module")
	}
}

func TestReserveStackErrors(t *testing.T) {
	tests := []struct {
		name    string
		opts    []fixture.Option
		amount  uint32
		message string
	}{
		{"misaligned", nil, 12, "multiples of 8"},
		{"missing global", []fixture.Option{fixture.WithoutStackPointer()}, 8, "not found"},
		{"non-constant", []fixture.Option{
			fixture.WithGlobalImport("env", "base"),
			fixture.WithStackPointerInit([]byte{wasm.OpGlobalGet, 0x00, wasm.OpEnd}),
		}, 8, "not a constant"},
		{"stack too small", []fixture.Option{fixture.WithStackPointer(16)}, 24, "smaller than"},
		{"immutable", []fixture.Option{fixture.WithImmutableStackPointer()}, 8, "immutable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := fixture.Template(tt.opts...)
			m, err := wasm.Parse(data)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}

			_, err = layout.ReserveStack(m, tt.amount)
			if !errors.Is(err, staticerrors.ErrLayout) {
				t.Fatalf("expected layout error, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.message) {
				t.Errorf("error %q does not mention %q", err, tt.message)
			}
			if !strings.Contains(err.Error(), layout.StackPointerGlobal) {
				t.Errorf("error %q does not name the global", err)
			}
			if !bytes.Equal(m.Encode(), data) {
				t.Error("failed reservation modified the module")
			}
		})
	}
}

func TestReserveStackExportedGlobal(t *testing.T) {
	m, err := wasm.Parse(fixture.Template(fixture.WithStackPointerExport()))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, err := layout.ReserveStack(m, 8); err != nil {
		t.Errorf("ReserveStack with exported stack pointer: %v", err)
	}
}

func TestAlign8(t *testing.T) {
	tests := []struct{ in, want uint32 }{
		{0, 0}, {1, 8}, {8, 8}, {9, 16}, {44, 48},
	}
	for _, tt := range tests {
		if got := layout.Align8(tt.in); got != tt.want {
			t.Errorf("Align8(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
