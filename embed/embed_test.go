package embed_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/reconcilerio/static-config/configdata"
	"github.com/reconcilerio/static-config/embed"
	staticerrors "github.com/reconcilerio/static-config/errors"
	"github.com/reconcilerio/static-config/internal/fixture"
	"github.com/reconcilerio/static-config/wasm"
)

// memoryImage flattens the active data segments of m into the memory a
// runtime would see right after instantiation.
func memoryImage(t *testing.T, m *wasm.Module) []byte {
	t.Helper()
	mem := make([]byte, m.Memories[0].Limits.Min*65536)
	for _, id := range m.Segments() {
		seg, _ := m.Segment(id)
		start, ok := seg.FixedOffset()
		if !ok {
			t.Fatalf("segment %d has no fixed offset", id)
		}
		copy(mem[start:], seg.Init)
	}
	return mem
}

func readEntries(t *testing.T, m *wasm.Module) []configdata.Entry {
	t.Helper()
	control, err := embed.ControlAddress(m)
	if err != nil {
		t.Fatalf("ControlAddress: %v", err)
	}
	mem := memoryImage(t, m)
	count := binary.LittleEndian.Uint32(mem[control+embed.CountOffset:])
	ptr := binary.LittleEndian.Uint32(mem[control+embed.DataOffset:])
	entries, err := configdata.Decode(mem[ptr:], count)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return entries
}

func stackPointer(t *testing.T, m *wasm.Module) uint32 {
	t.Helper()
	id, ok := m.GlobalByName("__stack_pointer")
	if !ok {
		t.Fatal("stack pointer missing")
	}
	g, _ := m.Global(id)
	v, ok := g.ConstI32()
	if !ok {
		t.Fatal("stack pointer not constant")
	}
	return uint32(v)
}

func TestEmbedEntries(t *testing.T) {
	m, err := wasm.Parse(fixture.Template())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	entries := []configdata.Entry{
		{Key: "greeting", Value: "hello"},
		{Key: "count", Value: "3"},
	}
	res, err := embed.Embed(m, entries)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}

	if res.Size != 44 || res.Reserved != 48 {
		t.Errorf("size/reserved = %d/%d, want 44/48", res.Size, res.Reserved)
	}
	wantBase := uint32(fixture.DefaultStackPointer) - 48
	if res.Base != wantBase {
		t.Errorf("base = %d, want %d", res.Base, wantBase)
	}
	if res.Count != 2 || res.Control != fixture.DefaultControlAddr {
		t.Errorf("count/control = %d/%d", res.Count, res.Control)
	}
	if len(res.Segments) != 1 || res.Segments[0] != 1 {
		t.Errorf("touched segments = %v, want [1]", res.Segments)
	}
	if sp := stackPointer(t, m); sp != wantBase {
		t.Errorf("stack pointer = %d, want %d", sp, wantBase)
	}

	got := readEntries(t, m)
	if len(got) != 2 || got[0] != entries[0] || got[1] != entries[1] {
		t.Errorf("entries = %v, want %v", got, entries)
	}
	if _, ok := configdata.Get(got, "missing"); ok {
		t.Error("unexpected value for missing key")
	}

	// the encoded module must still parse and keep the growth
	reparsed, err := wasm.Parse(m.Encode())
	if err != nil {
		t.Fatalf("Parse(Encode): %v", err)
	}
	if got := readEntries(t, reparsed); len(got) != 2 {
		t.Errorf("entries after round-trip = %v", got)
	}
}

func TestEmbedEmpty(t *testing.T) {
	m, err := wasm.Parse(fixture.Template())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	res, err := embed.Embed(m, nil)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if res.Reserved != 0 || res.Base != uint32(fixture.DefaultStackPointer) {
		t.Errorf("reserved/base = %d/%d", res.Reserved, res.Base)
	}
	if sp := stackPointer(t, m); sp != uint32(fixture.DefaultStackPointer) {
		t.Errorf("stack pointer moved to %d", sp)
	}
	if got := readEntries(t, m); len(got) != 0 {
		t.Errorf("entries = %v, want none", got)
	}

	seg, _ := m.Segment(1)
	if len(seg.Init) != int(embed.ControlSize) {
		t.Errorf("control segment grew to %d bytes", len(seg.Init))
	}
}

func TestEmbedDuplicateKeys(t *testing.T) {
	m, err := wasm.Parse(fixture.Template())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	entries := []configdata.Entry{{Key: "k", Value: "first"}, {Key: "k", Value: "second"}}
	if _, err := embed.Embed(m, entries); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	got := readEntries(t, m)
	if v, _ := configdata.Get(got, "k"); v != "first" {
		t.Errorf("Get(k) = %q, want first", v)
	}
	if len(got) != 2 {
		t.Errorf("entries = %v", got)
	}
}

func TestEmbedFailureLeavesModuleUnchanged(t *testing.T) {
	entries := []configdata.Entry{
		{Key: "greeting", Value: "hello"},
		{Key: "count", Value: "3"},
	}

	tests := []struct {
		name string
		opts []fixture.Option
		kind error
	}{
		{"missing stack pointer", []fixture.Option{fixture.WithoutStackPointer()}, staticerrors.ErrLayout},
		{"stack too small", []fixture.Option{fixture.WithStackPointer(40)}, staticerrors.ErrLayout},
		{"missing control export", []fixture.Option{fixture.WithoutControlExport()}, staticerrors.ErrFormat},
		{"growth overlaps segment", []fixture.Option{
			fixture.WithSegment(fixture.Segment{Addr: 65500, Data: []byte{0xaa}}),
		}, staticerrors.ErrLayout},
		{"growth past memory", []fixture.Option{
			fixture.WithPages(1),
			fixture.WithStackPointer(70000),
		}, staticerrors.ErrLayout},
		{"control block at end of address space", []fixture.Option{
			fixture.WithControlAddr(0xFFFFFFFC),
			fixture.WithSegment(fixture.Segment{Addr: 0, Data: make([]byte, 16)}),
		}, staticerrors.ErrLayout},
		{"passive segment", []fixture.Option{
			fixture.WithSegment(fixture.Segment{Passive: true, Data: []byte{1}}),
		}, staticerrors.ErrLayout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := fixture.Template(tt.opts...)
			m, err := wasm.Parse(data)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}

			_, err = embed.Embed(m, entries)
			if !errors.Is(err, tt.kind) {
				t.Fatalf("expected %v, got %v", tt.kind, err)
			}
			if !bytes.Equal(m.Encode(), data) {
				t.Error("failed embed modified the module")
			}
		})
	}
}

func TestControlAddress(t *testing.T) {
	m, err := wasm.Parse(fixture.Template(fixture.WithControlAddr(3000)))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	addr, err := embed.ControlAddress(m)
	if err != nil {
		t.Fatalf("ControlAddress: %v", err)
	}
	if addr != 3000 {
		t.Errorf("ControlAddress = %d, want 3000", addr)
	}
}

func TestEmbedLogs(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	embed.SetLogger(zap.New(core))
	t.Cleanup(func() { embed.SetLogger(zap.NewNop()) })

	m, err := wasm.Parse(fixture.Template())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, err := embed.Embed(m, []configdata.Entry{{Key: "a", Value: "b"}}); err != nil {
		t.Fatalf("Embed: %v", err)
	}

	entries := logs.FilterMessage("embedded configuration").All()
	if len(entries) != 1 {
		t.Fatalf("logged %d times", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["control_version"] != int64(embed.ControlVersion) {
		t.Errorf("control_version = %v", fields["control_version"])
	}
	if fields["control"] != uint32(fixture.DefaultControlAddr) {
		t.Errorf("control = %v", fields["control"])
	}
}
