// Package fixture synthesizes template core modules for tests.
//
// The default template mirrors the layout a linker produces for a
// configuration adapter: read-only data at 1024, the 12-byte control block at
// 2048, a mutable __stack_pointer starting at 65536 (named through the name
// section), an immutable exported CONFIG global holding the control block
// address, two pages of memory, the store functions with their post-return
// and realloc helpers, and one component-type custom section.
package fixture

import (
	"github.com/reconcilerio/static-config/internal/binary"
	"github.com/reconcilerio/static-config/wasm"
)

// Export names used by the template.
const (
	GetExport        = "wasi:config/store@0.2.0-draft#get"
	GetAllExport     = "wasi:config/store@0.2.0-draft#get-all"
	PostGetExport    = "cabi_post_wasi:config/store@0.2.0-draft#get"
	PostGetAllExport = "cabi_post_wasi:config/store@0.2.0-draft#get-all"
	ReallocExport    = "cabi_realloc"
	MemoryExport     = "memory"
	ControlExport    = "CONFIG"
	StackPointer     = "__stack_pointer"

	ComponentTypeSection = "component-type:adapter"
)

// Defaults of the generated template.
const (
	DefaultStackPointer int32  = 65536
	DefaultControlAddr  uint32 = 2048
	DefaultRodataAddr   uint32 = 1024
	DefaultPages        uint32 = 2
)

// Rodata is the content of the read-only segment.
var Rodata = []byte("static-config\x00rodata\x00")

// Segment is an extra data segment.
type Segment struct {
	Data    []byte
	Addr    uint32
	Passive bool
}

type options struct {
	stackInit       []byte
	extraSegments   []Segment
	componentTypes  []string
	imports         []importEntry
	stackMutable    bool
	stackByExport   bool
	noStackPointer  bool
	noControlExport bool
	controlAddr     uint32
	pages           uint32
}

type importEntry struct {
	module, name string
	global       bool
}

// Option customizes the generated template.
type Option func(*options)

// WithStackPointer sets the initial stack pointer value.
func WithStackPointer(v int32) Option {
	return func(o *options) {
		o.stackInit = wasm.ConstI32Expr(v)
	}
}

// WithStackPointerInit sets a raw initializer expression for the stack pointer.
func WithStackPointerInit(expr []byte) Option {
	return func(o *options) {
		o.stackInit = expr
	}
}

// WithoutStackPointer omits the stack pointer name so it cannot be resolved.
func WithoutStackPointer() Option {
	return func(o *options) {
		o.noStackPointer = true
	}
}

// WithStackPointerExport names the stack pointer through an export instead of
// the name section.
func WithStackPointerExport() Option {
	return func(o *options) {
		o.stackByExport = true
	}
}

// WithImmutableStackPointer declares the stack pointer immutable.
func WithImmutableStackPointer() Option {
	return func(o *options) {
		o.stackMutable = false
	}
}

// WithControlAddr moves the control block.
func WithControlAddr(addr uint32) Option {
	return func(o *options) {
		o.controlAddr = addr
	}
}

// WithoutControlExport drops the CONFIG export.
func WithoutControlExport() Option {
	return func(o *options) {
		o.noControlExport = true
	}
}

// WithSegment adds a data segment after the default ones.
func WithSegment(seg Segment) Option {
	return func(o *options) {
		o.extraSegments = append(o.extraSegments, seg)
	}
}

// WithComponentTypes replaces the component-type custom sections. Passing no
// names removes them all.
func WithComponentTypes(names ...string) Option {
	return func(o *options) {
		o.componentTypes = names
	}
}

// WithPages sets the minimum memory size in pages.
func WithPages(pages uint32) Option {
	return func(o *options) {
		o.pages = pages
	}
}

// WithFunctionImport adds a function import of type () -> ().
func WithFunctionImport(module, name string) Option {
	return func(o *options) {
		o.imports = append(o.imports, importEntry{module: module, name: name})
	}
}

// WithGlobalImport adds an immutable i32 global import, shifting every
// defined global index by one.
func WithGlobalImport(module, name string) Option {
	return func(o *options) {
		o.imports = append(o.imports, importEntry{module: module, name: name, global: true})
	}
}

// Template returns the encoded template module.
func Template(opts ...Option) []byte {
	o := &options{
		stackInit:      wasm.ConstI32Expr(DefaultStackPointer),
		stackMutable:   true,
		controlAddr:    DefaultControlAddr,
		pages:          DefaultPages,
		componentTypes: []string{ComponentTypeSection},
	}
	for _, opt := range opts {
		opt(o)
	}

	var funcImports, globalImports uint32
	for _, imp := range o.imports {
		if imp.global {
			globalImports++
		} else {
			funcImports++
		}
	}
	stackGlobal := globalImports
	controlGlobal := globalImports + 1

	w := binary.NewWriter()
	w.WriteU32LE(wasm.Magic)
	w.WriteU32LE(wasm.Version)

	// types: 0 (i32,i32)->i32, 1 ()->i32, 2 (i32 x4)->i32, 3 (i32)->(), 4 ()->()
	w.Section(wasm.SectionType, func(s *binary.Writer) {
		i32 := byte(wasm.ValI32)
		types := [][2][]byte{
			{{i32, i32}, {i32}},
			{nil, {i32}},
			{{i32, i32, i32, i32}, {i32}},
			{{i32}, nil},
			{nil, nil},
		}
		s.WriteU32(uint32(len(types)))
		for _, ft := range types {
			s.Byte(wasm.FuncTypeByte)
			s.WriteVec(ft[0])
			s.WriteVec(ft[1])
		}
	})

	if len(o.imports) > 0 {
		w.Section(wasm.SectionImport, func(s *binary.Writer) {
			s.WriteU32(uint32(len(o.imports)))
			for _, imp := range o.imports {
				s.WriteName(imp.module)
				s.WriteName(imp.name)
				if imp.global {
					s.Byte(wasm.KindGlobal)
					s.Byte(byte(wasm.ValI32))
					s.Byte(0)
				} else {
					s.Byte(wasm.KindFunc)
					s.WriteU32(4)
				}
			}
		})
	}

	// get, get-all, realloc, post-return
	w.Section(wasm.SectionFunction, func(s *binary.Writer) {
		s.WriteVec([]byte{0, 1, 2, 3})
	})

	w.Section(wasm.SectionMemory, func(s *binary.Writer) {
		s.WriteU32(1)
		s.Byte(0)
		s.WriteU32(o.pages)
	})

	w.Section(wasm.SectionGlobal, func(s *binary.Writer) {
		s.WriteU32(2)
		s.Byte(byte(wasm.ValI32))
		if o.stackMutable {
			s.Byte(1)
		} else {
			s.Byte(0)
		}
		s.WriteBytes(o.stackInit)
		s.Byte(byte(wasm.ValI32))
		s.Byte(0)
		s.WriteBytes(wasm.ConstI32Expr(int32(o.controlAddr)))
	})

	w.Section(wasm.SectionExport, func(s *binary.Writer) {
		type export struct {
			name string
			kind byte
			idx  uint32
		}
		exports := []export{
			{MemoryExport, wasm.KindMemory, 0},
			{GetExport, wasm.KindFunc, funcImports},
			{GetAllExport, wasm.KindFunc, funcImports + 1},
			{ReallocExport, wasm.KindFunc, funcImports + 2},
			{PostGetExport, wasm.KindFunc, funcImports + 3},
			{PostGetAllExport, wasm.KindFunc, funcImports + 3},
		}
		if !o.noControlExport {
			exports = append(exports, export{ControlExport, wasm.KindGlobal, controlGlobal})
		}
		if o.stackByExport && !o.noStackPointer {
			exports = append(exports, export{StackPointer, wasm.KindGlobal, stackGlobal})
		}
		s.WriteU32(uint32(len(exports)))
		for _, e := range exports {
			s.WriteName(e.name)
			s.Byte(e.kind)
			s.WriteU32(e.idx)
		}
	})

	w.Section(wasm.SectionCode, func(s *binary.Writer) {
		retZero := []byte{0x00, wasm.OpI32Const, 0x00, wasm.OpEnd}
		bodies := [][]byte{retZero, retZero, retZero, {0x00, wasm.OpEnd}}
		s.WriteU32(uint32(len(bodies)))
		for _, body := range bodies {
			s.WriteVec(body)
		}
	})

	segments := []Segment{
		{Addr: DefaultRodataAddr, Data: Rodata},
		{Addr: o.controlAddr, Data: ControlBlock(0, 0)},
	}
	segments = append(segments, o.extraSegments...)
	w.Section(wasm.SectionData, func(s *binary.Writer) {
		s.WriteU32(uint32(len(segments)))
		for _, seg := range segments {
			if seg.Passive {
				s.WriteU32(wasm.DataPassive)
			} else {
				s.WriteU32(wasm.DataActive)
				s.WriteBytes(wasm.ConstI32Expr(int32(seg.Addr)))
			}
			s.WriteVec(seg.Data)
		}
	})

	w.Custom(wasm.CustomSectionName, nameSection(o, funcImports, stackGlobal, controlGlobal))

	for _, name := range o.componentTypes {
		w.Custom(name, ComponentTypePayload())
	}

	return w.Bytes()
}

// ControlBlock returns the 12-byte control block with the given count and
// data pointer.
func ControlBlock(count, ptr uint32) []byte {
	w := binary.NewWriter()
	w.WriteU32LE(1)
	w.WriteU32LE(count)
	w.WriteU32LE(ptr)
	return w.Bytes()
}

// ComponentTypePayload returns a minimal component binary usable as the
// payload of a component-type custom section.
func ComponentTypePayload() []byte {
	w := binary.NewWriter()
	w.WriteBytes([]byte{0x00, 0x61, 0x73, 0x6d, 0x0d, 0x00, 0x01, 0x00})
	w.Custom("wit-component-encoding", []byte{0x04, 0x00})
	return w.Bytes()
}

func nameSection(o *options, funcImports, stackGlobal, controlGlobal uint32) []byte {
	w := binary.NewWriter()
	w.Section(wasm.NameSubsectionFunction, func(s *binary.Writer) {
		names := []string{"get", "get_all", "cabi_realloc", "post_return"}
		s.WriteU32(uint32(len(names)))
		for i, n := range names {
			s.WriteU32(funcImports + uint32(i))
			s.WriteName(n)
		}
	})
	w.Section(wasm.NameSubsectionGlobal, func(s *binary.Writer) {
		if o.noStackPointer || o.stackByExport {
			s.WriteU32(1)
		} else {
			s.WriteU32(2)
			s.WriteU32(stackGlobal)
			s.WriteName(StackPointer)
		}
		s.WriteU32(controlGlobal)
		s.WriteName("GOT.data.internal.CONFIG")
	})
	return w.Bytes()
}
