package component

import (
	"bytes"
	"fmt"

	"github.com/reconcilerio/static-config/internal/binary"
	"github.com/reconcilerio/static-config/wasm"
)

// Canonical ABI exports a core module provides to be wrapped.
const (
	MemoryExport     = "memory"
	ReallocExport    = "cabi_realloc"
	PostReturnPrefix = "cabi_post_"
)

// Builder wraps a core module that implements a set of interfaces into a
// component that exports them.
//
// The core module is instantiated without imports. Every interface function
// is lifted from the core export "<interface>#<func>" with the utf8, memory
// and realloc options, plus post-return when the module exports
// "cabi_post_<interface>#<func>". Each interface becomes an instance built
// from inline exports of its named types and lifted functions, exported under
// the interface name.
type Builder struct {
	exports map[string]wasm.Export
	core    []byte
	ifaces  []*Interface
	customs []CustomSection
}

// NewBuilder returns a Builder for the given core module. The module must
// export its memory and cabi_realloc.
func NewBuilder(core []byte) (*Builder, error) {
	m, err := wasm.Parse(core)
	if err != nil {
		return nil, err
	}
	b := &Builder{
		core:    bytes.Clone(core),
		exports: make(map[string]wasm.Export, len(m.Exports)),
	}
	for _, e := range m.Exports {
		b.exports[e.Name] = e
	}
	if err := b.require(MemoryExport, wasm.KindMemory); err != nil {
		return nil, err
	}
	if err := b.require(ReallocExport, wasm.KindFunc); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Builder) require(name string, kind byte) error {
	e, ok := b.exports[name]
	if !ok {
		return fmt.Errorf("core module does not export %q", name)
	}
	if e.Kind != kind {
		return fmt.Errorf("core export %q has kind %d, want %d", name, e.Kind, kind)
	}
	return nil
}

// Export adds iface to the component exports. Every function of iface must
// be exported by the core module.
func (b *Builder) Export(iface *Interface) error {
	for _, fn := range iface.Funcs {
		if err := b.require(iface.CoreExportName(fn.Name), wasm.KindFunc); err != nil {
			return fmt.Errorf("interface %s: %w", iface.Name, err)
		}
	}
	for _, existing := range b.ifaces {
		if existing.Name == iface.Name {
			return fmt.Errorf("interface %s exported twice", iface.Name)
		}
	}
	b.ifaces = append(b.ifaces, iface)
	return nil
}

// Custom appends a custom section to the component.
func (b *Builder) Custom(name string, data []byte) {
	b.customs = append(b.customs, CustomSection{Name: name, Data: bytes.Clone(data)})
}

// lifted is a function to lift along with the core function indices of its
// implementation and optional post-return.
type lifted struct {
	fn         Func
	coreFunc   uint32
	postReturn uint32
	hasPost    bool
}

// Encode produces the component binary.
func (b *Builder) Encode() ([]byte, error) {
	w := binary.NewWriter()
	w.WriteBytes(Preamble)

	// core module 0, instantiated as core instance 0
	w.Byte(SectionCoreModule)
	w.WriteVec(b.core)
	w.Section(SectionCoreInstance, func(s *binary.Writer) {
		s.WriteU32(1)
		s.Byte(InstanceInstantiate)
		s.WriteU32(0)
		s.WriteU32(0)
	})

	// core memory 0 and core func 0 (realloc), then one core func per
	// function and post-return
	var aliases [][]byte
	aliasCore := func(sort byte, name string) {
		a := binary.NewWriter()
		a.Byte(SortCore)
		a.Byte(sort)
		a.Byte(AliasCoreExport)
		a.WriteU32(0)
		a.WriteName(name)
		aliases = append(aliases, a.Bytes())
	}
	aliasCore(CoreSortMemory, MemoryExport)
	aliasCore(CoreSortFunc, ReallocExport)
	coreFuncs := uint32(1)

	funcs := make([][]lifted, len(b.ifaces))
	for i, iface := range b.ifaces {
		for _, fn := range iface.Funcs {
			name := iface.CoreExportName(fn.Name)
			l := lifted{fn: fn, coreFunc: coreFuncs}
			aliasCore(CoreSortFunc, name)
			coreFuncs++
			if _, ok := b.exports[PostReturnPrefix+name]; ok {
				aliasCore(CoreSortFunc, PostReturnPrefix+name)
				l.postReturn = coreFuncs
				l.hasPost = true
				coreFuncs++
			}
			funcs[i] = append(funcs[i], l)
		}
	}
	w.Section(SectionAlias, func(s *binary.Writer) {
		s.WriteU32(uint32(len(aliases)))
		for _, a := range aliases {
			s.WriteBytes(a)
		}
	})

	// component types: named types of every interface, then function types
	types := newTypeSpace(false)
	typeIdx := make([][]uint32, len(b.ifaces))
	funcTypes := make([][]uint32, len(b.ifaces))
	for i, iface := range b.ifaces {
		for _, td := range iface.Types {
			idx, err := types.typeIndex(td.Def)
			if err != nil {
				return nil, fmt.Errorf("interface %s type %s: %w", iface.Name, td.Name, err)
			}
			typeIdx[i] = append(typeIdx[i], idx)
		}
		for _, fn := range iface.Funcs {
			idx, err := types.funcType(fn)
			if err != nil {
				return nil, fmt.Errorf("interface %s: %w", iface.Name, err)
			}
			funcTypes[i] = append(funcTypes[i], idx)
		}
	}
	w.Section(SectionType, types.encode)

	// lifted functions, numbered in interface order
	var canons [][]byte
	for i := range b.ifaces {
		for j, l := range funcs[i] {
			c := binary.NewWriter()
			c.Byte(CanonLift)
			c.Byte(0x00)
			c.WriteU32(l.coreFunc)
			opts := uint32(3)
			if l.hasPost {
				opts++
			}
			c.WriteU32(opts)
			c.Byte(CanonOptUTF8)
			c.Byte(CanonOptMemory)
			c.WriteU32(0)
			c.Byte(CanonOptRealloc)
			c.WriteU32(0)
			if l.hasPost {
				c.Byte(CanonOptPostReturn)
				c.WriteU32(l.postReturn)
			}
			c.WriteU32(funcTypes[i][j])
			canons = append(canons, c.Bytes())
		}
	}
	if len(canons) > 0 {
		w.Section(SectionCanon, func(s *binary.Writer) {
			s.WriteU32(uint32(len(canons)))
			for _, c := range canons {
				s.WriteBytes(c)
			}
		})
	}

	// one instance per interface
	w.Section(SectionInstance, func(s *binary.Writer) {
		s.WriteU32(uint32(len(b.ifaces)))
		var fn uint32
		for i, iface := range b.ifaces {
			s.Byte(InstanceFromExports)
			s.WriteU32(uint32(len(iface.Types) + len(iface.Funcs)))
			for j, td := range iface.Types {
				writeExternName(s, td.Name)
				s.Byte(SortType)
				s.WriteU32(typeIdx[i][j])
			}
			for _, f := range iface.Funcs {
				writeExternName(s, f.Name)
				s.Byte(SortFunc)
				s.WriteU32(fn)
				fn++
			}
		}
	})

	w.Section(SectionExport, func(s *binary.Writer) {
		s.WriteU32(uint32(len(b.ifaces)))
		for i, iface := range b.ifaces {
			writeExternName(s, iface.Name)
			s.Byte(SortInstance)
			s.WriteU32(uint32(i))
			s.Byte(0x00)
		}
	})

	for _, cs := range b.customs {
		w.Custom(cs.Name, cs.Data)
	}

	return bytes.Clone(w.Bytes()), nil
}
