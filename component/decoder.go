package component

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	wasmbin "github.com/reconcilerio/static-config/internal/binary"
)

// ErrNotComponent is returned when the input does not start with a component
// preamble.
var ErrNotComponent = errors.New("not a component")

// Component holds the decoded structure of a WebAssembly Component
type Component struct {
	CoreModules    [][]byte
	CoreInstances  []CoreInstance
	Aliases        []Alias
	Types          []*Type
	Canons         []Canon
	Instances      []Instance
	Imports        []Import
	Exports        []Export
	CustomSections []CustomSection
	Components     [][]byte

	// order records every decoded item in binary order for Check
	order []item
}

type item struct {
	section byte
	index   int
}

// CoreInstance is an entry of the core instance section.
type CoreInstance struct {
	Args    []CoreInstanceArg
	Exports []CoreInstanceExport
	Module  uint32
	Kind    byte
}

// CoreInstanceArg names a core instance passed to a module instantiation.
type CoreInstanceArg struct {
	Name     string
	Instance uint32
}

// CoreInstanceExport is an export of a core instance built from exports.
type CoreInstanceExport struct {
	Name  string
	Index uint32
	Sort  byte
}

// Alias is an entry of the alias section.
type Alias struct {
	Name       string
	Instance   uint32
	OuterCount uint32
	OuterIndex uint32
	Sort       byte
	CoreSort   byte
	Target     byte
}

// Canon is a canonical function definition.
type Canon struct {
	Options   []CanonOption
	FuncIndex uint32
	TypeIndex uint32
	Kind      byte
}

// CanonOption holds a single option from canon lift/lower
type CanonOption struct {
	Index uint32
	Kind  byte
}

// Option returns the index carried by the first option of the given kind.
func (c Canon) Option(kind byte) (uint32, bool) {
	for _, o := range c.Options {
		if o.Kind == kind {
			return o.Index, true
		}
	}
	return 0, false
}

// SortIndex refers to an item of the given sort.
type SortIndex struct {
	Name     string
	Index    uint32
	Sort     byte
	CoreSort byte
}

// Instance is an entry of the instance section: either an instantiation of a
// nested component or a bundle of inline exports.
type Instance struct {
	Args      []SortIndex
	Exports   []SortIndex
	Component uint32
	Kind      byte
}

// Import is a component import.
type Import struct {
	Name string
	Desc ExternDesc
}

// Export is a component export. Desc is set when the export carries an
// explicit type ascription.
type Export struct {
	Desc  *ExternDesc
	Name  string
	Index uint32
	Sort  byte
}

// CustomSection is a named custom section.
type CustomSection struct {
	Name string
	Data []byte
}

// CustomSection returns the data of the first custom section with the given
// name.
func (c *Component) CustomSection(name string) ([]byte, bool) {
	for _, cs := range c.CustomSections {
		if cs.Name == name {
			return cs.Data, true
		}
	}
	return nil, false
}

// Export returns the export with the given name.
func (c *Component) Export(name string) (Export, bool) {
	for _, e := range c.Exports {
		if e.Name == name {
			return e, true
		}
	}
	return Export{}, false
}

// IsComponent reports whether data starts with a component preamble.
func IsComponent(data []byte) bool {
	if len(data) < 8 {
		return false
	}
	if data[0] != 0x00 || data[1] != 0x61 || data[2] != 0x73 || data[3] != 0x6D {
		return false
	}
	version := binary.LittleEndian.Uint32(data[4:8])
	return version > 1
}

// Decode parses a component binary. Nested components are kept as raw bytes;
// core type sections, start functions and value imports are rejected.
func Decode(data []byte) (*Component, error) {
	if !IsComponent(data) {
		return nil, ErrNotComponent
	}
	if !bytes.Equal(data[:8], Preamble) {
		return nil, fmt.Errorf("unsupported component version % x", data[4:8])
	}

	r := wasmbin.NewReader(data[8:])
	comp := &Component{}

	for r.Len() > 0 {
		sectionID, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("read section ID: %w", err)
		}
		size, err := r.ReadU32()
		if err != nil {
			return nil, fmt.Errorf("read section size: %w", err)
		}
		if int64(size) > int64(r.Len()) {
			return nil, fmt.Errorf("section %d size %d exceeds remaining %d bytes", sectionID, size, r.Len())
		}
		sectionData, err := r.ReadBytes(int(size))
		if err != nil {
			return nil, fmt.Errorf("read section data: %w", err)
		}

		sr := wasmbin.NewReader(sectionData)
		if err := comp.decodeSection(sectionID, sr, sectionData); err != nil {
			return nil, sr.WrapError(fmt.Sprintf("component section %d", sectionID), err)
		}
		if sectionID != SectionCustom && sectionID != SectionCoreModule && sectionID != SectionComponent && sr.Len() > 0 {
			return nil, sr.WrapError(fmt.Sprintf("component section %d", sectionID), errors.New("trailing bytes"))
		}
	}

	return comp, nil
}

func (c *Component) record(section byte, index int) {
	c.order = append(c.order, item{section: section, index: index})
}

func (c *Component) decodeSection(id byte, r *wasmbin.Reader, data []byte) error {
	switch id {
	case SectionCustom:
		name, err := r.ReadName()
		if err != nil {
			return fmt.Errorf("read custom section name: %w", err)
		}
		payload, err := r.ReadRemaining()
		if err != nil {
			return err
		}
		c.CustomSections = append(c.CustomSections, CustomSection{Name: name, Data: payload})
	case SectionCoreModule:
		c.record(id, len(c.CoreModules))
		c.CoreModules = append(c.CoreModules, data)
	case SectionComponent:
		c.record(id, len(c.Components))
		c.Components = append(c.Components, data)
	case SectionCoreInstance:
		return readVec(r, "core instance", func() error {
			inst, err := readCoreInstance(r)
			if err != nil {
				return err
			}
			c.record(id, len(c.CoreInstances))
			c.CoreInstances = append(c.CoreInstances, inst)
			return nil
		})
	case SectionInstance:
		return readVec(r, "instance", func() error {
			inst, err := readInstance(r)
			if err != nil {
				return err
			}
			c.record(id, len(c.Instances))
			c.Instances = append(c.Instances, inst)
			return nil
		})
	case SectionAlias:
		return readVec(r, "alias", func() error {
			a, err := readAlias(r)
			if err != nil {
				return err
			}
			c.record(id, len(c.Aliases))
			c.Aliases = append(c.Aliases, a)
			return nil
		})
	case SectionType:
		return readVec(r, "type", func() error {
			t, err := readType(r)
			if err != nil {
				return err
			}
			c.record(id, len(c.Types))
			c.Types = append(c.Types, t)
			return nil
		})
	case SectionCanon:
		return readVec(r, "canon", func() error {
			cn, err := readCanon(r)
			if err != nil {
				return err
			}
			c.record(id, len(c.Canons))
			c.Canons = append(c.Canons, cn)
			return nil
		})
	case SectionImport:
		return readVec(r, "import", func() error {
			name, err := readExternName(r)
			if err != nil {
				return err
			}
			desc, err := readExternDesc(r)
			if err != nil {
				return fmt.Errorf("import %s: %w", name, err)
			}
			c.record(id, len(c.Imports))
			c.Imports = append(c.Imports, Import{Name: name, Desc: desc})
			return nil
		})
	case SectionExport:
		return readVec(r, "export", func() error {
			e, err := readExport(r)
			if err != nil {
				return err
			}
			c.record(id, len(c.Exports))
			c.Exports = append(c.Exports, e)
			return nil
		})
	default:
		return fmt.Errorf("unsupported section id %d", id)
	}
	return nil
}

func readVec(r *wasmbin.Reader, what string, each func() error) error {
	n, err := readCount(r, what)
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		if err := each(); err != nil {
			return fmt.Errorf("%s %d: %w", what, i, err)
		}
	}
	return nil
}

func readCoreInstance(r *wasmbin.Reader) (CoreInstance, error) {
	kind, err := r.ReadByte()
	if err != nil {
		return CoreInstance{}, fmt.Errorf("read kind: %w", err)
	}
	inst := CoreInstance{Kind: kind}

	switch kind {
	case InstanceInstantiate:
		if inst.Module, err = r.ReadU32(); err != nil {
			return CoreInstance{}, fmt.Errorf("read module index: %w", err)
		}
		err = readVec(r, "arg", func() error {
			name, err := r.ReadName()
			if err != nil {
				return err
			}
			sort, err := r.ReadByte()
			if err != nil {
				return err
			}
			if sort != CoreSortInstance {
				return fmt.Errorf("argument %s: expected instance sort, got 0x%02x", name, sort)
			}
			idx, err := r.ReadU32()
			if err != nil {
				return err
			}
			inst.Args = append(inst.Args, CoreInstanceArg{Name: name, Instance: idx})
			return nil
		})
	case InstanceFromExports:
		err = readVec(r, "export", func() error {
			name, err := r.ReadName()
			if err != nil {
				return err
			}
			sort, err := r.ReadByte()
			if err != nil {
				return err
			}
			idx, err := r.ReadU32()
			if err != nil {
				return err
			}
			inst.Exports = append(inst.Exports, CoreInstanceExport{Name: name, Sort: sort, Index: idx})
			return nil
		})
	default:
		return CoreInstance{}, fmt.Errorf("unknown core instance kind 0x%02x", kind)
	}
	if err != nil {
		return CoreInstance{}, err
	}
	return inst, nil
}

func readSortIndex(r *wasmbin.Reader) (SortIndex, error) {
	var si SortIndex
	var err error
	if si.Sort, err = r.ReadByte(); err != nil {
		return SortIndex{}, fmt.Errorf("read sort: %w", err)
	}
	if si.Sort == SortCore {
		if si.CoreSort, err = r.ReadByte(); err != nil {
			return SortIndex{}, fmt.Errorf("read core sort: %w", err)
		}
	}
	if si.Index, err = r.ReadU32(); err != nil {
		return SortIndex{}, fmt.Errorf("read sort index: %w", err)
	}
	return si, nil
}

func readInstance(r *wasmbin.Reader) (Instance, error) {
	kind, err := r.ReadByte()
	if err != nil {
		return Instance{}, fmt.Errorf("read kind: %w", err)
	}
	inst := Instance{Kind: kind}

	switch kind {
	case InstanceInstantiate:
		if inst.Component, err = r.ReadU32(); err != nil {
			return Instance{}, fmt.Errorf("read component index: %w", err)
		}
		err = readVec(r, "arg", func() error {
			name, err := r.ReadName()
			if err != nil {
				return err
			}
			si, err := readSortIndex(r)
			if err != nil {
				return fmt.Errorf("argument %s: %w", name, err)
			}
			si.Name = name
			inst.Args = append(inst.Args, si)
			return nil
		})
	case InstanceFromExports:
		err = readVec(r, "export", func() error {
			name, err := readExternName(r)
			if err != nil {
				return err
			}
			si, err := readSortIndex(r)
			if err != nil {
				return fmt.Errorf("export %s: %w", name, err)
			}
			si.Name = name
			inst.Exports = append(inst.Exports, si)
			return nil
		})
	default:
		return Instance{}, fmt.Errorf("unknown instance kind 0x%02x", kind)
	}
	if err != nil {
		return Instance{}, err
	}
	return inst, nil
}

func readAlias(r *wasmbin.Reader) (Alias, error) {
	var a Alias
	var err error
	if a.Sort, err = r.ReadByte(); err != nil {
		return Alias{}, fmt.Errorf("read sort: %w", err)
	}
	if a.Sort == SortCore {
		if a.CoreSort, err = r.ReadByte(); err != nil {
			return Alias{}, fmt.Errorf("read core:sort: %w", err)
		}
	}
	if a.Target, err = r.ReadByte(); err != nil {
		return Alias{}, fmt.Errorf("read target kind: %w", err)
	}

	switch a.Target {
	case AliasExport, AliasCoreExport:
		if a.Instance, err = r.ReadU32(); err != nil {
			return Alias{}, fmt.Errorf("read instance idx: %w", err)
		}
		if a.Name, err = r.ReadName(); err != nil {
			return Alias{}, err
		}
	case AliasOuter:
		if a.OuterCount, err = r.ReadU32(); err != nil {
			return Alias{}, fmt.Errorf("read outer count: %w", err)
		}
		if a.OuterIndex, err = r.ReadU32(); err != nil {
			return Alias{}, fmt.Errorf("read outer index: %w", err)
		}
	default:
		return Alias{}, fmt.Errorf("unknown target kind: 0x%02x", a.Target)
	}
	return a, nil
}

func readCanon(r *wasmbin.Reader) (Canon, error) {
	kind, err := r.ReadByte()
	if err != nil {
		return Canon{}, fmt.Errorf("read canon kind: %w", err)
	}
	c := Canon{Kind: kind}
	if kind != CanonLift && kind != CanonLower {
		return Canon{}, fmt.Errorf("unsupported canon kind 0x%02x", kind)
	}

	sub, err := r.ReadByte()
	if err != nil {
		return Canon{}, fmt.Errorf("read canon sub-kind: %w", err)
	}
	if sub != 0x00 {
		return Canon{}, fmt.Errorf("unknown canon sub-kind: 0x%02x", sub)
	}
	if c.FuncIndex, err = r.ReadU32(); err != nil {
		return Canon{}, fmt.Errorf("read func index: %w", err)
	}

	err = readVec(r, "option", func() error {
		opt, err := r.ReadByte()
		if err != nil {
			return err
		}
		o := CanonOption{Kind: opt}
		switch opt {
		case CanonOptUTF8, CanonOptUTF16, CanonOptCompactUTF16, CanonOptAsync:
		case CanonOptMemory, CanonOptRealloc, CanonOptPostReturn, CanonOptCallback:
			if o.Index, err = r.ReadU32(); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown canon option 0x%02x", opt)
		}
		c.Options = append(c.Options, o)
		return nil
	})
	if err != nil {
		return Canon{}, err
	}

	if kind == CanonLift {
		if c.TypeIndex, err = r.ReadU32(); err != nil {
			return Canon{}, fmt.Errorf("read type index: %w", err)
		}
	}
	return c, nil
}

func readExport(r *wasmbin.Reader) (Export, error) {
	name, err := readExternName(r)
	if err != nil {
		return Export{}, err
	}
	si, err := readSortIndex(r)
	if err != nil {
		return Export{}, fmt.Errorf("export %s: %w", name, err)
	}
	if si.Sort == SortCore && si.CoreSort != CoreSortModule {
		return Export{}, fmt.Errorf("export %s: only core modules may be exported from the core sort", name)
	}
	e := Export{Name: name, Sort: si.Sort, Index: si.Index}

	ascribed, err := r.ReadByte()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Export{}, fmt.Errorf("export %s: missing type ascription flag", name)
		}
		return Export{}, err
	}
	switch ascribed {
	case 0x00:
	case 0x01:
		desc, err := readExternDesc(r)
		if err != nil {
			return Export{}, fmt.Errorf("export %s: %w", name, err)
		}
		e.Desc = &desc
	default:
		return Export{}, fmt.Errorf("export %s: invalid type ascription flag 0x%02x", name, ascribed)
	}
	return e, nil
}
