package wasm

import (
	"errors"
	"fmt"
	"io"

	staticerrors "github.com/reconcilerio/static-config/errors"
	"github.com/reconcilerio/static-config/internal/binary"
)

// Parsing errors returned by Parse, wrapped in a format error.
var (
	ErrInvalidMagic   = errors.New("invalid wasm magic number")
	ErrInvalidVersion = errors.New("invalid wasm version")
)

// Parse decodes a core module. The returned Module owns copies of every byte
// it keeps, so data may be shared between concurrent callers.
func Parse(data []byte) (*Module, error) {
	m, err := parse(data)
	if err != nil {
		var se *staticerrors.Error
		if errors.As(err, &se) {
			return nil, err
		}
		return nil, staticerrors.ParseFailed("core module", err)
	}
	return m, nil
}

func parse(data []byte) (*Module, error) {
	r := binary.NewReader(data)

	magic, err := r.ReadU32LE()
	if err != nil {
		return nil, r.WrapError("header", err)
	}
	if magic != Magic {
		return nil, ErrInvalidMagic
	}
	version, err := r.ReadU32LE()
	if err != nil {
		return nil, r.WrapError("header", err)
	}
	if version != Version {
		return nil, ErrInvalidVersion
	}

	m := &Module{}
	var lastSectionOrder int

	for {
		sectionID, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, r.WrapError("section header", err)
		}

		if sectionID != SectionCustom {
			order := sectionOrder(sectionID)
			if order == 0 {
				return nil, fmt.Errorf("unknown section ID: 0x%02x", sectionID)
			}
			if order <= lastSectionOrder {
				return nil, fmt.Errorf("section %d appears out of order", sectionID)
			}
			lastSectionOrder = order
		}

		sectionSize, err := r.ReadU32()
		if err != nil {
			return nil, r.WrapError("section size", err)
		}
		sectionData, err := r.ReadBytes(int(sectionSize))
		if err != nil {
			return nil, r.WrapError("section data", err)
		}

		sec := section{id: sectionID}
		sr := binary.NewReader(sectionData)

		switch sectionID {
		case SectionCustom:
			id, err := parseCustomSection(sr, m)
			if err != nil {
				return nil, fmt.Errorf("custom section: %w", err)
			}
			sec.custom = id
		case SectionImport:
			if err := parseImportSection(sr, m); err != nil {
				return nil, fmt.Errorf("import section: %w", err)
			}
			sec.raw = sectionData
		case SectionMemory:
			if err := parseMemorySection(sr, m); err != nil {
				return nil, fmt.Errorf("memory section: %w", err)
			}
			sec.raw = sectionData
		case SectionGlobal:
			if err := parseGlobalSection(sr, m); err != nil {
				return nil, fmt.Errorf("global section: %w", err)
			}
		case SectionExport:
			if err := parseExportSection(sr, m); err != nil {
				return nil, fmt.Errorf("export section: %w", err)
			}
		case SectionData:
			if err := parseDataSection(sr, m); err != nil {
				return nil, fmt.Errorf("data section: %w", err)
			}
		default:
			sec.raw = sectionData
		}

		if sectionID != SectionCustom && sec.raw == nil && sr.Len() > 0 {
			return nil, fmt.Errorf("section %d has %d trailing bytes", sectionID, sr.Len())
		}

		m.sections = append(m.sections, sec)
	}

	if cs, ok := m.CustomSectionByName(CustomSectionName); ok {
		names, err := parseGlobalNames(cs.Data)
		if err != nil {
			return nil, fmt.Errorf("name section: %w", err)
		}
		m.globalNames = names
	}

	return m, nil
}

// sectionOrder returns the canonical ordering for a section ID, 0 if unknown.
func sectionOrder(id byte) int {
	switch id {
	case SectionType:
		return 1
	case SectionImport:
		return 2
	case SectionFunction:
		return 3
	case SectionTable:
		return 4
	case SectionMemory:
		return 5
	case SectionTag:
		return 6 // Tag comes after Memory, before Global
	case SectionGlobal:
		return 7
	case SectionExport:
		return 8
	case SectionStart:
		return 9
	case SectionElement:
		return 10
	case SectionDataCount:
		return 11 // DataCount must come before Code
	case SectionCode:
		return 12
	case SectionData:
		return 13
	default:
		return 0
	}
}

func parseCustomSection(r *binary.Reader, m *Module) (CustomID, error) {
	name, err := r.ReadName()
	if err != nil {
		return 0, err
	}
	rest, err := r.ReadRemaining()
	if err != nil {
		return 0, err
	}
	return m.addCustom(name, rest), nil
}

func parseImportSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Imports = make([]Import, 0, min(count, uint32(r.Len())))
	for i := uint32(0); i < count; i++ {
		module, err := r.ReadName()
		if err != nil {
			return err
		}
		name, err := r.ReadName()
		if err != nil {
			return err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}

		imp := Import{Module: module, Name: name, Kind: kind}

		switch kind {
		case KindFunc:
			if _, err := r.ReadU32(); err != nil {
				return err
			}
		case KindTable:
			if err := skipTableType(r); err != nil {
				return err
			}
		case KindMemory:
			memory, err := readMemoryType(r)
			if err != nil {
				return err
			}
			imp.Memory = &memory
		case KindGlobal:
			global, err := readGlobalType(r)
			if err != nil {
				return err
			}
			imp.Global = &global
		case KindTag:
			if _, err := r.ReadByte(); err != nil {
				return err
			}
			if _, err := r.ReadU32(); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown import kind: %d", kind)
		}

		m.Imports = append(m.Imports, imp)
	}
	return nil
}

func parseMemorySection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Memories = make([]MemoryType, 0, min(count, uint32(r.Len())))
	for i := uint32(0); i < count; i++ {
		mem, err := readMemoryType(r)
		if err != nil {
			return err
		}
		m.Memories = append(m.Memories, mem)
	}
	return nil
}

func parseGlobalSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Globals = make([]Global, 0, min(count, uint32(r.Len())))
	for i := uint32(0); i < count; i++ {
		globalType, err := readGlobalType(r)
		if err != nil {
			return err
		}
		init, err := readInitExpr(r)
		if err != nil {
			return err
		}
		m.Globals = append(m.Globals, Global{
			Type: globalType,
			Init: init,
		})
	}
	return nil
}

func parseExportSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Exports = make([]Export, 0, min(count, uint32(r.Len())))
	for i := uint32(0); i < count; i++ {
		name, err := r.ReadName()
		if err != nil {
			return err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}
		if kind > KindTag {
			return fmt.Errorf("invalid export kind: 0x%02x", kind)
		}
		idx, err := r.ReadU32()
		if err != nil {
			return err
		}
		m.Exports = append(m.Exports, Export{Name: name, Kind: kind, Idx: idx})
	}
	return nil
}

func parseDataSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Data = make([]DataSegment, 0, min(count, uint32(r.Len())))
	for i := uint32(0); i < count; i++ {
		flags, err := r.ReadU32()
		if err != nil {
			return err
		}
		if flags > DataActiveExplicit {
			return fmt.Errorf("invalid data segment flags: %d", flags)
		}

		seg := DataSegment{Flags: flags}

		if flags == DataActiveExplicit {
			seg.MemIdx, err = r.ReadU32()
			if err != nil {
				return err
			}
		}

		if flags != DataPassive {
			seg.Offset, err = readInitExpr(r)
			if err != nil {
				return err
			}
		}

		initLen, err := r.ReadU32()
		if err != nil {
			return err
		}
		seg.Init, err = r.ReadBytes(int(initLen))
		if err != nil {
			return err
		}

		m.Data = append(m.Data, seg)
	}
	return nil
}

func readLimits(r *binary.Reader) (Limits, error) {
	flags, err := r.ReadByte()
	if err != nil {
		return Limits{}, err
	}

	l := Limits{
		Shared:   flags&LimitsShared != 0,
		Memory64: flags&LimitsMemory64 != 0,
	}

	read := func() (uint64, error) {
		if l.Memory64 {
			return r.ReadU64()
		}
		v, err := r.ReadU32()
		return uint64(v), err
	}

	if l.Min, err = read(); err != nil {
		return Limits{}, err
	}
	if flags&LimitsHasMax != 0 {
		maxVal, err := read()
		if err != nil {
			return Limits{}, err
		}
		l.Max = &maxVal
	}
	return l, nil
}

func skipTableType(r *binary.Reader) error {
	elemType, err := r.ReadByte()
	if err != nil {
		return err
	}
	if elemType == byte(ValRefNull) || elemType == byte(ValRef) {
		if err := copyLEB128(r, nil); err != nil {
			return err
		}
	}
	_, err = readLimits(r)
	return err
}

func readMemoryType(r *binary.Reader) (MemoryType, error) {
	limits, err := readLimits(r)
	if err != nil {
		return MemoryType{}, err
	}
	return MemoryType{Limits: limits}, nil
}

func readGlobalType(r *binary.Reader) (GlobalType, error) {
	valType, err := r.ReadByte()
	if err != nil {
		return GlobalType{}, err
	}
	gt := GlobalType{ValType: ValType(valType)}

	if valType == byte(ValRefNull) || valType == byte(ValRef) {
		var heap []byte
		if err := copyLEB128(r, &heap); err != nil {
			return GlobalType{}, err
		}
		gt.HeapType = heap
	}

	mut, err := r.ReadByte()
	if err != nil {
		return GlobalType{}, err
	}
	gt.Mutable = mut != 0
	return gt, nil
}

// readInitExpr copies a constant expression up to and including its end opcode.
func readInitExpr(r *binary.Reader) ([]byte, error) {
	var buf []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		buf = append(buf, b)
		if b == OpEnd {
			return buf, nil
		}
		if err := copyInitExprImmediate(r, &buf, b); err != nil {
			return nil, err
		}
	}
}

func copyInitExprImmediate(r *binary.Reader, buf *[]byte, opcode byte) error {
	switch opcode {
	case OpI32Const, OpI64Const, OpGlobalGet, OpRefNull, OpRefFunc:
		return copyLEB128(r, buf)
	case OpF32Const:
		return copyBytes(r, buf, 4)
	case OpF64Const:
		return copyBytes(r, buf, 8)
	case OpI32Add, OpI32Sub, OpI32Mul, OpI64Add, OpI64Sub, OpI64Mul:
		return nil
	case OpPrefixSIMD:
		subOp, err := r.ReadU32()
		if err != nil {
			return err
		}
		w := binary.NewWriter()
		w.WriteU32(subOp)
		*buf = append(*buf, w.Bytes()...)
		if subOp == SimdV128Const {
			return copyBytes(r, buf, 16)
		}
		return fmt.Errorf("unsupported SIMD opcode %d in constant expression", subOp)
	default:
		return fmt.Errorf("unsupported opcode 0x%02x in constant expression", opcode)
	}
}

// copyLEB128 copies one LEB128 value; buf may be nil to skip it.
func copyLEB128(r *binary.Reader, buf *[]byte) error {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		if buf != nil {
			*buf = append(*buf, b)
		}
		if b&0x80 == 0 {
			return nil
		}
	}
}

func copyBytes(r *binary.Reader, buf *[]byte, n int) error {
	data, err := r.ReadBytes(n)
	if err != nil {
		return err
	}
	*buf = append(*buf, data...)
	return nil
}
