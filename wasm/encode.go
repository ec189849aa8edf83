package wasm

import (
	"bytes"

	"github.com/reconcilerio/static-config/internal/binary"
)

// Encode serializes the module. Sections that the model does not decode are
// emitted byte-for-byte; removed custom sections are dropped and added ones are
// appended after the last section.
func (m *Module) Encode() []byte {
	w := binary.NewWriter()
	w.WriteU32LE(Magic)
	w.WriteU32LE(Version)

	emitted := make(map[CustomID]bool, len(m.customs))

	for _, sec := range m.sections {
		switch sec.id {
		case SectionCustom:
			cs, ok := m.CustomSection(sec.custom)
			if !ok {
				continue
			}
			emitted[cs.ID] = true
			w.Custom(cs.Name, cs.Data)
		case SectionGlobal:
			w.Section(SectionGlobal, m.encodeGlobals)
		case SectionExport:
			w.Section(SectionExport, m.encodeExports)
		case SectionDataCount:
			w.Section(SectionDataCount, func(sec *binary.Writer) {
				sec.WriteU32(uint32(len(m.Data)))
			})
		case SectionData:
			w.Section(SectionData, m.encodeData)
		default:
			w.Byte(sec.id)
			w.WriteVec(sec.raw)
		}
	}

	for _, cs := range m.customs {
		if !emitted[cs.ID] {
			w.Custom(cs.Name, cs.Data)
		}
	}

	return bytes.Clone(w.Bytes())
}

func (m *Module) encodeGlobals(w *binary.Writer) {
	w.WriteU32(uint32(len(m.Globals)))
	for _, g := range m.Globals {
		w.Byte(byte(g.Type.ValType))
		w.WriteBytes(g.Type.HeapType)
		if g.Type.Mutable {
			w.Byte(1)
		} else {
			w.Byte(0)
		}
		w.WriteBytes(g.Init)
	}
}

func (m *Module) encodeExports(w *binary.Writer) {
	w.WriteU32(uint32(len(m.Exports)))
	for _, e := range m.Exports {
		w.WriteName(e.Name)
		w.Byte(e.Kind)
		w.WriteU32(e.Idx)
	}
}

func (m *Module) encodeData(w *binary.Writer) {
	w.WriteU32(uint32(len(m.Data)))
	for _, d := range m.Data {
		w.WriteU32(d.Flags)
		if d.Flags == DataActiveExplicit {
			w.WriteU32(d.MemIdx)
		}
		if d.Flags != DataPassive {
			w.WriteBytes(d.Offset)
		}
		w.WriteVec(d.Init)
	}
}
