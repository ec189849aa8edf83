package wasm

import (
	"bytes"
	"strings"

	staticerrors "github.com/reconcilerio/static-config/errors"
)

// Segments returns the ids of all data segments in section order.
func (m *Module) Segments() []SegmentID {
	ids := make([]SegmentID, len(m.Data))
	for i := range m.Data {
		ids[i] = SegmentID(i)
	}
	return ids
}

// Segment returns the data segment with the given id.
func (m *Module) Segment(id SegmentID) (*DataSegment, bool) {
	if int(id) >= len(m.Data) {
		return nil, false
	}
	return &m.Data[id], true
}

// NumImportedGlobals returns the number of imported globals.
// Defined globals are numbered after them.
func (m *Module) NumImportedGlobals() int {
	return m.countImports(KindGlobal)
}

// NumImportedMemories returns the number of imported memories.
func (m *Module) NumImportedMemories() int {
	return m.countImports(KindMemory)
}

func (m *Module) countImports(kind byte) int {
	n := 0
	for _, imp := range m.Imports {
		if imp.Kind == kind {
			n++
		}
	}
	return n
}

// Global returns the defined global with the given absolute index.
// Imported globals have no initializer and are not returned.
func (m *Module) Global(id GlobalID) (*Global, bool) {
	imported := m.NumImportedGlobals()
	if int(id) < imported {
		return nil, false
	}
	idx := int(id) - imported
	if idx >= len(m.Globals) {
		return nil, false
	}
	return &m.Globals[idx], true
}

// GlobalByName resolves a global through the name section, falling back to a
// global export with the same name.
func (m *Module) GlobalByName(name string) (GlobalID, bool) {
	found := false
	var best GlobalID
	for id, n := range m.globalNames {
		if n == name && (!found || id < best) {
			best, found = id, true
		}
	}
	if found {
		return best, true
	}
	if e, ok := m.Export(name); ok && e.Kind == KindGlobal {
		return GlobalID(e.Idx), true
	}
	return 0, false
}

// GlobalName returns the debug name of a global, if any.
func (m *Module) GlobalName(id GlobalID) (string, bool) {
	name, ok := m.globalNames[id]
	return name, ok
}

// IsImportedGlobal reports whether id refers to an imported global.
func (m *Module) IsImportedGlobal(id GlobalID) bool {
	return int(id) < m.NumImportedGlobals()
}

// Export returns the export with the given name.
func (m *Module) Export(name string) (*Export, bool) {
	for i := range m.Exports {
		if m.Exports[i].Name == name {
			return &m.Exports[i], true
		}
	}
	return nil, false
}

// CustomSections returns all live custom sections in emission order.
func (m *Module) CustomSections() []CustomSection {
	out := make([]CustomSection, len(m.customs))
	copy(out, m.customs)
	return out
}

// CustomSection returns the custom section with the given id.
func (m *Module) CustomSection(id CustomID) (CustomSection, bool) {
	for _, cs := range m.customs {
		if cs.ID == id {
			return cs, true
		}
	}
	return CustomSection{}, false
}

// CustomSectionByName returns the first custom section named exactly name.
func (m *Module) CustomSectionByName(name string) (CustomSection, bool) {
	for _, cs := range m.customs {
		if cs.Name == name {
			return cs, true
		}
	}
	return CustomSection{}, false
}

// CustomSectionsByPrefix returns every custom section whose name starts with prefix.
func (m *Module) CustomSectionsByPrefix(prefix string) []CustomSection {
	var out []CustomSection
	for _, cs := range m.customs {
		if strings.HasPrefix(cs.Name, prefix) {
			out = append(out, cs)
		}
	}
	return out
}

// AddCustomSection appends a custom section and returns its id.
func (m *Module) AddCustomSection(name string, data []byte) CustomID {
	return m.addCustom(name, bytes.Clone(data))
}

func (m *Module) addCustom(name string, data []byte) CustomID {
	id := m.nextCustom
	m.nextCustom++
	m.customs = append(m.customs, CustomSection{ID: id, Name: name, Data: data})
	return id
}

// RemoveCustomSection deletes a custom section. It reports whether the
// section existed.
func (m *Module) RemoveCustomSection(id CustomID) bool {
	for i, cs := range m.customs {
		if cs.ID == id {
			m.customs = append(m.customs[:i], m.customs[i+1:]...)
			return true
		}
	}
	return false
}

// Validate performs structural checks the engine relies on. Full validation
// is left to the runtime that compiles the module. Failures are encoding
// errors in the finalize phase.
func (m *Module) Validate() error {
	memories := m.NumImportedMemories() + len(m.Memories)
	for i := range m.Data {
		d := &m.Data[i]
		if d.Active() && int(d.MemIdx) >= memories {
			return staticerrors.New(staticerrors.PhaseFinalize, staticerrors.KindEncoding).
				Segment(uint32(i)).
				Detail("memory index %d out of range", d.MemIdx).
				Build()
		}
	}

	globals := m.NumImportedGlobals() + len(m.Globals)
	for _, e := range m.Exports {
		if e.Kind == KindGlobal && int(e.Idx) >= globals {
			return staticerrors.New(staticerrors.PhaseFinalize, staticerrors.KindEncoding).
				Global(e.Name).
				Detail("export %q: global index %d out of range", e.Name, e.Idx).
				Build()
		}
		if e.Kind == KindMemory && int(e.Idx) >= memories {
			return staticerrors.Encoding(staticerrors.PhaseFinalize, nil,
				"export %q: memory index %d out of range", e.Name, e.Idx)
		}
	}

	seen := make(map[string]bool, len(m.Exports))
	for _, e := range m.Exports {
		if seen[e.Name] {
			return staticerrors.Encoding(staticerrors.PhaseFinalize, nil, "duplicate export %q", e.Name)
		}
		seen[e.Name] = true
	}
	return nil
}
