// Package wasm provides an editable model of a WebAssembly core module's
// static structure.
//
// The model decodes only what the configuration engine edits or inspects:
// imports, memories, globals, exports, data segments and custom sections
// (including global names from the name section). Every other section is kept
// as raw bytes and re-emitted in its original position, so an unmodified
// module round-trips byte-for-byte when its LEB128 encodings are minimal.
//
// # Parsing
//
//	m, err := wasm.Parse(data)
//	if err != nil {
//	    return err // *errors.Error with Kind KindFormat
//	}
//
// # Editing
//
// Data segments, globals and custom sections are addressed by stable ids:
//
//	id, ok := m.GlobalByName("__stack_pointer")
//	g, _ := m.Global(id)
//	sp, _ := g.ConstI32()
//	g.SetConstI32(sp - 64)
//
//	for _, cs := range m.CustomSectionsByPrefix("component-type:") {
//	    m.RemoveCustomSection(cs.ID)
//	}
//
// # Encoding
//
//	out := m.Encode()
package wasm
