package witmeta

import (
	"bytes"
	"fmt"

	"github.com/reconcilerio/static-config/component"
	"github.com/reconcilerio/static-config/internal/binary"
)

// Names of custom sections inside a component-type payload.
const (
	EncodingSection = "wit-component-encoding"
	ProcessedBy     = "processed-by"
)

// encodingMarker is the payload of the wit-component-encoding section:
// format version 4, UTF-8 strings.
var encodingMarker = []byte{0x04, 0x00}

// EncodeWorld encodes world as a component-type section payload: a component
// binary holding the world as a component type exported under its name,
// followed by the producers section when producers is not nil.
func EncodeWorld(world *World, producers *component.Producers) ([]byte, error) {
	ty, err := component.WorldType(world.Component())
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", world, err)
	}

	w := binary.NewWriter()
	w.WriteBytes(component.Preamble)
	w.Custom(EncodingSection, encodingMarker)
	w.Section(component.SectionType, func(s *binary.Writer) {
		s.WriteU32(1)
		s.WriteBytes(ty)
	})
	w.Section(component.SectionExport, func(s *binary.Writer) {
		s.WriteU32(1)
		s.Byte(0x00)
		s.WriteName(world.Name)
		s.Byte(component.SortType)
		s.WriteU32(0)
		s.Byte(0x00)
	})
	if producers != nil {
		w.Custom(component.ProducersSection, producers.Encode())
	}
	return bytes.Clone(w.Bytes()), nil
}

// Summary describes a component-type payload.
type Summary struct {
	Producers *component.Producers
	// World is the qualified name of the encoded world.
	World   string
	Imports []string
	Exports []string
}

// Describe decodes a component-type payload produced by EncodeWorld or by
// wit-component.
func Describe(payload []byte) (*Summary, error) {
	c, err := component.Decode(payload)
	if err != nil {
		return nil, err
	}
	if err := c.Check(); err != nil {
		return nil, err
	}
	if len(c.CoreModules) != 0 {
		return nil, fmt.Errorf("payload contains %d core modules", len(c.CoreModules))
	}

	s := &Summary{Producers: &component.Producers{}}
	if data, ok := c.CustomSection(component.ProducersSection); ok {
		if s.Producers, err = component.DecodeProducers(data); err != nil {
			return nil, fmt.Errorf("producers: %w", err)
		}
	}

	if len(c.Types) == 0 || c.Types[len(c.Types)-1].Kind != component.TypeComponent {
		return nil, fmt.Errorf("payload does not declare a world type")
	}
	outer := c.Types[len(c.Types)-1]
	exports := outer.Exports()
	if len(exports) != 1 || exports[0].Desc.Kind != component.ExternComponent {
		return nil, fmt.Errorf("world type must export exactly one component")
	}
	s.World = exports[0].Name

	// the exported component type is declared in the outer scope
	var types []*component.Type
	for _, d := range outer.Decls {
		if d.Kind == component.DeclType {
			types = append(types, d.Type)
		}
	}
	idx := exports[0].Desc.Index
	if int(idx) >= len(types) || types[idx].Kind != component.TypeComponent {
		return nil, fmt.Errorf("world %s: type %d is not a component type", s.World, idx)
	}
	for _, d := range types[idx].Decls {
		switch d.Kind {
		case component.DeclImport:
			s.Imports = append(s.Imports, d.Name)
		case component.DeclExport:
			s.Exports = append(s.Exports, d.Name)
		}
	}
	return s, nil
}
