package witmeta

import (
	"strings"

	"github.com/reconcilerio/static-config/component"
	staticerrors "github.com/reconcilerio/static-config/errors"
	"github.com/reconcilerio/static-config/wasm"
)

// Tool is the name recorded under processed-by.
const Tool = "static-config"

// ComponentTypePrefix prefixes the names of component-type custom sections.
const ComponentTypePrefix = "component-type:"

// Metadata is the component-type section written by Reattach.
type Metadata struct {
	World   *World
	Name    string
	Payload []byte
	ID      wasm.CustomID
}

// Reattach replaces the component-type section of m with one advertising
// only world and recording version under processed-by. Producers recorded in
// the previous section are kept. m must carry exactly one component-type
// section whose payload is a component binary; nothing but custom sections
// is touched.
func Reattach(m *wasm.Module, world *World, version string) (*Metadata, error) {
	var found []wasm.CustomSection
	for _, cs := range m.CustomSectionsByPrefix(ComponentTypePrefix) {
		if component.IsComponent(cs.Data) {
			found = append(found, cs)
		}
	}
	switch len(found) {
	case 0:
		return nil, staticerrors.Format(staticerrors.PhaseMetadata, "no %s* custom section in template", ComponentTypePrefix)
	case 1:
	default:
		var names []string
		for _, cs := range found {
			names = append(names, cs.Name)
		}
		return nil, staticerrors.Format(staticerrors.PhaseMetadata,
			"template has %d component-type sections (%s), expected one", len(found), strings.Join(names, ", "))
	}
	old := found[0]

	producers := previousProducers(old.Data)
	producers.Add(ProcessedBy, Tool, version)

	payload, err := EncodeWorld(world, producers)
	if err != nil {
		return nil, staticerrors.New(staticerrors.PhaseMetadata, staticerrors.KindEncoding).
			Detail("encode %s", world).
			Cause(err).
			Build()
	}

	m.RemoveCustomSection(old.ID)
	id := m.AddCustomSection(old.Name, payload)

	return &Metadata{World: world, Name: old.Name, Payload: payload, ID: id}, nil
}

// previousProducers returns the producers recorded in a component-type
// payload, or an empty set when it has none or cannot be decoded.
func previousProducers(payload []byte) *component.Producers {
	c, err := component.Decode(payload)
	if err != nil {
		return &component.Producers{}
	}
	data, ok := c.CustomSection(component.ProducersSection)
	if !ok {
		return &component.Producers{}
	}
	p, err := component.DecodeProducers(data)
	if err != nil {
		return &component.Producers{}
	}
	return p
}
