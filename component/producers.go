package component

import (
	"fmt"

	"github.com/reconcilerio/static-config/internal/binary"
)

// ProducersSection is the name of the custom section recording the tools
// that produced a binary.
const ProducersSection = "producers"

// Producer names one tool and its version.
type Producer struct {
	Name    string
	Version string
}

// ProducerField is one field of a producers section, such as "language" or
// "processed-by".
type ProducerField struct {
	Name   string
	Values []Producer
}

// Producers is the payload of a producers custom section.
type Producers struct {
	Fields []ProducerField
}

// Add records a producer under field, replacing the version of an existing
// entry with the same name.
func (p *Producers) Add(field, name, version string) {
	for i := range p.Fields {
		f := &p.Fields[i]
		if f.Name != field {
			continue
		}
		for j := range f.Values {
			if f.Values[j].Name == name {
				f.Values[j].Version = version
				return
			}
		}
		f.Values = append(f.Values, Producer{Name: name, Version: version})
		return
	}
	p.Fields = append(p.Fields, ProducerField{Name: field, Values: []Producer{{Name: name, Version: version}}})
}

// Get returns the version recorded for name under field.
func (p *Producers) Get(field, name string) (string, bool) {
	for _, f := range p.Fields {
		if f.Name != field {
			continue
		}
		for _, v := range f.Values {
			if v.Name == name {
				return v.Version, true
			}
		}
	}
	return "", false
}

// Encode returns the section payload.
func (p *Producers) Encode() []byte {
	w := binary.NewWriter()
	w.WriteU32(uint32(len(p.Fields)))
	for _, f := range p.Fields {
		w.WriteName(f.Name)
		w.WriteU32(uint32(len(f.Values)))
		for _, v := range f.Values {
			w.WriteName(v.Name)
			w.WriteName(v.Version)
		}
	}
	return w.Bytes()
}

// DecodeProducers parses a producers section payload.
func DecodeProducers(data []byte) (*Producers, error) {
	r := binary.NewReader(data)
	p := &Producers{}
	err := readVec(r, "producers field", func() error {
		name, err := r.ReadName()
		if err != nil {
			return err
		}
		f := ProducerField{Name: name}
		err = readVec(r, "producer", func() error {
			var v Producer
			var err error
			if v.Name, err = r.ReadName(); err != nil {
				return err
			}
			if v.Version, err = r.ReadName(); err != nil {
				return err
			}
			f.Values = append(f.Values, v)
			return nil
		})
		if err != nil {
			return fmt.Errorf("field %s: %w", name, err)
		}
		p.Fields = append(p.Fields, f)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if r.Len() > 0 {
		return nil, fmt.Errorf("producers: %d trailing bytes", r.Len())
	}
	return p, nil
}
