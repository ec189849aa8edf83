package wasm

import (
	"fmt"
	"slices"

	"github.com/reconcilerio/static-config/internal/binary"
)

// parseGlobalNames extracts the global name map from a name section payload.
// Other subsections are skipped.
func parseGlobalNames(data []byte) (map[GlobalID]string, error) {
	names := make(map[GlobalID]string)
	r := binary.NewReader(data)

	for r.Len() > 0 {
		id, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		size, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		payload, err := r.ReadBytes(int(size))
		if err != nil {
			return nil, fmt.Errorf("subsection %d: %w", id, err)
		}
		if id != NameSubsectionGlobal {
			continue
		}

		sr := binary.NewReader(payload)
		count, err := sr.ReadU32()
		if err != nil {
			return nil, err
		}
		for i := uint32(0); i < count; i++ {
			idx, err := sr.ReadU32()
			if err != nil {
				return nil, err
			}
			name, err := sr.ReadName()
			if err != nil {
				return nil, err
			}
			names[GlobalID(idx)] = name
		}
	}

	return names, nil
}

// EncodeGlobalNames builds a name section payload holding only a global
// names subsection.
func EncodeGlobalNames(names map[GlobalID]string) []byte {
	ids := make([]GlobalID, 0, len(names))
	for id := range names {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	w := binary.NewWriter()
	w.Section(NameSubsectionGlobal, func(sub *binary.Writer) {
		sub.WriteU32(uint32(len(ids)))
		for _, id := range ids {
			sub.WriteU32(uint32(id))
			sub.WriteName(names[id])
		}
	})
	return w.Bytes()
}
