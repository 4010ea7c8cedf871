package protocol

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
)

type SchemaEntry struct {
	Name string `json:"name"`
	ID   TypeID `json:"id"`
}

// Schema is the name to id assignment a server hands to its clients.
type Schema struct {
	Entries []SchemaEntry `json:"entries"`
}

// NewSchema returns a schema with entries ordered by id.
func NewSchema(entries []SchemaEntry) Schema {
	sorted := make([]SchemaEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	return Schema{Entries: sorted}
}

// Validate rejects schemas that assign one id or one name twice.
func (s Schema) Validate() error {
	ids := make(map[TypeID]string, len(s.Entries))
	names := make(map[string]struct{}, len(s.Entries))
	for _, e := range s.Entries {
		if prev, ok := ids[e.ID]; ok {
			return fmt.Errorf("%w: id %d assigned to %q and %q", ErrInvalidFrame, e.ID, prev, e.Name)
		}
		if _, ok := names[e.Name]; ok {
			return fmt.Errorf("%w: name %q assigned twice", ErrInvalidFrame, e.Name)
		}
		ids[e.ID] = e.Name
		names[e.Name] = struct{}{}
	}
	return nil
}

// Fingerprint hashes the canonical (id ordered) form of the schema. Two
// endpoints with equal fingerprints agree on every type id.
func (s Schema) Fingerprint() uint64 {
	canonical := NewSchema(s.Entries)
	d := xxhash.New()
	var id [2]byte
	for _, e := range canonical.Entries {
		binary.BigEndian.PutUint16(id[:], uint16(e.ID))
		_, _ = d.Write(id[:])
		_, _ = d.WriteString(e.Name)
		_, _ = d.Write([]byte{0})
	}
	return d.Sum64()
}

func (s Schema) Len() int {
	return len(s.Entries)
}
