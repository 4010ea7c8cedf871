package protocol

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// Registry is the universe of message types an endpoint understands. It maps
// wire type ids to Go types and back, and builds fresh values for decoding.
//
// A type's id starts out as its MessageType() value. A client adopting the
// server's Schema may remap ids by name; after that the registry, not
// MessageType(), is authoritative for the wire.
type Registry struct {
	mu     sync.RWMutex
	byID   map[TypeID]reflect.Type
	byType map[reflect.Type]TypeID
	byName map[string]reflect.Type
}

func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[TypeID]reflect.Type),
		byType: make(map[reflect.Type]TypeID),
		byName: make(map[string]reflect.Type),
	}
}

// NameOf returns the schema name of a message type.
func NameOf(t reflect.Type) string {
	if t.Implements(namedType) {
		v := reflect.Zero(t)
		if t.Kind() == reflect.Pointer {
			v = reflect.New(t.Elem())
		}
		return v.Interface().(Named).MessageName()
	}
	if t.Kind() == reflect.Pointer {
		return t.Elem().String()
	}
	return t.String()
}

var namedType = reflect.TypeFor[Named]()

// Register adds the type of proto under proto.MessageType().
func (r *Registry) Register(proto Message) error {
	if proto == nil {
		return fmt.Errorf("%w: nil prototype", ErrUnregisteredType)
	}
	t := reflect.TypeOf(proto)
	id := proto.MessageType()
	name := NameOf(t)

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byID[id]; ok {
		return fmt.Errorf("%w: id %d already used by %s", ErrDuplicateMessageType, id, existing)
	}
	if _, ok := r.byType[t]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateMessageType, t)
	}
	if existing, ok := r.byName[name]; ok {
		return fmt.Errorf("%w: name %q already used by %s", ErrDuplicateMessageType, name, existing)
	}

	r.byID[id] = t
	r.byType[t] = id
	r.byName[name] = t
	return nil
}

// MustRegister registers every prototype and panics on the first error. It is
// meant for package init and test setup.
func (r *Registry) MustRegister(protos ...Message) {
	for _, p := range protos {
		if err := r.Register(p); err != nil {
			panic(err)
		}
	}
}

// Lookup returns the Go type registered under id.
func (r *Registry) Lookup(id TypeID) (reflect.Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byID[id]
	return t, ok
}

// IDOf returns the wire id of a registered Go type.
func (r *Registry) IDOf(t reflect.Type) (TypeID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byType[t]
	return id, ok
}

// Contains reports whether t is a registered message type.
func (r *Registry) Contains(t reflect.Type) bool {
	_, ok := r.IDOf(t)
	return ok
}

// Types returns every registered type ordered by wire id.
func (r *Registry) Types() []reflect.Type {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]TypeID, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]reflect.Type, len(ids))
	for i, id := range ids {
		out[i] = r.byID[id]
	}
	return out
}

// Len returns the number of registered types.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// New returns a pointer to a fresh zero value suitable for unmarshalling, and
// a function turning that pointer into the Message value of the registered
// type.
func (r *Registry) New(id TypeID) (target any, finish func() Message, err error) {
	t, ok := r.Lookup(id)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %d", ErrUnknownMessageType, id)
	}

	if t.Kind() == reflect.Pointer {
		v := reflect.New(t.Elem())
		return v.Interface(), func() Message { return v.Interface().(Message) }, nil
	}
	v := reflect.New(t)
	return v.Interface(), func() Message { return v.Elem().Interface().(Message) }, nil
}

// Schema describes the current id assignment.
func (r *Registry) Schema() Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]SchemaEntry, 0, len(r.byID))
	for id, t := range r.byID {
		entries = append(entries, SchemaEntry{Name: NameOf(t), ID: id})
	}
	return NewSchema(entries)
}

// AdoptReport summarises a schema adoption.
type AdoptReport struct {
	Remapped int
	// Missing lists local types the remote schema does not know. They stay
	// registered under their local id only when that id is still free.
	Missing []string
	// Unknown lists remote names with no local type.
	Unknown []string
}

// Adopt replaces the id assignment with the one described by s, matching types
// by name.
func (r *Registry) Adopt(s Schema) (AdoptReport, error) {
	if err := s.Validate(); err != nil {
		return AdoptReport{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var report AdoptReport
	byID := make(map[TypeID]reflect.Type, len(r.byID))
	byType := make(map[reflect.Type]TypeID, len(r.byType))

	for _, e := range s.Entries {
		t, ok := r.byName[e.Name]
		if !ok {
			report.Unknown = append(report.Unknown, e.Name)
			continue
		}
		if r.byType[t] != e.ID {
			report.Remapped++
		}
		byID[e.ID] = t
		byType[t] = e.ID
	}

	for name, t := range r.byName {
		if _, ok := byType[t]; ok {
			continue
		}
		report.Missing = append(report.Missing, name)
		id := r.byType[t]
		if _, taken := byID[id]; !taken {
			byID[id] = t
			byType[t] = id
		}
	}
	sort.Strings(report.Missing)

	r.byID = byID
	r.byType = byType
	return report, nil
}
