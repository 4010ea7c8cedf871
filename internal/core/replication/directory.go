package replication

import (
	"errors"
	"fmt"
	"maps"

	"github.com/zeusync/replinet/internal/core/ident"
	"github.com/zeusync/replinet/internal/core/observability/log"
	"github.com/zeusync/replinet/internal/core/protocol"
	"github.com/zeusync/replinet/pkg/sequence"
)

var (
	ErrIdentifierConflict = errors.New("identifier already in use")
	ErrAlreadyRegistered  = errors.New("entity already registered")
	ErrUnknownEntity      = errors.New("entity not registered")
	ErrSpawnFailed        = errors.New("spawn produced no entity")
)

// RemovalFunc tells a group's subscribers that entities are gone.
type RemovalFunc func(group Group, ids []ident.ID) error

// ServerDirectory owns the authoritative id to entity table and the allocators
// behind it. Dynamic identifiers come from ids; static identifiers below its
// minimum are tracked by a second allocator so they can never collide.
// It is used from the server tick goroutine only.
type ServerDirectory struct {
	ids      *ident.Allocator
	statics  *ident.Allocator
	world    Group
	entities map[ident.ID]Entity
	notify   RemovalFunc
	logger   log.Log
}

func NewServerDirectory(ids *ident.Allocator, world Group, notify RemovalFunc, logger log.Log) *ServerDirectory {
	if logger == nil {
		logger = log.Provide()
	}
	return &ServerDirectory{
		ids:      ids,
		statics:  ident.NewAllocator(1),
		world:    world,
		entities: make(map[ident.ID]Entity),
		notify:   notify,
		logger:   logger.With(log.String("component", "directory"), log.String("side", "server")),
	}
}

func (d *ServerDirectory) Allocator() *ident.Allocator {
	return d.ids
}

// Register gives e an identifier and adds it. A static identifier is honoured
// or the call fails with ErrIdentifierConflict; otherwise the lowest free
// dynamic identifier is allocated.
func (d *ServerDirectory) Register(e Entity) (ident.ID, error) {
	if current := e.ID(); current != ident.None {
		if existing, ok := d.entities[current]; ok && existing == e {
			return current, fmt.Errorf("%w: %s", ErrAlreadyRegistered, current)
		}
	}

	var id ident.ID
	if static := e.StaticID(); static != ident.None {
		if !d.allocatorFor(static).TryAssign(static) {
			return ident.None, fmt.Errorf("%w: static %s", ErrIdentifierConflict, static)
		}
		id = static
	} else {
		allocated, err := d.ids.Allocate()
		if err != nil {
			return ident.None, err
		}
		id = allocated
	}

	d.entities[id] = e
	e.SetID(id)
	d.logger.Debug("Entity registered", log.Uint32("id", uint32(id)))
	return id, nil
}

// Unregister notifies e's group, removes e and frees its identifier.
func (d *ServerDirectory) Unregister(e Entity) error {
	id := e.ID()
	if existing, ok := d.entities[id]; !ok || existing != e {
		return fmt.Errorf("%w: %s", ErrUnknownEntity, id)
	}

	var err error
	if d.notify != nil {
		err = d.notify(d.GroupOf(e), []ident.ID{id})
	}

	delete(d.entities, id)
	d.allocatorFor(id).TryFree(id)
	e.SetID(ident.None)
	d.logger.Debug("Entity unregistered", log.Uint32("id", uint32(id)))
	return err
}

func (d *ServerDirectory) allocatorFor(id ident.ID) *ident.Allocator {
	if id < d.ids.Min() {
		return d.statics
	}
	return d.ids
}

// Allocated reports whether id is held by a registered entity.
func (d *ServerDirectory) Allocated(id ident.ID) bool {
	return d.allocatorFor(id).Contains(id)
}

func (d *ServerDirectory) Lookup(id ident.ID) (Entity, bool) {
	e, ok := d.entities[id]
	return e, ok
}

func (d *ServerDirectory) Len() int {
	return len(d.entities)
}

// Entities iterates over a snapshot of the directory in ascending id order.
func (d *ServerDirectory) Entities() *sequence.Iterator[Entity] {
	return snapshot(d.entities)
}

// GroupOf returns the group that sees e.
func (d *ServerDirectory) GroupOf(e Entity) Group {
	if v, ok := e.(Visible); ok {
		if g := v.Group(); g != nil {
			return g
		}
	}
	return d.world
}

// InGroup returns the entities visible to group g in ascending id order.
func (d *ServerDirectory) InGroup(g Group) []Entity {
	return d.Entities().Filter(func(e Entity) bool {
		return d.GroupOf(e).ID() == g.ID()
	}).Collect()
}

// Route delivers a client message to a known entity; anything else is dropped.
func (d *ServerDirectory) Route(sender protocol.PeerID, msg protocol.EntityMessage) error {
	e, ok := d.entities[msg.Target()]
	if !ok {
		d.logger.Debug("Dropping message for unknown entity",
			log.Uint32("target", uint32(msg.Target())),
			log.String("sender", sender.String()))
		return nil
	}
	return e.Receive(sender, msg)
}

// SpawnTable builds proxies from spawn messages; *dispatch.Table[Entity]
// satisfies it.
type SpawnTable interface {
	Dispatch(msg protocol.Message) (Entity, error)
}

// ClientDirectory holds the proxies a client knows about. It is used from
// the client tick goroutine only.
type ClientDirectory struct {
	entities map[ident.ID]Entity
	spawns   SpawnTable
	dropped  uint64
	logger   log.Log
}

func NewClientDirectory(spawns SpawnTable, logger log.Log) *ClientDirectory {
	if logger == nil {
		logger = log.Provide()
	}
	return &ClientDirectory{
		entities: make(map[ident.ID]Entity),
		spawns:   spawns,
		logger:   logger.With(log.String("component", "directory"), log.String("side", "client")),
	}
}

// Route delivers msg to its target. Unknown targets are spawned when msg is
// a SpawnMessage and dropped otherwise.
func (d *ClientDirectory) Route(sender protocol.PeerID, msg protocol.EntityMessage) error {
	id := msg.Target()
	if e, ok := d.entities[id]; ok {
		return e.Receive(sender, msg)
	}

	if _, ok := msg.(protocol.SpawnMessage); !ok || d.spawns == nil {
		d.dropped++
		d.logger.Debug("Dropping message for unknown entity", log.Uint32("target", uint32(id)))
		return nil
	}

	e, err := d.spawns.Dispatch(msg)
	if err != nil {
		return fmt.Errorf("spawn %s: %w", id, err)
	}
	if e == nil {
		return fmt.Errorf("%w: %s", ErrSpawnFailed, id)
	}
	e.SetID(id)
	d.entities[id] = e
	d.logger.Debug("Proxy spawned", log.Uint32("id", uint32(id)))
	return e.Receive(sender, msg)
}

// Remove destroys and forgets the listed proxies. Unknown ids are ignored.
// It returns how many proxies were removed.
func (d *ClientDirectory) Remove(ids []ident.ID) int {
	removed := 0
	for _, id := range ids {
		e, ok := d.entities[id]
		if !ok {
			continue
		}
		delete(d.entities, id)
		if destroyer, ok := e.(Destroyer); ok {
			destroyer.Destroy()
		}
		removed++
	}
	return removed
}

// Clear destroys every proxy.
func (d *ClientDirectory) Clear() {
	ids := make([]ident.ID, 0, len(d.entities))
	for id := range d.entities {
		ids = append(ids, id)
	}
	d.Remove(ids)
}

func (d *ClientDirectory) Lookup(id ident.ID) (Entity, bool) {
	e, ok := d.entities[id]
	return e, ok
}

func (d *ClientDirectory) Len() int {
	return len(d.entities)
}

// Dropped counts messages discarded for unknown targets.
func (d *ClientDirectory) Dropped() uint64 {
	return d.dropped
}

// Entities iterates over a snapshot in ascending id order.
func (d *ClientDirectory) Entities() *sequence.Iterator[Entity] {
	return snapshot(d.entities)
}

func snapshot(entities map[ident.ID]Entity) *sequence.Iterator[Entity] {
	ids := sequence.FromSeq(maps.Keys(entities)).Sort(func(a, b ident.ID) bool { return a < b })
	return sequence.From(sequence.Map(ids, func(id ident.ID) Entity {
		return entities[id]
	}).Collect())
}
