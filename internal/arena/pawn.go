package arena

import (
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/zeusync/replinet/internal/core/ident"
	"github.com/zeusync/replinet/internal/core/protocol"
	"github.com/zeusync/replinet/internal/core/replication"
)

var ErrNotOwner = errors.New("peer does not own pawn")

const (
	// DefaultSpeed is how far a pawn travels per second at full steer.
	DefaultSpeed = 5.0
	// DefaultExtent is half the side of the floor, centred on the origin.
	DefaultExtent = 50.0
)

// Pawn is the server side of a player's avatar.
type Pawn struct {
	id       ident.ID
	peer     protocol.PeerID
	owner    uint64
	name     string
	group    replication.Group
	position mgl64.Vec3
	velocity mgl64.Vec3
	speed    float64
	extent   float64
	dirty    bool
}

var (
	_ replication.Entity       = (*Pawn)(nil)
	_ replication.Spawner      = (*Pawn)(nil)
	_ replication.ServerTicker = (*Pawn)(nil)
	_ replication.Visible      = (*Pawn)(nil)
)

func NewPawn(peer protocol.PeerID, owner uint64, name string, group replication.Group) *Pawn {
	return &Pawn{
		peer:   peer,
		owner:  owner,
		name:   name,
		group:  group,
		speed:  DefaultSpeed,
		extent: DefaultExtent,
	}
}

func (p *Pawn) ID() ident.ID              { return p.id }
func (p *Pawn) SetID(id ident.ID)         { p.id = id }
func (p *Pawn) StaticID() ident.ID        { return ident.None }
func (p *Pawn) Group() replication.Group  { return p.group }
func (p *Pawn) Peer() protocol.PeerID     { return p.peer }
func (p *Pawn) Name() string              { return p.name }
func (p *Pawn) Position() mgl64.Vec3      { return p.position }
func (p *Pawn) Velocity() mgl64.Vec3      { return p.velocity }
func (p *Pawn) Place(position mgl64.Vec3) { p.position, p.dirty = p.clamp(position), true }

func (p *Pawn) SpawnMessage() protocol.SpawnMessage {
	return SpawnPawn{
		Entity:   p.id,
		Owner:    p.owner,
		Name:     p.name,
		Position: p.position,
		Velocity: p.velocity,
	}
}

// Receive applies steering from the owning peer.
func (p *Pawn) Receive(sender protocol.PeerID, msg protocol.EntityMessage) error {
	steer, ok := msg.(Steer)
	if !ok {
		return nil
	}
	if sender != p.peer {
		return fmt.Errorf("%w: %s steering %s", ErrNotOwner, sender, p.id)
	}

	dir := steer.Direction
	if l := dir.Len(); l > 1 {
		dir = dir.Mul(1 / l)
	}
	p.velocity = dir.Mul(p.speed)
	p.dirty = true
	return nil
}

// ServerTick advances the pawn and broadcasts its state when it changed.
func (p *Pawn) ServerTick(tick replication.Tick, out replication.Broadcaster) error {
	if p.velocity.Len() > 0 {
		p.position = p.clamp(p.position.Add(p.velocity.Mul(tick.Delta.Seconds())))
		p.dirty = true
	}
	if !p.dirty || p.group == nil {
		return nil
	}
	p.dirty = false
	return out.Broadcast(p.group, MovePawn{
		Entity:   p.id,
		Tick:     tick.Number,
		Position: p.position,
		Velocity: p.velocity,
	})
}

func (p *Pawn) clamp(v mgl64.Vec3) mgl64.Vec3 {
	for i := range v {
		v[i] = mgl64.Clamp(v[i], -p.extent, p.extent)
	}
	return v
}
