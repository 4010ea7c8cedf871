package arena

import (
	"github.com/go-gl/mathgl/mgl64"

	"github.com/zeusync/replinet/internal/core/ident"
	"github.com/zeusync/replinet/internal/core/protocol"
	"github.com/zeusync/replinet/internal/core/replication"
)

// PawnProxy mirrors a Pawn on a client. Between server updates it
// extrapolates along the last known velocity.
type PawnProxy struct {
	id        ident.ID
	owner     uint64
	name      string
	position  mgl64.Vec3
	velocity  mgl64.Vec3
	lastTick  uint64
	destroyed bool
}

var (
	_ replication.Entity       = (*PawnProxy)(nil)
	_ replication.ClientTicker = (*PawnProxy)(nil)
	_ replication.Destroyer    = (*PawnProxy)(nil)
)

// SpawnProxy builds the proxy for a SpawnPawn.
func SpawnProxy(m SpawnPawn) (replication.Entity, error) {
	return &PawnProxy{owner: m.Owner, name: m.Name}, nil
}

func (p *PawnProxy) ID() ident.ID         { return p.id }
func (p *PawnProxy) SetID(id ident.ID)    { p.id = id }
func (p *PawnProxy) StaticID() ident.ID   { return ident.None }
func (p *PawnProxy) Owner() uint64        { return p.owner }
func (p *PawnProxy) Name() string         { return p.name }
func (p *PawnProxy) Position() mgl64.Vec3 { return p.position }
func (p *PawnProxy) Velocity() mgl64.Vec3 { return p.velocity }
func (p *PawnProxy) Destroyed() bool      { return p.destroyed }
func (p *PawnProxy) Destroy()             { p.destroyed = true }

func (p *PawnProxy) Receive(_ protocol.PeerID, msg protocol.EntityMessage) error {
	switch m := msg.(type) {
	case SpawnPawn:
		p.position, p.velocity = m.Position, m.Velocity
	case MovePawn:
		// moves older than what we already hold are ignored
		if m.Tick < p.lastTick {
			return nil
		}
		p.lastTick = m.Tick
		p.position, p.velocity = m.Position, m.Velocity
	}
	return nil
}

func (p *PawnProxy) ClientTick(tick replication.Tick, _ replication.Outbox) error {
	p.position = p.position.Add(p.velocity.Mul(tick.Delta.Seconds()))
	return nil
}
