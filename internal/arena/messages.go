// Package arena is a small replicated game used by the server and client
// hosts: every accepted peer steers one pawn around a square floor and can
// talk to the others.
package arena

import (
	"github.com/go-gl/mathgl/mgl64"

	"github.com/zeusync/replinet/internal/core/ident"
	"github.com/zeusync/replinet/internal/core/protocol"
)

const (
	TypeSpawnPawn = protocol.FirstUserTypeID + iota
	TypeMovePawn
	TypeSteer
	TypeChat
)

// Channels keep position updates from queueing behind input and chat.
const (
	channelMove  uint8 = 1
	channelInput uint8 = 2
)

// SpawnPawn creates a pawn proxy on a client.
type SpawnPawn struct {
	Entity   ident.ID   `json:"entity"`
	Owner    uint64     `json:"owner"`
	Name     string     `json:"name"`
	Position mgl64.Vec3 `json:"position"`
	Velocity mgl64.Vec3 `json:"velocity"`
}

func (SpawnPawn) MessageType() protocol.TypeID { return TypeSpawnPawn }
func (m SpawnPawn) Target() ident.ID           { return m.Entity }
func (SpawnPawn) SpawnsEntity()                {}

// MovePawn is the authoritative state of a pawn at a server tick.
type MovePawn struct {
	Entity   ident.ID   `json:"entity"`
	Tick     uint64     `json:"tick"`
	Position mgl64.Vec3 `json:"position"`
	Velocity mgl64.Vec3 `json:"velocity"`
}

func (MovePawn) MessageType() protocol.TypeID { return TypeMovePawn }
func (m MovePawn) Target() ident.ID           { return m.Entity }

func (MovePawn) Delivery() protocol.Delivery {
	return protocol.Delivery{Method: protocol.UnreliableSequenced, Channel: channelMove}
}

// Steer asks the server to move the sender's pawn along Direction.
type Steer struct {
	Entity    ident.ID   `json:"entity"`
	Direction mgl64.Vec3 `json:"direction"`
}

func (Steer) MessageType() protocol.TypeID { return TypeSteer }
func (m Steer) Target() ident.ID           { return m.Entity }

func (Steer) Delivery() protocol.Delivery {
	return protocol.Delivery{Method: protocol.ReliableSequenced, Channel: channelInput}
}

// Chat is a line of text. Clients leave From empty; the server fills it in.
type Chat struct {
	From string `json:"from,omitempty"`
	Text string `json:"text"`
}

func (Chat) MessageType() protocol.TypeID { return TypeChat }

// RegisterTypes adds the arena messages to types.
func RegisterTypes(types *protocol.Registry) error {
	for _, m := range []protocol.Message{SpawnPawn{}, MovePawn{}, Steer{}, Chat{}} {
		if err := types.Register(m); err != nil {
			return err
		}
	}
	return nil
}
