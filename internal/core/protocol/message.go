package protocol

import (
	"fmt"

	"github.com/zeusync/replinet/internal/core/ident"
)

// TypeID is the compact wire identifier of a message type.
type TypeID uint16

// PeerID names a connection as seen by the local session. ServerPeer is the
// single remote of a client session; listening sessions number their peers
// from 1.
type PeerID uint32

const ServerPeer PeerID = 0

func (p PeerID) String() string {
	if p == ServerPeer {
		return "server"
	}
	return fmt.Sprintf("peer-%d", uint32(p))
}

// Message is anything that can travel between endpoints.
type Message interface {
	MessageType() TypeID
}

// EntityMessage is addressed to one replicated object.
type EntityMessage interface {
	Message
	Target() ident.ID
}

// SpawnMessage is an EntityMessage that can create its target on a client
// that does not know it yet.
type SpawnMessage interface {
	EntityMessage
	SpawnsEntity()
}

// Deliverable lets a message pick its own default delivery.
type Deliverable interface {
	Delivery() Delivery
}

// Named overrides the schema name of a message type. Without it the Go type
// name (package.Type) is used.
type Named interface {
	MessageName() string
}

// DeliveryOf returns the delivery a message asks for, or DefaultDelivery.
func DeliveryOf(msg Message) Delivery {
	if d, ok := msg.(Deliverable); ok {
		return d.Delivery()
	}
	return DefaultDelivery
}
