// Package replication keeps the table of replicated objects on each side of
// a connection: the authoritative server directory, which hands out
// identifiers, and the client directory of proxies spawned from the wire.
package replication

import (
	"time"

	"github.com/zeusync/replinet/internal/core/ident"
	"github.com/zeusync/replinet/internal/core/protocol"
)

// Entity is a replicated object.
type Entity interface {
	ID() ident.ID
	SetID(id ident.ID)
	// StaticID is the identifier assigned at authoring time, or ident.None to
	// have one allocated.
	StaticID() ident.ID
	Receive(sender protocol.PeerID, msg protocol.EntityMessage) error
}

// Tick describes one fixed-period simulation step.
type Tick struct {
	Number uint64
	Time   time.Time
	Delta  time.Duration
}

// Outbox queues messages for the next flush.
type Outbox interface {
	Send(peer protocol.PeerID, msg protocol.Message) error
}

// Broadcaster adds group fan-out to Outbox on the server.
type Broadcaster interface {
	Outbox
	Broadcast(group Group, msg protocol.Message) error
}

// ServerTicker is updated once per server tick in ascending id order.
type ServerTicker interface {
	ServerTick(tick Tick, out Broadcaster) error
}

// ClientTicker is updated once per client tick in ascending id order.
type ClientTicker interface {
	ClientTick(tick Tick, out Outbox) error
}

// Destroyer is told when a client proxy is removed.
type Destroyer interface {
	Destroy()
}

// Spawner describes how to create the entity's proxy on a client.
type Spawner interface {
	SpawnMessage() protocol.SpawnMessage
}

// Visible places an entity in a group other than the server's world group.
type Visible interface {
	Group() Group
}

// Router delivers entity-addressed messages.
type Router interface {
	Route(sender protocol.PeerID, msg protocol.EntityMessage) error
}
