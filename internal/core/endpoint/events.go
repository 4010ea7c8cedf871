package endpoint

import (
	"github.com/zeusync/replinet/internal/core/events/bus"
	"github.com/zeusync/replinet/internal/core/protocol"
)

// Lifecycle topics published on the endpoint bus. Delivery is synchronous on
// the tick goroutine; subscriber errors are joined into the tick error.
const (
	TopicState        = "endpoint.state"
	TopicPeerAccepted = "peer.accepted"
	TopicPeerLeft     = "peer.left"
	TopicConnected    = "client.connected"
	TopicRejected     = "client.rejected"
)

type StateChange struct {
	From State
	To   State
}

type PeerAccepted struct {
	Peer    protocol.PeerID
	Request protocol.ConnectRequest
}

type PeerLeft struct {
	Peer   protocol.PeerID
	Reason string
}

type Connected struct {
	HostName string
	TickRate int
	// Remapped counts local message types whose wire id changed when the
	// server schema was adopted.
	Remapped int
}

type Rejected struct {
	Reason string
}

func subscribe[T any](b bus.EventBus, topic string, fn func(T) error) (bus.Subscription, error) {
	return b.Subscribe(topic, func(event bus.Event) error {
		payload, err := bus.Payload[T](event)
		if err != nil {
			return err
		}
		return fn(payload)
	})
}
