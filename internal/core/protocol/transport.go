package protocol

import (
	"context"
	"fmt"
	"net"
)

// EventKind classifies what a session reports to its endpoint.
type EventKind uint8

const (
	EventConnected EventKind = iota + 1
	EventData
	EventDisconnected
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventData:
		return "data"
	case EventDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("event(%d)", uint8(k))
	}
}

// Event is one item drained from a session. Data holds a codec frame for
// EventData. Reason and Err describe an EventDisconnected.
type Event struct {
	Kind     EventKind
	Peer     PeerID
	Data     []byte
	Delivery Delivery
	Reason   string
	Err      error
}

// ListenOptions configures a listening session.
type ListenOptions struct {
	Host           string
	Port           int
	MaxConnections int
}

func (o ListenOptions) Addr() string {
	return net.JoinHostPort(o.Host, fmt.Sprint(o.Port))
}

// Provider creates transport sessions. Exactly one is installed per host
// process, see Installer.
type Provider interface {
	Name() string
	Listen(ctx context.Context, opts ListenOptions) (ListeningSession, error)
	Connect(ctx context.Context, host string, port int) (RemoteSession, error)
}

// Session is the endpoint-facing side of a transport. Poll never blocks; the
// provider's own goroutines fill the queue it drains.
type Session interface {
	// ID is a unique label for logs.
	ID() string
	// Poll returns up to max pending events, or all of them when max <= 0.
	Poll(max int) []Event
	// Send queues a codec frame for peer with the given delivery.
	Send(peer PeerID, frame []byte, delivery Delivery) error
	Close() error
}

// ListeningSession accepts many peers.
type ListeningSession interface {
	Session
	Addr() net.Addr
	// Disconnect closes a peer after everything already queued for it has been
	// written. The peer observes reason.
	Disconnect(peer PeerID, reason string) error
	Peers() []PeerID
}

// RemoteSession is a single connection to a server.
type RemoteSession interface {
	Session
	// Connected reports whether the transport handshake has completed.
	Connected() bool
	// Server returns the peer id used for the server in events and Send.
	Server() PeerID
}
