package arena

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/zeusync/replinet/internal/core/dispatch"
	"github.com/zeusync/replinet/internal/core/endpoint"
	"github.com/zeusync/replinet/internal/core/events/bus"
	"github.com/zeusync/replinet/internal/core/handler"
	"github.com/zeusync/replinet/internal/core/observability/log"
	"github.com/zeusync/replinet/internal/core/protocol"
)

// MaxChatLength bounds the text of a relayed chat line.
const MaxChatLength = 256

func init() {
	Mark(dispatch.Default)
}

// Mark records the client side bindings of the arena in catalog.
func Mark(catalog *dispatch.Catalog) {
	catalog.Mark(dispatch.CategorySpawn, "arena.SpawnProxy", SpawnProxy)
	catalog.Mark(dispatch.CategoryClientHandle, "arena.logChat", logChat)
}

func logChat(_ protocol.PeerID, m Chat) {
	log.Provide().Info("Chat", log.String("from", m.From), log.String("text", m.Text))
}

// Arena gives every accepted peer a pawn and relays chat.
type Arena struct {
	server *endpoint.Server
	pawns  map[protocol.PeerID]*Pawn
	subs   []bus.Subscription
	logger log.Log
}

func New(server *endpoint.Server, logger log.Log) (*Arena, error) {
	if logger == nil {
		logger = log.Provide()
	}
	a := &Arena{
		server: server,
		pawns:  make(map[protocol.PeerID]*Pawn),
		logger: logger.With(log.String("component", "arena")),
	}

	accepted, err := server.OnPeerAccepted(a.join)
	if err != nil {
		return nil, err
	}
	left, err := server.OnPeerLeft(a.leave)
	if err != nil {
		_ = accepted.Cancel()
		return nil, err
	}
	a.subs = append(a.subs, accepted, left)
	handler.Add(server.Handlers(), a.relay)
	return a, nil
}

// Pawn returns the pawn of peer.
func (a *Arena) Pawn(peer protocol.PeerID) (*Pawn, bool) {
	p, ok := a.pawns[peer]
	return p, ok
}

func (a *Arena) Len() int {
	return len(a.pawns)
}

// Close stops reacting to peers. Pawns already registered stay.
func (a *Arena) Close() error {
	var errs []error
	for _, s := range a.subs {
		errs = append(errs, s.Cancel())
	}
	a.subs = nil
	return errors.Join(errs...)
}

func (a *Arena) join(ev endpoint.PeerAccepted) error {
	name := ev.Request.DisplayName
	if name == "" {
		name = ev.Peer.String()
	}
	p := NewPawn(ev.Peer, ev.Request.UserID, name, a.server.World())
	// spread arrivals along the x axis so pawns do not stack
	p.Place(mgl64.Vec3{float64(len(a.pawns)) * 2, 0, 0})

	if _, err := a.server.Register(p); err != nil {
		return fmt.Errorf("register pawn for %s: %w", ev.Peer, err)
	}
	a.pawns[ev.Peer] = p
	a.logger.Info("Pawn joined",
		log.String("peer", ev.Peer.String()),
		log.String("name", name),
		log.Uint32("entity", uint32(p.ID())))
	return nil
}

func (a *Arena) leave(ev endpoint.PeerLeft) error {
	p, ok := a.pawns[ev.Peer]
	if !ok {
		return nil
	}
	delete(a.pawns, ev.Peer)
	a.logger.Info("Pawn left", log.String("name", p.Name()), log.String("reason", ev.Reason))
	return a.server.Unregister(p)
}

func (a *Arena) relay(sender protocol.PeerID, m Chat) error {
	text := strings.TrimSpace(m.Text)
	if text == "" {
		return nil
	}
	if len(text) > MaxChatLength {
		text = text[:MaxChatLength]
	}
	from := sender.String()
	if p, ok := a.pawns[sender]; ok {
		from = p.Name()
	}
	return a.server.Broadcast(a.server.World(), Chat{From: from, Text: text})
}

// Pilot steers the local player's pawn from a client.
type Pilot struct {
	client *endpoint.Client
	userID uint64
}

func NewPilot(client *endpoint.Client, userID uint64) *Pilot {
	return &Pilot{client: client, userID: userID}
}

// Pawn finds the proxy owned by the local user.
func (p *Pilot) Pawn() (*PawnProxy, bool) {
	for e := range p.client.Directory().Entities().Seq() {
		if proxy, ok := e.(*PawnProxy); ok && proxy.Owner() == p.userID {
			return proxy, true
		}
	}
	return nil, false
}

// Steer sends a new direction for the local pawn. It does nothing until the
// pawn has been spawned.
func (p *Pilot) Steer(direction mgl64.Vec3) error {
	pawn, ok := p.Pawn()
	if !ok {
		return nil
	}
	return p.client.Send(protocol.ServerPeer, Steer{Entity: pawn.ID(), Direction: direction})
}

func (p *Pilot) Say(text string) error {
	return p.client.Send(protocol.ServerPeer, Chat{Text: text})
}
