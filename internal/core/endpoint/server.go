package endpoint

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/zeusync/replinet/internal/core/dispatch"
	"github.com/zeusync/replinet/internal/core/events/bus"
	"github.com/zeusync/replinet/internal/core/handler"
	"github.com/zeusync/replinet/internal/core/ident"
	"github.com/zeusync/replinet/internal/core/observability/log"
	"github.com/zeusync/replinet/internal/core/protocol"
	"github.com/zeusync/replinet/internal/core/replication"
)

type peerState struct {
	joined   time.Time
	accepted bool
	// closing peers were rejected or timed out and wait for their disconnect.
	closing bool
	request protocol.ConnectRequest
}

// Server is the authoritative endpoint. It listens for peers, runs the
// handshake, owns the identifier space and replicates entities to the
// groups that can see them.
type Server struct {
	*Endpoint

	config    ServerConfig
	provider  protocol.Provider
	authorize Authorizer
	listener  protocol.ListeningSession

	peers     *xsync.MapOf[protocol.PeerID, *peerState]
	world     *replication.SubscriptionGroup
	groups    map[string]replication.Group
	directory *replication.ServerDirectory
	entities  atomic.Int64
}

var _ replication.Broadcaster = (*Server)(nil)

func NewServer(config ServerConfig, provider protocol.Provider, types *protocol.Registry, opts ...Option) (*Server, error) {
	if provider == nil {
		return nil, protocol.ErrNoProvider
	}
	o := buildOptions("server", opts)

	s := &Server{
		config:    config,
		provider:  provider,
		authorize: o.Authorizer,
		peers:     xsync.NewMapOf[protocol.PeerID, *peerState](),
		world:     replication.NewGroup(replication.WorldGroupID),
		groups:    make(map[string]replication.Group),
	}
	s.groups[s.world.ID()] = s.world

	e, err := newEndpoint("server", config.Config, types, o, s)
	if err != nil {
		return nil, err
	}
	s.Endpoint = e

	dynamicMin := ident.ID(config.DynamicIDMin)
	if dynamicMin == ident.None {
		dynamicMin = 1
	}
	s.directory = replication.NewServerDirectory(ident.NewAllocator(dynamicMin), s.world, s.notifyRemoval, e.logger)

	handler.Add(e.handlers, s.handleConnectRequest)
	e.metrics.Gauge("peers", func() float64 { return float64(s.peers.Size()) })
	e.metrics.Gauge("entities", func() float64 { return float64(s.entities.Load()) })
	return s, nil
}

func (s *Server) Directory() *replication.ServerDirectory {
	return s.directory
}

// World is the group every accepted peer joins.
func (s *Server) World() replication.Group {
	return s.world
}

// Addr returns the listening address once the server is running.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ServerTime is the authoritative clock clients align to.
func (s *Server) ServerTime() time.Time {
	return s.clock.Now()
}

// Accepted returns the peers that completed the handshake, in ascending order.
func (s *Server) Accepted() []protocol.PeerID {
	var out []protocol.PeerID
	s.peers.Range(func(peer protocol.PeerID, st *peerState) bool {
		if st.accepted {
			out = append(out, peer)
		}
		return true
	})
	slices.Sort(out)
	return out
}

// Request returns the connect request an accepted peer sent.
func (s *Server) Request(peer protocol.PeerID) (protocol.ConnectRequest, bool) {
	st, ok := s.peers.Load(peer)
	if !ok || !st.accepted {
		return protocol.ConnectRequest{}, false
	}
	return st.request, true
}

func (s *Server) OnPeerAccepted(fn func(PeerAccepted) error) (bus.Subscription, error) {
	return subscribe(s.bus, TopicPeerAccepted, fn)
}

func (s *Server) OnPeerLeft(fn func(PeerLeft) error) (bus.Subscription, error) {
	return subscribe(s.bus, TopicPeerLeft, fn)
}

// Register adds e to the directory and spawns it on the peers of its group.
// Spawns always travel with DefaultDelivery whatever the message declares.
// Register must be called from the goroutine driving Update, or from a
// handler or bus callback running inside it.
func (s *Server) Register(e replication.Entity) (ident.ID, error) {
	id, err := s.directory.Register(e)
	if err != nil {
		return id, err
	}
	s.entities.Add(1)

	if spawner, ok := e.(replication.Spawner); ok {
		if err = s.broadcastWith(s.directory.GroupOf(e), spawner.SpawnMessage(), protocol.DefaultDelivery); err != nil {
			return id, fmt.Errorf("spawn %s: %w", id, err)
		}
	}
	return id, nil
}

// Unregister removes e, tells its group to destroy the proxies and frees the
// identifier. Like Register it belongs to the goroutine driving Update.
func (s *Server) Unregister(e replication.Entity) error {
	err := s.directory.Unregister(e)
	if errors.Is(err, replication.ErrUnknownEntity) {
		return err
	}
	s.entities.Add(-1)
	return err
}

func (s *Server) notifyRemoval(group replication.Group, ids []ident.ID) error {
	return s.Broadcast(group, protocol.RemovalNotice{IDs: ids})
}

// Broadcast queues msg for every accepted subscriber of group.
func (s *Server) Broadcast(group replication.Group, msg protocol.Message) error {
	return s.broadcastWith(group, msg, protocol.DeliveryOf(msg))
}

func (s *Server) broadcastWith(group replication.Group, msg protocol.Message, delivery protocol.Delivery) error {
	var targets []protocol.PeerID
	for _, peer := range group.Subscribers() {
		if st, ok := s.peers.Load(peer); ok && st.accepted {
			targets = append(targets, peer)
		}
	}
	return s.enqueue(targets, msg, delivery)
}

// Subscribe adds peer to group and spawns the group's entities on it.
func (s *Server) Subscribe(group replication.Group, peer protocol.PeerID) error {
	s.groups[group.ID()] = group
	if !group.Add(peer) {
		return nil
	}

	var errs []error
	for _, e := range s.directory.InGroup(group) {
		spawner, ok := e.(replication.Spawner)
		if !ok {
			continue
		}
		// ordered behind the connect response on every transport, and never lost
		if err := s.SendWith(peer, spawner.SpawnMessage(), protocol.DefaultDelivery); err != nil {
			errs = append(errs, fmt.Errorf("spawn %s on %s: %w", e.ID(), peer, err))
		}
	}
	return errors.Join(errs...)
}

// Unsubscribe removes peer from group and destroys the group's proxies on it.
func (s *Server) Unsubscribe(group replication.Group, peer protocol.PeerID) error {
	if !group.Remove(peer) {
		return nil
	}
	var ids []ident.ID
	for _, e := range s.directory.InGroup(group) {
		ids = append(ids, e.ID())
	}
	if len(ids) == 0 {
		return nil
	}
	return s.Send(peer, protocol.RemovalNotice{IDs: ids})
}

// Disconnect drops peer after the next flush, so anything queued for it,
// such as a rejection, is written first.
func (s *Server) Disconnect(peer protocol.PeerID, reason string) {
	s.later(func() {
		if s.listener == nil {
			return
		}
		if err := s.listener.Disconnect(peer, reason); err != nil && !errors.Is(err, protocol.ErrPeerNotFound) {
			s.logger.Warn("Failed to disconnect peer", log.String("peer", peer.String()), log.Error(err))
		}
	})
}

func (s *Server) handleConnectRequest(peer protocol.PeerID, req protocol.ConnectRequest) error {
	st, ok := s.peers.Load(peer)
	if !ok || st.closing {
		return nil
	}
	if st.accepted {
		s.logger.Debug("Ignoring repeated connect request", log.String("peer", peer.String()))
		return nil
	}

	if reason := s.check(peer, req); reason != "" {
		return s.reject(peer, st, reason)
	}

	schema := s.types.Schema()
	resp := protocol.ConnectResponse{
		Accepted:    true,
		HostName:    s.config.HostName,
		TickRate:    s.TickRate(),
		ServerTime:  s.clock.Now().UnixNano(),
		Schema:      schema,
		Fingerprint: schema.Fingerprint(),
	}
	if err := s.Send(peer, resp); err != nil {
		return err
	}
	st.accepted = true
	st.request = req

	s.logger.Info("Peer accepted",
		log.String("peer", peer.String()),
		log.Uint64("user_id", req.UserID),
		log.String("display_name", req.DisplayName),
		log.String("platform", req.Platform))

	return errors.Join(
		s.Subscribe(s.world, peer),
		s.publish(TopicPeerAccepted, PeerAccepted{Peer: peer, Request: req}),
	)
}

// check returns the reason to refuse req, or "" to accept it.
func (s *Server) check(peer protocol.PeerID, req protocol.ConnectRequest) string {
	if req.ProtocolVersion != s.config.ProtocolVersion {
		return versionMismatch(req.ProtocolVersion, s.config.ProtocolVersion)
	}
	if s.authorize != nil {
		if err := s.authorize(peer, req); err != nil {
			return err.Error()
		}
	}
	return ""
}

func versionMismatch(client, server int) string {
	stale := "client"
	if client > server {
		stale = "server"
	}
	return fmt.Sprintf("%s: client %d, server %d; %s is out of date", protocol.ErrProtocolMismatch, client, server, stale)
}

func (s *Server) reject(peer protocol.PeerID, st *peerState, reason string) error {
	st.closing = true
	s.logger.Info("Peer rejected", log.String("peer", peer.String()), log.String("reason", reason))
	if err := s.Send(peer, protocol.ConnectResponse{Accepted: false, Message: reason}); err != nil {
		return err
	}
	s.Disconnect(peer, reason)
	return nil
}

func (s *Server) category() string {
	return dispatch.CategoryServerHandle
}

func (s *Server) start(ctx context.Context) (protocol.Session, error) {
	ln, err := s.provider.Listen(ctx, protocol.ListenOptions{
		Host:           s.config.Host,
		Port:           s.config.Port,
		MaxConnections: s.config.MaxConnections,
	})
	if err != nil {
		return nil, err
	}
	s.listener = ln
	s.logger.Info("Server listening",
		log.String("transport", s.provider.Name()),
		log.String("addr", ln.Addr().String()))
	return ln, nil
}

func (s *Server) connected(peer protocol.PeerID) error {
	s.peers.Store(peer, &peerState{joined: s.clock.Now()})
	s.logger.Debug("Peer connected", log.String("peer", peer.String()))
	return nil
}

func (s *Server) disconnected(peer protocol.PeerID, reason string, err error) error {
	st, ok := s.peers.LoadAndDelete(peer)
	for _, g := range s.groups {
		g.Remove(peer)
	}
	if !ok {
		return nil
	}
	s.logger.Info("Peer left",
		log.String("peer", peer.String()),
		log.String("reason", reason),
		log.Error(err))
	if !st.accepted {
		return nil
	}
	return s.publish(TopicPeerLeft, PeerLeft{Peer: peer, Reason: reason})
}

// admit lets only ConnectRequest through until a peer is accepted.
func (s *Server) admit(peer protocol.PeerID, msg protocol.Message) bool {
	st, ok := s.peers.Load(peer)
	if !ok || st.closing {
		return false
	}
	if st.accepted {
		return true
	}
	_, isRequest := msg.(protocol.ConnectRequest)
	return isRequest
}

func (s *Server) route(sender protocol.PeerID, msg protocol.EntityMessage) error {
	return s.directory.Route(sender, msg)
}

func (s *Server) tick(_ context.Context, t replication.Tick) error {
	s.expireHandshakes()

	var errs []error
	for e := range s.directory.Entities().Seq() {
		ticker, ok := e.(replication.ServerTicker)
		if !ok {
			continue
		}
		// an earlier entity may have unregistered this one
		if current, ok := s.directory.Lookup(e.ID()); !ok || current != e {
			continue
		}
		if err := ticker.ServerTick(t, s); err != nil {
			errs = append(errs, fmt.Errorf("entity %s: %w", e.ID(), err))
		}
	}
	return errors.Join(errs...)
}

func (s *Server) expireHandshakes() {
	if s.config.HandshakeTimeout <= 0 {
		return
	}
	now := s.clock.Now()
	s.peers.Range(func(peer protocol.PeerID, st *peerState) bool {
		if !st.accepted && !st.closing && now.Sub(st.joined) >= s.config.HandshakeTimeout {
			st.closing = true
			s.logger.Info("Handshake timed out", log.String("peer", peer.String()))
			s.Disconnect(peer, protocol.ErrHandshakeTimeout.Error())
		}
		return true
	})
}

func (s *Server) stop() {
	s.logger.Info("Server stopping", log.Int("peers", s.peers.Size()), log.Int64("entities", s.entities.Load()))
}
