// Package loopback is an in-process transport. Sessions exchange events
// through queues without touching the network, which makes it the provider of
// choice for tests and single-process servers with local players.
package loopback

import (
	"context"
	"fmt"
	"net"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/zeusync/replinet/internal/core/protocol"
)

const Name = "loopback"

// firstAutoPort is the first port handed out when Listen asks for port 0.
const firstAutoPort = 40000

var shared = newNetwork()

func init() {
	protocol.RegisterProvider(Name, func() protocol.Provider {
		return &Provider{net: shared, queueSize: protocol.DefaultEventQueueSize}
	})
}

type network struct {
	mu        sync.Mutex
	listeners map[int]*listener
	nextPort  int
}

func newNetwork() *network {
	return &network{listeners: make(map[int]*listener), nextPort: firstAutoPort}
}

// Provider connects sessions living on the same network. Providers built by
// the registered factory share one process-wide network; New makes a private
// one.
type Provider struct {
	net       *network
	queueSize int
}

type Option func(*Provider)

// WithQueueSize bounds the event queue of every session.
func WithQueueSize(n int) Option {
	return func(p *Provider) { p.queueSize = n }
}

func New(opts ...Option) *Provider {
	p := &Provider{net: newNetwork(), queueSize: protocol.DefaultEventQueueSize}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Name() string {
	return Name
}

func (p *Provider) Listen(ctx context.Context, opts protocol.ListenOptions) (protocol.ListeningSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.net.mu.Lock()
	defer p.net.mu.Unlock()

	port := opts.Port
	if port == 0 {
		for {
			port = p.net.nextPort
			p.net.nextPort++
			if _, taken := p.net.listeners[port]; !taken {
				break
			}
		}
	} else if _, taken := p.net.listeners[port]; taken {
		return nil, fmt.Errorf("%w: %s:%d", protocol.ErrAddressInUse, Name, port)
	}

	l := &listener{
		id:       uuid.NewString(),
		net:      p.net,
		port:     port,
		maxConns: opts.MaxConnections,
		queue:    protocol.NewEventQueue(p.queueSize),
		peers:    make(map[protocol.PeerID]*remote),
	}
	p.net.listeners[port] = l
	return l, nil
}

func (p *Provider) Connect(ctx context.Context, _ string, port int) (protocol.RemoteSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.net.mu.Lock()
	l, ok := p.net.listeners[port]
	p.net.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: nothing listening on %s:%d", protocol.ErrConnectionRefused, Name, port)
	}

	r := &remote{
		id:    uuid.NewString(),
		queue: protocol.NewEventQueue(p.queueSize),
	}
	if err := l.attach(r); err != nil {
		return nil, err
	}
	return r, nil
}

// Addr is the net.Addr of a loopback listener.
type Addr struct {
	Port int
}

func (Addr) Network() string  { return Name }
func (a Addr) String() string { return fmt.Sprintf("%s:%d", Name, a.Port) }

type listener struct {
	id       string
	net      *network
	port     int
	maxConns int
	queue    *protocol.EventQueue

	mu       sync.Mutex
	peers    map[protocol.PeerID]*remote
	nextPeer protocol.PeerID
	closed   bool
}

func (l *listener) attach(r *remote) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return fmt.Errorf("%w: listener closed", protocol.ErrConnectionRefused)
	}
	if l.maxConns > 0 && len(l.peers) >= l.maxConns {
		return protocol.ErrMaxConnectionsReached
	}

	l.nextPeer++
	r.peer = l.nextPeer
	r.server = l
	r.connected.Store(true)
	l.peers[r.peer] = r

	control(l.queue, protocol.Event{Kind: protocol.EventConnected, Peer: r.peer})
	control(r.queue, protocol.Event{Kind: protocol.EventConnected, Peer: protocol.ServerPeer})
	return nil
}

// detach forgets peer and reports whether it was still attached.
func (l *listener) detach(peer protocol.PeerID) (*remote, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.peers[peer]
	if ok {
		delete(l.peers, peer)
	}
	return r, ok
}

func (l *listener) ID() string {
	return l.id
}

func (l *listener) Addr() net.Addr {
	return Addr{Port: l.port}
}

func (l *listener) Poll(max int) []protocol.Event {
	return l.queue.Poll(max)
}

func (l *listener) Send(peer protocol.PeerID, frame []byte, delivery protocol.Delivery) error {
	l.mu.Lock()
	r, ok := l.peers[peer]
	l.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", protocol.ErrPeerNotFound, peer)
	}
	return transfer(r.queue, protocol.ServerPeer, frame, delivery)
}

func (l *listener) Disconnect(peer protocol.PeerID, reason string) error {
	r, ok := l.detach(peer)
	if !ok {
		return fmt.Errorf("%w: %s", protocol.ErrPeerNotFound, peer)
	}
	r.hangUp(reason)
	control(l.queue, protocol.Event{Kind: protocol.EventDisconnected, Peer: peer, Reason: reason})
	return nil
}

func (l *listener) Peers() []protocol.PeerID {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]protocol.PeerID, 0, len(l.peers))
	for id := range l.peers {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

func (l *listener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	peers := l.peers
	l.peers = make(map[protocol.PeerID]*remote)
	l.mu.Unlock()

	for _, r := range peers {
		r.hangUp("server closed")
	}

	l.net.mu.Lock()
	if l.net.listeners[l.port] == l {
		delete(l.net.listeners, l.port)
	}
	l.net.mu.Unlock()

	l.queue.Close()
	return nil
}

type remote struct {
	id        string
	queue     *protocol.EventQueue
	server    *listener
	peer      protocol.PeerID
	connected atomic.Bool
}

// hangUp tells the client side that the server dropped it.
func (r *remote) hangUp(reason string) {
	if r.connected.CompareAndSwap(true, false) {
		control(r.queue, protocol.Event{Kind: protocol.EventDisconnected, Peer: protocol.ServerPeer, Reason: reason})
	}
}

func (r *remote) ID() string {
	return r.id
}

func (r *remote) Connected() bool {
	return r.connected.Load()
}

func (r *remote) Server() protocol.PeerID {
	return protocol.ServerPeer
}

func (r *remote) Poll(max int) []protocol.Event {
	return r.queue.Poll(max)
}

func (r *remote) Send(peer protocol.PeerID, frame []byte, delivery protocol.Delivery) error {
	if peer != protocol.ServerPeer {
		return fmt.Errorf("%w: %s", protocol.ErrPeerNotFound, peer)
	}
	if !r.connected.Load() {
		return protocol.ErrConnectionClosed
	}
	return transfer(r.server.queue, r.peer, frame, delivery)
}

func (r *remote) Close() error {
	if r.connected.CompareAndSwap(true, false) {
		if _, ok := r.server.detach(r.peer); ok {
			control(r.server.queue, protocol.Event{Kind: protocol.EventDisconnected, Peer: r.peer, Reason: "client closed"})
		}
	}
	r.queue.Close()
	return nil
}

// transfer copies frame into q. Unreliable frames are dropped when q is full;
// reliable ones fail with ErrMessageQueueFull.
func transfer(q *protocol.EventQueue, from protocol.PeerID, frame []byte, delivery protocol.Delivery) error {
	ev := protocol.Event{
		Kind:     protocol.EventData,
		Peer:     from,
		Data:     slices.Clone(frame),
		Delivery: delivery,
	}
	if q.Offer(ev) || !delivery.Method.Reliable() {
		return nil
	}
	select {
	case <-q.Done():
		return protocol.ErrConnectionClosed
	default:
		return protocol.ErrMessageQueueFull
	}
}

// control enqueues a connection event, waiting in the background when q is
// full so the caller never blocks.
func control(q *protocol.EventQueue, ev protocol.Event) {
	if !q.Offer(ev) {
		go q.Push(ev)
	}
}
