package tcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/zeusync/replinet/internal/core/observability/log"
	"github.com/zeusync/replinet/internal/core/protocol"
)

type listener struct {
	id       string
	ln       net.Listener
	opts     protocol.ListenOptions
	config   *Config
	events   *protocol.EventQueue
	peers    *xsync.MapOf[protocol.PeerID, *connection]
	nextPeer atomic.Uint32
	closed   atomic.Bool
	wg       sync.WaitGroup
	logger   log.Log
}

var _ protocol.ListeningSession = (*listener)(nil)

func newListener(ln net.Listener, opts protocol.ListenOptions, config *Config, logger log.Log) *listener {
	id := newSessionID("listener")
	return &listener{
		id:     id,
		ln:     ln,
		opts:   opts,
		config: config,
		events: protocol.NewEventQueue(config.EventQueueSize),
		peers:  xsync.NewMapOf[protocol.PeerID, *connection](),
		logger: logger.With(log.String("session", id)),
	}
}

func (l *listener) acceptLoop() {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				l.logger.Error("Failed to accept TCP connection", log.Error(err))
			}
			return
		}
		if l.closed.Load() || (l.opts.MaxConnections > 0 && l.peers.Size() >= l.opts.MaxConnections) {
			// a close frame tells the client why
			c := newConnection(0, conn, nil, l.config, l.logger, nil)
			_ = c.writeFrame(frameClose, []byte(protocol.ErrMaxConnectionsReached.Error()))
			_ = conn.Close()
			continue
		}

		peer := protocol.PeerID(l.nextPeer.Add(1))
		c := newConnection(peer, conn, l.events, l.config, l.logger, l.forget)
		l.peers.Store(peer, c)
		l.wg.Add(1)

		l.logger.Info("TCP connection accepted", log.String("peer", peer.String()), log.String("remote_addr", conn.RemoteAddr().String()))
		l.events.Push(protocol.Event{Kind: protocol.EventConnected, Peer: peer})
		c.start()
	}
}

func (l *listener) forget(c *connection, reason string, err error) {
	defer l.wg.Done()
	l.peers.Delete(c.peer)
	l.events.Push(protocol.Event{Kind: protocol.EventDisconnected, Peer: c.peer, Reason: reason, Err: err})
}

func (l *listener) ID() string {
	return l.id
}

func (l *listener) Addr() net.Addr {
	return l.ln.Addr()
}

func (l *listener) Poll(max int) []protocol.Event {
	return l.events.Poll(max)
}

func (l *listener) Send(peer protocol.PeerID, frame []byte, delivery protocol.Delivery) error {
	c, ok := l.peers.Load(peer)
	if !ok {
		return fmt.Errorf("%w: %s", protocol.ErrPeerNotFound, peer)
	}
	return c.send(frame, delivery)
}

func (l *listener) Disconnect(peer protocol.PeerID, reason string) error {
	c, ok := l.peers.Load(peer)
	if !ok {
		return fmt.Errorf("%w: %s", protocol.ErrPeerNotFound, peer)
	}
	c.disconnect(reason)
	return nil
}

func (l *listener) Peers() []protocol.PeerID {
	out := make([]protocol.PeerID, 0, l.peers.Size())
	l.peers.Range(func(peer protocol.PeerID, _ *connection) bool {
		out = append(out, peer)
		return true
	})
	slices.Sort(out)
	return out
}

func (l *listener) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := l.ln.Close()

	l.peers.Range(func(_ protocol.PeerID, c *connection) bool {
		c.disconnect("server closed")
		return true
	})

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * l.config.Linger):
		l.logger.Warn("TCP peers did not finish in time")
	}
	l.events.Close()
	return err
}

type remote struct {
	id        string
	config    *Config
	events    *protocol.EventQueue
	connected atomic.Bool
	logger    log.Log

	mu     sync.Mutex
	conn   *connection
	closed bool
	cancel context.CancelFunc
}

var _ protocol.RemoteSession = (*remote)(nil)

func newRemote(config *Config, logger log.Log) *remote {
	id := newSessionID("client")
	return &remote{
		id:     id,
		config: config,
		events: protocol.NewEventQueue(config.EventQueueSize),
		logger: logger.With(log.String("session", id)),
	}
}

func (r *remote) dial(ctx context.Context, addr string) {
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		cancel()
		return
	}
	r.cancel = cancel
	r.mu.Unlock()
	defer cancel()

	d := net.Dialer{Timeout: r.config.DialTimeout, KeepAlive: r.config.KeepAlive}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		r.logger.Error("TCP dial failed", log.Error(err))
		r.events.Push(protocol.Event{
			Kind:   protocol.EventDisconnected,
			Peer:   protocol.ServerPeer,
			Reason: "connect failed",
			Err:    pkgerrors.Wrap(err, "tcp dial"),
		})
		return
	}

	c := newConnection(protocol.ServerPeer, conn, r.events, r.config, r.logger, r.lost)
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = conn.Close()
		return
	}
	r.conn = c
	r.mu.Unlock()

	r.connected.Store(true)
	r.events.Push(protocol.Event{Kind: protocol.EventConnected, Peer: protocol.ServerPeer})
	c.start()
}

func (r *remote) lost(_ *connection, reason string, err error) {
	r.connected.Store(false)
	r.events.Push(protocol.Event{Kind: protocol.EventDisconnected, Peer: protocol.ServerPeer, Reason: reason, Err: err})
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
	return r.events.Poll(max)
}

func (r *remote) Send(peer protocol.PeerID, frame []byte, delivery protocol.Delivery) error {
	if peer != protocol.ServerPeer {
		return protocol.ErrPeerNotFound
	}
	r.mu.Lock()
	c := r.conn
	r.mu.Unlock()
	if c == nil || !r.connected.Load() {
		return protocol.ErrConnectionClosed
	}
	return c.send(frame, delivery)
}

func (r *remote) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	c, cancel := r.conn, r.cancel
	r.mu.Unlock()

	if c != nil {
		c.disconnect("client closed")
		<-c.finished
	} else if cancel != nil {
		cancel()
	}
	r.events.Close()
	return nil
}
