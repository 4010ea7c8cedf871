package websocket

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/zeusync/replinet/internal/core/observability/log"
	"github.com/zeusync/replinet/internal/core/protocol"
)

type listener struct {
	id       string
	ln       net.Listener
	server   *http.Server
	upgrader websocket.Upgrader
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
	l := &listener{
		id:     id,
		ln:     ln,
		opts:   opts,
		config: config,
		events: protocol.NewEventQueue(config.EventQueueSize),
		peers:  xsync.NewMapOf[protocol.PeerID, *connection](),
		logger: logger.With(log.String("session", id)),
		upgrader: websocket.Upgrader{
			ReadBufferSize:    config.BufferSize,
			WriteBufferSize:   config.BufferSize,
			HandshakeTimeout:  config.HandshakeTimeout,
			EnableCompression: config.EnableCompression,
			CheckOrigin:       config.CheckOrigin,
		},
	}
	if l.upgrader.CheckOrigin == nil {
		l.upgrader.CheckOrigin = func(*http.Request) bool { return true }
	}

	mux := http.NewServeMux()
	mux.HandleFunc(Path, l.handleUpgrade)
	l.server = &http.Server{Handler: mux, ReadHeaderTimeout: config.HandshakeTimeout}
	return l
}

func (l *listener) serve() {
	if err := l.server.Serve(l.ln); err != nil && err != http.ErrServerClosed {
		l.logger.Error("WebSocket server stopped", log.Error(err))
	}
}

func (l *listener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if l.closed.Load() {
		http.Error(w, "server closed", http.StatusServiceUnavailable)
		return
	}
	if l.opts.MaxConnections > 0 && l.peers.Size() >= l.opts.MaxConnections {
		http.Error(w, protocol.ErrMaxConnectionsReached.Error(), http.StatusServiceUnavailable)
		return
	}

	ws, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.logger.Error("WebSocket upgrade failed", log.Error(err))
		return
	}

	peer := protocol.PeerID(l.nextPeer.Add(1))
	c := newConnection(peer, ws, l.events, l.config, l.logger, l.forget)
	l.peers.Store(peer, c)
	l.wg.Add(1)

	l.logger.Info("Client connected", log.String("peer", peer.String()), log.String("remote_addr", r.RemoteAddr))
	l.events.Push(protocol.Event{Kind: protocol.EventConnected, Peer: peer})
	c.start()
}

func (l *listener) forget(c *connection, reason string, err error) {
	defer l.wg.Done()
	l.peers.Delete(c.peer)
	l.logger.Info("Client disconnected", log.String("peer", c.peer.String()), log.String("reason", reason))
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
	l.logger.Info("Closing WebSocket listener")

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
		l.logger.Warn("WebSocket peers did not finish in time")
	}

	ctx, cancel := context.WithTimeout(context.Background(), l.config.WriteTimeout)
	defer cancel()
	err := l.server.Shutdown(ctx)
	l.events.Close()
	return err
}
