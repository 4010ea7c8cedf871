package quic

import (
	"context"
	"crypto/tls"
	"sync"
	"sync/atomic"

	"github.com/quic-go/quic-go"

	"github.com/zeusync/replinet/internal/core/observability/log"
	"github.com/zeusync/replinet/internal/core/protocol"
)

// remote is the client side RemoteSession.
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
	done   chan struct{}
}

var _ protocol.RemoteSession = (*remote)(nil)

func newRemote(config *Config, logger log.Log) *remote {
	id := newSessionID("client")
	return &remote{
		id:     id,
		config: config,
		events: protocol.NewEventQueue(config.EventQueueSize),
		logger: logger.With(log.String("session", id)),
		done:   make(chan struct{}),
	}
}

func (r *remote) dial(ctx context.Context, addr string, tlsConfig *tls.Config, quicConfig *quic.Config) {
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

	conn, err := quic.DialAddr(ctx, addr, tlsConfig, quicConfig)
	if err != nil {
		r.logger.Error("Failed to dial QUIC connection", log.String("addr", addr), log.Error(err))
		r.events.Push(protocol.Event{
			Kind:   protocol.EventDisconnected,
			Peer:   protocol.ServerPeer,
			Reason: "connect failed",
			Err:    protocol.WrapError(err, "failed to dial QUIC connection"),
		})
		close(r.done)
		return
	}

	c := newConnection(protocol.ServerPeer, conn, r.events, r.config, r.logger, r.lost)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = conn.CloseWithError(codeNormal, "client closed")
		close(r.done)
		return
	}
	r.conn = c
	r.mu.Unlock()

	r.logger.Info("QUIC connection established",
		log.String("local_addr", conn.LocalAddr().String()),
		log.String("remote_addr", conn.RemoteAddr().String()))
	r.connected.Store(true)
	r.events.Push(protocol.Event{Kind: protocol.EventConnected, Peer: protocol.ServerPeer})
	c.start()
}

func (r *remote) lost(_ *connection, reason string, err error) {
	r.connected.Store(false)
	r.events.Push(protocol.Event{Kind: protocol.EventDisconnected, Peer: protocol.ServerPeer, Reason: reason, Err: err})
	close(r.done)
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

// Close says goodbye to the server and waits, up to the linger time, for the
// connection to finish.
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
		select {
		case <-r.done:
		case <-c.finished:
		}
	} else if cancel != nil {
		cancel()
	}
	r.events.Close()
	return nil
}
