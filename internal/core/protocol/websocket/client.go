package websocket

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/zeusync/replinet/internal/core/observability/log"
	"github.com/zeusync/replinet/internal/core/protocol"
)

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

func (r *remote) dial(ctx context.Context, url string) {
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

	ws, resp, err := newDialer(r.config).DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		r.logger.Error("WebSocket dial failed", log.Error(err))
		r.events.Push(protocol.Event{
			Kind:   protocol.EventDisconnected,
			Peer:   protocol.ServerPeer,
			Reason: "connect failed",
			Err:    errors.Wrap(err, "websocket dial"),
		})
		return
	}

	c := newConnection(protocol.ServerPeer, ws, r.events, r.config, r.logger, r.lost)
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = ws.Close()
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
