package quic

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/quic-go/quic-go"

	"github.com/zeusync/replinet/internal/core/observability/log"
	"github.com/zeusync/replinet/internal/core/protocol"
)

// listener is the server side ListeningSession.
type listener struct {
	id       string
	ln       *quic.Listener
	opts     protocol.ListenOptions
	config   *Config
	events   *protocol.EventQueue
	peers    *xsync.MapOf[protocol.PeerID, *connection]
	nextPeer atomic.Uint32
	closed   atomic.Bool
	cancel   context.CancelFunc
	ctx      context.Context
	wg       sync.WaitGroup
	logger   log.Log
}

var _ protocol.ListeningSession = (*listener)(nil)

func newListener(ln *quic.Listener, opts protocol.ListenOptions, config *Config, logger log.Log) *listener {
	ctx, cancel := context.WithCancel(context.Background())
	id := newSessionID("listener")
	return &listener{
		id:     id,
		ln:     ln,
		opts:   opts,
		config: config,
		events: protocol.NewEventQueue(config.EventQueueSize),
		peers:  xsync.NewMapOf[protocol.PeerID, *connection](),
		ctx:    ctx,
		cancel: cancel,
		logger: logger.With(log.String("session", id), log.String("listener_addr", ln.Addr().String())),
	}
}

func (l *listener) acceptLoop() {
	for {
		conn, err := l.ln.Accept(l.ctx)
		if err != nil {
			if !l.closed.Load() && !errors.Is(err, context.Canceled) {
				l.logger.Error("Failed to accept QUIC connection", log.Error(err))
			}
			return
		}

		if l.closed.Load() {
			_ = conn.CloseWithError(codeNormal, "server closed")
			continue
		}
		if l.opts.MaxConnections > 0 && l.peers.Size() >= l.opts.MaxConnections {
			l.logger.Warn("Refusing QUIC connection, server full",
				log.String("remote_addr", conn.RemoteAddr().String()))
			_ = conn.CloseWithError(codeFull, protocol.ErrMaxConnectionsReached.Error())
			continue
		}

		peer := protocol.PeerID(l.nextPeer.Add(1))
		c := newConnection(peer, conn, l.events, l.config, l.logger, l.forget)
		l.peers.Store(peer, c)
		l.wg.Add(1)

		l.logger.Info("QUIC connection accepted",
			log.String("peer", peer.String()),
			log.String("remote_addr", conn.RemoteAddr().String()))
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

// Close says goodbye to every peer, waits for them to finish and stops
// accepting.
func (l *listener) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	l.logger.Info("Closing QUIC listener")

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
		l.logger.Warn("QUIC peers did not finish in time")
	}

	// closing a listener built by ListenAddr also closes its connections
	l.cancel()
	err := l.ln.Close()
	l.events.Close()
	return err
}
