package websocket

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zeusync/replinet/internal/core/observability/log"
	"github.com/zeusync/replinet/internal/core/protocol"
)

// connection pumps one websocket.Conn. writeLoop is the only writer of data
// frames; readLoop feeds the owning session's event queue.
type connection struct {
	peer   protocol.PeerID
	ws     *websocket.Conn
	events *protocol.EventQueue
	sends  *protocol.SendQueue
	seq    *protocol.Sequencing
	config *Config
	logger log.Log

	mu     sync.Mutex
	reason string

	readDone chan struct{}
	finished chan struct{}
	once     sync.Once
	onFinish func(c *connection, reason string, err error)
}

func newConnection(peer protocol.PeerID, ws *websocket.Conn, events *protocol.EventQueue, config *Config, logger log.Log, onFinish func(*connection, string, error)) *connection {
	return &connection{
		peer:     peer,
		ws:       ws,
		events:   events,
		sends:    protocol.NewSendQueue(config.SendQueueSize),
		seq:      protocol.NewSequencing(),
		config:   config,
		logger:   logger.With(log.String("peer", peer.String())),
		readDone: make(chan struct{}),
		finished: make(chan struct{}),
		onFinish: onFinish,
	}
}

func (c *connection) start() {
	c.ws.SetReadLimit(int64(c.config.MaxMessageSize + protocol.HeaderSize))
	_ = c.ws.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	})
	go c.readLoop()
	go c.writeLoop()
}

func (c *connection) send(frame []byte, delivery protocol.Delivery) error {
	if len(frame) > c.config.MaxMessageSize {
		return fmt.Errorf("%w: %d bytes", protocol.ErrMessageTooLarge, len(frame))
	}
	return c.sends.Enqueue(c.seq.Stamp(delivery), frame)
}

func (c *connection) disconnect(reason string) {
	c.setReason(reason)
	c.sends.Close()
}

func (c *connection) setReason(reason string) {
	c.mu.Lock()
	if c.reason == "" {
		c.reason = reason
	}
	c.mu.Unlock()
}

func (c *connection) closeReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

func (c *connection) finish(reason string, err error) {
	c.once.Do(func() {
		c.sends.Close()
		close(c.finished)
		_ = c.ws.Close()
		c.logger.Debug("WebSocket connection finished", log.String("reason", reason), log.Error(err))
		if c.onFinish != nil {
			c.onFinish(c, reason, err)
		}
	})
}

func (c *connection) readLoop() {
	defer close(c.readDone)
	for {
		kind, packet, err := c.ws.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			switch {
			case errors.As(err, &closeErr):
				c.setReason(closeErr.Text)
				c.finish(c.closeReason(), nil)
			default:
				c.setReason("connection lost")
				c.finish(c.closeReason(), err)
			}
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}

		h, frame, err := protocol.ParsePacket(packet)
		if err != nil {
			c.logger.Warn("Dropping malformed WebSocket packet", log.Error(err))
			continue
		}
		if !c.seq.Accept(h) {
			continue
		}
		if !c.events.Deliver(protocol.Event{Kind: protocol.EventData, Peer: c.peer, Data: frame, Delivery: h.Delivery}) {
			select {
			case <-c.events.Done():
				return
			default:
			}
		}
	}
}

func (c *connection) writeLoop() {
	ping := time.NewTicker(c.config.PingInterval)
	defer ping.Stop()

	for {
		select {
		case p := <-c.sends.Packets():
			if err := c.write(p); err != nil {
				c.finish("write failed", err)
				return
			}
		case <-ping.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.config.WriteTimeout)); err != nil {
				c.logger.Warn("Failed to send ping", log.Error(err))
			}
		case <-c.sends.Done():
			for _, p := range c.sends.Drain() {
				if err := c.write(p); err != nil {
					c.finish("write failed", err)
					return
				}
			}
			c.goodbye()
			return
		}
	}
}

func (c *connection) write(p protocol.Packet) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	return c.ws.WriteMessage(websocket.BinaryMessage, protocol.AppendPacket(nil, p.Header, p.Frame))
}

// goodbye sends a close frame carrying the reason and waits for the peer to
// answer before closing the socket.
func (c *connection) goodbye() {
	select {
	case <-c.finished:
		return
	default:
	}

	reason := c.closeReason()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	if err := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.config.WriteTimeout)); err != nil {
		c.finish(reason, err)
		return
	}

	select {
	case <-c.readDone:
	case <-time.After(c.config.Linger):
	}
	c.finish(reason, nil)
}
