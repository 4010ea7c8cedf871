package tcp

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/smallnest/goframe"

	"github.com/zeusync/replinet/internal/core/observability/log"
	"github.com/zeusync/replinet/internal/core/protocol"
)

// The first byte of every frame.
const (
	frameData  byte = 0
	frameClose byte = 1
)

type connection struct {
	peer   protocol.PeerID
	conn   net.Conn
	frames goframe.FrameConn
	events *protocol.EventQueue
	sends  *protocol.SendQueue
	config *Config
	logger log.Log

	mu     sync.Mutex
	reason string

	readDone chan struct{}
	finished chan struct{}
	once     sync.Once
	onFinish func(c *connection, reason string, err error)
}

func newConnection(peer protocol.PeerID, conn net.Conn, events *protocol.EventQueue, config *Config, logger log.Log, onFinish func(*connection, string, error)) *connection {
	return &connection{
		peer:     peer,
		conn:     conn,
		frames:   frameConn(conn),
		events:   events,
		sends:    protocol.NewSendQueue(config.SendQueueSize),
		config:   config,
		logger:   logger.With(log.String("peer", peer.String())),
		readDone: make(chan struct{}),
		finished: make(chan struct{}),
		onFinish: onFinish,
	}
}

func (c *connection) start() {
	go c.readLoop()
	go c.writeLoop()
}

func (c *connection) send(frame []byte, delivery protocol.Delivery) error {
	if len(frame) > c.config.MaxMessageSize {
		return fmt.Errorf("%w: %d bytes", protocol.ErrMessageTooLarge, len(frame))
	}
	// TCP keeps order, so sequence numbers are never checked
	return c.sends.Enqueue(protocol.Header{Delivery: delivery}, frame)
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
		_ = c.frames.Close()
		c.logger.Debug("TCP connection finished", log.String("reason", reason), log.Error(err))
		if c.onFinish != nil {
			c.onFinish(c, reason, err)
		}
	})
}

func (c *connection) readLoop() {
	defer close(c.readDone)
	for {
		frame, err := c.frames.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				c.setReason("connection closed")
				c.finish(c.closeReason(), nil)
			} else {
				c.setReason("connection lost")
				c.finish(c.closeReason(), err)
			}
			return
		}
		if len(frame) == 0 {
			continue
		}

		switch frame[0] {
		case frameClose:
			c.setReason(string(frame[1:]))
			c.finish(c.closeReason(), nil)
			return
		case frameData:
			h, payload, err := protocol.ParsePacket(frame[1:])
			if err != nil {
				c.logger.Warn("Dropping malformed TCP packet", log.Error(err))
				continue
			}
			if !c.events.Deliver(protocol.Event{Kind: protocol.EventData, Peer: c.peer, Data: payload, Delivery: h.Delivery}) {
				select {
				case <-c.events.Done():
					return
				default:
				}
			}
		}
	}
}

func (c *connection) writeLoop() {
	for {
		select {
		case p := <-c.sends.Packets():
			if err := c.writeFrame(frameData, protocol.AppendPacket(nil, p.Header, p.Frame)); err != nil {
				c.finish("write failed", err)
				return
			}
		case <-c.sends.Done():
			for _, p := range c.sends.Drain() {
				if err := c.writeFrame(frameData, protocol.AppendPacket(nil, p.Header, p.Frame)); err != nil {
					c.finish("write failed", err)
					return
				}
			}
			c.goodbye()
			return
		}
	}
}

func (c *connection) writeFrame(kind byte, body []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	return c.frames.WriteFrame(append([]byte{kind}, body...))
}

// goodbye sends the close frame and waits for the peer to hang up.
func (c *connection) goodbye() {
	select {
	case <-c.finished:
		return
	default:
	}

	reason := c.closeReason()
	if err := c.writeFrame(frameClose, []byte(reason)); err != nil {
		c.finish(reason, err)
		return
	}
	if tc, ok := c.conn.(*net.TCPConn); ok {
		_ = tc.CloseWrite()
	}

	select {
	case <-c.readDone:
	case <-time.After(c.config.Linger):
	}
	c.finish(reason, nil)
}
