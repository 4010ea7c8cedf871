package quic

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/zeusync/replinet/internal/core/observability/log"
	"github.com/zeusync/replinet/internal/core/protocol"
)

// Every unidirectional stream starts with one byte naming its purpose.
const (
	streamData    byte = 0
	streamGoodbye byte = 1
)

// Application error codes used with CloseWithError.
const (
	codeNormal quic.ApplicationErrorCode = 0
	codeFull   quic.ApplicationErrorCode = 1
)

// connection moves packets between one quic.Conn and the owning session's
// event queue. A writer goroutine drains the send queue; reader goroutines
// feed the event queue.
type connection struct {
	peer   protocol.PeerID
	conn   *quic.Conn
	events *protocol.EventQueue
	sends  *protocol.SendQueue
	seq    *protocol.Sequencing
	config *Config
	logger log.Log

	readers sync.WaitGroup

	mu       sync.Mutex
	reason   string
	draining bool

	finished chan struct{}
	once     sync.Once
	onFinish func(c *connection, reason string, err error)
}

func newConnection(peer protocol.PeerID, conn *quic.Conn, events *protocol.EventQueue, config *Config, logger log.Log, onFinish func(*connection, string, error)) *connection {
	return &connection{
		peer:     peer,
		conn:     conn,
		events:   events,
		sends:    protocol.NewSendQueue(config.SendQueueSize),
		seq:      protocol.NewSequencing(),
		config:   config,
		logger:   logger.With(log.String("peer", peer.String())),
		finished: make(chan struct{}),
		onFinish: onFinish,
	}
}

func (c *connection) start() {
	go c.writeLoop()
	go c.acceptStreams()
	go c.readDatagrams()
	go c.watch()
}

func (c *connection) send(frame []byte, delivery protocol.Delivery) error {
	if len(frame) > c.config.MaxMessageSize {
		return fmt.Errorf("%w: %d bytes", protocol.ErrMessageTooLarge, len(frame))
	}
	return c.sends.Enqueue(c.seq.Stamp(delivery), frame)
}

// disconnect flushes queued packets, tells the peer reason and closes.
func (c *connection) disconnect(reason string) {
	c.mu.Lock()
	if c.reason == "" {
		c.reason = reason
	}
	c.mu.Unlock()
	c.sends.Close()
}

func (c *connection) closeReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// finish reports the end of the connection exactly once.
func (c *connection) finish(reason string, err error) {
	c.once.Do(func() {
		c.sends.Close()
		close(c.finished)
		_ = c.conn.CloseWithError(codeNormal, reason)
		c.logger.Debug("QUIC connection finished", log.String("reason", reason), log.Error(err))
		if c.onFinish != nil {
			c.onFinish(c, reason, err)
		}
	})
}

// watch reports a connection lost without a goodbye.
func (c *connection) watch() {
	<-c.conn.Context().Done()
	cause := context.Cause(c.conn.Context())
	reason := "connection lost"
	var appErr *quic.ApplicationError
	if errors.As(cause, &appErr) && appErr.ErrorMessage != "" {
		reason = appErr.ErrorMessage
	}
	if local := c.closeReason(); local != "" {
		reason = local
	}
	c.finish(reason, cause)
}

func (c *connection) writeLoop() {
	streams := make(map[protocol.Delivery]*quic.SendStream)
	defer func() {
		for _, s := range streams {
			_ = s.Close()
		}
	}()

	for {
		select {
		case p := <-c.sends.Packets():
			if err := c.write(streams, p); err != nil {
				c.logger.Warn("QUIC write failed", log.Error(err))
				c.finish("write failed", err)
				return
			}
		case <-c.sends.Done():
			for _, p := range c.sends.Drain() {
				if err := c.write(streams, p); err != nil {
					c.finish("write failed", err)
					return
				}
			}
			select {
			case <-c.finished:
				return
			default:
			}
			c.goodbye(streams)
			return
		}
	}
}

func (c *connection) write(streams map[protocol.Delivery]*quic.SendStream, p protocol.Packet) error {
	packet := protocol.AppendPacket(nil, p.Header, p.Frame)
	method := p.Header.Delivery.Method

	if !method.Reliable() {
		err := c.conn.SendDatagram(packet)
		var tooLarge *quic.DatagramTooLargeError
		if err == nil || !errors.As(err, &tooLarge) {
			return err
		}
		// too large for a datagram, fall through to a stream
	}

	if method == protocol.ReliableUnordered {
		s, err := c.openStream()
		if err != nil {
			return err
		}
		if err = writeFrame(s, packet); err != nil {
			return err
		}
		return s.Close()
	}

	s, ok := streams[p.Header.Delivery]
	if !ok {
		var err error
		if s, err = c.openStream(); err != nil {
			return err
		}
		streams[p.Header.Delivery] = s
	}
	return writeFrame(s, packet)
}

func (c *connection) openStream() (*quic.SendStream, error) {
	ctx, cancel := context.WithTimeout(c.conn.Context(), c.config.HandshakeIdleTimeout)
	defer cancel()
	s, err := c.conn.OpenUniStreamSync(ctx)
	if err != nil {
		return nil, protocol.WrapError(err, "failed to open QUIC stream")
	}
	if _, err = s.Write([]byte{streamData}); err != nil {
		return nil, err
	}
	return s, nil
}

// goodbye closes every data stream, sends the reason on a final stream and
// waits for the peer to hang up.
func (c *connection) goodbye(streams map[protocol.Delivery]*quic.SendStream) {
	for d, s := range streams {
		_ = s.Close()
		delete(streams, d)
	}

	reason := c.closeReason()
	ctx, cancel := context.WithTimeout(c.conn.Context(), c.config.Linger)
	defer cancel()

	s, err := c.conn.OpenUniStreamSync(ctx)
	if err == nil {
		_, err = s.Write(append([]byte{streamGoodbye}, reason...))
		_ = s.Close()
	}
	if err != nil {
		c.finish(reason, err)
		return
	}

	select {
	case <-c.conn.Context().Done():
	case <-ctx.Done():
	}
	c.finish(reason, nil)
}

func (c *connection) acceptStreams() {
	for {
		s, err := c.conn.AcceptUniStream(c.conn.Context())
		if err != nil {
			return
		}

		var kind [1]byte
		if _, err = io.ReadFull(s, kind[:]); err != nil {
			continue
		}

		switch kind[0] {
		case streamData:
			if !c.trackReader() {
				s.CancelRead(0)
				continue
			}
			go c.readStream(s)
		case streamGoodbye:
			go c.readGoodbye(s)
		default:
			c.logger.Warn("Unknown QUIC stream kind", log.Uint8("kind", kind[0]))
			s.CancelRead(0)
		}
	}
}

// trackReader counts a new data stream reader. Once the goodbye arrived no
// further readers are counted and it returns false.
func (c *connection) trackReader() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.draining {
		return false
	}
	c.readers.Add(1)
	return true
}

func (c *connection) stopReaders() {
	c.mu.Lock()
	c.draining = true
	c.mu.Unlock()
}

func (c *connection) readStream(s *quic.ReceiveStream) {
	defer c.readers.Done()
	for {
		packet, err := readFrame(s, c.config.MaxMessageSize+protocol.HeaderSize)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.logger.Debug("QUIC stream closed", log.Error(err))
			}
			return
		}
		if !c.deliver(packet) {
			return
		}
	}
}

// readGoodbye waits until the data streams opened before the goodbye are
// fully read, then reports the disconnect with the peer's reason.
func (c *connection) readGoodbye(s *quic.ReceiveStream) {
	reason, err := io.ReadAll(io.LimitReader(s, 4096))
	if err != nil {
		return
	}

	c.stopReaders()
	done := make(chan struct{})
	go func() {
		c.readers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(c.config.Linger):
	}

	c.mu.Lock()
	c.reason = string(reason)
	c.mu.Unlock()
	c.finish(string(reason), nil)
}

func (c *connection) readDatagrams() {
	for {
		packet, err := c.conn.ReceiveDatagram(c.conn.Context())
		if err != nil {
			return
		}
		c.deliver(packet)
	}
}

// deliver parses packet and queues it. It returns false once the event queue
// is closed.
func (c *connection) deliver(packet []byte) bool {
	h, frame, err := protocol.ParsePacket(packet)
	if err != nil {
		c.logger.Warn("Dropping malformed QUIC packet", log.Error(err))
		return true
	}
	if !c.seq.Accept(h) {
		return true
	}
	ev := protocol.Event{Kind: protocol.EventData, Peer: c.peer, Data: frame, Delivery: h.Delivery}
	if c.events.Deliver(ev) {
		return true
	}
	select {
	case <-c.events.Done():
		return false
	default:
		return true
	}
}

func writeFrame(w io.Writer, packet []byte) error {
	var size [4]byte
	binary.BigEndian.PutUint32(size[:], uint32(len(packet)))
	if _, err := w.Write(size[:]); err != nil {
		return err
	}
	_, err := w.Write(packet)
	return err
}

func readFrame(r io.Reader, limit int) ([]byte, error) {
	var size [4]byte
	if _, err := io.ReadFull(r, size[:]); err != nil {
		return nil, err
	}
	n := int(binary.BigEndian.Uint32(size[:]))
	if n > limit {
		return nil, fmt.Errorf("%w: %d byte frame", protocol.ErrMessageTooLarge, n)
	}
	packet := make([]byte, n)
	if _, err := io.ReadFull(r, packet); err != nil {
		return nil, err
	}
	return packet, nil
}
