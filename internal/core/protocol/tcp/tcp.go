// Package tcp carries replinet sessions over plain TCP with length-prefixed
// frames. Every delivery method is reliable and ordered on this transport.
package tcp

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/smallnest/goframe"

	"github.com/zeusync/replinet/internal/core/observability/log"
	"github.com/zeusync/replinet/internal/core/protocol"
)

const Name = "tcp"

func init() {
	protocol.RegisterProvider(Name, func() protocol.Provider {
		return New(DefaultConfig(), nil)
	})
}

type Config struct {
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	KeepAlive    time.Duration
	Linger       time.Duration

	MaxMessageSize int
	EventQueueSize int
	SendQueueSize  int
}

func DefaultConfig() *Config {
	return &Config{
		DialTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		KeepAlive:      15 * time.Second,
		Linger:         2 * time.Second,
		MaxMessageSize: protocol.DefaultMaxMessageSize,
		EventQueueSize: protocol.DefaultEventQueueSize,
		SendQueueSize:  protocol.DefaultSendQueueSize,
	}
}

// Provider is the TCP protocol.Provider.
type Provider struct {
	config *Config
	logger log.Log
}

var _ protocol.Provider = (*Provider)(nil)

func New(config *Config, logger log.Log) *Provider {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = log.Provide()
	}
	return &Provider{config: config, logger: logger.With(log.String("transport", Name))}
}

func (p *Provider) Name() string {
	return Name
}

func (p *Provider) Listen(ctx context.Context, opts protocol.ListenOptions) (protocol.ListeningSession, error) {
	lc := net.ListenConfig{KeepAlive: p.config.KeepAlive}
	ln, err := lc.Listen(ctx, "tcp", opts.Addr())
	if err != nil {
		return nil, errors.Wrapf(err, "listen on %s", opts.Addr())
	}
	l := newListener(ln, opts, p.config, p.logger)
	go l.acceptLoop()
	p.logger.Info("TCP listener started", log.String("address", ln.Addr().String()))
	return l, nil
}

func (p *Provider) Connect(ctx context.Context, host string, port int) (protocol.RemoteSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	r := newRemote(p.config, p.logger.With(log.String("remote_addr", addr)))
	go r.dial(ctx, addr)
	return r, nil
}

// frameConn wraps conn in a 4-byte big-endian length prefix codec.
func frameConn(conn net.Conn) goframe.FrameConn {
	encoder := goframe.EncoderConfig{
		ByteOrder:                       binary.BigEndian,
		LengthFieldLength:               4,
		LengthAdjustment:                0,
		LengthIncludesLengthFieldLength: false,
	}
	decoder := goframe.DecoderConfig{
		ByteOrder:           binary.BigEndian,
		LengthFieldOffset:   0,
		LengthFieldLength:   4,
		LengthAdjustment:    0,
		InitialBytesToStrip: 4,
	}
	return goframe.NewLengthFieldBasedFrameConn(encoder, decoder, conn)
}

func newSessionID(kind string) string {
	return fmt.Sprintf("%s-%s-%s", Name, kind, uuid.NewString())
}
