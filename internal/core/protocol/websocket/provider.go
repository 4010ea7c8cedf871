// Package websocket carries replinet sessions over WebSocket connections,
// one binary message per packet. Every delivery method is reliable and
// ordered on this transport.
package websocket

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/zeusync/replinet/internal/core/observability/log"
	"github.com/zeusync/replinet/internal/core/protocol"
)

const (
	Name = "websocket"
	// Path is where the listener accepts upgrades.
	Path = "/replinet"
)

func init() {
	protocol.RegisterProvider(Name, func() protocol.Provider {
		return New(DefaultConfig(), nil)
	})
}

// Config holds WebSocket-specific settings.
type Config struct {
	BufferSize        int
	EnableCompression bool
	PingInterval      time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	HandshakeTimeout  time.Duration
	Linger            time.Duration

	MaxMessageSize int
	EventQueueSize int
	SendQueueSize  int

	// CheckOrigin guards upgrades; nil accepts every origin.
	CheckOrigin func(r *http.Request) bool
}

func DefaultConfig() *Config {
	return &Config{
		BufferSize:       4096,
		PingInterval:     15 * time.Second,
		ReadTimeout:      45 * time.Second,
		WriteTimeout:     10 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		Linger:           2 * time.Second,
		MaxMessageSize:   protocol.DefaultMaxMessageSize,
		EventQueueSize:   protocol.DefaultEventQueueSize,
		SendQueueSize:    protocol.DefaultSendQueueSize,
	}
}

// Provider is the WebSocket protocol.Provider.
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
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", opts.Addr())
	if err != nil {
		p.logger.Error("Failed to listen", log.String("addr", opts.Addr()), log.Error(err))
		return nil, errors.Wrap(err, "failed to listen for websocket connections")
	}

	l := newListener(ln, opts, p.config, p.logger)
	go l.serve()
	p.logger.Info("WebSocket listener started", log.String("address", ln.Addr().String()))
	return l, nil
}

// Connect returns immediately; the upgrade completes in the background and
// is reported by Connected and an EventConnected.
func (p *Provider) Connect(ctx context.Context, host string, port int) (protocol.RemoteSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u := url.URL{Scheme: "ws", Host: net.JoinHostPort(host, strconv.Itoa(port)), Path: Path}
	r := newRemote(p.config, p.logger.With(log.String("url", u.String())))
	go r.dial(ctx, u.String())
	return r, nil
}

func newDialer(config *Config) *websocket.Dialer {
	return &websocket.Dialer{
		HandshakeTimeout:  config.HandshakeTimeout,
		ReadBufferSize:    config.BufferSize,
		WriteBufferSize:   config.BufferSize,
		EnableCompression: config.EnableCompression,
	}
}

func newSessionID(kind string) string {
	return fmt.Sprintf("%s-%s-%s", Name, kind, uuid.NewString())
}
