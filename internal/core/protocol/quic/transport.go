package quic

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quic-go/quic-go"

	"github.com/zeusync/replinet/internal/core/observability/log"
	"github.com/zeusync/replinet/internal/core/protocol"
)

// Config holds QUIC-specific settings.
type Config struct {
	MaxIdleTimeout       time.Duration
	KeepAlivePeriod      time.Duration
	HandshakeIdleTimeout time.Duration
	MaxIncomingUniStream int64
	Linger               time.Duration

	MaxMessageSize int
	EventQueueSize int
	SendQueueSize  int

	// ServerTLS is generated on first Listen when nil.
	ServerTLS *tls.Config
	ClientTLS *tls.Config
}

func DefaultConfig() *Config {
	return &Config{
		MaxIdleTimeout:       DefaultIdleTimeout,
		KeepAlivePeriod:      DefaultKeepAlive,
		HandshakeIdleTimeout: 10 * time.Second,
		MaxIncomingUniStream: 1000,
		Linger:               DefaultLinger,
		MaxMessageSize:       protocol.DefaultMaxMessageSize,
		EventQueueSize:       protocol.DefaultEventQueueSize,
		SendQueueSize:        protocol.DefaultSendQueueSize,
	}
}

// Provider is the QUIC protocol.Provider.
type Provider struct {
	config *Config
	logger log.Log

	tlsMu sync.Mutex
}

var _ protocol.Provider = (*Provider)(nil)

func New(config *Config, logger log.Log) *Provider {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = log.Provide()
	}
	return &Provider{
		config: config,
		logger: logger.With(log.String("transport", Name)),
	}
}

func (p *Provider) Name() string {
	return Name
}

func (p *Provider) Listen(ctx context.Context, opts protocol.ListenOptions) (protocol.ListeningSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tlsConfig, err := p.serverTLS()
	if err != nil {
		return nil, protocol.WrapError(err, "failed to generate TLS certificate")
	}

	ln, err := quic.ListenAddr(opts.Addr(), tlsConfig, p.quicConfig())
	if err != nil {
		p.logger.Error("Failed to create QUIC listener", log.String("addr", opts.Addr()), log.Error(err))
		return nil, protocol.WrapError(err, "failed to create QUIC listener")
	}

	l := newListener(ln, opts, p.config, p.logger)
	p.logger.Info("QUIC listener created", log.String("addr", ln.Addr().String()))
	go l.acceptLoop()
	return l, nil
}

// Connect returns immediately; the handshake completes in the background and
// is reported by Connected and an EventConnected.
func (p *Provider) Connect(ctx context.Context, host string, port int) (protocol.RemoteSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tlsConfig := p.config.ClientTLS
	if tlsConfig == nil {
		tlsConfig = clientTLS()
	}
	tlsConfig = tlsConfig.Clone()
	if tlsConfig.ServerName == "" {
		tlsConfig.ServerName = host
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	r := newRemote(p.config, p.logger.With(log.String("remote_addr", addr)))
	go r.dial(ctx, addr, tlsConfig, p.quicConfig())
	return r, nil
}

func (p *Provider) serverTLS() (*tls.Config, error) {
	p.tlsMu.Lock()
	defer p.tlsMu.Unlock()
	if p.config.ServerTLS == nil {
		generated, err := GenerateSelfSignedTLS()
		if err != nil {
			return nil, err
		}
		p.config.ServerTLS = generated
	}
	return p.config.ServerTLS, nil
}

func (p *Provider) quicConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:        p.config.MaxIdleTimeout,
		KeepAlivePeriod:       p.config.KeepAlivePeriod,
		HandshakeIdleTimeout:  p.config.HandshakeIdleTimeout,
		MaxIncomingUniStreams: p.config.MaxIncomingUniStream,
		EnableDatagrams:       true,
	}
}

func newSessionID(kind string) string {
	return fmt.Sprintf("%s-%s-%s", Name, kind, uuid.NewString())
}
