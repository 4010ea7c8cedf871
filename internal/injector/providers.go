package injector

import (
	"github.com/google/wire"

	"github.com/zeusync/replinet/internal/arena"
	"github.com/zeusync/replinet/internal/config"
	"github.com/zeusync/replinet/internal/core/endpoint"
	"github.com/zeusync/replinet/internal/core/observability/log"
	"github.com/zeusync/replinet/internal/core/observability/metrics"
	"github.com/zeusync/replinet/internal/core/protocol"
	"github.com/zeusync/replinet/internal/core/protocol/quic"
	"github.com/zeusync/replinet/internal/core/protocol/tcp"
	"github.com/zeusync/replinet/internal/core/protocol/websocket"

	// registers the in-process provider for Discover
	_ "github.com/zeusync/replinet/internal/core/protocol/loopback"
)

// ServerApp is everything a server process runs.
type ServerApp struct {
	Config  *config.Config
	Logger  *log.Logger
	Metrics *metrics.Endpoint
	Server  *endpoint.Server
	Arena   *arena.Arena
}

// ClientApp is everything a client process runs.
type ClientApp struct {
	Config  *config.Config
	Logger  *log.Logger
	Metrics *metrics.Endpoint
	Client  *endpoint.Client
	Pilot   *arena.Pilot
}

var commonSet = wire.NewSet(
	ProvideLogger,
	protocol.NewInstaller,
	ProvideProvider,
	ProvideTypes,
)

var ServerSet = wire.NewSet(
	commonSet,
	ProvideServerMetrics,
	ProvideServer,
	ProvideArena,
	wire.Struct(new(ServerApp), "*"),
)

var ClientSet = wire.NewSet(
	commonSet,
	ProvideClientMetrics,
	ProvideClient,
	ProvidePilot,
	wire.Struct(new(ClientApp), "*"),
)

func ProvideLogger(c *config.Config) (*log.Logger, error) {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	cfg := log.DefaultConfig()
	cfg.Level = level
	return log.NewWithConfig(cfg), nil
}

// ProvideProvider builds the configured transport and installs it. The
// built-in transports take the overrides in c.Transport; any other name is
// discovered with its defaults.
func ProvideProvider(c *config.Config, installer *protocol.Installer, logger *log.Logger) (protocol.Provider, error) {
	t := c.Transport
	var p protocol.Provider
	switch t.Name {
	case quic.Name:
		qc := quic.DefaultConfig()
		override(&qc.Linger, t.Linger)
		override(&qc.MaxMessageSize, t.MaxMessageSize)
		override(&qc.SendQueueSize, t.SendQueueSize)
		override(&qc.EventQueueSize, t.EventQueueSize)
		p = quic.New(qc, logger)
	case websocket.Name:
		wc := websocket.DefaultConfig()
		override(&wc.Linger, t.Linger)
		override(&wc.MaxMessageSize, t.MaxMessageSize)
		override(&wc.SendQueueSize, t.SendQueueSize)
		override(&wc.EventQueueSize, t.EventQueueSize)
		p = websocket.New(wc, logger)
	case tcp.Name:
		tc := tcp.DefaultConfig()
		override(&tc.Linger, t.Linger)
		override(&tc.MaxMessageSize, t.MaxMessageSize)
		override(&tc.SendQueueSize, t.SendQueueSize)
		override(&tc.EventQueueSize, t.EventQueueSize)
		p = tcp.New(tc, logger)
	default:
		return installer.Discover(t.Name)
	}
	if err := installer.Install(p); err != nil {
		return nil, err
	}
	return p, nil
}

func override[T comparable](dst *T, v T) {
	var zero T
	if v != zero {
		*dst = v
	}
}

// ProvideTypes returns the message registry shared by both roles.
func ProvideTypes() (*protocol.Registry, error) {
	types := protocol.NewBuiltinRegistry()
	if err := arena.RegisterTypes(types); err != nil {
		return nil, err
	}
	return types, nil
}

func ProvideServerMetrics() *metrics.Endpoint {
	return metrics.NewEndpoint("server")
}

func ProvideClientMetrics() *metrics.Endpoint {
	return metrics.NewEndpoint("client")
}

func ProvideServer(c *config.Config, provider protocol.Provider, types *protocol.Registry, logger *log.Logger, m *metrics.Endpoint) (*endpoint.Server, error) {
	return endpoint.NewServer(c.Server, provider, types,
		endpoint.WithLogger(logger),
		endpoint.WithMetrics(m),
	)
}

func ProvideArena(s *endpoint.Server, logger *log.Logger) (*arena.Arena, error) {
	return arena.New(s, logger)
}

func ProvideClient(c *config.Config, provider protocol.Provider, types *protocol.Registry, logger *log.Logger, m *metrics.Endpoint) (*endpoint.Client, error) {
	return endpoint.NewClient(c.Client, provider, types,
		endpoint.WithLogger(logger),
		endpoint.WithMetrics(m),
	)
}

func ProvidePilot(c *config.Config, client *endpoint.Client) *arena.Pilot {
	return arena.NewPilot(client, c.Client.UserID)
}
