package endpoint

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeusync/replinet/internal/core/dispatch"
	"github.com/zeusync/replinet/internal/core/events/bus"
	"github.com/zeusync/replinet/internal/core/handler"
	"github.com/zeusync/replinet/internal/core/observability/log"
	"github.com/zeusync/replinet/internal/core/protocol"
	"github.com/zeusync/replinet/internal/core/replication"
)

// Client connects to one server, performs the handshake and keeps proxies of
// the entities the server replicates to it.
type Client struct {
	*Endpoint

	config    ClientConfig
	provider  protocol.Provider
	remote    protocol.RemoteSession
	spawns    *dispatch.Table[replication.Entity]
	directory *replication.ClientDirectory

	startedAt time.Time
	requested bool
	accepted  atomic.Bool

	mu               sync.RWMutex
	hostName         string
	serverTickRate   int
	offset           time.Duration
	rejectReason     string
	disconnectReason string
}

var _ replication.Outbox = (*Client)(nil)

func NewClient(config ClientConfig, provider protocol.Provider, types *protocol.Registry, opts ...Option) (*Client, error) {
	if provider == nil {
		return nil, protocol.ErrNoProvider
	}
	o := buildOptions("client", opts)

	c := &Client{config: config, provider: provider}
	e, err := newEndpoint("client", config.Config, types, o, c)
	if err != nil {
		return nil, err
	}
	c.Endpoint = e
	c.spawns = dispatch.NewTable[replication.Entity](dispatch.CategorySpawn, e.types, o.Catalog, e.logger)
	c.directory = replication.NewClientDirectory(c.spawns, e.logger)

	handler.Add(e.handlers, c.handleConnectResponse)
	handler.Add(e.handlers, c.handleRemoval)
	e.metrics.Gauge("connected", func() float64 {
		if c.accepted.Load() {
			return 1
		}
		return 0
	})
	return c, nil
}

// Spawns is the table that builds proxies from spawn messages. Explicit
// bindings must be added before the first spawn arrives.
func (c *Client) Spawns() *dispatch.Table[replication.Entity] {
	return c.spawns
}

func (c *Client) Directory() *replication.ClientDirectory {
	return c.directory
}

// Connected reports whether the server accepted the handshake.
func (c *Client) Connected() bool {
	return c.accepted.Load()
}

func (c *Client) HostName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hostName
}

// ServerTickRate is the tick rate the server announced.
func (c *Client) ServerTickRate() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverTickRate
}

// Offset is local time minus server time, measured at the handshake.
func (c *Client) Offset() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offset
}

// ServerTime estimates the server clock.
func (c *Client) ServerTime() time.Time {
	return c.clock.Now().Add(-c.Offset())
}

// RejectReason is the server's reason for refusing the handshake.
func (c *Client) RejectReason() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rejectReason
}

// DisconnectReason explains why the session ended.
func (c *Client) DisconnectReason() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.disconnectReason
}

func (c *Client) OnConnected(fn func(Connected) error) (bus.Subscription, error) {
	return subscribe(c.bus, TopicConnected, fn)
}

func (c *Client) OnRejected(fn func(Rejected) error) (bus.Subscription, error) {
	return subscribe(c.bus, TopicRejected, fn)
}

func (c *Client) setDisconnectReason(reason string) {
	c.mu.Lock()
	if c.disconnectReason == "" {
		c.disconnectReason = reason
	}
	c.mu.Unlock()
}

func (c *Client) handleConnectResponse(_ protocol.PeerID, resp protocol.ConnectResponse) error {
	if c.accepted.Load() {
		c.logger.Debug("Ignoring repeated connect response")
		return nil
	}

	if !resp.Accepted {
		c.mu.Lock()
		c.rejectReason = resp.Message
		c.mu.Unlock()
		c.setDisconnectReason(resp.Message)
		c.logger.Warn("Connection rejected", log.String("reason", resp.Message))
		err := c.publish(TopicRejected, Rejected{Reason: resp.Message})
		c.Shutdown()
		return err
	}

	now := c.clock.Now()
	report, err := c.types.Adopt(resp.Schema)
	if err != nil {
		c.setDisconnectReason("invalid server schema")
		c.Shutdown()
		return fmt.Errorf("adopt server schema: %w", err)
	}
	if len(report.Missing) > 0 || len(report.Unknown) > 0 {
		c.logger.Warn("Message schema differs from server",
			log.Strings("missing_on_server", report.Missing),
			log.Strings("unknown_locally", report.Unknown))
	}

	c.mu.Lock()
	c.hostName = resp.HostName
	c.serverTickRate = resp.TickRate
	c.offset = now.Sub(resp.ServerClock())
	c.mu.Unlock()
	c.accepted.Store(true)

	c.logger.Info("Connected",
		log.String("host_name", resp.HostName),
		log.Int("tick_rate", resp.TickRate),
		log.Duration("offset", c.Offset()),
		log.Int("remapped_types", report.Remapped),
		log.Uint64("fingerprint", resp.Fingerprint))

	return c.publish(TopicConnected, Connected{
		HostName: resp.HostName,
		TickRate: resp.TickRate,
		Remapped: report.Remapped,
	})
}

func (c *Client) handleRemoval(_ protocol.PeerID, notice protocol.RemovalNotice) error {
	removed := c.directory.Remove(notice.IDs)
	c.logger.Debug("Proxies removed", log.Int("requested", len(notice.IDs)), log.Int("removed", removed))
	return nil
}

func (c *Client) category() string {
	return dispatch.CategoryClientHandle
}

func (c *Client) start(ctx context.Context) (protocol.Session, error) {
	remote, err := c.provider.Connect(ctx, c.config.Host, c.config.Port)
	if err != nil {
		return nil, err
	}
	c.remote = remote
	c.startedAt = c.clock.Now()
	c.logger.Info("Connecting",
		log.String("transport", c.provider.Name()),
		log.String("host", c.config.Host),
		log.Int("port", c.config.Port))
	return remote, nil
}

func (c *Client) connected(protocol.PeerID) error {
	c.logger.Debug("Transport connected")
	return nil
}

func (c *Client) disconnected(_ protocol.PeerID, reason string, err error) error {
	c.setDisconnectReason(reason)
	c.directory.Clear()
	c.accepted.Store(false)
	c.logger.Info("Disconnected", log.String("reason", reason), log.Error(err))
	c.Shutdown()
	if err != nil {
		return fmt.Errorf("disconnected from server (%s): %w", reason, err)
	}
	return nil
}

// admit lets only ConnectResponse through until the handshake completes.
func (c *Client) admit(peer protocol.PeerID, msg protocol.Message) bool {
	if peer != c.remote.Server() {
		return false
	}
	if c.accepted.Load() {
		return true
	}
	_, isResponse := msg.(protocol.ConnectResponse)
	return isResponse
}

func (c *Client) route(sender protocol.PeerID, msg protocol.EntityMessage) error {
	return c.directory.Route(sender, msg)
}

func (c *Client) tick(_ context.Context, t replication.Tick) error {
	if !c.accepted.Load() {
		return c.handshake()
	}

	var errs []error
	for e := range c.directory.Entities().Seq() {
		ticker, ok := e.(replication.ClientTicker)
		if !ok {
			continue
		}
		if err := ticker.ClientTick(t, c); err != nil {
			errs = append(errs, fmt.Errorf("proxy %s: %w", e.ID(), err))
		}
	}
	return errors.Join(errs...)
}

// handshake sends the connect request once the transport is up and gives up
// after ConnectTimeout.
func (c *Client) handshake() error {
	if !c.requested && c.remote.Connected() {
		req := protocol.ConnectRequest{
			ProtocolVersion: c.config.ProtocolVersion,
			UserID:          c.config.UserID,
			DisplayName:     c.config.DisplayName,
			Platform:        runtime.GOOS + "/" + runtime.GOARCH,
			Payload:         c.config.Payload,
		}
		if err := c.Send(c.remote.Server(), req); err != nil {
			return err
		}
		c.requested = true
		return nil
	}

	if c.config.ConnectTimeout > 0 && c.clock.Now().Sub(c.startedAt) >= c.config.ConnectTimeout {
		c.setDisconnectReason(protocol.ErrConnectTimeout.Error())
		c.Shutdown()
		return fmt.Errorf("%w after %s", protocol.ErrConnectTimeout, c.config.ConnectTimeout)
	}
	return nil
}

func (c *Client) stop() {
	c.directory.Clear()
	c.accepted.Store(false)
}
