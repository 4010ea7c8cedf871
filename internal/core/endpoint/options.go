package endpoint

import (
	"github.com/zeusync/replinet/internal/core/dispatch"
	"github.com/zeusync/replinet/internal/core/events/bus"
	"github.com/zeusync/replinet/internal/core/observability/log"
	"github.com/zeusync/replinet/internal/core/observability/metrics"
	"github.com/zeusync/replinet/internal/core/protocol"
)

// Authorizer may refuse a connect request that passed the version check. A
// non-nil error rejects the peer; its text is sent as the reason.
type Authorizer func(peer protocol.PeerID, req protocol.ConnectRequest) error

type Options struct {
	Logger     log.Log
	Clock      Clock
	Bus        bus.EventBus
	Metrics    *metrics.Endpoint
	Catalog    *dispatch.Catalog
	Payload    protocol.PayloadCodec
	Authorizer Authorizer
	// OnError sees every non-nil tick error in addition to Update's caller.
	OnError func(err error)
}

type Option func(*Options)

func WithLogger(l log.Log) Option {
	return func(o *Options) { o.Logger = l }
}

func WithClock(c Clock) Option {
	return func(o *Options) { o.Clock = c }
}

func WithBus(b bus.EventBus) Option {
	return func(o *Options) { o.Bus = b }
}

func WithMetrics(m *metrics.Endpoint) Option {
	return func(o *Options) { o.Metrics = m }
}

// WithCatalog replaces dispatch.Default as the source of handler and spawn
// marks.
func WithCatalog(c *dispatch.Catalog) Option {
	return func(o *Options) { o.Catalog = c }
}

func WithPayloadCodec(p protocol.PayloadCodec) Option {
	return func(o *Options) { o.Payload = p }
}

// WithAuthorizer installs a server-side admission check. Clients ignore it.
func WithAuthorizer(a Authorizer) Option {
	return func(o *Options) { o.Authorizer = a }
}

func WithErrorHandler(fn func(err error)) Option {
	return func(o *Options) { o.OnError = fn }
}

func buildOptions(role string, opts []Option) Options {
	o := Options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = log.Provide()
	}
	if o.Clock == nil {
		o.Clock = SystemClock
	}
	if o.Bus == nil {
		o.Bus = bus.New()
	}
	if o.Metrics == nil {
		o.Metrics = metrics.NewEndpoint(role)
	}
	if o.Catalog == nil {
		o.Catalog = dispatch.Default
	}
	return o
}
