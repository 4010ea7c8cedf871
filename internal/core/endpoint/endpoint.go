// Package endpoint runs the tick loop shared by the client and server roles:
// drain the transport session, hand decoded messages to the handler
// registry, let the role do its per-tick work, then flush queued messages.
package endpoint

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeusync/replinet/internal/core/dispatch"
	"github.com/zeusync/replinet/internal/core/events/bus"
	"github.com/zeusync/replinet/internal/core/handler"
	"github.com/zeusync/replinet/internal/core/observability/log"
	"github.com/zeusync/replinet/internal/core/observability/metrics"
	"github.com/zeusync/replinet/internal/core/protocol"
	"github.com/zeusync/replinet/internal/core/replication"
	"github.com/zeusync/replinet/pkg/concurrent"
	"github.com/zeusync/replinet/pkg/sequence"
)

// role is the part of an endpoint that differs between client and server.
// Every method runs on the tick goroutine.
type role interface {
	// category names the handler marks scanned for this role.
	category() string
	start(ctx context.Context) (protocol.Session, error)
	connected(peer protocol.PeerID) error
	disconnected(peer protocol.PeerID, reason string, err error) error
	// admit filters messages before they reach the handlers.
	admit(peer protocol.PeerID, msg protocol.Message) bool
	route(sender protocol.PeerID, msg protocol.EntityMessage) error
	tick(ctx context.Context, t replication.Tick) error
	stop()
}

type outgoing struct {
	peer     protocol.PeerID
	frame    []byte
	delivery protocol.Delivery
}

// Endpoint owns one transport session and the tick loop around it. It is
// embedded by Client and Server.
type Endpoint struct {
	name   string
	config Config
	role   role

	types    *protocol.Registry
	codec    *protocol.Codec
	handlers *handler.Registry
	catalog  *dispatch.Catalog
	session  protocol.Session

	clock   Clock
	bus     bus.EventBus
	metrics *metrics.Endpoint
	logger  log.Log
	onError func(error)

	state   atomic.Int32
	ticks   atomic.Uint64
	tickMu  sync.Mutex
	destroy sync.Once
	done    chan struct{}

	period   time.Duration
	nextTick time.Time

	outbox     []outgoing
	afterFlush []func()
}

func newEndpoint(name string, config Config, types *protocol.Registry, o Options, r role) (*Endpoint, error) {
	if types == nil {
		types = protocol.NewRegistry()
	}
	if err := ensureBuiltins(types); err != nil {
		return nil, err
	}

	codec := protocol.NewCodec(types, o.Payload)
	if config.MaxMessageSize > 0 {
		codec.WithMaxSize(config.MaxMessageSize)
	}

	logger := o.Logger.With(log.String("component", "endpoint"), log.String("role", name))
	e := &Endpoint{
		name:     name,
		config:   config,
		role:     r,
		types:    types,
		codec:    codec,
		handlers: handler.New(types, logger),
		catalog:  o.Catalog,
		clock:    o.Clock,
		bus:      o.Bus,
		metrics:  o.Metrics,
		logger:   logger,
		onError:  o.OnError,
		done:     make(chan struct{}),
		period:   config.Period(),
	}
	e.bus.AddObserver(e.metrics)
	e.metrics.Gauge("state", func() float64 { return float64(e.State()) })
	return e, nil
}

func ensureBuiltins(types *protocol.Registry) error {
	for _, proto := range []protocol.Message{
		protocol.ConnectRequest{},
		protocol.ConnectResponse{},
		protocol.RemovalNotice{},
	} {
		if types.Contains(reflect.TypeOf(proto)) {
			continue
		}
		if err := types.Register(proto); err != nil {
			return fmt.Errorf("register built-in messages: %w", err)
		}
	}
	return nil
}

func (e *Endpoint) State() State {
	return State(e.state.Load())
}

// Tick returns the number of ticks run so far.
func (e *Endpoint) Tick() uint64 {
	return e.ticks.Load()
}

// TickRate returns the configured ticks per second.
func (e *Endpoint) TickRate() int {
	return int(time.Second / e.period)
}

func (e *Endpoint) Types() *protocol.Registry {
	return e.types
}

// Handlers returns the handler registry. Callbacks must be added before the
// first Update.
func (e *Endpoint) Handlers() *handler.Registry {
	return e.handlers
}

func (e *Endpoint) Bus() bus.EventBus {
	return e.bus
}

func (e *Endpoint) Metrics() *metrics.Endpoint {
	return e.metrics
}

// Done is closed once the endpoint is destroyed.
func (e *Endpoint) Done() <-chan struct{} {
	return e.done
}

// OnStateChange subscribes fn to lifecycle transitions.
func (e *Endpoint) OnStateChange(fn func(StateChange) error) (bus.Subscription, error) {
	return subscribe(e.bus, TopicState, fn)
}

// Update runs every tick that has come due since the last call. The host
// calls it once per frame from a single goroutine. Ticks are never skipped:
// a slow frame is followed by several ticks, each exactly one period after
// the previous one.
func (e *Endpoint) Update(ctx context.Context) error {
	e.tickMu.Lock()

	var errs []error
	if e.State() == Created {
		errs = append(errs, e.begin(ctx))
	}
	if e.State() == Running {
		now := e.clock.Now()
		for e.State() == Running && !now.Before(e.nextTick) {
			if err := ctx.Err(); err != nil {
				errs = append(errs, err)
				break
			}
			errs = append(errs, e.runTick(ctx, e.nextTick))
			e.nextTick = e.nextTick.Add(e.period)
		}
	}
	if e.State() == ShutdownRequested {
		e.teardown()
	}
	e.tickMu.Unlock()

	e.settle()
	return e.report(errors.Join(errs...))
}

func (e *Endpoint) begin(ctx context.Context) error {
	if !e.config.Enabled {
		e.transition(Created, Inactive)
		e.logger.Info("Endpoint disabled, not starting")
		return nil
	}
	if !e.transition(Created, Starting) {
		return nil
	}

	handler.Add(e.handlers, func(sender protocol.PeerID, msg protocol.EntityMessage) error {
		return e.role.route(sender, msg)
	})
	scanned := e.handlers.Scan(e.catalog, dispatch.CategoryHandle)
	scanned += e.handlers.Scan(e.catalog, e.role.category())

	session, err := e.role.start(ctx)
	if err != nil {
		e.transition(Starting, ShutdownRequested)
		return fmt.Errorf("start %s: %w", e.name, err)
	}
	e.session = session
	e.nextTick = e.clock.Now()

	if e.transition(Starting, Running) {
		e.logger.Info("Endpoint running",
			log.String("session", session.ID()),
			log.Int("tick_rate", e.TickRate()),
			log.Int("marked_handlers", scanned))
	}
	return nil
}

func (e *Endpoint) runTick(ctx context.Context, at time.Time) error {
	started := time.Now()
	t := replication.Tick{Number: e.ticks.Add(1), Time: at, Delta: e.period}

	errs := []error{e.drain()}
	if e.State() == Running {
		errs = append(errs, e.role.tick(ctx, t))
	}
	errs = append(errs, e.flush())

	e.metrics.Tick(time.Since(started))
	return errors.Join(errs...)
}

// drain handles the transport events available now. It stops early once a
// shutdown is requested.
func (e *Endpoint) drain() error {
	var errs []error
	received := 0
	for _, ev := range e.session.Poll(e.config.PollLimit) {
		if e.State() != Running {
			break
		}
		var err error
		switch ev.Kind {
		case protocol.EventConnected:
			err = e.role.connected(ev.Peer)
		case protocol.EventDisconnected:
			err = e.role.disconnected(ev.Peer, ev.Reason, ev.Err)
		case protocol.EventData:
			received++
			err = e.receive(ev.Peer, ev.Data)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	e.metrics.Received(received)
	return errors.Join(errs...)
}

func (e *Endpoint) receive(peer protocol.PeerID, frame []byte) error {
	msg, err := e.codec.Decode(frame)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownMessageType) {
			e.metrics.Dropped(metrics.DropUnknownType)
			e.logger.Debug("Dropping message of unknown type", log.String("peer", peer.String()), log.Error(err))
			return nil
		}
		return fmt.Errorf("decode message from %s: %w", peer, err)
	}

	if !e.role.admit(peer, msg) {
		e.metrics.Dropped(metrics.DropNotAdmitted)
		e.logger.Debug("Dropping message from peer not yet admitted",
			log.String("peer", peer.String()),
			log.String("message", reflect.TypeOf(msg).String()))
		return nil
	}

	if err = e.handlers.Handle(peer, msg); err != nil {
		e.metrics.HandlerError()
		return err
	}
	return nil
}

// Send queues msg for peer using the delivery msg asks for. The frame is
// encoded now and written on the next flush.
func (e *Endpoint) Send(peer protocol.PeerID, msg protocol.Message) error {
	return e.SendWith(peer, msg, protocol.DeliveryOf(msg))
}

func (e *Endpoint) SendWith(peer protocol.PeerID, msg protocol.Message, delivery protocol.Delivery) error {
	return e.enqueue([]protocol.PeerID{peer}, msg, delivery)
}

// enqueue encodes msg once and queues it for every peer.
func (e *Endpoint) enqueue(peers []protocol.PeerID, msg protocol.Message, delivery protocol.Delivery) error {
	if len(peers) == 0 {
		return nil
	}
	frame, err := e.codec.Encode(msg)
	if err != nil {
		return err
	}
	for _, peer := range peers {
		e.outbox = append(e.outbox, outgoing{peer: peer, frame: frame, delivery: delivery})
	}
	return nil
}

// later runs fn after the next flush.
func (e *Endpoint) later(fn func()) {
	e.afterFlush = append(e.afterFlush, fn)
}

// flush writes the outbox. Each peer's frames keep their order; peers are
// written in parallel, bounded by FlushWorkers.
func (e *Endpoint) flush() error {
	pending, after := e.outbox, e.afterFlush
	e.outbox, e.afterFlush = nil, nil
	defer func() {
		for _, fn := range after {
			fn()
		}
	}()
	if len(pending) == 0 || e.session == nil {
		return nil
	}

	batches := make(map[protocol.PeerID][]outgoing)
	var order []protocol.PeerID
	for _, o := range pending {
		if _, ok := batches[o.peer]; !ok {
			order = append(order, o.peer)
		}
		batches[o.peer] = append(batches[o.peer], o)
	}

	err := concurrent.Each(sequence.From(order), e.config.FlushWorkers, func(peer protocol.PeerID) error {
		return e.write(peer, batches[peer])
	})
	e.metrics.Flushed(len(pending))
	return err
}

func (e *Endpoint) write(peer protocol.PeerID, batch []outgoing) error {
	var errs []error
	for _, o := range batch {
		err := e.session.Send(peer, o.frame, o.delivery)
		switch {
		case err == nil:
		case errors.Is(err, protocol.ErrPeerNotFound), errors.Is(err, protocol.ErrConnectionClosed):
			e.logger.Debug("Peer left before flush", log.String("peer", peer.String()))
			return nil
		case errors.Is(err, protocol.ErrMessageQueueFull):
			e.metrics.Dropped(metrics.DropQueueFull)
			errs = append(errs, fmt.Errorf("send to %s: %w", peer, err))
		default:
			errs = append(errs, fmt.Errorf("send to %s: %w", peer, err))
		}
	}
	return errors.Join(errs...)
}

// Shutdown stops the endpoint. It is safe from any goroutine, including a
// handler running inside a tick: the current tick finishes, no further tick
// starts, and the session is closed. Done is closed once that has happened.
func (e *Endpoint) Shutdown() {
	if !e.requestShutdown() {
		return
	}
	if e.tickMu.TryLock() {
		e.teardown()
		e.tickMu.Unlock()
	}
}

func (e *Endpoint) requestShutdown() bool {
	for {
		switch s := e.State(); s {
		case Created, Inactive, Starting, Running:
			if e.transition(s, ShutdownRequested) {
				return true
			}
		default:
			return false
		}
	}
}

// settle finishes a shutdown requested while Update held the tick lock.
func (e *Endpoint) settle() {
	if e.State() == ShutdownRequested && e.tickMu.TryLock() {
		e.teardown()
		e.tickMu.Unlock()
	}
}

// teardown flushes what is queued, closes the session and marks the
// endpoint destroyed. The caller holds tickMu.
func (e *Endpoint) teardown() {
	e.destroy.Do(func() {
		if err := e.flush(); err != nil {
			e.logger.Warn("Final flush failed", log.Error(err))
		}
		e.role.stop()
		if e.session != nil {
			if err := e.session.Close(); err != nil {
				e.logger.Warn("Failed to close session", log.Error(err))
			}
		}
		e.transition(ShutdownRequested, Destroyed)
		close(e.done)
		e.logger.Info("Endpoint destroyed", log.Uint64("ticks", e.ticks.Load()))
	})
}

func (e *Endpoint) transition(from, to State) bool {
	if !e.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	e.logger.Debug("Endpoint state changed", log.String("from", from.String()), log.String("to", to.String()))
	if err := e.publish(TopicState, StateChange{From: from, To: to}); err != nil {
		e.logger.Warn("State change subscriber failed", log.Error(err))
	}
	return true
}

func (e *Endpoint) publish(topic string, data any) error {
	return e.bus.Publish(bus.NewEvent(topic, e.name, data))
}

func (e *Endpoint) report(err error) error {
	if err == nil {
		return nil
	}
	e.logger.Warn("Tick reported errors", log.Error(err))
	if e.onError != nil {
		e.onError(err)
	}
	return err
}
