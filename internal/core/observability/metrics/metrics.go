// Package metrics collects per-endpoint counters and timings and exposes them
// in the Prometheus text format.
package metrics

import (
	"fmt"
	"io"
	"time"

	vm "github.com/VictoriaMetrics/metrics"
	gometrics "github.com/rcrowley/go-metrics"
)

const namespace = "replinet"

// Drop reasons.
const (
	DropUnknownType   = "unknown_type"
	DropNotAdmitted   = "not_admitted"
	DropQueueFull     = "queue_full"
	DropUnknownTarget = "unknown_target"
	DropStale         = "stale"
)

// Endpoint holds the metrics of one endpoint. Counters live in a
// VictoriaMetrics set; tick and flush distributions are sampled with
// go-metrics and exported as quantile gauges.
type Endpoint struct {
	role string
	set  *vm.Set

	ticks         *vm.Counter
	received      *vm.Counter
	sent          *vm.Counter
	handlerErrors *vm.Counter
	busEvents     *vm.Counter
	busErrors     *vm.Counter

	registry  gometrics.Registry
	tickTimer gometrics.Timer
	flushSize gometrics.Histogram
}

// NewEndpoint creates the metrics of an endpoint playing role ("server" or
// "client").
func NewEndpoint(role string) *Endpoint {
	m := &Endpoint{
		role:     role,
		set:      vm.NewSet(),
		registry: gometrics.NewRegistry(),
	}
	m.ticks = m.set.GetOrCreateCounter(m.name("ticks_total", ""))
	m.received = m.set.GetOrCreateCounter(m.name("messages_received_total", ""))
	m.sent = m.set.GetOrCreateCounter(m.name("messages_sent_total", ""))
	m.handlerErrors = m.set.GetOrCreateCounter(m.name("handler_errors_total", ""))
	m.busEvents = m.set.GetOrCreateCounter(m.name("lifecycle_events_total", ""))
	m.busErrors = m.set.GetOrCreateCounter(m.name("lifecycle_errors_total", ""))

	m.tickTimer = gometrics.GetOrRegisterTimer("tick", m.registry)
	m.flushSize = gometrics.GetOrRegisterHistogram("flush", m.registry, gometrics.NewExpDecaySample(1028, 0.015))

	for _, q := range []float64{0.5, 0.99} {
		m.set.GetOrCreateGauge(m.name("tick_seconds", fmt.Sprintf(`quantile="%g"`, q)), func() float64 {
			return m.tickTimer.Snapshot().Percentile(q) / float64(time.Second)
		})
		m.set.GetOrCreateGauge(m.name("flush_messages", fmt.Sprintf(`quantile="%g"`, q)), func() float64 {
			return m.flushSize.Snapshot().Percentile(q)
		})
	}
	return m
}

func (m *Endpoint) name(metric, labels string) string {
	if labels == "" {
		return fmt.Sprintf(`%s_%s{role=%q}`, namespace, metric, m.role)
	}
	return fmt.Sprintf(`%s_%s{role=%q,%s}`, namespace, metric, m.role, labels)
}

func (m *Endpoint) Role() string {
	return m.role
}

// Tick records one completed tick and how long it took.
func (m *Endpoint) Tick(elapsed time.Duration) {
	m.ticks.Inc()
	m.tickTimer.Update(elapsed)
}

func (m *Endpoint) Received(n int) {
	m.received.Add(n)
}

// Flushed records one flush of n messages.
func (m *Endpoint) Flushed(n int) {
	m.sent.Add(n)
	m.flushSize.Update(int64(n))
}

func (m *Endpoint) Dropped(reason string) {
	m.set.GetOrCreateCounter(m.name("messages_dropped_total", fmt.Sprintf("reason=%q", reason))).Inc()
}

func (m *Endpoint) HandlerError() {
	m.handlerErrors.Inc()
}

// Gauge exposes a value computed on scrape, such as the number of peers.
func (m *Endpoint) Gauge(metric string, fn func() float64) {
	m.set.GetOrCreateGauge(m.name(metric, ""), fn)
}

// OnDelivered counts lifecycle notifications; Endpoint is a bus.Observer.
func (m *Endpoint) OnDelivered(eventType string, _ int, err error, _ time.Duration) {
	m.busEvents.Inc()
	if err != nil {
		m.busErrors.Inc()
	}
	m.set.GetOrCreateCounter(m.name("lifecycle_events_by_type_total", fmt.Sprintf("type=%q", eventType))).Inc()
}

// WritePrometheus writes every metric in the Prometheus text format.
func (m *Endpoint) WritePrometheus(w io.Writer) {
	m.set.WritePrometheus(w)
}

// Snapshot is a point-in-time copy of the counters, for logs and tests.
type Snapshot struct {
	Ticks         uint64
	Received      uint64
	Sent          uint64
	HandlerErrors uint64
	TickMean      time.Duration
	TickP99       time.Duration
}

func (m *Endpoint) Snapshot() Snapshot {
	timer := m.tickTimer.Snapshot()
	return Snapshot{
		Ticks:         m.ticks.Get(),
		Received:      m.received.Get(),
		Sent:          m.sent.Get(),
		HandlerErrors: m.handlerErrors.Get(),
		TickMean:      time.Duration(timer.Mean()),
		TickP99:       time.Duration(timer.Percentile(0.99)),
	}
}

// DroppedCount returns how many messages were dropped for reason.
func (m *Endpoint) DroppedCount(reason string) uint64 {
	return m.set.GetOrCreateCounter(m.name("messages_dropped_total", fmt.Sprintf("reason=%q", reason))).Get()
}
