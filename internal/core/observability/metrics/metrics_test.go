package metrics

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEndpointCounters(t *testing.T) {
	m := NewEndpoint("server")

	m.Tick(2 * time.Millisecond)
	m.Tick(4 * time.Millisecond)
	m.Received(3)
	m.Flushed(5)
	m.Dropped(DropUnknownType)
	m.Dropped(DropUnknownType)
	m.HandlerError()

	s := m.Snapshot()
	assert.Equal(t, uint64(2), s.Ticks)
	assert.Equal(t, uint64(3), s.Received)
	assert.Equal(t, uint64(5), s.Sent)
	assert.Equal(t, uint64(1), s.HandlerErrors)
	assert.Equal(t, 3*time.Millisecond, s.TickMean)
	assert.Equal(t, uint64(2), m.DroppedCount(DropUnknownType))
	assert.Equal(t, uint64(0), m.DroppedCount(DropQueueFull))
}

func TestWritePrometheus(t *testing.T) {
	m := NewEndpoint("client")
	m.Tick(time.Millisecond)
	m.Dropped(DropNotAdmitted)
	m.Gauge("entities", func() float64 { return 7 })
	m.OnDelivered("client.connected", 1, nil, 0)
	m.OnDelivered("client.connected", 1, errors.New("x"), 0)

	var buf bytes.Buffer
	m.WritePrometheus(&buf)
	out := buf.String()

	assert.Contains(t, out, `replinet_ticks_total{role="client"} 1`)
	assert.Contains(t, out, `replinet_messages_dropped_total{role="client",reason="not_admitted"} 1`)
	assert.Contains(t, out, `replinet_entities{role="client"} 7`)
	assert.Contains(t, out, `replinet_lifecycle_errors_total{role="client"} 1`)
	assert.Contains(t, out, `replinet_lifecycle_events_by_type_total{role="client",type="client.connected"} 2`)
	assert.Contains(t, out, `replinet_tick_seconds{role="client",quantile="0.99"}`)
}

func TestEndpointsAreIndependent(t *testing.T) {
	a, b := NewEndpoint("server"), NewEndpoint("server")
	a.Received(1)
	assert.Equal(t, uint64(0), b.Snapshot().Received)
}
