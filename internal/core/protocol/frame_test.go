package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketHeader(t *testing.T) {
	d := Delivery{Method: ReliableSequenced, Channel: 7}
	packet := AppendPacket(nil, Header{Delivery: d, Seq: 42}, []byte{0xAA, 0xBB})
	require.Len(t, packet, HeaderSize+2)

	h, frame, err := ParsePacket(packet)
	require.NoError(t, err)
	assert.Equal(t, d, h.Delivery)
	assert.Equal(t, uint32(42), h.Seq)
	assert.Equal(t, []byte{0xAA, 0xBB}, frame)

	_, _, err = ParsePacket([]byte{1, 2})
	assert.ErrorIs(t, err, ErrInvalidHeader)

	_, _, err = ParsePacket([]byte{99, 0, 0, 0, 0, 0})
	assert.ErrorIs(t, err, ErrInvalidHeader)
}

func TestSequencingDropsStalePackets(t *testing.T) {
	tx, rx := NewSequencing(), NewSequencing()
	d := Delivery{Method: UnreliableSequenced, Channel: 1}

	first := tx.Stamp(d)
	second := tx.Stamp(d)
	other := tx.Stamp(Delivery{Method: UnreliableSequenced, Channel: 2})
	assert.Equal(t, uint32(1), first.Seq)
	assert.Equal(t, uint32(2), second.Seq)
	assert.Equal(t, uint32(1), other.Seq, "channels count independently")

	assert.True(t, rx.Accept(second))
	assert.False(t, rx.Accept(first), "older than delivered")
	assert.False(t, rx.Accept(second), "duplicate")
	assert.True(t, rx.Accept(other))
}

func TestSequencingWrapsAround(t *testing.T) {
	rx := NewSequencing()
	d := Delivery{Method: ReliableSequenced}
	assert.True(t, rx.Accept(Header{Delivery: d, Seq: ^uint32(0)}))
	assert.True(t, rx.Accept(Header{Delivery: d, Seq: 0}))
	assert.True(t, rx.Accept(Header{Delivery: d, Seq: 1}))
}

func TestUnsequencedAlwaysAccepted(t *testing.T) {
	rx := NewSequencing()
	h := Header{Delivery: Delivery{Method: ReliableOrdered}}
	assert.True(t, rx.Accept(h))
	assert.True(t, rx.Accept(h))
	assert.Zero(t, NewSequencing().Stamp(h.Delivery).Seq)
}

func TestEventQueue(t *testing.T) {
	q := NewEventQueue(2)
	assert.True(t, q.Push(Event{Kind: EventConnected, Peer: 1}))
	assert.True(t, q.Deliver(Event{Kind: EventData, Peer: 1, Delivery: Delivery{Method: Unreliable}}))
	assert.False(t, q.Deliver(Event{Kind: EventData, Peer: 1, Delivery: Delivery{Method: Unreliable}}), "full queue drops unreliable")

	events := q.Poll(1)
	require.Len(t, events, 1)
	assert.Equal(t, EventConnected, events[0].Kind)
	assert.Len(t, q.Poll(0), 1)
	assert.Empty(t, q.Poll(0))

	q.Close()
	assert.False(t, q.Push(Event{Kind: EventDisconnected}))
}

func TestSendQueue(t *testing.T) {
	q := NewSendQueue(1)
	frame := []byte{1, 2}
	require.NoError(t, q.Enqueue(Header{Delivery: DefaultDelivery}, frame))
	frame[0] = 9

	assert.NoError(t, q.Enqueue(Header{Delivery: Delivery{Method: Unreliable}}, frame), "full queue drops unreliable")
	assert.ErrorIs(t, q.Enqueue(Header{Delivery: DefaultDelivery}, frame), ErrMessageQueueFull)

	q.Close()
	assert.ErrorIs(t, q.Enqueue(Header{Delivery: DefaultDelivery}, frame), ErrConnectionClosed)

	left := q.Drain()
	require.Len(t, left, 1)
	assert.Equal(t, []byte{1, 2}, left[0].Frame)
}
