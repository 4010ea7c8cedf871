package loopback

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/replinet/internal/core/protocol"
)

func listen(t *testing.T, p *Provider, opts protocol.ListenOptions) protocol.ListeningSession {
	t.Helper()
	l, err := p.Listen(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func kinds(events []protocol.Event) []protocol.EventKind {
	out := make([]protocol.EventKind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}

func TestConnectAndExchange(t *testing.T) {
	p := New()
	l := listen(t, p, protocol.ListenOptions{Port: 7000})
	assert.Equal(t, "loopback:7000", l.Addr().String())

	c, err := p.Connect(context.Background(), "localhost", 7000)
	require.NoError(t, err)
	assert.True(t, c.Connected())
	assert.Equal(t, protocol.ServerPeer, c.Server())

	events := l.Poll(0)
	require.Len(t, events, 1)
	assert.Equal(t, protocol.EventConnected, events[0].Kind)
	peer := events[0].Peer
	assert.Equal(t, []protocol.PeerID{peer}, l.Peers())

	frame := []byte("hello")
	require.NoError(t, c.Send(protocol.ServerPeer, frame, protocol.DefaultDelivery))
	frame[0] = 'j'

	events = l.Poll(0)
	require.Len(t, events, 1)
	assert.Equal(t, []byte("hello"), events[0].Data, "frames are copied")
	assert.Equal(t, peer, events[0].Peer)

	require.NoError(t, l.Send(peer, []byte("world"), protocol.Delivery{Method: protocol.Unreliable, Channel: 2}))
	events = c.Poll(0)
	assert.Equal(t, []protocol.EventKind{protocol.EventConnected, protocol.EventData}, kinds(events))
	assert.Equal(t, uint8(2), events[1].Delivery.Channel)
}

func TestConnectWithoutListener(t *testing.T) {
	_, err := New().Connect(context.Background(), "localhost", 1)
	assert.ErrorIs(t, err, protocol.ErrConnectionRefused)
}

func TestAutoPortAndAddressInUse(t *testing.T) {
	p := New()
	a := listen(t, p, protocol.ListenOptions{})
	b := listen(t, p, protocol.ListenOptions{})
	assert.NotEqual(t, a.Addr().String(), b.Addr().String())

	_ = listen(t, p, protocol.ListenOptions{Port: 9})
	_, err := p.Listen(context.Background(), protocol.ListenOptions{Port: 9})
	assert.ErrorIs(t, err, protocol.ErrAddressInUse)
}

func TestMaxConnections(t *testing.T) {
	p := New()
	_ = listen(t, p, protocol.ListenOptions{Port: 1, MaxConnections: 1})

	_, err := p.Connect(context.Background(), "", 1)
	require.NoError(t, err)
	_, err = p.Connect(context.Background(), "", 1)
	assert.ErrorIs(t, err, protocol.ErrMaxConnectionsReached)
}

func TestDisconnectDeliversReasonAfterQueuedData(t *testing.T) {
	p := New()
	l := listen(t, p, protocol.ListenOptions{Port: 1})
	c, err := p.Connect(context.Background(), "", 1)
	require.NoError(t, err)
	peer := l.Poll(0)[0].Peer

	require.NoError(t, l.Send(peer, []byte("bye"), protocol.DefaultDelivery))
	require.NoError(t, l.Disconnect(peer, "go away"))

	events := c.Poll(0)
	assert.Equal(t, []protocol.EventKind{protocol.EventConnected, protocol.EventData, protocol.EventDisconnected}, kinds(events))
	assert.Equal(t, "go away", events[2].Reason)
	assert.False(t, c.Connected())
	assert.ErrorIs(t, c.Send(protocol.ServerPeer, nil, protocol.DefaultDelivery), protocol.ErrConnectionClosed)

	server := l.Poll(0)
	require.Len(t, server, 1)
	assert.Equal(t, protocol.EventDisconnected, server[0].Kind)
	assert.Empty(t, l.Peers())
	assert.ErrorIs(t, l.Disconnect(peer, "again"), protocol.ErrPeerNotFound)
}

func TestClientCloseNotifiesServer(t *testing.T) {
	p := New()
	l := listen(t, p, protocol.ListenOptions{Port: 1})
	c, err := p.Connect(context.Background(), "", 1)
	require.NoError(t, err)
	peer := l.Poll(0)[0].Peer

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	events := l.Poll(0)
	require.Len(t, events, 1)
	assert.Equal(t, protocol.EventDisconnected, events[0].Kind)
	assert.Equal(t, peer, events[0].Peer)
	assert.ErrorIs(t, l.Send(peer, nil, protocol.DefaultDelivery), protocol.ErrPeerNotFound)
}

func TestFullQueue(t *testing.T) {
	p := New(WithQueueSize(2))
	l := listen(t, p, protocol.ListenOptions{Port: 1})
	c, err := p.Connect(context.Background(), "", 1)
	require.NoError(t, err)

	// the connected event already occupies one slot
	require.NoError(t, c.Send(protocol.ServerPeer, []byte("a"), protocol.DefaultDelivery))
	assert.NoError(t, c.Send(protocol.ServerPeer, []byte("b"), protocol.Delivery{Method: protocol.Unreliable}))
	assert.ErrorIs(t, c.Send(protocol.ServerPeer, []byte("c"), protocol.DefaultDelivery), protocol.ErrMessageQueueFull)
	assert.Len(t, l.Poll(0), 2)
}

func TestListenerCloseHangsUpClients(t *testing.T) {
	p := New()
	l, err := p.Listen(context.Background(), protocol.ListenOptions{Port: 1})
	require.NoError(t, err)
	c, err := p.Connect(context.Background(), "", 1)
	require.NoError(t, err)

	require.NoError(t, l.Close())
	events := c.Poll(0)
	require.Len(t, events, 2)
	assert.Equal(t, "server closed", events[1].Reason)

	_, err = p.Connect(context.Background(), "", 1)
	assert.ErrorIs(t, err, protocol.ErrConnectionRefused)
}

func TestRegisteredFactory(t *testing.T) {
	assert.True(t, protocol.HasProvider(Name))
}
