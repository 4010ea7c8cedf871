package tcp

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/replinet/internal/core/observability/log"
	"github.com/zeusync/replinet/internal/core/protocol"
)

func drain(t *testing.T, s interface{ Poll(int) []protocol.Event }, until func([]protocol.Event) bool) []protocol.Event {
	t.Helper()
	var got []protocol.Event
	require.Eventually(t, func() bool {
		got = append(got, s.Poll(0)...)
		return until(got)
	}, 5*time.Second, 5*time.Millisecond)
	return got
}

func last(k protocol.EventKind) func([]protocol.Event) bool {
	return func(events []protocol.Event) bool {
		return len(events) > 0 && events[len(events)-1].Kind == k
	}
}

func pair(t *testing.T, opts protocol.ListenOptions) (*Provider, protocol.ListeningSession, protocol.RemoteSession, protocol.PeerID) {
	t.Helper()
	config := DefaultConfig()
	config.Linger = 500 * time.Millisecond
	p := New(config, log.Nop())

	opts.Host = "127.0.0.1"
	l, err := p.Listen(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	c, err := p.Connect(context.Background(), "127.0.0.1", l.Addr().(*net.TCPAddr).Port)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	drain(t, c, last(protocol.EventConnected))
	peer := drain(t, l, last(protocol.EventConnected))[0].Peer
	return p, l, c, peer
}

func TestFramesSurviveTheStream(t *testing.T) {
	_, l, c, peer := pair(t, protocol.ListenOptions{})

	payloads := [][]byte{[]byte("a"), {}, make([]byte, 64*1024), []byte("z")}
	for _, p := range payloads {
		require.NoError(t, c.Send(protocol.ServerPeer, p, protocol.Delivery{Method: protocol.Unreliable, Channel: 7}))
	}
	got := drain(t, l, func(ev []protocol.Event) bool { return len(ev) == len(payloads) })
	for i, ev := range got {
		assert.Equal(t, peer, ev.Peer)
		assert.Len(t, ev.Data, len(payloads[i]))
		assert.Equal(t, protocol.Delivery{Method: protocol.Unreliable, Channel: 7}, ev.Delivery)
	}
}

func TestDisconnectReason(t *testing.T) {
	_, l, c, peer := pair(t, protocol.ListenOptions{})

	require.NoError(t, l.Send(peer, []byte("x"), protocol.DefaultDelivery))
	require.NoError(t, l.Disconnect(peer, "bye now"))

	events := drain(t, c, last(protocol.EventDisconnected))
	require.Len(t, events, 2)
	assert.Equal(t, "bye now", events[1].Reason)

	left := drain(t, l, last(protocol.EventDisconnected))
	assert.Equal(t, peer, left[0].Peer)
}

func TestServerFull(t *testing.T) {
	p, l, _, _ := pair(t, protocol.ListenOptions{MaxConnections: 1})

	c, err := p.Connect(context.Background(), "127.0.0.1", l.Addr().(*net.TCPAddr).Port)
	require.NoError(t, err)
	defer c.Close()

	events := drain(t, c, last(protocol.EventDisconnected))
	assert.Equal(t, protocol.ErrMaxConnectionsReached.Error(), events[len(events)-1].Reason)
}

func TestDialFailure(t *testing.T) {
	p := New(DefaultConfig(), log.Nop())
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	c, err := p.Connect(context.Background(), "127.0.0.1", port)
	require.NoError(t, err)
	events := drain(t, c, last(protocol.EventDisconnected))
	assert.Error(t, events[0].Err)
	assert.False(t, c.Connected())
}
