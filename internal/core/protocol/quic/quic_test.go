package quic

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/replinet/internal/core/observability/log"
	"github.com/zeusync/replinet/internal/core/protocol"
)

type poller interface {
	Poll(max int) []protocol.Event
}

// waitFor polls s until match has seen want events or the deadline passes.
func waitFor(t *testing.T, s poller, want int, match func(protocol.Event) bool) []protocol.Event {
	t.Helper()
	var got []protocol.Event
	require.Eventually(t, func() bool {
		for _, ev := range s.Poll(0) {
			if match(ev) {
				got = append(got, ev)
			}
		}
		return len(got) >= want
	}, 10*time.Second, 5*time.Millisecond)
	return got
}

func kind(k protocol.EventKind) func(protocol.Event) bool {
	return func(ev protocol.Event) bool { return ev.Kind == k }
}

func setup(t *testing.T) (protocol.ListeningSession, protocol.RemoteSession, protocol.PeerID) {
	t.Helper()
	config := DefaultConfig()
	config.Linger = 500 * time.Millisecond
	p := New(config, log.Nop())

	l, err := p.Listen(context.Background(), protocol.ListenOptions{Host: "127.0.0.1", Port: 0})
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	port := l.Addr().(*net.UDPAddr).Port
	c, err := p.Connect(context.Background(), "127.0.0.1", port)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	waitFor(t, c, 1, kind(protocol.EventConnected))
	assert.True(t, c.Connected())
	peer := waitFor(t, l, 1, kind(protocol.EventConnected))[0].Peer
	return l, c, peer
}

func TestReliableOrderedRoundTrip(t *testing.T) {
	l, c, peer := setup(t)

	for i := range 50 {
		require.NoError(t, c.Send(protocol.ServerPeer, []byte(fmt.Sprintf("msg-%02d", i)), protocol.DefaultDelivery))
	}
	got := waitFor(t, l, 50, kind(protocol.EventData))
	for i, ev := range got {
		assert.Equal(t, fmt.Sprintf("msg-%02d", i), string(ev.Data))
		assert.Equal(t, peer, ev.Peer)
		assert.Equal(t, protocol.DefaultDelivery, ev.Delivery)
	}

	require.NoError(t, l.Send(peer, []byte("pong"), protocol.Delivery{Method: protocol.ReliableUnordered, Channel: 3}))
	reply := waitFor(t, c, 1, kind(protocol.EventData))
	assert.Equal(t, "pong", string(reply[0].Data))
	assert.Equal(t, uint8(3), reply[0].Delivery.Channel)
}

func TestUnreliableDatagrams(t *testing.T) {
	l, c, peer := setup(t)
	d := protocol.Delivery{Method: protocol.UnreliableSequenced, Channel: 1}

	// datagrams may be lost; keep sending until one arrives
	var got []protocol.Event
	require.Eventually(t, func() bool {
		_ = l.Send(peer, []byte("tick"), d)
		for _, ev := range c.Poll(0) {
			if ev.Kind == protocol.EventData {
				got = append(got, ev)
			}
		}
		return len(got) > 0
	}, 10*time.Second, 20*time.Millisecond)
	assert.Equal(t, d, got[0].Delivery)
	assert.Equal(t, "tick", string(got[0].Data))
}

func TestDisconnectCarriesReasonAfterData(t *testing.T) {
	l, c, peer := setup(t)

	require.NoError(t, l.Send(peer, []byte("last words"), protocol.DefaultDelivery))
	require.NoError(t, l.Disconnect(peer, "kicked"))

	var events []protocol.Event
	require.Eventually(t, func() bool {
		events = append(events, c.Poll(0)...)
		return len(events) > 0 && events[len(events)-1].Kind == protocol.EventDisconnected
	}, 10*time.Second, 5*time.Millisecond)

	require.Len(t, events, 2)
	assert.Equal(t, "last words", string(events[0].Data))
	assert.Equal(t, "kicked", events[1].Reason)
	assert.False(t, c.Connected())

	left := waitFor(t, l, 1, kind(protocol.EventDisconnected))
	assert.Equal(t, peer, left[0].Peer)
	assert.Empty(t, l.Peers())
}

func TestMessageTooLarge(t *testing.T) {
	l, _, peer := setup(t)
	big := make([]byte, protocol.DefaultMaxMessageSize+1)
	assert.ErrorIs(t, l.Send(peer, big, protocol.DefaultDelivery), protocol.ErrMessageTooLarge)
	assert.ErrorIs(t, l.Send(peer+100, nil, protocol.DefaultDelivery), protocol.ErrPeerNotFound)
}

func TestConnectFailureIsReported(t *testing.T) {
	config := DefaultConfig()
	config.HandshakeIdleTimeout = 300 * time.Millisecond
	p := New(config, log.Nop())

	// nothing listens on the discard port
	c, err := p.Connect(context.Background(), "127.0.0.1", 9)
	require.NoError(t, err)
	defer c.Close()

	ev := waitFor(t, c, 1, kind(protocol.EventDisconnected))[0]
	assert.Error(t, ev.Err)
	assert.False(t, c.Connected())
}

func TestSelfSignedTLS(t *testing.T) {
	cfg, err := GenerateSelfSignedTLS()
	require.NoError(t, err)
	assert.Equal(t, []string{ALPN}, cfg.NextProtos)
	assert.Len(t, cfg.Certificates, 1)
}

func TestReadersStopAfterGoodbye(t *testing.T) {
	c := &connection{}
	require.True(t, c.trackReader())

	c.stopReaders()
	assert.False(t, c.trackReader())

	c.readers.Done()
	waited := make(chan struct{})
	go func() {
		c.readers.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(time.Second):
		t.Fatal("reader count did not drain")
	}
}
