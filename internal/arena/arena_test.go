package arena

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/replinet/internal/core/dispatch"
	"github.com/zeusync/replinet/internal/core/endpoint"
	"github.com/zeusync/replinet/internal/core/handler"
	"github.com/zeusync/replinet/internal/core/observability/log"
	"github.com/zeusync/replinet/internal/core/protocol"
	"github.com/zeusync/replinet/internal/core/protocol/loopback"
	"github.com/zeusync/replinet/internal/core/replication"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func types(t *testing.T) *protocol.Registry {
	r := protocol.NewBuiltinRegistry()
	require.NoError(t, RegisterTypes(r))
	return r
}

type world struct {
	t        *testing.T
	clock    *clock
	catalog  *dispatch.Catalog
	provider *loopback.Provider
	server   *endpoint.Server
	arena    *Arena
	clients  []*endpoint.Client
}

func newWorld(t *testing.T) *world {
	w := &world{
		t:        t,
		clock:    &clock{now: time.Unix(1_700_000_000, 0)},
		catalog:  dispatch.NewCatalog(),
		provider: loopback.New(),
	}
	Mark(w.catalog)

	config := endpoint.DefaultServerConfig()
	config.Port = 0
	config.UpdateRate = 10
	server, err := endpoint.NewServer(config, w.provider, types(t), w.options()...)
	require.NoError(t, err)
	w.arena, err = New(server, log.Nop())
	require.NoError(t, err)
	require.NoError(t, server.Update(context.Background()))
	t.Cleanup(server.Shutdown)
	w.server = server
	return w
}

func (w *world) options() []endpoint.Option {
	return []endpoint.Option{
		endpoint.WithClock(w.clock),
		endpoint.WithLogger(log.Nop()),
		endpoint.WithCatalog(w.catalog),
	}
}

func (w *world) join(userID uint64, name string) *endpoint.Client {
	config := endpoint.DefaultClientConfig()
	config.Port = w.server.Addr().(loopback.Addr).Port
	config.UpdateRate = 10
	config.UserID = userID
	config.DisplayName = name
	c, err := endpoint.NewClient(config, w.provider, types(w.t), w.options()...)
	require.NoError(w.t, err)
	w.t.Cleanup(c.Shutdown)
	w.clients = append(w.clients, c)
	return c
}

func (w *world) pump(n int) {
	w.t.Helper()
	for i := 0; i < n; i++ {
		w.clock.advance(100 * time.Millisecond)
		for _, c := range w.clients {
			_ = c.Update(context.Background())
		}
		require.NoError(w.t, w.server.Update(context.Background()))
	}
}

func TestPeersGetPawns(t *testing.T) {
	w := newWorld(t)
	alice := w.join(1, "alice")
	bob := w.join(2, "bob")
	w.pump(3)

	require.True(t, alice.Connected())
	require.True(t, bob.Connected())
	assert.Equal(t, 2, w.arena.Len())
	assert.Equal(t, 2, w.server.Directory().Len())

	// every client sees both pawns
	for _, c := range []*endpoint.Client{alice, bob} {
		assert.Equal(t, 2, c.Directory().Len())
	}

	mine, ok := NewPilot(bob, 2).Pawn()
	require.True(t, ok)
	assert.Equal(t, "bob", mine.Name())
	assert.Equal(t, 2.0, mine.Position().X())
}

func TestSteeringMovesThePawn(t *testing.T) {
	w := newWorld(t)
	alice := w.join(7, "alice")
	w.pump(3)

	pilot := NewPilot(alice, 7)
	require.NoError(t, pilot.Steer(mgl64.Vec3{2, 0, 0}))
	w.pump(4)

	peer := w.server.Accepted()[0]
	pawn, ok := w.arena.Pawn(peer)
	require.True(t, ok)
	// the direction is normalised to DefaultSpeed
	assert.Equal(t, mgl64.Vec3{DefaultSpeed, 0, 0}, pawn.Velocity())
	assert.InDelta(t, 2.0, pawn.Position().X(), 1e-9)

	proxy, ok := pilot.Pawn()
	require.True(t, ok)
	assert.Equal(t, pawn.Velocity(), proxy.Velocity())
	assert.InDelta(t, pawn.Position().X(), proxy.Position().X(), 0.6)
}

func TestChatIsRelayed(t *testing.T) {
	w := newWorld(t)
	alice := w.join(1, "alice")
	bob := w.join(2, "bob")

	var heard []Chat
	handler.Add(bob.Handlers(), func(_ protocol.PeerID, m Chat) error {
		heard = append(heard, m)
		return nil
	})
	w.pump(3)

	require.NoError(t, NewPilot(alice, 1).Say("  hello  "))
	require.NoError(t, NewPilot(alice, 1).Say("   "))
	w.pump(2)

	assert.Equal(t, []Chat{{From: "alice", Text: "hello"}}, heard)
}

func TestLeavingRemovesThePawn(t *testing.T) {
	w := newWorld(t)
	alice := w.join(1, "alice")
	bob := w.join(2, "bob")
	w.pump(3)
	require.Equal(t, 2, bob.Directory().Len())

	alice.Shutdown()
	w.pump(3)

	assert.Equal(t, 1, w.arena.Len())
	assert.Equal(t, 1, w.server.Directory().Len())
	assert.Equal(t, 1, bob.Directory().Len())
}

func TestPawnRefusesOtherPeers(t *testing.T) {
	p := NewPawn(1, 10, "alice", nil)
	p.SetID(1024)

	err := p.Receive(2, Steer{Entity: 1024, Direction: mgl64.Vec3{1, 0, 0}})
	assert.ErrorIs(t, err, ErrNotOwner)
	assert.Equal(t, mgl64.Vec3{}, p.Velocity())

	require.NoError(t, p.Receive(1, Steer{Entity: 1024, Direction: mgl64.Vec3{0, 0.5, 0}}))
	assert.Equal(t, mgl64.Vec3{0, 2.5, 0}, p.Velocity())
}

func TestPawnStaysOnTheFloor(t *testing.T) {
	p := NewPawn(1, 10, "alice", nil)
	p.Place(mgl64.Vec3{DefaultExtent - 1, 0, 0})
	require.NoError(t, p.Receive(1, Steer{Direction: mgl64.Vec3{1, 0, 0}}))

	tick := replication.Tick{Number: 1, Delta: time.Second}
	require.NoError(t, p.ServerTick(tick, nil))
	assert.Equal(t, DefaultExtent, p.Position().X())
}

func TestProxyIgnoresStaleMoves(t *testing.T) {
	e, err := SpawnProxy(SpawnPawn{Entity: 5, Owner: 3, Name: "carol"})
	require.NoError(t, err)
	p := e.(*PawnProxy)

	require.NoError(t, p.Receive(protocol.ServerPeer, MovePawn{Entity: 5, Tick: 10, Position: mgl64.Vec3{4, 0, 0}}))
	require.NoError(t, p.Receive(protocol.ServerPeer, MovePawn{Entity: 5, Tick: 9, Position: mgl64.Vec3{1, 0, 0}}))
	assert.Equal(t, mgl64.Vec3{4, 0, 0}, p.Position())

	p.Destroy()
	assert.True(t, p.Destroyed())
}
