package replication

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zeusync/replinet/internal/core/protocol"
)

func TestGroupMembership(t *testing.T) {
	g := NewGroup("lobby")
	assert.Equal(t, "lobby", g.ID())

	assert.True(t, g.Add(3))
	assert.True(t, g.Add(1))
	assert.False(t, g.Add(3))
	assert.True(t, g.Contains(1))
	assert.Equal(t, []protocol.PeerID{1, 3}, g.Subscribers())

	_, ok := g.Since(3)
	assert.True(t, ok)

	assert.True(t, g.Remove(1))
	assert.False(t, g.Remove(1))
	assert.Equal(t, 1, g.Len())
}

func TestGroupConcurrentAdd(t *testing.T) {
	g := NewGroup(WorldGroupID)
	var wg sync.WaitGroup
	for i := 1; i <= 64; i++ {
		wg.Add(1)
		go func(p protocol.PeerID) {
			defer wg.Done()
			g.Add(p)
			g.Contains(p)
		}(protocol.PeerID(i))
	}
	wg.Wait()
	assert.Equal(t, 64, g.Len())
}
