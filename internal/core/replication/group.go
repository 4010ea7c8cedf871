package replication

import (
	"sort"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/zeusync/replinet/internal/core/protocol"
)

// Group is a set of peers that see the same entities. Membership is explicit:
// the server adds and removes peers.
type Group interface {
	ID() string
	Add(peer protocol.PeerID) bool
	Remove(peer protocol.PeerID) bool
	Contains(peer protocol.PeerID) bool
	// Subscribers returns the members in ascending order.
	Subscribers() []protocol.PeerID
	Len() int
}

// WorldGroupID names the group every accepted peer joins.
const WorldGroupID = "world"

// SubscriptionGroup is the default Group, backed by a concurrent map so
// membership can be read from provider goroutines.
type SubscriptionGroup struct {
	id          string
	subscribers *xsync.MapOf[protocol.PeerID, time.Time]
}

var _ Group = (*SubscriptionGroup)(nil)

func NewGroup(id string) *SubscriptionGroup {
	return &SubscriptionGroup{
		id:          id,
		subscribers: xsync.NewMapOf[protocol.PeerID, time.Time](),
	}
}

func (g *SubscriptionGroup) ID() string {
	return g.id
}

// Add subscribes peer and reports whether it was new.
func (g *SubscriptionGroup) Add(peer protocol.PeerID) bool {
	_, loaded := g.subscribers.LoadOrStore(peer, time.Now())
	return !loaded
}

// Remove unsubscribes peer and reports whether it was a member.
func (g *SubscriptionGroup) Remove(peer protocol.PeerID) bool {
	_, loaded := g.subscribers.LoadAndDelete(peer)
	return loaded
}

func (g *SubscriptionGroup) Contains(peer protocol.PeerID) bool {
	_, ok := g.subscribers.Load(peer)
	return ok
}

// Since returns when peer joined.
func (g *SubscriptionGroup) Since(peer protocol.PeerID) (time.Time, bool) {
	return g.subscribers.Load(peer)
}

func (g *SubscriptionGroup) Subscribers() []protocol.PeerID {
	out := make([]protocol.PeerID, 0, g.subscribers.Size())
	g.subscribers.Range(func(peer protocol.PeerID, _ time.Time) bool {
		out = append(out, peer)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (g *SubscriptionGroup) Len() int {
	return g.subscribers.Size()
}
