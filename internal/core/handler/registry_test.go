package handler

import (
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/replinet/internal/core/dispatch"
	"github.com/zeusync/replinet/internal/core/ident"
	"github.com/zeusync/replinet/internal/core/observability/log"
	"github.com/zeusync/replinet/internal/core/protocol"
)

type ping struct{ N int }

func (ping) MessageType() protocol.TypeID { return protocol.FirstUserTypeID }

type move struct{ Entity ident.ID }

func (move) MessageType() protocol.TypeID { return protocol.FirstUserTypeID + 1 }
func (m move) Target() ident.ID           { return m.Entity }

type hit struct{ Entity ident.ID }

func (hit) MessageType() protocol.TypeID { return protocol.FirstUserTypeID + 2 }
func (h hit) Target() ident.ID           { return h.Entity }

type stray struct{}

func (stray) MessageType() protocol.TypeID { return 300 }

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	types := protocol.NewBuiltinRegistry()
	types.MustRegister(ping{}, move{}, hit{})
	return New(types, log.Nop())
}

func TestCallbacksRunInRegistrationOrder(t *testing.T) {
	r := newRegistry(t)
	var order []string
	Add(r, func(_ protocol.PeerID, m ping) error { order = append(order, "first"); return nil })
	Add(r, func(_ protocol.PeerID, m ping) error { order = append(order, "second"); return nil })

	require.NoError(t, r.Handle(1, ping{N: 1}))
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestInterfaceCoversEveryImplementation(t *testing.T) {
	r := newRegistry(t)
	var targets []ident.ID
	Add(r, func(_ protocol.PeerID, m protocol.EntityMessage) error {
		targets = append(targets, m.Target())
		return nil
	})

	assert.True(t, r.CanHandle(reflect.TypeOf(move{})))
	assert.True(t, r.CanHandle(reflect.TypeOf(hit{})))
	assert.False(t, r.CanHandle(reflect.TypeOf(ping{})))
	assert.Equal(t, 2, r.Len())

	require.NoError(t, r.Handle(1, move{Entity: 4}))
	require.NoError(t, r.Handle(1, hit{Entity: 5}))
	assert.Equal(t, []ident.ID{4, 5}, targets)
}

func TestUnknownTypeIsIgnored(t *testing.T) {
	r := newRegistry(t)
	assert.NoError(t, r.Handle(1, stray{}))
	assert.NoError(t, r.Handle(1, ping{}))
}

func TestFailuresAreJoinedAndDoNotStopOthers(t *testing.T) {
	r := newRegistry(t)
	errA := errors.New("a failed")
	ran := 0
	Add(r, func(protocol.PeerID, ping) error { ran++; return errA })
	Add(r, func(protocol.PeerID, ping) error { ran++; panic("b exploded") })
	Add(r, func(protocol.PeerID, ping) error { ran++; return nil })

	err := r.Handle(7, ping{})
	require.Error(t, err)
	assert.Equal(t, 3, ran)
	assert.ErrorIs(t, err, errA)
	assert.Contains(t, err.Error(), "b exploded")
	assert.Contains(t, err.Error(), "peer-7")
}

func TestClearIsIdempotent(t *testing.T) {
	r := newRegistry(t)
	called := false
	Add(r, func(protocol.PeerID, ping) error { called = true; return nil })

	r.Clear()
	r.Clear()
	assert.Zero(t, r.Len())
	require.NoError(t, r.Handle(1, ping{}))
	assert.False(t, called)
}

func TestScanCatalogMarks(t *testing.T) {
	catalog := dispatch.NewCatalog()
	var got []string
	catalog.Mark(dispatch.CategoryHandle, "returns error", func(_ protocol.PeerID, m ping) error {
		got = append(got, "ping")
		return nil
	})
	catalog.Mark(dispatch.CategoryHandle, "no result", func(_ protocol.PeerID, m protocol.EntityMessage) {
		got = append(got, "entity")
	})
	catalog.Mark(dispatch.CategoryHandle, "bad args", func(m ping) error { return nil })
	catalog.Mark(dispatch.CategoryHandle, "bad result", func(_ protocol.PeerID, m ping) int { return 0 })
	catalog.Mark(dispatch.CategoryHandle, "not a message", func(_ protocol.PeerID, s string) error { return nil })
	catalog.Mark(dispatch.CategorySpawn, "other category", func(_ protocol.PeerID, m ping) error { return nil })

	r := newRegistry(t)
	assert.Equal(t, 2, r.Scan(catalog, dispatch.CategoryHandle))

	require.NoError(t, r.Handle(1, ping{}))
	require.NoError(t, r.Handle(1, move{}))
	assert.Equal(t, []string{"ping", "entity"}, got)
}

func TestScannedErrorsPropagate(t *testing.T) {
	catalog := dispatch.NewCatalog()
	boom := errors.New("boom")
	catalog.Mark(dispatch.CategoryHandle, "fails", func(_ protocol.PeerID, m ping) error { return boom })

	r := newRegistry(t)
	r.Scan(catalog, dispatch.CategoryHandle)
	assert.ErrorIs(t, r.Handle(1, ping{}), boom)
}
