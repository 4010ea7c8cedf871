package protocol

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type renamed struct{}

func (renamed) MessageType() TypeID { return FirstUserTypeID + 5 }
func (renamed) MessageName() string { return "game.Renamed" }

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewBuiltinRegistry()
	assert.ErrorIs(t, r.Register(ConnectRequest{}), ErrDuplicateMessageType)

	require.NoError(t, r.Register(chatLine{}))
	assert.Equal(t, 4, r.Len())
}

func TestNameOf(t *testing.T) {
	assert.Equal(t, "game.Renamed", NameOf(reflect.TypeOf(renamed{})))
	assert.Equal(t, "protocol.chatLine", NameOf(reflect.TypeOf(chatLine{})))
	assert.Equal(t, "protocol.nudge", NameOf(reflect.TypeOf(&nudge{})))
	assert.Equal(t, "replinet.ConnectRequest", NameOf(reflect.TypeOf(ConnectRequest{})))
}

func TestTypesOrderedByID(t *testing.T) {
	r := NewBuiltinRegistry()
	require.NoError(t, r.Register(renamed{}))
	require.NoError(t, r.Register(chatLine{}))

	types := r.Types()
	require.Len(t, types, 5)
	assert.Equal(t, reflect.TypeOf(ConnectRequest{}), types[0])
	assert.Equal(t, reflect.TypeOf(renamed{}), types[4])
}

func TestAdoptRemapsByName(t *testing.T) {
	server := NewBuiltinRegistry()
	server.MustRegister(chatLine{}, renamed{})

	remote := server.Schema()
	for i, e := range remote.Entries {
		if e.Name == "game.Renamed" {
			remote.Entries[i].ID = 40
		}
	}
	remote.Entries = append(remote.Entries, SchemaEntry{Name: "game.OnlyOnServer", ID: 41})

	client := NewBuiltinRegistry()
	client.MustRegister(chatLine{}, renamed{}, &nudge{})

	report, err := client.Adopt(remote)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Remapped)
	assert.Equal(t, []string{"game.OnlyOnServer"}, report.Unknown)
	assert.Equal(t, []string{"protocol.nudge"}, report.Missing)

	id, ok := client.IDOf(reflect.TypeOf(renamed{}))
	require.True(t, ok)
	assert.Equal(t, TypeID(40), id)

	_, ok = client.Lookup(FirstUserTypeID + 5)
	assert.False(t, ok, "old id released")

	id, ok = client.IDOf(reflect.TypeOf(&nudge{}))
	require.True(t, ok, "local-only type keeps its free id")
	assert.Equal(t, FirstUserTypeID+1, id)
}

func TestAdoptRejectsInvalidSchema(t *testing.T) {
	r := NewBuiltinRegistry()
	_, err := r.Adopt(Schema{Entries: []SchemaEntry{{Name: "a", ID: 1}, {Name: "b", ID: 1}}})
	assert.Error(t, err)
}

func TestFingerprintIgnoresEntryOrder(t *testing.T) {
	a := Schema{Entries: []SchemaEntry{{Name: "x", ID: 1}, {Name: "y", ID: 2}}}
	b := Schema{Entries: []SchemaEntry{{Name: "y", ID: 2}, {Name: "x", ID: 1}}}
	c := Schema{Entries: []SchemaEntry{{Name: "x", ID: 2}, {Name: "y", ID: 1}}}

	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
}
