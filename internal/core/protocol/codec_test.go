package protocol

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/replinet/internal/core/ident"
)

type chatLine struct {
	Text string `json:"text"`
}

func (chatLine) MessageType() TypeID { return FirstUserTypeID }

type nudge struct {
	Entity ident.ID `json:"entity"`
}

func (*nudge) MessageType() TypeID { return FirstUserTypeID + 1 }
func (n *nudge) Target() ident.ID  { return n.Entity }
func (*nudge) Delivery() Delivery  { return Delivery{Method: UnreliableSequenced, Channel: 3} }

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	r := NewBuiltinRegistry()
	require.NoError(t, r.Register(chatLine{}))
	require.NoError(t, r.Register(&nudge{}))
	return NewCodec(r, nil)
}

func TestCodecValueAndPointerTypes(t *testing.T) {
	c := newTestCodec(t)

	frame, err := c.Encode(chatLine{Text: "hi"})
	require.NoError(t, err)
	id, err := PeekType(frame)
	require.NoError(t, err)
	assert.Equal(t, FirstUserTypeID, id)

	msg, err := c.Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, chatLine{Text: "hi"}, msg)

	frame, err = c.Encode(&nudge{Entity: 9})
	require.NoError(t, err)
	msg, err = c.Decode(frame)
	require.NoError(t, err)
	n, ok := msg.(*nudge)
	require.True(t, ok)
	assert.Equal(t, ident.ID(9), n.Target())
	assert.Equal(t, Delivery{Method: UnreliableSequenced, Channel: 3}, DeliveryOf(n))
}

func TestCodecBuiltins(t *testing.T) {
	c := newTestCodec(t)
	frame, err := c.Encode(RemovalNotice{IDs: []ident.ID{4, 5}})
	require.NoError(t, err)

	msg, err := c.Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, RemovalNotice{IDs: []ident.ID{4, 5}}, msg)
	assert.Equal(t, DefaultDelivery, DeliveryOf(msg))
}

func TestCodecUnknownType(t *testing.T) {
	c := newTestCodec(t)
	frame := make([]byte, 2)
	binary.BigEndian.PutUint16(frame, 999)

	_, err := c.Decode(frame)
	assert.ErrorIs(t, err, ErrUnknownMessageType)

	_, err = c.Decode([]byte{1})
	assert.ErrorIs(t, err, ErrInvalidFrame)
}

type unregistered struct{}

func (unregistered) MessageType() TypeID { return 200 }

func TestCodecRefusesUnregisteredAndOversized(t *testing.T) {
	c := newTestCodec(t)
	_, err := c.Encode(unregistered{})
	assert.ErrorIs(t, err, ErrUnregisteredType)

	c.WithMaxSize(8)
	_, err = c.Encode(chatLine{Text: "this will not fit"})
	assert.ErrorIs(t, err, ErrMessageTooLarge)
}

func TestCodecBadPayloadIsProtocolError(t *testing.T) {
	c := newTestCodec(t)
	frame := []byte{0, byte(FirstUserTypeID), '{'}
	_, err := c.Decode(frame)
	require.Error(t, err)
	assert.Equal(t, ErrorCodeDeserializationFailed, GetErrorCode(err))
}
