package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/zeusync/replinet/pkg/generic"
)

// PayloadCodec turns a message body into bytes and back.
type PayloadCodec interface {
	Name() string
	Marshal(buf *bytes.Buffer, msg Message) error
	Unmarshal(data []byte, target any) error
}

// JSONPayload is the default PayloadCodec.
type JSONPayload struct{}

func (JSONPayload) Name() string { return "json" }

func (JSONPayload) Marshal(buf *bytes.Buffer, msg Message) error {
	return json.NewEncoder(buf).Encode(msg)
}

func (JSONPayload) Unmarshal(data []byte, target any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, target)
}

const (
	typeIDSize = 2
	// DefaultMaxMessageSize bounds encoded messages; larger ones are refused
	// before they reach a transport.
	DefaultMaxMessageSize = 1 << 20
)

// Codec frames messages as [u16 type id][payload] using the ids held by a
// Registry.
type Codec struct {
	types   *Registry
	payload PayloadCodec
	maxSize int
	buffers *generic.Pool[*bytes.Buffer]
}

func NewCodec(types *Registry, payload PayloadCodec) *Codec {
	if payload == nil {
		payload = JSONPayload{}
	}
	return &Codec{
		types:   types,
		payload: payload,
		maxSize: DefaultMaxMessageSize,
		buffers: generic.NewPool(func() *bytes.Buffer {
			return bytes.NewBuffer(make([]byte, 0, 512))
		}),
	}
}

// WithMaxSize changes the encoded size limit.
func (c *Codec) WithMaxSize(n int) *Codec {
	c.maxSize = n
	return c
}

func (c *Codec) Types() *Registry {
	return c.types
}

// Encode returns a freshly allocated frame for msg.
func (c *Codec) Encode(msg Message) ([]byte, error) {
	t := reflect.TypeOf(msg)
	id, ok := c.types.IDOf(t)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnregisteredType, t)
	}

	buf := c.buffers.Get()
	defer func() {
		buf.Reset()
		c.buffers.Put(buf)
	}()

	var head [typeIDSize]byte
	binary.BigEndian.PutUint16(head[:], uint16(id))
	buf.Write(head[:])

	if err := c.payload.Marshal(buf, msg); err != nil {
		return nil, NewProtocolError(ErrorCodeSerializationFailed, fmt.Sprintf("encode %s", t), err)
	}
	if c.maxSize > 0 && buf.Len() > c.maxSize {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrMessageTooLarge, t, buf.Len())
	}

	frame := make([]byte, buf.Len())
	copy(frame, buf.Bytes())
	return frame, nil
}

// Decode builds a new message value from a frame. An id missing from the
// registry yields ErrUnknownMessageType so callers can skip the frame.
func (c *Codec) Decode(frame []byte) (Message, error) {
	if len(frame) < typeIDSize {
		return nil, fmt.Errorf("%w: %d byte frame", ErrInvalidFrame, len(frame))
	}
	id := TypeID(binary.BigEndian.Uint16(frame))

	target, finish, err := c.types.New(id)
	if err != nil {
		return nil, err
	}
	if err = c.payload.Unmarshal(frame[typeIDSize:], target); err != nil {
		return nil, NewProtocolError(ErrorCodeDeserializationFailed, fmt.Sprintf("decode type %d", id), err)
	}
	return finish(), nil
}

// PeekType reads the type id of a frame without decoding it.
func PeekType(frame []byte) (TypeID, error) {
	if len(frame) < typeIDSize {
		return 0, ErrInvalidFrame
	}
	return TypeID(binary.BigEndian.Uint16(frame)), nil
}
