package protocol

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// HeaderSize is the length of the transport header providers put in front
// of every codec frame: [method u8][channel u8][seq u32].
const HeaderSize = 6

type Header struct {
	Delivery Delivery
	Seq      uint32
}

// AppendPacket appends header and frame to dst.
func AppendPacket(dst []byte, h Header, frame []byte) []byte {
	var head [HeaderSize]byte
	head[0] = byte(h.Delivery.Method)
	head[1] = h.Delivery.Channel
	binary.BigEndian.PutUint32(head[2:], h.Seq)
	dst = append(dst, head[:]...)
	return append(dst, frame...)
}

// ParsePacket splits a packet into its header and codec frame. The frame
// aliases packet.
func ParsePacket(packet []byte) (Header, []byte, error) {
	if len(packet) < HeaderSize {
		return Header{}, nil, fmt.Errorf("%w: %d byte packet", ErrInvalidHeader, len(packet))
	}
	h := Header{
		Delivery: Delivery{Method: Method(packet[0]), Channel: packet[1]},
		Seq:      binary.BigEndian.Uint32(packet[2:]),
	}
	if !h.Delivery.Method.Valid() {
		return Header{}, nil, fmt.Errorf("%w: method %d", ErrInvalidHeader, packet[0])
	}
	return h, packet[HeaderSize:], nil
}

// Sequencing numbers outgoing sequenced packets and drops stale incoming ones
// for a single connection. Each (method, channel) pair has its own counter.
type Sequencing struct {
	mu       sync.Mutex
	outgoing map[Delivery]uint32
	incoming map[Delivery]uint32
}

func NewSequencing() *Sequencing {
	return &Sequencing{
		outgoing: make(map[Delivery]uint32),
		incoming: make(map[Delivery]uint32),
	}
}

// Stamp returns the header for the next packet sent with d.
func (s *Sequencing) Stamp(d Delivery) Header {
	if !d.Method.Sequenced() {
		return Header{Delivery: d}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outgoing[d]++
	return Header{Delivery: d, Seq: s.outgoing[d]}
}

// Accept reports whether an incoming packet should be delivered. Sequenced
// packets not newer than the last accepted one on their channel are stale.
func (s *Sequencing) Accept(h Header) bool {
	if !h.Delivery.Method.Sequenced() {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	last, seen := s.incoming[h.Delivery]
	if seen && int32(h.Seq-last) <= 0 {
		return false
	}
	s.incoming[h.Delivery] = h.Seq
	return true
}
