package protocol

import "fmt"

// Method is a delivery guarantee tier.
type Method uint8

const (
	// Unreliable may be lost, duplicated or reordered.
	Unreliable Method = iota
	// UnreliableSequenced may be lost; older packets arriving late are dropped.
	UnreliableSequenced
	// ReliableUnordered always arrives, in any order.
	ReliableUnordered
	// ReliableSequenced always arrives; a packet older than one already
	// delivered on the same channel is dropped.
	ReliableSequenced
	// ReliableOrdered always arrives, in send order within its channel.
	ReliableOrdered
)

func (m Method) String() string {
	switch m {
	case Unreliable:
		return "unreliable"
	case UnreliableSequenced:
		return "unreliable-sequenced"
	case ReliableUnordered:
		return "reliable-unordered"
	case ReliableSequenced:
		return "reliable-sequenced"
	case ReliableOrdered:
		return "reliable-ordered"
	default:
		return fmt.Sprintf("method(%d)", uint8(m))
	}
}

func (m Method) Valid() bool {
	return m <= ReliableOrdered
}

func (m Method) Reliable() bool {
	return m >= ReliableUnordered && m <= ReliableOrdered
}

func (m Method) Sequenced() bool {
	return m == UnreliableSequenced || m == ReliableSequenced
}

// Delivery pairs a method with a channel. Ordering and sequencing only hold
// between messages on the same channel.
type Delivery struct {
	Method  Method
	Channel uint8
}

var DefaultDelivery = Delivery{Method: ReliableOrdered}

func (d Delivery) String() string {
	return fmt.Sprintf("%s/%d", d.Method, d.Channel)
}
