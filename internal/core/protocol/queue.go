package protocol

import "sync"

const DefaultEventQueueSize = 4096

// EventQueue hands events from provider goroutines to the tick goroutine.
// Producers block on Push (reliable traffic) or give up on Offer (unreliable
// traffic); the consumer drains with Poll and never blocks.
type EventQueue struct {
	events chan Event
	done   chan struct{}
	once   sync.Once
}

func NewEventQueue(size int) *EventQueue {
	if size <= 0 {
		size = DefaultEventQueueSize
	}
	return &EventQueue{
		events: make(chan Event, size),
		done:   make(chan struct{}),
	}
}

// Push waits for room. It returns false once the queue is closed.
func (q *EventQueue) Push(ev Event) bool {
	select {
	case <-q.done:
		return false
	default:
	}
	select {
	case q.events <- ev:
		return true
	case <-q.done:
		return false
	}
}

// Offer enqueues without waiting and reports whether the event was kept.
func (q *EventQueue) Offer(ev Event) bool {
	select {
	case <-q.done:
		return false
	case q.events <- ev:
		return true
	default:
		return false
	}
}

// Deliver pushes reliable data and offers everything else.
func (q *EventQueue) Deliver(ev Event) bool {
	if ev.Kind == EventData && !ev.Delivery.Method.Reliable() {
		return q.Offer(ev)
	}
	return q.Push(ev)
}

// Poll drains up to max events without blocking; max <= 0 drains all.
func (q *EventQueue) Poll(max int) []Event {
	var out []Event
	for max <= 0 || len(out) < max {
		select {
		case ev := <-q.events:
			out = append(out, ev)
		default:
			return out
		}
	}
	return out
}

func (q *EventQueue) Len() int {
	return len(q.events)
}

// Close releases blocked producers. Events already queued can still be polled.
func (q *EventQueue) Close() {
	q.once.Do(func() { close(q.done) })
}

func (q *EventQueue) Done() <-chan struct{} {
	return q.done
}

const DefaultSendQueueSize = 1024

// Packet is a stamped frame waiting for a connection's writer goroutine.
type Packet struct {
	Header Header
	Frame  []byte
}

// SendQueue buffers packets between Session.Send and the goroutine that
// writes one connection. After Close the writer drains what is left.
type SendQueue struct {
	packets chan Packet
	done    chan struct{}
	once    sync.Once
}

func NewSendQueue(size int) *SendQueue {
	if size <= 0 {
		size = DefaultSendQueueSize
	}
	return &SendQueue{
		packets: make(chan Packet, size),
		done:    make(chan struct{}),
	}
}

// Enqueue copies frame into the queue. When the queue is full unreliable
// frames are dropped silently and reliable ones fail with ErrMessageQueueFull.
func (q *SendQueue) Enqueue(h Header, frame []byte) error {
	select {
	case <-q.done:
		return ErrConnectionClosed
	default:
	}
	select {
	case q.packets <- Packet{Header: h, Frame: append([]byte(nil), frame...)}:
		return nil
	default:
		if !h.Delivery.Method.Reliable() {
			return nil
		}
		return ErrMessageQueueFull
	}
}

func (q *SendQueue) Packets() <-chan Packet {
	return q.packets
}

// Drain returns the packets still queued without waiting.
func (q *SendQueue) Drain() []Packet {
	var out []Packet
	for {
		select {
		case p := <-q.packets:
			out = append(out, p)
		default:
			return out
		}
	}
}

// Close stops accepting packets.
func (q *SendQueue) Close() {
	q.once.Do(func() { close(q.done) })
}

func (q *SendQueue) Done() <-chan struct{} {
	return q.done
}
