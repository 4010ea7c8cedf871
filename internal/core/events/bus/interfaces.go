package bus

import "time"

// EventBus is an in-process pub/sub bus for endpoint lifecycle notifications.
//
// Key characteristics:
// - Type-based fan-out: handlers subscribe by Event.Type() string.
// - Synchronous delivery: Publish calls handlers in the caller goroutine, in
//   subscription order.
// - Error aggregation: every handler runs; their errors are joined.
// - Optional observers see every delivery.
//
// All methods are safe for concurrent use. A handler may subscribe or cancel
// subscriptions while being delivered to; the change applies from the next
// Publish.
type EventBus interface {
	// Publish delivers event to all active subscribers of event.Type().
	Publish(event Event) error
	// Subscribe registers handler for eventType.
	Subscribe(eventType string, handler EventHandler) (Subscription, error)
	// Unsubscribe cancels sub. A nil sub is ignored.
	Unsubscribe(sub Subscription) error
	// Subscribers returns the number of active subscriptions for eventType.
	Subscribers(eventType string) int

	AddObserver(obs Observer)
	RemoveObserver(obs Observer)
}

// Event is an immutable notification.
type Event interface {
	Type() string
	Source() string
	Timestamp() time.Time
	Data() any
}

// EventHandler is invoked per delivered event.
type EventHandler func(event Event) error

// Subscription is a handler bound to an event type.
type Subscription interface {
	ID() string
	EventType() string
	IsActive() bool
	// Cancel removes the handler. Multiple calls are safe.
	Cancel() error
}

// Observer is told about every delivery. Observers should return quickly.
type Observer interface {
	OnDelivered(eventType string, handlers int, err error, elapsed time.Duration)
}
