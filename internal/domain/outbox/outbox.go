// Package outbox defines the event contract between the purchase path
// and background consumers such as the stock watcher. Side effects of a
// committed purchase stay out of the request path: the coordinator
// publishes an event after commit and subscribers react asynchronously.
package outbox

import "context"

// Event is a fact that already happened, identified by name. Payloads
// are defined next to the code that emits them.
type Event interface {
	EventName() string
}

// Handler consumes one event. Returning an error is logged by the bus;
// it never fails the purchase that produced the event.
type Handler func(ctx context.Context, e Event) error

// Publisher is the write side, used by application services after a
// successful commit.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Subscriber is the read side, used by workers at startup to register
// for the event names they care about.
type Subscriber interface {
	Subscribe(eventName string, h Handler)
}
