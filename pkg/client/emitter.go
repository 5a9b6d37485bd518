package client

import "sync"

// EventType names a notification emitted by a Conn or Channel.
type EventType string

const (
	// EventOpen fires once the transport is established.
	EventOpen EventType = "open"
	// EventClose fires once when the connection ends, for any reason.
	EventClose EventType = "close"
	// EventError fires when the transport fails. EventClose follows it.
	EventError EventType = "error"
	// EventUpdate carries a decoded update on a Channel.
	EventUpdate EventType = "update"
)

// Subscription identifies one registered listener.
type Subscription struct {
	event EventType
	id    uint64
}

// Event returns the event the listener was registered for.
func (s Subscription) Event() EventType { return s.event }

type listener[T any] struct {
	id uint64
	fn func(T)
}

// Emitter is an ordered observer registry. Listeners for an event run
// synchronously on the emitting goroutine, in registration order.
type Emitter[T any] struct {
	mu        sync.Mutex
	nextID    uint64
	listeners map[EventType][]listener[T]
}

// On registers fn for event.
func (e *Emitter[T]) On(event EventType, fn func(T)) Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listeners == nil {
		e.listeners = make(map[EventType][]listener[T])
	}
	e.nextID++
	e.listeners[event] = append(e.listeners[event], listener[T]{id: e.nextID, fn: fn})
	return Subscription{event: event, id: e.nextID}
}

// Off removes a listener. It reports whether the listener was registered.
func (e *Emitter[T]) Off(sub Subscription) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	list := e.listeners[sub.event]
	for i, l := range list {
		if l.id == sub.id {
			e.listeners[sub.event] = append(list[:i:i], list[i+1:]...)
			return true
		}
	}
	return false
}

// Emit calls every listener for event with v. Listeners added or removed
// during Emit take effect from the next Emit.
func (e *Emitter[T]) Emit(event EventType, v T) {
	e.mu.Lock()
	list := e.listeners[event]
	e.mu.Unlock()
	for _, l := range list {
		l.fn(v)
	}
}

// Len returns the number of listeners for event.
func (e *Emitter[T]) Len(event EventType) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners[event])
}
