package eventbus

import (
	"reflect"
	"sync"
)

// Handler is a function that handles an event
type Handler func(event interface{})

// EventBus provides in-process pub/sub. Services use it to decouple domain
// transitions (composite updated, trade recorded) from their observers
// (snapshot store, broker publisher, metrics).
type EventBus struct {
	handlers map[reflect.Type][]Handler
	mu       sync.RWMutex
}

// New creates a new EventBus
func New() *EventBus {
	return &EventBus{
		handlers: make(map[reflect.Type][]Handler),
	}
}

// Subscribe registers a handler for a specific event type
func (e *EventBus) Subscribe(eventType interface{}, handler Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t := reflect.TypeOf(eventType)
	e.handlers[t] = append(e.handlers[t], handler)
}

// Publish publishes an event to all subscribers asynchronously.
func (e *EventBus) Publish(event interface{}) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	eventType := reflect.TypeOf(event)
	if handlers, ok := e.handlers[eventType]; ok {
		for _, handler := range handlers {
			go handler(event)
		}
	}
}

// PublishSync publishes an event synchronously to all subscribers
func (e *EventBus) PublishSync(event interface{}) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	eventType := reflect.TypeOf(event)
	if handlers, ok := e.handlers[eventType]; ok {
		for _, handler := range handlers {
			handler(event)
		}
	}
}

// HasSubscribers returns true if there are subscribers for the event type
func (e *EventBus) HasSubscribers(eventType interface{}) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	t := reflect.TypeOf(eventType)
	handlers, ok := e.handlers[t]
	return ok && len(handlers) > 0
}

// SubscriberCount returns the number of subscribers for an event type
func (e *EventBus) SubscriberCount(eventType interface{}) int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	t := reflect.TypeOf(eventType)
	return len(e.handlers[t])
}
