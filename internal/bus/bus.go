// Package bus provides an internal event bus that decouples request handling
// from metrics and other observers.
package bus

import (
	"sync"
)

// EventType identifies different event types
type EventType string

// Event types published by the lip-sync service
const (
	// Timing events carry "algorithm" (approximate, precise, alignment),
	// "words" and "durationMs".
	EventTypeTimingDerived EventType = "timing.derived"
	EventTypeTimingFailed  EventType = "timing.failed"

	// Viseme events carry "language", "fallback" and "visemes".
	EventTypeVisemesSegmented EventType = "visemes.segmented"

	// Transcriber events carry "language" and, on failure, "error".
	EventTypeTranscribed      EventType = "stt.transcribed"
	EventTypeTranscribeFailed EventType = "stt.failed"

	// Speech events carry "voice", "words" and "audioBytes".
	EventTypeSpeechSynthesized EventType = "tts.synthesized"

	// Config events carry "path".
	EventTypeConfigReloaded EventType = "config.reloaded"
)

// Event represents a bus event
type Event struct {
	Type EventType
	Data map[string]any
}

// Handler is a function that handles events
type Handler func(Event)

// EventBus is a simple pub/sub event bus
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]Handler),
	}
}

// Subscribe adds a handler for an event type
func (b *EventBus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// SubscribeMultiple adds a handler for multiple event types
func (b *EventBus) SubscribeMultiple(eventTypes []EventType, handler Handler) {
	for _, et := range eventTypes {
		b.Subscribe(et, handler)
	}
}

// Publish sends an event to all subscribed handlers
func (b *EventBus) Publish(event Event) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers[event.Type]))
	copy(handlers, b.handlers[event.Type])
	b.mu.RUnlock()

	for _, handler := range handlers {
		// Call handlers in goroutines to avoid blocking
		go handler(event)
	}
}

// PublishSync sends an event and waits for all handlers to complete
func (b *EventBus) PublishSync(event Event) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers[event.Type]))
	copy(handlers, b.handlers[event.Type])
	b.mu.RUnlock()

	var wg sync.WaitGroup
	for _, handler := range handlers {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			h(event)
		}(handler)
	}
	wg.Wait()
}

// HandlerCount returns the number of handlers for an event type.
func (b *EventBus) HandlerCount(eventType EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType])
}
