package eventbus

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// ChannelBus is a Bus implementation backed by a buffered Go channel and a
// small worker pool. Delivery is at-most-once: a saturated bus drops events
// rather than back-pressuring the publisher, because publishers sit on the
// dispatcher's synchronous path.
type ChannelBus struct {
	// subscribers maps event types to a map of subscription IDs to handlers
	subscribers map[EventType]map[string]EventHandler

	// allSubscribers receive every event regardless of type
	allSubscribers map[string]EventHandler

	eventChan chan queuedEvent
	done      chan struct{}
	closed    bool
	dropped   atomic.Int64

	wg    sync.WaitGroup
	mutex sync.RWMutex

	bufferSize  int
	workerCount int
}

type queuedEvent struct {
	ctx   context.Context
	event Event
}

// ChannelBusOption configures the channel-based bus
type ChannelBusOption func(*ChannelBus)

// WithBufferSize sets the event channel buffer size
func WithBufferSize(size int) ChannelBusOption {
	return func(b *ChannelBus) {
		b.bufferSize = size
	}
}

// WithWorkerCount sets the number of event processing workers
func WithWorkerCount(count int) ChannelBusOption {
	return func(b *ChannelBus) {
		b.workerCount = count
	}
}

// NewChannelBus creates a new channel-based event bus
func NewChannelBus(options ...ChannelBusOption) *ChannelBus {
	b := &ChannelBus{
		subscribers:    make(map[EventType]map[string]EventHandler),
		allSubscribers: make(map[string]EventHandler),
		done:           make(chan struct{}),

		bufferSize:  100,
		workerCount: 5,
	}

	for _, option := range options {
		option(b)
	}

	b.eventChan = make(chan queuedEvent, b.bufferSize)

	for i := 0; i < b.workerCount; i++ {
		b.wg.Add(1)
		go b.worker()
	}

	return b
}

func (b *ChannelBus) worker() {
	defer b.wg.Done()

	for {
		select {
		case <-b.done:
			return
		case evt := <-b.eventChan:
			b.dispatch(evt)
		}
	}
}

// dispatch delivers one event to every relevant subscriber. Handler maps
// are copied under the read lock so handlers may subscribe or unsubscribe
// from inside a callback without deadlocking.
func (b *ChannelBus) dispatch(evt queuedEvent) {
	if evt.ctx.Err() != nil {
		return
	}

	b.mutex.RLock()
	handlers := make([]EventHandler, 0, len(b.allSubscribers))
	if typed, exists := b.subscribers[evt.event.Type()]; exists {
		for _, h := range typed {
			handlers = append(handlers, h)
		}
	}
	for _, h := range b.allSubscribers {
		handlers = append(handlers, h)
	}
	b.mutex.RUnlock()

	for _, handler := range handlers {
		if evt.ctx.Err() != nil {
			return
		}
		if err := handler(evt.ctx, evt.event); err != nil {
			// Handler errors never propagate to the publisher.
			log.Printf("Event handler error (event_type: %s): %v", evt.event.Type(), err)
		}
	}
}

// Publish offers the event to the bus without blocking. Returns an error
// only when the bus is closed; a full buffer drops the event silently apart
// from the drop counter.
func (b *ChannelBus) Publish(ctx context.Context, event Event) error {
	b.mutex.RLock()
	closed := b.closed
	b.mutex.RUnlock()
	if closed {
		return fmt.Errorf("event bus is closed")
	}

	select {
	case b.eventChan <- queuedEvent{ctx: ctx, event: event}:
		return nil
	default:
		if n := b.dropped.Add(1); n%100 == 1 {
			log.Printf("Event bus saturated, dropping events (event_type: %s, dropped_total: %d)", event.Type(), n)
		}
		return nil
	}
}

// Dropped returns the number of events discarded due to saturation.
func (b *ChannelBus) Dropped() int64 {
	return b.dropped.Load()
}

// Subscribe registers a handler for specific event types
func (b *ChannelBus) Subscribe(eventTypes []EventType, handler EventHandler) (string, error) {
	if handler == nil {
		return "", fmt.Errorf("handler cannot be nil")
	}
	if len(eventTypes) == 0 {
		return "", fmt.Errorf("at least one event type is required")
	}

	subscriptionID := uuid.New().String()

	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.closed {
		return "", fmt.Errorf("event bus is closed")
	}

	for _, eventType := range eventTypes {
		if _, exists := b.subscribers[eventType]; !exists {
			b.subscribers[eventType] = make(map[string]EventHandler)
		}
		b.subscribers[eventType][subscriptionID] = handler
	}

	return subscriptionID, nil
}

// SubscribeAll registers a handler for all event types
func (b *ChannelBus) SubscribeAll(handler EventHandler) (string, error) {
	if handler == nil {
		return "", fmt.Errorf("handler cannot be nil")
	}

	subscriptionID := uuid.New().String()

	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.closed {
		return "", fmt.Errorf("event bus is closed")
	}

	b.allSubscribers[subscriptionID] = handler
	return subscriptionID, nil
}

// Unsubscribe removes a subscription by ID
func (b *ChannelBus) Unsubscribe(subscriptionID string) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	delete(b.allSubscribers, subscriptionID)
	for eventType := range b.subscribers {
		delete(b.subscribers[eventType], subscriptionID)
	}

	return nil
}

// Close shuts down the bus and waits for in-flight deliveries to finish.
func (b *ChannelBus) Close() error {
	b.mutex.Lock()
	if b.closed {
		b.mutex.Unlock()
		return nil
	}
	b.closed = true
	b.mutex.Unlock()

	close(b.done)
	b.wg.Wait()
	return nil
}
