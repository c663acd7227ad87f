// internal/handler/event_bus.go
package handler

import (
	"sync"

	"go.uber.org/zap"

	"dmm-service/internal/model"
)

// allSessions subscribes to the events of every session
const allSessions = ""

// EventBus fans session events out to subscribers. It implements
// service.EventPublisher.
type EventBus struct {
	subscribers map[string][]chan model.SessionEvent
	events      chan model.SessionEvent
	mutex       sync.RWMutex
	logger      *zap.Logger
	stopOnce    sync.Once
}

// NewEventBus creates a new event bus
func NewEventBus(logger *zap.Logger) *EventBus {
	return &EventBus{
		subscribers: make(map[string][]chan model.SessionEvent),
		events:      make(chan model.SessionEvent, 1000),
		logger:      logger,
	}
}

// Start distributes published events until Stop is called
func (eb *EventBus) Start() {
	for event := range eb.events {
		eb.distributeEvent(event)
	}

	eb.mutex.Lock()
	defer eb.mutex.Unlock()
	for key, subscribers := range eb.subscribers {
		for _, subscriber := range subscribers {
			close(subscriber)
		}
		delete(eb.subscribers, key)
	}
}

// Stop stops distribution and closes every subscription
func (eb *EventBus) Stop() {
	eb.stopOnce.Do(func() {
		close(eb.events)
	})
}

// Publish publishes an event without blocking
func (eb *EventBus) Publish(event model.SessionEvent) {
	defer func() {
		// publishing after Stop drops the event
		recover()
	}()

	select {
	case eb.events <- event:
	default:
		eb.logger.Warn("Event bus full, dropping event",
			zap.String("event_type", string(event.EventType)),
			zap.String("session_id", event.SessionID.String()),
		)
	}
}

// Subscribe subscribes to the events of one session, or of every session
// when sessionID is empty. The returned function cancels the subscription.
func (eb *EventBus) Subscribe(sessionID string) (<-chan model.SessionEvent, func()) {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	subscriber := make(chan model.SessionEvent, 100)
	eb.subscribers[sessionID] = append(eb.subscribers[sessionID], subscriber)

	var once sync.Once
	return subscriber, func() {
		once.Do(func() { eb.unsubscribe(sessionID, subscriber) })
	}
}

func (eb *EventBus) unsubscribe(sessionID string, subscriber chan model.SessionEvent) {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	subscribers := eb.subscribers[sessionID]
	for i, s := range subscribers {
		if s == subscriber {
			eb.subscribers[sessionID] = append(subscribers[:i], subscribers[i+1:]...)
			close(subscriber)
			return
		}
	}
}

// distributeEvent distributes an event to subscribers
func (eb *EventBus) distributeEvent(event model.SessionEvent) {
	eb.mutex.RLock()
	defer eb.mutex.RUnlock()

	targets := append([]chan model.SessionEvent{}, eb.subscribers[event.SessionID.String()]...)
	targets = append(targets, eb.subscribers[allSessions]...)

	for _, subscriber := range targets {
		select {
		case subscriber <- event:
		default:
			// Subscriber is slow, skip
		}
	}
}
