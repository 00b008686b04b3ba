// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"context"
	"encoding/json"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types - these drive the event-driven architecture.
// Each event represents something significant that happened in the domain.
const (
	// Card lifecycle events
	EventCardRequested EventType = "card.requested"
	EventCardSubmitted EventType = "card.submitted"
	EventCardCompleted EventType = "card.completed"
	EventCardFailed    EventType = "card.failed"

	// Token ledger events
	EventTokensGranted  EventType = "tokens.granted"
	EventTokensReserved EventType = "tokens.reserved"
	EventTokensRefunded EventType = "tokens.refunded"

	// Score table events
	EventTablePublished EventType = "scoretable.published"
	EventTableActivated EventType = "scoretable.activated"

	// Learning record events
	EventRecordImported EventType = "learning.record_imported"

	// System events
	EventSweepCompleted EventType = "system.sweep_completed"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// NewBaseEvent creates a BaseEvent with the current timestamp.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// EventType returns the type of the event.
func (e BaseEvent) EventType() EventType { return e.Type }

// OccurredAt returns when the event occurred.
func (e BaseEvent) OccurredAt() time.Time { return e.Timestamp }

// AggregateID returns the ID of the aggregate that produced this event.
func (e BaseEvent) AggregateID() string { return e.AggregateId }

// GenericEvent is a map-backed event used by publishers that do not need a
// dedicated struct per event type.
type GenericEvent struct {
	BaseEvent
	Data map[string]interface{} `json:"data"`
}

// NewGenericEvent creates a GenericEvent with the given payload.
func NewGenericEvent(eventType EventType, aggregateID string, data map[string]interface{}) *GenericEvent {
	return &GenericEvent{
		BaseEvent: NewBaseEvent(eventType, aggregateID),
		Data:      data,
	}
}

// Payload returns the event data.
func (e *GenericEvent) Payload() map[string]interface{} {
	return e.Data
}

// MarshalJSON serializes the event including its payload.
func (e *GenericEvent) MarshalJSON() ([]byte, error) {
	type alias GenericEvent
	return json.Marshal((*alias)(e))
}

// EventHandler processes a domain event.
type EventHandler interface {
	// Handle processes the event. Returning an error does not stop other handlers.
	Handle(ctx context.Context, event Event) error
}

// EventHandlerFunc adapts a function to the EventHandler interface.
type EventHandlerFunc func(ctx context.Context, event Event) error

// Handle calls the wrapped function.
func (f EventHandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// EventPublisher publishes domain events to interested subscribers.
type EventPublisher interface {
	// Publish sends an event to all subscribed handlers.
	Publish(event Event) error
}

// NoopPublisher discards all events. Useful for tests and for running
// components without the event bus wired.
type NoopPublisher struct{}

// Publish discards the event.
func (NoopPublisher) Publish(Event) error { return nil }
