// Package pubsub provides generic event fan-out: a synchronous observer list
// (Emitter) for lifecycle notifications and an asynchronous channel broker
// (Broker) for streaming consumers.
package pubsub

import (
	"context"
	"time"
)

// EventType represents the type of event being published.
type EventType string

const (
	CreatedEvent       EventType = "created"
	OpenedEvent        EventType = "opened"
	ClosedEvent        EventType = "closed"
	ChangedEvent       EventType = "changed"
	StatusChangedEvent EventType = "status"
	UpgradeEvent       EventType = "upgrade"
)

// Event represents a published event with a typed payload.
type Event[T any] struct {
	Type      EventType
	Payload   T
	Timestamp time.Time
}

// Subscriber provides a subscription channel for events.
type Subscriber[T any] interface {
	Subscribe(ctx context.Context) <-chan Event[T]
}

// Publisher allows publishing events with a typed payload.
type Publisher[T any] interface {
	Publish(eventType EventType, payload T)
}
