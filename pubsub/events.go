package pubsub

import "context"

const (
	// IngestCompleted fires after a document's chunks are persisted.
	IngestCompleted EventType = "ingest_completed"
	// IngestFailed fires when an ingestion attempt is rejected or errors out.
	IngestFailed EventType = "ingest_failed"
)

// Subscriber hands out event channels tied to a caller context.
type Subscriber[T any] interface {
	// Subscribe returns a read-only event channel that closes when the
	// context is cancelled or the broker shuts down.
	Subscribe(context.Context) <-chan Event[T]
}

type (
	// EventType identifies what happened to the payload.
	EventType string

	// Event is one occurrence in a resource's lifecycle.
	Event[T any] struct {
		Type    EventType
		Payload T
	}

	// Publisher fans an event out to all current subscribers.
	Publisher[T any] interface {
		Publish(EventType, T)
	}
)
