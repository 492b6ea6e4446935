package workspace

import "github.com/zjrosen/wcroots/internal/pubsub"

// Event is published on the manager's broker for streaming consumers.
type Event struct {
	Kind pubsub.EventType
	Root string
	// Path is set for changed events.
	Path string
	// Err is set for upgrade events.
	Err error
}
