// Package messagequeue defines the message queue port (interface).
package messagequeue

import "context"

// Handler processes a message received from the queue.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue is the port interface for publishing and subscribing to messages.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Close shuts down the queue connection.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// Subject constants for NATS subjects used by QueryWarden.
const (
	SubjectFlowSubmit     = "flows.submit"     // external intake: start a flow from a ticket
	SubjectFlowTransition = "flows.transition" // a session changed stage
	SubjectFlowFinished   = "flows.finished"   // a session reached completed or failed
	SubjectBackendKilled  = "pg.terminated"    // a backend was terminated by a strategy
)
