// Package broadcast defines the port for pushing flow events to connected clients.
package broadcast

import "context"

// Broadcaster sends real-time events to all connected clients.
type Broadcaster interface {
	// BroadcastEvent sends a typed event to all connected clients.
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}

// Event types pushed to clients.
const (
	EventFlowStatus = "flow.status"
	EventFlowResult = "flow.result"
)

// FlowStatusEvent is pushed on every stage or status change.
type FlowStatusEvent struct {
	SessionID string `json:"session_id"`
	Stage     string `json:"stage"`
	Status    string `json:"status"`
	Route     string `json:"route,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
}

// FlowSessionID scopes the event to its flow.
func (e FlowStatusEvent) FlowSessionID() string { return e.SessionID }

// FlowResultEvent is pushed once when a flow completes.
type FlowResultEvent struct {
	SessionID string `json:"session_id"`
	Result    any    `json:"result"`
}

// FlowSessionID scopes the event to its flow.
func (e FlowResultEvent) FlowSessionID() string { return e.SessionID }
