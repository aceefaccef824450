package messagequeue

import "time"

// FlowSubmitPayload is the schema for flows.submit messages.
type FlowSubmitPayload struct {
	InputText string `json:"input_text"`
	Reference string `json:"reference,omitempty"` // external ticket id, informational only
}

// FlowTransitionPayload is the schema for flows.transition messages.
type FlowTransitionPayload struct {
	SessionID string    `json:"session_id"`
	Stage     string    `json:"stage"`
	Status    string    `json:"status"`
	Route     string    `json:"route,omitempty"`
	At        time.Time `json:"at"`
}

// FlowFinishedPayload is the schema for flows.finished messages.
type FlowFinishedPayload struct {
	SessionID string    `json:"session_id"`
	Status    string    `json:"status"`
	Action    string    `json:"action,omitempty"`
	Error     string    `json:"error,omitempty"`
	ErrorKind string    `json:"error_kind,omitempty"`
	At        time.Time `json:"at"`
}

// BackendKilledPayload is the schema for pg.terminated messages.
type BackendKilledPayload struct {
	SessionID string `json:"session_id"`
	PID       int32  `json:"pid"`
	Query     string `json:"query"`
	Elapsed   string `json:"elapsed"`
}
