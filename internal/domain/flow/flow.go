// Package flow defines the FlowSession entity: one run of the ticket-to-resolution
// pipeline, from submission through classification and strategy execution.
package flow

import "time"

// Stage is the pipeline position of a flow session. Stages only move forward.
type Stage string

const (
	StageInitializing Stage = "initializing"
	StageAnalyzing    Stage = "analyzing"
	StageExecuting    Stage = "executing"
	StageFinalized    Stage = "finalized"
)

// stageOrder gives each stage its position in the pipeline.
var stageOrder = map[Stage]int{
	StageInitializing: 0,
	StageAnalyzing:    1,
	StageExecuting:    2,
	StageFinalized:    3,
}

// Ordinal returns the stage's position, or -1 for unknown stages.
func (s Stage) Ordinal() int {
	if n, ok := stageOrder[s]; ok {
		return n
	}
	return -1
}

// Next returns the stage that follows s. Finalized has no successor.
func (s Stage) Next() (Stage, bool) {
	switch s {
	case StageInitializing:
		return StageAnalyzing, true
	case StageAnalyzing:
		return StageExecuting, true
	case StageExecuting:
		return StageFinalized, true
	default:
		return "", false
	}
}

// Status is the outcome state of a flow session.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further mutation is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// RouteTag is the classifier's decision of which strategy handles a ticket.
type RouteTag string

const (
	RouteSimple  RouteTag = "simple"
	RouteComplex RouteTag = "complex"
)

// Action is what a strategy actually did about the offending backend.
type Action string

const (
	ActionTerminated Action = "terminated"
	ActionNoAction   Action = "no_action"
	ActionEscalated  Action = "escalated"
)

// ErrorKind classifies a failure so operators can tell an outage from a bug.
type ErrorKind string

const (
	ErrorKindUnroutable  ErrorKind = "unroutable_input"
	ErrorKindConnection  ErrorKind = "connection"
	ErrorKindPermission  ErrorKind = "permission"
	ErrorKindReasoning   ErrorKind = "reasoning"
	ErrorKindTimeout     ErrorKind = "timeout"
	ErrorKindInternal    ErrorKind = "internal"
	ErrorKindInterrupted ErrorKind = "interrupted"
)

// Result is the structured outcome of a strategy run.
type Result struct {
	QueryStatus           string `json:"query_status"`
	QueryResolution       string `json:"query_resolution"`
	QueryResolutionReason string `json:"query_resolution_reason"`
	QueryResolutionAction Action `json:"query_resolution_action"`
}

// Session is one submitted monitoring request and its progress through the pipeline.
// Values are treated as immutable snapshots; transitions return a new Session.
type Session struct {
	ID          string     `json:"session_id"`
	Stage       Stage      `json:"stage"`
	Status      Status     `json:"status"`
	InputText   string     `json:"input_text"`
	Route       RouteTag   `json:"route,omitempty"`
	TargetPID   int32      `json:"target_pid,omitempty"`
	Result      *Result    `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	ErrorKind   ErrorKind  `json:"error_kind,omitempty"`
	Version     int        `json:"version"`
	StartedAt   time.Time  `json:"started_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// StatusView is what a poller sees: always a well-formed stage/status pair.
type StatusView struct {
	SessionID string    `json:"session_id"`
	Stage     Stage     `json:"stage"`
	Status    Status    `json:"status"`
	Error     string    `json:"error,omitempty"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
}

// View projects the session into its poll view.
func (s *Session) View() StatusView {
	return StatusView{
		SessionID: s.ID,
		Stage:     s.Stage,
		Status:    s.Status,
		Error:     s.Error,
		ErrorKind: s.ErrorKind,
	}
}

// Clone returns a deep copy so callers can never alias a stored snapshot.
func (s *Session) Clone() Session {
	c := *s
	if s.Result != nil {
		r := *s.Result
		c.Result = &r
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	return c
}
