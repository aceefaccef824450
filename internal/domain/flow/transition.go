package flow

import (
	"errors"
	"fmt"
	"time"

	"github.com/Strob0t/QueryWarden/internal/domain"
)

// New returns a fresh session in initializing/running.
func New(id, inputText string, now time.Time) (Session, error) {
	if id == "" {
		return Session{}, fmt.Errorf("session id is required: %w", domain.ErrValidation)
	}
	if err := ValidateInput(inputText); err != nil {
		return Session{}, err
	}
	return Session{
		ID:        id,
		Stage:     StageInitializing,
		Status:    StatusRunning,
		InputText: inputText,
		Version:   1,
		StartedAt: now,
		UpdatedAt: now,
	}, nil
}

// Advance moves s to the stage directly after its current one. Skipping,
// regressing, entering finalized, or touching a terminal session is rejected.
func Advance(s Session, to Stage, now time.Time) (Session, error) {
	if s.Status.Terminal() {
		return s, fmt.Errorf("advance %s to %s: session is %s: %w", s.ID, to, s.Status, domain.ErrConflict)
	}
	next, ok := s.Stage.Next()
	if !ok || next != to || to == StageFinalized {
		return s, fmt.Errorf("advance %s: %s -> %s not allowed: %w", s.ID, s.Stage, to, domain.ErrConflict)
	}
	out := s.Clone()
	out.Stage = to
	out.UpdatedAt = now
	out.Version++
	return out, nil
}

// Route records the classifier's tag. Only legal while analyzing.
func Route(s Session, tag RouteTag, now time.Time) (Session, error) {
	if s.Status.Terminal() || s.Stage != StageAnalyzing {
		return s, fmt.Errorf("route %s in %s/%s: %w", s.ID, s.Stage, s.Status, domain.ErrConflict)
	}
	out := s.Clone()
	out.Route = tag
	out.UpdatedAt = now
	out.Version++
	return out, nil
}

// Target records the backend pid a strategy picked. Only legal while executing.
func Target(s Session, pid int32, now time.Time) (Session, error) {
	if s.Status.Terminal() || s.Stage != StageExecuting {
		return s, fmt.Errorf("target %s in %s/%s: %w", s.ID, s.Stage, s.Status, domain.ErrConflict)
	}
	out := s.Clone()
	out.TargetPID = pid
	out.UpdatedAt = now
	out.Version++
	return out, nil
}

// Complete attaches the result and finalizes the session in one step.
func Complete(s Session, r Result, now time.Time) (Session, error) {
	if s.Status.Terminal() {
		return s, fmt.Errorf("complete %s: session is %s: %w", s.ID, s.Status, domain.ErrConflict)
	}
	if s.Stage != StageExecuting {
		return s, fmt.Errorf("complete %s from %s: %w", s.ID, s.Stage, domain.ErrConflict)
	}
	if s.Result != nil {
		return s, fmt.Errorf("complete %s: result already written: %w", s.ID, domain.ErrConflict)
	}
	if err := r.Validate(); err != nil {
		return s, err
	}
	out := s.Clone()
	out.Result = &r
	out.Stage = StageFinalized
	out.Status = StatusCompleted
	out.UpdatedAt = now
	out.CompletedAt = &now
	out.Version++
	return out, nil
}

// Fail moves s to failed from whatever stage it reached. The stage is kept so
// operators can see how far the run got.
func Fail(s Session, kind ErrorKind, msg string, now time.Time) (Session, error) {
	if s.Status.Terminal() {
		return s, fmt.Errorf("fail %s: session is %s: %w", s.ID, s.Status, domain.ErrConflict)
	}
	if msg == "" {
		msg = "unknown error"
	}
	out := s.Clone()
	out.Status = StatusFailed
	out.Error = msg
	out.ErrorKind = kind
	out.Result = nil
	out.UpdatedAt = now
	out.CompletedAt = &now
	out.Version++
	return out, nil
}

// KindOf maps an error chain onto the failure taxonomy. A step timeout wins
// over whatever the timed-out collaborator reported.
func KindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, domain.ErrStepTimeout):
		return ErrorKindTimeout
	case errors.Is(err, domain.ErrUnroutableInput):
		return ErrorKindUnroutable
	case errors.Is(err, domain.ErrConnection):
		return ErrorKindConnection
	case errors.Is(err, domain.ErrPermission):
		return ErrorKindPermission
	case errors.Is(err, domain.ErrReasoning):
		return ErrorKindReasoning
	default:
		return ErrorKindInternal
	}
}
