// Package flowstore defines the port for persisting flow session records.
package flowstore

import (
	"context"

	"github.com/Strob0t/QueryWarden/internal/domain/flow"
)

// Mutator computes the next snapshot of a session from the current one.
// It must be a pure function; returning an error aborts the write.
type Mutator func(cur flow.Session) (flow.Session, error)

// Store persists flow sessions. Implementations serialize writes per session
// and return snapshots: a reader sees either the state before or after a
// concurrent Update, never a mix of both.
type Store interface {
	// Create inserts a new session. The ID must be unique.
	Create(ctx context.Context, s *flow.Session) error

	// Get returns a snapshot of the session or domain.ErrNotFound.
	Get(ctx context.Context, id string) (*flow.Session, error)

	// Update applies fn to the current snapshot and stores its result
	// atomically. Errors from fn are returned unchanged.
	Update(ctx context.Context, id string, fn Mutator) (*flow.Session, error)

	// List returns the most recently started sessions, newest first.
	List(ctx context.Context, limit int) ([]flow.Session, error)

	// ListRunning returns every session whose status is still running.
	ListRunning(ctx context.Context) ([]flow.Session, error)
}
