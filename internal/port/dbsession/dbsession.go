// Package dbsession defines the ports for inspecting and terminating live
// database backends.
package dbsession

import (
	"context"

	"github.com/Strob0t/QueryWarden/internal/domain/pgsession"
)

// Inspector reads backend activity. It never mutates database state.
type Inspector interface {
	// ListActive returns running backends ordered by query start, oldest first.
	ListActive(ctx context.Context) ([]pgsession.Record, error)

	// FindByPID returns the backend with the given pid or domain.ErrNotFound.
	FindByPID(ctx context.Context, pid int32) (*pgsession.Record, error)

	// FindByQuery returns running backends whose query text contains
	// fragment, case-insensitively, oldest first. No match is an empty slice.
	FindByQuery(ctx context.Context, fragment string) ([]pgsession.Record, error)
}

// Terminator forcibly ends a backend process.
type Terminator interface {
	// Terminate returns true when the backend existed and the database accepted
	// the termination, false when it was already gone. Both are success.
	// Lack of privilege is reported as domain.ErrPermission.
	Terminate(ctx context.Context, pid int32) (bool, error)
}
