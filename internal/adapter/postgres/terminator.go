package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/QueryWarden/internal/domain"
	"github.com/Strob0t/QueryWarden/internal/port/dbsession"
)

// Terminator ends backends with pg_terminate_backend.
type Terminator struct {
	pool *pgxpool.Pool
}

var _ dbsession.Terminator = (*Terminator)(nil)

// NewTerminator creates a Terminator on the monitored database's pool.
func NewTerminator(pool *pgxpool.Pool) *Terminator {
	return &Terminator{pool: pool}
}

// Terminate signals the backend once. pg_terminate_backend returns false with
// a warning when the pid is not a server process, which here means the
// backend already exited. A false for a pid that is still listed means the
// signal was refused. Signalling our own backend is refused.
func (t *Terminator) Terminate(ctx context.Context, pid int32) (bool, error) {
	var (
		accepted *bool
		present  bool
	)
	err := t.pool.QueryRow(ctx,
		`SELECT CASE WHEN $1::int = pg_backend_pid() THEN NULL ELSE pg_terminate_backend($1::int) END,
		        EXISTS (SELECT 1 FROM pg_stat_activity WHERE pid = $1::int)`, pid).
		Scan(&accepted, &present)
	if err != nil {
		return false, classify(err, fmt.Sprintf("terminate backend pid %d", pid))
	}
	if accepted == nil {
		return false, fmt.Errorf("terminate backend pid %d: refusing to terminate own connection", pid)
	}
	if !*accepted && present {
		return false, fmt.Errorf("terminate backend pid %d: signal refused: %w", pid, domain.ErrPermission)
	}
	return *accepted, nil
}
