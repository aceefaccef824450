package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/QueryWarden/internal/domain"
	"github.com/Strob0t/QueryWarden/internal/domain/flow"
	"github.com/Strob0t/QueryWarden/internal/port/flowstore"
)

// Store implements flowstore.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ flowstore.Store = (*Store)(nil)

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const sessionColumns = `id, stage, status, input_text, route, target_pid, result, error, error_kind, version, started_at, updated_at, completed_at`

func (s *Store) Create(ctx context.Context, sess *flow.Session) error {
	result, err := marshalResult(sess.Result)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO flow_sessions (`+sessionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		sess.ID, sess.Stage, sess.Status, sess.InputText, sess.Route, sess.TargetPID, result,
		sess.Error, sess.ErrorKind, sess.Version, sess.StartedAt, sess.UpdatedAt, nullTime(sess.CompletedAt))
	if err != nil {
		return classify(err, fmt.Sprintf("create flow session %s", sess.ID))
	}
	return nil
}

// validID rejects ids that cannot be a UUID before they reach the server,
// which would otherwise answer with a syntax error instead of "not found".
func validID(id, op string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%s %s: %w", op, id, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*flow.Session, error) {
	if err := validID(id, "get flow session"); err != nil {
		return nil, err
	}
	row := s.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM flow_sessions WHERE id = $1`, id)
	sess, err := scanSession(row)
	if err != nil {
		return nil, notFoundWrap(err, "get flow session %s", id)
	}
	return &sess, nil
}

// Update locks the row, applies fn, and writes the new snapshot in one
// transaction. Concurrent readers see the committed row before or after.
func (s *Store) Update(ctx context.Context, id string, fn flowstore.Mutator) (*flow.Session, error) {
	if err := validID(id, "update flow session"); err != nil {
		return nil, err
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, classify(err, "begin update flow session")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cur, err := scanSession(tx.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM flow_sessions WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFoundWrap(err, "lock flow session %s", id)
	}

	next, err := fn(cur.Clone())
	if err != nil {
		return nil, err
	}
	if next.ID != cur.ID || next.InputText != cur.InputText {
		return nil, fmt.Errorf("update flow session %s: immutable field changed: %w", id, domain.ErrConflict)
	}

	result, err := marshalResult(next.Result)
	if err != nil {
		return nil, err
	}
	tag, err := tx.Exec(ctx,
		`UPDATE flow_sessions
		 SET stage = $2, status = $3, route = $4, target_pid = $5, result = $6, error = $7,
		     error_kind = $8, version = $9, updated_at = $10, completed_at = $11
		 WHERE id = $1 AND version = $12`,
		id, next.Stage, next.Status, next.Route, next.TargetPID, result, next.Error,
		next.ErrorKind, next.Version, next.UpdatedAt, nullTime(next.CompletedAt), cur.Version)
	if err != nil {
		return nil, classify(err, fmt.Sprintf("update flow session %s", id))
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("update flow session %s: %w", id, domain.ErrConflict)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, classify(err, fmt.Sprintf("commit flow session %s", id))
	}
	return &next, nil
}

func (s *Store) List(ctx context.Context, limit int) ([]flow.Session, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM flow_sessions ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, classify(err, "list flow sessions")
	}
	return collectSessions(rows)
}

func (s *Store) ListRunning(ctx context.Context) ([]flow.Session, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM flow_sessions WHERE status = 'running' ORDER BY started_at ASC`)
	if err != nil {
		return nil, classify(err, "list running flow sessions")
	}
	return collectSessions(rows)
}

func collectSessions(rows pgx.Rows) ([]flow.Session, error) {
	defer rows.Close()
	out := []flow.Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan flow session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func scanSession(row scannable) (flow.Session, error) {
	var (
		sess   flow.Session
		result []byte
	)
	err := row.Scan(&sess.ID, &sess.Stage, &sess.Status, &sess.InputText, &sess.Route, &sess.TargetPID,
		&result, &sess.Error, &sess.ErrorKind, &sess.Version, &sess.StartedAt, &sess.UpdatedAt, &sess.CompletedAt)
	if err != nil {
		return flow.Session{}, err
	}
	if len(result) > 0 {
		var r flow.Result
		if err := json.Unmarshal(result, &r); err != nil {
			return flow.Session{}, fmt.Errorf("unmarshal result of %s: %w", sess.ID, err)
		}
		sess.Result = &r
	}
	return sess, nil
}

func marshalResult(r *flow.Result) ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return b, nil
}
