package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/QueryWarden/internal/domain/pgsession"
	"github.com/Strob0t/QueryWarden/internal/port/dbsession"
)

// Inspector reads backend activity from pg_stat_activity on the monitored
// database. It issues SELECTs only.
type Inspector struct {
	pool *pgxpool.Pool
}

var _ dbsession.Inspector = (*Inspector)(nil)

// NewInspector creates an Inspector on the monitored database's pool.
func NewInspector(pool *pgxpool.Pool) *Inspector {
	return &Inspector{pool: pool}
}

const activityColumns = `pid,
	COALESCE(state, ''),
	COALESCE(query, ''),
	query_start,
	COALESCE(application_name, ''),
	COALESCE(host(client_addr), ''),
	COALESCE(usename, ''),
	COALESCE(datname, ''),
	backend_start,
	COALESCE(wait_event_type, ''),
	COALESCE(EXTRACT(EPOCH FROM (clock_timestamp() - query_start)), 0)::float8`

const runningFilter = `backend_type = 'client backend'
	AND pid <> pg_backend_pid()
	AND state IN ('active', 'idle in transaction', 'idle in transaction (aborted)', 'fastpath function call')
	AND query_start IS NOT NULL`

// ListActive returns client backends that are running a statement or holding
// a transaction open, oldest query first. The inspector's own backend is
// excluded.
func (i *Inspector) ListActive(ctx context.Context) ([]pgsession.Record, error) {
	return i.listRunning(ctx, "list active sessions", "")
}

// FindByQuery returns the running backends whose query text contains
// fragment, case-insensitively, oldest query first. The fragment is matched
// literally.
func (i *Inspector) FindByQuery(ctx context.Context, fragment string) ([]pgsession.Record, error) {
	return i.listRunning(ctx, "find sessions by query", `AND strpos(lower(query), lower($1)) > 0`, fragment)
}

func (i *Inspector) listRunning(ctx context.Context, op, extra string, args ...any) ([]pgsession.Record, error) {
	rows, err := i.pool.Query(ctx,
		`SELECT `+activityColumns+`
		 FROM pg_stat_activity
		 WHERE `+runningFilter+`
		 `+extra+`
		 ORDER BY query_start ASC, pid ASC`, args...)
	if err != nil {
		return nil, classify(err, op)
	}
	defer rows.Close()

	out := []pgsession.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, classify(err, op)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, op)
	}
	return out, nil
}

// FindByPID returns the backend with the given pid in any state.
func (i *Inspector) FindByPID(ctx context.Context, pid int32) (*pgsession.Record, error) {
	row := i.pool.QueryRow(ctx,
		`SELECT `+activityColumns+` FROM pg_stat_activity WHERE pid = $1`, pid)
	rec, err := scanRecord(row)
	if err != nil {
		return nil, notFoundWrap(err, "find backend pid %d", pid)
	}
	return &rec, nil
}

// Ping checks that the monitored database is reachable.
func (i *Inspector) Ping(ctx context.Context) error {
	return classify(i.pool.Ping(ctx), "ping monitored database")
}

func scanRecord(row scannable) (pgsession.Record, error) {
	var (
		rec          pgsession.Record
		queryStart   *time.Time
		backendStart *time.Time
		elapsedSecs  float64
	)
	if err := row.Scan(&rec.PID, &rec.State, &rec.Query, &queryStart, &rec.ApplicationName,
		&rec.ClientAddr, &rec.Username, &rec.Database, &backendStart, &rec.WaitEventType, &elapsedSecs); err != nil {
		return pgsession.Record{}, err
	}
	if queryStart != nil {
		rec.QueryStart = *queryStart
	}
	if backendStart != nil {
		rec.BackendStart = *backendStart
	}
	if elapsedSecs > 0 {
		rec.Elapsed = time.Duration(elapsedSecs * float64(time.Second))
	}
	return rec, nil
}
