package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Strob0t/QueryWarden/internal/domain"
	"github.com/Strob0t/QueryWarden/internal/domain/flow"
	"github.com/Strob0t/QueryWarden/internal/domain/pgsession"
	"github.com/Strob0t/QueryWarden/internal/port/dbsession"
)

// SimpleStrategy handles tickets about a single long-running query. It looks
// at one backend and terminates it if it has run past the threshold. The
// backend is the pid named in the ticket, else the longest-running match for
// a query the ticket quotes or names, else the longest-running offender.
type SimpleStrategy struct {
	inspector  dbsession.Inspector
	terminator dbsession.Terminator
	threshold  time.Duration
	log        *slog.Logger
}

// NewSimpleStrategy creates a SimpleStrategy.
func NewSimpleStrategy(i dbsession.Inspector, t dbsession.Terminator, threshold time.Duration, log *slog.Logger) *SimpleStrategy {
	if log == nil {
		log = slog.Default()
	}
	return &SimpleStrategy{inspector: i, terminator: t, threshold: threshold, log: log}
}

func (st *SimpleStrategy) Resolve(ctx context.Context, s flow.Session, target TargetFunc) (*flow.Result, error) {
	if target == nil {
		target = noTarget
	}

	rec, res, err := st.pick(ctx, s.InputText)
	if err != nil || res != nil {
		return res, err
	}

	if err := target(ctx, rec); err != nil {
		return nil, err
	}

	if !rec.Exceeds(st.threshold) {
		return &flow.Result{
			QueryStatus:           rec.StatusLabel(),
			QueryResolution:       fmt.Sprintf("left backend pid %d running", rec.PID),
			QueryResolutionReason: belowThreshold(rec, st.threshold),
			QueryResolutionAction: flow.ActionNoAction,
		}, nil
	}

	ok, err := st.terminator.Terminate(ctx, rec.PID)
	if err != nil {
		return nil, fmt.Errorf("terminate pid %d (%s, running %s): %w",
			rec.PID, rec.StatusLabel(), rec.Elapsed.Round(time.Second), err)
	}
	if !ok {
		return goneResult(rec.PID, "before it could be terminated"), nil
	}

	st.log.InfoContext(ctx, "backend terminated", "pid", rec.PID, "elapsed", rec.Elapsed.String())
	return terminatedResult(rec), nil
}

// pick performs the single inspection call. It returns either a record to act
// on or a final result when there is nothing to act on.
func (st *SimpleStrategy) pick(ctx context.Context, text string) (*pgsession.Record, *flow.Result, error) {
	if pid, ok := pgsession.PIDFromText(text); ok {
		rec, err := st.inspector.FindByPID(ctx, pid)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, goneResult(pid, "before inspection"), nil
		}
		if err != nil {
			return nil, nil, fmt.Errorf("inspect pid %d: %w", pid, err)
		}
		return rec, nil, nil
	}

	if frag, ok := pgsession.QueryFragmentFromText(text); ok {
		recs, err := st.inspector.FindByQuery(ctx, frag)
		if err != nil {
			return nil, nil, fmt.Errorf("find sessions running %q: %w", frag, err)
		}
		if len(recs) == 0 {
			return nil, &flow.Result{
				QueryStatus:           pgsession.StateNotFound,
				QueryResolution:       fmt.Sprintf("no running query matches %q", frag),
				QueryResolutionReason: "no backend is running a matching query",
				QueryResolutionAction: flow.ActionNoAction,
			}, nil
		}
		return pgsession.Offender(recs, st.threshold), nil, nil
	}

	recs, err := st.inspector.ListActive(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list active sessions: %w", err)
	}
	if len(recs) == 0 {
		return nil, &flow.Result{
			QueryStatus:           pgsession.StateNotFound,
			QueryResolution:       "no active sessions",
			QueryResolutionReason: "no backend is running a query",
			QueryResolutionAction: flow.ActionNoAction,
		}, nil
	}
	return pgsession.Offender(recs, st.threshold), nil, nil
}
