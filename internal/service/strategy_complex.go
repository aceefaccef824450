package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Strob0t/QueryWarden/internal/domain"
	"github.com/Strob0t/QueryWarden/internal/domain/flow"
	"github.com/Strob0t/QueryWarden/internal/domain/pgsession"
	"github.com/Strob0t/QueryWarden/internal/port/dbsession"
	"github.com/Strob0t/QueryWarden/internal/port/reasoning"
)

// maxListedSessions caps how many backends one inspect step reports.
const maxListedSessions = 20

// ComplexStrategy lets the reasoning service drive a bounded loop of
// inspections before deciding. Termination is only carried out for a backend
// that has run past the threshold; anything else is escalated.
type ComplexStrategy struct {
	reasoner   reasoning.Reasoner
	inspector  dbsession.Inspector
	terminator dbsession.Terminator
	threshold  time.Duration
	maxSteps   int
	log        *slog.Logger
}

// NewComplexStrategy creates a ComplexStrategy. maxSteps bounds the number of
// reasoning calls per session.
func NewComplexStrategy(r reasoning.Reasoner, i dbsession.Inspector, t dbsession.Terminator,
	threshold time.Duration, maxSteps int, log *slog.Logger,
) *ComplexStrategy {
	if maxSteps < 1 {
		maxSteps = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &ComplexStrategy{
		reasoner:   r,
		inspector:  i,
		terminator: t,
		threshold:  threshold,
		maxSteps:   maxSteps,
		log:        log,
	}
}

func (st *ComplexStrategy) Resolve(ctx context.Context, s flow.Session, target TargetFunc) (*flow.Result, error) {
	if target == nil {
		target = noTarget
	}

	var evidence []reasoning.Step
	seen := map[int32]pgsession.Record{}

	for step := 1; step <= st.maxSteps; step++ {
		d, err := st.reasoner.Decide(ctx, s.InputText, evidence)
		if err != nil {
			return nil, err
		}
		st.log.DebugContext(ctx, "reasoning decision", "step", step, "decision", d.Kind, "pid", d.PID, "query", d.Query)

		switch d.Kind {
		case reasoning.DecisionInspect:
			ev, err := st.inspect(ctx, d, seen)
			if err != nil {
				return nil, err
			}
			evidence = append(evidence, ev)

		case reasoning.DecisionTerminate:
			return st.terminate(ctx, d, seen, target)

		case reasoning.DecisionEscalate:
			return &flow.Result{
				QueryStatus:           statusOf(d.PID, seen),
				QueryResolution:       orDefault(d.Resolution, "escalated to an operator"),
				QueryResolutionReason: d.Reason,
				QueryResolutionAction: flow.ActionEscalated,
			}, nil

		case reasoning.DecisionNoAction:
			return &flow.Result{
				QueryStatus:           statusOf(d.PID, seen),
				QueryResolution:       orDefault(d.Resolution, "no action required"),
				QueryResolutionReason: d.Reason,
				QueryResolutionAction: flow.ActionNoAction,
			}, nil

		default:
			return nil, fmt.Errorf("unknown decision %q: %w", d.Kind, domain.ErrReasoning)
		}
	}

	return &flow.Result{
		QueryStatus:           statusOf(0, seen),
		QueryResolution:       "escalated to an operator",
		QueryResolutionReason: fmt.Sprintf("no decision after %d reasoning steps", st.maxSteps),
		QueryResolutionAction: flow.ActionEscalated,
	}, nil
}

// inspect runs one inspection and turns it into evidence. A missing pid is
// evidence, not an error.
func (st *ComplexStrategy) inspect(ctx context.Context, d *reasoning.Decision, seen map[int32]pgsession.Record) (reasoning.Step, error) {
	if pid := d.PID; pid > 0 {
		action := fmt.Sprintf("inspect backend pid %d", pid)
		rec, err := st.inspector.FindByPID(ctx, pid)
		if errors.Is(err, domain.ErrNotFound) {
			return reasoning.Step{Action: action, Observation: "not found"}, nil
		}
		if err != nil {
			return reasoning.Step{}, fmt.Errorf("inspect pid %d: %w", pid, err)
		}
		seen[rec.PID] = *rec
		return reasoning.Step{Action: action, Observation: describe(rec)}, nil
	}

	action := "list active sessions"
	var (
		recs []pgsession.Record
		err  error
	)
	if q := strings.TrimSpace(d.Query); q != "" {
		action = fmt.Sprintf("find sessions running %q", q)
		recs, err = st.inspector.FindByQuery(ctx, q)
	} else {
		recs, err = st.inspector.ListActive(ctx)
	}
	if err != nil {
		return reasoning.Step{}, fmt.Errorf("%s: %w", action, err)
	}
	var b strings.Builder
	if len(recs) == 0 {
		b.WriteString("no matching sessions")
	}
	for i := range recs {
		seen[recs[i].PID] = recs[i]
		if i < maxListedSessions {
			b.WriteString(describe(&recs[i]))
			b.WriteByte('\n')
		}
	}
	if len(recs) > maxListedSessions {
		fmt.Fprintf(&b, "(%d more)\n", len(recs)-maxListedSessions)
	}
	return reasoning.Step{Action: action, Observation: strings.TrimSpace(b.String())}, nil
}

func (st *ComplexStrategy) terminate(ctx context.Context, d *reasoning.Decision, seen map[int32]pgsession.Record,
	target TargetFunc,
) (*flow.Result, error) {
	rec, ok := seen[d.PID]
	if !ok {
		found, err := st.inspector.FindByPID(ctx, d.PID)
		if errors.Is(err, domain.ErrNotFound) {
			return goneResult(d.PID, "before inspection"), nil
		}
		if err != nil {
			return nil, fmt.Errorf("inspect pid %d: %w", d.PID, err)
		}
		rec = *found
	}

	if err := target(ctx, &rec); err != nil {
		return nil, err
	}

	if !rec.Exceeds(st.threshold) {
		return &flow.Result{
			QueryStatus:           rec.StatusLabel(),
			QueryResolution:       fmt.Sprintf("termination of backend pid %d needs operator approval", rec.PID),
			QueryResolutionReason: belowThreshold(&rec, st.threshold),
			QueryResolutionAction: flow.ActionEscalated,
		}, nil
	}

	accepted, err := st.terminator.Terminate(ctx, rec.PID)
	if err != nil {
		return nil, fmt.Errorf("terminate pid %d (%s, running %s): %w",
			rec.PID, rec.StatusLabel(), rec.Elapsed.Round(time.Second), err)
	}
	if !accepted {
		return goneResult(rec.PID, "before it could be terminated"), nil
	}

	st.log.InfoContext(ctx, "backend terminated", "pid", rec.PID, "elapsed", rec.Elapsed.String())
	res := terminatedResult(&rec)
	if d.Reason != "" {
		res.QueryResolutionReason = d.Reason
	}
	return res, nil
}

func describe(r *pgsession.Record) string {
	return fmt.Sprintf("pid=%d state=%q elapsed=%s user=%s app=%q wait=%s query=%q",
		r.PID, r.State, r.Elapsed.Round(time.Second), r.Username, r.ApplicationName, r.WaitEventType, r.Preview())
}

// statusOf reports the state of pid if it was inspected, else the oldest
// inspected backend's, else "unknown".
func statusOf(pid int32, seen map[int32]pgsession.Record) string {
	if r, ok := seen[pid]; ok {
		return r.StatusLabel()
	}
	var oldest *pgsession.Record
	for _, r := range seen {
		if oldest == nil || r.QueryStart.Before(oldest.QueryStart) {
			oldest = &r
		}
	}
	if oldest == nil {
		return "unknown"
	}
	return oldest.StatusLabel()
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
