package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Strob0t/QueryWarden/internal/domain/flow"
	"github.com/Strob0t/QueryWarden/internal/domain/pgsession"
)

// TargetFunc is called by a strategy once it has picked a live backend,
// before any termination is attempted. A returned error aborts the strategy.
type TargetFunc func(ctx context.Context, rec *pgsession.Record) error

// Strategy resolves a routed ticket. It must return a result with an action
// or an error; it calls Terminate at most once.
type Strategy interface {
	Resolve(ctx context.Context, s flow.Session, target TargetFunc) (*flow.Result, error)
}

// StrategyTable maps route tags to the strategy that handles them.
type StrategyTable map[flow.RouteTag]Strategy

func noTarget(context.Context, *pgsession.Record) error { return nil }

func belowThreshold(rec *pgsession.Record, threshold time.Duration) string {
	if !rec.Running() {
		return fmt.Sprintf("backend pid %d is %s, not running a query", rec.PID, rec.State)
	}
	return fmt.Sprintf("backend pid %d has run for %s, below the %s threshold",
		rec.PID, rec.Elapsed.Round(time.Second), threshold)
}

func goneResult(pid int32, when string) *flow.Result {
	return &flow.Result{
		QueryStatus:           pgsession.StateNotFound,
		QueryResolution:       fmt.Sprintf("backend pid %d not found", pid),
		QueryResolutionReason: "backend exited " + when,
		QueryResolutionAction: flow.ActionNoAction,
	}
}

func terminatedResult(rec *pgsession.Record) *flow.Result {
	return &flow.Result{
		QueryStatus:           rec.StatusLabel(),
		QueryResolution:       fmt.Sprintf("terminated backend pid %d", rec.PID),
		QueryResolutionReason: fmt.Sprintf("query ran for %s: %s", rec.Elapsed.Round(time.Second), rec.Preview()),
		QueryResolutionAction: flow.ActionTerminated,
	}
}
