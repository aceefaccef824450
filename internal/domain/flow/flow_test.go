package flow_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Strob0t/QueryWarden/internal/domain"
	"github.com/Strob0t/QueryWarden/internal/domain/flow"
)

var t0 = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func newSession(t *testing.T) flow.Session {
	t.Helper()
	s, err := flow.New("sess-1", "simple slow query timeout", t0)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return s
}

func TestNew_Initial(t *testing.T) {
	s := newSession(t)
	if s.Stage != flow.StageInitializing {
		t.Fatalf("expected initializing, got %s", s.Stage)
	}
	if s.Status != flow.StatusRunning {
		t.Fatalf("expected running, got %s", s.Status)
	}
	if s.CompletedAt != nil || s.Result != nil {
		t.Fatal("new session must not carry completion data")
	}
}

func TestNew_RejectsEmptyInput(t *testing.T) {
	for _, in := range []string{"", "   ", "\n\t"} {
		if _, err := flow.New("id", in, t0); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("New(%q): expected ErrValidation, got %v", in, err)
		}
	}
}

func TestAdvance_Sequential(t *testing.T) {
	s := newSession(t)
	var err error
	for _, to := range []flow.Stage{flow.StageAnalyzing, flow.StageExecuting} {
		prev := s.Version
		s, err = flow.Advance(s, to, t0.Add(time.Second))
		if err != nil {
			t.Fatalf("advance to %s: %v", to, err)
		}
		if s.Stage != to {
			t.Fatalf("expected %s, got %s", to, s.Stage)
		}
		if s.Version != prev+1 {
			t.Fatalf("expected version bump, got %d", s.Version)
		}
	}
}

func TestAdvance_Rejects(t *testing.T) {
	tests := []struct {
		name string
		from flow.Stage
		to   flow.Stage
	}{
		{"skip", flow.StageInitializing, flow.StageExecuting},
		{"regress", flow.StageExecuting, flow.StageAnalyzing},
		{"same", flow.StageAnalyzing, flow.StageAnalyzing},
		{"finalize via advance", flow.StageExecuting, flow.StageFinalized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSession(t)
			s.Stage = tt.from
			if _, err := flow.Advance(s, tt.to, t0); !errors.Is(err, domain.ErrConflict) {
				t.Fatalf("expected ErrConflict, got %v", err)
			}
		})
	}
}

func TestComplete(t *testing.T) {
	s := newSession(t)
	s.Stage = flow.StageExecuting
	done := t0.Add(time.Minute)

	out, err := flow.Complete(s, flow.Result{
		QueryStatus:           "active",
		QueryResolution:       "terminated pid 42",
		QueryResolutionAction: flow.ActionTerminated,
	}, done)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out.Stage != flow.StageFinalized || out.Status != flow.StatusCompleted {
		t.Fatalf("expected finalized/completed, got %s/%s", out.Stage, out.Status)
	}
	if out.CompletedAt == nil || !out.CompletedAt.Equal(done) {
		t.Fatalf("expected completed_at %v, got %v", done, out.CompletedAt)
	}
	if s.Result != nil {
		t.Fatal("input snapshot must not be mutated")
	}

	if _, err := flow.Complete(out, *out.Result, done); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("second complete: expected ErrConflict, got %v", err)
	}
	if _, err := flow.Fail(out, flow.ErrorKindInternal, "late", done); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("fail after complete: expected ErrConflict, got %v", err)
	}
}

func TestComplete_RequiresAction(t *testing.T) {
	s := newSession(t)
	s.Stage = flow.StageExecuting
	if _, err := flow.Complete(s, flow.Result{QueryStatus: "active"}, t0); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestComplete_WrongStage(t *testing.T) {
	s := newSession(t)
	r := flow.Result{QueryResolutionAction: flow.ActionNoAction}
	if _, err := flow.Complete(s, r, t0); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestFail_FromAnyStage(t *testing.T) {
	for _, st := range []flow.Stage{flow.StageInitializing, flow.StageAnalyzing, flow.StageExecuting} {
		t.Run(string(st), func(t *testing.T) {
			s := newSession(t)
			s.Stage = st
			out, err := flow.Fail(s, flow.ErrorKindConnection, "db down", t0)
			if err != nil {
				t.Fatalf("fail: %v", err)
			}
			if out.Status != flow.StatusFailed || out.Stage != st {
				t.Fatalf("expected failed at %s, got %s at %s", st, out.Status, out.Stage)
			}
			if out.CompletedAt == nil {
				t.Fatal("expected completed_at")
			}
			if out.Result != nil {
				t.Fatal("failed session must not carry a result")
			}
			if _, err := flow.Fail(out, flow.ErrorKindInternal, "again", t0.Add(time.Second)); !errors.Is(err, domain.ErrConflict) {
				t.Fatalf("second fail: expected ErrConflict, got %v", err)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want flow.ErrorKind
	}{
		{fmt.Errorf("route: %w", domain.ErrUnroutableInput), flow.ErrorKindUnroutable},
		{fmt.Errorf("list: %w", domain.ErrConnection), flow.ErrorKindConnection},
		{fmt.Errorf("kill: %w", domain.ErrPermission), flow.ErrorKindPermission},
		{fmt.Errorf("llm: %w", domain.ErrReasoning), flow.ErrorKindReasoning},
		{errors.New("boom"), flow.ErrorKindInternal},
		{fmt.Errorf("analyzing: %w: %w", domain.ErrStepTimeout, domain.ErrReasoning), flow.ErrorKindTimeout},
		{fmt.Errorf("executing: %w: %w", domain.ErrStepTimeout, domain.ErrConnection), flow.ErrorKindTimeout},
	}
	for _, tt := range tests {
		if got := flow.KindOf(tt.err); got != tt.want {
			t.Errorf("KindOf(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestParseRouteTag(t *testing.T) {
	tests := map[string]flow.RouteTag{
		"simple":       flow.RouteSimple,
		" Complex\n":   flow.RouteComplex,
		`"simple".`:    flow.RouteSimple,
		"default_path": flow.RouteTag("default_path"),
	}
	for in, want := range tests {
		if got := flow.ParseRouteTag(in); got != want {
			t.Errorf("ParseRouteTag(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStageOrdinal(t *testing.T) {
	if !(flow.StageInitializing.Ordinal() < flow.StageAnalyzing.Ordinal() &&
		flow.StageAnalyzing.Ordinal() < flow.StageExecuting.Ordinal() &&
		flow.StageExecuting.Ordinal() < flow.StageFinalized.Ordinal()) {
		t.Fatal("stage ordinals must be strictly increasing")
	}
	if flow.Stage("bogus").Ordinal() != -1 {
		t.Fatal("unknown stage must have ordinal -1")
	}
}
