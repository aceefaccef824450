package memstore_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/QueryWarden/internal/adapter/memstore"
	"github.com/Strob0t/QueryWarden/internal/domain"
	"github.com/Strob0t/QueryWarden/internal/domain/flow"
)

func mustCreate(t *testing.T, s *memstore.Store, id string, at time.Time) {
	t.Helper()
	sess, err := flow.New(id, "slow report query", at)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Create(context.Background(), &sess); err != nil {
		t.Fatalf("create %s: %v", id, err)
	}
}

func TestCreateGet(t *testing.T) {
	s := memstore.New()
	mustCreate(t, s, "a", time.Now())

	got, err := s.Get(context.Background(), "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Stage != flow.StageInitializing || got.Status != flow.StatusRunning {
		t.Fatalf("unexpected state %s/%s", got.Stage, got.Status)
	}
}

func TestCreateDuplicate(t *testing.T) {
	s := memstore.New()
	mustCreate(t, s, "a", time.Now())
	sess, _ := flow.New("a", "again", time.Now())
	if err := s.Create(context.Background(), &sess); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestGetNotFound(t *testing.T) {
	s := memstore.New()
	if _, err := s.Get(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	_, err := s.Update(context.Background(), "missing", func(c flow.Session) (flow.Session, error) { return c, nil })
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on update, got %v", err)
	}
}

func TestUpdateMutatorError(t *testing.T) {
	s := memstore.New()
	mustCreate(t, s, "a", time.Now())
	boom := errors.New("boom")
	if _, err := s.Update(context.Background(), "a", func(flow.Session) (flow.Session, error) {
		return flow.Session{}, boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected mutator error, got %v", err)
	}
	got, _ := s.Get(context.Background(), "a")
	if got.Version != 1 {
		t.Fatalf("failed update must not change the record, version=%d", got.Version)
	}
}

func TestUpdateRejectsImmutableChange(t *testing.T) {
	s := memstore.New()
	mustCreate(t, s, "a", time.Now())
	_, err := s.Update(context.Background(), "a", func(c flow.Session) (flow.Session, error) {
		c.InputText = "rewritten"
		return c, nil
	})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	s := memstore.New()
	mustCreate(t, s, "a", time.Now())
	got, _ := s.Get(context.Background(), "a")
	got.Stage = flow.StageFinalized

	again, _ := s.Get(context.Background(), "a")
	if again.Stage != flow.StageInitializing {
		t.Fatal("mutating a returned snapshot must not affect the store")
	}
}

func TestListOrdering(t *testing.T) {
	s := memstore.New()
	base := time.Now()
	for i := range 5 {
		mustCreate(t, s, fmt.Sprintf("s%d", i), base.Add(time.Duration(i)*time.Second))
	}
	_, err := s.Update(context.Background(), "s1", func(c flow.Session) (flow.Session, error) {
		return flow.Fail(c, flow.ErrorKindInternal, "x", base)
	})
	if err != nil {
		t.Fatal(err)
	}

	all, _ := s.List(context.Background(), 3)
	if len(all) != 3 || all[0].ID != "s4" || all[2].ID != "s2" {
		t.Fatalf("unexpected list order: %+v", ids(all))
	}

	running, _ := s.ListRunning(context.Background())
	if len(running) != 4 || running[0].ID != "s0" {
		t.Fatalf("unexpected running list: %+v", ids(running))
	}
}

// Concurrent readers must only ever observe complete snapshots: a completed
// session always has its result and completed_at, a running one never does.
func TestConcurrentReadsSeeWholeSnapshots(t *testing.T) {
	s := memstore.New()
	const n = 50
	for i := range n {
		mustCreate(t, s, fmt.Sprintf("s%d", i), time.Now())
	}

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := range n {
		id := fmt.Sprintf("s%d", i)
		wg.Add(2)
		go func() {
			defer wg.Done()
			now := time.Now()
			_, _ = s.Update(ctx, id, func(c flow.Session) (flow.Session, error) { return flow.Advance(c, flow.StageAnalyzing, now) })
			_, _ = s.Update(ctx, id, func(c flow.Session) (flow.Session, error) { return flow.Advance(c, flow.StageExecuting, now) })
			_, _ = s.Update(ctx, id, func(c flow.Session) (flow.Session, error) {
				return flow.Complete(c, flow.Result{QueryResolutionAction: flow.ActionNoAction}, now)
			})
		}()
		go func() {
			defer wg.Done()
			for range 100 {
				got, err := s.Get(ctx, id)
				if err != nil {
					t.Errorf("get: %v", err)
					return
				}
				done := got.Status == flow.StatusCompleted
				if done != (got.Result != nil) || done != (got.CompletedAt != nil) {
					t.Errorf("torn snapshot: status=%s result=%v completed_at=%v", got.Status, got.Result, got.CompletedAt)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func ids(ss []flow.Session) []string {
	out := make([]string, len(ss))
	for i := range ss {
		out[i] = ss[i].ID
	}
	return out
}
