package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Strob0t/QueryWarden/internal/domain"
	"github.com/Strob0t/QueryWarden/internal/domain/flow"
	"github.com/Strob0t/QueryWarden/internal/domain/pgsession"
	"github.com/Strob0t/QueryWarden/internal/port/broadcast"
	"github.com/Strob0t/QueryWarden/internal/port/messagequeue"
	"github.com/Strob0t/QueryWarden/internal/port/reasoning"
)

// fakeInspector serves a fixed set of backends. With hang set every call
// blocks until ctx is done.
type fakeInspector struct {
	mu        sync.Mutex
	records   []pgsession.Record
	err       error
	hang      bool
	lists     int
	finds     int
	fragments []string
}

// wait blocks a hanging inspector. The deadline comes back labelled as a
// connection error so callers must not trust the adapter's classification.
func (f *fakeInspector) wait(ctx context.Context) error {
	f.mu.Lock()
	hang := f.hang
	f.mu.Unlock()
	if !hang {
		return nil
	}
	<-ctx.Done()
	return fmt.Errorf("%w: %w", domain.ErrConnection, ctx.Err())
}

func (f *fakeInspector) ListActive(ctx context.Context) ([]pgsession.Record, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	if f.err != nil {
		return nil, f.err
	}
	return append([]pgsession.Record(nil), f.records...), nil
}

func (f *fakeInspector) FindByQuery(ctx context.Context, fragment string) ([]pgsession.Record, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finds++
	f.fragments = append(f.fragments, fragment)
	if f.err != nil {
		return nil, f.err
	}
	out := []pgsession.Record{}
	for _, r := range f.records {
		if r.Running() && strings.Contains(strings.ToLower(r.Query), strings.ToLower(fragment)) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeInspector) FindByPID(ctx context.Context, pid int32) (*pgsession.Record, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finds++
	if f.err != nil {
		return nil, f.err
	}
	for i := range f.records {
		if f.records[i].PID == pid {
			r := f.records[i]
			return &r, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakeInspector) calls() (lists, finds int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lists, f.finds
}

// fakeTerminator records every pid it is asked to terminate.
type fakeTerminator struct {
	mu       sync.Mutex
	pids     []int32
	accepted bool
	err      error
}

func (f *fakeTerminator) Terminate(_ context.Context, pid int32) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pids = append(f.pids, pid)
	if f.err != nil {
		return false, f.err
	}
	return f.accepted, nil
}

func (f *fakeTerminator) called() []int32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int32(nil), f.pids...)
}

// fakeReasoner returns a fixed tag and a scripted sequence of decisions. The
// last decision repeats once the script runs out. With hang set Classify
// blocks until ctx is done.
type fakeReasoner struct {
	mu        sync.Mutex
	tag       string
	err       error
	hang      bool
	decisions []reasoning.Decision
	classify  int
	decide    int
	evidence  [][]reasoning.Step
}

func (f *fakeReasoner) Classify(ctx context.Context, _ string) (string, error) {
	f.mu.Lock()
	hang := f.hang
	f.classify++
	f.mu.Unlock()
	if hang {
		<-ctx.Done()
		return "", ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return f.tag, nil
}

func (f *fakeReasoner) Decide(_ context.Context, _ string, evidence []reasoning.Step) (*reasoning.Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decide++
	f.evidence = append(f.evidence, append([]reasoning.Step(nil), evidence...))
	if f.err != nil {
		return nil, f.err
	}
	if len(f.decisions) == 0 {
		return &reasoning.Decision{Kind: reasoning.DecisionNoAction}, nil
	}
	i := f.decide - 1
	if i >= len(f.decisions) {
		i = len(f.decisions) - 1
	}
	d := f.decisions[i]
	return &d, nil
}

func (f *fakeReasoner) counts() (classify, decide int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.classify, f.decide
}

// funcClassifier adapts a function to RouteClassifier.
type funcClassifier func(ctx context.Context, text string) (flow.RouteTag, error)

func (f funcClassifier) Classify(ctx context.Context, text string) (flow.RouteTag, error) {
	return f(ctx, text)
}

// panicStrategy blows up inside Resolve.
type panicStrategy struct{}

func (panicStrategy) Resolve(context.Context, flow.Session, TargetFunc) (*flow.Result, error) {
	panic("strategy bug")
}

// recordingQueue captures published subjects. delay slows every publish down.
type recordingQueue struct {
	delay    time.Duration
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
}

func (q *recordingQueue) Publish(_ context.Context, subject string, data []byte) error {
	if q.delay > 0 {
		time.Sleep(q.delay)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.subjects = append(q.subjects, subject)
	q.payloads = append(q.payloads, data)
	return nil
}

func (q *recordingQueue) Subscribe(context.Context, string, messagequeue.Handler) (func(), error) {
	return func() {}, nil
}

func (q *recordingQueue) Close() error      { return nil }
func (q *recordingQueue) IsConnected() bool { return true }

func (q *recordingQueue) count(subject string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, s := range q.subjects {
		if s == subject {
			n++
		}
	}
	return n
}

// recordingHub captures broadcast event types. delay slows every call down.
type recordingHub struct {
	mu     sync.Mutex
	delay  time.Duration
	events []string
	stages []string
}

func (h *recordingHub) BroadcastEvent(_ context.Context, eventType string, payload any) {
	if h.delay > 0 {
		time.Sleep(h.delay)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, eventType)
	if ev, ok := payload.(broadcast.FlowStatusEvent); ok {
		h.stages = append(h.stages, ev.Stage+"/"+ev.Status)
	}
}

func (h *recordingHub) snapshot() (events, stages []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.events...), append([]string(nil), h.stages...)
}

func activeRecord(pid int32, elapsed time.Duration) pgsession.Record {
	return pgsession.Record{
		PID:        pid,
		State:      pgsession.StateActive,
		Query:      "SELECT pg_sleep(100000)",
		QueryStart: time.Now().Add(-elapsed),
		Elapsed:    elapsed,
	}
}
