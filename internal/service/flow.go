package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/semaphore"

	qwotel "github.com/Strob0t/QueryWarden/internal/adapter/otel"
	"github.com/Strob0t/QueryWarden/internal/config"
	"github.com/Strob0t/QueryWarden/internal/domain"
	"github.com/Strob0t/QueryWarden/internal/domain/flow"
	"github.com/Strob0t/QueryWarden/internal/domain/pgsession"
	"github.com/Strob0t/QueryWarden/internal/logger"
	"github.com/Strob0t/QueryWarden/internal/port/broadcast"
	"github.com/Strob0t/QueryWarden/internal/port/dbsession"
	"github.com/Strob0t/QueryWarden/internal/port/flowstore"
	"github.com/Strob0t/QueryWarden/internal/port/messagequeue"
)

// FlowService runs ticket-to-resolution flows. Each Start launches one
// independent run that drives the session through its stages; every
// transition is persisted before the next step begins.
type FlowService struct {
	store       flowstore.Store
	classifier  RouteClassifier
	strategies  StrategyTable
	inspector   dbsession.Inspector
	sem         *semaphore.Weighted
	stepTimeout time.Duration
	queue       messagequeue.Queue
	hub         broadcast.Broadcaster
	metrics     *qwotel.Metrics
	events      *dispatcher
	log         *slog.Logger
	now         func() time.Time
	newID       func() string

	wg       sync.WaitGroup
	inflight sync.Map // session ID -> chan struct{}, closed when the run ends
}

// NewFlowService creates a FlowService with its required collaborators.
func NewFlowService(
	store flowstore.Store,
	classifier RouteClassifier,
	strategies StrategyTable,
	inspector dbsession.Inspector,
	cfg config.Flow,
	log *slog.Logger,
) *FlowService {
	limit := cfg.MaxConcurrent
	if limit < 1 {
		limit = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &FlowService{
		store:       store,
		classifier:  classifier,
		strategies:  strategies,
		inspector:   inspector,
		sem:         semaphore.NewWeighted(limit),
		stepTimeout: cfg.StepTimeout,
		events:      newDispatcher(log),
		log:         log,
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
	}
}

// SetQueue attaches a message queue for lifecycle events.
func (s *FlowService) SetQueue(q messagequeue.Queue) { s.queue = q }

// SetBroadcaster attaches a broadcaster for realtime status pushes.
func (s *FlowService) SetBroadcaster(b broadcast.Broadcaster) { s.hub = b }

// SetMetrics attaches flow metrics.
func (s *FlowService) SetMetrics(m *qwotel.Metrics) { s.metrics = m }

// Start validates inputText, stores a new session and schedules its run.
// It returns as soon as the session is stored; the session's first event is
// announced from the run.
func (s *FlowService) Start(ctx context.Context, inputText string) (string, error) {
	sess, err := flow.New(s.newID(), inputText, s.now())
	if err != nil {
		return "", err
	}
	if err := s.store.Create(ctx, &sess); err != nil {
		return "", fmt.Errorf("create flow session: %w", err)
	}

	s.metrics.RecordStarted(ctx)
	s.log.InfoContext(ctx, "flow started", "flow_id", sess.ID)

	done := make(chan struct{})
	s.inflight.Store(sess.ID, done)
	s.wg.Add(1)

	// Runs outlive the request that started them and are not cancellable.
	runCtx := logger.WithFlowID(context.WithoutCancel(ctx), sess.ID)
	go s.run(runCtx, sess, done)

	return sess.ID, nil
}

// Status returns the session's current stage and status.
func (s *FlowService) Status(ctx context.Context, id string) (*flow.StatusView, error) {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	v := sess.View()
	return &v, nil
}

// Result returns the resolution of a completed session, domain.ErrPending
// while it runs, or the stored failure wrapped in domain.ErrFlowFailed.
func (s *FlowService) Result(ctx context.Context, id string) (*flow.Result, error) {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch sess.Status {
	case flow.StatusCompleted:
		return sess.Result, nil
	case flow.StatusFailed:
		return nil, fmt.Errorf("flow %s failed (%s): %s: %w", id, sess.ErrorKind, sess.Error, domain.ErrFlowFailed)
	default:
		return nil, fmt.Errorf("flow %s is %s: %w", id, sess.Stage, domain.ErrPending)
	}
}

// Get returns the full session record.
func (s *FlowService) Get(ctx context.Context, id string) (*flow.Session, error) {
	return s.store.Get(ctx, id)
}

// List returns recent sessions, newest first.
func (s *FlowService) List(ctx context.Context, limit int) ([]flow.Session, error) {
	return s.store.List(ctx, limit)
}

// ListActiveSessions returns the monitored database's running backends.
func (s *FlowService) ListActiveSessions(ctx context.Context) ([]pgsession.Record, error) {
	return s.inspector.ListActive(ctx)
}

// Await blocks until the session's run in this process has ended and its
// events have been delivered, or ctx is done, then returns the stored session.
func (s *FlowService) Await(ctx context.Context, id string) (*flow.Session, error) {
	if v, ok := s.inflight.Load(id); ok {
		select {
		case <-v.(chan struct{}):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := s.events.flush(ctx); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, id)
}

// Wait blocks until every run started by this service has ended and its
// events have been delivered, or ctx is done.
func (s *FlowService) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.events.flush(ctx)
}

// Close delivers pending events and stops the event dispatcher. Call it after
// Wait; events emitted afterwards are dropped.
func (s *FlowService) Close(ctx context.Context) error {
	return s.events.close(ctx)
}

// RecoverInterrupted fails sessions left running by a previous process.
// Sessions owned by this process are skipped.
func (s *FlowService) RecoverInterrupted(ctx context.Context) (int, error) {
	running, err := s.store.ListRunning(ctx)
	if err != nil {
		return 0, fmt.Errorf("list running sessions: %w", err)
	}
	n := 0
	for i := range running {
		id := running[i].ID
		if _, mine := s.inflight.Load(id); mine {
			continue
		}
		now := s.now()
		sess, err := s.store.Update(ctx, id, func(cur flow.Session) (flow.Session, error) {
			return flow.Fail(cur, flow.ErrorKindInterrupted, "process stopped before the flow finished", now)
		})
		if err != nil {
			if errors.Is(err, domain.ErrConflict) {
				continue
			}
			return n, fmt.Errorf("recover session %s: %w", id, err)
		}
		n++
		s.emit(ctx, sess)
	}
	if n > 0 {
		s.log.WarnContext(ctx, "recovered interrupted flows", "count", n)
	}
	return n, nil
}

// HandleSubmit starts a flow from a flows.submit message. Invalid tickets are
// logged and acknowledged; only store failures are returned for redelivery.
func (s *FlowService) HandleSubmit(ctx context.Context, _ string, data []byte) error {
	var p messagequeue.FlowSubmitPayload
	if err := json.Unmarshal(data, &p); err != nil {
		s.log.WarnContext(ctx, "discarding malformed submit message", "error", err)
		return nil
	}
	id, err := s.Start(ctx, p.InputText)
	if errors.Is(err, domain.ErrValidation) {
		s.log.WarnContext(ctx, "discarding invalid ticket", "reference", p.Reference, "error", err)
		return nil
	}
	if err != nil {
		return err
	}
	s.log.InfoContext(ctx, "flow submitted via queue", "flow_id", id, "reference", p.Reference)
	return nil
}

// run is the per-session control loop. first is the snapshot Start stored.
func (s *FlowService) run(ctx context.Context, first flow.Session, done chan struct{}) {
	id := first.ID
	defer s.wg.Done()
	defer func() {
		close(done)
		s.inflight.Delete(id)
	}()

	s.emit(ctx, &first)

	// Queued runs stay initializing until a slot frees up.
	_ = s.sem.Acquire(ctx, 1)
	defer s.sem.Release(1)

	ctx, span := qwotel.StartFlowSpan(ctx, id)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			s.log.ErrorContext(ctx, "flow run panicked", "panic", r, "stack", string(debug.Stack()))
			s.fail(ctx, id, fmt.Errorf("panic: %v", r))
			span.SetStatus(codes.Error, "panic")
		}
	}()

	sess, err := s.store.Get(ctx, id)
	if err != nil {
		s.fail(ctx, id, fmt.Errorf("load session: %w", err))
		return
	}

	for !sess.Status.Terminal() {
		next, err := s.step(ctx, sess)
		if err != nil {
			s.fail(ctx, id, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, string(flow.KindOf(err)))
			return
		}
		sess = next
	}
}

// step performs the work of the session's current stage under the step
// timeout. Running out of that budget is reported as domain.ErrStepTimeout
// whatever the interrupted collaborator made of its deadline.
func (s *FlowService) step(ctx context.Context, sess *flow.Session) (*flow.Session, error) {
	ctx, span := qwotel.StartStageSpan(ctx, sess.ID, string(sess.Stage))
	defer span.End()

	if s.stepTimeout <= 0 {
		return s.advance(ctx, sess)
	}

	stepCtx, cancel := context.WithTimeout(ctx, s.stepTimeout)
	defer cancel()
	next, err := s.advance(stepCtx, sess)
	if err != nil && ctx.Err() == nil && errors.Is(stepCtx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%s exceeded the %s step timeout: %w: %w", sess.Stage, s.stepTimeout, domain.ErrStepTimeout, err)
	}
	return next, err
}

// advance performs the work of the session's current stage and persists the
// resulting transition.
func (s *FlowService) advance(ctx context.Context, sess *flow.Session) (*flow.Session, error) {
	switch sess.Stage {
	case flow.StageInitializing:
		return s.transition(ctx, sess.ID, func(cur flow.Session) (flow.Session, error) {
			return flow.Advance(cur, flow.StageAnalyzing, s.now())
		})

	case flow.StageAnalyzing:
		tag, err := s.classifier.Classify(ctx, sess.InputText)
		if err != nil {
			return nil, err
		}
		if _, ok := s.strategies[tag]; !ok {
			return nil, fmt.Errorf("route tag %q has no strategy: %w", tag, domain.ErrUnroutableInput)
		}
		return s.transition(ctx, sess.ID, func(cur flow.Session) (flow.Session, error) {
			now := s.now()
			routed, err := flow.Route(cur, tag, now)
			if err != nil {
				return cur, err
			}
			return flow.Advance(routed, flow.StageExecuting, now)
		})

	case flow.StageExecuting:
		strategy := s.strategies[sess.Route]
		if strategy == nil {
			return nil, fmt.Errorf("route tag %q has no strategy: %w", sess.Route, domain.ErrUnroutableInput)
		}
		var picked *pgsession.Record
		res, err := strategy.Resolve(ctx, *sess, func(ctx context.Context, rec *pgsession.Record) error {
			picked = rec
			_, err := s.transition(ctx, sess.ID, func(cur flow.Session) (flow.Session, error) {
				return flow.Target(cur, rec.PID, s.now())
			})
			return err
		})
		if err != nil {
			return nil, err
		}
		if res == nil {
			return nil, errors.New("strategy returned no result")
		}
		out, err := s.transition(ctx, sess.ID, func(cur flow.Session) (flow.Session, error) {
			return flow.Complete(cur, *res, s.now())
		})
		if err != nil {
			return nil, err
		}
		if res.QueryResolutionAction == flow.ActionTerminated && picked != nil {
			s.metrics.RecordTermination(ctx, string(sess.Route))
			s.publish(ctx, messagequeue.SubjectBackendKilled, messagequeue.BackendKilledPayload{
				SessionID: sess.ID,
				PID:       picked.PID,
				Query:     picked.Preview(),
				Elapsed:   picked.Elapsed.Round(time.Second).String(),
			})
		}
		return out, nil

	default:
		return nil, fmt.Errorf("session %s in unexpected stage %s", sess.ID, sess.Stage)
	}
}

// transition persists fn and announces the new snapshot.
func (s *FlowService) transition(ctx context.Context, id string, fn flowstore.Mutator) (*flow.Session, error) {
	sess, err := s.store.Update(ctx, id, fn)
	if err != nil {
		return nil, fmt.Errorf("persist transition: %w", err)
	}
	s.log.DebugContext(ctx, "flow transition", "stage", sess.Stage, "status", sess.Status, "version", sess.Version)
	s.emit(ctx, sess)
	return sess, nil
}

// fail records err as the session's failure. It never returns an error: a
// session that cannot be failed is logged and left for RecoverInterrupted.
func (s *FlowService) fail(ctx context.Context, id string, cause error) {
	kind := flow.KindOf(cause)
	sess, err := s.store.Update(ctx, id, func(cur flow.Session) (flow.Session, error) {
		return flow.Fail(cur, kind, cause.Error(), s.now())
	})
	if err != nil {
		s.log.ErrorContext(ctx, "could not record flow failure", "cause", cause, "error", err)
		return
	}
	s.emit(ctx, sess)
}

// emit hands a copy of the snapshot to the event dispatcher.
func (s *FlowService) emit(ctx context.Context, sess *flow.Session) {
	snap := *sess
	s.events.enqueue(ctx, func(ctx context.Context) { s.deliver(ctx, &snap) })
}

// deliver logs terminal states and fans the snapshot out to the queue, the
// websocket hub and metrics. All sinks are optional. It runs on the
// dispatcher goroutine.
func (s *FlowService) deliver(ctx context.Context, sess *flow.Session) {
	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, broadcast.EventFlowStatus, broadcast.FlowStatusEvent{
			SessionID: sess.ID,
			Stage:     string(sess.Stage),
			Status:    string(sess.Status),
			Route:     string(sess.Route),
			Error:     sess.Error,
			ErrorKind: string(sess.ErrorKind),
		})
	}
	s.send(ctx, messagequeue.SubjectFlowTransition, messagequeue.FlowTransitionPayload{
		SessionID: sess.ID,
		Stage:     string(sess.Stage),
		Status:    string(sess.Status),
		Route:     string(sess.Route),
		At:        sess.UpdatedAt,
	})

	if !sess.Status.Terminal() {
		return
	}

	elapsed := sess.UpdatedAt.Sub(sess.StartedAt)
	finished := messagequeue.FlowFinishedPayload{
		SessionID: sess.ID,
		Status:    string(sess.Status),
		Error:     sess.Error,
		ErrorKind: string(sess.ErrorKind),
		At:        sess.UpdatedAt,
	}

	if sess.Status == flow.StatusCompleted {
		action := string(sess.Result.QueryResolutionAction)
		finished.Action = action
		s.metrics.RecordCompleted(ctx, string(sess.Route), action, elapsed)
		s.log.InfoContext(ctx, "flow completed",
			"route", sess.Route, "action", action, "target_pid", sess.TargetPID, "duration", elapsed.String())
		if s.hub != nil {
			s.hub.BroadcastEvent(ctx, broadcast.EventFlowResult, broadcast.FlowResultEvent{
				SessionID: sess.ID,
				Result:    sess.Result,
			})
		}
	} else {
		s.metrics.RecordFailed(ctx, string(sess.ErrorKind), elapsed)
		s.log.WarnContext(ctx, "flow failed",
			"stage", sess.Stage, "error_kind", sess.ErrorKind, "error", sess.Error, "target_pid", sess.TargetPID)
	}

	s.send(ctx, messagequeue.SubjectFlowFinished, finished)
}

// publish queues payload for the message queue behind earlier events.
func (s *FlowService) publish(ctx context.Context, subject string, payload any) {
	if s.queue == nil {
		return
	}
	s.events.enqueue(ctx, func(ctx context.Context) { s.send(ctx, subject, payload) })
}

func (s *FlowService) send(ctx context.Context, subject string, payload any) {
	if s.queue == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.ErrorContext(ctx, "marshal event", "subject", subject, "error", err)
		return
	}
	if err := s.queue.Publish(ctx, subject, data); err != nil {
		s.log.WarnContext(ctx, "publish event failed", "subject", subject, "error", err)
	}
}
