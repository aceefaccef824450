package logger

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// sink collects records handed over by the async workers.
type sink struct {
	mu    sync.Mutex
	msgs  []string
	attrs []slog.Attr
	slow  time.Duration
}

func (s *sink) Enabled(context.Context, slog.Level) bool { return true }

func (s *sink) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	if s.slow > 0 {
		time.Sleep(s.slow)
	}
	s.mu.Lock()
	s.msgs = append(s.msgs, rec.Message)
	s.mu.Unlock()
	return nil
}

func (s *sink) WithAttrs(attrs []slog.Attr) slog.Handler {
	s.mu.Lock()
	s.attrs = append(s.attrs, attrs...)
	s.mu.Unlock()
	return s
}

func (s *sink) WithGroup(string) slog.Handler { return s }

func (s *sink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

func record(msg string) slog.Record {
	return slog.NewRecord(time.Now(), slog.LevelInfo, msg, 0)
}

func TestAsyncHandler_DrainsOnClose(t *testing.T) {
	tests := []struct {
		name      string
		buf       int
		workers   int
		producers int
		each      int
	}{
		{"single record", 8, 1, 1, 1},
		{"one producer backlog", 512, 2, 1, 300},
		{"many producers", 20000, 4, 50, 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &sink{}
			ah := NewAsyncHandler(out, tt.buf, tt.workers)

			var wg sync.WaitGroup
			for range tt.producers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for range tt.each {
						_ = ah.Handle(context.Background(), record("flow transition"))
					}
				}()
			}
			wg.Wait()
			ah.Close()

			want := tt.producers * tt.each
			if got := out.len(); got != want {
				t.Fatalf("expected %d records written, got %d (dropped %d)", want, got, ah.DroppedCount())
			}
		})
	}
}

func TestAsyncHandler_FullBufferDrops(t *testing.T) {
	out := &sink{slow: 5 * time.Millisecond}
	ah := NewAsyncHandler(out, 1, 1)

	const sent = 40
	for range sent {
		_ = ah.Handle(context.Background(), record("burst"))
	}
	ah.Close()

	dropped := ah.DroppedCount()
	if dropped == 0 {
		t.Fatal("expected drops with a one-slot buffer and a slow sink")
	}
	if got := int64(out.len()) + dropped; got != sent {
		t.Fatalf("written+dropped = %d, want %d", got, sent)
	}
}

func TestAsyncHandler_HandleAfterClose(t *testing.T) {
	ah := NewAsyncHandler(&sink{}, 4, 1)
	ah.Close()
	ah.Close()

	if err := ah.Handle(context.Background(), record("late")); err != nil {
		t.Fatalf("Handle after close returned error: %v", err)
	}
	if ah.DroppedCount() != 1 {
		t.Fatalf("expected the late record counted as dropped, got %d", ah.DroppedCount())
	}
}

func TestAsyncHandler_DerivedHandlersShareQueue(t *testing.T) {
	out := &sink{}
	ah := NewAsyncHandler(out, 8, 1)
	child := ah.WithAttrs([]slog.Attr{slog.String("flow_id", "f-1")}).WithGroup("run")

	_ = child.Handle(context.Background(), record("from child"))
	ah.Close()

	if out.len() != 1 {
		t.Fatalf("expected the child's record flushed by the parent's Close, got %d", out.len())
	}
	if len(out.attrs) != 1 || out.attrs[0].Key != "flow_id" {
		t.Fatalf("expected flow_id attr on the inner handler, got %v", out.attrs)
	}
}
