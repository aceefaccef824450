package service

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
)

// eventBacklog bounds the lifecycle events waiting for delivery. Producers
// block only while it is full.
const eventBacklog = 256

// notice is one queued delivery, or a flush marker when flushed is set.
type notice struct {
	ctx     context.Context
	deliver func(context.Context)
	flushed chan struct{}
}

// dispatcher delivers lifecycle events in order on a single goroutine so slow
// sinks (websocket clients, JetStream acks) never run on a flow's path.
type dispatcher struct {
	ch   chan notice
	quit chan struct{}
	done chan struct{}
	once sync.Once
	log  *slog.Logger
}

func newDispatcher(log *slog.Logger) *dispatcher {
	d := &dispatcher{
		ch:   make(chan notice, eventBacklog),
		quit: make(chan struct{}),
		done: make(chan struct{}),
		log:  log,
	}
	go d.loop()
	return d
}

func (d *dispatcher) loop() {
	defer close(d.done)
	for {
		select {
		case n := <-d.ch:
			d.handle(n)
		case <-d.quit:
			for {
				select {
				case n := <-d.ch:
					d.handle(n)
				default:
					return
				}
			}
		}
	}
}

func (d *dispatcher) handle(n notice) {
	if n.flushed != nil {
		close(n.flushed)
		return
	}
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("event delivery panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	n.deliver(n.ctx)
}

// enqueue schedules fn. The delivery context keeps ctx's values but not its
// cancellation. Events enqueued after close are dropped.
func (d *dispatcher) enqueue(ctx context.Context, fn func(context.Context)) {
	select {
	case <-d.quit:
		return
	default:
	}
	select {
	case d.ch <- notice{ctx: context.WithoutCancel(ctx), deliver: fn}:
	case <-d.quit:
	}
}

// flush waits until everything enqueued before the call has been delivered.
func (d *dispatcher) flush(ctx context.Context) error {
	marker := make(chan struct{})
	select {
	case d.ch <- notice{flushed: marker}:
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-marker:
		return nil
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close stops accepting events and waits for the backlog to drain.
func (d *dispatcher) close(ctx context.Context) error {
	d.once.Do(func() { close(d.quit) })
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
