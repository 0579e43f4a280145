package mailotp

import (
	"context"
	"sync"
	"sync/atomic"
)

// auditDispatcher decouples event production from sink delivery: Emit hands
// the event to a buffered channel and returns; a single background
// goroutine drains into the sink. Close drains whatever is buffered before
// returning, so an orderly shutdown loses nothing.
type auditDispatcher struct {
	sink       AuditSink
	events     chan AuditEvent
	quit       chan struct{}
	worker     sync.WaitGroup
	dropIfFull bool
	dropped    atomic.Uint64
	closed     atomic.Bool
	closeOnce  sync.Once
}

func newAuditDispatcher(cfg AuditConfig, sink AuditSink) *auditDispatcher {
	if !cfg.Enabled {
		return nil
	}
	buffer := cfg.BufferSize
	if buffer <= 0 {
		buffer = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &auditDispatcher{
		sink:       sink,
		events:     make(chan AuditEvent, buffer),
		quit:       make(chan struct{}),
		dropIfFull: cfg.DropIfFull,
	}

	d.worker.Add(1)
	go func() {
		defer d.worker.Done()
		for {
			select {
			case event := <-d.events:
				d.sink.Emit(context.Background(), event)
			case <-d.quit:
				d.drain()
				return
			}
		}
	}()

	return d
}

// drain empties the buffer into the sink. Called only by the worker after
// quit closes, when no new events can arrive.
func (d *auditDispatcher) drain() {
	for {
		select {
		case event := <-d.events:
			d.sink.Emit(context.Background(), event)
		default:
			return
		}
	}
}

// Emit enqueues an event. With DropIfFull set a full buffer drops the event
// and bumps the counter instead of stalling the request path; otherwise
// Emit waits until the buffer accepts it or ctx ends.
func (d *auditDispatcher) Emit(ctx context.Context, event AuditEvent) {
	if d == nil || d.closed.Load() {
		return
	}

	if d.dropIfFull {
		select {
		case d.events <- event:
		case <-d.quit:
		default:
			d.dropped.Add(1)
		}
		return
	}

	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case d.events <- event:
	case <-ctx.Done():
	case <-d.quit:
	}
}

// Close stops intake, drains the buffer into the sink, and waits for the
// worker to exit. Safe to call more than once.
func (d *auditDispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.quit)
		d.worker.Wait()
	})
}

// Dropped reports how many events were discarded because the buffer was
// full.
func (d *auditDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
