package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// Dispatcher forwards audit events to a sink from a single background
// worker, so sink latency never sits on the login path. A nil
// *Dispatcher is valid and discards everything, which is how a
// disabled audit config is represented.
type Dispatcher struct {
	sink       Sink
	queue      chan Event
	dropIfFull bool

	mu      sync.RWMutex
	closed  bool
	drained chan struct{}
	dropped atomic.Uint64
}

// NewDispatcher starts the worker goroutine. It returns nil when
// auditing is disabled.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	buf := cfg.BufferSize
	if buf <= 0 {
		buf = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		sink:       sink,
		queue:      make(chan Event, buf),
		dropIfFull: cfg.DropIfFull,
		drained:    make(chan struct{}),
	}
	go d.consume()
	return d
}

// consume runs until the queue is closed and empty. Ranging over the
// channel gives the drain-on-close guarantee for free.
func (d *Dispatcher) consume() {
	defer close(d.drained)
	for ev := range d.queue {
		d.sink.Emit(context.Background(), ev)
	}
}

// Emit enqueues an event. With DropIfFull set a full buffer increments
// the drop counter instead of blocking; otherwise Emit waits for queue
// space or the caller's context.
func (d *Dispatcher) Emit(ctx context.Context, ev Event) {
	if d == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	// The read lock keeps Close from closing the queue while a send
	// is in flight.
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	if d.dropIfFull {
		select {
		case d.queue <- ev:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.queue <- ev:
	case <-ctx.Done():
	}
}

// Close stops intake, waits for buffered events to reach the sink,
// and returns. Safe to call more than once.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	<-d.drained
}

// Dropped reports how many events were discarded because the buffer
// was full.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
