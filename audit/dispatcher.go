package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Dispatcher writes events to a Sink from a background goroutine.
//
// USAGE:
//
//	d := audit.NewDispatcher(sink, 256, logger)
//	d.Start()
//	defer d.Stop() // drains what is already queued
//	d.Emit(event)
type Dispatcher struct {
	sink   Sink
	logger *slog.Logger
	inbox  chan Event

	// OnDrop is called when an event is discarded because the buffer is full.
	OnDrop func(Event)

	mu      sync.Mutex
	started bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

func NewDispatcher(sink Sink, buffer int, logger *slog.Logger) *Dispatcher {
	if buffer <= 0 {
		buffer = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		sink:   sink,
		logger: logger,
		inbox:  make(chan Event, buffer),
	}
}

// Start launches the worker. Calling Start twice is a no-op.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return
	}
	d.started = true
	d.stop = make(chan struct{})
	d.wg.Add(1)
	go d.run()

	d.logger.Info("audit dispatcher started", "buffer", cap(d.inbox))
}

// Stop signals the worker, waits for it to drain the queue and exit.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.started {
		return
	}
	close(d.stop)
	d.wg.Wait()
	d.started = false
	d.logger.Info("audit dispatcher stopped")
}

// Emit queues e without blocking. It returns false if e was dropped.
func (d *Dispatcher) Emit(e Event) bool {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	select {
	case d.inbox <- e:
		return true
	default:
		d.logger.Warn("audit event dropped", "operation", e.Operation, "target", e.Target, "actor", e.ActorID)
		if d.OnDrop != nil {
			d.OnDrop(e)
		}
		return false
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case e := <-d.inbox:
			d.write(e)
		case <-d.stop:
			d.drain()
			return
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case e := <-d.inbox:
			d.write(e)
		default:
			return
		}
	}
}

func (d *Dispatcher) write(e Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := d.sink.Append(ctx, e); err != nil {
		d.logger.Error("audit write failed", "operation", e.Operation, "target", e.Target, "error", err)
	}
}
