package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mixelka/mailsync/internal/metrics"
	"github.com/mixelka/mailsync/pkg/models"
)

// Type distinguishes progress from completion events
type Type int

const (
	TypeProgress Type = iota
	TypeCompleted
)

// ProgressFunc is a per-job progress callback
type ProgressFunc func(percent int, message string)

// Event is a progress update or the final result of a sync job
type Event struct {
	Type      Type
	JobID     string
	AccountID int64
	Trigger   models.Trigger
	Percent   int
	Message   string
	Result    models.SyncResult

	// Callback is invoked with progress events of its job
	Callback ProgressFunc
}

// Sink receives events on the dispatcher goroutine
type Sink interface {
	OnProgress(accountID int64, percent int, message string)
	OnCompleted(accountID int64, result models.SyncResult)
}

// Dispatcher fans events out to sinks from a single goroutine, so sinks and
// callbacks never run on sync workers and never run concurrently.
type Dispatcher struct {
	events chan Event
	sinks  []Sink
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewDispatcher creates a dispatcher with a buffer of size events
func NewDispatcher(size int, logger *slog.Logger, sinks ...Sink) *Dispatcher {
	if size < 1 {
		size = 1
	}
	return &Dispatcher{
		events: make(chan Event, size),
		sinks:  sinks,
		logger: logger.With("component", "events"),
		done:   make(chan struct{}),
	}
}

// Run consumes events until Close is called and the buffer is drained
func (d *Dispatcher) Run() {
	defer close(d.done)
	for ev := range d.events {
		d.dispatch(ev)
	}
}

// Publish queues ev. Progress events are dropped when the buffer is full;
// completion events wait for room. Events published after Close are dropped.
func (d *Dispatcher) Publish(ev Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.logger.Debug("dispatcher closed, event dropped", "account_id", ev.AccountID, "type", ev.Type)
		return
	}

	if ev.Type == TypeCompleted {
		d.events <- ev
		return
	}

	select {
	case d.events <- ev:
	default:
		metrics.EventsDropped.Inc()
	}
}

// Close stops accepting events and waits until queued events are delivered or ctx ends
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.events)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) dispatch(ev Event) {
	switch ev.Type {
	case TypeProgress:
		if ev.Callback != nil {
			d.safely(ev, "callback", func() { ev.Callback(ev.Percent, ev.Message) })
		}
		for _, sink := range d.sinks {
			d.safely(ev, "sink", func() { sink.OnProgress(ev.AccountID, ev.Percent, ev.Message) })
		}
	case TypeCompleted:
		for _, sink := range d.sinks {
			d.safely(ev, "sink", func() { sink.OnCompleted(ev.AccountID, ev.Result) })
		}
	}
}

// safely keeps one failing sink from stopping delivery to the others
func (d *Dispatcher) safely(ev Event, what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("event handler panicked", "handler", what, "account_id", ev.AccountID, "panic", r)
		}
	}()
	fn()
}
