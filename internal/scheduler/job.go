package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mixelka/mailsync/internal/events"
	"github.com/mixelka/mailsync/pkg/models"
)

// Job is one queued or running synchronization of an account
type Job struct {
	ID        string
	AccountID int64
	Trigger   models.Trigger
	Submitted time.Time

	callback  events.ProgressFunc
	publisher Publisher

	started   atomic.Int64 // unix nanos, 0 while queued
	cancelled atomic.Bool
	done      chan struct{}
	result    models.SyncResult
}

func newJob(accountID int64, trigger models.Trigger, cb events.ProgressFunc, publisher Publisher) *Job {
	return &Job{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Trigger:   trigger,
		Submitted: time.Now(),
		callback:  cb,
		publisher: publisher,
		done:      make(chan struct{}),
	}
}

// Cancelled reports whether Cancel was requested
func (j *Job) Cancelled() bool {
	return j.cancelled.Load()
}

// Progress forwards a progress update to the event dispatcher
func (j *Job) Progress(percent int, message string) {
	j.publisher.Publish(events.Event{
		Type:      events.TypeProgress,
		JobID:     j.ID,
		AccountID: j.AccountID,
		Trigger:   j.Trigger,
		Percent:   percent,
		Message:   message,
		Callback:  j.callback,
	})
}

// StartedAt returns when a worker picked the job up, zero while queued
func (j *Job) StartedAt() time.Time {
	ns := j.started.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Done is closed when the job has finished
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job finishes or ctx ends. On ctx expiry it returns
// ErrTimeout; the job keeps running and its result still reaches the sinks.
func (j *Job) Wait(ctx context.Context) (models.SyncResult, error) {
	select {
	case <-j.done:
		return j.result, nil
	case <-ctx.Done():
		return models.SyncResult{}, ErrTimeout
	}
}

func (j *Job) cancel() {
	j.cancelled.Store(true)
}

func (j *Job) start() {
	j.started.Store(time.Now().UnixNano())
}

func (j *Job) finish(result models.SyncResult) {
	j.result = result
	close(j.done)
}
