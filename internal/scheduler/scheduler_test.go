package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mixelka/mailsync/internal/events"
	"github.com/mixelka/mailsync/internal/syncer"
	"github.com/mixelka/mailsync/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingPublisher struct {
	mu        sync.Mutex
	events    []events.Event
	completed chan events.Event
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{completed: make(chan events.Event, 100)}
}

func (p *recordingPublisher) Publish(ev events.Event) {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
	if ev.Type == events.TypeCompleted {
		p.completed <- ev
	}
}

func (p *recordingPublisher) waitCompleted(t *testing.T) events.Event {
	t.Helper()
	select {
	case ev := <-p.completed:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no completion event")
		return events.Event{}
	}
}

// runnerFunc adapts a function to Runner
type runnerFunc func(ctx context.Context, accountID int64, ctl syncer.Control) models.SyncResult

func (f runnerFunc) RunSync(ctx context.Context, accountID int64, ctl syncer.Control) models.SyncResult {
	return f(ctx, accountID, ctl)
}

// blockingRunner holds every job until release is closed
type blockingRunner struct {
	started chan int64
	release chan struct{}
	runs    atomic.Int32
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{
		started: make(chan int64, 100),
		release: make(chan struct{}),
	}
}

func (r *blockingRunner) RunSync(ctx context.Context, accountID int64, ctl syncer.Control) models.SyncResult {
	r.runs.Add(1)
	r.started <- accountID
	ctl.Progress(50, "working")
	select {
	case <-r.release:
		return models.SyncResult{Success: true, Message: "done"}
	case <-ctx.Done():
		return models.SyncResult{Cancelled: true, ErrorKind: syncer.KindCancelled}
	}
}

func (r *blockingRunner) waitStarted(t *testing.T) int64 {
	t.Helper()
	select {
	case id := <-r.started:
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("job did not start")
		return 0
	}
}

func newTestScheduler(t *testing.T, runner Runner, pub Publisher, opts Options) *Scheduler {
	t.Helper()
	s := New(runner, pub, opts, testLogger())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s
}

func TestScheduler_SecondSubmitForSameAccountIsRejected(t *testing.T) {
	runner := newBlockingRunner()
	pub := newRecordingPublisher()
	s := newTestScheduler(t, runner, pub, Options{})

	job, err := s.Submit(7, models.TriggerManual, nil)
	require.NoError(t, err)

	_, err = s.Submit(7, models.TriggerRealTime, nil)
	assert.ErrorIs(t, err, ErrAlreadyProcessing)
	assert.True(t, s.IsBusy(7))

	close(runner.release)
	res, err := job.Wait(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, int32(1), runner.runs.Load())

	assert.Equal(t, models.TriggerManual, res.Trigger)

	ev := pub.waitCompleted(t)
	assert.Equal(t, int64(7), ev.AccountID)
	assert.Equal(t, models.TriggerManual, ev.Result.Trigger)
	assert.False(t, s.IsBusy(7))

	// the account is free again
	job, err = s.Submit(7, models.TriggerRealTime, nil)
	require.NoError(t, err)
	_, err = job.Wait(context.Background())
	require.NoError(t, err)
}

func TestScheduler_ConcurrentSubmitsAdmitOne(t *testing.T) {
	runner := newBlockingRunner()
	s := newTestScheduler(t, runner, newRecordingPublisher(), Options{})

	var accepted, rejected atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		trigger := models.TriggerManual
		if i%2 == 0 {
			trigger = models.TriggerRealTime
		}
		go func() {
			defer wg.Done()
			_, err := s.Submit(1, trigger, nil)
			switch {
			case err == nil:
				accepted.Add(1)
			case errors.Is(err, ErrAlreadyProcessing):
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), accepted.Load())
	assert.Equal(t, int32(49), rejected.Load())

	close(runner.release)
}

func TestScheduler_DifferentAccountsRunConcurrently(t *testing.T) {
	runner := newBlockingRunner()
	s := newTestScheduler(t, runner, newRecordingPublisher(), Options{ManualWorkers: 2})

	_, err := s.Submit(1, models.TriggerManual, nil)
	require.NoError(t, err)
	_, err = s.Submit(2, models.TriggerManual, nil)
	require.NoError(t, err)

	got := map[int64]bool{runner.waitStarted(t): true, runner.waitStarted(t): true}
	assert.Equal(t, map[int64]bool{1: true, 2: true}, got)
	assert.Equal(t, 2, s.InFlight())

	close(runner.release)
}

func TestScheduler_QueueFullReleasesAccount(t *testing.T) {
	runner := newBlockingRunner()
	s := newTestScheduler(t, runner, newRecordingPublisher(), Options{ManualWorkers: 1, QueueSize: 1})

	_, err := s.Submit(1, models.TriggerManual, nil)
	require.NoError(t, err)
	runner.waitStarted(t)

	_, err = s.Submit(2, models.TriggerManual, nil)
	require.NoError(t, err)

	_, err = s.Submit(3, models.TriggerManual, nil)
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.False(t, s.IsBusy(3))

	// the real-time pool has its own queue
	_, err = s.Submit(3, models.TriggerRealTime, nil)
	assert.NoError(t, err)

	close(runner.release)
}

func TestScheduler_PanicReleasesAccount(t *testing.T) {
	pub := newRecordingPublisher()
	runner := runnerFunc(func(ctx context.Context, accountID int64, ctl syncer.Control) models.SyncResult {
		panic("adapter exploded")
	})
	s := newTestScheduler(t, runner, pub, Options{})

	job, err := s.Submit(1, models.TriggerManual, nil)
	require.NoError(t, err)

	res, err := job.Wait(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, syncer.KindInternal, res.ErrorKind)
	assert.Contains(t, res.Message, "adapter exploded")
	assert.Equal(t, models.TriggerManual, res.Trigger)

	ev := pub.waitCompleted(t)
	assert.Equal(t, job.ID, ev.JobID)
	assert.False(t, s.IsBusy(1))

	// workers survive the panic
	_, err = s.Submit(1, models.TriggerManual, nil)
	require.NoError(t, err)
	pub.waitCompleted(t)
}

func TestScheduler_WaitTimeout(t *testing.T) {
	runner := newBlockingRunner()
	pub := newRecordingPublisher()
	s := newTestScheduler(t, runner, pub, Options{})

	job, err := s.Submit(1, models.TriggerManual, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = job.Wait(ctx)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.True(t, s.IsBusy(1))

	close(runner.release)
	ev := pub.waitCompleted(t)
	assert.True(t, ev.Result.Success, "result still reaches the sinks")
}

func TestScheduler_Cancel(t *testing.T) {
	pub := newRecordingPublisher()
	started := make(chan struct{})
	runner := runnerFunc(func(ctx context.Context, accountID int64, ctl syncer.Control) models.SyncResult {
		close(started)
		for !ctl.Cancelled() {
			time.Sleep(time.Millisecond)
		}
		return models.SyncResult{Cancelled: true, ErrorKind: syncer.KindCancelled}
	})
	s := newTestScheduler(t, runner, pub, Options{})

	assert.False(t, s.Cancel(1))

	job, err := s.Submit(1, models.TriggerManual, nil)
	require.NoError(t, err)
	<-started

	assert.True(t, s.Cancel(1))
	res, err := job.Wait(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Cancelled)
	assert.True(t, job.Cancelled())
}

func TestScheduler_ProgressCarriesCallback(t *testing.T) {
	runner := newBlockingRunner()
	pub := newRecordingPublisher()
	s := newTestScheduler(t, runner, pub, Options{})

	var called bool
	job, err := s.Submit(1, models.TriggerManual, func(percent int, message string) { called = true })
	require.NoError(t, err)
	close(runner.release)
	_, err = job.Wait(context.Background())
	require.NoError(t, err)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	var progress *events.Event
	for i := range pub.events {
		if pub.events[i].Type == events.TypeProgress {
			progress = &pub.events[i]
		}
	}
	require.NotNil(t, progress)
	assert.Equal(t, 50, progress.Percent)
	assert.Equal(t, job.ID, progress.JobID)
	require.NotNil(t, progress.Callback)
	progress.Callback(50, "working")
	assert.True(t, called)
	assert.False(t, job.StartedAt().IsZero())
}

func TestScheduler_ShutdownRejectsAndDrains(t *testing.T) {
	runner := newBlockingRunner()
	pub := newRecordingPublisher()
	s := New(runner, pub, Options{ManualWorkers: 1}, testLogger())

	_, err := s.Submit(1, models.TriggerManual, nil)
	require.NoError(t, err)
	_, err = s.Submit(2, models.TriggerManual, nil)
	require.NoError(t, err)
	close(runner.release)

	require.NoError(t, s.Shutdown(context.Background()))
	assert.Equal(t, int32(2), runner.runs.Load(), "queued jobs run before shutdown returns")

	_, err = s.Submit(3, models.TriggerManual, nil)
	assert.ErrorIs(t, err, ErrShuttingDown)
	assert.NoError(t, s.Shutdown(context.Background()))
}

func TestScheduler_ShutdownDeadlineCancelsJobs(t *testing.T) {
	runner := newBlockingRunner()
	pub := newRecordingPublisher()
	s := New(runner, pub, Options{}, testLogger())

	job, err := s.Submit(1, models.TriggerManual, nil)
	require.NoError(t, err)
	runner.waitStarted(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Shutdown(ctx), context.DeadlineExceeded)

	res, err := job.Wait(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Cancelled)
	assert.False(t, s.IsBusy(1))
}

func TestScheduler_UnknownTrigger(t *testing.T) {
	s := newTestScheduler(t, newBlockingRunner(), newRecordingPublisher(), Options{})

	_, err := s.Submit(1, "cron", nil)
	assert.Error(t, err)
	assert.False(t, s.IsBusy(1))
}
