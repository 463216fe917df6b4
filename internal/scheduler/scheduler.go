package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mixelka/mailsync/internal/events"
	"github.com/mixelka/mailsync/internal/metrics"
	"github.com/mixelka/mailsync/internal/syncer"
	"github.com/mixelka/mailsync/pkg/models"
)

var (
	// ErrAlreadyProcessing is returned when the account already has a queued or running job
	ErrAlreadyProcessing = errors.New("account is already being processed")
	// ErrQueueFull is returned when the pool queue has no room
	ErrQueueFull = errors.New("sync queue is full")
	// ErrTimeout is returned by Job.Wait when the job is still processing
	ErrTimeout = errors.New("still processing")
	// ErrShuttingDown is returned by Submit after Shutdown
	ErrShuttingDown = errors.New("scheduler is shutting down")
)

// Runner executes one account synchronization
type Runner interface {
	RunSync(ctx context.Context, accountID int64, ctl syncer.Control) models.SyncResult
}

// Publisher accepts job events
type Publisher interface {
	Publish(ev events.Event)
}

// Options size the pools
type Options struct {
	ManualWorkers   int
	RealTimeWorkers int
	QueueSize       int
}

type pool struct {
	trigger models.Trigger
	queue   chan *Job
	wg      sync.WaitGroup
}

// Scheduler runs sync jobs on two bounded worker pools, one for manual checks
// and one for real-time polling, with at most one job per account.
type Scheduler struct {
	runner    Runner
	publisher Publisher
	registry  *registry
	pools     map[models.Trigger]*pool
	logger    *slog.Logger

	// ctx is handed to running jobs and cancelled when Shutdown gives up waiting
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

// New creates a scheduler and starts its workers
func New(runner Runner, publisher Publisher, opts Options, logger *slog.Logger) *Scheduler {
	if opts.ManualWorkers < 1 {
		opts.ManualWorkers = 5
	}
	if opts.RealTimeWorkers < 1 {
		opts.RealTimeWorkers = 5
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = 100
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		runner:    runner,
		publisher: publisher,
		registry:  newRegistry(),
		pools:     make(map[models.Trigger]*pool),
		logger:    logger.With("component", "scheduler"),
		ctx:       ctx,
		cancel:    cancel,
	}

	s.startPool(models.TriggerManual, opts.ManualWorkers, opts.QueueSize)
	s.startPool(models.TriggerRealTime, opts.RealTimeWorkers, opts.QueueSize)

	s.logger.Info("scheduler started",
		"manual_workers", opts.ManualWorkers,
		"realtime_workers", opts.RealTimeWorkers,
		"queue_size", opts.QueueSize,
	)
	return s
}

func (s *Scheduler) startPool(trigger models.Trigger, workers, queueSize int) {
	p := &pool{
		trigger: trigger,
		queue:   make(chan *Job, queueSize),
	}
	s.pools[trigger] = p

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go s.worker(p)
	}
}

// Submit queues a sync of accountID on the pool for trigger. cb, when not nil,
// receives progress updates on the event dispatcher goroutine.
func (s *Scheduler) Submit(accountID int64, trigger models.Trigger, cb events.ProgressFunc) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		metrics.SubmissionsRejected.WithLabelValues("shutting_down").Inc()
		return nil, ErrShuttingDown
	}

	p, ok := s.pools[trigger]
	if !ok {
		return nil, fmt.Errorf("unknown trigger %q", trigger)
	}

	job := newJob(accountID, trigger, cb, s.publisher)
	if !s.registry.tryAcquire(job) {
		metrics.SubmissionsRejected.WithLabelValues("already_processing").Inc()
		return nil, ErrAlreadyProcessing
	}

	select {
	case p.queue <- job:
	default:
		s.registry.release(job)
		metrics.SubmissionsRejected.WithLabelValues("queue_full").Inc()
		s.logger.Warn("sync queue full", "account_id", accountID, "trigger", trigger)
		return nil, ErrQueueFull
	}

	s.logger.Debug("sync job queued", "account_id", accountID, "trigger", trigger, "job_id", job.ID)
	return job, nil
}

// Cancel asks the active job of accountID to stop. It returns false when the account is idle.
func (s *Scheduler) Cancel(accountID int64) bool {
	job := s.registry.get(accountID)
	if job == nil {
		return false
	}
	job.cancel()
	s.logger.Info("sync cancel requested", "account_id", accountID, "job_id", job.ID)
	return true
}

// IsBusy reports whether accountID has a queued or running job
func (s *Scheduler) IsBusy(accountID int64) bool {
	return s.registry.get(accountID) != nil
}

// ActiveJob returns the queued or running job of accountID, or nil
func (s *Scheduler) ActiveJob(accountID int64) *Job {
	return s.registry.get(accountID)
}

// InFlight returns the number of accounts with a job
func (s *Scheduler) InFlight() int {
	return s.registry.len()
}

// Shutdown stops accepting jobs, lets queued jobs run and waits for the
// workers. When ctx ends first, running jobs are cancelled and their
// connections terminated.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for _, p := range s.pools {
		close(p.queue)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for _, p := range s.pools {
			p.wg.Wait()
		}
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("shutdown deadline reached, cancelling running jobs", "in_flight", s.registry.len())
		s.cancel()
		<-done
		return ctx.Err()
	}
}

func (s *Scheduler) worker(p *pool) {
	defer p.wg.Done()

	for job := range p.queue {
		s.run(job)
	}
}

// run executes job. The registry entry is released and the completion event
// emitted even when the runner panics.
func (s *Scheduler) run(job *Job) {
	job.start()
	logger := s.logger.With("account_id", job.AccountID, "job_id", job.ID, "trigger", job.Trigger)
	logger.Debug("sync job started")

	var result models.SyncResult
	defer func() {
		if r := recover(); r != nil {
			logger.Error("sync job panicked", "panic", r)
			result = models.SyncResult{
				Message:   fmt.Sprintf("internal error: %v", r),
				ErrorKind: syncer.KindInternal,
				Duration:  time.Since(job.StartedAt()),
			}
		}

		result.Trigger = job.Trigger
		s.registry.release(job)
		job.finish(result)
		s.record(job, result)

		s.publisher.Publish(events.Event{
			Type:      events.TypeCompleted,
			JobID:     job.ID,
			AccountID: job.AccountID,
			Trigger:   job.Trigger,
			Result:    result,
		})
	}()

	result = s.runner.RunSync(s.ctx, job.AccountID, job)
}

func (s *Scheduler) record(job *Job, result models.SyncResult) {
	outcome := "failed"
	switch {
	case result.Success:
		outcome = "success"
	case result.Cancelled:
		outcome = "cancelled"
	}
	metrics.SyncJobsTotal.WithLabelValues(string(job.Trigger), outcome).Inc()
	metrics.SyncJobDuration.WithLabelValues(string(job.Trigger)).Observe(time.Since(job.StartedAt()).Seconds())
}
