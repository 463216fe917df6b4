package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/mixelka/mailsync/internal/events"
	"github.com/mixelka/mailsync/internal/metrics"
	"github.com/mixelka/mailsync/internal/scheduler"
	"github.com/mixelka/mailsync/pkg/models"
)

// MinInterval is the shortest allowed check interval
const MinInterval = 30 * time.Second

// AccountSource lists accounts by their real-time flag
type AccountSource interface {
	GetAccountsFlagged(ctx context.Context, realTime bool) ([]*models.EmailAccount, error)
}

// Submitter queues sync jobs
type Submitter interface {
	Submit(accountID int64, trigger models.Trigger, cb events.ProgressFunc) (*scheduler.Job, error)
}

// Poller periodically submits real-time syncs for flagged accounts
type Poller struct {
	accounts  AccountSource
	submitter Submitter
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	running  bool
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}

	// lastSubmitted covers accounts that have no watermark yet.
	// Only the poller goroutine touches it.
	lastSubmitted map[int64]time.Time
}

// New creates a stopped poller
func New(accounts AccountSource, submitter Submitter, logger *slog.Logger) *Poller {
	return &Poller{
		accounts:      accounts,
		submitter:     submitter,
		logger:        logger.With("component", "poller"),
		now:           time.Now,
		lastSubmitted: make(map[int64]time.Time),
	}
}

// Start launches the polling loop. It returns false if the poller is already running.
// interval is raised to MinInterval when shorter.
func (p *Poller) Start(interval time.Duration) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return false
	}
	if interval < MinInterval {
		interval = MinInterval
	}

	p.running = true
	p.interval = interval
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})

	go p.loop(interval, p.stopCh, p.doneCh)

	p.logger.Info("real-time polling started", "interval", interval)
	return true
}

// Stop ends the polling loop and waits for the current cycle to finish.
// It returns false if the poller is not running.
func (p *Poller) Stop() bool {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return false
	}
	p.running = false
	stopCh, doneCh := p.stopCh, p.doneCh
	p.mu.Unlock()

	close(stopCh)
	<-doneCh

	p.logger.Info("real-time polling stopped")
	return true
}

// Running reports whether the loop is active
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Interval returns the effective interval of the running loop
func (p *Poller) Interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interval
}

func (p *Poller) loop(interval time.Duration, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		p.runCycle(ctx, interval)

		select {
		case <-stopCh:
			return
		case <-ticker.C:
		}
	}
}

// runCycle submits every flagged account that is due
func (p *Poller) runCycle(ctx context.Context, interval time.Duration) {
	metrics.PollerCycles.Inc()

	accounts, err := p.accounts.GetAccountsFlagged(ctx, true)
	if err != nil {
		p.logger.Error("failed to load real-time accounts", "error", err)
		return
	}

	now := p.now()
	for _, acc := range accounts {
		if ctx.Err() != nil {
			return
		}
		p.checkAccount(acc, now, interval)
	}
}

func (p *Poller) checkAccount(acc *models.EmailAccount, now time.Time, interval time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			metrics.PollerSubmissions.WithLabelValues("error").Inc()
			p.logger.Error("real-time check panicked", "account_id", acc.ID, "panic", r)
		}
	}()

	if !p.shouldSubmit(acc, now, interval) {
		metrics.PollerSubmissions.WithLabelValues("skipped").Inc()
		return
	}

	_, err := p.submitter.Submit(acc.ID, models.TriggerRealTime, nil)
	switch {
	case err == nil:
		p.lastSubmitted[acc.ID] = now
		metrics.PollerSubmissions.WithLabelValues("submitted").Inc()
		p.logger.Debug("real-time sync submitted", "account_id", acc.ID)
	case errors.Is(err, scheduler.ErrAlreadyProcessing):
		metrics.PollerSubmissions.WithLabelValues("busy").Inc()
	default:
		metrics.PollerSubmissions.WithLabelValues("error").Inc()
		p.logger.Warn("failed to submit real-time sync", "account_id", acc.ID, "error", err)
	}
}

// shouldSubmit skips accounts checked less than half an interval ago
func (p *Poller) shouldSubmit(acc *models.EmailAccount, now time.Time, interval time.Duration) bool {
	var last time.Time
	if acc.LastCheckedAt != nil {
		last = *acc.LastCheckedAt
	} else if t, ok := p.lastSubmitted[acc.ID]; ok {
		last = t
	}
	if last.IsZero() {
		return true
	}
	return now.Sub(last) >= interval/2
}
