package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/mixelka/mailsync/pkg/models"
)

// LogSink writes events to the log
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a log sink
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With("component", "sync-events")}
}

func (s *LogSink) OnProgress(accountID int64, percent int, message string) {
	s.logger.Debug("sync progress", "account_id", accountID, "percent", percent, "message", message)
}

func (s *LogSink) OnCompleted(accountID int64, result models.SyncResult) {
	attrs := []any{
		"account_id", accountID,
		"trigger", result.Trigger,
		"success", result.Success,
		"seen", result.TotalSeen,
		"saved", result.TotalSaved,
		"duration", result.Duration,
	}
	switch {
	case result.Success:
		s.logger.Info("sync finished", attrs...)
	case result.Cancelled:
		s.logger.Info("sync cancelled", attrs...)
	default:
		s.logger.Warn("sync failed", append(attrs, "kind", result.ErrorKind, "message", result.Message)...)
	}
}

// Status is the latest known sync state of an account
type Status struct {
	Percent    int                `json:"percent"`
	Message    string             `json:"message"`
	UpdatedAt  time.Time          `json:"updated_at"`
	LastResult *models.SyncResult `json:"last_result,omitempty"`
}

// Tracker remembers the latest progress and result per account
type Tracker struct {
	mu       sync.RWMutex
	statuses map[int64]*Status
	now      func() time.Time
}

// NewTracker creates an empty tracker
func NewTracker() *Tracker {
	return &Tracker{
		statuses: make(map[int64]*Status),
		now:      time.Now,
	}
}

func (t *Tracker) OnProgress(accountID int64, percent int, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.status(accountID)
	st.Percent = percent
	st.Message = message
	st.UpdatedAt = t.now()
}

func (t *Tracker) OnCompleted(accountID int64, result models.SyncResult) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.status(accountID)
	st.Message = result.Message
	if result.Success {
		st.Percent = 100
	}
	st.UpdatedAt = t.now()
	r := result
	st.LastResult = &r
}

// Status returns a copy of the account status
func (t *Tracker) Status(accountID int64) (Status, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	st, ok := t.statuses[accountID]
	if !ok {
		return Status{}, false
	}
	return *st, true
}

func (t *Tracker) status(accountID int64) *Status {
	st, ok := t.statuses[accountID]
	if !ok {
		st = &Status{}
		t.statuses[accountID] = st
	}
	return st
}
