package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mixelka/mailsync/internal/email"
	"github.com/mixelka/mailsync/internal/metrics"
	"github.com/mixelka/mailsync/internal/parser"
	"github.com/mixelka/mailsync/pkg/models"
)

// Progress bands
const (
	progressConnected     = 10
	progressAuthenticated = 20
	progressListed        = 20
	progressDone          = 100
)

// Store is the persistence used by a sync task
type Store interface {
	MessageFinder
	GetAccount(ctx context.Context, id int64) (*models.EmailAccount, error)
	UpdateAccessToken(ctx context.Context, id int64, token string) error
	UpdateWatermark(ctx context.Context, id int64, at time.Time) error
	InsertMessage(ctx context.Context, msg *models.EmailMessage) (int64, bool, error)
}

// Normalizer converts raw messages
type Normalizer interface {
	Normalize(raw []byte, folder string, fallbackDate time.Time) (*models.EmailMessage, error)
}

// Control connects a running task to its job
type Control interface {
	// Cancelled is polled between phases and between messages
	Cancelled() bool
	Progress(percent int, message string)
}

// Task runs one synchronization of one account. A Task is used once.
type Task struct {
	account *models.EmailAccount
	adapter email.Adapter
	store   Store
	parser  Normalizer
	gate    *DedupGate
	ctl     Control
	logger  *slog.Logger
	now     func() time.Time

	state       State
	lastPercent int
	startedAt   time.Time

	seen         int
	saved        int
	fetchSkipped int
	storeSkipped int
}

// NewTask wires a task for account
func NewTask(account *models.EmailAccount, adapter email.Adapter, store Store, p Normalizer, gate *DedupGate, ctl Control, logger *slog.Logger) *Task {
	return &Task{
		account: account,
		adapter: adapter,
		store:   store,
		parser:  p,
		gate:    gate,
		ctl:     ctl,
		logger:  logger.With("account_id", account.ID),
		now:     time.Now,
		state:   StateIdle,
	}
}

// State returns the current state
func (t *Task) State() State {
	return t.state
}

// Run executes the state machine until a terminal state. It does not close the adapter.
func (t *Task) Run(ctx context.Context) models.SyncResult {
	t.startedAt = t.now()

	t.enter(StateConnecting, 0, "connecting")
	if t.cancelled(ctx) {
		return t.cancel()
	}
	if err := t.adapter.Connect(ctx); err != nil {
		return t.fail(ctx, err)
	}
	t.report(progressConnected, "connected")

	if t.cancelled(ctx) {
		return t.cancel()
	}
	t.enter(StateAuthenticating, progressConnected, "authenticating")
	if err := t.adapter.Authenticate(ctx); err != nil {
		return t.fail(ctx, err)
	}
	t.saveAccessToken(ctx)
	t.report(progressAuthenticated, "authenticated")

	if t.cancelled(ctx) {
		return t.cancel()
	}
	t.enter(StateListing, progressAuthenticated, "listing new messages")
	handles, err := t.adapter.ListNewSince(ctx, t.account.LastCheckedAt)
	if err != nil {
		return t.fail(ctx, err)
	}
	total := len(handles)
	t.report(progressListed, fmt.Sprintf("found %d candidate messages", total))

	if total == 0 {
		return t.complete(ctx, "no new mail")
	}

	for i, h := range handles {
		if t.cancelled(ctx) {
			return t.cancel()
		}

		t.enter(StateFetching, messagePercent(i, 0, total), fmt.Sprintf("fetching %d/%d", i+1, total))
		raw, err := t.adapter.Fetch(ctx, h)
		if err != nil {
			if !email.IsProtocolError(err) {
				return t.fail(ctx, err)
			}
			t.fetchSkipped++
			metrics.MessagesSkipped.WithLabelValues("fetch").Inc()
			t.logger.Warn("failed to fetch message, skipping", "uid", h.UID, "error", err)
			continue
		}

		msg, err := t.parser.Normalize(raw.Body, email.InboxFolder, raw.InternalDate)
		if err != nil {
			metrics.MessagesSkipped.WithLabelValues("parse").Inc()
			t.logger.Warn("failed to parse message, skipping", "uid", h.UID, "error", err)
			continue
		}
		msg.AccountID = t.account.ID
		t.seen++
		metrics.MessagesSeen.Inc()

		t.enter(StateSaving, messagePercent(i, 1, total), fmt.Sprintf("saving %d/%d", i+1, total))
		t.save(ctx, h, msg)
	}

	return t.complete(ctx, fmt.Sprintf("%d new of %d messages", t.saved, t.seen))
}

// messagePercent maps sub-step sub (0 fetch, 1 save) of message i onto 20..100
func messagePercent(i, sub, total int) int {
	return progressListed + (progressDone-progressListed)*(2*i+sub)/(2*total)
}

func (t *Task) save(ctx context.Context, h email.Handle, msg *models.EmailMessage) {
	isNew, err := t.gate.IsNew(ctx, msg)
	if err != nil {
		t.storeSkipped++
		metrics.MessagesSkipped.WithLabelValues("store").Inc()
		t.logger.Error("dedup check failed, skipping", "uid", h.UID, "error", err)
		return
	}
	if !isNew {
		metrics.MessagesSkipped.WithLabelValues("duplicate").Inc()
		t.logger.Debug("duplicate message", "uid", h.UID, "subject", msg.Subject)
		return
	}

	id, created, err := t.store.InsertMessage(ctx, msg)
	if err != nil {
		t.storeSkipped++
		metrics.MessagesSkipped.WithLabelValues("store").Inc()
		t.logger.Error("failed to save message, skipping", "uid", h.UID, "error", err)
		return
	}
	if !created {
		metrics.MessagesSkipped.WithLabelValues("duplicate").Inc()
		return
	}

	t.saved++
	metrics.MessagesSaved.Inc()
	t.logger.Debug("message saved", "uid", h.UID, "message_id", id, "attachments", len(msg.Attachments))
}

func (t *Task) saveAccessToken(ctx context.Context) {
	holder, ok := t.adapter.(email.TokenHolder)
	if !ok || holder.AccessToken() == "" {
		return
	}
	if err := t.store.UpdateAccessToken(ctx, t.account.ID, holder.AccessToken()); err != nil {
		t.logger.Warn("failed to store access token", "error", err)
	}
}

func (t *Task) cancelled(ctx context.Context) bool {
	return t.ctl.Cancelled() || ctx.Err() != nil
}

func (t *Task) enter(s State, percent int, message string) {
	t.state = s
	t.report(percent, message)
}

// report never lets the percentage go backwards
func (t *Task) report(percent int, message string) {
	if percent < t.lastPercent {
		percent = t.lastPercent
	}
	t.lastPercent = percent
	t.ctl.Progress(percent, message)
}

func (t *Task) complete(ctx context.Context, message string) models.SyncResult {
	t.report(progressDone, message)
	t.state = StateCompleted

	// Skipped messages would fall behind a newer watermark
	if t.fetchSkipped+t.storeSkipped > 0 {
		t.logger.Warn("watermark not advanced, some messages were skipped",
			"fetch_skipped", t.fetchSkipped,
			"store_skipped", t.storeSkipped,
		)
	} else if err := t.store.UpdateWatermark(context.WithoutCancel(ctx), t.account.ID, t.startedAt); err != nil {
		t.logger.Error("failed to update watermark", "error", err)
	}

	t.logger.Info("sync completed", "seen", t.seen, "saved", t.saved)
	return t.result(true, "", message)
}

// fail reports err, unless the failure was caused by cancellation
func (t *Task) fail(ctx context.Context, err error) models.SyncResult {
	if t.cancelled(ctx) {
		return t.cancel()
	}
	t.state = StateFailed
	kind := ErrorKind(err)
	t.logger.Error("sync failed", "kind", kind, "error", err)
	return t.result(false, kind, err.Error())
}

func (t *Task) cancel() models.SyncResult {
	t.state = StateCancelled
	t.logger.Info("sync cancelled", "seen", t.seen, "saved", t.saved)
	res := t.result(false, KindCancelled, "cancelled")
	res.Cancelled = true
	return res
}

func (t *Task) result(success bool, kind, message string) models.SyncResult {
	return models.SyncResult{
		Success:    success,
		TotalSeen:  t.seen,
		TotalSaved: t.saved,
		Message:    message,
		ErrorKind:  kind,
		Duration:   t.now().Sub(t.startedAt),
	}
}

// ErrorKind classifies a task failure
func ErrorKind(err error) string {
	switch {
	case email.IsConnectionError(err):
		return KindConnection
	case email.IsAuthError(err):
		return KindAuth
	case email.IsProtocolError(err):
		return KindProtocol
	case parser.IsParseError(err):
		return KindProtocol
	default:
		return KindInternal
	}
}
