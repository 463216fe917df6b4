package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"github.com/mixelka/mailsync/internal/formatter"
	"github.com/mixelka/mailsync/pkg/models"
)

const (
	sendTimeout   = 10 * time.Second
	lookupTimeout = 5 * time.Second
	queueSize     = 64
)

// Sender is the part of the Bot API the notifier uses
type Sender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error)
}

// AccountLookup resolves account ids to addresses for the message text
type AccountLookup interface {
	GetAccount(ctx context.Context, id int64) (*models.EmailAccount, error)
}

// Notifier posts sync summaries to a Telegram chat.
// Quiet runs (success with nothing saved, or cancelled) are not posted.
type Notifier struct {
	sender    Sender
	chatID    int64
	topicID   int
	formatter *formatter.TelegramFormatter
	accounts  AccountLookup
	logger    *slog.Logger

	queue     chan notification
	done      chan struct{}
	closeOnce sync.Once
}

type notification struct {
	accountID int64
	result    models.SyncResult
}

// NewNotifier creates a notifier backed by the Bot API
func NewNotifier(token string, chatID int64, topicID int, accounts AccountLookup, logger *slog.Logger, opts ...bot.Option) (*Notifier, error) {
	opts = append([]bot.Option{bot.WithSkipGetMe()}, opts...)
	tgBot, err := bot.New(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return NewNotifierWithSender(tgBot, chatID, topicID, accounts, logger), nil
}

// NewNotifierWithSender creates a notifier with a custom sender
func NewNotifierWithSender(sender Sender, chatID int64, topicID int, accounts AccountLookup, logger *slog.Logger) *Notifier {
	return &Notifier{
		sender:    sender,
		chatID:    chatID,
		topicID:   topicID,
		formatter: formatter.NewTelegramFormatter(),
		accounts:  accounts,
		logger:    logger.With("component", "telegram_notifier"),
		queue:     make(chan notification, queueSize),
		done:      make(chan struct{}),
	}
}

// Start delivers queued notifications until Close is called
func (n *Notifier) Start() {
	defer close(n.done)
	n.logger.Info("starting telegram notifier", "chat_id", n.chatID, "topic_id", n.topicID)

	for note := range n.queue {
		n.deliver(note)
	}
}

// Close stops accepting notifications and waits for the queue to drain
func (n *Notifier) Close(ctx context.Context) error {
	n.closeOnce.Do(func() { close(n.queue) })
	select {
	case <-n.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *Notifier) OnProgress(accountID int64, percent int, message string) {}

// OnCompleted queues a summary. It never blocks the caller.
func (n *Notifier) OnCompleted(accountID int64, result models.SyncResult) {
	if !worthSending(result) {
		return
	}
	select {
	case n.queue <- notification{accountID: accountID, result: result}:
	default:
		n.logger.Warn("notification queue full, dropping", "account_id", accountID)
	}
}

func worthSending(result models.SyncResult) bool {
	if result.Cancelled {
		return false
	}
	return !result.Success || result.TotalSaved > 0
}

func (n *Notifier) deliver(note notification) {
	text := n.formatter.FormatResult(n.accountName(note.accountID), note.result.Trigger, note.result)

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	if _, err := n.sendMessage(ctx, text); err != nil {
		n.logger.Error("failed to send notification", "account_id", note.accountID, "error", err)
		return
	}
	n.logger.Debug("notification sent", "account_id", note.accountID)
}

func (n *Notifier) accountName(id int64) string {
	fallback := "#" + strconv.FormatInt(id, 10)
	if n.accounts == nil {
		return fallback
	}

	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()

	acc, err := n.accounts.GetAccount(ctx, id)
	if err != nil || acc == nil {
		return fallback
	}
	return acc.Email
}

// sendMessage sends a message to the configured chat and topic
func (n *Notifier) sendMessage(ctx context.Context, text string) (*tgmodels.Message, error) {
	params := &bot.SendMessageParams{
		ChatID:    n.chatID,
		Text:      text,
		ParseMode: tgmodels.ParseModeHTML,
	}

	if n.topicID != 0 {
		params.MessageThreadID = n.topicID
	}

	return n.sender.SendMessage(ctx, params)
}
