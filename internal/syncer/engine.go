package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mixelka/mailsync/internal/database"
	"github.com/mixelka/mailsync/internal/email"
	"github.com/mixelka/mailsync/pkg/models"
)

// AdapterFactory builds the protocol adapter for an account
type AdapterFactory interface {
	NewAdapter(account *models.EmailAccount) (email.Adapter, error)
}

// Engine runs sync tasks for accounts loaded from the store
type Engine struct {
	store    Store
	adapters AdapterFactory
	parser   Normalizer
	gate     *DedupGate
	logger   *slog.Logger
}

// NewEngine creates an engine
func NewEngine(store Store, adapters AdapterFactory, p Normalizer, assumeNewOnError bool, logger *slog.Logger) *Engine {
	logger = logger.With("component", "syncer")
	return &Engine{
		store:    store,
		adapters: adapters,
		parser:   p,
		gate:     NewDedupGate(store, assumeNewOnError, logger),
		logger:   logger,
	}
}

// RunSync synchronizes one account. It always returns a result; failures are
// reported through Success and ErrorKind.
func (e *Engine) RunSync(ctx context.Context, accountID int64, ctl Control) models.SyncResult {
	start := time.Now()

	account, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		kind := KindInternal
		if errors.Is(err, database.ErrNotFound) {
			kind = KindNotFound
		}
		e.logger.Error("failed to load account", "account_id", accountID, "error", err)
		return models.SyncResult{
			Message:   fmt.Sprintf("failed to load account %d: %v", accountID, err),
			ErrorKind: kind,
			Duration:  time.Since(start),
		}
	}

	adapter, err := e.adapters.NewAdapter(account)
	if err != nil {
		e.logger.Error("failed to create adapter", "account_id", accountID, "error", err)
		return models.SyncResult{
			Message:   err.Error(),
			ErrorKind: KindConfig,
			Duration:  time.Since(start),
		}
	}
	defer func() {
		if err := adapter.Close(); err != nil {
			e.logger.Debug("failed to close adapter", "account_id", accountID, "error", err)
		}
	}()

	task := NewTask(account, adapter, e.store, e.parser, e.gate, ctl, e.logger)
	return task.Run(ctx)
}
