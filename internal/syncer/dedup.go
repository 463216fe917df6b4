package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mixelka/mailsync/internal/database"
	"github.com/mixelka/mailsync/pkg/models"
)

// MessageFinder looks up stored messages by dedup key
type MessageFinder interface {
	FindMessageByDedupKey(ctx context.Context, key models.DedupKey) (*models.EmailMessage, error)
}

// DedupGate decides whether a normalized message still has to be stored
type DedupGate struct {
	finder           MessageFinder
	assumeNewOnError bool
	logger           *slog.Logger
}

// NewDedupGate creates a gate. With assumeNewOnError a failed lookup lets the
// message through and the store's unique key settles it.
func NewDedupGate(finder MessageFinder, assumeNewOnError bool, logger *slog.Logger) *DedupGate {
	return &DedupGate{
		finder:           finder,
		assumeNewOnError: assumeNewOnError,
		logger:           logger,
	}
}

// IsNew reports whether no message with the same dedup key is stored.
// A lookup error is returned unless the gate assumes new on error.
func (g *DedupGate) IsNew(ctx context.Context, msg *models.EmailMessage) (bool, error) {
	_, err := g.finder.FindMessageByDedupKey(ctx, msg.DedupKey())
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, database.ErrNotFound):
		return true, nil
	case g.assumeNewOnError:
		g.logger.Warn("dedup lookup failed, treating message as new",
			"account_id", msg.AccountID,
			"subject", msg.Subject,
			"error", err,
		)
		return true, nil
	default:
		return false, fmt.Errorf("failed to check duplicate: %w", err)
	}
}
