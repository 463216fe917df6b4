package email

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mixelka/mailsync/pkg/models"
)

// InboxFolder is the only folder synchronized
const InboxFolder = "INBOX"

// Handle identifies a message on the server
type Handle struct {
	UID uint32
}

// RawMessage is a fetched RFC 5322 message
type RawMessage struct {
	UID          uint32
	InternalDate time.Time
	Body         []byte
}

// Adapter is one protocol-specific mailbox session.
// Calls are made from a single goroutine in the order
// Connect, Authenticate, ListNewSince, Fetch..., Close.
type Adapter interface {
	Connect(ctx context.Context) error
	Authenticate(ctx context.Context) error
	// ListNewSince returns candidate handles in server order.
	// A nil watermark lists the most recent messages up to the first-run limit.
	ListNewSince(ctx context.Context, since *time.Time) ([]Handle, error)
	Fetch(ctx context.Context, h Handle) (*RawMessage, error)
	Close() error
}

// TokenHolder is implemented by adapters that obtain a fresh access token during Authenticate
type TokenHolder interface {
	AccessToken() string
}

// TokenIssuer exchanges a refresh token for an access token
type TokenIssuer interface {
	Refresh(ctx context.Context, clientID, refreshToken string) (string, error)
}

// Options tune every adapter
type Options struct {
	DialTimeout    time.Duration
	CommandTimeout time.Duration
	FirstRunLimit  int
}

func (o Options) withDefaults() Options {
	if o.DialTimeout <= 0 {
		o.DialTimeout = 30 * time.Second
	}
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = 60 * time.Second
	}
	if o.FirstRunLimit <= 0 {
		o.FirstRunLimit = 100
	}
	return o
}

// Factory builds adapters for accounts
type Factory struct {
	Options Options
	Issuer  TokenIssuer
	Logger  *slog.Logger
}

// NewAdapter returns the adapter matching the account protocol kind
func (f *Factory) NewAdapter(account *models.EmailAccount) (Adapter, error) {
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}
	opts := f.Options.withDefaults()

	switch account.ProtocolKind {
	case models.ProtocolIMAP, "":
		a, err := NewGenericAdapter(account, opts, logger)
		if err != nil {
			return nil, err
		}
		return a, nil
	case models.ProtocolGmail, models.ProtocolQQ:
		a, err := NewPresetAdapter(account, opts, logger)
		if err != nil {
			return nil, err
		}
		return a, nil
	case models.ProtocolOutlook:
		if f.Issuer == nil {
			return nil, fmt.Errorf("no token issuer configured for %s accounts", account.ProtocolKind)
		}
		return NewOAuthAdapter(account, f.Issuer, opts, logger), nil
	default:
		return nil, fmt.Errorf("unsupported protocol kind %q", account.ProtocolKind)
	}
}
