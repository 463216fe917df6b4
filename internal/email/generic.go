package email

import (
	"context"
	"log/slog"
	"time"

	"github.com/mixelka/mailsync/pkg/models"
)

// GenericAdapter logs in with the stored address and password
type GenericAdapter struct {
	*session
	username string
	password string
}

// NewGenericAdapter resolves the endpoint from the account, falling back to the domain table
func NewGenericAdapter(account *models.EmailAccount, opts Options, logger *slog.Logger) (*GenericAdapter, error) {
	endpoint, err := endpointFor(account)
	if err != nil {
		return nil, err
	}

	return &GenericAdapter{
		session:  newSession(endpoint, opts.withDefaults(), logger.With("email", account.Email)),
		username: account.Email,
		password: account.Password,
	}, nil
}

func endpointFor(account *models.EmailAccount) (Endpoint, error) {
	if account.IMAPServer == "" {
		return ResolveIMAPServer(account.Email)
	}

	endpoint := Endpoint{Host: account.IMAPServer, Port: account.IMAPPort, TLS: account.UseTLS}
	if endpoint.Port == 0 {
		endpoint.Port = DefaultPlainPort
		if endpoint.TLS {
			endpoint.Port = DefaultTLSPort
		}
	}
	return endpoint, nil
}

func (a *GenericAdapter) Connect(ctx context.Context) error {
	return a.connect(ctx)
}

func (a *GenericAdapter) Authenticate(ctx context.Context) error {
	return a.login(a.username, a.password)
}

func (a *GenericAdapter) ListNewSince(ctx context.Context, since *time.Time) ([]Handle, error) {
	return a.listNewSince(since)
}

func (a *GenericAdapter) Fetch(ctx context.Context, h Handle) (*RawMessage, error) {
	return a.fetch(h)
}

func (a *GenericAdapter) Close() error {
	return a.close()
}
