package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/emersion/go-sasl"

	"github.com/mixelka/mailsync/pkg/models"
)

// XOAuth2 is the SASL mechanism name used by Outlook and Gmail
const XOAuth2 = "XOAUTH2"

var outlookEndpoint = Endpoint{Host: "outlook.office365.com", Port: DefaultTLSPort, TLS: true}

// OAuthAdapter refreshes the access token on every sync and authenticates with XOAUTH2
type OAuthAdapter struct {
	*session
	issuer       TokenIssuer
	username     string
	clientID     string
	refreshToken string
	accessToken  string
}

// NewOAuthAdapter creates an adapter for an Outlook account
func NewOAuthAdapter(account *models.EmailAccount, issuer TokenIssuer, opts Options, logger *slog.Logger) *OAuthAdapter {
	return &OAuthAdapter{
		session:      newSession(outlookEndpoint, opts.withDefaults(), logger.With("email", account.Email)),
		issuer:       issuer,
		username:     account.Email,
		clientID:     account.OAuthClientID,
		refreshToken: account.OAuthRefreshToken,
	}
}

func (a *OAuthAdapter) Connect(ctx context.Context) error {
	return a.connect(ctx)
}

// Authenticate obtains a fresh access token, then runs AUTHENTICATE XOAUTH2
func (a *OAuthAdapter) Authenticate(ctx context.Context) error {
	if a.refreshToken == "" || a.clientID == "" {
		return &AuthError{Op: "refresh token", Err: errors.New("account has no oauth client id or refresh token")}
	}

	token, err := a.issuer.Refresh(ctx, a.clientID, a.refreshToken)
	if err != nil {
		var authErr *AuthError
		if errors.As(err, &authErr) {
			return err
		}
		return &AuthError{Op: "refresh token", Err: err}
	}

	if err := a.authenticate(NewXOAuth2Client(a.username, token)); err != nil {
		return err
	}

	a.accessToken = token
	return nil
}

// AccessToken returns the token used by the last successful Authenticate
func (a *OAuthAdapter) AccessToken() string {
	return a.accessToken
}

func (a *OAuthAdapter) ListNewSince(ctx context.Context, since *time.Time) ([]Handle, error) {
	return a.listNewSince(since)
}

func (a *OAuthAdapter) Fetch(ctx context.Context, h Handle) (*RawMessage, error) {
	return a.fetch(h)
}

func (a *OAuthAdapter) Close() error {
	return a.close()
}

// xoauth2Client implements sasl.Client for XOAUTH2
type xoauth2Client struct {
	username string
	token    string
}

// NewXOAuth2Client returns a SASL client sending user and bearer token in the initial response
func NewXOAuth2Client(username, token string) sasl.Client {
	return &xoauth2Client{username: username, token: token}
}

func (c *xoauth2Client) Start() (mech string, ir []byte, err error) {
	ir = []byte(fmt.Sprintf("user=%s\x01auth=Bearer %s\x01\x01", c.username, c.token))
	return XOAuth2, ir, nil
}

// Next answers the error challenge with an empty response so the server can finish with NO
func (c *xoauth2Client) Next(challenge []byte) ([]byte, error) {
	return []byte{}, nil
}
