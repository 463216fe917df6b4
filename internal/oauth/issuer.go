package oauth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// ErrEmptyAccessToken is returned when the token endpoint answers without an access token
var ErrEmptyAccessToken = errors.New("token endpoint returned no access token")

// Issuer refreshes OAuth2 access tokens with the refresh_token grant
type Issuer struct {
	tokenURL   string
	scopes     []string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewIssuer creates an issuer for a token endpoint
func NewIssuer(tokenURL string, scopes []string, logger *slog.Logger) *Issuer {
	httpClient := &http.Client{Timeout: 30 * time.Second}
	if len(scopes) > 0 {
		httpClient.Transport = &scopeTransport{
			base:  http.DefaultTransport,
			scope: strings.Join(scopes, " "),
		}
	}
	return &Issuer{
		tokenURL:   tokenURL,
		scopes:     scopes,
		httpClient: httpClient,
		logger:     logger.With("component", "oauth"),
	}
}

// Refresh exchanges refreshToken for a new access token. The client id and
// the configured scopes are sent in the form body; public clients have no secret.
func (i *Issuer) Refresh(ctx context.Context, clientID, refreshToken string) (string, error) {
	cfg := &oauth2.Config{
		ClientID: clientID,
		Endpoint: oauth2.Endpoint{
			TokenURL:  i.tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		Scopes: i.scopes,
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, i.httpClient)
	token, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.ErrorCode != "" {
			return "", fmt.Errorf("token refresh rejected: %s: %s", retrieveErr.ErrorCode, retrieveErr.ErrorDescription)
		}
		return "", fmt.Errorf("failed to refresh token: %w", err)
	}

	if token.AccessToken == "" {
		return "", ErrEmptyAccessToken
	}

	i.logger.Debug("access token refreshed", "client_id", clientID, "expiry", token.Expiry)
	return token.AccessToken, nil
}

// scopeTransport adds the scope parameter to token requests.
// oauth2 leaves Config.Scopes out of refresh_token grants, while Microsoft
// issues a token for the scope named in the refresh request.
type scopeTransport struct {
	base  http.RoundTripper
	scope string
}

func (t *scopeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Body == nil || req.Method != http.MethodPost {
		return t.base.RoundTrip(req)
	}

	data, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read token request: %w", err)
	}

	form, err := url.ParseQuery(string(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token request: %w", err)
	}
	if form.Get("scope") == "" {
		form.Set("scope", t.scope)
	}
	encoded := form.Encode()

	out := req.Clone(req.Context())
	out.Body = io.NopCloser(strings.NewReader(encoded))
	out.ContentLength = int64(len(encoded))
	out.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(encoded)), nil
	}
	return t.base.RoundTrip(out)
}
