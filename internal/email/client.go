package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-sasl"
)

var errNotConnected = errors.New("not connected")

// session is the IMAP connection shared by all adapters
type session struct {
	endpoint Endpoint
	opts     Options
	logger   *slog.Logger

	// tlsConfig overrides the default verification, nil in production
	tlsConfig *tls.Config

	mu     sync.Mutex
	client *client.Client
	stop   func() bool
}

func newSession(endpoint Endpoint, opts Options, logger *slog.Logger) *session {
	return &session{
		endpoint: endpoint,
		opts:     opts,
		logger:   logger.With("server", endpoint.Addr()),
	}
}

// connect dials the server. Implicit TLS endpoints use a TLS dial; cleartext
// endpoints are upgraded with STARTTLS when the server offers it.
// The connection is terminated when ctx is cancelled.
func (s *session) connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		return nil
	}

	s.logger.Debug("connecting to IMAP server", "tls", s.endpoint.TLS)

	dialer := &net.Dialer{Timeout: s.opts.DialTimeout}
	var (
		conn net.Conn
		err  error
	)
	if s.endpoint.TLS {
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: s.tlsConfig}
		conn, err = tlsDialer.DialContext(ctx, "tcp", s.endpoint.Addr())
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", s.endpoint.Addr())
	}
	if err != nil {
		return &ConnectionError{Op: "dial", Err: err}
	}

	imapClient, err := client.New(conn)
	if err != nil {
		conn.Close()
		return &ConnectionError{Op: "greeting", Err: err}
	}
	imapClient.Timeout = s.opts.CommandTimeout

	if !s.endpoint.TLS {
		ok, err := imapClient.SupportStartTLS()
		if err != nil {
			imapClient.Terminate()
			return &ConnectionError{Op: "capability", Err: err}
		}
		if ok {
			cfg := s.tlsConfig
			if cfg == nil {
				cfg = &tls.Config{ServerName: s.endpoint.Host}
			}
			if err := imapClient.StartTLS(cfg); err != nil {
				imapClient.Terminate()
				return &ConnectionError{Op: "starttls", Err: err}
			}
		}
	}

	s.client = imapClient
	s.stop = context.AfterFunc(ctx, func() {
		imapClient.Terminate()
	})

	s.logger.Debug("connected to IMAP server")
	return nil
}

func (s *session) login(username, password string) error {
	c, err := s.conn()
	if err != nil {
		return err
	}
	if err := c.Login(username, password); err != nil {
		return s.authFailure("login", err)
	}
	return nil
}

func (s *session) authenticate(auth sasl.Client) error {
	c, err := s.conn()
	if err != nil {
		return err
	}
	if err := c.Authenticate(auth); err != nil {
		return s.authFailure("authenticate", err)
	}
	return nil
}

// authFailure keeps a dropped connection distinct from rejected credentials
func (s *session) authFailure(op string, err error) error {
	if s.connectionLost(err) {
		return &ConnectionError{Op: op, Err: err}
	}
	return &AuthError{Op: op, Err: err}
}

// listNewSince selects INBOX and searches for candidate UIDs
func (s *session) listNewSince(since *time.Time) ([]Handle, error) {
	c, err := s.conn()
	if err != nil {
		return nil, err
	}

	if _, err := c.Select(InboxFolder, true); err != nil {
		return nil, s.classify("select", err)
	}

	criteria := imap.NewSearchCriteria()
	if since != nil {
		criteria.Since = sinceDate(*since)
	}

	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, s.classify("search", err)
	}

	if since == nil && len(uids) > s.opts.FirstRunLimit {
		uids = uids[len(uids)-s.opts.FirstRunLimit:]
	}

	handles := make([]Handle, 0, len(uids))
	for _, uid := range uids {
		handles = append(handles, Handle{UID: uid})
	}
	return handles, nil
}

// sinceDate is the SINCE argument for a watermark. The server compares it
// with the internal date of each message in its own time zone, so the search
// starts a day before the watermark's UTC date.
func sinceDate(watermark time.Time) time.Time {
	d := watermark.UTC().AddDate(0, 0, -1)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
}

// fetch downloads the full message without setting \Seen
func (s *session) fetch(h Handle) (*RawMessage, error) {
	c, err := s.conn()
	if err != nil {
		return nil, err
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(h.UID)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, imap.FetchInternalDate, section.FetchItem()}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)

	go func() {
		done <- c.UidFetch(seqSet, items, messages)
	}()

	var raw *RawMessage
	var readErr error
	for msg := range messages {
		if raw != nil || msg.Uid != h.UID {
			continue
		}
		body := msg.GetBody(section)
		if body == nil {
			readErr = fmt.Errorf("uid %d: server returned no body", h.UID)
			continue
		}
		data, err := io.ReadAll(body)
		if err != nil {
			readErr = fmt.Errorf("uid %d: failed to read body: %w", h.UID, err)
			continue
		}
		raw = &RawMessage{UID: msg.Uid, InternalDate: msg.InternalDate, Body: data}
	}

	if err := <-done; err != nil {
		return nil, s.classify("fetch", err)
	}
	if raw == nil {
		if readErr == nil {
			readErr = fmt.Errorf("uid %d: message not found", h.UID)
		}
		return nil, &ProtocolError{Op: "fetch", Err: readErr}
	}
	return raw, nil
}

// close logs out, falling back to Terminate when the server does not answer
func (s *session) close() error {
	s.mu.Lock()
	c := s.client
	stop := s.stop
	s.client = nil
	s.stop = nil
	s.mu.Unlock()

	if c == nil {
		return nil
	}
	if stop != nil {
		stop()
	}

	done := make(chan error, 1)
	go func() {
		done <- c.Logout()
	}()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, client.ErrAlreadyLoggedOut) {
			c.Terminate()
			return fmt.Errorf("failed to logout: %w", err)
		}
		return nil
	case <-time.After(2 * time.Second):
		// Force close if logout takes too long
		c.Terminate()
		return nil
	}
}

func (s *session) conn() (*client.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil, &ConnectionError{Op: "session", Err: errNotConnected}
	}
	return s.client, nil
}

// classify maps a command failure to the error taxonomy
func (s *session) classify(op string, err error) error {
	if s.connectionLost(err) {
		return &ConnectionError{Op: op, Err: err}
	}
	return &ProtocolError{Op: op, Err: err}
}

func (s *session) connectionLost(err error) bool {
	var netErr net.Error
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.As(err, &netErr) {
		return true
	}

	s.mu.Lock()
	c := s.client
	s.mu.Unlock()
	return c == nil || c.State() == imap.LogoutState
}
