package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/mixelka/mailsync/internal/database"
	"github.com/mixelka/mailsync/internal/email"
	"github.com/mixelka/mailsync/internal/parser"
	"github.com/mixelka/mailsync/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeAdapter serves raw messages keyed by UID
type fakeAdapter struct {
	connectErr error
	authErr    error
	listErr    error
	fetchErrs  map[uint32]error
	token      string

	uids     []uint32
	messages map[uint32][]byte

	// onFetch runs before each fetch
	onFetch func(uid uint32)

	mu        sync.Mutex
	since     *time.Time
	fetched   []uint32
	closed    bool
	connected bool
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		fetchErrs: map[uint32]error{},
		messages:  map[uint32][]byte{},
	}
}

func (a *fakeAdapter) add(uid uint32, raw string) {
	a.uids = append(a.uids, uid)
	a.messages[uid] = []byte(raw)
}

func (a *fakeAdapter) Connect(ctx context.Context) error {
	if a.connectErr != nil {
		return a.connectErr
	}
	a.connected = true
	return nil
}

func (a *fakeAdapter) Authenticate(ctx context.Context) error {
	return a.authErr
}

func (a *fakeAdapter) ListNewSince(ctx context.Context, since *time.Time) ([]email.Handle, error) {
	a.mu.Lock()
	a.since = since
	a.mu.Unlock()
	if a.listErr != nil {
		return nil, a.listErr
	}
	handles := make([]email.Handle, 0, len(a.uids))
	for _, uid := range a.uids {
		handles = append(handles, email.Handle{UID: uid})
	}
	return handles, nil
}

func (a *fakeAdapter) Fetch(ctx context.Context, h email.Handle) (*email.RawMessage, error) {
	if a.onFetch != nil {
		a.onFetch(h.UID)
	}
	a.mu.Lock()
	a.fetched = append(a.fetched, h.UID)
	a.mu.Unlock()
	if err := a.fetchErrs[h.UID]; err != nil {
		return nil, err
	}
	return &email.RawMessage{UID: h.UID, InternalDate: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC), Body: a.messages[h.UID]}, nil
}

func (a *fakeAdapter) Close() error {
	a.closed = true
	return nil
}

// tokenAdapter also exposes a refreshed access token
type tokenAdapter struct {
	*fakeAdapter
}

func (a tokenAdapter) AccessToken() string { return a.token }

type fakeFactory struct {
	adapter email.Adapter
	err     error
}

func (f *fakeFactory) NewAdapter(account *models.EmailAccount) (email.Adapter, error) {
	return f.adapter, f.err
}

// memStore is an in-memory Store with optional failure injection
type memStore struct {
	mu         sync.Mutex
	accounts   map[int64]*models.EmailAccount
	messages   map[models.DedupKey]*models.EmailMessage
	nextID     int64
	findErr    error
	insertErr  func(msg *models.EmailMessage) error
	tokens     []string
	watermarks []time.Time
}

func newMemStore(accounts ...*models.EmailAccount) *memStore {
	s := &memStore{
		accounts: map[int64]*models.EmailAccount{},
		messages: map[models.DedupKey]*models.EmailMessage{},
	}
	for _, a := range accounts {
		s.accounts[a.ID] = a
	}
	return s
}

func (s *memStore) GetAccount(ctx context.Context, id int64) (*models.EmailAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *memStore) UpdateAccessToken(ctx context.Context, id int64, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = append(s.tokens, token)
	s.accounts[id].OAuthAccessToken = token
	return nil
}

func (s *memStore) UpdateWatermark(ctx context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watermarks = append(s.watermarks, at)
	a := s.accounts[id]
	if a.LastCheckedAt == nil || a.LastCheckedAt.Before(at) {
		a.LastCheckedAt = &at
	}
	return nil
}

func (s *memStore) FindMessageByDedupKey(ctx context.Context, key models.DedupKey) (*models.EmailMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	m, ok := s.messages[key]
	if !ok {
		return nil, database.ErrNotFound
	}
	return m, nil
}

func (s *memStore) InsertMessage(ctx context.Context, msg *models.EmailMessage) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		if err := s.insertErr(msg); err != nil {
			return 0, false, err
		}
	}
	key := msg.DedupKey()
	if _, ok := s.messages[key]; ok {
		return 0, false, nil
	}
	s.nextID++
	cp := *msg
	cp.ID = s.nextID
	s.messages[key] = &cp
	return cp.ID, true, nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func (s *memStore) watermark(id int64) *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accounts[id].LastCheckedAt
}

// recorder is a Control that records progress
type recorder struct {
	mu       sync.Mutex
	percents []int
	messages []string
	cancel   bool
}

func (r *recorder) Cancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancel
}

func (r *recorder) Progress(percent int, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.percents = append(r.percents, percent)
	r.messages = append(r.messages, message)
}

func (r *recorder) setCancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancel = true
}

func rawMessage(sender, subject string, date time.Time) string {
	return fmt.Sprintf("From: %s\r\nSubject: %s\r\nDate: %s\r\nContent-Type: text/plain\r\n\r\nbody of %s\r\n",
		sender, subject, date.Format(time.RFC1123Z), subject)
}

var errStoreDown = errors.New("store unavailable")

func newTestEngine(store *memStore, adapter email.Adapter) *Engine {
	return NewEngine(store, &fakeFactory{adapter: adapter}, parser.New(), false, testLogger())
}
