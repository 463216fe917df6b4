package syncer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mixelka/mailsync/internal/email"
	"github.com/mixelka/mailsync/internal/parser"
	"github.com/mixelka/mailsync/pkg/models"
)

var baseDate = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func threeMessageAdapter() *fakeAdapter {
	a := newFakeAdapter()
	a.add(1, rawMessage("alice@example.com", "one", baseDate))
	a.add(2, rawMessage("bob@example.com", "two", baseDate.Add(time.Minute)))
	a.add(3, rawMessage("carol@example.com", "three", baseDate.Add(2*time.Minute)))
	return a
}

func newAccount(id int64) *models.EmailAccount {
	return &models.EmailAccount{ID: id, Email: "user@example.com", ProtocolKind: models.ProtocolIMAP}
}

func runTask(t *testing.T, store *memStore, accountID int64, adapter email.Adapter, ctl *recorder) (*Task, models.SyncResult) {
	t.Helper()

	account, err := store.GetAccount(context.Background(), accountID)
	require.NoError(t, err)

	task := NewTask(account, adapter, store, parser.New(), NewDedupGate(store, false, testLogger()), ctl, testLogger())
	return task, task.Run(context.Background())
}

func assertMonotonic(t *testing.T, percents []int) {
	t.Helper()
	for i := 1; i < len(percents); i++ {
		assert.GreaterOrEqual(t, percents[i], percents[i-1], "progress went backwards at %d: %v", i, percents)
	}
}

func TestTask_FirstSyncSavesEverything(t *testing.T) {
	store := newMemStore(newAccount(1))
	adapter := threeMessageAdapter()
	ctl := &recorder{}

	before := time.Now()
	task, res := runTask(t, store, 1, adapter, ctl)

	assert.True(t, res.Success)
	assert.Equal(t, 3, res.TotalSeen)
	assert.Equal(t, 3, res.TotalSaved)
	assert.Empty(t, res.ErrorKind)
	assert.Equal(t, StateCompleted, task.State())
	assert.Nil(t, adapter.since, "first sync lists without a watermark")

	wm := store.watermark(1)
	require.NotNil(t, wm)
	assert.False(t, wm.Before(before), "watermark is the task start time")
	assert.False(t, wm.After(time.Now()))

	require.NotEmpty(t, ctl.percents)
	assert.Equal(t, 0, ctl.percents[0])
	assert.Equal(t, 100, ctl.percents[len(ctl.percents)-1])
	assert.Contains(t, ctl.percents, 10)
	assert.Contains(t, ctl.percents, 20)
	assertMonotonic(t, ctl.percents)
}

func TestTask_RerunIsIdempotent(t *testing.T) {
	store := newMemStore(newAccount(1))

	_, first := runTask(t, store, 1, threeMessageAdapter(), &recorder{})
	require.Equal(t, 3, first.TotalSaved)
	firstWatermark := *store.watermark(1)

	adapter := threeMessageAdapter()
	_, second := runTask(t, store, 1, adapter, &recorder{})

	assert.True(t, second.Success)
	assert.Equal(t, 3, second.TotalSeen)
	assert.Equal(t, 0, second.TotalSaved)
	assert.Equal(t, 3, store.count())

	require.NotNil(t, adapter.since, "second sync searches since the watermark")
	assert.True(t, adapter.since.Equal(firstWatermark))
	assert.False(t, store.watermark(1).Before(firstWatermark))
}

func TestTask_AuthFailureLeavesWatermark(t *testing.T) {
	wm := baseDate
	acc := newAccount(1)
	acc.LastCheckedAt = &wm
	store := newMemStore(acc)

	adapter := threeMessageAdapter()
	adapter.authErr = &email.AuthError{Op: "refresh token", Err: errors.New("invalid_grant")}
	ctl := &recorder{}

	task, res := runTask(t, store, 1, adapter, ctl)

	assert.False(t, res.Success)
	assert.Equal(t, KindAuth, res.ErrorKind)
	assert.Contains(t, res.Message, "invalid_grant")
	assert.Equal(t, StateFailed, task.State())
	assert.True(t, store.watermark(1).Equal(wm))
	assert.Empty(t, store.watermarks)
	assert.Empty(t, store.tokens)
	assert.Empty(t, adapter.fetched)
	assertMonotonic(t, ctl.percents)
}

func TestTask_ConnectFailure(t *testing.T) {
	store := newMemStore(newAccount(1))
	adapter := threeMessageAdapter()
	adapter.connectErr = &email.ConnectionError{Op: "dial", Err: errors.New("refused")}

	task, res := runTask(t, store, 1, adapter, &recorder{})

	assert.False(t, res.Success)
	assert.Equal(t, KindConnection, res.ErrorKind)
	assert.Equal(t, StateFailed, task.State())
	assert.Nil(t, store.watermark(1))
}

func TestTask_ListFailure(t *testing.T) {
	store := newMemStore(newAccount(1))
	adapter := threeMessageAdapter()
	adapter.listErr = &email.ProtocolError{Op: "search", Err: errors.New("BAD")}

	_, res := runTask(t, store, 1, adapter, &recorder{})

	assert.False(t, res.Success)
	assert.Equal(t, KindProtocol, res.ErrorKind)
	assert.Nil(t, store.watermark(1))
}

func TestTask_NoNewMailAdvancesWatermark(t *testing.T) {
	store := newMemStore(newAccount(1))
	ctl := &recorder{}

	_, res := runTask(t, store, 1, newFakeAdapter(), ctl)

	assert.True(t, res.Success)
	assert.Equal(t, "no new mail", res.Message)
	assert.Zero(t, res.TotalSeen)
	assert.NotNil(t, store.watermark(1))
	assert.Equal(t, 100, ctl.percents[len(ctl.percents)-1])
}

func TestTask_ParseFailureIsIsolated(t *testing.T) {
	store := newMemStore(newAccount(1))
	adapter := threeMessageAdapter()
	adapter.messages[2] = []byte("garbage without headers")

	_, res := runTask(t, store, 1, adapter, &recorder{})

	assert.True(t, res.Success)
	assert.Equal(t, 2, res.TotalSeen)
	assert.Equal(t, 2, res.TotalSaved)
	assert.Equal(t, []uint32{1, 2, 3}, adapter.fetched)
	assert.NotNil(t, store.watermark(1), "parse failures do not hold the watermark back")
}

func TestTask_FetchProtocolErrorSkipsMessage(t *testing.T) {
	store := newMemStore(newAccount(1))
	adapter := threeMessageAdapter()
	adapter.fetchErrs[1] = &email.ProtocolError{Op: "fetch", Err: errors.New("NO")}

	_, res := runTask(t, store, 1, adapter, &recorder{})

	assert.True(t, res.Success)
	assert.Equal(t, 2, res.TotalSeen)
	assert.Equal(t, 2, res.TotalSaved)
	assert.Nil(t, store.watermark(1), "a skipped fetch keeps the watermark")
}

func TestTask_FetchConnectionErrorFails(t *testing.T) {
	store := newMemStore(newAccount(1))
	adapter := threeMessageAdapter()
	adapter.fetchErrs[2] = &email.ConnectionError{Op: "fetch", Err: errors.New("EOF")}

	task, res := runTask(t, store, 1, adapter, &recorder{})

	assert.False(t, res.Success)
	assert.Equal(t, KindConnection, res.ErrorKind)
	assert.Equal(t, 1, res.TotalSeen)
	assert.Equal(t, 1, res.TotalSaved)
	assert.Equal(t, StateFailed, task.State())
	assert.Nil(t, store.watermark(1))
}

func TestTask_StoreErrorIsIsolated(t *testing.T) {
	store := newMemStore(newAccount(1))
	store.insertErr = func(msg *models.EmailMessage) error {
		if msg.Subject == "two" {
			return errStoreDown
		}
		return nil
	}

	_, res := runTask(t, store, 1, threeMessageAdapter(), &recorder{})

	assert.True(t, res.Success)
	assert.Equal(t, 3, res.TotalSeen)
	assert.Equal(t, 2, res.TotalSaved)
	assert.Nil(t, store.watermark(1), "store failures keep the watermark")
}

func TestTask_DedupLookupError(t *testing.T) {
	t.Run("skip by default", func(t *testing.T) {
		store := newMemStore(newAccount(1))
		store.findErr = errStoreDown

		_, res := runTask(t, store, 1, threeMessageAdapter(), &recorder{})

		assert.True(t, res.Success)
		assert.Equal(t, 3, res.TotalSeen)
		assert.Zero(t, res.TotalSaved)
		assert.Zero(t, store.count())
	})

	t.Run("assume new", func(t *testing.T) {
		store := newMemStore(newAccount(1))
		store.findErr = errStoreDown
		account, err := store.GetAccount(context.Background(), 1)
		require.NoError(t, err)

		gate := NewDedupGate(store, true, testLogger())
		task := NewTask(account, threeMessageAdapter(), store, parser.New(), gate, &recorder{}, testLogger())
		res := task.Run(context.Background())

		assert.True(t, res.Success)
		assert.Equal(t, 3, res.TotalSaved)
	})
}

func TestTask_SameKeyCollapses(t *testing.T) {
	store := newMemStore(newAccount(1))
	adapter := newFakeAdapter()
	adapter.add(1, rawMessage("digest@example.com", "Daily digest", baseDate))
	adapter.add(2, rawMessage("digest@example.com", "Daily digest", baseDate))

	_, res := runTask(t, store, 1, adapter, &recorder{})

	assert.Equal(t, 2, res.TotalSeen)
	assert.Equal(t, 1, res.TotalSaved)
}

func TestTask_CancelBetweenMessages(t *testing.T) {
	store := newMemStore(newAccount(1))
	adapter := threeMessageAdapter()
	ctl := &recorder{}
	adapter.onFetch = func(uid uint32) {
		if uid == 2 {
			ctl.setCancel()
		}
	}

	task, res := runTask(t, store, 1, adapter, ctl)

	assert.False(t, res.Success)
	assert.True(t, res.Cancelled)
	assert.Equal(t, KindCancelled, res.ErrorKind)
	assert.Equal(t, StateCancelled, task.State())
	assert.Equal(t, []uint32{1, 2}, adapter.fetched)
	assert.Equal(t, 2, res.TotalSaved)
	assert.Nil(t, store.watermark(1))
}

func TestTask_CancelBeforeConnect(t *testing.T) {
	store := newMemStore(newAccount(1))
	adapter := threeMessageAdapter()
	ctl := &recorder{cancel: true}

	_, res := runTask(t, store, 1, adapter, ctl)

	assert.True(t, res.Cancelled)
	assert.False(t, adapter.connected)
}

func TestTask_ContextCancelledCountsAsCancel(t *testing.T) {
	store := newMemStore(newAccount(1))
	account, err := store.GetAccount(context.Background(), 1)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	adapter := threeMessageAdapter()
	adapter.onFetch = func(uid uint32) { cancel() }
	adapter.fetchErrs[1] = &email.ConnectionError{Op: "fetch", Err: errors.New("closed")}

	task := NewTask(account, adapter, store, parser.New(), NewDedupGate(store, false, testLogger()), &recorder{}, testLogger())
	res := task.Run(ctx)

	assert.True(t, res.Cancelled)
	assert.Equal(t, StateCancelled, task.State())
}

func TestTask_StoresRefreshedAccessToken(t *testing.T) {
	store := newMemStore(newAccount(1))
	adapter := tokenAdapter{threeMessageAdapter()}
	adapter.token = "fresh-token"

	_, res := runTask(t, store, 1, adapter, &recorder{})

	assert.True(t, res.Success)
	assert.Equal(t, []string{"fresh-token"}, store.tokens)
}

func TestMessagePercent(t *testing.T) {
	assert.Equal(t, 20, messagePercent(0, 0, 4))
	assert.Equal(t, 30, messagePercent(0, 1, 4))
	assert.Equal(t, 90, messagePercent(3, 1, 4))
	assert.Equal(t, 60, messagePercent(0, 1, 1))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "authenticating", StateAuthenticating.String())
	assert.True(t, StateCancelled.Terminal())
	assert.False(t, StateSaving.Terminal())
	assert.Equal(t, "unknown", State(99).String())
}
