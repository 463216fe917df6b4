package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newControlServer(t *testing.T, handler http.HandlerFunc) *controlClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return newControlClient(strings.TrimPrefix(srv.URL, "http://"))
}

func writeBody(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func TestRemoteCheck_Finished(t *testing.T) {
	c := newControlServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/accounts/7/check", r.URL.Path)
		writeBody(w, http.StatusOK, `{"success":true,"total_seen":4,"total_saved":1,"trigger":"manual"}`)
	})

	var out bytes.Buffer
	require.NoError(t, remoteCheck(context.Background(), c, 7, &out))
	assert.Contains(t, out.String(), "account 7: ok")
	assert.Contains(t, out.String(), "saved:    1")
}

func TestRemoteCheck_StillRunning(t *testing.T) {
	c := newControlServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeBody(w, http.StatusAccepted, `{"status":"processing","job_id":"job-1"}`)
	})

	var out bytes.Buffer
	require.NoError(t, remoteCheck(context.Background(), c, 7, &out))
	assert.Equal(t, "account 7: still running as job job-1\n", out.String())
}

func TestRemoteCheck_AlreadyProcessing(t *testing.T) {
	c := newControlServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeBody(w, http.StatusConflict, `{"error":"account is already being processed"}`)
	})

	err := remoteCheck(context.Background(), c, 7, io.Discard)
	var se *statusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusConflict, se.Status)
	assert.Contains(t, se.Message, "already being processed")
}

func TestRemoteCheck_FailedSync(t *testing.T) {
	c := newControlServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeBody(w, http.StatusOK, `{"success":false,"error_kind":"auth","message":"login rejected"}`)
	})

	var out bytes.Buffer
	err := remoteCheck(context.Background(), c, 3, &out)
	assert.ErrorContains(t, err, "sync of account 3 failed")
	assert.Contains(t, out.String(), "failed (auth)")
}

func TestControlClient_DeleteAccount(t *testing.T) {
	var busy atomic.Bool
	busy.Store(true)
	c := newControlServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/accounts/5", r.URL.Path)
		if busy.Load() {
			writeBody(w, http.StatusConflict, `{"error":"sync in progress, cancel it first"}`)
			return
		}
		writeBody(w, http.StatusOK, `{"status":"deleted"}`)
	})

	err := c.DeleteAccount(context.Background(), 5)
	assert.ErrorContains(t, err, "sync in progress")

	busy.Store(false)
	assert.NoError(t, c.DeleteAccount(context.Background(), 5))
}

func TestControlClient_ErrorWithoutBody(t *testing.T) {
	c := newControlServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	err := c.DeleteAccount(context.Background(), 1)
	assert.EqualError(t, err, "server answered 503: Service Unavailable")
}

func TestNewControlClient_Base(t *testing.T) {
	assert.Equal(t, "http://localhost:8080", newControlClient("localhost:8080").base)
	assert.Equal(t, "https://mail.example/ctl", newControlClient("https://mail.example/ctl/").base)
}
