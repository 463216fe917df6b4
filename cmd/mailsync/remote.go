package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/mixelka/mailsync/pkg/models"
)

// controlClient sends commands to a running "mailsync serve" so they go through
// its in-flight registry instead of racing it
type controlClient struct {
	base string
	hc   *http.Client
}

func newControlClient(base string) *controlClient {
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &controlClient{base: strings.TrimRight(base, "/"), hc: &http.Client{}}
}

// statusError is a non-2xx answer from the control API
type statusError struct {
	Status  int
	Message string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("server answered %d: %s", e.Status, e.Message)
}

// Check starts a manual sync. done is false when the server stopped waiting
// before the sync finished; jobID then names the job still running.
func (c *controlClient) Check(ctx context.Context, id int64) (result models.SyncResult, jobID string, done bool, err error) {
	var pending struct {
		JobID string `json:"job_id"`
	}

	status, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/accounts/%d/check", id), func(status int) any {
		if status == http.StatusAccepted {
			return &pending
		}
		return &result
	})
	if err != nil {
		return models.SyncResult{}, "", false, err
	}
	if status == http.StatusAccepted {
		return models.SyncResult{}, pending.JobID, false, nil
	}
	return result, "", true, nil
}

// DeleteAccount removes an account unless a sync of it is running
func (c *controlClient) DeleteAccount(ctx context.Context, id int64) error {
	_, err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/accounts/%d", id), nil)
	return err
}

func (c *controlClient) do(ctx context.Context, method, path string, target func(status int) any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return 0, err
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return 0, fmt.Errorf("control API unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		if body.Error == "" {
			body.Error = http.StatusText(resp.StatusCode)
		}
		return resp.StatusCode, &statusError{Status: resp.StatusCode, Message: body.Error}
	}

	if target != nil {
		if err := json.NewDecoder(resp.Body).Decode(target(resp.StatusCode)); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
