package arm

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/numtide/appservice-cert-wizard/errs"
	"github.com/pkg/errors"
)

// UpdateTask tracks a submitted site update. The update is accepted once
// BeginUpdateSiteOrSlot returns; Wait blocks until the control plane reports
// it finished.
type UpdateTask struct {
	client   *Client
	pollURL  string
	async    bool
	interval time.Duration
	done     bool
}

// CompletedTask is a task that needs no waiting.
func CompletedTask() *UpdateTask {
	return &UpdateTask{done: true}
}

func (c *Client) newUpdateTask(resp *Response) *UpdateTask {
	if resp.StatusCode != http.StatusAccepted {
		return CompletedTask()
	}
	t := &UpdateTask{client: c, interval: c.pollInterval}
	if u := resp.Header.Get("Azure-AsyncOperation"); u != "" {
		t.pollURL = u
		t.async = true
	} else {
		t.pollURL = resp.Header.Get("Location")
	}
	if t.pollURL == "" {
		t.done = true
	}
	return t
}

// Done reports whether the update is known to have finished. A nil task has
// nothing to wait for.
func (t *UpdateTask) Done() bool {
	return t == nil || t.done
}

type asyncStatus struct {
	Status string `json:"status"`
}

// Wait polls until the update finishes, fails or ctx ends.
func (t *UpdateTask) Wait(ctx context.Context) error {
	if t == nil {
		return nil
	}
	for !t.done {
		finished, err := t.poll(ctx)
		if err != nil {
			return err
		}
		if finished {
			t.done = true
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(t.interval):
		}
	}
	return nil
}

func (t *UpdateTask) poll(ctx context.Context) (bool, error) {
	resp, err := t.client.get(ctx, t.pollURL)
	if err != nil {
		return false, errors.Wrap(err, "while polling site update")
	}
	if resp.StatusCode == http.StatusAccepted {
		return false, nil
	}
	if !success(resp.StatusCode) {
		return false, &errs.RemoteError{Op: "poll site update", StatusCode: resp.StatusCode, Body: string(resp.Body)}
	}
	if !t.async {
		return true, nil
	}

	status := asyncStatus{}
	if err := json.Unmarshal(resp.Body, &status); err != nil {
		return false, errors.Wrap(err, "while decoding operation status")
	}
	switch strings.ToLower(status.Status) {
	case "succeeded":
		return true, nil
	case "failed", "canceled":
		return false, &errs.RemoteError{Op: "site update " + status.Status, StatusCode: resp.StatusCode, Body: string(resp.Body)}
	}
	return false, nil
}
