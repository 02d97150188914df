// Package jobs drives the platform's long-running geoprocessing-style
// operations: submit a job, poll its status until a terminal state, then
// fetch named outputs on demand.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gis-tools/arcrest/request"
)

// Status is a job's lifecycle state as reported by the server.
type Status string

const (
	StatusSubmitted Status = "esriJobSubmitted"
	StatusWaiting   Status = "esriJobWaiting"
	StatusExecuting Status = "esriJobExecuting"
	StatusSucceeded Status = "esriJobSucceeded"
	StatusFailed    Status = "esriJobFailed"
	StatusCancelled Status = "esriJobCancelled"
	StatusTimedOut  Status = "esriJobTimedOut"
)

// Terminal reports whether no further status change can occur.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled, StatusTimedOut:
		return true
	}
	return false
}

// Info is one status snapshot of a job.
type Info struct {
	ID       string               `json:"jobId"`
	Status   Status               `json:"jobStatus"`
	Messages []Message            `json:"messages,omitempty"`
	Results  map[string]ResultRef `json:"results,omitempty"`
}

type Message struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// ResultRef points at one named job output. Outputs are fetched
// individually and only on demand; results can be large.
type ResultRef struct {
	ParamURL string `json:"paramUrl"`
}

// Error is a job that reached a terminal failure state. It carries the
// last status snapshot including the server's messages.
type Error struct {
	Info Info
}

func (e *Error) Error() string {
	for i := len(e.Info.Messages) - 1; i >= 0; i-- {
		if m := e.Info.Messages[i]; m.Type == "esriJobMessageTypeError" {
			return fmt.Sprintf("job %s %s: %s", e.Info.ID, statusWord(e.Info.Status), m.Description)
		}
	}
	return fmt.Sprintf("job %s %s", e.Info.ID, statusWord(e.Info.Status))
}

func statusWord(s Status) string {
	return strings.ToLower(strings.TrimPrefix(string(s), "esriJob"))
}

// DefaultInterval is the polling cadence when the client does not set one.
const DefaultInterval = 5 * time.Second

// consecutive transport failures tolerated while polling before giving up
const maxTransientFailures = 3

// Client submits and polls jobs against one geoprocessing task URL.
type Client struct {
	// TaskURL is the task endpoint, e.g.
	// "https://gis.example.com/server/rest/services/Hotspots/GPServer/Analyze".
	TaskURL string

	Auth       request.TokenProvider
	HTTPClient request.Doer

	// Interval between polls; DefaultInterval when zero. Use a
	// retry-capable HTTPClient (pkg/robusthttp) so transient network
	// blips do not abort a long-running job.
	Interval time.Duration

	// OnStatus, when set, observes every status snapshot seen while
	// waiting, including intermediate ones.
	OnStatus func(Info)
}

// Submit starts a job and returns a handle for polling it. The job keeps
// running server-side regardless of what the caller does with the handle.
func (c *Client) Submit(ctx context.Context, params request.Params) (*Job, error) {
	resp, err := request.Do(ctx, c.TaskURL+"/submitJob", &request.Options{
		Method:     "POST",
		Params:     params,
		Auth:       c.Auth,
		HTTPClient: c.HTTPClient,
	})
	if err != nil {
		return nil, err
	}
	var info Info
	if err := resp.Decode(&info); err != nil {
		return nil, fmt.Errorf("parsing submitJob response: %w", err)
	}
	if info.ID == "" {
		return nil, fmt.Errorf("submitJob response missing job id")
	}
	if info.Status == "" {
		info.Status = StatusSubmitted
	}
	return &Job{client: c, ID: info.ID, last: info}, nil
}

// Job is a submitted job's client-side handle.
type Job struct {
	client *Client
	ID     string

	last Info
}

func (j *Job) jobURL() string {
	return j.client.TaskURL + "/jobs/" + j.ID
}

// Status polls the job once and returns the fresh snapshot.
func (j *Job) Status(ctx context.Context) (*Info, error) {
	resp, err := request.Do(ctx, j.jobURL(), &request.Options{
		Auth:       j.client.Auth,
		HTTPClient: j.client.HTTPClient,
	})
	if err != nil {
		return nil, err
	}
	var info Info
	if err := resp.Decode(&info); err != nil {
		return nil, fmt.Errorf("parsing job status: %w", err)
	}
	j.last = info
	return &info, nil
}

// Wait polls on the client's interval until the job reaches a terminal
// state. Succeeded jobs return their final snapshot; failed, cancelled,
// and timed-out jobs return *Error. Transient transport failures are
// tolerated up to a small consecutive limit; job-reported failures are
// never retried. Cancelling ctx stops polling immediately (the job
// itself keeps running server-side).
func (j *Job) Wait(ctx context.Context) (*Info, error) {
	interval := j.client.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	transient := 0
	for {
		info, err := j.Status(ctx)
		switch {
		case err == nil:
			transient = 0
			if j.client.OnStatus != nil {
				j.client.OnStatus(*info)
			}
			if info.Status.Terminal() {
				if info.Status == StatusSucceeded {
					return info, nil
				}
				return nil, &Error{Info: *info}
			}
		case isTransient(err):
			transient++
			if transient >= maxTransientFailures {
				return nil, err
			}
		default:
			return nil, err
		}

		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Result fetches one named output. Only the requested output is
// transferred; sibling outputs stay on the server until asked for.
func (j *Job) Result(ctx context.Context, outputName string) (json.RawMessage, error) {
	ref, ok := j.last.Results[outputName]
	if !ok {
		// snapshot may predate completion
		info, err := j.Status(ctx)
		if err != nil {
			return nil, err
		}
		if ref, ok = info.Results[outputName]; !ok {
			return nil, fmt.Errorf("job %s has no output %q", j.ID, outputName)
		}
	}

	resp, err := request.Do(ctx, j.jobURL()+"/"+strings.TrimPrefix(ref.ParamURL, "/"), &request.Options{
		Auth:       j.client.Auth,
		HTTPClient: j.client.HTTPClient,
	})
	if err != nil {
		return nil, err
	}
	return resp.JSON, nil
}

// Cancel asks the server to cancel the job and returns the resulting
// snapshot. One request, no retries; the final state arrives through
// Wait or Status.
func (j *Job) Cancel(ctx context.Context) (*Info, error) {
	resp, err := request.Do(ctx, j.jobURL()+"/cancel", &request.Options{
		Method:     "POST",
		Auth:       j.client.Auth,
		HTTPClient: j.client.HTTPClient,
	})
	if err != nil {
		return nil, err
	}
	var info Info
	if err := resp.Decode(&info); err != nil {
		return nil, fmt.Errorf("parsing cancel response: %w", err)
	}
	j.last = info
	return &info, nil
}

func isTransient(err error) bool {
	var te *request.TransportError
	if !errors.As(err, &te) {
		return false
	}
	// a cancelled caller is not a network blip
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
