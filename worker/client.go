// Package worker is the worker collaborator spec.md §5 names: it polls
// a dispatcher for build and test-tasting work, runs it through the
// container driver, judges the outcome, and reports back over the same
// HTTP protocol dispatcher.Server exposes.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/codepr/graderd/model"
)

// Client is the worker's HTTP handle onto the dispatcher, authenticating
// every request with HTTP Basic auth carrying the runner id, matching
// the protocol dispatcher/handlers.go's basicAuthRunnerID expects.
type Client struct {
	baseURL  string
	runnerID model.RunnerId
	http     *http.Client
}

func NewClient(baseURL string, runnerID model.RunnerId, timeout time.Duration) *Client {
	return &Client{baseURL: baseURL, runnerID: runnerID, http: &http.Client{Timeout: timeout}}
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encoding request body")
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.Wrap(err, "building request")
	}
	req.SetBasicAuth(string(c.runnerID), "")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "request to %s", path)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return errors.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

type registerResponse struct {
	Reset bool `json:"reset"`
}

func (c *Client) Register(ctx context.Context, info model.RunnerInfo) (reset bool, err error) {
	var resp registerResponse
	err = c.do(ctx, http.MethodPost, "/runners/register", info, &resp)
	return resp.Reset, err
}

func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/runners/ping", nil, nil)
}

type requestWorkResponse struct {
	Task  *model.CompilerTask `json:"task,omitempty"`
	Reset bool                `json:"reset"`
}

func (c *Client) RequestWork(ctx context.Context, info model.RunnerInfo) (*model.CompilerTask, bool, error) {
	var resp requestWorkResponse
	if err := c.do(ctx, http.MethodPost, "/runners/work", info, &resp); err != nil {
		return nil, false, err
	}
	return resp.Task, resp.Reset, nil
}

// RequestTar streams the gzipped source tarball for the worker's
// currently assigned task into dst.
func (c *Client) RequestTar(ctx context.Context, dst io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/runners/work/tar", nil)
	if err != nil {
		return errors.Wrap(err, "building tar request")
	}
	req.SetBasicAuth(string(c.runnerID), "")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "requesting source tarball")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return errors.Errorf("request-tar: unexpected status %d", resp.StatusCode)
	}
	_, err = io.Copy(dst, resp.Body)
	return err
}

func (c *Client) Update(ctx context.Context, update model.RunnerUpdate) error {
	return c.do(ctx, http.MethodPost, "/runners/update", update, nil)
}

func (c *Client) Done(ctx context.Context, task model.FinishedCompilerTask) error {
	return c.do(ctx, http.MethodPost, "/runners/done", task, nil)
}

type tastingResponse struct {
	Task *model.TastingTask `json:"task,omitempty"`
}

func (c *Client) RequestTaste(ctx context.Context) (*model.TastingTask, error) {
	var resp tastingResponse
	err := c.do(ctx, http.MethodGet, "/runners/taste", nil, &resp)
	return resp.Task, err
}

type doneTasteRequest struct {
	Id     string                `json:"id"`
	Output model.ExecutionOutput `json:"output"`
}

func (c *Client) DoneTaste(ctx context.Context, id string, output model.ExecutionOutput) error {
	return c.do(ctx, http.MethodPost, "/runners/taste/done", doneTasteRequest{Id: id, Output: output}, nil)
}
