// Package dropbox implements remote Storage against the Dropbox HTTP API v2.
package dropbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"dataportal/internal/remote/core"
)

const (
	defaultAPIBase     = "https://api.dropboxapi.com/2"
	defaultContentBase = "https://content.dropboxapi.com/2"
)

// Config configures the client.
type Config struct {
	Token       string
	APIBase     string // override for tests
	ContentBase string // override for tests
	RetryMax    int
	// Logger receives retry diagnostics. *slog.Logger satisfies it.
	Logger retryablehttp.LeveledLogger
}

// Client implements core.Storage. Rate-limited (429) and 5xx responses are
// retried with backoff by go-retryablehttp.
type Client struct {
	http        *retryablehttp.Client
	token       string
	apiBase     string
	contentBase string
}

var _ core.Storage = (*Client)(nil)

// New constructs a client. A token is required.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("dropbox: access token required")
	}
	rc := retryablehttp.NewClient()
	rc.RetryMax = 4
	if cfg.RetryMax > 0 {
		rc.RetryMax = cfg.RetryMax
	}
	rc.RetryWaitMin = 250 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.Logger = nil
	if cfg.Logger != nil {
		rc.Logger = cfg.Logger
	}
	c := &Client{http: rc, token: cfg.Token, apiBase: defaultAPIBase, contentBase: defaultContentBase}
	if cfg.APIBase != "" {
		c.apiBase = strings.TrimRight(cfg.APIBase, "/")
	}
	if cfg.ContentBase != "" {
		c.contentBase = strings.TrimRight(cfg.ContentBase, "/")
	}
	return c, nil
}

func (c *Client) Driver() core.Driver { return core.DriverDropbox }

// apiError is the body Dropbox returns with HTTP 409.
type apiError struct {
	Summary string `json:"error_summary"`
}

func (e *apiError) Error() string { return "dropbox: " + e.Summary }

// Unwrap maps well-known error summaries onto the core sentinels.
func (e *apiError) Unwrap() error {
	switch {
	case strings.Contains(e.Summary, "not_found"):
		return core.ErrNotFound
	case strings.Contains(e.Summary, "conflict"):
		return core.ErrConflict
	case strings.Contains(e.Summary, "incorrect_offset"):
		return core.ErrIncorrectOffset
	case strings.Contains(e.Summary, "invalid_async_job_id"):
		return core.ErrUnknownJob
	}
	return nil
}

// rpc posts a JSON body to an API endpoint and decodes the JSON reply.
func (c *Client) rpc(ctx context.Context, endpoint string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := retryablehttp.NewRequest(http.MethodPost, c.apiBase+endpoint, body)
	if err != nil {
		return err
	}
	req = req.WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, endpoint, out)
}

// content posts raw bytes to a content endpoint with the argument in the
// Dropbox-API-Arg header.
func (c *Client) content(ctx context.Context, endpoint string, arg any, data []byte, out any) error {
	argJSON, err := json.Marshal(arg)
	if err != nil {
		return err
	}
	req, err := retryablehttp.NewRequest(http.MethodPost, c.contentBase+endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req = req.WithContext(ctx)
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Dropbox-API-Arg", string(argJSON))
	return c.do(req, endpoint, out)
}

func (c *Client) do(req *retryablehttp.Request, endpoint string, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("dropbox %s: %w", endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("dropbox %s: read body: %w", endpoint, err)
	}
	if resp.StatusCode == http.StatusConflict {
		var apiErr apiError
		if err := json.Unmarshal(raw, &apiErr); err != nil || apiErr.Summary == "" {
			apiErr.Summary = strings.TrimSpace(string(raw))
		}
		return fmt.Errorf("dropbox %s: %w", endpoint, &apiErr)
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("dropbox %s: status %d: %s", endpoint, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("dropbox %s: decode: %w", endpoint, err)
	}
	return nil
}
