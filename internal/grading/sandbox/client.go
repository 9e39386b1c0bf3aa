package sandbox

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

	appErr "assessengine/pkg/errors"
)

const (
	executePath     = "/api/v2/execute"
	maxResponseSize = 8 << 20
)

// ErrMalformedResponse is returned when the service answers without a run section.
var ErrMalformedResponse = errors.New("sandbox: malformed response")

// Executor runs one program against one stdin.
type Executor interface {
	Execute(ctx context.Context, req RunRequest) (RunResult, error)
}

// RunRequest is one (language, source, stdin) tuple.
type RunRequest struct {
	Language string
	Version  string
	Source   string
	Stdin    string
}

// RunResult is what the program printed.
type RunResult struct {
	Stdout string
	Stderr string
}

type executeFile struct {
	Content string `json:"content"`
}

type executeRequest struct {
	Language string        `json:"language"`
	Version  string        `json:"version"`
	Files    []executeFile `json:"files"`
	Stdin    string        `json:"stdin"`
}

type executeResponse struct {
	Run *struct {
		Stdout string `json:"stdout"`
		Stderr string `json:"stderr"`
	} `json:"run"`
	Message string `json:"message"`
}

// Config holds sandbox client settings.
type Config struct {
	BaseURL string `yaml:"baseURL"`
	// Timeout bounds one round trip when the caller sets no deadline.
	Timeout time.Duration `yaml:"timeout"`
}

// Client talks to the external execution service. It never retries.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a sandbox client.
func NewClient(cfg Config, httpClient *http.Client) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("sandbox base url is required")
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{baseURL: base, http: httpClient}, nil
}

// Execute performs a single execution round trip.
func (c *Client) Execute(ctx context.Context, req RunRequest) (RunResult, error) {
	body, err := json.Marshal(executeRequest{
		Language: req.Language,
		Version:  req.Version,
		Files:    []executeFile{{Content: req.Source}},
		Stdin:    req.Stdin,
	})
	if err != nil {
		return RunResult{}, fmt.Errorf("encode execute request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+executePath, bytes.NewReader(body))
	if err != nil {
		return RunResult{}, fmt.Errorf("build execute request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return RunResult{}, appErr.Wrapf(err, appErr.SandboxUnavailable, "execute request failed: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return RunResult{}, fmt.Errorf("read execute response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return RunResult{}, appErr.Newf(appErr.SandboxUnavailable, "execute returned status %d: %s", resp.StatusCode, truncate(string(raw), 256))
	}

	var decoded executeResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return RunResult{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if decoded.Run == nil {
		return RunResult{}, ErrMalformedResponse
	}
	return RunResult{Stdout: decoded.Run.Stdout, Stderr: decoded.Run.Stderr}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
