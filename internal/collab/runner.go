package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/devsync/devsync/internal/config"
)

// Runner is the client for the external Piston-style code-execution
// backend: one HTTP call per run, no session state on the backend side.
type Runner struct {
	client   *http.Client
	url      string
	language string
	version  string
}

// NewRunner creates a runner from the terminal configuration.
func NewRunner(cfg config.TerminalConfig) *Runner {
	return &Runner{
		// The per-run timeout is enforced by the caller's context; keep
		// a generous transport ceiling as a backstop.
		client:   &http.Client{Timeout: 5 * time.Minute},
		url:      cfg.RunnerURL,
		language: cfg.Language,
		version:  cfg.Version,
	}
}

type runFile struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

type runRequest struct {
	Language   string    `json:"language"`
	Version    string    `json:"version"`
	Files      []runFile `json:"files"`
	RunTimeout int64     `json:"run_timeout"`
}

type runResponse struct {
	Run struct {
		Stdout string `json:"stdout"`
		Stderr string `json:"stderr"`
		Output string `json:"output"`
		Code   *int   `json:"code"`
		Signal string `json:"signal"`
	} `json:"run"`
}

// RunResult captures one finished execution.
type RunResult struct {
	Stdout string
	Stderr string
	Output string
	Code   *int // nil when the backend reported no exit code
	Signal string
}

// Run executes one file. Cancelling ctx aborts the in-flight call.
func (r *Runner) Run(ctx context.Context, fileName, source string, timeout time.Duration) (*RunResult, error) {
	body, err := json.Marshal(runRequest{
		Language:   r.language,
		Version:    r.version,
		Files:      []runFile{{Name: fileName, Content: source}},
		RunTimeout: timeout.Milliseconds(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode run request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build run request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execution request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("execution backend: HTTP %d", resp.StatusCode)
	}

	var payload runResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode run response: %w", err)
	}

	return &RunResult{
		Stdout: payload.Run.Stdout,
		Stderr: payload.Run.Stderr,
		Output: payload.Run.Output,
		Code:   payload.Run.Code,
		Signal: payload.Run.Signal,
	}, nil
}
