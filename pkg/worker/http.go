package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultHTTPTimeout = 120 * time.Second

// HTTPCapability invokes a remote worker over HTTP. The transport is a plain
// JSON POST: {"task": ...} in, {"output": ...} or {"error": ...} out. Provider
// specific request translation lives behind the remote endpoint, not here.
type HTTPCapability struct {
	id          string
	description string
	endpoint    string
	client      *http.Client
}

// HTTPOptions configures an HTTP-backed capability.
type HTTPOptions struct {
	ID          string
	Description string
	Endpoint    string

	// Timeout bounds a single invocation at the transport level. Zero means
	// the default of two minutes.
	Timeout time.Duration
}

// NewHTTP creates an HTTP-backed capability.
func NewHTTP(opts HTTPOptions) (*HTTPCapability, error) {
	if opts.ID == "" {
		return nil, fmt.Errorf("worker ID is required")
	}
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("worker '%s': endpoint is required", opts.ID)
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = defaultHTTPTimeout
	}
	return &HTTPCapability{
		id:          opts.ID,
		description: opts.Description,
		endpoint:    opts.Endpoint,
		client:      &http.Client{Timeout: timeout},
	}, nil
}

func (h *HTTPCapability) ID() string          { return h.id }
func (h *HTTPCapability) Description() string { return h.description }

type invokeRequest struct {
	Task string `json:"task"`
}

type invokeResponse struct {
	Output string `json:"output"`
	Error  string `json:"error,omitempty"`
}

// Invoke posts the task to the remote endpoint and returns its output.
func (h *HTTPCapability) Invoke(ctx context.Context, task string) (string, error) {
	body, err := json.Marshal(invokeRequest{Task: task})
	if err != nil {
		return "", &InvocationError{Worker: h.id, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", &InvocationError{Worker: h.id, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return "", &InvocationError{Worker: h.id, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &InvocationError{Worker: h.id, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &InvocationError{
			Worker: h.id,
			Err:    fmt.Errorf("endpoint returned %d: %s", resp.StatusCode, truncate(string(raw), 200)),
		}
	}

	var out invokeResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", &InvocationError{Worker: h.id, Err: fmt.Errorf("invalid response body: %w", err)}
	}
	if out.Error != "" {
		return "", &InvocationError{Worker: h.id, Err: fmt.Errorf("%s", out.Error)}
	}
	return out.Output, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
