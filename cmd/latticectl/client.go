package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// apiClient is a thin net/http wrapper over the client-facing HTTP API
// (pkg/api). It carries no state beyond the base address: every call
// builds and parses one request/response pair.
type apiClient struct {
	baseAddr string
	http     *http.Client
}

func newAPIClient(baseAddr string) *apiClient {
	return &apiClient{baseAddr: baseAddr, http: &http.Client{Timeout: 30 * time.Second}}
}

type apiError struct {
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return e.Message
}

// doRaw behaves like do but accepts an already-encoded JSON body, for
// callers (submitCmd) that read a workflow payload straight off disk
// instead of constructing it from typed Go values.
func (c *apiClient) doRaw(ctx context.Context, method, path string, body []byte, out any) error {
	var bodyAny any
	if body != nil {
		bodyAny = json.RawMessage(body)
	}
	return c.do(ctx, method, path, bodyAny, out)
}

func (c *apiClient) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseAddr+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr apiError
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Message == "" {
			apiErr.Message = resp.Status
		}
		return &apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
