package proxy

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// BackendClient issues chat-completions requests against a tenant's
// upstream LLM backend. It wraps a shared http.Client; StreamCompletion's
// producer goroutine reads the SSE response body line by line and pushes
// payload lines onto a channel until the stream ends or the request
// context is cancelled.
type BackendClient struct {
	httpClient *http.Client
}

// NewBackendClient builds a BackendClient. Request timeouts are governed by
// the context passed to each call, not by the client itself, so that a
// streaming completion's context can outlive a single non-streaming call's
// deadline.
func NewBackendClient() *BackendClient {
	return &BackendClient{httpClient: &http.Client{}}
}

// StreamCompletion issues body (with "stream": true forced) against
// backendURL and returns a channel of raw SSE "data: " payload lines (the
// "[DONE]" marker included) and an error channel carrying at most one
// terminal error.
func (c *BackendClient) StreamCompletion(ctx context.Context, backendURL string, body []byte) (<-chan []byte, <-chan error) {
	lines := make(chan []byte, 64)
	errs := make(chan error, 1)

	go func() {
		defer close(lines)
		defer close(errs)

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(backendURL, "/")+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			errs <- fmt.Errorf("proxy: build backend request: %w", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "text/event-stream")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			errs <- fmt.Errorf("proxy: backend request: %w", err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			out, _ := io.ReadAll(resp.Body)
			errs <- fmt.Errorf("proxy: backend returned status %d: %s", resp.StatusCode, string(out))
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			payload, ok := bytes.CutPrefix(line, []byte("data: "))
			if !ok {
				payload, ok = bytes.CutPrefix(line, []byte("data:"))
				if !ok {
					continue
				}
			}
			cp := make([]byte, len(payload))
			copy(cp, payload)
			select {
			case lines <- cp:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			select {
			case errs <- fmt.Errorf("proxy: read backend stream: %w", err):
			default:
			}
		}
	}()

	return lines, errs
}
