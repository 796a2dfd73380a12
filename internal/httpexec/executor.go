// Package httpexec adapts the HTTP API client to the queue's Executor.
package httpexec

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fieldpulse/mobile-core/internal/models"
	"github.com/fieldpulse/mobile-core/internal/queue"
)

// Executor delivers queued requests over HTTP.
//
// Outcome mapping: 2xx is success; timeouts, transport errors, 408, 429
// and 5xx are retryable; any other 4xx is terminal and never retried
// blindly. Every request carries its queue ID as an idempotency key so
// at-least-once delivery is safe on the backend.
type Executor struct {
	baseURL string
	client  *http.Client
	header  func() http.Header // optional auth/header injection
}

// Option configures the Executor.
type Option func(*Executor)

// WithClient overrides the HTTP client.
func WithClient(client *http.Client) Option {
	return func(e *Executor) { e.client = client }
}

// WithHeaders sets a per-request header provider (auth tokens and the
// like live in the API client layer, not here).
func WithHeaders(fn func() http.Header) Option {
	return func(e *Executor) { e.header = fn }
}

// New creates an Executor for the given API base URL.
func New(baseURL string, opts ...Option) *Executor {
	e := &Executor{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute implements queue.Executor.
func (e *Executor) Execute(ctx context.Context, req *models.QueuedRequest) (queue.Outcome, error) {
	var body io.Reader
	if len(req.Payload) > 0 {
		body = bytes.NewReader(req.Payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, e.baseURL+req.Endpoint, body)
	if err != nil {
		return queue.TerminalFailure, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.ID)
	if e.header != nil {
		for k, vs := range e.header() {
			for _, v := range vs {
				httpReq.Header.Add(k, v)
			}
		}
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		// Timeouts and connection errors are transient by definition.
		return queue.RetryableFailure, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return queue.Success, nil
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return queue.RetryableFailure, fmt.Errorf("backend returned %d", resp.StatusCode)
	default:
		return queue.TerminalFailure, fmt.Errorf("backend rejected request with %d", resp.StatusCode)
	}
}
