package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/phillip-england/clubadmin/internal/ctxutil"
)

const (
	maxResponseBytes = 8 << 20
	requestIDHeader  = "X-Request-Id"
)

// NewHTTPClient returns the client shared by every backend adapter.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

type caller struct {
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger
}

// do sends one request and returns the body of a 2xx answer. Anything else
// comes back as a *TransportError or *StatusError.
func (c *caller) do(ctx context.Context, op, method, path, contentType string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if id := ctxutil.RequestIDFromCtx(ctx); id != "" {
		req.Header.Set(requestIDHeader, id)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.WarnContext(ctx, "backend unreachable", "op", op, "method", method, "path", path, "error", err)
		return nil, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	c.log.DebugContext(ctx, "backend call",
		"op", op, "method", method, "path", path,
		"status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Op: op, Status: resp.StatusCode, Message: backendMessage(data)}
	}
	return data, nil
}
