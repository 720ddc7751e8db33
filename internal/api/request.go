package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"time"
)

// APIError represents an error response from the realtime REST API.
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("realtime api error %d: %s", e.StatusCode, e.Message)
}

// IsRetryable returns true if the error should trigger a retry.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// IsUnauthorized reports whether the server rejected the credentials.
func (e *APIError) IsUnauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized
}

// request describes one API call. body is JSON-encoded when non-nil.
type request struct {
	method string
	path   string
	query  url.Values
	body   any
	authed bool
}

// doRequest performs a single HTTP request.
func (c *Client) doRequest(ctx context.Context, r request, token string) ([]byte, error) {
	fullURL := c.baseURL + r.path
	if len(r.query) > 0 {
		fullURL += "?" + r.query.Encode()
	}

	var payload io.Reader
	if r.body != nil {
		data, err := json.Marshal(r.body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, fullURL, payload)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    errorMessage(resp.StatusCode, body),
			Body:       body,
		}
	}

	return body, nil
}

func errorMessage(status int, body []byte) string {
	var eb errorBody
	if json.Unmarshal(body, &eb) == nil {
		if eb.Message != "" {
			return eb.Message
		}
		if eb.Error != "" {
			return eb.Error
		}
	}
	return http.StatusText(status)
}

// doAuthed performs a request with the current bearer token. A 401 refreshes
// the credentials once and retries with the new token.
func (c *Client) doAuthed(ctx context.Context, r request) ([]byte, error) {
	if !r.authed || c.creds == nil {
		return c.doWithRetry(ctx, r, "")
	}

	token, err := c.creds.CurrentToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("current token: %w", err)
	}

	body, err := c.doWithRetry(ctx, r, token)
	var apiErr *APIError
	if err == nil || !errors.As(err, &apiErr) || !apiErr.IsUnauthorized() {
		return body, err
	}

	c.logger.Debug("access token rejected, refreshing", "path", r.path)
	token, refreshErr := c.creds.RefreshAccessToken(ctx)
	if refreshErr != nil {
		return nil, fmt.Errorf("refresh after 401: %w", errors.Join(err, refreshErr))
	}

	return c.doWithRetry(ctx, r, token)
}

// doWithRetry performs a request with exponential backoff retry.
func (c *Client) doWithRetry(ctx context.Context, r request, token string) ([]byte, error) {
	var lastErr error
	backoff := c.retryBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			// backoff * (0.5 to 1.5)
			jitter := backoff / 2
			if backoff > 0 {
				jitter += time.Duration(rand.Int64N(int64(backoff)))
			}
			c.logger.Debug("retrying request",
				"attempt", attempt,
				"backoff", jitter,
				"path", r.path,
			)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(jitter):
			}

			backoff *= 2
		}

		body, err := c.doRequest(ctx, r, token)
		if err == nil {
			return body, nil
		}

		lastErr = err

		var apiErr *APIError
		if !errors.As(err, &apiErr) || !apiErr.IsRetryable() {
			return nil, err
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Client) call(ctx context.Context, r request, result any) error {
	body, err := c.doAuthed(ctx, r)
	if err != nil {
		return err
	}
	if result == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

// get performs an authenticated GET request with retries.
func (c *Client) get(ctx context.Context, path string, query url.Values, result any) error {
	return c.call(ctx, request{method: http.MethodGet, path: path, query: query, authed: true}, result)
}

// post performs a POST request with retries.
func (c *Client) post(ctx context.Context, path string, body any, authed bool, result any) error {
	return c.call(ctx, request{method: http.MethodPost, path: path, body: body, authed: authed}, result)
}
