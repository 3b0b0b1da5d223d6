// Package rest talks to the chat backend's HTTP endpoints: the bootstrap
// fetches (chat list, history, users), the send-message fallback used when
// no socket session exists, and file upload.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/corpchat/chatsync/internal/chaterr"
	"go.uber.org/zap"
)

// Client is the authenticated HTTP client. The zero token is a hard
// precondition failure for every call.
type Client struct {
	baseURL string
	httpc   *http.Client
	logger  *zap.Logger

	mu    sync.RWMutex
	token string
}

// NewClient creates a client for the given backend origin, e.g.
// "http://chat.example.com:5005".
func NewClient(baseURL string, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

// SetToken installs the bearer token used on subsequent calls.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the current token, "" if unauthenticated.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// newRequest builds an authenticated request. The backend expects the
// Authorization value prefixed with a single space; reproduced as-is.
func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	token := c.Token()
	if token == "" {
		return nil, chaterr.Network("no authorization token", nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, chaterr.Network("build request", err)
	}
	req.Header.Set("Authorization", " "+token)
	return req, nil
}

// getJSON performs an authenticated GET and returns the raw body of a 2xx
// response. Non-2xx maps to ServerError, transport failure to NetworkError.
func (c *Client) getJSON(ctx context.Context, path string) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, chaterr.Network("GET "+path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return nil, chaterr.ServerStatus("GET "+path, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, chaterr.Network("read response", err)
	}
	return data, nil
}

// postJSON performs an authenticated POST with a JSON body. The response
// body is returned for callers that need it.
func (c *Client) postJSON(ctx context.Context, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, chaterr.Decoding("encode request body", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, chaterr.Network("POST "+path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return nil, chaterr.ServerStatus("POST "+path, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, chaterr.Network("read response", err)
	}
	return data, nil
}

// postUnauthenticated posts a pre-encoded JSON body without the token
// precondition. Used only for login.
func (c *Client) postUnauthenticated(ctx context.Context, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, chaterr.Network("build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, chaterr.Network("POST "+path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return nil, chaterr.ServerStatus("POST "+path, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, chaterr.Network("read response", err)
	}
	return data, nil
}

// MarkRead flags a message as read. Failures are logged, not surfaced:
// read receipts are best effort.
func (c *Client) MarkRead(ctx context.Context, messageID int) {
	req, err := c.newRequest(ctx, http.MethodPut, fmt.Sprintf("/messages/%d/read", messageID), nil)
	if err != nil {
		return
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		c.logger.Debug("mark read failed", zap.Int("message_id", messageID), zap.Error(err))
		return
	}
	_ = resp.Body.Close()
}
