// Package httpstore provides a remote.Store over a JSON HTTP API.
//
// Wire contract:
//
//	PUT    {base}/api/v1/{collection}/{id}   body: record JSON   → 200 or 204
//	DELETE {base}/api/v1/{collection}/{id}                       → 200, 204 or 404
//	GET    {base}/api/health                                     → 200
package httpstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nabhalearn/edusync/internal/remote"
)

// maxErrorBody bounds how much of a failed response is kept in the error.
const maxErrorBody = 512

// Config holds HTTP remote configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration // Per-request timeout (default: 30 seconds)
}

// Client implements remote.Store against the edusync HTTP API.
type Client struct {
	base       *url.URL
	httpClient *http.Client
}

var _ remote.Store = (*Client)(nil)

// NewClient creates a new Client.
func NewClient(config Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(config.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid remote url %q: %w", config.BaseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid remote url %q: scheme must be http or https", config.BaseURL)
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		base: base,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
	}, nil
}

// Upsert writes body at collection/id.
func (c *Client) Upsert(ctx context.Context, collection, id string, body json.RawMessage) error {
	req, err := c.createRequest(ctx, http.MethodPut, c.recordURL(collection, id), bytes.NewReader(body))
	if err != nil {
		return remote.Rejected("upsert", collection, id, 0, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return remote.Transient("upsert", collection, id, fmt.Errorf("upsert request failed: %w", err))
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return remote.StatusError("upsert", collection, id, resp.StatusCode, readError(resp.Body))
}

// Delete removes collection/id. A record the server does not have counts as
// deleted.
func (c *Client) Delete(ctx context.Context, collection, id string) error {
	req, err := c.createRequest(ctx, http.MethodDelete, c.recordURL(collection, id), nil)
	if err != nil {
		return remote.Rejected("delete", collection, id, 0, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return remote.Transient("delete", collection, id, fmt.Errorf("delete request failed: %w", err))
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return remote.StatusError("delete", collection, id, resp.StatusCode, readError(resp.Body))
}

// Ping checks the health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	req, err := c.createRequest(ctx, http.MethodGet, c.base.JoinPath("api", "health").String(), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return remote.Transient("ping", "", "", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return remote.StatusError("ping", "", "", resp.StatusCode, fmt.Errorf("health check returned %s", resp.Status))
	}
	return nil
}

func (c *Client) recordURL(collection, id string) string {
	return c.base.JoinPath("api", "v1", collection, id).String()
}

func (c *Client) createRequest(ctx context.Context, method, urlStr string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, urlStr, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "edusync")
	return req, nil
}

// readError extracts the server's message from an error response.
func readError(body io.Reader) error {
	data, _ := io.ReadAll(io.LimitReader(body, maxErrorBody))
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
		return fmt.Errorf("%s", payload.Error)
	}
	msg := strings.TrimSpace(string(data))
	if msg == "" {
		msg = "empty response"
	}
	return fmt.Errorf("%s", msg)
}
