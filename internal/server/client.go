package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/eggpi/similarity/internal/cache"
)

// StatusError is a non-2xx bridge response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("bridge returned %d", e.Code)
	}
	return fmt.Sprintf("bridge returned %d: %s", e.Code, e.Message)
}

// Client talks to a running daemon.
type Client struct {
	base string
	http *http.Client
}

// NewClient accepts either a listen address ("127.0.0.1:8765") or a base url.
func NewClient(addr string) *Client {
	base := addr
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 60 * time.Second},
	}
}

// CacheState is the daemon's cache as reported by /v1/cache, along with the
// number of tabs it is tracking.
type CacheState struct {
	Tabs       int          `json:"tabs"`
	MaxEntries int          `json:"max_entries"`
	TTLSeconds float64      `json:"ttl_seconds"`
	Entries    []CacheEntry `json:"entries"`
}

func (c *Client) Suggestions(ctx context.Context) ([]cache.Article, error) {
	var resp suggestionsResponse
	if err := c.do(ctx, http.MethodGet, "/v1/suggestions", &resp); err != nil {
		return nil, err
	}
	return resp.Articles, nil
}

func (c *Client) Cache(ctx context.Context) (CacheState, error) {
	var resp CacheState
	err := c.do(ctx, http.MethodGet, "/v1/cache", &resp)
	return resp, err
}

func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil)
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("contacting daemon: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var body struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(data, &body) != nil {
			body.Error = strings.TrimSpace(string(data))
		}
		return &StatusError{Code: resp.StatusCode, Message: body.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}
