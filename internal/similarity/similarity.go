package similarity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/eggpi/similarity/internal/cache"
)

const DefaultEndpoint = "https://tools.wmflabs.org/similarity/search"

// Client posts page markup to the similarity service's search endpoint.
type Client struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.client = hc
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

func New(endpoint string, opts ...Option) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	c := &Client{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type searchResponse struct {
	Results []cache.Article `json:"results"`
	Debug   *debugInfo      `json:"debug,omitempty"`
}

type debugInfo struct {
	Description string `json:"description"`
	Text        string `json:"text"`
}

// Lookup returns the articles the service considers similar to the page.
func (c *Client) Lookup(ctx context.Context, html, pageURL string) ([]cache.Article, error) {
	body, contentType, err := encodeForm(html, pageURL)
	if err != nil {
		return nil, fmt.Errorf("encoding search form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("similarity API error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("similarity API %d: %s", resp.StatusCode, bytes.TrimSpace(b))
	}

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("decoding similarity response: %w", err)
	}
	if sr.Debug != nil {
		c.logger.Debug("similarity debug",
			"url", pageURL,
			"description", sr.Debug.Description,
			"text_len", len(sr.Debug.Text))
	}
	if sr.Results == nil {
		return []cache.Article{}, nil
	}
	return sr.Results, nil
}

func encodeForm(html, pageURL string) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("html", html); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("url", pageURL); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
