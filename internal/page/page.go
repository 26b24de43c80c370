package page

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/eggpi/similarity/internal/tabs"
	"golang.org/x/net/html"
)

const defaultMaxBytes = 5 << 20

// HTTPExtractor fetches a tab's URL directly and returns the serialized
// document. It is used when no browser is reachable over CDP.
type HTTPExtractor struct {
	client    *http.Client
	maxBytes  int64
	userAgent string
}

type Option func(*HTTPExtractor)

func WithTimeout(d time.Duration) Option {
	return func(e *HTTPExtractor) {
		e.client.Timeout = d
	}
}

func WithMaxBytes(n int64) Option {
	return func(e *HTTPExtractor) {
		e.maxBytes = n
	}
}

func NewHTTPExtractor(opts ...Option) *HTTPExtractor {
	e := &HTTPExtractor{
		client:    &http.Client{Timeout: 15 * time.Second},
		maxBytes:  defaultMaxBytes,
		userAgent: "Mozilla/5.0 (compatible; similar/1.0)",
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *HTTPExtractor) Extract(ctx context.Context, t tabs.Tab) (string, error) {
	u, err := checkURL(t.URL)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", e.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", t.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("fetch %s: unexpected status %d", t.URL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, e.maxBytes))
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", t.URL, err)
	}
	return serialize(body)
}

// serialize parses markup and renders the resulting document, the way a
// browser would report documentElement.outerHTML.
func serialize(markup []byte) (string, error) {
	doc, err := html.Parse(bytes.NewReader(markup))
	if err != nil {
		return "", fmt.Errorf("parsing document: %w", err)
	}
	var buf bytes.Buffer
	for c := doc.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		if err := html.Render(&buf, c); err != nil {
			return "", fmt.Errorf("rendering document: %w", err)
		}
	}
	return buf.String(), nil
}

func checkURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("refusing to fetch URL with scheme %q (only http/https allowed)", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid URL: %s", raw)
	}
	return u, nil
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
