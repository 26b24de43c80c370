package suggest

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/eggpi/similarity/internal/cache"
	"github.com/eggpi/similarity/internal/tabs"
	"github.com/eggpi/similarity/internal/whitelist"
	"golang.org/x/sync/singleflight"
)

const DefaultTimeout = 30 * time.Second

// Extractor returns the serialized markup of the page a tab shows.
type Extractor interface {
	Extract(ctx context.Context, t tabs.Tab) (string, error)
}

// Lookup asks the similarity service for articles similar to a page.
type Lookup interface {
	Lookup(ctx context.Context, html, pageURL string) ([]cache.Article, error)
}

type RuleSource interface {
	LoadWhitelist() ([]string, error)
}

// Resolver produces the suggestions for a tab, consulting the cache before
// extracting the page and calling the similarity service.
//
// Concurrent resolutions of the same URL share a single flight. Every URL has
// a generation that Invalidate advances; a flight stores its result only if
// the generation it started under is still current, and callers that arrive
// after an invalidation never join an older flight.
type Resolver struct {
	cache   *cache.Cache
	rules   RuleSource
	pages   Extractor
	remote  Lookup
	timeout time.Duration
	logger  *slog.Logger

	group singleflight.Group

	mu   sync.Mutex
	seq  uint64
	keys map[string]*keyState
}

type keyState struct {
	gen     uint64
	waiters int
}

type Option func(*Resolver)

// WithTimeout bounds a whole flight: extraction plus remote lookup.
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		r.timeout = d
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = l
	}
}

func New(c *cache.Cache, rules RuleSource, pages Extractor, remote Lookup, opts ...Option) *Resolver {
	r := &Resolver{
		cache:   c,
		rules:   rules,
		pages:   pages,
		remote:  remote,
		timeout: DefaultTimeout,
		logger:  slog.Default(),
		keys:    make(map[string]*keyState),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type callOptions struct {
	canUseCache bool
}

type CallOption func(*callOptions)

// WithoutCache skips the cache lookup and always asks the similarity service.
// The result is still stored.
func WithoutCache() CallOption {
	return func(o *callOptions) {
		o.canUseCache = false
	}
}

// GetSuggestions returns the suggestions for t. Non-whitelisted URLs resolve
// to an empty list without touching the cache or the network.
func (r *Resolver) GetSuggestions(ctx context.Context, t tabs.Tab, opts ...CallOption) ([]cache.Article, error) {
	o := callOptions{canUseCache: true}
	for _, opt := range opts {
		opt(&o)
	}

	if t.URL == "" {
		return nil, ErrNoURL
	}
	if !whitelist.Matches(t.URL, r.loadRules()) {
		return []cache.Article{}, nil
	}

	gen := r.acquire(t.URL)
	defer r.release(t.URL)

	// A miss here means the flight for gen, if any, has not committed yet and
	// is still joinable.
	if o.canUseCache {
		if articles, ok := r.cache.Get(t.URL); ok {
			r.logger.Debug("cache hit", "tab", t.ID, "url", t.URL)
			return articles, nil
		}
	}

	ch := r.group.DoChan(flightKey(t.URL, gen), func() (any, error) {
		return r.fetch(ctx, t, gen)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			r.logger.Debug("joined in-flight lookup", "tab", t.ID, "url", t.URL)
		}
		return res.Val.([]cache.Article), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Invalidate drops any cached suggestions for url and makes results of
// lookups already in flight for it non-authoritative.
func (r *Resolver) Invalidate(url string) {
	if url == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	if st, ok := r.keys[url]; ok {
		st.gen = r.seq
	}
	r.cache.Remove(url)
}

func (r *Resolver) fetch(parent context.Context, t tabs.Tab, gen uint64) ([]cache.Article, error) {
	// Waiters may give up, the flight itself keeps going until its own timeout.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), r.timeout)
	defer cancel()

	start := time.Now()
	markup, err := r.pages.Extract(ctx, t)
	if err != nil {
		return nil, &ExtractionError{URL: t.URL, Err: err}
	}
	articles, err := r.remote.Lookup(ctx, markup, t.URL)
	if err != nil {
		return nil, &RemoteLookupError{URL: t.URL, Err: err}
	}
	if articles == nil {
		articles = []cache.Article{}
	}

	if r.commit(t.URL, gen, articles) {
		r.logger.Debug("cached suggestions",
			"url", t.URL,
			"articles", len(articles),
			"took", time.Since(start))
	} else {
		r.logger.Debug("discarding stale suggestions", "url", t.URL)
	}
	return articles, nil
}

func (r *Resolver) loadRules() []string {
	rules, err := r.rules.LoadWhitelist()
	if err != nil {
		r.logger.Warn("loading whitelist failed, using defaults", "err", err)
		return whitelist.DefaultRules()
	}
	return rules
}

func (r *Resolver) acquire(url string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.keys[url]
	if !ok {
		st = &keyState{gen: r.seq}
		r.keys[url] = st
	}
	st.waiters++
	return st.gen
}

func (r *Resolver) release(url string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.keys[url]
	if !ok {
		return
	}
	st.waiters--
	if st.waiters <= 0 {
		delete(r.keys, url)
	}
}

// commit stores articles unless url was invalidated after the flight started.
// With no waiters left the key's generation is unknown, so any invalidation
// since then counts.
func (r *Resolver) commit(url string, gen uint64, articles []cache.Article) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.seq
	if st, ok := r.keys[url]; ok {
		current = st.gen
	}
	if current != gen {
		return false
	}
	r.cache.Set(url, articles)
	return true
}

func flightKey(url string, gen uint64) string {
	return strconv.FormatUint(gen, 10) + " " + url
}
