package router

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/eggpi/similarity/internal/cache"
	"github.com/eggpi/similarity/internal/pageaction"
	"github.com/eggpi/similarity/internal/suggest"
	"github.com/eggpi/similarity/internal/tabs"
)

const storyURL = "https://www.nytimes.com/2024/03/01/science/storm.html"

type lookupFunc func(ctx context.Context, html, pageURL string) ([]cache.Article, error)

func (f lookupFunc) Lookup(ctx context.Context, html, pageURL string) ([]cache.Article, error) {
	return f(ctx, html, pageURL)
}

type extractFunc func(ctx context.Context, t tabs.Tab) (string, error)

func (f extractFunc) Extract(ctx context.Context, t tabs.Tab) (string, error) { return f(ctx, t) }

type rules []string

func (r rules) LoadWhitelist() ([]string, error) { return r, nil }

type counter struct {
	mu sync.Mutex
	n  int
}

func (c *counter) inc() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *counter) get() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

type fixture struct {
	router    *Router
	cache     *cache.Cache
	indicator *pageaction.Registry
	lookups   *counter
	results   []cache.Article
	err       error
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		cache:     cache.New(10, 600*time.Second),
		indicator: pageaction.NewRegistry(),
		lookups:   &counter{},
		results:   []cache.Article{{Title: "Storm", URL: "https://en.wikipedia.org/wiki/Storm"}},
	}
	pages := extractFunc(func(ctx context.Context, t tabs.Tab) (string, error) {
		return "<html>" + t.URL + "</html>", nil
	})
	remote := lookupFunc(func(ctx context.Context, html, pageURL string) ([]cache.Article, error) {
		f.lookups.inc()
		return f.results, f.err
	})
	resolver := suggest.New(f.cache, rules{`nytimes\.com/.+`}, pages, remote)
	f.router = New(resolver, f.indicator, tabs.NewRegistry(), nil)
	return f
}

func TestActivatedShowsIndicator(t *testing.T) {
	f := newFixture(t)
	f.router.Activated(context.Background(), tabs.Tab{ID: "1", URL: storyURL})

	if !f.indicator.Visible("1") {
		t.Error("expected indicator shown for tab with suggestions")
	}
	if f.lookups.get() != 1 {
		t.Errorf("expected 1 lookup, got %d", f.lookups.get())
	}

	f.router.Activated(context.Background(), tabs.Tab{ID: "1", URL: storyURL})
	if f.lookups.get() != 1 {
		t.Errorf("expected re-activation to use the cache, got %d lookups", f.lookups.get())
	}
}

func TestActivatedHidesWithoutSuggestions(t *testing.T) {
	f := newFixture(t)
	f.indicator.Show("1")
	f.router.Activated(context.Background(), tabs.Tab{ID: "1", URL: "https://example.com/"})

	if f.indicator.Visible("1") {
		t.Error("expected indicator hidden for non-whitelisted page")
	}

	f.results = []cache.Article{}
	f.indicator.Show("2")
	f.router.Activated(context.Background(), tabs.Tab{ID: "2", URL: storyURL})
	if f.indicator.Visible("2") {
		t.Error("expected indicator hidden for empty result")
	}
}

func TestActivatedHidesOnError(t *testing.T) {
	f := newFixture(t)
	f.err = errors.New("similarity API 503")
	f.indicator.Show("1")

	f.router.Activated(context.Background(), tabs.Tab{ID: "1", URL: storyURL})
	if f.indicator.Visible("1") {
		t.Error("expected indicator hidden after lookup failure")
	}

	f.indicator.Show("2")
	f.router.Activated(context.Background(), tabs.Tab{ID: "2"})
	if f.indicator.Visible("2") {
		t.Error("expected indicator hidden for tab without URL")
	}
}

func TestUpdatedInvalidatesBeforeResolving(t *testing.T) {
	f := newFixture(t)
	f.cache.Set(storyURL, []cache.Article{{Title: "stale"}})

	f.router.Updated(context.Background(), tabs.Tab{ID: "1", URL: storyURL}, StatusComplete)

	if f.lookups.get() != 1 {
		t.Fatalf("expected navigation-complete to force a lookup despite the cached entry, got %d", f.lookups.get())
	}
	got, ok := f.cache.Get(storyURL)
	if !ok || got[0].Title != "Storm" {
		t.Errorf("expected fresh entry, got %v %v", got, ok)
	}
	if !f.indicator.Visible("1") {
		t.Error("expected indicator shown")
	}
}

func TestUpdatedIgnoresLoading(t *testing.T) {
	f := newFixture(t)
	f.router.Updated(context.Background(), tabs.Tab{ID: "1", URL: storyURL}, "loading")
	f.router.Updated(context.Background(), tabs.Tab{ID: "1", URL: storyURL}, "")

	if f.lookups.get() != 0 {
		t.Errorf("expected no lookups for non-complete status, got %d", f.lookups.get())
	}
	if _, ok := f.router.Tabs().Get("1"); ok {
		t.Error("loading events should not register the tab")
	}
}

func TestUpdatedIsIdempotent(t *testing.T) {
	f := newFixture(t)
	tab := tabs.Tab{ID: "1", URL: storyURL}
	for i := 0; i < 3; i++ {
		f.router.Updated(context.Background(), tab, StatusComplete)
	}

	if f.lookups.get() != 3 {
		t.Errorf("expected one refresh per complete event, got %d", f.lookups.get())
	}
	if f.cache.Len() != 1 {
		t.Errorf("expected a single cache entry, got %d", f.cache.Len())
	}
	if !f.indicator.Visible("1") {
		t.Error("expected indicator shown")
	}
}

func TestRemovedInvalidates(t *testing.T) {
	f := newFixture(t)
	f.router.Activated(context.Background(), tabs.Tab{ID: "1", URL: storyURL})
	visible := f.indicator.Visible("1")

	f.router.Removed(tabs.Tab{ID: "1"})
	if _, ok := f.cache.Get(storyURL); ok {
		t.Error("expected cache entry removed with the tab")
	}
	if f.indicator.Visible("1") != visible {
		t.Error("removal must not update the indicator")
	}
	if _, err := f.router.Query(context.Background()); !errors.Is(err, ErrNoActiveTab) {
		t.Errorf("expected ErrNoActiveTab after removing the active tab, got %v", err)
	}

	f.router.Removed(tabs.Tab{ID: "1"})
}

func TestRemovedUnknownTabUsesEventURL(t *testing.T) {
	f := newFixture(t)
	f.cache.Set(storyURL, []cache.Article{{Title: "x"}})

	f.router.Removed(tabs.Tab{ID: "9", URL: storyURL})
	if _, ok := f.cache.Get(storyURL); ok {
		t.Error("expected entry for the supplied URL to be removed")
	}
}

func TestQuery(t *testing.T) {
	f := newFixture(t)
	if _, err := f.router.Query(context.Background()); !errors.Is(err, ErrNoActiveTab) {
		t.Fatalf("expected ErrNoActiveTab, got %v", err)
	}

	f.router.Activated(context.Background(), tabs.Tab{ID: "1", URL: storyURL})
	f.indicator.Hide("1")

	got, err := f.router.Query(context.Background())
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 || got[0].Title != "Storm" {
		t.Errorf("unexpected suggestions: %v", got)
	}
	if f.indicator.Visible("1") {
		t.Error("query must not change the indicator")
	}
	if f.lookups.get() != 1 {
		t.Errorf("expected query to be served from cache, got %d lookups", f.lookups.get())
	}
}

func TestSupersededResolutionIgnored(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	started := make(chan struct{}, 4)
	var calls counter

	pages := extractFunc(func(ctx context.Context, t tabs.Tab) (string, error) {
		calls.inc()
		started <- struct{}{}
		if t.URL == storyURL {
			<-release
		}
		return t.URL, nil
	})
	remote := lookupFunc(func(ctx context.Context, html, pageURL string) ([]cache.Article, error) {
		if pageURL == storyURL {
			return []cache.Article{{Title: "Storm"}}, nil
		}
		return []cache.Article{}, nil
	})
	resolver := suggest.New(f.cache, rules{`nytimes\.com/.+`}, pages, remote)
	r := New(resolver, f.indicator, tabs.NewRegistry(), nil)

	done := make(chan struct{})
	go func() {
		r.Activated(context.Background(), tabs.Tab{ID: "1", URL: storyURL})
		close(done)
	}()
	<-started

	// The tab navigates to another whitelisted page that has no suggestions.
	r.Updated(context.Background(), tabs.Tab{ID: "1", URL: "https://www.nytimes.com/other"}, StatusComplete)
	if f.indicator.Visible("1") {
		t.Fatal("expected indicator hidden for the new page")
	}

	close(release)
	<-done
	if f.indicator.Visible("1") {
		t.Error("a resolution started before navigation must not update the indicator")
	}
}

func TestIndicatorSequence(t *testing.T) {
	f := newFixture(t)
	var seen []bool
	f.indicator.OnChange(func(tabID string, visible bool) {
		seen = append(seen, visible)
	})

	f.router.Activated(context.Background(), tabs.Tab{ID: "1", URL: storyURL})
	f.router.Activated(context.Background(), tabs.Tab{ID: "1", URL: "https://example.com/"})
	f.router.Updated(context.Background(), tabs.Tab{ID: "1", URL: storyURL}, StatusComplete)

	if !slices.Equal(seen, []bool{true, false, true}) {
		t.Errorf("unexpected indicator changes: %v", seen)
	}
}
