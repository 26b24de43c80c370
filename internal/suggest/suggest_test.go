package suggest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/eggpi/similarity/internal/cache"
	"github.com/eggpi/similarity/internal/tabs"
)

const storyURL = "https://www.nytimes.com/2024/03/01/science/storm.html"

type staticRules struct {
	rules []string
	err   error
}

func (s staticRules) LoadWhitelist() ([]string, error) { return s.rules, s.err }

type fakeExtractor struct {
	mu      sync.Mutex
	calls   int
	err     error
	gates   map[int]chan struct{}
	started chan int
}

func (f *fakeExtractor) Extract(ctx context.Context, t tabs.Tab) (string, error) {
	f.mu.Lock()
	n := f.calls
	f.calls++
	gate := f.gates[n]
	f.mu.Unlock()

	if f.started != nil {
		f.started <- n
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("%s#%d", t.URL, n), nil
}

func (f *fakeExtractor) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeLookup struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeLookup) Lookup(ctx context.Context, html, pageURL string) ([]cache.Article, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return []cache.Article{{Title: html, URL: "https://en.wikipedia.org/wiki/Storm", Similarity: 12.5}}, nil
}

func (f *fakeLookup) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fixture struct {
	resolver *Resolver
	cache    *cache.Cache
	pages    *fakeExtractor
	remote   *fakeLookup
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		cache:  cache.New(10, 600*time.Second),
		pages:  &fakeExtractor{gates: make(map[int]chan struct{}), started: make(chan int, 16)},
		remote: &fakeLookup{},
	}
	f.resolver = New(f.cache, staticRules{rules: []string{`nytimes\.com/.+`}}, f.pages, f.remote)
	return f
}

// gate blocks the n-th extraction until the returned channel is closed.
func (f *fixture) gate(n int) chan struct{} {
	ch := make(chan struct{})
	f.pages.mu.Lock()
	f.pages.gates[n] = ch
	f.pages.mu.Unlock()
	return ch
}

type result struct {
	articles []cache.Article
	err      error
}

func (f *fixture) resolveAsync(ctx context.Context, tab tabs.Tab, opts ...CallOption) <-chan result {
	ch := make(chan result, 1)
	go func() {
		articles, err := f.resolver.GetSuggestions(ctx, tab, opts...)
		ch <- result{articles, err}
	}()
	return ch
}

func waitStarted(t *testing.T, f *fixture, want int) {
	t.Helper()
	select {
	case n := <-f.pages.started:
		if n != want {
			t.Fatalf("expected extraction %d to start, got %d", want, n)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("extraction %d never started", want)
	}
}

func waitResult(t *testing.T, ch <-chan result) result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("resolution did not finish")
		return result{}
	}
}

func TestNoURL(t *testing.T) {
	f := newFixture(t)
	_, err := f.resolver.GetSuggestions(context.Background(), tabs.Tab{ID: "1"})
	if !errors.Is(err, ErrNoURL) {
		t.Fatalf("expected ErrNoURL, got %v", err)
	}
	if f.pages.Calls() != 0 || f.remote.Calls() != 0 {
		t.Error("expected no collaborator calls for a tab without URL")
	}
}

func TestNotWhitelisted(t *testing.T) {
	f := newFixture(t)
	got, err := f.resolver.GetSuggestions(context.Background(), tabs.Tab{ID: "1", URL: "https://example.com"})
	if err != nil {
		t.Fatalf("GetSuggestions: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil list, got %v", got)
	}
	if f.remote.Calls() != 0 {
		t.Errorf("expected remote lookup never to be called, got %d calls", f.remote.Calls())
	}
	if f.pages.Calls() != 0 {
		t.Errorf("expected no extraction, got %d calls", f.pages.Calls())
	}
	if f.cache.Len() != 0 {
		t.Error("non-whitelisted URL must not be cached")
	}
}

func TestNotWhitelistedIgnoresCache(t *testing.T) {
	f := newFixture(t)
	f.cache.Set("https://example.com/a", []cache.Article{{Title: "stale"}})

	got, err := f.resolver.GetSuggestions(context.Background(), tabs.Tab{ID: "1", URL: "https://example.com/a"})
	if err != nil {
		t.Fatalf("GetSuggestions: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected whitelist gate to win over cache, got %v", got)
	}
}

func TestFetchesAndCaches(t *testing.T) {
	f := newFixture(t)
	tab := tabs.Tab{ID: "1", URL: storyURL}

	got, err := f.resolver.GetSuggestions(context.Background(), tab)
	if err != nil {
		t.Fatalf("GetSuggestions: %v", err)
	}
	if len(got) != 1 || got[0].Title != storyURL+"#0" {
		t.Fatalf("unexpected result: %v", got)
	}
	if cached, ok := f.cache.Get(storyURL); !ok || cached[0].Title != got[0].Title {
		t.Errorf("expected result to be cached, got %v %v", cached, ok)
	}

	again, err := f.resolver.GetSuggestions(context.Background(), tabs.Tab{ID: "2", URL: storyURL})
	if err != nil {
		t.Fatalf("second GetSuggestions: %v", err)
	}
	if again[0].Title != got[0].Title {
		t.Errorf("expected cached result, got %v", again)
	}
	if f.remote.Calls() != 1 || f.pages.Calls() != 1 {
		t.Errorf("expected 1 extraction and 1 lookup, got %d and %d", f.pages.Calls(), f.remote.Calls())
	}
}

func TestWithoutCacheRefetches(t *testing.T) {
	f := newFixture(t)
	tab := tabs.Tab{ID: "1", URL: storyURL}

	if _, err := f.resolver.GetSuggestions(context.Background(), tab); err != nil {
		t.Fatalf("GetSuggestions: %v", err)
	}
	got, err := f.resolver.GetSuggestions(context.Background(), tab, WithoutCache())
	if err != nil {
		t.Fatalf("GetSuggestions without cache: %v", err)
	}
	if f.remote.Calls() != 2 {
		t.Errorf("expected 2 lookups, got %d", f.remote.Calls())
	}
	if cached, _ := f.cache.Get(storyURL); cached[0].Title != got[0].Title {
		t.Errorf("expected fresh result to replace cached one, got %v", cached)
	}
}

func TestExtractionErrorNotCached(t *testing.T) {
	f := newFixture(t)
	f.pages.err = errors.New("tab crashed")

	_, err := f.resolver.GetSuggestions(context.Background(), tabs.Tab{ID: "1", URL: storyURL})
	var extractErr *ExtractionError
	if !errors.As(err, &extractErr) {
		t.Fatalf("expected ExtractionError, got %v", err)
	}
	if extractErr.URL != storyURL {
		t.Errorf("unexpected URL in error: %s", extractErr.URL)
	}
	if f.remote.Calls() != 0 {
		t.Error("remote lookup must not run after extraction failed")
	}
	if f.cache.Len() != 0 {
		t.Error("failed lookup must not populate the cache")
	}
}

func TestRemoteErrorNotCached(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("similarity API 500: boom")
	f.remote.err = boom

	_, err := f.resolver.GetSuggestions(context.Background(), tabs.Tab{ID: "1", URL: storyURL})
	var lookupErr *RemoteLookupError
	if !errors.As(err, &lookupErr) {
		t.Fatalf("expected RemoteLookupError, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Error("expected RemoteLookupError to unwrap to the cause")
	}
	if f.cache.Len() != 0 {
		t.Error("failed lookup must not populate the cache")
	}
}

func TestConcurrentCallsShareOneLookup(t *testing.T) {
	f := newFixture(t)
	release := f.gate(0)

	first := f.resolveAsync(context.Background(), tabs.Tab{ID: "1", URL: storyURL})
	waitStarted(t, f, 0)
	second := f.resolveAsync(context.Background(), tabs.Tab{ID: "1", URL: storyURL})
	time.Sleep(50 * time.Millisecond)
	close(release)

	a := waitResult(t, first)
	b := waitResult(t, second)
	if a.err != nil || b.err != nil {
		t.Fatalf("unexpected errors: %v, %v", a.err, b.err)
	}
	if f.remote.Calls() != 1 {
		t.Errorf("expected exactly 1 remote lookup, got %d", f.remote.Calls())
	}
	if a.articles[0].Title != b.articles[0].Title {
		t.Errorf("callers got different results: %v vs %v", a.articles, b.articles)
	}
}

func TestConcurrentUncachedCallsShareOneLookup(t *testing.T) {
	f := newFixture(t)
	release := f.gate(0)

	first := f.resolveAsync(context.Background(), tabs.Tab{ID: "1", URL: storyURL}, WithoutCache())
	waitStarted(t, f, 0)
	second := f.resolveAsync(context.Background(), tabs.Tab{ID: "2", URL: storyURL}, WithoutCache())
	time.Sleep(50 * time.Millisecond)
	close(release)

	a := waitResult(t, first)
	b := waitResult(t, second)
	if a.err != nil || b.err != nil {
		t.Fatalf("unexpected errors: %v, %v", a.err, b.err)
	}
	if f.remote.Calls() != 1 || f.pages.Calls() != 1 {
		t.Errorf("expected 1 extraction and 1 lookup, got %d and %d", f.pages.Calls(), f.remote.Calls())
	}
}

func TestCallsArrivingAsLookupFinishesShareIt(t *testing.T) {
	f := newFixture(t)

	const callers = 64
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			time.Sleep(time.Duration(i) * 50 * time.Microsecond)
			if _, err := f.resolver.GetSuggestions(context.Background(), tabs.Tab{ID: "1", URL: storyURL}); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.pages.Calls() != 1 || f.remote.Calls() != 1 {
		t.Errorf("expected 1 extraction and 1 lookup, got %d and %d", f.pages.Calls(), f.remote.Calls())
	}
}

func TestInvalidateDiscardsInFlightResult(t *testing.T) {
	f := newFixture(t)
	releaseOld := f.gate(0)
	releaseNew := f.gate(1)
	tab := tabs.Tab{ID: "1", URL: storyURL}

	old := f.resolveAsync(context.Background(), tab)
	waitStarted(t, f, 0)

	f.resolver.Invalidate(storyURL)
	fresh := f.resolveAsync(context.Background(), tab, WithoutCache())
	waitStarted(t, f, 1)

	close(releaseOld)
	r := waitResult(t, old)
	if r.err != nil {
		t.Fatalf("old resolution: %v", r.err)
	}
	if _, ok := f.cache.Get(storyURL); ok {
		t.Fatal("result of a lookup started before invalidation must not be cached")
	}

	close(releaseNew)
	r = waitResult(t, fresh)
	if r.err != nil {
		t.Fatalf("fresh resolution: %v", r.err)
	}
	cached, ok := f.cache.Get(storyURL)
	if !ok || cached[0].Title != storyURL+"#1" {
		t.Errorf("expected fresh result to be cached, got %v %v", cached, ok)
	}
}

func TestInvalidateRemovesEntry(t *testing.T) {
	f := newFixture(t)
	tab := tabs.Tab{ID: "1", URL: storyURL}
	if _, err := f.resolver.GetSuggestions(context.Background(), tab); err != nil {
		t.Fatalf("GetSuggestions: %v", err)
	}

	f.resolver.Invalidate(storyURL)
	f.resolver.Invalidate(storyURL)
	if _, ok := f.cache.Get(storyURL); ok {
		t.Error("expected entry to be invalidated")
	}

	if _, err := f.resolver.GetSuggestions(context.Background(), tab); err != nil {
		t.Fatalf("GetSuggestions: %v", err)
	}
	if f.remote.Calls() != 2 {
		t.Errorf("expected a new lookup after invalidation, got %d lookups", f.remote.Calls())
	}
}

func TestCallerCancelLetsFlightFinish(t *testing.T) {
	f := newFixture(t)
	release := f.gate(0)
	ctx, cancel := context.WithCancel(context.Background())

	ch := f.resolveAsync(ctx, tabs.Tab{ID: "1", URL: storyURL})
	waitStarted(t, f, 0)
	cancel()

	r := waitResult(t, ch)
	if !errors.Is(r.err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", r.err)
	}

	close(release)
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := f.cache.Get(storyURL); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("background flight never populated the cache")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestFlightTimeout(t *testing.T) {
	f := newFixture(t)
	f.gate(0)
	f.resolver = New(f.cache, staticRules{rules: []string{`nytimes\.com/.+`}}, f.pages, f.remote,
		WithTimeout(20*time.Millisecond))

	_, err := f.resolver.GetSuggestions(context.Background(), tabs.Tab{ID: "1", URL: storyURL})
	var extractErr *ExtractionError
	if !errors.As(err, &extractErr) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected extraction deadline error, got %v", err)
	}
}

func TestRuleSourceErrorFallsBackToDefaults(t *testing.T) {
	f := newFixture(t)
	f.resolver = New(f.cache, staticRules{err: errors.New("database is locked")}, f.pages, f.remote)

	got, err := f.resolver.GetSuggestions(context.Background(), tabs.Tab{ID: "1", URL: storyURL})
	if err != nil {
		t.Fatalf("GetSuggestions: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("expected default rules to whitelist nytimes, got %v", got)
	}
}

func TestKeyStateReleased(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		if _, err := f.resolver.GetSuggestions(context.Background(), tabs.Tab{ID: "1", URL: storyURL}, WithoutCache()); err != nil {
			t.Fatalf("GetSuggestions: %v", err)
		}
	}
	f.resolver.mu.Lock()
	defer f.resolver.mu.Unlock()
	if len(f.resolver.keys) != 0 {
		t.Errorf("expected no key state after all callers returned, got %d", len(f.resolver.keys))
	}
}
