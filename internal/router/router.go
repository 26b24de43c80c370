package router

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/eggpi/similarity/internal/cache"
	"github.com/eggpi/similarity/internal/suggest"
	"github.com/eggpi/similarity/internal/tabs"
)

const StatusComplete = "complete"

var ErrNoActiveTab = errors.New("no active tab")

type Suggester interface {
	GetSuggestions(ctx context.Context, t tabs.Tab, opts ...suggest.CallOption) ([]cache.Article, error)
	Invalidate(url string)
}

// Indicator is the page-action affordance of a tab.
type Indicator interface {
	Show(tabID string)
	Hide(tabID string)
}

// Router turns browser tab lifecycle events into resolutions and indicator
// updates. A resolution only updates the indicator if no newer event arrived
// for the same tab while it was running.
type Router struct {
	resolver  Suggester
	indicator Indicator
	tabs      *tabs.Registry
	logger    *slog.Logger

	mu   sync.Mutex
	next uint64
	seqs map[string]uint64
}

func New(resolver Suggester, indicator Indicator, registry *tabs.Registry, logger *slog.Logger) *Router {
	if registry == nil {
		registry = tabs.NewRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		resolver:  resolver,
		indicator: indicator,
		tabs:      registry,
		logger:    logger,
		seqs:      make(map[string]uint64),
	}
}

// Activated handles a tab gaining focus.
func (r *Router) Activated(ctx context.Context, t tabs.Tab) {
	r.tabs.Activate(t)
	seq := r.begin(t.ID)

	articles, err := r.resolver.GetSuggestions(ctx, t)
	r.apply(t, seq, articles, err)
}

// Updated handles a tab update. Only navigation-complete events refresh the
// tab; the same event may be delivered several times for one page load.
func (r *Router) Updated(ctx context.Context, t tabs.Tab, status string) {
	if status != StatusComplete {
		return
	}
	r.tabs.Update(t)
	seq := r.begin(t.ID)

	r.resolver.Invalidate(t.URL)
	articles, err := r.resolver.GetSuggestions(ctx, t, suggest.WithoutCache())
	r.apply(t, seq, articles, err)
}

// Removed handles a closed tab. t.URL is only used if the tab was never seen.
func (r *Router) Removed(t tabs.Tab) {
	if known, ok := r.tabs.Remove(t.ID); ok && known.URL != "" {
		t.URL = known.URL
	}

	r.mu.Lock()
	delete(r.seqs, t.ID)
	r.mu.Unlock()

	r.resolver.Invalidate(t.URL)
	r.logger.Debug("tab removed", "tab", t.ID, "url", t.URL)
}

// Query returns the suggestions for the active tab without touching its
// indicator.
func (r *Router) Query(ctx context.Context) ([]cache.Article, error) {
	t, ok := r.tabs.Active()
	if !ok {
		return nil, ErrNoActiveTab
	}
	return r.resolver.GetSuggestions(ctx, t)
}

// Tabs exposes the registry the router keeps up to date.
func (r *Router) Tabs() *tabs.Registry { return r.tabs }

func (r *Router) begin(tabID string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.seqs[tabID] = r.next
	return r.next
}

func (r *Router) apply(t tabs.Tab, seq uint64, articles []cache.Article, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.seqs[t.ID]; !ok || current != seq {
		r.logger.Debug("ignoring superseded resolution", "tab", t.ID, "url", t.URL)
		return
	}

	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, suggest.ErrNoURL) {
			level = slog.LevelInfo
		}
		r.logger.Log(context.Background(), level, "resolving suggestions failed",
			"tab", t.ID, "url", t.URL, "err", err)
		r.indicator.Hide(t.ID)
		return
	}
	if len(articles) > 0 {
		r.indicator.Show(t.ID)
	} else {
		r.indicator.Hide(t.ID)
	}
}
