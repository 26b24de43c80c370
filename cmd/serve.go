package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eggpi/similarity/internal/cache"
	"github.com/eggpi/similarity/internal/config"
	"github.com/eggpi/similarity/internal/page"
	"github.com/eggpi/similarity/internal/pageaction"
	"github.com/eggpi/similarity/internal/router"
	"github.com/eggpi/similarity/internal/server"
	"github.com/eggpi/similarity/internal/similarity"
	"github.com/eggpi/similarity/internal/store"
	"github.com/eggpi/similarity/internal/suggest"
	"github.com/eggpi/similarity/internal/tabs"
	"github.com/spf13/cobra"
)

var flagListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the browser bridge",
	Long: `Run the local HTTP bridge the browser extension reports tab events to.

Page markup is read from Chrome over the DevTools protocol when extractor is
"chrome", otherwise the daemon fetches each URL itself.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&flagListen, "listen", "", "override the listen address")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	if flagListen != "" {
		cfg.Listen = flagListen
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(config.DataPath())
	if err != nil {
		return fmt.Errorf("opening settings: %w", err)
	}
	defer st.Close()

	pages, err := newExtractor(ctx, cfg)
	if err != nil {
		return err
	}

	c := cache.New(cfg.CacheSize(), cfg.CacheTTL())
	remote := similarity.New(cfg.Endpoint, similarity.WithLogger(logger))
	resolver := suggest.New(c, st, pages, remote,
		suggest.WithTimeout(cfg.LookupTimeoutDuration()),
		suggest.WithLogger(logger))

	indicator := pageaction.NewRegistry()
	indicator.OnChange(func(tabID string, visible bool) {
		logger.Debug("page action changed", "tab", tabID, "visible", visible)
	})
	rt := router.New(resolver, indicator, tabs.NewRegistry(), logger)

	httpSrv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           server.New(rt, indicator, st, c, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("bridge listening", "addr", cfg.Listen, "extractor", cfg.Extractor,
			"cache_entries", c.MaxEntries(), "cache_ttl", c.TTL())
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}

func newExtractor(ctx context.Context, cfg *config.Config) (suggest.Extractor, error) {
	if cfg.Extractor == config.ExtractorChrome {
		ce, err := page.NewChromeExtractor(ctx, cfg.CDPURL)
		if err != nil {
			return nil, err
		}
		return ce, nil
	}
	slog.Debug("using direct http extractor")
	return page.NewHTTPExtractor(page.WithTimeout(cfg.LookupTimeoutDuration())), nil
}
