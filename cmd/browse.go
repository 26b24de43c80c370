package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/eggpi/similarity/internal/cache"
	"github.com/eggpi/similarity/internal/config"
	"github.com/eggpi/similarity/internal/page"
	"github.com/eggpi/similarity/internal/similarity"
	"github.com/eggpi/similarity/internal/store"
	"github.com/eggpi/similarity/internal/suggest"
	"github.com/eggpi/similarity/internal/tabs"
	"github.com/spf13/cobra"
)

var (
	flagLookupAny bool
	flagInspectN  int
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "#5A56E0", Dark: "#7571F9"})
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#9B9B9B", Dark: "#626262"})
	scoreStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#04B575", Dark: "#25D366"})
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F25D94"))
)

var lookupCmd = &cobra.Command{
	Use:   "lookup <url>",
	Short: "Print the articles similar to a page",
	Long: `Fetch a page and ask the similarity service for related articles.

Only whitelisted pages are looked up unless --any is given.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}

		var rules suggest.RuleSource = anyPage{}
		if !flagLookupAny {
			st, err := store.Open(config.DataPath())
			if err != nil {
				return fmt.Errorf("opening settings: %w", err)
			}
			defer st.Close()
			rules = st
		}

		timeout := cfg.LookupTimeoutDuration()
		resolver := suggest.New(
			cache.New(1, cfg.CacheTTL()),
			rules,
			page.NewHTTPExtractor(page.WithTimeout(timeout)),
			similarity.New(cfg.Endpoint, similarity.WithLogger(logger)),
			suggest.WithTimeout(timeout),
			suggest.WithLogger(logger),
		)

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout+5*time.Second)
		defer cancel()
		articles, err := resolver.GetSuggestions(ctx, tabs.Tab{ID: "cli", URL: args[0]})
		if err != nil {
			return err
		}
		if len(articles) == 0 && !flagLookupAny {
			fmt.Fprintln(os.Stderr, warnStyle.Render("No suggestions. Is the page whitelisted? Try --any."))
		}
		renderArticles(os.Stdout, articles)
		return nil
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <url>",
	Short: "Show the readable text extracted from a page",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := setup()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.LookupTimeoutDuration())
		defer cancel()
		markup, err := page.NewHTTPExtractor().Extract(ctx, tabs.Tab{URL: args[0]})
		if err != nil {
			return err
		}
		text, err := page.ExtractText(markup, args[0])
		if err != nil {
			return err
		}
		renderText(os.Stdout, text, flagInspectN)
		return nil
	},
}

func init() {
	lookupCmd.Flags().BoolVar(&flagLookupAny, "any", false, "look up the page even if it is not whitelisted")
	inspectCmd.Flags().IntVarP(&flagInspectN, "chars", "n", 600, "characters of body text to print (0 for all)")
}

// anyPage admits every URL.
type anyPage struct{}

func (anyPage) LoadWhitelist() ([]string, error) { return []string{".*"}, nil }

func renderArticles(w io.Writer, articles []cache.Article) {
	for i, a := range articles {
		fmt.Fprintf(w, "%s %s %s\n",
			dimStyle.Render(fmt.Sprintf("%2d.", i+1)),
			titleStyle.Render(a.Title),
			scoreStyle.Render(fmt.Sprintf("%.2f", a.Similarity)))
		fmt.Fprintf(w, "    %s\n", dimStyle.Render(a.URL))
	}
}

func renderText(w io.Writer, t page.Text, n int) {
	fmt.Fprintln(w, titleStyle.Render(t.Title))
	if t.SiteName != "" {
		fmt.Fprintln(w, dimStyle.Render(t.SiteName))
	}
	if t.Description != "" {
		fmt.Fprintf(w, "\n%s\n", t.Description)
	}
	body := t.Body
	if n > 0 && len([]rune(body)) > n {
		body = string([]rune(body)[:n]) + "..."
	}
	fmt.Fprintf(w, "\n%s\n", strings.TrimSpace(body))
	fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("(%d characters)", len([]rune(t.Body)))))
}
