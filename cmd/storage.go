package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/eggpi/similarity/internal/config"
	"github.com/eggpi/similarity/internal/server"
	"github.com/eggpi/similarity/internal/store"
	"github.com/eggpi/similarity/internal/whitelist"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the bridge's cache and settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := setup()
		if err != nil {
			return err
		}

		dbPath := config.DataPath()
		fmt.Printf("Settings: %s", dbPath)
		if info, err := os.Stat(dbPath); err == nil {
			fmt.Printf(" (%s)", humanize.Bytes(uint64(info.Size())))
		}
		fmt.Println()

		st, err := store.Open(dbPath)
		if err != nil {
			return fmt.Errorf("opening settings: %w", err)
		}
		defer st.Close()
		rules, err := st.LoadWhitelist()
		if err != nil {
			return err
		}
		updated, ok, err := st.UpdatedAt()
		if err != nil {
			return err
		}
		if ok {
			fmt.Printf("Whitelist: %d rules, changed %s\n", len(rules), humanize.Time(updated))
		} else {
			fmt.Printf("Whitelist: %d default rules\n", len(rules))
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()
		state, err := server.NewClient(cfg.Listen).Cache(ctx)
		if err != nil {
			fmt.Printf("Bridge: not reachable at %s (%v)\n", cfg.Listen, err)
			return nil
		}
		fmt.Printf("Bridge: %s\n", cfg.Listen)
		renderCacheState(os.Stdout, state, time.Now())
		return nil
	},
}

func renderCacheState(w io.Writer, state server.CacheState, now time.Time) {
	ttl := time.Duration(state.TTLSeconds * float64(time.Second))
	fmt.Fprintf(w, "Tabs:  %d tracked\n", state.Tabs)
	fmt.Fprintf(w, "Cache: %d/%d entries, ttl %s\n", len(state.Entries), state.MaxEntries, ttl)
	for _, e := range state.Entries {
		fmt.Fprintf(w, "  %s  %d articles, added %s, expires %s\n",
			e.Key,
			e.Articles,
			humanize.RelTime(e.InsertedAt, now, "ago", "from now"),
			humanize.RelTime(e.InsertedAt.Add(ttl), now, "ago", "from now"))
	}
}

var whitelistCmd = &cobra.Command{
	Use:   "whitelist",
	Short: "Manage the URL patterns that get suggestions",
	Long: `Rules are case-insensitive regular expressions matched anywhere in a page's
URL, e.g. nytimes\.com/.+ . Changes apply to a running bridge immediately.`,
}

var whitelistListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the rules",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(st *store.Store) error {
			rules, err := st.LoadWhitelist()
			if err != nil {
				return err
			}
			renderRules(os.Stdout, rules)
			return nil
		})
	},
}

var whitelistAddCmd = &cobra.Command{
	Use:   "add <pattern>",
	Short: "Add a rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(st *store.Store) error {
			rules, err := st.LoadWhitelist()
			if err != nil {
				return err
			}
			rules, err = whitelist.Add(rules, args[0])
			if err != nil {
				return fmt.Errorf("adding %q: %w", args[0], err)
			}
			return st.SaveWhitelist(rules)
		})
	},
}

var whitelistRemoveCmd = &cobra.Command{
	Use:   "remove <number|pattern>",
	Short: "Remove a rule by its number in list or by its text",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(st *store.Store) error {
			rules, err := st.LoadWhitelist()
			if err != nil {
				return err
			}
			i, err := ruleIndex(rules, args[0])
			if err != nil {
				return err
			}
			rules, err = whitelist.Remove(rules, i)
			if err != nil {
				return err
			}
			return st.SaveWhitelist(rules)
		})
	},
}

var whitelistResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Restore the default rules",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(st *store.Store) error {
			rules, err := st.ResetWhitelist()
			if err != nil {
				return err
			}
			fmt.Printf("Restored %d default rules.\n", len(rules))
			return nil
		})
	},
}

var whitelistTestCmd = &cobra.Command{
	Use:   "test <url>",
	Short: "Check whether a URL is whitelisted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(st *store.Store) error {
			rules, err := st.LoadWhitelist()
			if err != nil {
				return err
			}
			for _, rule := range rules {
				if whitelist.Matches(args[0], []string{rule}) {
					fmt.Printf("whitelisted by %s\n", rule)
					return nil
				}
			}
			fmt.Println("not whitelisted")
			return nil
		})
	},
}

func init() {
	whitelistCmd.AddCommand(whitelistListCmd, whitelistAddCmd, whitelistRemoveCmd, whitelistResetCmd, whitelistTestCmd)
}

func withStore(fn func(st *store.Store) error) error {
	if _, _, err := setup(); err != nil {
		return err
	}
	st, err := store.Open(config.DataPath())
	if err != nil {
		return fmt.Errorf("opening settings: %w", err)
	}
	defer st.Close()
	return fn(st)
}

func renderRules(w io.Writer, rules []string) {
	if len(rules) == 0 {
		fmt.Fprintln(w, "No rules; no page gets suggestions.")
		return
	}
	for i, rule := range rules {
		fmt.Fprintf(w, "%3d  %s\n", i+1, rule)
	}
}

// ruleIndex resolves a 1-based number as printed by list, or the rule text.
func ruleIndex(rules []string, arg string) (int, error) {
	if n, err := strconv.Atoi(arg); err == nil {
		if n < 1 || n > len(rules) {
			return 0, fmt.Errorf("no rule number %d (have %d)", n, len(rules))
		}
		return n - 1, nil
	}
	for i, rule := range rules {
		if rule == arg {
			return i, nil
		}
	}
	return 0, errors.New("no such rule: " + arg)
}
