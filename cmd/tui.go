package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/eggpi/similarity/internal/server"
	"github.com/eggpi/similarity/internal/tui"
	"github.com/spf13/cobra"
)

var popupCmd = &cobra.Command{
	Use:   "popup",
	Short: "Browse the suggestions for the active tab",
	Long:  "Ask a running bridge for the active tab's suggestions and open them in the browser.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := setup()
		if err != nil {
			return err
		}
		client := server.NewClient(cfg.Listen)

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()
		if err := client.Health(ctx); err != nil {
			return fmt.Errorf("no bridge at %s, start one with 'similar serve': %w", cfg.Listen, err)
		}
		return tui.Run(tui.RunOpts{
			Fetch:   client.Suggestions,
			Timeout: cfg.LookupTimeoutDuration() + 5*time.Second,
		})
	},
}
