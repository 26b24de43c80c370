package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/eggpi/similarity/internal/config"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	flagConfig  string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "similar",
	Short: "Similar-article suggestions for the news you read",
	Long: `similar keeps a short-lived cache of Wikipedia articles similar to the news
stories open in your browser tabs. Run "similar serve" for the browser bridge,
or look up a single page with "similar lookup".`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to config file")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "log at debug level")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(lookupCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(popupCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(whitelistCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("similar %s (commit: %s, built: %s)\n", version, commit, date)
	},
}

// setup loads the config and installs the process logger.
func setup() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	logger := newLogger(cfg.SlogLevel(), flagVerbose)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func newLogger(level slog.Level, verbose bool) *slog.Logger {
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
}
