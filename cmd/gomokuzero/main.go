// Command gomokuzero generates five-in-a-row self-play data for an AlphaZero
// style trainer, serves a policy/value model to remote self-play hosts, and
// summarizes the generated corpus.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/brensch/gomokuzero/config"
	"github.com/brensch/gomokuzero/logging"
)

var (
	configPath string
	logLevel   string

	cfg       config.Config
	logger    *slog.Logger
	closeLogs = func() error { return nil }

	rootCmd = &cobra.Command{
		Use:           "gomokuzero",
		Short:         "Five-in-a-row MCTS self-play",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(configPath)
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.Log.Level = logLevel
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return closeLogs()
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log.level (debug, info, warn, error)")

	rootCmd.AddCommand(selfplayCmd, serveOracleCmd, statsCmd, debugGameCmd, viewCmd, repackCmd)
}

// setupLogging opens the configured logger. Commands call it after applying
// their own flags, since the TUI moves logs to a file.
func setupLogging() error {
	l, closeFn, err := logging.New(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}
	logger, closeLogs = l, closeFn
	slog.SetDefault(l)
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
