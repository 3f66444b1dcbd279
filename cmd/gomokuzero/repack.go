package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/brensch/gomokuzero/store"
)

var repackFlags struct {
	gamesPerShard int
	canonical     bool
	noLedger      bool
}

var repackCmd = &cobra.Command{
	Use:   "repack <in-dir> <out-dir>",
	Short: "Rewrite training shards with a new shard size, optionally dropping symmetries",
	Args:  cobra.ExactArgs(2),
	RunE:  runRepack,
}

func init() {
	f := repackCmd.Flags()
	f.IntVar(&repackFlags.gamesPerShard, "games-per-shard", 0, "Games per output shard (default selfplay.games_per_shard)")
	f.BoolVar(&repackFlags.canonical, "canonical", false, "Keep only the untransformed position of every move")
	f.BoolVar(&repackFlags.noLedger, "no-ledger", false, "Do not skip or record games in <out-dir>/games.log")
}

func runRepack(cmd *cobra.Command, args []string) error {
	if err := setupLogging(); err != nil {
		return err
	}
	inDir, outDir := args[0], args[1]
	if filepath.Clean(inDir) == filepath.Clean(outDir) {
		return fmt.Errorf("repack: in-dir and out-dir are both %s", inDir)
	}

	opts := store.RepackOptions{
		GamesPerShard: cfg.SelfPlay.GamesPerShard,
		Canonical:     repackFlags.canonical,
		Logger:        logger,
	}
	if repackFlags.gamesPerShard > 0 {
		opts.GamesPerShard = repackFlags.gamesPerShard
	}
	if !repackFlags.noLedger {
		ledger, err := store.OpenLedger(filepath.Join(outDir, "games.log"))
		if err != nil {
			return err
		}
		defer ledger.Close()
		opts.Ledger = ledger
	}

	report, err := store.Repack(inDir, outDir, opts)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d games (%d skipped), %d rows, %d shards\n",
		report.Games, report.Skipped, report.Rows, len(report.Shards))
	return nil
}
