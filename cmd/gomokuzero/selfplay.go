package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/brensch/gomokuzero/executor/inference"
	"github.com/brensch/gomokuzero/executor/selfplay"
	"github.com/brensch/gomokuzero/store"
)

var selfplayFlags struct {
	games   int
	workers int
	seed    int64
	outDir  string
	tui     bool
}

var selfplayCmd = &cobra.Command{
	Use:   "selfplay",
	Short: "Play self-play games and write training shards",
	RunE:  runSelfplay,
}

func init() {
	f := selfplayCmd.Flags()
	f.IntVar(&selfplayFlags.games, "games", -1, "Games to play; 0 runs until interrupted (default from config)")
	f.IntVar(&selfplayFlags.workers, "workers", -1, "Concurrent games (default from config, 0 = one per CPU)")
	f.Int64Var(&selfplayFlags.seed, "seed", 0, "RNG seed (default from config, 0 = clock)")
	f.StringVar(&selfplayFlags.outDir, "out-dir", "", "Output directory for training shards")
	f.BoolVar(&selfplayFlags.tui, "tui", false, "Show a live progress view; logs go to selfplay.log unless log.file is set")
}

func applySelfplayFlags(cmd *cobra.Command) {
	if selfplayFlags.games >= 0 {
		cfg.SelfPlay.Games = selfplayFlags.games
	}
	if selfplayFlags.workers >= 0 {
		cfg.SelfPlay.Workers = selfplayFlags.workers
	}
	if cmd.Flags().Changed("seed") {
		cfg.SelfPlay.Seed = selfplayFlags.seed
	}
	if selfplayFlags.outDir != "" {
		cfg.Output.Dir = selfplayFlags.outDir
	}
	if selfplayFlags.tui && cfg.Log.File == "" {
		cfg.Log.File = "selfplay.log"
	}
}

func runSelfplay(cmd *cobra.Command, args []string) error {
	applySelfplayFlags(cmd)
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := setupLogging(); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	h, err := openOracle(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := h.close(); err != nil {
			logger.Warn("close oracle", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := selfplay.NewMetrics(reg)
	if cfg.Metrics.Addr != "" {
		stopMetrics := serveMetrics(cfg.Metrics.Addr, reg, logger)
		defer stopMetrics()
	}

	ledgerPath := cfg.Output.Ledger
	if ledgerPath == "" {
		ledgerPath = filepath.Join(cfg.Output.Dir, "games.log")
	}
	ledger, err := store.OpenLedger(ledgerPath)
	if err != nil {
		return err
	}
	defer ledger.Close()

	shards := store.NewShardRotator(cfg.Output.Dir, cfg.SelfPlay.GamesPerShard, ledger, logger)
	sink := func(t *selfplay.Trajectory) error {
		if err := shards.WriteGame(t.GameID, t.TrainingRows(cfg.SelfPlay.Augment)); err != nil {
			return err
		}
		if len(t.Searches) > 0 {
			path, err := selfplay.WriteDebugGame(cfg.Output.DebugDir, t, cfg.MCTSConfig())
			if err != nil {
				// Debug games are best effort.
				logger.Warn("write debug game", "game_id", t.GameID, "error", err)
			} else {
				logger.Info("debug game written", "path", path, "game_id", t.GameID)
			}
		}
		return nil
	}

	gameOpts := cfg.GameOptions()
	gameOpts.Model = h.model
	opts := selfplay.BatchOptions{
		Game:         gameOpts,
		Games:        cfg.SelfPlay.Games,
		Workers:      cfg.SelfPlay.Workers,
		Seed:         cfg.SelfPlay.Seed,
		CaptureEvery: cfg.SelfPlay.DebugEvery,
		Metrics:      metrics,
	}

	var progress *progressModel
	if selfplayFlags.tui {
		progress = newProgressModel(cfg.SelfPlay.Games)
		opts.OnGame = progress.observe
	}

	stopStats := logOracleStats(ctx, h.stats, logger)
	defer stopStats()

	var report selfplay.BatchReport
	var runErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		report, runErr = selfplay.RunBatch(ctx, opts, h.oracle, sink, logger)
	}()

	if progress != nil {
		p := tea.NewProgram(progress, tea.WithContext(ctx))
		go func() {
			<-done
			p.Quit()
		}()
		if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			logger.Warn("progress view", "error", err)
		}
		// Quitting the view stops the run.
		cancel()
	}
	<-done

	if err := shards.Flush(); err != nil {
		return fmt.Errorf("final shard: %w", err)
	}
	if errors.Is(runErr, context.Canceled) {
		logger.Info("self-play stopped", "completed", report.Completed, "skipped", report.Skipped)
		runErr = nil
	}
	if runErr != nil {
		return runErr
	}
	logger.Info("self-play done",
		"completed", report.Completed,
		"skipped", report.Skipped,
		"shards", len(shards.Shards()),
		"ledger_games", ledger.Len(),
	)
	return nil
}

// serveMetrics exposes reg on addr until the returned func is called.
func serveMetrics(addr string, reg *prometheus.Registry, log *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server", "addr", addr, "error", err)
		}
	}()
	log.Info("serving metrics", "addr", addr)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// logOracleStats logs batching stats every 10s while ctx is live.
func logOracleStats(ctx context.Context, stats inference.StatsProvider, log *slog.Logger) func() {
	if stats == nil {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				st := stats.Stats()
				log.Info("oracle stats",
					"batches", st.TotalBatches,
					"items", st.TotalItems,
					"batch_avg", fmt.Sprintf("%.1f", st.AvgBatchSize),
					"batch_last", st.LastBatchSize,
					"queue", st.QueueLen,
					"run_avg_ms", fmt.Sprintf("%.2f", st.AvgRunMs),
				)
			}
		}
	}()
	return cancel
}
