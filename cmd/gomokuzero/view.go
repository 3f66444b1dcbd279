package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/brensch/gomokuzero/corpus"
	"github.com/brensch/gomokuzero/viewer"
)

var viewFlags struct {
	listen string
}

var viewCmd = &cobra.Command{
	Use:   "view [dir...]",
	Short: "Serve generated games and debug trees as JSON (default output.dir)",
	RunE:  runView,
}

func init() {
	viewCmd.Flags().StringVar(&viewFlags.listen, "listen", ":8080", "Listen address")
}

func runView(cmd *cobra.Command, args []string) error {
	if err := setupLogging(); err != nil {
		return err
	}
	ctx := cmd.Context()
	dirs := args
	if len(dirs) == 0 {
		dirs = []string{cfg.Output.Dir}
	}

	db, err := corpus.Open(ctx, dirs)
	if err != nil {
		return err
	}
	defer db.Close()

	h, err := openOracle(cfg, logger)
	if err != nil {
		return err
	}
	defer h.close()

	s := &viewer.Server{
		Corpus:   db,
		DebugDir: cfg.Output.DebugDir,
		Oracle:   h.oracle,
		Board:    cfg.BoardOptions(),
		Search:   cfg.MCTSConfig(),
		Logger:   logger,
	}
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	srv := &http.Server{Addr: viewFlags.listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	logger.Info("viewer listening", "addr", viewFlags.listen, "dirs", dirs, "debug_dir", cfg.Output.DebugDir)

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve viewer: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
