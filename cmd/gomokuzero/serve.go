package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/brensch/gomokuzero/executor/inference"
)

var serveFlags struct {
	listen string
	model  string
}

var serveOracleCmd = &cobra.Command{
	Use:   "serve-oracle",
	Short: "Serve an ONNX policy/value model to remote self-play hosts",
	RunE:  runServeOracle,
}

func init() {
	f := serveOracleCmd.Flags()
	f.StringVar(&serveFlags.listen, "listen", "", "Listen address (default oracle.listen_addr)")
	f.StringVar(&serveFlags.model, "model", "", "ONNX model (default oracle.model_path)")
}

func runServeOracle(cmd *cobra.Command, args []string) error {
	if serveFlags.listen != "" {
		cfg.Oracle.ListenAddr = serveFlags.listen
	}
	if serveFlags.model != "" {
		cfg.Oracle.ModelPath = serveFlags.model
	}
	if cfg.Oracle.ModelPath == "" {
		return errors.New("serve-oracle needs a model: set oracle.model_path or --model")
	}
	if err := setupLogging(); err != nil {
		return err
	}
	ctx := cmd.Context()

	pool, err := openOnnxPool(cfg, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registerEvaluatorStats(reg, pool)

	mux := http.NewServeMux()
	mux.Handle("/oracle", inference.NewRemoteHandler(pool, logger))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{Addr: cfg.Oracle.ListenAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	logger.Info("oracle listening",
		"addr", cfg.Oracle.ListenAddr,
		"model", resolveModelPath(cfg.Oracle.ModelPath),
		"sessions", cfg.Oracle.Sessions,
	)

	select {
	case err := <-errc:
		return fmt.Errorf("serve oracle: %w", err)
	case <-ctx.Done():
	}

	logger.Info("oracle shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// Hijacked websocket connections are not tracked by Shutdown; closing
	// the pool fails their in-flight calls.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// registerEvaluatorStats exports the evaluator's batching stats.
func registerEvaluatorStats(reg prometheus.Registerer, sp inference.StatsProvider) {
	gauge := func(name, help string, f func(inference.RuntimeStats) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, func() float64 {
			return f(sp.Stats())
		})
	}
	counter := func(name, help string, f func(inference.RuntimeStats) float64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{Name: name, Help: help}, func() float64 {
			return f(sp.Stats())
		})
	}
	reg.MustRegister(
		counter("gomoku_model_batches_total", "Batches run by the model.",
			func(s inference.RuntimeStats) float64 { return float64(s.TotalBatches) }),
		counter("gomoku_model_items_total", "Positions evaluated by the model.",
			func(s inference.RuntimeStats) float64 { return float64(s.TotalItems) }),
		gauge("gomoku_model_queue_length", "Positions waiting for a batch.",
			func(s inference.RuntimeStats) float64 { return float64(s.QueueLen) }),
		gauge("gomoku_model_batch_size_avg", "Mean batch size since start.",
			func(s inference.RuntimeStats) float64 { return s.AvgBatchSize }),
		gauge("gomoku_model_run_ms_avg", "Mean batch run time in milliseconds.",
			func(s inference.RuntimeStats) float64 { return s.AvgRunMs }),
	)
}
