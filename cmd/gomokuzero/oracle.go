package main

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/brensch/gomokuzero/config"
	"github.com/brensch/gomokuzero/executor/convert"
	"github.com/brensch/gomokuzero/executor/inference"
	"github.com/brensch/gomokuzero/executor/mcts"
)

// oracleHandle is the oracle self-play searches with, plus what it takes to
// report on and release it.
type oracleHandle struct {
	oracle mcts.Oracle
	// model names the oracle in stored rows.
	model  string
	stats  inference.StatsProvider
	close  func() error
}

func openOracle(cfg config.Config, log *slog.Logger) (*oracleHandle, error) {
	h := &oracleHandle{model: cfg.Oracle.Kind, close: func() error { return nil }}
	codec := convert.NewCodec(cfg.SelfPlay.FeaturePlanes, cfg.Board.Size)

	switch cfg.Oracle.Kind {
	case config.OracleUniform:
		h.oracle = inference.UniformOracle{}
	case config.OracleHeuristic:
		h.oracle = inference.HeuristicOracle{Temperature: cfg.Oracle.HeuristicTemperature}
	case config.OracleONNX:
		pool, err := openOnnxPool(cfg, log)
		if err != nil {
			return nil, err
		}
		h.oracle = inference.NewBoardOracle(codec, pool)
		h.model = resolveModelPath(cfg.Oracle.ModelPath)
		h.stats = pool
		h.close = pool.Close
	case config.OracleRemote:
		client, err := inference.DialRemote(cfg.Oracle.URL, cfg.Oracle.DialTimeout, log)
		if err != nil {
			return nil, err
		}
		h.oracle = inference.NewBoardOracle(codec, client)
		h.model = cfg.Oracle.URL
		h.close = client.Close
	default:
		return nil, fmt.Errorf("unknown oracle kind %q", cfg.Oracle.Kind)
	}

	log.Info("oracle ready", "kind", cfg.Oracle.Kind, "model", h.model)
	return h, nil
}

func openOnnxPool(cfg config.Config, log *slog.Logger) (*inference.Pool, error) {
	onnxCfg := cfg.OnnxClientConfig()
	onnxCfg.Logger = log
	pool, err := inference.NewOnnxPool(cfg.Oracle.ModelPath, cfg.Oracle.Sessions, onnxCfg)
	if err != nil {
		return nil, fmt.Errorf("open model %s: %w", cfg.Oracle.ModelPath, err)
	}
	return pool, nil
}

// resolveModelPath follows symlinks such as models/latest.onnx so rows name
// the actual generation.
func resolveModelPath(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		if abs, err := filepath.Abs(resolved); err == nil {
			return abs
		}
		return resolved
	}
	return path
}
