// Package config loads the settings shared by every gomokuzero command:
// defaults, then an optional YAML file, then GOMOKU_* environment
// overrides, then validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/brensch/gomokuzero/executor/inference"
	"github.com/brensch/gomokuzero/executor/mcts"
	"github.com/brensch/gomokuzero/executor/selfplay"
	"github.com/brensch/gomokuzero/game"
	"github.com/brensch/gomokuzero/logging"
)

const (
	OracleUniform   = "uniform"
	OracleHeuristic = "heuristic"
	OracleONNX      = "onnx"
	OracleRemote    = "remote"
)

type Config struct {
	Board    BoardConfig    `yaml:"board"`
	Search   SearchConfig   `yaml:"search"`
	SelfPlay SelfPlayConfig `yaml:"selfplay"`
	Oracle   OracleConfig   `yaml:"oracle"`
	Output   OutputConfig   `yaml:"output"`
	Log      logging.Config `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

type BoardConfig struct {
	Size         int `yaml:"size" validate:"min=5,max=32"`
	SearchRadius int `yaml:"search_radius" validate:"min=1,ltfield=Size"`
	WinLength    int `yaml:"win_length" validate:"min=3,ltefield=Size"`
}

type SearchConfig struct {
	Cpuct       float32 `yaml:"cpuct" validate:"gt=0"`
	Simulations int     `yaml:"simulations" validate:"min=1"`
}

type SelfPlayConfig struct {
	// Games is the number of games to play; 0 runs until interrupted.
	Games   int   `yaml:"games" validate:"min=0"`
	Workers int   `yaml:"workers" validate:"min=0"`
	Seed    int64 `yaml:"seed"`

	MaxMoves         int     `yaml:"max_moves" validate:"min=0"`
	FeaturePlanes    int     `yaml:"feature_planes" validate:"min=1,max=16"`
	Temperature      float64 `yaml:"temperature" validate:"gte=0"`
	TemperatureMoves int     `yaml:"temperature_moves" validate:"min=0"`

	// Augment stores all eight symmetries of every position.
	Augment       bool `yaml:"augment"`
	GamesPerShard int  `yaml:"games_per_shard" validate:"min=1"`

	// DebugEvery captures the search trees of every n-th game; 0 disables.
	DebugEvery   int `yaml:"debug_every" validate:"min=0"`
	CaptureDepth int `yaml:"capture_depth" validate:"min=0,max=8"`
}

type OracleConfig struct {
	Kind string `yaml:"kind" validate:"oneof=uniform heuristic onnx remote"`

	ModelPath    string                 `yaml:"model_path" validate:"required_if=Kind onnx"`
	Sessions     int                    `yaml:"sessions" validate:"min=1"`
	BatchSize    int                    `yaml:"batch_size" validate:"min=1"`
	BatchTimeout time.Duration          `yaml:"batch_timeout" validate:"gt=0"`
	PolicyOutput inference.PolicyOutput `yaml:"policy_output" validate:"omitempty,oneof=probs log_probs logits"`
	DisableCUDA  bool                   `yaml:"disable_cuda"`

	// HeuristicTemperature sharpens (<1) or flattens (>1) heuristic priors.
	HeuristicTemperature float32 `yaml:"heuristic_temperature" validate:"gte=0"`

	// URL of a serve-oracle instance, ws:// or wss://.
	URL         string        `yaml:"url" validate:"required_if=Kind remote"`
	DialTimeout time.Duration `yaml:"dial_timeout" validate:"gt=0"`

	// ListenAddr is where serve-oracle accepts connections.
	ListenAddr string `yaml:"listen_addr" validate:"required"`
}

type OutputConfig struct {
	Dir      string `yaml:"dir" validate:"required"`
	DebugDir string `yaml:"debug_dir"`
	// Ledger lists the games of every finalized shard; defaults to
	// <dir>/games.log.
	Ledger string `yaml:"ledger"`
}

type MetricsConfig struct {
	// Addr serves /metrics while self-play runs; empty disables it.
	Addr string `yaml:"addr"`
}

func Default() Config {
	return Config{
		Board: BoardConfig{
			Size:         game.DefaultSize,
			SearchRadius: game.DefaultSearchRadius,
			WinLength:    game.DefaultWinLength,
		},
		Search: SearchConfig{Cpuct: 5, Simulations: 400},
		SelfPlay: SelfPlayConfig{
			FeaturePlanes:    4,
			Temperature:      1,
			TemperatureMoves: 12,
			Augment:          true,
			GamesPerShard:    50,
			CaptureDepth:     2,
		},
		Oracle: OracleConfig{
			Kind:                 OracleHeuristic,
			Sessions:             1,
			BatchSize:            inference.DefaultBatchSize,
			BatchTimeout:         inference.DefaultBatchTimeout,
			PolicyOutput:         inference.PolicyProbs,
			HeuristicTemperature: 1,
			DialTimeout:          10 * time.Second,
			ListenAddr:           ":8765",
		},
		Output: OutputConfig{Dir: "data/generated", DebugDir: "data/debug_games"},
		Log:    logging.Config{Level: "info", Format: logging.FormatText},
	}
}

// Load returns Default overlaid with the YAML file at path (if path is not
// empty) and the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c Config) Validate() error {
	return validate.Struct(c)
}

type envVar struct {
	name string
	set  func(c *Config, v string) error
}

func intVar(dst func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst(c) = n
		return nil
	}
}

func stringVar(dst func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*dst(c) = v
		return nil
	}
}

var envVars = []envVar{
	{"GOMOKU_BOARD_SIZE", intVar(func(c *Config) *int { return &c.Board.Size })},
	{"GOMOKU_SIMULATIONS", intVar(func(c *Config) *int { return &c.Search.Simulations })},
	{"GOMOKU_CPUCT", func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 32)
		if err != nil {
			return err
		}
		c.Search.Cpuct = float32(f)
		return nil
	}},
	{"GOMOKU_GAMES", intVar(func(c *Config) *int { return &c.SelfPlay.Games })},
	{"GOMOKU_WORKERS", intVar(func(c *Config) *int { return &c.SelfPlay.Workers })},
	{"GOMOKU_SEED", func(c *Config, v string) error {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return err
		}
		c.SelfPlay.Seed = n
		return nil
	}},
	{"GOMOKU_ORACLE", stringVar(func(c *Config) *string { return &c.Oracle.Kind })},
	{"GOMOKU_MODEL", stringVar(func(c *Config) *string { return &c.Oracle.ModelPath })},
	{"GOMOKU_ORACLE_URL", stringVar(func(c *Config) *string { return &c.Oracle.URL })},
	{"GOMOKU_ONNX_SESSIONS", intVar(func(c *Config) *int { return &c.Oracle.Sessions })},
	{"GOMOKU_ONNX_BATCH_SIZE", intVar(func(c *Config) *int { return &c.Oracle.BatchSize })},
	{"GOMOKU_OUT_DIR", stringVar(func(c *Config) *string { return &c.Output.Dir })},
	{"GOMOKU_LOG_LEVEL", stringVar(func(c *Config) *string { return &c.Log.Level })},
	{"GOMOKU_METRICS_ADDR", stringVar(func(c *Config) *string { return &c.Metrics.Addr })},
}

func applyEnv(c *Config, lookup func(string) (string, bool)) error {
	var errs []error
	for _, ev := range envVars {
		v, ok := lookup(ev.name)
		if !ok || v == "" {
			continue
		}
		if err := ev.set(c, v); err != nil {
			errs = append(errs, fmt.Errorf("%s=%q: %w", ev.name, v, err))
		}
	}
	return errors.Join(errs...)
}

func (c Config) BoardOptions() game.Options {
	return game.Options{Size: c.Board.Size, SearchRadius: c.Board.SearchRadius, WinLength: c.Board.WinLength}
}

func (c Config) MCTSConfig() mcts.Config {
	return mcts.Config{Cpuct: c.Search.Cpuct, Simulations: c.Search.Simulations}
}

// GameOptions maps the config onto one self-play game.
func (c Config) GameOptions() selfplay.Options {
	return selfplay.Options{
		Board:            c.BoardOptions(),
		Search:           c.MCTSConfig(),
		FeaturePlanes:    c.SelfPlay.FeaturePlanes,
		MaxMoves:         c.SelfPlay.MaxMoves,
		Temperature:      c.SelfPlay.Temperature,
		TemperatureMoves: c.SelfPlay.TemperatureMoves,
		CaptureDepth:     c.SelfPlay.CaptureDepth,
	}
}

func (c Config) OnnxClientConfig() inference.OnnxClientConfig {
	return inference.OnnxClientConfig{
		BatchSize:    c.Oracle.BatchSize,
		BatchTimeout: c.Oracle.BatchTimeout,
		Planes:       c.SelfPlay.FeaturePlanes,
		BoardSize:    c.Board.Size,
		PolicyOutput: c.Oracle.PolicyOutput,
		DisableCUDA:  c.Oracle.DisableCUDA,
	}
}
