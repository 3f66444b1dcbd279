package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/gomokuzero/executor/inference"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gomoku.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
board:
  size: 9
search:
  simulations: 64
selfplay:
  games: 10
  augment: false
oracle:
  kind: onnx
  model_path: models/gomoku.onnx
  batch_timeout: 5ms
  policy_output: logits
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9, cfg.Board.Size)
	assert.Equal(t, 5, cfg.Board.WinLength, "unset fields keep their defaults")
	assert.Equal(t, 64, cfg.Search.Simulations)
	assert.Equal(t, float32(5), cfg.Search.Cpuct)
	assert.Equal(t, 10, cfg.SelfPlay.Games)
	assert.False(t, cfg.SelfPlay.Augment)
	assert.Equal(t, 5*time.Millisecond, cfg.Oracle.BatchTimeout)
	assert.Equal(t, inference.PolicyLogits, cfg.Oracle.PolicyOutput)

	onnx := cfg.OnnxClientConfig()
	assert.Equal(t, 9, onnx.BoardSize)
	assert.Equal(t, 4, onnx.Planes)

	opts := cfg.GameOptions()
	assert.Equal(t, 9, opts.Board.Size)
	assert.Equal(t, 64, opts.Search.Simulations)
}

func TestLoad_EnvironmentWins(t *testing.T) {
	path := writeConfig(t, "search:\n  simulations: 64\n")
	t.Setenv("GOMOKU_SIMULATIONS", "32")
	t.Setenv("GOMOKU_CPUCT", "1.5")
	t.Setenv("GOMOKU_ORACLE", "uniform")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 32, cfg.Search.Simulations)
	assert.Equal(t, float32(1.5), cfg.Search.Cpuct)
	assert.Equal(t, OracleUniform, cfg.Oracle.Kind)
}

func TestLoad_BadEnvironmentValue(t *testing.T) {
	t.Setenv("GOMOKU_GAMES", "lots")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GOMOKU_GAMES")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"board too small", func(c *Config) { c.Board.Size = 4 }},
		{"win longer than board", func(c *Config) { c.Board.Size = 6; c.Board.WinLength = 7 }},
		{"no simulations", func(c *Config) { c.Search.Simulations = 0 }},
		{"onnx without model", func(c *Config) { c.Oracle.Kind = OracleONNX }},
		{"remote without url", func(c *Config) { c.Oracle.Kind = OracleRemote }},
		{"unknown oracle", func(c *Config) { c.Oracle.Kind = "magic" }},
		{"unknown policy output", func(c *Config) { c.Oracle.PolicyOutput = "odds" }},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }},
		{"no output dir", func(c *Config) { c.Output.Dir = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := Default()
	cfg.Oracle.Kind = OracleRemote
	cfg.Oracle.URL = "ws://localhost:8765/oracle"
	assert.NoError(t, cfg.Validate())
}
