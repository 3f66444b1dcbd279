// Package store persists self-play samples as zstd-compressed parquet shards.
//
// Writers always produce files under <dir>/tmp first and rename them into
// <dir> once complete, so readers globbing <dir>/*.parquet never see a
// partially written shard.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"
)

const (
	TrainingSchema = "gomoku_training_row_v1"
	DebugSchema    = "gomoku_debug_move_v1"

	// SourceSelfPlay tags rows produced by the self-play runner.
	SourceSelfPlay = "selfplay"
)

// TrainingRow is one (position, symmetry) sample.
//
// X holds the feature planes as little-endian float32 in [Planes, BoardLen,
// BoardLen] order. Policy is the search distribution over every cell, in the
// same orientation as X. Value is the outcome label for Player, the side to
// move at this position: 1 win, -1 loss, 0 draw or move cap.
type TrainingRow struct {
	GameID   string    `parquet:"game_id,dict"`
	Move     int32     `parquet:"move"`
	Symmetry int32     `parquet:"symmetry"`
	BoardLen int32     `parquet:"board_len"`
	Planes   int32     `parquet:"planes"`
	X        []byte    `parquet:"x"`
	Policy   []float32 `parquet:"policy"`
	Action   int32     `parquet:"action"`
	Player   int32     `parquet:"player"`
	Value    float32   `parquet:"value"`
	Source   string    `parquet:"source,dict"`

	// Model is the oracle that produced the game, e.g. a resolved ONNX path.
	Model string `parquet:"model,dict,optional"`
}

func writerOptions(schema string, skipBounds ...string) []parquet.WriterOption {
	opts := []parquet.WriterOption{
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedBetterCompression}),
		parquet.KeyValueMetadata("schema", schema),
	}
	if len(skipBounds) > 0 {
		opts = append(opts, parquet.SkipPageBounds(skipBounds...))
	}
	return opts
}

// Feature blobs have no useful min/max.
var trainingOptions = writerOptions(TrainingSchema, "x")

func shardName(prefix string) string {
	return fmt.Sprintf("%s_%d.parquet", prefix, time.Now().UnixNano())
}

// WriteBatchParquetAtomic writes rows into outDir/tmp and then moves the file
// into outDir. It returns the final path.
func WriteBatchParquetAtomic(outDir string, rows []TrainingRow) (string, error) {
	return writeAtomic(outDir, shardName("batch"), rows, trainingOptions)
}

func writeAtomic[T any](outDir, name string, rows []T, opts []parquet.WriterOption) (string, error) {
	tmpDir := filepath.Join(outDir, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return "", fmt.Errorf("create tmp dir: %w", err)
	}

	finalPath := filepath.Join(outDir, name)
	tmpPath := filepath.Join(tmpDir, name+".tmp")
	_ = os.Remove(tmpPath)

	if err := parquet.WriteFile(tmpPath, rows, opts...); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("write parquet: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("rename parquet: %w", err)
	}
	return finalPath, nil
}

// ReadTrainingRows reads every row of one shard.
func ReadTrainingRows(path string) ([]TrainingRow, error) {
	rows, err := parquet.ReadFile[TrainingRow](path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return rows, nil
}

// ShardPaths lists the finalized training shards directly under dir, sorted
// by name. Files still in dir/tmp and debug games are not included.
func ShardPaths(dir string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "batch_*.parquet"))
	if err != nil {
		return nil, err
	}
	return paths, nil
}
