package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"
)

var ErrWriterClosed = errors.New("store: batch writer is closed")

// BatchWriter streams rows of many games into one shard. The shard lives in
// outDir/tmp until Finalize renames it into outDir.
type BatchWriter struct {
	tmpPath string
	outPath string

	file   *os.File
	writer *parquet.GenericWriter[TrainingRow]

	games []string
	rows  int
}

func NewBatchWriter(outDir string) (*BatchWriter, error) {
	if outDir == "" {
		return nil, errors.New("store: output directory is required")
	}
	absOut, err := filepath.Abs(outDir)
	if err != nil {
		absOut = outDir
	}
	tmpDir := filepath.Join(absOut, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, fmt.Errorf("create tmp dir: %w", err)
	}

	name := shardName("batch")
	tmpPath := filepath.Join(tmpDir, name)
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open tmp parquet: %w", err)
	}

	return &BatchWriter{
		tmpPath: tmpPath,
		outPath: filepath.Join(absOut, name),
		file:    f,
		writer:  parquet.NewGenericWriter[TrainingRow](f, trainingOptions...),
	}, nil
}

func (b *BatchWriter) OutPath() string { return b.outPath }
func (b *BatchWriter) Rows() int       { return b.rows }
func (b *BatchWriter) Games() int      { return len(b.games) }

// WriteGame appends the rows of one finished game.
func (b *BatchWriter) WriteGame(gameID string, rows []TrainingRow) error {
	if b.writer == nil {
		return ErrWriterClosed
	}
	if len(rows) == 0 {
		return nil
	}
	if _, err := b.writer.Write(rows); err != nil {
		return fmt.Errorf("write rows of %s: %w", gameID, err)
	}
	b.rows += len(rows)
	b.games = append(b.games, gameID)
	return nil
}

// Finalize closes the shard and moves it out of tmp. It returns the game IDs
// the shard contains. An empty shard is removed and outPath is "".
func (b *BatchWriter) Finalize() (outPath string, gameIDs []string, err error) {
	if b.writer == nil {
		return "", nil, nil
	}

	closeErr := b.writer.Close()
	b.writer = nil
	_ = b.file.Sync()
	fileErr := b.file.Close()
	b.file = nil
	if closeErr != nil {
		_ = os.Remove(b.tmpPath)
		return "", nil, fmt.Errorf("close parquet writer: %w", closeErr)
	}
	if fileErr != nil {
		_ = os.Remove(b.tmpPath)
		return "", nil, fmt.Errorf("close parquet file: %w", fileErr)
	}

	if b.rows == 0 {
		_ = os.Remove(b.tmpPath)
		return "", nil, nil
	}
	if err := os.Rename(b.tmpPath, b.outPath); err != nil {
		return "", nil, fmt.Errorf("rename parquet: %w", err)
	}
	return b.outPath, b.games, nil
}
