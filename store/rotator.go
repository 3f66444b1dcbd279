package store

import (
	"fmt"
	"log/slog"
)

// ShardRotator spreads games over shards of at most GamesPerShard games and
// records each finalized shard's games in an optional Ledger. It is not safe
// for concurrent use.
type ShardRotator struct {
	dir           string
	gamesPerShard int
	ledger        *Ledger
	log           *slog.Logger

	cur    *BatchWriter
	shards []string
}

func NewShardRotator(dir string, gamesPerShard int, ledger *Ledger, log *slog.Logger) *ShardRotator {
	if gamesPerShard <= 0 {
		gamesPerShard = 50
	}
	if log == nil {
		log = slog.Default()
	}
	return &ShardRotator{dir: dir, gamesPerShard: gamesPerShard, ledger: ledger, log: log}
}

func (r *ShardRotator) WriteGame(gameID string, rows []TrainingRow) error {
	if r.cur == nil {
		w, err := NewBatchWriter(r.dir)
		if err != nil {
			return err
		}
		r.cur = w
	}
	if err := r.cur.WriteGame(gameID, rows); err != nil {
		return err
	}
	if r.cur.Games() >= r.gamesPerShard {
		return r.Flush()
	}
	return nil
}

// Flush finalizes the open shard, if any.
func (r *ShardRotator) Flush() error {
	if r.cur == nil {
		return nil
	}
	w := r.cur
	r.cur = nil
	rows := w.Rows()

	path, ids, err := w.Finalize()
	if err != nil {
		return err
	}
	if path == "" {
		return nil
	}
	r.shards = append(r.shards, path)
	if r.ledger != nil {
		if err := r.ledger.Add(ids...); err != nil {
			return fmt.Errorf("record shard %s: %w", path, err)
		}
	}
	r.log.Info("shard written", "path", path, "games", len(ids), "rows", rows)
	return nil
}

// Shards returns the paths finalized so far.
func (r *ShardRotator) Shards() []string { return r.shards }
