package store

import (
	"fmt"
	"log/slog"
)

type RepackOptions struct {
	GamesPerShard int
	// Canonical keeps only the untransformed rows (symmetry 0).
	Canonical bool
	// Ledger, when set, skips games it already lists and records the
	// games written.
	Ledger *Ledger
	Logger *slog.Logger
}

type RepackReport struct {
	Games   int
	Skipped int
	Rows    int
	Shards  []string
}

// Repack rewrites the shards of inDir into outDir with GamesPerShard games
// per shard. Games keep their row order; inDir is not modified.
func Repack(inDir, outDir string, opts RepackOptions) (RepackReport, error) {
	var report RepackReport
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	c, err := LoadCorpus(inDir)
	if err != nil {
		return report, err
	}
	r := NewShardRotator(outDir, opts.GamesPerShard, opts.Ledger, log)
	for _, g := range c.Games {
		if opts.Ledger != nil && opts.Ledger.Has(g.ID) {
			report.Skipped++
			continue
		}
		var rows []TrainingRow
		for _, position := range g.Positions {
			if opts.Canonical {
				rows = append(rows, position[0])
				continue
			}
			rows = append(rows, position...)
		}
		if opts.Canonical && rows[0].Symmetry != 0 {
			return report, fmt.Errorf("game %s has no untransformed rows", g.ID)
		}
		if err := r.WriteGame(g.ID, rows); err != nil {
			return report, err
		}
		report.Games++
		report.Rows += len(rows)
	}
	if err := r.Flush(); err != nil {
		return report, err
	}
	report.Shards = r.Shards()
	log.Info("repack finished", "in", inDir, "out", outDir, "games", report.Games, "skipped", report.Skipped, "rows", report.Rows)
	return report, nil
}
