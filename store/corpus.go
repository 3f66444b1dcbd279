package store

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/brensch/gomokuzero/executor/convert"
)

// GameRecord is one game read back from shards. Positions[i] holds every
// stored symmetry of move i, identity first.
type GameRecord struct {
	ID        string
	BoardLen  int
	Planes    int
	Positions [][]TrainingRow
}

func (g *GameRecord) Len() int { return len(g.Positions) }

// Position returns the identity-orientation row of move i.
func (g *GameRecord) Position(i int) (TrainingRow, error) {
	if i < 0 || i >= len(g.Positions) {
		return TrainingRow{}, fmt.Errorf("game %s: move %d out of range [0,%d)", g.ID, i, len(g.Positions))
	}
	return g.Positions[i][0], nil
}

// Policies returns the identity policy of every move.
func (g *GameRecord) Policies() [][]float32 {
	out := make([][]float32, len(g.Positions))
	for i, rows := range g.Positions {
		out[i] = rows[0].Policy
	}
	return out
}

// Values returns the outcome label of every move.
func (g *GameRecord) Values() []float32 {
	out := make([]float32, len(g.Positions))
	for i, rows := range g.Positions {
		out[i] = rows[0].Value
	}
	return out
}

// FeaturePlanes decodes the identity planes of move i.
func (g *GameRecord) FeaturePlanes(i int) ([][]float32, error) {
	row, err := g.Position(i)
	if err != nil {
		return nil, err
	}
	x, err := convert.BytesToFloat32s(row.X)
	if err != nil {
		return nil, fmt.Errorf("game %s move %d: %w", g.ID, i, err)
	}
	return convert.SplitPlanes(x, int(row.Planes))
}

// Corpus is a set of games keyed by ID, in first-seen order.
type Corpus struct {
	Games []*GameRecord
	byID  map[string]*GameRecord
}

func (c *Corpus) Game(id string) (*GameRecord, bool) {
	g, ok := c.byID[id]
	return g, ok
}

// Samples counts rows across every game and symmetry.
func (c *Corpus) Samples() int {
	n := 0
	for _, g := range c.Games {
		for _, rows := range g.Positions {
			n += len(rows)
		}
	}
	return n
}

// LoadCorpus reads every finalized shard under dir. A game whose moves are
// not contiguous from 0 is reported as an error, since its sequences could
// not be indexed by move.
func LoadCorpus(dir string) (*Corpus, error) {
	paths, err := ShardPaths(dir)
	if err != nil {
		return nil, err
	}
	var rows []TrainingRow
	for _, p := range paths {
		r, err := ReadTrainingRows(p)
		if err != nil {
			return nil, err
		}
		rows = append(rows, r...)
	}
	return NewCorpus(rows)
}

// NewCorpus groups rows into games.
func NewCorpus(rows []TrainingRow) (*Corpus, error) {
	c := &Corpus{byID: make(map[string]*GameRecord)}
	byMove := make(map[string]map[int32][]TrainingRow)
	for _, r := range rows {
		g, ok := c.byID[r.GameID]
		if !ok {
			g = &GameRecord{ID: r.GameID, BoardLen: int(r.BoardLen), Planes: int(r.Planes)}
			c.byID[r.GameID] = g
			c.Games = append(c.Games, g)
			byMove[r.GameID] = make(map[int32][]TrainingRow)
		}
		byMove[r.GameID][r.Move] = append(byMove[r.GameID][r.Move], r)
	}

	for _, g := range c.Games {
		moves := byMove[g.ID]
		g.Positions = make([][]TrainingRow, len(moves))
		for m, rs := range moves {
			if m < 0 || int(m) >= len(moves) {
				return nil, fmt.Errorf("game %s: move %d with only %d positions stored", g.ID, m, len(moves))
			}
			slices.SortFunc(rs, func(a, b TrainingRow) int { return cmp.Compare(a.Symmetry, b.Symmetry) })
			g.Positions[m] = rs
		}
	}
	return c, nil
}
