// Package mcts implements PUCT Monte-Carlo tree search over game.Board,
// guided by a policy/value Oracle.
package mcts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"slices"

	"github.com/brensch/gomokuzero/game"
)

// Oracle predicts move priors over every cell and the value of the position
// for the player to move. priors must have one entry per cell; they need not
// be normalized.
type Oracle interface {
	Predict(b *game.Board) (priors []float32, value float32, err error)
}

// Config holds MCTS configuration
type Config struct {
	Cpuct       float32
	Simulations int
}

func DefaultConfig() Config {
	return Config{Cpuct: 5, Simulations: 400}
}

var (
	// ErrTreeDesync means a tree action could not be replayed on the board.
	ErrTreeDesync = fmt.Errorf("%w: tree and board out of sync", game.ErrStateInvariant)

	ErrTerminalRoot = errors.New("mcts: search from a terminal position")

	// ErrRootNotExpanded is returned when no simulation completed.
	ErrRootNotExpanded = errors.New("mcts: root was never expanded")
)

// OracleError wraps a failed or malformed prediction. The engine recovers
// from it with uniform priors and a zero value.
type OracleError struct {
	Err error
}

func (e *OracleError) Error() string { return "oracle: " + e.Err.Error() }

func (e *OracleError) Unwrap() error { return e.Err }

// Engine runs one search per move decision. It is not safe for concurrent
// use; run one Engine per game.
type Engine struct {
	Config Config
	Oracle Oracle
	Rng    *rand.Rand
	Logger *slog.Logger
}

// NewEngine returns an engine. A nil logger uses slog.Default.
func NewEngine(cfg Config, oracle Oracle, rng *rand.Rand, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{Config: cfg, Oracle: oracle, Rng: rng, Logger: logger}
}

// SearchResult is the tree of one decision plus counters for logging.
type SearchResult struct {
	Tree *Tree

	Simulations    int
	Aborted        int
	OracleFailures int
	MaxDepth       int
}

// ChildStat summarizes one root child.
type ChildStat struct {
	Action int
	Visits int
	Q      float32
	Prior  float32
}

// RootChildren returns the root's children by descending visit count.
func (r *SearchResult) RootChildren() []ChildStat {
	root := r.Tree.Node(r.Tree.Root())
	out := make([]ChildStat, 0, len(root.Children))
	for _, id := range root.Children {
		n := r.Tree.Node(id)
		out = append(out, ChildStat{Action: n.Action, Visits: n.VisitCount, Q: n.MeanValue, Prior: n.Prior})
	}
	slices.SortStableFunc(out, func(a, b ChildStat) int { return b.Visits - a.Visits })
	return out
}

// RootValue is the search's estimate of the position for the player to move.
func (r *SearchResult) RootValue() float32 {
	return -r.Tree.Node(r.Tree.Root()).MeanValue
}

// Search runs Config.Simulations simulations from board. board is never
// modified. A simulation that desynchronizes from the board is dropped and
// counted in Aborted; the search carries on.
func (e *Engine) Search(ctx context.Context, board *game.Board) (*SearchResult, error) {
	if ended, _ := board.Terminal(); ended {
		return nil, ErrTerminalRoot
	}

	res := &SearchResult{Tree: NewTree()}
	for i := 0; i < e.Config.Simulations; i++ {
		if ctx != nil {
			select {
			case <-ctx.Done():
				return res, ctx.Err()
			default:
			}
		}

		depth, err := e.simulate(res, board)
		if err != nil {
			if errors.Is(err, ErrTreeDesync) {
				res.Aborted++
				e.logger().Error("simulation aborted", "sim", i, "error", err)
				continue
			}
			return res, err
		}
		res.Simulations++
		if depth > res.MaxDepth {
			res.MaxDepth = depth
		}
	}

	if res.Tree.IsLeaf(res.Tree.Root()) {
		return res, ErrRootNotExpanded
	}
	return res, nil
}

// Decision is one chosen move together with the search behind it.
type Decision struct {
	Action int
	// Probs is the move distribution over every cell.
	Probs  []float32
	Result *SearchResult
}

// GetAction searches from board and picks a move from the root visit counts.
// It returns the action and the move distribution over every cell.
func (e *Engine) GetAction(ctx context.Context, board *game.Board, temperature float64) (int, []float32, error) {
	d, err := e.Decide(ctx, board, temperature)
	if err != nil {
		return -1, nil, err
	}
	return d.Action, d.Probs, nil
}

// Decide is GetAction that also returns the search tree.
func (e *Engine) Decide(ctx context.Context, board *game.Board, temperature float64) (*Decision, error) {
	res, err := e.Search(ctx, board)
	if err != nil {
		return nil, err
	}
	probs := VisitDistribution(res.Tree, board.NumCells(), temperature)

	var action int
	if temperature <= 0 {
		action = argmax(probs)
	} else {
		action = SampleAction(e.Rng, probs)
	}

	if e.logger().Enabled(ctx, slog.LevelDebug) {
		top := res.RootChildren()
		if len(top) > 5 {
			top = top[:5]
		}
		e.logger().Debug("search complete",
			"move", board.MoveCount(),
			"action", action,
			"simulations", res.Simulations,
			"aborted", res.Aborted,
			"oracle_failures", res.OracleFailures,
			"max_depth", res.MaxDepth,
			"value", res.RootValue(),
			"top", top,
		)
	}
	return &Decision{Action: action, Probs: probs, Result: res}, nil
}

// simulate runs one select / evaluate / backup cycle on a clone of board and
// returns the depth reached.
func (e *Engine) simulate(res *SearchResult, board *game.Board) (int, error) {
	tree := res.Tree
	sim := board.Clone()

	id := tree.Root()
	for !tree.IsLeaf(id) {
		id = tree.SelectBestChild(id, e.Config.Cpuct)
		action := tree.Node(id).Action
		if err := sim.AdvanceTurn(action); err != nil {
			return 0, fmt.Errorf("%w: replaying action %d: %w", ErrTreeDesync, action, err)
		}
	}

	value := e.evaluate(res, id, sim)

	// value is for the player to move at the leaf; the leaf's statistics are
	// kept for the player who moved into it.
	return tree.Backup(id, -value) - 1, nil
}

// evaluate scores the leaf for the player to move on sim and expands it when
// the game is not over.
func (e *Engine) evaluate(res *SearchResult, id NodeID, sim *game.Board) float32 {
	if ended, winner := sim.Terminal(); ended {
		switch winner {
		case game.Empty:
			return 0
		case sim.ToMove():
			return 1
		default:
			return -1
		}
	}

	legal := sim.LegalActions()
	priors, value, err := e.predict(sim)
	if err != nil {
		res.OracleFailures++
		e.logger().Warn("oracle failed, using uniform priors", "move", sim.MoveCount(), "error", err)
		res.Tree.Expand(id, UniformPriors(legal))
		return 0
	}
	res.Tree.Expand(id, RenormalizePriors(priors, legal))
	return value
}

func (e *Engine) predict(b *game.Board) ([]float32, float32, error) {
	priors, value, err := e.Oracle.Predict(b)
	if err != nil {
		return nil, 0, &OracleError{Err: err}
	}
	if len(priors) != b.NumCells() {
		return nil, 0, &OracleError{Err: fmt.Errorf("got %d priors, want %d", len(priors), b.NumCells())}
	}
	if math.IsNaN(float64(value)) {
		return nil, 0, &OracleError{Err: errors.New("value is NaN")}
	}
	for _, p := range priors {
		if math.IsNaN(float64(p)) {
			return nil, 0, &OracleError{Err: errors.New("priors contain NaN")}
		}
	}
	return priors, max(-1, min(1, value)), nil
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}
