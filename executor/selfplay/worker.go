package selfplay

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/brensch/gomokuzero/executor/mcts"
	"github.com/brensch/gomokuzero/game"
)

// Options configures one self-play game.
type Options struct {
	Board  game.Options
	Search mcts.Config

	// FeaturePlanes is the number of planes recorded before each move.
	FeaturePlanes int
	// MaxMoves caps the game; 0 means one move per cell.
	MaxMoves int

	// Temperature is used for the first TemperatureMoves moves. Every later
	// move is greedy.
	Temperature      float64
	TemperatureMoves int

	// Capture keeps a summary of every search, CaptureDepth plies deep.
	Capture      bool
	CaptureDepth int
	// Trace logs the board and encoded planes before every move at debug level.
	Trace bool

	// GameID defaults to a fresh UUID.
	GameID string
	Model  string
}

func DefaultOptions() Options {
	return Options{
		Board:            game.DefaultOptions(),
		Search:           mcts.DefaultConfig(),
		FeaturePlanes:    4,
		Temperature:      1,
		TemperatureMoves: 12,
		CaptureDepth:     2,
	}
}

// Trajectory is one finished game. Planes, Policies, Actions, Players and
// Values all have one entry per move played.
type Trajectory struct {
	GameID   string
	Model    string
	BoardLen int

	Planes   [][][]float32
	Policies [][]float32
	Actions  []int
	Players  []game.Player
	Values   []float32

	Winner game.Player
	// Capped is set when the game stopped at MaxMoves without a result.
	Capped bool

	Searches []SearchSummary

	OracleFailures     int
	AbortedSimulations int
	Duration           time.Duration
}

func (t *Trajectory) Len() int { return len(t.Actions) }

// Result is "1", "2", "draw" or "capped".
func (t *Trajectory) Result() string {
	switch {
	case t.Winner != game.Empty:
		return t.Winner.String()
	case t.Capped:
		return "capped"
	default:
		return "draw"
	}
}

// PlayGame plays one game with a fresh search per move. The context is
// checked between moves and between simulations; a cancelled game returns
// the context error and no trajectory.
func PlayGame(ctx context.Context, opts Options, oracle mcts.Oracle, rng *rand.Rand, logger *slog.Logger) (*Trajectory, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	gameID := opts.GameID
	if gameID == "" {
		gameID = uuid.NewString()
	}
	log := logger.With("game_id", gameID)

	board := game.NewBoard(opts.Board)
	maxMoves := opts.MaxMoves
	if maxMoves <= 0 || maxMoves > board.NumCells() {
		maxMoves = board.NumCells()
	}
	engine := mcts.NewEngine(opts.Search, oracle, rng, log)

	start := time.Now()
	traj := &Trajectory{
		GameID:   gameID,
		Model:    opts.Model,
		BoardLen: board.Size(),
		Planes:   make([][][]float32, 0, maxMoves),
		Policies: make([][]float32, 0, maxMoves),
		Actions:  make([]int, 0, maxMoves),
		Players:  make([]game.Player, 0, maxMoves),
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ended, winner := board.Terminal()
		if ended {
			traj.Winner = winner
			break
		}
		move := board.MoveCount()
		if move >= maxMoves {
			traj.Capped = true
			break
		}

		planes := board.FeaturePlanes(opts.FeaturePlanes)
		if opts.Trace {
			traceBoard(ctx, log, board, planes)
		}

		temperature := 0.0
		if move < opts.TemperatureMoves {
			temperature = opts.Temperature
		}
		d, err := engine.Decide(ctx, board, temperature)
		if err != nil {
			return nil, fmt.Errorf("move %d: %w", move, err)
		}
		traj.OracleFailures += d.Result.OracleFailures
		traj.AbortedSimulations += d.Result.Aborted
		if opts.Capture {
			traj.Searches = append(traj.Searches, summarizeSearch(board, d, opts.CaptureDepth, opts.Search))
		}

		player := board.ToMove()
		if err := board.AdvanceTurn(d.Action); err != nil {
			return nil, fmt.Errorf("move %d: %w", move, err)
		}

		traj.Planes = append(traj.Planes, planes)
		traj.Policies = append(traj.Policies, d.Probs)
		traj.Actions = append(traj.Actions, d.Action)
		traj.Players = append(traj.Players, player)
	}

	traj.Values = OutcomeLabels(len(traj.Actions), traj.Winner)
	traj.Duration = time.Since(start)

	log.Info("game finished",
		"moves", traj.Len(),
		"result", traj.Result(),
		"oracle_failures", traj.OracleFailures,
		"aborted_simulations", traj.AbortedSimulations,
		"duration", traj.Duration.Round(time.Millisecond),
	)
	if opts.Trace {
		log.Debug("final position", "board", "\n"+board.String())
	}
	return traj, nil
}

// OutcomeLabels labels n moves of a game whose first move was PlayerOne's:
// label i is (winner == PlayerOne ? 1 : -1) * (-1)^i, or 0 without a winner.
func OutcomeLabels(n int, winner game.Player) []float32 {
	values := make([]float32, n)
	if winner == game.Empty {
		return values
	}
	sign := float32(-1)
	if winner == game.PlayerOne {
		sign = 1
	}
	for i := range values {
		values[i] = sign
		sign = -sign
	}
	return values
}
