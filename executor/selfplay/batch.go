package selfplay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/brensch/gomokuzero/executor/mcts"
)

// BatchOptions configures RunBatch.
type BatchOptions struct {
	Game Options

	// Games is the number of games to play; 0 plays until ctx is done.
	Games   int
	Workers int
	// Seed derives every game's RNG; 0 seeds from the clock.
	Seed int64

	// CaptureEvery turns on Options.Capture for every n-th game, starting
	// with the first; 0 leaves Options.Capture as it is.
	CaptureEvery int

	Metrics *Metrics
	// OnGame is called after every finished or skipped game, serially.
	OnGame func(GameEvent)
}

// GameEvent reports one game to BatchOptions.OnGame. Err is set for skipped
// games.
type GameEvent struct {
	Worker     int
	Index      int
	Trajectory *Trajectory
	Err        error
}

// Sink receives finished games one at a time. An error from the sink stops
// the batch.
type Sink func(*Trajectory) error

type BatchReport struct {
	Completed int
	Skipped   int
	Moves     int
	Results   map[string]int
	Duration  time.Duration
}

// RunBatch plays games on a pool of workers. A game that fails, including one
// that panics, is logged and counted as skipped; the other games carry on.
// The batch ends when every game has been played, ctx is done, or the sink
// fails. Games cut short by ctx are neither completed nor skipped.
func RunBatch(ctx context.Context, opts BatchOptions, oracle mcts.Oracle, sink Sink, logger *slog.Logger) (BatchReport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if opts.Metrics != nil {
		oracle = &InstrumentedOracle{Oracle: oracle, Metrics: opts.Metrics}
	}

	gameOpts := opts.Game
	gameOpts.GameID = ""

	start := time.Now()
	report := BatchReport{Results: make(map[string]int)}
	var mu sync.Mutex

	finish := func(ev GameEvent) error {
		mu.Lock()
		defer mu.Unlock()
		if ev.Err != nil {
			report.Skipped++
			opts.Metrics.observeSkip()
		} else {
			if sink != nil {
				if err := sink(ev.Trajectory); err != nil {
					return fmt.Errorf("sink game %s: %w", ev.Trajectory.GameID, err)
				}
			}
			report.Completed++
			report.Moves += ev.Trajectory.Len()
			report.Results[ev.Trajectory.Result()]++
			opts.Metrics.observeGame(ev.Trajectory)
		}
		if opts.OnGame != nil {
			opts.OnGame(ev)
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	logger.Info("self-play batch started", "games", opts.Games, "workers", workers, "seed", seed)

	for i := 0; opts.Games <= 0 || i < opts.Games; i++ {
		if gctx.Err() != nil {
			break
		}
		// Go blocks while every worker is busy.
		g.Go(func() error {
			worker := i % workers
			log := logger.With("worker", worker, "game", i)
			rng := rand.New(rand.NewSource(seed + int64(i)*1000003))

			gopts := gameOpts
			if opts.CaptureEvery > 0 && i%opts.CaptureEvery == 0 {
				gopts.Capture = true
			}
			traj, err := playRecovered(gctx, gopts, oracle, rng, log)
			if err != nil {
				if gctx.Err() != nil && errors.Is(err, gctx.Err()) {
					return nil
				}
				log.Error("game skipped", "error", err)
				return finish(GameEvent{Worker: worker, Index: i, Err: err})
			}
			return finish(GameEvent{Worker: worker, Index: i, Trajectory: traj})
		})
	}

	err := g.Wait()
	report.Duration = time.Since(start)
	logger.Info("self-play batch finished",
		"completed", report.Completed,
		"skipped", report.Skipped,
		"moves", report.Moves,
		"results", report.Results,
		"duration", report.Duration.Round(time.Millisecond),
	)
	if err == nil {
		err = ctx.Err()
	}
	return report, err
}

// playRecovered is PlayGame with a panic turned into an error.
func playRecovered(ctx context.Context, opts Options, oracle mcts.Oracle, rng *rand.Rand, log *slog.Logger) (traj *Trajectory, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("game panicked", "panic", r, "stack", string(debug.Stack()))
			traj, err = nil, fmt.Errorf("game panicked: %v", r)
		}
	}()
	return PlayGame(ctx, opts, oracle, rng, log)
}
