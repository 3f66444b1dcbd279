package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/brensch/gomokuzero/executor/selfplay"
	"github.com/brensch/gomokuzero/store"
)

var debugFlags struct {
	outDir string
	seed   int64
	trace  bool
	show   string
	top    int
}

var debugGameCmd = &cobra.Command{
	Use:   "debug-game",
	Short: "Play one game with its search trees captured, or print a captured game",
	RunE:  runDebugGame,
}

func init() {
	f := debugGameCmd.Flags()
	f.StringVar(&debugFlags.outDir, "out-dir", "", "Directory for the debug game (default output.debug_dir)")
	f.Int64Var(&debugFlags.seed, "seed", 0, "RNG seed (0 = clock)")
	f.BoolVar(&debugFlags.trace, "trace", false, "Log the board and encoded planes before every move (debug level)")
	f.StringVar(&debugFlags.show, "show", "", "Print a captured game from this parquet file instead of playing")
	f.IntVar(&debugFlags.top, "top", 3, "Children to print per move with --show")
}

func runDebugGame(cmd *cobra.Command, args []string) error {
	if debugFlags.trace {
		cfg.Log.Level = "debug"
	}
	if err := setupLogging(); err != nil {
		return err
	}
	if debugFlags.show != "" {
		rows, err := store.ReadDebugGame(debugFlags.show)
		if err != nil {
			return err
		}
		return printDebugGame(cmd.OutOrStdout(), rows, debugFlags.top)
	}

	outDir := debugFlags.outDir
	if outDir == "" {
		outDir = cfg.Output.DebugDir
	}
	seed := debugFlags.seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	h, err := openOracle(cfg, logger)
	if err != nil {
		return err
	}
	defer h.close()

	opts := cfg.GameOptions()
	opts.Model = h.model
	opts.Capture = true
	opts.Trace = debugFlags.trace

	traj, err := selfplay.PlayGame(cmd.Context(), opts, h.oracle, rand.New(rand.NewSource(seed)), logger)
	if err != nil {
		return err
	}
	path, err := selfplay.WriteDebugGame(outDir, traj, opts.Search)
	if err != nil {
		return err
	}
	logger.Info("debug game written",
		"path", path,
		"game_id", traj.GameID,
		"moves", traj.Len(),
		"result", traj.Result(),
		"seed", seed,
	)
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}

func printDebugGame(w io.Writer, rows []store.DebugMoveRow, top int) error {
	if len(rows) == 0 {
		return fmt.Errorf("no moves in debug game")
	}
	fmt.Fprintf(w, "game %s  model %q  board %d\n", rows[0].GameID, rows[0].Model, rows[0].BoardLen)
	for _, r := range rows {
		size := int(r.BoardLen)
		fmt.Fprintf(w, "move %3d  P%d  plays (%d,%d)  sims %d  root %+.3f\n",
			r.Move, r.Player, int(r.Action)/size, int(r.Action)%size, r.Simulations, r.RootValue)

		var root selfplay.TreeNode
		if err := json.Unmarshal(r.RootJSON, &root); err != nil {
			return fmt.Errorf("move %d: decode tree: %w", r.Move, err)
		}
		children := root.Children
		sort.SliceStable(children, func(i, j int) bool { return children[i].Visits > children[j].Visits })
		if top >= 0 && len(children) > top {
			children = children[:top]
		}
		for _, c := range children {
			fmt.Fprintf(w, "    (%d,%d)  n=%d  q=%+.3f  p=%.3f  u=%.3f\n",
				c.Action/size, c.Action%size, c.Visits, c.Q, c.Prior, c.U)
		}
	}
	return nil
}
