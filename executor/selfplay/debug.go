package selfplay

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/brensch/gomokuzero/executor/mcts"
	"github.com/brensch/gomokuzero/game"
	"github.com/brensch/gomokuzero/store"
)

// TreeNode is a JSON view of one search node. Only visited children are kept.
type TreeNode struct {
	Action   int         `json:"action"`
	Visits   int         `json:"n"`
	Q        float32     `json:"q"`
	Prior    float32     `json:"p"`
	U        float32     `json:"u"`
	Children []*TreeNode `json:"children,omitempty"`
}

// SearchSummary records the search behind one move.
type SearchSummary struct {
	Move        int         `json:"move"`
	Player      game.Player `json:"player"`
	Cells       []int32     `json:"cells"`
	Action      int         `json:"action"`
	Simulations int         `json:"simulations"`
	RootValue   float32     `json:"root_value"`
	Root        *TreeNode   `json:"root"`
}

// Analyze runs one greedy search on board and summarizes its tree depth
// plies deep. The board is not modified.
func Analyze(ctx context.Context, board *game.Board, oracle mcts.Oracle, cfg mcts.Config, depth int) (SearchSummary, error) {
	d, err := mcts.NewEngine(cfg, oracle, nil, nil).Decide(ctx, board, 0)
	if err != nil {
		return SearchSummary{}, err
	}
	return summarizeSearch(board, d, depth, cfg), nil
}

func summarizeSearch(board *game.Board, d *mcts.Decision, depth int, cfg mcts.Config) SearchSummary {
	cells := make([]int32, board.NumCells())
	for a := range cells {
		cells[a] = int32(board.Cell(a))
	}
	return SearchSummary{
		Move:        board.MoveCount(),
		Player:      board.ToMove(),
		Cells:       cells,
		Action:      d.Action,
		Simulations: d.Result.Simulations,
		RootValue:   d.Result.RootValue(),
		Root:        convertTree(d.Result.Tree, d.Result.Tree.Root(), depth, cfg.Cpuct),
	}
}

func convertTree(t *mcts.Tree, id mcts.NodeID, depth int, cpuct float32) *TreeNode {
	n := t.Node(id)
	out := &TreeNode{
		Action: n.Action,
		Visits: n.VisitCount,
		Q:      n.MeanValue,
		Prior:  n.Prior,
		U:      t.U(id, cpuct),
	}
	if depth <= 0 {
		return out
	}
	for _, c := range n.Children {
		if t.Node(c).VisitCount == 0 {
			continue
		}
		out.Children = append(out.Children, convertTree(t, c, depth-1, cpuct))
	}
	return out
}

// DebugRows converts the captured searches of t into storage rows.
func DebugRows(t *Trajectory, cfg mcts.Config) ([]store.DebugMoveRow, error) {
	rows := make([]store.DebugMoveRow, 0, len(t.Searches))
	for _, s := range t.Searches {
		root, err := json.Marshal(s.Root)
		if err != nil {
			return nil, fmt.Errorf("marshal tree of move %d: %w", s.Move, err)
		}
		rows = append(rows, store.DebugMoveRow{
			GameID:      t.GameID,
			Model:       t.Model,
			Move:        int32(s.Move),
			BoardLen:    int32(t.BoardLen),
			Player:      int32(s.Player),
			Cells:       s.Cells,
			Action:      int32(s.Action),
			Simulations: int32(s.Simulations),
			Cpuct:       cfg.Cpuct,
			RootValue:   s.RootValue,
			RootJSON:    root,
		})
	}
	return rows, nil
}

// WriteDebugGame writes the captured searches of t to a parquet file in outDir.
func WriteDebugGame(outDir string, t *Trajectory, cfg mcts.Config) (string, error) {
	if len(t.Searches) == 0 {
		return "", fmt.Errorf("game %s was played without capture", t.GameID)
	}
	rows, err := DebugRows(t, cfg)
	if err != nil {
		return "", err
	}
	return store.WriteDebugGameParquet(outDir, t.GameID, rows)
}
