package store

import (
	"fmt"

	"github.com/parquet-go/parquet-go"
)

// DebugMoveRow stores the search summary behind one move of a debug game.
//
// Cells is the board before the move, one entry per cell (0 empty, 1 or 2
// for the owner). RootJSON is the JSON-encoded root of the search tree,
// truncated to the depth the game was captured with.
type DebugMoveRow struct {
	GameID      string  `parquet:"game_id,dict"`
	Model       string  `parquet:"model,dict,optional"`
	Move        int32   `parquet:"move"`
	BoardLen    int32   `parquet:"board_len"`
	Player      int32   `parquet:"player"`
	Cells       []int32 `parquet:"cells"`
	Action      int32   `parquet:"action"`
	Simulations int32   `parquet:"simulations"`
	Cpuct       float32 `parquet:"cpuct"`
	RootValue   float32 `parquet:"root_value"`
	RootJSON    []byte  `parquet:"root_json,zstd"`
}

var debugOptions = writerOptions(DebugSchema, "root_json")

// WriteDebugGameParquet writes the rows of one debug game to outDir and
// returns the final path.
func WriteDebugGameParquet(outDir, gameID string, rows []DebugMoveRow) (string, error) {
	if len(rows) == 0 {
		return "", fmt.Errorf("debug game %s has no moves", gameID)
	}
	return writeAtomic(outDir, shardName("debug_"+gameID), rows, debugOptions)
}

func ReadDebugGame(path string) ([]DebugMoveRow, error) {
	rows, err := parquet.ReadFile[DebugMoveRow](path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return rows, nil
}
