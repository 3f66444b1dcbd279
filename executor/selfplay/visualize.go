package selfplay

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/brensch/gomokuzero/game"
)

var planeNames = []string{"mover", "opponent", "legal", "heuristic"}

func planeName(i int) string {
	if i < len(planeNames) {
		return planeNames[i]
	}
	return "unused"
}

// traceBoard logs the board and every encoded plane at debug level.
func traceBoard(ctx context.Context, log *slog.Logger, board *game.Board, planes [][]float32) {
	if !log.Enabled(ctx, slog.LevelDebug) {
		return
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "\n=== move %d ===\n%s", board.MoveCount(), board.String())
	writePlanes(&sb, board.Size(), planes)
	log.Debug("trace", "board", sb.String())
}

func writePlanes(sb *strings.Builder, size int, planes [][]float32) {
	sb.WriteString("\n--- encoded planes (C,H,W) ---\n")
	for c, plane := range planes {
		fmt.Fprintf(sb, "plane %d (%s):\n", c, planeName(c))
		for r := 0; r < size; r++ {
			for col := 0; col < size; col++ {
				v := plane[r*size+col]
				if v == 0 {
					sb.WriteString("     . ")
					continue
				}
				fmt.Fprintf(sb, "%6.4g ", v)
			}
			sb.WriteString("\n")
		}
	}
}
