package game

// ScoreTable holds the weights of the placement heuristic. Index i of the
// array fields is the weight for a count of i+1.
type ScoreTable struct {
	Connection [4]float32
	LiveEnd    [4]float32
	DeadEnd    [4]float32

	JumpThree float32
	JumpFour  float32

	BothEndsOwn      float32
	BothEndsOpponent float32
	MixedEnds        float32

	// Block is indexed by opponent run length 2, 3, 4, 5+.
	Block [4]float32
}

// DefaultScoreTable returns the standard weights. It returns a fresh value
// every call so callers can never share mutable state through it.
func DefaultScoreTable() ScoreTable {
	return ScoreTable{
		Connection:       [4]float32{1, 5, 50, 10000},
		LiveEnd:          [4]float32{10, 100, 500, 10000},
		DeadEnd:          [4]float32{1, 10, 100, 5000},
		JumpThree:        200,
		JumpFour:         5000,
		BothEndsOwn:      -50,
		BothEndsOpponent: -100,
		MixedEnds:        100,
		Block:            [4]float32{20, 100, 1000, 5000},
	}
}

// HeuristicScore scores a hypothetical stone for mover at action using the
// default table. Occupied or out-of-range cells score 0.
func (b *Board) HeuristicScore(action int, mover Player) float32 {
	return b.ScoreWith(DefaultScoreTable(), action, mover)
}

// ScoreWith scores a hypothetical stone for mover at action.
//
// Per line direction it adds:
//   - Connection[k-1] for the k >= 1 stones of mover contiguous with the cell
//     (k capped at 4)
//   - LiveEnd or DeadEnd for the resulting line length 1..4, depending on
//     whether both or only one of the cells beyond the line are empty
//   - an end term from the two immediate neighbours: both own, both opponent
//     or one of each
//   - JumpThree / JumpFour for every 4- / 5-cell window through the cell that
//     holds mover stones except for exactly one interior gap
//   - the highest Block weight met by the opponent stones contiguous with the
//     cell on either side
func (b *Board) ScoreWith(t ScoreTable, action int, mover Player) float32 {
	if !b.IsAvailable(action) || (mover != PlayerOne && mover != PlayerTwo) {
		return 0
	}
	opp := mover.Opponent()
	row, col := b.Coords(action)

	var total float32
	for _, d := range lineDirections {
		dr, dc := d[0], d[1]

		fwd := b.runLength(row+dr, col+dc, dr, dc, mover)
		bwd := b.runLength(row-dr, col-dc, -dr, -dc, mover)

		if conn := fwd + bwd; conn > 0 {
			total += t.Connection[min(conn, 4)-1]
		}

		if line := fwd + bwd + 1; line < 5 {
			open := 0
			if b.cellState(row+dr*(fwd+1), col+dc*(fwd+1)) == Empty {
				open++
			}
			if b.cellState(row-dr*(bwd+1), col-dc*(bwd+1)) == Empty {
				open++
			}
			switch open {
			case 2:
				total += t.LiveEnd[line-1]
			case 1:
				total += t.DeadEnd[line-1]
			}
		}

		next := b.cellState(row+dr, col+dc)
		prev := b.cellState(row-dr, col-dc)
		switch {
		case next == mover && prev == mover:
			total += t.BothEndsOwn
		case next == opp && prev == opp:
			total += t.BothEndsOpponent
		case (next == mover && prev == opp) || (next == opp && prev == mover):
			total += t.MixedEnds
		}

		total += float32(b.jumpWindows(row, col, dr, dc, mover, 4)) * t.JumpThree
		total += float32(b.jumpWindows(row, col, dr, dc, mover, 5)) * t.JumpFour

		blocked := b.runLength(row+dr, col+dc, dr, dc, opp) + b.runLength(row-dr, col-dc, -dr, -dc, opp)
		switch {
		case blocked >= 5:
			total += t.Block[3]
		case blocked >= 4:
			total += t.Block[2]
		case blocked >= 3:
			total += t.Block[1]
		case blocked >= 2:
			total += t.Block[0]
		}
	}
	return total
}

// offBoard is returned by cellState for coordinates outside the board; it is
// neither empty nor a player.
const offBoard Player = -1

func (b *Board) cellState(row, col int) Player {
	if !b.inBounds(row, col) {
		return offBoard
	}
	return b.cells[b.Action(row, col)]
}

// jumpWindows counts the size-cell windows along (dr, dc) that contain
// (row, col) and, with the cell treated as mover's, hold size-1 mover stones
// and a single empty cell strictly inside the window.
func (b *Board) jumpWindows(row, col, dr, dc int, mover Player, size int) int {
	count := 0
	for start := -(size - 1); start <= 0; start++ {
		own, gap := 0, -1
		ok := true
		for i := 0; i < size && ok; i++ {
			off := start + i
			if off == 0 {
				own++
				continue
			}
			switch b.cellState(row+dr*off, col+dc*off) {
			case mover:
				own++
			case Empty:
				if gap >= 0 {
					ok = false
				}
				gap = i
			default:
				ok = false
			}
		}
		if ok && own == size-1 && gap > 0 && gap < size-1 {
			count++
		}
	}
	return count
}

// HeuristicGrid scores every cell for mover. Cells outside mask, or all
// unavailable cells when mask is nil, are zero.
func (b *Board) HeuristicGrid(mover Player, mask []int) []float32 {
	out := make([]float32, len(b.cells))
	t := DefaultScoreTable()
	if mask == nil {
		mask = b.AvailableActions()
	}
	for _, a := range mask {
		out[a] = b.ScoreWith(t, a, mover)
	}
	return out
}
