package game

// Feature plane indices.
const (
	PlaneMover = iota
	PlaneOpponent
	PlaneLegal
	PlaneHeuristic
)

// FeaturePlanes encodes the board as n planes of Size*Size values each, in
// row-major action order:
//
//	0 stones of the player to move
//	1 stones of the opponent
//	2 legal actions
//	3 heuristic score for the player to move at legal actions (only if n > 3)
//
// Planes beyond 3 are zero.
func (b *Board) FeaturePlanes(n int) [][]float32 {
	planes := make([][]float32, n)
	for i := range planes {
		planes[i] = make([]float32, len(b.cells))
	}

	mover := b.toMove
	if n > PlaneOpponent {
		opp := mover.Opponent()
		for a, p := range b.cells {
			switch p {
			case mover:
				planes[PlaneMover][a] = 1
			case opp:
				planes[PlaneOpponent][a] = 1
			}
		}
	} else if n > PlaneMover {
		for a, p := range b.cells {
			if p == mover {
				planes[PlaneMover][a] = 1
			}
		}
	}

	if n <= PlaneLegal {
		return planes
	}
	legal := b.LegalActions()
	for _, a := range legal {
		planes[PlaneLegal][a] = 1
	}
	if n > PlaneHeuristic {
		planes[PlaneHeuristic] = b.HeuristicGrid(mover, legal)
	}
	return planes
}
