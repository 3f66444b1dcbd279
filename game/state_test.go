package game

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBoard(size int) *Board {
	return NewBoard(Options{Size: size, SearchRadius: 2, WinLength: 5})
}

// requirePartition checks that every cell is either occupied or available,
// never both, and that the history matches the occupied count.
func requirePartition(t *testing.T, b *Board) {
	t.Helper()
	occupied := 0
	for a := 0; a < b.NumCells(); a++ {
		isOccupied := b.Cell(a) != Empty
		require.NotEqual(t, isOccupied, b.IsAvailable(a), "cell %d occupied=%v available=%v", a, isOccupied, b.IsAvailable(a))
		if isOccupied {
			occupied++
			require.False(t, b.IsCandidate(a), "occupied cell %d is a candidate", a)
		}
	}
	require.Equal(t, occupied, b.MoveCount())
	require.Len(t, b.AvailableActions(), b.NumCells()-occupied)
}

func TestNewBoard_AllCellsLegal(t *testing.T) {
	b := newTestBoard(15)

	assert.Equal(t, PlayerOne, b.ToMove())
	assert.Len(t, b.LegalActions(), 225)
	ended, winner := b.Terminal()
	assert.False(t, ended)
	assert.Equal(t, Empty, winner)
	requirePartition(t, b)
}

func TestIsCandidate_MatchesLegalActions(t *testing.T) {
	b := newTestBoard(9)
	check := func() {
		t.Helper()
		legal := map[int]bool{}
		for _, a := range b.LegalActions() {
			legal[a] = true
		}
		for a := 0; a < b.NumCells(); a++ {
			assert.Equal(t, legal[a], b.IsCandidate(a), "cell %d after %d moves", a, b.MoveCount())
		}
		assert.False(t, b.IsCandidate(-1))
		assert.False(t, b.IsCandidate(b.NumCells()))
	}

	check()
	require.NoError(t, b.AdvanceTurn(b.Action(4, 4)))
	check()
	require.NoError(t, b.Undo())
	check()
}

func TestNewBoard_ZeroOptionsUseDefaults(t *testing.T) {
	b := NewBoard(Options{})
	assert.Equal(t, DefaultOptions(), b.Options())
}

func TestAdvanceTurn_PlacesAndAlternates(t *testing.T) {
	b := newTestBoard(15)

	require.NoError(t, b.AdvanceTurn(b.Action(7, 7)))
	assert.Equal(t, PlayerOne, b.At(7, 7))
	assert.Equal(t, PlayerTwo, b.ToMove())

	require.NoError(t, b.AdvanceTurn(b.Action(7, 8)))
	assert.Equal(t, PlayerTwo, b.At(7, 8))
	assert.Equal(t, PlayerOne, b.ToMove())

	last, ok := b.LastAction()
	require.True(t, ok)
	assert.Equal(t, b.Action(7, 8), last)
	requirePartition(t, b)
}

func TestAdvanceTurn_RejectsUnavailable(t *testing.T) {
	b := newTestBoard(15)
	require.NoError(t, b.AdvanceTurn(0))

	tests := []struct {
		name   string
		action int
	}{
		{"occupied", 0},
		{"negative", -1},
		{"past end", 225},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := b.Clone()
			err := b.AdvanceTurn(tt.action)
			require.ErrorIs(t, err, ErrInvalidAction)

			var invalid *InvalidActionError
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, tt.action, invalid.Action)
			assert.Equal(t, before, b, "failed move must not mutate the board")
		})
	}
}

func TestLegalActions_PrunedToRadius(t *testing.T) {
	b := newTestBoard(15)
	require.NoError(t, b.AdvanceTurn(b.Action(7, 7)))

	legal := b.LegalActions()
	// 5x5 window around the stone minus the stone itself.
	assert.Len(t, legal, 24)
	for _, a := range legal {
		r, c := b.Coords(a)
		assert.LessOrEqual(t, abs(r-7), 2)
		assert.LessOrEqual(t, abs(c-7), 2)
		assert.NotEqual(t, b.Action(7, 7), a)
	}
}

func TestLegalActions_CornerWindowClipped(t *testing.T) {
	b := newTestBoard(15)
	require.NoError(t, b.AdvanceTurn(0))
	// 3x3 in-bounds window minus the stone.
	assert.Len(t, b.LegalActions(), 8)
}

func TestUndo_EmptyHistory(t *testing.T) {
	b := newTestBoard(9)
	err := b.Undo()
	require.ErrorIs(t, err, ErrEmptyHistory)
	require.ErrorIs(t, err, ErrStateInvariant)
}

func TestUndo_RestoresExactSnapshot(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	b := newTestBoard(9)

	for step := 0; step < 40; step++ {
		if ended, _ := b.Terminal(); ended {
			break
		}
		legal := b.LegalActions()
		action := legal[r.Intn(len(legal))]

		snapshot := b.Clone()
		require.NoError(t, b.AdvanceTurn(action))
		requirePartition(t, b)

		require.NoError(t, b.Undo())
		require.Equal(t, snapshot, b, "undo after step %d", step)
		requirePartition(t, b)

		require.NoError(t, b.AdvanceTurn(action))
	}
}

func TestUndo_KeepsCandidateJustifiedByOtherStone(t *testing.T) {
	b := newTestBoard(15)
	require.NoError(t, b.AdvanceTurn(b.Action(7, 7)))
	require.NoError(t, b.AdvanceTurn(b.Action(7, 9)))

	shared := b.Action(7, 8)
	require.True(t, b.IsCandidate(shared))

	require.NoError(t, b.Undo())
	assert.True(t, b.IsCandidate(shared), "(7,8) is still within radius of (7,7)")
	assert.False(t, b.IsCandidate(b.Action(7, 11)), "(7,11) was only justified by the undone stone")
}

func TestUndo_WholeGameBackToEmpty(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	b := newTestBoard(7)
	empty := b.Clone()

	for {
		if ended, _ := b.Terminal(); ended {
			break
		}
		legal := b.LegalActions()
		require.NoError(t, b.AdvanceTurn(legal[r.Intn(len(legal))]))
	}
	for b.MoveCount() > 0 {
		require.NoError(t, b.Undo())
	}
	assert.Equal(t, empty, b)
}

func TestPlaceWithoutAdvancing(t *testing.T) {
	b := newTestBoard(15)

	require.NoError(t, b.PlaceWithoutAdvancing(b.Action(3, 3), PlayerTwo))
	assert.Equal(t, PlayerTwo, b.At(3, 3))
	assert.Equal(t, PlayerOne, b.ToMove(), "turn must not advance")

	require.NoError(t, b.AdvanceTurn(b.Action(3, 4)))
	assert.Equal(t, PlayerTwo, b.ToMove())

	require.NoError(t, b.Undo())
	assert.Equal(t, PlayerOne, b.ToMove())
	require.NoError(t, b.Undo())
	assert.Equal(t, PlayerOne, b.ToMove(), "undoing a non-advancing placement keeps the mover")

	err := b.PlaceWithoutAdvancing(0, Empty)
	require.ErrorIs(t, err, ErrInvalidAction)
}

func TestTerminal_FiveInARow(t *testing.T) {
	b := newTestBoard(15)
	for col := 7; col <= 11; col++ {
		require.NoError(t, b.AdvanceTurn(b.Action(7, col)))
		if col < 11 {
			ended, _ := b.Terminal()
			require.False(t, ended)
			require.NoError(t, b.AdvanceTurn(b.Action(0, col)))
		}
	}
	t.Logf("\n%s", b)

	ended, winner := b.Terminal()
	assert.True(t, ended)
	assert.Equal(t, PlayerOne, winner)
}

func TestTerminal_Directions(t *testing.T) {
	tests := []struct {
		name   string
		dr, dc int
		row    int
		col    int
	}{
		{"horizontal", 0, 1, 3, 2},
		{"vertical", 1, 0, 2, 9},
		{"diagonal", 1, 1, 4, 4},
		{"anti-diagonal", 1, -1, 3, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBoard(15)
			for i := 0; i < 5; i++ {
				require.NoError(t, b.PlaceWithoutAdvancing(b.Action(tt.row+tt.dr*i, tt.col+tt.dc*i), PlayerTwo))
			}
			ended, winner := b.Terminal()
			assert.True(t, ended)
			assert.Equal(t, PlayerTwo, winner)
		})
	}
}

func TestTerminal_OverlineWins(t *testing.T) {
	b := newTestBoard(15)
	for col := 2; col <= 7; col++ {
		require.NoError(t, b.PlaceWithoutAdvancing(b.Action(5, col), PlayerOne))
	}
	ended, winner := b.Terminal()
	assert.True(t, ended)
	assert.Equal(t, PlayerOne, winner)
}

func TestTerminal_FourIsNotAWin(t *testing.T) {
	b := newTestBoard(15)
	for col := 2; col <= 5; col++ {
		require.NoError(t, b.PlaceWithoutAdvancing(b.Action(5, col), PlayerOne))
	}
	ended, _ := b.Terminal()
	assert.False(t, ended)
}

func TestTerminal_FullBoardDraw(t *testing.T) {
	// Colour (col/2 + row) % 2 never runs longer than two in any line.
	const size = 6
	b := NewBoard(Options{Size: size, SearchRadius: 1, WinLength: 5})
	for r := 0; r < size; r++ {
		for c := 0; c < size; c++ {
			p := PlayerOne
			if ((c+2*r)/2)%2 == 1 {
				p = PlayerTwo
			}
			require.NoError(t, b.PlaceWithoutAdvancing(b.Action(r, c), p))
		}
	}
	t.Logf("\n%s", b)

	assert.Empty(t, b.LegalActions())
	ended, winner := b.Terminal()
	assert.True(t, ended)
	assert.Equal(t, Empty, winner)
}

func TestClone_Independent(t *testing.T) {
	b := newTestBoard(9)
	require.NoError(t, b.AdvanceTurn(40))

	c := b.Clone()
	require.NoError(t, c.AdvanceTurn(41))

	assert.Equal(t, 1, b.MoveCount())
	assert.Equal(t, Empty, b.Cell(41))
	assert.True(t, b.IsAvailable(41))
	assert.Equal(t, 2, c.MoveCount())
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
