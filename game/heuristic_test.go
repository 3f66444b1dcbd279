package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func placeAll(t *testing.T, b *Board, p Player, coords ...[2]int) {
	t.Helper()
	for _, rc := range coords {
		require.NoError(t, b.PlaceWithoutAdvancing(b.Action(rc[0], rc[1]), p))
	}
}

func TestHeuristicScore(t *testing.T) {
	tests := []struct {
		name     string
		own      [][2]int
		opp      [][2]int
		row, col int
		want     float32
	}{
		{
			name: "empty centre",
			row:  7, col: 7,
			// a live single in all four directions
			want: 40,
		},
		{
			name: "empty corner",
			row:  0, col: 0,
			// three dead singles, the anti-diagonal is closed both ways
			want: 3,
		},
		{
			name: "extends open three to open four",
			own:  [][2]int{{7, 7}, {7, 8}, {7, 9}},
			row:  7, col: 10,
			want: 50 + 10000 + 30,
		},
		{
			name: "completes a jump three",
			own:  [][2]int{{7, 7}, {7, 9}},
			row:  7, col: 10,
			want: 1 + 100 + 200 + 30,
		},
		{
			name: "blocks an opponent three",
			opp:  [][2]int{{7, 7}, {7, 8}, {7, 9}},
			row:  7, col: 10,
			want: 1 + 100 + 30,
		},
		{
			name: "between two own stones",
			own:  [][2]int{{7, 6}, {7, 8}},
			row:  7, col: 7,
			// line of three, live; both ends own
			want: 5 + 500 - 50 + 30,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBoard(15)
			placeAll(t, b, PlayerOne, tt.own...)
			placeAll(t, b, PlayerTwo, tt.opp...)
			got := b.HeuristicScore(b.Action(tt.row, tt.col), PlayerOne)
			if got != tt.want {
				t.Logf("\n%s", b)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHeuristicScore_UnavailableIsZero(t *testing.T) {
	b := newTestBoard(15)
	require.NoError(t, b.AdvanceTurn(b.Action(7, 7)))

	assert.Zero(t, b.HeuristicScore(b.Action(7, 7), PlayerOne))
	assert.Zero(t, b.HeuristicScore(-1, PlayerOne))
	assert.Zero(t, b.HeuristicScore(0, Empty))
}

func TestScoreWith_CustomTable(t *testing.T) {
	b := newTestBoard(15)
	table := ScoreTable{LiveEnd: [4]float32{1, 0, 0, 0}}
	assert.Equal(t, float32(4), b.ScoreWith(table, b.Action(7, 7), PlayerTwo))
}

func TestDefaultScoreTable_FreshCopy(t *testing.T) {
	a := DefaultScoreTable()
	a.Connection[0] = 999
	assert.Equal(t, float32(1), DefaultScoreTable().Connection[0])
}

func TestHeuristicGrid_Mask(t *testing.T) {
	b := newTestBoard(9)
	require.NoError(t, b.AdvanceTurn(b.Action(4, 4)))

	legal := b.LegalActions()
	grid := b.HeuristicGrid(b.ToMove(), legal)
	require.Len(t, grid, 81)

	inMask := make(map[int]bool, len(legal))
	for _, a := range legal {
		inMask[a] = true
		assert.Positive(t, grid[a], "legal action %d", a)
	}
	for a, v := range grid {
		if !inMask[a] {
			assert.Zero(t, v, "action %d outside mask", a)
		}
	}

	full := b.HeuristicGrid(b.ToMove(), nil)
	assert.Positive(t, full[0], "nil mask scores every available cell")
	assert.Zero(t, full[b.Action(4, 4)])
}
